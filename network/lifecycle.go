// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package network

import (
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/rbu/libvirt/effector"
	"github.com/rbu/libvirt/internal/xact"
	"github.com/rbu/libvirt/internal/xerr"
)

// Engine drives the start/stop/reload/autostart/reattach state machine.
// It composes the bridge effector, the iptables effector, and the Store.
type Engine struct {
	logger hclog.Logger
	host   effector.Host
	ipt4   effector.IPTables
	store  *Store
	layout Layout
}

// NewEngine returns an Engine bound to the given effectors and persistence
// layout.
func NewEngine(logger hclog.Logger, host effector.Host, ipt4 effector.IPTables, store *Store, layout Layout) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{logger: logger.Named("network.engine"), host: host, ipt4: ipt4, store: store, layout: layout}
}

// Start runs the activation sequence against obj's live_def:
// create bridge, configure STP/forward-delay, assign address, bring it up,
// enable ip_forward (nat/route networks only), install firewall rules, start
// the DHCP sidecar, snapshot state. A failure at any step unwinds every prior step in reverse order and
// leaves obj inactive. The caller must already hold obj's lock.
func (e *Engine) Start(obj *Object) error {
	if obj.Active() {
		return xerr.New(xerr.KindAlreadyActive, "network "+obj.LiveDef().Name+" is already active")
	}
	def := obj.LiveDef()

	var dhcpPID int
	t := xact.New(e.logger)
	step, err := t.Run(
		xact.Step{
			Name: "create_bridge",
			Do:   func() error { return e.host.Add(def.BridgeName) },
			Undo: func() { _ = e.host.Del(def.BridgeName) },
		},
		xact.Step{
			Name: "configure_stp",
			Do:   func() error { return e.host.SetSTP(def.BridgeName, def.STPEnabled) },
			Undo: func() {},
		},
		xact.Step{
			Name: "configure_forward_delay",
			Do: func() error {
				if def.ForwardDelay == 0 {
					return nil
				}
				return e.host.SetForwardDelay(def.BridgeName, def.ForwardDelay)
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "assign_address",
			Do: func() error {
				if !def.HasAddress() {
					return nil
				}
				if err := e.host.SetInetAddr(def.BridgeName, def.IPAddress); err != nil {
					return err
				}
				return e.host.SetNetmask(def.BridgeName, def.Netmask)
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "bring_up",
			Do:   func() error { return e.host.SetUp(def.BridgeName, true) },
			Undo: func() { _ = e.host.SetUp(def.BridgeName, false) },
		},
		xact.Step{
			Name: "enable_ip_forward",
			Do: func() error {
				// Enabled for any forwarding mode regardless of
				// adjust_firewall: this switch is global to the host, not
				// per-network.
				if def.ForwardMode == ForwardNone || def.ForwardMode == "" {
					return nil
				}
				return e.host.EnableIPForward()
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "install_firewall",
			Do:   func() error { return InstallFirewall(e.ipt4, e.logger, def) },
			Undo: func() { _ = RemoveFirewall(e.ipt4, e.logger, def) },
		},
		xact.Step{
			Name: "start_dhcp",
			Do: func() error {
				if len(def.DHCPRanges) == 0 && len(def.DHCPHosts) == 0 {
					return nil
				}
				pid, err := StartDHCP(e.host, e.logger, def, e.layout.PIDDir)
				dhcpPID = pid
				return err
			},
			Undo: func() { _ = StopDHCP(e.host, e.logger, def, e.layout.PIDDir, dhcpPID) },
		},
		xact.Step{
			Name: "save_state",
			Do:   func() error { return e.store.SaveState(obj) },
			Undo: func() { _ = e.store.ClearState(def.Name) },
		},
	)
	if err != nil {
		return xerr.Wrap(xerr.KindHostEffectorFailed, "start network", err).
			WithBridge(def.BridgeName).WithStep(step)
	}

	obj.active = true
	obj.dhcpPID = dhcpPID
	return nil
}

// Stop reverses Start: stop the DHCP sidecar, remove firewall rules, take the
// bridge down, delete it. Stop is idempotent — calling it on an already
// inactive object is a no-op, per the stop-idempotence invariant. Teardown
// is best-effort: failures are logged but do not stop later steps, and the
// object is always marked inactive at the end.
func (e *Engine) Stop(obj *Object) error {
	if !obj.Active() {
		return nil
	}
	def := obj.LiveDef()

	if pid, has := obj.DHCPPID(); has {
		if err := StopDHCP(e.host, e.logger, def, e.layout.PIDDir, pid); err != nil {
			e.logger.Warn("dhcp sidecar stop failed", "network", def.Name, "error", err)
		}
	}
	if err := RemoveFirewall(e.ipt4, e.logger, def); err != nil {
		e.logger.Warn("firewall teardown failed", "network", def.Name, "error", err)
	}
	if err := e.host.SetUp(def.BridgeName, false); err != nil {
		e.logger.Warn("bridge down failed", "network", def.Name, "error", err)
	}
	if err := e.host.Del(def.BridgeName); err != nil {
		e.logger.Warn("bridge delete failed", "network", def.Name, "error", err)
	}
	if err := e.store.ClearState(def.Name); err != nil {
		e.logger.Warn("state snapshot clear failed", "network", def.Name, "error", err)
	}

	obj.active = false
	obj.dhcpPID = 0

	// A pending redefinition (queued while the network was active) takes
	// effect the moment it stops, matching assign()'s redefine semantics.
	if obj.pendingDef != nil {
		obj.liveDef = obj.pendingDef
		obj.pendingDef = nil
	}
	return nil
}

// Reload restarts obj if it is active, applying whatever definition is
// currently live (after Stop has already folded in any pending redefinition).
func (e *Engine) Reload(obj *Object) error {
	wasActive := obj.Active()
	if err := e.Stop(obj); err != nil {
		return err
	}
	if !wasActive {
		return nil
	}
	return e.Start(obj)
}

// Reattach is invoked once at daemon startup for every persistent network:
// it reads back the state snapshot saved by the previous process incarnation
// and, if the bridge the snapshot names is still present on the host, marks
// the object active and restores its recorded DHCP pid, without re-running
// the Start sequence (the host state is assumed to already match the
// snapshot — this just resynchronizes in-memory bookkeeping with it).
func (e *Engine) Reattach(obj *Object) error {
	def := obj.LiveDef()
	state, ok, err := e.store.LoadState(def.Name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if !e.host.Has(state.BridgeName) {
		// Keep the snapshot's definition live rather than discarding recorded
		// state, but surface the discrepancy loudly since the network is not
		// actually instantiated on the host.
		e.logger.Warn("reattach: bridge missing for persisted network, leaving inactive",
			"network", def.Name, "bridge", state.BridgeName)
		obj.liveDef = state
		return nil
	}

	obj.liveDef = state
	obj.active = true
	obj.dhcpPID = e.reattachDHCPPID(state)
	return nil
}

// reattachDHCPPID re-derives the DHCP sidecar pid to trust after a daemon
// restart: the recorded pid must both answer a signal-0 liveness probe and
// still own the exe link recorded when it was started. Either check failing
// means the pid has since been reused by an unrelated process, so the
// sidecar is treated as not running.
func (e *Engine) reattachDHCPPID(def *Definition) int {
	pid, has, err := e.host.ReadPID(e.layout.PIDDir, def.Name)
	if err != nil || !has {
		return 0
	}
	if err := e.host.Signal(pid, syscall.Signal(0)); err != nil {
		e.logger.Warn("reattach: dhcp sidecar pid not live", "network", def.Name, "pid", pid)
		return 0
	}
	if !e.host.LinkPointsTo(exeLinkPath(e.layout.PIDDir, def.Name), procExePath(pid)) {
		e.logger.Warn("reattach: dhcp sidecar pid reused by another process", "network", def.Name, "pid", pid)
		return 0
	}
	return pid
}
