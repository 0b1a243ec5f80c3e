// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package network

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/rbu/libvirt/effector"
	"github.com/rbu/libvirt/internal/xact"
	"github.com/rbu/libvirt/internal/xerr"
)

const (
	filterTable = "filter"
	natTable    = "nat"
)

// forwardChain and outputChain name the per-network chains this writer owns,
// one pair per network.
func forwardChain(name string) string { return "LIBVIRT-FWD-" + name }
func outputChain(name string) string  { return "LIBVIRT-OUT-" + name }

// InstallFirewall implements the idempotent install sequence for def, gated
// entirely on def.AdjustFirewall: input-accept rules for DHCP and DNS on the
// bridge install whenever adjust_firewall is set, regardless of forward
// mode; only the NAT masquerade step is further gated on ForwardMode. Steps
// run in dependency order so Remove can unwind LIFO on a mid-sequence
// failure.
func InstallFirewall(ipt4 effector.IPTables, logger hclog.Logger, def *Definition) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if !def.AdjustFirewall {
		return nil
	}

	fwd := forwardChain(def.Name)
	out := outputChain(def.Name)
	network := def.DerivedNetwork()

	t := xact.New(logger.Named("firewall"))
	_, err := t.Run(
		xact.Step{
			Name: "allow_dhcp_in",
			Do: func() error {
				if err := ipt4.AppendUnique(filterTable, "INPUT", "-i", def.BridgeName, "-p", "udp", "--dport", "67", "-j", "ACCEPT"); err != nil {
					return err
				}
				return ipt4.AppendUnique(filterTable, "INPUT", "-i", def.BridgeName, "-p", "tcp", "--dport", "67", "-j", "ACCEPT")
			},
			Undo: func() {
				_ = ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "udp", "--dport", "67", "-j", "ACCEPT")
				_ = ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "tcp", "--dport", "67", "-j", "ACCEPT")
			},
		},
		xact.Step{
			Name: "allow_dns_in",
			Do: func() error {
				if err := ipt4.AppendUnique(filterTable, "INPUT", "-i", def.BridgeName, "-p", "udp", "--dport", "53", "-j", "ACCEPT"); err != nil {
					return err
				}
				return ipt4.AppendUnique(filterTable, "INPUT", "-i", def.BridgeName, "-p", "tcp", "--dport", "53", "-j", "ACCEPT")
			},
			Undo: func() {
				_ = ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "udp", "--dport", "53", "-j", "ACCEPT")
				_ = ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "tcp", "--dport", "53", "-j", "ACCEPT")
			},
		},
		xact.Step{
			Name: "create_forward_chain",
			Do:   func() error { _, err := ipt4.EnsureChain(filterTable, fwd); return err },
			Undo: func() { _ = ipt4.ClearAndDeleteChain(filterTable, fwd) },
		},
		xact.Step{
			Name: "create_output_chain",
			Do:   func() error { _, err := ipt4.EnsureChain(filterTable, out); return err },
			Undo: func() { _ = ipt4.ClearAndDeleteChain(filterTable, out) },
		},
		xact.Step{
			Name: "link_forward_chain",
			Do:   func() error { return ipt4.LinkChain(filterTable, "FORWARD", fwd, 1) },
			Undo: func() { _ = ipt4.Unlink(filterTable, "FORWARD", fwd) },
		},
		xact.Step{
			Name: "link_output_chain",
			Do:   func() error { return ipt4.LinkChain(filterTable, "OUTPUT", out, 1) },
			Undo: func() { _ = ipt4.Unlink(filterTable, "OUTPUT", out) },
		},
		xact.Step{
			Name: "allow_established",
			Do: func() error {
				return ipt4.AppendUnique(filterTable, fwd, "-d", network, "-o", def.BridgeName,
					"-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT")
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "allow_outbound",
			Do: func() error {
				return ipt4.AppendUnique(filterTable, fwd, "-s", network, "-i", def.BridgeName, "-j", "ACCEPT")
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "allow_intra_bridge",
			Do: func() error {
				return ipt4.AppendUnique(filterTable, fwd, "-i", def.BridgeName, "-o", def.BridgeName, "-j", "ACCEPT")
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "reject_outside_forward",
			Do: func() error {
				return ipt4.AppendUnique(filterTable, fwd, "-o", def.BridgeName, "-j", "REJECT")
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "reject_outside_forward_in",
			Do: func() error {
				return ipt4.AppendUnique(filterTable, fwd, "-i", def.BridgeName, "-j", "REJECT")
			},
			Undo: func() {},
		},
		xact.Step{
			Name: "masquerade",
			Do: func() error {
				if def.ForwardMode != ForwardNAT {
					return nil
				}
				args := []string{"-s", network, "!", "-d", network, "-j", "MASQUERADE"}
				if def.ForwardDev != "" {
					args = append([]string{"-o", def.ForwardDev}, args...)
				}
				return ipt4.AppendUnique(natTable, "POSTROUTING", args...)
			},
			Undo: func() {
				if def.ForwardMode != ForwardNAT {
					return
				}
				args := []string{"-s", network, "!", "-d", network, "-j", "MASQUERADE"}
				if def.ForwardDev != "" {
					args = append([]string{"-o", def.ForwardDev}, args...)
				}
				_ = ipt4.DeleteIfExists(natTable, "POSTROUTING", args...)
			},
		},
		xact.Step{
			Name: "save",
			Do:   func() error { return ipt4.Save() },
			Undo: func() {},
		},
	)
	if err != nil {
		return xerr.Wrap(xerr.KindFirewallBuildFailed, "install firewall rules", err).WithBridge(def.BridgeName)
	}
	return nil
}

// RemoveFirewall tears down everything InstallFirewall may have created, each
// step best-effort: a single failure is logged and aggregated but does not
// stop the remaining steps.
func RemoveFirewall(ipt4 effector.IPTables, logger hclog.Logger, def *Definition) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if !def.AdjustFirewall {
		return nil
	}
	fwd := forwardChain(def.Name)
	out := outputChain(def.Name)
	network := def.DerivedNetwork()

	var errs []error
	record := func(step string, err error) {
		if err != nil {
			logger.Warn("firewall teardown step failed", "step", step, "network", def.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step, err))
		}
	}

	if def.ForwardMode == ForwardNAT {
		args := []string{"-s", network, "!", "-d", network, "-j", "MASQUERADE"}
		if def.ForwardDev != "" {
			args = append([]string{"-o", def.ForwardDev}, args...)
		}
		record("masquerade", ipt4.DeleteIfExists(natTable, "POSTROUTING", args...))
	}
	record("unlink_output_chain", ipt4.Unlink(filterTable, "OUTPUT", out))
	record("unlink_forward_chain", ipt4.Unlink(filterTable, "FORWARD", fwd))
	record("delete_output_chain", ipt4.ClearAndDeleteChain(filterTable, out))
	record("delete_forward_chain", ipt4.ClearAndDeleteChain(filterTable, fwd))
	record("allow_dns_in", ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "udp", "--dport", "53", "-j", "ACCEPT"))
	record("allow_dns_in", ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "tcp", "--dport", "53", "-j", "ACCEPT"))
	record("allow_dhcp_in", ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "udp", "--dport", "67", "-j", "ACCEPT"))
	record("allow_dhcp_in", ipt4.DeleteIfExists(filterTable, "INPUT", "-i", def.BridgeName, "-p", "tcp", "--dport", "67", "-j", "ACCEPT"))

	if len(errs) == 0 {
		return nil
	}
	return xerr.Wrap(xerr.KindFirewallBuildFailed, fmt.Sprintf("%d firewall teardown step(s) failed", len(errs)), errs[0]).
		WithBridge(def.BridgeName)
}
