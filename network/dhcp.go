// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package network

import (
	"fmt"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rbu/libvirt/effector"
	"github.com/rbu/libvirt/internal/xerr"
)

// dhcpTermSignal is the signal used to ask the dnsmasq sidecar to exit.
const dhcpTermSignal = syscall.SIGTERM

// dnsmasqArgs builds the exact ordered argument vector for the DHCP sidecar.
// Binding is by --listen-address, not --interface: the latter races with
// the kernel still configuring the bridge's addresses when dnsmasq starts.
// Flags that take a mandatory argument are two separate tokens, matching
// dnsmasq's own long-option syntax note that only optional-argument flags
// may be written as a single "--foo=bar" token.
func dnsmasqArgs(def *Definition, pidDir string) []string {
	args := []string{
		"dnsmasq",
		"--strict-order",
		"--bind-interfaces",
	}
	if def.DNSDomain != "" {
		args = append(args, "--domain", def.DNSDomain)
	}
	args = append(args,
		fmt.Sprintf("--pid-file=%s/%s.pid", pidDir, def.Name),
		"--conf-file=", "",
		"--listen-address", def.IPAddress,
		"--except-interface", "lo",
	)
	for _, r := range def.DHCPRanges {
		args = append(args, "--dhcp-range", fmt.Sprintf("%s,%s", r.Start, r.End))
	}
	for _, h := range def.DHCPHosts {
		if h.MAC == "" && h.Hostname == "" {
			continue
		}
		args = append(args, "--dhcp-host", h.entry())
	}
	if def.TFTPRoot != "" {
		args = append(args, "--enable-tftp", "--tftp-root="+def.TFTPRoot)
	}
	if def.BootpFile != "" {
		if def.BootpServer != "" {
			args = append(args, fmt.Sprintf("--dhcp-boot=%s,%s", def.BootpFile, def.BootpServer))
		} else {
			args = append(args, "--dhcp-boot="+def.BootpFile)
		}
	}
	return args
}

// dhcpPIDWait bounds how long StartDHCP waits for the sidecar to write its
// pidfile after being spawned.
const dhcpPIDWait = 2 * time.Second

// exeLinkPath is where the sidecar's liveness symlink is recorded, so a
// later reattach can tell the recorded pid from the process it actually
// names apart from some unrelated process that has since reused the pid.
func exeLinkPath(pidDir, name string) string {
	return fmt.Sprintf("%s/%s.exe", pidDir, name)
}

func procExePath(pid int) string {
	return fmt.Sprintf("/proc/%d/exe", pid)
}

// StartDHCP spawns the dnsmasq sidecar for def and reads back its pid,
// polling the pidfile briefly since dnsmasq daemonizes after Spawn returns.
// It also records a symlink from the sidecar's pid to its /proc/<pid>/exe,
// consulted by Reattach to detect pid reuse across a daemon restart.
func StartDHCP(host effector.Host, logger hclog.Logger, def *Definition, pidDir string) (int, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	argv := dnsmasqArgs(def, pidDir)
	if _, err := host.Spawn(argv); err != nil {
		return 0, xerr.Wrap(xerr.KindHostEffectorFailed, "spawn dhcp sidecar", err).WithStep("dhcp.spawn")
	}

	deadline := time.Now().Add(dhcpPIDWait)
	for {
		pid, ok, err := host.ReadPID(pidDir, def.Name)
		if err != nil {
			return 0, xerr.Wrap(xerr.KindHostEffectorFailed, "read dhcp pidfile", err).WithStep("dhcp.spawn")
		}
		if ok {
			if err := host.Symlink(procExePath(pid), exeLinkPath(pidDir, def.Name)); err != nil {
				return 0, xerr.Wrap(xerr.KindHostEffectorFailed, "record dhcp sidecar exe link", err).WithStep("dhcp.spawn")
			}
			logger.Debug("dhcp sidecar started", "network", def.Name, "pid", pid)
			return pid, nil
		}
		if time.Now().After(deadline) {
			return 0, xerr.New(xerr.KindHostEffectorFailed, "dhcp sidecar did not write a pidfile in time").WithStep("dhcp.spawn")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// StopDHCP signals the sidecar to terminate and removes its exe link. It is
// idempotent: a pid of 0 (no sidecar running) is a no-op, not an error,
// matching the lifecycle's stop-idempotence invariant.
func StopDHCP(host effector.Host, logger hclog.Logger, def *Definition, pidDir string, pid int) error {
	if pid == 0 {
		return nil
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := host.Signal(pid, dhcpTermSignal); err != nil {
		return xerr.Wrap(xerr.KindHostEffectorFailed, "stop dhcp sidecar", err).WithStep("dhcp.stop")
	}
	_ = host.Remove(exeLinkPath(pidDir, def.Name))
	logger.Debug("dhcp sidecar stopped", "pid", pid)
	return nil
}
