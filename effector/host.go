// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package effector defines the host-facing trait interfaces consumed by the
// network lifecycle engine and the nwfilter chain manager: bridge
// operations, interface IP/flag manipulation, process spawn/signal, and
// filesystem atoms. Linux implementations shell out to the host; a Fake
// implementation backs the atomicity/rollback tests.
package effector

import "os"

// Bridge is the kernel-bridge-facing half of the host effector trait.
type Bridge interface {
	// Add creates a bridge; it is an error if one by that name already exists.
	Add(name string) error
	// Del destroys a bridge; absence is tolerated.
	Del(name string) error
	// SetSTP toggles the spanning-tree-protocol flag on a bridge.
	SetSTP(name string, on bool) error
	// SetForwardDelay configures the bridge's forward delay, in seconds.
	SetForwardDelay(name string, seconds int) error
	// SetInetAddr assigns an IPv4 address to the bridge interface.
	SetInetAddr(name, ip string) error
	// SetNetmask assigns a netmask to the bridge interface.
	SetNetmask(name, mask string) error
	// SetUp brings the interface administratively up or down.
	SetUp(name string, up bool) error
	// Has reports whether a bridge by that name currently exists on the host.
	Has(name string) bool
}

// Proc is the process-facing half of the host effector trait.
type Proc interface {
	// Spawn executes argv synchronously and waits for it to exit, returning
	// its exit status (0 for success).
	Spawn(argv []string) (int, error)
	// Signal delivers a signal to pid; ESRCH (process not found) is ignored.
	Signal(pid int, sig os.Signal) error
}

// FS is the filesystem-atom half of the host effector trait.
type FS interface {
	// WriteString atomically writes text to path.
	WriteString(path, text string) error
	// ReadPID reads and parses <dir>/<name>.pid, returning the pid if present.
	ReadPID(dir, name string) (int, bool, error)
	// MakePath performs the equivalent of `mkdir -p`.
	MakePath(path string) error
	// LinkPointsTo reports whether the symlink at link resolves to target.
	LinkPointsTo(link, target string) bool
	// Remove deletes path; absence is tolerated.
	Remove(path string) error
	// Symlink creates a symlink at link pointing to target.
	Symlink(target, link string) error
}

// ForwardSwitch toggles the kernel's IPv4-forwarding switch.
type ForwardSwitch interface {
	EnableIPForward() error
}

// Host bundles every effector trait the network engine needs.
type Host interface {
	Bridge
	Proc
	FS
	ForwardSwitch
}
