// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import "path/filepath"

// Layout names the four directories persistence.go reads and writes, mirroring
// libvirt's system/session directory split.
type Layout struct {
	ConfigDir    string // persistent <name>.xml definitions
	AutostartDir string // symlinks into ConfigDir for autostart networks
	StateDir     string // <name>.xml snapshot of the live definition while active
	PIDDir       string // <name>.pid dnsmasq pidfiles
}

// System returns the conventional root-owned layout.
func System() Layout {
	return Layout{
		ConfigDir:    "/etc/libvirt/network",
		AutostartDir: "/etc/libvirt/network/autostart",
		StateDir:     "/var/run/libvirt/network",
		PIDDir:       "/var/run/libvirt/network",
	}
}

// Session returns the per-user layout rooted at home, used by an unprivileged
// daemon instance.
func Session(home string) Layout {
	root := filepath.Join(home, ".config", "libvirt", "network")
	runRoot := filepath.Join(home, ".cache", "libvirt", "network")
	return Layout{
		ConfigDir:    root,
		AutostartDir: filepath.Join(root, "autostart"),
		StateDir:     runRoot,
		PIDDir:       runRoot,
	}
}

func (l Layout) configPath(name string) string {
	return filepath.Join(l.ConfigDir, name+".xml")
}

func (l Layout) autostartPath(name string) string {
	return filepath.Join(l.AutostartDir, name+".xml")
}

func (l Layout) statePath(name string) string {
	return filepath.Join(l.StateDir, name+".xml")
}

func (l Layout) pidPath(name string) string {
	return filepath.Join(l.PIDDir, name+".pid")
}
