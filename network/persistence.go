// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/rbu/libvirt/internal/xerr"
)

// Store glues the registry to the on-disk layout, implementing the
// save/load/autostart-symlink operations: a small struct wrapping a logger
// plus the directories it operates on, every method returning a plain error.
type Store struct {
	logger  hclog.Logger
	layout  Layout
	reg     *Registry
}

// NewStore returns a Store bound to reg and layout.
func NewStore(logger hclog.Logger, layout Layout, reg *Registry) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{logger: logger.Named("network.store"), layout: layout, reg: reg}
}

// Save writes def's config file and marks the owning object persistent. The
// write is create-truncate at 0o600.
func (s *Store) Save(obj *Object) error {
	def := obj.LiveDef()
	body, err := MarshalXML(def)
	if err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "marshal network definition", err)
	}
	path := s.layout.configPath(def.Name)
	if err := os.MkdirAll(s.layout.ConfigDir, 0o755); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "create config directory", err).WithPath(s.layout.ConfigDir)
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "write network definition", err).WithPath(path)
	}
	obj.SetPersistent(true)
	return nil
}

// Delete removes def's config file (and any autostart symlink) and clears
// the persistent flag. Removal of an absent file is not an error.
func (s *Store) Delete(obj *Object) error {
	name := obj.LiveDef().Name
	if err := removeIfExists(s.layout.configPath(name)); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "remove network definition", err).WithPath(s.layout.configPath(name))
	}
	if err := removeIfExists(s.layout.autostartPath(name)); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "remove autostart link", err).WithPath(s.layout.autostartPath(name))
	}
	obj.SetPersistent(false)
	obj.SetAutostart(false)
	return nil
}

// SetAutostart creates or removes the autostart symlink for obj and updates
// its flag, mirroring the pattern used for /etc/libvirt/qemu/autostart.
func (s *Store) SetAutostart(obj *Object, on bool) error {
	name := obj.LiveDef().Name
	link := s.layout.autostartPath(name)
	if !on {
		if err := removeIfExists(link); err != nil {
			return xerr.Wrap(xerr.KindIOFailed, "remove autostart link", err).WithPath(link)
		}
		obj.SetAutostart(false)
		return nil
	}

	if err := os.MkdirAll(s.layout.AutostartDir, 0o755); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "create autostart directory", err).WithPath(s.layout.AutostartDir)
	}
	target := s.layout.configPath(name)
	_ = os.Remove(link)
	if err := os.Symlink(target, link); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "create autostart link", err).WithPath(link)
	}
	obj.SetAutostart(true)
	return nil
}

// SaveState snapshots the live definition of an active network to the state
// directory, read back by Reattach after a daemon restart.
func (s *Store) SaveState(obj *Object) error {
	body, err := MarshalXML(obj.LiveDef())
	if err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "marshal state snapshot", err)
	}
	if err := os.MkdirAll(s.layout.StateDir, 0o755); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "create state directory", err).WithPath(s.layout.StateDir)
	}
	path := s.layout.statePath(obj.LiveDef().Name)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "write state snapshot", err).WithPath(path)
	}
	return nil
}

// ClearState removes a network's state snapshot, called once it stops.
func (s *Store) ClearState(name string) error {
	if err := removeIfExists(s.layout.statePath(name)); err != nil {
		return xerr.Wrap(xerr.KindIOFailed, "remove state snapshot", err).WithPath(s.layout.statePath(name))
	}
	return nil
}

// LoadAll reads every <name>.xml in ConfigDir, admits each as a persistent
// object, and records autostart status from AutostartDir. A malformed entry
// is logged as a warning and skipped rather than aborting the whole scan,
// rather than aborting the whole scan.
func (s *Store) LoadAll() error {
	entries, err := os.ReadDir(s.layout.ConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerr.Wrap(xerr.KindIOFailed, "read config directory", err).WithPath(s.layout.ConfigDir)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		path := filepath.Join(s.layout.ConfigDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable network definition", "path", path, "error", err)
			continue
		}
		def, err := ParseXML(data)
		if err != nil {
			s.logger.Warn("skipping malformed network definition", "path", path, "error", err)
			continue
		}
		if err := def.Validate(); err != nil {
			s.logger.Warn("skipping invalid network definition", "path", path, "error", err)
			continue
		}

		obj := newObject(def)
		obj.SetPersistent(true)
		obj.SetAutostart(s.hasAutostartLink(def.Name))
		s.reg.Insert(obj)
	}
	return nil
}

func (s *Store) hasAutostartLink(name string) bool {
	link := s.layout.autostartPath(name)
	target, err := os.Readlink(link)
	if err != nil {
		return false
	}
	return target == s.layout.configPath(name)
}

// LoadState reads a network's state snapshot back, used by Reattach. It
// reports ok=false (not an error) if no snapshot exists.
func (s *Store) LoadState(name string) (def *Definition, ok bool, err error) {
	data, rerr := os.ReadFile(s.layout.statePath(name))
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return nil, false, nil
		}
		return nil, false, xerr.Wrap(xerr.KindIOFailed, "read state snapshot", rerr).WithPath(s.layout.statePath(name))
	}
	def, perr := ParseXML(data)
	if perr != nil {
		return nil, false, xerr.Wrap(xerr.KindIOFailed, "parse state snapshot", perr).WithPath(s.layout.statePath(name))
	}
	return def, true, nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
