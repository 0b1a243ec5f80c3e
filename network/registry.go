// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rbu/libvirt/internal/xerr"
)

// DupClass classifies the outcome of IsDuplicate.
type DupClass int

const (
	// DupNew means no existing object conflicts; the definition may be
	// admitted as a new network.
	DupNew DupClass = iota
	// DupDuplicate means the definition matches an existing object by both
	// UUID and name and may be treated as a redefinition of it.
	DupDuplicate
)

// bridgeProbe is the minimal host surface AllocateBridge needs to check
// whether a candidate name is already taken on the live host.
type bridgeProbe interface {
	Has(name string) bool
}

// Registry is the in-memory definition store: a coarse registry lock
// guards structural mutation of the objs slice; every object carries its own
// lock for its mutable fields. Lookups hand back an already-locked object —
// the caller releases it when done (the "hand-off" locking discipline).
type Registry struct {
	mu   sync.Mutex
	objs []*Object
	host bridgeProbe
}

// NewRegistry returns an empty registry. host, if non-nil, is consulted by
// Assign to auto-allocate a bridge name for definitions submitted without
// one.
func NewRegistry(host bridgeProbe) *Registry {
	return &Registry{host: host}
}

// IsDuplicate classifies a candidate definition: a UUID match with a
// different name is an error; a UUID+name match with rejectIfActive and the
// object active is an error; a name-only match (different UUID) is an
// error; otherwise the definition is new.
func (r *Registry) IsDuplicate(def *Definition, rejectIfActive bool) (DupClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, obj := range r.objs {
		obj.Lock()
		uuidMatch := obj.liveDef.UUID == def.UUID
		nameMatch := obj.liveDef.Name == def.Name
		active := obj.active
		obj.Unlock()

		switch {
		case uuidMatch && !nameMatch:
			return DupNew, xerr.New(xerr.KindUUIDConflict,
				"uuid already in use by network "+obj.liveDef.Name).WithBridge(obj.liveDef.BridgeName)
		case uuidMatch && nameMatch:
			if rejectIfActive && active {
				return DupNew, xerr.New(xerr.KindAlreadyActive,
					"network "+def.Name+" is already active")
			}
			return DupDuplicate, nil
		case !uuidMatch && nameMatch:
			return DupNew, xerr.New(xerr.KindNameConflict,
				"name already in use by a network with a different uuid")
		}
	}
	return DupNew, nil
}

// Assign admits a new object, or overwrites
// live_def (if inactive) / pending_def (if active) of an existing one keyed
// by name. The returned object is locked; the caller must Unlock it.
func (r *Registry) Assign(def *Definition) (*Object, error) {
	if def.BridgeName == "" {
		name, err := r.AllocateBridge(r.host)
		if err != nil {
			return nil, err
		}
		def.BridgeName = name
	}

	if err := def.Validate(); err != nil {
		return nil, xerr.Wrap(xerr.KindMalformedDefinition, "invalid network definition", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, obj := range r.objs {
		obj.Lock()
		if obj.liveDef.Name == def.Name {
			if obj.active {
				obj.pendingDef = def.Clone()
			} else {
				obj.liveDef = def.Clone()
			}
			return obj, nil
		}
		obj.Unlock()
	}

	obj := newObject(def)
	obj.Lock()
	r.objs = append(r.objs, obj)
	return obj, nil
}

// RemoveInactive deletes obj from the registry. It is forbidden while obj is
// active. The caller must hold obj's lock and continues to hold it on
// return (removal only affects the registry's structural slice).
func (r *Registry) RemoveInactive(obj *Object) error {
	if obj.active {
		return xerr.New(xerr.KindStillActive, "network "+obj.liveDef.Name+" is still active")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, candidate := range r.objs {
		if candidate == obj {
			r.objs = append(r.objs[:i], r.objs[i+1:]...)
			return nil
		}
	}
	return xerr.New(xerr.KindNoSuchNetwork, "network not found in registry")
}

// FindByUUID returns the object whose live_def.UUID matches, locked for the
// caller. The caller must Unlock it.
func (r *Registry) FindByUUID(id uuid.UUID) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, obj := range r.objs {
		obj.Lock()
		if obj.liveDef.UUID == id {
			return obj, nil
		}
		obj.Unlock()
	}
	return nil, xerr.New(xerr.KindNoSuchNetwork, "no network with that uuid")
}

// FindByName returns the object whose live_def.Name matches, locked for the
// caller. The caller must Unlock it.
func (r *Registry) FindByName(name string) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, obj := range r.objs {
		obj.Lock()
		if obj.liveDef.Name == name {
			return obj, nil
		}
		obj.Unlock()
	}
	return nil, xerr.New(xerr.KindNoSuchNetwork, "no network named "+name)
}

// BridgeInUse reports whether any network other than skipName currently uses
// bridge name. Each candidate is locked only long enough to inspect it.
func (r *Registry) BridgeInUse(name, skipName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, obj := range r.objs {
		obj.Lock()
		bridge := obj.liveDef.BridgeName
		networkName := obj.liveDef.Name
		obj.Unlock()

		if bridge != "" && bridge == name && networkName != skipName {
			return true
		}
	}
	return false
}

// ForEach visits every object, locking and unlocking it around the visitor
// call (the traversal pattern used by reload/autostart scans). A visitor
// error is collected by the caller; ForEach itself never aborts early.
func (r *Registry) ForEach(visit func(obj *Object)) {
	r.mu.Lock()
	snapshot := make([]*Object, len(r.objs))
	copy(snapshot, r.objs)
	r.mu.Unlock()

	for _, obj := range snapshot {
		obj.Lock()
		visit(obj)
		obj.Unlock()
	}
}

// Insert adds an already-built object to the registry directly, used by the
// persistence directory-load path which constructs objects outside Assign.
func (r *Registry) Insert(obj *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objs = append(r.objs, obj)
}

// Names returns every currently registered network's name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.objs))
	for _, obj := range r.objs {
		obj.Lock()
		names = append(names, obj.liveDef.Name)
		obj.Unlock()
	}
	return names
}
