// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import "github.com/rbu/libvirt/internal/lockguard"

// Object is the registry's mutable element ("Network object").
// Every mutable field is guarded by Lock; the registry itself only locks for
// structural mutation (insert/delete), never for reading an object's fields.
type Object struct {
	lockguard.Guard

	liveDef    *Definition
	pendingDef *Definition

	active     bool
	persistent bool
	autostart  bool
	dhcpPID    int // 0 means "no pid"
}

// newObject admits a freshly-assigned definition, inactive by default
// assign(): active=false, persistent=false, autostart=false.
func newObject(def *Definition) *Object {
	return &Object{liveDef: def.Clone()}
}

// LiveDef returns the currently active (or last-admitted) definition. The
// caller must hold the object's lock.
func (o *Object) LiveDef() *Definition { return o.liveDef }

// PendingDef returns the definition queued for the next full restart, or nil.
// The caller must hold the object's lock.
func (o *Object) PendingDef() *Definition { return o.pendingDef }

// Active reports whether host state is currently instantiated for this
// object. The caller must hold the object's lock.
func (o *Object) Active() bool { return o.active }

// Persistent reports whether this object is backed by a file in the config
// directory. The caller must hold the object's lock.
func (o *Object) Persistent() bool { return o.persistent }

// Autostart reports whether this object should start at daemon boot. The
// caller must hold the object's lock.
func (o *Object) Autostart() bool { return o.autostart }

// DHCPPID returns the DHCP sidecar's pid and whether one is recorded. Only
// meaningful while Active() is true.
func (o *Object) DHCPPID() (int, bool) { return o.dhcpPID, o.dhcpPID != 0 }

// SetPersistent flips the persistent flag; used by the persistence codec
// after a successful save/delete.
func (o *Object) SetPersistent(v bool) { o.persistent = v }

// SetAutostart flips the autostart flag; used by the autostart symlink
// management path.
func (o *Object) SetAutostart(v bool) { o.autostart = v }
