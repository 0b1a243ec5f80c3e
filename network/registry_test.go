// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shoenig/test/must"
)

func TestRegistry_Assign_NewAndRedefine(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	def := validDef()
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	must.Eq(t, def.Name, obj.LiveDef().Name)
	must.False(t, obj.Active())
	obj.Unlock()

	redef := def.Clone()
	redef.BridgeName = "virbr1"
	obj2, err := reg.Assign(redef)
	must.NoError(t, err)
	must.Eq(t, "virbr1", obj2.LiveDef().BridgeName)
	obj2.Unlock()

	must.Eq(t, 1, len(reg.Names()))
}

func TestRegistry_Assign_ActiveGoesToPending(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	def := validDef()
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	obj.active = true
	obj.Unlock()

	redef := def.Clone()
	redef.BridgeName = "virbr9"
	obj2, err := reg.Assign(redef)
	must.NoError(t, err)
	must.Eq(t, "virbr0", obj2.LiveDef().BridgeName)
	must.NotNil(t, obj2.PendingDef())
	must.Eq(t, "virbr9", obj2.PendingDef().BridgeName)
	obj2.Unlock()
}

func TestRegistry_Assign_AutoAllocatesBridgeWhenNameEmpty(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nameOnlyHost{taken: map[string]bool{"virbr0": true}})
	def := validDef()
	def.BridgeName = ""
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	must.Eq(t, "virbr1", obj.LiveDef().BridgeName)
	obj.Unlock()
}

func TestRegistry_IsDuplicate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	def := validDef()
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	obj.Unlock()

	class, err := reg.IsDuplicate(def, false)
	must.NoError(t, err)
	must.Eq(t, DupDuplicate, class)

	nameClash := def.Clone()
	nameClash.UUID = uuid.New()
	_, err = reg.IsDuplicate(nameClash, false)
	must.Error(t, err)

	uuidClash := def.Clone()
	uuidClash.Name = "other"
	_, err = reg.IsDuplicate(uuidClash, false)
	must.Error(t, err)
}

func TestRegistry_RemoveInactive_ForbidsActive(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	obj, err := reg.Assign(validDef())
	must.NoError(t, err)
	obj.active = true

	must.Error(t, reg.RemoveInactive(obj))

	obj.active = false
	must.NoError(t, reg.RemoveInactive(obj))
	obj.Unlock()

	must.Eq(t, 0, len(reg.Names()))
}

func TestRegistry_FindByUUID_FindByName(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	def := validDef()
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	obj.Unlock()

	found, err := reg.FindByUUID(def.UUID)
	must.NoError(t, err)
	must.Eq(t, def.Name, found.LiveDef().Name)
	found.Unlock()

	found, err = reg.FindByName(def.Name)
	must.NoError(t, err)
	found.Unlock()

	_, err = reg.FindByName("nonexistent")
	must.Error(t, err)
}

func TestRegistry_BridgeInUse(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	def := validDef()
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	obj.Unlock()

	must.True(t, reg.BridgeInUse(def.BridgeName, ""))
	must.False(t, reg.BridgeInUse(def.BridgeName, def.Name))
	must.False(t, reg.BridgeInUse("virbr99", ""))
}
