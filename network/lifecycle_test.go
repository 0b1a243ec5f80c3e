// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package network

import (
	"errors"
	"testing"

	"github.com/rbu/libvirt/effector"
	"github.com/shoenig/test/must"
)

func newTestEngine(t *testing.T) (*Engine, *effector.FakeHost, *effector.FakeIPTables, *Registry) {
	t.Helper()
	host := effector.NewFakeHost()
	ipt := effector.NewFakeIPTables()
	layout := testLayout(t)
	reg := NewRegistry(nil)
	store := NewStore(nil, layout, reg)
	engine := NewEngine(nil, host, ipt, store, layout)
	return engine, host, ipt, reg
}

func TestEngine_StartStop_Idempotent(t *testing.T) {
	t.Parallel()

	engine, host, _, reg := newTestEngine(t)
	def := validDef()
	def.DHCPRanges = nil // no dhcp sidecar needed for this test
	obj, err := reg.Assign(def)
	must.NoError(t, err)

	must.NoError(t, engine.Start(obj))
	must.True(t, obj.Active())
	must.True(t, host.Has(def.BridgeName))
	must.True(t, host.ForwardEnabled())

	// stop is idempotent
	must.NoError(t, engine.Stop(obj))
	must.False(t, obj.Active())
	must.False(t, host.Has(def.BridgeName))
	must.NoError(t, engine.Stop(obj))

	obj.Unlock()
}

func TestEngine_Start_AlreadyActive(t *testing.T) {
	t.Parallel()

	engine, _, _, reg := newTestEngine(t)
	def := validDef()
	def.DHCPRanges = nil
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	must.NoError(t, engine.Start(obj))

	must.Error(t, engine.Start(obj))
	obj.Unlock()
}

func TestEngine_Start_UnwindsOnMidSequenceFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		step string
	}{
		{"bridge.add"},
		{"bridge.set_stp"},
		{"bridge.set_forward_delay"},
		{"bridge.set_inet_addr"},
		{"bridge.set_up"},
		{"forward.enable"},
	}

	for _, tc := range cases {
		t.Run(tc.step, func(t *testing.T) {
			engine, host, _, reg := newTestEngine(t)
			def := validDef()
			def.DHCPRanges = nil
			def.ForwardDelay = 5 // exercise configure_forward_delay's host call
			obj, err := reg.Assign(def)
			must.NoError(t, err)

			host.Fail(tc.step, errors.New("injected"))
			err = engine.Start(obj)
			must.Error(t, err)
			must.False(t, obj.Active())
			must.False(t, host.Has(def.BridgeName)) // bridge create was undone

			obj.Unlock()
		})
	}
}

func TestEngine_Reattach_RestoresDHCPPIDWhenLiveAndLinked(t *testing.T) {
	t.Parallel()

	engine, host, _, reg := newTestEngine(t)
	def := validDef()
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	must.NoError(t, engine.store.Save(obj))

	host.SetPID(engine.layout.PIDDir, def.Name, 4242)
	must.NoError(t, host.Symlink(procExePath(4242), exeLinkPath(engine.layout.PIDDir, def.Name)))
	must.NoError(t, engine.store.SaveState(obj))
	must.NoError(t, host.Add(def.BridgeName)) // the bridge survived the restart
	obj.active = false
	obj.Unlock()

	fresh := newObject(def.Clone())
	fresh.Lock()
	must.NoError(t, engine.Reattach(fresh))
	must.True(t, fresh.Active())
	pid, has := fresh.DHCPPID()
	must.True(t, has)
	must.Eq(t, 4242, pid)
	fresh.Unlock()
}

func TestEngine_Reattach_DropsDHCPPIDWhenLinkMismatched(t *testing.T) {
	t.Parallel()

	engine, host, _, reg := newTestEngine(t)
	def := validDef()
	obj, err := reg.Assign(def)
	must.NoError(t, err)

	host.SetPID(engine.layout.PIDDir, def.Name, 4242)
	// No exe link recorded: the pid is live per the fake's signal bookkeeping
	// but its identity cannot be confirmed.
	must.NoError(t, engine.store.SaveState(obj))
	must.NoError(t, host.Add(def.BridgeName)) // bridge present, so the pid checks run
	obj.active = false
	obj.Unlock()

	fresh := newObject(def.Clone())
	fresh.Lock()
	must.NoError(t, engine.Reattach(fresh))
	_, has := fresh.DHCPPID()
	must.False(t, has)
	fresh.Unlock()
}

func TestEngine_Stop_AppliesPendingRedefinition(t *testing.T) {
	t.Parallel()

	engine, _, _, reg := newTestEngine(t)
	def := validDef()
	def.DHCPRanges = nil
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	must.NoError(t, engine.Start(obj))
	obj.Unlock()

	redef := def.Clone()
	redef.BridgeName = "virbr5"
	obj2, err := reg.Assign(redef)
	must.NoError(t, err)
	must.Eq(t, obj, obj2)
	must.NotNil(t, obj2.PendingDef())

	must.NoError(t, engine.Stop(obj2))
	must.Eq(t, "virbr5", obj2.LiveDef().BridgeName)
	must.Nil(t, obj2.PendingDef())

	obj2.Unlock()
}
