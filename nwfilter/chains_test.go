// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package nwfilter

import (
	"errors"
	"testing"

	"github.com/rbu/libvirt/effector"
	"github.com/shoenig/test/must"
)

func testManager() (*ChainManager, *effector.FakeHost, *effector.FakeIPTables) {
	host := effector.NewFakeHost()
	ipt4 := effector.NewFakeIPTables()
	m := NewChainManager(nil, host, map[Backend]effector.IPTables{BackendIPv4: ipt4})
	return m, host, ipt4
}

func TestChainManager_Apply_L3_Succeeds(t *testing.T) {
	t.Parallel()

	m, _, ipt4 := testManager()
	instances, err := Compile(resolvedRule(ProtoTCP, DirOut), false)
	must.NoError(t, err)

	must.NoError(t, m.Apply("vnet0", instances))
	must.True(t, ipt4.ChainCount("filter") > 0)
}

func TestChainManager_Apply_L3_UnwindsOnFailure(t *testing.T) {
	t.Parallel()

	m, _, ipt4 := testManager()
	instances, err := Compile(resolvedRule(ProtoTCP, DirOut), false)
	must.NoError(t, err)

	ipt4.Fail("append", errors.New("injected"))
	err = m.Apply("vnet0", instances)
	must.Error(t, err)
	// the four process-wide base chains are idempotent and survive a failed
	// apply; the per-interface temp root chain created this call must not.
	must.Eq(t, 4, ipt4.ChainCount("filter"))
}

func TestChainManager_AllTeardown_NeverFails(t *testing.T) {
	t.Parallel()

	m, _, _ := testManager()
	m.AllTeardown("vnet-never-existed")
}
