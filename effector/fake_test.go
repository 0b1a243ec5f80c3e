// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package effector

import (
	"errors"
	"testing"

	"github.com/shoenig/test/must"
)

func TestFakeHost_BridgeLifecycle(t *testing.T) {
	t.Parallel()

	h := NewFakeHost()
	must.False(t, h.Has("virbr0"))
	must.NoError(t, h.Add("virbr0"))
	must.True(t, h.Has("virbr0"))
	must.NoError(t, h.Del("virbr0"))
	must.False(t, h.Has("virbr0"))
}

func TestFakeHost_FaultInjectionFiresOnce(t *testing.T) {
	t.Parallel()

	h := NewFakeHost()
	boom := errors.New("boom")
	h.Fail("bridge.add", boom)

	err := h.Add("virbr0")
	must.Error(t, err)
	must.False(t, h.Has("virbr0"))

	must.NoError(t, h.Add("virbr0"))
	must.True(t, h.Has("virbr0"))
}

func TestFakeHost_PIDRoundTrip(t *testing.T) {
	t.Parallel()

	h := NewFakeHost()
	_, ok, err := h.ReadPID("/run/libvirt", "default")
	must.NoError(t, err)
	must.False(t, ok)

	h.SetPID("/run/libvirt", "default", 4242)
	pid, ok, err := h.ReadPID("/run/libvirt", "default")
	must.NoError(t, err)
	must.True(t, ok)
	must.Eq(t, 4242, pid)
}

func TestFakeHost_ForwardAndSpawned(t *testing.T) {
	t.Parallel()

	h := NewFakeHost()
	must.False(t, h.ForwardEnabled())
	must.NoError(t, h.EnableIPForward())
	must.True(t, h.ForwardEnabled())

	_, err := h.Spawn([]string{"dnsmasq", "--interface=virbr0"})
	must.NoError(t, err)
	must.Eq(t, 1, len(h.Spawned()))
}
