// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import (
	"fmt"
	"testing"

	"github.com/shoenig/test/must"
)

type nameOnlyHost struct{ taken map[string]bool }

func (h nameOnlyHost) Has(name string) bool { return h.taken[name] }

func TestRegistry_AllocateBridge_FirstFree(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	name, err := reg.AllocateBridge(nameOnlyHost{taken: map[string]bool{}})
	must.NoError(t, err)
	must.Eq(t, "virbr0", name)
}

func TestRegistry_AllocateBridge_SkipsRegisteredAndHostBridges(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	def := validDef()
	def.BridgeName = "virbr0"
	obj, err := reg.Assign(def)
	must.NoError(t, err)
	obj.Unlock()

	name, err := reg.AllocateBridge(nameOnlyHost{taken: map[string]bool{"virbr1": true}})
	must.NoError(t, err)
	must.Eq(t, "virbr2", name)
}

func TestRegistry_AllocateBridge_Exhausted(t *testing.T) {
	t.Parallel()

	taken := map[string]bool{}
	for i := 0; i < maxBridges; i++ {
		taken[fmt.Sprintf(bridgeTemplate, i)] = true
	}
	reg := NewRegistry(nil)
	_, err := reg.AllocateBridge(nameOnlyHost{taken: taken})
	must.Error(t, err)
}
