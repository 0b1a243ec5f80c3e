// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import (
	"fmt"

	"github.com/hashicorp/go-set"
	"github.com/rbu/libvirt/internal/xerr"
)

// bridgeTemplate and maxBridges implement the bridge-name allocator: names are tried
// in order "virbr0".."virbr255" and the first unused one wins.
const (
	bridgeTemplate = "virbr%d"
	maxBridges     = 256
)

// AllocateBridge returns the first name of the form virbrN, N in
// [0, maxBridges), not already in use by any registered network and not
// already present on the host. The registry lock is held for the whole scan
// so a concurrent Assign cannot observe a name this call is about to claim.
func (r *Registry) AllocateBridge(host bridgeProbe) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inUse := set.New[string](maxBridges / 4)
	for _, obj := range r.objs {
		obj.Lock()
		if obj.liveDef.BridgeName != "" {
			inUse.Insert(obj.liveDef.BridgeName)
		}
		obj.Unlock()
	}

	for i := 0; i < maxBridges; i++ {
		name := fmt.Sprintf(bridgeTemplate, i)
		if inUse.Contains(name) {
			continue
		}
		if host != nil && host.Has(name) {
			continue
		}
		return name, nil
	}
	return "", xerr.New(xerr.KindBridgeExhausted, "no bridge name available in virbr0..virbr255")
}
