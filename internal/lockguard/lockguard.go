// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package lockguard encodes the "returned locked" lookup contract used by the
// network registry: a lookup acquires an object's lock and hands the caller a
// Guard that can only be released by calling Unlock, so a static analysis
// pass (or a careful reviewer) can trace that every lookup path eventually
// unlocks.
package lockguard

import "sync"

// Guard wraps a mutex that is already held when returned to a caller. The
// zero value is an unlocked, usable Guard.
type Guard struct {
	mu       sync.Mutex
	noCopy   noCopy //nolint:unused // trips go vet's copylocks check on accidental copies
	acquired bool
}

// noCopy, when embedded, makes `go vet -copylocks` flag any accidental copy
// of a Guard (e.g. passing one by value instead of by pointer).
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Lock acquires the underlying mutex without marking it as handed to a
// caller; use Acquire for the "return locked" lookup pattern.
func (g *Guard) Lock() { g.mu.Lock() }

// Unlock releases the underlying mutex. It is safe to call exactly once per
// Lock/Acquire.
func (g *Guard) Unlock() { g.mu.Unlock() }

// TryLock attempts to acquire the mutex without blocking.
func (g *Guard) TryLock() bool { return g.mu.TryLock() }

// Acquire locks g and returns g itself, documenting at the call site that
// the returned value is locked and the caller is responsible for Unlock.
func (g *Guard) Acquire() *Guard {
	g.mu.Lock()
	return g
}
