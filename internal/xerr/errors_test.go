// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package xerr

import (
	"errors"
	"testing"

	"github.com/shoenig/test/must"
)

func TestError_Is_MatchesByKindOnly(t *testing.T) {
	t.Parallel()

	a := New(KindNoSuchNetwork, "network foo not found")
	b := New(KindNoSuchNetwork, "network bar not found")
	c := New(KindStillActive, "network foo not found")

	must.True(t, errors.Is(a, b))
	must.False(t, errors.Is(a, c))
}

func TestError_WithAnnotations(t *testing.T) {
	t.Parallel()

	base := New(KindHostEffectorFailed, "failed")
	annotated := base.WithBridge("virbr0").WithStep("create_bridge")

	must.Eq(t, "virbr0", annotated.Bridge)
	must.Eq(t, "create_bridge", annotated.Step)
	must.Eq(t, "", base.Bridge) // base unmodified
}

func TestError_Wrap_Unwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("io failure")
	wrapped := Wrap(KindIOFailed, "write config", cause)

	must.ErrorIs(t, wrapped, cause)
	must.Eq(t, int(KindIOFailed), wrapped.Code())
}

func TestKind_String(t *testing.T) {
	t.Parallel()
	must.Eq(t, "bridge_exhausted", KindBridgeExhausted.String())
	must.Eq(t, "unknown", Kind(999).String())
}
