// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package nwfilter

import (
	"testing"

	"github.com/shoenig/test/must"
)

func resolvedRule(proto Protocol, dir Direction) ResolvedRule {
	return ResolvedRule{Rule: Rule{Protocol: proto, Action: ActionAccept, Direction: dir, Priority: 500}}
}

func TestCompile_Layer2_InOut_EmitsBothDirections(t *testing.T) {
	t.Parallel()

	instances, err := Compile(resolvedRule(ProtoMAC, DirInOut), false)
	must.NoError(t, err)
	must.Eq(t, 2, len(instances))
	for _, inst := range instances {
		must.Eq(t, BackendEB, inst.Backend)
	}
}

func TestCompile_Layer2_SingleDirection(t *testing.T) {
	t.Parallel()

	instances, err := Compile(resolvedRule(ProtoARP, DirIn), false)
	must.NoError(t, err)
	must.Eq(t, 1, len(instances))
	must.Eq(t, RootHostInTemp, instances[0].Chain)
}

func TestCompile_Layer3_EmitsThreeInstances(t *testing.T) {
	t.Parallel()

	instances, err := Compile(resolvedRule(ProtoTCP, DirOut), false)
	must.NoError(t, err)
	must.Eq(t, 3, len(instances))
	must.Eq(t, BackendIPv4, instances[0].Backend)
	must.Eq(t, ChainForward, instances[0].Role)
	must.Eq(t, ChainForward, instances[1].Role)
	must.Eq(t, ChainHostIn, instances[2].Role)
}

func TestCompile_Layer3_IPv6SelectsIP6TablesBackend(t *testing.T) {
	t.Parallel()

	instances, err := Compile(resolvedRule(ProtoTCPv6, DirOut), false)
	must.NoError(t, err)
	for _, inst := range instances {
		must.Eq(t, BackendIPv6, inst.Backend)
	}
}

func TestCompile_DirectTypeRejectsLayer3(t *testing.T) {
	t.Parallel()

	_, err := Compile(resolvedRule(ProtoTCP, DirOut), true)
	must.Error(t, err)
}

func TestCompile_DirectTypeAllowsLayer2(t *testing.T) {
	t.Parallel()

	_, err := Compile(resolvedRule(ProtoMAC, DirIn), true)
	must.NoError(t, err)
}

func TestCompile_BareIPv6StaysLayer2(t *testing.T) {
	t.Parallel()

	instances, err := Compile(resolvedRule(ProtoIPv6, DirIn), false)
	must.NoError(t, err)
	for _, inst := range instances {
		must.Eq(t, BackendEB, inst.Backend)
	}
}

func TestCompile_ICMPv6SelectsIP6TablesBackend(t *testing.T) {
	t.Parallel()

	instances, err := Compile(resolvedRule(ProtoICMPv6, DirOut), false)
	must.NoError(t, err)
	for _, inst := range instances {
		must.Eq(t, BackendIPv6, inst.Backend)
	}
}

func TestActionTarget_ContinueAndReturn(t *testing.T) {
	t.Parallel()

	must.Eq(t, "CONTINUE", actionTarget(ActionContinue))
	must.Eq(t, "RETURN", actionTarget(ActionReturn))
}
