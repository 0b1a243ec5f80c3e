// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package nwfilter

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestResolve_SingleValue(t *testing.T) {
	t.Parallel()

	rule := Rule{
		Protocol: ProtoTCP, Action: ActionAccept, Direction: DirIn, Priority: 100,
		Matches: []Match{{Attr: "dport", Value: "22"}, {Attr: "srcipaddr", Value: "$IP"}},
	}
	vars := Single(map[string]string{"IP": "192.168.122.10"})

	resolved, err := Resolve(rule, vars)
	must.NoError(t, err)
	must.Eq(t, 1, len(resolved))
	must.Eq(t, "192.168.122.10", resolved[0].Matches[1].Value)
	must.Eq(t, "22", resolved[0].Matches[0].Value)
}

func TestResolve_MultiValueExpandsOneRulePerCombination(t *testing.T) {
	t.Parallel()

	rule := Rule{
		Protocol: ProtoIP, Action: ActionAccept, Direction: DirOut,
		Matches: []Match{{Attr: "dstipaddr", Value: "$DST"}},
	}
	vars := VarTable{"DST": {"10.0.0.1", "10.0.0.2", "10.0.0.3"}}

	resolved, err := Resolve(rule, vars)
	must.NoError(t, err)
	must.Eq(t, 3, len(resolved))
}

func TestResolve_UnboundVariable(t *testing.T) {
	t.Parallel()

	rule := Rule{Matches: []Match{{Attr: "srcipaddr", Value: "$UNKNOWN"}}}
	_, err := Resolve(rule, VarTable{})
	must.Error(t, err)
}

func TestResolve_BufferOverflow_Untyped(t *testing.T) {
	t.Parallel()

	huge := make([]byte, DataType("").maxLen()+1)
	for i := range huge {
		huge[i] = 'a'
	}
	rule := Rule{Matches: []Match{{Attr: "comment", Value: "$BIG"}}}
	vars := Single(map[string]string{"BIG": string(huge)})

	_, err := Resolve(rule, vars)
	must.Error(t, err)
}

func TestResolve_BufferOverflow_PerType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		typ  DataType
	}{
		{"ip_addr", TypeIPAddr},
		{"ipv6_addr", TypeIPv6Addr},
		{"mac_addr", TypeMACAddr},
		{"mac_mask", TypeMACMask},
		{"ip_mask", TypeIPMask},
		{"ipv6_mask", TypeIPv6Mask},
		{"u8", TypeU8},
		{"u16", TypeU16},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			over := make([]byte, tc.typ.maxLen()+1)
			for i := range over {
				over[i] = '1'
			}
			rule := Rule{Matches: []Match{{Attr: "srcipaddr", Value: "$V", Type: tc.typ}}}
			vars := Single(map[string]string{"V": string(over)})

			_, err := Resolve(rule, vars)
			must.Error(t, err)

			within := make([]byte, tc.typ.maxLen())
			for i := range within {
				within[i] = '1'
			}
			rule.Matches[0].Value = "$V"
			vars = Single(map[string]string{"V": string(within)})
			_, err = Resolve(rule, vars)
			must.NoError(t, err)
		})
	}
}

func TestResolve_LiteralMatchUnaffected(t *testing.T) {
	t.Parallel()

	rule := Rule{Matches: []Match{{Attr: "dport", Value: "80"}}}
	resolved, err := Resolve(rule, VarTable{})
	must.NoError(t, err)
	must.Eq(t, 1, len(resolved))
	must.Eq(t, "80", resolved[0].Matches[0].Value)
}
