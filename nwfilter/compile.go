// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package nwfilter

import (
	"fmt"

	"github.com/rbu/libvirt/internal/xerr"
)

// Backend names the kernel firewall family a rule instance targets.
type Backend string

const (
	BackendEB   Backend = "ebtables"
	BackendIPv4 Backend = "iptables"
	BackendIPv6 Backend = "ip6tables"
)

// ChainRole distinguishes the F (forward) vs H (host-input) chain family
// named by the chain namespace below.
type ChainRole string

const (
	ChainForward  ChainRole = "F"
	ChainHostIn   ChainRole = "H"
)

// RootPrefix names the temp root chain, in or out, that an instance is
// installed into; chains.go maps RootHostInTemp to position "J" and
// RootHostOutTemp to position "P" (chain names such as FJ-<if>, FP-<if>).
type RootPrefix string

const (
	RootHostInTemp  RootPrefix = "HOST_IN_TEMP"
	RootHostOutTemp RootPrefix = "HOST_OUT_TEMP"
)

// StateMatch is the closed set of conntrack state matchers a layer-3
// instance may carry.
type StateMatch string

const (
	StateNone               StateMatch = ""
	StateNewEstablished     StateMatch = "NEW,ESTABLISHED"
	StateEstablished        StateMatch = "ESTABLISHED"
)

// Instance is one emitted, backend-ready rule: a command_template with the
// %c (list op) and %s (position) placeholders, plus the metadata the
// chain manager needs to place it.
type Instance struct {
	Backend  Backend
	Chain    RootPrefix
	Role     ChainRole
	State    StateMatch
	Target   string // ACCEPT, DROP, REJECT, RETURN
	Priority int
	Template string // e.g. "-%c %s -p tcp --dport 22 -j ACCEPT"
}

// directTypeUnsupported is returned when a layer-3 protocol is compiled
// against a "direct"-type interface, which only supports layer-2 filtering.
var directTypeUnsupported = "protocol not supported on this network interface type"

// Compile lowers one resolved rule into its backend instances per the fixed
// policy. directType reports whether the owning interface is libvirt's
// "direct" type, which rejects every layer-3 protocol.
func Compile(rule ResolvedRule, directType bool) ([]Instance, error) {
	switch rule.Protocol.Layer() {
	case 2:
		return compileLayer2(rule), nil
	case 6:
		if directType {
			return nil, xerr.New(xerr.KindFilterProtocolUnsupported, directTypeUnsupported)
		}
		return compileLayer3(rule, BackendIPv6), nil
	default:
		if directType {
			return nil, xerr.New(xerr.KindFilterProtocolUnsupported, directTypeUnsupported)
		}
		return compileLayer3(rule, BackendIPv4), nil
	}
}

// compileLayer2 emits one ebtables instance per direction implied by
// rule.Direction (both when inout), prefixed HOST_IN_TEMP/HOST_OUT_TEMP.
func compileLayer2(rule ResolvedRule) []Instance {
	target := actionTarget(rule.Action)
	body := renderMatches(rule.Matches)

	var out []Instance
	if rule.Direction == DirIn || rule.Direction == DirInOut {
		out = append(out, Instance{
			Backend: BackendEB, Chain: RootHostInTemp, Priority: rule.Priority,
			Target: target, Template: fmt.Sprintf("-%%c %%s%s -j %s", body, target),
		})
	}
	if rule.Direction == DirOut || rule.Direction == DirInOut {
		out = append(out, Instance{
			Backend: BackendEB, Chain: RootHostOutTemp, Priority: rule.Priority,
			Target: target, Template: fmt.Sprintf("-%%c %%s%s -j %s", body, target),
		})
	}
	return out
}

// compileLayer3 emits the fixed three-instance sequence for a
// layer-3 rule, against the given backend (iptables or ip6tables). Inbound
// rules suppress the stateful matchers, since the
// ESTABLISHED state is instead set up by the outbound counterpart.
func compileLayer3(rule ResolvedRule, backend Backend) []Instance {
	target := actionTarget(rule.Action)
	body := renderMatches(rule.Matches)
	outbound := rule.Direction == DirOut || rule.Direction == DirInOut

	f1 := Instance{
		Backend: backend, Chain: RootHostInTemp, Role: ChainForward,
		Priority: rule.Priority, Target: "RETURN",
		Template: fmt.Sprintf("-%%c %%s%s -j RETURN", withState(body, outbound, StateNewEstablished)),
	}
	f2 := Instance{
		Backend: backend, Chain: RootHostOutTemp, Role: ChainForward,
		Priority: rule.Priority, Target: "ACCEPT",
		Template: fmt.Sprintf("-%%c %%s%s -j ACCEPT", withState(body, outbound, StateEstablished)),
	}
	h1 := Instance{
		Backend: backend, Chain: RootHostInTemp, Role: ChainHostIn,
		Priority: rule.Priority, Target: target,
		Template: fmt.Sprintf("-%%c %%s%s -j %s", body, target),
	}
	return []Instance{f1, f2, h1}
}

func withState(body string, outbound bool, state StateMatch) string {
	if !outbound || state == StateNone {
		return body
	}
	return fmt.Sprintf(" -m state --state %s%s", state, body)
}

func actionTarget(a Action) string {
	switch a {
	case ActionAccept:
		return "ACCEPT"
	case ActionDrop:
		return "DROP"
	case ActionReturn:
		return "RETURN"
	case ActionContinue:
		return "CONTINUE"
	default:
		return "DROP"
	}
}

func renderMatches(matches []Match) string {
	var body string
	for _, m := range matches {
		neg := ""
		if m.Negate {
			neg = "!"
		}
		body += fmt.Sprintf(" %s--%s %s", neg, m.Attr, m.Value)
	}
	return body
}
