// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package nwfilter implements the protocol-tagged packet filter compiler,
// its layer-2/layer-3 backend emitters, and the shadow-chain
// manager that installs compiled rules atomically.
package nwfilter

import "fmt"

// Protocol is the closed set of rule protocols a Filter entry may name. A
// bare mac/arp/ip/ipv6 protocol compiles against the layer-2 (ebtables)
// backend; everything else names a specific upper-layer protocol and
// compiles against iptables or ip6tables depending on the family suffix.
type Protocol string

const (
	ProtoMAC  Protocol = "mac"
	ProtoARP  Protocol = "arp"
	ProtoIP   Protocol = "ip"
	ProtoIPv6 Protocol = "ipv6"

	ProtoTCP     Protocol = "tcp"
	ProtoUDP     Protocol = "udp"
	ProtoUDPLite Protocol = "udplite"
	ProtoESP     Protocol = "esp"
	ProtoAH      Protocol = "ah"
	ProtoSCTP    Protocol = "sctp"
	ProtoICMP    Protocol = "icmp"
	ProtoIGMP    Protocol = "igmp"
	ProtoAll     Protocol = "all"

	ProtoTCPv6     Protocol = "tcp-ipv6"
	ProtoUDPv6     Protocol = "udp-ipv6"
	ProtoUDPLitev6 Protocol = "udplite-ipv6"
	ProtoESPv6     Protocol = "esp-ipv6"
	ProtoAHv6      Protocol = "ah-ipv6"
	ProtoSCTPv6    Protocol = "sctp-ipv6"
	ProtoICMPv6    Protocol = "icmpv6"
	ProtoAllv6     Protocol = "all-ipv6"
)

// Layer reports which backend family a protocol compiles to: 2 for ebtables,
// 3 for iptables, 6 for ip6tables. Bare ip/ipv6 (with no upper-layer
// protocol named) stay at layer 2, matching how the real packet filter
// classifies an address-family-only match.
func (p Protocol) Layer() int {
	switch p {
	case ProtoMAC, ProtoARP, ProtoIP, ProtoIPv6, "":
		return 2
	case ProtoTCPv6, ProtoUDPv6, ProtoUDPLitev6, ProtoESPv6, ProtoAHv6, ProtoSCTPv6, ProtoICMPv6, ProtoAllv6:
		return 6
	default:
		return 3
	}
}

// Action is the closed set of rule actions.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDrop     Action = "drop"
	ActionReturn   Action = "return"
	ActionContinue Action = "continue"
)

// Direction is the closed set of traffic directions a rule applies to.
type Direction string

const (
	DirIn    Direction = "in"
	DirOut   Direction = "out"
	DirInOut Direction = "inout"
)

// DataType is the closed set of entry-descriptor value types. Each carries
// its own maximum encoded length, used to size the buffer-overflow check
// during variable resolution.
type DataType string

const (
	TypeIPAddr   DataType = "ip_addr"
	TypeIPv6Addr DataType = "ipv6_addr"
	TypeMACAddr  DataType = "mac_addr"
	TypeMACMask  DataType = "mac_mask"
	TypeIPMask   DataType = "ip_mask"
	TypeIPv6Mask DataType = "ipv6_mask"
	TypeU8       DataType = "u8"
	TypeU16      DataType = "u16"
)

// maxLen returns the largest number of bytes a value of this type may
// encode to; the zero value (unset) falls back to a generic string limit.
func (t DataType) maxLen() int {
	switch t {
	case TypeIPAddr, TypeIPMask:
		return len("255.255.255.255")
	case TypeIPv6Addr, TypeIPv6Mask:
		return len("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff/128")
	case TypeMACAddr, TypeMACMask:
		return len("ff:ff:ff:ff:ff:ff")
	case TypeU8:
		return len("255")
	case TypeU16:
		return len("65535")
	default:
		return 4096
	}
}

// Match is one "attribute=value" predicate inside a rule, e.g. srcipaddr=$IP.
// Type, when set, governs the per-type buffer-overflow limit applied when a
// $VAR reference is resolved to a concrete value.
type Match struct {
	Attr   string
	Value  string
	Type   DataType
	Negate bool
}

// Rule is one filter rule: a protocol-tagged, directional predicate set with
// an action and a relative priority (lower runs first).
type Rule struct {
	Protocol Protocol
	Action   Action
	Direction Direction
	Priority int
	Matches  []Match
}

// FilterRef is one <filterref filter="name"><parameter .../></filterref>
// entry: a named sub-filter invocation with its own variable bindings.
type FilterRef struct {
	Name   string
	Params map[string]string
}

// Filter is the compiled unit: an ordered rule list plus nested
// filter references, identified by name.
type Filter struct {
	Name  string
	Rules []Rule
	Refs  []FilterRef
}

// Entry binds a Filter to one network interface for one VM, the unit
// actually instantiate chains for.
type Entry struct {
	Interface string
	Filter    *Filter
	Vars      VarTable
}

func (d Direction) String() string { return string(d) }

func (r Rule) String() string {
	return fmt.Sprintf("%s/%s/%s(prio=%d,matches=%d)", r.Protocol, r.Direction, r.Action, r.Priority, len(r.Matches))
}
