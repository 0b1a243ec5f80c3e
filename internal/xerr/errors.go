// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package xerr defines the closed set of structured error kinds surfaced by
// the network and nwfilter subsystems. Every user-visible failure carries a
// Kind, a stable numeric Code, and a human message naming the interface,
// bridge, or config file involved.
package xerr

import "fmt"

// Kind is a closed enumeration of error categories. Adding a category is a
// source-level change in one place.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoSuchNetwork
	KindInvalidNetwork
	KindNameConflict
	KindUUIDConflict
	KindAlreadyActive
	KindStillActive
	KindMalformedDefinition
	KindBridgeExhausted
	KindBridgeInUse
	KindHostEffectorFailed
	KindFirewallBuildFailed
	KindFilterVariableUnresolved
	KindFilterBufferOverflow
	KindFilterProtocolUnsupported
	KindIOFailed
)

func (k Kind) String() string {
	switch k {
	case KindNoSuchNetwork:
		return "no_such_network"
	case KindInvalidNetwork:
		return "invalid_network"
	case KindNameConflict:
		return "name_conflict"
	case KindUUIDConflict:
		return "uuid_conflict"
	case KindAlreadyActive:
		return "already_active"
	case KindStillActive:
		return "still_active"
	case KindMalformedDefinition:
		return "malformed_definition"
	case KindBridgeExhausted:
		return "bridge_exhausted"
	case KindBridgeInUse:
		return "bridge_in_use"
	case KindHostEffectorFailed:
		return "host_effector_failed"
	case KindFirewallBuildFailed:
		return "firewall_build_failed"
	case KindFilterVariableUnresolved:
		return "filter_variable_unresolved"
	case KindFilterBufferOverflow:
		return "filter_buffer_overflow"
	case KindFilterProtocolUnsupported:
		return "filter_protocol_unsupported"
	case KindIOFailed:
		return "io_failed"
	default:
		return "unknown"
	}
}

// code assigns each Kind a stable numeric identifier for callers that need a
// wire-stable value instead of the string form.
func (k Kind) code() int {
	return int(k)
}

// Error is the structured error record: {kind, numeric_code,
// human_message}, plus the interface/bridge/path the failure concerns.
type Error struct {
	Kind      Kind
	Message   string
	Interface string
	Bridge    string
	Path      string
	Step      string
	Wrapped   error
}

func (e *Error) Error() string {
	loc := ""
	switch {
	case e.Bridge != "":
		loc = fmt.Sprintf(" (bridge %q)", e.Bridge)
	case e.Interface != "":
		loc = fmt.Sprintf(" (interface %q)", e.Interface)
	case e.Path != "":
		loc = fmt.Sprintf(" (path %q)", e.Path)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s%s: %v", e.Kind, e.Message, loc, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s%s", e.Kind, e.Message, loc)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Code returns the stable numeric code for the error's Kind.
func (e *Error) Code() int { return e.Kind.code() }

// Is allows errors.Is(err, xerr.New(KindX, "")) style comparisons by Kind
// alone, ignoring message/location fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a bare Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: cause}
}

// WithBridge returns a copy of e annotated with the bridge name involved.
func (e *Error) WithBridge(name string) *Error {
	c := *e
	c.Bridge = name
	return &c
}

// WithInterface returns a copy of e annotated with the interface name involved.
func (e *Error) WithInterface(name string) *Error {
	c := *e
	c.Interface = name
	return &c
}

// WithPath returns a copy of e annotated with the config/state file path involved.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithStep returns a copy of e naming the failed effector step, used by
// KindHostEffectorFailed.
func (e *Error) WithStep(step string) *Error {
	c := *e
	c.Step = step
	return &c
}
