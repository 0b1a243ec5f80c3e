// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package nwfilter

import (
	"strings"

	"github.com/rbu/libvirt/internal/xerr"
)

// VarTable holds the bindings available to one Entry: most variables carry a
// single value, but a variable such as $IP may carry several (one per
// address owned by the interface), in which case every rule referencing it
// is expanded once per value, treating it as an "iterator" variable.
type VarTable map[string][]string

// Single returns a VarTable where every name has exactly one value.
func Single(values map[string]string) VarTable {
	t := make(VarTable, len(values))
	for k, v := range values {
		t[k] = []string{v}
	}
	return t
}

// refersTo reports whether value is a $NAME reference (begins with "$"),
// returning NAME.
func refersTo(value string) (string, bool) {
	if !strings.HasPrefix(value, "$") {
		return "", false
	}
	return value[1:], true
}

// ResolvedRule is a Rule with every $VAR token in its matches substituted by
// one concrete value combination.
type ResolvedRule struct {
	Rule
	Matches []Match
	// Index numbers this instance among the ResolvedRules one rule expands
	// to (0 for the first or only one).
	Index int
}

// Resolve expands rule against vars, returning one ResolvedRule per distinct
// combination of multi-valued variables referenced in rule's matches. A
// match that names an unbound variable is a KindFilterVariableUnresolved
// error; a resolved value longer than its match type's maxLen is
// KindFilterBufferOverflow.
func Resolve(rule Rule, vars VarTable) ([]ResolvedRule, error) {
	// Gather the set of variable names this rule actually references, each
	// with its value list, preserving first-seen order for determinism.
	var names []string
	values := map[string][]string{}
	for _, m := range rule.Matches {
		name, ok := refersTo(m.Value)
		if !ok {
			continue
		}
		if _, seen := values[name]; seen {
			continue
		}
		vals, bound := vars[name]
		if !bound || len(vals) == 0 {
			return nil, xerr.New(xerr.KindFilterVariableUnresolved, "unresolved filter variable $"+name)
		}
		names = append(names, name)
		values[name] = vals
	}

	combos := cartesian(names, values)
	out := make([]ResolvedRule, 0, len(combos))
	for idx, combo := range combos {
		matches := make([]Match, len(rule.Matches))
		for i, m := range rule.Matches {
			name, ok := refersTo(m.Value)
			if !ok {
				matches[i] = m
				continue
			}
			val := combo[name]
			if limit := m.Type.maxLen(); len(val) > limit {
				return nil, xerr.New(xerr.KindFilterBufferOverflow,
					"resolved value for $"+name+" exceeds the maximum buffer size for type "+string(m.Type))
			}
			matches[i] = Match{Attr: m.Attr, Value: val, Type: m.Type, Negate: m.Negate}
		}
		out = append(out, ResolvedRule{Rule: rule, Matches: matches, Index: idx})
	}
	return out, nil
}

// cartesian enumerates every combination of values across names, in the
// order names were first referenced.
func cartesian(names []string, values map[string][]string) []map[string]string {
	combos := []map[string]string{{}}
	for _, name := range names {
		var next []map[string]string
		for _, base := range combos {
			for _, v := range values[name] {
				combo := make(map[string]string, len(base)+1)
				for k, existing := range base {
					combo[k] = existing
				}
				combo[name] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}
