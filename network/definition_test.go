// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shoenig/test/must"
)

func validDef() *Definition {
	return &Definition{
		Name:       "default",
		UUID:       uuid.New(),
		BridgeName: "virbr0",
		IPAddress:  "192.168.122.1",
		Netmask:    "255.255.255.0",
		ForwardMode: ForwardNAT,
		AdjustFirewall: true,
		DHCPRanges: []DHCPRange{{Start: "192.168.122.2", End: "192.168.122.254"}},
	}
}

func TestDefinition_Validate_OK(t *testing.T) {
	t.Parallel()
	must.NoError(t, validDef().Validate())
}

func TestDefinition_Validate_Cases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Definition)
		want   error
	}{
		{"empty name", func(d *Definition) { d.Name = "" }, ErrEmptyName},
		{"nil uuid", func(d *Definition) { d.UUID = uuid.Nil }, ErrInvalidUUID},
		{"mask without ip", func(d *Definition) { d.IPAddress = "" }, ErrAddressNetmaskPair},
		{"bad ip", func(d *Definition) { d.IPAddress = "not-an-ip" }, ErrInvalidIPAddress},
		{"bad mask", func(d *Definition) { d.Netmask = "not-a-mask" }, ErrInvalidNetmask},
		{"bad forward mode", func(d *Definition) { d.ForwardMode = "bogus" }, ErrInvalidForwardMode},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			def := validDef()
			tc.mutate(def)
			err := def.Validate()
			must.Error(t, err)
			must.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDefinition_Validate_ForwardNeedsAddress(t *testing.T) {
	t.Parallel()
	def := validDef()
	def.IPAddress = ""
	def.Netmask = ""
	def.DHCPRanges = nil
	err := def.Validate()
	must.Error(t, err)
	must.ErrorIs(t, err, ErrForwardNeedsAddress)
}

func TestDefinition_Validate_DHCPRangeOrder(t *testing.T) {
	t.Parallel()
	def := validDef()
	def.DHCPRanges = []DHCPRange{{Start: "192.168.122.254", End: "192.168.122.2"}}
	err := def.Validate()
	must.Error(t, err)
	must.ErrorIs(t, err, ErrDHCPRangeOrder)
}

func TestDefinition_Validate_DHCPRangeOutOfNet(t *testing.T) {
	t.Parallel()
	def := validDef()
	def.DHCPRanges = []DHCPRange{{Start: "10.0.0.2", End: "10.0.0.254"}}
	err := def.Validate()
	must.Error(t, err)
	must.ErrorIs(t, err, ErrDHCPRangeOutOfNet)
}

func TestDefinition_Validate_DHCPHost(t *testing.T) {
	t.Parallel()

	def := validDef()
	def.DHCPHosts = []DHCPHost{{IP: "192.168.122.10"}}
	err := def.Validate()
	must.Error(t, err)
	must.ErrorIs(t, err, ErrDHCPHostIdentity)

	def = validDef()
	def.DHCPHosts = []DHCPHost{{MAC: "52:54:00:00:00:01", IP: "not-an-ip"}}
	err = def.Validate()
	must.Error(t, err)
	must.ErrorIs(t, err, ErrDHCPHostAddress)
}

func TestDefinition_DerivedNetwork(t *testing.T) {
	t.Parallel()
	def := validDef()
	must.Eq(t, "192.168.122.0/255.255.255.0", def.DerivedNetwork())
}

func TestDefinition_DerivedNetwork_NoAddress(t *testing.T) {
	t.Parallel()
	def := validDef()
	def.IPAddress = ""
	def.Netmask = ""
	def.DHCPRanges = nil
	must.Eq(t, "", def.DerivedNetwork())
}

func TestDHCPHost_Entry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		host DHCPHost
		want string
	}{
		{"mac and hostname", DHCPHost{MAC: "52:54:00:00:00:01", Hostname: "www", IP: "192.168.122.10"}, "52:54:00:00:00:01,www,192.168.122.10"},
		{"mac only", DHCPHost{MAC: "52:54:00:00:00:01", IP: "192.168.122.10"}, "52:54:00:00:00:01,192.168.122.10"},
		{"hostname only", DHCPHost{Hostname: "www", IP: "192.168.122.10"}, "www,192.168.122.10"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			must.Eq(t, tc.want, tc.host.entry())
		})
	}
}

func TestDefinition_Clone_Independent(t *testing.T) {
	t.Parallel()
	def := validDef()
	clone := def.Clone()
	clone.DHCPRanges[0].Start = "mutated"
	must.NotEq(t, def.DHCPRanges[0].Start, clone.DHCPRanges[0].Start)
}
