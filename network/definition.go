// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package network implements the virtual-network registry and lifecycle
// engine: the in-memory definition store, the persistence codec,
// the bridge-name allocator, the network lifecycle state machine,
// the DHCP sidecar supervisor, and the layer-3 firewall rule writer.
package network

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// ForwardMode is the closed set of network forwarding modes.
type ForwardMode string

const (
	ForwardNone  ForwardMode = "none"
	ForwardNAT   ForwardMode = "nat"
	ForwardRoute ForwardMode = "route"
)

// Sentinel validation errors, collected rather than returned individually.
var (
	ErrEmptyName          = errors.New("network: name must not be empty")
	ErrInvalidUUID         = errors.New("network: uuid must be 16 octets")
	ErrAddressNetmaskPair  = errors.New("network: ip_address and netmask must both be present or both absent")
	ErrInvalidIPAddress    = errors.New("network: ip_address is not a valid IPv4 literal")
	ErrInvalidNetmask      = errors.New("network: netmask is not a valid IPv4 literal")
	ErrForwardNeedsAddress = errors.New("network: forward mode other than none requires ip_address and netmask")
	ErrInvalidForwardMode  = errors.New("network: forward_mode must be one of none, nat, route")
	ErrDHCPRangeOrder      = errors.New("network: dhcp range end must not precede start")
	ErrDHCPRangeOutOfNet   = errors.New("network: dhcp range must lie within the derived network")
	ErrDHCPHostIdentity    = errors.New("network: dhcp host requires a mac or a hostname")
	ErrDHCPHostAddress     = errors.New("network: dhcp host ip must be a valid IPv4 literal")
)

// DHCPRange is one `<range start=… end=…/>` entry.
type DHCPRange struct {
	Start string
	End   string
	Size  int
}

// DHCPHost is one `<host mac=… name=… ip=…/>` entry.
type DHCPHost struct {
	MAC      string
	Hostname string
	IP       string
}

// entry renders the dnsmasq --dhcp-host argument for this host:
// "<mac>,<hostname>,<ip>" if both present, else "<mac>,<ip>" or
// "<hostname>,<ip>"; a host with neither mac nor hostname is skipped by the
// caller before this is reached.
func (h DHCPHost) entry() string {
	switch {
	case h.MAC != "" && h.Hostname != "":
		return fmt.Sprintf("%s,%s,%s", h.MAC, h.Hostname, h.IP)
	case h.MAC != "":
		return fmt.Sprintf("%s,%s", h.MAC, h.IP)
	default:
		return fmt.Sprintf("%s,%s", h.Hostname, h.IP)
	}
}

// Definition is the immutable-once-admitted network definition.
type Definition struct {
	Name         string
	UUID         uuid.UUID
	BridgeName   string
	STPEnabled   bool
	ForwardDelay int

	IPAddress string
	Netmask   string

	DNSDomain string
	DHCPRanges []DHCPRange
	DHCPHosts  []DHCPHost
	TFTPRoot   string
	BootpFile  string
	BootpServer string

	ForwardMode    ForwardMode
	ForwardDev     string
	AdjustFirewall bool
}

// HasAddress reports whether both ip_address and netmask are set.
func (d *Definition) HasAddress() bool {
	return d.IPAddress != "" && d.Netmask != ""
}

// DerivedNetwork computes "(ip & mask)/mask". It
// returns the empty string if no address is configured.
func (d *Definition) DerivedNetwork() string {
	if !d.HasAddress() {
		return ""
	}
	ip := net.ParseIP(d.IPAddress).To4()
	mask := net.IPMask(net.ParseIP(d.Netmask).To4())
	if ip == nil || mask == nil {
		return ""
	}
	network := ip.Mask(mask)
	return fmt.Sprintf("%s/%s", network.String(), d.Netmask)
}

// networkAddr returns the masked network IP (without the "/mask" suffix),
// used by the DHCP range/host containment check.
func (d *Definition) networkAddr() net.IP {
	ip := net.ParseIP(d.IPAddress).To4()
	mask := net.IPMask(net.ParseIP(d.Netmask).To4())
	if ip == nil || mask == nil {
		return nil
	}
	return ip.Mask(mask)
}

func (d *Definition) contains(ipStr string) bool {
	ip := net.ParseIP(ipStr).To4()
	mask := net.IPMask(net.ParseIP(d.Netmask).To4())
	if ip == nil || mask == nil {
		return false
	}
	return ip.Mask(mask).Equal(d.networkAddr())
}

// Validate checks every structural invariant, collecting every violation
// into a *multierror.Error rather than stopping at the first.
func (d *Definition) Validate() error {
	var mErr multierror.Error

	if d.Name == "" {
		mErr.Errors = append(mErr.Errors, ErrEmptyName)
	}
	if d.UUID == uuid.Nil {
		mErr.Errors = append(mErr.Errors, ErrInvalidUUID)
	}

	hasIP := d.IPAddress != ""
	hasMask := d.Netmask != ""
	if hasIP != hasMask {
		mErr.Errors = append(mErr.Errors, ErrAddressNetmaskPair)
	} else if hasIP && hasMask {
		if net.ParseIP(d.IPAddress).To4() == nil {
			mErr.Errors = append(mErr.Errors, ErrInvalidIPAddress)
		}
		if net.ParseIP(d.Netmask).To4() == nil {
			mErr.Errors = append(mErr.Errors, ErrInvalidNetmask)
		}
	}

	switch d.ForwardMode {
	case ForwardNone, ForwardNAT, ForwardRoute, "":
	default:
		mErr.Errors = append(mErr.Errors, ErrInvalidForwardMode)
	}

	if d.ForwardMode != ForwardNone && d.ForwardMode != "" && !d.HasAddress() {
		mErr.Errors = append(mErr.Errors, ErrForwardNeedsAddress)
	}

	if d.HasAddress() && net.ParseIP(d.IPAddress).To4() != nil && net.ParseIP(d.Netmask).To4() != nil {
		for _, r := range d.DHCPRanges {
			start := net.ParseIP(r.Start).To4()
			end := net.ParseIP(r.End).To4()
			if start == nil || end == nil || compareIPv4(end, start) < 0 {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("%w: %s-%s", ErrDHCPRangeOrder, r.Start, r.End))
				continue
			}
			if !d.contains(r.Start) || !d.contains(r.End) {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("%w: %s-%s", ErrDHCPRangeOutOfNet, r.Start, r.End))
			}
		}
	}

	for _, h := range d.DHCPHosts {
		if h.MAC == "" && h.Hostname == "" {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("%w: ip=%s", ErrDHCPHostIdentity, h.IP))
		}
		if net.ParseIP(h.IP).To4() == nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("%w: %q", ErrDHCPHostAddress, h.IP))
		}
	}

	return mErr.ErrorOrNil()
}

func compareIPv4(a, b net.IP) int {
	for i := 0; i < 4; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Clone returns a deep-enough copy of d for safe storage as live_def/pending_def.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.DHCPRanges = append([]DHCPRange(nil), d.DHCPRanges...)
	c.DHCPHosts = append([]DHCPHost(nil), d.DHCPHosts...)
	return &c
}
