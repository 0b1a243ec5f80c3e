// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package network

import (
	"encoding/xml"
	"fmt"

	"github.com/google/uuid"
)

type xmlRange struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
	Size  int    `xml:"size,attr,omitempty"`
}

type xmlHost struct {
	MAC  string `xml:"mac,attr,omitempty"`
	Name string `xml:"name,attr,omitempty"`
	IP   string `xml:"ip,attr"`
}

type xmlDHCP struct {
	Ranges []xmlRange `xml:"range"`
	Hosts  []xmlHost  `xml:"host"`
	Bootp  *xmlBootp  `xml:"bootp"`
}

type xmlBootp struct {
	File   string `xml:"file,attr"`
	Server string `xml:"server,attr,omitempty"`
}

type xmlIP struct {
	Address string   `xml:"address,attr"`
	Netmask string   `xml:"netmask,attr"`
	TFTP    *xmlTFTP `xml:"tftp"`
	DHCP    *xmlDHCP `xml:"dhcp"`
}

type xmlTFTP struct {
	Root string `xml:"root,attr"`
}

type xmlBridge struct {
	Name         string `xml:"name,attr"`
	STP          string `xml:"stp,attr,omitempty"`
	ForwardDelay string `xml:"delay,attr,omitempty"`
}

type xmlForward struct {
	Mode           string `xml:"mode,attr"`
	Dev            string `xml:"dev,attr,omitempty"`
	AdjustFirewall string `xml:"adjustFirewall,attr,omitempty"`
}

type xmlDNS struct {
	Domain string `xml:"name,attr,omitempty"`
}

type xmlNetwork struct {
	XMLName xml.Name    `xml:"network"`
	Name    string      `xml:"name"`
	UUID    string      `xml:"uuid"`
	Bridge  xmlBridge   `xml:"bridge"`
	Forward *xmlForward `xml:"forward"`
	DNS     *xmlDNS     `xml:"domain"`
	IPs     []xmlIP     `xml:"ip"`
}

// MarshalXML renders def as a <network> document, indented the
// way virsh net-dumpxml output is.
func MarshalXML(def *Definition) ([]byte, error) {
	doc := xmlNetwork{
		Name: def.Name,
		UUID: def.UUID.String(),
		Bridge: xmlBridge{
			Name: def.BridgeName,
			STP:  boolAttr(def.STPEnabled),
		},
	}
	if def.ForwardDelay != 0 {
		doc.Bridge.ForwardDelay = fmt.Sprintf("%d", def.ForwardDelay)
	}
	if def.ForwardMode != "" && def.ForwardMode != ForwardNone {
		doc.Forward = &xmlForward{Mode: string(def.ForwardMode), Dev: def.ForwardDev}
		if !def.AdjustFirewall {
			doc.Forward.AdjustFirewall = "off"
		}
	}
	if def.DNSDomain != "" {
		doc.DNS = &xmlDNS{Domain: def.DNSDomain}
	}
	if def.HasAddress() {
		ip := xmlIP{Address: def.IPAddress, Netmask: def.Netmask}
		if def.TFTPRoot != "" {
			ip.TFTP = &xmlTFTP{Root: def.TFTPRoot}
		}
		if len(def.DHCPRanges) > 0 || len(def.DHCPHosts) > 0 || def.BootpFile != "" {
			dhcp := &xmlDHCP{}
			for _, r := range def.DHCPRanges {
				dhcp.Ranges = append(dhcp.Ranges, xmlRange{Start: r.Start, End: r.End, Size: r.Size})
			}
			for _, h := range def.DHCPHosts {
				dhcp.Hosts = append(dhcp.Hosts, xmlHost{MAC: h.MAC, Name: h.Hostname, IP: h.IP})
			}
			if def.BootpFile != "" {
				dhcp.Bootp = &xmlBootp{File: def.BootpFile, Server: def.BootpServer}
			}
			ip.DHCP = dhcp
		}
		doc.IPs = append(doc.IPs, ip)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("network: marshal xml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// ParseXML parses a <network> document into a Definition, the reverse of
// MarshalXML.
func ParseXML(data []byte) (*Definition, error) {
	var doc xmlNetwork
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("network: parse xml: %w", err)
	}

	id, err := uuid.Parse(doc.UUID)
	if err != nil {
		return nil, fmt.Errorf("network: parse xml: %w", ErrInvalidUUID)
	}

	def := &Definition{
		Name:       doc.Name,
		UUID:       id,
		BridgeName: doc.Bridge.Name,
		STPEnabled: doc.Bridge.STP != "off" && doc.Bridge.STP != "0",
	}
	if doc.Bridge.ForwardDelay != "" {
		fmt.Sscanf(doc.Bridge.ForwardDelay, "%d", &def.ForwardDelay)
	}
	if doc.Forward != nil {
		def.ForwardMode = ForwardMode(doc.Forward.Mode)
		def.ForwardDev = doc.Forward.Dev
		def.AdjustFirewall = doc.Forward.AdjustFirewall != "off"
	} else {
		def.ForwardMode = ForwardNone
		def.AdjustFirewall = true
	}
	if doc.DNS != nil {
		def.DNSDomain = doc.DNS.Domain
	}
	if len(doc.IPs) > 0 {
		ip := doc.IPs[0]
		def.IPAddress = ip.Address
		def.Netmask = ip.Netmask
		if ip.TFTP != nil {
			def.TFTPRoot = ip.TFTP.Root
		}
		if ip.DHCP != nil {
			for _, r := range ip.DHCP.Ranges {
				def.DHCPRanges = append(def.DHCPRanges, DHCPRange{Start: r.Start, End: r.End, Size: r.Size})
			}
			for _, h := range ip.DHCP.Hosts {
				def.DHCPHosts = append(def.DHCPHosts, DHCPHost{MAC: h.MAC, Hostname: h.Name, IP: h.IP})
			}
			if ip.DHCP.Bootp != nil {
				def.BootpFile = ip.DHCP.Bootp.File
				def.BootpServer = ip.DHCP.Bootp.Server
			}
		}
	}
	return def, nil
}

func boolAttr(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
