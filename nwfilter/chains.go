// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package nwfilter

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set"
	"github.com/rbu/libvirt/effector"
	"github.com/rbu/libvirt/internal/xerr"
)

// Base chains, created once and pinned into the kernel's built-in chains by
// LinkChain.
const (
	baseLibvirtIn     = "libvirt-in"
	baseLibvirtOut    = "libvirt-out"
	baseLibvirtInPost = "libvirt-in-post"
	baseLibvirtHostIn = "libvirt-host-in"
)

// posCode names the four positions a root chain can occupy: live or temp,
// crossed with in or out. H (host-input) chains only ever occupy the "in"
// position — there is no host-output filtering.
type posCode string

const (
	posLiveIn  posCode = "I"
	posLiveOut posCode = "O"
	posTempIn  posCode = "J"
	posTempOut posCode = "P"
)

func rootChainName(ifname string, role ChainRole, pos posCode) string {
	return string(role) + string(pos) + "-" + ifname
}

func subChainName(root, protoSuffix string) string {
	if protoSuffix == "" {
		return root
	}
	return root + "-" + protoSuffix
}

// l2ProtoOrder fixes the order sub-chains are created in: ipv4, ipv6, then
// arp last, so that arp rules see the ipv4/ipv6 sub-chains already in place.
var l2ProtoOrder = []string{"ipv4", "ipv6", "arp"}

// ChainManager applies a compiled rule set to one interface via the
// shadow-chain-swap protocol, and tears it down again.
type ChainManager struct {
	logger hclog.Logger
	host   effector.Host
	ipt    map[Backend]effector.IPTables // BackendIPv4, BackendIPv6
}

// NewChainManager returns a ChainManager. ipt must have entries for
// BackendIPv4 and, if IPv6 filtering is in use, BackendIPv6.
func NewChainManager(logger hclog.Logger, host effector.Host, ipt map[Backend]effector.IPTables) *ChainManager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ChainManager{logger: logger.Named("nwfilter.chains"), host: host, ipt: ipt}
}

// ensureBaseChains creates and links the four process-wide base chains,
// idempotently, for the given iptables backend.
func (m *ChainManager) ensureBaseChains(ipt effector.IPTables) error {
	for _, c := range []string{baseLibvirtIn, baseLibvirtOut, baseLibvirtInPost, baseLibvirtHostIn} {
		if _, err := ipt.EnsureChain("filter", c); err != nil {
			return fmt.Errorf("ensure base chain %s: %w", c, err)
		}
	}
	if err := ipt.LinkChain("filter", "FORWARD", baseLibvirtIn, 1); err != nil {
		return fmt.Errorf("link %s: %w", baseLibvirtIn, err)
	}
	if err := ipt.LinkChain("filter", "FORWARD", baseLibvirtOut, 2); err != nil {
		return fmt.Errorf("link %s: %w", baseLibvirtOut, err)
	}
	if err := ipt.LinkChain("filter", "FORWARD", baseLibvirtInPost, 3); err != nil {
		return fmt.Errorf("link %s: %w", baseLibvirtInPost, err)
	}
	if err := ipt.LinkChain("filter", "INPUT", baseLibvirtHostIn, 1); err != nil {
		return fmt.Errorf("link %s: %w", baseLibvirtHostIn, err)
	}
	return nil
}

// ebtables shells out to the ebtables binary, since no ebtables Go binding
// exists anywhere in the retrieved corpus; %c/%s placeholders are already
// substituted by the caller before Spawn is invoked.
func (m *ChainManager) ebtables(args ...string) error {
	_, err := m.host.Spawn(append([]string{"ebtables"}, args...))
	return err
}

func (m *ChainManager) ebtablesNewChain(chain string) error {
	return m.ebtables("-t", "nat", "-N", chain)
}

func (m *ChainManager) ebtablesDeleteChain(chain string) error {
	_ = m.ebtables("-t", "nat", "-F", chain)
	return m.ebtables("-t", "nat", "-X", chain)
}

// needed classifies which chains a compiled rule set requires, keyed by
// backend and chain role, using a set to dedupe across many rule instances.
type needed struct {
	l2Protos    *set.Set[string]
	ipv4Dirs    *set.Set[posCode]
	ipv6Dirs    *set.Set[posCode]
}

func classify(instances []Instance) needed {
	n := needed{
		l2Protos: set.New[string](3),
		ipv4Dirs: set.New[posCode](2),
		ipv6Dirs: set.New[posCode](2),
	}
	for _, inst := range instances {
		switch inst.Backend {
		case BackendEB:
			n.l2Protos.Insert("ipv4") // layer-2 instances are protocol-family agnostic at the ebtables level; ipv4 sub-chain always provisioned
		case BackendIPv4:
			n.ipv4Dirs.Insert(tempPosFor(inst))
		case BackendIPv6:
			n.ipv6Dirs.Insert(tempPosFor(inst))
		}
	}
	return n
}

func tempPosFor(inst Instance) posCode {
	if inst.Chain == RootHostOutTemp {
		return posTempOut
	}
	return posTempIn
}

// Apply implements the shadow-chain-swap apply protocol for ifname against sorted
// instances (by Priority ascending). Failure at any step unwinds everything
// already created on the host, in LIFO order, and leaves the previous live
// chain tree untouched.
func (m *ChainManager) Apply(ifname string, instances []Instance) error {
	sorted := append([]Instance(nil), instances...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	n := classify(sorted)

	var created []func() error // LIFO teardown actions already committed

	fail := func(step string, err error) error {
		for i := len(created) - 1; i >= 0; i-- {
			if uerr := created[i](); uerr != nil {
				m.logger.Warn("nwfilter unwind step failed", "step", i, "error", uerr)
			}
		}
		return xerr.Wrap(xerr.KindFirewallBuildFailed, "apply nwfilter rules", err).
			WithInterface(ifname).WithStep(step)
	}

	// Step 1: prepare temp tree. Remove stale temp chains unconditionally
	// first (tolerating absence), then create what this rule set needs.
	m.removeTempTree(ifname)

	if !n.l2Protos.Empty() {
		tempIn := rootChainName(ifname, ChainForward, posTempIn)
		tempOut := rootChainName(ifname, ChainForward, posTempOut)
		if err := m.ebtablesNewChain(tempIn); err != nil {
			return fail("tear_tmpeb", err)
		}
		created = append(created, func() error { return m.ebtablesDeleteChain(tempIn) })
		if err := m.ebtablesNewChain(tempOut); err != nil {
			return fail("tear_tmpeb", err)
		}
		created = append(created, func() error { return m.ebtablesDeleteChain(tempOut) })

		for _, proto := range l2ProtoOrder {
			if !n.l2Protos.Contains(proto) {
				continue
			}
			for _, root := range []string{tempIn, tempOut} {
				sub := subChainName(root, proto)
				if err := m.ebtablesNewChain(sub); err != nil {
					return fail("tear_tmpeb", err)
				}
				created = append(created, func(s string) func() error {
					return func() error { return m.ebtablesDeleteChain(s) }
				}(sub))
			}
		}
	}

	// Step 2: install rules. Layer-2 first, then layer-3 per backend.
	for _, inst := range sorted {
		if inst.Backend != BackendEB {
			continue
		}
		root := rootChainName(ifname, ChainForward, tempPosFor(inst))
		chain := subChainName(root, "ipv4")
		args := append([]string{"-t", "nat", "-A", chain}, splitArgs(substitutePlaceholders(inst.Template, "A", ""))...)
		if err := m.ebtables(args...); err != nil {
			return fail("tear_tmpeb", err)
		}
	}

	for _, backend := range []Backend{BackendIPv4, BackendIPv6} {
		dirs := n.ipv4Dirs
		step := "tear_tmpipt"
		if backend == BackendIPv6 {
			dirs = n.ipv6Dirs
			step = "tear_tmpip6t"
		}
		if dirs.Empty() {
			continue
		}
		ipt, ok := m.ipt[backend]
		if !ok {
			return fail(step, fmt.Errorf("no %s backend configured", backend))
		}
		if err := m.ensureBaseChains(ipt); err != nil {
			return fail(step, err)
		}

		for _, pos := range dirs.Slice() {
			chain := rootChainName(ifname, ChainForward, pos)
			if _, err := ipt.EnsureChain("filter", chain); err != nil {
				return fail(step, err)
			}
			created = append(created, func(c string, i effector.IPTables) func() error {
				return func() error { return i.ClearAndDeleteChain("filter", c) }
			}(chain, ipt))

			base := baseLibvirtIn
			if pos == posTempOut {
				base = baseLibvirtOut
			}
			if err := ipt.Append("filter", base, "-m", "physdev", "--physdev-in", ifname, "-j", chain); err != nil {
				return fail(step, err)
			}
			created = append(created, func(b, c string, i effector.IPTables) func() error {
				return func() error {
					return i.DeleteIfExists("filter", b, "-m", "physdev", "--physdev-in", ifname, "-j", c)
				}
			}(base, chain, ipt))
			if err := ipt.AppendUnique("filter", baseLibvirtInPost, "-m", "physdev", "--physdev-in", ifname, "-j", "ACCEPT"); err != nil {
				return fail(step, err)
			}
		}

		for _, inst := range sorted {
			if inst.Backend != backend {
				continue
			}
			chain := rootChainName(ifname, inst.Role, tempPosFor(inst))
			args := splitArgs(substitutePlaceholders(inst.Template, "A", ""))
			if err := ipt.Append("filter", chain, args...); err != nil {
				return fail(step, err)
			}
		}
	}

	// Step 3 & 4: commit (link temp L2 root from PREROUTING/POSTROUTING) and
	// swap (unlink+remove live, rename temp to live) happen together here.
	// A failed commit link unwinds the whole apply; the swap commands that
	// follow are best-effort and their errors are ignored.
	if !n.l2Protos.Empty() {
		tempIn := rootChainName(ifname, ChainForward, posTempIn)
		tempOut := rootChainName(ifname, ChainForward, posTempOut)
		if err := m.ebtables("-t", "nat", "-A", "PREROUTING", "-i", ifname, "-j", tempIn); err != nil {
			return fail("tear_ebsubchains_and_unlink", err)
		}
		created = append(created, func() error {
			return m.ebtables("-t", "nat", "-D", "PREROUTING", "-i", ifname, "-j", tempIn)
		})
		if err := m.ebtables("-t", "nat", "-A", "POSTROUTING", "-o", ifname, "-j", tempOut); err != nil {
			return fail("tear_ebsubchains_and_unlink", err)
		}

		liveIn := rootChainName(ifname, ChainForward, posLiveIn)
		liveOut := rootChainName(ifname, ChainForward, posLiveOut)
		_ = m.ebtables("-t", "nat", "-D", "PREROUTING", "-i", ifname, "-j", liveIn)
		_ = m.ebtables("-t", "nat", "-D", "POSTROUTING", "-o", ifname, "-j", liveOut)
		_ = m.ebtablesDeleteChain(liveIn)
		_ = m.ebtablesDeleteChain(liveOut)
		_ = m.ebtablesRename(tempIn, liveIn)
		_ = m.ebtablesRename(tempOut, liveOut)
	}

	for _, backend := range []Backend{BackendIPv4, BackendIPv6} {
		dirs := n.ipv4Dirs
		if backend == BackendIPv6 {
			dirs = n.ipv6Dirs
		}
		ipt, ok := m.ipt[backend]
		if !ok {
			continue
		}
		for _, pos := range dirs.Slice() {
			temp := rootChainName(ifname, ChainForward, pos)
			livePos := posLiveIn
			if pos == posTempOut {
				livePos = posLiveOut
			}
			live := rootChainName(ifname, ChainForward, livePos)
			_ = ipt.ClearAndDeleteChain("filter", live)
			_ = ipt.RenameChain("filter", temp, live)
		}
	}

	return nil
}

func (m *ChainManager) ebtablesRename(old, newName string) error {
	return m.ebtables("-t", "nat", "-E", old, newName)
}

// removeTempTree unconditionally removes any stale temp chains for ifname,
// tolerating their absence — step 1's "unconditionally remove" clause.
func (m *ChainManager) removeTempTree(ifname string) {
	tempIn := rootChainName(ifname, ChainForward, posTempIn)
	tempOut := rootChainName(ifname, ChainForward, posTempOut)
	for _, proto := range l2ProtoOrder {
		_ = m.ebtablesDeleteChain(subChainName(tempIn, proto))
		_ = m.ebtablesDeleteChain(subChainName(tempOut, proto))
	}
	_ = m.ebtablesDeleteChain(tempIn)
	_ = m.ebtablesDeleteChain(tempOut)

	for _, ipt := range m.ipt {
		_ = ipt.ClearAndDeleteChain("filter", rootChainName(ifname, ChainForward, posTempIn))
		_ = ipt.ClearAndDeleteChain("filter", rootChainName(ifname, ChainForward, posTempOut))
	}
}

// TeardownOld is called after a successful swap. Apply already deletes the
// old live chains before renaming the temps into their place, so TeardownOld
// removes nothing; it only logs.
func (m *ChainManager) TeardownOld(ifname string) {
	// The rename in Apply already consumes the old live chain names, so
	// nothing further is owed here beyond logging; kept as a distinct,
	// named operation to mirror the protocol's own step list.
	m.logger.Debug("nwfilter teardown-old", "interface", ifname)
}

// AllTeardown unconditionally removes every root/sub/temp chain ifname could
// own across all three backends, plus its virt-in-post pin. It must not fail
// even if nothing exists — every removal is best-effort.
func (m *ChainManager) AllTeardown(ifname string) {
	for _, role := range []ChainRole{ChainForward, ChainHostIn} {
		for _, pos := range []posCode{posLiveIn, posLiveOut, posTempIn, posTempOut} {
			if role == ChainHostIn && (pos == posLiveOut || pos == posTempOut) {
				continue
			}
			chain := rootChainName(ifname, role, pos)
			for _, proto := range l2ProtoOrder {
				_ = m.ebtablesDeleteChain(subChainName(chain, proto))
			}
			_ = m.ebtablesDeleteChain(chain)
			for _, ipt := range m.ipt {
				_ = ipt.ClearAndDeleteChain("filter", chain)
			}
		}
	}
	for _, ipt := range m.ipt {
		_ = ipt.DeleteIfExists("filter", baseLibvirtInPost, "-m", "physdev", "--physdev-in", ifname, "-j", "ACCEPT")
	}
}

func substitutePlaceholders(template, op, pos string) string {
	out := make([]byte, 0, len(template))
	for i := 0; i < len(template); i++ {
		if template[i] == '%' && i+1 < len(template) {
			switch template[i+1] {
			case 'c':
				out = append(out, op...)
				i++
				continue
			case 's':
				out = append(out, pos...)
				i++
				continue
			}
		}
		out = append(out, template[i])
	}
	return string(out)
}

func splitArgs(s string) []string {
	var out []string
	var cur []byte
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, s[i])
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
