// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package effector

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// FakeHost is an in-memory Host implementation used by the lifecycle and
// chain-manager atomicity tests.
type FakeHost struct {
	mu sync.Mutex

	bridges     map[string]*fakeBridge
	pids        map[string]int // "<dir>/<name>" -> pid
	symlinks    map[string]string
	written     map[string]string
	forwardOn   bool
	spawned     [][]string
	signals     []fakeSignal
	nextSpawnOK bool

	// FailOn, when non-empty, causes the operation named here to return
	// FailErr the next time it is invoked, then clears itself. Used to
	// fault-inject a single step of a multi-step sequence.
	FailOn  string
	FailErr error
}

type fakeBridge struct {
	exists       bool
	stp          bool
	forwardDelay int
	addr         string
	mask         string
	up           bool
}

type fakeSignal struct {
	pid int
	sig os.Signal
}

// NewFakeHost returns a ready-to-use FakeHost with empty state.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		bridges:  map[string]*fakeBridge{},
		pids:     map[string]int{},
		symlinks: map[string]string{},
		written:  map[string]string{},
	}
}

// Fail arms the next call to op to fail with err.
func (f *FakeHost) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailOn = op
	f.FailErr = err
}

func (f *FakeHost) maybeFail(op string) error {
	if f.FailOn == op {
		err := f.FailErr
		f.FailOn = ""
		f.FailErr = nil
		return err
	}
	return nil
}

func (f *FakeHost) Add(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("bridge.add"); err != nil {
		return err
	}
	if b, ok := f.bridges[name]; ok && b.exists {
		return fmt.Errorf("bridge %s already exists", name)
	}
	f.bridges[name] = &fakeBridge{exists: true, stp: true}
	return nil
}

func (f *FakeHost) Del(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("bridge.del"); err != nil {
		return err
	}
	delete(f.bridges, name)
	return nil
}

func (f *FakeHost) SetSTP(name string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("bridge.set_stp"); err != nil {
		return err
	}
	if b, ok := f.bridges[name]; ok {
		b.stp = on
	}
	return nil
}

func (f *FakeHost) SetForwardDelay(name string, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("bridge.set_forward_delay"); err != nil {
		return err
	}
	if b, ok := f.bridges[name]; ok {
		b.forwardDelay = seconds
	}
	return nil
}

func (f *FakeHost) SetInetAddr(name, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("bridge.set_inet_addr"); err != nil {
		return err
	}
	if b, ok := f.bridges[name]; ok {
		b.addr = ip
	}
	return nil
}

func (f *FakeHost) SetNetmask(name, mask string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("bridge.set_netmask"); err != nil {
		return err
	}
	if b, ok := f.bridges[name]; ok {
		b.mask = mask
	}
	return nil
}

func (f *FakeHost) SetUp(name string, up bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("bridge.set_up"); err != nil {
		return err
	}
	if b, ok := f.bridges[name]; ok {
		b.up = up
	}
	return nil
}

func (f *FakeHost) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bridges[name]
	return ok && b.exists
}

func (f *FakeHost) Spawn(argv []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("proc.spawn"); err != nil {
		return -1, err
	}
	f.spawned = append(f.spawned, argv)
	return 0, nil
}

func (f *FakeHost) Signal(pid int, sig os.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("proc.signal"); err != nil {
		return err
	}
	f.signals = append(f.signals, fakeSignal{pid: pid, sig: sig})
	return nil
}

func (f *FakeHost) WriteString(path, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("fs.write_string"); err != nil {
		return err
	}
	f.written[path] = text
	return nil
}

func (f *FakeHost) ReadPID(dir, name string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("fs.read_pid"); err != nil {
		return 0, false, err
	}
	pid, ok := f.pids[dir+"/"+name]
	return pid, ok, nil
}

// SetPID seeds the pid a subsequent ReadPID call will return, simulating the
// DHCP helper having written its pidfile.
func (f *FakeHost) SetPID(dir, name string, pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pids[dir+"/"+name] = pid
}

func (f *FakeHost) MakePath(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maybeFail("fs.make_path")
}

func (f *FakeHost) LinkPointsTo(link, target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symlinks[link] == target
}

func (f *FakeHost) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("fs.remove"); err != nil {
		return err
	}
	delete(f.written, path)
	delete(f.symlinks, path)
	return nil
}

func (f *FakeHost) Symlink(target, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("fs.symlink"); err != nil {
		return err
	}
	f.symlinks[link] = target
	return nil
}

func (f *FakeHost) EnableIPForward() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail("forward.enable"); err != nil {
		return err
	}
	f.forwardOn = true
	return nil
}

// ForwardEnabled reports whether EnableIPForward has been called.
func (f *FakeHost) ForwardEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forwardOn
}

// Spawned returns every argv passed to Spawn, in call order.
func (f *FakeHost) Spawned() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.spawned))
	copy(out, f.spawned)
	return out
}

// WrittenFiles returns a copy of path -> content for every
// WriteString call still "on disk" (not subsequently Removed).
func (f *FakeHost) WrittenFiles() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.written))
	for k, v := range f.written {
		out[k] = v
	}
	return out
}

// Snapshot captures host state relevant to the atomicity properties (bridge
// presence, forwarding switch, written files, spawn and signal counts) for
// before/after comparison in tests.
func (f *FakeHost) Snapshot() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.bridges))
	for name, b := range f.bridges {
		if b.exists {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	paths := make([]string, 0, len(f.written))
	for p := range f.written {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var sb strings.Builder
	fmt.Fprintf(&sb, "bridges=%v forward=%v written=%v spawned=%d signals=%d",
		names, f.forwardOn, paths, len(f.spawned), len(f.signals))
	return sb.String()
}
