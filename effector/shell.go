// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build linux

package effector

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
)

const ipForwardSwitchPath = "/proc/sys/net/ipv4/ip_forward"

// ShellHost implements Host by shelling to `ip` for bridge/interface state,
// favouring `exec.Command` over a netlink binding.
type ShellHost struct {
	logger hclog.Logger
	ipPath string
}

// NewShellHost returns a ShellHost, resolving the `ip` binary on PATH once up
// front.
func NewShellHost(logger hclog.Logger) (*ShellHost, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ipPath, err := exec.LookPath("ip")
	if err != nil {
		return nil, fmt.Errorf("effector: ip command not found on PATH: %w", err)
	}
	return &ShellHost{logger: logger.Named("effector"), ipPath: ipPath}, nil
}

func (h *ShellHost) run(args ...string) (string, error) {
	out, err := exec.Command(h.ipPath, args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("ip %s: %w (output: %s)", strings.Join(args, " "), err, trimmed)
	}
	return trimmed, nil
}

// Add creates a bridge device.
func (h *ShellHost) Add(name string) error {
	if h.Has(name) {
		return fmt.Errorf("effector: bridge %s already exists", name)
	}
	_, err := h.run("link", "add", "name", name, "type", "bridge")
	return err
}

// Del destroys a bridge device, tolerating its absence.
func (h *ShellHost) Del(name string) error {
	if !h.Has(name) {
		return nil
	}
	_, err := h.run("link", "del", name)
	return err
}

// SetSTP toggles the bridge's spanning-tree-protocol flag via sysfs, the way
// brctl historically did and `ip` does not expose directly.
func (h *ShellHost) SetSTP(name string, on bool) error {
	val := "0"
	if on {
		val = "1"
	}
	return os.WriteFile(filepath.Join("/sys/class/net", name, "bridge/stp_state"), []byte(val), 0o644)
}

// SetForwardDelay writes the bridge forward_delay sysfs attribute, expressed
// in the kernel's centisecond units.
func (h *ShellHost) SetForwardDelay(name string, seconds int) error {
	centis := strconv.Itoa(seconds * 100)
	return os.WriteFile(filepath.Join("/sys/class/net", name, "bridge/forward_delay"), []byte(centis), 0o644)
}

// SetInetAddr adds an address to the interface. An identical address that is
// already assigned is tolerated; other existing addresses are left in place.
func (h *ShellHost) SetInetAddr(name, ip string) error {
	_, err := h.run("addr", "add", ip, "dev", name)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "file exists") {
		return nil
	}
	return err
}

// SetNetmask is folded into SetInetAddr for `ip`, which takes address and
// prefix together; kept as a distinct step so callers can unwind it separately
// even though it is a no-op for this backend.
func (h *ShellHost) SetNetmask(name, mask string) error {
	return nil
}

// SetUp brings the interface administratively up or down.
func (h *ShellHost) SetUp(name string, up bool) error {
	state := "down"
	if up {
		state = "up"
	}
	_, err := h.run("link", "set", name, state)
	return err
}

// Has reports whether the named interface exists.
func (h *ShellHost) Has(name string) bool {
	return exec.Command(h.ipPath, "link", "show", name).Run() == nil
}

// Spawn runs argv synchronously and returns its exit status.
func (h *ShellHost) Spawn(argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("effector: empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Signal delivers sig to pid, ignoring ESRCH.
func (h *ShellHost) Signal(pid int, sig os.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Signal(sig); err != nil {
		if err == syscall.ESRCH || strings.Contains(err.Error(), "process already finished") {
			return nil
		}
		return err
	}
	return nil
}

// WriteString atomically writes text to path: create-truncate, user-only
// mode, full write, close — a failed close is reported.
func (h *ShellHost) WriteString(path, text string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("effector: open %s: %w", path, err)
	}
	_, werr := f.WriteString(text)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("effector: write %s: %w", path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("effector: close %s: %w", path, cerr)
	}
	return nil
}

// ReadPID reads <dir>/<name>.pid and parses its content as a pid.
func (h *ShellHost) ReadPID(dir, name string) (int, bool, error) {
	path := filepath.Join(dir, name+".pid")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("effector: read pidfile %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("effector: parse pidfile %s: %w", path, err)
	}
	return pid, true, nil
}

// MakePath is the equivalent of `mkdir -p`.
func (h *ShellHost) MakePath(path string) error {
	return os.MkdirAll(path, 0o755)
}

// LinkPointsTo reports whether the symlink at link resolves to target.
func (h *ShellHost) LinkPointsTo(link, target string) bool {
	resolved, err := os.Readlink(link)
	if err != nil {
		return false
	}
	return resolved == target
}

// Remove deletes path, tolerating its absence.
func (h *ShellHost) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Symlink creates a symlink at link pointing to target.
func (h *ShellHost) Symlink(target, link string) error {
	_ = os.Remove(link)
	return os.Symlink(target, link)
}

// EnableIPForward writes "1\n" to the kernel's IPv4 forwarding switch.
func (h *ShellHost) EnableIPForward() error {
	return h.WriteString(ipForwardSwitchPath, "1\n")
}
