//go:build linux

package osfacade

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/udsactor/agent/pkg/broker"
	"github.com/udsactor/agent/pkg/netinfo"
)

// transparentPixelPNG is the 1x1 transparent PNG returned by Screenshot
// when no capture tool is installed, so the broker-facing bridge never
// times out due to the user-agent being unable to capture.
const transparentPixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

// rdpGroup is the local group membership that grants RDP login rights,
// mirroring the original's Linux RDP (xrdp) access model.
const rdpGroup = "xrdp"

// Linux implements OS for Linux hosts, shelling out to the standard
// distro-agnostic tools (hostnamectl, realm, systemctl, loginctl,
// usermod) rather than linking against any single distribution's native
// APIs.
type Linux struct{}

// New returns the platform OS facade.
func New() OS { return &Linux{} }

func (l *Linux) ComputerName() (string, error) {
	return os.Hostname()
}

func (l *Linux) RenameComputer(name string) error {
	return runQuiet("hostnamectl", "set-hostname", name)
}

func (l *Linux) DomainName() (string, error) {
	out, err := exec.Command("realm", "list").Output()
	if err != nil {
		return "", nil // realmd not installed: not domain-joined
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "domain-name:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "domain-name:")), nil
		}
	}
	return "", nil
}

func (l *Linux) JoinDomain(opts JoinDomainOptions) error {
	args := []string{"join", "-U", opts.Account}
	if opts.OU != "" {
		args = append(args, "--computer-ou", opts.OU)
	}
	args = append(args, opts.Domain)

	cmd := exec.Command("realm", args...)
	cmd.Stdin = strings.NewReader(opts.Password + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("osfacade: realm join: %w: %s", err, stderr.String())
	}
	return nil
}

func (l *Linux) Reboot() error {
	return runQuiet("systemctl", "reboot")
}

func (l *Linux) ForceTimeSync() error {
	return runQuiet("timedatectl", "set-ntp", "true")
}

func (l *Linux) IsInstallationInProgress() (bool, error) {
	for _, lock := range []string{"/var/lib/dpkg/lock-frontend", "/var/lib/rpm/.rpm.lock"} {
		if locked, err := fileLocked(lock); err == nil && locked {
			return true, nil
		}
	}
	return false, nil
}

func (l *Linux) NetworkInfo() ([]broker.InterfaceInfo, error) {
	return netinfo.List()
}

func (l *Linux) EnsureRDPAccess(username string) error {
	if username == "" {
		return fmt.Errorf("osfacade: empty username")
	}
	return runQuiet("usermod", "-aG", rdpGroup, username)
}

// InitIdle establishes the idle probe's connection once, before the idle
// loop starts polling IdleDuration.
func (l *Linux) InitIdle() error {
	return linuxIdleProbe.init()
}

func (l *Linux) IdleDuration() (time.Duration, error) {
	return linuxIdleProbe.query()
}

func (l *Linux) CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("osfacade: current user: %w", err)
	}
	return u.Username, nil
}

func (l *Linux) SessionType() (string, error) {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return "wayland", nil
	}
	if os.Getenv("DISPLAY") != "" {
		return "x11", nil
	}
	return "console", nil
}

func (l *Linux) Logoff() error {
	u, err := l.CurrentUser()
	if err != nil {
		return err
	}
	linuxIdleProbe.Close()
	return runQuiet("loginctl", "terminate-user", u)
}

func (l *Linux) Screenshot() (string, error) {
	tool, args, ok := screenshotCommand()
	if !ok {
		return transparentPixelPNG, nil
	}

	tmp, err := os.CreateTemp("", "udsactor-shot-*.png")
	if err != nil {
		return transparentPixelPNG, nil
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	cmd := exec.Command(tool, append(args, path)...)
	if err := cmd.Run(); err != nil {
		return transparentPixelPNG, nil
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return transparentPixelPNG, nil
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func screenshotCommand() (tool string, args []string, ok bool) {
	if path, err := exec.LookPath("scrot"); err == nil {
		return path, nil, true
	}
	if path, err := exec.LookPath("import"); err == nil {
		return path, []string{"-window", "root"}, true
	}
	return "", nil, false
}

func (l *Linux) ShowMessage(text string) error {
	if path, err := exec.LookPath("zenity"); err == nil {
		return runQuiet(path, "--info", "--text", text)
	}
	if path, err := exec.LookPath("notify-send"); err == nil {
		return runQuiet(path, "UDS Actor", text)
	}
	return fmt.Errorf("osfacade: no dialog tool available")
}

func (l *Linux) RunScript(scriptType, script string) (string, error) {
	interpreter := "/bin/sh"
	switch strings.ToLower(scriptType) {
	case "python", "python3":
		interpreter = "python3"
	case "bash":
		interpreter = "/bin/bash"
	}

	cmd := exec.Command(interpreter)
	cmd.Stdin = strings.NewReader(script)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("osfacade: run script: %w", err)
	}
	return out.String(), nil
}

func runQuiet(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("osfacade: %s: %w: %s", name, err, stderr.String())
	}
	return nil
}

func fileLocked(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	return tryFlock(f)
}
