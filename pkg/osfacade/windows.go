//go:build windows

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
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/udsactor/agent/pkg/broker"
	"github.com/udsactor/agent/pkg/netinfo"
)

const transparentPixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

// rdpGroup is the local group BUILTIN alias granting Remote Desktop logon
// rights on Windows.
const rdpGroup = "Remote Desktop Users"

var (
	netapi32               = windows.NewLazySystemDLL("netapi32.dll")
	procNetJoinDomain      = netapi32.NewProc("NetJoinDomain")
	procSetComputerNameExW = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetComputerNameExW")
)

const computerNamePhysicalDNSHostname = 5

// Windows implements OS for Windows hosts via x/sys/windows and a handful
// of net.exe/wmic fallbacks for the pieces x/sys does not wrap directly.
type Windows struct{}

// New returns the platform OS facade.
func New() OS { return &Windows{} }

func (w *Windows) ComputerName() (string, error) {
	return windows.ComputerName()
}

func (w *Windows) RenameComputer(name string) error {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return fmt.Errorf("osfacade: encode computer name: %w", err)
	}
	ret, _, err := procSetComputerNameExW.Call(
		uintptr(computerNamePhysicalDNSHostname),
		uintptr(unsafe.Pointer(namePtr)),
	)
	if ret == 0 {
		return fmt.Errorf("osfacade: SetComputerNameEx: %w", err)
	}
	return nil
}

func (w *Windows) DomainName() (string, error) {
	var buf *uint16
	var bufType uint32
	if err := windows.NetGetJoinInformation(nil, &buf, &bufType); err != nil {
		return "", nil
	}
	defer windows.NetApiBufferFree(buf)

	// NetSetupDomainName == 3; anything else (workgroup, unjoined) reports
	// no domain.
	if bufType != 3 {
		return "", nil
	}
	return windows.UTF16PtrToString(buf), nil
}

func (w *Windows) JoinDomain(opts JoinDomainOptions) error {
	domainPtr, _ := windows.UTF16PtrFromString(opts.Domain)
	accountPtr, _ := windows.UTF16PtrFromString(opts.Account)
	passwordPtr, _ := windows.UTF16PtrFromString(opts.Password)
	var ouPtr *uint16
	if opts.OU != "" {
		ouPtr, _ = windows.UTF16PtrFromString(opts.OU)
	}

	const (
		njJoinDomain         = 0x00000001
		njAcctCreate         = 0x00000002
		njDomainJoinIfJoined = 0x00000020
	)

	ret, _, err := procNetJoinDomain.Call(
		0, // local machine
		uintptr(unsafe.Pointer(domainPtr)),
		uintptr(unsafe.Pointer(ouPtr)),
		uintptr(unsafe.Pointer(accountPtr)),
		uintptr(unsafe.Pointer(passwordPtr)),
		uintptr(njJoinDomain|njAcctCreate|njDomainJoinIfJoined),
	)
	if ret != 0 {
		return fmt.Errorf("osfacade: NetJoinDomain: %w (code %d)", err, ret)
	}
	return nil
}

func (w *Windows) Reboot() error {
	if err := windows.InitiateSystemShutdownEx(nil, nil, 0, true, true, 0); err != nil {
		return fmt.Errorf("osfacade: InitiateSystemShutdownEx: %w", err)
	}
	return nil
}

func (w *Windows) ForceTimeSync() error {
	return runQuiet("w32tm", "/resync", "/force")
}

func (w *Windows) IsInstallationInProgress() (bool, error) {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		"(Get-WmiObject -Class Win32_Process -Filter \"Name='msiexec.exe'\").Count").Output()
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(string(out)) != "0" && strings.TrimSpace(string(out)) != "", nil
}

func (w *Windows) NetworkInfo() ([]broker.InterfaceInfo, error) {
	return netinfo.List()
}

func (w *Windows) EnsureRDPAccess(username string) error {
	if username == "" {
		return fmt.Errorf("osfacade: empty username")
	}
	return runQuiet("net", "localgroup", rdpGroup, username, "/add")
}

// InitIdle is a no-op on Windows: GetLastInputInfo needs no prior setup,
// unlike the X11 connection the Linux probe establishes once up front.
func (w *Windows) InitIdle() error {
	return nil
}

func (w *Windows) IdleDuration() (time.Duration, error) {
	var info struct {
		CbSize uint32
		DwTime uint32
	}
	info.CbSize = uint32(unsafe.Sizeof(info))

	user32 := windows.NewLazySystemDLL("user32.dll")
	proc := user32.NewProc("GetLastInputInfo")
	ret, _, _ := proc.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0, fmt.Errorf("osfacade: GetLastInputInfo failed")
	}

	tickCount := windows.GetTickCount()
	idleMillis := tickCount - info.DwTime
	return time.Duration(idleMillis) * time.Millisecond, nil
}

func (w *Windows) CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("osfacade: current user: %w", err)
	}
	return u.Username, nil
}

func (w *Windows) SessionType() (string, error) {
	return "rdp", nil
}

func (w *Windows) Logoff() error {
	return windows.ExitWindowsEx(0 /* EWX_LOGOFF */, 0)
}

func (w *Windows) Screenshot() (string, error) {
	tmp, err := os.CreateTemp("", "udsactor-shot-*.png")
	if err != nil {
		return transparentPixelPNG, nil
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	script := fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms,System.Drawing
$bounds = [System.Windows.Forms.Screen]::PrimaryScreen.Bounds
$bmp = New-Object System.Drawing.Bitmap $bounds.Width, $bounds.Height
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen($bounds.Location, [System.Drawing.Point]::Empty, $bounds.Size)
$bmp.Save('%s', [System.Drawing.Imaging.ImageFormat]::Png)
`, path)

	if err := runQuiet("powershell", "-NoProfile", "-Command", script); err != nil {
		return transparentPixelPNG, nil
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return transparentPixelPNG, nil
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (w *Windows) ShowMessage(text string) error {
	script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.MessageBox]::Show(%q, 'UDS Actor')`, text)
	return runQuiet("powershell", "-NoProfile", "-Command", script)
}

func (w *Windows) RunScript(scriptType, script string) (string, error) {
	interpreter := "powershell"
	args := []string{"-NoProfile", "-Command", script}
	if strings.EqualFold(scriptType, "cmd") {
		interpreter = "cmd"
		args = []string{"/C", script}
	}

	cmd := exec.Command(interpreter, args...)
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
