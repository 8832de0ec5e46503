package osfacade

import (
	"time"

	"github.com/udsactor/agent/pkg/broker"
)

// Mock is a hand-rolled fake implementing OS for tests, in the teacher's
// style of writing dummy/fake structs directly rather than generating
// mocks. Every method first records its call name in Calls, then returns
// whatever field was preset (or a zero value / nil error).
type Mock struct {
	Calls []string

	Hostname          string
	Domain            string
	NetworkInterfaces []broker.InterfaceInfo
	Installing        bool
	IdleFor           time.Duration
	User              string
	Session           string
	ScreenshotResult  string
	ScriptOutput      string

	RenameErr    error
	JoinErr      error
	RebootErr    error
	TimeSyncErr  error
	RDPAccessErr error
	InitIdleErr  error
	LogoffErr    error
	MessageErr   error
	ScriptErr    error

	LastRenamedTo string
	LastJoinedTo  JoinDomainOptions
	LastRDPUser   string
	LastMessage   string
	LastScript    string
}

// NewMock returns an empty Mock ready to be configured by the test.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) record(name string) { m.Calls = append(m.Calls, name) }

func (m *Mock) ComputerName() (string, error) {
	m.record("ComputerName")
	return m.Hostname, nil
}

func (m *Mock) RenameComputer(name string) error {
	m.record("RenameComputer")
	m.LastRenamedTo = name
	if m.RenameErr == nil {
		m.Hostname = name
	}
	return m.RenameErr
}

func (m *Mock) DomainName() (string, error) {
	m.record("DomainName")
	return m.Domain, nil
}

func (m *Mock) JoinDomain(opts JoinDomainOptions) error {
	m.record("JoinDomain")
	m.LastJoinedTo = opts
	if m.JoinErr == nil {
		m.Domain = opts.Domain
	}
	return m.JoinErr
}

func (m *Mock) Reboot() error {
	m.record("Reboot")
	return m.RebootErr
}

func (m *Mock) ForceTimeSync() error {
	m.record("ForceTimeSync")
	return m.TimeSyncErr
}

func (m *Mock) IsInstallationInProgress() (bool, error) {
	m.record("IsInstallationInProgress")
	return m.Installing, nil
}

func (m *Mock) NetworkInfo() ([]broker.InterfaceInfo, error) {
	m.record("NetworkInfo")
	return m.NetworkInterfaces, nil
}

func (m *Mock) EnsureRDPAccess(username string) error {
	m.record("EnsureRDPAccess")
	m.LastRDPUser = username
	return m.RDPAccessErr
}

func (m *Mock) InitIdle() error {
	m.record("InitIdle")
	return m.InitIdleErr
}

func (m *Mock) IdleDuration() (time.Duration, error) {
	m.record("IdleDuration")
	return m.IdleFor, nil
}

func (m *Mock) CurrentUser() (string, error) {
	m.record("CurrentUser")
	return m.User, nil
}

func (m *Mock) SessionType() (string, error) {
	m.record("SessionType")
	return m.Session, nil
}

func (m *Mock) Logoff() error {
	m.record("Logoff")
	return m.LogoffErr
}

func (m *Mock) Screenshot() (string, error) {
	m.record("Screenshot")
	return m.ScreenshotResult, nil
}

func (m *Mock) ShowMessage(text string) error {
	m.record("ShowMessage")
	m.LastMessage = text
	return m.MessageErr
}

func (m *Mock) RunScript(scriptType, script string) (string, error) {
	m.record("RunScript")
	m.LastScript = script
	return m.ScriptOutput, m.ScriptErr
}
