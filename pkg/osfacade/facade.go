// Package osfacade is the single polymorphic seam between the lifecycle
// and worker code and the underlying operating system: rename, domain
// join, reboot, time sync, installer-in-progress probing, network
// enumeration, RDP group membership, and the user-agent-side desktop
// actions (screenshot, message box, script execution, logoff).
package osfacade

import (
	"time"

	"github.com/udsactor/agent/pkg/broker"
)

// JoinDomainOptions carries the fields the broker's `custom` JSON payload
// may set for a JoinDomain OS action.
type JoinDomainOptions struct {
	Domain             string
	Account            string
	Password           string
	OU                 string
	ClientSoftware     string
	ServerSoftware     string
	MembershipSoftware string
	SSL                *bool
	AutomaticIDMapping *bool
}

// OS is the full capability surface the service and user-agent sides need
// from the host. A concrete implementation never needs to satisfy every
// method from both sides at once in practice — the service embeds it for
// lifecycle/rename/join/network duties, the user-agent embeds it for the
// desktop-facing duties (screenshot/message/script/logoff) and RDP group
// membership — but one interface keeps a single facade type per platform.
type OS interface {
	ComputerName() (string, error)
	RenameComputer(name string) error
	DomainName() (string, error)
	JoinDomain(opts JoinDomainOptions) error
	Reboot() error
	ForceTimeSync() error
	IsInstallationInProgress() (bool, error)
	NetworkInfo() ([]broker.InterfaceInfo, error)

	EnsureRDPAccess(username string) error

	InitIdle() error
	IdleDuration() (time.Duration, error)
	CurrentUser() (string, error)
	SessionType() (string, error)
	Logoff() error
	Screenshot() (string, error)
	ShowMessage(text string) error
	RunScript(scriptType, script string) (string, error)
}
