package workers

import (
	"fmt"
	"os/exec"
	"strings"
)

// RDPAccessGranter ensures a username is a member of the OS's RDP-allowed
// group. Implemented by pkg/osfacade for the real platforms; nil-safe so a
// facade that doesn't support it on non-Windows targets can leave it unset.
type RDPAccessGranter interface {
	EnsureRDPAccess(username string) error
}

// NewPreConnectHook builds the function rpcserver.Server.SetPreConnectHook
// installs: if protocol is "rdp", ensure the named user belongs to the
// RDP-allowed group; unconditionally run customCommand (if non-empty) with
// user/protocol/ip substituted for "%u"/"%p"/"%i", matching spec.md §4.6's
// "always invoke the configured pre-connect command".
func NewPreConnectHook(granter RDPAccessGranter, customCommand []string) func(user, protocol, ip string) error {
	return func(user, protocol, ip string) error {
		var errs []string

		if strings.EqualFold(protocol, "rdp") && granter != nil {
			if err := granter.EnsureRDPAccess(user); err != nil {
				errs = append(errs, fmt.Sprintf("rdp access: %v", err))
			}
		}

		if len(customCommand) > 0 {
			args := make([]string, len(customCommand))
			for i, a := range customCommand {
				a = strings.ReplaceAll(a, "%u", user)
				a = strings.ReplaceAll(a, "%p", protocol)
				a = strings.ReplaceAll(a, "%i", ip)
				args[i] = a
			}
			cmd := exec.Command(args[0], args[1:]...) //nolint:gosec // operator-configured command, same trust boundary as the service itself
			if err := cmd.Run(); err != nil {
				errs = append(errs, fmt.Sprintf("preconnect command: %v", err))
			}
		}

		if len(errs) > 0 {
			return fmt.Errorf("preconnect: %s", strings.Join(errs, "; "))
		}
		return nil
	}
}
