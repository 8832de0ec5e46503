package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/udsactor/agent/pkg/osfacade"
)

// parseJoinDomainOptions decodes the broker's free-form `custom` JSON
// payload for a JoinDomain OS action into the osfacade's typed options.
func parseJoinDomainOptions(custom json.RawMessage) (osfacade.JoinDomainOptions, error) {
	if len(custom) == 0 {
		return osfacade.JoinDomainOptions{}, fmt.Errorf("lifecycle: join domain requires custom data")
	}

	var raw struct {
		Domain             string `json:"domain"`
		Account            string `json:"account"`
		Password           string `json:"password"`
		OU                 string `json:"ou"`
		ClientSoftware     string `json:"client_software"`
		ServerSoftware     string `json:"server_software"`
		MembershipSoftware string `json:"membership_software"`
		SSL                *bool  `json:"ssl"`
		AutomaticIDMapping *bool  `json:"automatic_id_mapping"`
	}
	if err := json.Unmarshal(custom, &raw); err != nil {
		return osfacade.JoinDomainOptions{}, fmt.Errorf("lifecycle: decode join domain custom data: %w", err)
	}

	return osfacade.JoinDomainOptions{
		Domain:             raw.Domain,
		Account:            raw.Account,
		Password:           raw.Password,
		OU:                 raw.OU,
		ClientSoftware:     raw.ClientSoftware,
		ServerSoftware:     raw.ServerSoftware,
		MembershipSoftware: raw.MembershipSoftware,
		SSL:                raw.SSL,
		AutomaticIDMapping: raw.AutomaticIDMapping,
	}, nil
}
