// Package config defines ActorConfiguration, the single persisted
// configuration blob that drives the whole agent, plus the Store
// abstraction used to load/save it on each platform.
package config

import (
	"encoding/json"
	"strings"
	"time"
)

// ActorType distinguishes a permanently-bound endpoint (Managed) from one
// whose identity is negotiated per session (Unmanaged).
type ActorType string

const (
	Managed   ActorType = "managed"
	Unmanaged ActorType = "unmanaged"
)

// ParseActorType mirrors the original's lowercase-or-unmanaged fallback.
func ParseActorType(s string) ActorType {
	switch strings.ToLower(s) {
	case "managed":
		return Managed
	case "unmanaged":
		return Unmanaged
	default:
		return Unmanaged
	}
}

// ActorOSAction is the single rename/join-domain instruction the broker
// returns from initialize, consumed once per boot.
type ActorOSAction string

const (
	OSActionNone       ActorOSAction = "none"
	OSActionRename     ActorOSAction = "rename"
	OSActionJoinDomain ActorOSAction = "joinDomain"
)

// ParseActorOSAction normalizes the broker's free-form action string.
func ParseActorOSAction(s string) ActorOSAction {
	switch strings.ToLower(s) {
	case "rename":
		return OSActionRename
	case "joindomain", "join_domain", "join-domain":
		return OSActionJoinDomain
	default:
		return OSActionNone
	}
}

// ActorOSConfiguration is the directive carried in initialize's response.
type ActorOSConfiguration struct {
	Action ActorOSAction   `json:"action" toml:"action"`
	Name   string          `json:"name" toml:"name"`
	Custom json.RawMessage `json:"custom,omitempty" toml:"custom,omitempty"`
}

// ActorDataConfiguration is the nested `config` object persisted alongside
// the rest of ActorConfiguration.
type ActorDataConfiguration struct {
	UniqueID string                `json:"unique_id,omitempty" toml:"unique_id,omitempty"`
	OS       *ActorOSConfiguration `json:"os,omitempty" toml:"os,omitempty"`
}

// ActorConfiguration is the single persisted configuration blob. Zero value
// is a usable default (Managed actor type, no token, not yet valid).
type ActorConfiguration struct {
	BrokerURL      string                   `json:"broker_url" toml:"broker_url"`
	VerifySSL      bool                     `json:"verify_ssl" toml:"verify_ssl"`
	ActorType      ActorType                `json:"actor_type" toml:"actor_type"`
	MasterToken    string                   `json:"master_token,omitempty" toml:"master_token,omitempty"`
	OwnToken       string                   `json:"own_token,omitempty" toml:"own_token,omitempty"`
	RestrictNet    string                   `json:"restrict_net,omitempty" toml:"restrict_net,omitempty"`
	PreCommand     string                   `json:"pre_command,omitempty" toml:"pre_command,omitempty"`
	RunOnceCommand string                   `json:"runonce_command,omitempty" toml:"runonce_command,omitempty"`
	PostCommand    string                   `json:"post_command,omitempty" toml:"post_command,omitempty"`
	LogLevel       int32                    `json:"log_level" toml:"log_level"`
	TimeoutSeconds uint64                   `json:"timeout,omitempty" toml:"timeout,omitempty"`
	NoProxy        bool                     `json:"no_proxy" toml:"no_proxy"`
	Config         *ActorDataConfiguration  `json:"config,omitempty" toml:"config,omitempty"`
	Data           json.RawMessage          `json:"data,omitempty" toml:"data,omitempty"`

	// Version/Build are stamped at link time, not persisted.
	Version string `json:"-" toml:"-"`
	Build   string `json:"-" toml:"-"`
}

// Default returns the zero-value configuration with ActorType explicitly
// set to Managed, matching the original's #[default] Managed.
func Default() ActorConfiguration {
	return ActorConfiguration{ActorType: Managed}
}

// Token returns master_token if present, else own_token.
func (c *ActorConfiguration) Token() string {
	if c.MasterToken != "" {
		return c.MasterToken
	}
	return c.OwnToken
}

// IsValid requires a non-empty broker URL and a non-empty token.
func (c *ActorConfiguration) IsValid() bool {
	return c.BrokerURL != "" && c.Token() != ""
}

// Timeout returns the configured API timeout, defaulting to 10s.
func (c *ActorConfiguration) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AlreadyInitialized reports whether initialize has already been called
// successfully (own_token persisted), per the Managed flow's idempotence
// requirement.
func (c *ActorConfiguration) AlreadyInitialized() bool {
	return c.OwnToken != ""
}

// UniqueID returns the broker-assigned unique id, if any.
func (c *ActorConfiguration) UniqueID() string {
	if c.Config == nil {
		return ""
	}
	return c.Config.UniqueID
}

// OSAction returns the pending OS directive, if any.
func (c *ActorConfiguration) OSAction() *ActorOSConfiguration {
	if c.Config == nil {
		return nil
	}
	return c.Config.OS
}

// ClearOSAction consumes the OS directive so it is applied at most once per
// boot cycle.
func (c *ActorConfiguration) ClearOSAction() {
	if c.Config != nil {
		c.Config.OS = nil
	}
}

// ClearRunOnce clears the run-once command after an attempt to execute it,
// regardless of whether execution succeeded.
func (c *ActorConfiguration) ClearRunOnce() {
	c.RunOnceCommand = ""
}
