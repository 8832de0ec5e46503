//go:build windows

package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	registryKeyPath  = `SOFTWARE\UDSActor`
	registryValueName = ""
)

// WindowsStore persists ActorConfiguration as base64(JSON) in a single
// unnamed REG_BINARY value under HKLM\SOFTWARE\UDSActor.
type WindowsStore struct{}

// NewWindowsStore returns a registry-backed store.
func NewWindowsStore() *WindowsStore {
	return &WindowsStore{}
}

// NewPlatformStore returns the Store implementation for the running OS,
// so callers (cmd/udsactor, cmd/udsactor-client) never need a build tag
// of their own.
func NewPlatformStore() Store {
	return NewWindowsStore()
}

// Load reads and decodes the registry value. A missing key or value yields
// the default configuration rather than an error.
func (s *WindowsStore) Load() (ActorConfiguration, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, registryKeyPath, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return Default(), nil
		}
		return ActorConfiguration{}, fmt.Errorf("config: open registry key: %w", err)
	}
	defer key.Close()

	raw, _, err := key.GetBinaryValue(registryValueName)
	if err != nil {
		if err == registry.ErrNotExist {
			return Default(), nil
		}
		return ActorConfiguration{}, fmt.Errorf("config: read registry value: %w", err)
	}

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
	n, err := base64.StdEncoding.Decode(decoded, raw)
	if err != nil {
		return ActorConfiguration{}, fmt.Errorf("config: base64 decode: %w", err)
	}

	var cfg ActorConfiguration
	if err := json.Unmarshal(decoded[:n], &cfg); err != nil {
		return ActorConfiguration{}, fmt.Errorf("config: json decode: %w", err)
	}
	return cfg, nil
}

// Save encodes cfg as base64(JSON) and writes it, creating the key on first
// use and tightening its DACL.
func (s *WindowsStore) Save(cfg ActorConfiguration) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: json encode: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	key, existed, err := registry.CreateKey(registry.LOCAL_MACHINE, registryKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("config: create registry key: %w", err)
	}
	defer key.Close()

	if err := key.SetBinaryValue(registryValueName, []byte(encoded)); err != nil {
		return fmt.Errorf("config: write registry value: %w", err)
	}

	if !existed {
		if err := tightenDACL(registryKeyPath); err != nil {
			return fmt.Errorf("config: tighten DACL: %w", err)
		}
	}
	return nil
}

// Clear deletes the registry key entirely.
func (s *WindowsStore) Clear() error {
	if err := registry.DeleteKey(registry.LOCAL_MACHINE, registryKeyPath); err != nil && err != registry.ErrNotExist {
		return fmt.Errorf("config: delete registry key: %w", err)
	}
	return nil
}

// tightenDACL removes the BUILTIN\Users ACE from the key's DACL and marks
// the DACL protected, so inherited ACEs from SOFTWARE no longer apply and
// only Administrators/SYSTEM (already present via inheritance before this
// call, or via the explicit entries below) can touch the value.
func tightenDACL(keyPath string) error {
	fullPath := `MACHINE\` + keyPath

	sd, err := windows.GetNamedSecurityInfo(
		fullPath,
		windows.SE_REGISTRY_KEY,
		windows.DACL_SECURITY_INFORMATION,
	)
	if err != nil {
		return fmt.Errorf("get security info: %w", err)
	}

	dacl, _, err := sd.DACL()
	if err != nil {
		return fmt.Errorf("read dacl: %w", err)
	}

	usersSID, err := windows.CreateWellKnownSid(windows.WinBuiltinUsersSid)
	if err != nil {
		return fmt.Errorf("resolve BUILTIN\\Users sid: %w", err)
	}

	filtered, err := removeSIDFromACL(dacl, usersSID)
	if err != nil {
		return fmt.Errorf("filter dacl: %w", err)
	}

	return windows.SetNamedSecurityInfo(
		fullPath,
		windows.SE_REGISTRY_KEY,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil, nil, filtered, nil,
	)
}

// accessAllowedACE mirrors ACCESS_ALLOWED_ACE: a header, an access mask, and
// a variable-length SID starting at SidStart.
type accessAllowedACE struct {
	Header   windows.ACE_HEADER
	Mask     uint32
	SidStart uint32
}

// removeSIDFromACL rebuilds acl keeping only the entries that do not grant
// access to target, via RevokeEntriesFromAcl-equivalent reconstruction.
func removeSIDFromACL(acl *windows.ACL, target *windows.SID) (*windows.ACL, error) {
	var kept []windows.EXPLICIT_ACCESS

	count := int(acl.AceCount)
	for i := 0; i < count; i++ {
		var header *windows.ACE_HEADER
		if err := windows.GetAce(acl, uint32(i), &header); err != nil {
			return nil, fmt.Errorf("get ace %d: %w", i, err)
		}
		if header.AceType != windows.ACCESS_ALLOWED_ACE_TYPE {
			continue
		}
		ace := (*accessAllowedACE)(unsafe.Pointer(header))
		sid := (*windows.SID)(unsafe.Pointer(&ace.SidStart))
		if windows.EqualSid(sid, target) {
			continue // drop the BUILTIN\Users entry
		}
		kept = append(kept, windows.EXPLICIT_ACCESS{
			AccessPermissions: windows.ACCESS_MASK(ace.Mask),
			AccessMode:        windows.GRANT_ACCESS,
			Trustee: windows.TRUSTEE{
				TrusteeForm:  windows.TRUSTEE_IS_SID,
				TrusteeType:  windows.TRUSTEE_IS_UNKNOWN,
				TrusteeValue: windows.TrusteeValueFromSID(sid),
			},
		})
	}

	var newACL *windows.ACL
	if err := windows.SetEntriesInAcl(kept, nil, &newACL); err != nil {
		return nil, fmt.Errorf("rebuild acl: %w", err)
	}
	return newACL, nil
}
