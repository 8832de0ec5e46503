//go:build windows

package svcmanager

import (
	"fmt"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// Install registers the agent as an auto-start Windows service with
// restart-on-failure recovery: a 5s delay before the first restart
// attempt and a 1-day reset period for the failure counter, per spec.md
// §4.9.
func Install(opts InstallOptions) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("svcmanager: connect to SCM: %w", err)
	}
	defer m.Disconnect()

	if existing, err := m.OpenService(opts.Name); err == nil {
		existing.Close()
		return fmt.Errorf("svcmanager: service %s already exists", opts.Name)
	}

	s, err := m.CreateService(opts.Name, opts.BinaryPath, mgr.Config{
		StartType:   mgr.StartAutomatic,
		DisplayName: opts.DisplayName,
		Description: opts.Description,
	}, opts.Args...)
	if err != nil {
		return fmt.Errorf("svcmanager: create service: %w", err)
	}
	defer s.Close()

	recovery := []mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: recoveryDelay},
		{Type: mgr.ServiceRestart, Delay: recoveryDelay},
		{Type: mgr.ServiceRestart, Delay: recoveryDelay},
	}
	if err := s.SetRecoveryActions(recovery, uint32(recoveryResetPeriod.Seconds())); err != nil {
		return fmt.Errorf("svcmanager: set recovery actions: %w", err)
	}

	return nil
}

// Uninstall stops (best-effort) and deletes the named service.
func Uninstall(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("svcmanager: connect to SCM: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("svcmanager: open service %s: %w", name, err)
	}
	defer s.Close()

	_, _ = s.Control(svc.Stop)

	if err := s.Delete(); err != nil {
		return fmt.Errorf("svcmanager: delete service: %w", err)
	}
	return nil
}
