// Package lifecycle drives the actor-type-branched main flow: common
// readiness prologue, Managed vs Unmanaged initialization, the local RPC
// server/worker fabric startup, and the interface-change watcher.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/udsactor/agent/pkg/broker"
	"github.com/udsactor/agent/pkg/config"
	"github.com/udsactor/agent/pkg/netinfo"
	"github.com/udsactor/agent/pkg/osfacade"
	"github.com/udsactor/agent/pkg/rpcserver"
	"github.com/udsactor/agent/pkg/syncx"
	"github.com/udsactor/agent/pkg/tlsconfig"
	"github.com/udsactor/agent/pkg/tracker"
	"github.com/udsactor/agent/pkg/workers"
)

// WellKnownPort is the fixed TCP port the local RPC server binds on both
// IPv4 and IPv6, and the port value passed to the broker's ready/unmanaged
// calls.
const WellKnownPort = 43910

const (
	readinessNetworkPoll   = 2 * time.Second
	readinessInstallPoll   = 3 * time.Second
	interfaceWatchInterval = 30 * time.Second
)

// Runner drives one full service lifecycle run: readiness wait, the
// actor-type-branched startup sequence, serving, and the interface
// watcher, until Stop fires.
type Runner struct {
	Config *config.Manager
	Broker *broker.Client
	OS     osfacade.OS
	Stop   *syncx.OnceSignal

	// RestartFlag is set by the interface watcher before firing Stop, so
	// the caller's service-manager wrapper can translate it into the
	// distinct exit code that triggers a clean restart.
	RestartFlag *atomic.Bool

	// PreConnectCommand is the operator-configured custom command invoked
	// (with %u/%p/%i substitution) on every preconnect broadcast.
	PreConnectCommand []string

	Logger zerolog.Logger
}

// New constructs a Runner ready to Run. RestartFlag is allocated here so
// callers never need to remember to initialize it.
func New(cfg *config.Manager, brk *broker.Client, os osfacade.OS, stop *syncx.OnceSignal, logger zerolog.Logger) *Runner {
	return &Runner{
		Config:      cfg,
		Broker:      brk,
		OS:          os,
		Stop:        stop,
		RestartFlag: new(atomic.Bool),
		Logger:      logger,
	}
}

// Run executes the full lifecycle for the actor type currently configured,
// blocking until Stop fires (or a fatal error occurs during startup).
func (r *Runner) Run(ctx context.Context) error {
	if err := r.waitForReadiness(ctx); err != nil {
		return err
	}
	if r.Stop.IsSet() {
		return nil
	}

	if err := r.OS.ForceTimeSync(); err != nil {
		r.Logger.Warn().Err(err).Msg("lifecycle: force time sync failed")
	}

	actorType := r.Config.Get().ActorType
	var certInfo *broker.CertificateInfo
	var err error
	switch actorType {
	case config.Managed:
		certInfo, err = r.runManaged(ctx)
	default:
		certInfo, err = r.runUnmanaged(ctx)
	}
	if err != nil {
		return err
	}
	if certInfo == nil {
		// A run-once command was executed, or a rename/domain-join reboot
		// is pending: the process exits cleanly and the service manager
		// restarts it.
		return nil
	}

	return r.serve(ctx, certInfo)
}

// waitForReadiness polls for at least one network interface within
// restrict_net and for no OS installer to be in progress, exiting early on
// Stop.
func (r *Runner) waitForReadiness(ctx context.Context) error {
	cfg := r.Config.Get()

	for {
		ifaces, err := netinfo.InSubnet(cfg.RestrictNet)
		if err == nil && len(ifaces) > 0 {
			break
		}
		if r.waitOrStop(ctx, readinessNetworkPoll) {
			return nil
		}
	}

	for {
		inProgress, err := r.OS.IsInstallationInProgress()
		if err != nil {
			r.Logger.Warn().Err(err).Msg("lifecycle: installation-in-progress probe failed")
			break
		}
		if !inProgress {
			break
		}
		if r.waitOrStop(ctx, readinessInstallPoll) {
			return nil
		}
	}

	r.Logger.Info().Msg("lifecycle: platform ready")
	return nil
}

// waitOrStop blocks for d or until Stop fires, returning true if Stop won.
func (r *Runner) waitOrStop(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.Stop.Done():
		return true
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// runManaged executes steps 1-6 of the Managed flow (spec.md §4.1),
// returning nil certInfo (with nil error) when the process should simply
// exit this boot cycle (run-once executed, or a rename/join reboot fired).
func (r *Runner) runManaged(ctx context.Context) (*broker.CertificateInfo, error) {
	cfg := r.Config.Get()

	if !cfg.AlreadyInitialized() {
		if err := r.initialize(ctx); err != nil {
			return nil, fmt.Errorf("lifecycle: managed initialize: %w", err)
		}
	}

	if executed := r.runCommand(ctx, "run-once", r.Config.Get().RunOnceCommand); executed {
		if err := r.Config.Update(func(c *config.ActorConfiguration) { c.ClearRunOnce() }); err != nil {
			r.Logger.Error().Err(err).Msg("lifecycle: failed to clear run-once command")
		}
		r.Logger.Info().Msg("lifecycle: exiting after run-once execution")
		return nil, nil
	}

	if action := r.Config.Get().OSAction(); action != nil {
		rebooted, err := r.applyOSAction(*action)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: apply OS action: %w", err)
		}
		if err := r.Config.Update(func(c *config.ActorConfiguration) { c.ClearOSAction() }); err != nil {
			r.Logger.Error().Err(err).Msg("lifecycle: failed to clear OS action")
		}
		if rebooted {
			return nil, nil
		}
	}

	r.runCommand(ctx, "post-config", r.Config.Get().PostCommand)

	ifaces, err := netinfo.InSubnet(r.Config.Get().RestrictNet)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("lifecycle: network info failed before ready")
	}
	var ip string
	if len(ifaces) > 0 {
		ip = ifaces[0].IP
	}

	certInfo, err := r.Broker.Ready(ctx, ip, WellKnownPort)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: ready: %w", err)
	}
	return certInfo, nil
}

// runUnmanaged executes the Unmanaged flow (spec.md §4.1): same prologue,
// unmanaged_ready instead of initialize/ready. initialize is deferred to
// the first LoginRequest (see pkg/workers' login worker).
func (r *Runner) runUnmanaged(ctx context.Context) (*broker.CertificateInfo, error) {
	ifaces, err := netinfo.InSubnet(r.Config.Get().RestrictNet)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("lifecycle: network info failed before unmanaged_ready")
	}

	certInfo, err := r.Broker.UnmanagedReady(ctx, ifaces, WellKnownPort)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: unmanaged_ready: %w", err)
	}
	return certInfo, nil
}

// initialize calls broker.Initialize and persists the resulting token/
// unique_id/os directive, per spec.md §4.7's token-rotation rules.
func (r *Runner) initialize(ctx context.Context) error {
	ifaces, err := netinfo.InSubnet(r.Config.Get().RestrictNet)
	if err != nil {
		return fmt.Errorf("network info: %w", err)
	}

	result, err := r.Broker.Initialize(ctx, string(r.Config.Get().ActorType), ifaces)
	if err != nil {
		return err
	}

	return r.Config.Update(func(c *config.ActorConfiguration) {
		if result.MasterToken != "" {
			c.MasterToken = result.MasterToken
		}
		if c.Config == nil {
			c.Config = &config.ActorDataConfiguration{}
		}
		c.OwnToken = result.Token
		c.Config.UniqueID = result.UniqueID
		if result.OS != nil {
			c.Config.OS = &config.ActorOSConfiguration{
				Action: config.ParseActorOSAction(result.OS.Action),
				Name:   result.OS.Name,
				Custom: result.OS.Custom,
			}
		}
		r.Broker.SetToken(c.MasterToken, c.OwnToken)
	})
}

// runCommand executes a configured shell command (pre/run-once/post),
// returning whether a non-empty command was actually run. Failures are
// logged, never fatal — the Managed flow only treats initialize/ready as
// fatal per spec.md §4.1.
func (r *Runner) runCommand(ctx context.Context, label, command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	out, err := r.OS.RunScript("sh", command)
	if err != nil {
		r.Logger.Error().Err(err).Str("command", label).Str("output", out).Msg("lifecycle: command failed")
		return true
	}
	r.Logger.Info().Str("command", label).Msg("lifecycle: command executed")
	return true
}

// applyOSAction applies a Rename or JoinDomain directive, consumed at most
// once per boot, rebooting (and returning true) only on an actual change.
func (r *Runner) applyOSAction(action config.ActorOSConfiguration) (bool, error) {
	switch action.Action {
	case config.OSActionRename:
		return r.renameIfNeeded(action.Name)
	case config.OSActionJoinDomain:
		return r.joinDomainIfNeeded(action)
	default:
		return false, nil
	}
}

func (r *Runner) renameIfNeeded(name string) (bool, error) {
	current, err := r.OS.ComputerName()
	if err != nil {
		return false, err
	}
	if strings.EqualFold(current, name) {
		r.Logger.Info().Str("name", name).Msg("lifecycle: already has requested computer name")
		return false, nil
	}
	if err := r.OS.RenameComputer(name); err != nil {
		return false, err
	}
	r.Logger.Info().Str("name", name).Msg("lifecycle: renamed, rebooting")
	if err := r.OS.Reboot(); err != nil {
		return false, fmt.Errorf("reboot after rename: %w", err)
	}
	return true, nil
}

func (r *Runner) joinDomainIfNeeded(action config.ActorOSConfiguration) (bool, error) {
	opts, err := parseJoinDomainOptions(action.Custom)
	if err != nil {
		return false, err
	}

	renamed, err := r.renameIfNeeded(action.Name)
	if err != nil {
		return false, err
	}

	currentDomain, err := r.OS.DomainName()
	if err == nil && !renamed && strings.EqualFold(currentDomain, opts.Domain) {
		r.Logger.Info().Str("domain", opts.Domain).Msg("lifecycle: already joined, skipping")
		return false, nil
	}

	if err := r.OS.JoinDomain(opts); err != nil {
		return false, err
	}
	r.Logger.Info().Str("domain", opts.Domain).Msg("lifecycle: joined domain, rebooting")
	if err := r.OS.Reboot(); err != nil {
		return false, fmt.Errorf("reboot after join: %w", err)
	}
	return true, nil
}

// serve starts the local TLS RPC server, the service-side worker fabric,
// and the interface watcher, then blocks until Stop fires.
func (r *Runner) serve(ctx context.Context, certInfo *broker.CertificateInfo) error {
	tlsCfg, err := tlsconfig.Build(*certInfo)
	if err != nil {
		return fmt.Errorf("lifecycle: build TLS config: %w", err)
	}

	trk := tracker.New()
	hub := rpcserver.NewHub(trk)
	addr := fmt.Sprintf(":%d", WellKnownPort)
	srv := rpcserver.New(addr, r.Broker.Secret(), hub, tlsCfg, r.Logger)
	srv.SetPreConnectHook(workers.NewPreConnectHook(r.OS, r.PreConnectCommand))
	srv.SetOwnToken(r.Config.Get().OwnToken)

	go trk.RunSweeper(r.Stop.Done())

	serveErrCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(); err != nil {
			serveErrCh <- err
		}
	}()

	catalog := workers.NewServiceCatalog(hub, r.Broker, r.Config, r.Stop.Done(), r.Logger)
	catalog.Start()

	go r.watchInterfaces()

	select {
	case <-r.Stop.Done():
	case err := <-serveErrCh:
		r.Logger.Error().Err(err).Msg("lifecycle: local RPC server failed")
		r.Stop.Set()
	case <-ctx.Done():
		r.Stop.Set()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchInterfaces snapshots the interface set at startup, then every 30s
// checks for drift (IP added/removed/changed) restricted to restrict_net.
// Any difference sets RestartFlag and fires Stop, per spec.md §4.1: the
// service manager wrapper turns RestartFlag into a distinct exit code so
// the process restarts cleanly rather than rebinding in place.
func (r *Runner) watchInterfaces() {
	known, err := netinfo.InSubnet(r.Config.Get().RestrictNet)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("lifecycle: interface watcher initial snapshot failed")
	}

	for {
		if r.waitOrStop(context.Background(), interfaceWatchInterval) {
			return
		}
		changed, current, err := netinfo.Changed(known, r.Config.Get().RestrictNet)
		if err != nil {
			r.Logger.Warn().Err(err).Msg("lifecycle: interface watcher probe failed")
			continue
		}
		if changed {
			r.Logger.Warn().Msg("lifecycle: network interfaces changed, restarting")
			r.RestartFlag.Store(true)
			r.Stop.Set()
			return
		}
		known = current
	}
}
