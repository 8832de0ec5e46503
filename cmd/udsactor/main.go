// Command udsactor is the privileged, long-lived service process: it
// brokers this endpoint's virtual desktop sessions to the UDS Enterprise
// broker, exposing a local TLS/WebSocket RPC surface to the in-session
// user-agent (cmd/udsactor-client).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/udsactor/agent/pkg/broker"
	"github.com/udsactor/agent/pkg/config"
	"github.com/udsactor/agent/pkg/lifecycle"
	"github.com/udsactor/agent/pkg/log"
	"github.com/udsactor/agent/pkg/osfacade"
	"github.com/udsactor/agent/pkg/svcmanager"
	"github.com/udsactor/agent/pkg/syncx"
)

// Version/Build are stamped at link time via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)

const (
	serviceName        = "UDSActor"
	serviceDisplayName = "UDS Actor"
	serviceDescription = "Brokers virtual desktop sessions to the UDS Enterprise broker"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "udsactor",
	Short:   "UDS Actor service",
	Version: Version,
	RunE:    runService,
}

func init() {
	level := "info"
	if v := os.Getenv("UDSACTOR_LOG_LEVEL"); v != "" {
		level = v
	}
	logFile := os.Getenv("UDSACTOR_LOG_PATH")

	rootCmd.PersistentFlags().String("log-level", level, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("log-file", logFile, "Rotate logs to this file instead of stdout")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(testCmd)
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Register the agent as a platform service",
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable path: %w", err)
		}
		return svcmanager.Install(svcmanager.InstallOptions{
			Name:        serviceName,
			DisplayName: serviceDisplayName,
			Description: serviceDescription,
			BinaryPath:  exe,
		})
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Unregister the agent's platform service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return svcmanager.Uninstall(serviceName)
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Exercise the broker's connectivity-test endpoint and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewPlatformStore()
		mgr, err := config.NewManager(store)
		if err != nil {
			return fmt.Errorf("udsactor test: load configuration: %w", err)
		}
		cfg := mgr.Get()
		if cfg.BrokerURL == "" {
			return fmt.Errorf("udsactor test: no broker_url configured; provision this endpoint first")
		}

		brk, err := broker.New(broker.Config{
			BrokerURL:   cfg.BrokerURL,
			VerifySSL:   cfg.VerifySSL,
			MasterToken: cfg.MasterToken,
			Version:     Version,
			Build:       Build,
			Timeout:     cfg.Timeout(),
		})
		if err != nil {
			return fmt.Errorf("udsactor test: build broker client: %w", err)
		}
		brk.SetToken(cfg.MasterToken, cfg.OwnToken)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout())
		defer cancel()
		if err := brk.Test(ctx, string(cfg.ActorType)); err != nil {
			return fmt.Errorf("udsactor test: broker connectivity test failed: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

func runService(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	logFile, _ := cmd.Flags().GetString("log-file")

	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut, FilePath: logFile})
	logger := log.WithComponent("service")

	store := config.NewPlatformStore()
	mgr, err := config.NewManager(store)
	if err != nil {
		return fmt.Errorf("udsactor: load configuration: %w", err)
	}

	cfg := mgr.Get()
	if cfg.BrokerURL == "" {
		return fmt.Errorf("udsactor: no broker_url configured; provision this endpoint first")
	}

	brk, err := broker.New(broker.Config{
		BrokerURL:   cfg.BrokerURL,
		VerifySSL:   cfg.VerifySSL,
		MasterToken: cfg.MasterToken,
		Version:     Version,
		Build:       Build,
		Timeout:     cfg.Timeout(),
	})
	if err != nil {
		return fmt.Errorf("udsactor: build broker client: %w", err)
	}
	brk.SetToken(cfg.MasterToken, cfg.OwnToken)

	stop := syncx.NewOnceSignal()
	runner := lifecycle.New(mgr, brk, osfacade.New(), stop, logger)
	if fields := strings.Fields(cfg.PreCommand); len(fields) > 0 {
		runner.PreConnectCommand = fields
	}

	return svcmanager.Run(runner.Run, stop, runner.RestartFlag.Load, logger)
}
