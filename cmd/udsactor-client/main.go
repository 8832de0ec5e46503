// Command udsactor-client is the in-session user-agent: it logs the
// current interactive session in with the privileged udsactor service over
// the local RPC link, then runs the idle/deadline/signal control loops
// until one of them ends the session.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/udsactor/agent/pkg/lifecycle"
	"github.com/udsactor/agent/pkg/log"
	"github.com/udsactor/agent/pkg/osfacade"
	"github.com/udsactor/agent/pkg/rpc"
	"github.com/udsactor/agent/pkg/rpcclient"
	"github.com/udsactor/agent/pkg/session"
	"github.com/udsactor/agent/pkg/syncx"
	"github.com/udsactor/agent/pkg/workers"
)

// Version is stamped at link time via -ldflags.
var Version = "dev"

// loginEnvelopeID is the fixed correlation id the user-agent uses for its
// single outstanding LoginRequest, per spec.md §4.7.
const loginEnvelopeID uint64 = 1

// loginTimeout bounds how long the user-agent waits for the service's
// LoginResponse before giving up.
const loginTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "udsactor-client",
	Short:   "UDS Actor user-agent",
	Version: Version,
	RunE:    run,
}

func init() {
	level := "info"
	if v := os.Getenv("UDSACTOR_CLIENT_LOG_LEVEL"); v != "" {
		level = v
	}
	logFile := os.Getenv("UDSACTOR_CLIENT_LOG_PATH")

	rootCmd.PersistentFlags().String("log-level", level, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("log-file", logFile, "Rotate logs to this file instead of stdout")
}

func run(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	logFile, _ := cmd.Flags().GetString("log-file")

	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut, FilePath: logFile})
	logger := log.WithComponent("user-agent")

	facade := osfacade.New()

	username, err := facade.CurrentUser()
	if err != nil {
		return fmt.Errorf("udsactor-client: determine current user: %w", err)
	}
	sessionType, err := facade.SessionType()
	if err != nil {
		return fmt.Errorf("udsactor-client: determine session type: %w", err)
	}

	stop := syncx.NewOnceSignal()

	wsURL := fmt.Sprintf("wss://127.0.0.1:%d/ws", lifecycle.WellKnownPort)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), loginTimeout)
	client, err := rpcclient.Dial(dialCtx, wsURL)
	cancelDial()
	if err != nil {
		return fmt.Errorf("udsactor-client: dial service: %w", err)
	}
	defer client.Close()

	catalog := workers.NewUserAgentCatalog(client, facade, stop.Done(), logger)
	catalog.Start()

	if err := client.SendRequest(loginEnvelopeID, &rpc.LoginRequestMessage{
		Username:    username,
		SessionType: sessionType,
	}); err != nil {
		return fmt.Errorf("udsactor-client: send login request: %w", err)
	}

	var sessionID string
	var maxIdle, deadline time.Duration

	select {
	case env := <-catalog.LoginReply():
		resp, ok := env.Msg.(*rpc.LoginResponseMessage)
		if !ok {
			return fmt.Errorf("udsactor-client: unexpected login reply type")
		}
		sessionID = resp.SessionID
		if resp.MaxIdle != nil {
			maxIdle = time.Duration(*resp.MaxIdle) * time.Second
		}
		if resp.Deadline != nil {
			deadline = time.Duration(*resp.Deadline) * time.Second
		}
	case <-time.After(loginTimeout):
		return fmt.Errorf("udsactor-client: login timed out")
	case <-stop.Done():
		return nil
	}

	logger.Info().Str("session_id", sessionID).Dur("max_idle", maxIdle).Dur("deadline", deadline).
		Msg("user-agent: session established")

	ctrl := &session.Controller{
		OS:       facade,
		Stop:     stop,
		Logger:   logger,
		MaxIdle:  maxIdle,
		Deadline: deadline,
	}
	reason := ctrl.Run(context.Background())
	logger.Info().Str("reason", reason).Msg("user-agent: session ending")

	if err := client.Send(&rpc.LogoutRequestMessage{
		Username:    username,
		SessionType: sessionType,
		SessionID:   sessionID,
	}); err != nil {
		logger.Warn().Err(err).Msg("user-agent: send logout failed")
	}

	return nil
}
