package workers

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/udsactor/agent/pkg/rpc"
	"github.com/udsactor/agent/pkg/rpcclient"
)

// AliveInterval is how often the alive worker sends a keep-alive Ping,
// resolving spec.md's two conflicting figures (§4.6 prose says 30s, the
// bounded-timeouts table in §4.8 says 15s) in favor of the dedicated
// parameters table.
const AliveInterval = 15 * time.Second

// Desktop is the subset of the OS capability facade the user-agent worker
// catalog needs: screenshot capture, dialog display, script execution, and
// session logoff. Implemented by pkg/osfacade on each platform.
type Desktop interface {
	Screenshot() (string, error)
	ShowMessage(text string) error
	RunScript(scriptType, script string) (string, error)
	Logoff() error
}

// UserAgentCatalog wires the user-agent-side worker fabric (spec.md §4.6)
// to an rpcclient.Client and a Desktop facade.
type UserAgentCatalog struct {
	client  *rpcclient.Client
	desktop Desktop
	stop    <-chan struct{}
	logger  zerolog.Logger
	fabric  *Fabric

	loginReply chan rpc.Envelope
}

// NewUserAgentCatalog constructs a catalog; call Start to spawn its
// workers. LoginReply() exposes the channel the main loop awaits for the
// service's LoginResponse.
func NewUserAgentCatalog(client *rpcclient.Client, desktop Desktop, stop <-chan struct{}, logger zerolog.Logger) *UserAgentCatalog {
	return &UserAgentCatalog{
		client:     client,
		desktop:    desktop,
		stop:       stop,
		logger:     logger,
		fabric:     New(client, stop, logger),
		loginReply: make(chan rpc.Envelope, 1),
	}
}

// Start spawns every user-agent-side worker plus the periodic alive loop.
func (c *UserAgentCatalog) Start() {
	c.fabric.spawnTyped("close", rpc.KindClose, c.handleClose)
	c.fabric.spawnTyped("logoff", rpc.KindLogoffRequest, c.handleLogoff)
	c.fabric.spawnTyped("screenshot", rpc.KindScreenshotRequest, c.handleScreenshot)
	c.fabric.spawnTyped("message", rpc.KindMessageRequest, c.handleMessage)
	c.fabric.spawnTyped("script", rpc.KindScriptExecRequest, c.handleScript)
	c.client.Subscribe(rpc.KindLoginResponse, c.loginReply)

	go c.aliveLoop()
}

// LoginReply returns the channel carrying the service's LoginResponse,
// consumed once by the user-agent main loop.
func (c *UserAgentCatalog) LoginReply() <-chan rpc.Envelope {
	return c.loginReply
}

func (c *UserAgentCatalog) handleClose(rpc.Envelope) {
	if err := c.desktop.Logoff(); err != nil {
		c.logger.Warn().Err(err).Msg("workers: logoff on close failed")
	}
}

func (c *UserAgentCatalog) handleLogoff(rpc.Envelope) {
	if err := c.desktop.Logoff(); err != nil {
		c.logger.Warn().Err(err).Msg("workers: logoff failed")
	}
}

func (c *UserAgentCatalog) handleScreenshot(env rpc.Envelope) {
	if env.ID == nil {
		return
	}
	result, err := c.desktop.Screenshot()
	if err != nil {
		c.logger.Warn().Err(err).Msg("workers: screenshot capture failed")
		return
	}
	if err := c.client.Reply(*env.ID, &rpc.ScreenshotResponseMessage{Result: result}); err != nil {
		c.logger.Warn().Err(err).Msg("workers: screenshot reply failed")
	}
}

func (c *UserAgentCatalog) handleMessage(env rpc.Envelope) {
	msg, ok := env.Msg.(*rpc.MessageRequestMessage)
	if !ok {
		return
	}
	if err := c.desktop.ShowMessage(msg.Message); err != nil {
		c.logger.Warn().Err(err).Msg("workers: show message failed")
	}
}

func (c *UserAgentCatalog) handleScript(env rpc.Envelope) {
	if env.ID == nil {
		return
	}
	req, ok := env.Msg.(*rpc.ScriptExecRequestMessage)
	if !ok {
		return
	}
	out, err := c.desktop.RunScript(req.Type, req.Script)
	if err != nil {
		c.logger.Warn().Err(err).Msg("workers: script execution failed")
		out = err.Error()
	}
	if err := c.client.Reply(*env.ID, &rpc.ScriptExecResponseMessage{Result: out}); err != nil {
		c.logger.Warn().Err(err).Msg("workers: script reply failed")
	}
}

func (c *UserAgentCatalog) aliveLoop() {
	ticker := time.NewTicker(AliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			Guard(c.logger, "alive", func() {
				if err := c.client.Send(&rpc.PingMessage{}); err != nil {
					c.logger.Warn().Err(err).Msg("workers: alive ping failed")
				}
			})
		case <-c.stop:
			return
		}
	}
}
