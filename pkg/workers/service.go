package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/udsactor/agent/pkg/broker"
	"github.com/udsactor/agent/pkg/config"
	"github.com/udsactor/agent/pkg/rpc"
	"github.com/udsactor/agent/pkg/rpcerr"
	"github.com/udsactor/agent/pkg/rpcserver"
)

// logForwardLimit/logForwardWindow bound the logger worker per spec.md §4.6:
// at most 60 client log messages per 60 seconds are relayed to the broker.
const (
	logForwardLimit  = 60
	logForwardWindow = 60 * time.Second
)

// ServiceCatalog wires the service-side worker fabric (spec.md §4.6) to a
// Hub, a broker Client, and the persisted configuration. Construct with
// NewServiceCatalog and call Start once the Hub has a connection.
type ServiceCatalog struct {
	hub     *rpcserver.Hub
	brk     *broker.Client
	cfg     *config.Manager
	session *UserSession
	guard   *FloodGuard
	stop    <-chan struct{}
	logger  zerolog.Logger
	fabric  *Fabric
}

// NewServiceCatalog constructs a catalog; call Start to spawn its workers.
func NewServiceCatalog(hub *rpcserver.Hub, brk *broker.Client, cfg *config.Manager, stop <-chan struct{}, logger zerolog.Logger) *ServiceCatalog {
	return &ServiceCatalog{
		hub:     hub,
		brk:     brk,
		cfg:     cfg,
		session: &UserSession{},
		guard:   NewFloodGuard(logForwardLimit, logForwardWindow),
		stop:    stop,
		logger:  logger,
		fabric:  New(hub, stop, logger),
	}
}

// Start spawns every service-side worker.
func (c *ServiceCatalog) Start() {
	c.fabric.spawnTyped("login", rpc.KindLoginRequest, c.handleLogin)
	c.fabric.spawnTyped("logout", rpc.KindLogoutRequest, c.handleLogout)
	c.fabric.spawnTyped("ping", rpc.KindPing, c.handlePing)
	c.fabric.spawnTyped("close", rpc.KindClose, c.handleClose)
	c.fabric.spawnTyped("logger", rpc.KindLogForward, c.handleLogForward)
}

func (c *ServiceCatalog) handlePing(env rpc.Envelope) {
	msg, ok := env.Msg.(*rpc.PingMessage)
	if !ok || env.ID == nil {
		return
	}
	if err := c.hub.Reply(*env.ID, &rpc.PongMessage{Payload: msg.Payload}); err != nil {
		c.logger.Warn().Err(err).Msg("workers: ping reply failed")
	}
}

func (c *ServiceCatalog) handleLogForward(env rpc.Envelope) {
	msg, ok := env.Msg.(*rpc.LogForwardMessage)
	if !ok {
		return
	}
	if !c.guard.Allow() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Get().Timeout())
	defer cancel()
	if err := c.brk.Log(ctx, msg.Level, msg.Message, msg.Timestamp); err != nil {
		c.logger.Warn().Err(err).Msg("workers: log forward failed")
	}
}

// handleLogin implements spec.md §4.7's Managed/Unmanaged login flow. In
// the Unmanaged case it re-initializes with the current master_token
// before logging in, persisting a refreshed master_token when the broker
// issues one.
func (c *ServiceCatalog) handleLogin(env rpc.Envelope) {
	req, ok := env.Msg.(*rpc.LoginRequestMessage)
	if !ok || env.ID == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Get().Timeout())
	defer cancel()

	cfg := c.cfg.Get()
	actorID := cfg.UniqueID()

	if cfg.ActorType == config.Unmanaged {
		initResult, err := c.brk.Initialize(ctx, string(cfg.ActorType), nil)
		if err != nil {
			c.replyLoginError(*env.ID, err)
			return
		}
		c.brk.SetToken(initResult.MasterToken, initResult.Token)
		if initResult.MasterToken != "" {
			if err := c.cfg.Update(func(cfg *config.ActorConfiguration) {
				cfg.MasterToken = initResult.MasterToken
			}); err != nil {
				c.logger.Warn().Err(err).Msg("workers: persist refreshed master token failed")
			}
		}
		if initResult.UniqueID != "" {
			actorID = initResult.UniqueID
		}
	}

	result, err := c.brk.LoginSession(ctx, string(cfg.ActorType), actorID, req.Username, req.SessionType)
	if err != nil {
		c.replyLoginError(*env.ID, err)
		return
	}

	c.session.Set(req.Username, req.SessionType, result.SessionID)

	deadline := int64(result.Deadline)
	maxIdle := int64(result.MaxIdle)
	reply := &rpc.LoginResponseMessage{
		IP:        result.IP,
		Hostname:  result.Hostname,
		Deadline:  &deadline,
		MaxIdle:   &maxIdle,
		SessionID: result.SessionID,
	}
	if err := c.hub.Reply(*env.ID, reply); err != nil {
		c.logger.Warn().Err(err).Msg("workers: login reply failed")
	}
}

func (c *ServiceCatalog) replyLoginError(id uint64, err error) {
	c.logger.Error().Err(err).Msg("workers: login failed")
	_ = c.hub.Reply(id, rpcerr.Other(err.Error()))
}

func (c *ServiceCatalog) handleLogout(env rpc.Envelope) {
	req, ok := env.Msg.(*rpc.LogoutRequestMessage)
	if !ok {
		return
	}
	c.callLogout(req.Username, req.SessionType, req.SessionID)
	c.session.Clear()
}

// handleClose answers an unexpected link drop: it correlates against the
// session state a prior login recorded and reports the user as closed
// rather than cleanly logged out, per spec.md §4.6's close worker.
func (c *ServiceCatalog) handleClose(env rpc.Envelope) {
	username, sessionType, sessionID, active := c.session.Snapshot()
	if !active {
		return
	}
	c.callLogout(username+" (closed)", sessionType, sessionID)
	c.session.Clear()
}

func (c *ServiceCatalog) callLogout(username, sessionType, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Get().Timeout())
	defer cancel()

	cfg := c.cfg.Get()
	if _, err := c.brk.Logout(ctx, string(cfg.ActorType), cfg.UniqueID(), username, sessionType, sessionID); err != nil {
		c.logger.Warn().Err(err).Msg("workers: logout call failed")
	}
}
