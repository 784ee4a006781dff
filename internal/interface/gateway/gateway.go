// Package gateway implements the Discord gateway connection.
// It maintains the websocket session (hello, identify, heartbeat,
// resume) and turns VOICE_STATE_UPDATE dispatches into the enter/leave
// boundary events that drive voice session tracking.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/shiva-hub/shiva-voice-hub/internal/application/command"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/session"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROTOCOL CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Intents requested on identify: guild metadata plus voice state updates.
const (
	intentGuilds           = 1 << 0
	intentGuildVoiceStates = 1 << 7

	defaultIntents = intentGuilds | intentGuildVoiceStates
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// PresenceSink consumes the boundary events diffed from voice state updates.
// Implemented by command.TrackPresenceHandler.
type PresenceSink interface {
	HandleEnter(ctx context.Context, state session.VoiceState) error
	HandleLeave(ctx context.Context, state session.VoiceState) (*command.AwardSessionResult, error)
}

// SettingsSink persists guild channels observed on the gateway, so the
// announcement path can resolve a system channel without extra REST calls.
// Implemented by the guild settings repository. May be nil.
type SettingsSink interface {
	SyncChannels(ctx context.Context, guildID shared.GuildID, systemChannelID, afkChannelID shared.ChannelID) error
}

// Config contains configuration for the gateway connection.
type Config struct {
	// Token is the bot token.
	Token string

	// URL overrides the gateway URL (default: official gateway, API v10).
	URL string

	// Intents overrides the gateway intents bitmask.
	Intents int

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// InitialBackoff is the first reconnect delay.
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = defaultGatewayURL
	}
	if c.Intents == 0 {
		c.Intents = defaultIntents
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// Gateway is a single-shard Discord gateway client.
type Gateway struct {
	config   Config
	sink     PresenceSink
	settings SettingsSink
	state    *GuildState
	logger   *slog.Logger

	// Session state carried across reconnects for resume.
	mu        sync.Mutex
	seq       int64
	sessionID string
	resumeURL string
}

// New creates a gateway client. settings may be nil when guild channels
// need not be persisted.
func New(config Config, sink PresenceSink, settings SettingsSink, state *GuildState) (*Gateway, error) {
	if config.Token == "" {
		return nil, errors.New("gateway: token is required")
	}
	if sink == nil {
		return nil, errors.New("gateway: presence sink is required")
	}
	if state == nil {
		state = NewGuildState()
	}

	config = config.withDefaults()

	return &Gateway{
		config:   config,
		sink:     sink,
		settings: settings,
		state:    state,
		logger:   config.Logger,
	}, nil
}

// State returns the shared guild state, mainly for tests and diagnostics.
func (g *Gateway) State() *GuildState {
	return g.state
}

// Run maintains the gateway connection until the context is cancelled,
// reconnecting with exponential backoff on any failure.
func (g *Gateway) Run(ctx context.Context) error {
	backoff := g.config.InitialBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		err := g.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that lived a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = g.config.InitialBackoff
		}

		g.logger.Warn("gateway disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < g.config.MaxBackoff {
			backoff *= 2
			if backoff > g.config.MaxBackoff {
				backoff = g.config.MaxBackoff
			}
		}
	}
}

// runOnce runs a single gateway session to completion.
func (g *Gateway) runOnce(ctx context.Context) error {
	url := g.config.URL
	g.mu.Lock()
	canResume := g.sessionID != ""
	if canResume && g.resumeURL != "" {
		url = g.resumeURL
	}
	g.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: g.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close the socket when the caller shuts down so the read loop unblocks.
	go func() {
		<-sessionCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(2*time.Second))
		_ = conn.Close()
	}()

	ackCh := make(chan struct{}, 1)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gateway read: %w", err)
		}

		op := gjson.GetBytes(msg, "op").Int()

		switch op {
		case opHello:
			interval := time.Duration(gjson.GetBytes(msg, "d.heartbeat_interval").Int()) * time.Millisecond
			if interval <= 0 {
				return errors.New("gateway: hello without heartbeat interval")
			}
			go g.heartbeatLoop(sessionCtx, interval, send, ackCh)

			if canResume {
				if err := g.sendResume(send); err != nil {
					return err
				}
			} else if err := g.sendIdentify(send); err != nil {
				return err
			}

		case opHeartbeat:
			if err := g.sendHeartbeat(send); err != nil {
				return err
			}

		case opHeartbeatAck:
			select {
			case ackCh <- struct{}{}:
			default:
			}

		case opReconnect:
			return errors.New("gateway: server requested reconnect")

		case opInvalidSession:
			resumable := gjson.GetBytes(msg, "d").Bool()
			if !resumable {
				g.mu.Lock()
				g.sessionID = ""
				g.resumeURL = ""
				g.mu.Unlock()
			}
			return errors.New("gateway: invalid session")

		case opDispatch:
			if seq := gjson.GetBytes(msg, "s").Int(); seq > 0 {
				g.mu.Lock()
				g.seq = seq
				g.mu.Unlock()
			}
			g.handleDispatch(ctx, gjson.GetBytes(msg, "t").String(), msg)
		}
	}
}

// heartbeatLoop sends heartbeats at the negotiated interval. A missed ack
// means the connection is a zombie; closing the socket lets the read loop
// fail and Run reconnect.
func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration, send func(interface{}) error, ackCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	acked := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ackCh:
			acked = true
		case <-ticker.C:
			if !acked {
				g.logger.Warn("heartbeat ack missed, dropping connection")
				return
			}
			acked = false
			if err := g.sendHeartbeat(send); err != nil {
				g.logger.Warn("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

func (g *Gateway) sendHeartbeat(send func(interface{}) error) error {
	g.mu.Lock()
	seq := g.seq
	g.mu.Unlock()

	var d interface{}
	if seq > 0 {
		d = seq
	}
	return send(map[string]interface{}{"op": opHeartbeat, "d": d})
}

func (g *Gateway) sendIdentify(send func(interface{}) error) error {
	return send(map[string]interface{}{
		"op": opIdentify,
		"d": map[string]interface{}{
			"token":   g.config.Token,
			"intents": g.config.Intents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "shiva-voice-hub",
				"device":  "shiva-voice-hub",
			},
		},
	})
}

func (g *Gateway) sendResume(send func(interface{}) error) error {
	g.mu.Lock()
	sessionID := g.sessionID
	seq := g.seq
	g.mu.Unlock()

	return send(map[string]interface{}{
		"op": opResume,
		"d": map[string]interface{}{
			"token":      g.config.Token,
			"session_id": sessionID,
			"seq":        seq,
		},
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH HANDLING
// ══════════════════════════════════════════════════════════════════════════════

func (g *Gateway) handleDispatch(ctx context.Context, event string, msg []byte) {
	switch event {
	case "READY":
		g.mu.Lock()
		g.sessionID = gjson.GetBytes(msg, "d.session_id").String()
		g.resumeURL = gjson.GetBytes(msg, "d.resume_gateway_url").String()
		g.mu.Unlock()
		g.logger.Info("gateway ready",
			"session_id", gjson.GetBytes(msg, "d.session_id").String(),
		)

	case "RESUMED":
		g.logger.Info("gateway session resumed")

	case "GUILD_CREATE":
		g.handleGuildCreate(ctx, msg)

	case "GUILD_UPDATE":
		guildID := gjson.GetBytes(msg, "d.id").String()
		afk := gjson.GetBytes(msg, "d.afk_channel_id").String()
		system := gjson.GetBytes(msg, "d.system_channel_id").String()
		g.state.SetAFKChannel(guildID, afk)
		g.syncGuildChannels(ctx, guildID, system, afk)

	case "GUILD_DELETE":
		g.handleGuildDelete(msg)

	case "VOICE_STATE_UPDATE":
		g.handleVoiceStateUpdate(ctx, msg)
	}
}

// handleGuildCreate records the guild's channels and seeds sessions for
// members already connected to voice, so time spent before the bot came
// online still starts counting from now.
func (g *Gateway) handleGuildCreate(ctx context.Context, msg []byte) {
	guildID := gjson.GetBytes(msg, "d.id").String()
	afk := gjson.GetBytes(msg, "d.afk_channel_id").String()
	system := gjson.GetBytes(msg, "d.system_channel_id").String()

	g.state.SetAFKChannel(guildID, afk)
	g.syncGuildChannels(ctx, guildID, system, afk)

	gjson.GetBytes(msg, "d.members").ForEach(func(_, member gjson.Result) bool {
		if member.Get("user.bot").Bool() {
			g.state.MarkBot(member.Get("user.id").String())
		}
		return true
	})

	gjson.GetBytes(msg, "d.voice_states").ForEach(func(_, vs gjson.Result) bool {
		update := VoiceUpdate{
			UserID:    vs.Get("user_id").String(),
			GuildID:   guildID,
			ChannelID: vs.Get("channel_id").String(),
		}
		g.applyTransitions(ctx, g.state.Apply(update))
		return true
	})

	g.logger.Info("guild available",
		"guild_id", guildID,
		"afk_channel_id", afk,
		"system_channel_id", system,
	)
}

// handleGuildDelete drops tracked voice locations for the guild. Whether
// the guild went unavailable or kicked the bot, its members' states can no
// longer be trusted; a later GUILD_CREATE reseeds them.
func (g *Gateway) handleGuildDelete(msg []byte) {
	guildID := gjson.GetBytes(msg, "d.id").String()
	forgotten := g.state.ForgetGuild(guildID)

	g.logger.Info("guild unavailable",
		"guild_id", guildID,
		"unavailable", gjson.GetBytes(msg, "d.unavailable").Bool(),
		"forgotten_members", forgotten,
	)
}

// syncGuildChannels persists observed guild channels, best-effort.
func (g *Gateway) syncGuildChannels(ctx context.Context, guildID, systemChannelID, afkChannelID string) {
	if g.settings == nil {
		return
	}
	err := g.settings.SyncChannels(ctx,
		shared.GuildID(guildID),
		shared.ChannelID(systemChannelID),
		shared.ChannelID(afkChannelID),
	)
	if err != nil {
		g.logger.Warn("guild channel sync failed",
			"guild_id", guildID,
			"error", err,
		)
	}
}

func (g *Gateway) handleVoiceStateUpdate(ctx context.Context, msg []byte) {
	update := VoiceUpdate{
		UserID:    gjson.GetBytes(msg, "d.user_id").String(),
		GuildID:   gjson.GetBytes(msg, "d.guild_id").String(),
		ChannelID: gjson.GetBytes(msg, "d.channel_id").String(),
		IsBot:     gjson.GetBytes(msg, "d.member.user.bot").Bool(),
	}

	g.applyTransitions(ctx, g.state.Apply(update))
}

// applyTransitions feeds diffed boundary events to the application layer.
// Errors are logged and swallowed; a broken downstream must not kill the
// gateway read loop.
func (g *Gateway) applyTransitions(ctx context.Context, transitions []Transition) {
	for _, t := range transitions {
		switch t.Kind {
		case TransitionEnter:
			if err := g.sink.HandleEnter(ctx, t.State); err != nil {
				g.logger.Warn("enter handling failed",
					"user_id", t.State.UserID.String(),
					"error", err,
				)
			}
		case TransitionLeave:
			if _, err := g.sink.HandleLeave(ctx, t.State); err != nil {
				g.logger.Warn("leave handling failed",
					"user_id", t.State.UserID.String(),
					"error", err,
				)
			}
		}
	}
}
