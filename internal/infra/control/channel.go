// File: internal/infra/control/channel.go
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/config"
	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/adapter"
	"telegram-bot-manager/internal/infra/metrics"
)

var _ adapter.ControlPublisher = (*Channel)(nil)

// CommandHandler executes one inbound command.
type CommandHandler interface {
	Dispatch(ctx context.Context, env model.Envelope) error
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, env model.Envelope) error

func (f HandlerFunc) Dispatch(ctx context.Context, env model.Envelope) error { return f(ctx, env) }

// Dispatcher runs tasks with per-key ordering. Implemented by worker.Pool.
type Dispatcher interface {
	Submit(key string, task func(ctx context.Context) error) error
}

// Channel is the duplex link to the control plane. It redials forever with a
// fixed delay; notifications published while it is down are dropped.
type Channel struct {
	url            string
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	tokens         *TokenSource

	handler  CommandHandler
	dispatch Dispatcher
	log      *zerolog.Logger

	mu     sync.Mutex // guards conn and serializes writes
	conn   *websocket.Conn
	closed bool
}

func NewChannel(cfg config.ControlConfig, handler CommandHandler, dispatch Dispatcher, logger *zerolog.Logger) *Channel {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	var tokens *TokenSource
	if cfg.SharedSecret != "" {
		tokens = NewTokenSource(cfg.SharedSecret, cfg.TokenTTL)
	}
	l := logger.With().Str("component", "ControlChannel").Logger()
	return &Channel{
		url:            cfg.URL,
		reconnectDelay: delay,
		writeTimeout:   wt,
		pingInterval:   30 * time.Second,
		dialer:         &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		tokens:         tokens,
		handler:        handler,
		dispatch:       dispatch,
		log:            &l,
	}
}

// Run connects and serves until ctx is done or Close is called.
func (c *Channel) Run(ctx context.Context) error {
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		c.log.Warn().Err(err).Dur("retry_in", c.reconnectDelay).Msg("control channel down")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
		metrics.IncControlReconnect()
	}
}

func (c *Channel) serve(ctx context.Context) error {
	header := http.Header{}
	if c.tokens != nil {
		tok, err := c.tokens.Mint()
		if err != nil {
			return fmt.Errorf("mint control token: %w", err)
		}
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()
	metrics.SetControlConnected(true)
	c.log.Info().Str("url", c.url).Msg("control channel connected")

	readDone := make(chan struct{})
	defer func() {
		close(readDone)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		metrics.SetControlConnected(false)
	}()

	go c.keepalive(ctx, conn, readDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(ctx, data)
	}
}

// keepalive pings the peer and unblocks the reader when ctx ends.
func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn, readDone <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) handleFrame(ctx context.Context, data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("malformed control frame ignored")
		metrics.IncControlFrame("in", "malformed")
		return
	}
	metrics.IncControlFrame("in", env.Type)

	task := func(ctx context.Context) error {
		if err := c.handler.Dispatch(ctx, env); err != nil {
			c.log.Warn().Err(err).Str("type", env.Type).Msg("command failed")
		}
		return nil
	}
	if c.dispatch == nil {
		_ = task(ctx)
		return
	}
	if err := c.dispatch.Submit(commandKey(env), task); err != nil {
		c.log.Warn().Err(err).Str("type", env.Type).Msg("command dropped")
	}
}

// commandKey orders commands per bot; commands without a bot share one queue.
func commandKey(env model.Envelope) string {
	var ref struct {
		BotID string `json:"bot_id"`
	}
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &ref) == nil && ref.BotID != "" {
		return "bot:" + ref.BotID
	}
	return "control"
}

// Publish sends n if the channel is open; otherwise it returns
// domain.ErrChannelDisconnected and the notification is lost.
func (c *Channel) Publish(n model.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode %s: %w", n.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		metrics.IncControlFrame("dropped", n.Type)
		return domain.ErrChannelDisconnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		metrics.IncControlFrame("dropped", n.Type)
		_ = c.conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrChannelDisconnected, err)
	}
	metrics.IncControlFrame("out", n.Type)
	return nil
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close sends a close frame and stops reconnecting. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
