package rcon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"
)

// ConnectionState tracks the transport lifecycle.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateDestroying
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDestroying:
		return "destroying"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ReconnectConfig controls the backoff loop after a lost connection.
type ReconnectConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxAttempts  int
}

// ConnectionConfig holds transport parameters.
type ConnectionConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	Reconnect      ReconnectConfig
}

func (c *ConnectionConfig) withDefaults() ConnectionConfig {
	out := *c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.Reconnect.InitialDelay <= 0 {
		out.Reconnect.InitialDelay = time.Second
	}
	if out.Reconnect.MaxDelay <= 0 {
		out.Reconnect.MaxDelay = 30 * time.Second
	}
	if out.Reconnect.Multiplier <= 1 {
		out.Reconnect.Multiplier = 2
	}
	if out.Reconnect.Jitter < 0 || out.Reconnect.Jitter > 1 {
		out.Reconnect.Jitter = 0
	}
	return out
}

// Connection owns the TCP socket, the read pump and the reconnect state
// machine. Frame boundary discovery belongs to the engine: every chunk
// read off the socket is handed to the OnData callback verbatim.
type Connection struct {
	cfg    ConnectionConfig
	logger zerolog.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context) (net.Conn, error)

	onData        func([]byte)
	onStateChange func(old, new ConnectionState)
	// authenticate runs the engine's handshake once the socket is up.
	authenticate func(ctx context.Context) error

	mu            sync.Mutex
	state         ConnectionState
	conn          net.Conn
	autoReconnect bool
	everConnected bool
	destroyed     bool
	readerDone    chan struct{}

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// NewConnection builds a connection. The callbacks must be set before
// Connect: onData receives raw socket chunks, authenticate performs the
// handshake, onStateChange observes transitions (may be nil).
func NewConnection(cfg ConnectionConfig, onData func([]byte), authenticate func(ctx context.Context) error, onStateChange func(old, new ConnectionState)) *Connection {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		cfg:           cfg,
		logger:        log.With().Str("component", "RconConnection").Str("host", cfg.Host).Int("port", cfg.Port).Logger(),
		onData:        onData,
		onStateChange: onStateChange,
		authenticate:  authenticate,
		autoReconnect: cfg.Reconnect.Enabled,
		lifeCtx:       ctx,
		lifeCancel:    cancel,
	}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: cfg.ConnectTimeout}
		return d.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)))
	}
	return c
}

// SetDialer overrides the TCP dialer; used by tests with net.Pipe.
func (c *Connection) SetDialer(dial func(ctx context.Context) (net.Conn, error)) {
	c.dial = dial
}

func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(next ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		c.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("Connection state changed")
		if c.onStateChange != nil {
			c.onStateChange(prev, next)
		}
	}
}

// Connect dials, runs the handshake and starts the read pump. Failures
// before the connected state are returned to the caller; an auth failure
// is terminal and never schedules a reconnect.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.state != StateDisconnected && c.state != StateReconnecting {
		c.mu.Unlock()
		return oops.With("state", c.state.String()).Errorf("connect called in state %s", c.state)
	}
	c.mu.Unlock()

	return c.establish(ctx)
}

func (c *Connection) establish(ctx context.Context) error {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.dial(dialCtx)
	cancel()
	if err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return oops.In("rcon").With("host", c.cfg.Host).Wrapf(err, "dial failed")
	}

	c.mu.Lock()
	c.conn = conn
	c.readerDone = make(chan struct{})
	done := c.readerDone
	c.mu.Unlock()

	go c.readLoop(conn, done)

	c.setState(StateAuthenticating)
	if err := c.authenticate(ctx); err != nil {
		c.closeConn()
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.everConnected = true
	c.mu.Unlock()
	c.setState(StateConnected)
	c.logger.Info().Msg("RCON connection established")
	return nil
}

func (c *Connection) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.onData(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn().Err(err).Msg("Socket read error")
			}
			c.handleDisconnect(err)
			return
		}
	}
}

// handleDisconnect reacts to a socket close or error from the read pump.
func (c *Connection) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.destroyed || c.state == StateDisconnected || c.state == StateDestroying {
		c.mu.Unlock()
		return
	}
	shouldReconnect := c.autoReconnect && c.everConnected
	c.conn = nil
	c.mu.Unlock()

	if shouldReconnect {
		c.setState(StateReconnecting)
		go c.reconnectLoop()
	} else {
		c.setState(StateDisconnected)
	}
}

func (c *Connection) reconnectLoop() {
	delay := c.cfg.Reconnect.InitialDelay
	attempt := 0
	for {
		attempt++
		if c.cfg.Reconnect.MaxAttempts > 0 && attempt > c.cfg.Reconnect.MaxAttempts {
			c.logger.Error().Int("attempts", attempt-1).Msg("Reconnect attempts exhausted")
			c.setState(StateDisconnected)
			return
		}

		select {
		case <-c.lifeCtx.Done():
			return
		case <-time.After(jitteredDelay(delay, c.cfg.Reconnect.Jitter)):
		}

		c.mu.Lock()
		if c.destroyed || !c.autoReconnect {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting")
		err := c.establish(c.lifeCtx)
		if err == nil {
			return
		}
		if errors.Is(err, ErrAuthFailed) {
			c.logger.Error().Msg("Authentication failed during reconnect, giving up")
			return
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
		c.setState(StateReconnecting)

		delay = time.Duration(float64(delay) * c.cfg.Reconnect.Multiplier)
		if delay > c.cfg.Reconnect.MaxDelay {
			delay = c.cfg.Reconnect.MaxDelay
		}
	}
}

// jitteredDelay applies symmetric jitter in [-j*d, +j*d].
func jitteredDelay(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	offset := (rand.Float64()*2 - 1) * jitter * float64(d)
	out := time.Duration(float64(d) + offset)
	if out < 0 {
		out = 0
	}
	return out
}

// Write sends bytes on the socket. Valid while authenticating (the
// handshake writes its own frame) and connected.
func (c *Connection) Write(b []byte) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || (state != StateConnected && state != StateAuthenticating) {
		return ErrNotConnected
	}
	if _, err := conn.Write(b); err != nil {
		return oops.In("rcon").Wrapf(err, "socket write failed")
	}
	return nil
}

// Disconnect closes the socket and disables auto-reconnect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.autoReconnect = false
	c.mu.Unlock()
	c.closeConn()
	c.setState(StateDisconnected)
}

// Destroy is the forcible, idempotent teardown. No reconnect may be
// scheduled after it returns.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.autoReconnect = false
	c.mu.Unlock()

	c.setState(StateDestroying)
	c.lifeCancel()
	c.closeConn()
	c.setState(StateDisconnected)
}

func (c *Connection) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	done := c.readerDone
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
