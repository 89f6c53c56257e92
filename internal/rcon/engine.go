package rcon

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

// CommandConfig controls per-command dispatch.
type CommandConfig struct {
	Timeout time.Duration
	Retries int
}

// HeartbeatConfig controls the keepalive command issued while connected.
type HeartbeatConfig struct {
	Enabled  bool
	Interval time.Duration
	Command  string
}

// EngineConfig bundles everything the engine needs.
type EngineConfig struct {
	Connection ConnectionConfig
	Password   string
	Command    CommandConfig
	Heartbeat  HeartbeatConfig
}

type commandResult struct {
	body string
	err  error
}

type pendingCommand struct {
	seq     uint16
	command string
	sentAt  time.Time
	buf     bytes.Buffer
	done    chan commandResult
}

type authWaiter struct {
	seq  uint16
	done chan error
}

// Engine multiplexes commands over one RCON connection: sequence
// allocation, the auth handshake, multi-frame response assembly, chat
// demultiplexing and the heartbeat. It is the sole owner of the read
// buffer and the pending-command map.
type Engine struct {
	cfg    EngineConfig
	logger zerolog.Logger
	events *event_manager.EventManager
	conn   *Connection

	// onChatBody receives unsolicited chat-frame bodies.
	onChatBody func(body string, observed time.Time)

	mu       sync.Mutex
	buf      []byte
	skipLeft int
	seq      uint16
	pending  map[uint16]*pendingCommand
	auth     *authWaiter

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
}

// NewEngine builds an engine. onChatBody may be nil.
func NewEngine(cfg EngineConfig, events *event_manager.EventManager, onChatBody func(body string, observed time.Time)) *Engine {
	if cfg.Command.Timeout <= 0 {
		cfg.Command.Timeout = 10 * time.Second
	}
	if cfg.Heartbeat.Interval <= 0 {
		cfg.Heartbeat.Interval = 30 * time.Second
	}
	e := &Engine{
		cfg:        cfg,
		logger:     log.With().Str("component", "RconEngine").Str("host", cfg.Connection.Host).Logger(),
		events:     events,
		onChatBody: onChatBody,
		pending:    make(map[uint16]*pendingCommand),
	}
	e.conn = NewConnection(cfg.Connection, e.handleData, e.authenticate, e.handleStateChange)
	return e
}

// Connection exposes the transport, mainly so tests can swap the dialer.
func (e *Engine) Connection() *Connection { return e.conn }

func (e *Engine) State() ConnectionState { return e.conn.State() }

func (e *Engine) Connect(ctx context.Context) error { return e.conn.Connect(ctx) }

func (e *Engine) Disconnect() { e.conn.Disconnect() }

func (e *Engine) Destroy() {
	e.conn.Destroy()
	e.abortPending("connection destroyed")
}

// nextSeq allocates the next 16-bit sequence, wrapping 65535 to 1 and
// never producing 0.
func (e *Engine) nextSeq() uint16 {
	if e.seq == 65535 {
		e.seq = 1
	} else {
		e.seq++
	}
	return e.seq
}

// handleData is the socket read callback: append, then drain complete
// frames off the buffer head.
func (e *Engine) handleData(chunk []byte) {
	e.mu.Lock()
	e.buf = append(e.buf, chunk...)

	for {
		if e.skipLeft > 0 {
			n := e.skipLeft
			if n > len(e.buf) {
				n = len(e.buf)
			}
			e.buf = e.buf[n:]
			e.skipLeft -= n
			if e.skipLeft > 0 {
				break
			}
		}

		if IsBrokenStub(e.buf) {
			e.logger.Debug().Msg("Skipping broken frame stub")
			e.buf = e.buf[BrokenStubLen:]
			continue
		}

		frame, consumed, err := Decode(e.buf)
		if err != nil {
			if _, incomplete := err.(*IncompleteError); incomplete {
				break
			}
			if err == ErrSizeExceeded {
				total := int(4 + binary.LittleEndian.Uint32(e.buf[0:4]))
				e.logger.Warn().Int("frameSize", total).Msg("Dropping oversized frame")
				e.skipLeft = total
				continue
			}
			e.logger.Warn().Err(err).Msg("Malformed frame, skipping one byte")
			e.buf = e.buf[1:]
			continue
		}

		e.buf = e.buf[consumed:]
		e.dispatchLocked(frame)
	}
	e.mu.Unlock()
}

// dispatchLocked routes one decoded frame. Caller holds e.mu.
func (e *Engine) dispatchLocked(frame Frame) {
	if frame.Type == TypeChatValue {
		body := string(frame.Body)
		e.mu.Unlock()
		if e.onChatBody != nil {
			e.onChatBody(body, time.Now())
		}
		e.mu.Lock()
		return
	}

	if e.auth != nil {
		if frame.ID == IDAuthFailed {
			e.finishAuthLocked(ErrAuthFailed)
			return
		}
		if frame.Type == TypeAuthResponse && frame.Count == e.auth.seq {
			e.finishAuthLocked(nil)
			return
		}
		if frame.Type == TypeResponseValue && frame.ID == IDMid {
			// Acknowledgement some server builds send before the auth
			// response; discard.
			return
		}
	}

	if frame.Type != TypeResponseValue {
		e.logger.Trace().Int32("type", frame.Type).Msg("Discarding unexpected frame type")
		return
	}

	cmd, ok := e.pending[frame.Count]
	if !ok {
		// Late frame for a timed-out or aborted command.
		e.logger.Trace().Uint16("seq", frame.Count).Msg("Discarding frame with no pending command")
		return
	}

	switch frame.ID {
	case IDMid:
		cmd.buf.Write(frame.Body)
	case IDEnd:
		cmd.buf.Write(frame.Body)
		delete(e.pending, frame.Count)
		cmd.done <- commandResult{body: cmd.buf.String()}
	default:
		e.logger.Trace().Int16("id", frame.ID).Msg("Discarding response frame with unknown id")
	}
}

func (e *Engine) finishAuthLocked(err error) {
	if e.auth == nil {
		return
	}
	e.auth.done <- err
	e.auth = nil
}

// authenticate runs the handshake; invoked by the connection once the
// socket is up.
func (e *Engine) authenticate(ctx context.Context) error {
	e.mu.Lock()
	seq := e.nextSeq()
	waiter := &authWaiter{seq: seq, done: make(chan error, 1)}
	e.auth = waiter
	e.mu.Unlock()

	if err := e.conn.Write(EncodeAuth(seq, e.cfg.Password)); err != nil {
		e.mu.Lock()
		e.auth = nil
		e.mu.Unlock()
		return err
	}

	timeout := e.cfg.Command.Timeout
	select {
	case err := <-waiter.done:
		if err != nil {
			e.logger.Error().Msg("RCON authentication rejected")
		}
		return err
	case <-time.After(timeout):
		e.mu.Lock()
		e.auth = nil
		e.mu.Unlock()
		return ErrAuthTimeout
	case <-ctx.Done():
		e.mu.Lock()
		e.auth = nil
		e.mu.Unlock()
		return ctx.Err()
	}
}

// ExecuteRaw sends one command and waits for its assembled response.
// No retries; see Execute.
func (e *Engine) ExecuteRaw(ctx context.Context, command string) (string, error) {
	if e.conn.State() != StateConnected {
		return "", ErrNotConnected
	}

	e.mu.Lock()
	seq := e.nextSeq()
	cmd := &pendingCommand{
		seq:     seq,
		command: command,
		sentAt:  time.Now(),
		done:    make(chan commandResult, 1),
	}
	e.pending[seq] = cmd
	e.mu.Unlock()

	if err := e.conn.Write(EncodeCommand(seq, command)); err != nil {
		e.removePending(seq)
		return "", err
	}

	select {
	case res := <-cmd.done:
		return res.body, res.err
	case <-time.After(e.cfg.Command.Timeout):
		e.removePending(seq)
		e.logger.Warn().Str("command", firstWord(command)).Uint16("seq", seq).Msg("Command timed out")
		return "", ErrCommandTimeout
	case <-ctx.Done():
		e.removePending(seq)
		return "", ctx.Err()
	}
}

// Execute dispatches a command, retrying recoverable failures up to the
// configured count.
func (e *Engine) Execute(ctx context.Context, command string) (string, error) {
	var lastErr error
	attempts := e.cfg.Command.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := e.ExecuteRaw(ctx, command)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsRecoverable(err) || ctx.Err() != nil {
			return "", err
		}
		if attempt < attempts {
			e.logger.Debug().
				Str("command", firstWord(command)).
				Int("attempt", attempt).
				Err(err).
				Msg("Retrying command")
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

func (e *Engine) removePending(seq uint16) {
	e.mu.Lock()
	delete(e.pending, seq)
	e.mu.Unlock()
}

// abortPending fails every in-flight command in one pass.
func (e *Engine) abortPending(reason string) {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[uint16]*pendingCommand)
	auth := e.auth
	e.auth = nil
	e.mu.Unlock()

	for _, cmd := range pending {
		cmd.done <- commandResult{err: &AbortedError{Reason: reason}}
	}
	if auth != nil {
		auth.done <- &AbortedError{Reason: reason}
	}
}

func (e *Engine) handleStateChange(old, new ConnectionState) {
	if old == StateConnected && new != StateConnected {
		e.abortPending("connection lost")
		e.stopHeartbeat()
		if e.events != nil {
			e.events.Publish(event_manager.NewRconLifecycleData(event_manager.EventTypeRconDisconnected, new.String()), "")
		}
	}
	if new == StateConnected {
		e.startHeartbeat()
		if e.events != nil {
			e.events.Publish(event_manager.NewRconLifecycleData(event_manager.EventTypeRconConnected, ""), "")
		}
	}
}

func (e *Engine) startHeartbeat() {
	if !e.cfg.Heartbeat.Enabled {
		return
	}
	e.hbMu.Lock()
	if e.hbCancel != nil {
		e.hbMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.hbCancel = cancel
	e.hbMu.Unlock()

	go func() {
		ticker := time.NewTicker(e.cfg.Heartbeat.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.conn.State() != StateConnected {
					continue
				}
				if _, err := e.ExecuteRaw(ctx, e.cfg.Heartbeat.Command); err != nil {
					// Transport-level failures drive the reconnect loop
					// on their own; the heartbeat only observes.
					e.logger.Warn().Err(err).Msg("Heartbeat command failed")
				}
			}
		}
	}()
}

func (e *Engine) stopHeartbeat() {
	e.hbMu.Lock()
	if e.hbCancel != nil {
		e.hbCancel()
		e.hbCancel = nil
	}
	e.hbMu.Unlock()
}

func firstWord(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i]
		}
	}
	return s
}
