package plugin_manager

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/state"
)

// CommandExecutor is the slice of the RCON surface plugins may drive.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) (string, error)
	Broadcast(ctx context.Context, message string) error
	WarnPlayer(ctx context.Context, eosID, message string) error
	KickPlayer(ctx context.Context, eosID, reason string) error
}

// ErrCommandNotAllowed rejects raw commands outside the allow list.
var ErrCommandNotAllowed = errors.New("plugin_manager: command not allowed")

// Raw commands a plugin may issue through Execute. Everything mutating
// beyond warn/broadcast must go through the typed methods.
var allowedCommandPrefixes = []string{
	"ListPlayers",
	"ListSquads",
	"ShowCurrentMap",
	"ShowNextMap",
	"ShowServerInfo",
	"AdminBroadcast ",
	"AdminWarn ",
}

// restrictedExecutor enforces the allow list in front of the real
// executor.
type restrictedExecutor struct {
	inner CommandExecutor
}

func (r *restrictedExecutor) Execute(ctx context.Context, command string) (string, error) {
	for _, prefix := range allowedCommandPrefixes {
		if strings.HasPrefix(command, prefix) {
			return r.inner.Execute(ctx, command)
		}
	}
	return "", ErrCommandNotAllowed
}

func (r *restrictedExecutor) Broadcast(ctx context.Context, message string) error {
	return r.inner.Broadcast(ctx, message)
}

func (r *restrictedExecutor) WarnPlayer(ctx context.Context, eosID, message string) error {
	return r.inner.WarnPlayer(ctx, eosID, message)
}

func (r *restrictedExecutor) KickPlayer(ctx context.Context, eosID, reason string) error {
	return r.inner.KickPlayer(ctx, eosID, reason)
}

// StateView is the read-only window onto the state services.
type StateView interface {
	Player(eosID string) (state.Player, bool)
	PlayerBySteamID(steamID string) (state.Player, bool)
	Players() []state.Player
	PlayersOnTeam(teamID int64) []state.Player
	PlayerCount() int
	Squad(key state.SquadKey) (state.Squad, bool)
	Squads() []state.Squad
	SquadCount() int
	CurrentLayer() (state.Layer, bool)
	NextLayer() (state.Layer, bool)
}

type stateView struct {
	players *state.PlayerService
	squads  *state.SquadService
	layers  *state.LayerService
}

// NewStateView wraps the live services in the read-only interface.
func NewStateView(players *state.PlayerService, squads *state.SquadService, layers *state.LayerService) StateView {
	return &stateView{players: players, squads: squads, layers: layers}
}

func (v *stateView) Player(eosID string) (state.Player, bool) { return v.players.Get(eosID) }
func (v *stateView) PlayerBySteamID(steamID string) (state.Player, bool) {
	return v.players.GetBySteamID(steamID)
}
func (v *stateView) Players() []state.Player { return v.players.Players() }
func (v *stateView) PlayersOnTeam(teamID int64) []state.Player {
	return v.players.PlayersOnTeam(teamID)
}
func (v *stateView) PlayerCount() int                             { return v.players.Count() }
func (v *stateView) Squad(key state.SquadKey) (state.Squad, bool) { return v.squads.Get(key) }
func (v *stateView) Squads() []state.Squad                        { return v.squads.Squads() }
func (v *stateView) SquadCount() int                              { return v.squads.Count() }
func (v *stateView) CurrentLayer() (state.Layer, bool)            { return v.layers.Current() }
func (v *stateView) NextLayer() (state.Layer, bool)               { return v.layers.Next() }

// LogLevel orders the six plugin log levels.
type LogLevel int8

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelVerbose
	LevelDebug
	LevelTrace
)

// ParseLogLevel maps a config string to a level; unknown strings get
// info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "verbose":
		return LevelVerbose
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	default:
		return LevelInfo
	}
}

// ScopedLogger is the per-plugin logger with its own verbosity gate.
type ScopedLogger struct {
	logger zerolog.Logger
	level  LogLevel
}

func NewScopedLogger(logger zerolog.Logger, level LogLevel) *ScopedLogger {
	return &ScopedLogger{logger: logger, level: level}
}

func (l *ScopedLogger) Error(msg string, err error, fields map[string]any) {
	l.logger.Error().Err(err).Fields(fields).Msg(msg)
}

func (l *ScopedLogger) Warn(msg string, fields map[string]any) {
	if l.level < LevelWarn {
		return
	}
	l.logger.Warn().Fields(fields).Msg(msg)
}

func (l *ScopedLogger) Info(msg string, fields map[string]any) {
	if l.level < LevelInfo {
		return
	}
	l.logger.Info().Fields(fields).Msg(msg)
}

func (l *ScopedLogger) Verbose(msg string, fields map[string]any) {
	if l.level < LevelVerbose {
		return
	}
	l.logger.Debug().Bool("verbose", true).Fields(fields).Msg(msg)
}

func (l *ScopedLogger) Debug(msg string, fields map[string]any) {
	if l.level < LevelDebug {
		return
	}
	l.logger.Debug().Fields(fields).Msg(msg)
}

func (l *ScopedLogger) Trace(msg string, fields map[string]any) {
	if l.level < LevelTrace {
		return
	}
	l.logger.Trace().Fields(fields).Msg(msg)
}

// Subscription is the lifetime handle of one bus subscription made
// through the context.
type Subscription struct {
	off  func()
	done bool
}

// Cancel removes the subscription; safe to call twice.
func (s *Subscription) Cancel() {
	if s.done {
		return
	}
	s.done = true
	s.off()
}

// PluginContext is the facade handed to every plugin: the event bus
// with explicit subscription handles, a restricted command executor, a
// read-only state view and a scoped logger.
type PluginContext struct {
	events   *event_manager.EventManager
	Commands CommandExecutor
	State    StateView
	Logger   *ScopedLogger
}

func NewPluginContext(events *event_manager.EventManager, exec CommandExecutor, view StateView, logger *ScopedLogger) *PluginContext {
	return &PluginContext{
		events:   events,
		Commands: &restrictedExecutor{inner: exec},
		State:    view,
		Logger:   logger,
	}
}

// Subscribe registers a handler for one event type and returns its
// lifetime handle.
func (c *PluginContext) Subscribe(t event_manager.EventType, fn func(event_manager.Event)) (*Subscription, error) {
	off, err := c.events.On(t, fn)
	if err != nil {
		return nil, err
	}
	return &Subscription{off: off}, nil
}

// Publish lets a plugin emit its own event onto the bus.
func (c *PluginContext) Publish(data event_manager.EventData, raw string) {
	c.events.Publish(data, raw)
}
