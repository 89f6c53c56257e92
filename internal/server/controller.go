// Package server owns the per-server component graph: the RCON engine,
// the log pipeline, the state services and everything that consumes
// them. The controller walks one lifecycle, Created through Stopped.
package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/logparser"
	"github.com/CalmProton/SquadScript-sub001/internal/logqueue"
	"github.com/CalmProton/SquadScript-sub001/internal/logsource"
	"github.com/CalmProton/SquadScript-sub001/internal/persistence"
	"github.com/CalmProton/SquadScript-sub001/internal/plugin_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon/rconparser"
	"github.com/CalmProton/SquadScript-sub001/internal/scheduler"
	"github.com/CalmProton/SquadScript-sub001/internal/state"
)

// State is the controller lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var ErrNotRunning = errors.New("server: controller is not running")

// Components is the wired graph the controller supervises. Events,
// Engine, Source, Queue, Parser, the state services and Scheduler are
// required; Plugins, Drain, Hub and Snapshots are optional.
type Components struct {
	Events  *event_manager.EventManager
	Engine  *rcon.Engine
	Source  logsource.Source
	Queue   *logqueue.Queue
	Parser  *logparser.Engine
	Players *state.PlayerService
	Squads  *state.SquadService
	Layers  *state.LayerService
	Sched   *scheduler.Scheduler

	Plugins   *plugin_manager.Manager
	Drain     *persistence.Drain
	Hub       *Hub
	Snapshots *SnapshotPublisher
}

// BuildConfig parameterizes BuildComponents.
type BuildConfig struct {
	Rcon          rcon.EngineConfig
	QueueCapacity int
	Parser        logparser.Config
	LayerHistory  int
	AdminEOSIDs   []string
}

// BuildComponents assembles the standard graph around an event manager
// and a log source. The RCON chat stream is demultiplexed into typed
// bus events; log lines flow source -> queue -> parser -> bus.
func BuildComponents(cfg BuildConfig, source logsource.Source) *Components {
	events := event_manager.NewEventManager()

	engine := rcon.NewEngine(cfg.Rcon, events, func(body string, observed time.Time) {
		if data, ok := rconparser.ParseChatBody(body, observed); ok {
			events.Publish(data, body)
		}
	})

	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10000
	}
	queue := logqueue.New(cfg.QueueCapacity)
	parser := logparser.NewEngine(cfg.Parser, queue, events)

	players := state.NewPlayerService(events)
	squads := state.NewSquadService(events)
	layers := state.NewLayerService(events, cfg.LayerHistory)

	// Disconnect and possess log records feed the player service: a
	// marked disconnect arms removal on the next poll that misses the
	// player, and possession carries the in-game name suffix.
	events.On(event_manager.EventTypeLogPlayerDisconnected, func(e event_manager.Event) {
		if d, ok := e.Data.(*event_manager.LogPlayerDisconnectedData); ok && d.EOSID != "" {
			players.MarkDisconnected(d.EOSID)
		}
	})
	events.On(event_manager.EventTypeLogPlayerPossess, func(e event_manager.Event) {
		if d, ok := e.Data.(*event_manager.LogPlayerPossessData); ok && d.EOSID != "" {
			players.ApplyPossess(d.EOSID, d.PlayerSuffix)
		}
	})

	sched := scheduler.New()
	var admins scheduler.AdminSource
	if len(cfg.AdminEOSIDs) > 0 {
		admins = NewStaticAdminSource(cfg.AdminEOSIDs)
	}
	scheduler.RegisterDefaults(sched, scheduler.Deps{
		Commander: engine,
		Players:   players,
		Squads:    squads,
		Layers:    layers,
		Events:    events,
		Admins:    admins,
	})

	c := &Components{
		Events:  events,
		Engine:  engine,
		Source:  source,
		Queue:   queue,
		Parser:  parser,
		Players: players,
		Squads:  squads,
		Layers:  layers,
		Sched:   sched,
	}
	c.Plugins = plugin_manager.NewManager(
		events,
		NewRconExecutor(engine),
		plugin_manager.NewStateView(players, squads, layers),
	)
	c.Hub = NewHub(events)
	return c
}

// Controller drives the component graph through its lifecycle and
// publishes the transitions on the bus.
type Controller struct {
	c      *Components
	state  atomic.Int32
	cancel context.CancelFunc
	group  *errgroup.Group
	logger zerolog.Logger
}

func NewController(c *Components) *Controller {
	ctl := &Controller{
		c:      c,
		logger: log.With().Str("component", "Controller").Logger(),
	}
	ctl.state.Store(int32(StateCreated))
	return ctl
}

func (ctl *Controller) State() State { return State(ctl.state.Load()) }

func (ctl *Controller) setState(s State) {
	ctl.state.Store(int32(s))
	ctl.logger.Info().Str("state", s.String()).Msg("Controller state changed")
}

func (ctl *Controller) publishLifecycle(kind event_manager.EventType, reason string) {
	ctl.c.Events.Publish(event_manager.NewServerLifecycleData(kind, reason), "")
}

// Start brings every component up. On any init failure the controller
// lands in Error, publishes SERVER_ERROR and tears down what started.
func (ctl *Controller) Start(ctx context.Context) error {
	if State(ctl.state.Load()) != StateCreated {
		return errors.New("server: controller already started")
	}
	ctl.setState(StateStarting)
	ctl.publishLifecycle(event_manager.EventTypeServerStarting, "")

	runCtx, cancel := context.WithCancel(ctx)
	ctl.cancel = cancel
	ctl.group, runCtx = errgroup.WithContext(runCtx)

	if err := ctl.c.Engine.Connect(runCtx); err != nil {
		return ctl.fail("rcon connect", err)
	}
	lineFn := logsource.LineFunc(ctl.c.Queue.Enqueue)
	if ctl.c.Hub != nil {
		queue, hub := ctl.c.Queue, ctl.c.Hub
		lineFn = func(line string) {
			queue.Enqueue(line)
			hub.RawLine(line)
		}
	}
	if err := ctl.c.Source.Watch(lineFn); err != nil {
		ctl.c.Engine.Destroy()
		return ctl.fail("log source watch", err)
	}

	ctl.c.Parser.Start()
	if ctl.c.Drain != nil {
		ctl.c.Drain.Start(runCtx)
	}
	if ctl.c.Hub != nil {
		hub := ctl.c.Hub
		ctl.group.Go(func() error {
			hub.Run(runCtx)
			return nil
		})
	}
	if ctl.c.Snapshots != nil {
		snapshots := ctl.c.Snapshots
		ctl.group.Go(func() error {
			snapshots.Run(runCtx)
			return nil
		})
	}

	ctl.c.Sched.StartAll(runCtx)
	if ctl.c.Plugins != nil {
		ctl.c.Plugins.StartAll(runCtx)
	}

	ctl.setState(StateRunning)
	ctl.publishLifecycle(event_manager.EventTypeServerReady, "")
	return nil
}

func (ctl *Controller) fail(stage string, err error) error {
	ctl.logger.Error().Err(err).Str("stage", stage).Msg("Controller start failed")
	ctl.setState(StateError)
	ctl.publishLifecycle(event_manager.EventTypeServerError, stage+": "+err.Error())
	if ctl.cancel != nil {
		ctl.cancel()
	}
	return err
}

// Stop tears the graph down in reverse dependency order: producers
// first, then the pipeline, then the consumers.
func (ctl *Controller) Stop(ctx context.Context) error {
	if State(ctl.state.Load()) != StateRunning {
		return ErrNotRunning
	}
	ctl.setState(StateStopping)
	ctl.publishLifecycle(event_manager.EventTypeServerStopping, "")

	if ctl.c.Plugins != nil {
		ctl.c.Plugins.StopAll()
	}
	ctl.c.Sched.Stop()

	if err := ctl.c.Source.Unwatch(); err != nil {
		ctl.logger.Warn().Err(err).Msg("Log source unwatch failed")
	}
	ctl.c.Parser.Stop()

	if ctl.c.Drain != nil {
		ctl.c.Drain.Stop(ctx)
	}
	ctl.c.Engine.Destroy()

	if ctl.cancel != nil {
		ctl.cancel()
	}
	if ctl.group != nil {
		ctl.group.Wait()
	}
	if ctl.c.Snapshots != nil && ctl.c.Snapshots.store != nil {
		ctl.c.Snapshots.store.Close()
	}

	ctl.setState(StateStopped)
	ctl.publishLifecycle(event_manager.EventTypeServerStopped, "")
	return nil
}
