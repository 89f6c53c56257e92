package plugin_manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

var ErrInstanceNotFound = errors.New("plugin_manager: instance not found")

// Instance is one running plugin with its subscriptions and lifecycle
// bookkeeping.
type Instance struct {
	ID         uuid.UUID
	Definition PluginDefinition
	Plugin     Plugin
	Config     map[string]any
	LogLevel   LogLevel
	LastError  string
	CreatedAt  time.Time

	cancel        context.CancelFunc
	subscriptions []*Subscription
}

// Manager creates, wires and supervises plugin instances. Each instance
// gets its own context facade; event dispatch is panic-isolated so one
// misbehaving plugin cannot take down the bus.
type Manager struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*Instance

	events *event_manager.EventManager
	exec   CommandExecutor
	view   StateView
	logger zerolog.Logger
}

func NewManager(events *event_manager.EventManager, exec CommandExecutor, view StateView) *Manager {
	return &Manager{
		instances: make(map[uuid.UUID]*Instance),
		events:    events,
		exec:      exec,
		view:      view,
		logger:    log.With().Str("component", "PluginManager").Logger(),
	}
}

// Add instantiates and initializes a plugin from its definition.
func (m *Manager) Add(def PluginDefinition, config map[string]any, logLevel LogLevel) (uuid.UUID, error) {
	if def.CreateInstance == nil {
		return uuid.Nil, fmt.Errorf("plugin_manager: definition %q has no constructor", def.ID)
	}
	plugin := def.CreateInstance()

	id := uuid.New()
	scoped := NewScopedLogger(
		log.With().Str("component", "Plugin").Str("plugin", def.ID).Logger(),
		logLevel,
	)
	pctx := NewPluginContext(m.events, m.exec, m.view, scoped)

	if err := plugin.Initialize(config, pctx); err != nil {
		return uuid.Nil, fmt.Errorf("plugin_manager: initialize %q: %w", def.ID, err)
	}

	m.mu.Lock()
	m.instances[id] = &Instance{
		ID:         id,
		Definition: def,
		Plugin:     plugin,
		Config:     config,
		LogLevel:   logLevel,
		CreatedAt:  time.Now(),
	}
	m.mu.Unlock()

	m.logger.Info().Str("plugin", def.ID).Str("instanceID", id.String()).Msg("Plugin added")
	return id, nil
}

// Start subscribes the instance to its declared events and launches it.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return ErrInstanceNotFound
	}

	for _, t := range inst.Definition.Events {
		sub, err := m.subscribe(inst, t)
		if err != nil {
			m.unsubscribeAll(inst)
			return err
		}
		inst.subscriptions = append(inst.subscriptions, sub)
	}

	runCtx, cancel := context.WithCancel(ctx)
	inst.cancel = cancel
	if err := inst.Plugin.Start(runCtx); err != nil {
		m.unsubscribeAll(inst)
		cancel()
		inst.LastError = err.Error()
		m.publishStatus(inst, "start_failed", err)
		return err
	}
	m.publishStatus(inst, "started", nil)
	return nil
}

// publishStatus feeds plugin lifecycle transitions to bus consumers
// such as the push bridge.
func (m *Manager) publishStatus(inst *Instance, status string, err error) {
	data := &event_manager.PluginStatusData{
		Time:   time.Now(),
		Plugin: inst.Definition.ID,
		Status: status,
	}
	if err != nil {
		data.Error = err.Error()
	}
	m.events.Publish(data, "")
}

func (m *Manager) subscribe(inst *Instance, t event_manager.EventType) (*Subscription, error) {
	off, err := m.events.On(t, func(e event_manager.Event) {
		m.dispatch(inst, e)
	})
	if err != nil {
		return nil, err
	}
	return &Subscription{off: off}, nil
}

func (m *Manager) dispatch(inst *Instance, e event_manager.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("plugin", inst.Definition.ID).
				Str("eventType", string(e.Type)).
				Interface("panic", r).
				Msg("Plugin panicked handling event")
		}
	}()
	if err := inst.Plugin.HandleEvent(&e); err != nil {
		inst.LastError = err.Error()
		m.logger.Warn().
			Err(err).
			Str("plugin", inst.Definition.ID).
			Str("eventType", string(e.Type)).
			Msg("Plugin event handler failed")
	}
}

// StartAll starts every instance; individual failures are recorded and
// do not block peers.
func (m *Manager) StartAll(ctx context.Context) {
	for _, id := range m.ids() {
		if err := m.Start(ctx, id); err != nil {
			m.logger.Error().Err(err).Str("instanceID", id.String()).Msg("Plugin failed to start")
		}
	}
}

// Stop detaches the instance from the bus and stops it.
func (m *Manager) Stop(id uuid.UUID) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return ErrInstanceNotFound
	}

	m.unsubscribeAll(inst)
	if inst.cancel != nil {
		inst.cancel()
		inst.cancel = nil
	}
	if err := inst.Plugin.Stop(); err != nil {
		inst.LastError = err.Error()
		m.publishStatus(inst, "stop_failed", err)
		return err
	}
	m.publishStatus(inst, "stopped", nil)
	return nil
}

// StopAll stops every instance.
func (m *Manager) StopAll() {
	for _, id := range m.ids() {
		if err := m.Stop(id); err != nil {
			m.logger.Warn().Err(err).Str("instanceID", id.String()).Msg("Plugin failed to stop")
		}
	}
}

// Remove stops and deletes an instance.
func (m *Manager) Remove(id uuid.UUID) error {
	if err := m.Stop(id); err != nil && !errors.Is(err, ErrInstanceNotFound) {
		m.logger.Warn().Err(err).Str("instanceID", id.String()).Msg("Plugin stop failed during removal")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[id]; !ok {
		return ErrInstanceNotFound
	}
	delete(m.instances, id)
	return nil
}

// UpdateConfig pushes a configuration change to a running instance.
func (m *Manager) UpdateConfig(id uuid.UUID, config map[string]any) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return ErrInstanceNotFound
	}
	if err := inst.Plugin.UpdateConfig(config); err != nil {
		inst.LastError = err.Error()
		return err
	}
	inst.Config = config
	return nil
}

// Status reports one instance's lifecycle state.
func (m *Manager) Status(id uuid.UUID) (PluginStatus, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return "", ErrInstanceNotFound
	}
	return inst.Plugin.GetStatus(), nil
}

// Statuses reports every instance keyed by id.
func (m *Manager) Statuses() map[uuid.UUID]PluginStatus {
	out := make(map[uuid.UUID]PluginStatus)
	for _, id := range m.ids() {
		if status, err := m.Status(id); err == nil {
			out[id] = status
		}
	}
	return out
}

func (m *Manager) unsubscribeAll(inst *Instance) {
	for _, sub := range inst.subscriptions {
		sub.Cancel()
	}
	inst.subscriptions = nil
}

func (m *Manager) ids() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	return ids
}
