package plugin_manager

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

type fakeExecutor struct {
	executed   []string
	broadcasts []string
	warned     []string
}

func (f *fakeExecutor) Execute(_ context.Context, command string) (string, error) {
	f.executed = append(f.executed, command)
	return "", nil
}
func (f *fakeExecutor) Broadcast(_ context.Context, message string) error {
	f.broadcasts = append(f.broadcasts, message)
	return nil
}
func (f *fakeExecutor) WarnPlayer(_ context.Context, eosID, message string) error {
	f.warned = append(f.warned, eosID+": "+message)
	return nil
}
func (f *fakeExecutor) KickPlayer(context.Context, string, string) error { return nil }

type fakePlugin struct {
	def     PluginDefinition
	pctx    *PluginContext
	events  []event_manager.Event
	status  PluginStatus
	panicOn event_manager.EventType
	stopped bool
	config  map[string]any
}

func (p *fakePlugin) GetDefinition() PluginDefinition { return p.def }
func (p *fakePlugin) Initialize(config map[string]any, pctx *PluginContext) error {
	p.config = config
	p.pctx = pctx
	return nil
}
func (p *fakePlugin) Start(ctx context.Context) error {
	p.status = PluginStatusRunning
	return nil
}
func (p *fakePlugin) Stop() error {
	p.stopped = true
	p.status = PluginStatusStopped
	return nil
}
func (p *fakePlugin) HandleEvent(e *event_manager.Event) error {
	if e.Type == p.panicOn {
		panic("plugin bug")
	}
	p.events = append(p.events, *e)
	return nil
}
func (p *fakePlugin) GetStatus() PluginStatus { return p.status }
func (p *fakePlugin) UpdateConfig(config map[string]any) error {
	p.config = config
	return nil
}

func newFakeDef(id string, plugin *fakePlugin, events ...event_manager.EventType) PluginDefinition {
	def := PluginDefinition{
		ID:             id,
		Name:           id,
		Version:        "1.0.0",
		Events:         events,
		CreateInstance: func() Plugin { return plugin },
	}
	plugin.def = def
	return def
}

func TestManagerDispatchesDeclaredEventsOnly(t *testing.T) {
	em := event_manager.NewEventManager()
	m := NewManager(em, &fakeExecutor{}, nil)

	plugin := &fakePlugin{}
	id, err := m.Add(newFakeDef("test", plugin, event_manager.EventTypeLogTeamkill), nil, LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	em.Publish(&event_manager.LogTeamkillData{VictimName: "Bob", Time: time.Now()}, "")
	em.Publish(&event_manager.LogTickRateData{TickRate: 40}, "")

	if len(plugin.events) != 1 {
		t.Fatalf("plugin saw %d events, want only the declared one", len(plugin.events))
	}
	if plugin.events[0].Type != event_manager.EventTypeLogTeamkill {
		t.Errorf("event type = %s", plugin.events[0].Type)
	}
}

func TestManagerPublishesStatusTransitions(t *testing.T) {
	em := event_manager.NewEventManager()
	m := NewManager(em, &fakeExecutor{}, nil)

	var statuses []*event_manager.PluginStatusData
	if _, err := em.On(event_manager.EventTypePluginStatus, func(e event_manager.Event) {
		statuses = append(statuses, e.Data.(*event_manager.PluginStatusData))
	}); err != nil {
		t.Fatal(err)
	}

	plugin := &fakePlugin{}
	id, err := m.Add(newFakeDef("tk-watch", plugin), nil, LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(id); err != nil {
		t.Fatal(err)
	}

	if len(statuses) != 2 {
		t.Fatalf("status events = %d, want 2", len(statuses))
	}
	if statuses[0].Plugin != "tk-watch" || statuses[0].Status != "started" {
		t.Errorf("first transition = %+v", statuses[0])
	}
	if statuses[1].Status != "stopped" || statuses[1].Error != "" {
		t.Errorf("second transition = %+v", statuses[1])
	}
}

func TestManagerStopDetachesFromBus(t *testing.T) {
	em := event_manager.NewEventManager()
	m := NewManager(em, &fakeExecutor{}, nil)

	plugin := &fakePlugin{}
	id, _ := m.Add(newFakeDef("test", plugin, event_manager.EventTypeLogTeamkill), nil, LevelInfo)
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(id); err != nil {
		t.Fatal(err)
	}
	if !plugin.stopped {
		t.Error("plugin Stop not called")
	}

	em.Publish(&event_manager.LogTeamkillData{VictimName: "Bob"}, "")
	if len(plugin.events) != 0 {
		t.Errorf("stopped plugin still received %d events", len(plugin.events))
	}
	if em.HandlerCount(event_manager.EventTypeLogTeamkill) != 0 {
		t.Error("bus handler leaked after stop")
	}
}

func TestManagerIsolatesPanickingPlugin(t *testing.T) {
	em := event_manager.NewEventManager()
	m := NewManager(em, &fakeExecutor{}, nil)

	bad := &fakePlugin{panicOn: event_manager.EventTypeLogTeamkill}
	good := &fakePlugin{}
	badID, _ := m.Add(newFakeDef("bad", bad, event_manager.EventTypeLogTeamkill), nil, LevelInfo)
	goodID, _ := m.Add(newFakeDef("good", good, event_manager.EventTypeLogTeamkill), nil, LevelInfo)
	if err := m.Start(context.Background(), badID); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background(), goodID); err != nil {
		t.Fatal(err)
	}

	em.Publish(&event_manager.LogTeamkillData{VictimName: "Bob"}, "")

	if len(good.events) != 1 {
		t.Errorf("healthy plugin starved by panicking peer, events = %d", len(good.events))
	}
}

func TestRestrictedExecutorAllowList(t *testing.T) {
	inner := &fakeExecutor{}
	em := event_manager.NewEventManager()
	pctx := NewPluginContext(em, inner, nil, NewScopedLogger(zerolog.Nop(), LevelInfo))

	ctx := context.Background()
	if _, err := pctx.Commands.Execute(ctx, "ListPlayers"); err != nil {
		t.Errorf("ListPlayers rejected: %v", err)
	}
	if _, err := pctx.Commands.Execute(ctx, "AdminWarn 3 \"hi\""); err != nil {
		t.Errorf("AdminWarn rejected: %v", err)
	}
	if _, err := pctx.Commands.Execute(ctx, "AdminKick 3 bye"); !errors.Is(err, ErrCommandNotAllowed) {
		t.Errorf("AdminKick = %v, want ErrCommandNotAllowed", err)
	}
	if _, err := pctx.Commands.Execute(ctx, "AdminBan 3 1d grief"); !errors.Is(err, ErrCommandNotAllowed) {
		t.Errorf("AdminBan = %v, want ErrCommandNotAllowed", err)
	}
	if len(inner.executed) != 2 {
		t.Errorf("inner executor saw %d commands, want 2", len(inner.executed))
	}

	// Typed methods bypass the raw allow list.
	if err := pctx.Commands.Broadcast(ctx, "hello"); err != nil {
		t.Errorf("Broadcast: %v", err)
	}
	if err := pctx.Commands.KickPlayer(ctx, "eos", "afk"); err != nil {
		t.Errorf("KickPlayer: %v", err)
	}
}

func TestScopedLoggerLevelGate(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := NewScopedLogger(base, LevelWarn)
	l.Info("hidden", nil)
	l.Debug("hidden too", nil)
	l.Warn("shown", nil)
	l.Error("always", errors.New("x"), nil)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("suppressed levels leaked: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "always") {
		t.Errorf("expected lines missing: %s", out)
	}

	buf.Reset()
	v := NewScopedLogger(base, LevelTrace)
	v.Verbose("v-line", map[string]any{"k": 1})
	v.Trace("t-line", nil)
	if !strings.Contains(buf.String(), "v-line") || !strings.Contains(buf.String(), "t-line") {
		t.Errorf("verbose/trace missing at trace level: %s", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"error":   LevelError,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"info":    LevelInfo,
		"verbose": LevelVerbose,
		"debug":   LevelDebug,
		"trace":   LevelTrace,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSubscriptionHandleCancels(t *testing.T) {
	em := event_manager.NewEventManager()
	pctx := NewPluginContext(em, &fakeExecutor{}, nil, NewScopedLogger(zerolog.Nop(), LevelInfo))

	var seen int
	sub, err := pctx.Subscribe(event_manager.EventTypeLogTickRate, func(event_manager.Event) { seen++ })
	if err != nil {
		t.Fatal(err)
	}
	em.Publish(&event_manager.LogTickRateData{TickRate: 40}, "")
	sub.Cancel()
	sub.Cancel() // idempotent
	em.Publish(&event_manager.LogTickRateData{TickRate: 41}, "")

	if seen != 1 {
		t.Errorf("handler calls = %d, want 1", seen)
	}
}
