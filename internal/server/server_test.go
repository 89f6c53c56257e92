package server

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/logparser"
	"github.com/CalmProton/SquadScript-sub001/internal/logsource"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon/rconparser"
)

func TestKindOf(t *testing.T) {
	tests := map[event_manager.EventType]string{
		event_manager.EventTypePlayerAdded:       "players",
		event_manager.EventTypeLogJoinSucceeded:  "players",
		event_manager.EventTypeSquadDisbanded:    "squads",
		event_manager.EventTypeRconSquadCreated:  "squads",
		event_manager.EventTypeRconChatMessage:   "chat",
		event_manager.EventTypeLogTeamkill:       "kills",
		event_manager.EventTypeLogRoundEnded:     "game",
		event_manager.EventTypeLayerChanged:      "game",
		event_manager.EventTypeLogAdminBroadcast: "admin",
		event_manager.EventTypeRconDisconnected:  "rcon",
		event_manager.EventTypeLogTickRate:       "metrics",
		event_manager.EventTypeRconServerInfo:    "metrics",
		event_manager.EventTypeServerReady:       "notifications",
		event_manager.EventTypePluginStatus:      "plugins",
		event_manager.EventTypeRawLog:            "logs",
		event_manager.EventType("MADE_UP"):       "",
	}
	for in, want := range tests {
		if got := kindOf(in); got != want {
			t.Errorf("kindOf(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestBuiltGraphRemovesDisconnectedPlayers(t *testing.T) {
	comps := BuildComponents(BuildConfig{
		Rcon: rcon.EngineConfig{Connection: rcon.ConnectionConfig{Host: "test", Port: 21114}},
	}, newFakeSource())

	var mu sync.Mutex
	var removed int
	comps.Events.On(event_manager.EventTypePlayerRemoved, func(event_manager.Event) {
		mu.Lock()
		removed++
		mu.Unlock()
	})

	const eos = "00026e21ce3d43c8a6308ead23a6cf21"
	row := rconparser.PlayerInfo{
		SessionID: 7,
		IDs:       rconparser.OnlineIDs{EOS: eos},
		Name:      "Bob",
	}
	comps.Players.UpdateFromRcon([]rconparser.PlayerInfo{row})

	comps.Events.Publish(&event_manager.LogPlayerDisconnectedData{
		Time:  time.Now(),
		EOSID: eos,
	}, "")

	// One grace poll of absence, then removal on the second.
	comps.Players.UpdateFromRcon(nil)
	comps.Players.UpdateFromRcon(nil)

	if _, ok := comps.Players.Get(eos); ok {
		t.Error("disconnected player still tracked after grace poll")
	}
	mu.Lock()
	if removed != 1 {
		t.Errorf("removed events = %d, want 1", removed)
	}
	mu.Unlock()
}

func TestBuiltGraphAppliesPossessSuffix(t *testing.T) {
	comps := BuildComponents(BuildConfig{
		Rcon: rcon.EngineConfig{Connection: rcon.ConnectionConfig{Host: "test", Port: 21114}},
	}, newFakeSource())

	const eos = "00026e21ce3d43c8a6308ead23a6cf21"
	comps.Players.UpdateFromRcon([]rconparser.PlayerInfo{{
		SessionID: 7,
		IDs:       rconparser.OnlineIDs{EOS: eos},
		Name:      "Bob",
	}})

	comps.Events.Publish(&event_manager.LogPlayerPossessData{
		Time:         time.Now(),
		PlayerSuffix: "Bob",
		EOSID:        eos,
	}, "")

	p, ok := comps.Players.Get(eos)
	if !ok {
		t.Fatal("player not tracked")
	}
	if p.NameSuffix != "Bob" {
		t.Errorf("name suffix = %q, want %q", p.NameSuffix, "Bob")
	}
}

func TestRconExecutorRejectsMalformedTargets(t *testing.T) {
	// Validation fires before the engine is touched, so nil is safe here.
	x := NewRconExecutor(nil)
	if err := x.WarnPlayer(context.Background(), "not-an-eos-id", "hi"); err == nil {
		t.Error("malformed warn target accepted")
	}
	if err := x.KickPlayer(context.Background(), "1234", "afk"); err == nil {
		t.Error("malformed kick target accepted")
	}
}

func TestPushKindsAllProducible(t *testing.T) {
	all := []event_manager.EventType{
		event_manager.EventTypePlayerAdded,
		event_manager.EventTypePlayerRemoved,
		event_manager.EventTypePlayerTeamChange,
		event_manager.EventTypePlayerSquadChange,
		event_manager.EventTypePlayerRoleChange,
		event_manager.EventTypePlayerLeaderChange,
		event_manager.EventTypeLogPlayerConnected,
		event_manager.EventTypeLogPlayerDisconnected,
		event_manager.EventTypeLogJoinSucceeded,
		event_manager.EventTypeLogPlayerPossess,
		event_manager.EventTypeLogPlayerUnpossess,
		event_manager.EventTypeSquadAdded,
		event_manager.EventTypeSquadUpdated,
		event_manager.EventTypeSquadDisbanded,
		event_manager.EventTypeRconSquadCreated,
		event_manager.EventTypeRconChatMessage,
		event_manager.EventTypeLogPlayerDamaged,
		event_manager.EventTypeLogPlayerWounded,
		event_manager.EventTypeLogPlayerDied,
		event_manager.EventTypeLogPlayerRevived,
		event_manager.EventTypeLogTeamkill,
		event_manager.EventTypeLogDeployableDamaged,
		event_manager.EventTypeLogNewGame,
		event_manager.EventTypeLogRoundWinner,
		event_manager.EventTypeLogRoundTickets,
		event_manager.EventTypeLogRoundEnded,
		event_manager.EventTypeLayerChanged,
		event_manager.EventTypeLogAdminBroadcast,
		event_manager.EventTypeRconAdminCameraPossessed,
		event_manager.EventTypeRconAdminCameraUnpossessed,
		event_manager.EventTypeRconPlayerWarned,
		event_manager.EventTypeRconPlayerKicked,
		event_manager.EventTypeRconPlayerBanned,
		event_manager.EventTypeRconConnected,
		event_manager.EventTypeRconDisconnected,
		event_manager.EventTypeRconError,
		event_manager.EventTypeLogTickRate,
		event_manager.EventTypeRconServerInfo,
		event_manager.EventTypeServerStarting,
		event_manager.EventTypeServerReady,
		event_manager.EventTypeServerStopping,
		event_manager.EventTypeServerStopped,
		event_manager.EventTypeServerError,
		event_manager.EventTypePluginStatus,
		event_manager.EventTypeRawLog,
	}

	produced := map[string]bool{}
	for _, et := range all {
		kind := kindOf(et)
		if kind == "" {
			t.Errorf("event type %s maps to no feed kind", et)
			continue
		}
		if !pushKinds[kind] {
			t.Errorf("kindOf(%s) = %q, not in the allow-list", et, kind)
		}
		produced[kind] = true
	}
	// Every advertised kind must be reachable, or a subscriber to it
	// would silently receive nothing.
	for kind := range pushKinds {
		if !produced[kind] {
			t.Errorf("kind %q is advertised but never produced", kind)
		}
	}
}

func TestHubBroadcastHonorsClientFilter(t *testing.T) {
	h := NewHub(event_manager.NewEventManager())

	chatOnly := &pushClient{kinds: map[string]bool{"chat": true}, send: make(chan PushMessage, 4)}
	all := &pushClient{kinds: map[string]bool{}, send: make(chan PushMessage, 4)}
	h.clients[chatOnly] = true
	h.clients[all] = true

	h.broadcast(PushMessage{Kind: "chat"})
	h.broadcast(PushMessage{Kind: "kills"})

	if len(chatOnly.send) != 1 {
		t.Errorf("filtered client got %d messages, want 1", len(chatOnly.send))
	}
	if len(all.send) != 2 {
		t.Errorf("unfiltered client got %d messages, want 2", len(all.send))
	}
}

func TestHubBroadcastShedsSlowConsumer(t *testing.T) {
	h := NewHub(event_manager.NewEventManager())

	slow := &pushClient{kinds: map[string]bool{}, send: make(chan PushMessage, 1)}
	h.clients[slow] = true

	h.broadcast(PushMessage{Kind: "chat"})
	h.broadcast(PushMessage{Kind: "chat"})

	if len(slow.send) != 1 {
		t.Errorf("slow client buffer = %d, want 1 (second message shed)", len(slow.send))
	}
	if h.ClientCount() != 1 {
		t.Error("slow client must stay connected")
	}
}

func TestHubRawLineFeedsLogsSubscribers(t *testing.T) {
	h := NewHub(event_manager.NewEventManager())

	logsOnly := &pushClient{kinds: map[string]bool{"logs": true}, send: make(chan PushMessage, 4)}
	chatOnly := &pushClient{kinds: map[string]bool{"chat": true}, send: make(chan PushMessage, 4)}
	h.clients[logsOnly] = true
	h.clients[chatOnly] = true

	h.RawLine("[2025.01.15-12.30.45:123][ 45]LogSquad: hello")

	if len(logsOnly.send) != 1 {
		t.Fatalf("logs client got %d messages, want 1", len(logsOnly.send))
	}
	msg := <-logsOnly.send
	if msg.Kind != "logs" || msg.Type != event_manager.EventTypeRawLog {
		t.Errorf("message = %+v", msg)
	}
	if d, ok := msg.Data.(*event_manager.RawLogData); !ok || d.Line == "" {
		t.Errorf("data = %#v", msg.Data)
	}
	if len(chatOnly.send) != 0 {
		t.Error("chat client received a raw log line")
	}
}

type fakeStore struct {
	mu    sync.Mutex
	key   string
	value string
	ttl   time.Duration
	sets  int
}

func (s *fakeStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key, s.value, s.ttl = key, value, ttl
	s.sets++
	return nil
}
func (s *fakeStore) Close() {}

func TestSnapshotPublisherWritesState(t *testing.T) {
	comps := BuildComponents(BuildConfig{
		Rcon: rcon.EngineConfig{Connection: rcon.ConnectionConfig{Host: "test", Port: 21114}},
	}, newFakeSource())
	comps.Layers.SetCurrent("Narva", "Narva_AAS_v1", nil)

	store := &fakeStore{}
	p := NewSnapshotPublisher(store, comps.Players, comps.Squads, comps.Layers, time.Hour)
	p.publish(context.Background())

	if store.key != DefaultSnapshotKey {
		t.Errorf("key = %q", store.key)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(store.value), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.CurrentLayer == nil || snap.CurrentLayer.Name != "Narva_AAS_v1" {
		t.Errorf("current layer = %+v", snap.CurrentLayer)
	}
	if snap.NextLayer != nil {
		t.Error("next layer should be absent")
	}
}

// fakeSource feeds lines straight into the registered callback.
type fakeSource struct {
	mu       sync.Mutex
	fn       logsource.LineFunc
	watching bool
}

func newFakeSource() *fakeSource { return &fakeSource{} }

func (s *fakeSource) Watch(fn logsource.LineFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	s.watching = true
	return nil
}

func (s *fakeSource) Unwatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watching = false
	return nil
}

func (s *fakeSource) Path() string { return "/fake/SquadGame.log" }

func (s *fakeSource) IsWatching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watching
}

func (s *fakeSource) push(line string) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// pipeRconServer answers the auth handshake and then acknowledges every
// command with an empty terminal frame.
func pipeRconServer(t *testing.T, conn net.Conn) {
	t.Helper()
	go func() {
		var buf []byte
		chunk := make([]byte, 4096)
		for {
			frame, consumed, err := rcon.Decode(buf)
			if err != nil {
				if _, incomplete := err.(*rcon.IncompleteError); !incomplete {
					return
				}
				conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				n, rerr := conn.Read(chunk)
				if rerr != nil {
					return
				}
				buf = append(buf, chunk[:n]...)
				continue
			}
			buf = buf[consumed:]

			switch frame.Type {
			case rcon.TypeAuth:
				conn.Write(rcon.Encode(rcon.TypeAuthResponse, rcon.IDEnd, frame.Count, nil))
			case rcon.TypeExecCommand:
				if len(frame.Body) == 0 {
					// Tail of the two-frame command write.
					continue
				}
				conn.Write(rcon.Encode(rcon.TypeResponseValue, rcon.IDEnd, frame.Count, nil))
			}
		}
	}()
}

func newTestComponents(t *testing.T) (*Components, *fakeSource) {
	t.Helper()
	source := newFakeSource()
	comps := BuildComponents(BuildConfig{
		Rcon: rcon.EngineConfig{
			Connection: rcon.ConnectionConfig{Host: "test", Port: 21114},
			Password:   "pw",
			Command:    rcon.CommandConfig{Timeout: time.Second},
		},
		QueueCapacity: 100,
		Parser:        logparser.Config{Interval: 5 * time.Millisecond, BatchSize: 10},
	}, source)

	client, serverEnd := net.Pipe()
	comps.Engine.Connection().SetDialer(func(context.Context) (net.Conn, error) {
		return client, nil
	})
	pipeRconServer(t, serverEnd)
	t.Cleanup(func() {
		comps.Engine.Destroy()
		serverEnd.Close()
	})
	return comps, source
}

func collectLifecycle(t *testing.T, em *event_manager.EventManager) *[]event_manager.EventType {
	t.Helper()
	var mu sync.Mutex
	seen := []event_manager.EventType{}
	for _, et := range []event_manager.EventType{
		event_manager.EventTypeServerStarting,
		event_manager.EventTypeServerReady,
		event_manager.EventTypeServerStopping,
		event_manager.EventTypeServerStopped,
		event_manager.EventTypeServerError,
	} {
		if _, err := em.On(et, func(e event_manager.Event) {
			mu.Lock()
			seen = append(seen, e.Type)
			mu.Unlock()
		}); err != nil {
			t.Fatal(err)
		}
	}
	return &seen
}

func TestControllerLifecycle(t *testing.T) {
	comps, source := newTestComponents(t)
	seen := collectLifecycle(t, comps.Events)

	ctl := NewController(comps)
	if ctl.State() != StateCreated {
		t.Fatalf("initial state = %v", ctl.State())
	}

	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ctl.State() != StateRunning {
		t.Errorf("state after start = %v", ctl.State())
	}
	if !source.IsWatching() {
		t.Error("log source not watching")
	}

	// A line pushed through the source must surface on the bus.
	var mu sync.Mutex
	var ticks int
	comps.Events.On(event_manager.EventTypeLogTickRate, func(event_manager.Event) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	source.push("[2025.01.15-12.30.45:123][ 45]LogSquad: USQGameState: Server Tick Rate: 40.50")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := ticks
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	if ticks != 1 {
		t.Errorf("tick events = %d, want 1", ticks)
	}
	mu.Unlock()

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ctl.State() != StateStopped {
		t.Errorf("state after stop = %v", ctl.State())
	}
	if source.IsWatching() {
		t.Error("log source still watching after stop")
	}

	want := []event_manager.EventType{
		event_manager.EventTypeServerStarting,
		event_manager.EventTypeServerReady,
		event_manager.EventTypeServerStopping,
		event_manager.EventTypeServerStopped,
	}
	if len(*seen) != len(want) {
		t.Fatalf("lifecycle events = %v", *seen)
	}
	for i, et := range want {
		if (*seen)[i] != et {
			t.Errorf("lifecycle[%d] = %s, want %s", i, (*seen)[i], et)
		}
	}
}

func TestControllerStartFailureLandsInError(t *testing.T) {
	source := newFakeSource()
	comps := BuildComponents(BuildConfig{
		Rcon: rcon.EngineConfig{
			Connection: rcon.ConnectionConfig{Host: "test", Port: 21114},
			Password:   "pw",
		},
	}, source)
	comps.Engine.Connection().SetDialer(func(context.Context) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	})
	seen := collectLifecycle(t, comps.Events)

	ctl := NewController(comps)
	if err := ctl.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with dead dialer")
	}
	if ctl.State() != StateError {
		t.Errorf("state = %v, want error", ctl.State())
	}

	want := []event_manager.EventType{
		event_manager.EventTypeServerStarting,
		event_manager.EventTypeServerError,
	}
	if len(*seen) != 2 || (*seen)[0] != want[0] || (*seen)[1] != want[1] {
		t.Errorf("lifecycle events = %v, want %v", *seen, want)
	}
}

func TestControllerStopRequiresRunning(t *testing.T) {
	comps := BuildComponents(BuildConfig{
		Rcon: rcon.EngineConfig{Connection: rcon.ConnectionConfig{Host: "test", Port: 21114}},
	}, newFakeSource())
	ctl := NewController(comps)
	if err := ctl.Stop(context.Background()); err != ErrNotRunning {
		t.Errorf("Stop = %v, want ErrNotRunning", err)
	}
}
