package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"

	"github.com/CalmProton/SquadScript-sub001/internal/state"
)

const (
	DefaultSnapshotKey      = "squadstream:state"
	DefaultSnapshotInterval = 10 * time.Second
	defaultSnapshotTTL      = 60 * time.Second
)

// SnapshotStore persists one serialized snapshot under a key.
type SnapshotStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close()
}

// ValkeyStore backs SnapshotStore with a valkey instance.
type ValkeyStore struct {
	client valkey.Client
}

func NewValkeyStore(addrs []string, password string) (*ValkeyStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: addrs,
		Password:    password,
	})
	if err != nil {
		return nil, err
	}
	return &ValkeyStore{client: client}, nil
}

func (s *ValkeyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := s.client.B().Set().Key(key).Value(value).ExSeconds(int64(ttl.Seconds())).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *ValkeyStore) Close() { s.client.Close() }

// Snapshot is the cached view dashboard processes read instead of
// polling RCON themselves.
type Snapshot struct {
	UpdatedAt    time.Time      `json:"updatedAt"`
	PlayerCount  int            `json:"playerCount"`
	Players      []state.Player `json:"players"`
	Squads       []state.Squad  `json:"squads"`
	CurrentLayer *state.Layer   `json:"currentLayer,omitempty"`
	NextLayer    *state.Layer   `json:"nextLayer,omitempty"`
}

// SnapshotPublisher periodically serializes the state services into the
// store. A failed write is logged and retried on the next tick.
type SnapshotPublisher struct {
	store    SnapshotStore
	players  *state.PlayerService
	squads   *state.SquadService
	layers   *state.LayerService
	key      string
	interval time.Duration
	ttl      time.Duration
	logger   zerolog.Logger
}

func NewSnapshotPublisher(store SnapshotStore, players *state.PlayerService, squads *state.SquadService, layers *state.LayerService, interval time.Duration) *SnapshotPublisher {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &SnapshotPublisher{
		store:    store,
		players:  players,
		squads:   squads,
		layers:   layers,
		key:      DefaultSnapshotKey,
		interval: interval,
		ttl:      defaultSnapshotTTL,
		logger:   log.With().Str("component", "SnapshotPublisher").Logger(),
	}
}

// Run publishes on a fixed cadence until ctx is done.
func (p *SnapshotPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *SnapshotPublisher) publish(ctx context.Context) {
	snap := Snapshot{
		UpdatedAt:   time.Now().UTC(),
		PlayerCount: p.players.Count(),
		Players:     p.players.Players(),
		Squads:      p.squads.Squads(),
	}
	if layer, ok := p.layers.Current(); ok {
		snap.CurrentLayer = &layer
	}
	if layer, ok := p.layers.Next(); ok {
		snap.NextLayer = &layer
	}

	data, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error().Err(err).Msg("Snapshot marshal failed")
		return
	}
	if err := p.store.Set(ctx, p.key, string(data), p.ttl); err != nil {
		p.logger.Warn().Err(err).Msg("Snapshot write failed")
	}
}
