package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

const insertEventsQuery = `
	INSERT INTO squad_events (
		id, event_type, occurred_at, raw, payload
	)
`

// ClickHouseConfig tunes the batch sink.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string

	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

func (c *ClickHouseConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
}

// ClickHouseSink buffers events and flushes them in batches. Write
// never blocks: a full queue drops the event and bumps the counter.
type ClickHouseSink struct {
	cfg  ClickHouseConfig
	conn driver.Conn

	queue   chan event_manager.Event
	dropped atomic.Uint64
	flushed atomic.Uint64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	logger    zerolog.Logger
}

// OpenClickHouseSink dials the cluster and returns a started sink.
func OpenClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, oops.In("persistence").Wrapf(err, "open clickhouse")
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, oops.In("persistence").Wrapf(err, "ping clickhouse")
	}
	sink := NewClickHouseSink(conn, cfg)
	sink.Start(ctx)
	return sink, nil
}

// NewClickHouseSink wraps an existing connection without starting the
// flush loop.
func NewClickHouseSink(conn driver.Conn, cfg ClickHouseConfig) *ClickHouseSink {
	cfg.applyDefaults()
	return &ClickHouseSink{
		cfg:    cfg,
		conn:   conn,
		queue:  make(chan event_manager.Event, cfg.QueueSize),
		logger: log.With().Str("component", "Persistence").Str("sink", "clickhouse").Logger(),
	}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Start launches the flush loop.
func (s *ClickHouseSink) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.run(runCtx)
	})
}

// Write enqueues the event. A full queue sheds load instead of
// propagating backpressure to the bus.
func (s *ClickHouseSink) Write(_ context.Context, e event_manager.Event) error {
	select {
	case s.queue <- e:
		return nil
	default:
		s.dropped.Add(1)
		return nil
	}
}

func (s *ClickHouseSink) run(ctx context.Context) {
	defer close(s.done)

	batch := make([]event_manager.Event, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.sendBatch(batch); err != nil {
			s.logger.Error().Err(err).Int("batchSize", len(batch)).Msg("Batch flush failed")
		} else {
			s.flushed.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before the final flush.
			for {
				select {
				case e := <-s.queue:
					batch = append(batch, e)
					if len(batch) >= s.cfg.BatchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *ClickHouseSink) sendBatch(events []event_manager.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, insertEventsQuery)
	if err != nil {
		return oops.In("persistence").Wrapf(err, "prepare batch")
	}
	for _, e := range events {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("eventType", string(e.Type)).Msg("Payload marshal failed, row skipped")
			continue
		}
		if err := batch.Append(e.ID, string(e.Type), e.Timestamp, e.Raw, string(payload)); err != nil {
			s.logger.Warn().Err(err).Str("eventType", string(e.Type)).Msg("Batch append failed, row skipped")
		}
	}
	if err := batch.Send(); err != nil {
		return oops.In("persistence").Wrapf(err, "send batch")
	}
	return nil
}

// Dropped reports events shed because the queue was full.
func (s *ClickHouseSink) Dropped() uint64 { return s.dropped.Load() }

// Flushed reports rows successfully sent.
func (s *ClickHouseSink) Flushed() uint64 { return s.flushed.Load() }

// Close stops the flush loop, flushes the remainder and closes the
// connection.
func (s *ClickHouseSink) Close(context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.conn.Close()
}
