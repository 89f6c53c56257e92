package logparser

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/logqueue"
)

const (
	defaultInterval  = 10 * time.Millisecond
	defaultBatchSize = 100
	unmatchedSamples = 5
	samplePrefixLen  = 120
)

// Config tunes the rule loop cadence.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Stats is a snapshot of parser throughput counters.
type Stats struct {
	LinesProcessed   uint64
	LinesMatched     uint64
	LinesUnmatched   uint64
	UnmatchedSamples []string
	EventCounts      map[event_manager.EventType]uint64
	AvgLatency       time.Duration
	QueueDepth       int
	QueueDropped     uint64
	QueuePeakDepth   int
}

// Engine drains the log queue in batches, runs each line through the
// rule table, and publishes matched events on the bus.
type Engine struct {
	cfg    Config
	queue  *logqueue.Queue
	events *event_manager.EventManager
	store  *EventStore
	rules  []Rule
	logger zerolog.Logger

	mu             sync.Mutex
	linesProcessed uint64
	linesMatched   uint64
	linesUnmatched uint64
	samples        []string
	eventCounts    map[event_manager.EventType]uint64
	latencyTotal   time.Duration
	latencyCount   uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewEngine(cfg Config, queue *logqueue.Queue, events *event_manager.EventManager) *Engine {
	return &Engine{
		cfg:         cfg.withDefaults(),
		queue:       queue,
		events:      events,
		store:       NewEventStore(),
		rules:       Rules(),
		logger:      log.With().Str("component", "LogParser").Logger(),
		eventCounts: make(map[event_manager.EventType]uint64),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Store exposes the correlation store for diagnostics.
func (e *Engine) Store() *EventStore { return e.store }

// Start launches the rule loop.
func (e *Engine) Start() {
	go e.run()
}

// Stop halts the rule loop and waits for the in-flight batch.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			// Drain what is already queued before exiting.
			e.ProcessBatch()
			return
		case <-ticker.C:
			e.ProcessBatch()
		}
	}
}

// ProcessBatch dequeues up to one batch of lines and parses them.
// Returns the number of lines handled.
func (e *Engine) ProcessBatch() int {
	lines := e.queue.DequeueMany(e.cfg.BatchSize)
	for _, line := range lines {
		e.ProcessLine(line)
	}
	return len(lines)
}

// ProcessLine runs one line through the rule table. The first matching
// rule wins; its handler may emit any number of events.
func (e *Engine) ProcessLine(line string) {
	start := time.Now()
	matched := false

	for i := range e.rules {
		rule := &e.rules[i]
		m := rule.regex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		matched = true
		rule.onMatch(m, e.store, func(data event_manager.EventData) {
			e.events.Publish(data, line)
			e.mu.Lock()
			e.eventCounts[data.GetEventType()]++
			e.mu.Unlock()
		})
		break
	}

	elapsed := time.Since(start)

	e.mu.Lock()
	e.linesProcessed++
	e.latencyTotal += elapsed
	e.latencyCount++
	if matched {
		e.linesMatched++
	} else {
		e.linesUnmatched++
		if len(e.samples) < unmatchedSamples {
			sample := line
			if len(sample) > samplePrefixLen {
				sample = sample[:samplePrefixLen]
			}
			e.samples = append(e.samples, sample)
		}
	}
	e.mu.Unlock()
}

// Stats returns a snapshot of the parser counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[event_manager.EventType]uint64, len(e.eventCounts))
	for k, v := range e.eventCounts {
		counts[k] = v
	}
	var avg time.Duration
	if e.latencyCount > 0 {
		avg = e.latencyTotal / time.Duration(e.latencyCount)
	}
	return Stats{
		LinesProcessed:   e.linesProcessed,
		LinesMatched:     e.linesMatched,
		LinesUnmatched:   e.linesUnmatched,
		UnmatchedSamples: append([]string(nil), e.samples...),
		EventCounts:      counts,
		AvgLatency:       avg,
		QueueDepth:       e.queue.Depth(),
		QueueDropped:     e.queue.Dropped(),
		QueuePeakDepth:   e.queue.PeakDepth(),
	}
}
