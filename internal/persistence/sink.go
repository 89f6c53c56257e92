// Package persistence drains the event bus into durable stores. Sinks
// sit behind one narrow interface; a failing sink loses its own writes
// and never stalls the bus.
package persistence

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

// EventSink stores events somewhere durable.
type EventSink interface {
	Name() string
	Write(ctx context.Context, e event_manager.Event) error
	Close(ctx context.Context) error
}

// Drain subscribes to the bus and feeds every matching event to each
// sink. Write errors are counted and logged per sink.
type Drain struct {
	events *event_manager.EventManager
	sinks  []EventSink
	filter event_manager.EventFilter
	buffer int

	sub    *event_manager.Subscriber
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger
}

func NewDrain(events *event_manager.EventManager, filter event_manager.EventFilter, buffer int, sinks ...EventSink) *Drain {
	return &Drain{
		events: events,
		sinks:  sinks,
		filter: filter,
		buffer: buffer,
		logger: log.With().Str("component", "Persistence").Logger(),
	}
}

// Start attaches to the bus and runs the drain loop until Stop.
func (d *Drain) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.sub = d.events.Subscribe(d.filter, d.buffer)

	go d.run(runCtx)
}

func (d *Drain) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-d.sub.Channel:
			if !ok {
				return
			}
			for _, sink := range d.sinks {
				if err := sink.Write(ctx, e); err != nil {
					d.logger.Warn().
						Err(err).
						Str("sink", sink.Name()).
						Str("eventType", string(e.Type)).
						Msg("Sink write failed")
				}
			}
		}
	}
}

// Stop detaches from the bus and closes every sink.
func (d *Drain) Stop(ctx context.Context) {
	if d.sub != nil {
		d.events.Unsubscribe(d.sub.ID)
	}
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	for _, sink := range d.sinks {
		if err := sink.Close(ctx); err != nil {
			d.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("Sink close failed")
		}
	}
}
