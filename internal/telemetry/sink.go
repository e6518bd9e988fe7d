// Package telemetry ships per-decision run events. Delivery is
// fire-and-forget: a slow or failing sink must never fail the run that
// produced the event.
package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tradegate/internal/database"
)

// Event is one run-level decision event.
type Event struct {
	RunID   string    `json:"run_id"`
	Source  string    `json:"source"` // "auto_entry" or "stops"
	Outcome string    `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	Ticker  string    `json:"ticker,omitempty"`
	TradeID string    `json:"trade_id,omitempty"`
	At      time.Time `json:"at"`
}

// Sink accepts events. Implementations must not block the caller.
type Sink interface {
	Record(ev Event)
	Close()
}

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) Record(Event) {}
func (NoopSink) Close()       {}

// AsyncSink buffers events on a channel and writes them in the background.
// When the buffer is full the event is dropped; telemetry loss is preferable
// to a stalled run.
type AsyncSink struct {
	ch   chan Event
	done chan struct{}
	log  zerolog.Logger
	db   *database.DB // optional: persist events when a pool is available
}

// NewAsyncSink starts the background writer.
func NewAsyncSink(log zerolog.Logger, db *database.DB) *AsyncSink {
	s := &AsyncSink{
		ch:   make(chan Event, 256),
		done: make(chan struct{}),
		log:  log,
		db:   db,
	}
	go s.run()
	return s
}

// Record enqueues an event, dropping it when the buffer is full.
func (s *AsyncSink) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case s.ch <- ev:
	default:
		s.log.Debug().Str("run_id", ev.RunID).Msg("telemetry buffer full, event dropped")
	}
}

// Close drains the buffer and stops the writer.
func (s *AsyncSink) Close() {
	close(s.ch)
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.ch {
		s.log.Info().
			Str("run_id", ev.RunID).
			Str("source", ev.Source).
			Str("outcome", ev.Outcome).
			Str("reason", ev.Reason).
			Str("ticker", ev.Ticker).
			Str("trade_id", ev.TradeID).
			Msg("run event")

		if s.db != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, err := s.db.Pool.Exec(ctx,
				`INSERT INTO run_events (run_id, source, outcome, reason, ticker, trade_id, recorded_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				ev.RunID, ev.Source, ev.Outcome, ev.Reason, ev.Ticker, ev.TradeID, ev.At,
			)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("failed to persist run event")
			}
		}
	}
}
