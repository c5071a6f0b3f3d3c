package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SnapshotSaver persists one telemetry summary.
type SnapshotSaver interface {
	SaveTelemetrySnapshot(ctx context.Context, takenAt time.Time, data map[string]any) error
}

// Snapshotter periodically writes the collector's summary to a saver on
// a cron schedule.
type Snapshotter struct {
	collector *Collector
	saver     SnapshotSaver
	schedule  cronlib.Schedule
	log       zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotter parses expr as a standard five-field cron expression
// (descriptors like @hourly are accepted too).
func NewSnapshotter(collector *Collector, saver SnapshotSaver, expr string, log zerolog.Logger) (*Snapshotter, error) {
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot schedule %q: %w", expr, err)
	}
	return &Snapshotter{
		collector: collector,
		saver:     saver,
		schedule:  sched,
		log:       log.With().Str("component", "telemetry_snapshotter").Logger(),
	}, nil
}

// Start launches the snapshot loop. Calling Start on a running
// snapshotter is a no-op.
func (s *Snapshotter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts the loop and waits for it to exit.
func (s *Snapshotter) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Snapshotter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := s.schedule.Next(time.Now())
		if next.IsZero() {
			s.log.Warn().Msg("Snapshot schedule yields no further runs, stopping")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Snap(ctx)
		}
	}
}

// Snap writes one summary immediately.
func (s *Snapshotter) Snap(ctx context.Context) {
	takenAt := time.Now().UTC()
	if err := s.saver.SaveTelemetrySnapshot(ctx, takenAt, s.collector.Summary()); err != nil {
		s.log.Err(err).Msg("Failed to save telemetry snapshot")
		return
	}
	s.log.Debug().Time("taken_at", takenAt).Msg("Saved telemetry snapshot")
}
