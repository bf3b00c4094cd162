// Package maintenance runs the periodic background loops: autosave,
// dead-connection sweep and statistics logging.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/termchat-server/internal/stats"
)

// Saver persists state.
type Saver interface {
	Save(ctx context.Context) error
}

// Sweeper pings connections and reaps dead ones, returning how many it reaped.
type Sweeper interface {
	Sweep() int
}

// Options sets the loop intervals. A non-positive interval disables its loop.
type Options struct {
	AutosaveInterval time.Duration
	SweepInterval    time.Duration
	StatsInterval    time.Duration
}

// Scheduler owns the three loops. They share nothing but the collaborators
// passed in, which synchronize themselves.
type Scheduler struct {
	saver    Saver
	sweeper  Sweeper
	snapshot func() stats.Snapshot
	opts     Options
	log      *zerolog.Logger
}

// New builds a scheduler. Any collaborator may be nil to skip its loop.
func New(saver Saver, sweeper Sweeper, snapshot func() stats.Snapshot, logger *zerolog.Logger, opts Options) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		saver:    saver,
		sweeper:  sweeper,
		snapshot: snapshot,
		opts:     opts,
		log:      logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.saver != nil {
		g.Go(func() error { return every(ctx, s.opts.AutosaveInterval, s.autosave) })
	}
	if s.sweeper != nil {
		g.Go(func() error { return every(ctx, s.opts.SweepInterval, s.sweep) })
	}
	if s.snapshot != nil {
		g.Go(func() error { return every(ctx, s.opts.StatsInterval, s.logStats) })
	}
	s.log.Info().
		Dur("autosave", s.opts.AutosaveInterval).
		Dur("sweep", s.opts.SweepInterval).
		Dur("stats", s.opts.StatsInterval).
		Msg("maintenance started")
	return g.Wait()
}

func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// autosave failures are retried on the next tick.
func (s *Scheduler) autosave(ctx context.Context) {
	if err := s.saver.Save(ctx); err != nil {
		s.log.Error().Err(err).Msg("autosave failed")
		return
	}
	s.log.Debug().Msg("autosave completed")
}

func (s *Scheduler) sweep(context.Context) {
	if n := s.sweeper.Sweep(); n > 0 {
		s.log.Info().Int("reaped", n).Msg("dead connections removed")
	}
}

func (s *Scheduler) logStats(context.Context) {
	snap := s.snapshot()
	s.log.Info().
		Dur("uptime", snap.Uptime).
		Int64("active_connections", snap.ActiveConnections).
		Int64("total_connections", snap.TotalConnections).
		Int64("messages_sent", snap.MessagesSent).
		Int64("rooms_created", snap.RoomsCreated).
		Int64("users_created", snap.UsersCreated).
		Int("rooms", snap.Rooms).
		Int("users", snap.Users).
		Msg("server statistics")
}
