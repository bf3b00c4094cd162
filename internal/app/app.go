package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/termchat-server/internal/audit"
	"github.com/vovakirdan/termchat-server/internal/command"
	"github.com/vovakirdan/termchat-server/internal/config"
	"github.com/vovakirdan/termchat-server/internal/core"
	chatlog "github.com/vovakirdan/termchat-server/internal/log"
	"github.com/vovakirdan/termchat-server/internal/maintenance"
	"github.com/vovakirdan/termchat-server/internal/session"
	"github.com/vovakirdan/termchat-server/internal/stats"
	"github.com/vovakirdan/termchat-server/internal/store"
	"github.com/vovakirdan/termchat-server/internal/store/jsonfile"
	"github.com/vovakirdan/termchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/termchat-server/internal/transport/http"
	"github.com/vovakirdan/termchat-server/internal/transport/tcp"
	"github.com/vovakirdan/termchat-server/internal/users"
)

// App wires together storage, the chat core and the transports.
type App struct {
	cfg       config.Config
	rooms     *core.Registry
	users     *users.Directory
	sessions  *session.Manager
	tcp       *tcp.Server
	http      *stdhttp.Server
	scheduler *maintenance.Scheduler
	audit     store.AuditStore
	log       *zerolog.Logger
}

// New constructs the application and restores persisted state.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	counters := stats.New()
	storageLog := chatlog.Component(logger, "storage")

	var auditStore store.AuditStore
	if path := cfg.AuditPath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := sqlite.New(path)
		if err != nil {
			return nil, fmt.Errorf("init audit store: %w", err)
		}
		auditStore = st
		storageLog.Info().Str("db_path", path).Msg("audit database initialized")
	}

	regOpts := core.DefaultRegistryOptions()
	regOpts.ReplayCount = cfg.HistoryReplay
	rooms := core.NewRegistry(jsonfile.NewRoomFile(cfg.RoomsPath(), storageLog), counters, chatlog.Component(logger, "rooms"), regOpts)
	dir := users.NewDirectory(jsonfile.NewUserFile(cfg.UsersPath(), storageLog), counters, chatlog.Component(logger, "users"), users.Options{
		BcryptCost: cfg.BcryptCost,
	})

	a := &App{cfg: cfg, rooms: rooms, users: dir, audit: auditStore, log: logger}
	if err := rooms.Restore(ctx); err != nil {
		a.closeAudit()
		return nil, fmt.Errorf("restore rooms: %w", err)
	}
	if err := dir.Restore(ctx); err != nil {
		a.closeAudit()
		return nil, fmt.Errorf("restore users: %w", err)
	}
	logger.Info().Int("rooms", rooms.Len()).Int("users", dir.Len()).Msg("state restored")

	recorder := audit.NewRecorder(auditStore, logger)
	dispatcher := command.New(rooms, dir, counters, recorder, chatlog.Component(logger, "commands"))
	a.sessions = session.NewManager(dir, rooms, counters, recorder, dispatcher, chatlog.Component(logger, "sessions"), session.Options{
		MaxConnections:    cfg.MaxConnections,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		MaxAuthAttempts:   cfg.MaxAuthAttempts,
		MessagesPerMinute: cfg.MessagesPerMinute,
	})
	a.tcp = tcp.NewServer(cfg.ListenAddr(), a.sessions, cfg.MaxLineBytes, cfg.WriteTimeout, chatlog.Component(logger, "tcp"))

	if cfg.HTTPAddr != "" {
		a.http = transporthttp.NewServer(transporthttp.Deps{
			Rooms:    rooms,
			Users:    dir,
			Sessions: a.sessions,
			Stats:    counters,
			Audit:    recorder,
		}, cfg, chatlog.Component(logger, "http"))
	}

	a.scheduler = maintenance.New(a, a.sessions, func() stats.Snapshot {
		return counters.Snapshot(rooms.Len(), dir.Len())
	}, chatlog.Component(logger, "maintenance"), maintenance.Options{
		AutosaveInterval: cfg.AutosaveInterval,
		SweepInterval:    cfg.SweepInterval,
		StatsInterval:    cfg.StatsInterval,
	})

	return a, nil
}

// Run starts every listener and blocks until ctx is cancelled or one of them
// fails. Either way sessions are notified and state is saved before it returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.tcp.Listen(); err != nil {
		a.closeAudit()
		return err
	}

	// Sessions outlive ctx until they have been told about the shutdown.
	serveCtx, cancelServe := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelServe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.tcp.Serve(serveCtx) })
	if a.http != nil {
		a.http.BaseContext = func(net.Listener) context.Context { return serveCtx }
		g.Go(func() error {
			a.log.Info().Str("addr", a.http.Addr).Msg("http listener started")
			if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(cancelServe)
	})

	return g.Wait()
}

// ChatAddr returns the bound chat listener address, nil until Run has bound it.
func (a *App) ChatAddr() net.Addr {
	return a.tcp.Addr()
}

// Save persists rooms and users.
func (a *App) Save(ctx context.Context) error {
	return errors.Join(a.rooms.Save(ctx), a.users.Save(ctx))
}

func (a *App) shutdown(cancelServe context.CancelFunc) error {
	a.log.Info().Msg("shutting down")
	if err := a.tcp.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close chat listener")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.sessions.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("sessions did not finish in time")
	}
	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("failed to shut down http server")
		}
	}
	cancelServe()

	err := a.Save(context.Background())
	if err != nil {
		a.log.Error().Err(err).Msg("final save failed")
	} else {
		a.log.Info().Int("rooms", a.rooms.Len()).Int("users", a.users.Len()).Msg("state saved")
	}
	a.closeAudit()
	return err
}

func (a *App) closeAudit() {
	if a.audit == nil {
		return
	}
	if err := a.audit.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close audit store")
	} else {
		a.log.Info().Msg("audit store closed")
	}
}
