// Package daemon wires the sync engine, its transports and the control API
// of one profile into an fx application.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/archive"
	"github.com/matheus3301/dmsync/internal/backend"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/logging"
	"github.com/matheus3301/dmsync/internal/mutation"
	"github.com/matheus3301/dmsync/internal/profile"
	"github.com/matheus3301/dmsync/internal/realtime"
	"github.com/matheus3301/dmsync/internal/send"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Debug      bool
	Quiet      bool // no console copy of the log
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideSettings,
			provideLock,
			provideSession,
			session.NewGuard,
			bus.New,
			status.NewMachine,
			provideStore,
			provideBackend,
			provideChannel,
			provideEngine,
			providePipeline,
			provideMutator,
			provideRecorder,
			provideSessionService,
			provideChatService,
			provideMessageService,
			provideSyncService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(logging.Options{
		Path:    profile.LogPath(p.Profile),
		Profile: p.Profile,
		Level:   level,
		Quiet:   p.Quiet,
	})
}

func provideSettings(p Params, logger *zap.Logger) (*config.Profile, error) {
	path := profile.SettingsPath(p.Profile)
	settings, err := config.LoadProfile(path)
	if err != nil {
		return nil, err
	}
	logger.Info("profile settings loaded",
		zap.String("path", path),
		zap.String("api", settings.APIBaseURL),
		zap.String("hub", settings.HubURL))
	return settings, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.LockPath(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideSession depends on the lock so a second daemon fails before reading
// anything of the profile.
func provideSession(p Params, _ *lock.Lock, logger *zap.Logger) (*session.Session, error) {
	s, err := session.Load(profile.SessionPath(p.Profile))
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			logger.Error("no session stored; run dmsyncctl session set --token <jwt>")
		}
		return nil, err
	}
	return s, nil
}

func provideStore(p Params, sess *session.Session, logger *zap.Logger) (*store.DB, error) {
	path := profile.ArchivePath(p.Profile)
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	reset, err := db.ClaimOwner(sess.UserID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if reset {
		logger.Warn("archive belonged to another user and was cleared")
	}
	logger.Info("store initialized", zap.String("path", path))
	return db, nil
}

func provideBackend(settings *config.Profile, sess *session.Session, guard *session.Guard, logger *zap.Logger) (*backend.Client, error) {
	return backend.New(backend.Config{
		BaseURL: settings.APIBaseURL,
		Token:   sess.Token,
		Timeout: settings.RequestTimeout.Duration,
	}, guard, logging.WithUser(logger, sess.UserID))
}

func provideChannel(settings *config.Profile, sess *session.Session, machine *status.Machine, guard *session.Guard, logger *zap.Logger) *realtime.Client {
	return realtime.New(realtime.Options{
		URL:           settings.HubURL,
		Token:         sess.Token,
		Delays:        settings.Realtime.Delays(),
		KeepAlive:     settings.Realtime.KeepAlive.Duration,
		ServerTimeout: settings.Realtime.ServerTimeout.Duration,
	}, machine, guard, logging.WithUser(logger, sess.UserID))
}

func provideEngine(sess *session.Session, bc *backend.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(sess.UserID, bc, b, logging.WithUser(logger, sess.UserID))
}

func providePipeline(settings *config.Profile, sess *session.Session, bc *backend.Client, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *send.Pipeline {
	policy := send.Policy{MaxBytes: settings.Attachments.MaxBytes, AllowedTypes: settings.Attachments.AllowedTypes}
	return send.NewPipeline(sess.UserID, bc, engine, policy, b, logging.WithUser(logger, sess.UserID))
}

func provideMutator(sess *session.Session, bc *backend.Client, engine *intsync.Engine, logger *zap.Logger) *mutation.Propagator {
	return mutation.New(sess.UserID, bc, engine, logging.WithUser(logger, sess.UserID))
}

func provideRecorder(sess *session.Session, db *store.DB, b *bus.Bus, logger *zap.Logger) *archive.Recorder {
	return archive.NewRecorder(sess.UserID, db, b, logger.Named("archive"))
}

func provideSessionService(p Params, sess *session.Session, machine *status.Machine, b *bus.Bus, pipeline *send.Pipeline, db *store.DB) *api.SessionService {
	return api.NewSessionService(p.Profile, sess, machine, b, pipeline, db)
}

func provideChatService(engine *intsync.Engine, b *bus.Bus) *api.ChatService {
	return api.NewChatService(engine, b)
}

func provideMessageService(sess *session.Session, pipeline *send.Pipeline, mut *mutation.Propagator, db *store.DB) *api.MessageService {
	return api.NewMessageService(sess.UserID, pipeline, mut, db)
}

func provideSyncService(p Params, b *bus.Bus, logger *zap.Logger) *api.SyncService {
	return api.NewSyncService(p.Profile, b, logger)
}

type lifecycleDeps struct {
	fx.In

	Params     Params
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Server     *Server
	Lock       *lock.Lock
	Session    *session.Session
	Guard      *session.Guard
	Bus        *bus.Bus
	Store      *store.DB
	Channel    *realtime.Client
	Engine     *intsync.Engine
	Recorder   *archive.Recorder
	Logger     *zap.Logger
}

func registerLifecycle(d lifecycleDeps) {
	log := logging.WithUser(d.Logger, d.Session.UserID)

	d.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Guard.OnTrip(func() { onUnauthorized(d, log) })

			d.Recorder.Start(context.Background())
			d.Engine.Start(context.Background())

			warm, err := archive.WarmInbox(d.Store)
			if err != nil {
				log.Warn("archived inbox not readable", zap.Error(err))
			} else if err := d.Engine.Seed(ctx, warm); err != nil {
				return err
			}

			go func() {
				if err := d.Server.Start(); err != nil {
					log.Error("gRPC server error", zap.Error(err))
				}
			}()

			if d.Session.Expired(time.Now()) {
				log.Warn("session token expired", zap.Time("expires_at", d.Session.ExpiresAt))
				d.Guard.Trip()
				return nil
			}

			d.Channel.AddHandler(d.Engine.HandleEvent)
			if err := d.Channel.Subscribe(d.Session.UserID); err != nil {
				return err
			}
			if err := d.Engine.RefreshInbox(ctx); err != nil {
				return err
			}
			if peer, err := d.Store.CheckpointInt(store.KeyActivePeer); err != nil {
				log.Warn("active peer checkpoint not readable", zap.Error(err))
			} else if peer > 0 && peer != d.Session.UserID {
				log.Info("reopening last conversation", zap.Int64("peer", peer))
				if _, err := d.Engine.Open(ctx, peer); err != nil {
					return err
				}
			}
			log.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Channel.Stop()
			d.Server.Stop(ctx)
			d.Engine.Stop()
			d.Recorder.Stop()
			if err := d.Store.Close(); err != nil {
				log.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				log.Warn("error releasing lock", zap.Error(err))
			}
			log.Info("daemon stopped")
			return nil
		},
	})
}

// onUnauthorized ends the session: the stored token is dropped, watchers are
// told, and the daemon shuts itself down.
func onUnauthorized(d lifecycleDeps, log *zap.Logger) {
	log.Warn("session rejected by server; signing out")
	if err := session.Clear(profile.SessionPath(d.Params.Profile)); err != nil {
		log.Error("clearing session file failed", zap.Error(err))
	}
	d.Bus.Emit(bus.KindSessionUnauthorized, d.Session.UserID)
	go func() {
		d.Channel.Stop()
		if err := d.Shutdowner.Shutdown(fx.ExitCode(3)); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()
}
