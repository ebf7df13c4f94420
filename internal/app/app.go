package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/config"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/files"
	"github.com/clipsync/clipsync/internal/httpserver"
	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/redis"
	"github.com/clipsync/clipsync/internal/registry"
	"github.com/clipsync/clipsync/internal/relay"
	"github.com/clipsync/clipsync/internal/scheduler"
	"github.com/clipsync/clipsync/internal/store"
	"github.com/clipsync/clipsync/internal/store/memory"
	redisstore "github.com/clipsync/clipsync/internal/store/redis"
	"github.com/clipsync/clipsync/internal/store/sqlite"
	"github.com/clipsync/clipsync/internal/utils"
	"github.com/clipsync/clipsync/internal/version"
	"github.com/clipsync/clipsync/internal/ws"
)

type App struct {
	cfg      *config.Config
	logger   logger.Logger
	server   *httpserver.Server
	store    store.Store
	registry *registry.Registry
	relay    *relay.Relay
	reloader *scheduler.UsersReloader
	sweeper  *scheduler.RetentionSweeper
}

// liveStats feeds the probe endpoints.
type liveStats struct {
	registry *registry.Registry
	relay    *relay.Relay
}

func (s liveStats) Connections() int       { return s.registry.Total() }
func (s liveStats) RelayQueued() int       { return s.relay.Len() }
func (s liveStats) RelayDropped() uint64   { return s.relay.Dropped() }
func (s liveStats) RelayDelivered() uint64 { return s.relay.Delivered() }

func New() (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	st, err := openStore(cfg, loggerClient)
	if err != nil {
		return nil, err
	}
	loggerClient.Info("store initialized", logger.String("backend", cfg.StoreBackend))

	uploads, err := files.NewDisk(cfg.UploadDir)
	if err != nil {
		utils.CloseLogged(st, "store", loggerClient)
		return nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}

	users := auth.NewDirectory()
	reloadTrigger := make(chan struct{}, 1)
	reloader := scheduler.NewUsersReloader(
		auth.NewLoader(cfg.UsersFile),
		users,
		loggerClient,
		cfg.UsersReloadInterval,
		reloadTrigger,
	)

	reg := registry.New(loggerClient)
	rl := relay.New(reg, loggerClient, cfg.RelayCapacity)

	eng := engine.New(engine.Deps{
		Store:       st,
		Files:       uploads,
		Broadcaster: rl,
		Presence:    reg,
		Limits:      users,
		Logger:      loggerClient,
	}, engine.Options{
		DefaultMaxItems:     cfg.DefaultMaxItems,
		DefaultFetchLimit:   cfg.FetchDefaultLimit,
		MaxFetchLimit:       cfg.FetchMaxLimit,
		DefaultHistoryLimit: cfg.HistoryDefaultLimit,
	})

	sockets := ws.NewServer(eng, reg, ws.Options{
		PingInterval:   cfg.WSPingInterval,
		WriteTimeout:   cfg.WSWriteTimeout,
		SendBuffer:     cfg.WSSendBuffer,
		MaxMessage:     cfg.WSMaxMessage,
		AllowedOrigins: cfg.AllowedOrigins,
	}, loggerClient)

	sweeper := scheduler.NewRetentionSweeper(
		eng,
		st,
		users,
		cfg.DefaultMaxItems,
		loggerClient,
		cfg.RetentionInterval,
	)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:             loggerClient,
		StartTime:          time.Now(),
		Version:            version.Version,
		Commit:             version.Commit,
		BuildDate:          version.BuildDate,
		GoVersion:          version.GoVersion,
		TimeNow:            time.Now,
		AllowedHosts:       cfg.AllowedHosts,
		AllowedCIDRS:       cfg.AllowedCIDRS,
		TrustProxy:         cfg.TrustProxy,
		RateLimitBurst:     cfg.RateLimitBurst,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		StoreBackend:       cfg.StoreBackend,
		Store:              st,
		Engine:             eng,
		Sockets:            sockets,
		Verifier:           auth.NewVerifier(cfg.JWTSecret, users),
		Users:              users,
		Stats:              liveStats{registry: reg, relay: rl},
		UsersReloadTrigger: reloadTrigger,
	}

	return &App{
		cfg:      cfg,
		logger:   loggerClient,
		server:   httpserver.New(cfg, loggerClient, d),
		store:    st,
		registry: reg,
		relay:    rl,
		reloader: reloader,
		sweeper:  sweeper,
	}, nil
}

// openStore connects the configured backend. Redis is retried until the
// connect timeout; sqlite and memory open immediately.
func openStore(cfg *config.Config, log logger.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("using in-memory store, history is lost on restart")
		return memory.New(), nil

	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store at %s: %w", cfg.SQLitePath, err)
		}
		return st, nil

	default:
		log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.New(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.NewStore(client), nil
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting clipsync v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("clipsync %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Users must be loaded before the first token is verified.
	if err := a.reloader.Start(ctx); err != nil {
		return multierr.Append(
			fmt.Errorf("failed to start users reloader: %w", err),
			a.store.Close())
	}
	a.logger.Info("users reloader started",
		logger.Duration("interval", a.cfg.UsersReloadInterval))

	// The relay outlives the signal: shutdown drains it explicitly.
	a.relay.Start(context.WithoutCancel(ctx))

	sweeping := a.cfg.RetentionInterval > 0
	if sweeping {
		if err := a.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
		a.logger.Info("retention sweeper started",
			logger.Duration("interval", a.cfg.RetentionInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	a.reloader.Stop()
	if sweeping {
		a.sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	err := multierr.Combine(
		runErr,
		a.shutdown(shutdownCtx),
	)
	if err != nil {
		return err
	}

	a.logger.Info("✅ clipsync stopped cleanly")
	_ = a.logger.Sync()
	return nil
}

// shutdown stops intake first, then live sockets, then flushes queued
// broadcasts before the store goes away.
func (a *App) shutdown(ctx context.Context) error {
	var err error
	if e := a.server.Stop(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("failed to stop server: %w", e))
	}

	a.registry.CloseAll()

	if e := a.relay.Stop(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("failed to drain relay: %w", e))
	}

	if e := a.store.Close(); e != nil {
		err = multierr.Append(err, fmt.Errorf("failed to close store: %w", e))
	} else {
		a.logger.Info("✅ Store closed cleanly", logger.String("backend", a.cfg.StoreBackend))
	}
	return err
}
