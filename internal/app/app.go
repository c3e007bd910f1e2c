package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrSnakeDoc/marks/internal/bookmarks"
	"github.com/MrSnakeDoc/marks/internal/changefeed"
	"github.com/MrSnakeDoc/marks/internal/config"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/identity"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/redis"
	"github.com/MrSnakeDoc/marks/internal/scheduler"
	"github.com/MrSnakeDoc/marks/internal/session"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
	"github.com/MrSnakeDoc/marks/internal/store/memory"
	"github.com/MrSnakeDoc/marks/internal/store/postgres"
	redisstore "github.com/MrSnakeDoc/marks/internal/store/redis"
	"github.com/MrSnakeDoc/marks/internal/store/sqlite"
	"github.com/MrSnakeDoc/marks/internal/utils"
	"github.com/MrSnakeDoc/marks/internal/version"
)

type App struct {
	cfg       *config.Config
	logger    logger.Logger
	server    *httpserver.Server
	tracker   *session.Tracker
	list      *bookmarks.List
	resyncer  *scheduler.Resyncer
	unwatch   func()
	resources []utils.Closer // closed in order after the list stops
}

// backend is the selected record store plus what it takes to check and close it.
type backend struct {
	store     domain.RecordStore
	checks    map[string]deps.Check
	resources []utils.Closer
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Fail fast if the store is unreachable
	be, err := openStore(context.Background(), cfg, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to open %s store: %v", cfg.Store, err)
		os.Exit(1)
	}
	loggerClient.Info("record store ready", logger.String("backend", cfg.Store))

	tokens, err := identity.NewTokenService(cfg.SessionSecret)
	if err != nil {
		loggerClient.Errorf("Invalid session secret: %v", err)
		os.Exit(1)
	}
	provider := identity.NewProvider(identity.Options{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		SessionTTL:   cfg.SessionTTL,
		Tokens:       tokens,
	}, loggerClient)

	tracker := session.NewTracker(provider, cfg.OAuthProvider, loggerClient)

	list := bookmarks.NewList(be.store, loggerClient, bookmarks.Options{
		ToastDuration: cfg.ToastDuration,
	})
	// Watch delivers the current identity right away, so the list starts
	// Unauthenticated and follows every change from here on.
	unwatch := tracker.Watch(list.SetIdentity)

	resyncTrigger := make(chan struct{}, 1)
	resyncer := scheduler.NewResyncer(list, loggerClient, cfg.ResyncInterval, resyncTrigger)

	var importer deps.Importer
	if cfg.ImportFile != "" {
		loggerClient.Info("import file configured", logger.String("file", cfg.ImportFile))
		importer = homepage.NewImporter(cfg.ImportFile, list, loggerClient)
	} else {
		loggerClient.Info("import file not configured, homepage import disabled")
	}

	d := deps.Deps{
		Logger:    loggerClient,
		StartTime: time.Now(),
		Version:   version.Version,
		Commit:    version.Commit,
		BuildDate: version.BuildDate,
		GoVersion: version.GoVersion,

		Session:   tracker,
		Auth:      provider,
		Bookmarks: list,
		Importer:  importer,
		Checks:    be.checks,

		ResyncTrigger: resyncTrigger,

		AllowedCIDRS:    cfg.AllowedCIDRS,
		AllowedHosts:    cfg.AllowedHosts,
		TrustProxy:      cfg.TrustProxy,
		SignInPerMinute: cfg.SignInPerMinute,
		SignInBurst:     cfg.SignInBurst,
	}

	return &App{
		cfg:       cfg,
		logger:    loggerClient,
		server:    httpserver.New(cfg.ListenAddr, d),
		tracker:   tracker,
		list:      list,
		resyncer:  resyncer,
		unwatch:   unwatch,
		resources: be.resources,
	}
}

// openStore builds the record store named by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (*backend, error) {
	be := &backend{checks: make(map[string]deps.Check)}

	// memory and sqlite fan changes out in-process unless NATS is configured
	var feed changefeed.Feed = changefeed.NewHub()
	if cfg.NATSURL != "" && (cfg.Store == config.StoreMemory || cfg.Store == config.StoreSQLite) {
		nc, err := changefeed.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			return nil, err
		}
		feed = nc
		be.checks["nats"] = nc.Ping
		be.resources = append(be.resources, utils.Closer{Name: "nats", Closer: nc})
	}

	switch cfg.Store {
	case config.StoreMemory:
		be.store = memory.New(memory.WithFeed(feed), memory.WithLogger(log))

	case config.StoreSQLite:
		st, err := sqlite.New(cfg.SQLitePath, feed, log)
		if err != nil {
			utils.CloseAll(log, be.resources...)
			return nil, err
		}
		be.store = st
		be.checks["sqlite"] = st.Ping
		// the store goes first so nothing publishes into a closed feed
		be.resources = append([]utils.Closer{{Name: "sqlite", Closer: st}}, be.resources...)

	case config.StoreRedis:
		log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.Connect(ctx, redis.Options{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
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
			return nil, err
		}
		be.store = redisstore.NewStore(client, log)
		be.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		be.resources = append(be.resources, utils.Closer{Name: "redis", Closer: client})

	case config.StorePostgres:
		st, err := postgres.New(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		be.store = st
		be.checks["postgres"] = st.Ping
		be.resources = append(be.resources, utils.Closer{Name: "postgres", Closer: utils.CloseFunc(func() error {
			st.Close()
			return nil
		})})

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	return be, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting marks v%s on %s (store=%s)", version.Version, a.cfg.ListenAddr, a.cfg.Store)
	a.logger.Infof("marks %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The initial identity fetch can be slow; readyz reports 503 meanwhile.
	go func() {
		if err := a.tracker.Start(ctx); err != nil {
			a.logger.Warn("session tracker did not start", logger.Error(err))
		}
	}()

	a.resyncer.Start(ctx)
	a.logger.Info("resync scheduler started",
		logger.Duration("interval", a.cfg.ResyncInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.shutdown()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.shutdown()
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.shutdown()
	a.logger.Info("✅ marks stopped cleanly")
	return nil
}

// shutdown stops the background components, then releases the store.
func (a *App) shutdown() {
	a.resyncer.Stop()
	a.unwatch()
	if err := a.tracker.Close(); err != nil {
		a.logger.Warn("failed to close session tracker", logger.Error(err))
	}
	if err := a.list.Close(); err != nil {
		a.logger.Warn("failed to close bookmark list", logger.Error(err))
	}
	utils.CloseAll(a.logger, a.resources...)
}
