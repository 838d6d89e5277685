package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/guildwarden/warden/antinuke/cachestore"
	"github.com/guildwarden/warden/antinuke/detector"
	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/engine"
	"github.com/guildwarden/warden/antinuke/outcomestore"
	"github.com/guildwarden/warden/antinuke/platform/discord"
	"github.com/guildwarden/warden/antinuke/setstore"
	"github.com/guildwarden/warden/antinuke/windowstore"
	"github.com/guildwarden/warden/util/cliutil"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/plugin/opentelemetry/tracing"
)

// snapshots are refreshed whenever a guild becomes available on the gateway
const snapshotTTL = 7 * 24 * time.Hour

type Server struct {
	logger   *slog.Logger
	cfg      *Config
	shards   int
	engine   *engine.Engine
	client   *discord.Client
	health   *engine.HealthMonitor
	rdb      *redis.Client
	notifier engine.Notifier
}

type ServerConfig struct {
	RedisURL         string
	DatabaseURL      string
	MaxDBConnections int
	DBTracing        bool
	SetsFileJSON     string
	Shards           int
	HealthInterval   time.Duration
	Dispatch         dispatch.Options
	Logger           *slog.Logger
}

func NewServer(ctx context.Context, cfg *Config, config ServerConfig) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	sets := setstore.NewMemSetStore()
	if config.SetsFileJSON != "" {
		if err := sets.LoadFromFileJSON(config.SetsFileJSON); err != nil {
			return nil, fmt.Errorf("initializing in-process setstore: %v", err)
		} else {
			logger.Info("loaded set config from JSON", "path", config.SetsFileJSON)
		}
	}
	for name, ids := range map[string][]string{
		setstore.SetOwners:    cfg.Owners,
		setstore.SetWhitelist: cfg.Whitelist,
		setstore.SetProtected: cfg.Protected,
	} {
		for _, bad := range sets.AddIDs(name, ids) {
			logger.Warn("skipping invalid ID", "set", name, "id", bad)
		}
	}
	protected, err := sets.Members(ctx, setstore.SetProtected)
	if err != nil {
		return nil, err
	}
	if len(protected) == 0 {
		return nil, fmt.Errorf("no valid protected server IDs configured")
	}
	protectedServers.Set(float64(len(protected)))

	var windows windowstore.WindowStore
	var cache cachestore.CacheStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(ctx).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		windows = windowstore.NewRedisWindowStoreFromClient(rdb)
		cache = cachestore.NewRedisCacheStoreFromClient(rdb, snapshotTTL)
	} else {
		windows = windowstore.NewMemWindowStore()
		cache = cachestore.NewMemCacheStore(50_000, snapshotTTL)
	}

	var outcomes outcomestore.OutcomeStore
	if config.DatabaseURL != "" {
		db, err := cliutil.SetupDatabase(logger, config.DatabaseURL, config.MaxDBConnections)
		if err != nil {
			return nil, err
		}
		if config.DBTracing {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return nil, err
			}
		}
		store, err := outcomestore.NewGormOutcomeStore(db)
		if err != nil {
			return nil, fmt.Errorf("initializing outcome store: %w", err)
		}
		outcomes = store
	} else {
		outcomes = outcomestore.NewMemOutcomeStore()
	}

	client, err := discord.NewClient(ctx, logger, cfg.Token)
	if err != nil {
		return nil, err
	}
	disp := dispatch.NewDispatcher(logger, config.Dispatch)

	var notifiers engine.MultiNotifier
	if cfg.WebhookURL != "" {
		logger.Info("configuring webhook notifications")
		notifiers = append(notifiers, engine.NewWebhookNotifier(logger, cfg.WebhookURL))
	}
	if cfg.OwnerDM {
		logger.Info("configuring owner DM notifications")
		notifiers = append(notifiers, &engine.OwnerDMNotifier{Client: client, Dispatcher: disp, Sets: sets})
	}
	var notifier engine.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}

	eng := &engine.Engine{
		Logger:     logger,
		Client:     client,
		Dispatcher: disp,
		Detector:   detector.NewDetector(logger, windows, cfg.Thresholds),
		Sets:       sets,
		Cache:      cache,
		Outcomes:   outcomes,
		Notifier:   notifier,
		Config:     cfg.Engine,
	}
	logger.Info("anti-nuke configured",
		"servers", len(protected),
		"punishment", cfg.Engine.Punishment,
		"window", cfg.Thresholds.Window,
		"autoRecovery", cfg.Engine.AutoRecovery,
	)

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		shards:   config.Shards,
		engine:   eng,
		client:   client,
		health:   engine.NewHealthMonitor(eng, config.HealthInterval),
		rdb:      rdb,
		notifier: notifier,
	}
	return s, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Connects to the gateway and handles events until the context is canceled, then drains queued events.
func (s *Server) Run(ctx context.Context) error {
	consumer := NewConsumer(ctx, s.logger, s.shards, s.engine.Handle)
	gw := discord.NewGateway(s.logger, s.client, s.engine.Cache, consumer.Submit)
	if err := gw.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.health.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	s.logger.Info("shutting down")
	if cerr := gw.Close(); cerr != nil {
		s.logger.Error("closing gateway", "err", cerr)
	}
	consumer.Drain()
	s.notifyShutdown()
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	return err
}

func (s *Server) notifyShutdown() {
	if !s.cfg.NotifyOnShutdown || s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := fmt.Sprintf("⚠️ Anti-Nuke protection deactivating for %d server(s)", len(s.cfg.Protected))
	if err := s.notifier.NotifyText(ctx, msg); err != nil {
		s.logger.Error("failed to send shutdown notification", "err", err)
	}
}
