package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/util/svcutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "anti-nuke daemon for chat servers",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to YAML configuration file",
			Value:   "config/config.yaml",
			EnvVars: []string{"WARDEN_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkConfigCmd,
	}

	return app.Run(args)
}

// Reads the YAML file (a missing file is not an error) and overlays flags and environment.
func loadConfig(cctx *cli.Context) (*Config, error) {
	fc, err := LoadFileConfig(cctx.String("config"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if fc == nil {
		slog.Warn("configuration file not found, using defaults and environment", "path", cctx.String("config"))
	}
	cfg, err := fc.Resolve()
	if err != nil {
		return nil, err
	}
	if tok := cctx.String("discord-token"); tok != "" {
		cfg.Token = tok
	}
	if s := cctx.String("owner-ids"); s != "" {
		cfg.Owners = appendIDs(cfg.Owners, strings.Split(s, ",")...)
	}
	if s := cctx.String("protected-servers"); s != "" {
		cfg.Protected = appendIDs(cfg.Protected, strings.Split(s, ",")...)
	}
	if s := cctx.String("webhook-url"); s != "" {
		cfg.WebhookURL = s
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var configFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "discord-token",
		Usage:   "bot token; overrides the configuration file",
		EnvVars: []string{"DISCORD_TOKEN"},
	},
	&cli.StringFlag{
		Name:    "owner-ids",
		Usage:   "comma-separated owner account IDs, added to those in the configuration file",
		EnvVars: []string{"OWNER_IDS"},
	},
	&cli.StringFlag{
		Name:    "protected-servers",
		Usage:   "comma-separated server IDs to protect, added to those in the configuration file",
		EnvVars: []string{"PROTECTED_SERVERS"},
	},
	&cli.StringFlag{
		Name:    "webhook-url",
		Usage:   "incoming webhook URL for outcome notifications",
		EnvVars: []string{"WARDEN_WEBHOOK_URL"},
	},
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; in-process stores are used when empty",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "outcome ledger database; in-process store is used when empty",
			Value:   "sqlite://data/warden/outcomes.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit OTEL spans for outcome ledger queries",
			EnvVars: []string{"WARDEN_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "sets-json-path",
			Usage:   "file path of JSON file containing static sets (whitelist, owners, protected)",
			EnvVars: []string{"WARDEN_SETS_JSON_PATH"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "shards",
			Usage:   "number of parallel event workers; events of one server are always handled in order",
			Value:   8,
			EnvVars: []string{"WARDEN_SHARDS"},
		},
		&cli.DurationFlag{
			Name:    "health-interval",
			Usage:   "how often permission and hierarchy health is checked",
			Value:   15 * time.Minute,
			EnvVars: []string{"WARDEN_HEALTH_INTERVAL"},
		},
		&cli.Uint64Flag{
			Name:    "retry-limit",
			Usage:   "retries of a failed platform call before giving up",
			Value:   dispatch.DefaultOptions.RetryLimit,
			EnvVars: []string{"WARDEN_RETRY_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "initial-backoff",
			Value:   dispatch.DefaultOptions.InitialBackoff,
			EnvVars: []string{"WARDEN_INITIAL_BACKOFF"},
		},
		&cli.DurationFlag{
			Name:    "max-backoff",
			Value:   dispatch.DefaultOptions.MaxBackoff,
			EnvVars: []string{"WARDEN_MAX_BACKOFF"},
		},
	}, configFlags...),
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if !cctx.IsSet("log-level") && cfg.LogLevel != "" {
			if err := cctx.Set("log-level", cfg.LogLevel); err != nil {
				return err
			}
		}
		logger := svcutil.ConfigLogger(cctx, os.Stdout)

		shutdownOTEL, err := configOTEL(ctx, "warden", cctx.Int("shards"))
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		srv, err := NewServer(ctx, cfg, ServerConfig{
			RedisURL:         cctx.String("redis-url"),
			DatabaseURL:      cctx.String("database-url"),
			MaxDBConnections: cctx.Int("max-db-connections"),
			DBTracing:        cctx.Bool("db-tracing"),
			SetsFileJSON:     cctx.String("sets-json-path"),
			Shards:           cctx.Int("shards"),
			HealthInterval:   cctx.Duration("health-interval"),
			Dispatch: dispatch.Options{
				RetryLimit:     cctx.Uint64("retry-limit"),
				InitialBackoff: cctx.Duration("initial-backoff"),
				MaxBackoff:     cctx.Duration("max-backoff"),
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run anti-nuke service: %w", err)
		}
		return nil
	},
}

var checkConfigCmd = &cli.Command{
	Name:  "check-config",
	Usage: "validate configuration and print the resolved settings",
	Flags: configFlags,
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		fmt.Print(configTree(cfg).String())
		return nil
	},
}
