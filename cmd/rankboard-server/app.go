package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	jsonfileAdapter "rankboard/adapters/jsonfile"
	mem "rankboard/adapters/memory"
	redisAdapter "rankboard/adapters/redis"
	sqlxAdapter "rankboard/adapters/sqlx"
	"rankboard/api/httpapi"
	"rankboard/board"
	"rankboard/config"
	"rankboard/realtime"
	"rankboard/stats"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Board   *board.App
	Stats   *stats.Collector
	API     *httpapi.Server
	Handler http.Handler
	Server  *http.Server

	// Listener is non-nil for the redis adapter; it feeds cross-process
	// changes into the local fan-out.
	Listener *redisAdapter.Listener
}

// storageBundle carries the adapter plus its optional companion
// listener through the injector.
type storageBundle struct {
	Store    board.Store
	Listener *redisAdapter.Listener
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	if path := os.Getenv("RANKBOARD_CONFIG"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideFanout() *board.Fanout {
	return board.NewFanout()
}

func provideStorage(ctx context.Context, cfg *config.Config, fanout *board.Fanout, logger *slog.Logger) (*storageBundle, error) {
	return setupStorage(ctx, cfg, fanout, logger)
}

func provideListener(bundle *storageBundle) *redisAdapter.Listener {
	return bundle.Listener
}

func provideBoard(cfg *config.Config, logger *slog.Logger, hub *realtime.Hub, fanout *board.Fanout, bundle *storageBundle) (*board.App, error) {
	opts := []board.Option{
		board.WithStore(bundle.Store),
		board.WithFanout(fanout),
		board.WithHub(hub),
		board.WithLogger(logger),
		board.WithMetrics(cfg.Metrics.Enabled),
		board.WithWebhooks(cfg.Webhook.Endpoints),
	}
	admins, users, err := seedCredentials(cfg.Auth)
	if err != nil {
		return nil, err
	}
	opts = append(opts, board.WithAdmins(admins...), board.WithUsers(users...))

	return board.New(opts...)
}

func provideStats(app *board.App, logger *slog.Logger) *stats.Collector {
	return stats.NewCollector(app.Store, app.Hub, logger)
}

func provideAPI(app *board.App, collector *stats.Collector, cfg *config.Config, logger *slog.Logger) *httpapi.Server {
	return httpapi.NewServer(app.Store, app.Directory, app.Hub, app.Sessions, app.Gate, logger, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		MetricsEnabled:   cfg.Metrics.Enabled,
		AuthPath:         cfg.Auth.AuthPath,
		PublicPath:       cfg.Auth.PublicPath,
		Stats:            collector,
	})
}

func provideHandler(api *httpapi.Server) http.Handler {
	return api.Router()
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var out *os.File
	switch cfg.Logging.Output {
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the appropriate storage adapter based on
// configuration, wiring the fan-out into each so every write emits a
// change notification. The redis adapter additionally carries a
// listener that relays changes published by other processes.
func setupStorage(ctx context.Context, cfg *config.Config, fanout *board.Fanout, logger *slog.Logger) (*storageBundle, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return &storageBundle{Store: mem.New(mem.WithPublisher(fanout))}, nil
	case "redis":
		store, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		store.WithPublisher(fanout)
		listener := redisAdapter.NewListener(store.Client(), fanout, logger)
		return &storageBundle{Store: store, Listener: listener}, nil
	case "sql":
		store, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		store.WithPublisher(fanout)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &storageBundle{Store: store}, nil
	case "file":
		store, err := jsonfileAdapter.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, err
		}
		store.WithPublisher(fanout)
		return &storageBundle{Store: store}, nil
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

// seedCredentials parses the configured account list.
func seedCredentials(auth config.AuthConfig) (admins, users []board.Credential, err error) {
	for _, entry := range auth.AdminUsers {
		email, password, err := config.SplitCredential(entry)
		if err != nil {
			return nil, nil, err
		}
		admins = append(admins, board.Credential{Email: email, Password: password})
	}
	for _, entry := range auth.Users {
		email, password, err := config.SplitCredential(entry)
		if err != nil {
			return nil, nil, err
		}
		users = append(users, board.Credential{Email: email, Password: password})
	}
	return admins, users, nil
}
