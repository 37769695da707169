package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattbonnell/syncq"
	"github.com/mattbonnell/syncq/appraisal"
	"github.com/mattbonnell/syncq/internal/api"
	"github.com/mattbonnell/syncq/internal/config"
	"github.com/mattbonnell/syncq/kiosk"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// App is everything a command needs, built once from Config.
type App struct {
	Config config.Config
	Client *syncq.Client
	API    *api.Server

	close func() error
}

func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	backend, closeFn, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := newApp(cfg, backend)
	app.close = closeFn
	return app, nil
}

func newApp(cfg config.Config, backend syncq.Backend) *App {
	policies := make(map[string]syncq.DrainPolicy, len(cfg.StrictDomains))
	for _, d := range cfg.StrictDomains {
		policies[d] = syncq.StopOnFailure
	}
	httpClient := syncq.NewHTTPClient(cfg.DeliveryTimeout)
	if cfg.APIToken != "" {
		httpClient.Transport = &bearerTransport{base: httpClient.Transport, token: cfg.APIToken}
	}
	monitor := syncq.NewMonitor(cfg.ProbeURL == "", &syncq.MonitorOptions{
		ProbeURL: cfg.ProbeURL,
		Interval: cfg.ProbeInterval,
		Client:   httpClient,
	})
	client := syncq.NewClient(backend, monitor, &syncq.Options{
		Drainer: &syncq.DrainerOptions{Policies: policies, DeliveryTimeout: cfg.DeliveryTimeout},
	})
	server := api.New(client, httpClient, cfg.APIBaseURL)
	for _, event := range cfg.KioskEvents {
		server.Kiosk(event)
	}
	client.Syncer.SetFallback(kiosk.Fallback(httpClient, cfg.APIBaseURL, appraisal.Domain))
	return &App{Config: cfg, Client: client, API: server, close: func() error { return nil }}
}

func (a *App) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// OpenBackend opens the store named by cfg.Store.
func OpenBackend(ctx context.Context, cfg config.Config) (syncq.Backend, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case "memory":
		return syncq.NewMemoryBackend(), noop, nil
	case "file":
		b, err := syncq.NewFileBackend(filepath.Join(cfg.DataDir, "queues"))
		return b, noop, err
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("error creating data directory: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "syncq.db")
		}
		b, err := syncq.OpenSQLBackend(ctx, "sqlite", dsn)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "mysql", "postgres":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("SYNCQ_DSN is required for store %s", cfg.Store)
		}
		b, err := syncq.OpenSQLBackend(ctx, cfg.Store, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		return syncq.NewRedisBackend(rdb), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
