// Package app wires the lab server runtime: config, logging, stores, the
// board broker, websocket gateways, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"fpgalab/cmd/internal/account"
	"fpgalab/cmd/internal/artifact"
	"fpgalab/cmd/internal/broker"
	"fpgalab/cmd/internal/firmware"
	"fpgalab/cmd/internal/job"
	"fpgalab/cmd/internal/wsession"
	"fpgalab/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const sessionPurgeInterval = time.Hour

// App owns every long-lived component of the server.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	rdb *redis.Client

	registry *prometheus.Registry
	broker   *broker.Broker

	accounts  *account.Service
	accountsH *account.Handler
	jobs      job.Store
	queue     *job.Queue
	signer    *artifact.Presigner
	releases  firmware.Store
	api       *apiHandler
	boardGW   *wsession.BoardGateway
	userGW    *wsession.UserGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	// Persistence: Postgres when configured, memory stores otherwise.
	var (
		users    account.UserStore
		sessions account.SessionStore
	)
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.memory_stores")
		users = account.NewMemoryUserStore()
		sessions = account.NewMemorySessionStore()
		a.jobs = job.NewMemoryStore()
		a.releases = firmware.NewMemoryStore()
	} else {
		pool, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_stores")
		a.dbPool = pool
		a.dbEnabled = true

		if users, err = account.NewPostgresUserStore(pool); err != nil {
			pool.Close()
			return nil, err
		}
		if sessions, err = account.NewPostgresSessionStore(pool); err != nil {
			pool.Close()
			return nil, err
		}
		jobs, err := job.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.jobs = jobs

		releases, err := firmware.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.releases = releases
	}

	passCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	a.accounts = account.NewService(log, users, sessions, passCfg, cfg.SessionTTL)
	a.accountsH = account.NewHandler(log, a.accounts, cfg.SecureCookie)

	// Build queue: optional; without redis, build submission is degraded.
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.rdb = redis.NewClient(ropts)
		q, err := job.NewQueue(log, a.rdb, cfg.WaitingQueue, cfg.WorkingQueue)
		if err != nil {
			return nil, err
		}
		a.queue = q
		log.Info("queue.enabled", "waiting", cfg.WaitingQueue, "working", cfg.WorkingQueue)
	} else {
		log.Info("queue.disabled.no_redis")
	}

	// Object storage: optional; without it uploads and bitstream
	// programming are degraded.
	var fetcher artifact.Fetcher
	if cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		signer, err := artifact.NewPresigner(artifact.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		a.signer = signer
		fetcher = artifact.NewHTTPFetcher(signer)
		log.Info("storage.enabled", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	} else {
		log.Info("storage.disabled")
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.broker = broker.New(log, a.registry, broker.Options{
		ReconcileInterval: cfg.ReconcileInterval,
	})

	wsCfg := wsession.Config{
		QueueSize:        cfg.WSQueueSize,
		WriteTimeout:     cfg.WSWriteTimeout,
		HeartbeatEvery:   cfg.WSHeartbeatEvery,
		HeartbeatTimeout: cfg.WSHeartbeatTimeout,
		AllowedOrigins:   cfg.WSAllowedOrigins,
	}
	a.boardGW = wsession.NewBoardGateway(log, a.broker, cfg.BoardPassword, wsCfg)

	// Without a database every websocket user would fail identity lookup,
	// so degraded dev mode implies the anonymous fallback.
	allowAnon := cfg.AllowAnonymousWSUser || !a.dbEnabled
	a.userGW = wsession.NewUserGateway(log, a.broker, a.jobs, fetcher, a.accounts, allowAnon, wsCfg)

	a.api = newAPIHandler(log, a.accounts, a.jobs, a.queue, a.signer, a.broker, a.releases)

	return a, nil
}

// Run starts the broker, background workers, and the HTTP server, blocking
// until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.broker.Run(runCtx)
	go a.accounts.PurgeExpiredSessions(runCtx, sessionPurgeInterval)
	if a.queue != nil {
		go a.queue.MonitorStale(runCtx, a.cfg.StaleCheckInterval, a.cfg.StaleTaskAfter)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a)

	handler := WithCORS(mux, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws", wsBaseURL(base),
		"db_enabled", a.dbEnabled,
		"queue_enabled", a.queue != nil,
		"storage_enabled", a.signer != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	cancel()
	a.closeResources()

	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a bind address into something clickable in dev logs;
// wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
