package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/antonrudenka/blogger-api/internal/config"
	"github.com/antonrudenka/blogger-api/internal/jobs/cleanup"
	pgrepo "github.com/antonrudenka/blogger-api/internal/repo/postgres"
	redrepo "github.com/antonrudenka/blogger-api/internal/repo/redis"
	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler

	cleanupJob  *cleanup.Job
	cleanupStop chan struct{}
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	blacklistRepo := redrepo.NewBlacklistRepo(redisClient)

	var pool *pgxpool.Pool
	var registry sessionsvc.SessionRegistry
	var cleanupJob *cleanup.Job

	if cfg.Auth.SessionStore == "postgres" {
		if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
			log.Warn("postgres init failed, falling back to redis session registry", zap.Error(err))
		} else {
			pool = p
			sessionRepo := pgrepo.NewSessionRepo(pool)
			registry = sessionRepo
			cleanupJob = cleanup.NewSessionCleanupJob(sessionRepo, log)
		}
	}
	if registry == nil {
		registry = redrepo.NewSessionRepo(redisClient)
	}

	tokenManager := sessionsvc.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	sessionService := sessionsvc.NewService(tokenManager, registry, blacklistRepo, sessionsvc.Config{
		RevokeOnReplay: cfg.Auth.RevokeOnReplay,
	})

	RegisterRoutes(r, Dependencies{
		SessionService: sessionService,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:         cfg,
		logger:      log,
		server:      server,
		postgres:    pool,
		redis:       redisClient,
		httpRouter:  r,
		cleanupJob:  cleanupJob,
		cleanupStop: make(chan struct{}),
	}, nil
}

func (a *App) Run() error {
	if a.cleanupJob != nil && a.cfg.Cleanup.Interval > 0 {
		go a.runCleanupLoop()
	}

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	close(a.cleanupStop)

	var shutdownErr error
	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

func (a *App) runCleanupLoop() {
	ticker := time.NewTicker(a.cfg.Cleanup.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.cleanupStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := a.cleanupJob.Run(ctx); err != nil {
				a.logger.Error("session cleanup failed", zap.Error(err))
			}
			cancel()
		}
	}
}
