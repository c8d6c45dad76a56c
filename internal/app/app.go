// Package app wires the session subsystem into a runnable HTTP service with
// a development identity provider.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/minus-twelve/ledgerauth"
	"github.com/minus-twelve/ledgerauth/internal/devidp"
	"github.com/minus-twelve/ledgerauth/internal/logattr"
	"github.com/minus-twelve/ledgerauth/types"
)

// IdentityProvider verifies credentials and returns trusted claims.
type IdentityProvider interface {
	Authenticate(ctx context.Context, email, password string) (types.Claims, error)
}

type App struct {
	cfg    Config
	logger *slog.Logger

	sessions *ledgerauth.Manager
	limiter  *ledgerauth.RateLimiter
	auth     *ledgerauth.Middleware
	idp      IdentityProvider

	router *gin.Engine
	server *http.Server
}

// New opens the session backend, loads the persisted sessions and builds the
// router. The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	backend, err := ledgerauth.CreateBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("app: backend: %w", err)
	}

	sessions, err := ledgerauth.NewManager(ctx, backend, cfg.ManagerOptions(logger)...)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("app: sessions: %w", err)
	}

	idp, err := devidp.New(cfg.DevUsers)
	if err != nil {
		_ = sessions.Close(ctx)
		return nil, fmt.Errorf("app: identity provider: %w", err)
	}
	logger.InfoContext(ctx, "dev identity provider ready", logattr.Count("users", idp.Len()))

	return newApp(cfg, logger, sessions, idp), nil
}

func newApp(cfg Config, logger *slog.Logger, sessions *ledgerauth.Manager, idp IdentityProvider) *App {
	limiter := ledgerauth.NewRateLimiter(cfg.RateLimiterOptions()...)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		limiter:  limiter,
		auth:     ledgerauth.NewMiddlewareFromConfig(cfg.Config, sessions, limiter, logger),
		idp:      idp,
	}
	a.router = a.routes()
	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a
}

func (a *App) Handler() http.Handler {
	return a.router
}

func (a *App) Sessions() *ledgerauth.Manager {
	return a.sessions
}

// Run serves HTTP and runs the session sweeper and the rate-limit pruner
// until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfoContext(gctx, "http server listening", slog.String("addr", a.cfg.Server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http: %w", err)
		}
		return nil
	})

	if a.cfg.Session.CleanupInterval > 0 {
		g.Go(func() error { return a.sessions.Run(gctx) })
	}
	if a.cfg.RateLimit.PruneInterval > 0 {
		g.Go(func() error { return a.limiter.Run(gctx, a.cfg.RateLimit.PruneInterval) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		a.logger.InfoContext(shutdownCtx, "http server shutting down")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close flushes the session store and releases its backend.
func (a *App) Close(ctx context.Context) error {
	if err := a.sessions.Close(ctx); err != nil {
		a.logger.ErrorContext(ctx, "session store close failed", logattr.Error(err))
		return err
	}
	return nil
}
