package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	api "github.com/baranwang/haier-iot/internal/http"
)

// APIConfig configures the local control API server.
type APIConfig struct {
	ListenAddr     string        // address to bind (e.g. :8090)
	Backend        api.Backend   // required
	ReadTimeout    time.Duration // optional
	WriteTimeout   time.Duration // optional
	IdleTimeout    time.Duration // optional
	HandlerTimeout time.Duration // optional; per-request deadline
	Logger         logrus.FieldLogger
}

var ErrNilBackend = errors.New("api server: backend is nil")

// NewRouter builds the chi router with middleware and all API routes.
func NewRouter(cfg APIConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(durationOr(cfg.HandlerTimeout, 30*time.Second)))
	api.NewAPI(cfg.Backend, cfg.Logger).Register(r)
	return r
}

// StartAPIServer starts the HTTP server in the background. It returns the
// server, a channel that receives a terminal error (if any) and an error for
// immediate startup issues. The server stops when ctx is canceled.
func StartAPIServer(ctx context.Context, cfg APIConfig) (*http.Server, <-chan error, error) {
	if cfg.Backend == nil {
		return nil, nil, ErrNilBackend
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	log := cfg.Logger.WithField("component", "api")

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      NewRouter(cfg),
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 35*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}

	errCh := make(chan error, 1)

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("control API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, errCh, nil
}

func durationOr(v time.Duration, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	return v
}
