package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/api"
	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
)

type Server struct {
	api     *api.API
	mux     *http.ServeMux
	cfg     config.ServerConfig
	metrics *metrics.Metrics
	log     logger.Logger
}

func New(a *api.API, cfg config.ServerConfig, m *metrics.Metrics, log logger.Logger) *Server {
	s := &Server{api: a, mux: http.NewServeMux(), cfg: cfg, metrics: m, log: log}
	s.routes()
	return s
}

// Handler returns the routed handler with request logging and timeouts.
func (s *Server) Handler() http.Handler {
	return s.withTimeout(s.withLogging(s.mux))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown failed", logger.Error(err))
		}
	}()

	s.log.Info("HTTP server listening", logger.String("addr", s.cfg.ListenAddr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.cfg.RequestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Duration("took", time.Since(start)),
		)
	})
}
