// Package server exposes the clearing venue over HTTP: trading and
// collateral commands, live position reads, event-log history and the admin
// surface. It is a thin translation layer; every invariant lives in the
// engine.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PerpClear/internal/engine"
	"PerpClear/internal/insurance"
	"PerpClear/internal/market"
	"PerpClear/internal/observability"
	"PerpClear/internal/query"
)

type Config struct {
	Addr    string
	Engine  *engine.Clearinghouse
	Markets *market.Directory
	Fund    *insurance.Fund
	Query   *query.Service
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Clock   func() time.Time
}

type Server struct {
	http    *http.Server
	engine  *engine.Clearinghouse
	markets *market.Directory
	fund    *insurance.Fund
	query   *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
	clock   func() time.Time
}

func New(cfg Config) *Server {
	s := &Server{
		engine:  cfg.Engine,
		markets: cfg.Markets,
		fund:    cfg.Fund,
		query:   cfg.Query,
		health:  cfg.Health,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "server").Logger(),
		clock:   cfg.Clock,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/positions/open", s.handleOpenPosition)
		r.Post("/positions/close", s.handleClosePosition)
		r.Post("/liquidations", s.handleLiquidate)
		r.Post("/funding/settle", s.handleSettleFunding)

		r.Post("/collateral/deposit", s.handleDeposit)
		r.Post("/collateral/withdraw", s.handleWithdraw)
		r.Post("/margin/add", s.handleAddMargin)
		r.Post("/margin/remove", s.handleRemoveMargin)

		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{marketID}", s.handleGetMarket)
		r.Get("/markets/{marketID}/history", s.handleMarketHistory)

		r.Get("/accounts/{account}/positions/{marketID}", s.handleGetPosition)
		r.Get("/accounts/{account}/value", s.handleAccountValue)
		r.Get("/accounts/{account}/collateral/{token}", s.handleFreeCollateral)
		r.Get("/accounts/{account}/history", s.handleAccountHistory)
		r.Get("/accounts/{account}/funding", s.handleFundingHistory)
		r.Get("/accounts/{account}/liquidations", s.handleLiquidationHistory)

		r.Get("/insurance", s.handleInsurance)
		r.Get("/baddebt", s.handleBadDebt)

		r.Route("/admin", func(r chi.Router) {
			r.Put("/risk-params", s.handleSetRiskParams)
			r.Post("/markets/{marketID}/pause", s.handlePauseMarket)
			r.Post("/markets/{marketID}/resume", s.handleResumeMarket)
			r.Post("/markets/{marketID}/reset-reserves", s.handleResetReserves)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		route = r.Method + " " + route
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Error().
				Str("route", route).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request failed")
		}
	})
}

// bearerToken extracts the admin capability token, empty when absent.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return h[len(prefix):]
	}
	return ""
}
