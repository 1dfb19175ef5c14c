package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"tokensale/native/sale"
	"tokensale/observability"
)

// Server exposes the sale ledger over HTTP. The admin capability lives here
// and nowhere else: authenticating against the admin JWT middleware is the
// only path to the privileged engine calls.
type Server struct {
	engine   *sale.Engine
	adminCap *sale.AdminCap
	custody  *sale.BookCustody
	auth     *Authenticator
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *observability.SaleMetrics
}

// ServerConfig wires the HTTP surface.
type ServerConfig struct {
	Engine         *sale.Engine
	AdminCap       *sale.AdminCap
	AdminJWTSecret string
	Logger         *slog.Logger
	// Custody enables the admin deposit endpoint for book-entry deployments.
	Custody *sale.BookCustody
	// MutationRate bounds buy/claim/admin submissions per second; zero
	// disables the limiter.
	MutationRate  float64
	MutationBurst int
}

// NewServer constructs the HTTP server around an engine.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.MutationRate > 0 {
		burst := cfg.MutationBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MutationRate), burst)
	}
	return &Server{
		engine:   cfg.Engine,
		adminCap: cfg.AdminCap,
		custody:  cfg.Custody,
		auth:     NewAuthenticator(cfg.AdminJWTSecret),
		limiter:  limiter,
		logger:   logger,
		metrics:  observability.Metrics(),
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/sale", func(r chi.Router) {
		r.With(s.throttle).Post("/buy", s.handleBuy)
		r.With(s.throttle).Post("/claim", s.handleClaim)
		r.Get("/plans/{id}", s.handleGetPlan)
		r.Get("/assets/{asset}", s.handleGetAsset)
		r.Get("/purchases/{id}/{buyer}", s.handleGetPurchase)
		if s.custody != nil {
			r.Get("/balances/{owner}/{asset}", s.handleGetBalance)
		}
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.auth.Middleware(ScopeSaleAdmin))
		r.With(s.throttle).Put("/plans/{id}", s.handleSetPlan)
		r.With(s.throttle).Put("/assets/{asset}", s.handleSetAsset)
		r.With(s.throttle).Post("/sweep", s.handleSweep)
		if s.custody != nil {
			r.With(s.throttle).Post("/fund", s.handleFund)
		}
	})

	return otelhttp.NewHandler(r, "tokensale.rpc")
}

// Serve runs the HTTP listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "RateLimited", "too many submissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// writeSaleError maps a sale error onto a stable code and an HTTP status.
func writeSaleError(w http.ResponseWriter, err error) {
	code := sale.Code(err)
	status := http.StatusBadRequest
	switch code {
	case "Unauthorized":
		status = http.StatusUnauthorized
	case "PlanNotFound", "NothingToClaim":
		status = http.StatusNotFound
	case "AlreadyPurchased", "AlreadyClaimed", "StillLocked", "SaleNotActive", "ReentrantCall":
		status = http.StatusConflict
	case "TransferFailed":
		status = http.StatusBadGateway
	case "Internal":
		status = http.StatusInternalServerError
	}
	writeError(w, status, code, err.Error())
}
