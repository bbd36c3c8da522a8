package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caffeineduck/guardsim/budget"
	"github.com/caffeineduck/guardsim/executor"
	"github.com/caffeineduck/guardsim/internal/config"
	"github.com/caffeineduck/guardsim/metrics"
)

const (
	maxRequestBytes = 16 << 20
	maxBatchSize    = 64
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for simulated runs",
		Long: `Start an HTTP server that simulates runs on request.

Endpoints:
  POST   /simulate         Run one request, returns the outcome
  POST   /simulate/batch   Run up to 64 requests in parallel
  GET    /health           Health check
  GET    /metrics          Prometheus metrics

A request body may carry a partial "budget" object that overrides the
server budget for that request. Requests beyond the rate limit are
answered with 429.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringP("host", "H", "", "Host to listen on (default $GUARDSIM_HOST or 127.0.0.1)")
	cmd.Flags().IntP("port", "p", 0, "Port to listen on (default $GUARDSIM_PORT or 8080)")
	addBudgetFlags(cmd)
	return cmd
}

type simulateRequest struct {
	executor.Request
	Budget json.RawMessage `json:"budget,omitempty"`
}

type batchRequest struct {
	Requests []executor.Request `json:"requests"`
	Budget   json.RawMessage    `json:"budget,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	budget    budget.Budget
	denied    []string
	logger    *zap.Logger
	limiter   *rate.Limiter
	registry  *prometheus.Registry
	collector *metrics.Collector
}

func newServer(b budget.Budget, cfg config.Config, logger *zap.Logger, denied []string) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return &server{
		budget:    b,
		denied:    denied,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		registry:  reg,
		collector: metrics.NewCollector(reg, "guardsim", logger),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /simulate", s.limit(http.HandlerFunc(s.handleSimulate)))
	mux.Handle("POST /simulate/batch", s.limit(http.HandlerFunc(s.handleBatch)))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	b, err := s.requestBudget(req.Budget)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sim, err := executor.New(b, s.options()...)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sim.Run(r.Context(), req.Request))
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	if len(req.Requests) == 0 || len(req.Requests) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("batch must hold 1 to %d requests, got %d", maxBatchSize, len(req.Requests)),
		})
		return
	}
	b, err := s.requestBudget(req.Budget)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	outcomes, err := executor.RunAll(r.Context(), b, req.Requests, s.options()...)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}

// requestBudget applies a partial budget document on top of the server
// budget.
func (s *server) requestBudget(raw json.RawMessage) (budget.Budget, error) {
	b := s.budget
	if len(raw) == 0 || string(raw) == "null" {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return budget.Budget{}, fmt.Errorf("invalid budget: %w", err)
	}
	if err := b.Validate(); err != nil {
		return budget.Budget{}, err
	}
	return b, nil
}

func (s *server) options() []executor.Option {
	return []executor.Option{
		executor.WithLogger(s.logger),
		executor.WithDenied(s.denied...),
		executor.WithObserver(s.collector),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	b, err := resolveBudget(cmd)
	if err != nil {
		return err
	}
	logger, cfg, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	denied, _ := cmd.Flags().GetStringSlice("deny")

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newServer(b, cfg, logger, denied).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("guardsim server listening",
			zap.String("addr", srv.Addr),
			zap.Int64("max_execution_time_ms", b.MaxExecutionTimeMs),
			zap.Int64("max_memory_bytes", b.MaxMemoryBytes),
			zap.Float64("rate_limit_rps", cfg.RateLimitRPS))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
