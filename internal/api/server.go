package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"fx-high-alerts/internal/config"
	"fx-high-alerts/internal/metrics"
	"fx-high-alerts/internal/service"
	"fx-high-alerts/internal/storage"
)

const (
	statusOnline  = "Online"
	statusWaiting = "Waiting for initial data..."
)

// Source is the read model behind the API.
type Source interface {
	Status(ctx context.Context, now time.Time) (service.Status, error)
	History(ctx context.Context, limit int) ([]storage.RateSample, error)
}

// Options configure the HTTP server.
type Options struct {
	Listen          string
	HistoryLimit    int
	Location        *time.Location
	CORSOrigins     []string
	RateLimitPerSec float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// OptionsFromConfig maps the api config section.
func OptionsFromConfig(cfg config.APIConfig) (Options, error) {
	loc, err := config.LoadLocation(cfg.Timezone)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Listen:          cfg.Listen,
		HistoryLimit:    cfg.HistoryLimit,
		Location:        loc,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Server exposes the read-only status API.
type Server struct {
	opts    Options
	source  Source
	metrics *metrics.Metrics
	limiter *clientLimiter
	logger  zerolog.Logger
	now     func() time.Time

	mu   sync.Mutex
	addr string
}

// NewServer constructs the API server.
func NewServer(opts Options, source Source, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if opts.HistoryLimit <= 0 || opts.HistoryLimit > config.MaxHistoryLimit {
		opts.HistoryLimit = config.MaxHistoryLimit
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		opts:    opts,
		source:  source,
		metrics: m,
		logger:  logger.With().Str("component", "api").Logger(),
		now:     time.Now,
	}
	if opts.RateLimitPerSec > 0 {
		s.limiter = newClientLimiter(opts.RateLimitPerSec, opts.RateLimitBurst)
	}
	return s
}

// Handler builds the routed handler with CORS and rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.instrument("/", http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /history", s.instrument("/history", http.HandlerFunc(s.handleHistory)))
	mux.Handle("GET /healthz", s.instrument("/healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", s.metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.rateLimit(mux))
}

// Addr reports the bound address once Run has started listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Listen, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", s.Addr()).Msg("api listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	s.logger.Info().Msg("api stopped")
	return nil
}

type statusResponse struct {
	Status        string   `json:"status"`
	LatestRate    *float64 `json:"latest_rate,omitempty"`
	LastChecked   string   `json:"last_checked,omitempty"`
	HighPeriod    *float64 `json:"high_period,omitempty"`
	EffectiveDays *int     `json:"effective_days,omitempty"`
}

type historyPoint struct {
	Rate float64 `json:"rate"`
	Time string  `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.source.Status(r.Context(), s.now())
	if err != nil {
		s.fail(w, err)
		return
	}
	if !st.HasData {
		writeJSON(w, http.StatusOK, statusResponse{Status: statusWaiting})
		return
	}

	latest := st.LatestRate.InexactFloat64()
	high := st.HighPeriod.InexactFloat64()
	days := st.EffectiveDays
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        statusOnline,
		LatestRate:    &latest,
		LastChecked:   st.LastChecked.In(s.opts.Location).Format(time.RFC3339),
		HighPeriod:    &high,
		EffectiveDays: &days,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > config.MaxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("limit must be an integer between 1 and %d", config.MaxHistoryLimit),
			})
			return
		}
		if n < limit {
			limit = n
		}
	}

	samples, err := s.source.History(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}

	points := make([]historyPoint, 0, len(samples))
	for _, sample := range samples {
		points = append(points, historyPoint{
			Rate: sample.Rate.InexactFloat64(),
			Time: sample.ObservedAt.In(s.opts.Location).Format("15:04"),
		})
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, storage.ErrNotConfigured) {
		code = http.StatusServiceUnavailable
	}
	s.logger.Error().Err(err).Int("code", code).Msg("api request failed")
	writeJSON(w, code, map[string]string{"error": http.StatusText(code)})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
