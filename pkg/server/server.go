// Package server exposes the streaming analyzer over HTTP. Clients open a
// session, post chunks to it, and finalize it to obtain the verdict; one-shot
// analysis of a request body is also available.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polisai/streamguard/internal/governance"
	"github.com/polisai/streamguard/pkg/config"
	"github.com/polisai/streamguard/pkg/domain"
	"github.com/polisai/streamguard/pkg/policy"
	"github.com/polisai/streamguard/pkg/policy/dlp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

const (
	defaultSessionTTL    = 15 * time.Minute
	defaultMaxChunkBytes = 4 << 20
	shutdownTimeout      = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Address        string
	MetricsPath    string
	MaxConnections int
	SessionTTL     time.Duration
	MaxChunkBytes  int64
	// TLS, when set, terminates TLS on the listener and negotiates HTTP/2 via
	// ALPN instead of cleartext h2c.
	TLS *tls.Config
	// RateLimit bounds requests per client address on the API routes.
	RateLimit governance.RateLimiterConfig

	// ChunkSize is the read size used for one-shot analysis of request bodies.
	ChunkSize      int
	DefaultProfile string

	Registry *dlp.Registry
	// Policy, when set, adds an advisory decision to every finalized result.
	Policy  policy.Evaluator
	Logger  *slog.Logger
	Metrics *Metrics
}

// OptionsFromConfig derives server options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Address:        cfg.Server.Address,
		MetricsPath:    cfg.Server.MetricsPath,
		MaxConnections: cfg.Server.MaxConnections,
		SessionTTL:     cfg.Server.SessionTTL,
		MaxChunkBytes:  cfg.Server.MaxChunkBytes,
		RateLimit:      rateLimitFromConfig(cfg.Server.RateLimit),
		ChunkSize:      cfg.Analyzer.ChunkSize,
		DefaultProfile: cfg.Analyzer.DefaultProfile,
	}
}

func rateLimitFromConfig(rl config.RateLimit) governance.RateLimiterConfig {
	return governance.RateLimiterConfig{
		RequestsPerSecond: rl.RequestsPerSecond,
		BurstSize:         rl.Burst,
	}
}

// Server hosts analyzer sessions.
type Server struct {
	opts     Options
	registry *dlp.Registry
	sessions *SessionManager
	limiter  *governance.RateLimiter
	metrics  *Metrics
	logger   *slog.Logger
	handler  http.Handler

	mu             sync.RWMutex
	chunkSize      int
	defaultProfile string
	evaluator      policy.Evaluator
}

// New creates a server. Missing options fall back to defaults.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = dlp.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = defaultMaxChunkBytes
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = dlp.DefaultProfile
	}

	s := &Server{
		opts:           opts,
		registry:       opts.Registry,
		limiter:        governance.NewRateLimiter(opts.RateLimit),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		chunkSize:      opts.ChunkSize,
		defaultProfile: opts.DefaultProfile,
		evaluator:      opts.Policy,
	}
	s.sessions = NewSessionManager(func(sess *Session, expired bool) {
		s.metrics.RecordSessionClosed(time.Since(sess.CreatedAt), expired)
		if expired {
			s.logger.Info("Session expired", "session_id", sess.ID, "profile", sess.Profile)
		}
	})

	mux := http.NewServeMux()
	s.setupRoutes(mux)
	s.handler = otelhttp.NewHandler(mux, "streamguard")
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions exposes the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// SetPolicy swaps the advisory policy evaluator. A nil evaluator disables it.
func (s *Server) SetPolicy(ev policy.Evaluator) {
	s.mu.Lock()
	s.evaluator = ev
	s.mu.Unlock()
}

// ApplyConfig installs the analyzer profiles and streaming parameters of cfg.
// Open sessions keep the configuration they were created with.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	profiles, err := cfg.Analyzer.ProfileConfigs()
	if err == nil {
		err = s.registry.Replace(profiles)
	}
	if err != nil {
		s.metrics.RecordConfigReload("error")
		return fmt.Errorf("apply analyzer profiles: %w", err)
	}

	s.limiter.Configure(rateLimitFromConfig(cfg.Server.RateLimit))
	// Cached policy decisions may name profiles that were just redefined.
	if f, ok := s.currentPolicy().(policy.Flusher); ok {
		f.FlushCache()
	}

	s.mu.Lock()
	s.chunkSize = cfg.Analyzer.ChunkSize
	if cfg.Analyzer.DefaultProfile != "" {
		s.defaultProfile = cfg.Analyzer.DefaultProfile
	}
	s.mu.Unlock()

	s.metrics.RecordConfigReload("success")
	s.logger.Info("Analyzer profiles applied", "profiles", s.registry.Names())
	return nil
}

// WatchConfig applies every snapshot received on updates until the channel is
// closed or ctx is done.
func (s *Server) WatchConfig(ctx context.Context, updates <-chan config.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Config == nil {
				continue
			}
			if err := s.ApplyConfig(snap.Config); err != nil {
				s.logger.Error("Failed to apply configuration", "generation", snap.Generation, "error", err)
			}
		}
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. Both HTTP/1.1 and HTTP/2 are accepted; without TLS, HTTP/2 is
// spoken in cleartext.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}

	httpServer := &http.Server{
		Handler:           h2c.NewHandler(s.handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	serve := func() error { return httpServer.Serve(ln) }
	if s.opts.TLS != nil {
		httpServer.Handler = s.handler
		httpServer.TLSConfig = s.opts.TLS.Clone()
		if err := http2.ConfigureServer(httpServer, &http2.Server{}); err != nil {
			return fmt.Errorf("configure HTTP/2: %w", err)
		}
		serve = func() error { return httpServer.ServeTLS(ln, "", "") }
	}

	interval := s.opts.SessionTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	s.sessions.StartCleanup(ctx, interval, s.opts.SessionTTL)
	go s.pruneRateLimits(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", ln.Addr().String(), "tls", s.opts.TLS != nil, "max_connections", s.opts.MaxConnections)
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	// The route pattern is only known once the mux has matched, so the span
	// is renamed here rather than by otelhttp.
	named := func(handler http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			trace.SpanFromContext(r.Context()).SetName(r.Method + " " + endpointName(r))
			handler(w, r)
		})
	}
	wrap := func(handler http.HandlerFunc) http.Handler {
		return s.metrics.Middleware(s.rateLimit(named(handler)))
	}

	mux.Handle("GET /healthz", s.metrics.Middleware(named(s.handleHealth)))
	mux.Handle("GET /v1/profiles", wrap(s.handleProfiles))
	mux.Handle("POST /v1/analyze", wrap(s.handleAnalyze))

	mux.Handle("POST /v1/sessions", wrap(s.handleCreateSession))
	mux.Handle("POST /v1/sessions/{id}/chunks", wrap(s.handleChunk))
	mux.Handle("GET /v1/sessions/{id}/stats", wrap(s.handleStats))
	mux.Handle("POST /v1/sessions/{id}/finalize", wrap(s.handleFinalize))
	mux.Handle("GET /v1/sessions/{id}/config", wrap(s.handleGetConfig))
	mux.Handle("PUT /v1/sessions/{id}/config", wrap(s.handleUpdateConfig))
	mux.Handle("DELETE /v1/sessions/{id}", wrap(s.handleDeleteSession))

	mux.Handle("GET "+s.opts.MetricsPath, s.metrics.Handler())
}

func (s *Server) resolveProfile(name string) (string, dlp.Config, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		s.mu.RLock()
		name = s.defaultProfile
		s.mu.RUnlock()
	}
	cfg, ok := s.registry.Resolve(name)
	return name, cfg, ok
}

func (s *Server) currentChunkSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunkSize
}

func (s *Server) currentPolicy() policy.Evaluator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluator
}

// rateLimit rejects requests once the client address has used up its budget.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, ok := s.limiter.Take(clientKey(r))
		if stats.Limit > 0 {
			governance.WriteRateLimitHeaders(w, stats)
		}
		if !ok {
			retry := time.Until(stats.ResetAt).Seconds()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(max(retry, 1)))))
			s.writeError(w, r, domain.NewError(domain.CodeRateLimited, domain.ErrRateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) pruneRateLimits(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Prune(); n > 0 {
				s.logger.Debug("Pruned idle rate limit buckets", "count", n)
			}
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
