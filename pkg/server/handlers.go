package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polisai/streamguard/pkg/domain"
	"github.com/polisai/streamguard/pkg/policy"
	"github.com/polisai/streamguard/pkg/policy/dlp"
	"github.com/polisai/streamguard/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// SessionResponse is returned when a session is opened.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Profile   string `json:"profile"`
}

// AnalysisResponse is a finalized result plus the optional advisory policy
// decision.
type AnalysisResponse struct {
	dlp.Result
	Policy *policy.Decision `json:"policy,omitempty"`
}

// HealthStatus represents the health status of the server
type HealthStatus struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Sessions: s.sessions.Len()})
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	def := s.defaultProfile
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"default":  def,
		"profiles": s.registry.Names(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	name, cfg, ok := s.resolveProfile(r.URL.Query().Get("profile"))
	if !ok {
		s.writeError(w, r, unknownProfile(name))
		return
	}

	sess := s.sessions.Create(name, cfg)
	s.metrics.RecordSessionCreated(name)
	s.logger.Info("Session created", "session_id", sess.ID, "profile", name)

	writeJSON(w, http.StatusCreated, SessionResponse{SessionID: sess.ID, Profile: name})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxChunkBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var stats dlp.Stats
	err = sess.Do(func(a *dlp.Analyzer) error {
		if err := a.ProcessChunk(body); err != nil {
			return err
		}
		stats = a.Stats()
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.RecordChunk(sess.Profile, len(body))
	s.logger.Debug("Chunk processed", "session_id", sess.ID, "bytes", len(body), "chunks", stats.ChunksProcessed)

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var stats dlp.Stats
	_ = sess.Do(func(a *dlp.Analyzer) error {
		stats = a.Stats()
		return nil
	})
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		result dlp.Result
		stats  dlp.Stats
	)
	err = sess.Do(func(a *dlp.Analyzer) error {
		var ferr error
		result, ferr = a.Finalize()
		stats = a.Stats()
		return ferr
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := s.completeAnalysis(r.Context(), analysisRun{
		profile:  sess.Profile,
		source:   "session",
		result:   result,
		stats:    stats,
		duration: time.Since(sess.CreatedAt),
		attrs:    map[string]any{"session_id": sess.ID},
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var cfg dlp.Config
	_ = sess.Do(func(a *dlp.Analyzer) error {
		cfg = a.Config()
		return nil
	})
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateConfig replaces the session configuration. Fields missing from
// the body keep their current values.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var cfg dlp.Config
	err = sess.Do(func(a *dlp.Analyzer) error {
		cfg = a.Config()
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxChunkBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return domain.NewError(domain.CodeInvalidConfig, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err), "malformed configuration: "+err.Error())
		}
		if err := cfg.Validate(); err != nil {
			return domain.NewError(domain.CodeInvalidConfig, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err), err.Error())
		}
		a.UpdateConfig(cfg)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Session configuration updated", "session_id", sess.ID, "banned_phrases", len(cfg.BannedPhrases))
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Delete(id) {
		s.writeError(w, r, sessionNotFound(id))
		return
	}
	s.logger.Info("Session closed", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleAnalyze streams the request body through a fresh analyzer.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	name, cfg, ok := s.resolveProfile(r.URL.Query().Get("profile"))
	if !ok {
		s.writeError(w, r, unknownProfile(name))
		return
	}

	start := time.Now()
	a := dlp.NewAnalyzer(cfg)
	if err := a.ProcessStream(r.Context(), r.Body, s.currentChunkSize()); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := a.Finalize()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stats := a.Stats()
	s.metrics.RecordChunk(name, int(stats.TotalBytesProcessed))

	resp := s.completeAnalysis(r.Context(), analysisRun{
		profile:  name,
		source:   "analyze",
		result:   result,
		stats:    stats,
		duration: time.Since(start),
	})
	writeJSON(w, http.StatusOK, resp)
}

type analysisRun struct {
	profile  string
	source   string
	result   dlp.Result
	stats    dlp.Stats
	duration time.Duration
	attrs    map[string]any
}

// completeAnalysis records a finalized result and attaches the advisory policy
// decision when a policy is configured. Policy failures never change the
// analyzer verdict.
func (s *Server) completeAnalysis(ctx context.Context, run analysisRun) AnalysisResponse {
	span := trace.SpanFromContext(ctx)
	telemetry.RecordResult(span, run.result)
	telemetry.RecordAnalysis(ctx, telemetry.AnalysisMetrics{
		Profile:  run.profile,
		Source:   run.source,
		Result:   run.result,
		Stats:    run.stats,
		Duration: run.duration,
	})
	s.metrics.RecordDecision(run.profile, string(run.result.Decision), run.result.RiskScore)

	level := s.logger.Info
	if run.result.Decision == dlp.DecisionBlock {
		level = s.logger.Warn
	}
	level("Analysis finalized",
		"profile", run.profile,
		"source", run.source,
		"decision", run.result.Decision,
		"risk_score", run.result.RiskScore,
		"phrases", len(run.result.BannedPhrases),
		"pii", len(run.result.PIIPatterns),
	)

	resp := AnalysisResponse{Result: run.result}

	ev := s.currentPolicy()
	if ev == nil {
		return resp
	}
	attrs := map[string]any{"source": run.source}
	for k, v := range run.attrs {
		attrs[k] = v
	}
	decision, err := ev.Evaluate(ctx, policy.Input{Profile: run.profile, Result: run.result, Attributes: attrs})
	if err != nil {
		s.logger.Error("Policy evaluation failed", "profile", run.profile, "error", err)
		if decision.Action == "" {
			return resp
		}
	}
	telemetry.RecordPolicyDecision(span, decision)
	s.metrics.RecordPolicyAction(string(decision.Action))
	resp.Policy = &decision
	return resp
}

func (s *Server) session(r *http.Request) (*Session, error) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, sessionNotFound(id)
	}
	return sess, nil
}

func sessionNotFound(id string) error {
	return domain.NewError(domain.CodeSessionNotFound, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id), "session not found: "+id)
}

func unknownProfile(name string) error {
	return domain.NewError(domain.CodeBadRequest, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, name), "unknown profile: "+name)
}

// writeError maps err to a status code and the standard error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("Request rejected", "path", r.URL.Path, "code", code, "error", err)
	}

	resp := domain.ErrorResponse{Code: code, Message: message}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}
	writeJSON(w, status, resp)
}

func classifyError(err error) (int, string, string) {
	var maxBytes *http.MaxBytesError
	var derr *domain.DomainError

	switch {
	case errors.Is(err, dlp.ErrEmptyStream):
		return http.StatusConflict, domain.CodeEmptyStream, "no content has been processed"
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, domain.CodeBadRequest, fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit)
	case errors.Is(err, dlp.ErrProcessing):
		return http.StatusUnprocessableEntity, domain.CodeBadRequest, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, domain.CodeInternal, "request cancelled"
	case errors.As(err, &derr):
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			return http.StatusTooManyRequests, derr.Code, derr.Error()
		case errors.Is(err, domain.ErrSessionNotFound):
			return http.StatusNotFound, derr.Code, derr.Error()
		case errors.Is(err, domain.ErrConfigInvalid), errors.Is(err, domain.ErrBadRequest), errors.Is(err, domain.ErrProfileNotFound):
			return http.StatusBadRequest, derr.Code, derr.Error()
		}
		return http.StatusInternalServerError, derr.Code, derr.Error()
	default:
		return http.StatusInternalServerError, domain.CodeInternal, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
