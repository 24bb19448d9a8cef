package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/common/validation"
	"retriever-agent/internal/retriever"
)

const maxBodyBytes = 1 << 20

// Service is implemented by *retriever.Retriever.
type Service interface {
	Search(ctx context.Context, query string, sc *retriever.SearchContext, sessionID, userID string) *retriever.Response
	Plan(query string, sc *retriever.SearchContext) retriever.Plan
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Auth, when set, guards the /v1 routes with bearer tokens.
	Auth TokenValidator
}

type Server struct {
	config    Config
	service   Service
	validator *validation.Validator
	checks    map[string]Check
	logger    logger.Logger
	httpSrv   *http.Server
	now       func() time.Time
}

type searchRequest struct {
	Query     string          `json:"query"`
	Context   *requestContext `json:"context,omitempty"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
}

type requestContext struct {
	DocType        string                 `json:"docType,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
	Limit          int                    `json:"limit,omitempty"`
	ScoreThreshold *float64               `json:"scoreThreshold,omitempty"`
	CallerAgent    string                 `json:"callerAgent,omitempty"`
}

func (c *requestContext) searchContext() *retriever.SearchContext {
	if c == nil {
		return nil
	}
	return &retriever.SearchContext{
		DocType:        c.DocType,
		Filters:        c.Filters,
		Limit:          c.Limit,
		ScoreThreshold: c.ScoreThreshold,
		CallerAgent:    c.CallerAgent,
	}
}

type errorBody struct {
	Success bool                `json:"success"`
	Error   retriever.ErrorInfo `json:"error"`
	Details []string            `json:"details,omitempty"`
}

// New builds the HTTP server. validator checks request bodies against the
// search input schema; checks back /ready.
func New(cfg Config, service Service, validator *validation.Validator, checks map[string]Check, log logger.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if checks == nil {
		checks = map[string]Check{}
	}

	s := &Server{
		config:    cfg,
		service:   service,
		validator: validator,
		checks:    checks,
		logger:    log.Named("http"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	gatherer := s.config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("POST /v1/search", s.authenticate(http.HandlerFunc(s.handleSearch)))
	mux.Handle("POST /v1/plan", s.authenticate(http.HandlerFunc(s.handlePlan)))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]interface{}{"address": s.config.Address})
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := s.checks[name](ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
		"time":   s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		req.UserID = subjectFrom(r.Context())
	}
	resp := s.service.Search(r.Context(), req.Query, req.Context.searchContext(), req.SessionID, req.UserID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.service.Plan(req.Query, req.Context.searchContext()))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*searchRequest, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			s.reject(w, http.StatusRequestEntityTooLarge,
				errors.NewInputValidationFailedError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)), nil)
			return nil, false
		}
		s.badRequest(w, errors.NewInputValidationFailedError(err.Error()), nil)
		return nil, false
	}

	if s.validator != nil {
		result, err := s.validator.ValidateJSON(body)
		if err != nil {
			s.badRequest(w, errors.NewInputValidationFailedError(err.Error()), nil)
			return nil, false
		}
		if !result.Valid {
			s.badRequest(w, errors.NewInputValidationFailedError("request does not match schema"), result.GetErrorMessages())
			return nil, false
		}
	}

	var req searchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.badRequest(w, errors.NewInputValidationFailedError(err.Error()), nil)
		return nil, false
	}
	return &req, true
}

func (s *Server) badRequest(w http.ResponseWriter, stdErr *errors.StandardError, details []string) {
	s.reject(w, http.StatusBadRequest, stdErr, details)
}

func (s *Server) reject(w http.ResponseWriter, status int, stdErr *errors.StandardError, details []string) {
	s.logger.Warn("rejected request", map[string]interface{}{
		"status":    status,
		"errorCode": string(stdErr.Code),
		"details":   stdErr.Details,
	})
	if details == nil && stdErr.Details != "" {
		details = []string{stdErr.Details}
	}
	writeJSON(w, status, errorBody{
		Success: false,
		Error:   retriever.ErrorInfo{Code: string(stdErr.Code), Message: stdErr.Message},
		Details: details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
