package retriever

import (
	"context"
	"strings"
	"time"
)

// Strategy names one way of retrieving documents.
type Strategy string

const (
	StrategyVector  Strategy = "vector"
	StrategyKeyword Strategy = "keyword"
	StrategyHybrid  Strategy = "hybrid"
	StrategyWeb     Strategy = "web"
)

// Data source labels reported in results and metadata.
const (
	DataSourceVector  = "pgvector"
	DataSourceKeyword = "elasticsearch"
	DataSourceWeb     = "web"
)

// ParseStrategy accepts the lower or upper case strategy name.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyVector:
		return StrategyVector, true
	case StrategyKeyword:
		return StrategyKeyword, true
	case StrategyHybrid:
		return StrategyHybrid, true
	case StrategyWeb:
		return StrategyWeb, true
	}
	return "", false
}

// DataSource maps a strategy to the backend that serves it.
func (s Strategy) DataSource() string {
	switch s {
	case StrategyVector, StrategyHybrid:
		return DataSourceVector
	case StrategyKeyword:
		return DataSourceKeyword
	case StrategyWeb:
		return DataSourceWeb
	}
	return ""
}

// Recognised filter keys.
const (
	FilterWorkspaceID = "ws_id"
	FilterDocType     = "doc_type"
	FilterTimeRange   = "time_range"

	TimeRangeRecent = "recent"
)

// SearchContext carries the optional hints a caller passes with a query.
type SearchContext struct {
	DocType        string                 `json:"doc_type,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
	Limit          int                    `json:"limit,omitempty"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	CallerAgent    string                 `json:"caller_agent,omitempty"`
}

// Parameters bound one backend call and its post-processing.
type Parameters struct {
	Limit          int      `json:"limit"`
	ScoreThreshold float64  `json:"score_threshold"`
	SearchFields   []string `json:"search_fields,omitempty"`
	VectorWeight   float64  `json:"vector_weight,omitempty"`
	KeywordWeight  float64  `json:"keyword_weight,omitempty"`
}

// Plan is the selector's decision for one query.
type Plan struct {
	Strategy      Strategy               `json:"strategy"`
	DataSource    string                 `json:"data_source"`
	Query         string                 `json:"query"`
	OriginalQuery string                 `json:"original_query"`
	Filters       map[string]interface{} `json:"filters,omitempty"`
	Parameters    Parameters             `json:"parameters"`
	Fallbacks     []Strategy             `json:"fallbacks"`
}

// Request is what a backend receives.
type Request struct {
	Strategy   Strategy
	Query      string
	Filters    map[string]interface{}
	Parameters Parameters
}

// Document is a raw backend hit before normalization.
type Document struct {
	ID     string
	Score  float64
	Fields map[string]interface{}
}

// Backend executes one search against an external store.
type Backend interface {
	Search(ctx context.Context, req Request) ([]Document, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) ([]Document, error)

func (f BackendFunc) Search(ctx context.Context, req Request) ([]Document, error) {
	return f(ctx, req)
}

// Backends groups the three stores. Hybrid requests are served by Vector.
// A nil entry makes its strategy fail with BACKEND_UNAVAILABLE.
type Backends struct {
	Vector  Backend
	Keyword Backend
	Web     Backend
}

func (b Backends) For(s Strategy) Backend {
	switch s {
	case StrategyVector, StrategyHybrid:
		return b.Vector
	case StrategyKeyword:
		return b.Keyword
	case StrategyWeb:
		return b.Web
	}
	return nil
}

// Item is one normalized result.
type Item struct {
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata"`
	ChunkID  string                 `json:"chunk_id,omitempty"`
}

// Attempt records one backend call made while serving a search.
type Attempt struct {
	Strategy   Strategy `json:"strategy"`
	DataSource string   `json:"data_source"`
	Results    int      `json:"results"`
	DurationMs int64    `json:"duration_ms"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Metadata struct {
	RequestID       string    `json:"request_id"`
	SessionID       string    `json:"session_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	Query           string    `json:"query"`
	RewrittenQuery  string    `json:"rewritten_query,omitempty"`
	PrimaryStrategy Strategy  `json:"primary_strategy,omitempty"`
	StrategyUsed    Strategy  `json:"strategy_used,omitempty"`
	DataSource      string    `json:"data_source,omitempty"`
	Attempts        []Attempt `json:"attempts,omitempty"`
	FallbackUsed    bool      `json:"fallback_used"`
	TotalResults    int       `json:"total_results"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// Response is the envelope returned by Search.
type Response struct {
	Success  bool       `json:"success"`
	Results  []Item     `json:"results"`
	Metadata Metadata   `json:"metadata"`
	Error    *ErrorInfo `json:"error,omitempty"`
}
