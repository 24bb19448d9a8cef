package retriever

import (
	"strings"
)

const (
	defaultLimit          = 10
	defaultScoreThreshold = 0.5
	defaultRewriteSuffix  = " related information and details"

	hybridVectorWeight  = 0.7
	hybridKeywordWeight = 0.3

	// Queries shorter than this many words are expanded before searching.
	minQueryWords = 3
)

var (
	webKeywords      = []string{"latest", "news", "current", "最新", "新闻", "实时"}
	documentKeywords = []string{"document", "文档"}
	exactMatchMarks  = []string{`"`, "`"}

	vectorSearchFields  = []string{"content", "summary"}
	keywordSearchFields = []string{"title", "content", "keywords"}
)

// SelectorConfig overrides the selector defaults. Zero values keep them.
type SelectorConfig struct {
	DefaultLimit   int
	ScoreThreshold float64
	RewriteSuffix  string
}

// Selector turns a query and its context into a Plan using fixed rules.
type Selector struct {
	limit         int
	threshold     float64
	rewriteSuffix string
}

func NewSelector(cfg SelectorConfig) *Selector {
	s := &Selector{
		limit:         defaultLimit,
		threshold:     defaultScoreThreshold,
		rewriteSuffix: defaultRewriteSuffix,
	}
	if cfg.DefaultLimit > 0 {
		s.limit = cfg.DefaultLimit
	}
	if cfg.ScoreThreshold > 0 {
		s.threshold = cfg.ScoreThreshold
	}
	if cfg.RewriteSuffix != "" {
		s.rewriteSuffix = cfg.RewriteSuffix
	}
	return s
}

// Select applies the rules in order: time-sensitive wording goes to the web,
// document lookups to the vector store, quoted text to keyword search, and
// everything else to hybrid.
func (s *Selector) Select(query string, sc *SearchContext) Strategy {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return StrategyHybrid
	}

	if containsAny(q, webKeywords) {
		return StrategyWeb
	}
	if sc != nil && strings.EqualFold(sc.DocType, "pdf") {
		return StrategyVector
	}
	if containsAny(q, documentKeywords) {
		return StrategyVector
	}
	if containsAny(q, exactMatchMarks) {
		return StrategyKeyword
	}
	return StrategyHybrid
}

// Rewrite expands short queries. Web queries go out as typed.
func (s *Selector) Rewrite(query string, strategy Strategy) string {
	query = strings.TrimSpace(query)
	if strategy == StrategyWeb || query == "" {
		return query
	}
	if len(strings.Fields(query)) < minQueryWords {
		return query + s.rewriteSuffix
	}
	return query
}

// Parameters builds the call parameters for a strategy.
func (s *Selector) Parameters(strategy Strategy, sc *SearchContext) Parameters {
	p := Parameters{
		Limit:          s.limit,
		ScoreThreshold: s.threshold,
	}
	if sc != nil {
		if sc.Limit > 0 {
			p.Limit = sc.Limit
		}
		if sc.ScoreThreshold != nil {
			p.ScoreThreshold = clampScore(*sc.ScoreThreshold)
		}
	}

	switch strategy {
	case StrategyVector:
		p.SearchFields = append([]string(nil), vectorSearchFields...)
	case StrategyKeyword:
		p.SearchFields = append([]string(nil), keywordSearchFields...)
	case StrategyHybrid:
		p.SearchFields = append([]string(nil), vectorSearchFields...)
		p.VectorWeight = hybridVectorWeight
		p.KeywordWeight = hybridKeywordWeight
	}
	return p
}

// Filters merges the context's filter map with its doc_type hint.
func (s *Selector) Filters(sc *SearchContext) map[string]interface{} {
	filters := map[string]interface{}{}
	if sc == nil {
		return filters
	}
	for k, v := range sc.Filters {
		filters[k] = v
	}
	if _, set := filters[FilterDocType]; !set && sc.DocType != "" && !strings.EqualFold(sc.DocType, "auto") {
		filters[FilterDocType] = sc.DocType
	}
	return filters
}

// Plan selects a strategy and prepares everything the dispatcher needs.
func (s *Selector) Plan(query string, sc *SearchContext) Plan {
	strategy := s.Select(query, sc)
	return Plan{
		Strategy:      strategy,
		DataSource:    strategy.DataSource(),
		Query:         s.Rewrite(query, strategy),
		OriginalQuery: strings.TrimSpace(query),
		Filters:       s.Filters(sc),
		Parameters:    s.Parameters(strategy, sc),
		Fallbacks:     FallbackChain(strategy)[1:],
	}
}

// request builds the backend request for one step of the plan's chain.
func (s *Selector) request(plan Plan, strategy Strategy, sc *SearchContext) Request {
	query := plan.Query
	if strategy == StrategyWeb {
		query = plan.OriginalQuery
	} else if strategy != plan.Strategy {
		query = s.Rewrite(plan.OriginalQuery, strategy)
	}

	params := plan.Parameters
	if strategy != plan.Strategy {
		params = s.Parameters(strategy, sc)
	}

	return Request{
		Strategy:   strategy,
		Query:      query,
		Filters:    plan.Filters,
		Parameters: params,
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
