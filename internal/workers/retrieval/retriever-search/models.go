// internal/workers/retrieval/retriever-search/models.go
package retrieversearch

import "retriever-agent/internal/retriever"

type Input struct {
	Query     string        `json:"query"`
	Context   *InputContext `json:"context,omitempty"`
	SessionID string        `json:"sessionId"`
	UserID    string        `json:"userId"`
}

type InputContext struct {
	DocType        string                 `json:"docType,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
	Limit          int                    `json:"limit,omitempty"`
	ScoreThreshold *float64               `json:"scoreThreshold,omitempty"`
	CallerAgent    string                 `json:"callerAgent,omitempty"`
}

type Output struct {
	Retrieval *retriever.Response `json:"retrieval"`
}

// SearchContext converts the job variables into the retriever's context.
func (c *InputContext) SearchContext() *retriever.SearchContext {
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
