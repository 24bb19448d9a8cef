package web

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"retriever-agent/internal/common/errors"
	httpclient "retriever-agent/internal/common/http"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/retriever"
)

// Google's Custom Search API returns at most ten items per page.
const maxResultsPerCall = 10

var whitespace = regexp.MustCompile(`\s+`)

type Config struct {
	BaseURL  string
	APIKey   string
	EngineID string
	Timeout  time.Duration
}

// Backend queries a Custom Search style JSON API.
type Backend struct {
	config Config
	client *httpclient.Client
	logger logger.Logger
}

func NewBackend(cfg Config, client *httpclient.Client, log logger.Logger) *Backend {
	if client == nil {
		client = httpclient.NewClient(cfg.Timeout)
	}
	return &Backend{
		config: cfg,
		client: client,
		logger: log.WithFields(map[string]interface{}{"backend": retriever.DataSourceWeb}),
	}
}

type searchResponse struct {
	Items []struct {
		Link        string `json:"link"`
		Title       string `json:"title"`
		Snippet     string `json:"snippet"`
		Mime        string `json:"mime"`
		DisplayLink string `json:"displayLink"`
	} `json:"items"`
}

// Search returns HTML results in rank order. The first result scores 1.0 and
// each following one 0.1 less.
func (b *Backend) Search(ctx context.Context, req retriever.Request) ([]retriever.Document, error) {
	query := whitespace.ReplaceAllString(strings.TrimSpace(req.Query), " ")

	var parsed searchResponse
	if err := b.client.GetJSON(ctx, b.buildSearchURL(query, req.Parameters.Limit), &parsed); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, errors.NewWebSearchTimeoutError(b.config.Timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewWebSearchFailedError(err)
	}

	seen := make(map[string]bool, len(parsed.Items))
	docs := make([]retriever.Document, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Mime != "" && !strings.Contains(item.Mime, "html") {
			continue
		}
		if item.Link == "" || seen[item.Link] {
			continue
		}
		seen[item.Link] = true

		score := 1.0 - float64(len(docs))*0.1
		if score < 0 {
			score = 0
		}
		docs = append(docs, retriever.Document{
			Score: score,
			Fields: map[string]interface{}{
				"snippet": item.Snippet,
				"title":   item.Title,
				"link":    item.Link,
				"domain":  item.DisplayLink,
			},
		})
	}

	b.logger.Debug("web search completed", map[string]interface{}{
		"query":       query,
		"resultCount": len(docs),
	})
	return docs, nil
}

func (b *Backend) buildSearchURL(query string, limit int) string {
	num := limit
	if num <= 0 || num > maxResultsPerCall {
		num = maxResultsPerCall
	}

	params := url.Values{}
	params.Add("key", b.config.APIKey)
	params.Add("cx", b.config.EngineID)
	params.Add("q", query)
	params.Add("num", fmt.Sprintf("%d", num))

	base, err := url.Parse(b.config.BaseURL)
	if err != nil {
		return b.config.BaseURL + "?" + params.Encode()
	}
	base.RawQuery = params.Encode()
	return base.String()
}
