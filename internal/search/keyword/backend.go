package keyword

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/retriever"
)

// Backend runs full-text searches against one Elasticsearch index.
type Backend struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewBackend(client *elasticsearch.Client, index string, log logger.Logger) *Backend {
	return &Backend{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"backend": retriever.DataSourceKeyword, "index": index}),
	}
}

type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		MaxScore *float64 `json:"max_score"`
		Hits     []struct {
			ID     string                 `json:"_id"`
			Score  *float64               `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns hits with their relevance divided by the page's max score,
// so the best hit scores 1.
func (b *Backend) Search(ctx context.Context, req retriever.Request) ([]retriever.Document, error) {
	searchReq, err := BuildQuery(b.index, req)
	if err != nil {
		return nil, errors.NewKeywordSearchFailedError(b.index, err)
	}

	res, err := searchReq.Do(ctx, b.client)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == http.StatusNotFound {
			return nil, errors.NewIndexNotFoundError(b.index)
		}
		return nil, errors.NewKeywordSearchFailedError(b.index, fmt.Errorf("status %d: %s", res.StatusCode, res.String()))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewKeywordSearchFailedError(b.index, fmt.Errorf("decode response: %w", err))
	}

	maxScore := 0.0
	if parsed.Hits.MaxScore != nil {
		maxScore = *parsed.Hits.MaxScore
	}

	docs := make([]retriever.Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		score := 0.0
		if hit.Score != nil && maxScore > 0 {
			score = *hit.Score / maxScore
		}
		fields := hit.Source
		if fields == nil {
			fields = map[string]interface{}{}
		}
		docs = append(docs, retriever.Document{ID: hit.ID, Score: score, Fields: fields})
	}

	b.logger.Debug("keyword search completed", map[string]interface{}{
		"hits":   len(docs),
		"tookMs": parsed.Took,
	})
	return docs, nil
}

// Ping checks the cluster is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	res, err := b.client.Ping(b.client.Ping.WithContext(ctx))
	if err != nil {
		return errors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.NewElasticsearchConnectionFailedError(stderrors.New(res.String()))
	}
	return nil
}
