package keyword

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/retriever"
)

// newFakeCluster serves canned responses for /<index>/_search.
func newFakeCluster(t *testing.T, status int, body string) (*elasticsearch.Client, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{srv.URL},
	})
	require.NoError(t, err)
	return client, &paths
}

func TestBackend_Search_NormalizesScores(t *testing.T) {
	client, paths := newFakeCluster(t, http.StatusOK, `{
		"took": 3,
		"hits": {
			"max_score": 8.0,
			"hits": [
				{"_id": "a", "_score": 8.0, "_source": {"title": "Billing", "content": "Billing runs nightly"}},
				{"_id": "b", "_score": 2.0, "_source": {"title": "Other", "content": "Invoices"}}
			]
		}
	}`)
	backend := NewBackend(client, "documents", logger.NewTestLogger(t))

	docs, err := backend.Search(context.Background(), retriever.Request{
		Strategy:   retriever.StrategyKeyword,
		Query:      "billing",
		Parameters: retriever.Parameters{Limit: 10},
	})
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, 1.0, docs[0].Score)
	assert.Equal(t, 0.25, docs[1].Score)
	assert.Equal(t, "Billing runs nightly", docs[0].Fields["content"])
	assert.Contains(t, *paths, "/documents/_search")
}

func TestBackend_Search_IndexNotFound(t *testing.T) {
	client, _ := newFakeCluster(t, http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`)
	backend := NewBackend(client, "missing", logger.NewTestLogger(t))

	_, err := backend.Search(context.Background(), retriever.Request{Query: "billing"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexNotFound, errors.CodeOf(err))
}

func TestBackend_Search_ServerError(t *testing.T) {
	client, _ := newFakeCluster(t, http.StatusBadRequest, `{"error":{"type":"parsing_exception"},"status":400}`)
	backend := NewBackend(client, "documents", logger.NewTestLogger(t))

	_, err := backend.Search(context.Background(), retriever.Request{Query: "billing"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeKeywordSearchFailed, errors.CodeOf(err))
}

func TestBackend_Search_NoHits(t *testing.T) {
	client, _ := newFakeCluster(t, http.StatusOK, `{"took":1,"hits":{"max_score":null,"hits":[]}}`)
	backend := NewBackend(client, "documents", logger.NewTestLogger(t))

	docs, err := backend.Search(context.Background(), retriever.Request{Query: "billing"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestBackend_Ping(t *testing.T) {
	client, _ := newFakeCluster(t, http.StatusOK, `{}`)
	backend := NewBackend(client, "documents", logger.NewTestLogger(t))
	assert.NoError(t, backend.Ping(context.Background()))
}
