package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/common/validation"
	"retriever-agent/internal/retriever"
	"retriever-agent/pkg/registry"
)

type fakeService struct {
	query string
	sc    *retriever.SearchContext
	user  string
}

func (f *fakeService) Search(ctx context.Context, query string, sc *retriever.SearchContext, sessionID, userID string) *retriever.Response {
	f.query, f.sc, f.user = query, sc, userID
	return &retriever.Response{
		Success: true,
		Results: []retriever.Item{{Content: "Refunds take five days", Score: 0.91, Source: retriever.DataSourceKeyword}},
		Metadata: retriever.Metadata{
			SessionID:    sessionID,
			StrategyUsed: retriever.StrategyKeyword,
			TotalResults: 1,
		},
	}
}

func (f *fakeService) Plan(query string, sc *retriever.SearchContext) retriever.Plan {
	return retriever.NewSelector(retriever.SelectorConfig{}).Plan(query, sc)
}

func newTestServer(t *testing.T, svc Service, checks map[string]Check) *httptest.Server {
	t.Helper()

	reg, err := registry.Default()
	require.NoError(t, err)
	act, err := reg.ByTaskType("retriever-search")
	require.NoError(t, err)
	v, err := validation.NewValidator(act.InputSchema)
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total", Help: "test"}))

	s := New(Config{Gatherer: promReg}, svc, v, checks, logger.NewTestLogger(t))
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServer_Ready(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		srv := newTestServer(t, &fakeService{}, map[string]Check{
			"postgres": func(context.Context) error { return nil },
		})
		resp, err := http.Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("failing check", func(t *testing.T) {
		srv := newTestServer(t, &fakeService{}, map[string]Check{
			"postgres":      func(context.Context) error { return nil },
			"elasticsearch": func(context.Context) error { return fmt.Errorf("cluster red") },
		})
		resp, err := http.Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Equal(t, "cluster red", body.Checks["elasticsearch"])
	})
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_requests_total")
}

func TestServer_Search(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, nil)

	resp, body := post(t, srv.URL+"/v1/search",
		`{"query":"refund timeline","sessionId":"s-1","userId":"u-1","context":{"limit":3,"docType":"pdf"}}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	results, ok := body["results"].([]interface{})
	require.True(t, ok)
	assert.Len(t, results, 1)

	assert.Equal(t, "refund timeline", svc.query)
	assert.Equal(t, "u-1", svc.user)
	require.NotNil(t, svc.sc)
	assert.Equal(t, 3, svc.sc.Limit)
	assert.Equal(t, "pdf", svc.sc.DocType)
}

func TestServer_Search_Rejected(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing query", `{"sessionId":"s-1"}`},
		{"limit too large", `{"query":"x","context":{"limit":1000}}`},
		{"malformed", `{"query":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+"/v1/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, false, body["success"])
			errInfo, ok := body["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "INPUT_VALIDATION_FAILED", errInfo["code"])
		})
	}
}

func TestServer_Search_BodyTooLarge(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, nil)

	body := `{"query":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	resp, out := post(t, srv.URL+"/v1/search", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	errInfo, ok := out["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "INPUT_VALIDATION_FAILED", errInfo["code"])
	details, ok := out["details"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, details[0], "1048576 bytes")
	assert.Empty(t, svc.query)
}

func TestServer_Search_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	resp, err := http.Get(srv.URL + "/v1/search")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Plan(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	resp, body := post(t, srv.URL+"/v1/plan", `{"query":"latest news on rate cuts"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "web", body["strategy"])
	assert.Equal(t, "web", body["data_source"])
	assert.Empty(t, body["fallbacks"])
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := New(Config{Address: "127.0.0.1:0"}, &fakeService{}, nil, nil, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
