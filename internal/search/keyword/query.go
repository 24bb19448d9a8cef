package keyword

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"retriever-agent/internal/retriever"
)

var ErrMissingIndex = errors.New("index name is required")

// fieldBoosts weights title matches above body text.
var fieldBoosts = map[string]string{
	"title":    "title^3",
	"keywords": "keywords^2",
}

const maxPageSize = 100

// BuildQuery turns a retriever request into a bool query: multi_match on the
// requested fields, with ws_id/doc_type as term filters and a seven day
// window on created_at when time_range is "recent".
func BuildQuery(index string, req retriever.Request) (*esapi.SearchRequest, error) {
	if index == "" {
		return nil, ErrMissingIndex
	}

	body, err := json.Marshal(buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	size := req.Parameters.Limit
	if size <= 0 {
		size = 10
	}
	// Over-fetch so dedupe and threshold filtering still leave enough hits.
	size *= 2
	if size > maxPageSize {
		size = maxPageSize
	}

	return &esapi.SearchRequest{
		Index: []string{index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}, nil
}

func buildBody(req retriever.Request) map[string]interface{} {
	fields := make([]string, 0, len(req.Parameters.SearchFields))
	for _, f := range req.Parameters.SearchFields {
		if boosted, ok := fieldBoosts[f]; ok {
			fields = append(fields, boosted)
			continue
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		fields = []string{"title^3", "content", "keywords^2"}
	}

	query := strings.TrimSpace(req.Query)
	mustClauses := []interface{}{
		map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  strings.NewReplacer(`"`, " ", "`", " ").Replace(query),
				"fields": fields,
				"type":   "best_fields",
			},
		},
	}

	// Quoted fragments must appear verbatim.
	for _, phrase := range quotedPhrases(query) {
		mustClauses = append(mustClauses, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  phrase,
				"fields": fields,
				"type":   "phrase",
			},
		})
	}

	boolQuery := map[string]interface{}{"must": mustClauses}
	if filters := filterClauses(req.Filters); len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
	}
}

func filterClauses(filters map[string]interface{}) []interface{} {
	var clauses []interface{}

	for _, key := range []string{retriever.FilterWorkspaceID, retriever.FilterDocType} {
		switch v := filters[key].(type) {
		case string:
			if v != "" {
				clauses = append(clauses, map[string]interface{}{
					"term": map[string]interface{}{key: v},
				})
			}
		case []interface{}:
			if len(v) > 0 {
				clauses = append(clauses, map[string]interface{}{
					"terms": map[string]interface{}{key: v},
				})
			}
		}
	}

	if tr, ok := filters[retriever.FilterTimeRange].(string); ok && tr == retriever.TimeRangeRecent {
		clauses = append(clauses, map[string]interface{}{
			"range": map[string]interface{}{
				"created_at": map[string]interface{}{"gte": "now-7d/d"},
			},
		})
	}

	return clauses
}

// quotedPhrases returns the text between pairs of double quotes or backticks.
func quotedPhrases(query string) []string {
	var phrases []string
	for _, mark := range []string{`"`, "`"} {
		parts := strings.Split(query, mark)
		for i := 1; i < len(parts)-1; i += 2 {
			if p := strings.TrimSpace(parts[i]); p != "" {
				phrases = append(phrases, p)
			}
		}
	}
	return phrases
}
