package retriever

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// contentFields are checked in order; the first non-empty one becomes the
// item's content.
var contentFields = []string{"content", "snippet", "body", "text"}

// dedupePrefix is how many leading runes of content identify a duplicate.
const dedupePrefix = 100

// Normalize converts raw backend documents into result items tagged with
// the given data source. Documents without any content field are dropped.
func Normalize(source string, docs []Document) []Item {
	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		item, ok := normalizeDocument(source, doc)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items
}

func normalizeDocument(source string, doc Document) (Item, bool) {
	metadata := make(map[string]interface{}, len(doc.Fields))
	content := ""
	contentKey := ""

	for _, key := range contentFields {
		raw, ok := doc.Fields[key]
		if !ok || raw == nil {
			continue
		}
		text := strings.TrimSpace(stringify(raw))
		if text == "" {
			continue
		}
		content = text
		contentKey = key
		break
	}
	if content == "" {
		return Item{}, false
	}

	for k, v := range doc.Fields {
		if k == contentKey {
			continue
		}
		metadata[k] = v
	}

	return Item{
		Content:  content,
		Score:    clampScore(doc.Score),
		Source:   source,
		Metadata: metadata,
		ChunkID:  doc.ID,
	}, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func clampScore(score float64) float64 {
	switch {
	case math.IsNaN(score), math.IsInf(score, 0), score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// PostProcess removes near-duplicates, orders by score, drops items under
// the threshold and truncates to the limit.
func PostProcess(items []Item, params Parameters) []Item {
	seen := make(map[string]struct{}, len(items))
	unique := make([]Item, 0, len(items))
	for _, item := range items {
		key := contentKey(item.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, item)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Score > unique[j].Score
	})

	out := unique[:0]
	for _, item := range unique {
		if item.Score < params.ScoreThreshold {
			continue
		}
		out = append(out, item)
	}

	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out
}

func contentKey(content string) string {
	runes := []rune(content)
	if len(runes) > dedupePrefix {
		runes = runes[:dedupePrefix]
	}
	return string(runes)
}
