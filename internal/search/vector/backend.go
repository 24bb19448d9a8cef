package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/retriever"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

const maxRows = 100

// Backend searches a pgvector table. Vector requests rank by cosine
// similarity; hybrid requests blend it with ts_rank over content_tsv using
// the request's weights.
type Backend struct {
	db       *sql.DB
	embedder Embedder
	table    string
	logger   logger.Logger
}

func NewBackend(db *sql.DB, embedder Embedder, table string, log logger.Logger) (*Backend, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Backend{
		db:       db,
		embedder: embedder,
		table:    table,
		logger:   log.WithFields(map[string]interface{}{"backend": retriever.DataSourceVector, "table": table}),
	}, nil
}

func (b *Backend) Search(ctx context.Context, req retriever.Request) ([]retriever.Document, error) {
	embedding, err := b.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	query, args := b.buildQuery(req, pgvector.NewVector(embedding))
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.NewVectorSearchFailedError(err)
	}
	defer rows.Close()

	var docs []retriever.Document
	for rows.Next() {
		var (
			id       string
			content  sql.NullString
			metadata []byte
			score    sql.NullFloat64
		)
		if err := rows.Scan(&id, &content, &metadata, &score); err != nil {
			return nil, errors.NewVectorSearchFailedError(fmt.Errorf("scan row: %w", err))
		}

		fields := map[string]interface{}{}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &fields); err != nil {
				b.logger.Warn("skipping malformed metadata", map[string]interface{}{"id": id, "error": err.Error()})
				fields = map[string]interface{}{}
			}
		}
		fields["content"] = content.String

		docs = append(docs, retriever.Document{ID: id, Score: score.Float64, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.NewVectorSearchFailedError(err)
	}

	b.logger.Debug("vector search completed", map[string]interface{}{
		"strategy": string(req.Strategy),
		"rows":     len(docs),
	})
	return docs, nil
}

func (b *Backend) buildQuery(req retriever.Request, embedding pgvector.Vector) (string, []interface{}) {
	args := []interface{}{embedding}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sb strings.Builder
	if req.Strategy == retriever.StrategyHybrid {
		vw, kw := req.Parameters.VectorWeight, req.Parameters.KeywordWeight
		if vw == 0 && kw == 0 {
			vw, kw = 0.7, 0.3
		}
		fmt.Fprintf(&sb,
			"SELECT id, content, metadata, (%s::float8 * (1 - (embedding <=> $1)) + %s::float8 * ts_rank(content_tsv, plainto_tsquery('simple', %s))) AS score FROM %s",
			next(vw), next(kw), next(req.Query), b.table)
	} else {
		fmt.Fprintf(&sb, "SELECT id, content, metadata, 1 - (embedding <=> $1) AS score FROM %s", b.table)
	}

	var where []string
	if ws, ok := req.Filters[retriever.FilterWorkspaceID].(string); ok && ws != "" {
		where = append(where, "ws_id = "+next(ws))
	}
	switch dt := req.Filters[retriever.FilterDocType].(type) {
	case string:
		if dt != "" {
			where = append(where, "doc_type = "+next(dt))
		}
	case []interface{}:
		values := make([]string, 0, len(dt))
		for _, v := range dt {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		if len(values) > 0 {
			where = append(where, "doc_type = ANY("+next(pq.Array(values))+")")
		}
	}
	if tr, ok := req.Filters[retriever.FilterTimeRange].(string); ok && tr == retriever.TimeRangeRecent {
		where = append(where, "created_at >= NOW() - INTERVAL '7 days'")
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	if req.Strategy == retriever.StrategyHybrid {
		sb.WriteString(" ORDER BY score DESC")
	} else {
		sb.WriteString(" ORDER BY embedding <=> $1")
	}

	limit := req.Parameters.Limit
	if limit <= 0 {
		limit = 10
	}
	limit *= 2
	if limit > maxRows {
		limit = maxRows
	}
	sb.WriteString(" LIMIT " + next(limit))

	return sb.String(), args
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}
	return nil
}
