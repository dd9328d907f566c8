package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches questions with plainto_tsquery and ts_rank, using
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	whereClause := `q.fts @@ plainto_tsquery('english', $1)`
	args := []any{q.Text}
	if q.Tag != "" {
		whereClause += ` AND q.tags ? $2`
		args = append(args, q.Tag)
	}

	var total int
	countSQL := `SELECT count(*) FROM questions q WHERE ` + whereClause
	if err := p.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT q.id, q.title,
			ts_headline('english', q.description, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			q.tags, COALESCE(p.username,'')
		FROM questions q
		LEFT JOIN profiles p ON p.id = q.author_id
		WHERE %s
		ORDER BY ts_rank(q.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, whereClause, limit, offset)

	rows, err := p.db.Query(dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, limit)
	for rows.Next() {
		var r Result
		var tagsRaw []byte
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &tagsRaw, &r.AuthorUsername); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if len(tagsRaw) > 0 {
			_ = json.Unmarshal(tagsRaw, &r.Tags)
		}
		if r.Tags == nil {
			r.Tags = []string{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every question for bulk reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]QuestionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT q.id, q.title, q.description, q.tags, COALESCE(p.username,'')
		FROM questions q
		LEFT JOIN profiles p ON p.id = q.author_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load question records: %w", err)
	}
	defer rows.Close()

	records := make([]QuestionRecord, 0)
	for rows.Next() {
		var record QuestionRecord
		var tagsRaw []byte
		if err := rows.Scan(&record.ID, &record.Title, &record.Description, &tagsRaw, &record.AuthorUsername); err != nil {
			return nil, fmt.Errorf("scan question record: %w", err)
		}
		if len(tagsRaw) > 0 {
			_ = json.Unmarshal(tagsRaw, &record.Tags)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question records: %w", err)
	}
	return records, nil
}
