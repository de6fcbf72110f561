package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scholarsift/retrieval-service/internal/database"
	"github.com/scholarsift/retrieval-service/internal/domain"
)

// Compile-time interface verification.
var _ DurableStore = (*PostgresStore)(nil)

// PostgresStore is the PostgreSQL implementation of DurableStore.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore creates a PostgreSQL-backed durable cache store.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the stored value and its creation time, or domain.ErrCacheMiss
// when no entry exists.
func (s *PostgresStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, time.Time, error) {
	query := `
		SELECT value, created_at
		FROM cache_entries
		WHERE namespace = $1 AND key = $2`

	var value []byte
	var createdAt time.Time
	err := s.db.QueryRow(ctx, query, string(ns), key).Scan(&value, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, domain.ErrCacheMiss
		}
		return nil, time.Time{}, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return value, createdAt, nil
}

// Set stores a value, replacing any existing entry. created_at is refreshed
// on overwrite so the TTL restarts with the new value.
func (s *PostgresStore) Set(ctx context.Context, ns Namespace, key string, value []byte) error {
	if key == "" {
		return domain.NewValidationError("key", "cache key is required")
	}
	if len(value) == 0 {
		return domain.NewValidationError("value", "cache value cannot be empty")
	}

	query := `
		INSERT INTO cache_entries (namespace, key, value, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = EXCLUDED.value,
			created_at = EXCLUDED.created_at`

	_, err := s.db.Exec(ctx, query, string(ns), key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	return nil
}

// Delete removes an entry. Deleting an absent entry is not an error.
func (s *PostgresStore) Delete(ctx context.Context, ns Namespace, key string) error {
	query := `DELETE FROM cache_entries WHERE namespace = $1 AND key = $2`

	_, err := s.db.Exec(ctx, query, string(ns), key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// DeleteExpired removes all entries in a namespace created before cutoff.
func (s *PostgresStore) DeleteExpired(ctx context.Context, ns Namespace, cutoff time.Time) (int64, error) {
	query := `DELETE FROM cache_entries WHERE namespace = $1 AND created_at < $2`

	result, err := s.db.Exec(ctx, query, string(ns), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	return result.RowsAffected(), nil
}

// IndexKeywords replaces the keyword index rows for a paper. The delete and
// inserts are queued in a single batch, which pgx runs inside one implicit
// transaction, so the index never holds a partial keyword set for a paper.
func (s *PostgresStore) IndexKeywords(ctx context.Context, paperID string, keywords []string) error {
	if paperID == "" {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}

	deleteQuery := `DELETE FROM paper_keywords WHERE paper_id = $1`
	insertQuery := `
		INSERT INTO paper_keywords (keyword, paper_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (keyword, paper_id) DO NOTHING`

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	batch.Queue(deleteQuery, paperID)
	for _, kw := range keywords {
		batch.Queue(insertQuery, kw, paperID, now)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to index keywords for paper %s: %w", paperID, err)
		}
	}

	return nil
}

// SearchKeywords returns every keyword-to-paper match with its match-tier
// weight. Each (paper, keyword) pair appears at most once, carrying the best
// tier it reached. LIKE metacharacters in stored keywords are escaped inside
// the query so user keywords are always matched literally.
//
// Tier weights are fixed in the query and must match the Weight* constants.
func (s *PostgresStore) SearchKeywords(ctx context.Context, keywords []string) ([]KeywordHit, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	query := `
		WITH terms AS (
			SELECT kw,
			       replace(replace(replace(kw, '\', '\\'), '%', '\%'), '_', '\_') AS esc
			FROM unnest($1::text[]) AS kw
		)
		SELECT pk.paper_id, t.kw,
		       MAX(CASE
		               WHEN pk.keyword = t.kw THEN 10
		               WHEN pk.keyword LIKE t.esc || '%' THEN 5
		               ELSE 3
		           END) AS weight
		FROM paper_keywords pk
		JOIN terms t ON pk.keyword LIKE '%' || t.esc || '%'
		GROUP BY pk.paper_id, t.kw
		ORDER BY pk.paper_id, t.kw`

	rows, err := s.db.Query(ctx, query, keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to search keywords: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var hit KeywordHit
		if err := rows.Scan(&hit.PaperID, &hit.Keyword, &hit.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan keyword hit: %w", err)
		}
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keyword hits: %w", err)
	}

	return hits, nil
}
