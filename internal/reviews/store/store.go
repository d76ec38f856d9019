// Package store implements the Materializer (spec.md §4.10): a
// pgx/pgxpool-backed Postgres persistence layer that sanitizes and
// transactionally writes fetched reviews, following the pool/transaction
// pattern in the teacher's internal/storage/postgres/retrieval_store.go.
package store

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
)

// pgxPool is the subset of pgxpool.Pool the Materializer exercises,
// narrowed to an interface so tests can substitute pgxmock.PgxPoolIface
// in place of a live connection, following the teacher's execCloser
// abstraction in internal/storage/postgres/retrieval_store.go.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Config controls the underlying connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Materializer implements reviews.Store against Postgres.
type Materializer struct {
	pool pgxPool
}

// New opens a pool and returns a Materializer.
func New(ctx context.Context, cfg Config) (*Materializer, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Materializer{pool: p}, nil
}

// NewWithPool builds a Materializer from any pgxPool implementation —
// a live *pgxpool.Pool in production, or pgxmock.PgxPoolIface in tests.
func NewWithPool(p pgxPool) *Materializer {
	return &Materializer{pool: p}
}

// Close releases the pool.
func (m *Materializer) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}

var collapseBlankLinesRe = regexp.MustCompile(`\n{3,}`)
var collapseNonNewlineWSRe = regexp.MustCompile(`[ \t\f\v]{2,}`)

// sanitize applies spec.md §4.10's cleanup rules ahead of insertion.
func sanitize(raw reviews.RawReview) reviews.RawReview {
	out := raw

	if out.Text != nil {
		text := strings.TrimSpace(*out.Text)
		text = collapseBlankLinesRe.ReplaceAllString(text, "\n\n")
		text = collapseNonNewlineWSRe.ReplaceAllString(text, " ")
		out.Text = &text
	}

	out.AuthorName = reviews.CleanAuthorName(out.AuthorName)

	if out.Rating != nil {
		r := *out.Rating
		if r < 1 {
			r = 1
		}
		if r > 5 {
			r = 5
		}
		out.Rating = &r
	}

	if out.BranchName != nil {
		branch := strings.TrimSpace(*out.BranchName)
		if branch == "" {
			out.BranchName = nil
		} else {
			out.BranchName = &branch
		}
	}

	if out.YandexID != nil {
		id := strings.TrimSpace(*out.YandexID)
		if id == "" {
			out.YandexID = nil
		} else {
			out.YandexID = &id
		}
	}

	return out
}

// ReplaceAll implements syncReviews: delete-then-insert inside one
// transaction, with zero-review protection — never deletes existing rows
// when the fetch came back empty.
func (m *Materializer) ReplaceAll(ctx context.Context, sourceID string, raws []reviews.RawReview) (int, error) {
	if len(raws) == 0 {
		return 0, nil
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM reviews WHERE source_id = $1`, sourceID); err != nil {
		return 0, fmt.Errorf("delete existing reviews: %w", err)
	}

	inserted, err := insertBatch(ctx, tx, sourceID, raws, nil)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// InsertNew implements syncNewReviews: appends only reviews that don't
// already exist, by yandex_id or — for id-less reviews — a content match
// on (author_name, text).
func (m *Materializer) InsertNew(ctx context.Context, sourceID string, raws []reviews.RawReview) (int, error) {
	if len(raws) == 0 {
		return 0, nil
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existingIDs, err := m.existingYandexIDsTx(ctx, tx, sourceID)
	if err != nil {
		return 0, err
	}

	inserted, err := insertBatch(ctx, tx, sourceID, raws, existingIDs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// insertBatch sanitizes and inserts each review, skipping any whose
// yandex_id was already inserted earlier in this batch or is in existingIDs
// (pre-existing rows for InsertNew), and — when existingIDs is non-nil
// (incremental mode) — skipping id-less reviews that content-match an
// existing row.
func insertBatch(ctx context.Context, tx pgx.Tx, sourceID string, raws []reviews.RawReview, existingIDs map[string]struct{}) (int, error) {
	seen := map[string]struct{}{}
	inserted := 0

	for _, raw := range raws {
		clean := sanitize(raw)

		if clean.YandexID != nil {
			if _, dup := seen[*clean.YandexID]; dup {
				continue
			}
			if existingIDs != nil {
				if _, exists := existingIDs[*clean.YandexID]; exists {
					continue
				}
			}
			seen[*clean.YandexID] = struct{}{}
		} else if existingIDs != nil {
			exists, err := contentMatchExists(ctx, tx, sourceID, clean.AuthorName, clean.Text)
			if err != nil {
				return inserted, err
			}
			if exists {
				continue
			}
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO reviews (source_id, yandex_id, author_name, rating, text, branch_name, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sourceID, clean.YandexID, clean.AuthorName, clean.Rating, clean.Text, clean.BranchName, clean.PublishedAt,
		); err != nil {
			return inserted, fmt.Errorf("insert review: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

func contentMatchExists(ctx context.Context, tx pgx.Tx, sourceID, author string, text *string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1 FROM reviews WHERE source_id = $1 AND author_name = $2 AND text = $3
)`, sourceID, author, text).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("content match query: %w", err)
	}
	return exists, nil
}

func (m *Materializer) existingYandexIDsTx(ctx context.Context, tx pgx.Tx, sourceID string) (map[string]struct{}, error) {
	rows, err := tx.Query(ctx, `SELECT yandex_id FROM reviews WHERE source_id = $1 AND yandex_id IS NOT NULL`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("select existing yandex ids: %w", err)
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan yandex id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ExistingYandexIDs implements reviews.Store for syncNewReviews callers
// that need the set ahead of fetching (spec.md §4.10 "in-memory hash set
// of existing yandex_id values").
func (m *Materializer) ExistingYandexIDs(ctx context.Context, sourceID string) (map[string]struct{}, error) {
	rows, err := m.pool.Query(ctx, `SELECT yandex_id FROM reviews WHERE source_id = $1 AND yandex_id IS NOT NULL`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("select existing yandex ids: %w", err)
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan yandex id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ExistingContentKeys returns "author|text" keys for rows without a
// yandex_id, for content-match dedup ahead of fetching.
func (m *Materializer) ExistingContentKeys(ctx context.Context, sourceID string) (map[string]struct{}, error) {
	rows, err := m.pool.Query(ctx, `SELECT author_name, text FROM reviews WHERE source_id = $1 AND yandex_id IS NULL`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("select existing content keys: %w", err)
	}
	defer rows.Close()

	keys := map[string]struct{}{}
	for rows.Next() {
		var author string
		var text *string
		if err := rows.Scan(&author, &text); err != nil {
			return nil, fmt.Errorf("scan content key: %w", err)
		}
		t := ""
		if text != nil {
			t = *text
		}
		keys[author+"|"+t] = struct{}{}
	}
	return keys, rows.Err()
}

// UpdateSourceMeta applies spec.md §4.10's Source metadata update rules
// after a successful sync.
func (m *Materializer) UpdateSourceMeta(ctx context.Context, sourceID string, orgName string, rating *float64, totalReviews int, syncedAt time.Time) error {
	_, err := m.pool.Exec(ctx, `
UPDATE sources
SET organization_name = CASE WHEN $2 = '' THEN organization_name ELSE $2 END,
    rating = $3,
    total_reviews = $4,
    last_synced_at = $5
WHERE id = $1`, sourceID, orgName, rating, totalReviews, syncedAt)
	if err != nil {
		return fmt.Errorf("update source meta: %w", err)
	}
	return nil
}

// TouchLastSynced updates only last_synced_at, used when a fetch returned
// zero reviews and prior data must be preserved untouched.
func (m *Materializer) TouchLastSynced(ctx context.Context, sourceID string, syncedAt time.Time) error {
	_, err := m.pool.Exec(ctx, `UPDATE sources SET last_synced_at = $2 WHERE id = $1`, sourceID, syncedAt)
	if err != nil {
		return fmt.Errorf("touch last synced: %w", err)
	}
	return nil
}

// AverageStoredRating computes the average of stored integer ratings,
// used as the Source rating fallback when upstream reports none.
func (m *Materializer) AverageStoredRating(ctx context.Context, sourceID string) (*float64, error) {
	var avg *float64
	err := m.pool.QueryRow(ctx, `
SELECT AVG(rating)::float8 FROM reviews WHERE source_id = $1 AND rating IS NOT NULL`, sourceID).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average stored rating: %w", err)
	}
	if avg == nil {
		return nil, nil
	}
	rounded := math.Round(*avg*100) / 100
	return &rounded, nil
}

// GetSource loads one Source row by id, satisfying engine.SourceRepository.
func (m *Materializer) GetSource(ctx context.Context, sourceID string) (*reviews.Source, error) {
	row := m.pool.QueryRow(ctx, `
SELECT id, user_id, url, host_tag, organization_name, rating, total_reviews, last_synced_at, created_at, updated_at
FROM sources WHERE id = $1`, sourceID)

	var src reviews.Source
	var hostTag string
	if err := row.Scan(
		&src.ID, &src.UserID, &src.URL, &hostTag, &src.OrganizationName, &src.Rating,
		&src.TotalReviews, &src.LastSyncedAt, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("get source %s: %w", sourceID, err)
	}
	src.HostTag = reviews.HostTag(hostTag)
	return &src, nil
}

// ListSources loads every registered Source, satisfying
// engine.SourceRepository for the sync-all sweep.
func (m *Materializer) ListSources(ctx context.Context) ([]reviews.Source, error) {
	rows, err := m.pool.Query(ctx, `
SELECT id, user_id, url, host_tag, organization_name, rating, total_reviews, last_synced_at, created_at, updated_at
FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []reviews.Source
	for rows.Next() {
		var src reviews.Source
		var hostTag string
		if err := rows.Scan(
			&src.ID, &src.UserID, &src.URL, &hostTag, &src.OrganizationName, &src.Rating,
			&src.TotalReviews, &src.LastSyncedAt, &src.CreatedAt, &src.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		src.HostTag = reviews.HostTag(hostTag)
		out = append(out, src)
	}
	return out, rows.Err()
}

// FormatUpstreamRating rounds an upstream-reported rating to 2 decimals,
// the preferred source of Source.Rating when present (spec.md §4.10).
func FormatUpstreamRating(v float64) float64 {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
