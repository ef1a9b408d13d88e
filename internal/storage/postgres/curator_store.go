// Package postgres provides the Postgres-backed persistence gateway.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/curator-discovery/internal/curator"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var curatorColumns = []string{
	"id",
	"handle",
	"display_name",
	"description",
	"profile_image_url",
	"score",
	"tags",
	"categories",
	"followers_count",
	"subscribed_at",
	"discovered_via",
	"updated_at",
}

const upsertCuratorSQL = `
INSERT INTO discovered_curators (
	id, handle, display_name, description, profile_image_url, score,
	tags, categories, followers_count, subscribed_at, discovered_via, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
	handle = EXCLUDED.handle,
	display_name = EXCLUDED.display_name,
	description = EXCLUDED.description,
	profile_image_url = EXCLUDED.profile_image_url,
	score = EXCLUDED.score,
	tags = EXCLUDED.tags,
	categories = EXCLUDED.categories,
	followers_count = EXCLUDED.followers_count,
	subscribed_at = EXCLUDED.subscribed_at,
	discovered_via = EXCLUDED.discovered_via,
	updated_at = EXCLUDED.updated_at`

const upsertSeedSQL = `
INSERT INTO seed_curators (id, handle, processed, created_at)
VALUES ($1, $2, FALSE, $3)
ON CONFLICT (id) DO UPDATE SET handle = COALESCE(NULLIF(EXCLUDED.handle, ''), seed_curators.handle)`

const summarySQL = `
SELECT
	(SELECT count(*) FROM seed_curators),
	(SELECT count(*) FROM seed_curators WHERE processed),
	(SELECT count(*) FROM discovered_curators)`

// CuratorStore persists seeds and discovered curators in Postgres.
type CuratorStore struct {
	pool pool
	now  func() time.Time
}

// NewCuratorStore opens a pgx pool using cfg.
func NewCuratorStore(ctx context.Context, cfg Config) (*CuratorStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
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
	return &CuratorStore{pool: p, now: utcNow}, nil
}

// NewCuratorStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCuratorStoreWithPool(p pool, now func() time.Time) (*CuratorStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if now == nil {
		now = utcNow
	}
	return &CuratorStore{pool: p, now: now}, nil
}

func utcNow() time.Time { return time.Now().UTC() }

// Close releases the underlying pool resources.
func (s *CuratorStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *CuratorStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpsertSeeds inserts seeds in one transaction, in slice order. Existing rows keep
// their processed flag, position and, when the new handle is empty, their handle.
func (s *CuratorStore) UpsertSeeds(ctx context.Context, seeds []curator.SeedCurator) (err error) {
	if len(seeds) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.now()
	for _, seed := range seeds {
		if seed.ID == "" {
			return fmt.Errorf("seed id is required")
		}
		if _, err = tx.Exec(ctx, upsertSeedSQL, seed.ID, seed.Handle, now); err != nil {
			return fmt.Errorf("upsert seed %s: %w", seed.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed upsert: %w", err)
	}
	return nil
}

// ListUnprocessedSeeds returns seeds still awaiting a complete crawl, in insertion order.
func (s *CuratorStore) ListUnprocessedSeeds(ctx context.Context) ([]curator.SeedCurator, error) {
	return s.listSeeds(ctx, sq.Eq{"processed": false})
}

// ListSeeds returns every seed in insertion order.
func (s *CuratorStore) ListSeeds(ctx context.Context) ([]curator.SeedCurator, error) {
	return s.listSeeds(ctx, nil)
}

func (s *CuratorStore) listSeeds(ctx context.Context, where sq.Sqlizer) ([]curator.SeedCurator, error) {
	q := psql.Select("id", "handle", "processed", "processed_at").
		From("seed_curators").
		OrderBy("ordinal")
	if where != nil {
		q = q.Where(where)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build seed query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seeds: %w", err)
	}
	defer rows.Close()

	var out []curator.SeedCurator
	for rows.Next() {
		var seed curator.SeedCurator
		if err := rows.Scan(&seed.ID, &seed.Handle, &seed.Processed, &seed.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan seed: %w", err)
		}
		out = append(out, seed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seeds: %w", err)
	}
	return out, nil
}

// MarkSeedProcessed flags a seed as fully crawled.
func (s *CuratorStore) MarkSeedProcessed(ctx context.Context, seedID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE seed_curators SET processed = TRUE, processed_at = $2 WHERE id = $1`,
		seedID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark seed %s processed: %w", seedID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark seed %s processed: %w", seedID, curator.ErrNotFound)
	}
	return nil
}

// UpsertCurator inserts or overwrites every non-identity column of the record.
func (s *CuratorStore) UpsertCurator(ctx context.Context, rec curator.DiscoveredCurator) error {
	if rec.ID == "" {
		return fmt.Errorf("curator id is required")
	}
	tags, err := json.Marshal(nonNilTags(rec.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	categories, err := json.Marshal(nonNilCategories(rec.Categories))
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	_, err = s.pool.Exec(ctx, upsertCuratorSQL,
		rec.ID,
		rec.Handle,
		rec.DisplayName,
		rec.Description,
		rec.ProfileImageURL,
		rec.Score,
		tags,
		categories,
		rec.FollowersCount,
		rec.SubscribedAt.UTC(),
		rec.DiscoveredVia,
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert curator %s: %w", rec.ID, err)
	}
	return nil
}

// ListCurators returns curators ordered by score, highest first.
func (s *CuratorStore) ListCurators(ctx context.Context, filter curator.CuratorFilter) ([]curator.DiscoveredCurator, error) {
	q := psql.Select(curatorColumns...).
		From("discovered_curators").
		OrderBy("score DESC", "id")
	if filter.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"score": filter.MinScore})
	}
	if filter.Category != "" {
		match, err := json.Marshal([]map[string]string{{"name": filter.Category}})
		if err != nil {
			return nil, fmt.Errorf("marshal category filter: %w", err)
		}
		q = q.Where(sq.Expr("categories @> ?::jsonb", string(match)))
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build curator query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query curators: %w", err)
	}
	defer rows.Close()

	var out []curator.DiscoveredCurator
	for rows.Next() {
		rec, err := scanCurator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate curators: %w", err)
	}
	return out, nil
}

// GetCurator loads one curator by ID.
func (s *CuratorStore) GetCurator(ctx context.Context, id string) (curator.DiscoveredCurator, error) {
	query, args, err := psql.Select(curatorColumns...).
		From("discovered_curators").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return curator.DiscoveredCurator{}, fmt.Errorf("build curator query: %w", err)
	}
	rec, err := scanCurator(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return curator.DiscoveredCurator{}, curator.ErrNotFound
	}
	return rec, err
}

// Summary counts seeds and discovered curators.
func (s *CuratorStore) Summary(ctx context.Context) (curator.Summary, error) {
	var seeds, processed, discovered int64
	if err := s.pool.QueryRow(ctx, summarySQL).Scan(&seeds, &processed, &discovered); err != nil {
		return curator.Summary{}, fmt.Errorf("query summary: %w", err)
	}
	return curator.Summary{
		Seeds:                 int(seeds),
		ProcessedSeeds:        int(processed),
		Discovered:            int(discovered),
		DiscoveredBeyondSeeds: int(discovered - seeds),
	}, nil
}

func scanCurator(row pgx.Row) (curator.DiscoveredCurator, error) {
	var (
		rec        curator.DiscoveredCurator
		tags       []byte
		categories []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Handle,
		&rec.DisplayName,
		&rec.Description,
		&rec.ProfileImageURL,
		&rec.Score,
		&tags,
		&categories,
		&rec.FollowersCount,
		&rec.SubscribedAt,
		&rec.DiscoveredVia,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan curator: %w", err)
	}
	if err := json.Unmarshal(tags, &rec.Tags); err != nil {
		return rec, fmt.Errorf("decode tags for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(categories, &rec.Categories); err != nil {
		return rec, fmt.Errorf("decode categories for %s: %w", rec.ID, err)
	}
	return rec, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilCategories(cats []curator.Category) []curator.Category {
	if cats == nil {
		return []curator.Category{}
	}
	return cats
}
