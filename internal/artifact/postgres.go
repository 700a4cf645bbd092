package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the artifact table. Bodies are stored as BYTEA
// rather than JSONB so the hashed bytes come back unchanged.
const Schema = `
CREATE TABLE IF NOT EXISTS alignment_artifacts (
    chapter      TEXT NOT NULL,
    kind         TEXT NOT NULL,
    params_hash  TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    body         BYTEA NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (chapter, kind)
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// rowQuerier is the part of [DB] and pgx.Tx that a single put needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a [Store] backed by a PostgreSQL table.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db. The caller is responsible for
// calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// OpenPostgres connects a pool to dsn, pings it and migrates the schema.
// Call [PostgresStore.Close] when done.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("artifact: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("artifact: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("artifact: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool opened by [OpenPostgres]. It does
// nothing for stores created with [NewPostgresStore].
func (s *PostgresStore) Close() { s.close() }

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("artifact: migrate: %w", err)
	}
	return nil
}

// Put implements [Store]. The upsert only overwrites a row whose params
// hash differs; when it declines, the stored content hash decides between
// [Unchanged] and [ErrExists].
func (s *PostgresStore) Put(ctx context.Context, a Artifact) (PutResult, error) {
	if err := checkBatch([]Artifact{a}); err != nil {
		return "", err
	}
	return put(ctx, s.db, a)
}

// PutAll implements [Store]. The batch runs in one transaction with the
// same upsert as [PostgresStore.Put] and is rolled back on the first
// refusal.
func (s *PostgresStore) PutAll(ctx context.Context, as []Artifact) ([]PutResult, error) {
	if err := checkBatch(as); err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact: begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // no-op after commit

	results := make([]PutResult, len(as))
	for i, a := range as {
		if results[i], err = put(ctx, tx, a); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("artifact: commit transaction: %w", err)
	}
	return results, nil
}

func put(ctx context.Context, q rowQuerier, a Artifact) (PutResult, error) {
	const upsert = `
		INSERT INTO alignment_artifacts (chapter, kind, params_hash, content_hash, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chapter, kind) DO UPDATE SET
			params_hash  = EXCLUDED.params_hash,
			content_hash = EXCLUDED.content_hash,
			body         = EXCLUDED.body,
			created_at   = EXCLUDED.created_at
		WHERE alignment_artifacts.params_hash <> EXCLUDED.params_hash
		  AND alignment_artifacts.content_hash <> EXCLUDED.content_hash
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := q.QueryRow(ctx, upsert,
		a.Chapter, string(a.Kind), a.ParamsHash, a.ContentHash, a.Data, a.CreatedAt,
	).Scan(&inserted)
	switch {
	case err == nil && inserted:
		return Written, nil
	case err == nil:
		return Replaced, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("artifact: put %s/%s: %w", a.Chapter, a.Kind, err)
	}

	const existing = `
		SELECT params_hash, content_hash
		FROM alignment_artifacts
		WHERE chapter = $1 AND kind = $2`

	var stored Artifact
	if err := q.QueryRow(ctx, existing, a.Chapter, string(a.Kind)).Scan(&stored.ParamsHash, &stored.ContentHash); err != nil {
		return "", fmt.Errorf("artifact: put %s/%s: read existing: %w", a.Chapter, a.Kind, err)
	}
	return decide(stored, a)
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, chapter string, kind Kind) (Artifact, bool, error) {
	const query = `
		SELECT params_hash, content_hash, body, created_at
		FROM alignment_artifacts
		WHERE chapter = $1 AND kind = $2`

	a := Artifact{Chapter: chapter, Kind: kind}
	var created time.Time
	err := s.db.QueryRow(ctx, query, chapter, string(kind)).Scan(&a.ParamsHash, &a.ContentHash, &a.Data, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, fmt.Errorf("artifact: get %s/%s: %w", chapter, kind, err)
	}
	if Hash(a.Data) != a.ContentHash {
		return Artifact{}, false, fmt.Errorf("%w: %s/%s", ErrCorrupt, chapter, kind)
	}
	a.CreatedAt = created.UTC()
	return a, true, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT chapter FROM alignment_artifacts ORDER BY chapter`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	defer rows.Close()

	chapters := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("artifact: list scan: %w", err)
		}
		chapters = append(chapters, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: list rows: %w", err)
	}
	return chapters, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("artifact: ping: %w", err)
	}
	return nil
}
