// Package postgres is the PostgreSQL memory backend. Items are embedded on
// write and retrieved by cosine similarity through a pgvector HNSW index,
// always filtered to a single namespace.
//
// The pgvector extension must be available in the target database; Migrate
// installs it via CREATE EXTENSION IF NOT EXISTS and is safe to run on
// every start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/itsDarianNgo/Chatter/pkg/memory"
	"github.com/itsDarianNgo/Chatter/pkg/provider/embeddings"
)

// Store implements memory.Adapter on a pgxpool.Pool. Obtain one via New.
// All methods are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	embed embeddings.Provider
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and runs Migrate. The vector column dimension is taken from
// embed.Dimensions(); changing the embeddings model after the first
// migration requires a manual schema change.
func New(ctx context.Context, dsn string, embed embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embed.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory postgres: migrate: %w", err)
	}
	return &Store{pool: pool, embed: embed}, nil
}

// ddl returns the schema with the embedding dimension substituted. The
// dimension is baked into the column type at creation time.
func ddl(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id          TEXT         PRIMARY KEY,
    namespace   TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    kind        TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_namespace
    ON memories (namespace);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate ensures the memories table and its indexes exist. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if _, err := pool.Exec(ctx, ddl(dimensions)); err != nil {
		return fmt.Errorf("memory postgres: migrate: %w", err)
	}
	return nil
}

// Add implements memory.Adapter. The content is embedded and upserted; an
// existing item with the same id is replaced.
func (s *Store) Add(ctx context.Context, item memory.Item) error {
	vec, err := s.embed.Embed(ctx, item.Content)
	if err != nil {
		return fmt.Errorf("memory postgres: embed: %w", err)
	}

	const q = `
		INSERT INTO memories (id, namespace, content, kind, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    namespace  = EXCLUDED.namespace,
		    content    = EXCLUDED.content,
		    kind       = EXCLUDED.kind,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err = s.pool.Exec(ctx, q,
		item.ID, item.Namespace, item.Content, item.Kind,
		pgvector.NewVector(vec), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("memory postgres: add: %w", err)
	}
	return nil
}

// Search implements memory.Adapter. The query is embedded and the topK
// nearest items in the namespace are returned by ascending cosine distance.
func (s *Store) Search(ctx context.Context, namespace, query string, topK int) ([]memory.SearchResult, error) {
	if topK <= 0 {
		return []memory.SearchResult{}, nil
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: embed query: %w", err)
	}

	const q = `
		SELECT id, namespace, content, kind, created_at,
		       embedding <=> $1 AS distance
		FROM   memories
		WHERE  namespace = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), namespace, topK)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var r memory.SearchResult
		err := row.Scan(
			&r.Item.ID,
			&r.Item.Namespace,
			&r.Item.Content,
			&r.Item.Kind,
			&r.Item.CreatedAt,
			&r.Distance,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory postgres: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}

// Close implements memory.Adapter.
func (s *Store) Close() {
	s.pool.Close()
}

var _ memory.Adapter = (*Store)(nil)
