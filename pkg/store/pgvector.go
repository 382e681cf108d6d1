package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/xhad/docqa/internal/models"
)

type VectorStoreConfig struct {
	ConnString   string
	TableName    string
	VectorDim    int
	CloseTimeout time.Duration
}

// VectorStore keeps fragments in a shared pgvector table. Each opened index
// owns a random collection id and only ever sees its own rows.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	table  string
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "docqa_fragments"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}
	if config.CloseTimeout == 0 {
		config.CloseTimeout = 10 * time.Second
	}

	// The vector type has to exist before pooled connections can register it.
	if err := createExtension(ctx, config.ConnString); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.AfterConnect = pgxvec.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func createExtension(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, vs.table, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Searches are exact scans within one collection, so only the collection
	// column is indexed.
	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (collection, seq)`,
		pgx.Identifier{vs.config.TableName + "_collection_idx"}.Sanitize(), vs.table)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Open returns an empty index backed by a fresh collection.
func (vs *VectorStore) Open(ctx context.Context) (Index, error) {
	return &pgIndex{
		store:      vs,
		collection: uuid.NewString(),
	}, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

type pgIndex struct {
	store      *VectorStore
	collection string

	mu     sync.Mutex
	count  int
	closed bool
}

func (ix *pgIndex) Insert(ctx context.Context, fragments []models.IndexedFragment) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return ErrClosed
	}

	dim := ix.store.config.VectorDim
	for _, f := range fragments {
		if len(f.Embedding) != dim {
			return fmt.Errorf("embedding has %d dimensions, table expects %d", len(f.Embedding), dim)
		}
	}

	tx, err := ix.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, collection, seq, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ix.store.table)

	batch := &pgx.Batch{}
	for i, f := range fragments {
		id := f.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(stmt,
			id,
			ix.collection,
			ix.count+i,
			sanitizeUTF8(f.Content),
			pgvector.NewVector(f.Embedding),
			f.Metadata,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert fragments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	ix.count += len(fragments)
	return nil
}

func (ix *pgIndex) Search(ctx context.Context, embedding []float32, limit int) ([]models.Fragment, error) {
	ix.mu.Lock()
	closed := ix.closed
	ix.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	query := fmt.Sprintf(`
		SELECT content, metadata
		FROM %s
		WHERE collection = $1
		ORDER BY embedding <=> $2, seq
		LIMIT $3`,
		ix.store.table)

	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := ix.store.pool.Query(ctx, query, ix.collection, pgvector.NewVector(embedding), lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var fragments []models.Fragment
	for rows.Next() {
		var (
			content string
			raw     []byte
		)
		if err := rows.Scan(&content, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		meta, err := decodeMetadata(raw)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, models.Fragment{Content: content, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fragments: %w", err)
	}

	return fragments, nil
}

func (ix *pgIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.count
}

// Close deletes the collection's rows.
func (ix *pgIndex) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), ix.store.config.CloseTimeout)
	defer cancel()

	stmt := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1`, ix.store.table)
	if _, err := ix.store.pool.Exec(ctx, stmt, ix.collection); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", ix.collection, err)
	}
	return nil
}

// decodeMetadata restores integral JSON numbers (page numbers) as ints.
func decodeMetadata(raw []byte) (map[string]interface{}, error) {
	meta := map[string]interface{}{}
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	for k, v := range meta {
		if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			meta[k] = int(f)
		}
	}
	return meta, nil
}

// Postgres rejects invalid UTF-8 in text columns.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
