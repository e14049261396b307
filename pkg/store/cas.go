package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/aoscore/aos/pkg/codec"
)

// CAS is the content-addressed blob/node store the kernel consumes.
// Blobs are opaque byte strings addressed by Hash(bytes); nodes are
// canonically-encoded typed records addressed by
// Hash(canonical_encoding(node)). Put is idempotent: storing the same
// content twice is a no-op beyond the first write.
//
// Backends share one interface (Postgres, SQLite) over a generic
// content-addressed blob/node pair.
type CAS interface {
	PutBlob(ctx context.Context, data []byte) (codec.Hash, error)
	GetBlob(ctx context.Context, h codec.Hash) ([]byte, error)

	// PutNode canonically encodes node and stores it, returning its hash.
	PutNode(ctx context.Context, node any) (codec.Hash, error)
	// GetNode decodes the stored node at h into out.
	GetNode(ctx context.Context, h codec.Hash, out any) error
}

// MemCAS is an in-memory CAS, used by tests and by single-process demos.
type MemCAS struct {
	mu    sync.RWMutex
	blobs map[codec.Hash][]byte
	nodes map[codec.Hash][]byte
}

// NewMemCAS creates an empty in-memory CAS.
func NewMemCAS() *MemCAS {
	return &MemCAS{
		blobs: make(map[codec.Hash][]byte),
		nodes: make(map[codec.Hash][]byte),
	}
}

func (m *MemCAS) PutBlob(_ context.Context, data []byte) (codec.Hash, error) {
	h := codec.Sum(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blobs[h]; !exists {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.blobs[h] = cp
	}
	return h, nil
}

func (m *MemCAS) GetBlob(_ context.Context, h codec.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[h]
	if !ok {
		return nil, fmt.Errorf("store: blob %s: %w", h, codec.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemCAS) PutNode(_ context.Context, node any) (codec.Hash, error) {
	data, err := codec.Encode(node)
	if err != nil {
		return codec.Hash{}, fmt.Errorf("store: encode node: %w", err)
	}
	h := codec.Sum(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[h]; !exists {
		m.nodes[h] = data
	}
	return h, nil
}

func (m *MemCAS) GetNode(_ context.Context, h codec.Hash, out any) error {
	m.mu.RLock()
	data, ok := m.nodes[h]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("store: node %s: %w", h, codec.ErrNotFound)
	}
	return codec.Decode(data, out)
}

// sqlCAS is the shared implementation behind PostgresCAS and SQLiteCAS,
// parameterized only by placeholder style ("$N" for Postgres, "?" for
// SQLite).
type sqlCAS struct {
	db          *sql.DB
	blobInsert  string
	blobSelect  string
	nodeInsert  string
	nodeSelect  string
}

func (c *sqlCAS) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cas_blobs (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS cas_nodes (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL
);`
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate CAS schema: %w", err)
	}
	return nil
}

func (c *sqlCAS) PutBlob(ctx context.Context, data []byte) (codec.Hash, error) {
	h := codec.Sum(data)
	if _, err := c.db.ExecContext(ctx, c.blobInsert, h.String(), data); err != nil {
		return codec.Hash{}, fmt.Errorf("store: put blob: %w", err)
	}
	return h, nil
}

func (c *sqlCAS) GetBlob(ctx context.Context, h codec.Hash) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, c.blobSelect, h.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: blob %s: %w", h, codec.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get blob: %w", err)
	}
	return data, nil
}

func (c *sqlCAS) PutNode(ctx context.Context, node any) (codec.Hash, error) {
	data, err := codec.Encode(node)
	if err != nil {
		return codec.Hash{}, fmt.Errorf("store: encode node: %w", err)
	}
	h := codec.Sum(data)
	if _, err := c.db.ExecContext(ctx, c.nodeInsert, h.String(), data); err != nil {
		return codec.Hash{}, fmt.Errorf("store: put node: %w", err)
	}
	return h, nil
}

func (c *sqlCAS) GetNode(ctx context.Context, h codec.Hash, out any) error {
	var data []byte
	err := c.db.QueryRowContext(ctx, c.nodeSelect, h.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: node %s: %w", h, codec.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: get node: %w", err)
	}
	return codec.Decode(data, out)
}

// PostgresCAS is the github.com/lib/pq-backed CAS.
type PostgresCAS struct{ sqlCAS }

// NewPostgresCAS wraps an already-open Postgres *sql.DB and ensures the
// blobs/nodes tables exist.
func NewPostgresCAS(db *sql.DB) (*PostgresCAS, error) {
	c := &PostgresCAS{sqlCAS{
		db:         db,
		blobInsert: `INSERT INTO cas_blobs (hash, data) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING`,
		blobSelect: `SELECT data FROM cas_blobs WHERE hash = $1`,
		nodeInsert: `INSERT INTO cas_nodes (hash, data) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING`,
		nodeSelect: `SELECT data FROM cas_nodes WHERE hash = $1`,
	}}
	if err := c.migrate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SQLiteCAS is the modernc.org/sqlite-backed CAS (pure Go, CGo-free).
type SQLiteCAS struct{ sqlCAS }

// NewSQLiteCAS wraps an already-open SQLite *sql.DB and ensures the
// blobs/nodes tables exist.
func NewSQLiteCAS(db *sql.DB) (*SQLiteCAS, error) {
	c := &SQLiteCAS{sqlCAS{
		db:         db,
		blobInsert: `INSERT INTO cas_blobs (hash, data) VALUES (?, ?) ON CONFLICT (hash) DO NOTHING`,
		blobSelect: `SELECT data FROM cas_blobs WHERE hash = ?`,
		nodeInsert: `INSERT INTO cas_nodes (hash, data) VALUES (?, ?) ON CONFLICT (hash) DO NOTHING`,
		nodeSelect: `SELECT data FROM cas_nodes WHERE hash = ?`,
	}}
	if err := c.migrate(); err != nil {
		return nil, err
	}
	return c, nil
}
