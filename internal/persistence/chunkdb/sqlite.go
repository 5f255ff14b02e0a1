package chunkdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/persistence/codec"
	"voxelstream.ai/internal/persistence/writeback"
)

// SQLiteStore persists chunk records in a single SQLite file. Writes go
// through one writer goroutine; reads use the same connection directly.
type SQLiteStore struct {
	db *sql.DB
	q  *writeback.Queue
}

// Row is a stored chunk without its payload decoded.
type Row struct {
	Pos       chunks.Pos
	Size      int
	Digest    string
	Entities  int
	UpdatedAt string
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	s.q = writeback.New(16384, s.flush, logger)
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			data BLOB NOT NULL,
			entities TEXT NOT NULL DEFAULT '[]',
			digest TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (x, y, z)
		);`,
		`INSERT OR IGNORE INTO meta(key, value) VALUES('format', 'rle-v1+zstd');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the newest copy of pos: a queued write if there is one,
// otherwise the stored row.
func (s *SQLiteStore) Load(ctx context.Context, pos chunks.Pos) (*codec.ChunkStore, bool, error) {
	if it, ok := s.q.Pending(pos); ok {
		st, err := it.Encode()
		if err != nil {
			return nil, false, err
		}
		return st, true, nil
	}
	var (
		data     []byte
		entities string
		digest   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, entities, digest FROM chunks WHERE x=? AND y=? AND z=?`,
		pos.X, pos.Y, pos.Z,
	).Scan(&data, &entities, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load chunk %s: %w", pos, err)
	}
	ents, err := codec.UnmarshalEntities(entities)
	if err != nil {
		return nil, false, fmt.Errorf("load chunk %s: %w", pos, err)
	}
	st := &codec.ChunkStore{Pos: pos, Data: data, Entities: ents}
	if b, err := hex.DecodeString(digest); err == nil && len(b) == len(st.Digest) {
		copy(st.Digest[:], b)
	}
	return st, true, nil
}

// Store queues the snapshot for writing. It does not block.
func (s *SQLiteStore) Store(snap *chunks.Snapshot, entities []chunks.EntityStub) error {
	return s.q.Enqueue(&writeback.Item{Snap: snap, Entities: entities})
}

// DeleteWorld waits for queued writes, drops anything still pending and
// removes every stored chunk.
func (s *SQLiteStore) DeleteWorld(ctx context.Context) error {
	s.q.Discard()
	s.q.Sync()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("delete world: %w", err)
	}
	return nil
}

// Sync blocks until queued writes are on disk.
func (s *SQLiteStore) Sync() { s.q.Sync() }

func (s *SQLiteStore) Stats() writeback.Stats { return s.q.Stats() }

func (s *SQLiteStore) List(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, z, length(data), digest, entities, updated_at FROM chunks ORDER BY x, y, z`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var (
			r    Row
			ents string
		)
		if err := rows.Scan(&r.Pos.X, &r.Pos.Y, &r.Pos.Z, &r.Size, &r.Digest, &ents, &r.UpdatedAt); err != nil {
			return nil, err
		}
		es, err := codec.UnmarshalEntities(ents)
		if err != nil {
			return nil, err
		}
		r.Entities = len(es)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.q.Close()
	return s.db.Close()
}

func (s *SQLiteStore) flush(batch []*codec.ChunkStore) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks(x,y,z,data,entities,digest,updated_at) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, st := range batch {
		ents, err := codec.MarshalEntities(st.Entities)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, st.Pos.X, st.Pos.Y, st.Pos.Z, st.Data, ents, hex.EncodeToString(st.Digest[:]), now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
