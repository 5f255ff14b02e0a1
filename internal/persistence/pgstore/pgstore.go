// Package pgstore stores chunk records in PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/persistence/codec"
	"voxelstream.ai/internal/persistence/pgstore/migrations"
	"voxelstream.ai/internal/persistence/writeback"
)

type Store struct {
	pool *pgxpool.Pool
	q    *writeback.Queue
}

// RunMigrations applies the embedded goose migrations to dsn.
func RunMigrations(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Open migrates the schema and connects a pool.
func Open(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	if err := RunMigrations(ctx, dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	s := &Store{pool: pool}
	s.q = writeback.New(16384, s.flush, logger)
	return s, nil
}

func (s *Store) Load(ctx context.Context, pos chunks.Pos) (*codec.ChunkStore, bool, error) {
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
		digest   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT data, entities::text, digest FROM chunks WHERE x = $1 AND y = $2 AND z = $3`,
		pos.X, pos.Y, pos.Z,
	).Scan(&data, &entities, &digest)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying chunk %s: %w", pos, err)
	}
	ents, err := codec.UnmarshalEntities(entities)
	if err != nil {
		return nil, false, fmt.Errorf("chunk %s: %w", pos, err)
	}
	st := &codec.ChunkStore{Pos: pos, Data: data, Entities: ents}
	copy(st.Digest[:], digest)
	return st, true, nil
}

func (s *Store) Store(snap *chunks.Snapshot, entities []chunks.EntityStub) error {
	return s.q.Enqueue(&writeback.Item{Snap: snap, Entities: entities})
}

func (s *Store) DeleteWorld(ctx context.Context) error {
	s.q.Discard()
	s.q.Sync()
	if _, err := s.pool.Exec(ctx, `TRUNCATE chunks`); err != nil {
		return fmt.Errorf("truncating chunks: %w", err)
	}
	return nil
}

func (s *Store) Sync() { s.q.Sync() }

func (s *Store) Stats() writeback.Stats { return s.q.Stats() }

func (s *Store) Close() error {
	s.q.Close()
	s.pool.Close()
	return nil
}

func (s *Store) flush(batch []*codec.ChunkStore) error {
	ctx := context.Background()
	b := &pgx.Batch{}
	for _, st := range batch {
		ents, err := codec.MarshalEntities(st.Entities)
		if err != nil {
			return err
		}
		b.Queue(
			`INSERT INTO chunks (x, y, z, data, entities, digest, updated_at)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6, now())
			 ON CONFLICT (x, y, z) DO UPDATE
			 SET data = EXCLUDED.data, entities = EXCLUDED.entities,
			     digest = EXCLUDED.digest, updated_at = EXCLUDED.updated_at`,
			st.Pos.X, st.Pos.Y, st.Pos.Z, st.Data, ents, st.Digest[:],
		)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("writing %d chunks: %w", len(batch), err)
	}
	return nil
}
