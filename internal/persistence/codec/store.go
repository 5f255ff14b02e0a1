package codec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/chunks"
)

var (
	zOnce sync.Once
	zEnc  *zstd.Encoder
	zDec  *zstd.Decoder
	zErr  error
)

func coders() (*zstd.Encoder, *zstd.Decoder, error) {
	zOnce.Do(func() {
		zEnc, zErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zErr != nil {
			return
		}
		zDec, zErr = zstd.NewReader(nil)
	})
	return zEnc, zDec, zErr
}

// Compress frames a raw record with zstd.
func Compress(raw []byte) ([]byte, error) {
	enc, _, err := coders()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(raw, nil), nil
}

func Decompress(data []byte) ([]byte, error) {
	_, dec, err := coders()
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return raw, nil
}

// ChunkStore is a persisted chunk: a compressed record plus the entity
// stubs that were saved with it.
type ChunkStore struct {
	Pos      chunks.Pos
	Data     []byte
	Entities []chunks.EntityStub
	Digest   [32]byte
}

// NewChunkStore encodes and compresses a snapshot.
func NewChunkStore(s *chunks.Snapshot, entities []chunks.EntityStub) (*ChunkStore, error) {
	data, err := Compress(Encode(RecordOf(s)))
	if err != nil {
		return nil, err
	}
	return &ChunkStore{Pos: s.Pos(), Data: data, Entities: entities, Digest: s.Digest()}, nil
}

// Chunk decodes the stored record. A record for a different position is
// rejected.
func (s *ChunkStore) Chunk() (*chunks.Chunk, error) {
	raw, err := Decompress(s.Data)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", s.Pos, err)
	}
	rec, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", s.Pos, err)
	}
	if rec.Pos != s.Pos {
		return nil, fmt.Errorf("chunk %s: %w: record is for %s", s.Pos, ErrCorrupt, rec.Pos)
	}
	return rec.Chunk(), nil
}

// RestoreEntities returns the stubs saved alongside the chunk.
func (s *ChunkStore) RestoreEntities() []chunks.EntityStub {
	return s.Entities
}

func MarshalEntities(es []chunks.EntityStub) (string, error) {
	if len(es) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(es)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalEntities(s string) ([]chunks.EntityStub, error) {
	if s == "" {
		return nil, nil
	}
	var out []chunks.EntityStub
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("entities: %w", err)
	}
	return out, nil
}
