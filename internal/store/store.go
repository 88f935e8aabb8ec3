// Package store keeps the latest committed records in LevelDB so a restart
// can resume without replaying the whole event log.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/state"
)

const recordPrefix = "r"

var metaKey = []byte("m")

// ErrEmpty is returned by Load when nothing has been committed yet.
var ErrEmpty = errors.New("store: empty")

// RecordStore mirrors the committed records plus the checkpoint of the
// batch that produced them.
type RecordStore struct {
	db *leveldb.DB
}

// Open opens or creates a store at path.
func Open(path string) (*RecordStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &RecordStore{db: db}, nil
}

// OpenMemory opens a store backed by memory, for tests and dry runs.
func OpenMemory() (*RecordStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &RecordStore{db: db}, nil
}

func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Apply writes one batch's changed records and its checkpoint atomically.
// Records are never removed, only overwritten.
func (s *RecordStore) Apply(out core.CoreOutput) error {
	cp := CheckpointOf(out)
	meta, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	batch := new(leveldb.Batch)
	for _, r := range out.Records {
		batch.Put(recordKey(r.Key), r.Value)
	}
	batch.Put(metaKey, meta)
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write sequence %d: %w", cp.Sequence, err)
	}
	return nil
}

// Reset replaces the whole store with a full record set, as restored
// from a Postgres snapshot.
func (s *RecordStore) Reset(records []state.Record, cp core.Checkpoint) error {
	meta, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan records: %w", err)
	}
	for _, r := range records {
		batch.Put(recordKey(r.Key), r.Value)
	}
	batch.Put(metaKey, meta)
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Load reads a consistent view of the records and checkpoint.
func (s *RecordStore) Load() ([]state.Record, core.Checkpoint, error) {
	var cp core.Checkpoint
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, cp, fmt.Errorf("leveldb snapshot: %w", err)
	}
	defer snap.Release()

	meta, err := snap.Get(metaKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, cp, ErrEmpty
	}
	if err != nil {
		return nil, cp, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(meta, &cp); err != nil {
		return nil, cp, fmt.Errorf("decode checkpoint: %w", err)
	}

	var records []state.Record
	iter := snap.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		records = append(records, state.Record{
			Key:   append([]byte(nil), iter.Key()[len(recordPrefix):]...),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, cp, fmt.Errorf("scan records: %w", err)
	}
	return records, cp, nil
}

// CheckpointOf derives the checkpoint a batch's output leaves behind.
func CheckpointOf(out core.CoreOutput) core.Checkpoint {
	return core.Checkpoint{
		Sequence:     out.Envelope.Sequence,
		StateHash:    out.Envelope.StateHash,
		Clock:        out.Envelope.Clock,
		ClockStarted: true,
		Balances:     out.Balances,
	}
}

func recordKey(k []byte) []byte {
	return append([]byte(recordPrefix), k...)
}
