package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/openfroyo/flysim/pkg/sim"
)

// Checkpoint is a resumable session snapshot.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Seed      uint64    `json:"seed"`
	SavedAt   time.Time `json:"saved_at"`
	State     sim.State `json:"state"`
}

// CheckpointStore keeps the latest snapshot of each session in Badger,
// zstd-compressed. Saving a session twice replaces the older checkpoint.
type CheckpointStore struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenCheckpointStore opens (or creates) a checkpoint database under dir.
// An empty dir keeps everything in memory.
func OpenCheckpointStore(dir string) (*CheckpointStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil).WithValueLogFileSize(1 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CheckpointStore{db: db, enc: enc, dec: dec}, nil
}

// Close releases the database and codecs.
func (s *CheckpointStore) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}

const checkpointPrefix = "checkpoint:"

func checkpointKey(sessionID string) []byte {
	return []byte(checkpointPrefix + sessionID)
}

// Save stores cp as the latest checkpoint of its session.
func (s *CheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	if cp.SessionID == "" {
		return fmt.Errorf("checkpoint requires a session ID")
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	packed := s.enc.EncodeAll(raw, nil)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(cp.SessionID), packed)
	})
}

// Load returns the latest checkpoint of a session.
func (s *CheckpointStore) Load(_ context.Context, sessionID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checkpoint %s: %w", sessionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return s.decode(v, &cp)
		})
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// List returns every checkpoint, most recently saved first.
func (s *CheckpointStore) List(_ context.Context) ([]Checkpoint, error) {
	var out []Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(checkpointPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(v []byte) error {
				return s.decode(v, &cp)
			}); err != nil {
				return err
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Delete removes a session's checkpoint. Deleting a missing checkpoint is not an error.
func (s *CheckpointStore) Delete(_ context.Context, sessionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(sessionID))
	})
}

func (s *CheckpointStore) decode(packed []byte, cp *Checkpoint) error {
	raw, err := s.dec.DecodeAll(packed, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw, cp); err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return nil
}

// SaveCheckpoint stores the state of a running session. It satisfies
// session.Checkpointer.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, sessionID string, seed uint64, state sim.State) error {
	return s.Save(ctx, Checkpoint{SessionID: sessionID, Seed: seed, State: state})
}
