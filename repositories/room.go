//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"muc-lab/contract"
	"muc-lab/errors"
)

type IRoomRepository interface {
	Save(ctx context.Context, snapshot contract.RoomSnapshot) (int64, error)
	Load(ctx context.Context, name string) (contract.RoomSnapshot, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]contract.RoomSnapshot, error)
}

// RoomRepository persists room snapshots in BadgerDB under "room:{name}".
// Numeric IDs come from a badger sequence so a snapshot saved for the first
// time gets a stable identifier for the rest of its life.
type RoomRepository struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) (*RoomRepository, error) {
	seq, err := db.GetSequence([]byte("seq:room"), 16)
	if err != nil {
		return nil, fmt.Errorf("room id sequence: %w", err)
	}
	return &RoomRepository{db: db, seq: seq, log: log}, nil
}

// Close releases the ID sequence lease.
func (r *RoomRepository) Close() error {
	return r.seq.Release()
}

func roomKey(name string) []byte {
	return []byte("room:" + strings.ToLower(name))
}

// Save writes the snapshot and returns its ID, assigning a fresh one on
// first save. The sequence starts at zero, so assigned IDs start at one.
func (r *RoomRepository) Save(ctx context.Context, snapshot contract.RoomSnapshot) (int64, error) {
	if snapshot.ID < 0 {
		next, err := r.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("assign room id: %w", err)
		}
		snapshot.ID = int64(next) + 1
	}

	bytes, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("marshal room %q: %w", snapshot.Name, err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(roomKey(snapshot.Name), bytes)
	})
	if err != nil {
		return 0, err
	}

	r.log.Debug("room saved", "room", snapshot.Name, "id", snapshot.ID)
	return snapshot.ID, nil
}

func (r *RoomRepository) Load(ctx context.Context, name string) (contract.RoomSnapshot, error) {
	var snapshot contract.RoomSnapshot
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(name))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: room %q", errors.ErrNotFound, name)
			}
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &snapshot)
		})
	})
	if err != nil {
		return contract.RoomSnapshot{}, err
	}
	return snapshot, nil
}

func (r *RoomRepository) Delete(ctx context.Context, name string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(roomKey(name))
	})
}

// List returns every persisted room snapshot, used by service discovery
// and the operator CLI.
func (r *RoomRepository) List(ctx context.Context) ([]contract.RoomSnapshot, error) {
	var snapshots []contract.RoomSnapshot
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		prefix := []byte("room:")
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var snapshot contract.RoomSnapshot
				if err := json.Unmarshal(value, &snapshot); err != nil {
					return err
				}
				snapshots = append(snapshots, snapshot)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return snapshots, err
}
