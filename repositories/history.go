//go:generate go run go.uber.org/mock/mockgen -source=history.go -destination=../mocks/mock_history_repository.go -package=mocks
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"muc-lab/domain/muc"
)

type IHistoryRepository interface {
	Append(ctx context.Context, message muc.Message) error
	Replay(ctx context.Context, room string, request muc.HistoryRequest) ([]muc.Message, error)
	Search(ctx context.Context, room, query string, limit int) ([]muc.Message, error)
}

// HistoryRepository stores the room transcript in BadgerDB and mirrors it
// into a Bluge index for transcript search.
//
// The key is formatted as "hist:{room}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using the message UUID as a collision
//     disconnector if two messages arrive at the same nanosecond.
type HistoryRepository struct {
	db          *badger.DB
	index       *bluge.Writer
	log         *slog.Logger
	replayLimit *int
}

func NewHistoryRepository(db *badger.DB, index *bluge.Writer, log *slog.Logger, replayLimit *int) *HistoryRepository {
	return &HistoryRepository{db: db, index: index, log: log, replayLimit: replayLimit}
}

// DiskMessage is the storable form of a room message.
type DiskMessage struct {
	ID       uuid.UUID `json:"id"`
	Room     string    `json:"room"`
	Nickname string    `json:"nickname"`
	From     string    `json:"from"`
	To       string    `json:"to,omitempty"`
	Subject  string    `json:"subject,omitempty"`
	Body     string    `json:"body,omitempty"`
	At       time.Time `json:"at"`
}

func historyKey(message DiskMessage) string {
	return fmt.Sprintf("hist:%s:%019d:%s", message.Room, message.At.UnixNano(), message.ID)
}

func (h *HistoryRepository) Append(ctx context.Context, message muc.Message) error {
	disk := fromMessage(message)
	bytes, err := json.Marshal(disk)
	if err != nil {
		return err
	}
	key := historyKey(disk)
	err = h.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
	if err != nil {
		return err
	}

	if h.index != nil && disk.Body != "" {
		doc := bluge.NewDocument(key).
			AddField(bluge.NewKeywordField("room", disk.Room)).
			AddField(bluge.NewTextField("body", disk.Body)).
			AddField(bluge.NewStoredOnlyField("raw", bytes))
		if err := h.index.Update(doc.ID(), doc); err != nil {
			// The transcript on disk is authoritative; a lagging index only
			// degrades search.
			h.log.Warn("history index update failed", "room", disk.Room, "err", err)
		}
	}
	return nil
}

// Replay returns the transcript of a room oldest-first, trimmed to the
// repository's replay limit and then to the occupant's history request.
func (h *HistoryRepository) Replay(ctx context.Context, room string, request muc.HistoryRequest) ([]muc.Message, error) {
	var diskMessages []DiskMessage
	err := h.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("hist:%s:", room))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Newest-first scan so the replay limit keeps the most recent
		// messages; the result is flipped back before returning.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if h.replayLimit != nil && len(diskMessages) == *h.replayLimit {
				h.log.Debug(fmt.Sprintf("Replay limit of %d messages reached", *h.replayLimit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var disk DiskMessage
				if err := json.Unmarshal(value, &disk); err != nil {
					return err
				}
				diskMessages = append(diskMessages, disk)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Flip to oldest-first.
	for i, j := 0, len(diskMessages)-1; i < j; i, j = i+1, j-1 {
		diskMessages[i], diskMessages[j] = diskMessages[j], diskMessages[i]
	}

	messages, err := toMessages(diskMessages)
	if err != nil {
		return nil, err
	}
	return request.Apply(messages, time.Now()), nil
}

// Search runs a full-text query over the room transcript.
func (h *HistoryRepository) Search(ctx context.Context, room, query string, limit int) ([]muc.Message, error) {
	if h.index == nil {
		return nil, nil
	}
	reader, err := h.index.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	match := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(room).SetField("room")).
		AddMust(bluge.NewMatchQuery(query).SetField("body"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, match))
	if err != nil {
		return nil, err
	}

	var diskMessages []DiskMessage
	for {
		next, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		var disk DiskMessage
		err = next.VisitStoredFields(func(field string, value []byte) bool {
			if field == "raw" {
				if err := json.Unmarshal(value, &disk); err != nil {
					h.log.Warn("corrupt history index entry", "err", err)
					return false
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if disk.ID != uuid.Nil {
			diskMessages = append(diskMessages, disk)
		}
	}
	return toMessages(diskMessages)
}

func fromMessage(message muc.Message) DiskMessage {
	return DiskMessage{
		ID:       message.ID,
		Room:     message.Room,
		Nickname: message.Nickname,
		From:     message.From.String(),
		To:       message.To,
		Subject:  message.Subject,
		Body:     message.Body,
		At:       message.SentAt.UTC(),
	}
}

func toMessages(diskMessages []DiskMessage) ([]muc.Message, error) {
	var firstErr error
	messages := lo.Map(diskMessages, func(disk DiskMessage, _ int) muc.Message {
		message := muc.Message{
			ID:       disk.ID,
			Room:     disk.Room,
			Nickname: disk.Nickname,
			To:       disk.To,
			Subject:  disk.Subject,
			Body:     disk.Body,
			SentAt:   disk.At,
		}
		if disk.From != "" {
			from, err := muc.ParseJID(disk.From)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			message.From = from
		}
		return message
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return messages, nil
}
