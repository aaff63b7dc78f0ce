package events

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"tixledger/core/types"
)

var bucketEvents = []byte("events")

// payloadCarrier is implemented by events that expose a structured payload in
// addition to their type string.
type payloadCarrier interface {
	Event() *types.Event
}

// Journal is an append-only event log backed by BoltDB. It satisfies the
// Emitter interface so the ticketing engine can stream committed events to it
// without knowing about persistence. Journal failures are logged and dropped;
// a missed journal entry must never un-commit ledger state.
type Journal struct {
	db     *bolt.DB
	logger *slog.Logger
}

// JournalEntry is the persisted representation of a single emitted event.
type JournalEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	RecordedAt int64             `json:"recordedAt"`
}

// OpenJournal initialises (and migrates) the BoltDB-backed journal.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close releases the underlying Bolt database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements the Emitter interface.
func (j *Journal) Emit(evt Event) {
	if j == nil || j.db == nil || evt == nil {
		return
	}
	entry := JournalEntry{Type: evt.EventType(), RecordedAt: time.Now().Unix()}
	if carrier, ok := evt.(payloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			entry.Attributes = payload.Attributes
		}
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.Sequence = seq
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, encoded)
	})
	if err != nil {
		j.logger.Error("event journal append failed", slog.String("type", entry.Type), slog.Any("error", err))
	}
}

// Recent returns up to limit journal entries, newest first.
func (j *Journal) Recent(limit int) ([]JournalEntry, error) {
	if j == nil || j.db == nil || limit <= 0 {
		return nil, nil
	}
	var entries []JournalEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for k, v := cursor.Last(); k != nil && len(entries) < limit; k, v = cursor.Prev() {
			var entry JournalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
