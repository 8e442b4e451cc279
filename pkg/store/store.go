// Package store is the embedded local record store backing the send
// pipeline and the encryption manager. Rows are JSON blobs in pebble
// under typed key namespaces; multi-record writes go through Batch so
// they commit atomically.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Key namespaces. All rows are keyed by string ids.
const (
	prefixMessage       = "msg:"
	prefixThreadMessage = "threadmsg:"
	prefixThreadIndex   = "threadidx:"
	prefixThread        = "thread:"
	prefixSubscription  = "sub:"
	prefixKeyRecord     = "key:"
)

// ErrNotFound is returned for point lookups that miss.
var ErrNotFound = errors.New("store: not found")

// Store owns a pebble handle. Batch commits that may touch overlapping
// rows are serialized through commitMu so status transitions for a
// given message id are never reordered by the storage layer.
type Store struct {
	db   *pebble.DB
	path string

	commitMu sync.Mutex
}

// Open opens (or creates) a pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying pebble DB.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("pebble_closed", "path", s.path)
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

func messageKey(id string) []byte       { return []byte(prefixMessage + id) }
func threadMessageKey(id string) []byte { return []byte(prefixThreadMessage + id) }
func threadKey(id string) []byte        { return []byte(prefixThread + id) }
func subscriptionKey(id string) []byte  { return []byte(prefixSubscription + id) }
func keyRecordKey(server string) []byte { return []byte(prefixKeyRecord + server) }

func threadIndexKey(threadID, msgID string) []byte {
	return []byte(prefixThreadIndex + threadID + ":" + msgID)
}

func (s *Store) get(key []byte, out any) error {
	if s.db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("invalid row JSON at %s: %w", key, err)
	}
	return nil
}

func (s *Store) set(key []byte, v any) error {
	if s.db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("store_set_failed", "key", string(key), "error", err)
		return err
	}
	return nil
}

// GetMessage returns the message with the given id.
func (s *Store) GetMessage(id string) (*models.Message, error) {
	var m models.Message
	if err := s.get(messageKey(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetThreadMessage returns the per-thread projection row for a reply id.
func (s *Store) GetThreadMessage(id string) (*models.ThreadMessage, error) {
	var tm models.ThreadMessage
	if err := s.get(threadMessageKey(id), &tm); err != nil {
		return nil, err
	}
	return &tm, nil
}

// GetThread returns the thread header for a parent message id.
func (s *Store) GetThread(id string) (*models.Thread, error) {
	var th models.Thread
	if err := s.get(threadKey(id), &th); err != nil {
		return nil, err
	}
	return &th, nil
}

// GetSubscription returns the subscription (room) with the given id.
func (s *Store) GetSubscription(id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.get(subscriptionKey(id), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetKeyRecord returns the persisted key material for a server.
func (s *Store) GetKeyRecord(serverID string) (*models.KeyRecord, error) {
	var kr models.KeyRecord
	if err := s.get(keyRecordKey(serverID), &kr); err != nil {
		return nil, err
	}
	return &kr, nil
}

// PutMessage writes a single message row in place. The decrypt sweep
// uses this to replace ciphertext bodies; everything else goes through
// Batch.
func (s *Store) PutMessage(m *models.Message) error {
	return s.set(messageKey(m.ID), m)
}

// PutSubscription writes a single subscription row in place.
func (s *Store) PutSubscription(sub *models.Subscription) error {
	return s.set(subscriptionKey(sub.ID), sub)
}

// PutKeyRecord persists key material for a server.
func (s *Store) PutKeyRecord(kr *models.KeyRecord) error {
	return s.set(keyRecordKey(kr.ServerID), kr)
}

// HasMessage reports whether a message id already exists.
func (s *Store) HasMessage(id string) (bool, error) {
	_, err := s.GetMessage(id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ListThreadMessages returns the ThreadMessage rows of a thread in
// insertion order, via the threadidx secondary index.
func (s *Store) ListThreadMessages(threadID string) ([]models.ThreadMessage, error) {
	if s.db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(prefixThreadIndex + threadID + ":")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.ThreadMessage
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		msgID := string(append([]byte(nil), iter.Value()...))
		tm, err := s.GetThreadMessage(msgID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *tm)
	}
	return out, iter.Error()
}

// ListMessagesByStatus scans message rows with the given status, up to
// limit (<=0 means no limit). Used by the reconciliation runner.
func (s *Store) ListMessagesByStatus(status models.MessageStatus, limit int) ([]models.Message, error) {
	var out []models.Message
	err := s.scanMessages(func(m *models.Message) bool {
		if m.Status == status {
			out = append(out, *m)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// ListPendingDecrypt returns messages flagged encrypted-but-undecrypted
// for the server, up to limit.
func (s *Store) ListPendingDecrypt(serverID string, limit int) ([]models.Message, error) {
	var out []models.Message
	err := s.scanMessages(func(m *models.Message) bool {
		if m.EncryptionType == models.E2EType && m.E2E == models.E2EStatusPending && m.ServerID == serverID {
			out = append(out, *m)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// ListSubscriptionsPendingDecrypt returns subscriptions whose last
// message is still ciphertext for the server.
func (s *Store) ListSubscriptionsPendingDecrypt(serverID string, limit int) ([]models.Subscription, error) {
	if s.db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(prefixSubscription)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Subscription
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var sub models.Subscription
		if err := json.Unmarshal(iter.Value(), &sub); err != nil {
			logger.Warn("subscription_row_invalid_json", "key", string(iter.Key()), "error", err)
			continue
		}
		if sub.EncryptionType == models.E2EType && sub.E2E == models.E2EStatusPending && sub.ServerID == serverID {
			out = append(out, sub)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

func (s *Store) scanMessages(fn func(*models.Message) bool) error {
	if s.db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(prefixMessage)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("message_row_invalid_json", "key", string(iter.Key()), "error", err)
			continue
		}
		if !fn(&m) {
			break
		}
	}
	return iter.Error()
}
