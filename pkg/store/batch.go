package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Batch stages multi-record writes that must commit atomically, such as
// a message create together with its thread bookkeeping and draft
// clear, or a status reconciliation across a Message/ThreadMessage pair.
type Batch struct {
	s   *Store
	b   *pebble.Batch
	err error
}

// NewBatch returns an empty batch against the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{s: s, b: s.db.NewBatch()}
}

func (b *Batch) stage(key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("failed to marshal row for %s: %w", key, err)
		return
	}
	if err := b.b.Set(key, data, nil); err != nil {
		b.err = err
	}
}

// SetMessage stages a message row.
func (b *Batch) SetMessage(m *models.Message) { b.stage(messageKey(m.ID), m) }

// SetThreadMessage stages a ThreadMessage row plus its listing index.
func (b *Batch) SetThreadMessage(tm *models.ThreadMessage) {
	b.stage(threadMessageKey(tm.ID), tm)
	if b.err == nil {
		if err := b.b.Set(threadIndexKey(tm.ThreadID, tm.ID), []byte(tm.ID), nil); err != nil {
			b.err = err
		}
	}
}

// SetThread stages a thread header row.
func (b *Batch) SetThread(th *models.Thread) { b.stage(threadKey(th.ID), th) }

// SetSubscription stages a subscription row.
func (b *Batch) SetSubscription(sub *models.Subscription) { b.stage(subscriptionKey(sub.ID), sub) }

// SetKeyRecord stages a per-server key record.
func (b *Batch) SetKeyRecord(kr *models.KeyRecord) { b.stage(keyRecordKey(kr.ServerID), kr) }

// Len returns the number of staged operations.
func (b *Batch) Len() int { return int(b.b.Count()) }

// Commit atomically applies all staged writes. Commits are serialized
// across the store so transitions touching the same rows keep their
// issue order. A staging error aborts the whole batch.
func (b *Batch) Commit() error {
	defer b.b.Close()
	if b.err != nil {
		logger.Error("batch_stage_failed", "error", b.err)
		return b.err
	}
	b.s.commitMu.Lock()
	defer b.s.commitMu.Unlock()
	if err := b.b.Commit(pebble.Sync); err != nil {
		logger.Error("batch_commit_failed", "ops", b.b.Count(), "error", err)
		return err
	}
	return nil
}
