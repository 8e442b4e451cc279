// Package pipeline implements the local-first message send path:
// optimistic TEMP rows with thread bookkeeping committed atomically,
// asynchronous delivery through the remote gateway, and status
// reconciliation back into the local store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/gateway"
	"chatsync/pkg/ids"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
)

// SendGateway is the slice of the remote API the pipeline needs.
type SendGateway interface {
	SendMessage(ctx context.Context, msg gateway.OutboundMessage) (gateway.SendResult, error)
}

// Encrypter produces the ciphertext wire body for sends that requested
// encryption. Implemented by the encryption manager.
type Encrypter interface {
	EncryptMessage(body string) (string, error)
}

// Pipeline owns all writes to message, thread and subscription rows.
type Pipeline struct {
	store    *store.Store
	gw       SendGateway
	enc      Encrypter
	serverID string

	now func() time.Time

	// syncDeliver makes Submit run the deliver phase inline. Tests only.
	syncDeliver bool
	inflight    sync.WaitGroup
}

// New wires a pipeline. enc may be nil when the server has no E2E
// support; encrypted submits then fail into ERROR without a network
// call.
func New(st *store.Store, gw SendGateway, enc Encrypter, serverID string) *Pipeline {
	return &Pipeline{store: st, gw: gw, enc: enc, serverID: serverID, now: time.Now}
}

// Submit creates the local TEMP rows for a new message and schedules
// delivery. It returns once the local batch commit completes, before
// the network call resolves, so the UI can render the TEMP message
// immediately. Thread bookkeeping is best-effort: its failures are
// logged and skipped without aborting the send.
func (p *Pipeline) Submit(ctx context.Context, roomID, body, threadParentID string, author models.User, wantsEncryption bool) (*models.Message, error) {
	id := ids.New()
	if exists, err := p.store.HasMessage(id); err == nil && exists {
		// Ids are the addressing slots for status updates; a collision
		// would corrupt another message's lifecycle.
		logger.Error("message_id_collision", "id", id)
		return nil, fmt.Errorf("pipeline: generated id %q collides with an existing message", id)
	}
	if author.ID == "" {
		author.ID = "1"
	}
	now := p.now().UTC().UnixNano()

	batch := p.store.NewBatch()

	parent := p.stageThreadBookkeeping(batch, roomID, threadParentID, id, body, author, now, wantsEncryption)

	msg := models.Message{
		ID:             id,
		SubscriptionID: roomID,
		Body:           body,
		Timestamp:      now,
		UpdatedAt:      now,
		Status:         models.StatusTemp,
		Author:         author,
	}
	if parent != nil {
		msg.ThreadID = threadParentID
		msg.ThreadLastMessageTime = now
		msg.ThreadRootBody = parent.Body
	}
	if wantsEncryption {
		msg.EncryptionType = models.E2EType
		msg.E2E = models.E2EStatusDone
		msg.ServerID = p.serverID
	}
	batch.SetMessage(&msg)

	p.stageDraftClear(batch, roomID, now)

	if err := batch.Commit(); err != nil {
		logger.Error("submit_commit_failed", "id", id, "room", roomID, "error", err)
		return nil, err
	}
	telemetry.MessagesSubmitted.Inc()
	logger.Debug("message_submitted", "id", id, "room", roomID, "thread", threadParentID)

	spec := deliverSpec{
		id:        id,
		roomID:    roomID,
		body:      body,
		threadID:  msg.ThreadID,
		encrypted: wantsEncryption,
	}
	if p.syncDeliver {
		p.deliver(context.WithoutCancel(ctx), spec)
	} else {
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			// Cancellation is by abandonment only: the status write for
			// this id must still land even if the caller moved on.
			p.deliver(context.WithoutCancel(ctx), spec)
		}()
	}
	return &msg, nil
}

// stageThreadBookkeeping stages the parent bump, the once-only thread
// header and the ThreadMessage TEMP row. Returns the parent message
// when the lookup succeeded, nil otherwise (soft-fail).
func (p *Pipeline) stageThreadBookkeeping(batch *store.Batch, roomID, threadParentID, msgID, body string, author models.User, now int64, encrypted bool) *models.Message {
	if threadParentID == "" {
		return nil
	}
	parent, err := p.store.GetMessage(threadParentID)
	if err != nil {
		telemetry.ThreadBookkeepingSkips.Inc()
		logger.Warn("thread_parent_lookup_failed", "parent", threadParentID, "outcome", "skipped", "error", err)
		return nil
	}

	parent.ThreadLastMessageTime = now
	parent.ThreadReplyCount++
	parent.UpdatedAt = now
	batch.SetMessage(parent)

	if _, err := p.store.GetThread(threadParentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			header := models.Thread{
				ID:             threadParentID,
				SubscriptionID: roomID,
				Body:           parent.Body,
				Author:         parent.Author,
				Timestamp:      parent.Timestamp,
				UpdatedAt:      now,
				// The parent was already delivered when the thread forms.
				Status:          models.StatusSent,
				LastMessageTime: now,
				ReplyCount:      parent.ThreadReplyCount,
			}
			if encrypted {
				header.EncryptionType = models.E2EType
				header.E2E = models.E2EStatusDone
			}
			batch.SetThread(&header)
		} else {
			logger.Warn("thread_header_lookup_failed", "thread", threadParentID, "outcome", "skipped", "error", err)
		}
	}

	tm := models.ThreadMessage{
		ID:             msgID,
		ThreadID:       threadParentID,
		SubscriptionID: roomID,
		Body:           body,
		Timestamp:      now,
		UpdatedAt:      now,
		Status:         models.StatusTemp,
		Author:         author,
	}
	if encrypted {
		tm.EncryptionType = models.E2EType
		tm.E2E = models.E2EStatusDone
	}
	batch.SetThreadMessage(&tm)
	return parent
}

// stageDraftClear clears the room draft when one is set. Lookup
// failures are soft.
func (p *Pipeline) stageDraftClear(batch *store.Batch, roomID string, now int64) {
	sub, err := p.store.GetSubscription(roomID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("draft_lookup_failed", "room", roomID, "outcome", "skipped", "error", err)
		}
		return
	}
	if sub.DraftMessage == "" {
		return
	}
	sub.DraftMessage = ""
	sub.UpdatedAt = now
	batch.SetSubscription(sub)
}

type deliverSpec struct {
	id        string
	roomID    string
	body      string
	threadID  string
	encrypted bool
}

// deliver runs the network phase and issues the single TEMP→{SENT|ERROR}
// transition for the message id.
func (p *Pipeline) deliver(ctx context.Context, spec deliverSpec) {
	out := gateway.OutboundMessage{
		ID:       spec.id,
		RoomID:   spec.roomID,
		Body:     spec.body,
		ThreadID: spec.threadID,
	}
	if spec.encrypted {
		if p.enc == nil {
			logger.Warn("deliver_encryption_unavailable", "id", spec.id)
			telemetry.DeliveryErrors.WithLabelValues("encryption").Inc()
			p.ReconcileStatus(spec.id, spec.threadID, models.StatusError, nil)
			return
		}
		cipher, err := p.enc.EncryptMessage(spec.body)
		if err != nil {
			logger.Warn("deliver_encrypt_failed", "id", spec.id, "error", err)
			telemetry.DeliveryErrors.WithLabelValues("encryption").Inc()
			p.ReconcileStatus(spec.id, spec.threadID, models.StatusError, nil)
			return
		}
		out.Body = cipher
		out.EncryptionType = models.E2EType
	}

	res, err := p.gw.SendMessage(ctx, out)
	if err != nil || !res.Success {
		if err != nil {
			logger.Warn("deliver_gateway_failed", "id", spec.id, "error", err)
		} else {
			logger.Warn("deliver_rejected", "id", spec.id)
		}
		telemetry.DeliveryErrors.WithLabelValues("gateway").Inc()
		p.ReconcileStatus(spec.id, spec.threadID, models.StatusError, nil)
		return
	}
	telemetry.MessagesDelivered.Inc()
	p.ReconcileStatus(spec.id, spec.threadID, models.StatusSent, res.Message)
}

// ReconcileStatus atomically moves the Message row and, when the
// message is a thread reply, its mirrored ThreadMessage row to the new
// status, optionally overlaying the server-derived mentions/channels.
// A commit failure leaves the prior status intact and is swallowed: a
// later resend or reconciliation pass retries.
func (p *Pipeline) ReconcileStatus(messageID, threadParentID string, status models.MessageStatus, patch *gateway.ServerMessage) {
	msg, err := p.store.GetMessage(messageID)
	if err != nil {
		logger.Warn("reconcile_message_lookup_failed", "id", messageID, "error", err)
		return
	}
	now := p.now().UTC().UnixNano()
	msg.Status = status
	msg.UpdatedAt = now
	if patch != nil {
		msg.Mentions = patch.Mentions
		msg.Channels = patch.Channels
	}

	batch := p.store.NewBatch()
	batch.SetMessage(msg)

	if threadParentID != "" {
		tm, err := p.store.GetThreadMessage(messageID)
		if err != nil {
			logger.Warn("reconcile_thread_message_lookup_failed", "id", messageID, "error", err)
		} else {
			tm.Status = status
			tm.UpdatedAt = now
			if patch != nil {
				tm.Mentions = patch.Mentions
				tm.Channels = patch.Channels
			}
			batch.SetThreadMessage(tm)
		}
	}

	if err := batch.Commit(); err != nil {
		logger.Warn("reconcile_commit_failed", "id", messageID, "status", string(status), "error", err)
	}
}

// Resend flips an ERROR message back to TEMP and re-enters the deliver
// phase. The only permitted non-monotonic status transition.
func (p *Pipeline) Resend(ctx context.Context, messageID string) error {
	msg, err := p.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg.Status != models.StatusError {
		return fmt.Errorf("pipeline: message %s is not in error status", messageID)
	}
	p.ReconcileStatus(messageID, msg.ThreadID, models.StatusTemp, nil)

	spec := deliverSpec{
		id:        messageID,
		roomID:    msg.SubscriptionID,
		body:      msg.Body,
		threadID:  msg.ThreadID,
		encrypted: msg.EncryptionType == models.E2EType,
	}
	if p.syncDeliver {
		p.deliver(context.WithoutCancel(ctx), spec)
		return nil
	}
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.deliver(context.WithoutCancel(ctx), spec)
	}()
	return nil
}

// Wait blocks until in-flight deliveries drain. Shutdown and tests.
func (p *Pipeline) Wait() { p.inflight.Wait() }
