package encryption

import (
	"context"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/security"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/vault"
)

// decryptFn is indirected so tests can exercise sweep bookkeeping
// without real key material.
var decryptFn = security.DecryptBody

// sweepItem is one encrypted row to retry. Exactly one of msg/sub is set.
type sweepItem struct {
	msg *models.Message
	sub *models.Subscription
}

// startSweep launches the decrypt sweep for the session's server:
// every message/subscription still flagged encrypted-but-undecrypted is
// retried; successes replace the body and clear the flag, failures stay
// pending for a future pass. An already-running sweep is replaced.
func (m *Manager) startSweep() {
	m.haltSweep()

	m.mu.Lock()
	serverID := m.serverID
	ctx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel
	m.mu.Unlock()

	pub, pubOK := m.vault.Get(serverID, vault.KeyPublic)
	priv, privOK := m.vault.Get(serverID, vault.KeyPrivate)
	if !pubOK || !privOK {
		logger.Debug("sweep_skipped_no_keys", "server", serverID)
		cancel()
		return
	}

	items := make(chan sweepItem)
	for i := 0; i < m.sweepWorkers; i++ {
		m.sweepWG.Add(1)
		go m.sweepWorker(ctx, items, pub, priv)
	}

	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		defer close(items)

		msgs, err := m.store.ListPendingDecrypt(serverID, 0)
		if err != nil {
			logger.Warn("sweep_list_messages_failed", "server", serverID, "error", err)
		}
		subs, err := m.store.ListSubscriptionsPendingDecrypt(serverID, 0)
		if err != nil {
			logger.Warn("sweep_list_subscriptions_failed", "server", serverID, "error", err)
		}
		logger.Info("sweep_started", "server", serverID, "messages", len(msgs), "subscriptions", len(subs))

		for i := range msgs {
			select {
			case items <- sweepItem{msg: &msgs[i]}:
			case <-ctx.Done():
				return
			}
		}
		for i := range subs {
			select {
			case items <- sweepItem{sub: &subs[i]}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) sweepWorker(ctx context.Context, items <-chan sweepItem, pub, priv string) {
	defer m.sweepWG.Done()
	for {
		select {
		case it, ok := <-items:
			if !ok {
				return
			}
			m.sweepOne(it, pub, priv)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweepOne(it sweepItem, pub, priv string) {
	switch {
	case it.msg != nil:
		body, err := m.decryptBody(it.msg.Body, pub, priv)
		if err != nil {
			telemetry.SweepFailures.Inc()
			logger.Debug("sweep_message_failed", "id", it.msg.ID, "error", err)
			return
		}
		it.msg.Body = body
		it.msg.E2E = models.E2EStatusDone
		it.msg.UpdatedAt = time.Now().UTC().UnixNano()
		if err := m.store.PutMessage(it.msg); err != nil {
			logger.Warn("sweep_message_write_failed", "id", it.msg.ID, "error", err)
			return
		}
		telemetry.SweepDecrypted.Inc()

	case it.sub != nil:
		body, err := m.decryptBody(it.sub.LastMessage, pub, priv)
		if err != nil {
			telemetry.SweepFailures.Inc()
			logger.Debug("sweep_subscription_failed", "id", it.sub.ID, "error", err)
			return
		}
		it.sub.LastMessage = body
		it.sub.E2E = models.E2EStatusDone
		it.sub.UpdatedAt = time.Now().UTC().UnixNano()
		if err := m.store.PutSubscription(it.sub); err != nil {
			logger.Warn("sweep_subscription_write_failed", "id", it.sub.ID, "error", err)
			return
		}
		telemetry.SweepDecrypted.Inc()
	}
}

func (m *Manager) decryptBody(cipher, pub, priv string) (string, error) {
	return decryptFn(pub, priv, cipher)
}

// haltSweep cancels any running sweep and waits for its workers.
func (m *Manager) haltSweep() {
	m.mu.Lock()
	cancel := m.sweepCancel
	m.sweepCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.sweepWG.Wait()
}

// WaitSweep blocks until the current sweep drains. Test hook.
func (m *Manager) WaitSweep() { m.sweepWG.Wait() }
