// Package encryption owns the per-server E2E key lifecycle: onboarding
// (create, recover, persist), the banner signal consumed by the UI, and
// the decrypt sweep over previously unreadable rows.
package encryption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/gateway"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/security"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/vault"
)

// Gateway is the slice of the remote API the manager needs.
type Gateway interface {
	ServerInfo(ctx context.Context) (gateway.ServerInfo, error)
	FetchMyKeys(ctx context.Context) (gateway.Keys, error)
	StoreMyKeys(ctx context.Context, publicKey, wrappedPrivateKey string) error
}

// ErrNotReady is returned when encryption is requested before usable
// keys exist for the server.
var ErrNotReady = errors.New("encryption: no usable keys for server")

// Manager runs the key-lifecycle state machine for one server session.
// All failures during Init are swallowed and logged: most causes are
// transient and Init is safely re-entrant. DecodeKeyWithPassword is the
// one loud path.
type Manager struct {
	store *store.Store
	vault *vault.Vault
	gw    Gateway

	mu       sync.Mutex
	state    State
	banner   Banner
	serverID string
	userID   string

	// resolved stages key material for the next EffectPersistKeys.
	resolved *security.KeyPair

	onBanner func(Banner)

	sweepCancel  context.CancelFunc
	sweepWG      sync.WaitGroup
	sweepWorkers int
}

// NewManager wires a manager against its leaves.
func NewManager(st *store.Store, v *vault.Vault, gw Gateway, sweepWorkers int) *Manager {
	if sweepWorkers <= 0 {
		sweepWorkers = 2
	}
	return &Manager{store: st, vault: v, gw: gw, sweepWorkers: sweepWorkers}
}

// SetBannerListener registers a callback invoked on banner changes.
func (m *Manager) SetBannerListener(fn func(Banner)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBanner = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Banner returns the active banner signal.
func (m *Manager) Banner() Banner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banner
}

// Ready reports whether a usable key pair exists for the session's
// server, independent of any pending banner.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	serverID := m.serverID
	m.mu.Unlock()
	if serverID == "" {
		return false
	}
	_, pubOK := m.vault.Get(serverID, vault.KeyPublic)
	_, privOK := m.vault.Get(serverID, vault.KeyPrivate)
	return pubOK && privOK
}

// Init runs the initialization pass for a server session. It tears down
// any previous session first and never returns an error: partial
// progress is left in place and a later Init re-derives everything.
func (m *Manager) Init(ctx context.Context, serverID, userID string) {
	m.Stop()

	m.mu.Lock()
	m.serverID = serverID
	m.userID = userID
	m.mu.Unlock()

	m.apply(ctx, EvInitStarted{})

	info, err := m.gw.ServerInfo(ctx)
	if err != nil {
		logger.Warn("encryption_server_info_failed", "server", serverID, "error", err)
		return
	}
	m.apply(ctx, EvServerSupport{Enabled: info.E2EEnabled})
	if !info.E2EEnabled {
		logger.Info("encryption_disabled_on_server", "server", serverID)
		return
	}

	localPub, _ := m.vault.Get(serverID, vault.KeyPublic)
	localPriv, _ := m.vault.Get(serverID, vault.KeyPrivate)

	keys, err := m.gw.FetchMyKeys(ctx)
	if err != nil {
		logger.Warn("encryption_fetch_keys_failed", "server", serverID, "error", err)
		return
	}

	_, randomPending := m.vault.Get(serverID, vault.KeyRandomPassword)

	pub := localPub
	if pub == "" {
		pub = keys.PublicKey
	}

	m.mu.Lock()
	m.resolved = &security.KeyPair{Public: pub, Private: localPriv}
	m.mu.Unlock()

	m.apply(ctx, EvKeysResolved{
		LocalPrivate:          localPriv != "",
		ServerPrivate:         keys.PrivateKey != "",
		RandomPasswordPending: randomPending,
		PublicKeyAvailable:    pub != "",
	})
}

// DecodeKeyWithPassword fetches the server-held key material fresh,
// decodes the private key with the supplied password and, on success,
// persists the pair, re-runs the sweep and clears the banner. Every
// failure is returned to the caller: the user needs feedback to retry.
func (m *Manager) DecodeKeyWithPassword(ctx context.Context, password string) error {
	m.mu.Lock()
	serverID, userID := m.serverID, m.userID
	m.mu.Unlock()
	if serverID == "" {
		return errors.New("encryption: not initialized")
	}

	keys, err := m.gw.FetchMyKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch keys: %w", err)
	}
	if keys.PrivateKey == "" {
		return errors.New("server holds no private key for this user")
	}
	priv, err := security.UnwrapPrivateKey(keys.PrivateKey, password, userID)
	if err != nil {
		logger.Warn("encryption_decode_failed", "server", serverID, "error", err)
		return err
	}
	pub := keys.PublicKey
	if pub == "" {
		pub, _ = m.vault.Get(serverID, vault.KeyPublic)
	}

	m.mu.Lock()
	m.resolved = &security.KeyPair{Public: pub, Private: priv}
	m.mu.Unlock()

	m.apply(ctx, EvPasswordDecoded{})
	logger.AuditEvent("e2e_key_recovered", "server", serverID, "user", userID)
	return nil
}

// ConfirmPasswordSaved handles the user's confirmation that the
// recovery password is stored elsewhere.
func (m *Manager) ConfirmPasswordSaved() {
	m.apply(context.Background(), EvPasswordSaved{})
}

// RecoveryPassword returns the pending recovery password, if any, so
// the UI can display it until the user confirms saving it.
func (m *Manager) RecoveryPassword() (string, bool) {
	m.mu.Lock()
	serverID := m.serverID
	m.mu.Unlock()
	if serverID == "" {
		return "", false
	}
	return m.vault.Get(serverID, vault.KeyRandomPassword)
}

// Stop clears the banner and halts sweep workers. Idempotent; safe
// before any Init.
func (m *Manager) Stop() {
	m.apply(context.Background(), EvStop{})
}

// EncryptMessage produces the ciphertext wire body for a send. Called
// by the pipeline when a submit requested encryption.
func (m *Manager) EncryptMessage(body string) (string, error) {
	m.mu.Lock()
	serverID := m.serverID
	m.mu.Unlock()
	pub, ok := m.vault.Get(serverID, vault.KeyPublic)
	if !ok {
		return "", ErrNotReady
	}
	return security.EncryptBody(pub, body)
}

// apply feeds an event through Reduce and executes the resulting
// effects. State mutation happens under the lock; effects run outside
// it because they touch the store, vault and network.
func (m *Manager) apply(ctx context.Context, ev Event) {
	m.mu.Lock()
	next, effects := Reduce(m.state, ev)
	prev := m.state
	m.state = next
	m.mu.Unlock()
	if prev != next {
		logger.Debug("encryption_state_transition", "from", prev.String(), "to", next.String())
	}
	for _, eff := range effects {
		m.runEffect(ctx, eff)
	}
}

func (m *Manager) runEffect(ctx context.Context, eff Effect) {
	switch eff {
	case EffectClearBanner:
		m.setBanner(BannerNone)
	case EffectSetBannerRequestPassword:
		m.setBanner(BannerRequestPassword)
	case EffectSetBannerSavePassword:
		m.setBanner(BannerSavePassword)
	case EffectHaltWorkers:
		m.haltSweep()
	case EffectPersistKeys:
		if err := m.persistKeys(); err != nil {
			logger.Warn("encryption_persist_failed", "error", err)
		}
	case EffectCreateKeys:
		if err := m.createKeys(ctx); err != nil {
			logger.Warn("encryption_create_keys_failed", "error", err)
			return
		}
		m.apply(ctx, EvKeysCreated{})
	case EffectStartSweep:
		m.startSweep()
	case EffectClearRandomPassword:
		m.mu.Lock()
		serverID := m.serverID
		m.mu.Unlock()
		if err := m.vault.Clear(serverID, vault.KeyRandomPassword); err != nil {
			logger.Warn("encryption_clear_password_failed", "error", err)
		}
	}
}

func (m *Manager) setBanner(b Banner) {
	m.mu.Lock()
	changed := m.banner != b
	m.banner = b
	fn := m.onBanner
	m.mu.Unlock()
	if !changed {
		return
	}
	telemetry.BannerTransitions.WithLabelValues(b.String()).Inc()
	logger.Info("encryption_banner", "banner", b.String())
	if fn != nil {
		fn(b)
	}
}

// persistKeys writes the staged pair to the vault and mirrors it into
// the local store so encrypted history survives a vault cache loss.
func (m *Manager) persistKeys() error {
	m.mu.Lock()
	serverID := m.serverID
	kp := m.resolved
	m.mu.Unlock()
	if kp == nil || kp.Public == "" || kp.Private == "" {
		return errors.New("no resolved key pair to persist")
	}
	if err := m.vault.Set(serverID, vault.KeyPublic, kp.Public); err != nil {
		return err
	}
	if err := m.vault.Set(serverID, vault.KeyPrivate, kp.Private); err != nil {
		return err
	}
	if err := m.store.PutKeyRecord(&models.KeyRecord{
		ServerID:   serverID,
		PublicKey:  kp.Public,
		PrivateKey: kp.Private,
		UpdatedAt:  time.Now().UTC().UnixNano(),
	}); err != nil {
		return err
	}
	logger.AuditEvent("e2e_keys_persisted", "server", serverID)
	return nil
}

// createKeys mints a fresh pair, protects the private key with a random
// recovery password, uploads the wrapped blob and caches everything.
func (m *Manager) createKeys(ctx context.Context) error {
	m.mu.Lock()
	serverID, userID := m.serverID, m.userID
	m.mu.Unlock()

	kp, err := security.GenerateKeyPair()
	if err != nil {
		return err
	}
	password, err := security.NewRecoveryPassword()
	if err != nil {
		return err
	}
	wrapped, err := security.WrapPrivateKey(kp.Private, password, userID)
	if err != nil {
		return err
	}
	if err := m.gw.StoreMyKeys(ctx, kp.Public, wrapped); err != nil {
		return fmt.Errorf("failed to upload keys: %w", err)
	}
	if err := m.vault.Set(serverID, vault.KeyPublic, kp.Public); err != nil {
		return err
	}
	if err := m.vault.Set(serverID, vault.KeyPrivate, kp.Private); err != nil {
		return err
	}
	if err := m.vault.Set(serverID, vault.KeyRandomPassword, password); err != nil {
		return err
	}
	m.mu.Lock()
	m.resolved = kp
	m.mu.Unlock()
	if err := m.store.PutKeyRecord(&models.KeyRecord{
		ServerID:   serverID,
		PublicKey:  kp.Public,
		PrivateKey: kp.Private,
		UpdatedAt:  time.Now().UTC().UnixNano(),
	}); err != nil {
		logger.Warn("encryption_key_record_write_failed", "error", err)
	}
	logger.AuditEvent("e2e_keys_created", "server", serverID, "user", userID)
	return nil
}
