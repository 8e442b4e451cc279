// Package vault is the process-wide secure key-value store for cached
// E2E key material. Entries are namespaced per server and encrypted at
// rest with AES-256-GCM under a master key; without a master key the
// vault runs in cleartext dev mode.
package vault

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/security"
)

// Recognized key names, combined with a server id as "<server>-<name>".
const (
	KeyPublic         = "E2E_PUBLIC_KEY"
	KeyPrivate        = "E2E_PRIVATE_KEY"
	KeyRandomPassword = "E2E_RANDOM_PASSWORD_KEY"
)

// Vault holds the in-memory entry map and persists it to a single
// encrypted file with atomic replace-on-write.
type Vault struct {
	mu      sync.RWMutex
	entries map[string]string

	path      string
	masterKey []byte // nil means cleartext persistence
}

// Open loads (or creates) a vault file at path. masterKeyHex, when
// non-empty, must decode to 32 bytes.
func Open(path, masterKeyHex string) (*Vault, error) {
	v := &Vault{entries: map[string]string{}, path: path}
	if masterKeyHex != "" {
		key, err := hex.DecodeString(masterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid vault master key: %w", err)
		}
		if len(key) != 32 {
			return nil, errors.New("vault master key must be 32 bytes (AES-256)")
		}
		v.masterKey = key
	} else {
		logger.Warn("vault_running_cleartext", "path", path)
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func entryKey(serverID, name string) string { return serverID + "-" + name }

// Get returns the entry for a server-scoped key name.
func (v *Vault) Get(serverID, name string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.entries[entryKey(serverID, name)]
	return val, ok
}

// Set stores an entry and persists the vault.
func (v *Vault) Set(serverID, name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[entryKey(serverID, name)] = value
	return v.persistLocked()
}

// Clear removes an entry and persists the vault. Clearing an absent
// entry is a no-op.
func (v *Vault) Clear(serverID, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[entryKey(serverID, name)]; !ok {
		return nil
	}
	delete(v.entries, entryKey(serverID, name))
	return v.persistLocked()
}

func (v *Vault) load() error {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read vault file: %w", err)
	}
	if v.masterKey != nil {
		raw, err = security.DecryptWithKey(v.masterKey, raw)
		if err != nil {
			return fmt.Errorf("failed to decrypt vault file: %w", err)
		}
	}
	if err := json.Unmarshal(raw, &v.entries); err != nil {
		return fmt.Errorf("corrupt vault file: %w", err)
	}
	logger.Info("vault_loaded", "path", v.path, "entries", len(v.entries))
	return nil
}

func (v *Vault) persistLocked() error {
	data, err := json.Marshal(v.entries)
	if err != nil {
		return err
	}
	if v.masterKey != nil {
		data, err = security.EncryptWithKey(v.masterKey, data)
		if err != nil {
			return err
		}
	}
	if dir := filepath.Dir(v.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return err
	}
	return nil
}
