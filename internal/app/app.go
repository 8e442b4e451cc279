package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"chatsync/internal/reconcile"
	"chatsync/pkg/config"
	"chatsync/pkg/encryption"
	"chatsync/pkg/gateway"
	"chatsync/pkg/logger"
	"chatsync/pkg/pipeline"
	"chatsync/pkg/store"
	"chatsync/pkg/vault"
)

// App encapsulates the client components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store   *store.Store
	vault   *vault.Vault
	gw      *gateway.Client
	manager *encryption.Manager
	pipe    *pipeline.Pipeline

	reconcileStop context.CancelFunc
}

// New initializes resources that do not require a running context (DB,
// vault, gateway client, pipeline). It does not start the encryption
// manager, the reconcile runner or the HTTP server; call Run to start
// those and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	cfg := eff.Config
	if eff.DBPath == "" {
		return nil, fmt.Errorf("db path not configured")
	}

	st, err := store.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	vaultPath := cfg.Server.VaultPath
	if vaultPath == "" {
		vaultPath = eff.DBPath + "/vault/keys.enc"
	}
	masterHex, err := resolveMasterKey(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	v, err := vault.Open(vaultPath, masterHex)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open vault at %s: %w", vaultPath, err)
	}

	gw := gateway.New(gateway.Options{
		BaseURL:   cfg.Gateway.BaseURL,
		AuthToken: cfg.Gateway.AuthToken,
		UserID:    cfg.Gateway.UserID,
		Timeout:   cfg.Gateway.Timeout.Duration(),
		RateRPS:   cfg.Gateway.RateRPS,
		RateBurst: cfg.Gateway.RateBurst,
	})

	mgr := encryption.NewManager(st, v, gw, cfg.Encryption.SweepWorkers)
	pipe := pipeline.New(st, gw, mgr, cfg.Encryption.ServerID)

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		vault:     v,
		gw:        gw,
		manager:   mgr,
		pipe:      pipe,
	}, nil
}

// Run starts the encryption manager, the reconcile runner and the HTTP
// server, and blocks until ctx is canceled or a fatal server error
// occurs.
func (a *App) Run(ctx context.Context) error {
	cfg := a.eff.Config

	if dir := cfg.Server.AuditDir; dir != "" {
		if err := logger.AttachAuditFileSink(dir); err != nil {
			return fmt.Errorf("failed to attach audit sink: %w", err)
		}
	}

	if cfg.Encryption.ServerID != "" {
		a.manager.Init(ctx, cfg.Encryption.ServerID, cfg.Gateway.UserID)
	} else {
		logger.Info("encryption_disabled", "reason", "no server_id configured")
	}

	runner := reconcile.NewRunner(a.store, a.gw, a.pipe, cfg.Reconcile.BatchSize)
	stop, err := reconcile.Start(ctx, runner, reconcile.Config{
		Enabled:   cfg.Reconcile.Enabled,
		Cron:      cfg.Reconcile.Cron,
		BatchSize: cfg.Reconcile.BatchSize,
	})
	if err != nil {
		return err
	}
	a.reconcileStop = stop

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close drains in-flight deliveries and releases resources.
func (a *App) Close() {
	if a.reconcileStop != nil {
		a.reconcileStop()
	}
	a.manager.Stop()
	a.pipe.Wait()
	if err := a.store.Close(); err != nil {
		logger.Warn("store_close_failed", "error", err)
	}
}

// resolveMasterKey reads the vault master key from config, preferring
// the inline hex over a key file. Empty means a cleartext dev vault.
func resolveMasterKey(cfg *config.Config) (string, error) {
	if k := strings.TrimSpace(cfg.Encryption.MasterKeyHex); k != "" {
		return k, nil
	}
	if f := strings.TrimSpace(cfg.Encryption.MasterKeyFile); f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("failed to read master key file %s: %w", f, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return "", nil
}
