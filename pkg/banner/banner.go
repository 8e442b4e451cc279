package banner

import (
	"fmt"
	"strings"

	"chatsync/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// PrintWithEff prints the banner using an EffectiveConfigResult which
// provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var dbPath = eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/rooms/r1/messages' -d '{\"msg\": \"hello\", \"u\": {\"id\": \"u1\"}}'")
	fmt.Println("curl 'http://<host>:<port>/v1/threads/<id>/messages'")
	fmt.Println("curl 'http://<host>:<port>/v1/encryption/banner'")
	fmt.Println("\n== Production? =================================================")

	if eff.Config != nil && strings.TrimSpace(eff.Config.Gateway.BaseURL) != "" {
		fmt.Printf("- Gateway: %s\n", eff.Config.Gateway.BaseURL)
	} else {
		fmt.Println("- Gateway: MISSING (set gateway.base_url or CHATSYNC_GATEWAY_URL)")
	}
	if eff.Config != nil && strings.TrimSpace(eff.Config.Gateway.AuthToken) != "" {
		fmt.Println("- Auth token: OK")
	} else {
		fmt.Println("- Auth token: MISSING (required for delivery)")
	}

	if eff.DBPath != "" {
		fmt.Printf("- DB Path: %s\n", eff.DBPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or CHATSYNC_DB_PATH)")
	}

	// E2E key vault
	enc := false
	if eff.Config != nil && strings.TrimSpace(eff.Config.Encryption.ServerID) != "" {
		enc = true
	}
	if enc {
		hasMaster := strings.TrimSpace(eff.Config.Encryption.MasterKeyHex) != "" ||
			strings.TrimSpace(eff.Config.Encryption.MasterKeyFile) != ""
		if hasMaster {
			fmt.Println("- E2E vault: encrypted at rest")
		} else {
			fmt.Println("- E2E vault: CLEARTEXT (set encryption.master_key_hex)")
		}
	} else {
		fmt.Println("- E2E: disabled (no encryption.server_id)")
	}

	// Reconcile
	if eff.Config != nil && eff.Config.Reconcile.Enabled {
		if eff.Config.Reconcile.Cron != "" {
			fmt.Printf("- Reconcile: enabled (cron=%s)\n", eff.Config.Reconcile.Cron)
		} else {
			fmt.Println("- Reconcile: enabled")
		}
	} else {
		fmt.Println("- Reconcile: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
