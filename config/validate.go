package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks runtime node config for obvious operator mistakes.
// It normalizes watched txids to lower-case hex.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Signet, Regtest:
	default:
		return fmt.Errorf("network must be one of %q, %q, %q, %q", Mainnet, Testnet, Signet, Regtest)
	}

	if cfg.Esplora.URL == "" {
		return fmt.Errorf("esplora.url is required")
	}
	if err := validateHTTPURL(cfg.Esplora.URL, "esplora.url"); err != nil {
		return err
	}
	if cfg.Esplora.Timeout < 0 {
		return fmt.Errorf("esplora.timeout must not be negative")
	}
	if cfg.Esplora.RPS < 0 {
		return fmt.Errorf("esplora.rps must not be negative")
	}

	if cfg.LSP.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.LSP.Addr); err != nil {
			return fmt.Errorf("lsp.addr must be host:port: %w", err)
		}
	}
	if cfg.RGS.URL != "" {
		if err := validateHTTPURL(cfg.RGS.URL, "rgs.url"); err != nil {
			return err
		}
	}

	if cfg.Tasks.Mode == "" {
		cfg.Tasks.Mode = TaskModeForeground
	}
	if cfg.Tasks.Mode != TaskModeForeground && cfg.Tasks.Mode != TaskModeBackground {
		return fmt.Errorf("tasks.mode must be %q or %q", TaskModeForeground, TaskModeBackground)
	}
	periods := map[string]int64{
		"tasks.sync":          int64(cfg.Tasks.Sync),
		"tasks.lspinfo":       int64(cfg.Tasks.LSPInfoSuccess),
		"tasks.lspinfo_retry": int64(cfg.Tasks.LSPInfoFailure),
		"tasks.reconnect":     int64(cfg.Tasks.Reconnect),
		"tasks.fees":          int64(cfg.Tasks.Fees),
		"tasks.graph":         int64(cfg.Tasks.Graph),
	}
	for name, p := range periods {
		if p < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if cfg.Tasks.LSPInfoSuccess > 0 && cfg.Tasks.LSPInfoFailure == 0 {
		return fmt.Errorf("tasks.lspinfo_retry is required when tasks.lspinfo is set")
	}
	if cfg.Tasks.BlockingPoolSize < 1 {
		return fmt.Errorf("tasks.blocking must be at least 1")
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr must be host:port: %w", err)
		}
	}

	return validateTxIDs(cfg.WatchTxIDs, "watch-tx")
}

func validateHTTPURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}

func validateTxIDs(ids []string, field string) error {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		s := strings.ToLower(strings.TrimSpace(id))
		if s == "" {
			return fmt.Errorf("%s[%d] is empty", field, i)
		}
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("%s[%d] must be a 32-byte hex txid", field, i)
		}
		if _, ok := seen[s]; ok {
			return fmt.Errorf("%s has duplicate txid %q", field, s)
		}
		seen[s] = struct{}{}
		ids[i] = s
	}
	return nil
}
