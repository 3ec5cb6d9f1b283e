package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
// tasks.period is applied first so per-task keys can refine it.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	if v, ok := values["tasks.period"]; ok {
		if err := setConfigValue(cfg, "tasks.period", v); err != nil {
			return fmt.Errorf("config key %q: %w", "tasks.period", err)
		}
	}
	for key, value := range values {
		if key == "tasks.period" {
			continue
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value

	// Esplora
	case "esplora.url", "esplora":
		cfg.Esplora.URL = value
	case "esplora.timeout":
		d, err := parseDuration(value)
		if err != nil {
			return err
		}
		cfg.Esplora.Timeout = d
	case "esplora.rps":
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.Esplora.RPS = rps

	// LSP
	case "lsp.addr", "lsp":
		cfg.LSP.Addr = value
	case "lsp.token":
		cfg.LSP.Token = value

	// Rapid gossip sync
	case "rgs.url", "rgs":
		cfg.RGS.URL = value

	// Tasks
	case "tasks.mode":
		cfg.Tasks.Mode = TaskMode(strings.ToLower(value))
	case "tasks.period":
		// Single period for every foreground task, handy on regtest.
		d, err := parseDuration(value)
		if err != nil {
			return err
		}
		cfg.Tasks.Sync = d
		cfg.Tasks.LSPInfoSuccess = d
		cfg.Tasks.LSPInfoFailure = d
		cfg.Tasks.Reconnect = d
		cfg.Tasks.Fees = d
		cfg.Tasks.Graph = d
	case "tasks.sync", "tasks.lspinfo", "tasks.lspinfo_retry", "tasks.reconnect", "tasks.fees", "tasks.graph":
		d, err := parseDuration(value)
		if err != nil {
			return err
		}
		*taskPeriodField(cfg, key) = d
	case "tasks.blocking":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Tasks.BlockingPoolSize = n

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

func taskPeriodField(cfg *Config, key string) *time.Duration {
	switch key {
	case "tasks.sync":
		return &cfg.Tasks.Sync
	case "tasks.lspinfo":
		return &cfg.Tasks.LSPInfoSuccess
	case "tasks.lspinfo_retry":
		return &cfg.Tasks.LSPInfoFailure
	case "tasks.reconnect":
		return &cfg.Tasks.Reconnect
	case "tasks.fees":
		return &cfg.Tasks.Fees
	default:
		return &cfg.Tasks.Graph
	}
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseDuration accepts Go duration syntax ("90s", "5m") or a bare number
// of seconds. "off" and "0" disable.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "off" || s == "none" {
		return 0, nil
	}
	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	def := Default(network)
	content := `# lnsyncd configuration

# Network: mainnet, testnet, signet or regtest
network = ` + string(network) + `

# Data directory (default: ~/.lnsync)
# datadir = ~/.lnsync

# ============================================================================
# Esplora block explorer
# ============================================================================

esplora.url = ` + def.Esplora.URL + `
esplora.timeout = 30s
# Requests per second, 0 = unlimited
esplora.rps = ` + strconv.FormatFloat(def.Esplora.RPS, 'f', -1, 64) + `

# ============================================================================
# LSP (gRPC). Leave lsp.addr empty to disable LSP tasks.
# ============================================================================

# lsp.addr = lsp.example.com:443
# lsp.token =

# ============================================================================
# Rapid gossip sync
# ============================================================================

rgs.url = ` + def.RGS.URL + `

# ============================================================================
# Tasks. Periods accept 90s / 5m / 1h or plain seconds; 0 disables.
# ============================================================================

tasks.mode = foreground
# tasks.period = 10
# tasks.sync = 5m
# tasks.lspinfo = 10m
# tasks.lspinfo_retry = 5s
# tasks.reconnect = 10s
# tasks.fees = 5m
# tasks.graph = 2m
# tasks.blocking = 4

# ============================================================================
# Metrics
# ============================================================================

metrics.enabled = false
metrics.addr = ` + def.Metrics.Addr + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
