// Package config handles lnsyncd configuration.
//
// Settings are layered: built-in defaults for the selected network, then
// <datadir>/lnsync.conf, then command-line flags. Validate runs last.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies the Bitcoin network the node follows.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Signet  NetworkType = "signet"
	Regtest NetworkType = "regtest"
)

// Config holds node runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Remote block explorer
	Esplora EsploraConfig

	// Liquidity service provider
	LSP LSPConfig

	// Rapid gossip sync server
	RGS RGSConfig

	// Periodic maintenance
	Tasks TasksConfig

	// Prometheus endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig

	// Transaction ids to watch on start (not persisted in config file).
	WatchTxIDs []string
}

// EsploraConfig holds block explorer settings.
type EsploraConfig struct {
	URL     string        `conf:"esplora.url"`
	Timeout time.Duration `conf:"esplora.timeout"`
	// RPS caps outgoing requests per second. Zero means unlimited.
	RPS float64 `conf:"esplora.rps"`
}

// LSPConfig holds LSP gRPC settings. An empty Addr disables LSP tasks.
type LSPConfig struct {
	Addr  string `conf:"lsp.addr"`
	Token string `conf:"lsp.token"`
}

// RGSConfig holds rapid gossip sync settings. The last sync timestamp is
// appended to URL, so it normally ends in "/snapshot/".
type RGSConfig struct {
	URL string `conf:"rgs.url"`
}

// TaskMode selects the period preset applied at start.
type TaskMode string

const (
	TaskModeForeground TaskMode = "foreground"
	TaskModeBackground TaskMode = "background"
)

// TasksConfig holds the foreground task periods. A zero period disables
// the task.
type TasksConfig struct {
	Mode             TaskMode      `conf:"tasks.mode"`
	Sync             time.Duration `conf:"tasks.sync"`
	LSPInfoSuccess   time.Duration `conf:"tasks.lspinfo"`
	LSPInfoFailure   time.Duration `conf:"tasks.lspinfo_retry"`
	Reconnect        time.Duration `conf:"tasks.reconnect"`
	Fees             time.Duration `conf:"tasks.fees"`
	Graph            time.Duration `conf:"tasks.graph"`
	BlockingPoolSize int64         `conf:"tasks.blocking"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.lnsync
//	macOS:   ~/Library/Application Support/Lnsync
//	Windows: %APPDATA%\Lnsync
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lnsync"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Lnsync")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Lnsync")
		}
		return filepath.Join(home, "AppData", "Roaming", "Lnsync")
	default:
		return filepath.Join(home, ".lnsync")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the node database directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.NetworkDataDir(), "db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "lnsync.conf")
}
