package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Version is reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Esplora
	EsploraURL     string
	EsploraTimeout time.Duration
	EsploraRPS     float64

	// LSP
	LSPAddr  string
	LSPToken string

	// RGS
	RGSURL string

	// Tasks
	TaskMode   string
	TaskPeriod time.Duration

	// Metrics
	Metrics     bool
	MetricsAddr string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Watches
	WatchTx string

	// Remaining args
	Args []string

	// Explicitly-set flags (for true/false and zero overrides).
	SetMetrics    bool
	SetLogJSON    bool
	SetTaskPeriod bool
}

// ParseFlags parses command-line flags from os.Args.
func ParseFlags() *Flags {
	f, err := parseFlagArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

func parseFlagArgs(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("lnsyncd", flag.ContinueOnError)
	fs.SetOutput(output)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network: mainnet, testnet, signet or regtest")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Esplora
	fs.StringVar(&f.EsploraURL, "esplora", "", "Esplora API base URL")
	fs.DurationVar(&f.EsploraTimeout, "esplora-timeout", 0, "Esplora HTTP timeout")
	fs.Float64Var(&f.EsploraRPS, "esplora-rps", 0, "Esplora requests per second")

	// LSP
	fs.StringVar(&f.LSPAddr, "lsp", "", "LSP gRPC address (host:port)")
	fs.StringVar(&f.LSPToken, "lsp-token", "", "LSP bearer token")

	// RGS
	fs.StringVar(&f.RGSURL, "rgs", "", "Rapid gossip sync snapshot URL prefix")

	// Tasks
	fs.StringVar(&f.TaskMode, "mode", "", "Task preset: foreground or background")
	fs.DurationVar(&f.TaskPeriod, "task-period", 0, "Override every foreground task period")

	// Metrics
	fs.BoolVar(&f.Metrics, "metrics", false, "Serve Prometheus metrics")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Metrics listen address")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	// Watches
	fs.StringVar(&f.WatchTx, "watch-tx", "", "Comma-separated txids to watch for confirmation")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetMetrics = isFlagSet(fs, "metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.SetTaskPeriod = isFlagSet(fs, "task-period")
	f.Args = fs.Args()

	// A positional argument stops the parser; anything after it is lost.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Esplora
	if f.EsploraURL != "" {
		cfg.Esplora.URL = f.EsploraURL
	}
	if f.EsploraTimeout != 0 {
		cfg.Esplora.Timeout = f.EsploraTimeout
	}
	if f.EsploraRPS != 0 {
		cfg.Esplora.RPS = f.EsploraRPS
	}

	// LSP
	if f.LSPAddr != "" {
		cfg.LSP.Addr = f.LSPAddr
	}
	if f.LSPToken != "" {
		cfg.LSP.Token = f.LSPToken
	}

	// RGS
	if f.RGSURL != "" {
		cfg.RGS.URL = f.RGSURL
	}

	// Tasks
	if f.TaskMode != "" {
		cfg.Tasks.Mode = TaskMode(strings.ToLower(f.TaskMode))
	}
	if f.SetTaskPeriod {
		setConfigValue(cfg, "tasks.period", f.TaskPeriod.String())
	}

	// Metrics
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}

	if f.WatchTx != "" {
		cfg.WatchTxIDs = parseStringList(f.WatchTx)
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `lnsyncd - Lightning chain sync and liveness daemon

Usage:
  lnsyncd [options]
  lnsyncd --help

Commands:
  --help, -h        Show this help message
  --version, -v     Show version information

Core Options:
  --network         Network: mainnet (default), testnet, signet or regtest
  --datadir         Data directory (default: ~/.lnsync)
  --config, -c      Config file path (default: <datadir>/lnsync.conf)

Esplora Options:
  --esplora         Esplora API base URL
  --esplora-timeout HTTP timeout (default: 30s)
  --esplora-rps     Requests per second, 0 = unlimited

LSP Options:
  --lsp             LSP gRPC address (host:port)
  --lsp-token       LSP bearer token

Gossip Options:
  --rgs             Rapid gossip sync snapshot URL prefix

Task Options:
  --mode            Task preset: foreground (default) or background
  --task-period     Use one period for every foreground task

Metrics Options:
  --metrics         Serve Prometheus metrics
  --metrics-addr    Listen address (default: 127.0.0.1:9735)

Logging Options:
  --log-level       Log level: trace, debug, info, warn, error (default: info)
  --log-file        Log file path (default: stdout)
  --log-json        Output logs as JSON

Watch Options:
  --watch-tx        Comma-separated txids to report confirmations for

Examples:
  # Follow mainnet through blockstream.info
  lnsyncd

  # Regtest against a local esplora, every task every 10 seconds
  lnsyncd --network=regtest --task-period=10s --watch-tx=<txid>
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("lnsyncd version " + Version)
		os.Exit(0)
	}

	cfg, err := loadWithFlags(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

func loadWithFlags(flags *Flags) (*Config, error) {
	// Network first, it picks the defaults.
	network := Mainnet
	if flags.Network != "" {
		network = NetworkType(strings.ToLower(flags.Network))
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads config from defaults + conf file only (no CLI flags).
func LoadFromFile(dataDir string, network NetworkType) (*Config, error) {
	cfg := Default(network)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}
	fileValues, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.DBDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
