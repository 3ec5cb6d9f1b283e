package config

import "time"

// Foreground task periods used when nothing overrides them.
const (
	DefaultSyncPeriod           = 5 * time.Minute
	DefaultLSPInfoSuccessPeriod = 10 * time.Minute
	DefaultLSPInfoFailurePeriod = 5 * time.Second
	DefaultReconnectPeriod      = 10 * time.Second
	DefaultFeesPeriod           = 5 * time.Minute
	DefaultGraphPeriod          = 2 * time.Minute
)

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Esplora: EsploraConfig{
			URL:     "https://blockstream.info/api",
			Timeout: 30 * time.Second,
			RPS:     5,
		},
		RGS: RGSConfig{
			URL: "https://rapidsync.lightningdevkit.org/snapshot/",
		},
		Tasks: TasksConfig{
			Mode:             TaskModeForeground,
			Sync:             DefaultSyncPeriod,
			LSPInfoSuccess:   DefaultLSPInfoSuccessPeriod,
			LSPInfoFailure:   DefaultLSPInfoFailurePeriod,
			Reconnect:        DefaultReconnectPeriod,
			Fees:             DefaultFeesPeriod,
			Graph:            DefaultGraphPeriod,
			BlockingPoolSize: 4,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9735",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Esplora.URL = "https://blockstream.info/testnet/api"
	cfg.RGS.URL = "https://rapidsync.lightningdevkit.org/testnet/snapshot/"
	cfg.Metrics.Addr = "127.0.0.1:19735"
	return cfg
}

// DefaultSignet returns the default node configuration for signet.
func DefaultSignet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Signet
	cfg.Esplora.URL = "https://mempool.space/signet/api"
	cfg.RGS.URL = ""
	cfg.Metrics.Addr = "127.0.0.1:39735"
	return cfg
}

// DefaultRegtest returns the default node configuration for a local regtest
// setup with esplora and an RGS server on localhost.
func DefaultRegtest() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Regtest
	cfg.Esplora.URL = "http://127.0.0.1:30000"
	cfg.Esplora.RPS = 0
	cfg.RGS.URL = "http://127.0.0.1:8080/snapshot/"
	cfg.Metrics.Addr = "127.0.0.1:29735"
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	case Signet:
		return DefaultSignet()
	case Regtest:
		return DefaultRegtest()
	default:
		return DefaultMainnet()
	}
}
