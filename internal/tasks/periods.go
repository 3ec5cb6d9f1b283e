package tasks

import (
	"time"

	"github.com/Klingon-tech/lnsync/config"
)

// PeriodConfig is a task period that differs after a failed run.
type PeriodConfig struct {
	Success time.Duration
	Failure time.Duration
}

// Periods selects which tasks run and how often. A zero period disables
// the task.
type Periods struct {
	Sync      time.Duration
	LSPInfo   PeriodConfig
	Reconnect time.Duration
	Fees      time.Duration
	// Graph is retried at this period until the first successful update.
	Graph time.Duration
}

// ForegroundPeriods is used while the app is in use.
func ForegroundPeriods() Periods {
	return Periods{
		Sync: config.DefaultSyncPeriod,
		LSPInfo: PeriodConfig{
			Success: config.DefaultLSPInfoSuccessPeriod,
			Failure: config.DefaultLSPInfoFailurePeriod,
		},
		Reconnect: config.DefaultReconnectPeriod,
		Fees:      config.DefaultFeesPeriod,
		Graph:     config.DefaultGraphPeriod,
	}
}

// BackgroundPeriods keeps the chain watched and the LSP connected with as
// little work as possible.
func BackgroundPeriods() Periods {
	return Periods{
		Sync:      time.Hour,
		Reconnect: time.Minute,
	}
}

// FromConfig returns the foreground periods set in cfg.
func FromConfig(cfg config.TasksConfig) Periods {
	return Periods{
		Sync: cfg.Sync,
		LSPInfo: PeriodConfig{
			Success: cfg.LSPInfoSuccess,
			Failure: cfg.LSPInfoFailure,
		},
		Reconnect: cfg.Reconnect,
		Fees:      cfg.Fees,
		Graph:     cfg.Graph,
	}
}
