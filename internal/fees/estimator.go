// Package fees keeps on-chain fee rates current for the channel engine.
package fees

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Klingon-tech/lnsync/config"
	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
)

// Target is a confirmation urgency.
type Target int

const (
	Background Target = iota
	Normal
	HighPriority
)

func (t Target) String() string {
	switch t {
	case Background:
		return "background"
	case Normal:
		return "normal"
	case HighPriority:
		return "high_priority"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// blocks is the confirmation window, in blocks, requested for each target.
func (t Target) blocks() string {
	switch t {
	case Background:
		return "25"
	case Normal:
		return "6"
	default:
		return "1"
	}
}

// Rates are in satoshis per 1000 weight units.
const (
	MinRate           uint32 = 253
	DefaultBackground        = MinRate
	DefaultNormal     uint32 = 2000
	DefaultHigh       uint32 = 5000
)

var targets = [...]Target{Background, Normal, HighPriority}

// Source returns fee estimates in sat/vB keyed by confirmation target in
// blocks, as served by Esplora's /fee-estimates.
type Source interface {
	FeeEstimates(ctx context.Context) (map[string]float64, error)
}

// Estimator holds the current rate for each target. Reads never block.
type Estimator struct {
	source  Source
	network config.NetworkType
	rates   [len(targets)]atomic.Uint32
	metrics *metrics.Metrics
}

// NewEstimator seeds the defaults. Only mainnet estimates are fetched;
// other networks keep the defaults.
func NewEstimator(source Source, network config.NetworkType) *Estimator {
	e := &Estimator{source: source, network: network}
	e.rates[Background].Store(DefaultBackground)
	e.rates[Normal].Store(DefaultNormal)
	e.rates[HighPriority].Store(DefaultHigh)
	return e
}

// SetMetrics attaches a metrics sink.
func (e *Estimator) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
	for _, t := range targets {
		m.SetFeeRate(t.String(), e.Rate(t))
	}
}

// Rate returns the current sat/kw rate for t.
func (e *Estimator) Rate(t Target) uint32 {
	if t < 0 || int(t) >= len(targets) {
		return DefaultNormal
	}
	return e.rates[t].Load()
}

// Update fetches fresh estimates. Either all three targets are updated or
// none are.
func (e *Estimator) Update(ctx context.Context) error {
	if e.network != config.Mainnet {
		return nil
	}

	estimates, err := e.source.FeeEstimates(ctx)
	if err != nil {
		return fmt.Errorf("fetch fee estimates: %w", err)
	}

	var next [len(targets)]uint32
	for _, t := range targets {
		rate, err := toSatPerKW(estimates, t.blocks())
		if err != nil {
			return err
		}
		next[t] = rate
	}

	for _, t := range targets {
		e.rates[t].Store(next[t])
		e.metrics.SetFeeRate(t.String(), next[t])
	}
	log.Fees.Debug().
		Uint32("background", next[Background]).
		Uint32("normal", next[Normal]).
		Uint32("high_priority", next[HighPriority]).
		Msg("Fee estimates updated")
	return nil
}

// toSatPerKW converts a sat/vB estimate to sat per 1000 weight units.
func toSatPerKW(estimates map[string]float64, blocks string) (uint32, error) {
	satPerVB, ok := estimates[blocks]
	if !ok {
		return 0, fmt.Errorf("no fee estimate for confirmation in %s blocks", blocks)
	}
	rate := math.Round(satPerVB * 250)
	if rate > math.MaxUint32 {
		rate = math.MaxUint32
	}
	if rate < float64(MinRate) {
		return MinRate, nil
	}
	return uint32(rate), nil
}
