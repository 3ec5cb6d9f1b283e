package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/Klingon-tech/lnsync/config"
	"github.com/Klingon-tech/lnsync/internal/metrics"
)

type fakeSource struct {
	estimates map[string]float64
	err       error
	calls     int
}

func (f *fakeSource) FeeEstimates(ctx context.Context) (map[string]float64, error) {
	f.calls++
	return f.estimates, f.err
}

func TestEstimator_Defaults(t *testing.T) {
	e := NewEstimator(&fakeSource{}, config.Mainnet)
	if e.Rate(Background) != 253 || e.Rate(Normal) != 2000 || e.Rate(HighPriority) != 5000 {
		t.Errorf("defaults = %d/%d/%d", e.Rate(Background), e.Rate(Normal), e.Rate(HighPriority))
	}
}

func TestEstimator_Update(t *testing.T) {
	src := &fakeSource{estimates: map[string]float64{"1": 20.5, "6": 8.013, "25": 1.2, "144": 0.5}}
	e := NewEstimator(src, config.Mainnet)
	e.SetMetrics(metrics.New())

	if err := e.Update(context.Background()); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	tests := []struct {
		target Target
		want   uint32
	}{
		{Background, 300},
		{Normal, 2003},
		{HighPriority, 5125},
	}
	for _, tt := range tests {
		if got := e.Rate(tt.target); got != tt.want {
			t.Errorf("Rate(%s) = %d, want %d", tt.target, got, tt.want)
		}
	}
}

func TestEstimator_Floor(t *testing.T) {
	src := &fakeSource{estimates: map[string]float64{"1": 1.0, "6": 1.0, "25": 0.2}}
	e := NewEstimator(src, config.Mainnet)
	if err := e.Update(context.Background()); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got := e.Rate(Background); got != MinRate {
		t.Errorf("Rate(background) = %d, want floor %d", got, MinRate)
	}
	if got := e.Rate(Normal); got != 253 {
		t.Errorf("Rate(normal) = %d, want 253", got)
	}
}

func TestEstimator_MissingTargetKeepsRates(t *testing.T) {
	src := &fakeSource{estimates: map[string]float64{"1": 50, "25": 2}}
	e := NewEstimator(src, config.Mainnet)
	if err := e.Update(context.Background()); err == nil {
		t.Fatal("Update() should fail without a 6-block estimate")
	}
	if e.Rate(HighPriority) != DefaultHigh || e.Rate(Background) != DefaultBackground {
		t.Error("partial estimates must not be applied")
	}
}

func TestEstimator_SourceError(t *testing.T) {
	boom := errors.New("boom")
	e := NewEstimator(&fakeSource{err: boom}, config.Mainnet)
	if err := e.Update(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want wrapped boom", err)
	}
}

func TestEstimator_NonMainnetSkipsPoll(t *testing.T) {
	for _, n := range []config.NetworkType{config.Testnet, config.Signet, config.Regtest} {
		src := &fakeSource{estimates: map[string]float64{"1": 100, "6": 100, "25": 100}}
		e := NewEstimator(src, n)
		if err := e.Update(context.Background()); err != nil {
			t.Fatalf("%s: Update() error: %v", n, err)
		}
		if src.calls != 0 {
			t.Errorf("%s: source queried %d times", n, src.calls)
		}
		if e.Rate(Normal) != DefaultNormal {
			t.Errorf("%s: Rate(normal) = %d", n, e.Rate(Normal))
		}
	}
}

func TestEstimator_Ordered(t *testing.T) {
	e := NewEstimator(&fakeSource{}, config.Mainnet)
	if !(e.Rate(Background) <= e.Rate(Normal) && e.Rate(Normal) <= e.Rate(HighPriority)) {
		t.Error("default rates not ordered by urgency")
	}
	if e.Rate(Target(9)) != DefaultNormal {
		t.Error("unknown target should fall back to normal")
	}
}
