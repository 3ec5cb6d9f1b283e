package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Klingon-tech/lnsync/internal/chainsync"
	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/lsp"
	"github.com/Klingon-tech/lnsync/internal/p2p"
)

// Task names, as they appear in logs and metrics.
const (
	TaskSync      = "chain_sync"
	TaskLSPInfo   = "lsp_info"
	TaskReconnect = "reconnect"
	TaskFees      = "fees"
	TaskGraph     = "graph"
)

// Connector opens a Lightning connection to a peer.
type Connector interface {
	Connect(ctx context.Context, peer p2p.Peer) error
}

// Syncer brings the engine's chain view up to date.
type Syncer interface {
	Sync(ctx context.Context) error
}

// FeeUpdater refreshes fee estimates.
type FeeUpdater interface {
	Update(ctx context.Context) error
}

// Deps are the components the tasks drive. A nil dependency disables the
// tasks that need it.
type Deps struct {
	Chain     Syncer
	LSP       lsp.Querier
	Connector Connector
	Fees      FeeUpdater
	Graph     Syncer
}

// Scheduler owns the running set of maintenance tasks.
type Scheduler struct {
	rt    *Runtime
	deps  Deps
	cache *lsp.Cache

	mu      sync.Mutex
	handles []*Handle
}

// NewScheduler creates a scheduler. cache holds the LSP info shared by the
// LSP and reconnect tasks; nil gives an in-memory cache.
func NewScheduler(rt *Runtime, deps Deps, cache *lsp.Cache) *Scheduler {
	if cache == nil {
		cache = lsp.NewCache(nil)
	}
	return &Scheduler{rt: rt, deps: deps, cache: cache}
}

// LSPInfo returns the last LSP info received, or nil.
func (s *Scheduler) LSPInfo() *lsp.Info {
	return s.cache.Get()
}

// Running returns the names of the tasks started by the last Restart.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handles))
	for _, h := range s.handles {
		names = append(names, h.Name())
	}
	return names
}

// RequestShutdownAll asks every running task to stop without waiting.
func (s *Scheduler) RequestShutdownAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestShutdownLocked()
}

func (s *Scheduler) requestShutdownLocked() {
	for _, h := range s.handles {
		h.RequestShutdown()
	}
	s.handles = nil
}

// Restart stops the running tasks and starts one task per enabled period.
// The old tasks are only asked to stop, so a run already in flight may
// finish after Restart returns.
func (s *Scheduler) Restart(p Periods) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestShutdownLocked()

	if p.Sync > 0 && s.deps.Chain != nil {
		s.spawn(TaskSync, p.Sync, s.syncChain)
	}
	if p.LSPInfo.Success > 0 && s.deps.LSP != nil {
		s.spawn(TaskLSPInfo, p.LSPInfo.Success, s.updateLSPInfo(p.LSPInfo.Failure))
	}
	if p.Reconnect > 0 && s.deps.Connector != nil {
		s.spawn(TaskReconnect, p.Reconnect, s.reconnect)
	}
	if p.Fees > 0 && s.deps.Fees != nil {
		s.spawn(TaskFees, p.Fees, s.updateFees)
	}
	// After the first successful update the graph is left alone until the
	// next Restart.
	if p.Graph > 0 && s.deps.Graph != nil {
		s.spawn(TaskGraph, p.Graph, s.updateGraph(p.Graph))
	}

	log.Tasks.Debug().Int("tasks", len(s.handles)).Msg("Tasks restarted")
}

func (s *Scheduler) spawn(name string, period time.Duration, fn Func) {
	s.handles = append(s.handles, s.rt.Spawn(name, period, fn))
}

func (s *Scheduler) syncChain(ctx context.Context) Outcome {
	start := time.Now()
	err := s.rt.Blocking(ctx, TaskSync, s.deps.Chain.Sync)
	switch {
	case err == nil:
		log.Tasks.Debug().Dur("took", time.Since(start)).Msg("Chain sync finished")
	case errors.Is(err, chainsync.ErrReorgRace):
		log.Tasks.Warn().Err(err).Msg("Chain sync raced a reorg")
	default:
		log.Tasks.Error().Err(err).Msg("Chain sync failed")
	}
	return Continue
}

func (s *Scheduler) updateLSPInfo(failure time.Duration) Func {
	return func(ctx context.Context) Outcome {
		var info *lsp.Info
		err := s.rt.Blocking(ctx, TaskLSPInfo, func(ctx context.Context) error {
			var err error
			info, err = s.deps.LSP.QueryInfo(ctx)
			return err
		})
		if err != nil {
			log.Tasks.Error().Err(err).Msg("Failed to query LSP")
			return Retry(failure)
		}
		if s.cache.Update(info) {
			log.Tasks.Info().Str("lsp", info.Name).Str("node", info.Node.String()).Msg("New LSP info received")
			s.connect(ctx, info.Node)
		}
		return Continue
	}
}

func (s *Scheduler) reconnect(ctx context.Context) Outcome {
	if info := s.cache.Get(); info != nil {
		s.connect(ctx, info.Node)
	}
	return Continue
}

func (s *Scheduler) connect(ctx context.Context, peer p2p.Peer) {
	if s.deps.Connector == nil {
		return
	}
	if err := s.deps.Connector.Connect(ctx, peer); err != nil {
		log.Tasks.Error().Err(err).Str("peer", peer.String()).Msg("Connecting to peer failed")
	}
}

func (s *Scheduler) updateFees(ctx context.Context) Outcome {
	if err := s.rt.Blocking(ctx, TaskFees, s.deps.Fees.Update); err != nil {
		log.Tasks.Error().Err(err).Msg("Failed to get fee estimates")
	}
	return Continue
}

func (s *Scheduler) updateGraph(period time.Duration) Func {
	return func(ctx context.Context) Outcome {
		if err := s.rt.Blocking(ctx, TaskGraph, s.deps.Graph.Sync); err != nil {
			log.Tasks.Error().Err(err).Msg("Failed to update network graph")
			return Retry(period)
		}
		return Stop
	}
}
