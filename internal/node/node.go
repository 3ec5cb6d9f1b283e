// Package node wires the chain watcher, maintenance tasks and background
// supervisor around a Lightning engine.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/lnsync/config"
	"github.com/Klingon-tech/lnsync/internal/chainsync"
	"github.com/Klingon-tech/lnsync/internal/esplora"
	"github.com/Klingon-tech/lnsync/internal/fees"
	"github.com/Klingon-tech/lnsync/internal/gossip"
	klog "github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/lsp"
	"github.com/Klingon-tech/lnsync/internal/metrics"
	"github.com/Klingon-tech/lnsync/internal/p2p"
	"github.com/Klingon-tech/lnsync/internal/storage"
	"github.com/Klingon-tech/lnsync/internal/supervisor"
	"github.com/Klingon-tech/lnsync/internal/tasks"
	"github.com/Klingon-tech/lnsync/internal/watch"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

// Peer records older than this are dropped at start.
const (
	peerStaleThreshold = 30 * 24 * time.Hour
	shutdownTimeout    = 5 * time.Second
)

// Engine is the channel and payment state machine served by the node.
type Engine interface {
	chainsync.ConfirmSink
	p2p.PeerManager
	gossip.GraphApplier
	supervisor.EventLoop
}

// Node owns every long-lived component.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger
	engine Engine

	db       storage.DB
	metrics  *metrics.Metrics
	esplora  *esplora.Client
	registry *watch.Registry
	watcher  *chainsync.Watcher
	bcast    *chainsync.Broadcaster
	fees     *fees.Estimator
	graph    *gossip.Client
	lspc     *lsp.Client
	lspCache *lsp.Cache
	peers    *p2p.PeerStore

	runtime   *tasks.Runtime
	scheduler *tasks.Scheduler
	super     *supervisor.Supervisor

	metricsSrv   *http.Server
	metricsLn    net.Listener
	shutdownWait time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a node for cfg. Extra sinks receive the same chain
// notifications as the engine, after it. Nothing runs until Start.
func New(cfg *config.Config, engine Engine, extraSinks ...chainsync.ConfirmSink) (*Node, error) {
	// ── Logger ──────────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(cfg.LogsDir(), "lnsync.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")
	logger.Info().
		Str("network", string(cfg.Network)).
		Str("esplora", cfg.Esplora.URL).
		Msg("Starting lnsync node")

	// ── Storage ─────────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	n := &Node{
		cfg:          cfg,
		logger:       logger,
		engine:       engine,
		db:           db,
		shutdownWait: shutdownTimeout,
	}
	if err := n.build(extraSinks); err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(extraSinks []chainsync.ConfirmSink) error {
	cfg := n.cfg
	if cfg.Metrics.Enabled {
		n.metrics = metrics.New()
	}

	// ── Chain ───────────────────────────────────────────────────────
	n.esplora = esplora.New(cfg.Esplora.URL, cfg.Esplora.Timeout, cfg.Esplora.RPS)
	n.esplora.SetMetrics(n.metrics)

	tipStore := chainsync.NewDBTipStore(storage.NewPrefixDB(n.db, []byte("chain/")))
	tip, height, ok, err := tipStore.LoadTip()
	if err != nil {
		return fmt.Errorf("load synced tip: %w", err)
	}
	if ok {
		n.logger.Info().Str("tip", tip.String()).Uint32("height", height).Msg("Resuming from synced tip")
	}

	var sink chainsync.ConfirmSink = n.engine
	if len(extraSinks) > 0 {
		sink = chainsync.NewFanout(append([]chainsync.ConfirmSink{n.engine}, extraSinks...)...)
	}
	n.registry = watch.NewRegistry()
	n.watcher = chainsync.NewWatcher(n.esplora, sink, n.registry, tip)
	n.watcher.SetTipStore(tipStore)
	n.watcher.SetMetrics(n.metrics)
	n.bcast = chainsync.NewBroadcaster(n.esplora, cfg.Esplora.Timeout)

	for _, s := range cfg.WatchTxIDs {
		txid, err := types.HexToHash(s)
		if err != nil {
			return fmt.Errorf("watch txid %q: %w", s, err)
		}
		n.registry.RegisterTx(txid, "")
	}

	// ── Fees and gossip ─────────────────────────────────────────────
	n.fees = fees.NewEstimator(n.esplora, cfg.Network)
	n.fees.SetMetrics(n.metrics)
	if cfg.RGS.URL != "" {
		n.graph = gossip.New(cfg.RGS.URL, n.engine, n.db)
		n.graph.SetMetrics(n.metrics)
	}

	// ── LSP and peers ───────────────────────────────────────────────
	n.lspCache = lsp.NewCache(n.db)
	if cfg.LSP.Addr != "" {
		n.lspc, err = lsp.Dial(cfg.LSP.Addr, cfg.LSP.Token)
		if err != nil {
			return err
		}
		n.lspc.SetMetrics(n.metrics)
	}
	n.peers = p2p.NewPeerStore(n.db)
	connector := p2p.NewConnector(n.engine)
	connector.SetPeerStore(n.peers)
	connector.SetMetrics(n.metrics)

	// ── Tasks ───────────────────────────────────────────────────────
	n.runtime = tasks.NewRuntime(cfg.Tasks.BlockingPoolSize)
	n.runtime.SetMetrics(n.metrics)
	deps := tasks.Deps{
		Chain:     n.watcher,
		Connector: connector,
		Fees:      n.fees,
	}
	// Assigned only when set so the interfaces stay nil otherwise.
	if n.lspc != nil {
		deps.LSP = n.lspc
	}
	if n.graph != nil {
		deps.Graph = n.graph
	}
	n.scheduler = tasks.NewScheduler(n.runtime, deps, n.lspCache)
	return nil
}

// Start runs the engine's event loop under supervision, starts the tasks
// for the configured mode and serves metrics when enabled.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("node already started")
	}

	if n.metrics != nil {
		ln, err := net.Listen("tcp", n.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics listen on %s: %w", n.cfg.Metrics.Addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", n.metrics.Handler())
		n.metricsLn = ln
		n.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := n.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		n.logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
	}

	if pruned, err := n.peers.PruneStale(peerStaleThreshold); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to prune peer records")
	} else if pruned > 0 {
		n.logger.Debug().Int("pruned", pruned).Msg("Pruned stale peer records")
	}

	n.super = supervisor.Start(n.engine, supervisor.WithMetrics(n.metrics))

	if n.cfg.Tasks.Mode == config.TaskModeBackground {
		n.scheduler.Restart(tasks.BackgroundPeriods())
	} else {
		n.scheduler.Restart(tasks.FromConfig(n.cfg.Tasks))
	}
	n.started = true

	n.logger.Info().
		Str("mode", string(n.cfg.Tasks.Mode)).
		Strs("tasks", n.scheduler.Running()).
		Msg("Node started successfully")
	return nil
}

// Foreground switches to the configured foreground task periods.
func (n *Node) Foreground() {
	n.logger.Debug().Msg("Entering foreground")
	n.scheduler.Restart(tasks.FromConfig(n.cfg.Tasks))
}

// Background switches to the background task periods.
func (n *Node) Background() {
	n.logger.Debug().Msg("Entering background")
	n.scheduler.Restart(tasks.BackgroundPeriods())
}

// Stop shuts everything down in reverse order and returns the engine
// event loop's final result.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return nil
	}
	n.stopped = true

	n.scheduler.RequestShutdownAll()
	n.runtime.Close()

	var loopErr error
	if n.super != nil {
		loopErr = n.super.Stop()
		if loopErr != nil {
			n.logger.Error().Err(loopErr).Msg("Background processor stopped with error")
		}
	}

	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), n.shutdownWait)
		if err := n.metricsSrv.Shutdown(ctx); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to shut down metrics server")
		}
		cancel()
	}
	if n.lspc != nil {
		n.lspc.Close()
	}
	if err := n.db.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to close database")
	}

	n.logger.Info().Msg("Goodbye!")
	return loopErr
}

// Registry is where the engine registers transactions and outputs to watch.
func (n *Node) Registry() *watch.Registry { return n.registry }

// Broadcaster publishes the engine's transactions.
func (n *Node) Broadcaster() *chainsync.Broadcaster { return n.bcast }

// FeeEstimator returns the current fee rates.
func (n *Node) FeeEstimator() *fees.Estimator { return n.fees }

// LSPInfo returns the last known LSP terms, or nil.
func (n *Node) LSPInfo() *lsp.Info { return n.scheduler.LSPInfo() }

// SyncedTip returns the last tip fully reported to the engine.
func (n *Node) SyncedTip() (types.Hash, uint32) { return n.watcher.SyncedTip() }

// SyncNow runs a chain sync immediately, outside the task schedule.
func (n *Node) SyncNow(ctx context.Context) error {
	return n.runtime.Blocking(ctx, tasks.TaskSync, n.watcher.Sync)
}

// MetricsAddr returns the metrics listen address, or "" when disabled.
func (n *Node) MetricsAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.metricsLn == nil {
		return ""
	}
	return n.metricsLn.Addr().String()
}
