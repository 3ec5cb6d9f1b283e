// Package metrics exports node health as Prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can run without an
// exporter.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lnsync"

// Metrics holds the node's collectors.
type Metrics struct {
	registry *prometheus.Registry

	syncPasses     *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	tipHeight      prometheus.Gauge
	confirmed      prometheus.Counter
	unconfirmed    prometheus.Counter
	watched        *prometheus.GaugeVec
	taskRuns       *prometheus.CounterVec
	taskPanics     *prometheus.CounterVec
	restarts       prometheus.Counter
	peerConnects   *prometheus.CounterVec
	feeRate        *prometheus.GaugeVec
	gossipSyncs    *prometheus.CounterVec
	remoteRequests *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry along
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_sync_passes_total",
			Help:      "Chain sync attempts by result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_sync_duration_seconds",
			Help:      "Wall time of a chain sync call.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		tipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_synced_tip_height",
			Help:      "Height of the last tip reported to the engine.",
		}),
		confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_confirmations_total",
			Help:      "Confirmed transactions delivered to the engine.",
		}),
		unconfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_unconfirmations_total",
			Help:      "Transactions reported as reorged out.",
		}),
		watched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_watched",
			Help:      "Active watch set size by kind.",
		}, []string{"kind"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Periodic task iterations by task and outcome.",
		}, []string{"task", "outcome"}),
		taskPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_panics_total",
			Help:      "Panics recovered at the task boundary.",
		}, []string{"task"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_restarts_total",
			Help:      "Event loop restarts after abnormal exit.",
		}),
		peerConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_connects_total",
			Help:      "Peer connection attempts by result.",
		}, []string{"result"}),
		feeRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fee_rate_sat_per_kw",
			Help:      "Current fee estimate by confirmation target.",
		}, []string{"target"}),
		gossipSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_syncs_total",
			Help:      "Rapid gossip sync attempts by result.",
		}, []string{"result"}),
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Outgoing requests by service and result.",
		}, []string{"service", "result"}),
	}
	m.registry.MustRegister(
		m.syncPasses, m.syncDuration, m.tipHeight, m.confirmed, m.unconfirmed,
		m.watched, m.taskRuns, m.taskPanics, m.restarts, m.peerConnects,
		m.feeRate, m.gossipSyncs, m.remoteRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveSync records one Watcher.Sync call.
func (m *Metrics) ObserveSync(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.syncPasses.WithLabelValues(result(err)).Inc()
	m.syncDuration.Observe(d.Seconds())
}

// SetTipHeight records the synced tip height.
func (m *Metrics) SetTipHeight(h uint32) {
	if m == nil {
		return
	}
	m.tipHeight.Set(float64(h))
}

// AddConfirmed counts delivered confirmations.
func (m *Metrics) AddConfirmed(n int) {
	if m == nil {
		return
	}
	m.confirmed.Add(float64(n))
}

// AddUnconfirmed counts unconfirm notifications.
func (m *Metrics) AddUnconfirmed(n int) {
	if m == nil {
		return
	}
	m.unconfirmed.Add(float64(n))
}

// SetWatched records the active watch set sizes.
func (m *Metrics) SetWatched(txs, outputs int) {
	if m == nil {
		return
	}
	m.watched.WithLabelValues("tx").Set(float64(txs))
	m.watched.WithLabelValues("output").Set(float64(outputs))
}

// TaskRun counts one task iteration.
func (m *Metrics) TaskRun(task, outcome string) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(task, outcome).Inc()
}

// TaskPanic counts a recovered panic.
func (m *Metrics) TaskPanic(task string) {
	if m == nil {
		return
	}
	m.taskPanics.WithLabelValues(task).Inc()
}

// SupervisorRestart counts an event loop restart.
func (m *Metrics) SupervisorRestart() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

// PeerConnect counts a connection attempt.
func (m *Metrics) PeerConnect(err error) {
	if m == nil {
		return
	}
	m.peerConnects.WithLabelValues(result(err)).Inc()
}

// SetFeeRate records a fee estimate in sat per 1000 weight units.
func (m *Metrics) SetFeeRate(target string, satPerKW uint32) {
	if m == nil {
		return
	}
	m.feeRate.WithLabelValues(target).Set(float64(satPerKW))
}

// GossipSync counts a rapid gossip sync attempt.
func (m *Metrics) GossipSync(err error) {
	if m == nil {
		return
	}
	m.gossipSyncs.WithLabelValues(result(err)).Inc()
}

// RemoteRequest counts an outgoing request to service.
func (m *Metrics) RemoteRequest(service string, err error) {
	if m == nil {
		return
	}
	m.remoteRequests.WithLabelValues(service, result(err)).Inc()
}
