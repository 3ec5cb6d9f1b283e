package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
)

// Connector timing defaults.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
)

// ErrDisconnected is returned when the connection closes before the
// Lightning handshake finished.
var ErrDisconnected = errors.New("peer disconnected before handshake completed")

// PeerManager is the engine's registry of Lightning peers.
type PeerManager interface {
	// IsConnected reports whether a handshake with id has completed.
	IsConnected(id NodeID) bool
	// NewOutboundConnection takes ownership of conn and starts the
	// handshake. The returned channel is closed when the connection ends.
	NewOutboundConnection(id NodeID, conn net.Conn) (closed <-chan struct{}, err error)
}

// Connector dials peers on behalf of a PeerManager.
type Connector struct {
	pm        PeerManager
	dialer    net.Dialer
	handshake time.Duration
	poll      time.Duration
	store   *PeerStore
	metrics *metrics.Metrics
}

// NewConnector creates a connector for pm.
func NewConnector(pm PeerManager) *Connector {
	return &Connector{
		pm:        pm,
		dialer:    net.Dialer{Timeout: DefaultDialTimeout},
		handshake: DefaultHandshakeTimeout,
		poll:      DefaultPollInterval,
	}
}

// SetPeerStore records successful connections in ps.
func (c *Connector) SetPeerStore(ps *PeerStore) {
	c.store = ps
}

// SetMetrics attaches a metrics sink.
func (c *Connector) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Connect returns once the handshake with peer completes. It is a no-op
// if the peer is already connected.
func (c *Connector) Connect(ctx context.Context, peer Peer) (err error) {
	if c.pm.IsConnected(peer.ID) {
		log.P2P.Trace().Str("peer", peer.ID.String()).Msg("Peer already connected")
		return nil
	}
	defer func() { c.metrics.PeerConnect(err) }()

	target, err := dialTarget(peer.Addr)
	if err != nil {
		return err
	}

	log.P2P.Debug().Str("peer", peer.String()).Msg("Connecting to peer")
	conn, err := c.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	closed, err := c.pm.NewOutboundConnection(peer.ID, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("hand off %s: %w", peer, err)
	}
	log.P2P.Debug().Str("peer", peer.String()).Msg("TCP connection established")

	ctx, cancel := context.WithTimeout(ctx, c.handshake)
	defer cancel()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for !c.pm.IsConnected(peer.ID) {
		select {
		case <-closed:
			return fmt.Errorf("%s: %w", peer, ErrDisconnected)
		case <-ctx.Done():
			return fmt.Errorf("%s handshake: %w", peer, ctx.Err())
		case <-ticker.C:
		}
		log.P2P.Trace().Str("peer", peer.ID.String()).Msg("Handshake still pending")
	}

	log.P2P.Info().Str("peer", peer.String()).Msg("Peer connected")
	if c.store != nil {
		if err := c.store.Touch(peer, time.Now()); err != nil {
			log.P2P.Warn().Err(err).Msg("Failed to record peer")
		}
	}
	return nil
}
