package p2p

import (
	"fmt"
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// Peer is a Lightning node and the address it listens on.
type Peer struct {
	ID   NodeID
	Addr ma.Multiaddr
}

// NewPeer builds a peer from a hex node id and a host:port address.
func NewPeer(id, hostport string) (Peer, error) {
	nodeID, err := ParseNodeID(id)
	if err != nil {
		return Peer{}, err
	}
	addr, err := AddrFromHostPort(hostport)
	if err != nil {
		return Peer{}, err
	}
	return Peer{ID: nodeID, Addr: addr}, nil
}

// ParsePeer parses "<node id>@<host:port>" or "<node id>@<multiaddr>".
func ParsePeer(s string) (Peer, error) {
	id, addr, ok := strings.Cut(s, "@")
	if !ok {
		return Peer{}, fmt.Errorf("peer %q: missing '@'", s)
	}
	if strings.HasPrefix(addr, "/") {
		nodeID, err := ParseNodeID(id)
		if err != nil {
			return Peer{}, err
		}
		m, err := ma.NewMultiaddr(addr)
		if err != nil {
			return Peer{}, fmt.Errorf("peer address: %w", err)
		}
		if _, err := dialTarget(m); err != nil {
			return Peer{}, err
		}
		return Peer{ID: nodeID, Addr: m}, nil
	}
	return NewPeer(id, addr)
}

// AddrFromHostPort converts host:port to /ip4, /ip6 or /dns plus /tcp.
func AddrFromHostPort(hostport string) (ma.Multiaddr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("peer address: %w", err)
	}
	proto := "dns"
	if ip := net.ParseIP(host); ip != nil {
		proto = "ip6"
		if ip.To4() != nil {
			proto = "ip4"
		}
	}
	m, err := ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%s", proto, host, port))
	if err != nil {
		return nil, fmt.Errorf("peer address: %w", err)
	}
	return m, nil
}

// dialTarget extracts the host:port to dial from a TCP multiaddr.
func dialTarget(addr ma.Multiaddr) (string, error) {
	port, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("peer address %s: no tcp port", addr)
	}
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if host, err := addr.ValueForProtocol(code); err == nil {
			return net.JoinHostPort(host, port), nil
		}
	}
	return "", fmt.Errorf("peer address %s: no host", addr)
}

// Equal reports whether both peers have the same id and address.
func (p Peer) Equal(o Peer) bool {
	if p.ID != o.ID {
		return false
	}
	if p.Addr == nil || o.Addr == nil {
		return p.Addr == nil && o.Addr == nil
	}
	return p.Addr.Equal(o.Addr)
}

func (p Peer) String() string {
	target, err := dialTarget(p.Addr)
	if err != nil {
		return fmt.Sprintf("%s@%s", p.ID, p.Addr)
	}
	return fmt.Sprintf("%s@%s", p.ID, target)
}
