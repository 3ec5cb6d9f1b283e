// Package lsp queries a Lightning Service Provider over gRPC and keeps the
// last known terms.
package lsp

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/lnsync/internal/p2p"
)

// ErrInvalidInfo is returned when the LSP's reply cannot be used.
var ErrInvalidInfo = errors.New("invalid lsp info")

// Fee is the LSP's price for opening a channel on an incoming payment.
type Fee struct {
	ChannelMinimumFeeMsat uint64 `json:"channel_minimum_fee_msat"`
	ChannelFeePermyriad   uint64 `json:"channel_fee_permyriad"` // 100 is 1%
}

// Calculate returns the fee for an incoming payment of amountMsat, rounded
// down to whole satoshis and never below the minimum.
func (f Fee) Calculate(amountMsat uint64) uint64 {
	fee := amountMsat * f.ChannelFeePermyriad / 10_000 / 1_000 * 1_000
	return max(fee, f.ChannelMinimumFeeMsat)
}

// RoutingFees are the forwarding fees on the LSP's channel to us.
type RoutingFees struct {
	BaseMsat               uint32 `json:"base_msat"`
	ProportionalMillionths uint32 `json:"proportional_millionths"`
}

// Info is the parsed LSP terms.
type Info struct {
	Name string
	// PubKey is the LSP's key for encrypting payment registrations.
	PubKey          p2p.NodeID
	Node            p2p.Peer
	Fee             Fee
	Routing         RoutingFees
	CLTVExpiryDelta uint16
	HTLCMinimumMsat uint64
}

// Equal compares every field.
func (i *Info) Equal(o *Info) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.Name == o.Name &&
		i.PubKey == o.PubKey &&
		i.Node.Equal(o.Node) &&
		i.Fee == o.Fee &&
		i.Routing == o.Routing &&
		i.CLTVExpiryDelta == o.CLTVExpiryDelta &&
		i.HTLCMinimumMsat == o.HTLCMinimumMsat
}

// ParseInfo validates a raw reply.
func ParseInfo(r *ChannelInformationReply) (*Info, error) {
	pubkey, err := p2p.NodeIDFromBytes(r.LSPPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: lsp pubkey: %v", ErrInvalidInfo, err)
	}
	node, err := p2p.NewPeer(r.Pubkey, r.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: node: %v", ErrInvalidInfo, err)
	}
	if r.ChannelMinimumFeeMsat < 0 || r.ChannelFeePermyriad < 0 || r.BaseFeeMsat < 0 || r.MinHTLCMsat < 0 {
		return nil, fmt.Errorf("%w: negative fee", ErrInvalidInfo)
	}
	return &Info{
		Name:   r.Name,
		PubKey: pubkey,
		Node:   node,
		Fee: Fee{
			ChannelMinimumFeeMsat: uint64(r.ChannelMinimumFeeMsat),
			ChannelFeePermyriad:   uint64(r.ChannelFeePermyriad),
		},
		Routing: RoutingFees{
			BaseMsat:               uint32(r.BaseFeeMsat),
			ProportionalMillionths: uint32(r.FeeRate * 1_000_000),
		},
		CLTVExpiryDelta: uint16(r.TimeLockDelta),
		HTLCMinimumMsat: uint64(r.MinHTLCMsat),
	}, nil
}
