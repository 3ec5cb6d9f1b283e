package lsp

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// lspd message field numbers.
const (
	fieldReqPubkey = 1

	fieldName                  = 1
	fieldPubkey                = 2
	fieldHost                  = 3
	fieldChannelCapacity       = 4
	fieldTargetConf            = 5
	fieldBaseFeeMsat           = 6
	fieldFeeRate               = 7
	fieldTimeLockDelta         = 8
	fieldMinHTLCMsat           = 9
	fieldChannelFeePermyriad   = 10
	fieldLSPPubkey             = 11
	fieldMaxInactiveDuration   = 12
	fieldChannelMinimumFeeMsat = 13
)

type wireMessage interface {
	marshalWire() []byte
	unmarshalWire(b []byte) error
}

// ChannelInformationRequest asks the LSP for its channel terms.
type ChannelInformationRequest struct {
	Pubkey string
}

func (m *ChannelInformationRequest) marshalWire() []byte {
	var b []byte
	if m.Pubkey != "" {
		b = protowire.AppendTag(b, fieldReqPubkey, protowire.BytesType)
		b = protowire.AppendString(b, m.Pubkey)
	}
	return b
}

func (m *ChannelInformationRequest) unmarshalWire(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == fieldReqPubkey && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			m.Pubkey = v
			return n
		}
		return 0
	})
}

// ChannelInformationReply is the LSP's raw answer.
type ChannelInformationReply struct {
	Name                  string
	Pubkey                string // hex node id of the LSP's Lightning node
	Host                  string // host:port of the LSP's Lightning node
	ChannelCapacity       int64
	TargetConf            int32
	BaseFeeMsat           int64
	FeeRate               float64
	TimeLockDelta         uint32
	MinHTLCMsat           int64
	ChannelFeePermyriad   int64
	LSPPubkey             []byte
	MaxInactiveDuration   int64
	ChannelMinimumFeeMsat int64
}

func (m *ChannelInformationReply) marshalWire() []byte {
	var b []byte
	appendString := func(num protowire.Number, v string) {
		if v != "" {
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendString(b, v)
		}
	}
	appendVarint := func(num protowire.Number, v uint64) {
		if v != 0 {
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, v)
		}
	}

	appendString(fieldName, m.Name)
	appendString(fieldPubkey, m.Pubkey)
	appendString(fieldHost, m.Host)
	appendVarint(fieldChannelCapacity, uint64(m.ChannelCapacity))
	appendVarint(fieldTargetConf, uint64(int64(m.TargetConf)))
	appendVarint(fieldBaseFeeMsat, uint64(m.BaseFeeMsat))
	if m.FeeRate != 0 {
		b = protowire.AppendTag(b, fieldFeeRate, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(m.FeeRate))
	}
	appendVarint(fieldTimeLockDelta, uint64(m.TimeLockDelta))
	appendVarint(fieldMinHTLCMsat, uint64(m.MinHTLCMsat))
	appendVarint(fieldChannelFeePermyriad, uint64(m.ChannelFeePermyriad))
	if len(m.LSPPubkey) > 0 {
		b = protowire.AppendTag(b, fieldLSPPubkey, protowire.BytesType)
		b = protowire.AppendBytes(b, m.LSPPubkey)
	}
	appendVarint(fieldMaxInactiveDuration, uint64(m.MaxInactiveDuration))
	appendVarint(fieldChannelMinimumFeeMsat, uint64(m.ChannelMinimumFeeMsat))
	return b
}

func (m *ChannelInformationReply) unmarshalWire(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			switch num {
			case fieldName:
				m.Name = string(v)
			case fieldPubkey:
				m.Pubkey = string(v)
			case fieldHost:
				m.Host = string(v)
			case fieldLSPPubkey:
				m.LSPPubkey = append([]byte(nil), v...)
			}
			return n
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case fieldChannelCapacity:
				m.ChannelCapacity = int64(v)
			case fieldTargetConf:
				m.TargetConf = int32(v)
			case fieldBaseFeeMsat:
				m.BaseFeeMsat = int64(v)
			case fieldTimeLockDelta:
				m.TimeLockDelta = uint32(v)
			case fieldMinHTLCMsat:
				m.MinHTLCMsat = int64(v)
			case fieldChannelFeePermyriad:
				m.ChannelFeePermyriad = int64(v)
			case fieldMaxInactiveDuration:
				m.MaxInactiveDuration = int64(v)
			case fieldChannelMinimumFeeMsat:
				m.ChannelMinimumFeeMsat = int64(v)
			}
			return n
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if num == fieldFeeRate {
				m.FeeRate = math.Float64frombits(v)
			}
			return n
		}
		return 0
	})
}

// walkFields calls fn for each field in b. fn returns the number of bytes
// it consumed, or 0 to have the field skipped. Every encoded field value
// takes at least one byte.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// codec encodes lspd messages directly with protowire, so no generated
// code is needed. It registers under the "proto" name that lspd expects.
type codec struct{}

var _ encoding.Codec = codec{}

var errNotWireMessage = errors.New("lsp codec: unsupported message type")

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("%w %T", errNotWireMessage, v)
	}
	return m.marshalWire(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("%w %T", errNotWireMessage, v)
	}
	return m.unmarshalWire(data)
}

func (codec) Name() string { return "proto" }
