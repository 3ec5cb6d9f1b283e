package lsp

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
)

const channelInformationMethod = "/lspd.ChannelOpener/ChannelInformation"

// Querier fetches the current LSP terms.
type Querier interface {
	QueryInfo(ctx context.Context) (*Info, error)
}

// Client is a gRPC client for an lspd ChannelOpener service.
type Client struct {
	conn    *grpc.ClientConn
	bearer  string
	metrics *metrics.Metrics
}

var _ Querier = (*Client)(nil)

// Dial creates a client for target. The connection is established lazily
// on the first call. Without options the connection is plaintext.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("lsp dial %s: %w", target, err)
	}
	return &Client{conn: conn, bearer: "Bearer " + token}, nil
}

// SetMetrics attaches a metrics sink.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ChannelInformation returns the raw reply.
func (c *Client) ChannelInformation(ctx context.Context) (reply *ChannelInformationReply, err error) {
	defer func() { c.metrics.RemoteRequest("lsp", err) }()

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", c.bearer)
	reply = &ChannelInformationReply{}
	if err := c.conn.Invoke(ctx, channelInformationMethod, &ChannelInformationRequest{}, reply, grpc.ForceCodec(codec{})); err != nil {
		return nil, fmt.Errorf("lsp channel information: %w", err)
	}
	return reply, nil
}

// QueryInfo fetches and validates the LSP terms.
func (c *Client) QueryInfo(ctx context.Context) (*Info, error) {
	reply, err := c.ChannelInformation(ctx)
	if err != nil {
		return nil, err
	}
	info, err := ParseInfo(reply)
	if err != nil {
		return nil, err
	}
	log.LSP.Trace().Str("name", info.Name).Str("node", info.Node.String()).Msg("LSP info received")
	return info, nil
}
