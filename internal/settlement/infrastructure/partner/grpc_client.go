package partner

import (
	"context"

	clearing "github.com/wyfcoding/banksettlement/internal/clearing/domain"
	interbankgrpc "github.com/wyfcoding/banksettlement/internal/clearing/interfaces/grpc"
	"google.golang.org/grpc"
)

// GRPCClient 通过 gRPC（json 编解码）调用对手行
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

var _ clearing.Protocol = (*GRPCClient)(nil)

// NewGRPCClient 基于已建立的连接创建客户端
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) Prepare(ctx context.Context, req *clearing.TransferRequest) (*clearing.NegotiationResult, error) {
	out := new(clearing.NegotiationResult)
	if err := c.invoke(ctx, "Prepare", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) Commit(ctx context.Context, req *clearing.TransferRequest) (*clearing.CommitResult, error) {
	out := new(clearing.CommitResult)
	if err := c.invoke(ctx, "Commit", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) Cancel(ctx context.Context, req *clearing.TransferRequest) (*clearing.CancelResult, error) {
	out := new(clearing.CancelResult)
	if err := c.invoke(ctx, "Cancel", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, interbankgrpc.FullMethod(method), in, out, grpc.CallContentSubtype(interbankgrpc.CodecName))
}
