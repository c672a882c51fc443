// Package grpc 以 gRPC 暴露跨行结算协议。报文沿用 HTTP 的 JSON 结构，经注册的 json 编解码器传输。
package grpc

import (
	"context"
	"encoding/json"

	"github.com/wyfcoding/banksettlement/internal/clearing/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	// ServiceName gRPC 服务名
	ServiceName = "interbank.v1.InterbankService"
	// CodecName 调用方需以 grpc.CallContentSubtype(CodecName) 发起调用
	CodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// FullMethod 方法全名
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Server 将协议实现的错误转换为 gRPC 状态码
type Server struct {
	svc domain.Protocol
}

// NewServer 创建 gRPC 服务
func NewServer(svc domain.Protocol) *Server {
	return &Server{svc: svc}
}

// Register 注册到 gRPC Server
func Register(s grpc.ServiceRegistrar, svc domain.Protocol) {
	s.RegisterService(&ServiceDesc, NewServer(svc))
}

func (s *Server) Prepare(ctx context.Context, req *domain.TransferRequest) (*domain.NegotiationResult, error) {
	if req.ToAccountNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "toAccountNumber is required")
	}
	res, err := s.svc.Prepare(ctx, req)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "prepare failed: %v", err)
	}
	return res, nil
}

func (s *Server) Commit(ctx context.Context, req *domain.TransferRequest) (*domain.CommitResult, error) {
	if req.ToAccountNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "toAccountNumber is required")
	}
	res, err := s.svc.Commit(ctx, req)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "commit failed: %v", err)
	}
	return res, nil
}

func (s *Server) Cancel(ctx context.Context, req *domain.TransferRequest) (*domain.CancelResult, error) {
	if req.ToAccountNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "toAccountNumber is required")
	}
	res, err := s.svc.Cancel(ctx, req)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "cancel failed: %v", err)
	}
	return res, nil
}

// ServiceDesc 手写的服务描述，等价于 protoc 生成的 _grpc.pb.go
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*domain.Protocol)(nil),
	Methods: []grpc.MethodDesc{
		unary("Prepare", domain.Protocol.Prepare),
		unary("Commit", domain.Protocol.Commit),
		unary("Cancel", domain.Protocol.Cancel),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "interbank/v1/interbank.proto",
}

func unary[R any](method string, call func(domain.Protocol, context.Context, *domain.TransferRequest) (R, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(domain.TransferRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			p := srv.(domain.Protocol)
			if interceptor == nil {
				return call(p, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(p, ctx, req.(*domain.TransferRequest))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
