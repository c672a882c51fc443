// Package partner 对手行客户端：HTTP（resty）与 gRPC 两种传输，外层统一包一层熔断
package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	clearing "github.com/wyfcoding/banksettlement/internal/clearing/domain"
)

// HTTPClient 通过 HTTP 调用对手行的 /interbank/v1 接口
type HTTPClient struct {
	client *resty.Client
}

var _ clearing.Protocol = (*HTTPClient)(nil)

// NewHTTPClient 创建 HTTP 客户端
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{client: c}
}

func (c *HTTPClient) Prepare(ctx context.Context, req *clearing.TransferRequest) (*clearing.NegotiationResult, error) {
	var out clearing.NegotiationResult
	if err := c.post(ctx, "/interbank/v1/prepare", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Commit(ctx context.Context, req *clearing.TransferRequest) (*clearing.CommitResult, error) {
	var out clearing.CommitResult
	if err := c.post(ctx, "/interbank/v1/commit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, req *clearing.TransferRequest) (*clearing.CancelResult, error) {
	var out clearing.CancelResult
	if err := c.post(ctx, "/interbank/v1/cancel", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, result any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		Post(path)
	if err != nil {
		return fmt.Errorf("partner %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("partner %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}
