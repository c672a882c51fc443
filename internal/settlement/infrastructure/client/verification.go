package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	verification "github.com/wyfcoding/banksettlement/internal/verification/application"
)

// LocalVerification 同进程部署时直接调用验证服务
type LocalVerification struct {
	svc *verification.Service
}

var _ domain.VerificationGateway = (*LocalVerification)(nil)

// NewLocalVerification 创建进程内验证网关
func NewLocalVerification(svc *verification.Service) *LocalVerification {
	return &LocalVerification{svc: svc}
}

func (v *LocalVerification) CreateVerificationRequest(ctx context.Context, req domain.VerificationRequest) error {
	_, err := v.svc.Create(ctx, req.UserID, req.TargetID, string(req.Kind))
	return err
}

// RemoteVerification 通过 HTTP 调用独立部署的验证服务
type RemoteVerification struct {
	client *resty.Client
}

var _ domain.VerificationGateway = (*RemoteVerification)(nil)

// NewRemoteVerification 创建远程验证网关
func NewRemoteVerification(baseURL string, timeout time.Duration) *RemoteVerification {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &RemoteVerification{client: c}
}

func (v *RemoteVerification) CreateVerificationRequest(ctx context.Context, req domain.VerificationRequest) error {
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/internal/v1/verifications")
	if err != nil {
		return fmt.Errorf("verification service: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("verification service: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
