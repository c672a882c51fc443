package domain

import (
	"context"
	"strings"

	clearing "github.com/wyfcoding/banksettlement/internal/clearing/domain"
)

// Client 客户信息
type Client struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// FullName 姓名
func (c *Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ClientDirectory 用户服务
type ClientDirectory interface {
	GetClientByID(ctx context.Context, id int64) (*Client, error)
}

// VerificationKind 二次验证类型
type VerificationKind string

const (
	VerificationTransfer VerificationKind = "TRANSFER"
	VerificationPayment  VerificationKind = "PAYMENT"
)

// VerificationRequest 二次验证请求
type VerificationRequest struct {
	UserID   int64            `json:"userId"`
	TargetID int64            `json:"targetId"`
	Kind     VerificationKind `json:"verificationType"`
}

// VerificationGateway 身份服务的二次验证入口
type VerificationGateway interface {
	CreateVerificationRequest(ctx context.Context, req VerificationRequest) error
}

// TransactionQueue 持久化工作队列。投递失败只记录日志，不向调用方返回错误。
type TransactionQueue interface {
	Enqueue(ctx context.Context, cmd Command, userID int64)
	// EnqueueDelayed 经延迟通道投递
	EnqueueDelayed(ctx context.Context, cmd Command, userID int64)
}

// PartnerBank 对手行客户端
type PartnerBank = clearing.Protocol

// AccountRouter 按账号前缀判断账户是否属于对手行
type AccountRouter struct {
	prefixes []string
}

// NewAccountRouter 创建账户路由
func NewAccountRouter(partnerPrefixes []string) AccountRouter {
	return AccountRouter{prefixes: partnerPrefixes}
}

// IsExternal 账号是否属于对手行
func (r AccountRouter) IsExternal(number string) bool {
	for _, p := range r.prefixes {
		if p != "" && strings.HasPrefix(number, p) {
			return true
		}
	}
	return false
}
