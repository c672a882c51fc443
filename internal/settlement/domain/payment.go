// Package domain 资金划转记录、队列消息与外部协作方的领域定义
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrPaymentNotFound 记录不存在
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrStaleStatus 状态比较交换失败，记录已被其他流程推进
	ErrStaleStatus = errors.New("payment status changed concurrently")
	// ErrInvalidTransition 非法的状态迁移
	ErrInvalidTransition = errors.New("invalid payment status transition")
	// ErrInsufficientFunds 付款账户可用余额不足
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// PaymentKind 划转类型
type PaymentKind string

const (
	// KindPayment 向任意收款人付款
	KindPayment PaymentKind = "PAYMENT"
	// KindTransfer 同一客户名下账户间转账
	KindTransfer PaymentKind = "TRANSFER"
)

// PaymentStatus 划转状态
type PaymentStatus string

const (
	StatusPendingConfirmation PaymentStatus = "PENDING_CONFIRMATION"
	// StatusProcessing 本行结算已认领
	StatusProcessing PaymentStatus = "PROCESSING"
	// StatusRetryPending 跨行：付款资金已预留，等待对手行确认提交
	StatusRetryPending PaymentStatus = "RETRY_PENDING"
	StatusCompleted    PaymentStatus = "COMPLETED"
	StatusCanceled     PaymentStatus = "CANCELED"
)

func (s PaymentStatus) rank() int {
	switch s {
	case StatusPendingConfirmation:
		return 0
	case StatusProcessing, StatusRetryPending:
		return 1
	case StatusCompleted, StatusCanceled:
		return 2
	default:
		return -1
	}
}

// IsTerminal 是否终态
func (s PaymentStatus) IsTerminal() bool {
	return s.rank() == 2
}

// CanTransitionTo 状态只能前进：待确认 -> 处理中/待重试 -> 完成/取消，待确认也可直接取消
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 || to <= from {
		return false
	}
	if s == StatusPendingConfirmation && next == StatusCompleted {
		return false
	}
	return true
}

// Quote 结算时确定的到账金额与汇率
type Quote struct {
	OutAmount    decimal.Decimal
	OutCurrency  string
	ExchangeRate decimal.Decimal
	Fee          decimal.Decimal
}

// Payment 资金划转记录，创建后不删除，终态后不可变。
// ReceiverCurrency 对本行收款人取自账户，跨行时由付款方声明。
type Payment struct {
	ID                    int64
	ClientID              int64
	Kind                  PaymentKind
	SenderAccountNumber   string
	SenderCurrency        string
	SenderName            string
	ReceiverAccountNumber string
	ReceiverName          string
	ReceiverCurrency      string
	External              bool
	Amount                decimal.Decimal
	PaymentCode           string
	Purpose               string
	ReferenceNumber       string
	Quote                 *Quote
	Status                PaymentStatus
	FailReason            string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Transition 状态迁移附带写入的字段
type Transition struct {
	Quote      *Quote
	FailReason string
}

// PaymentRepository 划转记录仓储
type PaymentRepository interface {
	Save(ctx context.Context, p *Payment) error
	// Get 不存在返回 ErrPaymentNotFound
	Get(ctx context.Context, id int64) (*Payment, error)
	ListByClient(ctx context.Context, clientID int64, limit, offset int) ([]*Payment, error)
	// CompareAndSet 仅当当前状态为 from 时迁移到 to，否则返回 ErrStaleStatus
	CompareAndSet(ctx context.Context, id int64, from, to PaymentStatus, t Transition) error
	// FindStale 查询指定状态下最后更新早于 before 的记录
	FindStale(ctx context.Context, status PaymentStatus, before time.Time, limit int) ([]*Payment, error)
}
