// Package domain 跨行结算协议（准备/提交/撤销）的报文与幂等约定
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDuplicate 同一事务的同一阶段已处理过
var ErrDuplicate = errors.New("interbank branch already processed")

// TransferRequest 准备、提交、撤销共用的请求报文
type TransferRequest struct {
	FromAccountNumber string          `json:"fromAccountNumber"`
	FromCurrencyID    string          `json:"fromCurrencyId"`
	ToAccountNumber   string          `json:"toAccountNumber"`
	ToCurrencyID      string          `json:"toCurrencyId"`
	Amount            decimal.Decimal `json:"amount"`
	CodeID            string          `json:"codeId"`
	ReferenceNumber   string          `json:"referenceNumber"`
	Purpose           string          `json:"purpose"`
	// 幂等键，提交与撤销按此去重；为空时不去重
	TransactionID string `json:"transactionId,omitempty"`
}

// NegotiationResult 准备阶段的报价，不落库。未就绪时报价字段为 null。
type NegotiationResult struct {
	Ready         bool                `json:"ready"`
	Message       string              `json:"message"`
	FinalAmount   decimal.NullDecimal `json:"finalAmount"`
	FinalCurrency *string             `json:"finalCurrency"`
	ExchangeRate  decimal.NullDecimal `json:"exchangeRate"`
	Fee           decimal.NullDecimal `json:"fee"`
}

// ReadyQuote 就绪的报价
func ReadyQuote(message string, amount decimal.Decimal, currency string, rate, fee decimal.Decimal) *NegotiationResult {
	return &NegotiationResult{
		Ready:         true,
		Message:       message,
		FinalAmount:   decimal.NewNullDecimal(amount),
		FinalCurrency: &currency,
		ExchangeRate:  decimal.NewNullDecimal(rate),
		Fee:           decimal.NewNullDecimal(fee),
	}
}

// NotReady 拒绝报价
func NotReady(message string) *NegotiationResult {
	return &NegotiationResult{Ready: false, Message: message}
}

// Currency 报价币种，未报价时为空串
func (r *NegotiationResult) Currency() string {
	if r.FinalCurrency == nil {
		return ""
	}
	return *r.FinalCurrency
}

// CommitResult 提交结果
type CommitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CancelResult 撤销结果
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Protocol 跨行结算协议，收款行实现、付款行调用
type Protocol interface {
	Prepare(ctx context.Context, req *TransferRequest) (*NegotiationResult, error)
	Commit(ctx context.Context, req *TransferRequest) (*CommitResult, error)
	Cancel(ctx context.Context, req *TransferRequest) (*CancelResult, error)
}

// Phase 幂等分支
type Phase string

const (
	PhaseCommit Phase = "action"
	PhaseCancel Phase = "compensate"
)

// BranchGuard 以事务号 + 阶段去重。fn 在守卫内执行，守卫判定重复时返回 ErrDuplicate 且不执行 fn；
// 撤销先于提交到达时，随后的提交也被视为重复。
type BranchGuard interface {
	Run(ctx context.Context, transactionID string, phase Phase, fn func(ctx context.Context, ledger GuardedLedger) error) error
}

// GuardedLedger 守卫内可用的账户变更
type GuardedLedger interface {
	Credit(ctx context.Context, number string, amount decimal.Decimal) error
	ReverseCredit(ctx context.Context, number string, amount decimal.Decimal) (bool, error)
}
