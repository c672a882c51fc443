package application

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
)

// ValidationError 请求校验失败，不产生任何记录
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CreatePaymentCommand 付款请求
type CreatePaymentCommand struct {
	SenderAccountNumber   string
	ReceiverAccountNumber string
	ReceiverName          string
	// 仅跨行付款使用，为空时按付款账户币种声明
	ReceiverCurrency string
	Amount           decimal.Decimal
	PaymentCode      string
	Purpose          string
	ReferenceNumber  string
}

// CreateTransferCommand 同一客户名下账户间转账请求
type CreateTransferCommand struct {
	SenderAccountNumber   string
	ReceiverAccountNumber string
	Amount                decimal.Decimal
}

// PaymentDTO 划转记录视图
type PaymentDTO struct {
	ID                    int64     `json:"id,string"`
	Kind                  string    `json:"kind"`
	SenderAccountNumber   string    `json:"senderAccountNumber"`
	SenderName            string    `json:"senderName"`
	ReceiverAccountNumber string    `json:"receiverAccountNumber"`
	ReceiverName          string    `json:"receiverName"`
	External              bool      `json:"external"`
	Amount                string    `json:"amount"`
	Currency              string    `json:"currency"`
	PaymentCode           string    `json:"paymentCode,omitempty"`
	Purpose               string    `json:"purpose,omitempty"`
	ReferenceNumber       string    `json:"referenceNumber,omitempty"`
	OutAmount             string    `json:"outAmount,omitempty"`
	OutCurrency           string    `json:"outCurrency,omitempty"`
	ExchangeRate          string    `json:"exchangeRate,omitempty"`
	Fee                   string    `json:"fee,omitempty"`
	Status                string    `json:"status"`
	FailReason            string    `json:"failReason,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

func toPaymentDTO(p *domain.Payment) *PaymentDTO {
	dto := &PaymentDTO{
		ID:                    p.ID,
		Kind:                  string(p.Kind),
		SenderAccountNumber:   p.SenderAccountNumber,
		SenderName:            p.SenderName,
		ReceiverAccountNumber: p.ReceiverAccountNumber,
		ReceiverName:          p.ReceiverName,
		External:              p.External,
		Amount:                p.Amount.StringFixed(2),
		Currency:              p.SenderCurrency,
		PaymentCode:           p.PaymentCode,
		Purpose:               p.Purpose,
		ReferenceNumber:       p.ReferenceNumber,
		Status:                string(p.Status),
		FailReason:            p.FailReason,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
	if q := p.Quote; q != nil {
		dto.OutAmount = q.OutAmount.StringFixed(2)
		dto.OutCurrency = q.OutCurrency
		dto.ExchangeRate = q.ExchangeRate.String()
		dto.Fee = q.Fee.StringFixed(2)
	}
	return dto
}
