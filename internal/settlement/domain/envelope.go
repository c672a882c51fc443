package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeKind 队列消息类型
type EnvelopeKind string

const (
	KindConfirmPayment         EnvelopeKind = "CONFIRM_PAYMENT"
	KindConfirmTransfer        EnvelopeKind = "CONFIRM_TRANSFER"
	KindRejectPayment          EnvelopeKind = "REJECT_PAYMENT"
	KindProcessExternalPayment EnvelopeKind = "PROCESS_EXTERNAL_PAYMENT"
	KindApproveLoan            EnvelopeKind = "APPROVE_LOAN"
	KindPayInstallment         EnvelopeKind = "PAY_INSTALLMENT"
)

// Envelope 队列消息的线上格式
type Envelope struct {
	Type        EnvelopeKind `json:"type"`
	PayloadJSON string       `json:"payloadJson"`
	UserID      int64        `json:"userId"`
	// 毫秒时间戳
	Timestamp int64 `json:"timestamp"`
}

// Command 解码后的消息，具体类型见下方各结构体
type Command interface {
	Kind() EnvelopeKind
	TargetID() int64
	isCommand()
}

// ConfirmPayment 已确认的付款，进入结算
type ConfirmPayment struct {
	PaymentID int64 `json:"paymentId"`
}

// ConfirmTransfer 已确认的转账，进入结算
type ConfirmTransfer struct {
	PaymentID int64 `json:"paymentId"`
}

// RejectPayment 验证被拒绝或过期，取消记录
type RejectPayment struct {
	PaymentID int64 `json:"paymentId"`
}

// ProcessExternalPayment 驱动跨行提交的重试流程
type ProcessExternalPayment struct {
	PaymentID int64 `json:"paymentId"`
}

// ApproveLoan 贷款审批
type ApproveLoan struct {
	LoanID int64 `json:"loanId"`
}

// PayInstallment 分期还款
type PayInstallment struct {
	InstallmentID int64 `json:"installmentId"`
}

func (ConfirmPayment) Kind() EnvelopeKind { return KindConfirmPayment }
func (ConfirmTransfer) Kind() EnvelopeKind { return KindConfirmTransfer }
func (RejectPayment) Kind() EnvelopeKind { return KindRejectPayment }
func (ProcessExternalPayment) Kind() EnvelopeKind { return KindProcessExternalPayment }
func (ApproveLoan) Kind() EnvelopeKind { return KindApproveLoan }
func (PayInstallment) Kind() EnvelopeKind { return KindPayInstallment }
func (c ConfirmPayment) TargetID() int64 { return c.PaymentID }
func (c ConfirmTransfer) TargetID() int64 { return c.PaymentID }
func (c RejectPayment) TargetID() int64 { return c.PaymentID }
func (c ProcessExternalPayment) TargetID() int64 { return c.PaymentID }
func (c ApproveLoan) TargetID() int64 { return c.LoanID }
func (c PayInstallment) TargetID() int64 { return c.InstallmentID }
func (ConfirmPayment) isCommand() {}
func (ConfirmTransfer) isCommand() {}
func (RejectPayment) isCommand() {}
func (ProcessExternalPayment) isCommand() {}
func (ApproveLoan) isCommand() {}
func (PayInstallment) isCommand() {}

// NewEnvelope 将命令序列化为队列消息
func NewEnvelope(cmd Command, userID int64, now time.Time) (*Envelope, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", cmd.Kind(), err)
	}
	return &Envelope{
		Type:        cmd.Kind(),
		PayloadJSON: string(payload),
		UserID:      userID,
		Timestamp:   now.UnixMilli(),
	}, nil
}

// Decode 按消息类型解出具体命令
func (e *Envelope) Decode() (Command, error) {
	var cmd Command
	switch e.Type {
	case KindConfirmPayment:
		var c ConfirmPayment
		if err := e.unmarshal(&c); err != nil {
			return nil, err
		}
		cmd = c
	case KindConfirmTransfer:
		var c ConfirmTransfer
		if err := e.unmarshal(&c); err != nil {
			return nil, err
		}
		cmd = c
	case KindRejectPayment:
		var c RejectPayment
		if err := e.unmarshal(&c); err != nil {
			return nil, err
		}
		cmd = c
	case KindProcessExternalPayment:
		var c ProcessExternalPayment
		if err := e.unmarshal(&c); err != nil {
			return nil, err
		}
		cmd = c
	case KindApproveLoan:
		var c ApproveLoan
		if err := e.unmarshal(&c); err != nil {
			return nil, err
		}
		cmd = c
	case KindPayInstallment:
		var c PayInstallment
		if err := e.unmarshal(&c); err != nil {
			return nil, err
		}
		cmd = c
	default:
		return nil, fmt.Errorf("unknown envelope type %q", e.Type)
	}
	if cmd.TargetID() <= 0 {
		return nil, fmt.Errorf("%s envelope without target id", e.Type)
	}
	return cmd, nil
}

func (e *Envelope) unmarshal(dest any) error {
	if err := json.Unmarshal([]byte(e.PayloadJSON), dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ConfirmCommandFor 根据记录类型选择确认消息
func ConfirmCommandFor(p *Payment) Command {
	if p.Kind == KindTransfer {
		return ConfirmTransfer{PaymentID: p.ID}
	}
	return ConfirmPayment{PaymentID: p.ID}
}
