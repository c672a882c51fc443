// Package consumer 交易队列消费端：解码信封并按类型分发到结算流程
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"github.com/wyfcoding/banksettlement/pkg/metrics"
	"github.com/wyfcoding/banksettlement/pkg/mq"
)

// Settler 本行结算与取消
type Settler interface {
	Settle(ctx context.Context, paymentID int64) error
	Cancel(ctx context.Context, paymentID int64) error
}

// ExternalProcessor 跨行提交
type ExternalProcessor interface {
	Process(ctx context.Context, paymentID int64) error
}

// LoanHandler 贷款相关消息，未部署贷款模块时为空
type LoanHandler interface {
	ApproveLoan(ctx context.Context, loanID, userID int64) error
	PayInstallment(ctx context.Context, installmentID, userID int64) error
}

// Dispatcher 消息分发器
type Dispatcher struct {
	settler   Settler
	interbank ExternalProcessor
	loans     LoanHandler
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatcher 创建分发器，loans 可为空
func NewDispatcher(settler Settler, interbank ExternalProcessor, loans LoanHandler, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{settler: settler, interbank: interbank, loans: loans, metrics: m, logger: logger}
}

// HandleMessage 处理一条原始消息。无法解码的消息记录后丢弃，不阻塞后续消息。
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) error {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.metrics.IncDispatched("unknown", "malformed")
		d.logger.ErrorContext(ctx, "dropping malformed envelope", "error", err)
		return nil
	}
	return d.Dispatch(ctx, &env)
}

// KafkaHandler 适配 mq.Consumer
func (d *Dispatcher) KafkaHandler() mq.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		return d.HandleMessage(ctx, msg.Value)
	}
}

// Dispatch 解出命令并调用对应流程，处理函数的 panic 被捕获为错误
func (d *Dispatcher) Dispatch(ctx context.Context, env *domain.Envelope) (err error) {
	cmd, derr := env.Decode()
	if derr != nil {
		d.metrics.IncDispatched(string(env.Type), "malformed")
		d.logger.ErrorContext(ctx, "dropping undecodable envelope", "type", env.Type, "error", derr)
		return nil
	}
	kind := string(cmd.Kind())

	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncDispatched(kind, "panic")
			d.logger.ErrorContext(ctx, "envelope handler panicked", "type", kind, "target_id", cmd.TargetID(),
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s handler panicked: %v", kind, r)
		}
	}()

	handled := true
	switch c := cmd.(type) {
	case domain.ConfirmPayment:
		err = d.settler.Settle(ctx, c.PaymentID)
	case domain.ConfirmTransfer:
		err = d.settler.Settle(ctx, c.PaymentID)
	case domain.RejectPayment:
		err = d.settler.Cancel(ctx, c.PaymentID)
	case domain.ProcessExternalPayment:
		err = d.interbank.Process(ctx, c.PaymentID)
	case domain.ApproveLoan:
		if d.loans == nil {
			handled = false
			break
		}
		err = d.loans.ApproveLoan(ctx, c.LoanID, env.UserID)
	case domain.PayInstallment:
		if d.loans == nil {
			handled = false
			break
		}
		err = d.loans.PayInstallment(ctx, c.InstallmentID, env.UserID)
	default:
		handled = false
	}

	switch {
	case !handled:
		d.metrics.IncDispatched(kind, "unhandled")
		d.logger.WarnContext(ctx, "no handler for envelope", "type", kind, "target_id", cmd.TargetID())
	case err != nil:
		d.metrics.IncDispatched(kind, "error")
		d.logger.ErrorContext(ctx, "envelope handler failed", "type", kind, "target_id", cmd.TargetID(), "error", err)
	default:
		d.metrics.IncDispatched(kind, "ok")
	}
	return err
}
