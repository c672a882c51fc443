package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	clearing "github.com/wyfcoding/banksettlement/internal/clearing/domain"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"github.com/wyfcoding/banksettlement/pkg/metrics"
	"github.com/wyfcoding/banksettlement/pkg/retry"
)

// SenderConfig 跨行付款参数
type SenderConfig struct {
	// 提交重试策略，默认 3 次、间隔 5 秒
	Policy retry.Policy
	// 待重试记录停留超过该时长后由恢复任务重新投递
	RecoveryAfter    time.Duration
	RecoveryInterval time.Duration
	RecoveryBatch    int
}

// DefaultSenderConfig 默认参数
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Policy:           retry.Policy{MaxAttempts: 3, Delay: 5 * time.Second},
		RecoveryAfter:    5 * time.Minute,
		RecoveryInterval: time.Minute,
		RecoveryBatch:    100,
	}
}

// InterbankSender 付款行一侧的跨行结算：准备、预留资金、带重试的提交与回滚
type InterbankSender struct {
	repo    domain.PaymentRepository
	ledger  accountdomain.Ledger
	partner domain.PartnerBank
	queue   domain.TransactionQueue
	cfg     SenderConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewInterbankSender 创建跨行付款执行器
func NewInterbankSender(repo domain.PaymentRepository, ledger accountdomain.Ledger, partner domain.PartnerBank, queue domain.TransactionQueue, cfg SenderConfig, m *metrics.Metrics, logger *slog.Logger) *InterbankSender {
	if cfg.RecoveryBatch <= 0 {
		cfg.RecoveryBatch = 100
	}
	return &InterbankSender{
		repo:    repo,
		ledger:  ledger,
		partner: partner,
		queue:   queue,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Begin 向对手行询价；就绪则预留付款资金、记录报价并投递延迟提交消息
func (s *InterbankSender) Begin(ctx context.Context, p *domain.Payment) error {
	started := time.Now()
	req := transferRequest(p, p.Amount, p.ReceiverCurrency)

	res, err := s.partner.Prepare(ctx, req)
	if err != nil {
		s.cancel(ctx, p.ID, domain.StatusPendingConfirmation, fmt.Sprintf("partner prepare failed: %v", err), started)
		return nil
	}
	if !res.Ready {
		s.cancel(ctx, p.ID, domain.StatusPendingConfirmation, fmt.Sprintf("partner not ready: %s", res.Message), started)
		return nil
	}

	if err := s.ledger.Reserve(ctx, p.SenderAccountNumber, p.Amount); err != nil {
		s.cancel(ctx, p.ID, domain.StatusPendingConfirmation, fmt.Sprintf("reserve funds: %v", err), started)
		if errors.Is(err, accountdomain.ErrInsufficientFunds) {
			return domain.ErrInsufficientFunds
		}
		return err
	}

	// 对手行未给出的报价字段按原额、原币种、汇率 1 记录
	quote := &domain.Quote{
		OutAmount:    p.Amount,
		OutCurrency:  res.Currency(),
		ExchangeRate: decimal.NewFromInt(1),
		Fee:          decimal.Zero,
	}
	if res.FinalAmount.Valid {
		quote.OutAmount = res.FinalAmount.Decimal
	}
	if res.ExchangeRate.Valid {
		quote.ExchangeRate = res.ExchangeRate.Decimal
	}
	if res.Fee.Valid {
		quote.Fee = res.Fee.Decimal
	}
	if quote.OutCurrency == "" {
		quote.OutCurrency = p.ReceiverCurrency
	}
	err = s.repo.CompareAndSet(ctx, p.ID, domain.StatusPendingConfirmation, domain.StatusRetryPending, domain.Transition{Quote: quote})
	if err != nil {
		if rerr := s.ledger.Release(context.WithoutCancel(ctx), p.SenderAccountNumber, p.Amount); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to release reservation", "payment_id", p.ID, "error", rerr)
		}
		if errors.Is(err, domain.ErrStaleStatus) {
			s.logger.InfoContext(ctx, "payment claimed by another worker", "payment_id", p.ID)
			return nil
		}
		return err
	}

	s.queue.EnqueueDelayed(ctx, domain.ProcessExternalPayment{PaymentID: p.ID}, p.ClientID)
	s.logger.InfoContext(ctx, "interbank payment reserved", "payment_id", p.ID,
		"final_amount", quote.OutAmount.String(), "final_currency", quote.OutCurrency)
	return nil
}

// Process 在重试预算内向对手行提交。成功则扣账完成，预算耗尽则释放预留并取消，
// 等待期间 ctx 结束时保持待重试状态，交给恢复任务。
func (s *InterbankSender) Process(ctx context.Context, id int64) error {
	started := time.Now()
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != domain.StatusRetryPending {
		s.logger.InfoContext(ctx, "interbank payment not awaiting commit", "payment_id", id, "status", p.Status)
		return nil
	}

	amount, currency := p.Amount, p.ReceiverCurrency
	if p.Quote != nil {
		amount, currency = p.Quote.OutAmount, p.Quote.OutCurrency
	}
	req := transferRequest(p, amount, currency)

	outcome := retry.Do(ctx, s.cfg.Policy, func(ctx context.Context, attempt int) (bool, error) {
		res, err := s.partner.Commit(ctx, req)
		if err != nil {
			s.metrics.IncInterbankAttempt("error")
			s.logger.WarnContext(ctx, "interbank commit attempt failed", "payment_id", id, "attempt", attempt, "error", err)
			return false, err
		}
		if !res.Success {
			s.metrics.IncInterbankAttempt("rejected")
			s.logger.WarnContext(ctx, "interbank commit rejected", "payment_id", id, "attempt", attempt, "message", res.Message)
			return false, fmt.Errorf("partner rejected commit: %s", res.Message)
		}
		s.metrics.IncInterbankAttempt("success")
		return true, nil
	})

	switch outcome.Result {
	case retry.Succeeded:
		// 先迁移状态再扣账，并发的重复处理只有一方能走到扣账
		if err := s.repo.CompareAndSet(ctx, id, domain.StatusRetryPending, domain.StatusCompleted, domain.Transition{}); err != nil {
			return s.lostRace(ctx, id, err)
		}
		if err := s.ledger.CaptureReserved(context.WithoutCancel(ctx), p.SenderAccountNumber, p.Amount); err != nil {
			s.logger.ErrorContext(ctx, "partner committed but capture failed", "payment_id", id, "error", err)
			return err
		}
		s.metrics.ObserveSettlement(routeInterbank, "completed", started)
		s.logger.InfoContext(ctx, "interbank payment completed", "payment_id", id, "attempts", outcome.Attempts)
		return nil

	case retry.Exhausted:
		reason := fmt.Sprintf("partner commit failed after %d attempts", outcome.Attempts)
		if outcome.LastErr != nil {
			reason = fmt.Sprintf("%s: %v", reason, outcome.LastErr)
		}
		if err := s.repo.CompareAndSet(ctx, id, domain.StatusRetryPending, domain.StatusCanceled, domain.Transition{FailReason: reason}); err != nil {
			return s.lostRace(ctx, id, err)
		}
		if err := s.ledger.Release(context.WithoutCancel(ctx), p.SenderAccountNumber, p.Amount); err != nil {
			s.logger.ErrorContext(ctx, "failed to release reservation", "payment_id", id, "error", err)
			return err
		}
		s.metrics.ObserveSettlement(routeInterbank, "canceled", started)
		s.logger.WarnContext(ctx, "interbank payment rolled back", "payment_id", id, "reason", reason)
		return nil

	default:
		s.logger.WarnContext(ctx, "interbank commit interrupted", "payment_id", id, "attempts", outcome.Attempts)
		return ctx.Err()
	}
}

// RecoveryReport 一次巡检的结果
type RecoveryReport struct {
	// 重新投递的待重试记录数
	Requeued int
	// 停在处理中的本行结算，账本状态未知，需人工核对
	Stuck []int64
}

// Recover 巡检长时间未推进的记录：待重试的重新投递，停在处理中的本行结算只告警不改状态
func (s *InterbankSender) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	before := s.now().Add(-s.cfg.RecoveryAfter)
	stale, err := s.repo.FindStale(ctx, domain.StatusRetryPending, before, s.cfg.RecoveryBatch)
	if err != nil {
		return report, err
	}
	for _, p := range stale {
		s.queue.Enqueue(ctx, domain.ProcessExternalPayment{PaymentID: p.ID}, p.ClientID)
	}
	report.Requeued = len(stale)
	if report.Requeued > 0 {
		s.logger.InfoContext(ctx, "re-enqueued stale interbank payments", "count", report.Requeued)
	}

	stuck, err := s.repo.FindStale(ctx, domain.StatusProcessing, before, s.cfg.RecoveryBatch)
	if err != nil {
		return report, err
	}
	for _, p := range stuck {
		report.Stuck = append(report.Stuck, p.ID)
		s.logger.ErrorContext(ctx, "local settlement stuck in processing, manual review required",
			"payment_id", p.ID, "sender", p.SenderAccountNumber, "receiver", p.ReceiverAccountNumber,
			"amount", p.Amount.String(), "updated_at", p.UpdatedAt)
	}
	s.metrics.SetStuckPayments(len(stuck))
	return report, nil
}

// RunRecovery 周期执行 Recover 直到 ctx 结束
func (s *InterbankSender) RunRecovery(ctx context.Context) error {
	interval := s.cfg.RecoveryInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Recover(ctx); err != nil {
				s.logger.ErrorContext(ctx, "interbank recovery sweep failed", "error", err)
			}
		}
	}
}

func (s *InterbankSender) cancel(ctx context.Context, id int64, from domain.PaymentStatus, reason string, started time.Time) {
	if err := s.repo.CompareAndSet(ctx, id, from, domain.StatusCanceled, domain.Transition{FailReason: reason}); err != nil {
		s.logger.ErrorContext(ctx, "failed to cancel interbank payment", "payment_id", id, "error", err)
		return
	}
	s.metrics.ObserveSettlement(routeInterbank, "canceled", started)
	s.logger.WarnContext(ctx, "interbank payment canceled", "payment_id", id, "reason", reason)
}

func (s *InterbankSender) lostRace(ctx context.Context, id int64, err error) error {
	if errors.Is(err, domain.ErrStaleStatus) {
		s.logger.InfoContext(ctx, "interbank payment finished by another worker", "payment_id", id)
		return nil
	}
	return err
}

func transferRequest(p *domain.Payment, amount decimal.Decimal, toCurrency string) *clearing.TransferRequest {
	return &clearing.TransferRequest{
		FromAccountNumber: p.SenderAccountNumber,
		FromCurrencyID:    p.SenderCurrency,
		ToAccountNumber:   p.ReceiverAccountNumber,
		ToCurrencyID:      toCurrency,
		Amount:            amount,
		CodeID:            p.PaymentCode,
		ReferenceNumber:   p.ReferenceNumber,
		Purpose:           p.Purpose,
		TransactionID:     strconv.FormatInt(p.ID, 10),
	}
}
