package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"github.com/wyfcoding/banksettlement/pkg/metrics"
)

const (
	routeLocal     = "local"
	routeInterbank = "interbank"
)

// RateConverter 汇率换算。Convert 含佣金，返回换算后金额与所用汇率；ConvertAtMarket 不含佣金。
type RateConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, decimal.Decimal, error)
	ConvertAtMarket(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
	HomeCurrency() string
}

// SettlementService 结算执行：本行划转经本币清算账户完成，跨行交给 InterbankSender
type SettlementService struct {
	repo      domain.PaymentRepository
	ledger    accountdomain.Ledger
	rates     RateConverter
	interbank *InterbankSender
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSettlementService 创建结算执行器
func NewSettlementService(repo domain.PaymentRepository, ledger accountdomain.Ledger, rates RateConverter, interbank *InterbankSender, m *metrics.Metrics, logger *slog.Logger) *SettlementService {
	return &SettlementService{repo: repo, ledger: ledger, rates: rates, interbank: interbank, metrics: m, logger: logger}
}

// Settle 结算一条已确认的记录，非待确认状态直接返回
func (s *SettlementService) Settle(ctx context.Context, id int64) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != domain.StatusPendingConfirmation {
		s.logger.InfoContext(ctx, "payment already settled or in flight", "payment_id", id, "status", p.Status)
		return nil
	}
	if p.External {
		if s.interbank == nil {
			return s.fail(ctx, p, domain.StatusPendingConfirmation, "interbank settlement unavailable", routeInterbank, time.Now())
		}
		return s.interbank.Begin(ctx, p)
	}
	return s.settleLocal(ctx, p)
}

// Cancel 二次验证拒绝或过期时取消待确认记录
func (s *SettlementService) Cancel(ctx context.Context, id int64) error {
	err := s.repo.CompareAndSet(ctx, id, domain.StatusPendingConfirmation, domain.StatusCanceled,
		domain.Transition{FailReason: "verification rejected"})
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "payment canceled", "payment_id", id)
		return nil
	case errors.Is(err, domain.ErrStaleStatus):
		s.logger.InfoContext(ctx, "payment no longer cancelable", "payment_id", id)
		return nil
	default:
		return err
	}
}

func (s *SettlementService) settleLocal(ctx context.Context, p *domain.Payment) error {
	started := time.Now()
	if err := s.repo.CompareAndSet(ctx, p.ID, domain.StatusPendingConfirmation, domain.StatusProcessing, domain.Transition{}); err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			s.logger.InfoContext(ctx, "payment claimed by another worker", "payment_id", p.ID)
			return nil
		}
		return err
	}

	sender, err := s.ledger.FindByNumber(ctx, p.SenderAccountNumber)
	if err != nil {
		return s.fail(ctx, p, domain.StatusProcessing, fmt.Sprintf("sender account: %v", err), routeLocal, started)
	}
	if !sender.CanCover(p.Amount) {
		s.cancel(ctx, p, domain.StatusProcessing, "insufficient funds", routeLocal, started)
		return domain.ErrInsufficientFunds
	}
	receiver, err := s.ledger.FindByNumber(ctx, p.ReceiverAccountNumber)
	if err != nil {
		return s.fail(ctx, p, domain.StatusProcessing, fmt.Sprintf("receiver account: %v", err), routeLocal, started)
	}
	if !receiver.IsActive() {
		return s.fail(ctx, p, domain.StatusProcessing, "receiver account is not active", routeLocal, started)
	}

	home := s.rates.HomeCurrency()
	clearing, err := s.ledger.FindBankAccount(ctx, home)
	if err != nil {
		return s.fail(ctx, p, domain.StatusProcessing, fmt.Sprintf("clearing account %s: %v", home, err), routeLocal, started)
	}

	// 换算在任何余额变动之前完成。客户只承担一次佣金，同币种原额到账；
	// 清算账户按市场价记入再等额记出，自身不产生净额。
	out, rate, err := s.rates.Convert(ctx, p.Amount, sender.Currency, receiver.Currency)
	if err != nil {
		return s.fail(ctx, p, domain.StatusProcessing, fmt.Sprintf("rate %s->%s: %v", sender.Currency, receiver.Currency, err), routeLocal, started)
	}
	bridge, err := s.rates.ConvertAtMarket(ctx, p.Amount, sender.Currency, home)
	if err != nil {
		return s.fail(ctx, p, domain.StatusProcessing, fmt.Sprintf("rate %s->%s: %v", sender.Currency, home, err), routeLocal, started)
	}

	steps := []ledgerStep{
		debitStep(s.ledger, sender.AccountNumber, p.Amount),
		creditStep(s.ledger, clearing.AccountNumber, bridge),
		debitStep(s.ledger, clearing.AccountNumber, bridge),
		creditStep(s.ledger, receiver.AccountNumber, out),
	}
	if err := s.apply(ctx, p.ID, steps); err != nil {
		if errors.Is(err, accountdomain.ErrInsufficientFunds) {
			s.cancel(ctx, p, domain.StatusProcessing, err.Error(), routeLocal, started)
			return fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, err)
		}
		return s.fail(ctx, p, domain.StatusProcessing, err.Error(), routeLocal, started)
	}

	quote := &domain.Quote{
		OutAmount:    out,
		OutCurrency:  receiver.Currency,
		ExchangeRate: rate,
		Fee:          decimal.Zero,
	}
	if err := s.repo.CompareAndSet(ctx, p.ID, domain.StatusProcessing, domain.StatusCompleted, domain.Transition{Quote: quote}); err != nil {
		// 余额已全部落账，状态写入失败只能人工核对
		s.logger.ErrorContext(ctx, "ledger settled but status update failed", "payment_id", p.ID, "error", err)
		return err
	}
	s.metrics.ObserveSettlement(routeLocal, "completed", started)
	s.logger.InfoContext(ctx, "payment completed", "payment_id", p.ID,
		"amount", p.Amount.String(), "out_amount", out.String(), "out_currency", receiver.Currency)
	return nil
}

// ledgerStep 单账户变更及其补偿
type ledgerStep struct {
	name    string
	execute func(ctx context.Context) error
	undo    func(ctx context.Context) error
}

func debitStep(ledger accountdomain.Ledger, number string, amount decimal.Decimal) ledgerStep {
	return ledgerStep{
		name:    "debit " + number,
		execute: func(ctx context.Context) error { return ledger.Debit(ctx, number, amount) },
		undo:    func(ctx context.Context) error { return ledger.Credit(ctx, number, amount) },
	}
}

func creditStep(ledger accountdomain.Ledger, number string, amount decimal.Decimal) ledgerStep {
	return ledgerStep{
		name:    "credit " + number,
		execute: func(ctx context.Context) error { return ledger.Credit(ctx, number, amount) },
		undo: func(ctx context.Context) error {
			_, err := ledger.ReverseCredit(ctx, number, amount)
			return err
		},
	}
}

// apply 顺序执行，失败时按相反顺序补偿已完成的步骤
func (s *SettlementService) apply(ctx context.Context, paymentID int64, steps []ledgerStep) error {
	for i, step := range steps {
		if err := step.execute(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				// 补偿不随请求取消而中断
				if uerr := steps[j].undo(context.WithoutCancel(ctx)); uerr != nil {
					s.logger.ErrorContext(ctx, "compensation failed", "payment_id", paymentID, "step", steps[j].name, "error", uerr)
				}
			}
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (s *SettlementService) cancel(ctx context.Context, p *domain.Payment, from domain.PaymentStatus, reason, route string, started time.Time) {
	if err := s.repo.CompareAndSet(ctx, p.ID, from, domain.StatusCanceled, domain.Transition{FailReason: reason}); err != nil {
		s.logger.ErrorContext(ctx, "failed to cancel payment", "payment_id", p.ID, "error", err)
		return
	}
	s.metrics.ObserveSettlement(route, "canceled", started)
	s.logger.WarnContext(ctx, "payment canceled", "payment_id", p.ID, "reason", reason)
}

func (s *SettlementService) fail(ctx context.Context, p *domain.Payment, from domain.PaymentStatus, reason, route string, started time.Time) error {
	s.cancel(ctx, p, from, reason, route, started)
	return fmt.Errorf("settle payment %d: %s", p.ID, reason)
}
