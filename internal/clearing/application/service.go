package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	"github.com/wyfcoding/banksettlement/internal/clearing/domain"
)

// RateSource 市场汇率（不含佣金）
type RateSource interface {
	MarketRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Config 收款行参数
type Config struct {
	// 跨币种入账收取的手续费率，如 0.01
	FeeRate     decimal.Decimal
	AmountScale int32
}

// Service 收款行一侧的跨行结算协议实现
type Service struct {
	ledger accountdomain.Ledger
	rates  RateSource
	guard  domain.BranchGuard
	cfg    Config
	logger *slog.Logger
}

var _ domain.Protocol = (*Service)(nil)

// NewService 创建收款行服务，guard 为空时提交与撤销不去重
func NewService(ledger accountdomain.Ledger, rates RateSource, guard domain.BranchGuard, cfg Config, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, rates: rates, guard: guard, cfg: cfg, logger: logger}
}

// Prepare 校验收款账户并报价，只读
func (s *Service) Prepare(ctx context.Context, req *domain.TransferRequest) (*domain.NegotiationResult, error) {
	if !req.Amount.IsPositive() {
		return notReady("amount must be positive"), nil
	}
	acc, err := s.ledger.FindByNumber(ctx, req.ToAccountNumber)
	if err != nil {
		if errors.Is(err, accountdomain.ErrAccountNotFound) {
			return notReady("receiver account does not exist or is inactive"), nil
		}
		return nil, err
	}
	if !acc.IsActive() {
		return notReady("receiver account does not exist or is inactive"), nil
	}
	if !strings.EqualFold(acc.Currency, req.ToCurrencyID) {
		return notReady("receiver currency does not match the expected currency"), nil
	}

	if strings.EqualFold(req.FromCurrencyID, req.ToCurrencyID) {
		return domain.ReadyQuote("ready to commit", req.Amount, acc.Currency, decimal.NewFromInt(1), decimal.Zero), nil
	}

	rate, err := s.rates.MarketRate(ctx, req.FromCurrencyID, req.ToCurrencyID)
	if err != nil {
		s.logger.WarnContext(ctx, "interbank quote failed", "from", req.FromCurrencyID, "to", req.ToCurrencyID, "error", err)
		return notReady(fmt.Sprintf("currency conversion failed: %v", err)), nil
	}
	gross := req.Amount.Mul(rate)
	fee := gross.Mul(s.cfg.FeeRate).Round(s.cfg.AmountScale)
	final := gross.Round(s.cfg.AmountScale).Sub(fee)
	return domain.ReadyQuote("ready to commit", final, acc.Currency, rate, fee), nil
}

// Commit 为收款账户入账。带事务号时经分支屏障执行，重复提交不重复入账。
func (s *Service) Commit(ctx context.Context, req *domain.TransferRequest) (*domain.CommitResult, error) {
	if !req.Amount.IsPositive() {
		return &domain.CommitResult{Success: false, Message: "amount must be positive"}, nil
	}

	var err error
	if req.TransactionID == "" || s.guard == nil {
		err = s.ledger.Credit(ctx, req.ToAccountNumber, req.Amount)
	} else {
		err = s.guard.Run(ctx, req.TransactionID, domain.PhaseCommit, func(ctx context.Context, l domain.GuardedLedger) error {
			return l.Credit(ctx, req.ToAccountNumber, req.Amount)
		})
	}
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "interbank credit committed", "transaction_id", req.TransactionID,
			"account_number", req.ToAccountNumber, "amount", req.Amount.String())
		return &domain.CommitResult{Success: true, Message: "committed"}, nil
	case errors.Is(err, domain.ErrDuplicate):
		s.logger.InfoContext(ctx, "duplicate interbank commit ignored", "transaction_id", req.TransactionID)
		return &domain.CommitResult{Success: true, Message: "already processed"}, nil
	default:
		s.logger.ErrorContext(ctx, "interbank commit failed", "transaction_id", req.TransactionID,
			"account_number", req.ToAccountNumber, "error", err)
		return &domain.CommitResult{Success: false, Message: err.Error()}, nil
	}
}

// Cancel 冲正此前的入账，余额不足时记录日志后不做处理
func (s *Service) Cancel(ctx context.Context, req *domain.TransferRequest) (*domain.CancelResult, error) {
	var reversed bool
	reverse := func(ctx context.Context, l domain.GuardedLedger) error {
		ok, err := l.ReverseCredit(ctx, req.ToAccountNumber, req.Amount)
		reversed = ok
		return err
	}

	var err error
	if req.TransactionID == "" || s.guard == nil {
		err = reverse(ctx, s.ledger)
	} else {
		err = s.guard.Run(ctx, req.TransactionID, domain.PhaseCancel, reverse)
	}
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		return &domain.CancelResult{Success: true, Message: "already processed"}, nil
	case errors.Is(err, accountdomain.ErrAccountNotFound):
		s.logger.WarnContext(ctx, "no receiver to roll back", "account_number", req.ToAccountNumber)
		return &domain.CancelResult{Success: false, Message: "receiver account not found"}, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "interbank cancel failed", "transaction_id", req.TransactionID, "error", err)
		return &domain.CancelResult{Success: false, Message: err.Error()}, nil
	case !reversed:
		s.logger.WarnContext(ctx, "balance too low to roll back credit", "transaction_id", req.TransactionID,
			"account_number", req.ToAccountNumber, "amount", req.Amount.String())
		return &domain.CancelResult{Success: false, Message: "insufficient balance to roll back"}, nil
	}
	s.logger.InfoContext(ctx, "interbank credit rolled back", "transaction_id", req.TransactionID, "account_number", req.ToAccountNumber)
	return &domain.CancelResult{Success: true, Message: "rolled back"}, nil
}

func notReady(msg string) *domain.NegotiationResult {
	return domain.NotReady(msg)
}
