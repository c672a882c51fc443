package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"github.com/wyfcoding/banksettlement/pkg/idgen"
	"github.com/wyfcoding/banksettlement/pkg/metrics"
)

// GateDeps 确认门的协作方。AmountScale 为金额允许的小数位，与账本列精度一致，零值取 2。
type GateDeps struct {
	Payments     domain.PaymentRepository
	Ledger       accountdomain.Ledger
	Clients      domain.ClientDirectory
	Verification domain.VerificationGateway
	Queue        domain.TransactionQueue
	Router       domain.AccountRouter
	IDs          idgen.Generator
	HomeCurrency string
	AmountScale  int32
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// PaymentCommandService 确认门：受理付款与转账，等待二次验证后投递结算
type PaymentCommandService struct {
	repo         domain.PaymentRepository
	ledger       accountdomain.Ledger
	clients      domain.ClientDirectory
	verification domain.VerificationGateway
	queue        domain.TransactionQueue
	router       domain.AccountRouter
	ids          idgen.Generator
	homeCurrency string
	amountScale  int32
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewPaymentCommandService 创建确认门
func NewPaymentCommandService(deps GateDeps) *PaymentCommandService {
	if deps.AmountScale <= 0 {
		deps.AmountScale = 2
	}
	return &PaymentCommandService{
		repo:         deps.Payments,
		ledger:       deps.Ledger,
		clients:      deps.Clients,
		verification: deps.Verification,
		queue:        deps.Queue,
		router:       deps.Router,
		ids:          deps.IDs,
		homeCurrency: strings.ToUpper(deps.HomeCurrency),
		amountScale:  deps.AmountScale,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
	}
}

func (s *PaymentCommandService) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", "must be positive")
	}
	if !amount.Equal(amount.Round(s.amountScale)) {
		return invalid("amount", fmt.Sprintf("must have at most %d decimal places", s.amountScale))
	}
	return nil
}

// CreatePayment 受理付款
func (s *PaymentCommandService) CreatePayment(ctx context.Context, clientID int64, cmd CreatePaymentCommand) (*PaymentDTO, error) {
	if err := s.checkAmount(cmd.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.PaymentCode) == "" {
		return nil, invalid("paymentCode", "is required")
	}
	if strings.TrimSpace(cmd.Purpose) == "" {
		return nil, invalid("purpose", "is required")
	}

	sender, err := s.loadSender(ctx, clientID, cmd.SenderAccountNumber)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(sender.Currency, s.homeCurrency) {
		return nil, invalid("senderAccountNumber", fmt.Sprintf("payments must be made from a %s account", s.homeCurrency))
	}
	if cmd.ReceiverAccountNumber == sender.AccountNumber {
		return nil, invalid("receiverAccountNumber", "must differ from sender account")
	}

	p := &domain.Payment{
		ClientID:              clientID,
		Kind:                  domain.KindPayment,
		SenderAccountNumber:   sender.AccountNumber,
		SenderCurrency:        sender.Currency,
		ReceiverAccountNumber: cmd.ReceiverAccountNumber,
		ReceiverName:          cmd.ReceiverName,
		Amount:                cmd.Amount,
		PaymentCode:           cmd.PaymentCode,
		Purpose:               cmd.Purpose,
		ReferenceNumber:       cmd.ReferenceNumber,
	}
	if s.router.IsExternal(cmd.ReceiverAccountNumber) {
		p.External = true
		p.ReceiverCurrency = strings.ToUpper(cmd.ReceiverCurrency)
		if p.ReceiverCurrency == "" {
			p.ReceiverCurrency = sender.Currency
		}
	} else {
		receiver, err := s.loadReceiver(ctx, cmd.ReceiverAccountNumber)
		if err != nil {
			return nil, err
		}
		p.ReceiverCurrency = receiver.Currency
		if p.ReceiverName == "" {
			p.ReceiverName = receiver.OwnerName
		}
	}
	return s.open(ctx, sender, p, domain.VerificationPayment)
}

// CreateTransfer 受理同一客户名下账户间转账
func (s *PaymentCommandService) CreateTransfer(ctx context.Context, clientID int64, cmd CreateTransferCommand) (*PaymentDTO, error) {
	if err := s.checkAmount(cmd.Amount); err != nil {
		return nil, err
	}
	sender, err := s.loadSender(ctx, clientID, cmd.SenderAccountNumber)
	if err != nil {
		return nil, err
	}
	if cmd.ReceiverAccountNumber == sender.AccountNumber {
		return nil, invalid("receiverAccountNumber", "must differ from sender account")
	}
	if s.router.IsExternal(cmd.ReceiverAccountNumber) {
		return nil, invalid("receiverAccountNumber", "transfers are limited to own accounts")
	}
	receiver, err := s.loadReceiver(ctx, cmd.ReceiverAccountNumber)
	if err != nil {
		return nil, err
	}
	if !receiver.OwnedBy(clientID) {
		return nil, invalid("receiverAccountNumber", "transfers are limited to own accounts")
	}

	p := &domain.Payment{
		ClientID:              clientID,
		Kind:                  domain.KindTransfer,
		SenderAccountNumber:   sender.AccountNumber,
		SenderCurrency:        sender.Currency,
		ReceiverAccountNumber: receiver.AccountNumber,
		ReceiverName:          receiver.OwnerName,
		ReceiverCurrency:      receiver.Currency,
		Amount:                cmd.Amount,
	}
	return s.open(ctx, sender, p, domain.VerificationTransfer)
}

// Confirm 二次验证通过，投递结算消息，记录本身不变
func (s *PaymentCommandService) Confirm(ctx context.Context, paymentID, userID int64) error {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != domain.StatusPendingConfirmation {
		s.logger.WarnContext(ctx, "confirmation for payment not awaiting it", "payment_id", paymentID, "status", p.Status)
		return nil
	}
	s.queue.Enqueue(ctx, domain.ConfirmCommandFor(p), userID)
	return nil
}

// Reject 二次验证被拒绝或过期
func (s *PaymentCommandService) Reject(ctx context.Context, paymentID, userID int64) error {
	if _, err := s.repo.Get(ctx, paymentID); err != nil {
		return err
	}
	s.queue.Enqueue(ctx, domain.RejectPayment{PaymentID: paymentID}, userID)
	return nil
}

func (s *PaymentCommandService) open(ctx context.Context, sender *accountdomain.Account, p *domain.Payment, kind domain.VerificationKind) (*PaymentDTO, error) {
	p.ID = s.ids.NextID()
	p.SenderName = s.senderName(ctx, sender)

	// 预检可用余额，结算时还会再检查一次
	if !sender.CanCover(p.Amount) {
		p.Status = domain.StatusCanceled
		p.FailReason = "insufficient funds"
		if err := s.repo.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("save payment: %w", err)
		}
		s.metrics.IncPaymentCreated(string(p.Kind), string(p.Status))
		s.logger.InfoContext(ctx, "payment refused for insufficient funds", "payment_id", p.ID, "account_number", sender.AccountNumber)
		return toPaymentDTO(p), domain.ErrInsufficientFunds
	}

	p.Status = domain.StatusPendingConfirmation
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}

	req := domain.VerificationRequest{UserID: p.ClientID, TargetID: p.ID, Kind: kind}
	if err := s.verification.CreateVerificationRequest(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "failed to create verification request", "payment_id", p.ID, "error", err)
		if cerr := s.repo.CompareAndSet(ctx, p.ID, domain.StatusPendingConfirmation, domain.StatusCanceled,
			domain.Transition{FailReason: "verification unavailable"}); cerr != nil {
			s.logger.ErrorContext(ctx, "failed to cancel unverifiable payment", "payment_id", p.ID, "error", cerr)
		}
		return nil, fmt.Errorf("create verification request: %w", err)
	}

	s.metrics.IncPaymentCreated(string(p.Kind), string(p.Status))
	s.logger.InfoContext(ctx, "payment awaiting confirmation", "payment_id", p.ID, "kind", p.Kind, "external", p.External)
	return toPaymentDTO(p), nil
}

func (s *PaymentCommandService) loadSender(ctx context.Context, clientID int64, number string) (*accountdomain.Account, error) {
	if number == "" {
		return nil, invalid("senderAccountNumber", "is required")
	}
	acc, err := s.ledger.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, accountdomain.ErrAccountNotFound) {
			return nil, &ValidationError{Field: "senderAccountNumber", Reason: "account not found", Err: err}
		}
		return nil, err
	}
	if !acc.OwnedBy(clientID) {
		return nil, invalid("senderAccountNumber", "account does not belong to client")
	}
	if !acc.IsActive() {
		return nil, invalid("senderAccountNumber", "account is not active")
	}
	return acc, nil
}

func (s *PaymentCommandService) loadReceiver(ctx context.Context, number string) (*accountdomain.Account, error) {
	if number == "" {
		return nil, invalid("receiverAccountNumber", "is required")
	}
	acc, err := s.ledger.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, accountdomain.ErrAccountNotFound) {
			return nil, &ValidationError{Field: "receiverAccountNumber", Reason: "account not found", Err: err}
		}
		return nil, err
	}
	return acc, nil
}

// 用户服务不可用时退回账户登记的户名
func (s *PaymentCommandService) senderName(ctx context.Context, sender *accountdomain.Account) string {
	if s.clients == nil {
		return sender.OwnerName
	}
	client, err := s.clients.GetClientByID(ctx, sender.ClientID)
	if err != nil {
		s.logger.WarnContext(ctx, "client lookup failed", "client_id", sender.ClientID, "error", err)
		return sender.OwnerName
	}
	if name := client.FullName(); name != "" {
		return name
	}
	return sender.OwnerName
}
