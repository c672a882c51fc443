package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	accountmemory "github.com/wyfcoding/banksettlement/internal/account/infrastructure/persistence/memory"
	clearing "github.com/wyfcoding/banksettlement/internal/clearing/domain"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"github.com/wyfcoding/banksettlement/internal/settlement/infrastructure/persistence/memory"
	treasury "github.com/wyfcoding/banksettlement/internal/treasury/application"
	treasurymemory "github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/memory"
	"github.com/wyfcoding/banksettlement/pkg/logger"
	"github.com/wyfcoding/banksettlement/pkg/retry"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NextID() int64 { return s.n.Add(1) }

type queued struct {
	cmd     domain.Command
	delayed bool
}

type recordingQueue struct {
	mu   sync.Mutex
	msgs []queued
}

func (q *recordingQueue) Enqueue(_ context.Context, cmd domain.Command, _ int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, queued{cmd: cmd})
}

func (q *recordingQueue) EnqueueDelayed(_ context.Context, cmd domain.Command, _ int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, queued{cmd: cmd, delayed: true})
}

func (q *recordingQueue) all() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queued(nil), q.msgs...)
}

type countingVerification struct {
	calls []domain.VerificationRequest
	err   error
}

func (v *countingVerification) CreateVerificationRequest(_ context.Context, req domain.VerificationRequest) error {
	v.calls = append(v.calls, req)
	return v.err
}

// scriptedPartner 按顺序返回预设的提交结果，用尽后一直成功
type scriptedPartner struct {
	mu       sync.Mutex
	notReady bool
	commits  []error
	calls    int
	last     *clearing.TransferRequest
}

func (p *scriptedPartner) Prepare(_ context.Context, req *clearing.TransferRequest) (*clearing.NegotiationResult, error) {
	if p.notReady {
		return clearing.NotReady("receiver account does not exist or is inactive"), nil
	}
	return clearing.ReadyQuote("ready", req.Amount, req.ToCurrencyID, decimal.NewFromInt(1), decimal.Zero), nil
}

func (p *scriptedPartner) Commit(_ context.Context, req *clearing.TransferRequest) (*clearing.CommitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = req
	i := p.calls
	p.calls++
	if i < len(p.commits) && p.commits[i] != nil {
		return nil, p.commits[i]
	}
	return &clearing.CommitResult{Success: true, Message: "committed"}, nil
}

func (p *scriptedPartner) Cancel(context.Context, *clearing.TransferRequest) (*clearing.CancelResult, error) {
	return &clearing.CancelResult{Success: true}, nil
}

var errPartnerDown = errors.New("partner unavailable")

type fixture struct {
	t            *testing.T
	ledger       *accountmemory.Ledger
	repo         *memory.PaymentRepository
	rates        *treasury.RateResolver
	queue        *recordingQueue
	verification *countingVerification
	partner      *scriptedPartner
	gate         *PaymentCommandService
	settlement   *SettlementService
	interbank    *InterbankSender
	query        *PaymentQueryService
	now          time.Time
}

const (
	clientA = int64(1)
	clientB = int64(2)
)

func account(number string, client int64, currency, balance string) *accountdomain.Account {
	return &accountdomain.Account{
		AccountNumber:    number,
		ClientID:         client,
		OwnerName:        "owner " + number,
		Currency:         currency,
		Balance:          d(balance),
		AvailableBalance: d(balance),
		Status:           accountdomain.AccountStatusActive,
		Kind:             accountdomain.AccountKindClient,
	}
}

func bankAccount(number, currency string) *accountdomain.Account {
	return &accountdomain.Account{
		AccountNumber:    number,
		Currency:         currency,
		Balance:          d("1000000"),
		AvailableBalance: d("1000000"),
		Status:           accountdomain.AccountStatusActive,
		Kind:             accountdomain.AccountKindBank,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t: t,
		ledger: accountmemory.NewLedger(
			account("111-A-RSD", clientA, "RSD", "1000"),
			account("111-A-EUR", clientA, "EUR", "100"),
			account("111-B-RSD", clientB, "RSD", "200"),
			account("111-B-USD", clientB, "USD", "0"),
			bankAccount("111-BANK-RSD", "RSD"),
			bankAccount("111-BANK-EUR", "EUR"),
			bankAccount("111-BANK-USD", "USD"),
		),
		queue:        &recordingQueue{},
		verification: &countingVerification{},
		partner:      &scriptedPartner{},
		now:          time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	f.repo = memory.NewPaymentRepository().WithClock(func() time.Time { return f.now })

	f.rates = treasury.NewRateResolver(treasurymemory.NewRateRepository(),
		treasury.ResolverConfig{HomeCurrency: "RSD", Commission: d("0.99"), AmountScale: 2}, logger.Discard())
	ctx := context.Background()
	for _, cmd := range []treasury.SaveRateCommand{
		{From: "EUR", To: "RSD", Rate: d("117.2")},
		{From: "USD", To: "RSD", Rate: d("108.5")},
	} {
		if err := f.rates.SaveRate(ctx, cmd); err != nil {
			t.Fatal(err)
		}
	}

	cfg := DefaultSenderConfig()
	cfg.Policy = retry.Policy{MaxAttempts: 3}
	f.interbank = NewInterbankSender(f.repo, f.ledger, f.partner, f.queue, cfg, nil, logger.Discard())
	f.interbank.now = func() time.Time { return f.now }
	f.settlement = NewSettlementService(f.repo, f.ledger, f.rates, f.interbank, nil, logger.Discard())
	f.gate = NewPaymentCommandService(GateDeps{
		Payments:     f.repo,
		Ledger:       f.ledger,
		Verification: f.verification,
		Queue:        f.queue,
		Router:       domain.NewAccountRouter([]string{"222"}),
		IDs:          &seqIDs{},
		HomeCurrency: "RSD",
		Logger:       logger.Discard(),
	})
	f.query = NewPaymentQueryService(f.repo)
	return f
}

func (f *fixture) balance(number string) (balance, available decimal.Decimal) {
	f.t.Helper()
	acc, err := f.ledger.FindByNumber(context.Background(), number)
	if err != nil {
		f.t.Fatal(err)
	}
	return acc.Balance, acc.AvailableBalance
}

func (f *fixture) assertBalance(number, balance, available string) {
	f.t.Helper()
	b, a := f.balance(number)
	if !b.Equal(d(balance)) || !a.Equal(d(available)) {
		f.t.Fatalf("%s balance=%s available=%s, want %s/%s", number, b, a, balance, available)
	}
}

func (f *fixture) payment(id int64) *domain.Payment {
	f.t.Helper()
	p, err := f.repo.Get(context.Background(), id)
	if err != nil {
		f.t.Fatal(err)
	}
	return p
}

func (f *fixture) assertStatus(id int64, want domain.PaymentStatus) {
	f.t.Helper()
	if got := f.payment(id).Status; got != want {
		f.t.Fatalf("payment %d status = %s, want %s (reason %q)", id, got, want, f.payment(id).FailReason)
	}
}

// drain 依次处理队列中的消息，与消费端的分发规则一致
func (f *fixture) drain(ctx context.Context) {
	f.t.Helper()
	for i := 0; i < len(f.queue.all()); i++ {
		switch c := f.queue.all()[i].cmd.(type) {
		case domain.ConfirmPayment:
			_ = f.settlement.Settle(ctx, c.PaymentID)
		case domain.ConfirmTransfer:
			_ = f.settlement.Settle(ctx, c.PaymentID)
		case domain.RejectPayment:
			_ = f.settlement.Cancel(ctx, c.PaymentID)
		case domain.ProcessExternalPayment:
			_ = f.interbank.Process(ctx, c.PaymentID)
		}
	}
}
