package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
)

func TestLocalPaymentSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dto, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber:   "111-A-RSD",
		ReceiverAccountNumber: "111-B-RSD",
		Amount:                d("500"),
		PaymentCode:           "289",
		Purpose:               "rent",
	})
	if err != nil {
		t.Fatal(err)
	}
	if dto.Status != string(domain.StatusPendingConfirmation) {
		t.Fatalf("status = %s", dto.Status)
	}
	if len(f.verification.calls) != 1 || f.verification.calls[0].Kind != domain.VerificationPayment {
		t.Fatalf("verification calls = %+v", f.verification.calls)
	}
	if dto.SenderName != "owner 111-A-RSD" || dto.ReceiverName != "owner 111-B-RSD" {
		t.Fatalf("names = %q/%q", dto.SenderName, dto.ReceiverName)
	}
	// 确认前余额不变
	f.assertBalance("111-A-RSD", "1000", "1000")

	if err := f.gate.Confirm(ctx, dto.ID, clientA); err != nil {
		t.Fatal(err)
	}
	msgs := f.queue.all()
	if len(msgs) != 1 || msgs[0].cmd != (domain.ConfirmPayment{PaymentID: dto.ID}) || msgs[0].delayed {
		t.Fatalf("queue = %+v", msgs)
	}
	f.drain(ctx)

	f.assertStatus(dto.ID, domain.StatusCompleted)
	f.assertBalance("111-A-RSD", "500", "500")
	f.assertBalance("111-B-RSD", "700", "700")
	f.assertBalance("111-BANK-RSD", "1000000", "1000000")

	p := f.payment(dto.ID)
	if p.Quote == nil || !p.Quote.OutAmount.Equal(d("500")) || p.Quote.OutCurrency != "RSD" || !p.Quote.ExchangeRate.Equal(d("1")) {
		t.Fatalf("quote = %+v", p.Quote)
	}
}

func TestSettleTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dto, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("100"), PaymentCode: "289", Purpose: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := f.settlement.Settle(ctx, dto.ID); err != nil {
			t.Fatal(err)
		}
	}
	f.assertBalance("111-A-RSD", "900", "900")
	f.assertBalance("111-B-RSD", "300", "300")
	if err := f.gate.Confirm(ctx, dto.ID, clientA); err != nil {
		t.Fatal(err)
	}
	if n := len(f.queue.all()); n != 0 {
		t.Fatalf("confirmation of a settled payment enqueued %d messages", n)
	}
}

func TestCrossCurrencyTransferBridgesThroughHome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.Save(ctx, account("111-A-USD", clientA, "USD", "0")); err != nil {
		t.Fatal(err)
	}

	dto, err := f.gate.CreateTransfer(ctx, clientA, CreateTransferCommand{
		SenderAccountNumber:   "111-A-EUR",
		ReceiverAccountNumber: "111-A-USD",
		Amount:                d("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.verification.calls) != 1 || f.verification.calls[0].Kind != domain.VerificationTransfer {
		t.Fatalf("verification calls = %+v", f.verification.calls)
	}
	if err := f.gate.Confirm(ctx, dto.ID, clientA); err != nil {
		t.Fatal(err)
	}
	if msgs := f.queue.all(); len(msgs) != 1 || msgs[0].cmd != (domain.ConfirmTransfer{PaymentID: dto.ID}) {
		t.Fatalf("queue = %+v", msgs)
	}
	f.drain(ctx)

	// 佣金只收一次：10 × (EUR→RSD × RSD→USD) × 0.99
	market, err := f.rates.MarketRate(ctx, "EUR", "USD")
	if err != nil {
		t.Fatal(err)
	}
	out := d("10").Mul(market).Mul(d("0.99")).Round(2)
	twice := d("10").Mul(market).Mul(d("0.99")).Mul(d("0.99")).Round(2)
	if !out.GreaterThan(twice) {
		t.Fatalf("out %s not above double-commission amount %s", out, twice)
	}
	f.assertStatus(dto.ID, domain.StatusCompleted)
	f.assertBalance("111-A-EUR", "90", "90")
	f.assertBalance("111-A-USD", out.String(), out.String())
	f.assertBalance("111-BANK-RSD", "1000000", "1000000")
	if p := f.payment(dto.ID); !p.Quote.OutAmount.Equal(out) || p.Quote.OutCurrency != "USD" {
		t.Fatalf("quote = %+v", p.Quote)
	}
}

func TestSameCurrencyTransferMovesFullAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.Save(ctx, account("111-A-EUR2", clientA, "EUR", "0")); err != nil {
		t.Fatal(err)
	}
	dto, err := f.gate.CreateTransfer(ctx, clientA, CreateTransferCommand{
		SenderAccountNumber:   "111-A-EUR",
		ReceiverAccountNumber: "111-A-EUR2",
		Amount:                d("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.settlement.Settle(ctx, dto.ID); err != nil {
		t.Fatal(err)
	}

	f.assertStatus(dto.ID, domain.StatusCompleted)
	f.assertBalance("111-A-EUR", "0", "0")
	f.assertBalance("111-A-EUR2", "100", "100")
	f.assertBalance("111-BANK-RSD", "1000000", "1000000")
	p := f.payment(dto.ID)
	if !p.Quote.OutAmount.Equal(d("100")) || !p.Quote.ExchangeRate.Equal(d("1")) {
		t.Fatalf("quote = %+v", p.Quote)
	}
}

func TestConcurrentSettleDebitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dto, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("300"), PaymentCode: "289", Purpose: "x",
	})
	if err != nil {
		t.Fatal(err)
	}

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.settlement.Settle(ctx, dto.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Settle: %v", err)
		}
	}

	f.assertStatus(dto.ID, domain.StatusCompleted)
	f.assertBalance("111-A-RSD", "700", "700")
	f.assertBalance("111-B-RSD", "500", "500")
	f.assertBalance("111-BANK-RSD", "1000000", "1000000")
}

func TestPaymentFromForeignCurrencyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-EUR", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("10"), PaymentCode: "289", Purpose: "x",
	})
	if !IsValidation(err) {
		t.Fatalf("err = %v", err)
	}
	list, _ := f.query.ListPayments(ctx, clientA, 10, 0)
	if len(list) != 0 || len(f.verification.calls) != 0 {
		t.Fatalf("records=%d verifications=%d", len(list), len(f.verification.calls))
	}
}

func TestGateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("10"), PaymentCode: "289", Purpose: "x",
	}
	tests := []struct {
		name   string
		client int64
		mutate func(*CreatePaymentCommand)
	}{
		{"zero amount", clientA, func(c *CreatePaymentCommand) { c.Amount = d("0") }},
		{"negative amount", clientA, func(c *CreatePaymentCommand) { c.Amount = d("-1") }},
		{"sub-cent amount", clientA, func(c *CreatePaymentCommand) { c.Amount = d("10.005") }},
		{"missing code", clientA, func(c *CreatePaymentCommand) { c.PaymentCode = " " }},
		{"missing purpose", clientA, func(c *CreatePaymentCommand) { c.Purpose = "" }},
		{"same account", clientA, func(c *CreatePaymentCommand) { c.ReceiverAccountNumber = c.SenderAccountNumber }},
		{"unknown sender", clientA, func(c *CreatePaymentCommand) { c.SenderAccountNumber = "111-NOPE" }},
		{"unknown receiver", clientA, func(c *CreatePaymentCommand) { c.ReceiverAccountNumber = "111-NOPE" }},
		{"foreign sender", clientB, func(*CreatePaymentCommand) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := valid
			tt.mutate(&cmd)
			if _, err := f.gate.CreatePayment(ctx, tt.client, cmd); !IsValidation(err) {
				t.Fatalf("err = %v", err)
			}
		})
	}
	if len(f.verification.calls) != 0 {
		t.Fatalf("verification requested for invalid input: %+v", f.verification.calls)
	}

	_, err := f.gate.CreateTransfer(ctx, clientA, CreateTransferCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD", Amount: d("1"),
	})
	if !IsValidation(err) {
		t.Fatalf("transfer to another client: %v", err)
	}
	_, err = f.gate.CreateTransfer(ctx, clientA, CreateTransferCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "222-X", Amount: d("1"),
	})
	if !IsValidation(err) {
		t.Fatalf("transfer to partner bank: %v", err)
	}
	_, err = f.gate.CreateTransfer(ctx, clientA, CreateTransferCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-A-EUR", Amount: d("0.001"),
	})
	if !IsValidation(err) {
		t.Fatalf("sub-cent transfer: %v", err)
	}
	if _, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("10.500"), PaymentCode: "289", Purpose: "x",
	}); err != nil {
		t.Fatalf("trailing zeros rejected: %v", err)
	}
}

func TestInsufficientFundsAtCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dto, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("1000.01"), PaymentCode: "289", Purpose: "x",
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v", err)
	}
	if dto == nil || dto.Status != string(domain.StatusCanceled) {
		t.Fatalf("dto = %+v", dto)
	}
	if len(f.verification.calls) != 0 {
		t.Fatal("verification requested for an unfunded payment")
	}
	f.assertBalance("111-A-RSD", "1000", "1000")
	f.assertBalance("111-B-RSD", "200", "200")
}

func TestInsufficientFundsAtSettle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dto, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("600"), PaymentCode: "289", Purpose: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Debit(ctx, "111-A-RSD", d("500")); err != nil {
		t.Fatal(err)
	}

	if err := f.settlement.Settle(ctx, dto.ID); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v", err)
	}
	f.assertStatus(dto.ID, domain.StatusCanceled)
	f.assertBalance("111-A-RSD", "500", "500")
	f.assertBalance("111-B-RSD", "200", "200")
	f.assertBalance("111-BANK-RSD", "1000000", "1000000")
}

func TestRejectCancelsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dto, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("10"), PaymentCode: "289", Purpose: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.gate.Reject(ctx, dto.ID, clientA); err != nil {
		t.Fatal(err)
	}
	f.drain(ctx)
	f.assertStatus(dto.ID, domain.StatusCanceled)

	// 取消后的结算消息不产生效果
	if err := f.settlement.Settle(ctx, dto.ID); err != nil {
		t.Fatal(err)
	}
	f.assertBalance("111-A-RSD", "1000", "1000")
}

func TestVerificationFailureCancelsRecord(t *testing.T) {
	f := newFixture(t)
	f.verification.err = errors.New("identity service down")
	_, err := f.gate.CreatePayment(context.Background(), clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("10"), PaymentCode: "289", Purpose: "x",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	f.assertStatus(1, domain.StatusCanceled)
}

func TestQueryScopedToClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dto, err := f.gate.CreatePayment(ctx, clientA, CreatePaymentCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-B-RSD",
		Amount: d("10"), PaymentCode: "289", Purpose: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.query.GetPayment(ctx, clientB, dto.ID); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("err = %v", err)
	}
	got, err := f.query.GetPayment(ctx, clientA, dto.ID)
	if err != nil || got.ID != dto.ID {
		t.Fatalf("got = %+v err = %v", got, err)
	}
}

func TestRecoverReenqueuesStaleRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createInterbank(ctx, "100")
	if err := f.settlement.Settle(ctx, id); err != nil {
		t.Fatal(err)
	}
	f.assertStatus(id, domain.StatusRetryPending)

	if r, _ := f.interbank.Recover(ctx); r.Requeued != 0 {
		t.Fatalf("fresh record recovered: %+v", r)
	}
	f.now = f.now.Add(10 * time.Minute)
	r, err := f.interbank.Recover(ctx)
	if err != nil || r.Requeued != 1 || len(r.Stuck) != 0 {
		t.Fatalf("report = %+v err = %v", r, err)
	}
	msgs := f.queue.all()
	last := msgs[len(msgs)-1]
	if last.cmd != (domain.ProcessExternalPayment{PaymentID: id}) || last.delayed {
		t.Fatalf("last = %+v", last)
	}
}

func TestRecoverFlagsStuckLocalSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dto, err := f.gate.CreateTransfer(ctx, clientA, CreateTransferCommand{
		SenderAccountNumber: "111-A-RSD", ReceiverAccountNumber: "111-A-EUR", Amount: d("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	// 认领后进程退出，记录停在处理中
	if err := f.repo.CompareAndSet(ctx, dto.ID, domain.StatusPendingConfirmation, domain.StatusProcessing, domain.Transition{}); err != nil {
		t.Fatal(err)
	}

	if r, _ := f.interbank.Recover(ctx); len(r.Stuck) != 0 {
		t.Fatalf("fresh claim flagged: %+v", r)
	}
	f.now = f.now.Add(10 * time.Minute)
	queued := len(f.queue.all())
	r, err := f.interbank.Recover(ctx)
	if err != nil || len(r.Stuck) != 1 || r.Stuck[0] != dto.ID || r.Requeued != 0 {
		t.Fatalf("report = %+v err = %v", r, err)
	}
	f.assertStatus(dto.ID, domain.StatusProcessing)
	if len(f.queue.all()) != queued {
		t.Fatal("stuck local settlement was re-enqueued")
	}
}
