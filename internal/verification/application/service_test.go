package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wyfcoding/banksettlement/internal/verification/domain"
	"github.com/wyfcoding/banksettlement/internal/verification/infrastructure/persistence/memory"
	"github.com/wyfcoding/banksettlement/pkg/logger"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NextID() int64 { return s.n.Add(1) }

type decision struct {
	confirm bool
	target  int64
}

type recordingDecider struct {
	calls      []decision
	confirmErr error
}

func (d *recordingDecider) Confirm(_ context.Context, target, _ int64) error {
	d.calls = append(d.calls, decision{true, target})
	return d.confirmErr
}

func (d *recordingDecider) Reject(_ context.Context, target, _ int64) error {
	d.calls = append(d.calls, decision{false, target})
	return nil
}

func newService(t *testing.T) (*Service, *recordingDecider, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(memory.NewRepository(), &seqIDs{}, Config{TTL: time.Minute, MaxAttempts: 3, SweepBatch: 10}, logger.Discard())
	svc.now = func() time.Time { return now }
	dec := &recordingDecider{}
	svc.SetDecider(dec)
	return svc, dec, &now
}

func TestApproveConfirmsOnce(t *testing.T) {
	svc, dec, _ := newService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, 7, 100, "PAYMENT")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(ctx, 1, 7); err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(ctx, 1, 7); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("second approve err = %v", err)
	}
	if len(dec.calls) != 1 || dec.calls[0] != (decision{true, 100}) {
		t.Fatalf("decisions = %+v", dec.calls)
	}
	if req.Status != "PENDING" || req.TargetID != "100" {
		t.Fatalf("dto = %+v", req)
	}
}

func TestOnePendingPerTarget(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, 7, 100, "PAYMENT"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, 7, 100, "PAYMENT"); !errors.Is(err, domain.ErrAlreadyPending) {
		t.Fatalf("err = %v", err)
	}
	if err := svc.Deny(ctx, 1, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, 7, 100, "PAYMENT"); err != nil {
		t.Fatalf("create after deny: %v", err)
	}
}

func TestOtherUserCannotResolve(t *testing.T) {
	svc, dec, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, 7, 100, "TRANSFER"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(ctx, 1, 8); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
	if len(dec.calls) != 0 {
		t.Fatalf("decisions = %+v", dec.calls)
	}
}

func TestExpiry(t *testing.T) {
	svc, dec, now := newService(t)
	ctx := context.Background()
	for target := int64(1); target <= 2; target++ {
		if _, err := svc.Create(ctx, 7, target, "PAYMENT"); err != nil {
			t.Fatal(err)
		}
	}
	*now = now.Add(2 * time.Minute)

	pending, err := svc.ListPending(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expired requests listed: %+v", pending)
	}

	if err := svc.Approve(ctx, 1, 7); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("approve expired err = %v", err)
	}
	n, err := svc.ExpireStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	want := []decision{{false, 1}, {false, 2}}
	if len(dec.calls) != 2 || dec.calls[0] != want[0] || dec.calls[1] != want[1] {
		t.Fatalf("decisions = %+v", dec.calls)
	}
}

func TestApproveDeniedAfterMaxAttempts(t *testing.T) {
	svc, dec, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, 7, 100, "PAYMENT"); err != nil {
		t.Fatal(err)
	}
	dec.confirmErr = errors.New("bank unavailable")

	for i := 1; i <= 2; i++ {
		err := svc.Approve(ctx, 1, 7)
		if err == nil || errors.Is(err, domain.ErrTooManyAttempts) {
			t.Fatalf("attempt %d err = %v", i, err)
		}
		req, _ := svc.repo.Get(ctx, 1)
		if req.Status != domain.StatusPending || req.Attempts != i {
			t.Fatalf("after attempt %d: status=%s attempts=%d", i, req.Status, req.Attempts)
		}
	}

	if err := svc.Approve(ctx, 1, 7); !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("third attempt err = %v", err)
	}
	req, _ := svc.repo.Get(ctx, 1)
	if req.Status != domain.StatusDenied || req.Attempts != 3 {
		t.Fatalf("status=%s attempts=%d", req.Status, req.Attempts)
	}
	want := []decision{{true, 100}, {true, 100}, {true, 100}, {false, 100}}
	if len(dec.calls) != len(want) {
		t.Fatalf("decisions = %+v", dec.calls)
	}
	for i := range want {
		if dec.calls[i] != want[i] {
			t.Fatalf("decisions = %+v", dec.calls)
		}
	}
	if err := svc.Approve(ctx, 1, 7); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("approve after denial err = %v", err)
	}
}

func TestApproveRetriesAfterDeliveryFailure(t *testing.T) {
	svc, dec, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, 7, 100, "TRANSFER"); err != nil {
		t.Fatal(err)
	}
	dec.confirmErr = errors.New("bank unavailable")
	if err := svc.Approve(ctx, 1, 7); err == nil {
		t.Fatal("expected delivery error")
	}
	dec.confirmErr = nil
	if err := svc.Approve(ctx, 1, 7); err != nil {
		t.Fatal(err)
	}
	req, _ := svc.repo.Get(ctx, 1)
	if req.Status != domain.StatusApproved || req.Attempts != 2 {
		t.Fatalf("status=%s attempts=%d", req.Status, req.Attempts)
	}
}
