package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo(t *testing.T) {
	errTransport := errors.New("connection refused")

	tests := []struct {
		name         string
		results      []bool
		errs         []error
		wantResult   Result
		wantAttempts int
		wantErr      error
	}{
		{"first try", []bool{true}, []error{nil}, Succeeded, 1, nil},
		{"second try", []bool{false, true}, []error{nil, nil}, Succeeded, 2, nil},
		{"all refused", []bool{false, false, false}, []error{nil, nil, nil}, Exhausted, 3, nil},
		{"errors count as failures", []bool{false, false, false}, []error{errTransport, errTransport, errTransport}, Exhausted, 3, errTransport},
		{"error then success", []bool{false, true}, []error{errTransport, nil}, Succeeded, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			out := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context, attempt int) (bool, error) {
				calls++
				if attempt != calls {
					t.Fatalf("attempt = %d, calls = %d", attempt, calls)
				}
				return tt.results[attempt-1], tt.errs[attempt-1]
			})
			if out.Result != tt.wantResult {
				t.Errorf("result = %s, want %s", out.Result, tt.wantResult)
			}
			if out.Attempts != tt.wantAttempts || calls != tt.wantAttempts {
				t.Errorf("attempts = %d (calls %d), want %d", out.Attempts, calls, tt.wantAttempts)
			}
			if !errors.Is(out.LastErr, tt.wantErr) {
				t.Errorf("last err = %v, want %v", out.LastErr, tt.wantErr)
			}
		})
	}
}

func TestDoAbortsWhileSleeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	out := Do(ctx, Policy{MaxAttempts: 3, Delay: time.Hour}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		cancel()
		return false, nil
	})
	if out.Result != Aborted {
		t.Fatalf("result = %s, want ABORTED", out.Result)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestDoIndependentInvocations(t *testing.T) {
	// 两次调用之间不共享计数
	op := func(ctx context.Context, attempt int) (bool, error) { return attempt == 2, nil }
	for i := 0; i < 2; i++ {
		out := Do(context.Background(), Policy{MaxAttempts: 3}, op)
		if out.Result != Succeeded || out.Attempts != 2 {
			t.Fatalf("run %d: %+v", i, out)
		}
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{Delay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 30 * time.Millisecond}
	d := p.Delay
	var got []time.Duration
	for i := 0; i < 3; i++ {
		d = next(p, d)
		got = append(got, d)
	}
	want := []time.Duration{20 * time.Millisecond, 30 * time.Millisecond, 30 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delays = %v, want %v", got, want)
		}
	}
}
