package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[[2]PaymentStatus]bool{
		{StatusPendingConfirmation, StatusProcessing}:   true,
		{StatusPendingConfirmation, StatusRetryPending}: true,
		{StatusPendingConfirmation, StatusCanceled}:     true,
		{StatusProcessing, StatusCompleted}:             true,
		{StatusProcessing, StatusCanceled}:              true,
		{StatusRetryPending, StatusCompleted}:           true,
		{StatusRetryPending, StatusCanceled}:            true,
	}
	all := []PaymentStatus{StatusPendingConfirmation, StatusProcessing, StatusRetryPending, StatusCompleted, StatusCanceled}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]PaymentStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
	if !StatusCompleted.IsTerminal() || !StatusCanceled.IsTerminal() || StatusRetryPending.IsTerminal() {
		t.Fatal("terminal classification wrong")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	cmds := []Command{
		ConfirmPayment{PaymentID: 1},
		ConfirmTransfer{PaymentID: 2},
		RejectPayment{PaymentID: 3},
		ProcessExternalPayment{PaymentID: 4},
		ApproveLoan{LoanID: 5},
		PayInstallment{InstallmentID: 6},
	}
	for _, cmd := range cmds {
		env, err := NewEnvelope(cmd, 42, now)
		if err != nil {
			t.Fatal(err)
		}
		raw, _ := json.Marshal(env)

		var decoded Envelope
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.UserID != 42 || decoded.Timestamp != 1700000000123 || decoded.Type != cmd.Kind() {
			t.Fatalf("envelope = %+v", decoded)
		}
		got, err := decoded.Decode()
		if err != nil {
			t.Fatalf("%s: %v", cmd.Kind(), err)
		}
		if got != cmd {
			t.Fatalf("decoded %#v, want %#v", got, cmd)
		}
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	env, _ := NewEnvelope(ConfirmTransfer{PaymentID: 9}, 3, time.UnixMilli(5))
	raw, _ := json.Marshal(env)
	want := `{"type":"CONFIRM_TRANSFER","payloadJson":"{\"paymentId\":9}","userId":3,"timestamp":5}`
	if string(raw) != want {
		t.Fatalf("wire = %s\nwant %s", raw, want)
	}
}

func TestEnvelopeDecodeErrors(t *testing.T) {
	cases := []Envelope{
		{Type: "SEND_FLOWERS", PayloadJSON: `{}`},
		{Type: KindConfirmPayment, PayloadJSON: `not json`},
		{Type: KindRejectPayment, PayloadJSON: `{}`},
	}
	for _, env := range cases {
		if _, err := env.Decode(); err == nil {
			t.Errorf("%+v decoded without error", env)
		}
	}
}

func TestConfirmCommandFor(t *testing.T) {
	if _, ok := ConfirmCommandFor(&Payment{ID: 1, Kind: KindTransfer}).(ConfirmTransfer); !ok {
		t.Fatal("transfer must map to CONFIRM_TRANSFER")
	}
	if _, ok := ConfirmCommandFor(&Payment{ID: 1, Kind: KindPayment}).(ConfirmPayment); !ok {
		t.Fatal("payment must map to CONFIRM_PAYMENT")
	}
}

func TestAccountRouter(t *testing.T) {
	r := NewAccountRouter([]string{"222", ""})
	if !r.IsExternal("222000000000001") {
		t.Fatal("partner prefix not detected")
	}
	if r.IsExternal("111000000000001") {
		t.Fatal("local account flagged external")
	}
}
