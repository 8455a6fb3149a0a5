package core

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"contribledger/internal/infra/persistence/memory"
	"contribledger/pkg/domain"
)

type failingWriteStore struct {
	*memory.Store
}

func (failingWriteStore) RunInTransaction(context.Context, func(domain.Transaction) error) (domain.Result, error) {
	return domain.Result{}, errors.New("disk full")
}

func TestKnownIdentityCapScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	v, err := svc.VerifyIdentity(ctx, "monky_king", walletMonky)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Cap != 10.0 {
		t.Fatalf("expected cap 10, got %v", v.Cap)
	}
	_, err = svc.AppendSubmission(ctx, AppendInput{Handle: v.Identity.Handle, ProofReference: validProof, Amount: 12.0, Cap: v.Cap})
	expectCode(t, err, domain.CodeAmountOutOfRange)

	amount := ClampAmount(12.0, svc.MinimumContribution(), v.Cap)
	sub, err := svc.AppendSubmission(ctx, AppendInput{Handle: v.Identity.Handle, ProofReference: validProof, Amount: amount, Cap: v.Cap})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if sub.Amount != 10.0 || sub.Status != domain.StatusPending || sub.ID == "" || !sub.CreatedAt.Equal(testEpoch) {
		t.Fatalf("unexpected submission %+v", sub)
	}
	ledger, err := svc.LoadLedger(ctx, "@MONKY_KING")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ledger) != 1 || ledger[0].ID != sub.ID {
		t.Fatalf("expected exactly the new submission, got %+v", ledger)
	}
}

func TestClosedWindowScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, WithDeadline(testEpoch.Add(-time.Second)))
	if !svc.Countdown().Closed {
		t.Fatalf("expected closed window")
	}
	_, err := svc.AppendSubmission(ctx, AppendInput{Handle: "monky_king", ProofReference: validProof, Amount: 1, Cap: 10, WindowClosed: svc.WindowClosed()})
	expectCode(t, err, domain.CodeWindowClosed)
}

func TestAppendValidationOrder(t *testing.T) {
	l := NewSubmissionLedger(memory.NewStore(NewDefaultRulesEngine()), 0.1)
	cases := []struct {
		name string
		in   AppendInput
		code domain.ErrorCode
	}{
		{"closed beats everything", AppendInput{Handle: "a", ProofReference: "x", Amount: 99, Cap: 1, WindowClosed: true}, domain.CodeWindowClosed},
		{"proof before amount", AppendInput{Handle: "a", ProofReference: "short", Amount: 99, Cap: 1}, domain.CodeProofInvalid},
		{"empty proof", AppendInput{Handle: "a", Amount: 0.5, Cap: 1}, domain.CodeProofInvalid},
		{"below minimum", AppendInput{Handle: "a", ProofReference: validProof, Amount: 0.05, Cap: 1}, domain.CodeAmountOutOfRange},
		{"above cap", AppendInput{Handle: "a", ProofReference: validProof, Amount: 1.01, Cap: 1}, domain.CodeAmountOutOfRange},
		{"nan", AppendInput{Handle: "a", ProofReference: validProof, Amount: math.NaN(), Cap: 1}, domain.CodeAmountOutOfRange},
		{"no handle", AppendInput{Handle: " @ ", ProofReference: validProof, Amount: 0.5, Cap: 1}, domain.CodeCredentialsMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Append(context.Background(), tc.in)
			expectCode(t, err, tc.code)
		})
	}
}

func TestAppendAcceptsRangeBoundaries(t *testing.T) {
	l := NewSubmissionLedger(memory.NewStore(NewDefaultRulesEngine()), 0.1)
	for _, amount := range []float64{0.1, 0.5, 1} {
		if _, err := l.Append(context.Background(), AppendInput{Handle: "a", ProofReference: validProof, Amount: amount, Cap: 1}); err != nil {
			t.Fatalf("amount %v should be accepted: %v", amount, err)
		}
	}
}

func TestLedgerGrowsByOneMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	first := mustAppend(t, svc, "alice", 1)
	clock.Advance(time.Minute)
	mustAppend(t, svc, "bob", 1)
	clock.Advance(time.Minute)
	second := mustAppend(t, svc, "alice", 2)

	ledger, err := svc.LoadLedger(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ledger) != 2 || ledger[0].ID != second.ID || ledger[1].ID != first.ID {
		t.Fatalf("expected [second, first], got %+v", ledger)
	}
}

func TestLoadUnknownHandleIsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	for _, h := range []string{"nobody", ""} {
		got, err := svc.LoadLedger(context.Background(), h)
		if err != nil || got == nil || len(got) != 0 {
			t.Fatalf("expected empty ledger for %q, got %v %v", h, got, err)
		}
	}
}

func TestAppendStorageFailureIsUpdateFailed(t *testing.T) {
	store := failingWriteStore{Store: memory.NewStore(nil)}
	l := NewSubmissionLedger(store, 0)
	_, err := l.Append(context.Background(), AppendInput{Handle: "a", ProofReference: validProof, Amount: 0.5, Cap: 1})
	expectCode(t, err, domain.CodeUpdateFailed)
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected store detail, got %v", err)
	}
}

func TestClampAmount(t *testing.T) {
	cases := []struct{ raw, want float64 }{
		{-1, 0.1}, {0.05, 0.1}, {0.5, 0.5}, {12, 10}, {math.NaN(), 0.1},
	}
	for _, tc := range cases {
		if got := ClampAmount(tc.raw, 0.1, 10); got != tc.want {
			t.Fatalf("clamp(%v) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
