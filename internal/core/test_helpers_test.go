package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"contribledger/pkg/domain"
)

const (
	walletMonky = "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2"
	walletOther = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

var validProof = strings.Repeat("5", 40)

type mapDirectory map[string]domain.AllocationRecord

func (d mapDirectory) ResolveAllocation(_ context.Context, handle string) (domain.AllocationRecord, bool, error) {
	rec, ok := d[handle]
	return rec, ok, nil
}

type failingDirectory struct{}

func (failingDirectory) ResolveAllocation(context.Context, string) (domain.AllocationRecord, bool, error) {
	return domain.AllocationRecord{}, false, errors.New("directory offline")
}

func testDirectory() mapDirectory {
	return mapDirectory{
		"monky_king": {Handle: "monky_king", WalletAddress: walletMonky, Cap: 10.0},
	}
}

// manualClock is a settable Clock safe for concurrent use.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *manualClock) {
	t.Helper()
	clock := newManualClock(testEpoch)
	base := []ServiceOption{
		WithClock(clock),
		WithAllocationDirectory(testDirectory()),
		WithDeadline(testEpoch.Add(24 * time.Hour)),
	}
	return NewInMemoryService(NewDefaultRulesEngine(), append(base, opts...)...), clock
}

// recvPending waits for a delivery matching want.
func recvPending(t *testing.T, ch <-chan []domain.Submission, want func([]domain.Submission) bool) []domain.Submission {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if want(got) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for pending delivery")
			return nil
		}
	}
}

func hasLen(n int) func([]domain.Submission) bool {
	return func(subs []domain.Submission) bool { return len(subs) == n }
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

func mustAppend(t *testing.T, svc *Service, handle string, amount float64) domain.Submission {
	t.Helper()
	sub, err := svc.AppendSubmission(context.Background(), AppendInput{
		Handle:         handle,
		ProofReference: validProof,
		Amount:         amount,
		Cap:            10,
	})
	if err != nil {
		t.Fatalf("append for %s: %v", handle, err)
	}
	return sub
}

func expectCode(t *testing.T, err error, code domain.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := domain.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}
