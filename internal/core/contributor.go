package core

import (
	"context"
	"sync"

	"contribledger/pkg/domain"
)

// ContributorSession holds one participant's verified identity, its frozen
// cap and a read replica of their ledger.
type ContributorSession struct {
	svc *Service

	mu       sync.Mutex
	identity *domain.Identity
	limit    float64
	ledger   []domain.Submission
}

// NewContributorSession starts an unverified session.
func (s *Service) NewContributorSession() *ContributorSession {
	return &ContributorSession{svc: s}
}

// Verify resolves the identity and cap. On success the replica is reloaded
// from the store so nothing from a previous identity survives.
func (c *ContributorSession) Verify(ctx context.Context, handle, wallet string) (Verification, error) {
	v, err := c.svc.VerifyIdentity(ctx, handle, wallet)
	if err != nil {
		return Verification{}, err
	}
	subs, err := c.svc.LoadLedger(ctx, v.Identity.Handle)
	if err != nil {
		return Verification{}, err
	}
	identity := v.Identity
	c.mu.Lock()
	c.identity = &identity
	c.limit = v.Cap
	c.ledger = subs
	c.mu.Unlock()
	return v, nil
}

// Identity returns the active identity and its cap.
func (c *ContributorSession) Identity() (domain.Identity, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return domain.Identity{}, 0, false
	}
	return *c.identity, c.limit, true
}

// Reload refreshes the replica for the active identity.
func (c *ContributorSession) Reload(ctx context.Context) error {
	identity, _, ok := c.Identity()
	if !ok {
		return domain.NewError(domain.CodeCredentialsMissing, "verify an identity first")
	}
	subs, err := c.svc.LoadLedger(ctx, identity.Handle)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.identity != nil && c.identity.Handle == identity.Handle {
		c.ledger = subs
	}
	c.mu.Unlock()
	return nil
}

// Submit appends a submission for the active identity using the frozen cap
// and the service's current window state. The new entry is prepended to the
// replica once the store accepts it.
func (c *ContributorSession) Submit(ctx context.Context, proofReference string, amount float64) (domain.Submission, error) {
	identity, limit, ok := c.Identity()
	if !ok {
		if c.svc.WindowClosed() {
			return domain.Submission{}, domain.NewError(domain.CodeWindowClosed, "submission window is closed")
		}
		return domain.Submission{}, domain.NewError(domain.CodeCredentialsMissing, "verify an identity first")
	}
	sub, err := c.svc.AppendSubmission(ctx, AppendInput{
		Handle:         identity.Handle,
		ProofReference: proofReference,
		Amount:         amount,
		Cap:            limit,
		WindowClosed:   c.svc.WindowClosed(),
	})
	if err != nil {
		return domain.Submission{}, err
	}
	c.mu.Lock()
	if c.identity != nil && c.identity.Handle == identity.Handle {
		c.ledger = append([]domain.Submission{sub.Clone()}, c.ledger...)
	}
	c.mu.Unlock()
	return sub, nil
}

// Ledger returns a copy of the replica, most recent first.
func (c *ContributorSession) Ledger() []domain.Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePending(c.ledger)
}

// StatusTotals aggregates submissions sharing one status.
type StatusTotals struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// LedgerSummary aggregates a ledger replica.
type LedgerSummary struct {
	Handle   string                                   `json:"handle"`
	Cap      float64                                  `json:"cap"`
	Count    int                                      `json:"count"`
	Total    float64                                  `json:"total"`
	ByStatus map[domain.SubmissionStatus]StatusTotals `json:"by_status"`
}

// Summary totals the replica by status.
func (c *ContributorSession) Summary() LedgerSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary := SummarizeLedger(c.ledger)
	if c.identity != nil {
		summary.Handle = c.identity.Handle
		summary.Cap = c.limit
	}
	return summary
}

// SummarizeLedger totals subs by status.
func SummarizeLedger(subs []domain.Submission) LedgerSummary {
	summary := LedgerSummary{ByStatus: make(map[domain.SubmissionStatus]StatusTotals, 3)}
	for _, sub := range subs {
		summary.Count++
		summary.Total += sub.Amount
		totals := summary.ByStatus[sub.Status]
		totals.Count++
		totals.Amount += sub.Amount
		summary.ByStatus[sub.Status] = totals
	}
	return summary
}
