package core

import (
	"context"
	"math"
	"strings"
	"time"

	"contribledger/pkg/domain"
)

const (
	// DefaultMinimumContribution is the smallest accepted amount.
	DefaultMinimumContribution = 0.1
	// MinProofLength is the shortest accepted proof reference.
	MinProofLength = 32
)

// AppendInput is one submission attempt against a verified identity.
type AppendInput struct {
	Handle         string
	ProofReference string
	Amount         float64
	Cap            float64
	WindowClosed   bool
}

// SubmissionLedger is the per-handle projection over the submission store.
type SubmissionLedger struct {
	store   domain.PersistentStore
	minimum float64
	now     func() time.Time
}

// NewSubmissionLedger builds a ledger enforcing minimum as the lower amount bound.
func NewSubmissionLedger(store domain.PersistentStore, minimum float64) *SubmissionLedger {
	if minimum <= 0 {
		minimum = DefaultMinimumContribution
	}
	return &SubmissionLedger{
		store:   store,
		minimum: minimum,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Minimum returns the lower amount bound.
func (l *SubmissionLedger) Minimum() float64 { return l.minimum }

// Load returns every submission for handle, most recent first. An unknown or
// empty handle yields an empty ledger.
func (l *SubmissionLedger) Load(ctx context.Context, handle string) ([]domain.Submission, error) {
	handle = domain.NormalizeHandle(handle)
	if handle == "" {
		return []domain.Submission{}, nil
	}
	var out []domain.Submission
	err := l.store.View(ctx, func(view domain.TransactionView) error {
		out = view.ListSubmissions(domain.SubmissionQuery{Handle: handle})
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.CodeLookupFailed, err, "load ledger for %s", handle)
	}
	if out == nil {
		out = []domain.Submission{}
	}
	return out, nil
}

// Append validates in and stores a new PENDING submission. Checks run in a
// fixed order: window, proof, amount.
func (l *SubmissionLedger) Append(ctx context.Context, in AppendInput) (domain.Submission, error) {
	if in.WindowClosed {
		return domain.Submission{}, domain.NewError(domain.CodeWindowClosed, "submission window is closed")
	}
	proof := strings.TrimSpace(in.ProofReference)
	if len(proof) < MinProofLength {
		return domain.Submission{}, domain.NewError(domain.CodeProofInvalid, "proof reference must be at least %d characters", MinProofLength)
	}
	if !AmountInRange(in.Amount, l.minimum, in.Cap) {
		return domain.Submission{}, domain.NewError(domain.CodeAmountOutOfRange, "amount %g outside [%g, %g]", in.Amount, l.minimum, in.Cap)
	}
	handle := domain.NormalizeHandle(in.Handle)
	if handle == "" {
		return domain.Submission{}, domain.NewError(domain.CodeCredentialsMissing, "a verified handle is required")
	}

	var created domain.Submission
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		sub, err := tx.CreateSubmission(domain.Submission{
			IdentityHandle: handle,
			ProofReference: proof,
			Amount:         in.Amount,
			Status:         domain.StatusPending,
			CreatedAt:      l.now(),
		})
		if err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return domain.Submission{}, domain.WrapError(domain.CodeUpdateFailed, err, "append submission for %s", handle)
	}
	return created, nil
}

// AmountInRange reports whether minimum <= amount <= limit. NaN is never in range.
func AmountInRange(amount, minimum, limit float64) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}
	return amount >= minimum && amount <= limit
}

// ClampAmount applies the input-handling policy presentation layers use
// before calling Append: clamp raw into [minimum, limit].
func ClampAmount(raw, minimum, limit float64) float64 {
	if math.IsNaN(raw) {
		return minimum
	}
	if raw > limit {
		raw = limit
	}
	if raw < minimum {
		raw = minimum
	}
	return raw
}
