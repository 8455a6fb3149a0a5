package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"contribledger/pkg/domain"
)

// SubmissionIntegrityRule validates newly created submissions at the storage
// boundary, independent of the ledger's request validation.
func SubmissionIntegrityRule() domain.Rule {
	return submissionIntegrityRule{}
}

type submissionIntegrityRule struct{}

func (submissionIntegrityRule) Name() string { return "submission_integrity" }

func (r submissionIntegrityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySubmission || change.Action != domain.ActionCreate {
			continue
		}
		sub, ok := submissionPayload(change.After)
		if !ok {
			continue
		}
		switch {
		case strings.TrimSpace(sub.IdentityHandle) == "":
			res.Violations = append(res.Violations, blockingViolation(r.Name(), sub.ID, "submission has no identity handle"))
		case math.IsNaN(sub.Amount) || sub.Amount <= 0:
			res.Violations = append(res.Violations, blockingViolation(r.Name(), sub.ID, fmt.Sprintf("submission %s amount %g must be positive", sub.ID, sub.Amount)))
		case len(sub.ProofReference) < MinProofLength:
			res.Violations = append(res.Violations, blockingViolation(r.Name(), sub.ID, fmt.Sprintf("submission %s proof reference shorter than %d", sub.ID, MinProofLength)))
		case sub.Status != domain.StatusPending:
			res.Violations = append(res.Violations, blockingViolation(r.Name(), sub.ID, fmt.Sprintf("submission %s must be created PENDING, got %s", sub.ID, sub.Status)))
		}
	}
	return res, nil
}
