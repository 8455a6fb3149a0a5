package core

import (
	"context"
	"fmt"

	"contribledger/pkg/domain"
)

// LedgerAppendOnlyRule keeps history permanent: submissions are never deleted
// and their contributed amount and proof never change after creation.
func LedgerAppendOnlyRule() domain.Rule {
	return ledgerAppendOnlyRule{}
}

type ledgerAppendOnlyRule struct{}

func (ledgerAppendOnlyRule) Name() string { return "ledger_append_only" }

func (r ledgerAppendOnlyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySubmission {
			continue
		}
		switch change.Action {
		case domain.ActionDelete:
			before, _ := submissionPayload(change.Before)
			res.Violations = append(res.Violations, blockingViolation(r.Name(), before.ID,
				fmt.Sprintf("submission %s cannot be deleted", before.ID)))
		case domain.ActionUpdate:
			before, okBefore := submissionPayload(change.Before)
			after, okAfter := submissionPayload(change.After)
			if !okBefore || !okAfter {
				continue
			}
			if before.Amount != after.Amount || before.ProofReference != after.ProofReference {
				res.Violations = append(res.Violations, blockingViolation(r.Name(), after.ID,
					fmt.Sprintf("submission %s amount and proof are immutable", after.ID)))
			}
		}
	}
	return res, nil
}
