package core

import (
	"context"
	"fmt"

	"contribledger/pkg/domain"
)

// StatusTransitionRule blocks invalid statuses and any move out of a
// terminal status.
func StatusTransitionRule() domain.Rule {
	return statusTransitionRule{}
}

type statusTransitionRule struct{}

func (statusTransitionRule) Name() string { return "submission_status_transition" }

func (r statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySubmission {
			continue
		}
		after, ok := submissionPayload(change.After)
		if !ok {
			continue
		}
		if !after.Status.Valid() {
			res.Violations = append(res.Violations, blockingViolation(r.Name(), after.ID,
				fmt.Sprintf("submission %s is set to invalid status %q", after.ID, after.Status)))
			continue
		}
		before, ok := submissionPayload(change.Before)
		if !ok || !before.Status.Terminal() {
			continue
		}
		if after.Status != before.Status {
			res.Violations = append(res.Violations, blockingViolation(r.Name(), after.ID,
				fmt.Sprintf("cannot move submission %s from terminal status %s to %s", after.ID, before.Status, after.Status)))
		}
	}
	return res, nil
}
