package core

import "contribledger/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in submission policies.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(SubmissionIntegrityRule())
	engine.Register(StatusTransitionRule())
	engine.Register(LedgerAppendOnlyRule())
	return engine
}

func submissionPayload(payload any) (domain.Submission, bool) {
	switch v := payload.(type) {
	case domain.Submission:
		return v, true
	case *domain.Submission:
		if v == nil {
			return domain.Submission{}, false
		}
		return *v, true
	default:
		return domain.Submission{}, false
	}
}

func blockingViolation(rule, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntitySubmission,
		EntityID: id,
	}
}
