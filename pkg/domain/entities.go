// Package domain defines the persistent contribution entities, value types,
// error taxonomy, and rule evaluation primitives used by contribledger.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySubmission identifies a contribution submission record.
	EntitySubmission EntityType = "submission"
)

// SubmissionStatus enumerates the moderation states of a submission.
type SubmissionStatus string

// Canonical submission statuses. PENDING is the only non-terminal state.
const (
	StatusPending  SubmissionStatus = "PENDING"
	StatusApproved SubmissionStatus = "APPROVED"
	StatusRejected SubmissionStatus = "REJECTED"
)

// Terminal reports whether the status can no longer change.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether the status is one of the canonical values.
func (s SubmissionStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Identity is a verified (handle, wallet) pair for one participant.
type Identity struct {
	Handle        string `json:"handle"`
	WalletAddress string `json:"wallet_address"`
}

// AllocationRecord is a row of the known-allocations reference table.
type AllocationRecord struct {
	Handle        string  `json:"handle"`
	WalletAddress string  `json:"wallet_address"`
	Cap           float64 `json:"cap"`
}

// Submission is one proof-of-contribution record. It is the single canonical
// entity behind both the per-handle ledger and the moderation queue.
type Submission struct {
	ID             string           `json:"id"`
	IdentityHandle string           `json:"identity_handle"`
	ProofReference string           `json:"proof_reference"`
	Amount         float64          `json:"amount"`
	Status         SubmissionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`
	Reviewer       string           `json:"reviewer,omitempty"`
}

// Clone returns a deep copy of the submission.
func (s Submission) Clone() Submission {
	cp := s
	if s.ReviewedAt != nil {
		t := *s.ReviewedAt
		cp.ReviewedAt = &t
	}
	return cp
}

// NormalizeHandle trims whitespace, strips a leading '@' marker and lowercases.
func NormalizeHandle(raw string) string {
	h := strings.TrimSpace(raw)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(strings.TrimSpace(h))
}

// SubmissionQuery describes a live or one-shot read over submissions. Results
// are always ordered by CreatedAt descending (ties broken by ID).
type SubmissionQuery struct {
	// Handle restricts results to one normalized handle when non-empty.
	Handle string
	// Limit bounds the result window after ordering; zero means unbounded.
	Limit int
}

// Change describes a mutation recorded inside a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Supported change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a rule breach.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations abort a transaction.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
