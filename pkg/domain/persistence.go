package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateSubmission(Submission) (Submission, error)
	UpdateSubmission(id string, mutator func(*Submission) error) (Submission, error)
	FindSubmission(id string) (Submission, bool)
	ListSubmissions(query SubmissionQuery) []Submission
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// WatchFunc receives the full current result set of a watched query on
// subscribe and after every committed change. A non-nil error is terminal.
type WatchFunc func(results []Submission, err error)

// PersistentStore is the RecordStore boundary: transactional writes, reads,
// and live queries that re-deliver complete result sets.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetSubmission(id string) (Submission, bool)
	ListSubmissions(query SubmissionQuery) []Submission
	Watch(query SubmissionQuery, fn WatchFunc) (cancel func())
}
