package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"contribledger/pkg/domain"
)

// DefaultQueueWindow bounds the moderation query to the most recent submissions.
const DefaultQueueWindow = 50

// Moderator is the capability the AccessGate guards.
type Moderator interface {
	Subscribe(onUpdate func([]domain.Submission), onError func(error)) (unsubscribe func())
	Resolve(ctx context.Context, id string, target domain.SubmissionStatus, reviewer string) error
}

// ModerationQueue is the live pending projection over all identities.
type ModerationQueue struct {
	store    domain.PersistentStore
	window   int
	now      func() time.Time
	resolver func(ctx context.Context, id string, target domain.SubmissionStatus, reviewer string) (domain.Submission, error)

	mu      sync.RWMutex
	pending []domain.Submission
	err     error
}

// NewModerationQueue builds a queue observing the window most recent submissions.
func NewModerationQueue(store domain.PersistentStore, window int) *ModerationQueue {
	if window <= 0 {
		window = DefaultQueueWindow
	}
	q := &ModerationQueue{
		store:  store,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
	q.resolver = func(ctx context.Context, id string, target domain.SubmissionStatus, reviewer string) (domain.Submission, error) {
		return resolveSubmission(ctx, q.store, q.now, id, target, reviewer)
	}
	return q
}

// Subscribe starts the live query. onUpdate receives the full pending set on
// subscribe and after every change. On a store failure the queue's view is
// cleared, onUpdate receives an empty set and onError a SubscribeFailed error.
func (q *ModerationQueue) Subscribe(onUpdate func([]domain.Submission), onError func(error)) func() {
	return q.store.Watch(domain.SubmissionQuery{Limit: q.window}, func(results []domain.Submission, err error) {
		if err != nil {
			wrapped := domain.WrapError(domain.CodeSubscribeFailed, err, "moderation queue subscription failed")
			q.mu.Lock()
			q.pending = nil
			q.err = wrapped
			q.mu.Unlock()
			if onUpdate != nil {
				onUpdate([]domain.Submission{})
			}
			if onError != nil {
				onError(wrapped)
			}
			return
		}
		pending := FilterPending(results)
		q.mu.Lock()
		q.pending = pending
		q.err = nil
		q.mu.Unlock()
		if onUpdate != nil {
			onUpdate(clonePending(pending))
		}
	})
}

// Pending returns the last delivered pending set.
func (q *ModerationQueue) Pending() []domain.Submission {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return clonePending(q.pending)
}

// Err returns the terminal subscription error, if any.
func (q *ModerationQueue) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.err
}

// Resolve moves a PENDING submission to target. It fails with UpdateFailed
// when the submission has already been resolved.
func (q *ModerationQueue) Resolve(ctx context.Context, id string, target domain.SubmissionStatus, reviewer string) error {
	_, err := q.resolver(ctx, id, target, reviewer)
	return err
}

// FilterPending keeps PENDING submissions in their delivered order.
func FilterPending(subs []domain.Submission) []domain.Submission {
	out := make([]domain.Submission, 0, len(subs))
	for _, sub := range subs {
		if sub.Status == domain.StatusPending {
			out = append(out, sub.Clone())
		}
	}
	return out
}

func clonePending(subs []domain.Submission) []domain.Submission {
	out := make([]domain.Submission, len(subs))
	for i, sub := range subs {
		out[i] = sub.Clone()
	}
	return out
}

// resolveSubmission performs the conditional PENDING -> terminal write.
func resolveSubmission(ctx context.Context, store domain.PersistentStore, now func() time.Time, id string, target domain.SubmissionStatus, reviewer string) (domain.Submission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Submission{}, domain.NewError(domain.CodeUpdateFailed, "submission id is required")
	}
	if !target.Terminal() {
		return domain.Submission{}, domain.NewError(domain.CodeUpdateFailed, "cannot resolve submission %s to %q", id, target)
	}
	var updated domain.Submission
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		sub, err := tx.UpdateSubmission(id, func(sub *domain.Submission) error {
			if sub.Status != domain.StatusPending {
				return domain.ErrAlreadyResolved
			}
			reviewedAt := now()
			sub.Status = target
			sub.ReviewedAt = &reviewedAt
			sub.Reviewer = strings.TrimSpace(reviewer)
			return nil
		})
		if err != nil {
			return err
		}
		updated = sub
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			return domain.Submission{}, domain.WrapError(domain.CodeUpdateFailed, err, "submission %s is no longer pending", id)
		}
		return domain.Submission{}, domain.WrapError(domain.CodeUpdateFailed, err, "resolve submission %s", id)
	}
	return updated, nil
}
