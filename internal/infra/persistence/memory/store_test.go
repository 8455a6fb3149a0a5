package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"contribledger/pkg/domain"
)

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func seed(t *testing.T, store *Store, handle string, n int) []Submission {
	t.Helper()
	var out []Submission
	for i := 0; i < n; i++ {
		_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
			created, err := tx.CreateSubmission(Submission{IdentityHandle: handle, Amount: 1, Status: domain.StatusPending})
			out = append(out, created)
			return err
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return out
}

func TestCreateSubmissionAssignsIDAndTimestamp(t *testing.T) {
	store := NewStore(nil)
	store.SetNowFunc(fixedClock(time.Unix(1000, 0).UTC()))
	subs := seed(t, store, "  @Monky_King ", 1)
	if subs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if subs[0].IdentityHandle != "monky_king" {
		t.Fatalf("expected normalized handle, got %q", subs[0].IdentityHandle)
	}
	if subs[0].CreatedAt.IsZero() {
		t.Fatalf("expected created timestamp")
	}
	got, ok := store.GetSubmission(subs[0].ID)
	if !ok || got.ID != subs[0].ID {
		t.Fatalf("expected submission to be retrievable")
	}
}

func TestListSubmissionsOrdersNewestFirstAndBounds(t *testing.T) {
	store := NewStore(nil)
	store.SetNowFunc(fixedClock(time.Unix(1000, 0).UTC()))
	seed(t, store, "alice", 3)
	seed(t, store, "bob", 2)

	all := store.ListSubmissions(SubmissionQuery{})
	if len(all) != 5 {
		t.Fatalf("expected 5 submissions, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("expected descending order at %d", i)
		}
	}
	if all[0].IdentityHandle != "bob" {
		t.Fatalf("expected newest submission first, got %s", all[0].IdentityHandle)
	}

	alice := store.ListSubmissions(SubmissionQuery{Handle: "@ALICE"})
	if len(alice) != 3 {
		t.Fatalf("expected 3 alice submissions, got %d", len(alice))
	}
	bounded := store.ListSubmissions(SubmissionQuery{Limit: 2})
	if len(bounded) != 2 || bounded[0].ID != all[0].ID {
		t.Fatalf("expected bounded window of newest 2")
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateSubmission(Submission{IdentityHandle: "alice", Amount: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(store.ListSubmissions(SubmissionQuery{})); n != 0 {
		t.Fatalf("expected rollback, found %d submissions", n)
	}
}

type blockAll struct{}

func (blockAll) Name() string { return "block_all" }

func (blockAll) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for range changes {
		res.Violations = append(res.Violations, domain.Violation{Rule: "block_all", Severity: domain.SeverityBlock, Message: "blocked"})
	}
	return res, nil
}

func TestRunInTransactionBlockedByRules(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAll{})
	store := NewStore(engine)
	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateSubmission(Submission{IdentityHandle: "alice", Amount: 1})
		return err
	})
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if len(store.ListSubmissions(SubmissionQuery{})) != 0 {
		t.Fatalf("expected blocked transaction to leave state untouched")
	}
}

func TestUpdateSubmissionPreservesIdentityFields(t *testing.T) {
	store := NewStore(nil)
	sub := seed(t, store, "alice", 1)[0]
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateSubmission(sub.ID, func(s *Submission) error {
			s.IdentityHandle = "mallory"
			s.CreatedAt = time.Time{}
			s.Status = domain.StatusApproved
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := store.GetSubmission(sub.ID)
	if got.IdentityHandle != "alice" || !got.CreatedAt.Equal(sub.CreatedAt) {
		t.Fatalf("identity fields mutated: %+v", got)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("expected status update, got %s", got.Status)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateSubmission("missing", func(*Submission) error { return nil })
		return err
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommittedSnapshotImportsIntoFreshStore(t *testing.T) {
	store := NewStore(nil)
	seed(t, store, "alice", 1)
	var snapshot Snapshot
	_, err := store.RunInTransactionWithCommit(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateSubmission(Submission{IdentityHandle: "alice", Amount: 1, Status: domain.StatusPending})
		return err
	}, func(_ context.Context, next Snapshot) error {
		snapshot = next
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	other := NewStore(nil)
	other.ImportState(snapshot)
	if len(other.ListSubmissions(SubmissionQuery{Handle: "alice"})) != 2 {
		t.Fatalf("expected imported submissions")
	}
	// Committed snapshots are detached copies.
	for id, sub := range snapshot.Submissions {
		sub.Amount = 99
		snapshot.Submissions[id] = sub
	}
	for _, sub := range other.ListSubmissions(SubmissionQuery{}) {
		if sub.Amount == 99 {
			t.Fatalf("expected import to clone snapshot")
		}
	}
}

func waitFor(t *testing.T, ch <-chan []Submission, pred func([]Submission) bool) []Submission {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if pred(got) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for watch delivery")
			return nil
		}
	}
}

func TestWatchDeliversFullSetOnSubscribeAndChange(t *testing.T) {
	store := NewStore(nil)
	seed(t, store, "alice", 1)

	ch := make(chan []Submission, 16)
	cancel := store.Watch(SubmissionQuery{}, func(results []Submission, err error) {
		if err != nil {
			t.Errorf("unexpected watch error: %v", err)
			return
		}
		ch <- results
	})
	defer cancel()

	waitFor(t, ch, func(r []Submission) bool { return len(r) == 1 })
	seed(t, store, "bob", 1)
	waitFor(t, ch, func(r []Submission) bool { return len(r) == 2 })
}

func TestWatchCancelStopsDeliveries(t *testing.T) {
	store := NewStore(nil)
	ch := make(chan []Submission, 16)
	cancel := store.Watch(SubmissionQuery{}, func(results []Submission, _ error) { ch <- results })
	waitFor(t, ch, func(r []Submission) bool { return len(r) == 0 })
	cancel()
	cancel()
	seed(t, store, "alice", 1)
	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery after cancel: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFailWatchersDeliversTerminalError(t *testing.T) {
	store := NewStore(nil)
	errs := make(chan error, 4)
	ready := make(chan struct{}, 4)
	store.Watch(SubmissionQuery{}, func(_ []Submission, err error) {
		if err != nil {
			errs <- err
			return
		}
		ready <- struct{}{}
	})
	<-ready
	lost := errors.New("connection lost")
	store.FailWatchers(lost)
	select {
	case err := <-errs:
		if !errors.Is(err, lost) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected terminal error delivery")
	}
}

func TestFailWatchersWaitsForInFlightDelivery(t *testing.T) {
	store := NewStore(nil)
	entered := make(chan struct{})
	release := make(chan struct{})

	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
		calls    []error
	)
	failed := make(chan struct{})
	store.Watch(SubmissionQuery{}, func(_ []Submission, err error) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		calls = append(calls, err)
		first := len(calls) == 1
		mu.Unlock()

		if first {
			close(entered)
			<-release
		}

		mu.Lock()
		inFlight--
		mu.Unlock()
		if err != nil {
			close(failed)
		}
	})

	<-entered
	seed(t, store, "alice", 1)
	lost := errors.New("connection lost")
	store.FailWatchers(lost)
	close(release)

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatalf("expected terminal error delivery")
	}
	seed(t, store, "bob", 1)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatalf("watch callbacks overlapped")
	}
	if len(calls) == 0 || !errors.Is(calls[len(calls)-1], lost) {
		t.Fatalf("terminal error must be the last delivery, got %v", calls)
	}
	for _, err := range calls[:len(calls)-1] {
		if err != nil {
			t.Fatalf("error delivered more than once: %v", calls)
		}
	}
}

func TestCommitFailureDiscardsTransaction(t *testing.T) {
	store := NewStore(nil)
	existing := seed(t, store, "alice", 1)[0]

	ch := make(chan []Submission, 16)
	cancel := store.Watch(SubmissionQuery{}, func(results []Submission, _ error) { ch <- results })
	defer cancel()
	waitFor(t, ch, func(r []Submission) bool { return len(r) == 1 })

	down := errors.New("disk full")
	failCommit := func(context.Context, Snapshot) error { return down }

	_, err := store.RunInTransactionWithCommit(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateSubmission(Submission{IdentityHandle: "bob", Amount: 1, Status: domain.StatusPending})
		return err
	}, failCommit)
	if !errors.Is(err, down) {
		t.Fatalf("expected commit error, got %v", err)
	}
	_, err = store.RunInTransactionWithCommit(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateSubmission(existing.ID, func(s *Submission) error {
			s.Status = domain.StatusApproved
			return nil
		})
		return err
	}, failCommit)
	if !errors.Is(err, down) {
		t.Fatalf("expected commit error, got %v", err)
	}

	if got := store.ListSubmissions(SubmissionQuery{}); len(got) != 1 || got[0].Status != domain.StatusPending {
		t.Fatalf("failed commits must not be visible: %+v", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected notification after failed commit: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCommitReceivesNextState(t *testing.T) {
	store := NewStore(nil)
	var seen Snapshot
	_, err := store.RunInTransactionWithCommit(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateSubmission(Submission{ID: "s1", IdentityHandle: "Alice", Amount: 1, Status: domain.StatusPending})
		return err
	}, func(_ context.Context, next Snapshot) error {
		seen = next
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sub, ok := seen.Submissions["s1"]; !ok || sub.IdentityHandle != "alice" {
		t.Fatalf("commit saw %+v", seen)
	}
	if _, ok := store.GetSubmission("s1"); !ok {
		t.Fatalf("expected committed submission")
	}
}
