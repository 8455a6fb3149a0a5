// Package memory provides an in-memory implementation of the submission
// record store used for tests, ephemeral environments, and as the
// transactional engine beneath the snapshotting SQL backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"contribledger/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Submission aliases domain.Submission for in-memory persistence operations.
	Submission = domain.Submission
	// SubmissionQuery aliases domain.SubmissionQuery.
	SubmissionQuery = domain.SubmissionQuery
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	submissions map[string]Submission
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Submissions map[string]Submission `json:"submissions"`
}

func newMemoryState() memoryState {
	return memoryState{submissions: make(map[string]Submission)}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{submissions: make(map[string]Submission, len(s.submissions))}
	for k, v := range s.submissions {
		cloned.submissions[k] = v.Clone()
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	return Snapshot{Submissions: state.clone().submissions}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Submissions {
		if v.ID == "" {
			v.ID = k
		}
		v.IdentityHandle = domain.NormalizeHandle(v.IdentityHandle)
		if v.Status == "" {
			v.Status = domain.StatusPending
		}
		state.submissions[v.ID] = v.Clone()
	}
	return state
}

// query applies the ordering and bounding shared by every projection.
func (s *memoryState) query(q SubmissionQuery) []Submission {
	handle := domain.NormalizeHandle(q.Handle)
	out := make([]Submission, 0, len(s.submissions))
	for _, sub := range s.submissions {
		if handle != "" && sub.IdentityHandle != handle {
			continue
		}
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

type watcher struct {
	query  SubmissionQuery
	fn     domain.WatchFunc
	notify chan struct{}
	failed chan error
	done   chan struct{}
	once   sync.Once
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

// Store provides an in-memory transactional store for submissions.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func() string

	watchMu  sync.Mutex
	watchers map[uint64]*watcher
	nextW    uint64
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:    newMemoryState(),
		engine:   engine,
		nowFn:    func() time.Time { return time.Now().UTC() },
		idFn:     uuid.NewString,
		watchers: make(map[uint64]*watcher),
	}
}

// SetNowFunc overrides the transaction clock. Intended for tests and for the
// service layer which owns the canonical clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// ImportState replaces the store state with the provided snapshot and
// notifies live queries.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	s.state = memoryStateFromSnapshot(snapshot)
	s.mu.Unlock()
	s.notifyWatchers()
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListSubmissions returns submissions matching the query within the snapshot.
func (v transactionView) ListSubmissions(q SubmissionQuery) []Submission {
	return v.state.query(q)
}

// FindSubmission returns a submission by id within the snapshot.
func (v transactionView) FindSubmission(id string) (Submission, bool) {
	sub, ok := v.state.submissions[id]
	if !ok {
		return Submission{}, false
	}
	return sub.Clone(), true
}

// CommitFunc makes the state produced by a transaction durable. It runs with
// the store lock held, before the state becomes visible; an error discards the
// transaction.
type CommitFunc func(ctx context.Context, next Snapshot) error

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, nil)
}

// RunInTransactionWithCommit is RunInTransaction with a durability hook.
// Readers and live queries observe the new state only after commit succeeds.
func (s *Store) RunInTransactionWithCommit(ctx context.Context, fn func(tx Transaction) error, commit CommitFunc) (Result, error) {
	result, committed, err := s.runLocked(ctx, fn, commit)
	if committed {
		s.notifyWatchers()
	}
	return result, err
}

func (s *Store) runLocked(ctx context.Context, fn func(tx Transaction) error, commit CommitFunc) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, false, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, false, err
		}
		result = res
		if res.HasBlocking() {
			return res, false, domain.RuleViolationError{Result: res}
		}
	}

	if len(tx.changes) == 0 {
		return result, false, nil
	}
	if commit != nil {
		if err := commit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return Result{}, false, err
		}
	}
	s.state = tx.state
	return result, true, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// GetSubmission returns a submission by id.
func (s *Store) GetSubmission(id string) (Submission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.state.submissions[id]
	if !ok {
		return Submission{}, false
	}
	return sub.Clone(), true
}

// ListSubmissions returns submissions matching the query, newest first.
func (s *Store) ListSubmissions(q SubmissionQuery) []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.query(q)
}

// Watch registers a live query. fn is invoked from a dedicated goroutine with
// the full current result set immediately and after every committed change.
// Notifications that arrive while a delivery is in flight coalesce; the next
// delivery always reflects the latest state.
func (s *Store) Watch(q SubmissionQuery, fn domain.WatchFunc) func() {
	w := &watcher{
		query:  q,
		fn:     fn,
		notify: make(chan struct{}, 1),
		failed: make(chan error, 1),
		done:   make(chan struct{}),
	}
	s.watchMu.Lock()
	id := s.nextW
	s.nextW++
	s.watchers[id] = w
	s.watchMu.Unlock()

	w.notify <- struct{}{}
	go s.deliver(w)

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
		w.stop()
	}
}

// deliver is the only caller of w.fn, so a terminal error can never be
// overtaken by a result set computed before it.
func (s *Store) deliver(w *watcher) {
	for {
		select {
		case <-w.done:
			return
		case err := <-w.failed:
			w.fn(nil, err)
			return
		case <-w.notify:
			results := s.ListSubmissions(w.query)
			select {
			case <-w.done:
				return
			case err := <-w.failed:
				w.fn(nil, err)
				return
			default:
			}
			w.fn(results, nil)
		}
	}
}

// LiveQueries reports how many watches are registered.
func (s *Store) LiveQueries() int {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return len(s.watchers)
}

func (s *Store) notifyWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, w := range s.watchers {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// FailWatchers removes every live query and hands each a terminal error,
// delivered on the query's own goroutine after any in-flight result. Backends
// call this when they lose their durable connection.
func (s *Store) FailWatchers(err error) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for id, w := range s.watchers {
		delete(s.watchers, id)
		select {
		case w.failed <- err:
		default:
		}
	}
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindSubmission exposes submission lookup within the transaction scope.
func (tx *transaction) FindSubmission(id string) (Submission, bool) {
	sub, ok := tx.state.submissions[id]
	if !ok {
		return Submission{}, false
	}
	return sub.Clone(), true
}

// ListSubmissions exposes queries within the transaction scope.
func (tx *transaction) ListSubmissions(q SubmissionQuery) []Submission {
	return tx.state.query(q)
}

// CreateSubmission stores a new submission within the transaction.
func (tx *transaction) CreateSubmission(sub Submission) (Submission, error) {
	if sub.ID == "" {
		sub.ID = tx.store.idFn()
	}
	if _, exists := tx.state.submissions[sub.ID]; exists {
		return Submission{}, fmt.Errorf("submission %q already exists", sub.ID)
	}
	sub.IdentityHandle = domain.NormalizeHandle(sub.IdentityHandle)
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = tx.now
	}
	tx.state.submissions[sub.ID] = sub.Clone()
	tx.recordChange(Change{Entity: domain.EntitySubmission, Action: domain.ActionCreate, After: sub.Clone()})
	return sub.Clone(), nil
}

// UpdateSubmission mutates a submission using the provided mutator function.
// Identity fields (id, handle, creation time) are not mutable.
func (tx *transaction) UpdateSubmission(id string, mutator func(*Submission) error) (Submission, error) {
	current, ok := tx.state.submissions[id]
	if !ok {
		return Submission{}, domain.ErrNotFound{Entity: domain.EntitySubmission, ID: id}
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Submission{}, err
	}
	current.ID = id
	current.IdentityHandle = before.IdentityHandle
	current.CreatedAt = before.CreatedAt
	tx.state.submissions[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntitySubmission, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}
