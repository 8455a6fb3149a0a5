package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"contribledger/pkg/domain"
)

// fakeProvider records subscribers and lets tests push session changes.
type fakeProvider struct {
	mu       sync.Mutex
	subs     map[int]func(*Session)
	next     int
	signOuts int
}

func newFakeProvider() *fakeProvider { return &fakeProvider{subs: make(map[int]func(*Session))} }

func (p *fakeProvider) SubscribeToSessionChanges(fn func(*Session)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	p.mu.Unlock()
	p.emit(nil)
	return nil
}

func (p *fakeProvider) emit(s *Session) {
	p.mu.Lock()
	fns := make([]func(*Session), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// countingModerator counts Subscribe calls and can deliver on demand.
type countingModerator struct {
	mu         sync.Mutex
	subscribes int
	active     int
	onUpdate   func([]domain.Submission)
	resolved   []string
	reviewers  []string
}

func (m *countingModerator) Subscribe(onUpdate func([]domain.Submission), _ func(error)) func() {
	m.mu.Lock()
	m.subscribes++
	m.active++
	m.onUpdate = onUpdate
	m.mu.Unlock()
	onUpdate([]domain.Submission{{ID: "sub-1", Status: domain.StatusPending}})
	return func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}
}

func (m *countingModerator) Resolve(_ context.Context, id string, _ domain.SubmissionStatus, reviewer string) error {
	m.mu.Lock()
	m.resolved = append(m.resolved, id)
	m.reviewers = append(m.reviewers, reviewer)
	m.mu.Unlock()
	return nil
}

func (m *countingModerator) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes, m.active
}

func TestAccessGateUnauthenticatedNeverSubscribes(t *testing.T) {
	provider := newFakeProvider()
	mod := &countingModerator{}
	gate := NewAccessGate(provider, NewEmailAllowlist("mod@example.com"), mod, nil)
	if gate.State() != AccessAuthPending {
		t.Fatalf("expected AUTH_PENDING before start, got %s", gate.State())
	}
	gate.Start()
	defer gate.Close()
	provider.emit(nil)

	if gate.State() != AccessUnauthenticated {
		t.Fatalf("expected UNAUTHENTICATED, got %s", gate.State())
	}
	if subs, _ := mod.counts(); subs != 0 {
		t.Fatalf("subscribe must not be issued, got %d", subs)
	}
	if len(gate.Pending()) != 0 {
		t.Fatalf("no pending data may be exposed")
	}
	expectCode(t, gate.Resolve(context.Background(), "sub-1", domain.StatusApproved), domain.CodeAccessDenied)
}

func TestAccessGateDeniedSessionGetsNoQueue(t *testing.T) {
	provider := newFakeProvider()
	mod := &countingModerator{}
	gate := NewAccessGate(provider, NewEmailAllowlist("mod@example.com"), mod, nil)
	gate.Start()
	defer gate.Close()
	provider.emit(&Session{UID: "u2", Email: "someone@example.com"})

	if gate.State() != AccessAuthenticatedDenied {
		t.Fatalf("expected AUTHENTICATED_DENIED, got %s", gate.State())
	}
	if subs, _ := mod.counts(); subs != 0 {
		t.Fatalf("denied sessions must not subscribe")
	}
	expectCode(t, gate.Resolve(context.Background(), "sub-1", domain.StatusApproved), domain.CodeAccessDenied)
}

func TestAccessGateAllowedLifecycle(t *testing.T) {
	provider := newFakeProvider()
	mod := &countingModerator{}
	gate := NewAccessGate(provider, NewEmailAllowlist(" Mod@Example.com "), mod, nil)
	gate.Start()
	defer gate.Close()
	provider.emit(&Session{UID: "u1", Email: "MOD@example.COM"})

	if gate.State() != AccessAuthenticatedAllowed {
		t.Fatalf("expected AUTHENTICATED_ALLOWED, got %s", gate.State())
	}
	waitFor(t, func() bool { return len(gate.Pending()) == 1 })
	select {
	case <-gate.Changes():
	case <-time.After(time.Second):
		t.Fatalf("expected change signal")
	}

	if err := gate.Resolve(context.Background(), "sub-1", domain.StatusApproved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mod.reviewers[0] != "MOD@example.COM" {
		t.Fatalf("reviewer should be the session email, got %q", mod.reviewers[0])
	}

	if err := gate.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if gate.State() != AccessUnauthenticated {
		t.Fatalf("expected UNAUTHENTICATED after logout, got %s", gate.State())
	}
	if _, active := mod.counts(); active != 0 {
		t.Fatalf("queue subscription leaked after logout")
	}
	if len(gate.Pending()) != 0 {
		t.Fatalf("pending data must be dropped after logout")
	}
}

func TestAccessGateSessionSwitchTearsDownSubscription(t *testing.T) {
	provider := newFakeProvider()
	mod := &countingModerator{}
	gate := NewAccessGate(provider, NewEmailAllowlist("mod@example.com"), mod, nil)
	gate.Start()
	provider.emit(&Session{Email: "mod@example.com"})
	provider.emit(&Session{Email: "mod@example.com"})
	if subs, active := mod.counts(); subs != 2 || active != 1 {
		t.Fatalf("expected one live subscription after re-auth, got subs=%d active=%d", subs, active)
	}
	provider.emit(&Session{Email: "intruder@example.com"})
	if _, active := mod.counts(); active != 0 {
		t.Fatalf("denied session must release the queue")
	}
	gate.Close()
	provider.emit(&Session{Email: "mod@example.com"})
	if subs, _ := mod.counts(); subs != 2 {
		t.Fatalf("closed gate must ignore session changes")
	}
}

func TestAccessGateWithServiceQueue(t *testing.T) {
	svc, _ := newTestService(t)
	sub := mustAppend(t, svc, "alice", 1)
	provider := newFakeProvider()
	gate := NewAccessGate(provider, NewEmailAllowlist("mod@example.com"), svc.NewModerationQueue(), nil)
	gate.Start()
	defer gate.Close()
	provider.emit(&Session{Email: "mod@example.com"})
	waitFor(t, func() bool { return len(gate.Pending()) == 1 })

	if err := gate.Resolve(context.Background(), sub.ID, domain.StatusApproved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	waitFor(t, func() bool { return len(gate.Pending()) == 0 })
	stored, _ := svc.Store().GetSubmission(sub.ID)
	if stored.Reviewer != "mod@example.com" {
		t.Fatalf("expected reviewer recorded, got %+v", stored)
	}
}

func TestEmailAllowlist(t *testing.T) {
	list := NewEmailAllowlist("a@example.com", "", "  B@Example.com")
	if !list.IsAuthorized(Session{Email: "b@example.com"}) || !list.IsAuthorized(Session{Email: "A@EXAMPLE.COM"}) {
		t.Fatalf("expected case-insensitive match")
	}
	if list.IsAuthorized(Session{Email: ""}) || list.IsAuthorized(Session{Email: "c@example.com"}) {
		t.Fatalf("unexpected authorization")
	}
}
