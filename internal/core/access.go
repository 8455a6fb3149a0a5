package core

import (
	"context"
	"strings"
	"sync"

	"contribledger/pkg/domain"
)

// Session is an authenticated principal as reported by an AuthProvider.
type Session struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// AuthProvider is the external session source. SubscribeToSessionChanges must
// deliver the current session (nil when signed out) and every later change.
type AuthProvider interface {
	SubscribeToSessionChanges(fn func(*Session)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// Authorizer decides whether a session may moderate.
type Authorizer interface {
	IsAuthorized(session Session) bool
}

// EmailAllowlist authorizes sessions whose email matches an entry,
// case-insensitively.
type EmailAllowlist map[string]struct{}

// NewEmailAllowlist builds an allowlist from emails, skipping blanks.
func NewEmailAllowlist(emails ...string) EmailAllowlist {
	list := make(EmailAllowlist, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			list[e] = struct{}{}
		}
	}
	return list
}

// IsAuthorized implements Authorizer.
func (l EmailAllowlist) IsAuthorized(session Session) bool {
	email := normalizeEmail(session.Email)
	if email == "" {
		return false
	}
	_, ok := l[email]
	return ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccessState is the AccessGate state machine.
type AccessState string

const (
	AccessAuthPending          AccessState = "AUTH_PENDING"
	AccessUnauthenticated      AccessState = "UNAUTHENTICATED"
	AccessAuthenticatedDenied  AccessState = "AUTHENTICATED_DENIED"
	AccessAuthenticatedAllowed AccessState = "AUTHENTICATED_ALLOWED"
)

// AccessGate exposes the moderation queue only to authorized sessions. The
// queue subscription is only opened in AUTHENTICATED_ALLOWED and is torn down
// on every session change.
type AccessGate struct {
	provider  AuthProvider
	authz     Authorizer
	moderator Moderator
	logger    Logger

	mu         sync.Mutex
	state      AccessState
	session    *Session
	pending    []domain.Submission
	err        error
	generation uint64
	unsubAuth  func()
	unsubQueue func()
	started    bool
	closed     bool
	changes    chan struct{}
}

// NewAccessGate wires a gate. logger may be nil.
func NewAccessGate(provider AuthProvider, authz Authorizer, moderator Moderator, logger Logger) *AccessGate {
	if logger == nil {
		logger = noopLogger{}
	}
	return &AccessGate{
		provider:  provider,
		authz:     authz,
		moderator: moderator,
		logger:    logger,
		state:     AccessAuthPending,
		changes:   make(chan struct{}, 1),
	}
}

// Start subscribes to session changes. It is a no-op after the first call.
func (g *AccessGate) Start() {
	g.mu.Lock()
	if g.started || g.closed {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	unsub := g.provider.SubscribeToSessionChanges(g.onSession)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		unsub()
		return
	}
	g.unsubAuth = unsub
	g.mu.Unlock()
}

// Changes signals after every state or pending-set change. Signals coalesce.
func (g *AccessGate) Changes() <-chan struct{} { return g.changes }

// State returns the current access state.
func (g *AccessGate) State() AccessState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Session returns the active session, if any.
func (g *AccessGate) Session() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return Session{}, false
	}
	return *g.session, true
}

// Pending returns the pending queue. It is empty unless the session is allowed.
func (g *AccessGate) Pending() []domain.Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != AccessAuthenticatedAllowed {
		return []domain.Submission{}
	}
	return clonePending(g.pending)
}

// Err returns the last subscription error.
func (g *AccessGate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Resolve forwards to the moderator with the session email as reviewer.
func (g *AccessGate) Resolve(ctx context.Context, id string, target domain.SubmissionStatus) error {
	g.mu.Lock()
	state := g.state
	var reviewer string
	if g.session != nil {
		reviewer = g.session.Email
	}
	g.mu.Unlock()
	if state != AccessAuthenticatedAllowed {
		return domain.NewError(domain.CodeAccessDenied, "moderation requires an authorized session (state %s)", state)
	}
	return g.moderator.Resolve(ctx, id, target, reviewer)
}

// Logout signs out through the provider and drops to UNAUTHENTICATED.
func (g *AccessGate) Logout(ctx context.Context) error {
	err := g.provider.SignOut(ctx)
	g.onSession(nil)
	return err
}

// Close releases the session and queue subscriptions.
func (g *AccessGate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.generation++
	unsubAuth, unsubQueue := g.unsubAuth, g.unsubQueue
	g.unsubAuth, g.unsubQueue = nil, nil
	g.pending = nil
	g.mu.Unlock()
	if unsubQueue != nil {
		unsubQueue()
	}
	if unsubAuth != nil {
		unsubAuth()
	}
}

func (g *AccessGate) classify(session *Session) AccessState {
	switch {
	case session == nil:
		return AccessUnauthenticated
	case g.authz != nil && g.authz.IsAuthorized(*session):
		return AccessAuthenticatedAllowed
	default:
		return AccessAuthenticatedDenied
	}
}

func (g *AccessGate) onSession(session *Session) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.generation++
	gen := g.generation
	stop := g.unsubQueue
	g.unsubQueue = nil
	g.pending = nil
	g.err = nil
	if session != nil {
		cp := *session
		g.session = &cp
	} else {
		g.session = nil
	}
	g.state = g.classify(session)
	allowed := g.state == AccessAuthenticatedAllowed
	state := g.state
	g.mu.Unlock()

	if stop != nil {
		stop()
	}
	g.logger.Info("moderation access changed", "state", string(state))
	g.signal()
	if !allowed {
		return
	}

	unsub := g.moderator.Subscribe(
		func(items []domain.Submission) {
			g.mu.Lock()
			if g.generation != gen {
				g.mu.Unlock()
				return
			}
			g.pending = items
			g.mu.Unlock()
			g.signal()
		},
		func(err error) {
			g.mu.Lock()
			if g.generation != gen {
				g.mu.Unlock()
				return
			}
			g.pending = nil
			g.err = err
			g.mu.Unlock()
			g.logger.Error("moderation queue failed", "error", err)
			g.signal()
		},
	)

	g.mu.Lock()
	if g.generation != gen {
		g.mu.Unlock()
		unsub()
		return
	}
	g.unsubQueue = unsub
	g.mu.Unlock()
}

func (g *AccessGate) signal() {
	select {
	case g.changes <- struct{}{}:
	default:
	}
}
