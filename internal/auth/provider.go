package auth

import (
	"context"
	"sync"

	"contribledger/internal/core"
)

var _ core.AuthProvider = (*StaticProvider)(nil)

// StaticProvider holds one session in memory and notifies subscribers
// synchronously when it changes.
type StaticProvider struct {
	mu      sync.Mutex
	session *core.Session
	subs    map[uint64]func(*core.Session)
	next    uint64
}

// NewStaticProvider starts with session, which may be nil.
func NewStaticProvider(session *core.Session) *StaticProvider {
	p := &StaticProvider{subs: make(map[uint64]func(*core.Session))}
	if session != nil {
		cp := *session
		p.session = &cp
	}
	return p
}

// SubscribeToSessionChanges delivers the current session immediately.
func (p *StaticProvider) SubscribeToSessionChanges(fn func(*core.Session)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = fn
	current := p.current()
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// SignOut clears the session.
func (p *StaticProvider) SignOut(context.Context) error {
	p.SetSession(nil)
	return nil
}

// SetSession replaces the session and notifies subscribers.
func (p *StaticProvider) SetSession(session *core.Session) {
	p.mu.Lock()
	if session != nil {
		cp := *session
		p.session = &cp
	} else {
		p.session = nil
	}
	current := p.current()
	fns := make([]func(*core.Session), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(current)
	}
}

func (p *StaticProvider) current() *core.Session {
	if p.session == nil {
		return nil
	}
	cp := *p.session
	return &cp
}
