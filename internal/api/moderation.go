package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"contribledger/internal/core"
	"contribledger/pkg/domain"
)

// queueFrame is one websocket message: the full pending set at that moment.
type queueFrame struct {
	State   core.AccessState    `json:"state"`
	Pending []domain.Submission `json:"pending"`
	Error   *errorBody          `json:"error,omitempty"`
}

var resolveActions = map[string]domain.SubmissionStatus{
	"approve": domain.StatusApproved,
	"reject":  domain.StatusRejected,
}

// authorization returns the request's bearer credentials. Browsers cannot set
// headers on websocket upgrades, so access_token is accepted as a query
// parameter too.
func authorization(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			header = "Bearer " + token
		}
	}
	return header
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="moderation"`)
	writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
}

func writeAccessDenied(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, string(domain.CodeAccessDenied), "moderation access denied")
}

// authorize checks a one-shot moderation request. It writes the 401/403
// response and returns false unless the session is allowed.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (core.Session, bool) {
	session, err := s.tokens.Authenticate(authorization(r))
	if err != nil {
		writeUnauthenticated(w)
		return core.Session{}, false
	}
	if s.authz == nil || !s.authz.IsAuthorized(session) {
		writeAccessDenied(w)
		return core.Session{}, false
	}
	return session, true
}

// openGate builds and starts an AccessGate for the request's credentials. It
// writes the 401/403 response and returns nil unless access is allowed.
func (s *Server) openGate(w http.ResponseWriter, r *http.Request) *core.AccessGate {
	gate := core.NewAccessGate(s.tokens.ProviderFor(authorization(r)), s.authz, s.svc.NewModerationQueue(), s.logger)
	gate.Start()
	switch gate.State() {
	case core.AccessAuthenticatedAllowed:
		return gate
	case core.AccessAuthenticatedDenied:
		gate.Close()
		writeAccessDenied(w)
	default:
		gate.Close()
		writeUnauthenticated(w)
	}
	return nil
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	pending, err := s.svc.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	target, ok := resolveActions[chi.URLParam(r, "action")]
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "unknown moderation action")
		return
	}
	session, ok := s.authorize(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.svc.ResolveSubmission(r.Context(), id, target, session.Email); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": target, "reviewer": session.Email})
}

// handleQueue streams the pending set to an authorized moderator until either
// side closes the connection.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	gate := s.openGate(w, r)
	if gate == nil {
		return
	}
	defer gate.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("moderation stream upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Clients only receive; reading surfaces their close frame.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-gate.Changes():
			if err := s.writeFrame(ctx, conn, gate); err != nil {
				s.logger.Debug("moderation stream write failed", "error", err)
				_ = conn.Close(websocket.StatusInternalError, "write_failed")
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, gate *core.AccessGate) error {
	frame := queueFrame{State: gate.State(), Pending: gate.Pending()}
	if err := gate.Err(); err != nil {
		frame.Error = &errorBody{Code: string(domain.CodeOf(err)), Message: err.Error()}
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, frame)
}
