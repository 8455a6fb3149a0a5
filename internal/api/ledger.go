package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contribledger/internal/core"
	"contribledger/pkg/domain"
)

const maxBodyBytes = 64 << 10

type verifyRequest struct {
	Handle        string `json:"handle"`
	WalletAddress string `json:"wallet_address"`
}

type submitRequest struct {
	WalletAddress  string  `json:"wallet_address"`
	ProofReference string  `json:"proof_reference"`
	Amount         float64 `json:"amount"`
}

type ledgerResponse struct {
	Handle      string              `json:"handle"`
	Submissions []domain.Submission `json:"submissions"`
	Summary     core.LedgerSummary  `json:"summary"`
}

func (s *Server) handleWindow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"window": s.svc.Countdown()})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := s.svc.VerifyIdentity(r.Context(), req.Handle, req.WalletAddress)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verification": v,
		"minimum":      s.svc.MinimumContribution(),
		"window":       s.svc.Countdown(),
	})
}

// verifyOwner checks the wallet query parameter against the handle in the
// path. It writes the error response and returns false on mismatch.
func (s *Server) verifyOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	handle := chi.URLParam(r, "handle")
	v, err := s.svc.VerifyIdentity(r.Context(), handle, r.URL.Query().Get("wallet"))
	if err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return v.Identity.Handle, true
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.verifyOwner(w, r)
	if !ok {
		return
	}
	subs, err := s.svc.LoadLedger(r.Context(), handle)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	summary := core.SummarizeLedger(subs)
	summary.Handle = handle
	writeJSON(w, http.StatusOK, ledgerResponse{Handle: handle, Submissions: subs, Summary: summary})
}

// handleSubmit re-verifies the caller and derives the cap and window state
// server-side; the client never supplies either.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := s.svc.SubmitContribution(r.Context(), core.SubmitRequest{
		Handle:         chi.URLParam(r, "handle"),
		WalletAddress:  req.WalletAddress,
		ProofReference: req.ProofReference,
		Amount:         req.Amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"submission": sub})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}
