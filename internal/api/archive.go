package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"contribledger/internal/blob"
	"contribledger/internal/core"
	"contribledger/pkg/domain"
)

// ArchiveReader reads archived ledger snapshots.
type ArchiveReader interface {
	History(ctx context.Context, handle string) ([]blob.Info, error)
	Fetch(ctx context.Context, key string) (core.LedgerArchive, error)
}

// WithArchive mounts the read-only archive routes.
func WithArchive(r ArchiveReader) Option {
	return func(s *Server) { s.archive = r }
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.verifyOwner(w, r)
	if !ok {
		return
	}
	infos, err := s.archive.History(r.Context(), handle)
	if err != nil {
		s.logger.Error("list ledger archives", "handle", handle, "error", err)
		writeError(w, http.StatusServiceUnavailable, string(domain.CodeLookupFailed), "archive unavailable")
		return
	}
	if infos == nil {
		infos = []blob.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"handle": handle, "archives": infos})
}

// handleArchive serves one snapshot addressed by its unix-nanosecond stamp.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.verifyOwner(w, r)
	if !ok {
		return
	}
	stamp, err := strconv.ParseInt(chi.URLParam(r, "stamp"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "archive stamp must be unix nanoseconds")
		return
	}
	doc, err := s.archive.Fetch(r.Context(), core.ArchiveKey(handle, time.Unix(0, stamp)))
	switch {
	case errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "archive not found")
	case err != nil:
		s.logger.Error("fetch ledger archive", "handle", handle, "error", err)
		writeError(w, http.StatusServiceUnavailable, string(domain.CodeLookupFailed), "archive unavailable")
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}
