package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"contribledger/pkg/domain"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Codes used by the transport for failures outside the domain taxonomy.
const (
	codeBadRequest      = "BadRequest"
	codeUnauthenticated = "Unauthenticated"
	codeNotFound        = "NotFound"
	codeInternal        = "Internal"
)

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	var nf domain.ErrNotFound
	switch domain.CodeOf(err) {
	case domain.CodeCredentialsMissing, domain.CodeAddressFormatInvalid:
		return http.StatusBadRequest
	case domain.CodeProofInvalid, domain.CodeAmountOutOfRange:
		return http.StatusUnprocessableEntity
	case domain.CodeWalletMismatch, domain.CodeAccessDenied:
		return http.StatusForbidden
	case domain.CodeWindowClosed:
		return http.StatusConflict
	case domain.CodeUpdateFailed:
		switch {
		case errors.Is(err, domain.ErrAlreadyResolved):
			return http.StatusConflict
		case errors.As(err, &nf):
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case domain.CodeLookupFailed, domain.CodeSubscribeFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError renders err with the status and code of its domain
// classification. Unclassified errors are reported as Internal without
// leaking their text.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	if code == "" {
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	message := string(code)
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}
	writeError(w, statusFor(err), string(code), message)
}
