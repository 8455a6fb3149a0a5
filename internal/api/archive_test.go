package api_test

import (
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribledger/internal/api"
	"contribledger/internal/blob"
	"contribledger/internal/core"
	"contribledger/pkg/domain"
)

func TestArchiveRoutes(t *testing.T) {
	archiver := core.NewBlobArchiver(blob.NewMemory(), nil)
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(),
		core.WithArchiver(archiver),
		core.WithDeadline(time.Now().Add(time.Hour)),
	)
	ts := httptest.NewServer(api.New(svc, nil, nil, api.WithArchive(archiver)).Routes())
	t.Cleanup(ts.Close)

	resp := do(t, ts, http.MethodPost, "/v1/ledgers/newcomer/submissions", "", map[string]any{
		"wallet_address":  walletOther,
		"proof_reference": validProof,
		"amount":          0.5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/v1/ledgers/newcomer/archives?wallet="+walletOther, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode[struct {
		Archives []blob.Info `json:"archives"`
	}](t, resp)
	require.Len(t, listing.Archives, 1)
	assert.Equal(t, "1", listing.Archives[0].Metadata["entries"])

	stamp := strings.TrimSuffix(path.Base(listing.Archives[0].Key), ".json")
	resp = do(t, ts, http.MethodGet, "/v1/ledgers/newcomer/archives/"+stamp+"?wallet="+walletOther, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[core.LedgerArchive](t, resp)
	assert.Equal(t, "newcomer", doc.Handle)
	require.Len(t, doc.Submissions, 1)
	assert.Equal(t, domain.StatusPending, doc.Submissions[0].Status)

	expectError(t, do(t, ts, http.MethodGet, "/v1/ledgers/newcomer/archives/1?wallet="+walletOther, "", nil), http.StatusNotFound, "NotFound")
	expectError(t, do(t, ts, http.MethodGet, "/v1/ledgers/newcomer/archives", "", nil), http.StatusBadRequest, string(domain.CodeCredentialsMissing))
	expectError(t, do(t, ts, http.MethodGet, "/v1/ledgers/newcomer/archives/"+stamp+"?wallet=0xnot-base58", "", nil), http.StatusBadRequest, string(domain.CodeAddressFormatInvalid))
	expectError(t, do(t, ts, http.MethodGet, "/v1/ledgers/newcomer/archives/latest?wallet="+walletOther, "", nil), http.StatusBadRequest, "BadRequest")
}

func TestArchiveRoutesAbsentWithoutReader(t *testing.T) {
	_, ts := newTestServer(t, time.Now().Add(time.Hour))
	resp := do(t, ts, http.MethodGet, "/v1/ledgers/monky_king/archives", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
