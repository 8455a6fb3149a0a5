package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"contribledger/internal/blob"
	"contribledger/pkg/domain"
)

// Archiver persists point-in-time copies of a handle's ledger.
type Archiver interface {
	Archive(ctx context.Context, handle string, ledger []domain.Submission) error
}

// LedgerArchive is the JSON document written per archived snapshot.
type LedgerArchive struct {
	Handle      string              `json:"handle"`
	ArchivedAt  time.Time           `json:"archived_at"`
	Submissions []domain.Submission `json:"submissions"`
}

// BlobArchiver writes ledger snapshots to a create-only blob store under
// ledgers/<handle>/<unix-nanos>.json.
type BlobArchiver struct {
	store blob.Store
	clock Clock
}

// NewBlobArchiver returns an archiver over store. clock may be nil.
func NewBlobArchiver(store blob.Store, clock Clock) *BlobArchiver {
	if clock == nil {
		clock = ClockFunc(func() time.Time { return time.Now().UTC() })
	}
	return &BlobArchiver{store: store, clock: clock}
}

// ArchiveKey returns the blob key for handle at instant.
func ArchiveKey(handle string, at time.Time) string {
	return fmt.Sprintf("ledgers/%s/%d.json", handle, at.UnixNano())
}

// Archive implements Archiver.
func (a *BlobArchiver) Archive(ctx context.Context, handle string, ledger []domain.Submission) error {
	at := a.clock.Now()
	doc := LedgerArchive{Handle: handle, ArchivedAt: at, Submissions: ledger}
	if doc.Submissions == nil {
		doc.Submissions = []domain.Submission{}
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode ledger archive: %w", err)
	}
	_, err = a.store.Put(ctx, ArchiveKey(handle, at), bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"handle":  handle,
			"entries": strconv.Itoa(len(doc.Submissions)),
		},
	})
	if err != nil {
		return fmt.Errorf("archive ledger %s: %w", handle, err)
	}
	return nil
}

// History lists archived snapshots for handle in key order.
func (a *BlobArchiver) History(ctx context.Context, handle string) ([]blob.Info, error) {
	return a.store.List(ctx, "ledgers/"+handle+"/")
}

// Fetch decodes one archived snapshot.
func (a *BlobArchiver) Fetch(ctx context.Context, key string) (LedgerArchive, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return LedgerArchive{}, err
	}
	defer func() { _ = rc.Close() }()
	var doc LedgerArchive
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return LedgerArchive{}, fmt.Errorf("decode ledger archive %s: %w", key, err)
	}
	return doc, nil
}
