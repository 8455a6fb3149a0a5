// Package allocation provides AllocationDirectory implementations backed by a
// static JSON table or a PostgreSQL table.
package allocation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"contribledger/pkg/domain"
)

// StaticDirectory is an immutable in-memory allocation table.
type StaticDirectory struct {
	records map[string]domain.AllocationRecord
}

// NewStaticDirectory validates and indexes records by normalized handle.
func NewStaticDirectory(records []domain.AllocationRecord) (*StaticDirectory, error) {
	index := make(map[string]domain.AllocationRecord, len(records))
	for i, rec := range records {
		handle := domain.NormalizeHandle(rec.Handle)
		if handle == "" {
			return nil, fmt.Errorf("allocation %d: handle required", i)
		}
		if _, dup := index[handle]; dup {
			return nil, fmt.Errorf("allocation %d: duplicate handle %s", i, handle)
		}
		if math.IsNaN(rec.Cap) || rec.Cap < 0 {
			return nil, fmt.Errorf("allocation %s: cap must be non-negative", handle)
		}
		rec.Handle = handle
		rec.WalletAddress = strings.TrimSpace(rec.WalletAddress)
		index[handle] = rec
	}
	return &StaticDirectory{records: index}, nil
}

// LoadFile reads a JSON allocation table. Both an array of records and an
// object keyed by handle are accepted.
func LoadFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allocations: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON allocation table.
func Parse(data []byte) (*StaticDirectory, error) {
	var list []domain.AllocationRecord
	if err := json.Unmarshal(data, &list); err == nil {
		return NewStaticDirectory(list)
	}
	var keyed map[string]struct {
		WalletAddress string  `json:"wallet_address"`
		Cap           float64 `json:"cap"`
	}
	if err := json.Unmarshal(data, &keyed); err != nil {
		return nil, fmt.Errorf("decode allocations: %w", err)
	}
	handles := make([]string, 0, len(keyed))
	for h := range keyed {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	list = make([]domain.AllocationRecord, 0, len(keyed))
	for _, h := range handles {
		list = append(list, domain.AllocationRecord{Handle: h, WalletAddress: keyed[h].WalletAddress, Cap: keyed[h].Cap})
	}
	return NewStaticDirectory(list)
}

// ResolveAllocation implements core.AllocationDirectory.
func (d *StaticDirectory) ResolveAllocation(_ context.Context, handle string) (domain.AllocationRecord, bool, error) {
	rec, ok := d.records[domain.NormalizeHandle(handle)]
	return rec, ok, nil
}

// Len returns the number of known handles.
func (d *StaticDirectory) Len() int { return len(d.records) }
