package core

import (
	"context"
	"strings"

	"github.com/mr-tron/base58"

	"contribledger/pkg/domain"
)

const (
	// DefaultFallbackCap is granted to handles missing from the allocation directory.
	DefaultFallbackCap = 1.0

	minWalletLength = 32
	maxWalletLength = 44
)

// AllocationDirectory resolves a normalized handle to its known allocation.
// The boolean is false when the handle is unknown.
type AllocationDirectory interface {
	ResolveAllocation(ctx context.Context, handle string) (domain.AllocationRecord, bool, error)
}

// Verification is the outcome of a successful CapResolver.Verify.
type Verification struct {
	Identity domain.Identity `json:"identity"`
	Cap      float64         `json:"cap"`
	Known    bool            `json:"known"`
}

// CapResolver maps a claimed identity to its contribution cap.
type CapResolver struct {
	directory   AllocationDirectory
	fallbackCap float64
}

// NewCapResolver builds a resolver. A nil directory treats every handle as
// unknown.
func NewCapResolver(directory AllocationDirectory, fallbackCap float64) *CapResolver {
	if fallbackCap <= 0 {
		fallbackCap = DefaultFallbackCap
	}
	return &CapResolver{directory: directory, fallbackCap: fallbackCap}
}

// FallbackCap returns the cap granted to unknown handles.
func (r *CapResolver) FallbackCap() float64 { return r.fallbackCap }

// Verify normalizes and validates the inputs, then resolves the cap. A known
// handle whose recorded wallet differs from walletInput is rejected and never
// falls through to the fallback cap.
func (r *CapResolver) Verify(ctx context.Context, handleInput, walletInput string) (Verification, error) {
	handle := domain.NormalizeHandle(handleInput)
	wallet := strings.TrimSpace(walletInput)
	if handle == "" || wallet == "" {
		return Verification{}, domain.NewError(domain.CodeCredentialsMissing, "handle and wallet address are required")
	}
	if err := ValidateWalletAddress(wallet); err != nil {
		return Verification{}, err
	}
	identity := domain.Identity{Handle: handle, WalletAddress: wallet}
	if r.directory == nil {
		return Verification{Identity: identity, Cap: r.fallbackCap}, nil
	}
	record, found, err := r.directory.ResolveAllocation(ctx, handle)
	if err != nil {
		return Verification{}, domain.WrapError(domain.CodeLookupFailed, err, "resolve allocation for %s", handle)
	}
	if !found {
		return Verification{Identity: identity, Cap: r.fallbackCap}, nil
	}
	if record.WalletAddress != wallet {
		return Verification{}, domain.NewError(domain.CodeWalletMismatch, "wallet does not match the allocation recorded for %s", handle)
	}
	return Verification{Identity: identity, Cap: record.Cap, Known: true}, nil
}

// ValidateWalletAddress checks the base-58 address grammar: 32 to 44
// characters drawn from the alphabet without 0, O, I and l.
func ValidateWalletAddress(addr string) error {
	if n := len(addr); n < minWalletLength || n > maxWalletLength {
		return domain.NewError(domain.CodeAddressFormatInvalid, "wallet address must be %d-%d characters", minWalletLength, maxWalletLength)
	}
	if _, err := base58.Decode(addr); err != nil {
		return domain.WrapError(domain.CodeAddressFormatInvalid, err, "wallet address is not base-58")
	}
	return nil
}
