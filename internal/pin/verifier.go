package pin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/adfaaly/cashd/internal/ledger"
)

var (
	// ErrInvalidPIN occurs when the presented PIN does not match the stored hash.
	ErrInvalidPIN = errors.New("invalid PIN")

	// ErrAccountLocked occurs once the consecutive-failure budget is exhausted.
	// Locked accounts are rejected without comparing, to bound brute-force cost.
	ErrAccountLocked = errors.New("account locked")

	// ErrPINNotSet occurs when the account has no PIN provisioned yet.
	ErrPINNotSet = errors.New("wallet PIN is not set")
)

// DefaultMaxAttempts is the lockout threshold applied when none is configured.
const DefaultMaxAttempts = 5

// AttemptStore tracks consecutive PIN failures per account.
type AttemptStore interface {
	// Fail records one failure and returns the consecutive failure count.
	Fail(ctx context.Context, accountID uuid.UUID) (int64, error)
	// Count returns the current consecutive failure count.
	Count(ctx context.Context, accountID uuid.UUID) (int64, error)
	// Reset clears the failure count after a successful verification.
	Reset(ctx context.Context, accountID uuid.UUID) error
}

// Verifier validates a presented PIN against the hash stored on the account
// being debited. It never mutates balances.
type Verifier struct {
	store       ledger.Store
	attempts    AttemptStore
	maxAttempts int64
}

// NewVerifier builds a verifier. maxAttempts <= 0 falls back to DefaultMaxAttempts.
func NewVerifier(store ledger.Store, attempts AttemptStore, maxAttempts int) *Verifier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Verifier{store: store, attempts: attempts, maxAttempts: int64(maxAttempts)}
}

// Verify checks the presented PIN for the account. Failures accumulate; once
// the account is locked every attempt is rejected up front.
func (v *Verifier) Verify(ctx context.Context, accountID uuid.UUID, presented string) error {
	account, err := v.store.Account(ctx, accountID)
	if err != nil {
		return err
	}
	if len(account.PINHash) == 0 {
		return ErrPINNotSet
	}

	count, err := v.attempts.Count(ctx, accountID)
	if err != nil {
		return fmt.Errorf("pin attempt lookup: %w", err)
	}
	if count >= v.maxAttempts {
		return ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword(account.PINHash, []byte(presented)); err != nil {
		if _, err := v.attempts.Fail(ctx, accountID); err != nil {
			return fmt.Errorf("pin attempt record: %w", err)
		}
		return ErrInvalidPIN
	}

	if err := v.attempts.Reset(ctx, accountID); err != nil {
		return fmt.Errorf("pin attempt reset: %w", err)
	}
	return nil
}

// Hash derives the bcrypt hash stored for a PIN. PINs must be at least 4 digits.
func Hash(pin string) ([]byte, error) {
	if len(pin) < 4 {
		return nil, errors.New("PIN must be at least 4 digits")
	}
	return bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
}
