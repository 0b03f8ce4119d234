package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/money"
	"github.com/adfaaly/cashd/internal/pin"
)

var (
	// ErrValidation occurs when provisioning input is malformed.
	ErrValidation = errors.New("invalid account input")
)

// Service provisions accounts and manages their PIN and status lifecycle.
type Service struct {
	store ledger.Store
	pins  *pin.Verifier
}

// NewService constructs an account service.
func NewService(store ledger.Store, pins *pin.Verifier) *Service {
	return &Service{store: store, pins: pins}
}

// CreateInput describes a new account. PIN is required for customers and
// agents; merchants settle through payment links and never present one.
// DailyLimit only applies to agents and is expressed in minor units.
type CreateInput struct {
	OwnerID    uuid.UUID
	Kind       ledger.AccountKind
	Currency   string
	PIN        string
	DailyLimit int64
}

// Create provisions a zero-balance account.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Account, error) {
	if input.OwnerID == uuid.Nil {
		return ledger.Account{}, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	switch input.Kind {
	case ledger.KindCustomer, ledger.KindAgent, ledger.KindMerchant:
	default:
		return ledger.Account{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, input.Kind)
	}
	if !money.Supported(input.Currency) {
		return ledger.Account{}, fmt.Errorf("%w: unsupported currency %q", ErrValidation, input.Currency)
	}
	if input.DailyLimit < 0 {
		return ledger.Account{}, fmt.Errorf("%w: negative daily limit", ErrValidation)
	}
	if input.Kind != ledger.KindAgent && input.DailyLimit != 0 {
		return ledger.Account{}, fmt.Errorf("%w: daily limit only applies to agents", ErrValidation)
	}

	account := ledger.Account{
		ID:        uuid.New(),
		OwnerID:   input.OwnerID,
		Kind:      input.Kind,
		Currency:  input.Currency,
		Status:    ledger.AccountActive,
		CreatedAt: time.Now().UTC(),
	}
	if input.Kind == ledger.KindAgent {
		account.DailyLimit = input.DailyLimit
		account.DailyResetAt = account.CreatedAt
	}

	if input.Kind == ledger.KindMerchant {
		if input.PIN != "" {
			return ledger.Account{}, fmt.Errorf("%w: merchants do not carry a PIN", ErrValidation)
		}
	} else {
		hash, err := pin.Hash(input.PIN)
		if err != nil {
			return ledger.Account{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		account.PINHash = hash
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return ledger.Account{}, err
	}
	return account, nil
}

// Get fetches an account by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return s.store.Account(ctx, id)
}

// ChangePIN verifies the current PIN before storing the new one, so a stolen
// device cannot silently rotate credentials.
func (s *Service) ChangePIN(ctx context.Context, id uuid.UUID, current, next string) error {
	if err := s.pins.Verify(ctx, id, current); err != nil {
		return err
	}
	hash, err := pin.Hash(next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.store.SetAccountPIN(ctx, id, hash)
}

// Block freezes the account. Blocked accounts cannot move money in either
// direction until unblocked.
func (s *Service) Block(ctx context.Context, id uuid.UUID) error {
	return s.store.SetAccountStatus(ctx, id, ledger.AccountBlocked)
}

// Unblock reactivates a blocked account.
func (s *Service) Unblock(ctx context.Context, id uuid.UUID) error {
	return s.store.SetAccountStatus(ctx, id, ledger.AccountActive)
}
