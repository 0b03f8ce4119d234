package paylink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/money"
)

// ErrNotMerchant occurs when a link is requested for a non-merchant account.
var ErrNotMerchant = errors.New("account is not a merchant")

// Resolver maps shareable link identifiers to pending payment requests and
// enforces single-use and expiry semantics. Consumption itself happens inside
// the transfer engine's atomic unit; the resolver only reads and pre-screens.
type Resolver struct {
	store ledger.Store
}

// NewResolver builds a resolver on top of the ledger store.
func NewResolver(store ledger.Store) *Resolver {
	return &Resolver{store: store}
}

// CreateInput captures a merchant's request for a new payment link.
type CreateInput struct {
	MerchantID  uuid.UUID
	Amount      *int64 // nil lets the payer choose
	Currency    string
	Description string
	ExpiresIn   time.Duration // 0 means no expiry
}

// Create issues an active payment link for the merchant account.
func (r *Resolver) Create(ctx context.Context, input CreateInput) (ledger.PaymentLink, error) {
	merchant, err := r.store.Account(ctx, input.MerchantID)
	if err != nil {
		return ledger.PaymentLink{}, err
	}
	if merchant.Kind != ledger.KindMerchant {
		return ledger.PaymentLink{}, fmt.Errorf("%w: %s", ErrNotMerchant, input.MerchantID)
	}
	if merchant.Status != ledger.AccountActive {
		return ledger.PaymentLink{}, ledger.ErrAccountBlocked
	}
	if !money.Supported(input.Currency) {
		return ledger.PaymentLink{}, money.ErrUnsupportedCurrency
	}
	if input.Amount != nil && *input.Amount <= 0 {
		return ledger.PaymentLink{}, money.ErrInvalidAmount
	}

	now := time.Now().UTC()
	link := ledger.PaymentLink{
		LinkID:      uuid.NewString(),
		MerchantID:  merchant.ID,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Description: input.Description,
		Status:      ledger.LinkActive,
		CreatedAt:   now,
	}
	if input.ExpiresIn > 0 {
		expiry := now.Add(input.ExpiresIn)
		link.ExpiresAt = &expiry
	}

	if err := r.store.CreateLink(ctx, link); err != nil {
		return ledger.PaymentLink{}, err
	}
	return link, nil
}

// Resolve returns the link when it is still payable. Expired links are marked
// expired on first read, matching the lazy transition the merchant dashboard
// relies on.
func (r *Resolver) Resolve(ctx context.Context, linkID string) (ledger.PaymentLink, error) {
	link, err := r.store.Link(ctx, linkID)
	if err != nil {
		return ledger.PaymentLink{}, err
	}

	switch link.Status {
	case ledger.LinkConsumed:
		return ledger.PaymentLink{}, ledger.ErrLinkAlreadyConsumed
	case ledger.LinkExpired:
		return ledger.PaymentLink{}, ledger.ErrLinkExpired
	case ledger.LinkCancelled:
		return ledger.PaymentLink{}, ledger.ErrLinkCancelled
	}

	if link.ExpiresAt != nil && link.ExpiresAt.Before(time.Now().UTC()) {
		// A racing consumption may win; either way the link is not payable.
		_ = r.store.TransitionLink(ctx, linkID, ledger.LinkActive, ledger.LinkExpired)
		return ledger.PaymentLink{}, ledger.ErrLinkExpired
	}

	return link, nil
}

// Cancel withdraws an active link. Consumed or expired links cannot be cancelled.
func (r *Resolver) Cancel(ctx context.Context, linkID string) error {
	return r.store.TransitionLink(ctx, linkID, ledger.LinkActive, ledger.LinkCancelled)
}
