package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAccountNotFound occurs when the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists occurs when provisioning collides with an existing account.
	ErrAccountExists = errors.New("account exists")

	// ErrAccountBlocked occurs when an operation touches an account that is not active.
	ErrAccountBlocked = errors.New("account blocked")

	// ErrInsufficientFunds occurs when a debit would take a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLimitExceeded occurs when an agent operation would exceed the agent's
	// daily transaction limit.
	ErrLimitExceeded = errors.New("daily limit exceeded")

	// ErrDuplicateIdempotencyKey indicates an entry with the same idempotency
	// key already exists; the original entry is returned alongside it so the
	// caller can replay the stored outcome.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrEntryNotFound occurs when the referenced ledger entry does not exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrEntryNotPending occurs when a terminal transition is attempted on an
	// entry that already reached a terminal status. Entries are immutable once
	// terminal.
	ErrEntryNotPending = errors.New("entry not pending")

	// ErrLinkNotFound occurs when the payment link does not exist.
	ErrLinkNotFound = errors.New("payment link not found")

	// ErrLinkExists occurs when a link identifier collides on creation.
	ErrLinkExists = errors.New("payment link exists")

	// ErrLinkAlreadyConsumed occurs when a payment races against or follows a
	// completed payment on the same link.
	ErrLinkAlreadyConsumed = errors.New("payment link already consumed")

	// ErrLinkExpired occurs when the link's expiry has passed.
	ErrLinkExpired = errors.New("payment link expired")

	// ErrLinkCancelled occurs when the merchant cancelled the link.
	ErrLinkCancelled = errors.New("payment link cancelled")
)

// AccountKind distinguishes the three balance holders.
type AccountKind string

const (
	KindCustomer AccountKind = "customer"
	KindAgent    AccountKind = "agent"
	KindMerchant AccountKind = "merchant"
)

// AccountStatus is the lifecycle state of an account. Accounts are never
// hard-deleted, only blocked.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBlocked AccountStatus = "blocked"
)

// EntryKind identifies the operation an entry records.
type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"
	EntryWithdrawal EntryKind = "withdrawal"
	EntryTransfer   EntryKind = "transfer"
	EntryPayment    EntryKind = "payment"
)

// EntryStatus is the lifecycle state of a ledger entry. Pending entries move
// exactly once to one of the terminal statuses and are immutable afterward.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
	StatusRejected  EntryStatus = "rejected"
)

// Terminal reports whether the status is one of the three terminal states.
func (s EntryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// LinkStatus is the lifecycle state of a payment link.
type LinkStatus string

const (
	LinkActive    LinkStatus = "active"
	LinkConsumed  LinkStatus = "consumed"
	LinkExpired   LinkStatus = "expired"
	LinkCancelled LinkStatus = "cancelled"
)

// Account is one balance holder: a customer wallet, an agent cash float, or a
// merchant wallet. Balances are integer minor units of Currency.
type Account struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	Kind         AccountKind
	Balance      int64
	Currency     string
	Status       AccountStatus
	PINHash      []byte
	DailyLimit   int64 // agents only; 0 means no limit
	DailyUsed    int64
	DailyResetAt time.Time
	CreatedAt    time.Time
}

// Entry is one attempted money movement and its outcome.
type Entry struct {
	ID             uuid.UUID
	Kind           EntryKind
	SourceID       *uuid.UUID // nil for deposits
	DestinationID  *uuid.UUID // nil for withdrawals
	AgentID        *uuid.UUID // deposits and withdrawals
	Amount         int64
	Currency       string
	Status         EntryStatus
	IdempotencyKey string
	Reference      string
	Reason         string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// PaymentLink is a merchant-issued, single-use request for payment.
type PaymentLink struct {
	LinkID      string
	MerchantID  uuid.UUID
	Amount      *int64 // nil lets the payer choose the amount
	Currency    string
	Description string
	Status      LinkStatus
	EntryID     *uuid.UUID // set once consumed
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// Delta is one signed balance mutation inside an atomic unit.
type Delta struct {
	AccountID uuid.UUID
	Amount    int64
}

// AgentUsage accumulates an agent's daily cash volume inside the same atomic
// unit as the balance deltas, enforcing the agent's daily limit.
type AgentUsage struct {
	AgentID uuid.UUID
	Amount  int64
}

// ApplyInput describes the atomic unit that finalizes a pending entry: the
// balance deltas, optional agent usage accounting, and optional payment link
// consumption commit together with the completed mark, or not at all.
type ApplyInput struct {
	EntryID       uuid.UUID
	Deltas        []Delta
	Usage         *AgentUsage
	ConsumeLinkID string
}

// ApplyResult reports the post-commit balances of every account touched.
type ApplyResult struct {
	Balances    map[uuid.UUID]int64
	CompletedAt time.Time
}

// Store is the single authority over accounts, ledger entries, and payment
// links. Implementations must serialize operations touching the same
// account(s); Apply either commits every effect or none.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	Account(ctx context.Context, id uuid.UUID) (Account, error)
	SetAccountStatus(ctx context.Context, id uuid.UUID, status AccountStatus) error
	SetAccountPIN(ctx context.Context, id uuid.UUID, hash []byte) error

	// RecordPending appends a pending entry. If an entry with the same
	// idempotency key already exists it returns that entry together with
	// ErrDuplicateIdempotencyKey.
	RecordPending(ctx context.Context, entry Entry) (Entry, error)
	Entry(ctx context.Context, id uuid.UUID) (Entry, error)
	EntryByKey(ctx context.Context, idempotencyKey string) (Entry, error)

	// Apply finalizes a pending entry as completed. On a precondition failure
	// (insufficient funds, blocked account, limit, link no longer active) it
	// returns the corresponding error with no effect; the entry stays pending.
	Apply(ctx context.Context, input ApplyInput) (ApplyResult, error)
	MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) error
	MarkRejected(ctx context.Context, entryID uuid.UUID, reason string) error

	// FailStalePending fails pending entries created before cutoff. Used by
	// the reconciliation job only.
	FailStalePending(ctx context.Context, cutoff time.Time, reason string) (int, error)
	// ResetDailyUsage zeroes agent daily counters and stamps the reset time.
	ResetDailyUsage(ctx context.Context, resetAt time.Time) (int, error)

	CreateLink(ctx context.Context, link PaymentLink) error
	Link(ctx context.Context, linkID string) (PaymentLink, error)
	// TransitionLink moves a link from one status to another, rejecting the
	// transition when the link is no longer in the expected status.
	TransitionLink(ctx context.Context, linkID string, from, to LinkStatus) error
}
