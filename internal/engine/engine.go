package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/money"
	"github.com/adfaaly/cashd/internal/notification"
	"github.com/adfaaly/cashd/internal/paylink"
	"github.com/adfaaly/cashd/internal/pin"
)

var (
	// ErrValidation occurs when a request is malformed. No ledger entry is
	// created for validation failures.
	ErrValidation = errors.New("validation error")

	// ErrOperationInProgress occurs when a request reuses the idempotency key
	// of an operation that has not reached a terminal status yet. The caller
	// should retry later; the original attempt still owns the key.
	ErrOperationInProgress = errors.New("operation in progress")
)

// SubmitInput is one money-movement request. Amount is in integer minor units
// of Currency. PayerID/PayeeID/AgentID are required per operation kind;
// LinkID only for payments.
type SubmitInput struct {
	Kind           ledger.EntryKind
	PayerID        uuid.UUID
	PayeeID        uuid.UUID
	AgentID        uuid.UUID
	Amount         int64
	Currency       string
	PIN            string
	IdempotencyKey string
	LinkID         string
}

// Result is the terminal outcome of a submitted operation. EntryID is always
// set once an entry exists, so callers can re-query status after a timeout.
type Result struct {
	Status    ledger.EntryStatus
	EntryID   uuid.UUID
	Reference string
	Reason    string
	Balances  map[uuid.UUID]int64
	Duplicate bool // true when replaying a previously stored outcome
}

// Engine orchestrates deposits, withdrawals, transfers, and payment-link
// settlement: it records the pending entry, runs the PIN check, and finalizes
// the balance mutation and ledger mark as one atomic unit. The engine never
// retries internally; idempotency-key dedupe makes caller retries safe.
type Engine struct {
	store    ledger.Store
	pins     *pin.Verifier
	links    *paylink.Resolver
	notifier notification.Notifier
	logger   *slog.Logger
}

// New builds a transfer engine around an explicit store handle.
func New(store ledger.Store, pins *pin.Verifier, links *paylink.Resolver, notifier notification.Notifier, logger *slog.Logger) *Engine {
	return &Engine{store: store, pins: pins, links: links, notifier: notifier, logger: logger}
}

var referencePrefixes = map[ledger.EntryKind]string{
	ledger.EntryDeposit:    "DEP",
	ledger.EntryWithdrawal: "WDR",
	ledger.EntryTransfer:   "TRF",
	ledger.EntryPayment:    "PAY",
}

// Submit runs one operation to a terminal status. For business failures the
// returned Result carries the failed/rejected entry and the error identifies
// the cause; infrastructure errors leave the entry pending for the
// reconciliation job and surface as plain errors.
func (e *Engine) Submit(ctx context.Context, input SubmitInput) (Result, error) {
	if err := e.validate(input); err != nil {
		return Result{}, err
	}

	// Replay before anything else so a retried payment returns its stored
	// outcome instead of tripping over its own consumed link.
	if existing, err := e.store.EntryByKey(ctx, input.IdempotencyKey); err == nil {
		return e.replay(existing)
	} else if !errors.Is(err, ledger.ErrEntryNotFound) {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	// Payment links are resolved before any state is created so dead links
	// are rejected without burning the idempotency key.
	var link ledger.PaymentLink
	if input.Kind == ledger.EntryPayment {
		var err error
		link, err = e.links.Resolve(ctx, input.LinkID)
		if err != nil {
			return Result{}, err
		}
		if link.Amount != nil {
			if input.Amount != 0 && input.Amount != *link.Amount {
				return Result{}, fmt.Errorf("%w: amount does not match payment link", ErrValidation)
			}
			input.Amount = *link.Amount
		} else if input.Amount <= 0 {
			return Result{}, fmt.Errorf("%w: amount required for open payment link", ErrValidation)
		}
		if input.Currency != link.Currency {
			return Result{}, fmt.Errorf("%w: currency does not match payment link", ErrValidation)
		}
		input.PayeeID = link.MerchantID
	}

	entry, err := e.store.RecordPending(ctx, e.buildEntry(input))
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		return e.replay(entry)
	}
	if err != nil {
		return Result{}, fmt.Errorf("record pending: %w", err)
	}

	if err := e.checkParties(ctx, input); err != nil {
		return e.reject(ctx, entry, err)
	}

	if requiresPIN(input.Kind) {
		if err := e.pins.Verify(ctx, input.PayerID, input.PIN); err != nil {
			if errors.Is(err, pin.ErrInvalidPIN) || errors.Is(err, pin.ErrAccountLocked) || errors.Is(err, pin.ErrPINNotSet) {
				return e.fail(ctx, entry, err)
			}
			return Result{}, err
		}
	}

	apply := ledger.ApplyInput{EntryID: entry.ID, Deltas: e.deltas(input)}
	switch input.Kind {
	case ledger.EntryDeposit, ledger.EntryWithdrawal:
		apply.Usage = &ledger.AgentUsage{AgentID: input.AgentID, Amount: input.Amount}
	case ledger.EntryPayment:
		apply.ConsumeLinkID = link.LinkID
	}

	res, err := e.store.Apply(ctx, apply)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds),
			errors.Is(err, ledger.ErrAccountBlocked),
			errors.Is(err, ledger.ErrLimitExceeded):
			return e.fail(ctx, entry, err)
		case errors.Is(err, ledger.ErrLinkAlreadyConsumed),
			errors.Is(err, ledger.ErrLinkExpired),
			errors.Is(err, ledger.ErrLinkCancelled),
			errors.Is(err, ledger.ErrLinkNotFound),
			errors.Is(err, ledger.ErrAccountNotFound):
			return e.reject(ctx, entry, err)
		default:
			// Store unavailable mid-unit: the entry stays pending and is
			// resolved by idempotent retry or the reconciliation job.
			return Result{}, fmt.Errorf("apply entry %s: %w", entry.ID, err)
		}
	}

	result := Result{
		Status:    ledger.StatusCompleted,
		EntryID:   entry.ID,
		Reference: entry.Reference,
		Balances:  res.Balances,
	}
	e.notify(ctx, entry, ledger.StatusCompleted)
	return result, nil
}

// Status returns the stored outcome for a ledger entry, letting callers
// re-query after a timeout without resubmitting.
func (e *Engine) Status(ctx context.Context, entryID uuid.UUID) (ledger.Entry, error) {
	return e.store.Entry(ctx, entryID)
}

func (e *Engine) validate(input SubmitInput) error {
	if input.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	if !money.Supported(input.Currency) {
		return fmt.Errorf("%w: unsupported currency %q", ErrValidation, input.Currency)
	}

	switch input.Kind {
	case ledger.EntryDeposit:
		if input.PayeeID == uuid.Nil || input.AgentID == uuid.Nil {
			return fmt.Errorf("%w: deposit requires customer and agent accounts", ErrValidation)
		}
	case ledger.EntryWithdrawal:
		if input.PayerID == uuid.Nil || input.AgentID == uuid.Nil {
			return fmt.Errorf("%w: withdrawal requires customer and agent accounts", ErrValidation)
		}
	case ledger.EntryTransfer:
		if input.PayerID == uuid.Nil || input.PayeeID == uuid.Nil {
			return fmt.Errorf("%w: transfer requires sender and recipient accounts", ErrValidation)
		}
		if input.PayerID == input.PayeeID {
			return fmt.Errorf("%w: cannot transfer to the same account", ErrValidation)
		}
	case ledger.EntryPayment:
		if input.PayerID == uuid.Nil || input.LinkID == "" {
			return fmt.Errorf("%w: payment requires payer account and link id", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown operation kind %q", ErrValidation, input.Kind)
	}

	// A payment amount may come from the link and is settled after resolution;
	// every other kind must carry one up front.
	if input.Amount < 0 || (input.Kind != ledger.EntryPayment && input.Amount == 0) {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

func (e *Engine) buildEntry(input SubmitInput) ledger.Entry {
	entry := ledger.Entry{
		ID:             uuid.New(),
		Kind:           input.Kind,
		Amount:         input.Amount,
		Currency:       input.Currency,
		IdempotencyKey: input.IdempotencyKey,
		Reference:      fmt.Sprintf("%s%d", referencePrefixes[input.Kind], time.Now().UnixMilli()),
		CreatedAt:      time.Now().UTC(),
	}
	switch input.Kind {
	case ledger.EntryDeposit:
		entry.DestinationID = &input.PayeeID
		entry.AgentID = &input.AgentID
	case ledger.EntryWithdrawal:
		entry.SourceID = &input.PayerID
		entry.AgentID = &input.AgentID
	default:
		entry.SourceID = &input.PayerID
		entry.DestinationID = &input.PayeeID
	}
	return entry
}

type partySpec struct {
	id   uuid.UUID
	kind ledger.AccountKind // empty means any kind
	role string
}

// checkParties confirms every referenced account exists, has the right kind
// for its role, and trades in the operation's currency.
func (e *Engine) checkParties(ctx context.Context, input SubmitInput) error {
	var wanted []partySpec
	switch input.Kind {
	case ledger.EntryDeposit:
		wanted = []partySpec{
			{input.PayeeID, ledger.KindCustomer, "customer"},
			{input.AgentID, ledger.KindAgent, "agent"},
		}
	case ledger.EntryWithdrawal:
		wanted = []partySpec{
			{input.PayerID, ledger.KindCustomer, "customer"},
			{input.AgentID, ledger.KindAgent, "agent"},
		}
	case ledger.EntryTransfer:
		wanted = []partySpec{
			{input.PayerID, "", "sender"},
			{input.PayeeID, "", "recipient"},
		}
	case ledger.EntryPayment:
		wanted = []partySpec{
			{input.PayerID, "", "payer"},
			{input.PayeeID, ledger.KindMerchant, "merchant"},
		}
	}

	for _, w := range wanted {
		account, err := e.store.Account(ctx, w.id)
		if err != nil {
			return fmt.Errorf("%s %s: %w", w.role, w.id, err)
		}
		if w.kind != "" && account.Kind != w.kind {
			return fmt.Errorf("%s account %s has kind %s: %w", w.role, w.id, account.Kind, ledger.ErrAccountNotFound)
		}
		if account.Currency != input.Currency {
			return fmt.Errorf("%s account trades in %s not %s: %w", w.role, account.Currency, input.Currency, ErrValidation)
		}
	}
	return nil
}

func (e *Engine) deltas(input SubmitInput) []ledger.Delta {
	switch input.Kind {
	case ledger.EntryDeposit:
		// Customer wallet credited; agent float records the cash collected.
		return []ledger.Delta{
			{AccountID: input.PayeeID, Amount: input.Amount},
			{AccountID: input.AgentID, Amount: input.Amount},
		}
	case ledger.EntryWithdrawal:
		// Agent pays out physical cash, so the float must cover the amount.
		return []ledger.Delta{
			{AccountID: input.PayerID, Amount: -input.Amount},
			{AccountID: input.AgentID, Amount: -input.Amount},
		}
	default:
		return []ledger.Delta{
			{AccountID: input.PayerID, Amount: -input.Amount},
			{AccountID: input.PayeeID, Amount: input.Amount},
		}
	}
}

func requiresPIN(kind ledger.EntryKind) bool {
	return kind != ledger.EntryDeposit
}

// replay returns the stored outcome of a previously submitted operation.
func (e *Engine) replay(entry ledger.Entry) (Result, error) {
	if !entry.Status.Terminal() {
		return Result{
			Status:    entry.Status,
			EntryID:   entry.ID,
			Reference: entry.Reference,
			Duplicate: true,
		}, ErrOperationInProgress
	}
	return Result{
		Status:    entry.Status,
		EntryID:   entry.ID,
		Reference: entry.Reference,
		Reason:    entry.Reason,
		Duplicate: true,
	}, nil
}

func (e *Engine) fail(ctx context.Context, entry ledger.Entry, cause error) (Result, error) {
	return e.finish(ctx, entry, ledger.StatusFailed, cause)
}

func (e *Engine) reject(ctx context.Context, entry ledger.Entry, cause error) (Result, error) {
	return e.finish(ctx, entry, ledger.StatusRejected, cause)
}

func (e *Engine) finish(ctx context.Context, entry ledger.Entry, status ledger.EntryStatus, cause error) (Result, error) {
	var markErr error
	if status == ledger.StatusFailed {
		markErr = e.store.MarkFailed(ctx, entry.ID, cause.Error())
	} else {
		markErr = e.store.MarkRejected(ctx, entry.ID, cause.Error())
	}
	if markErr != nil {
		// The entry stays pending; reconciliation will pick it up.
		e.logger.Error("mark entry terminal",
			"entry_id", entry.ID.String(), "status", string(status), "error", markErr)
		return Result{}, fmt.Errorf("finish entry %s: %w", entry.ID, markErr)
	}
	e.notify(ctx, entry, status)
	return Result{
		Status:    status,
		EntryID:   entry.ID,
		Reference: entry.Reference,
		Reason:    cause.Error(),
	}, cause
}

func (e *Engine) notify(ctx context.Context, entry ledger.Entry, status ledger.EntryStatus) {
	if e.notifier == nil {
		return
	}
	_ = e.notifier.Send(ctx, notification.Event{
		EntryID:   entry.ID,
		Kind:      entry.Kind,
		Status:    status,
		Reference: entry.Reference,
	})
}
