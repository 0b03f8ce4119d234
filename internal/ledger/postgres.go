package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists accounts, entries, and payment links in PostgreSQL.
// Every atomic unit runs in one transaction with row locks taken in ascending
// account-id order.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, owner_id, kind, balance, currency, status, pin_hash, daily_limit, daily_used, daily_reset_at, created_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	tag, err := s.db.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO NOTHING`,
		account.ID, account.OwnerID, account.Kind, account.Balance, account.Currency,
		account.Status, account.PINHash, account.DailyLimit, account.DailyUsed,
		account.DailyResetAt.UTC(), account.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountExists
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, id uuid.UUID) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Kind, &a.Balance, &a.Currency, &a.Status,
		&a.PINHash, &a.DailyLimit, &a.DailyUsed, &a.DailyResetAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.DailyResetAt = a.DailyResetAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func (s *PostgresStore) SetAccountStatus(ctx context.Context, id uuid.UUID, status AccountStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) SetAccountPIN(ctx context.Context, id uuid.UUID, hash []byte) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET pin_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const entryColumns = `id, kind, source_id, destination_id, agent_id, amount, currency, status, idempotency_key, reference, reason, created_at, completed_at`

func (s *PostgresStore) RecordPending(ctx context.Context, entry Entry) (Entry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Status = StatusPending

	tag, err := s.db.Exec(ctx, `INSERT INTO entries (id, kind, source_id, destination_id, agent_id, amount, currency, status, idempotency_key, reference, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (idempotency_key) DO NOTHING`,
		entry.ID, entry.Kind, entry.SourceID, entry.DestinationID, entry.AgentID,
		entry.Amount, entry.Currency, entry.Status, entry.IdempotencyKey,
		entry.Reference, entry.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.EntryByKey(ctx, entry.IdempotencyKey)
		if err != nil {
			return Entry{}, err
		}
		return existing, ErrDuplicateIdempotencyKey
	}
	return entry, nil
}

func (s *PostgresStore) Entry(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (s *PostgresStore) EntryByKey(ctx context.Context, idempotencyKey string) (Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE idempotency_key = $1`, idempotencyKey)
	return scanEntry(row)
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var reason *string
	err := row.Scan(&e.ID, &e.Kind, &e.SourceID, &e.DestinationID, &e.AgentID,
		&e.Amount, &e.Currency, &e.Status, &e.IdempotencyKey, &e.Reference,
		&reason, &e.CreatedAt, &e.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if reason != nil {
		e.Reason = *reason
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *PostgresStore) Apply(ctx context.Context, input ApplyInput) (ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var status EntryStatus
	err = tx.QueryRow(ctx, `SELECT status FROM entries WHERE id = $1 FOR UPDATE`, input.EntryID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ApplyResult{}, ErrEntryNotFound
	}
	if err != nil {
		return ApplyResult{}, err
	}
	if status != StatusPending {
		return ApplyResult{}, ErrEntryNotPending
	}

	// Lock every account involved in ascending id order to avoid deadlock
	// between transfers that reference the same pair in opposite order.
	ids := make([]uuid.UUID, 0, len(input.Deltas)+1)
	seen := make(map[uuid.UUID]struct{})
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, d := range input.Deltas {
		add(d.AccountID)
	}
	if input.Usage != nil {
		add(input.Usage.AgentID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	type lockedAccount struct {
		balance    int64
		status     AccountStatus
		dailyLimit int64
		dailyUsed  int64
	}
	accounts := make(map[uuid.UUID]*lockedAccount, len(ids))
	for _, id := range ids {
		la := &lockedAccount{}
		err := tx.QueryRow(ctx, `SELECT balance, status, daily_limit, daily_used FROM accounts WHERE id = $1 FOR UPDATE`,
			id).Scan(&la.balance, &la.status, &la.dailyLimit, &la.dailyUsed)
		if errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, ErrAccountNotFound
		}
		if err != nil {
			return ApplyResult{}, err
		}
		accounts[id] = la
	}

	for _, d := range input.Deltas {
		la := accounts[d.AccountID]
		if la.status != AccountActive {
			return ApplyResult{}, ErrAccountBlocked
		}
		la.balance += d.Amount
		if la.balance < 0 {
			return ApplyResult{}, ErrInsufficientFunds
		}
	}
	if input.Usage != nil {
		la := accounts[input.Usage.AgentID]
		if la.dailyLimit > 0 && la.dailyUsed+input.Usage.Amount > la.dailyLimit {
			return ApplyResult{}, ErrLimitExceeded
		}
		la.dailyUsed += input.Usage.Amount
	}

	if input.ConsumeLinkID != "" {
		var linkStatus LinkStatus
		err := tx.QueryRow(ctx, `SELECT status FROM payment_links WHERE link_id = $1 FOR UPDATE`,
			input.ConsumeLinkID).Scan(&linkStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, ErrLinkNotFound
		}
		if err != nil {
			return ApplyResult{}, err
		}
		switch linkStatus {
		case LinkActive:
		case LinkConsumed:
			return ApplyResult{}, ErrLinkAlreadyConsumed
		case LinkExpired:
			return ApplyResult{}, ErrLinkExpired
		default:
			return ApplyResult{}, ErrLinkCancelled
		}
	}

	for _, id := range ids {
		la := accounts[id]
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2, daily_used = $3 WHERE id = $1`,
			id, la.balance, la.dailyUsed); err != nil {
			return ApplyResult{}, err
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE entries SET status = $2, completed_at = $3 WHERE id = $1`,
		input.EntryID, StatusCompleted, now); err != nil {
		return ApplyResult{}, err
	}

	if input.ConsumeLinkID != "" {
		if _, err := tx.Exec(ctx, `UPDATE payment_links SET status = $2, entry_id = $3 WHERE link_id = $1`,
			input.ConsumeLinkID, LinkConsumed, input.EntryID); err != nil {
			return ApplyResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, err
	}

	balances := make(map[uuid.UUID]int64, len(accounts))
	for id, la := range accounts {
		balances[id] = la.balance
	}
	return ApplyResult{Balances: balances, CompletedAt: now}, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) error {
	return s.finish(ctx, entryID, StatusFailed, reason)
}

func (s *PostgresStore) MarkRejected(ctx context.Context, entryID uuid.UUID, reason string) error {
	return s.finish(ctx, entryID, StatusRejected, reason)
}

func (s *PostgresStore) finish(ctx context.Context, entryID uuid.UUID, status EntryStatus, reason string) error {
	tag, err := s.db.Exec(ctx, `UPDATE entries SET status = $2, reason = $3, completed_at = $4
        WHERE id = $1 AND status = $5`,
		entryID, status, reason, time.Now().UTC(), StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var current EntryStatus
		err := s.db.QueryRow(ctx, `SELECT status FROM entries WHERE id = $1`, entryID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		return ErrEntryNotPending
	}
	return nil
}

func (s *PostgresStore) FailStalePending(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE entries SET status = $1, reason = $2, completed_at = $3
        WHERE status = $4 AND created_at < $5`,
		StatusFailed, reason, time.Now().UTC(), StatusPending, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ResetDailyUsage(ctx context.Context, resetAt time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET daily_used = 0, daily_reset_at = $1
        WHERE kind = $2 AND daily_used <> 0 AND daily_reset_at < $1`,
		resetAt.UTC(), KindAgent)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const linkColumns = `link_id, merchant_id, amount, currency, description, status, entry_id, created_at, expires_at`

func (s *PostgresStore) CreateLink(ctx context.Context, link PaymentLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO payment_links (`+linkColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (link_id) DO NOTHING`,
		link.LinkID, link.MerchantID, link.Amount, link.Currency, link.Description,
		link.Status, link.EntryID, link.CreatedAt, link.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert payment link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkExists
	}
	return nil
}

func (s *PostgresStore) Link(ctx context.Context, linkID string) (PaymentLink, error) {
	var l PaymentLink
	err := s.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM payment_links WHERE link_id = $1`, linkID).
		Scan(&l.LinkID, &l.MerchantID, &l.Amount, &l.Currency, &l.Description,
			&l.Status, &l.EntryID, &l.CreatedAt, &l.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentLink{}, ErrLinkNotFound
	}
	if err != nil {
		return PaymentLink{}, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}

func (s *PostgresStore) TransitionLink(ctx context.Context, linkID string, from, to LinkStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE payment_links SET status = $3 WHERE link_id = $1 AND status = $2`,
		linkID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	link, err := s.Link(ctx, linkID)
	if err != nil {
		return err
	}
	switch link.Status {
	case LinkConsumed:
		return ErrLinkAlreadyConsumed
	case LinkExpired:
		return ErrLinkExpired
	case LinkCancelled:
		return ErrLinkCancelled
	default:
		return ErrLinkNotFound
	}
}
