package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestAccount(kind AccountKind) Account {
	return Account{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Kind:      kind,
		Currency:  "LYD",
		Status:    AccountActive,
		CreatedAt: time.Now().UTC(),
	}
}

func mustCreate(t *testing.T, s Store, a Account) Account {
	t.Helper()
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func pendingEntry(kind EntryKind, src, dst *uuid.UUID, amount int64, key string) Entry {
	return Entry{
		ID:             uuid.New(),
		Kind:           kind,
		SourceID:       src,
		DestinationID:  dst,
		Amount:         amount,
		Currency:       "LYD",
		IdempotencyKey: key,
		Reference:      "TRF-test",
	}
}

func TestApplyTransferMaintainsBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := mustCreate(t, s, newTestAccount(KindCustomer))
	to := mustCreate(t, s, newTestAccount(KindCustomer))
	SeedBalance(s, from.ID, 10_000)

	entry, err := s.RecordPending(ctx, pendingEntry(EntryTransfer, &from.ID, &to.ID, 1_500, "tx-1"))
	if err != nil {
		t.Fatalf("record pending: %v", err)
	}

	res, err := s.Apply(ctx, ApplyInput{
		EntryID: entry.ID,
		Deltas: []Delta{
			{AccountID: from.ID, Amount: -1_500},
			{AccountID: to.ID, Amount: 1_500},
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if res.Balances[from.ID] != 8_500 || res.Balances[to.ID] != 1_500 {
		t.Fatalf("unexpected balances: %+v", res.Balances)
	}
	if res.Balances[from.ID]+res.Balances[to.ID] != 10_000 {
		t.Fatalf("transfer not balanced: %+v", res.Balances)
	}

	got, err := s.Entry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("entry not completed: %+v", got)
	}
}

func TestApplyInsufficientFundsLeavesNoTrace(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := mustCreate(t, s, newTestAccount(KindCustomer))
	to := mustCreate(t, s, newTestAccount(KindCustomer))
	SeedBalance(s, from.ID, 500)

	entry, _ := s.RecordPending(ctx, pendingEntry(EntryTransfer, &from.ID, &to.ID, 700, "tx-2"))

	_, err := s.Apply(ctx, ApplyInput{
		EntryID: entry.ID,
		Deltas: []Delta{
			{AccountID: from.ID, Amount: -700},
			{AccountID: to.ID, Amount: 700},
		},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	fromAfter, _ := s.Account(ctx, from.ID)
	toAfter, _ := s.Account(ctx, to.ID)
	if fromAfter.Balance != 500 || toAfter.Balance != 0 {
		t.Fatalf("balances mutated on failed apply: %d, %d", fromAfter.Balance, toAfter.Balance)
	}

	got, _ := s.Entry(ctx, entry.ID)
	if got.Status != StatusPending {
		t.Fatalf("entry should stay pending, got %s", got.Status)
	}
}

func TestApplyBlockedAccount(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := mustCreate(t, s, newTestAccount(KindCustomer))
	to := mustCreate(t, s, newTestAccount(KindCustomer))
	SeedBalance(s, from.ID, 1_000)
	if err := s.SetAccountStatus(ctx, to.ID, AccountBlocked); err != nil {
		t.Fatalf("block account: %v", err)
	}

	entry, _ := s.RecordPending(ctx, pendingEntry(EntryTransfer, &from.ID, &to.ID, 100, "tx-3"))
	_, err := s.Apply(ctx, ApplyInput{
		EntryID: entry.ID,
		Deltas: []Delta{
			{AccountID: from.ID, Amount: -100},
			{AccountID: to.ID, Amount: 100},
		},
	})
	if !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked, got %v", err)
	}
}

func TestRecordPendingDeduplicatesByKey(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := mustCreate(t, s, newTestAccount(KindCustomer))
	to := mustCreate(t, s, newTestAccount(KindCustomer))

	first, err := s.RecordPending(ctx, pendingEntry(EntryTransfer, &from.ID, &to.ID, 100, "dup"))
	if err != nil {
		t.Fatalf("record pending: %v", err)
	}

	second, err := s.RecordPending(ctx, pendingEntry(EntryTransfer, &from.ID, &to.ID, 100, "dup"))
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate did not return original entry: %s vs %s", second.ID, first.ID)
	}
}

func TestApplyEnforcesDailyLimit(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	agent := newTestAccount(KindAgent)
	agent.DailyLimit = 10_000
	agent.DailyUsed = 9_800
	agent = mustCreate(t, s, agent)
	customer := mustCreate(t, s, newTestAccount(KindCustomer))

	entry, _ := s.RecordPending(ctx, Entry{
		ID: uuid.New(), Kind: EntryDeposit, DestinationID: &customer.ID, AgentID: &agent.ID,
		Amount: 500, Currency: "LYD", IdempotencyKey: "dep-1", Reference: "DEP-test",
	})

	_, err := s.Apply(ctx, ApplyInput{
		EntryID: entry.ID,
		Deltas: []Delta{
			{AccountID: customer.ID, Amount: 500},
			{AccountID: agent.ID, Amount: 500},
		},
		Usage: &AgentUsage{AgentID: agent.ID, Amount: 500},
	})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	agentAfter, _ := s.Account(ctx, agent.ID)
	if agentAfter.DailyUsed != 9_800 || agentAfter.Balance != 0 {
		t.Fatalf("agent mutated on failed apply: %+v", agentAfter)
	}
}

func TestTerminalEntriesAreImmutable(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := mustCreate(t, s, newTestAccount(KindCustomer))
	to := mustCreate(t, s, newTestAccount(KindCustomer))
	SeedBalance(s, from.ID, 1_000)

	entry, _ := s.RecordPending(ctx, pendingEntry(EntryTransfer, &from.ID, &to.ID, 100, "tx-4"))
	input := ApplyInput{
		EntryID: entry.ID,
		Deltas: []Delta{
			{AccountID: from.ID, Amount: -100},
			{AccountID: to.ID, Amount: 100},
		},
	}
	if _, err := s.Apply(ctx, input); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := s.Apply(ctx, input); !errors.Is(err, ErrEntryNotPending) {
		t.Fatalf("expected ErrEntryNotPending on re-apply, got %v", err)
	}
	if err := s.MarkFailed(ctx, entry.ID, "late failure"); !errors.Is(err, ErrEntryNotPending) {
		t.Fatalf("expected ErrEntryNotPending on mark failed, got %v", err)
	}
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a := mustCreate(t, s, newTestAccount(KindCustomer))
	b := mustCreate(t, s, newTestAccount(KindCustomer))
	SeedBalance(s, a.ID, 100_000)
	SeedBalance(s, b.ID, 100_000)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate direction so lock ordering is exercised both ways.
			src, dst := a.ID, b.ID
			if i%2 == 1 {
				src, dst = b.ID, a.ID
			}
			entry, err := s.RecordPending(ctx, pendingEntry(EntryTransfer, &src, &dst, 500, fmt.Sprintf("tx-conc-%d", i)))
			if err != nil {
				t.Errorf("record pending %d: %v", i, err)
				return
			}
			if _, err := s.Apply(ctx, ApplyInput{
				EntryID: entry.ID,
				Deltas: []Delta{
					{AccountID: src, Amount: -500},
					{AccountID: dst, Amount: 500},
				},
			}); err != nil {
				t.Errorf("apply %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	aAfter, _ := s.Account(ctx, a.ID)
	bAfter, _ := s.Account(ctx, b.ID)
	if total := aAfter.Balance + bAfter.Balance; total != 200_000 {
		t.Fatalf("total not conserved, got %d", total)
	}
}

func TestConcurrentLinkConsumption(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	merchant := mustCreate(t, s, newTestAccount(KindMerchant))
	payerA := mustCreate(t, s, newTestAccount(KindCustomer))
	payerB := mustCreate(t, s, newTestAccount(KindCustomer))
	SeedBalance(s, payerA.ID, 10_000)
	SeedBalance(s, payerB.ID, 10_000)

	amount := int64(2_000)
	if err := s.CreateLink(ctx, PaymentLink{
		LinkID: "lnk-race", MerchantID: merchant.ID, Amount: &amount,
		Currency: "LYD", Status: LinkActive,
	}); err != nil {
		t.Fatalf("create link: %v", err)
	}

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i, payer := range []Account{payerA, payerB} {
		wg.Add(1)
		go func(i int, payer Account) {
			defer wg.Done()
			entry, err := s.RecordPending(ctx, Entry{
				ID: uuid.New(), Kind: EntryPayment, SourceID: &payer.ID, DestinationID: &merchant.ID,
				Amount: amount, Currency: "LYD", IdempotencyKey: fmt.Sprintf("pay-race-%d", i), Reference: "PAY-test",
			})
			if err != nil {
				results <- err
				return
			}
			_, err = s.Apply(ctx, ApplyInput{
				EntryID: entry.ID,
				Deltas: []Delta{
					{AccountID: payer.ID, Amount: -amount},
					{AccountID: merchant.ID, Amount: amount},
				},
				ConsumeLinkID: "lnk-race",
			})
			results <- err
		}(i, payer)
	}
	wg.Wait()
	close(results)

	var completed, consumed int
	for err := range results {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, ErrLinkAlreadyConsumed):
			consumed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if completed != 1 || consumed != 1 {
		t.Fatalf("expected exactly one winner, got completed=%d consumed=%d", completed, consumed)
	}

	merchantAfter, _ := s.Account(ctx, merchant.ID)
	if merchantAfter.Balance != amount {
		t.Fatalf("merchant credited %d, want %d", merchantAfter.Balance, amount)
	}

	link, _ := s.Link(ctx, "lnk-race")
	if link.Status != LinkConsumed || link.EntryID == nil {
		t.Fatalf("link not consumed exactly once: %+v", link)
	}
}

func TestFailStalePending(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := mustCreate(t, s, newTestAccount(KindCustomer))
	to := mustCreate(t, s, newTestAccount(KindCustomer))

	stale := pendingEntry(EntryTransfer, &from.ID, &to.ID, 100, "stale")
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if _, err := s.RecordPending(ctx, stale); err != nil {
		t.Fatalf("record pending: %v", err)
	}
	fresh, _ := s.RecordPending(ctx, pendingEntry(EntryTransfer, &from.ID, &to.ID, 100, "fresh"))

	count, err := s.FailStalePending(ctx, time.Now().UTC().Add(-30*time.Minute), "stale pending entry")
	if err != nil {
		t.Fatalf("fail stale: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stale entry failed, got %d", count)
	}

	staleAfter, _ := s.EntryByKey(ctx, "stale")
	if staleAfter.Status != StatusFailed || staleAfter.Reason == "" {
		t.Fatalf("stale entry not failed: %+v", staleAfter)
	}
	freshAfter, _ := s.Entry(ctx, fresh.ID)
	if freshAfter.Status != StatusPending {
		t.Fatalf("fresh entry should stay pending, got %s", freshAfter.Status)
	}
}

func TestResetDailyUsage(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	agent := newTestAccount(KindAgent)
	agent.DailyLimit = 10_000
	agent.DailyUsed = 4_000
	mustCreate(t, s, agent)
	mustCreate(t, s, newTestAccount(KindCustomer))

	resetAt := time.Now().UTC()
	count, err := s.ResetDailyUsage(ctx, resetAt)
	if err != nil {
		t.Fatalf("reset daily usage: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 agent reset, got %d", count)
	}

	after, _ := s.Account(ctx, agent.ID)
	if after.DailyUsed != 0 || !after.DailyResetAt.Equal(resetAt) {
		t.Fatalf("agent not reset: %+v", after)
	}

	// Re-running with the same window is a no-op.
	count, err = s.ResetDailyUsage(ctx, resetAt)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no resets in same window, got %d", count)
	}
}
