package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/logging"
)

func TestSweepFailsStalePending(t *testing.T) {
	store := ledger.NewInMemory()
	ctx := context.Background()

	src := uuid.New()
	dst := uuid.New()
	for _, account := range []ledger.Account{
		{ID: src, OwnerID: uuid.New(), Kind: ledger.KindCustomer, Currency: "LYD", Status: ledger.AccountActive},
		{ID: dst, OwnerID: uuid.New(), Kind: ledger.KindCustomer, Currency: "LYD", Status: ledger.AccountActive},
	} {
		if err := store.CreateAccount(ctx, account); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}

	stale, err := store.RecordPending(ctx, ledger.Entry{
		ID: uuid.New(), Kind: ledger.EntryTransfer,
		SourceID: &src, DestinationID: &dst,
		Amount: 100, Currency: "LYD", Status: ledger.StatusPending,
		IdempotencyKey: "stale-1", CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("record stale: %v", err)
	}
	fresh, err := store.RecordPending(ctx, ledger.Entry{
		ID: uuid.New(), Kind: ledger.EntryTransfer,
		SourceID: &src, DestinationID: &dst,
		Amount: 100, Currency: "LYD", Status: ledger.StatusPending,
		IdempotencyKey: "fresh-1", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("record fresh: %v", err)
	}

	r := New(store, time.Hour, time.Minute, logging.Discard())
	r.Sweep(ctx)

	after, _ := store.Entry(ctx, stale.ID)
	if after.Status != ledger.StatusFailed || after.Reason == "" {
		t.Fatalf("stale entry not failed: %+v", after)
	}
	untouched, _ := store.Entry(ctx, fresh.ID)
	if untouched.Status != ledger.StatusPending {
		t.Fatalf("fresh entry swept: %+v", untouched)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := ledger.NewInMemory()
	r := New(store, time.Hour, time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}
}
