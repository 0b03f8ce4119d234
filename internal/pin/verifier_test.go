package pin

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adfaaly/cashd/internal/ledger"
)

func setupAccount(t *testing.T, store ledger.Store, pinValue string) uuid.UUID {
	t.Helper()
	hash, err := Hash(pinValue)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	account := ledger.Account{
		ID:       uuid.New(),
		OwnerID:  uuid.New(),
		Kind:     ledger.KindCustomer,
		Currency: "LYD",
		Status:   ledger.AccountActive,
		PINHash:  hash,
	}
	if err := store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account.ID
}

func TestVerifyCorrectPIN(t *testing.T) {
	store := ledger.NewInMemory()
	v := NewVerifier(store, NewMemoryAttempts(), 5)
	id := setupAccount(t, store, "1234")

	if err := v.Verify(context.Background(), id, "1234"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyWrongPINThenLockout(t *testing.T) {
	store := ledger.NewInMemory()
	v := NewVerifier(store, NewMemoryAttempts(), 3)
	id := setupAccount(t, store, "1234")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := v.Verify(ctx, id, "9999"); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("attempt %d: expected ErrInvalidPIN, got %v", i, err)
		}
	}

	// Budget exhausted; even the correct PIN is refused without comparison.
	if err := v.Verify(ctx, id, "1234"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestVerifyResetsCounterOnSuccess(t *testing.T) {
	store := ledger.NewInMemory()
	attempts := NewMemoryAttempts()
	v := NewVerifier(store, attempts, 3)
	id := setupAccount(t, store, "1234")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := v.Verify(ctx, id, "0000"); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("expected ErrInvalidPIN, got %v", err)
		}
	}
	if err := v.Verify(ctx, id, "1234"); err != nil {
		t.Fatalf("verify after failures: %v", err)
	}

	count, err := attempts.Count(ctx, id)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("counter not reset, got %d", count)
	}
}

func TestVerifyPINNotSet(t *testing.T) {
	store := ledger.NewInMemory()
	v := NewVerifier(store, NewMemoryAttempts(), 5)

	account := ledger.Account{
		ID: uuid.New(), OwnerID: uuid.New(), Kind: ledger.KindCustomer,
		Currency: "LYD", Status: ledger.AccountActive,
	}
	if err := store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := v.Verify(context.Background(), account.ID, "1234"); !errors.Is(err, ErrPINNotSet) {
		t.Fatalf("expected ErrPINNotSet, got %v", err)
	}
}

func TestHashRejectsShortPIN(t *testing.T) {
	if _, err := Hash("12"); err == nil {
		t.Fatal("expected error for short PIN")
	}
}

func TestRedisAttempts(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	attempts := NewRedisAttempts(cache, time.Minute)
	ctx := context.Background()
	id := uuid.New()

	for want := int64(1); want <= 3; want++ {
		got, err := attempts.Fail(ctx, id)
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
		if got != want {
			t.Fatalf("fail count = %d, want %d", got, want)
		}
	}

	count, err := attempts.Count(ctx, id)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	// Counters expire with the lockout TTL.
	mr.FastForward(2 * time.Minute)
	count, err = attempts.Count(ctx, id)
	if err != nil {
		t.Fatalf("count after expiry: %v", err)
	}
	if count != 0 {
		t.Fatalf("count after expiry = %d, want 0", count)
	}

	if _, err := attempts.Fail(ctx, id); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := attempts.Reset(ctx, id); err != nil {
		t.Fatalf("reset: %v", err)
	}
	count, _ = attempts.Count(ctx, id)
	if count != 0 {
		t.Fatalf("count after reset = %d, want 0", count)
	}
}
