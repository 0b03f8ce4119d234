package ledger

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	locks    map[uuid.UUID]*sync.Mutex
	entries  map[uuid.UUID]Entry
	byKey    map[string]uuid.UUID
	links    map[string]PaymentLink
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests.
// It mirrors the Postgres implementation's locking discipline: per-account
// mutexes acquired in ascending account-id order.
func NewInMemory() Store {
	return &memoryStore{
		accounts: make(map[uuid.UUID]Account),
		locks:    make(map[uuid.UUID]*sync.Mutex),
		entries:  make(map[uuid.UUID]Entry),
		byKey:    make(map[string]uuid.UUID),
		links:    make(map[string]PaymentLink),
	}
}

// lockAccounts acquires the per-account mutexes for ids in ascending order and
// returns the unlock function. Fixed ordering prevents deadlock between
// concurrent operations touching the same pair of accounts.
func (s *memoryStore) lockAccounts(ids []uuid.UUID) func() {
	uniq := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Slice(uniq, func(i, j int) bool {
		return bytes.Compare(uniq[i][:], uniq[j][:]) < 0
	})

	s.mu.Lock()
	mus := make([]*sync.Mutex, 0, len(uniq))
	for _, id := range uniq {
		mu, ok := s.locks[id]
		if !ok {
			mu = &sync.Mutex{}
			s.locks[id] = mu
		}
		mus = append(mus, mu)
	}
	s.mu.Unlock()

	for _, mu := range mus {
		mu.Lock()
	}
	return func() {
		for i := len(mus) - 1; i >= 0; i-- {
			mus[i].Unlock()
		}
	}
}

func (s *memoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *memoryStore) Account(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *memoryStore) SetAccountStatus(_ context.Context, id uuid.UUID, status AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.Status = status
	s.accounts[id] = account
	return nil
}

func (s *memoryStore) SetAccountPIN(_ context.Context, id uuid.UUID, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PINHash = hash
	s.accounts[id] = account
	return nil
}

func (s *memoryStore) RecordPending(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byKey[entry.IdempotencyKey]; ok {
		return s.entries[existingID], ErrDuplicateIdempotencyKey
	}
	entry.Status = StatusPending
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries[entry.ID] = entry
	s.byKey[entry.IdempotencyKey] = entry.ID
	return entry, nil
}

func (s *memoryStore) Entry(_ context.Context, id uuid.UUID) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (s *memoryStore) EntryByKey(_ context.Context, idempotencyKey string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[idempotencyKey]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return s.entries[id], nil
}

func (s *memoryStore) Apply(_ context.Context, input ApplyInput) (ApplyResult, error) {
	ids := make([]uuid.UUID, 0, len(input.Deltas)+1)
	for _, d := range input.Deltas {
		ids = append(ids, d.AccountID)
	}
	if input.Usage != nil {
		ids = append(ids, input.Usage.AgentID)
	}
	unlock := s.lockAccounts(ids)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[input.EntryID]
	if !ok {
		return ApplyResult{}, ErrEntryNotFound
	}
	if entry.Status != StatusPending {
		return ApplyResult{}, ErrEntryNotPending
	}

	// Validate everything before mutating anything.
	updated := make(map[uuid.UUID]Account, len(input.Deltas))
	for _, d := range input.Deltas {
		account, ok := s.accounts[d.AccountID]
		if !ok {
			return ApplyResult{}, ErrAccountNotFound
		}
		if prev, staged := updated[d.AccountID]; staged {
			account = prev
		} else if account.Status != AccountActive {
			return ApplyResult{}, ErrAccountBlocked
		}
		account.Balance += d.Amount
		if account.Balance < 0 {
			return ApplyResult{}, ErrInsufficientFunds
		}
		updated[d.AccountID] = account
	}

	if input.Usage != nil {
		account, staged := updated[input.Usage.AgentID]
		if !staged {
			var ok bool
			account, ok = s.accounts[input.Usage.AgentID]
			if !ok {
				return ApplyResult{}, ErrAccountNotFound
			}
		}
		if account.DailyLimit > 0 && account.DailyUsed+input.Usage.Amount > account.DailyLimit {
			return ApplyResult{}, ErrLimitExceeded
		}
		account.DailyUsed += input.Usage.Amount
		updated[input.Usage.AgentID] = account
	}

	var link PaymentLink
	if input.ConsumeLinkID != "" {
		link, ok = s.links[input.ConsumeLinkID]
		if !ok {
			return ApplyResult{}, ErrLinkNotFound
		}
		switch link.Status {
		case LinkActive:
		case LinkConsumed:
			return ApplyResult{}, ErrLinkAlreadyConsumed
		case LinkExpired:
			return ApplyResult{}, ErrLinkExpired
		default:
			return ApplyResult{}, ErrLinkCancelled
		}
	}

	now := time.Now().UTC()
	balances := make(map[uuid.UUID]int64, len(updated))
	for id, account := range updated {
		s.accounts[id] = account
		balances[id] = account.Balance
	}
	entry.Status = StatusCompleted
	entry.CompletedAt = &now
	s.entries[entry.ID] = entry
	if input.ConsumeLinkID != "" {
		link.Status = LinkConsumed
		link.EntryID = &entry.ID
		s.links[link.LinkID] = link
	}

	return ApplyResult{Balances: balances, CompletedAt: now}, nil
}

func (s *memoryStore) MarkFailed(_ context.Context, entryID uuid.UUID, reason string) error {
	return s.finish(entryID, StatusFailed, reason)
}

func (s *memoryStore) MarkRejected(_ context.Context, entryID uuid.UUID, reason string) error {
	return s.finish(entryID, StatusRejected, reason)
}

func (s *memoryStore) finish(entryID uuid.UUID, status EntryStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	if entry.Status != StatusPending {
		return ErrEntryNotPending
	}
	now := time.Now().UTC()
	entry.Status = status
	entry.Reason = reason
	entry.CompletedAt = &now
	s.entries[entryID] = entry
	return nil
}

func (s *memoryStore) FailStalePending(_ context.Context, cutoff time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for id, entry := range s.entries {
		if entry.Status != StatusPending || !entry.CreatedAt.Before(cutoff) {
			continue
		}
		entry.Status = StatusFailed
		entry.Reason = reason
		entry.CompletedAt = &now
		s.entries[id] = entry
		count++
	}
	return count, nil
}

func (s *memoryStore) ResetDailyUsage(_ context.Context, resetAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, account := range s.accounts {
		if account.Kind != KindAgent || account.DailyUsed == 0 || !account.DailyResetAt.Before(resetAt) {
			continue
		}
		account.DailyUsed = 0
		account.DailyResetAt = resetAt
		s.accounts[id] = account
		count++
	}
	return count, nil
}

func (s *memoryStore) CreateLink(_ context.Context, link PaymentLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[link.LinkID]; exists {
		return ErrLinkExists
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	s.links[link.LinkID] = link
	return nil
}

func (s *memoryStore) Link(_ context.Context, linkID string) (PaymentLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[linkID]
	if !ok {
		return PaymentLink{}, ErrLinkNotFound
	}
	return link, nil
}

func (s *memoryStore) TransitionLink(_ context.Context, linkID string, from, to LinkStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkID]
	if !ok {
		return ErrLinkNotFound
	}
	if link.Status != from {
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
	link.Status = to
	s.links[linkID] = link
	return nil
}
