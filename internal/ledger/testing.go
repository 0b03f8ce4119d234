package ledger

import "github.com/google/uuid"

// SeedBalance is a test helper that sets the balance for an account when using
// the in-memory store.
func SeedBalance(s Store, accountID uuid.UUID, amount int64) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		account := mem.accounts[accountID]
		account.Balance = amount
		mem.accounts[accountID] = account
	}
}
