package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/unikron/relayer/pkg/intent"
)

// balanceKey identifies one account's balance in one token.
type balanceKey struct {
	Token   intent.TokenID
	Account intent.PubKey
}

// MemoryLedger is an in-process Ledger for tests and local runs.
// Transfers are atomic: either both balance changes apply or neither.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[balanceKey]uint64)}
}

// Mint credits an account. Test setup only.
func (l *MemoryLedger) Mint(token intent.TokenID, account intent.PubKey, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey{token, account}] += amount
}

// Balance returns the account's balance in the token.
func (l *MemoryLedger) Balance(token intent.TokenID, account intent.PubKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{token, account}]
}

// Transfer moves amount between accounts, failing without side effects
// if the source balance is short.
func (l *MemoryLedger) Transfer(_ context.Context, token intent.TokenID, from, to intent.PubKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fromKey := balanceKey{token, from}
	if l.balances[fromKey] < amount {
		return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientBalance, l.balances[fromKey], amount)
	}
	l.balances[fromKey] -= amount
	l.balances[balanceKey{token, to}] += amount
	return nil
}
