package blockchain

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TransactionStatus represents the status of a transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
	// TxTimedOut indicates transaction has timed out
	TxTimedOut
)

// TransactionRecord tracks details about a submitted transaction
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// NonceManager handles nonce allocation and tracking for the relayer's
// settlement account on one chain.
type NonceManager struct {
	// Current nonce counter
	currentNonce uint64
	// Map of pending transactions by nonce
	pendingTxs map[uint64]*TransactionRecord
	// Last time nonce was synchronized with the blockchain
	lastSync time.Time
	// Mutex for nonce operations
	mu sync.Mutex
	// Transaction timeout duration
	txTimeout time.Duration
	// How often to resync the counter with the node
	syncInterval time.Duration
}

// NewNonceManager creates a new nonce manager
func NewNonceManager() *NonceManager {
	return &NonceManager{
		pendingTxs:   make(map[uint64]*TransactionRecord),
		txTimeout:    5 * time.Minute,
		syncInterval: 5 * time.Minute,
	}
}

// SetTransactionTimeout sets the timeout for transactions
func (nm *NonceManager) SetTransactionTimeout(timeout time.Duration) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.txTimeout = timeout
}

// GetNonce reserves and returns the next available nonce, resyncing with
// the node when the counter is stale.
func (nm *NonceManager) GetNonce(ctx context.Context, client *ethclient.Client, address common.Address) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || time.Since(nm.lastSync) > nm.syncInterval {
		nonce, err := client.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > nm.currentNonce {
			log.Printf("Updating settlement nonce: %d -> %d", nm.currentNonce, nonce)
			nm.currentNonce = nonce
		}
		nm.lastSync = time.Now()
	}

	nonce := nm.currentNonce
	nm.currentNonce++
	return nonce, nil
}

// TrackTransaction records a newly submitted transaction
func (nm *NonceManager) TrackTransaction(txHash common.Hash, nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := time.Now()
	nm.pendingTxs[nonce] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
}

// MarkTransactionConfirmed marks a transaction as confirmed
func (nm *NonceManager) MarkTransactionConfirmed(nonce uint64) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	tx, exists := nm.pendingTxs[nonce]
	if !exists {
		log.Printf("Warning: No pending transaction found for nonce %d", nonce)
		return false
	}

	tx.Status = TxConfirmed
	tx.UpdatedAt = time.Now()
	delete(nm.pendingTxs, nonce)
	return true
}

// MarkTransactionFailed marks a transaction as failed. If it held the
// lowest pending nonce, the nonce is released for reuse.
func (nm *NonceManager) MarkTransactionFailed(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	tx, exists := nm.pendingTxs[nonce]
	if !exists {
		log.Printf("Warning: No pending transaction found for nonce %d", nonce)
		return
	}

	tx.Status = TxFailed
	tx.UpdatedAt = time.Now()

	if nonce == nm.lowestPendingNonce() {
		nm.currentNonce = nonce
		log.Printf("Reusing nonce %d after transaction failure", nonce)
	}
	delete(nm.pendingTxs, nonce)
}

// FindTimeoutTransactions returns the nonces of transactions that have
// been pending longer than the configured timeout.
func (nm *NonceManager) FindTimeoutTransactions() []uint64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	var timedOut []uint64
	now := time.Now()
	for nonce, tx := range nm.pendingTxs {
		if tx.Status == TxPending && now.Sub(tx.CreatedAt) > nm.txTimeout {
			tx.Status = TxTimedOut
			tx.UpdatedAt = now
			timedOut = append(timedOut, nonce)
		}
	}
	return timedOut
}

// PendingCount returns the number of tracked pending transactions.
func (nm *NonceManager) PendingCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pendingTxs)
}

// lowestPendingNonce returns the smallest tracked nonce. Caller must
// hold nm.mu.
func (nm *NonceManager) lowestPendingNonce() uint64 {
	lowest := nm.currentNonce
	for nonce := range nm.pendingTxs {
		if nonce < lowest {
			lowest = nonce
		}
	}
	return lowest
}
