package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewEVMLedger tests construction defaults
func TestNewEVMLedger(t *testing.T) {
	l := NewEVMLedger("http://localhost:8545", 1.5, nil)

	t.Run("Token ABI parsed at construction", func(t *testing.T) {
		require.Contains(t, l.tokenABI.Methods, "transfer")
		require.Contains(t, l.tokenABI.Methods, "transferFrom")
		require.Contains(t, l.tokenABI.Methods, "balanceOf")
	})

	t.Run("Non-positive gas multiplier falls back", func(t *testing.T) {
		fallback := NewEVMLedger("http://localhost:8545", 0, nil)
		assert.Equal(t, 1.1, fallback.gasMultiplier)
	})

	t.Run("Transfer before Connect rejected", func(t *testing.T) {
		err := l.Transfer(context.Background(), tok(0x10), acct(0x01), acct(0x02), 100)
		assert.Error(t, err)
	})
}
