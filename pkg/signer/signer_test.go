package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unikron/relayer/pkg/intent"
)

// TestSignVerify tests the detached signature round trip
func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	digest := intent.HashBytes([]byte("trade intent digest"))

	t.Run("Round trip", func(t *testing.T) {
		sig := kp.Sign(digest)
		assert.True(t, Verify(digest, sig, kp.PubKey()))
	})

	t.Run("Wrong digest rejected", func(t *testing.T) {
		sig := kp.Sign(digest)
		other := intent.HashBytes([]byte("different digest"))
		assert.False(t, Verify(other, sig, kp.PubKey()))
	})

	t.Run("Wrong key rejected", func(t *testing.T) {
		sig := kp.Sign(digest)

		otherKP, err := GenerateKeyPair()
		require.NoError(t, err)
		assert.False(t, Verify(digest, sig, otherKP.PubKey()))
	})

	t.Run("Corrupted signature rejected", func(t *testing.T) {
		sig := kp.Sign(digest)
		sig[0] ^= 0xFF
		assert.False(t, Verify(digest, sig, kp.PubKey()))
	})

	t.Run("Zero signature rejected without panic", func(t *testing.T) {
		var sig Signature
		assert.False(t, Verify(digest, sig, kp.PubKey()))
	})

	t.Run("Zero public key rejected without panic", func(t *testing.T) {
		sig := kp.Sign(digest)
		var pk intent.PubKey
		assert.False(t, Verify(digest, sig, pk))
	})
}

// TestKeyPairFromSeed tests deterministic key derivation
func TestKeyPairFromSeed(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		seed := make([]byte, 32)
		for i := range seed {
			seed[i] = byte(i)
		}

		a, err := KeyPairFromSeed(seed)
		require.NoError(t, err)
		b, err := KeyPairFromSeed(seed)
		require.NoError(t, err)

		assert.Equal(t, a.PubKey(), b.PubKey())

		digest := intent.HashBytes([]byte("payload"))
		assert.True(t, Verify(digest, a.Sign(digest), b.PubKey()))
	})

	t.Run("Short seed rejected", func(t *testing.T) {
		_, err := KeyPairFromSeed(make([]byte, 16))
		assert.Error(t, err)
	})
}
