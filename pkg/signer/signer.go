// Package signer produces and checks detached Ed25519 signatures over
// intent digests. Signing normally happens in the user's wallet;
// verification is the security-critical path and must reject malformed
// input without panicking.
package signer

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/unikron/relayer/pkg/intent"
)

// SignatureSize is the size in bytes of a detached signature.
const SignatureSize = ed25519.SignatureSize

// Signature is a detached Ed25519 signature over a 32-byte intent digest.
type Signature [SignatureSize]byte

// KeyPair holds an Ed25519 key pair for a protocol participant.
type KeyPair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %v", err)
	}
	return &KeyPair{pub: pub, priv: priv}, nil
}

// KeyPairFromSeed derives a key pair from a 32-byte seed. Used to load
// relayer identities from configuration.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{pub: pub, priv: priv}, nil
}

// PubKey returns the public half as a protocol identity.
func (kp *KeyPair) PubKey() intent.PubKey {
	var pk intent.PubKey
	copy(pk[:], kp.pub)
	return pk
}

// Sign produces a detached signature over the digest.
func (kp *KeyPair) Sign(digest intent.Digest) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(kp.priv, digest[:]))
	return sig
}

// Verify reports whether sig is a valid signature over digest under pub.
// A malformed signature or public key yields false, never a panic.
func Verify(digest intent.Digest, sig Signature, pub intent.PubKey) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), digest[:], sig[:])
}
