package intent

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// KeySize is the size in bytes of public-key identifiers.
const KeySize = 32

// DigestSize is the size in bytes of an intent digest.
const DigestSize = 32

// PubKey identifies a protocol participant (user or relayer).
type PubKey [KeySize]byte

// TokenID identifies an asset mint.
type TokenID [KeySize]byte

// Digest is the 256-bit hash of a canonically serialized intent.
type Digest [DigestSize]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// TradeIntent is a signed trade order revealed against a prior commitment.
// All fields are immutable once built; two intents with identical field
// values serialize to identical bytes and hash to identical digests.
type TradeIntent struct {
	User       PubKey  `json:"user"`
	Nonce      uint64  `json:"nonce"`
	Expiry     uint64  `json:"expiry"` // unix seconds, strict upper bound for reveal
	Relayer    PubKey  `json:"relayer"`
	RelayerFee uint64  `json:"relayer_fee"`
	TokenIn    TokenID `json:"token_in"`
	TokenOut   TokenID `json:"token_out"`
	AmountIn   uint64  `json:"amount_in"`
	MinOut     uint64  `json:"min_out"`
}

// Field tags for the canonical encoding, assigned in lexicographic order
// of the wire field names. The tag byte precedes each field so the
// encoding stays unambiguous if fields are ever added.
const (
	tagAmountIn   byte = 0x01 // amount_in
	tagExpiry     byte = 0x02 // expiry
	tagMinOut     byte = 0x03 // min_out
	tagNonce      byte = 0x04 // nonce
	tagRelayer    byte = 0x05 // relayer
	tagRelayerFee byte = 0x06 // relayer_fee
	tagTokenIn    byte = 0x07 // token_in
	tagTokenOut   byte = 0x08 // token_out
	tagUser       byte = 0x09 // user
)

// serializedSize is 9 tag bytes, 5 u64 fields and 4 32-byte keys.
const serializedSize = 9 + 5*8 + 4*KeySize

// Serialize produces the canonical byte encoding of the intent. Fields are
// emitted in lexicographic order of their wire names, integers as
// big-endian fixed-width u64, keys as raw 32 bytes. The output is the sole
// input to hashing, so it must be reproducible bit-for-bit at reveal time.
func Serialize(ti TradeIntent) []byte {
	buf := make([]byte, 0, serializedSize)

	buf = appendUint64(buf, tagAmountIn, ti.AmountIn)
	buf = appendUint64(buf, tagExpiry, ti.Expiry)
	buf = appendUint64(buf, tagMinOut, ti.MinOut)
	buf = appendUint64(buf, tagNonce, ti.Nonce)
	buf = appendKey(buf, tagRelayer, ti.Relayer[:])
	buf = appendUint64(buf, tagRelayerFee, ti.RelayerFee)
	buf = appendKey(buf, tagTokenIn, ti.TokenIn[:])
	buf = appendKey(buf, tagTokenOut, ti.TokenOut[:])
	buf = appendKey(buf, tagUser, ti.User[:])

	return buf
}

func appendUint64(buf []byte, tag byte, v uint64) []byte {
	buf = append(buf, tag)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendKey(buf []byte, tag byte, key []byte) []byte {
	buf = append(buf, tag)
	return append(buf, key...)
}

// HashBytes computes the SHA-256 digest of an arbitrary byte string.
func HashBytes(data []byte) Digest {
	return sha256.Sum256(data)
}

// Hash computes the digest a commitment is made against: SHA-256 over the
// canonical serialization of the intent.
func Hash(ti TradeIntent) Digest {
	return HashBytes(Serialize(ti))
}
