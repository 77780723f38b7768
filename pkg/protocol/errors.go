package protocol

import "errors"

// Protocol-integrity and timing errors. Integrity errors indicate a
// malicious caller or a client bug and are never retried internally;
// timing errors require the caller to rebuild a fresh intent.
var (
	// ErrExpiryInPast rejects a commit whose expiry is not in the future.
	ErrExpiryInPast = errors.New("expiry is in the past")

	// ErrNonceReused rejects a commit for a (user, nonce) pair that still
	// has a live record.
	ErrNonceReused = errors.New("nonce already in use for this user")

	// ErrUnknownIntent is returned when no record exists for the key.
	ErrUnknownIntent = errors.New("no record for this user and nonce")

	// ErrHashMismatch rejects a reveal whose intent does not reproduce the
	// committed hash bit-for-bit.
	ErrHashMismatch = errors.New("hash mismatch between reveal and commit")

	// ErrInvalidSignature rejects a reveal whose signature does not verify
	// over the committed hash under the intent owner's key.
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrIntentExpired rejects reveal or settle at or after the expiry
	// timestamp. The boundary is strict: now == expiry is expired.
	ErrIntentExpired = errors.New("trade intent expired")

	// ErrAlreadyRevealed guards against replay: a revealed record never
	// accepts a second reveal, regardless of signature validity.
	ErrAlreadyRevealed = errors.New("intent already revealed")

	// ErrNotRevealed rejects settlement of a record that has not passed
	// reveal verification.
	ErrNotRevealed = errors.New("intent not yet revealed")

	// ErrAlreadyExecuted rejects operations on a settled record.
	ErrAlreadyExecuted = errors.New("intent already executed")

	// ErrAlreadyCancelled rejects operations on a cancelled record.
	ErrAlreadyCancelled = errors.New("intent already cancelled")

	// ErrNotOwner rejects a cancel from anyone but the record owner.
	ErrNotOwner = errors.New("caller is not the intent owner")

	// ErrRetriesExhausted reports that the configured settle attempt
	// budget was spent and the record was cancelled.
	ErrRetriesExhausted = errors.New("settle retry budget exhausted")
)
