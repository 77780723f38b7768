package protocol

import (
	"sync"
	"time"

	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/settlement"
)

// Status represents the lifecycle state of a swap intent record.
type Status int

const (
	// StatusPending is the transient state before a commit is accepted.
	// Commit is atomic, so stored records never remain Pending.
	StatusPending Status = iota
	// StatusCommitted means the hash is recorded and the intent hidden.
	StatusCommitted
	// StatusRevealed means the full intent was disclosed and verified.
	StatusRevealed
	// StatusExecuted means settlement succeeded and transfers ran.
	StatusExecuted
	// StatusExpired means the expiry passed without a successful reveal
	// or settlement.
	StatusExpired
	// StatusCancelled means the owner withdrew the commitment, or the
	// settle retry budget was exhausted.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusRevealed:
		return "revealed"
	case StatusExecuted:
		return "executed"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are possible.
func (s Status) terminal() bool {
	return s == StatusExecuted || s == StatusExpired || s == StatusCancelled
}

// Key identifies a record. Each user may have at most one live record
// per nonce.
type Key struct {
	User  intent.PubKey
	Nonce uint64
}

// record is the stored lifecycle state of one swap intent. The engine
// exclusively owns status and revealed; the per-record mutex makes
// commit, reveal and settle on the same record mutually exclusive.
type record struct {
	mu sync.Mutex

	id         string
	intentHash intent.Digest
	user       intent.PubKey
	nonce      uint64
	expiry     uint64
	timestamp  time.Time // commit wall clock

	status   Status
	revealed bool

	// Set at reveal time, read-only afterwards.
	intent *intent.TradeIntent

	settleAttempts int
	result         *settlement.Result
}

// RecordView is a read-only snapshot of a record.
type RecordView struct {
	ID             string
	IntentHash     intent.Digest
	User           intent.PubKey
	Nonce          uint64
	Expiry         uint64
	Timestamp      time.Time
	Status         Status
	Revealed       bool
	Intent         *intent.TradeIntent
	SettleAttempts int
	Result         *settlement.Result
}

// view snapshots the record. Caller must hold rec.mu.
func (r *record) view() RecordView {
	v := RecordView{
		ID:             r.id,
		IntentHash:     r.intentHash,
		User:           r.user,
		Nonce:          r.nonce,
		Expiry:         r.expiry,
		Timestamp:      r.timestamp,
		Status:         r.status,
		Revealed:       r.revealed,
		SettleAttempts: r.settleAttempts,
	}
	if r.intent != nil {
		ti := *r.intent
		v.Intent = &ti
	}
	if r.result != nil {
		res := *r.result
		v.Result = &res
	}
	return v
}
