package event

// Kind discriminates audit record payloads.
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposit
	KindWithdraw
	KindOrder
	KindCancel
	KindTrade
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdraw:
		return "Withdraw"
	case KindOrder:
		return "Order"
	case KindCancel:
		return "Cancel"
	case KindTrade:
		return "Trade"
	default:
		return "Unknown"
	}
}

// Subject returns the lower-case form used in stream subjects and
// database rows.
func (k Kind) Subject() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdraw"
	case KindOrder:
		return "order"
	case KindCancel:
		return "cancel"
	case KindTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Subject. Unrecognized strings map to
// KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "deposit":
		return KindDeposit
	case "withdraw":
		return KindWithdraw
	case "order":
		return KindOrder
	case "cancel":
		return KindCancel
	case "trade":
		return KindTrade
	default:
		return KindUnknown
	}
}

// Envelope wraps every record in the audit log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	// Record type discriminator
	Kind Kind `json:"kind"`

	// Unique record id, doubles as the dedup key downstream
	RecordID string `json:"record_id"`

	// Engine clock timestamp (epoch microseconds)
	Timestamp int64 `json:"timestamp"`

	// SHA-256 of engine state AFTER applying this record
	StateHash [32]byte `json:"state_hash"`

	// Previous record's state hash (chain integrity)
	PrevHash [32]byte `json:"prev_hash"`
}

// Record is the interface all audit payloads implement.
type Record interface {
	// RecordID returns the unique id shared with the envelope
	RecordID() string

	// RecordKind returns the discriminator
	RecordKind() Kind
}
