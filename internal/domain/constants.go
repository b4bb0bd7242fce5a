package domain

// Status is the lifecycle state of a payment intent.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPartiallyObserved Status = "PARTIALLY_OBSERVED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusExpired           Status = "EXPIRED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartiallyObserved, StatusConfirmed, StatusExpired:
		return true
	}
	return false
}

// Terminal statuses never transition again.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired
}

// Predecessor returns the only status allowed to move into s.
func (s Status) Predecessor() (Status, bool) {
	switch s {
	case StatusPartiallyObserved, StatusExpired:
		return StatusPending, true
	case StatusConfirmed:
		return StatusPartiallyObserved, true
	}
	return "", false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	p, ok := to.Predecessor()
	return ok && p == from
}

// Observation sources.
const (
	SourceChain    = "CHAIN"
	SourceExchange = "EXCHANGE"
	SourceManual   = "MANUAL"
)

// NoBlockHeight marks observations from sources without block depth
// (exchange balance deltas, manual overrides).
const NoBlockHeight int64 = -1

// DefaultNickname is shown for intents created without one.
const DefaultNickname = "匿名"

// RoleAdmin is the only role carried by issued access tokens.
const RoleAdmin = "ADMIN"
