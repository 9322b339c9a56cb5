package streammgr

// Status describes the lifecycle state of a destination slot.
type Status int

const (
	// StatusUnknown is reported for keys that have never been referenced.
	StatusUnknown Status = iota
	// StatusEmpty means the slot exists but holds no stream yet.
	StatusEmpty
	// StatusCreating means exactly one creation attempt is in flight.
	StatusCreating
	// StatusReady means the slot holds a usable stream.
	StatusReady
	// StatusDraining means the slot is flushing during shutdown.
	StatusDraining
	// StatusFailed means the last creation or use failed; the next caller
	// starts a fresh creation attempt.
	StatusFailed
	// StatusClosed is terminal; the slot can never be recreated.
	StatusClosed
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusCreating:
		return "creating"
	case StatusReady:
		return "ready"
	case StatusDraining:
		return "draining"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result describes the outcome of a Submit call.
type Result int

const (
	// ResultNone is returned alongside errors that prevented a send.
	ResultNone Result = iota
	// ResultAccepted means the transport accepted the send (fire-and-forget).
	ResultAccepted
	// ResultDurable means the remote side acknowledged the record.
	ResultDurable
	// ResultUnacknowledged means the remote side reported a failure for the record.
	ResultUnacknowledged
)

// String returns the lowercase result name.
func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultDurable:
		return "durable"
	case ResultUnacknowledged:
		return "unacknowledged"
	default:
		return "none"
	}
}

// KeyStatus pairs a destination key with its current slot status.
type KeyStatus struct {
	Key    string
	Status Status
}
