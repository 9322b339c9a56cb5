package streammgr

import "errors"

// Error kinds surfaced by Submit and Shutdown. Callers distinguish them with
// errors.Is; the HTTP layer maps each kind to a status code.
var (
	// ErrDestinationUnknown means the key is not configured.
	ErrDestinationUnknown = errors.New("destination unknown")
	// ErrDestinationUnavailable means the stream could not be created; the
	// slot is left Failed and the next caller retries creation.
	ErrDestinationUnavailable = errors.New("destination unavailable")
	// ErrSendRejected means the handle was stale when the send was attempted.
	// Submit performs one local creation+send retry before surfacing it.
	ErrSendRejected = errors.New("send rejected by stale stream")
	// ErrTimeout means a bounded wait (creation, durable ack, drain) elapsed.
	// It does not mutate slot state.
	ErrTimeout = errors.New("operation timed out")
	// ErrUnacknowledged means the remote side reported a failure for a
	// durable record, or its stream was superseded before acknowledgment.
	ErrUnacknowledged = errors.New("record not acknowledged")
	// ErrManagerClosed means Submit was called after Shutdown, or the slot
	// reached its terminal state.
	ErrManagerClosed = errors.New("stream manager closed")
)
