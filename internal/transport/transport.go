package transport

import (
	"context"
	"errors"
)

// DestinationConfig carries everything Open needs for one destination.
// Values come from process configuration and are read-only after startup.
type DestinationConfig struct {
	// Key is the destination key the stream serves.
	Key string
	// Endpoint is the remote streaming service target (host:port).
	Endpoint string
	// Table is the fully qualified remote table name.
	Table string
	// Descriptor is the full name of the payload message descriptor.
	Descriptor string
	// ClientID and ClientSecret authenticate the stream with the remote side.
	ClientID     string
	ClientSecret string
	// MaxInflight bounds unacknowledged sends the remote may buffer.
	MaxInflight int
}

// AckHandler receives asynchronous acknowledgment callbacks from the
// transport. Implementations must be safe for concurrent use; the transport
// never blocks a send on a callback.
type AckHandler interface {
	OnAck(seq uint64)
	OnFailure(seq uint64, cause error)
}

// RemoteStream is one live bidirectional stream to a destination. The caller
// assigns sequence numbers, monotonically increasing from 1 per stream; the
// remote side echoes them in acknowledgments.
type RemoteStream interface {
	// Send forwards one encoded record. A returned error means the record
	// was not accepted and the stream should be considered broken.
	Send(ctx context.Context, seq uint64, payload []byte) error
	// Flush blocks until every accepted send has been acknowledged, the
	// stream breaks, or ctx expires.
	Flush(ctx context.Context) error
	// Close tears the stream down. Safe to call more than once.
	Close() error
	// Probe reports whether the stream is still believed usable.
	Probe() bool
}

// Opener opens remote streams. The handler stays bound to the returned
// stream for its whole lifetime.
type Opener interface {
	Open(ctx context.Context, cfg DestinationConfig, acks AckHandler) (RemoteStream, error)
}

// Class buckets open/send errors for callers deciding on recovery.
type Class int

const (
	// ClassRetriable errors may succeed on a later attempt.
	ClassRetriable Class = iota
	// ClassFatal errors will not succeed without operator intervention
	// (bad credentials, unknown table, malformed descriptor).
	ClassFatal
)

// String returns the lowercase class name.
func (c Class) String() string {
	if c == ClassFatal {
		return "fatal"
	}
	return "retriable"
}

type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Fatal marks err as ClassFatal.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassFatal, err: err}
}

// Retriable marks err as ClassRetriable.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassRetriable, err: err}
}

// Classify returns the class attached to err, defaulting to ClassRetriable.
func Classify(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassRetriable
}
