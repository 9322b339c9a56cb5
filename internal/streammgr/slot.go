package streammgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/flume/internal/transport"
	logpkg "github.com/rzbill/flume/pkg/log"
)

// slot holds exactly one destination's live stream and arbitrates concurrent
// access to it. Slots are created on first reference and never removed.
//
// mu guards the state machine (status, handle, generation, lastErr, attempt).
// sendMu serializes sends so records reach the transport in submission order
// and sequence numbers stay contiguous per generation. Neither lock is held
// across a network round trip by waiters; the creator performs the open
// outside mu and publishes the outcome under it.
type slot struct {
	key     string
	dest    transport.DestinationConfig
	opener  transport.Opener
	tracker *AckTracker
	logger  logpkg.Logger

	openTimeout time.Duration

	mu         sync.Mutex
	status     Status
	handle     transport.RemoteStream
	generation uint64
	lastErr    error
	attempt    *creationAttempt // in-flight creation, nil outside Creating

	sendMu  sync.Mutex
	sendGen uint64
	seq     uint64
}

// creationAttempt is the outcome every caller parked on a Creating slot
// shares. done is closed exactly once, after h/gen/err are set.
type creationAttempt struct {
	done chan struct{}
	h    transport.RemoteStream
	gen  uint64
	err  error
}

func newSlot(key string, dest transport.DestinationConfig, opener transport.Opener, logger logpkg.Logger, openTimeout time.Duration) *slot {
	return &slot{
		key:         key,
		dest:        dest,
		opener:      opener,
		tracker:     NewAckTracker(),
		logger:      logger,
		openTimeout: openTimeout,
		status:      StatusEmpty,
	}
}

// currentStatus reads the status without mutating anything.
func (s *slot) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// genHandler binds a generation to the slot's tracker so transport callbacks
// from one stream can never touch entries of another.
type genHandler struct {
	tracker *AckTracker
	gen     uint64
}

func (h genHandler) OnAck(seq uint64)                { h.tracker.OnAck(h.gen, seq) }
func (h genHandler) OnFailure(seq uint64, err error) { h.tracker.OnFailure(h.gen, seq, err) }

// acquireReady returns a usable stream and its generation. Ready slots are
// reused after a liveness probe; a Creating slot blocks the caller on the
// in-flight attempt; Empty and Failed slots make the caller the creator.
// Only the single creator performs the open; every concurrent caller
// observes that attempt's outcome.
func (s *slot) acquireReady(ctx context.Context) (transport.RemoteStream, uint64, error) {
	for {
		s.mu.Lock()
		switch s.status {
		case StatusReady:
			h, gen := s.handle, s.generation
			s.mu.Unlock()
			if h.Probe() {
				return h, gen, nil
			}
			s.invalidateGeneration(gen, fmt.Errorf("liveness probe failed for %q", s.key))
			continue

		case StatusCreating:
			at := s.attempt
			s.mu.Unlock()
			select {
			case <-at.done:
				// Waiters share the attempt's outcome; they never start
				// their own on its failure.
				if at.err != nil {
					return nil, 0, fmt.Errorf("%w: open %q: %w", ErrDestinationUnavailable, s.key, at.err)
				}
				return at.h, at.gen, nil
			case <-ctx.Done():
				return nil, 0, fmt.Errorf("%w: waiting for stream creation for %q", ErrTimeout, s.key)
			}

		case StatusEmpty, StatusFailed:
			s.status = StatusCreating
			s.generation++
			at := &creationAttempt{done: make(chan struct{}), gen: s.generation}
			s.attempt = at
			s.mu.Unlock()
			return s.create(at)

		default: // Draining, Closed
			s.mu.Unlock()
			return nil, 0, fmt.Errorf("%w: destination %q", ErrManagerClosed, s.key)
		}
	}
}

// create performs the single open attempt the caller owns and publishes its
// outcome. The open is bounded by the configured open timeout rather than
// the caller's context: a caller that gives up must not abort an attempt
// other waiters (and future callers) share.
func (s *slot) create(at *creationAttempt) (transport.RemoteStream, uint64, error) {
	octx, cancel := context.WithTimeout(context.Background(), s.openTimeout)
	defer cancel()

	h, err := s.opener.Open(octx, s.dest, genHandler{tracker: s.tracker, gen: at.gen})

	s.mu.Lock()
	if s.status != StatusCreating {
		// Shutdown raced the attempt; discard the fresh handle.
		s.attempt = nil
		s.mu.Unlock()
		at.err = fmt.Errorf("%w: destination %q", ErrManagerClosed, s.key)
		close(at.done)
		if h != nil {
			_ = h.Close()
		}
		return nil, 0, at.err
	}
	if err != nil {
		s.status = StatusFailed
		s.lastErr = err
		s.attempt = nil
		s.mu.Unlock()
		at.err = err
		close(at.done)
		s.logger.Error("stream creation failed",
			logpkg.Str("destination", s.key),
			logpkg.Str("class", transport.Classify(err).String()),
			logpkg.Err(err))
		return nil, 0, fmt.Errorf("%w: open %q: %w", ErrDestinationUnavailable, s.key, err)
	}
	s.status = StatusReady
	s.handle = h
	s.lastErr = nil
	s.attempt = nil
	s.mu.Unlock()
	at.h = h
	close(at.done)
	s.logger.Info("stream created",
		logpkg.Str("destination", s.key),
		logpkg.Uint64("generation", at.gen),
		logpkg.Str("table", s.dest.Table))
	return h, at.gen, nil
}

// invalidateGeneration forces the slot to Failed if it still holds the given
// generation as a Ready stream, closes the handle best-effort, and fails
// every pending ack of that generation. A caller observing an already
// superseded stream only invalidates that stream's tracker entries.
func (s *slot) invalidateGeneration(gen uint64, reason error) {
	s.mu.Lock()
	if s.status == StatusReady && s.generation == gen {
		h := s.handle
		s.handle = nil
		s.status = StatusFailed
		s.lastErr = reason
		s.mu.Unlock()
		if h != nil {
			if err := h.Close(); err != nil {
				s.logger.Warn("closing invalidated stream", logpkg.Str("destination", s.key), logpkg.Err(err))
			}
		}
		s.logger.Warn("stream invalidated",
			logpkg.Str("destination", s.key),
			logpkg.Uint64("generation", gen),
			logpkg.Err(reason))
	} else {
		s.mu.Unlock()
	}
	s.tracker.InvalidateGeneration(gen, fmt.Errorf("%w: %w", ErrUnacknowledged, reason))
}

// send forwards one record on the acquired handle, registering the pending
// ack first when durability was requested. Sequence numbers restart at 1 for
// each generation.
func (s *slot) send(ctx context.Context, h transport.RemoteStream, gen uint64, payload []byte, durable bool, ackTimeout time.Duration) (Result, uint64, error) {
	s.sendMu.Lock()
	if gen < s.sendGen {
		// The caller acquired its handle just before an invalidation and a
		// newer generation has sent since. Rejecting here keeps the live
		// counter intact; the submit retry re-acquires the current stream.
		s.sendMu.Unlock()
		return ResultNone, 0, fmt.Errorf("%w: destination %q: generation %d superseded", ErrSendRejected, s.key, gen)
	}
	if gen > s.sendGen {
		s.sendGen = gen
		s.seq = 0
	}
	seq := s.seq + 1

	var p *Pending
	if durable {
		p = s.tracker.Register(gen, seq)
	}
	if err := h.Send(ctx, seq, payload); err != nil {
		s.sendMu.Unlock()
		if p != nil {
			s.tracker.OnFailure(gen, seq, err)
		}
		s.invalidateGeneration(gen, err)
		return ResultNone, 0, fmt.Errorf("%w: destination %q seq %d: %w", ErrSendRejected, s.key, seq, err)
	}
	s.seq = seq
	s.sendMu.Unlock()

	if !durable {
		return ResultAccepted, seq, nil
	}

	wctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	oc, err := p.Wait(wctx)
	if err != nil {
		// The entry stays registered; a late callback resolves it silently.
		return ResultNone, seq, fmt.Errorf("%w: ack for %q seq %d", ErrTimeout, s.key, seq)
	}
	if !oc.Acked {
		cause := oc.Cause
		if cause == nil {
			cause = ErrUnacknowledged
		}
		return ResultUnacknowledged, seq, fmt.Errorf("%w: destination %q seq %d: %w", ErrUnacknowledged, s.key, seq, cause)
	}
	return ResultDurable, seq, nil
}

// flush flushes the live handle if there is one. It reports false when the
// slot holds no usable stream.
func (s *slot) flush(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.status != StatusReady || s.handle == nil {
		s.mu.Unlock()
		return false, nil
	}
	h, gen := s.handle, s.generation
	s.mu.Unlock()
	if err := h.Flush(ctx); err != nil {
		s.invalidateGeneration(gen, err)
		return true, err
	}
	return true, nil
}

// drainAndClose transitions the slot to Draining, flushes the handle within
// the given budget, closes it, and lands in the terminal Closed state. Any
// acks still pending after the flush resolve as failed. Idempotent.
func (s *slot) drainAndClose(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	h, gen := s.handle, s.generation
	s.handle = nil
	s.status = StatusDraining
	s.mu.Unlock()

	var drainErr error
	if h != nil {
		if err := h.Flush(ctx); err != nil {
			drainErr = fmt.Errorf("drain %q: %w", s.key, err)
		}
		if err := h.Close(); err != nil {
			s.logger.Warn("closing stream on shutdown", logpkg.Str("destination", s.key), logpkg.Err(err))
		}
	}
	s.tracker.InvalidateGeneration(gen, fmt.Errorf("%w: stream closed", ErrUnacknowledged))

	s.mu.Lock()
	s.status = StatusClosed
	s.mu.Unlock()
	return drainErr
}
