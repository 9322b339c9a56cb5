package grpcstream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rzbill/flume/internal/transport"
	logpkg "github.com/rzbill/flume/pkg/log"
	"google.golang.org/grpc"
)

var errStreamClosed = errors.New("grpcstream: stream closed")

type remoteStream struct {
	key    string
	conn   *grpc.ClientConn
	cs     grpc.ClientStream
	cancel context.CancelFunc
	acks   transport.AckHandler
	logger logpkg.Logger

	sendMu sync.Mutex // serializes SendMsg

	mu        sync.Mutex
	lastSent  uint64
	lastAcked uint64
	notify    chan struct{} // closed and replaced on every ack or failure
	broken    bool
	cause     error

	closeOnce sync.Once
}

func (s *remoteStream) Send(ctx context.Context, seq uint64, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return transport.Retriable(err)
	}
	s.mu.Lock()
	if s.broken {
		cause := s.cause
		s.mu.Unlock()
		return classify(cause)
	}
	s.mu.Unlock()

	frame := EncodeAppend(seq, payload)
	s.sendMu.Lock()
	err := s.cs.SendMsg(frame)
	s.sendMu.Unlock()
	if err != nil {
		// SendMsg returning an error means the stream is dead; the real
		// cause arrives on the receive side.
		s.fail(err)
		return classify(err)
	}

	s.mu.Lock()
	if seq > s.lastSent {
		s.lastSent = seq
	}
	s.mu.Unlock()
	return nil
}

// recvLoop drains acknowledgments until the stream breaks. Every ack is
// dispatched to the handler before Flush waiters are woken, so a caller
// blocked on a durable submit observes its outcome no later than Flush
// returning.
func (s *remoteStream) recvLoop() {
	for {
		var b []byte
		if err := s.cs.RecvMsg(&b); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				s.logger.Warn("receive loop ended", logpkg.Err(err))
			}
			s.fail(err)
			return
		}
		ack, err := DecodeAck(b)
		if err != nil {
			s.logger.Warn("dropping malformed ack frame", logpkg.Err(err))
			continue
		}
		if ack.OK() {
			s.acks.OnAck(ack.Seq)
		} else {
			s.acks.OnFailure(ack.Seq, errors.New(ack.Message))
		}
		s.mu.Lock()
		if ack.Seq > s.lastAcked {
			s.lastAcked = ack.Seq
		}
		close(s.notify)
		s.notify = make(chan struct{})
		s.mu.Unlock()
	}
}

// fail marks the stream broken and wakes Flush waiters. Idempotent; the
// first cause wins.
func (s *remoteStream) fail(err error) {
	s.mu.Lock()
	if !s.broken {
		s.broken = true
		s.cause = err
		close(s.notify)
		s.notify = make(chan struct{})
	}
	s.mu.Unlock()
}

func (s *remoteStream) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.lastAcked >= s.lastSent {
			s.mu.Unlock()
			return nil
		}
		if s.broken {
			cause := s.cause
			s.mu.Unlock()
			return classify(cause)
		}
		ch := s.notify
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return transport.Retriable(ctx.Err())
		}
	}
}

func (s *remoteStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.cs.CloseSend()
		s.cancel()
		_ = s.conn.Close()
		s.fail(errStreamClosed)
	})
	return nil
}

func (s *remoteStream) Probe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.broken
}
