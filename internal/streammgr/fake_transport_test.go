package streammgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rzbill/flume/internal/transport"
)

// fakeStream is an in-memory RemoteStream whose acks are driven by the test.
type fakeStream struct {
	acks transport.AckHandler

	mu         sync.Mutex
	sent       [][]byte
	seqs       []uint64
	healthy    bool
	sendErr    error
	flushErr   error
	blockFlush bool // Flush parks on ctx instead of returning
	closed     bool
}

func newFakeStream(acks transport.AckHandler) *fakeStream {
	return &fakeStream{acks: acks, healthy: true}
}

func (f *fakeStream) Send(_ context.Context, seq uint64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.closed {
		return errors.New("send on closed stream")
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	f.seqs = append(f.seqs, seq)
	return nil
}

func (f *fakeStream) Flush(ctx context.Context) error {
	f.mu.Lock()
	block := f.blockFlush
	err := f.flushErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) Probe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy && !f.closed
}

func (f *fakeStream) setHealthy(v bool) {
	f.mu.Lock()
	f.healthy = v
	f.mu.Unlock()
}

func (f *fakeStream) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// ackLast resolves the most recent send through the handler the stream was
// opened with.
func (f *fakeStream) ackLast() {
	f.mu.Lock()
	seq := f.seqs[len(f.seqs)-1]
	f.mu.Unlock()
	f.acks.OnAck(seq)
}

func (f *fakeStream) failLast(cause error) {
	f.mu.Lock()
	seq := f.seqs[len(f.seqs)-1]
	f.mu.Unlock()
	f.acks.OnFailure(seq, cause)
}

// fakeOpener builds fakeStreams and counts open attempts.
type fakeOpener struct {
	mu         sync.Mutex
	opens      atomic.Int64
	openErr    error
	newSendErr error         // preset send error for freshly opened streams
	gate       chan struct{} // when set, Open blocks until the gate closes
	streams    []*fakeStream
}

func (o *fakeOpener) Open(ctx context.Context, _ transport.DestinationConfig, acks transport.AckHandler) (transport.RemoteStream, error) {
	o.opens.Add(1)
	o.mu.Lock()
	gate := o.gate
	err := o.openErr
	o.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s := newFakeStream(acks)
	o.mu.Lock()
	s.sendErr = o.newSendErr
	o.streams = append(o.streams, s)
	o.mu.Unlock()
	return s, nil
}

func (o *fakeOpener) lastStream() *fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streams) == 0 {
		return nil
	}
	return o.streams[len(o.streams)-1]
}
