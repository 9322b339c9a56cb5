package streammgr

import (
	"context"
	"sync"
)

// Outcome is the resolution of one pending acknowledgment.
type Outcome struct {
	Acked bool
	Cause error
}

// Pending is one in-flight durable send awaiting its acknowledgment.
// It is resolved exactly once; the single waiter observes the outcome
// through Wait.
type Pending struct {
	Generation uint64
	Seq        uint64
	done       chan Outcome
}

// Wait blocks until the entry resolves or ctx expires. On ctx expiry the
// entry stays registered; a late callback resolves it and is ignored.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case oc := <-p.done:
		return oc, nil
	case <-ctx.Done():
		return Outcome{}, ErrTimeout
	}
}

// AckTracker correlates asynchronous acknowledgment callbacks back to the
// Submit call awaiting them. Entries are keyed by (stream generation,
// sequence number) so an ack from a superseded stream can never satisfy a
// waiter on its successor.
type AckTracker struct {
	mu      sync.Mutex
	pending map[uint64]map[uint64]*Pending
}

// NewAckTracker returns an empty tracker.
func NewAckTracker() *AckTracker {
	return &AckTracker{pending: make(map[uint64]map[uint64]*Pending)}
}

// Register records a pending entry for (gen, seq). The submit path calls it
// before handing the record to the transport, so a callback can never arrive
// ahead of its registration.
func (t *AckTracker) Register(gen, seq uint64) *Pending {
	p := &Pending{Generation: gen, Seq: seq, done: make(chan Outcome, 1)}
	t.mu.Lock()
	byGen := t.pending[gen]
	if byGen == nil {
		byGen = make(map[uint64]*Pending)
		t.pending[gen] = byGen
	}
	byGen[seq] = p
	t.mu.Unlock()
	return p
}

// OnAck resolves the matching entry as acknowledged. Unknown or already
// resolved entries are a no-op.
func (t *AckTracker) OnAck(gen, seq uint64) {
	t.resolve(gen, seq, Outcome{Acked: true})
}

// OnFailure resolves the matching entry as failed. Unknown or already
// resolved entries are a no-op.
func (t *AckTracker) OnFailure(gen, seq uint64, cause error) {
	t.resolve(gen, seq, Outcome{Acked: false, Cause: cause})
}

func (t *AckTracker) resolve(gen, seq uint64, oc Outcome) {
	t.mu.Lock()
	byGen := t.pending[gen]
	p, ok := byGen[seq]
	if ok {
		delete(byGen, seq)
		if len(byGen) == 0 {
			delete(t.pending, gen)
		}
	}
	t.mu.Unlock()
	if ok {
		p.done <- oc
	}
}

// InvalidateGeneration fails every still-pending entry for gen. Called when
// a slot discards its stream, so no waiter blocks on acks that can no
// longer arrive.
func (t *AckTracker) InvalidateGeneration(gen uint64, cause error) {
	t.mu.Lock()
	byGen := t.pending[gen]
	delete(t.pending, gen)
	t.mu.Unlock()
	for _, p := range byGen {
		p.done <- Outcome{Acked: false, Cause: cause}
	}
}

// Outstanding reports the number of unresolved entries for gen.
func (t *AckTracker) Outstanding(gen uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[gen])
}
