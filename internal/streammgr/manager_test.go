package streammgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/flume/internal/transport"
	logpkg "github.com/rzbill/flume/pkg/log"
)

func newManagerForTest(t *testing.T, opener transport.Opener, keys ...string) *Manager {
	t.Helper()
	dests := make(map[string]transport.DestinationConfig, len(keys))
	for _, k := range keys {
		dests[k] = transport.DestinationConfig{Key: k, Endpoint: "remote:443", Table: "main.events." + k}
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel))
	return New(Options{
		Opener:       opener,
		Destinations: dests,
		Logger:       logger,
		OpenTimeout:  2 * time.Second,
		AckTimeout:   2 * time.Second,
		DrainTimeout: time.Second,
	})
}

func TestHealthOfUnknownKey(t *testing.T) {
	m := newManagerForTest(t, &fakeOpener{}, "a")
	if st := m.HealthOf("a"); st != StatusUnknown {
		t.Fatalf("never-referenced key: want unknown, got %v", st)
	}
	if st := m.HealthOf("nope"); st != StatusUnknown {
		t.Fatalf("unconfigured key: want unknown, got %v", st)
	}
}

func TestSubmitUnknownDestination(t *testing.T) {
	m := newManagerForTest(t, &fakeOpener{}, "a")
	_, _, err := m.Submit(context.Background(), "nope", []byte("x"), false)
	if !errors.Is(err, ErrDestinationUnknown) {
		t.Fatalf("want ErrDestinationUnknown, got %v", err)
	}
}

func TestSubmitFireAndForget(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")
	res, seq, err := m.Submit(context.Background(), "a", []byte("hello"), false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res != ResultAccepted {
		t.Fatalf("want accepted, got %v", res)
	}
	if seq != 1 {
		t.Fatalf("want seq 1, got %d", seq)
	}
	if st := m.HealthOf("a"); st != StatusReady {
		t.Fatalf("want ready, got %v", st)
	}
	if n := op.lastStream().sentCount(); n != 1 {
		t.Fatalf("want 1 send, got %d", n)
	}
}

func TestSubmitDurableAcked(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		res, _, err = m.Submit(context.Background(), "a", []byte("hello"), true)
	}()

	// Wait for the send to land, then ack after a small delay.
	waitFor(t, func() bool { return op.lastStream() != nil && op.lastStream().sentCount() == 1 })
	start := time.Now()
	time.Sleep(5 * time.Millisecond)
	op.lastStream().ackLast()
	<-done

	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res != ResultDurable {
		t.Fatalf("want durable, got %v", res)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("returned before the ack fired")
	}
}

func TestSubmitDurableFailed(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		res, _, err = m.Submit(context.Background(), "a", []byte("hello"), true)
	}()
	waitFor(t, func() bool { return op.lastStream() != nil && op.lastStream().sentCount() == 1 })
	op.lastStream().failLast(errors.New("remote rejected record"))
	<-done

	if res != ResultUnacknowledged {
		t.Fatalf("want unacknowledged, got %v", res)
	}
	if !errors.Is(err, ErrUnacknowledged) {
		t.Fatalf("want ErrUnacknowledged, got %v", err)
	}
}

func TestSubmitDurableAckTimeout(t *testing.T) {
	op := &fakeOpener{}
	dests := map[string]transport.DestinationConfig{"a": {Key: "a"}}
	m := New(Options{
		Opener:       op,
		Destinations: dests,
		Logger:       logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)),
		AckTimeout:   30 * time.Millisecond,
	})
	_, _, err := m.Submit(context.Background(), "a", []byte("x"), true)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	// A timeout leaves slot state untouched.
	if st := m.HealthOf("a"); st != StatusReady {
		t.Fatalf("want ready after ack timeout, got %v", st)
	}
}

func TestSingleFlightCreation(t *testing.T) {
	gate := make(chan struct{})
	op := &fakeOpener{gate: gate}
	m := newManagerForTest(t, op, "b")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = m.Submit(context.Background(), "b", []byte("x"), false)
		}(i)
	}
	// Let every caller park on the one in-flight attempt before releasing it.
	waitFor(t, func() bool { return op.opens.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := op.opens.Load(); n != 1 {
		t.Fatalf("want exactly 1 open, got %d", n)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if n := op.lastStream().sentCount(); n != callers {
		t.Fatalf("want %d sends on the shared stream, got %d", callers, n)
	}
}

func TestConcurrentCreationFailureSharedOutcome(t *testing.T) {
	gate := make(chan struct{})
	op := &fakeOpener{gate: gate, openErr: errors.New("connect refused")}
	m := newManagerForTest(t, op, "b")

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = m.Submit(context.Background(), "b", []byte("x"), false)
		}(i)
	}
	waitFor(t, func() bool { return op.opens.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	// One open attempt; creator and parked waiters all observe its failure.
	if n := op.opens.Load(); n != 1 {
		t.Fatalf("want exactly 1 open, got %d", n)
	}
	for i, err := range errs {
		if !errors.Is(err, ErrDestinationUnavailable) {
			t.Fatalf("caller %d: want ErrDestinationUnavailable, got %v", i, err)
		}
	}
	if st := m.HealthOf("b"); st != StatusFailed {
		t.Fatalf("want failed, got %v", st)
	}
}

func TestUnhealthyProbeTriggersSingleRecreation(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")
	if _, _, err := m.Submit(context.Background(), "a", []byte("one"), false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	first := op.lastStream()
	first.setHealthy(false)

	if _, _, err := m.Submit(context.Background(), "a", []byte("two"), false); err != nil {
		t.Fatalf("submit after probe failure: %v", err)
	}
	if n := op.opens.Load(); n != 2 {
		t.Fatalf("want exactly one recreation (2 opens), got %d", n)
	}
	second := op.lastStream()
	if second == first {
		t.Fatalf("expected a fresh stream")
	}
	if n := second.sentCount(); n != 1 {
		t.Fatalf("want the record on the new handle, got %d sends", n)
	}
	if !first.closed {
		t.Fatalf("stale handle should have been closed")
	}
}

func TestStaleSendRetriesOnce(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")
	if _, _, err := m.Submit(context.Background(), "a", []byte("one"), false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	op.lastStream().setSendErr(errors.New("broken pipe"))

	res, seq, err := m.Submit(context.Background(), "a", []byte("two"), false)
	if err != nil {
		t.Fatalf("submit with stale handle: %v", err)
	}
	if res != ResultAccepted {
		t.Fatalf("want accepted, got %v", res)
	}
	if seq != 1 {
		t.Fatalf("sequence restarts per generation: want 1, got %d", seq)
	}
	if n := op.opens.Load(); n != 2 {
		t.Fatalf("want 2 opens, got %d", n)
	}
}

func TestSupersededGenerationSendKeepsSequenceIntact(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")
	if _, _, err := m.Submit(context.Background(), "a", []byte("one"), false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	m.mu.Lock()
	s := m.slots["a"]
	m.mu.Unlock()

	// Hold on to the generation-1 handle, then break it so the next submit
	// recreates the stream as generation 2.
	h1, gen1, err := s.acquireReady(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	op.lastStream().setHealthy(false)
	if _, seq, err := m.Submit(context.Background(), "a", []byte("two"), false); err != nil || seq != 1 {
		t.Fatalf("submit on fresh generation: seq=%d err=%v", seq, err)
	}

	// Replaying the stale handle must be rejected without rewinding the live
	// generation's counter.
	if _, _, err := s.send(context.Background(), h1, gen1, []byte("stale"), false, time.Second); !errors.Is(err, ErrSendRejected) {
		t.Fatalf("stale generation send: want ErrSendRejected, got %v", err)
	}
	_, seq, err := m.Submit(context.Background(), "a", []byte("three"), false)
	if err != nil {
		t.Fatalf("submit after stale send: %v", err)
	}
	if seq != 2 {
		t.Fatalf("generation 2 reused a sequence number: want seq 2, got %d", seq)
	}
	second := op.lastStream()
	second.mu.Lock()
	seqs := append([]uint64(nil), second.seqs...)
	second.mu.Unlock()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("stream saw seqs %v, want [1 2]", seqs)
	}
}

func TestRepeatedSendFailureSurfaces(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")
	if _, _, err := m.Submit(context.Background(), "a", []byte("one"), false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Every stream the opener hands out is broken from now on.
	op.lastStream().setSendErr(errors.New("broken pipe"))
	op.mu.Lock()
	op.newSendErr = errors.New("broken pipe")
	op.mu.Unlock()

	_, _, err := m.Submit(context.Background(), "a", []byte("two"), false)
	if !errors.Is(err, ErrSendRejected) {
		t.Fatalf("want ErrSendRejected after one retry, got %v", err)
	}
	if n := op.opens.Load(); n != 2 {
		t.Fatalf("want exactly one local retry (2 opens), got %d", n)
	}
}

func TestRecreationFailsPriorGenerationAcks(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")

	done := make(chan struct{})
	var res Result
	go func() {
		defer close(done)
		res, _, _ = m.Submit(context.Background(), "a", []byte("one"), true)
	}()
	waitFor(t, func() bool { return op.lastStream() != nil && op.lastStream().sentCount() == 1 })
	first := op.lastStream()

	// Break the stream and force a recreation through a second submit. The
	// durable waiter on generation 1 must resolve Failed without any
	// explicit failure callback.
	first.setHealthy(false)
	if _, _, err := m.Submit(context.Background(), "a", []byte("two"), false); err != nil {
		t.Fatalf("submit triggering recreation: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("durable waiter not resolved by generation invalidation")
	}
	if res != ResultUnacknowledged {
		t.Fatalf("want unacknowledged, got %v", res)
	}
}

func TestShutdownIdempotentAndBounded(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a", "b")
	if _, _, err := m.Submit(context.Background(), "a", []byte("x"), false); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	if _, _, err := m.Submit(context.Background(), "b", []byte("y"), false); err != nil {
		t.Fatalf("submit b: %v", err)
	}
	// Make one slot's flush fail; the other must still close cleanly.
	op.streams[0].flushErr = errors.New("flush stalled")

	start := time.Now()
	err := m.Shutdown(context.Background())
	if err == nil {
		t.Fatalf("want aggregated drain error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("shutdown did not stay bounded")
	}
	for _, ks := range m.Keys() {
		if ks.Status != StatusClosed {
			t.Fatalf("slot %q: want closed, got %v", ks.Key, ks.Status)
		}
	}
	// Idempotent: same outcome, no second drain.
	if err2 := m.Shutdown(context.Background()); !errors.Is(err2, err) && err2 == nil {
		t.Fatalf("second shutdown lost the outcome")
	}
	if _, _, err := m.Submit(context.Background(), "a", []byte("z"), false); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("submit after shutdown: want ErrManagerClosed, got %v", err)
	}
}

func TestShutdownBoundsStuckDrain(t *testing.T) {
	op := &fakeOpener{}
	dests := map[string]transport.DestinationConfig{"a": {Key: "a"}, "b": {Key: "b"}}
	m := New(Options{
		Opener:       op,
		Destinations: dests,
		Logger:       logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)),
		DrainTimeout: 50 * time.Millisecond,
	})
	if _, _, err := m.Submit(context.Background(), "a", []byte("x"), false); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	if _, _, err := m.Submit(context.Background(), "b", []byte("y"), false); err != nil {
		t.Fatalf("submit b: %v", err)
	}
	// One slot's flush never finishes on its own; the drain budget must cut
	// it off while the other slot closes cleanly.
	stuck := op.streams[0]
	stuck.mu.Lock()
	stuck.blockFlush = true
	stuck.mu.Unlock()

	start := time.Now()
	err := m.Shutdown(context.Background())
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("want drain error from the stuck slot")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline error from the stuck flush, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("shutdown outlived the drain budget: %v", elapsed)
	}
	for _, ks := range m.Keys() {
		if ks.Status != StatusClosed {
			t.Fatalf("slot %q: want closed, got %v", ks.Key, ks.Status)
		}
	}
}

func TestFlushReportsNoActiveStream(t *testing.T) {
	op := &fakeOpener{}
	m := newManagerForTest(t, op, "a")
	flushed, err := m.Flush(context.Background(), "a")
	if err != nil || flushed {
		t.Fatalf("want no-op flush, got flushed=%v err=%v", flushed, err)
	}
	if _, _, err := m.Submit(context.Background(), "a", []byte("x"), false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	flushed, err = m.Flush(context.Background(), "a")
	if err != nil || !flushed {
		t.Fatalf("want flush on live stream, got flushed=%v err=%v", flushed, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}
