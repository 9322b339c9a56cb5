package ingestsvc

import (
	"context"
	"errors"
	"sync"
	"testing"

	cfgpkg "github.com/rzbill/flume/internal/config"
	"github.com/rzbill/flume/internal/journal"
	"github.com/rzbill/flume/internal/runtime"
	pebblestore "github.com/rzbill/flume/internal/storage/pebble"
	"github.com/rzbill/flume/internal/streammgr"
	"github.com/rzbill/flume/internal/transport"
)

// ackingStream acks every send immediately.
type ackingStream struct {
	acks transport.AckHandler

	mu   sync.Mutex
	sent [][]byte
}

func (s *ackingStream) Send(_ context.Context, seq uint64, payload []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, append([]byte(nil), payload...))
	s.mu.Unlock()
	go s.acks.OnAck(seq)
	return nil
}

func (s *ackingStream) Flush(context.Context) error { return nil }
func (s *ackingStream) Close() error                { return nil }
func (s *ackingStream) Probe() bool                 { return true }

type ackingOpener struct {
	mu      sync.Mutex
	streams map[string]*ackingStream
	openErr error
}

func (o *ackingOpener) Open(_ context.Context, cfg transport.DestinationConfig, acks transport.AckHandler) (transport.RemoteStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	st := &ackingStream{acks: acks}
	if o.streams == nil {
		o.streams = map[string]*ackingStream{}
	}
	o.streams[cfg.Key] = st
	return st, nil
}

func testRuntime(t *testing.T, op transport.Opener) *runtime.Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Remote.Endpoint = "ingest.example.com:443"
	cfg.Destinations = []cfgpkg.Destination{
		{
			Key:         "orders",
			Table:       "main.ingest.orders",
			MessageName: "Orders",
			Fields: []cfgpkg.Field{
				{Name: "id", Type: "string"},
				{Name: "qty", Type: "int64"},
			},
			Filter: "record.qty > 0",
		},
		{
			Key:         "refunds",
			Table:       "main.ingest.refunds",
			MessageName: "Refunds",
			Fields:      []cfgpkg.Field{{Name: "id", Type: "string"}},
		},
	}
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
		Opener:  op,
	})
	if err != nil {
		t.Fatalf("runtime open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func newTestService(t *testing.T, op transport.Opener) *Service {
	t.Helper()
	svc, err := New(testRuntime(t, op))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestIngestDurable(t *testing.T) {
	op := &ackingOpener{}
	svc := newTestService(t, op)

	res, err := svc.Ingest(context.Background(), "orders", []byte(`{"id":"o-1","qty":2}`), nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Durable || res.Seq != 1 || res.Outcome != journal.OutcomeDurable {
		t.Fatalf("result = %+v", res)
	}
	op.mu.Lock()
	st := op.streams["orders"]
	op.mu.Unlock()
	if st == nil || len(st.sent) != 1 {
		t.Fatalf("record never reached the stream")
	}

	stats, err := svc.Stats("orders")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Durable != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestIngestWaitOverride(t *testing.T) {
	svc := newTestService(t, &ackingOpener{})

	noWait := false
	res, err := svc.Ingest(context.Background(), "orders", []byte(`{"id":"o-1","qty":2}`), &noWait)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Durable || res.Outcome != journal.OutcomeAccepted {
		t.Fatalf("result = %+v", res)
	}
}

func TestIngestUnknownKey(t *testing.T) {
	svc := newTestService(t, &ackingOpener{})
	_, err := svc.Ingest(context.Background(), "nope", []byte(`{}`), nil)
	if !errors.Is(err, streammgr.ErrDestinationUnknown) {
		t.Fatalf("want ErrDestinationUnknown, got %v", err)
	}
}

func TestIngestValidationError(t *testing.T) {
	svc := newTestService(t, &ackingOpener{})
	_, err := svc.Ingest(context.Background(), "orders", []byte(`{"id":"o-1"}`), nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestIngestFiltered(t *testing.T) {
	svc := newTestService(t, &ackingOpener{})
	_, err := svc.Ingest(context.Background(), "orders", []byte(`{"id":"o-1","qty":0}`), nil)
	if !errors.Is(err, ErrFiltered) {
		t.Fatalf("want ErrFiltered, got %v", err)
	}
	stats, err := svc.Stats("orders")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Filtered != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestIngestFailureJournaled(t *testing.T) {
	op := &ackingOpener{openErr: errors.New("endpoint down")}
	svc := newTestService(t, op)

	_, err := svc.Ingest(context.Background(), "refunds", []byte(`{"id":"r-1"}`), nil)
	if !errors.Is(err, streammgr.ErrDestinationUnavailable) {
		t.Fatalf("want ErrDestinationUnavailable, got %v", err)
	}
	stats, err := svc.Stats("refunds")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	recent, err := svc.Recent("refunds", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Outcome != journal.OutcomeFailed || recent[0].Error == "" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestHealthAllListsConfiguredDestinations(t *testing.T) {
	svc := newTestService(t, &ackingOpener{})

	all := svc.HealthAll()
	if len(all) != 2 || all[0].Key != "orders" || all[1].Key != "refunds" {
		t.Fatalf("health all = %+v", all)
	}
	for _, ks := range all {
		if ks.Status != streammgr.StatusUnknown {
			t.Fatalf("untouched destination status = %v", ks.Status)
		}
	}

	if _, err := svc.Ingest(context.Background(), "orders", []byte(`{"id":"o-1","qty":2}`), nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	st, err := svc.Health("orders")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if st != streammgr.StatusReady {
		t.Fatalf("orders status = %v", st)
	}
}
