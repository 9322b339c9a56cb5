package streammgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/flume/internal/transport"
	logpkg "github.com/rzbill/flume/pkg/log"
)

// Default bounds applied when Options leaves them zero.
const (
	DefaultOpenTimeout  = 15 * time.Second
	DefaultAckTimeout   = 30 * time.Second
	DefaultDrainTimeout = 10 * time.Second
)

// Options configures a Manager.
type Options struct {
	// Opener opens remote streams; required.
	Opener transport.Opener
	// Destinations maps every configured destination key to its connection
	// parameters. Keys outside this map are rejected as unknown.
	Destinations map[string]transport.DestinationConfig
	// Logger receives lifecycle events. Defaults to a component-tagged logger.
	Logger logpkg.Logger
	// OpenTimeout bounds one stream creation attempt.
	OpenTimeout time.Duration
	// AckTimeout bounds the wait of a durable submit.
	AckTimeout time.Duration
	// DrainTimeout bounds each slot's drain during Shutdown.
	DrainTimeout time.Duration
}

// Manager owns one slot per destination key: lazy creation, health-gated
// reuse, recovery with recreation, acknowledgment bookkeeping, and
// coordinated shutdown. It is safe for concurrent use by many
// request-handling goroutines.
type Manager struct {
	opener       transport.Opener
	dests        map[string]transport.DestinationConfig
	logger       logpkg.Logger
	openTimeout  time.Duration
	ackTimeout   time.Duration
	drainTimeout time.Duration

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a Manager. The destination map is copied; configuration is
// read-only after this point.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("streammgr"))
	}
	dests := make(map[string]transport.DestinationConfig, len(opts.Destinations))
	for k, v := range opts.Destinations {
		dests[k] = v
	}
	m := &Manager{
		opener:       opts.Opener,
		dests:        dests,
		logger:       logger,
		openTimeout:  opts.OpenTimeout,
		ackTimeout:   opts.AckTimeout,
		drainTimeout: opts.DrainTimeout,
		slots:        make(map[string]*slot),
	}
	if m.openTimeout <= 0 {
		m.openTimeout = DefaultOpenTimeout
	}
	if m.ackTimeout <= 0 {
		m.ackTimeout = DefaultAckTimeout
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = DefaultDrainTimeout
	}
	return m
}

// slotFor returns the slot for key, inserting it on first reference. The
// manager lock covers only the lookup-or-insert, never an open call.
func (m *Manager) slotFor(key string, dest transport.DestinationConfig) (*slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	s, ok := m.slots[key]
	if !ok {
		s = newSlot(key, dest, m.opener, m.logger, m.openTimeout)
		m.slots[key] = s
	}
	return s, nil
}

// Submit forwards one encoded record to the destination's stream. With
// durable=true it blocks until the remote acknowledgment arrives, the record
// fails, or the ack timeout elapses. A stale handle triggers one automatic
// creation+send retry; repeated failures surface to the caller, which owns
// any higher-level backoff.
func (m *Manager) Submit(ctx context.Context, key string, payload []byte, durable bool) (Result, uint64, error) {
	dest, ok := m.dests[key]
	if !ok {
		return ResultNone, 0, fmt.Errorf("%w: %q", ErrDestinationUnknown, key)
	}
	s, err := m.slotFor(key, dest)
	if err != nil {
		return ResultNone, 0, err
	}

	res, seq, err := m.trySend(ctx, s, payload, durable)
	if errors.Is(err, ErrSendRejected) {
		m.logger.Debug("retrying after stale handle", logpkg.Str("destination", key))
		res, seq, err = m.trySend(ctx, s, payload, durable)
	}
	return res, seq, err
}

func (m *Manager) trySend(ctx context.Context, s *slot, payload []byte, durable bool) (Result, uint64, error) {
	h, gen, err := s.acquireReady(ctx)
	if err != nil {
		return ResultNone, 0, err
	}
	return s.send(ctx, h, gen, payload, durable, m.ackTimeout)
}

// HealthOf reports the slot's current state without creating it. Keys never
// referenced (or not configured) report StatusUnknown.
func (m *Manager) HealthOf(key string) Status {
	m.mu.Lock()
	s, ok := m.slots[key]
	m.mu.Unlock()
	if !ok {
		return StatusUnknown
	}
	return s.currentStatus()
}

// Flush flushes the live stream for key if one exists. It reports whether a
// stream was there to flush.
func (m *Manager) Flush(ctx context.Context, key string) (bool, error) {
	if _, ok := m.dests[key]; !ok {
		return false, fmt.Errorf("%w: %q", ErrDestinationUnknown, key)
	}
	m.mu.Lock()
	s, ok := m.slots[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return s.flush(ctx)
}

// Keys returns every referenced destination key with its status, sorted.
func (m *Manager) Keys() []KeyStatus {
	m.mu.Lock()
	out := make([]KeyStatus, 0, len(m.slots))
	for k, s := range m.slots {
		out = append(out, KeyStatus{Key: k, Status: s.currentStatus()})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Shutdown drains and closes every slot concurrently, each bounded by the
// drain timeout. A slot that fails to drain is reported but never blocks the
// others. Idempotent: repeated calls return the first outcome.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		slots := make([]*slot, 0, len(m.slots))
		for _, s := range m.slots {
			slots = append(slots, s)
		}
		m.mu.Unlock()

		errCh := make(chan error, len(slots))
		var wg sync.WaitGroup
		for _, s := range slots {
			wg.Add(1)
			go func(s *slot) {
				defer wg.Done()
				dctx, cancel := context.WithTimeout(ctx, m.drainTimeout)
				defer cancel()
				if err := s.drainAndClose(dctx); err != nil {
					m.logger.Warn("slot drain incomplete", logpkg.Str("destination", s.key), logpkg.Err(err))
					errCh <- err
				}
			}(s)
		}
		wg.Wait()
		close(errCh)
		var errs []error
		for err := range errCh {
			errs = append(errs, err)
		}
		m.shutdownErr = errors.Join(errs...)
		m.logger.Info("stream manager shut down", logpkg.Int("slots", len(slots)), logpkg.Int("drain_errors", len(errs)))
	})
	return m.shutdownErr
}
