// Package journal keeps a per-destination record of delivery outcomes in
// Pebble: monotonic counters per outcome plus a bounded ring of recent
// entries for the inspection endpoints.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	pebblestore "github.com/rzbill/flume/internal/storage/pebble"
	"github.com/rzbill/flume/pkg/id"
	logpkg "github.com/rzbill/flume/pkg/log"
)

// Outcome names one terminal result of an ingest request.
type Outcome string

const (
	// OutcomeAccepted means the record was handed to the stream without
	// waiting for acknowledgment.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeDurable means the remote acknowledged the record.
	OutcomeDurable Outcome = "durable"
	// OutcomeFailed means delivery failed or the ack reported an error.
	OutcomeFailed Outcome = "failed"
	// OutcomeFiltered means the destination filter dropped the record.
	OutcomeFiltered Outcome = "filtered"
)

// Entry is one journaled outcome.
type Entry struct {
	ID      string  `json:"id"`
	Seq     uint64  `json:"seq,omitempty"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
	AtMs    int64   `json:"at_ms"`
}

// Stats aggregates a destination's counters.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Durable  uint64 `json:"durable"`
	Failed   uint64 `json:"failed"`
	Filtered uint64 `json:"filtered"`
}

// Total returns the number of journaled outcomes.
func (s Stats) Total() uint64 { return s.Accepted + s.Durable + s.Failed + s.Filtered }

// maxRecent bounds the per-destination entry ring. Trimming runs inline on
// Record once the ring overflows by half its size.
const (
	maxRecent  = 256
	trimSlack  = maxRecent / 2
	counterLen = 8
)

// Journal persists outcomes. Safe for concurrent use; writes are serialized
// so counter read-modify-write stays atomic within the process.
type Journal struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	gen    *id.Generator

	mu      sync.Mutex
	entries map[string]uint64 // per-destination live entry count
}

// New wraps db. The journal shares the database with the rest of the
// process; its keyspace is the "c|" and "j|" prefixes.
func New(db *pebblestore.DB, logger logpkg.Logger) *Journal {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Journal{
		db:      db,
		logger:  logger.WithComponent("journal"),
		gen:     id.NewGenerator(),
		entries: make(map[string]uint64),
	}
}

func counterKey(dest string, o Outcome) []byte {
	return []byte(fmt.Sprintf("c|%s|%s", dest, o))
}

func entryPrefix(dest string) []byte {
	return []byte("j|" + dest + "|")
}

// Record journals one outcome and bumps its counter. Storage errors are
// logged and returned but must not fail the ingest path; callers decide.
func (j *Journal) Record(dest string, seq uint64, outcome Outcome, cause error) error {
	eid := j.gen.Next()
	e := Entry{
		ID:      eid.String(),
		Seq:     seq,
		Outcome: outcome,
		AtMs:    eid.TimeMs(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	count, err := j.counter(dest, outcome)
	if err != nil {
		return err
	}

	b := j.db.NewBatch()
	defer b.Close()
	var cnt [counterLen]byte
	binary.BigEndian.PutUint64(cnt[:], count+1)
	if err := b.Set(counterKey(dest, outcome), cnt[:], nil); err != nil {
		return err
	}
	key := append(entryPrefix(dest), eid.Bytes()...)
	if err := b.Set(key, val, nil); err != nil {
		return err
	}
	if err := j.db.CommitBatch(b); err != nil {
		j.logger.Warn("journal write failed", logpkg.Str("destination", dest), logpkg.Err(err))
		return err
	}

	j.entries[dest]++
	if j.entries[dest] > maxRecent+trimSlack {
		j.trimLocked(dest)
	}
	return nil
}

// Stats returns the destination's counters. A destination with no history
// returns zeroes.
func (j *Journal) Stats(dest string) (Stats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var s Stats
	for _, pair := range []struct {
		o Outcome
		p *uint64
	}{
		{OutcomeAccepted, &s.Accepted},
		{OutcomeDurable, &s.Durable},
		{OutcomeFailed, &s.Failed},
		{OutcomeFiltered, &s.Filtered},
	} {
		n, err := j.counter(dest, pair.o)
		if err != nil {
			return Stats{}, err
		}
		*pair.p = n
	}
	return s, nil
}

// Recent returns up to limit entries for dest, newest last.
func (j *Journal) Recent(dest string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	var out []Entry
	err := j.db.ScanPrefix(entryPrefix(dest), func(_, v []byte) bool {
		var e Entry
		if err := json.Unmarshal(v, &e); err == nil {
			out = append(out, e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// counter reads one counter value; absent counters are zero. Caller holds mu.
func (j *Journal) counter(dest string, o Outcome) (uint64, error) {
	v, err := j.db.Get(counterKey(dest, o))
	if err != nil {
		return 0, nil // not found or unreadable reads as zero
	}
	if len(v) != counterLen {
		return 0, fmt.Errorf("journal: corrupt counter for %s/%s", dest, o)
	}
	return binary.BigEndian.Uint64(v), nil
}

// trimLocked deletes the oldest entries beyond maxRecent. Caller holds mu.
func (j *Journal) trimLocked(dest string) {
	excess := int(j.entries[dest]) - maxRecent
	if excess <= 0 {
		return
	}
	var last []byte
	n := 0
	_ = j.db.ScanPrefix(entryPrefix(dest), func(k, _ []byte) bool {
		last = append(last[:0], k...)
		n++
		return n < excess
	})
	if n == 0 {
		return
	}
	b := j.db.NewBatch()
	defer b.Close()
	// DeleteRange upper bound is exclusive; bump the last key by one byte.
	if err := b.DeleteRange(entryPrefix(dest), append(last, 0x00), nil); err != nil {
		return
	}
	if err := j.db.CommitBatch(b); err != nil {
		j.logger.Warn("journal trim failed", logpkg.Str("destination", dest), logpkg.Err(err))
		return
	}
	j.entries[dest] -= uint64(n)
}
