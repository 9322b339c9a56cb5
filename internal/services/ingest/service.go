package ingestsvc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	cfgpkg "github.com/rzbill/flume/internal/config"
	"github.com/rzbill/flume/internal/encoding"
	"github.com/rzbill/flume/internal/filter"
	"github.com/rzbill/flume/internal/journal"
	"github.com/rzbill/flume/internal/runtime"
	"github.com/rzbill/flume/internal/schema"
	"github.com/rzbill/flume/internal/streammgr"
	logpkg "github.com/rzbill/flume/pkg/log"
)

// Service runs the ingest pipeline for every configured destination:
// validate the body, apply the destination filter, encode the record, and
// hand it to the stream manager. Terminal outcomes land in the journal.
type Service struct {
	rt        *runtime.Runtime
	logger    logpkg.Logger
	pipelines map[string]*pipeline
}

// pipeline bundles the per-destination processing stages built at startup.
type pipeline struct {
	dest      cfgpkg.Destination
	validator *schema.Validator
	encoder   *encoding.Encoder
	filter    filter.Filter
	durable   bool
}

// ErrFiltered reports that the destination filter dropped the record.
var ErrFiltered = errors.New("record filtered")

// ValidationError wraps a request body rejection so controllers can map it
// to a client error.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Result describes one accepted ingest.
type Result struct {
	Key     string
	Seq     uint64
	Durable bool
	Outcome journal.Outcome
}

// New builds the pipelines from the runtime configuration. A destination
// whose schema, descriptor, or filter cannot be built fails startup.
func New(rt *runtime.Runtime) (*Service, error) {
	cfg := rt.Config()
	s := &Service{
		rt:        rt,
		logger:    rt.Logger().WithComponent("ingest"),
		pipelines: make(map[string]*pipeline, len(cfg.Destinations)),
	}
	for _, d := range cfg.Destinations {
		fields := make([]encoding.Field, len(d.Fields))
		for i, f := range d.Fields {
			fields[i] = encoding.Field{Name: f.Name, Type: f.Type}
		}
		v, err := schema.NewValidator(d.Key, fields)
		if err != nil {
			return nil, err
		}
		enc, err := encoding.NewEncoder(d.MessageName, fields)
		if err != nil {
			return nil, err
		}
		flt, err := filter.New(d.Filter)
		if err != nil {
			return nil, fmt.Errorf("ingest: destination %q: compile filter: %w", d.Key, err)
		}
		s.pipelines[d.Key] = &pipeline{
			dest:      d,
			validator: v,
			encoder:   enc,
			filter:    flt,
			durable:   cfg.DurableFor(d),
		}
	}
	return s, nil
}

// Ingest processes one record for the destination key. wait overrides the
// destination's durability default when non-nil. A nil error means the
// record reached the stream; Result.Outcome says how far it got.
func (s *Service) Ingest(ctx context.Context, key string, body []byte, wait *bool) (Result, error) {
	p, ok := s.pipelines[key]
	if !ok {
		return Result{}, streammgr.ErrDestinationUnknown
	}
	obj, err := p.validator.Validate(body)
	if err != nil {
		return Result{}, &ValidationError{Err: err}
	}
	if !p.filter.Eval(key, obj) {
		_ = s.rt.Journal().Record(key, 0, journal.OutcomeFiltered, nil)
		return Result{}, ErrFiltered
	}
	payload, err := p.encoder.Encode(obj)
	if err != nil {
		return Result{}, &ValidationError{Err: err}
	}

	durable := p.durable
	if wait != nil {
		durable = *wait
	}
	res, seq, err := s.rt.Manager().Submit(ctx, key, payload, durable)
	if err != nil {
		_ = s.rt.Journal().Record(key, seq, journal.OutcomeFailed, err)
		return Result{}, err
	}
	outcome := journal.OutcomeAccepted
	if res == streammgr.ResultDurable {
		outcome = journal.OutcomeDurable
	}
	if jerr := s.rt.Journal().Record(key, seq, outcome, nil); jerr != nil {
		s.logger.Warn("journal record failed", logpkg.Str("destination", key), logpkg.Err(jerr))
	}
	return Result{Key: key, Seq: seq, Durable: res == streammgr.ResultDurable, Outcome: outcome}, nil
}

// Flush forces the destination's stream to deliver everything outstanding.
// The bool reports whether a live stream existed.
func (s *Service) Flush(ctx context.Context, key string) (bool, error) {
	if _, ok := s.pipelines[key]; !ok {
		return false, streammgr.ErrDestinationUnknown
	}
	return s.rt.Manager().Flush(ctx, key)
}

// Health returns the stream status for one destination key.
func (s *Service) Health(key string) (streammgr.Status, error) {
	if _, ok := s.pipelines[key]; !ok {
		return streammgr.StatusUnknown, streammgr.ErrDestinationUnknown
	}
	return s.rt.Manager().HealthOf(key), nil
}

// HealthAll returns every configured destination's status, sorted by key.
// Destinations never referenced report StatusUnknown.
func (s *Service) HealthAll() []streammgr.KeyStatus {
	statuses := make(map[string]streammgr.Status, len(s.pipelines))
	for _, ks := range s.rt.Manager().Keys() {
		statuses[ks.Key] = ks.Status
	}
	out := make([]streammgr.KeyStatus, 0, len(s.pipelines))
	for key := range s.pipelines {
		out = append(out, streammgr.KeyStatus{Key: key, Status: statuses[key]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats returns the journal counters for one destination.
func (s *Service) Stats(key string) (journal.Stats, error) {
	if _, ok := s.pipelines[key]; !ok {
		return journal.Stats{}, streammgr.ErrDestinationUnknown
	}
	return s.rt.Journal().Stats(key)
}

// Recent returns the most recent journaled outcomes for one destination.
func (s *Service) Recent(key string, limit int) ([]journal.Entry, error) {
	if _, ok := s.pipelines[key]; !ok {
		return nil, streammgr.ErrDestinationUnknown
	}
	return s.rt.Journal().Recent(key, limit)
}

// Destinations lists the configured destination keys with their tables.
func (s *Service) Destinations() []cfgpkg.Destination {
	return s.rt.Config().Destinations
}
