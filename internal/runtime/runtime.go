package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/rzbill/flume/internal/config"
	"github.com/rzbill/flume/internal/encoding"
	"github.com/rzbill/flume/internal/journal"
	pebblestore "github.com/rzbill/flume/internal/storage/pebble"
	"github.com/rzbill/flume/internal/streammgr"
	"github.com/rzbill/flume/internal/transport"
	"github.com/rzbill/flume/internal/transport/grpcstream"
	logpkg "github.com/rzbill/flume/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Opener overrides the gRPC stream opener. Tests inject fakes here.
	Opener transport.Opener
	Logger logpkg.Logger
}

// Runtime wires storage, the delivery journal, and the stream manager for a
// single-node instance.
type Runtime struct {
	config  cfgpkg.Config
	logger  logpkg.Logger
	db      *pebblestore.DB
	journal *journal.Journal
	mgr     *streammgr.Manager
}

// Open initializes storage and the stream manager and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	opener := opts.Opener
	if opener == nil {
		opener = grpcstream.NewOpener(logger)
	}
	mgr := streammgr.New(streammgr.Options{
		Opener:       opener,
		Destinations: destinationConfigs(opts.Config),
		Logger:       logger,
		OpenTimeout:  opts.Config.Defaults.OpenTimeout(),
		AckTimeout:   opts.Config.Defaults.AckTimeout(),
		DrainTimeout: opts.Config.Defaults.DrainTimeout(),
	})
	return &Runtime{
		config:  opts.Config,
		logger:  logger,
		db:      db,
		journal: journal.New(db, logger),
		mgr:     mgr,
	}, nil
}

// destinationConfigs maps the declared destinations onto transport configs.
func destinationConfigs(cfg cfgpkg.Config) map[string]transport.DestinationConfig {
	out := make(map[string]transport.DestinationConfig, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		out[d.Key] = transport.DestinationConfig{
			Key:          d.Key,
			Endpoint:     cfg.EndpointFor(d),
			Table:        d.Table,
			Descriptor:   encoding.FullName(d.MessageName),
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
			MaxInflight:  cfg.Defaults.MaxInflight,
		}
	}
	return out
}

// Shutdown drains every destination stream and rejects further submits.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.mgr.Shutdown(ctx)
}

// Close closes underlying resources. Call Shutdown first to drain streams.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	return r.db.ScanPrefix([]byte("c|"), func(_, _ []byte) bool { return false })
}

// Manager returns the stream lifecycle manager.
func (r *Runtime) Manager() *streammgr.Manager { return r.mgr }

// Journal returns the delivery journal.
func (r *Runtime) Journal() *journal.Journal { return r.journal }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the process logger.
func (r *Runtime) Logger() logpkg.Logger { return r.logger }
