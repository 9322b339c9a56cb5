package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rzbill/flume/internal/config"
	"github.com/rzbill/flume/internal/runtime"
	httpserver "github.com/rzbill/flume/internal/server/http"
	pebblestore "github.com/rzbill/flume/internal/storage/pebble"
	logpkg "github.com/rzbill/flume/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the ingestion gateway and blocks until ctx is cancelled. On
// shutdown it stops accepting requests, drains every destination stream,
// and only then closes storage.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that
	// pass plain contexts still get clean SIGTERM handling.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	// Build process-wide logger using env/ApplyConfig; defaults: level=info, format=text
	logCfg := &logpkg.Config{
		Level:  getenvDefault("FLUME_LOG_LEVEL", "info"),
		Format: getenvDefault("FLUME_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	hsrv, err := httpserver.New(rt)
	if err != nil {
		return err
	}

	procLogger.Info("Starting Flume gateway",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Int("destinations", len(opts.Config.Destinations)),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server error", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	// The HTTP server stops accepting first; then streams drain so records
	// already accepted still reach the remote.
	hsrv.Close()
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(),
		opts.Config.Defaults.DrainTimeout()+5*time.Second)
	defer cancel()
	if err := rt.Shutdown(drainCtx); err != nil {
		procLogger.Warn("shutdown drained with errors", logpkg.Err(err))
	}
	return nil
}
