package serverrun

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/orderpipe/orderpipe/internal/config"
	"github.com/orderpipe/orderpipe/internal/runtime"
	httpserver "github.com/orderpipe/orderpipe/internal/server/http"
	pebblestore "github.com/orderpipe/orderpipe/internal/storage/pebble"
	logpkg "github.com/orderpipe/orderpipe/pkg/log"
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

// Run starts the HTTP server and the order consumer and blocks until ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context. We layer
	// a local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	level, err := logpkg.ParseLevel(getenvDefault("ORDERPIPE_LOG_LEVEL", opts.Config.LogLevel))
	if err != nil {
		level = logpkg.InfoLevel
	}
	procLogger := logpkg.New(logpkg.Options{Level: level, JSON: opts.Config.LogJSON})

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

	procLogger.Info("starting orderpipe server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", storeDir),
		logpkg.Str("consumer_queue", opts.Config.Consumer.Queue),
	)

	hsrv := httpserver.New(rt)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			log.Printf("http error: %v", err)
		}
	}()

	if c := rt.Consumer(); c != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(sctx); err != nil && sctx.Err() == nil {
				log.Printf("consumer error: %v", err)
			}
		}()
	}

	<-sctx.Done()
	// Shut the server down before closing the runtime/DB to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}
