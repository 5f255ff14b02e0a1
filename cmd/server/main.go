package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/entities"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/observerproto"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/pipeline"
	"voxelstream.ai/internal/provider"
	"voxelstream.ai/internal/transport/observer"
	"voxelstream.ai/internal/tuning"
	"voxelstream.ai/internal/viewers"
	"voxelstream.ai/internal/worldgen"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/stream.yaml", "path to stream.yaml (empty for defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.Int64("seed", 0, "override worldgen.seed (0 keeps the configured seed)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		tune, _ = tuning.Load("")
	}
	if *seed != 0 {
		tune.Worldgen.Seed = *seed
	}
	deadlock.Opts.Disable = !tune.Debug.DeadlockDetection
	if tune.Debug.DeadlockTimeoutMs > 0 {
		deadlock.Opts.DeadlockTimeout = time.Duration(tune.Debug.DeadlockTimeoutMs) * time.Millisecond
	}
	deadlock.Opts.LogBuf = os.Stderr

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newApp(ctx, tune, *dataDir, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer rt.close()

	if err := rt.provider.Start(); err != nil {
		logger.Fatalf("start provider: %v", err)
	}

	mux := http.NewServeMux()
	rt.routes(mux)
	if envBool("VS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VS_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := rt.provider.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Printf("listening on %s (storage=%s)", *addr, rt.backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}
}

// app owns everything main wires together.
type app struct {
	tune    tuning.Tuning
	logger  *log.Logger
	backend string

	registry *chunks.Registry
	storage  chunkStorage
	entities *entities.Store
	eventLog *persistlog.EventLogger
	observer *observer.Server
	counters *pipeline.Counters
	viewers  *viewers.Registry
	provider *provider.Provider
}

func newApp(ctx context.Context, tune tuning.Tuning, dataDir string, logger *log.Logger) (*app, error) {
	rt := &app{
		tune:     tune,
		logger:   logger,
		entities: entities.NewStore(),
		counters: &pipeline.Counters{},
		viewers:  viewers.NewRegistry(),
	}

	reg, err := tune.Registry()
	if err != nil {
		return nil, err
	}
	rt.registry = reg
	gen, err := worldgen.New(tune.WorldgenConfig(), reg)
	if err != nil {
		return nil, err
	}

	rt.storage, rt.backend, err = openStorage(ctx, tune, dataDir, logger)
	if err != nil {
		return nil, err
	}

	bus := events.Fanout{}
	if tune.EventLog.Enabled {
		dir := tune.EventLog.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(dataDir, dir)
		}
		rt.eventLog = persistlog.NewEventLogger(dir, tune.EventLog.Queue)
		bus = append(bus, rt.eventLog)
	}
	rt.observer = observer.NewServer(rt.bootstrap, logger)
	bus = append(bus, rt.observer)

	cfg := tune.ProviderConfig()
	cfg.Registry = reg
	cfg.Generator = gen
	cfg.Storage = rt.storage
	cfg.Entities = rt.entities
	cfg.Events = bus
	cfg.Observer = rt.counters
	cfg.Logger = log.New(logger.Writer(), "[provider] ", logger.Flags())
	p, err := provider.New(cfg)
	if err != nil {
		_ = rt.storage.Close()
		return nil, err
	}
	rt.provider = p
	return rt, nil
}

func (rt *app) bootstrap() observerproto.BootstrapResponse {
	st := rt.provider.Stats()
	var palette []string
	for _, d := range rt.registry.Defs() {
		palette = append(palette, d.Name)
	}
	return observerproto.BootstrapResponse{
		Tick: st.Tick,
		WorldParams: observerproto.WorldParams{
			TickRateHz: rt.tune.TickRateHz,
			ChunkSize:  [3]int{chunks.SizeX, chunks.SizeY, chunks.SizeZ},
			Seed:       rt.tune.Worldgen.Seed,
			Resident:   st.Resident,
			Viewers:    st.Viewers,
		},
		BlockPalette: palette,
	}
}

func (rt *app) close() {
	if err := rt.provider.Dispose(); err != nil {
		rt.logger.Printf("dispose: %v", err)
	}
	if err := rt.storage.Close(); err != nil {
		rt.logger.Printf("close storage: %v", err)
	}
	if rt.eventLog != nil {
		if err := rt.eventLog.Close(); err != nil {
			rt.logger.Printf("close event log: %v", err)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	switch strings.ToLower(v) {
	case "":
		return def
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return def
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
