package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kardianos/service"
	"go.uber.org/zap"

	"sdqueue/core"
	"sdqueue/db"
	"sdqueue/imagegen"
	"sdqueue/jobs"
	"sdqueue/logging"
	"sdqueue/metrics"
	"sdqueue/outputs"
	"sdqueue/preflight"
	"sdqueue/sdruntime"
	"sdqueue/settings"
	"sdqueue/shutdown"
	"sdqueue/webui"
	"sdqueue/worker"
)

// pruneInterval is how often expired archive rows are deleted.
const pruneInterval = time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "service" {
		os.Exit(serviceCommand(os.Args[2:]))
	}

	loadDotEnv()

	if !service.Interactive() {
		os.Exit(runService())
	}
	os.Exit(run(context.Background()))
}

// loadDotEnv reads .env from the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Use fmt here since logger isn't initialized yet
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}
}

// run starts every component and blocks until ctx is cancelled, a signal
// arrives or the HTTP server fails. It returns the process exit code.
func run(ctx context.Context) int {
	cfg, err := core.LoadServerConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n", err)
		return core.ExitCodeConfig
	}

	lg, err := logging.NewLogger(logging.Config{
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer lg.Sync()
	logger := lg.Named("main")

	rtCfg := runtimeConfig(cfg.SettingsPath)
	result := preflight.NewSuite().Run("sdqueue startup", preflight.StartupChecks(preflight.Inputs{
		Config:    cfg,
		ModelsDir: rtCfg.ModelsDir,
	}))
	if !result.Success {
		logger.Error("startup checks failed",
			zap.String("summary", result.Summary()),
			zap.Error(result.FirstError()))
		return core.ExitCodeConfig
	}
	logger.Info("startup checks passed", zap.String("summary", result.Summary()))

	logger.Info("configuration loaded",
		zap.String("addr", cfg.Addr()),
		zap.String("backend", cfg.Backend),
		zap.String("output_root", cfg.OutputRoot),
		zap.String("settings", cfg.SettingsPath),
		zap.String("db", cfg.DBPath),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
		zap.Int("history_limit", cfg.HistoryLimit),
		zap.Duration("generation_timeout", cfg.GenerationTimeout),
		zap.Bool("admin_auth", cfg.AdminPassword != ""),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	mgr := shutdown.NewManager(lg.Named("shutdown"), shutdown.WithTimeout(cfg.ShutdownTimeout))
	mgr.Start()
	mgr.Register("logger", 90, func(context.Context) error {
		// Sync on a console fd fails on some platforms; nothing to do about it.
		_ = lg.Sync()
		return nil
	})
	abort := func(msg string, err error) int {
		logger.Error(msg, zap.Error(err))
		_ = mgr.Shutdown()
		return core.ExitCodeError
	}

	store, err := outputs.NewStore(cfg.OutputRoot, lg.Named("outputs"))
	if err != nil {
		return abort("failed to open output store", err)
	}
	mgr.Register("temp-files", 45, shutdown.CleanupTempFiles(lg.Named("cleanup"), store.Root()))

	st, err := settings.Open(cfg.SettingsPath, store.Root(), lg.Named("settings"))
	if err != nil {
		return abort("failed to load settings", err)
	}

	stats := metrics.NewStore(metrics.StoreConfig{RecentCapacity: cfg.MetricsHistory}, time.Now())
	var (
		queueOpts = []jobs.Option{jobs.WithObserver(stats.Observe)}
		archive   *db.Archive
	)
	if cfg.ArchiveEnabled() {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return abort("failed to open job archive", err)
		}
		mgr.Register("database", 40, func(context.Context) error { return database.Close() })
		logger.Info("job archive opened",
			zap.String("path", database.Path()),
			zap.Duration("retention", cfg.ArchiveRetention))

		// Close can finish every pending job plus the running one at once.
		archive = db.NewArchive(database, cfg.MaxQueueSize+cfg.HistoryLimit+1, lg.Named("archive"))
		mgr.Register("archive-flush", 30, archive.Flush)
		queueOpts = append(queueOpts, jobs.WithObserver(archive.Observe))
		if cfg.ArchiveRetention > 0 {
			archive.StartPruning(mgr.Context(), cfg.ArchiveRetention, pruneInterval)
		}
	}

	backend, closeBackend, err := newBackend(cfg, rtCfg, lg)
	if err != nil {
		return abort("failed to create generation backend", err)
	}
	if closeBackend != nil {
		mgr.Register("sd-runtime", 40, closeBackend)
	}
	if cfg.Backend == imagegen.KindLocal && cfg.GPUMetricsInterval > 0 {
		gpu := metrics.NewGPUCollector(metrics.GPUCollectorConfig{Interval: cfg.GPUMetricsInterval},
			lg.Named("gpu"), stats.UpdateGPU)
		gpu.Start(mgr.Context())
		mgr.Register("gpu-metrics", 25, func(context.Context) error {
			gpu.Stop()
			return nil
		})
	}
	pipeline := imagegen.NewPipeline(backend, st, store, lg.Named("imagegen"))

	queue := jobs.NewQueue(jobs.QueueConfig{
		MaxPending:   cfg.MaxQueueSize,
		HistoryLimit: cfg.HistoryLimit,
	}, lg.Named("queue"), queueOpts...)

	w := worker.New(queue, pipeline, worker.Config{
		PollInterval: cfg.WorkerPoll,
		Timeout:      cfg.GenerationTimeout,
	}, lg.Named("worker"))
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go w.Run(workerCtx)

	mgr.Register("queue", 20, func(ctx context.Context) error {
		drained := queue.Close("server shutting down")
		stopWorker()
		select {
		case <-w.Stopped():
		case <-ctx.Done():
			return fmt.Errorf("worker did not stop: %w", ctx.Err())
		}
		logger.Info("queue closed", zap.Int("interrupted_pending", drained))
		return nil
	})

	deps := webui.Deps{
		Queue:    queue,
		Settings: st,
		Outputs:  store,
		Metrics:  stats,
		Tracker:  mgr.Tracker(),
	}
	if archive != nil {
		deps.Archive = archive
	}
	webCfg := webui.DefaultConfig()
	webCfg.Addr = cfg.Addr()
	webCfg.AdminPassword = cfg.AdminPassword
	webCfg.RateLimit = cfg.GenerateRateLimit
	webCfg.RateBurst = cfg.GenerateRateBurst
	webCfg.TrustProxy = cfg.TrustProxy

	server, err := webui.NewServer(webCfg, deps, lg.Named("http"))
	if err != nil {
		return abort("failed to create HTTP server", err)
	}
	mgr.Register("http-server", 10, server.Shutdown)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(context.Background())
	}()

	exitCode := core.ExitCodeSuccess
	select {
	case <-mgr.Context().Done():
	case <-ctx.Done():
		mgr.Trigger("service stop")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			exitCode = core.ExitCodeError
		}
		mgr.Trigger("http server exited")
	}

	if err := mgr.Shutdown(); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		if exitCode == core.ExitCodeSuccess {
			exitCode = core.ExitCodeError
		}
	}
	logger.Info("goodbye",
		zap.String("reason", mgr.Reason()),
		zap.String("exit", core.ExitCodeName(exitCode)))
	return exitCode
}

// runtimeConfig reads SD_* variables; settings model.cache_dir, when set,
// replaces the models directory. Changes to cache_dir apply on restart.
func runtimeConfig(settingsPath string) sdruntime.Config {
	rc := sdruntime.LoadConfig()
	s, err := settings.Load(settingsPath)
	if err != nil || s.Model.CacheDir == "" {
		return rc
	}
	rc.ModelsDir = s.Model.CacheDir
	if os.Getenv("SD_LORA_DIR") == "" {
		rc.LoRADir = filepath.Join(rc.ModelsDir, "lora")
	}
	return rc
}

// newBackend builds the configured generation backend. The returned close
// func is nil when the backend holds nothing to release.
func newBackend(cfg *core.ServerConfig, rtCfg sdruntime.Config, lg *logging.Logger) (imagegen.Backend, core.ShutdownFunc, error) {
	if err := imagegen.ValidKind(cfg.Backend); err != nil {
		return nil, nil, err
	}
	switch cfg.Backend {
	case imagegen.KindOpenAI:
		b, err := imagegen.NewOpenAIBackend(imagegen.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	case imagegen.KindPlaceholder:
		return &imagegen.PlaceholderBackend{}, nil, nil
	}

	rt := sdruntime.NewRuntime(rtCfg, lg.Named("sdruntime"))
	lg.Named("sdruntime").Info("local runtime configured",
		zap.String("models_dir", rtCfg.ModelsDir),
		zap.String("lora_dir", rtCfg.LoRADir),
		zap.Int("threads", rtCfg.Threads),
		zap.String("backend", sdruntime.BackendInfo()))
	return imagegen.NewLocalBackend(rt), func(context.Context) error { return rt.Close() }, nil
}
