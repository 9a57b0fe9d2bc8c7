// Command nvrd is the NVR control-plane daemon (spec.md OVERVIEW): it
// opens the Store, wires up the Stream Controller, Motion Poller,
// Movement Tracker, Disk Janitor and Detection Worker behind a single
// Control Loop, and serves the Web Surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nvr/config"
	"nvr/internal/camera"
	"nvr/internal/control"
	"nvr/internal/detect"
	"nvr/internal/events"
	"nvr/internal/janitor"
	"nvr/internal/logging"
	"nvr/internal/model"
	"nvr/internal/motion"
	"nvr/internal/movement"
	"nvr/internal/store"
	"nvr/internal/stream"
	"nvr/internal/supervisor"
	"nvr/internal/web"
)

func main() {
	configPath := flag.String("config", "config/app.yaml", "path to the bootstrap config file")
	ffmpegPath := flag.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	mlBin := flag.String("ml-bin", "", "path to the detection worker subprocess binary (empty disables detection)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(log)

	if err := run(cfg, *ffmpegPath, *mlBin, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, ffmpegPath, mlBin string, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.Bootstrap.DiskBaseDir, 0o755); err != nil {
		return fmt.Errorf("creating disk base dir: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	repo := store.NewRepo(st)

	if _, err := st.Get(store.NamespaceSettings, "config"); errors.Is(err, store.ErrNotFound) {
		seed := model.DefaultSettings(cfg.Bootstrap.DiskBaseDir)
		seed.DetectionFramesPath = cfg.Bootstrap.DetectionFramesPath
		if err := repo.PutSettings(seed); err != nil {
			return fmt.Errorf("seeding settings: %w", err)
		}
		log.Info("seeded default settings", "disk_base_dir", seed.DiskBaseDir)
	} else if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	sup := supervisor.New(log)
	cache := camera.NewCache()
	bus := events.New(log)
	streams := stream.New(sup, log)
	poller := motion.New(log)
	jan := janitor.New(repo, log)

	settingsFn := func() model.Settings {
		s, err := repo.GetSettings(cfg.Bootstrap.DiskBaseDir)
		if err != nil {
			log.Error("loading settings", "error", err)
			return model.DefaultSettings(cfg.Bootstrap.DiskBaseDir)
		}
		return s
	}

	publisher := &serverPublisherBridge{}
	tracker := movement.New(repo, publisher, nil, log)

	var worker *detect.Worker
	if mlBin != "" {
		worker = detect.New(repo, publisher, control.MakeExtractFn(sup, ffmpegPath, settingsFn), repo.GetCamera, log, mlBin, nil)
		if settings := settingsFn(); settings.MLRestartSchedule != "" {
			sched, err := detect.ParseRestartSchedule(settings.MLRestartSchedule)
			if err != nil {
				log.Warn("invalid ml_restart_schedule, ignoring", "value", settings.MLRestartSchedule, "error", err)
			} else {
				worker.SetSchedule(sched)
			}
		}
		tracker = movement.New(repo, publisher, worker, log)
	}

	loop := control.New(control.Deps{
		Repo:       repo,
		Cache:      cache,
		Supervisor: sup,
		Streams:    streams,
		Poller:     poller,
		Tracker:    tracker,
		Janitor:    jan,
		Worker:     worker,
		Log:        log,
		FFmpegPath: ffmpegPath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := false
	srv := web.NewServer(web.Config{
		Repo:       repo,
		Bus:        bus,
		Streams:    streams,
		Janitor:    jan,
		Worker:     worker,
		Cache:      cache,
		Supervisor: sup,
		Log:        log,
		FFmpegPath: ffmpegPath,
		Ready:      func() bool { return ready },
	})
	publisher.target = srv

	if worker != nil {
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("starting detection worker: %w", err)
		}
	}

	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: srv.Router(),
	}

	go func() {
		ready = true
		log.Info("listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server exited", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")
	ready = false

	settings := settingsFn()
	shutdownTimeout := time.Duration(settings.ShutdownTimeoutMs) * time.Millisecond
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}

	cancel()
	select {
	case <-loopDone:
	case <-time.After(shutdownTimeout):
		log.Warn("control loop did not stop within shutdown timeout")
	}
	sup.Shutdown(shutdownTimeout)
	bus.Drain()
	if worker != nil {
		worker.Stop()
	}

	log.Info("shutdown complete")
	return nil
}

// serverPublisherBridge lets the Tracker/Worker be constructed before
// the Server (which implements movement.Publisher/detect.Publisher)
// exists, by forwarding once target is set.
type serverPublisherBridge struct {
	target interface {
		Publish(t model.SSEEventType, m *model.Movement)
	}
}

func (b *serverPublisherBridge) Publish(t model.SSEEventType, m *model.Movement) {
	if b.target != nil {
		b.target.Publish(t, m)
	}
}
