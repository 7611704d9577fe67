package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/docintel/internal/config"
	"github.com/efebarandurmaz/docintel/internal/inbox"
	"github.com/efebarandurmaz/docintel/internal/ingest"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/server"
	"github.com/efebarandurmaz/docintel/internal/service"
	"github.com/efebarandurmaz/docintel/internal/temporal"
)

// app is the long-running part shared by serve and watch: the service,
// its scheduler and the shutdown sequence that tears them down.
type app struct {
	cfg       *config.Config
	svc       *service.Service
	scheduler ingest.Scheduler
	temporal  client.Client
	shutdown  *server.ShutdownHandler
}

func startApp(ctx context.Context, cfg *config.Config) (*app, error) {
	rt := &app{
		cfg: cfg,
		shutdown: server.NewShutdownHandler(&server.ShutdownConfig{
			Timeout: cfg.Server.ShutdownTimeout,
			Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		}),
	}

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "docintel",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	rt.shutdown.Register(server.TracingHook(tp.Shutdown))

	rt.svc, err = service.Open(ctx, cfg)
	if err != nil {
		tp.Shutdown(ctx)
		return nil, err
	}
	rt.shutdown.Register(server.ServiceHook(rt.svc.Close))

	switch cfg.Ingest.Scheduler {
	case "temporal":
		c, err := temporal.Dial(cfg.Temporal.Host, cfg.Temporal.Namespace)
		if err != nil {
			rt.abort()
			return nil, err
		}
		w, err := temporal.StartWorker(c, cfg.Temporal.TaskQueue, rt.svc.Orchestrator)
		if err != nil {
			c.Close()
			rt.abort()
			return nil, err
		}
		rt.shutdown.Register(server.TemporalWorkerHook(func() {
			w.Stop()
			c.Close()
		}))
		rt.temporal = c
		rt.scheduler = temporal.NewScheduler(c, cfg.Temporal.TaskQueue)
		slog.Info("Ingestion scheduled on Temporal", "host", cfg.Temporal.Host, "task_queue", cfg.Temporal.TaskQueue)
	default:
		pool := ingest.NewPool(rt.svc.Orchestrator, cfg.Ingest.Workers, cfg.Ingest.QueueSize, rt.svc.Metrics)
		rt.shutdown.Register(server.IngestPoolHook(pool.Close))
		rt.scheduler = pool
		slog.Info("Ingestion scheduled on worker pool", "workers", cfg.Ingest.Workers, "queue_size", cfg.Ingest.QueueSize)
	}

	return rt, nil
}

// abort releases what startApp opened before it failed.
func (rt *app) abort() {
	rt.shutdown.Start()
	rt.shutdown.Shutdown()
	rt.shutdown.Wait()
}

func (rt *app) startInbox(ctx context.Context, dir string) error {
	w := inbox.New(dir, rt.scheduler, inbox.WithDebounce(rt.cfg.Inbox.Debounce))
	if err := w.Start(ctx); err != nil {
		return err
	}
	rt.shutdown.Register(server.InboxWatcherHook(w.Close))
	return nil
}

func runServe(configPath, addr string, watch bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	ctx := context.Background()
	rt, err := startApp(ctx, cfg)
	if err != nil {
		return err
	}

	api := server.New(rt.svc, rt.scheduler, version)
	if rt.temporal != nil {
		c := rt.temporal
		api.Health().RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
			_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}))
	}
	rt.shutdown.Register(server.HTTPServerHook(api.Shutdown))

	if watch {
		if err := rt.startInbox(ctx, cfg.Inbox.Dir); err != nil {
			rt.abort()
			return err
		}
	}

	rt.shutdown.Start()
	errCh := make(chan error, 1)
	go func() { errCh <- api.ListenAndServe() }()
	api.Health().SetReady(true)

	select {
	case err = <-errCh:
		rt.shutdown.Shutdown()
		rt.shutdown.Wait()
	case <-rt.shutdown.Done():
	}
	if err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}

func runWatch(configPath, dir string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dir != "" {
		cfg.Inbox.Dir = dir
	}

	ctx := context.Background()
	rt, err := startApp(ctx, cfg)
	if err != nil {
		return err
	}
	if err := rt.startInbox(ctx, cfg.Inbox.Dir); err != nil {
		rt.abort()
		return err
	}

	rt.shutdown.Start()
	rt.shutdown.Wait()
	slog.Info("Inbox watcher stopped")
	return nil
}
