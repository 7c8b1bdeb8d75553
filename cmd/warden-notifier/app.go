package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wardensec/agent/internal/audit"
	"github.com/wardensec/agent/internal/broadcast"
	"github.com/wardensec/agent/internal/bundle"
	"github.com/wardensec/agent/internal/config"
	"github.com/wardensec/agent/internal/daemonlink"
	"github.com/wardensec/agent/internal/logging"
	"github.com/wardensec/agent/internal/notifier"
	"github.com/wardensec/agent/internal/push"
	"github.com/wardensec/agent/internal/silence"
	"github.com/wardensec/agent/internal/surface"
	"github.com/wardensec/agent/internal/syncclient"
	"github.com/wardensec/agent/internal/workerpool"
)

var log = logging.L("main")

// queueProxy breaks the construction cycle between the daemon link (which
// enqueues) and the queue (whose bundle syncer is the daemon link).
type queueProxy struct {
	q *notifier.Queue
}

func (p *queueProxy) Enqueue(req *notifier.Request) {
	p.q.Enqueue(req)
}

// app owns the wired component graph for one notifier process.
type app struct {
	cfg *config.Config

	logWriter   *logging.RotatingWriter
	store       *silence.Store
	pool        *workerpool.Pool
	queue       *notifier.Queue
	link        *daemonlink.Client
	coordinator *push.Coordinator
	registrar   *push.WSRegistrar
	trail       *audit.Logger
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logWriter, err := logging.NewRotatingWriter(
		filepath.Join(cfg.GetDataDir(), "notifier.log"),
		cfg.LogMaxSizeMB, cfg.LogMaxBackups,
	)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logging.TeeWriter(os.Stderr, logWriter))

	store, err := silence.Open(cfg.GetDataDir())
	if err != nil {
		logWriter.Close()
		return nil, fmt.Errorf("open silence store: %w", err)
	}

	pool := workerpool.New(4, 64)

	trail, err := audit.NewLogger(cfg.GetDataDir(), cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
	if err != nil {
		log.Warn("audit trail unavailable", "error", err)
		trail = nil
	}

	var bundles notifier.BundleStarter
	if cfg.BundleHashingEnabled {
		bundles = bundle.New(cfg.BundleSocketPath)
	}

	coordinator, registrar := buildPush(cfg)

	a := &app{
		cfg:         cfg,
		logWriter:   logWriter,
		store:       store,
		pool:        pool,
		coordinator: coordinator,
		registrar:   registrar,
		trail:       trail,
	}

	proxy := &queueProxy{}
	announcer := surface.NewAnnouncer(cfg.SilentMode)
	a.link = daemonlink.New(cfg.DaemonSocketPath, proxy, announcer, coordinator)

	opts := notifier.Options{
		Surface: surface.New(surface.Options{
			SilenceFor: cfg.SilenceDuration(),
		}),
		Silences:    store,
		Broadcaster: broadcast.New(cfg.BroadcastSocketPath),
		Bundles:     bundles,
		Syncer:      a.link,
		Effects:     pool,
		SilentMode:  cfg.SilentMode,
	}
	if trail != nil {
		opts.Audit = trail
	}
	a.queue = notifier.New(opts)
	proxy.q = a.queue

	return a, nil
}

// buildPush wires the token coordinator. The registrar is only created when
// push is enabled against a configured sync server; the coordinator then
// also reports token changes to that server.
func buildPush(cfg *config.Config) (*push.Coordinator, *push.WSRegistrar) {
	coordinator := push.New(nil)
	if !cfg.PushEnabled || cfg.SyncServerURL == "" {
		return coordinator, nil
	}

	machineID, err := os.Hostname()
	if err != nil {
		machineID = "unknown"
	}

	registrar := push.NewWSRegistrar(cfg.SyncServerURL, machineID, coordinator)
	coordinator.SetRegistrar(registrar)

	sc := syncclient.New(cfg.SyncServerURL, machineID)
	coordinator.SetTokenChangedNotifier(func(token string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := sc.TokenChanged(ctx, token); err != nil {
			log.Warn("failed to report token change", "error", err)
		}
	})

	return coordinator, registrar
}

func (a *app) start() {
	log.Info("starting notifier",
		"version", version,
		"daemonSocket", a.cfg.DaemonSocketPath,
		"silentMode", a.cfg.SilentMode,
	)
	a.trail.Log(audit.EventNotifierStart, "", map[string]any{"version": version})
	go a.link.Run()
}

func (a *app) shutdown(ctx context.Context) {
	log.Info("shutting down")

	a.link.Stop()
	a.queue.Shutdown(ctx)
	if a.registrar != nil {
		a.registrar.Stop()
	}
	a.coordinator.Shutdown()
	a.pool.Shutdown(ctx)

	a.trail.Log(audit.EventNotifierStop, "", nil)
	if err := a.trail.Close(); err != nil {
		log.Warn("closing audit trail", "error", err)
	}
	if err := a.store.Close(); err != nil {
		log.Warn("closing silence store", "error", err)
	}
	a.logWriter.Close()
}
