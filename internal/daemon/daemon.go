package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"reeler/internal/api"
	"reeler/internal/broker"
	"reeler/internal/config"
	"reeler/internal/logging"
	"reeler/internal/notifications"
	"reeler/internal/queue"
	"reeler/internal/quota"
	"reeler/internal/stage"
	"reeler/internal/workflow"
)

// Deps bundles everything the daemon coordinates.
type Deps struct {
	Config     *config.Config
	Store      *queue.Store
	Controller *workflow.LoopController
	Broker     *broker.Broker
	Gate       *quota.Gate
	Notifier   *notifications.Service
	Invokers   []stage.Invoker
	Logger     *slog.Logger
}

// Daemon coordinates the scheduler, the worker callback API, and
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	controller *workflow.LoopController
	broker     *broker.Broker
	gate       *quota.Gate
	notifier   *notifications.Service
	invokers   []stage.Invoker

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running   atomic.Bool
	runActive atomic.Bool
	runNow    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu        sync.Mutex
	lastError string
}

// New constructs a daemon with initialized dependencies.
func New(deps Deps) (*Daemon, error) {
	if deps.Config == nil || deps.Store == nil || deps.Controller == nil || deps.Broker == nil {
		return nil, errors.New("daemon requires config, store, controller, and broker")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(deps.Config.Paths.LogDir, "reeler.lock")
	d := &Daemon{
		cfg:        deps.Config,
		logger:     logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:      deps.Store,
		controller: deps.Controller,
		broker:     deps.Broker,
		gate:       deps.Gate,
		notifier:   deps.Notifier,
		invokers:   deps.Invokers,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
		runNow:     make(chan struct{}, 1),
	}
	server, err := newAPIServer(deps.Config, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.api = server
	return d, nil
}

// Start acquires the daemon lock and launches the callback API and the
// scheduler. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reeler daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.wg.Add(1)
	go d.schedule(runCtx)

	d.running.Store(true)
	d.logger.InfoContext(ctx, "daemon started",
		logging.String("lock", d.lockPath),
		logging.String("db", d.store.Path()))
	return nil
}

// Stop halts the scheduler and API server and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RunNow queues an immediate batch run. Returns false when a trigger is
// already pending.
func (d *Daemon) RunNow() bool {
	select {
	case d.runNow <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunActive reports whether a batch run is currently executing.
func (d *Daemon) RunActive() bool {
	return d.runActive.Load()
}

// Status assembles the runtime view served by the status surfaces.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:   d.running.Load(),
		PID:       os.Getpid(),
		RunActive: d.runActive.Load(),
		DBPath:    d.store.Path(),
		LockPath:  d.lockPath,
		LastError: d.getLastError(),
	}

	if stats, err := d.store.Stats(ctx); err == nil {
		status.QueueStats = make(map[string]int, len(stats))
		for s, count := range stats {
			status.QueueStats[string(s)] = count
		}
	}
	if d.gate != nil {
		if decision, err := d.gate.Check(ctx); err == nil {
			status.Quota = api.QuotaStatus{
				Date:      decision.Date,
				Count:     decision.Count,
				Limit:     decision.Limit,
				Remaining: decision.Remaining(),
				Reached:   decision.Reached,
			}
		}
	}
	for _, invoker := range d.invokers {
		if invoker == nil {
			continue
		}
		health := invoker.HealthCheck(ctx)
		status.StageHealth = append(status.StageHealth, api.StageHealth{
			Name:   health.Name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	return status
}

// TestNotification sends a test push through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) error {
	if d.notifier == nil {
		return errors.New("notifications not configured")
	}
	return d.notifier.Test(ctx)
}

// QueueStore exposes the store for the IPC and API surfaces.
func (d *Daemon) QueueStore() *queue.Store {
	return d.store
}

// LogPath reports where the daemon writes its log file.
func (d *Daemon) LogPath() string {
	return filepath.Join(d.cfg.Paths.LogDir, "reeler.log")
}

func (d *Daemon) setLastError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		d.lastError = ""
		return
	}
	d.lastError = err.Error()
}

func (d *Daemon) getLastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}
