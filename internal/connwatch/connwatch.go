// Package connwatch watches a single live connection for silent
// failure: a socket that is still open but no longer answering pings.
// It is a single-connection specialization of the exponential-backoff
// service watcher pattern, trimmed to the steady-state polling half
// since a freshly authenticated socket starts ready rather than needing
// a startup retry phase.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether the watched connection is still responsive.
// Return nil if healthy. Typically transport.Socket.Ping.
type ProbeFunc func(ctx context.Context) error

// Config controls the liveness poll.
type Config struct {
	// PollInterval is how often Probe is called (default 30s).
	PollInterval time.Duration
	// ProbeTimeout limits how long a single probe call may take
	// (default 5s).
	ProbeTimeout time.Duration
	// UnresponsiveAfter is how long Probe may keep failing before
	// OnUnresponsive fires (default 180s). It is expressed as a
	// duration rather than a failure count since PollInterval may
	// change independently.
	UnresponsiveAfter time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.UnresponsiveAfter <= 0 {
		c.UnresponsiveAfter = 180 * time.Second
	}
}

// WatcherConfig configures a single connection's liveness watch.
type WatcherConfig struct {
	// Name identifies the watched connection for logging.
	Name string
	// Probe checks liveness. Must be safe for concurrent use.
	Probe ProbeFunc
	// Poll controls timing.
	Poll Config

	// OnUnresponsive is called once the connection has failed every
	// probe for Poll.UnresponsiveAfter. Called in its own goroutine;
	// the host controller uses this to tear down the socket and begin
	// a reconnect.
	OnUnresponsive func(lastErr error)
	// OnRecovered is called when a probe succeeds after at least one
	// prior failure.
	OnRecovered func()

	Logger *slog.Logger
}

// Status is the current liveness of a watched connection, suitable for
// JSON serialization in health endpoints.
type Status struct {
	Name            string    `json:"name"`
	Ready           bool      `json:"ready"`
	LastCheck       time.Time `json:"last_check"`
	LastError       string    `json:"last_error,omitempty"`
	ConsecutiveFail int       `json:"consecutive_fail"`
}

// Watcher polls one connection's liveness until Stop is called.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	lastErr     error
	lastCheck   time.Time
	consecFail  int
	firstFailAt time.Time
	fired       bool
}

// Watch starts polling cfg.Probe in a background goroutine. The watcher
// begins in the ready state, since it is only ever attached to a socket
// that has already completed its authentication handshake.
func Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Poll.applyDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{config: cfg, cancel: cancel, done: make(chan struct{})}
	w.ready.Store(true)

	go w.run(watchCtx)
	return w
}

// IsReady reports whether the connection is considered live. It starts
// true, turns false once probes have kept failing for
// UnresponsiveAfter, and turns true again on the next successful probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current liveness snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:            w.config.Name,
		Ready:           w.ready.Load(),
		LastCheck:       w.lastCheck,
		ConsecutiveFail: w.consecFail,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Wait blocks until the watcher's goroutine exits.
func (w *Watcher) Wait() {
	<-w.done
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.Poll.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Poll.ProbeTimeout)
	defer cancel()
	err := w.config.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()

	if err == nil {
		wasFailing := w.consecFail > 0
		w.consecFail = 0
		w.fired = false
		w.mu.Unlock()

		if wasFailing {
			w.ready.Store(true)
			w.config.Logger.Info("connection recovered", "name", w.config.Name)
			if w.config.OnRecovered != nil {
				go w.config.OnRecovered()
			}
		}
		return
	}

	if w.consecFail == 0 {
		w.firstFailAt = time.Now()
	}
	w.consecFail++
	unresponsiveSince := time.Since(w.firstFailAt)
	shouldFire := !w.fired && unresponsiveSince >= w.config.Poll.UnresponsiveAfter
	if shouldFire {
		w.fired = true
	}
	w.mu.Unlock()

	w.config.Logger.Debug("liveness probe failed", "name", w.config.Name, "consecutive", w.consecFail, "error", err)

	if shouldFire {
		w.ready.Store(false)
		w.config.Logger.Warn("connection unresponsive", "name", w.config.Name, "since", unresponsiveSince)
		if w.config.OnUnresponsive != nil {
			go w.config.OnUnresponsive(err)
		}
	}
}
