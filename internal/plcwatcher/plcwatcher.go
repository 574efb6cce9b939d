// Package plcwatcher periodically polls the relay/PLC board's holding
// registers for input edges — Home and Reset — and drives the
// OperationCoordinator on their behalf, independent of any UI request.
package plcwatcher

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/D1nhkh01/controller/internal/codec"
	"github.com/D1nhkh01/controller/internal/modbus"
)

// Snapshot is the ordered register vector the PLC exposes: fixed
// index semantics Ready=0, Home=1, Reset=2, remaining positional.
type Snapshot []uint16

const (
	IdxReady = 0
	IdxHome  = 1
	IdxReset = 2
)

// Observer receives a snapshot every time a register value changes.
type Observer interface {
	OnRegisterSnapshot(Snapshot)
}

// Config controls polling cadence, debounce, and the reconnect policy.
type Config struct {
	StartAddress       uint16
	NumRegisters       uint16
	PollInterval       time.Duration // default 500ms
	DebounceInterval   time.Duration // default 100ms
	MaxConsecutiveFail int           // default 5
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 500 * time.Millisecond
}

func (c Config) debounce() time.Duration {
	if c.DebounceInterval > 0 {
		return c.DebounceInterval
	}
	return 100 * time.Millisecond
}

func (c Config) maxFail() int {
	if c.MaxConsecutiveFail > 0 {
		return c.MaxConsecutiveFail
	}
	return 5
}

// execFunc lets Watcher call back into the coordinator without
// depending on its concrete type; cmd/bridge passes a wrapper around
// coordinator.Coordinator.Execute (execThroughCoordinator), since
// Execute itself returns a Result.
type execFunc func(cmd codec.Command, sourceTag string)

// Watcher polls client and reacts to rising edges on Home/Reset.
type Watcher struct {
	client   *modbus.Client
	cfg      Config
	log      *zap.Logger
	exec     execFunc
	observer Observer

	mu          sync.Mutex
	last        Snapshot
	failCount   int
	lastHomeAt  time.Time
	lastResetAt time.Time
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func New(client *modbus.Client, cfg Config, log *zap.Logger, exec execFunc, observer Observer) *Watcher {
	return &Watcher{
		client:   client,
		cfg:      cfg,
		log:      log,
		exec:     exec,
		observer: observer,
		stopCh:   make(chan struct{}),
	}
}

// Run starts the polling loop in its own goroutine and returns at
// once; the loop keeps polling until Stop is called.
func (w *Watcher) Run() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// Snapshot returns the most recently observed register vector.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append(Snapshot(nil), w.last...)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	values, err := w.client.ReadHoldingRegisters(w.cfg.StartAddress, w.cfg.NumRegisters)
	if err != nil {
		w.onReadFailure(err)
		return
	}
	w.mu.Lock()
	w.failCount = 0
	prev := w.last
	changed := !equalSnapshot(prev, values)
	w.last = values
	w.mu.Unlock()

	if changed && w.observer != nil {
		w.observer.OnRegisterSnapshot(values)
	}
	if changed {
		w.checkEdges(prev, values)
	}
}

func (w *Watcher) onReadFailure(err error) {
	w.mu.Lock()
	w.failCount++
	fail := w.failCount
	w.mu.Unlock()

	w.log.Warn("plc read failed", zap.Error(err), zap.Int("consecutiveFailures", fail))
	if fail >= w.cfg.maxFail() {
		if rerr := w.client.Reconnect(); rerr != nil {
			w.log.Error("plc reconnect failed", zap.Error(rerr))
		} else {
			w.mu.Lock()
			w.failCount = 0
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) checkEdges(prev, next Snapshot) {
	now := time.Now()
	if risingEdge(prev, next, IdxHome) {
		w.mu.Lock()
		debounced := now.Sub(w.lastHomeAt) < w.cfg.debounce()
		if !debounced {
			w.lastHomeAt = now
		}
		w.mu.Unlock()
		if !debounced {
			w.fireDetached(codec.Home())
		}
	}
	if risingEdge(prev, next, IdxReset) {
		w.mu.Lock()
		debounced := now.Sub(w.lastResetAt) < w.cfg.debounce()
		if !debounced {
			w.lastResetAt = now
		}
		w.mu.Unlock()
		if !debounced {
			w.fireDetached(codec.Reset())
		}
	}
}

func (w *Watcher) fireDetached(cmd codec.Command) {
	if w.exec == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("plc-triggered operation panicked", zap.Any("recover", r))
			}
		}()
		w.exec(cmd, "plc")
	}()
}

func risingEdge(prev, next Snapshot, idx int) bool {
	if idx >= len(next) {
		return false
	}
	var prevVal uint16
	if idx < len(prev) {
		prevVal = prev[idx]
	}
	return prevVal == 0 && next[idx] != 0
}

func equalSnapshot(a, b Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
