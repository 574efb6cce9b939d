// Package markerlink owns the Marker's serial handle: a reader task
// that demultiplexes completion bytes from payload bytes, a writer
// task that serializes transmissions, and the wait/collect API the
// coordinator drives an operation through.
package markerlink

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/D1nhkh01/controller/internal/serial"
	"github.com/D1nhkh01/controller/internal/xerrors"
)

// isCompletionByte classifies a byte the Marker emits.
func isCompletionByte(b byte) (byte, bool) {
	if b == 0x1F || b == 0x87 {
		return b, true
	}
	return 0, false
}

// Config describes how to open and drive the Marker link.
type Config struct {
	PortName            string
	Link                serial.LinkConfig
	DryRun              bool
	DryRunCompleteDelay time.Duration // default 1000ms
	PollInterval        time.Duration // reader poll granularity, default 150ms
	MinWriteInterval    time.Duration // throttle between consecutive writes
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 150 * time.Millisecond
}

func (c Config) dryRunDelay() time.Duration {
	if c.DryRunCompleteDelay > 0 {
		return c.DryRunCompleteDelay
	}
	return time.Second
}

// Link is the running Marker connection: one reader goroutine, one
// writer goroutine, shared rx state guarded by a condition variable.
type Link struct {
	cfg    Config
	port   *serial.Port // nil in dry-run
	log    *zap.Logger
	mu     sync.Mutex
	cond   *sync.Cond
	buffer []byte
	lastCode    byte
	hasCode     bool
	codeAt      time.Time
	readerOn    bool
	stopCh      chan struct{}
	writeCh     chan []byte
	wg          sync.WaitGroup
	lastWriteAt time.Time
}

// Open starts the reader and writer tasks for cfg. In dry-run mode no
// serial port is opened; writes are logged and a completion code is
// synthesized on a timer instead.
func Open(cfg Config, log *zap.Logger) (*Link, error) {
	l := &Link{
		cfg:      cfg,
		log:      log,
		readerOn: true,
		stopCh:   make(chan struct{}),
		writeCh:  make(chan []byte, 1),
	}
	l.cond = sync.NewCond(&l.mu)

	if !cfg.DryRun {
		port, err := serial.OpenLink(cfg.PortName, cfg.Link)
		if err != nil {
			return nil, xerrors.New(xerrors.OsError, "open marker port", err)
		}
		l.port = port
	}

	l.wg.Add(2)
	go l.readerLoop()
	go l.writerLoop()
	return l, nil
}

// Close stops the reader/writer tasks and releases the port. Tasks
// honor the stop signal within one poll interval, well under the one
// second cancellation budget.
func (l *Link) Close() error {
	close(l.stopCh)
	l.wg.Wait()
	if l.port != nil {
		if err := l.port.Drain(); err != nil {
			l.log.Warn("marker drain before close failed", zap.Error(err))
		}
		return l.port.Close()
	}
	return nil
}

// Clear empties the rx buffer and clears the last completion code:
// only the latest completion between Clear calls is retained. On a
// real port this also discards whatever the driver has buffered on
// the wire, so a stale completion byte from a prior operation can't
// leak into the next one.
func (l *Link) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = l.buffer[:0]
	l.hasCode = false
	l.lastCode = 0
	if l.port != nil {
		if err := l.port.Flush(serial.TCIFLUSH); err != nil {
			l.log.Warn("marker input flush failed", zap.Error(err))
		}
	}
}

// Write hands framed bytes to the writer task. In dry-run mode the
// frame is logged and a completion is scheduled instead of written.
func (l *Link) Write(frame []byte) error {
	if l.cfg.DryRun {
		l.log.Info("marker dry-run write", zap.ByteString("frame", frame), zap.String("hex", hexString(frame)))
		delay := l.cfg.dryRunDelay()
		time.AfterFunc(delay, func() {
			l.mu.Lock()
			l.lastCode = 0x1F
			l.hasCode = true
			l.codeAt = time.Now()
			l.mu.Unlock()
			l.cond.Broadcast()
		})
		return nil
	}
	select {
	case l.writeCh <- frame:
		return nil
	case <-l.stopCh:
		return xerrors.New(xerrors.NotConnected, "marker link closed", nil)
	}
}

// WaitResult is the outcome of WaitComplete.
type WaitResult struct {
	Ok       bool
	Code     byte
	LastCode *byte
}

// WaitComplete blocks until last_completion_code matches one of
// expected, or timeout elapses.
func (l *Link) WaitComplete(timeout time.Duration, expected []byte) WaitResult {
	deadline := time.Now().Add(timeout)
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.hasCode && hasByte(expected, l.lastCode) {
			return WaitResult{Ok: true, Code: l.lastCode}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return l.timeoutResultLocked()
		}
		l.waitWithTimeoutLocked(remaining)
	}
}

func (l *Link) timeoutResultLocked() WaitResult {
	if l.hasCode {
		code := l.lastCode
		return WaitResult{Ok: false, LastCode: &code}
	}
	return WaitResult{Ok: false}
}

// CollectResult is the outcome of CollectUntilComplete.
type CollectResult struct {
	Ok      bool
	Payload []byte
}

// CollectUntilComplete blocks until a completion byte is observed (or
// was already observed since the last Clear), then returns and drains
// the accumulated rx buffer.
func (l *Link) CollectUntilComplete(timeout time.Duration) CollectResult {
	deadline := time.Now().Add(timeout)
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.hasCode {
			payload := append([]byte(nil), l.buffer...)
			l.buffer = l.buffer[:0]
			return CollectResult{Ok: true, Payload: payload}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return CollectResult{Ok: false}
		}
		l.waitWithTimeoutLocked(remaining)
	}
}

// waitWithTimeoutLocked waits on cond for at most timeout, re-acquiring
// the lock before returning. l.mu must be held on entry and exit.
func (l *Link) waitWithTimeoutLocked(timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	l.cond.Wait()
	timer.Stop()
}

// SuspendReader disables the reader task's byte consumption so an
// external caller can read the port directly (the GET_JOB fallback
// path). ResumeReader must be called before any other caller relies
// on the demultiplexed stream again.
func (l *Link) SuspendReader() {
	l.mu.Lock()
	l.readerOn = false
	l.mu.Unlock()
}

func (l *Link) ResumeReader() {
	l.mu.Lock()
	l.readerOn = true
	l.mu.Unlock()
}

// RawReadWithFlush reads directly from the serial port while the
// reader task is suspended, accumulating bytes until timeout elapses
// or, once at least one byte has been read, until a read returns no
// bytes; it does not wait out a quiet poll interval before stopping.
func (l *Link) RawReadWithFlush(timeout time.Duration) ([]byte, error) {
	if l.port == nil {
		return nil, nil
	}
	deadline := time.Now().Add(timeout)
	var out []byte
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := l.port.Read(buf)
		if err != nil {
			return out, xerrors.New(xerrors.SerialTransport, "raw read", err)
		}
		if n == 0 {
			if len(out) > 0 {
				break
			}
			continue
		}
		out = append(out, buf[:n]...)
	}
	return out, nil
}

func (l *Link) readerLoop() {
	defer l.wg.Done()
	buf := make([]byte, 256)
	interval := l.cfg.pollInterval()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		if l.cfg.DryRun || l.port == nil {
			time.Sleep(interval)
			continue
		}
		l.mu.Lock()
		enabled := l.readerOn
		l.mu.Unlock()
		if !enabled {
			time.Sleep(interval)
			continue
		}
		n, err := l.port.ReadTimeout(buf, interval)
		if err != nil || n == 0 {
			continue
		}
		l.mu.Lock()
		for _, b := range buf[:n] {
			if code, ok := isCompletionByte(b); ok {
				l.lastCode = code
				l.hasCode = true
				l.codeAt = time.Now()
			} else {
				l.buffer = append(l.buffer, b)
			}
		}
		l.mu.Unlock()
		l.cond.Broadcast()
	}
}

func (l *Link) writerLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		case frame := <-l.writeCh:
			if min := l.cfg.MinWriteInterval; min > 0 {
				if wait := min - time.Since(l.lastWriteAt); wait > 0 {
					time.Sleep(wait)
				}
			}
			if l.port != nil {
				if _, err := l.port.Write(frame); err != nil {
					l.log.Error("marker write failed", zap.Error(err))
				}
			}
			l.lastWriteAt = time.Now()
		}
	}
}

func hasByte(set []byte, b byte) bool {
	for _, c := range set {
		if c == b {
			return true
		}
	}
	return false
}

func hexString(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3)
	for i, c := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexDigits[c>>4], hexDigits[c&0xF])
	}
	return string(out)
}
