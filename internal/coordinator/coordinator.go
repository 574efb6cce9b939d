// Package coordinator implements the single entry point through which
// every Marker operation — whether requested over the reply socket or
// triggered by a PLC input edge — must pass: exactly one operation may
// be between RelayOnSend and Done at any instant.
package coordinator

import (
	"sync"
	"time"

	"github.com/D1nhkh01/controller/internal/codec"
	"github.com/D1nhkh01/controller/internal/markerlink"
	"github.com/D1nhkh01/controller/internal/relay"
)

// ResultKind tags the variant carried by Result.
type ResultKind int

const (
	ResultOk ResultKind = iota
	ResultTimeout
	ResultDeviceError
	ResultRelayError
)

// Result is the coordinator's tagged-variant outcome of one execute
// call: {Ok{code, elapsed, payload?}, Timeout{lastCode?, elapsed},
// DeviceError{reason}, RelayError{messages}}.
type Result struct {
	Kind            ResultKind
	Code            *byte
	LastCode        *byte
	ElapsedMs       int64
	Payload         []byte
	Reason          string
	RelayErrors     []string
	HasRelayErrors  bool
}

// TimeoutPolicy resolves the wait timeout for a command. A default
// flat policy is provided by FlatTimeout; bridge wires in a
// per-command-kind dynamic policy (see internal/bridge.TimeoutPolicy).
type TimeoutPolicy interface {
	TimeoutFor(cmd codec.Command) time.Duration
}

// FlatTimeout always returns the same duration, matching spec.md's
// default ui_op_timeout_ms behavior when no dynamic policy is wired.
type FlatTimeout time.Duration

func (f FlatTimeout) TimeoutFor(codec.Command) time.Duration { return time.Duration(f) }

// Coordinator enforces the at-most-one-in-flight invariant and runs
// the RelayOnSend -> Write -> Wait/Collect -> RelayOnComplete/OnTimeout
// sequence for every operation.
type Coordinator struct {
	mu       sync.Mutex
	link     *markerlink.Link
	relay    *relay.Choreographer
	timeouts TimeoutPolicy
}

func New(link *markerlink.Link, choreographer *relay.Choreographer, timeouts TimeoutPolicy) *Coordinator {
	if timeouts == nil {
		timeouts = FlatTimeout(20 * time.Second)
	}
	return &Coordinator{link: link, relay: choreographer, timeouts: timeouts}
}

// ExecuteRawRead re-issues cmd and reads its reply directly off the
// serial port instead of through the demuxed completion stream: the
// GET_JOB raw-read fallback (spec §4.1 option a, §9's exclusive-access
// lease). The reader task is suspended for the read window and always
// resumed on exit, under the same coordinator lock Execute takes so
// the at-most-one-in-flight invariant still holds. Unlike Execute,
// this does not drive relay choreography: it is a bus-level re-read
// of an operation whose relay side-effects already ran once.
func (c *Coordinator) ExecuteRawRead(cmd codec.Command) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout := c.resolveTimeout(cmd)
	c.link.Clear()
	c.link.SuspendReader()
	defer c.link.ResumeReader()

	if err := c.link.Write(cmd.Frame); err != nil {
		return nil, err
	}
	return c.link.RawReadWithFlush(timeout)
}

// resolveTimeout prefers an explicit per-command override on the
// Command itself, falling back to the coordinator's TimeoutPolicy.
func (c *Coordinator) resolveTimeout(cmd codec.Command) time.Duration {
	if cmd.TimeoutMs > 0 {
		return time.Duration(cmd.TimeoutMs) * time.Millisecond
	}
	return c.timeouts.TimeoutFor(cmd)
}

// Execute runs cmd to completion. sourceTag identifies the caller
// (e.g. "ui" or "plc") for logging; it does not affect semantics.
func (c *Coordinator) Execute(cmd codec.Command, sourceTag string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	// One collector accumulates every relay error across this
	// operation's phases, so a successful Marker completion still
	// surfaces trouble from an earlier OnSend (or a later OnTimeout).
	errs := relay.NewErrCollector()
	errs.Add(c.relay.OnSend())

	if cmd.WaitMode != codec.FireAndForget {
		c.link.Clear()
	}

	start := time.Now()
	if err := c.link.Write(cmd.Frame); err != nil {
		all := errs.All()
		return Result{Kind: ResultDeviceError, Reason: err.Error(), RelayErrors: all, HasRelayErrors: len(all) > 0}
	}

	if cmd.WaitMode == codec.FireAndForget {
		all := errs.All()
		return Result{Kind: ResultOk, ElapsedMs: time.Since(start).Milliseconds(), RelayErrors: all, HasRelayErrors: len(all) > 0}
	}

	timeout := c.resolveTimeout(cmd)

	switch cmd.WaitMode {
	case codec.CollectUntilCode:
		res := c.link.CollectUntilComplete(timeout)
		elapsed := time.Since(start).Milliseconds()
		if !res.Ok {
			errs.Add(c.relay.OnTimeout())
			all := errs.All()
			return Result{Kind: ResultTimeout, ElapsedMs: elapsed, RelayErrors: all, HasRelayErrors: len(all) > 0}
		}
		errs.Add(c.relay.OnComplete())
		all := errs.All()
		return Result{
			Kind: ResultOk, ElapsedMs: elapsed, Payload: res.Payload,
			RelayErrors: all, HasRelayErrors: len(all) > 0,
		}
	default: // AwaitCode
		res := c.link.WaitComplete(timeout, cmd.ExpectedCompletion)
		elapsed := time.Since(start).Milliseconds()
		if !res.Ok {
			errs.Add(c.relay.OnTimeout())
			all := errs.All()
			return Result{Kind: ResultTimeout, ElapsedMs: elapsed, LastCode: res.LastCode, RelayErrors: all, HasRelayErrors: len(all) > 0}
		}
		errs.Add(c.relay.OnComplete())
		all := errs.All()
		code := res.Code
		return Result{
			Kind: ResultOk, ElapsedMs: elapsed, Code: &code,
			RelayErrors: all, HasRelayErrors: len(all) > 0,
		}
	}
}
