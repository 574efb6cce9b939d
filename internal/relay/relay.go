// Package relay composes the three relay side-effects ("choreography")
// around a Marker operation on top of modbus.Client: a send-time pulse
// and hold, a complete-time hold-and-release, and a timeout release.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/D1nhkh01/controller/internal/modbus"
)

const (
	addrR1 uint16 = 1 // pulse relay
	addrR2 uint16 = 2 // DOING
	addrR3 uint16 = 3 // FINISH
)

const r1PulseDuration = time.Second
const r3HoldDuration = time.Second

// Choreographer drives R1/R2/R3 on a modbus.Client around the
// lifecycle of one Marker operation.
type Choreographer struct {
	client *modbus.Client
}

func New(client *modbus.Client) *Choreographer {
	return &Choreographer{client: client}
}

func (c *Choreographer) setRelay(errs *[]string, addr uint16, on bool) {
	action := modbus.ActionClose
	if on {
		action = modbus.ActionOpen
	}
	if err := c.client.WriteSingleRegister(addr, action); err != nil {
		*errs = append(*errs, fmt.Sprintf("relay %d=%v: %v", addr, on, err))
	}
}

// OnSend pulses R1 (ON now, OFF after one second on its own timer) and
// turns R2 ON. Returns the accumulated error list for this phase; a
// pulse-off failure observed later is not retroactively reported here
// since it happens on its own timer, matching the original's fire-and
// -forget pulse semantics.
func (c *Choreographer) OnSend() []string {
	var errs []string
	c.setRelay(&errs, addrR2, true)
	c.setRelay(&errs, addrR1, true)
	time.AfterFunc(r1PulseDuration, func() {
		var ignored []string
		c.setRelay(&ignored, addrR1, false)
	})
	return errs
}

// OnComplete turns R2 OFF and R3 ON in one atomic multi-register write
// (R2/R3 are contiguous addresses), then schedules R3 OFF after one
// second. Returns the accumulated error list for the immediate step.
func (c *Choreographer) OnComplete() []string {
	var errs []string
	values := []uint16{uint16(modbus.ActionClose) << 8, uint16(modbus.ActionOpen) << 8}
	if err := c.client.WriteMultipleRegisters(addrR2, values); err != nil {
		errs = append(errs, fmt.Sprintf("relay %d,%d atomic write: %v", addrR2, addrR3, err))
	}
	time.AfterFunc(r3HoldDuration, func() {
		var ignored []string
		c.setRelay(&ignored, addrR3, false)
	})
	return errs
}

// OnTimeout turns R2 OFF only; no R3 activity, no alarm.
func (c *Choreographer) OnTimeout() []string {
	var errs []string
	c.setRelay(&errs, addrR2, false)
	return errs
}

// ErrCollector is a small helper an operation can share across the
// three phases to keep a single accumulated relay error list, letting
// a successful Marker completion still surface relay trouble to the
// caller.
type ErrCollector struct {
	mu   sync.Mutex
	errs []string
}

// NewErrCollector starts a fresh per-operation relay error accumulator.
func NewErrCollector() *ErrCollector { return &ErrCollector{} }

func (e *ErrCollector) Add(errs []string) {
	if len(errs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, errs...)
}

func (e *ErrCollector) All() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.errs...)
}
