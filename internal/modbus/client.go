package modbus

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/D1nhkh01/controller/internal/serial"
	"github.com/D1nhkh01/controller/internal/xerrors"
)

// transport is the slice of *serial.Port the client actually needs;
// tests (in this package and others) substitute a fake
// io.ReadWriteCloser to drive the RTU framing without a real tty.
type transport = io.ReadWriteCloser

// RelayAction is the high-byte action code a relay write carries.
type RelayAction byte

const (
	ActionOpen     RelayAction = 1 // ON
	ActionClose    RelayAction = 2 // OFF
	ActionToggle   RelayAction = 3
	ActionLatch    RelayAction = 4
	ActionMomentary RelayAction = 5
)

const maxWriteRetries = 2

// drainer and flusher are satisfied by *serial.Port; fake transports
// used in tests simply don't implement them, so c.drain/c.flushInput
// are no-ops against those.
type drainer interface {
	Drain() error
}

type flusher interface {
	Flush(serial.Queue) error
}

func (c *Client) drain() {
	if d, ok := c.port.(drainer); ok {
		_ = d.Drain()
	}
}

func (c *Client) flushInput() {
	if f, ok := c.port.(flusher); ok {
		_ = f.Flush(serial.TCIFLUSH)
	}
}

// Client owns the relay/PLC board's serial handle. All reads and
// writes run under a single mutex: the board is addressed by one
// RTU master, the same way the teacher's Port is addressed by one fd.
type Client struct {
	mu      sync.Mutex
	port    transport
	slaveID byte
	cfg     serial.LinkConfig
	name    string
}

// NewClient opens name under cfg and binds it to slaveID.
func NewClient(name string, slaveID byte, cfg serial.LinkConfig) (*Client, error) {
	port, err := serial.OpenLink(name, cfg)
	if err != nil {
		return nil, xerrors.New(xerrors.OsError, "open relay port", err)
	}
	return &Client{port: port, slaveID: slaveID, cfg: cfg, name: name}, nil
}

// newClientWithTransport is the test-only constructor that swaps in a
// fake transport instead of a real serial.Port.
func newClientWithTransport(port transport, slaveID byte) *Client {
	return &Client{port: port, slaveID: slaveID}
}

// NewClientWithTransport builds a Client around an arbitrary
// io.ReadWriteCloser instead of a real serial.Port. Exported so other
// packages' tests (relay, coordinator) can drive a Choreographer or
// OperationCoordinator against an in-memory fake board.
func NewClientWithTransport(rw io.ReadWriteCloser, slaveID byte) *Client {
	return newClientWithTransport(rw, slaveID)
}

// Reconnect closes and reopens the underlying port, used by PlcWatcher
// after a run of consecutive read failures.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		_ = c.port.Close()
	}
	port, err := serial.OpenLink(c.name, c.cfg)
	if err != nil {
		return xerrors.New(xerrors.OsError, "reconnect relay port", err)
	}
	c.port = port
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	return c.port.Close()
}

// ReadHoldingRegisters issues function 0x03 starting at addr for qty
// registers and returns them in device order.
func (c *Client) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := appendCRC([]byte{
		c.slaveID, 0x03,
		byte(addr >> 8), byte(addr),
		byte(qty >> 8), byte(qty),
	})
	if _, err := c.port.Write(req); err != nil {
		return nil, xerrors.New(xerrors.SerialTransport, "write read-holding-registers request", err)
	}

	want := 3 + int(qty)*2 + 2
	resp, err := c.readResponse(want)
	if err != nil {
		return nil, err
	}
	if len(resp) > 1 && resp[1]&0x80 != 0 {
		return nil, exceptionError(resp)
	}
	if len(resp) != want {
		return nil, xerrors.New(xerrors.ShortRead,
			fmt.Sprintf("expected %d bytes, got %d", want, len(resp)), nil)
	}
	if !checkCRC(resp) {
		return nil, xerrors.New(xerrors.Crc, "holding register read CRC mismatch", nil)
	}

	n := int(qty)
	values := make([]uint16, n)
	for i := 0; i < n; i++ {
		hi := resp[3+i*2]
		lo := resp[3+i*2+1]
		values[i] = uint16(hi)<<8 | uint16(lo)
	}
	return values, nil
}

// WriteSingleRegister writes action into addr, retrying the echo read
// up to maxWriteRetries times on CRC mismatch or short read.
func (c *Client) WriteSingleRegister(addr uint16, action RelayAction) error {
	return c.WriteMultipleRegisters(addr, []uint16{uint16(action) << 8})
}

// WriteMultipleRegisters writes values starting at addr via function
// 0x10, validating the 8-byte echo.
func (c *Client) WriteMultipleRegisters(addr uint16, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	qty := len(values)
	byteCount := qty * 2
	req := []byte{
		c.slaveID, 0x10,
		byte(addr >> 8), byte(addr),
		byte(qty >> 8), byte(qty),
		byte(byteCount),
	}
	for _, v := range values {
		req = append(req, byte(v>>8), byte(v))
	}
	req = appendCRC(req)

	var lastErr error
	for attempt := 0; attempt <= maxWriteRetries; attempt++ {
		if _, err := c.port.Write(req); err != nil {
			lastErr = xerrors.New(xerrors.SerialTransport, "write multi-register request", err)
			continue
		}
		c.drain()
		resp, err := c.readResponse(8)
		if err != nil {
			lastErr = err
			c.flushInput()
			continue
		}
		if len(resp) > 1 && resp[1]&0x80 != 0 {
			return exceptionError(resp)
		}
		if !checkCRC(resp) || len(resp) != 8 {
			// Transient failure tie-break: one immediate extra echo
			// read before counting the attempt as failed.
			if extra, extraErr := c.readResponse(8); extraErr == nil && len(extra) == 8 && checkCRC(extra) {
				resp = extra
			} else {
				lastErr = xerrors.New(xerrors.Crc, "write echo CRC mismatch", nil)
				c.flushInput()
				continue
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = xerrors.New(xerrors.Timeout, "write multi-register exhausted retries", nil)
	}
	return lastErr
}

// readResponse reads a Modbus-RTU response whose normal-path length is
// normalLen. It reads the 2-byte header first so a short exception
// frame (5 bytes total) is recognized without blocking for bytes the
// device will never send.
func (c *Client) readResponse(normalLen int) ([]byte, error) {
	header, err := c.readFull(2)
	if err != nil {
		return header, err
	}
	if header[1]&0x80 != 0 {
		rest, err := c.readFull(3)
		if err != nil {
			return append(header, rest...), err
		}
		return append(header, rest...), nil
	}
	rest, err := c.readFull(normalLen - 2)
	return append(header, rest...), err
}

func (c *Client) readFull(n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	deadline := time.Now().Add(2 * time.Second)
	for len(buf) < n {
		chunk := make([]byte, n-len(buf))
		read, err := c.port.Read(chunk)
		if err != nil {
			return buf, xerrors.New(xerrors.SerialTransport, "read", err)
		}
		if read == 0 {
			if time.Now().After(deadline) {
				return buf, xerrors.New(xerrors.Timeout, "read timed out", nil)
			}
			continue
		}
		buf = append(buf, chunk[:read]...)
	}
	return buf, nil
}

func exceptionError(resp []byte) error {
	code := byte(0)
	if len(resp) > 2 {
		code = resp[2]
	}
	return xerrors.New(xerrors.DeviceException, fmt.Sprintf("modbus exception code %d (function 0x%02X)", code, resp[1]&0x7F), nil)
}
