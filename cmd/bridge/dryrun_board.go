package main

import (
	"sync"

	"github.com/D1nhkh01/controller/internal/config"
)

// dryRunBoard stands in for the relay/PLC board's serial transport
// when devices.BOARD_RELAY.dry_run is set: FC03 reads always return
// the configured dry_run_state snapshot, and FC16 writes are accepted
// with a well-formed echo but never touch any real register.
type dryRunBoard struct {
	mu       sync.Mutex
	snapshot []uint16
	pending  []byte
}

func newDryRunBoard(state config.DryRunState) *dryRunBoard {
	snapshot := []uint16{0, 0, 0}
	if state.Ready {
		snapshot[0] = 1
	}
	if state.Home {
		snapshot[1] = 1
	}
	if state.Reset {
		snapshot[2] = 1
	}
	snapshot = append(snapshot, state.OtherRegisters...)
	return &dryRunBoard{snapshot: snapshot}
}

func (b *dryRunBoard) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(p) < 2 {
		return len(p), nil
	}
	switch p[1] {
	case 0x03:
		body := []byte{p[0], 0x03, byte(len(b.snapshot) * 2)}
		for _, v := range b.snapshot {
			body = append(body, byte(v>>8), byte(v))
		}
		b.pending = appendCRC(body)
	case 0x10:
		echo := append([]byte(nil), p[:6]...)
		b.pending = appendCRC(echo)
	}
	return len(p), nil
}

func (b *dryRunBoard) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return 0, nil
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func (b *dryRunBoard) Close() error { return nil }

func appendCRC(frame []byte) []byte {
	var crc uint16 = 0xFFFF
	for _, bb := range frame {
		crc ^= uint16(bb)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}
