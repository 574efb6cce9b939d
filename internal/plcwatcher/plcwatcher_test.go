package plcwatcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/D1nhkh01/controller/internal/codec"
	"github.com/D1nhkh01/controller/internal/modbus"
)

// fakeBoard cycles through a queue of register frames, one per poll,
// letting a test script a sequence of edges.
type fakeBoard struct {
	mu      sync.Mutex
	frames  [][]uint16
	idx     int
	pending []byte
}

func (f *fakeBoard) Write(p []byte) (int, error) { return len(p), nil }

func (f *fakeBoard) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		frame := f.frames[f.idx]
		if f.idx < len(f.frames)-1 {
			f.idx++
		}
		f.pending = buildReadResponse(frame)
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeBoard) Close() error { return nil }

func buildReadResponse(values []uint16) []byte {
	body := []byte{0x01, 0x03, byte(len(values) * 2)}
	for _, v := range values {
		body = append(body, byte(v>>8), byte(v))
	}
	var crc uint16 = 0xFFFF
	for _, b := range body {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return append(body, byte(crc&0xFF), byte(crc>>8))
}

func TestHomeEdgeFiresExactlyOnceWithinDebounce(t *testing.T) {
	board := &fakeBoard{frames: [][]uint16{
		{0, 0, 0},
		{0, 1, 0},
		{0, 0, 0},
		{0, 1, 0},
	}}
	client := modbus.NewClientWithTransport(board, 1)

	var homeCount int32
	exec := func(cmd codec.Command, sourceTag string) {
		if cmd.Kind == codec.KindHome {
			atomic.AddInt32(&homeCount, 1)
		}
	}

	w := New(client, Config{
		NumRegisters:     3,
		PollInterval:     10 * time.Millisecond,
		DebounceInterval: 200 * time.Millisecond,
	}, zap.NewNop(), exec, nil)
	w.Run()
	time.Sleep(120 * time.Millisecond)
	w.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&homeCount) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRisingEdgeHelper(t *testing.T) {
	assert.True(t, risingEdge(Snapshot{0, 0}, Snapshot{0, 1}, 1))
	assert.False(t, risingEdge(Snapshot{0, 1}, Snapshot{0, 1}, 1))
	assert.False(t, risingEdge(Snapshot{0, 1}, Snapshot{0, 0}, 1))
}

func TestEqualSnapshot(t *testing.T) {
	assert.True(t, equalSnapshot(Snapshot{1, 2}, Snapshot{1, 2}))
	assert.False(t, equalSnapshot(Snapshot{1, 2}, Snapshot{1, 3}))
	assert.False(t, equalSnapshot(Snapshot{1}, Snapshot{1, 2}))
}
