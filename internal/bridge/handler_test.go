package bridge

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/D1nhkh01/controller/internal/coordinator"
	"github.com/D1nhkh01/controller/internal/markerlink"
	"github.com/D1nhkh01/controller/internal/modbus"
	"github.com/D1nhkh01/controller/internal/plcwatcher"
	"github.com/D1nhkh01/controller/internal/relay"
	"github.com/D1nhkh01/controller/internal/store"
)

// fakeBoard is the same echoing, partial-read-safe fake used in the
// relay and coordinator test suites.
type fakeBoard struct {
	mu      sync.Mutex
	writes  [][]byte
	pending []byte
}

func (f *fakeBoard) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	echo := append([]byte(nil), p[:6]...)
	f.pending = append(f.pending, crcAppend(echo)...)
	return len(p), nil
}

func (f *fakeBoard) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeBoard) Close() error { return nil }

// fakeRegisterBoard answers every FC03 read with a fixed register
// snapshot, the shape plcwatcher's client expects.
type fakeRegisterBoard struct {
	mu      sync.Mutex
	values  []uint16
	pending []byte
}

func (f *fakeRegisterBoard) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := []byte{0x01, 0x03, byte(len(f.values) * 2)}
	for _, v := range f.values {
		body = append(body, byte(v>>8), byte(v))
	}
	f.pending = crcAppend(body)
	return len(p), nil
}

func (f *fakeRegisterBoard) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeRegisterBoard) Close() error { return nil }

func crcAppend(frame []byte) []byte {
	var crc uint16 = 0xFFFF
	for _, b := range frame {
		crc ^= uint16(b)
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

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	link, err := markerlink.Open(markerlink.Config{
		DryRun:              true,
		DryRunCompleteDelay: 20 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = link.Close() })

	relayBoard := &fakeBoard{}
	relayClient := modbus.NewClientWithTransport(relayBoard, 1)
	choreographer := relay.New(relayClient)

	coord := coordinator.New(link, choreographer, DefaultTimeoutPolicy())

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	watcherBoard := &fakeRegisterBoard{values: []uint16{0, 0, 0}}
	watcherClient := modbus.NewClientWithTransport(watcherBoard, 1)
	watcher := plcwatcher.New(watcherClient, plcwatcher.Config{
		StartAddress: 0,
		NumRegisters: 3,
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop(), nil, nil)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	return &Handler{
		Coordinator: coord,
		Watcher:     watcher,
		Store:       st,
		Observer:    LogObserver{Log: zap.NewNop()},
		LogLevel:    &level,
		Position:    PositionConfig{XIndex: 3, YIndex: 4, Scale: 0.1},
		DryRunState: &DryRunState{},
	}
}

func rawPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHandleBuiltinHome(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m1",
		Command:   CmdBuiltin,
		Payload:   rawPayload(t, map[string]string{"state": "rt_home"}),
	})
	require.False(t, reply.IsError, reply.ErrorMessage)
	assert.Equal(t, "m1", reply.CorrelationID)
}

func TestHandleBuiltinUnknownState(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m2",
		Command:   CmdBuiltin,
		Payload:   rawPayload(t, map[string]string{"state": "bogus"}),
	})
	assert.True(t, reply.IsError)
}

func TestHandleSetJobPersistsBeforeSucceeding(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m3",
		Command:   CmdSetJob,
		Payload: rawPayload(t, map[string]any{
			"JobNumber":       7,
			"CharacterString": "HELLO",
			"Size":            2.5,
		}),
	})
	require.False(t, reply.IsError, reply.ErrorMessage)

	job, ok := h.Store.GetJob(7)
	require.True(t, ok)
	assert.Equal(t, "HELLO", job.CharacterString)
	assert.NotEmpty(t, job.ID)
}

func TestHandleSetJobRejectsEmptyText(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m4",
		Command:   CmdSetJob,
		Payload:   rawPayload(t, map[string]any{"JobNumber": 1, "CharacterString": "  "}),
	})
	assert.True(t, reply.IsError)
}

func TestHandleGetJobDryRunReconstructsFromStore(t *testing.T) {
	h := newTestHandler(t)
	h.DryRunState.Marker = true

	setReply := h.Handle(Request{
		MessageID: "m20",
		Command:   CmdSetJob,
		Payload: rawPayload(t, map[string]any{
			"JobNumber":       9,
			"CharacterString": "ABC",
			"Size":            2.3,
			"Speed":           500,
			"StartX":          33.5,
			"StartY":          10.0,
			"PitchX":          2.2,
			"PitchY":          0.0,
		}),
	})
	require.False(t, setReply.IsError, setReply.ErrorMessage)

	getReply := h.Handle(Request{
		MessageID: "m21",
		Command:   CmdGetJob,
		Payload:   rawPayload(t, map[string]any{"JobNumber": 9}),
	})
	require.False(t, getReply.IsError, getReply.ErrorMessage)

	job, ok := h.Store.GetJob(9)
	require.True(t, ok)
	assert.Equal(t, "ABC", job.CharacterString)
	assert.Equal(t, 2.3, job.Size)
	assert.Equal(t, 500, job.Speed)
	assert.Equal(t, 33.5, job.StartX)
	assert.False(t, job.LastRunAt.IsZero())
}

func TestHandleMoveAxisRejectsOutOfRangeWithoutTransmitting(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m5",
		Command:   CmdMoveAxis,
		Payload:   rawPayload(t, map[string]any{"axis": "X", "value": 999.0}),
	})
	assert.True(t, reply.IsError)
}

func TestHandleMoveAxisAcceptsInRangeValue(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m6",
		Command:   CmdMoveAxis,
		Payload:   rawPayload(t, map[string]any{"axis": "Y", "value": 10.0}),
	})
	assert.False(t, reply.IsError, reply.ErrorMessage)
}

func TestHandleUnknownCommand(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{MessageID: "m7", Command: "NOT_A_COMMAND"})
	assert.True(t, reply.IsError)
}

func TestHandleGetReadyStatusReflectsWatcherSnapshot(t *testing.T) {
	h := newTestHandler(t)
	h.Watcher.Run()
	t.Cleanup(h.Watcher.Stop)

	require.Eventually(t, func() bool {
		return len(h.Watcher.Snapshot()) > 0
	}, time.Second, 5*time.Millisecond)

	reply := h.Handle(Request{MessageID: "m8", Command: CmdGetReadyStatus})
	require.False(t, reply.IsError)
	msg, ok := reply.Message.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, msg["isReady"])
}

func TestHandleSetAndGetDryRunState(t *testing.T) {
	h := newTestHandler(t)
	on := true
	reply := h.Handle(Request{
		MessageID: "m9",
		Command:   CmdSetDryRunState,
		Payload:   rawPayload(t, dryRunStatePayload{Marker: &on}),
	})
	require.False(t, reply.IsError)

	reply = h.Handle(Request{MessageID: "m10", Command: CmdGetDryRunState})
	msg, ok := reply.Message.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, msg["marker"])
}

func TestHandleSetLogLevelRejectsUnknownLevel(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m11",
		Command:   CmdSetLogLevel,
		Payload:   rawPayload(t, map[string]string{"level": "verbose"}),
	})
	assert.True(t, reply.IsError)
}

func TestHandleSetLogLevelAppliesLevel(t *testing.T) {
	h := newTestHandler(t)
	reply := h.Handle(Request{
		MessageID: "m12",
		Command:   CmdSetLogLevel,
		Payload:   rawPayload(t, map[string]string{"level": "debug"}),
	})
	require.False(t, reply.IsError)
	assert.Equal(t, zapcore.DebugLevel, h.LogLevel.Level())
}
