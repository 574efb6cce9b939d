package markerlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDryRunLink(t *testing.T, delay time.Duration) *Link {
	t.Helper()
	l, err := Open(Config{DryRun: true, DryRunCompleteDelay: delay, PollInterval: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestDryRunWriteSchedulesCompletion(t *testing.T) {
	l := newDryRunLink(t, 30*time.Millisecond)
	l.Clear()
	require.NoError(t, l.Write([]byte{0x25, 0x48, 0x0D}))

	res := l.WaitComplete(500*time.Millisecond, []byte{0x1F, 0x87})
	assert.True(t, res.Ok)
	assert.Equal(t, byte(0x1F), res.Code)
}

func TestWaitCompleteTimesOutWithoutCompletion(t *testing.T) {
	l := newDryRunLink(t, time.Hour) // never fires within the test window
	l.Clear()

	res := l.WaitComplete(30*time.Millisecond, []byte{0x1F, 0x87})
	assert.False(t, res.Ok)
}

func TestClearDropsPriorCompletion(t *testing.T) {
	l := newDryRunLink(t, 10*time.Millisecond)
	l.Clear()
	require.NoError(t, l.Write(nil))
	res := l.WaitComplete(200*time.Millisecond, []byte{0x1F})
	require.True(t, res.Ok)

	l.Clear()
	res2 := l.WaitComplete(30*time.Millisecond, []byte{0x1F})
	assert.False(t, res2.Ok)
}

func TestCollectUntilCompleteDrainsBuffer(t *testing.T) {
	l := newDryRunLink(t, 20*time.Millisecond)
	l.Clear()
	// Simulate reader-appended payload bytes ahead of the completion code.
	l.mu.Lock()
	l.buffer = append(l.buffer, []byte("hello")...)
	l.mu.Unlock()

	require.NoError(t, l.Write(nil))
	res := l.CollectUntilComplete(200 * time.Millisecond)
	require.True(t, res.Ok)
	assert.Equal(t, []byte("hello"), res.Payload)

	l.mu.Lock()
	bufLen := len(l.buffer)
	l.mu.Unlock()
	assert.Zero(t, bufLen)
}

func TestSuspendResumeReaderToggle(t *testing.T) {
	l := newDryRunLink(t, time.Hour)
	l.SuspendReader()
	l.mu.Lock()
	on := l.readerOn
	l.mu.Unlock()
	assert.False(t, on)

	l.ResumeReader()
	l.mu.Lock()
	on = l.readerOn
	l.mu.Unlock()
	assert.True(t, on)
}
