package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromNameRecognizesAllNames(t *testing.T) {
	assert.Equal(t, zapcore.ErrorLevel, LevelFromName("error"))
	assert.Equal(t, zapcore.WarnLevel, LevelFromName("warn"))
	assert.Equal(t, zapcore.InfoLevel, LevelFromName("info"))
	assert.Equal(t, zapcore.DebugLevel, LevelFromName("debug"))
	assert.True(t, LevelFromName("off") > zapcore.FatalLevel)
}

func TestLevelFromNameDefaultsToInfo(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, LevelFromName("bogus"))
}

func TestNewLoggerAppliesRequestedLevel(t *testing.T) {
	logger, atomic := New(Options{Level: zapcore.DebugLevel, Timestamps: true, Console: false})
	assert.NotNil(t, logger)
	assert.Equal(t, zapcore.DebugLevel, atomic.Level())
}

func TestNewSessionIDIsTwelveChars(t *testing.T) {
	assert.Len(t, newSessionID(), 12)
}
