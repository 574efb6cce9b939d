// Package logging builds the bridge's zap.Logger, attaching the same
// persistent context fields original_source/logger_setup.py's
// _ContextFilter stamped onto every record (service, version, session,
// host, pid, plus the fixed Environment/Component/Application/
// DeviceType identifiers used to filter logs by source system).
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/google/uuid"
)

const (
	serviceName  = "bridge-controller"
	serviceVersion = "1.0.0"
	environment  = "Development"
	component    = "BridgeController"
	application  = "Controller"
	deviceType   = "VM2030LaserMarker"
)

var levelByName = map[string]zapcore.Level{
	"off":   zapcore.FatalLevel + 1,
	"error": zapcore.ErrorLevel,
	"warn":  zapcore.WarnLevel,
	"info":  zapcore.InfoLevel,
	"debug": zapcore.DebugLevel,
}

// LevelFromName maps a recognized --log-level/logging.level string to
// a zapcore.Level, defaulting to Info on an unrecognized name.
func LevelFromName(name string) zapcore.Level {
	if lvl, ok := levelByName[name]; ok {
		return lvl
	}
	return zapcore.InfoLevel
}

// Options controls console/timestamp formatting, mirroring spec.md
// §6's logging.{timestamps,console} options.
type Options struct {
	Level      zapcore.Level
	Timestamps bool
	Console    bool
}

// New builds a *zap.Logger plus the mutable zap.AtomicLevel backing
// it, so SET_LOG_LEVEL can adjust verbosity at runtime without
// reconstructing the logger.
func New(opts Options) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(opts.Level)

	encCfg := zap.NewProductionEncoderConfig()
	if !opts.Timestamps {
		encCfg.TimeKey = zapcore.OmitKey
	} else {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if opts.Console {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	logger := zap.New(core).With(contextFields()...)
	return logger, level
}

func contextFields() []zap.Field {
	host, _ := os.Hostname()
	return []zap.Field{
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
		zap.String("session", newSessionID()),
		zap.String("host", host),
		zap.Int("pid", os.Getpid()),
		zap.String("Environment", environment),
		zap.String("Component", component),
		zap.String("Application", application),
		zap.String("DeviceType", deviceType),
	}
}

func newSessionID() string {
	return uuid.NewString()[:12]
}
