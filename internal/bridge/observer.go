package bridge

import (
	"go.uber.org/zap"

	"github.com/D1nhkh01/controller/internal/coordinator"
	"github.com/D1nhkh01/controller/internal/plcwatcher"
)

// Observer receives the broadcast-style notifications the original
// implementation published over a PUB socket (op_result,
// read_response, soft_state). This repo models the hook directly
// instead of standing up a second transport.
type Observer interface {
	OnOperationResult(sourceTag string, cmdKind string, res coordinator.Result)
	OnRegisterSnapshot(snapshot plcwatcher.Snapshot)
}

// LogObserver is the default Observer: every notification goes through
// zap at an appropriate level instead of a broadcast socket.
type LogObserver struct {
	Log *zap.Logger
}

func (o LogObserver) OnOperationResult(sourceTag, cmdKind string, res coordinator.Result) {
	fields := []zap.Field{
		zap.String("source", sourceTag),
		zap.String("command", cmdKind),
		zap.Int64("elapsedMs", res.ElapsedMs),
	}
	switch res.Kind {
	case coordinator.ResultOk:
		if res.HasRelayErrors {
			o.Log.Warn("operation completed with relay errors", append(fields, zap.Strings("relayErrors", res.RelayErrors))...)
		} else {
			o.Log.Info("operation completed", fields...)
		}
	case coordinator.ResultTimeout:
		o.Log.Warn("operation timed out", fields...)
	default:
		o.Log.Error("operation failed", append(fields, zap.String("reason", res.Reason))...)
	}
}

func (o LogObserver) OnRegisterSnapshot(snapshot plcwatcher.Snapshot) {
	o.Log.Debug("plc register snapshot", zap.Any("registers", []uint16(snapshot)))
}
