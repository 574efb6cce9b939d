package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/D1nhkh01/controller/internal/codec"
	"github.com/D1nhkh01/controller/internal/coordinator"
	"github.com/D1nhkh01/controller/internal/plcwatcher"
	"github.com/D1nhkh01/controller/internal/store"
)

// PositionConfig scales raw PLC register values into GET_POSITION's
// X/Y reply, grounded on the original's app.position.{x_index,y_index,scale}.
type PositionConfig struct {
	XIndex int
	YIndex int
	Scale  float64
}

// Handler dispatches envelope requests onto the coordinator, store,
// and PLC snapshot, implementing every command in spec.md §6's enum.
type Handler struct {
	Coordinator *coordinator.Coordinator
	Watcher     *plcwatcher.Watcher
	Store       *store.Store
	Observer    Observer
	LogLevel    *zap.AtomicLevel
	Position    PositionConfig
	DryRunState *DryRunState
}

// DryRunState mirrors the mutable dry_run toggles the original exposed
// through SET_DRY_RUN_STATE/GET_DRY_RUN_STATE.
type DryRunState struct {
	Marker bool
	Relay  bool
}

// Handle dispatches req and returns the reply envelope. It never
// panics: a handler that encounters an unexpected error returns an
// IsError reply rather than propagating.
func (h *Handler) Handle(req Request) Reply {
	cmd := strings.ToUpper(strings.TrimSpace(req.Command))
	switch cmd {
	case CmdBuiltin:
		return h.handleBuiltin(req)
	case CmdSetJob:
		return h.handleSetJob(req)
	case CmdGetJob:
		return h.handleGetJob(req)
	case CmdStartJob:
		return h.handleStartJob(req)
	case CmdSetSequence:
		return h.handleSetSequence(req)
	case CmdStartSequence:
		return h.handleStartSequence(req)
	case CmdMoveAxis:
		return h.handleMoveAxis(req)
	case CmdToggleEcho:
		return h.handleToggleEcho(req)
	case CmdGetReadyStatus:
		return h.handleGetReadyStatus(req)
	case CmdGetPosition:
		return h.handleGetPosition(req)
	case CmdSetLogLevel:
		return h.handleSetLogLevel(req)
	case CmdSetDryRunState:
		return h.handleSetDryRunState(req)
	case CmdGetDryRunState:
		return h.handleGetDryRunState(req)
	default:
		return errorReply(req.MessageID, fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (h *Handler) execute(req Request, cmd codec.Command) coordinator.Result {
	res := h.Coordinator.Execute(cmd, "ui")
	if h.Observer != nil {
		h.Observer.OnOperationResult("ui", string(cmd.Kind), res)
	}
	return res
}

func resultToReply(messageID string, res coordinator.Result, onOk func() any) Reply {
	switch res.Kind {
	case coordinator.ResultOk:
		if res.HasRelayErrors {
			return errorReply(messageID, fmt.Sprintf("relay errors: %s", strings.Join(res.RelayErrors, "; ")))
		}
		return okReply(messageID, onOk())
	case coordinator.ResultTimeout:
		last := "none"
		if res.LastCode != nil {
			last = fmt.Sprintf("0x%02X", *res.LastCode)
		}
		return errorReply(messageID, fmt.Sprintf("timeout after %dms (lastCode=%s)", res.ElapsedMs, last))
	default:
		return errorReply(messageID, res.Reason)
	}
}

type builtinPayload struct {
	State string `json:"state"`
}

func (h *Handler) handleBuiltin(req Request) Reply {
	var p builtinPayload
	_ = json.Unmarshal(req.Payload, &p)
	state := strings.TrimSpace(p.State)

	var cmd codec.Command
	switch state {
	case "rt_home":
		cmd = codec.Home()
	case "sw_reset":
		cmd = codec.Reset()
	default:
		return errorReply(req.MessageID, fmt.Sprintf("unknown builtin state %q", state))
	}
	res := h.execute(req, cmd)
	return resultToReply(req.MessageID, res, func() any { return map[string]string{"state": state} })
}

type jobPayload struct {
	JobNumber       int     `json:"JobNumber"`
	Index           int     `json:"index"`
	CharacterString string  `json:"CharacterString"`
	Text            string  `json:"text"`
	JobName         string  `json:"JobName"`
	Size            float64 `json:"Size"`
	Direction       int     `json:"Direction"`
	Speed           int     `json:"Speed"`
	StartX          float64 `json:"StartX"`
	StartY          float64 `json:"StartY"`
	PitchX          float64 `json:"PitchX"`
	PitchY          float64 `json:"PitchY"`
}

func (p jobPayload) jobNumber() int {
	if p.JobNumber != 0 {
		return p.JobNumber
	}
	if p.Index != 0 {
		return p.Index
	}
	return 1
}

func (p jobPayload) text() string {
	if p.CharacterString != "" {
		return p.CharacterString
	}
	return p.Text
}

func (h *Handler) handleSetJob(req Request) Reply {
	var p jobPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errorReply(req.MessageID, "invalid SET_JOB payload")
	}
	text := strings.TrimSpace(p.text())
	if text == "" {
		return errorReply(req.MessageID, "CharacterString/text is required")
	}
	n := p.jobNumber()

	existing, _ := h.Store.GetJob(n)
	var cachedTail []string
	if existing != nil {
		cachedTail = existing.RawTail
	}

	if err := h.Store.PutJob(n, store.Job{
		JobName:         p.JobName,
		CharacterString: text,
		Size:            p.Size,
		Direction:       p.Direction,
		Speed:           p.Speed,
		StartX:          p.StartX,
		StartY:          p.StartY,
		PitchX:          p.PitchX,
		PitchY:          p.PitchY,
	}, cachedTail); err != nil {
		return errorReply(req.MessageID, fmt.Sprintf("persist job: %v", err))
	}

	jobID, err := h.Store.EnsureJobID(n)
	if err != nil {
		return errorReply(req.MessageID, fmt.Sprintf("assign job id: %v", err))
	}

	cmd := codec.SetJob(n, codec.JobPayload{
		Size: p.Size, Direction: p.Direction, Speed: p.Speed,
		StartX: p.StartX, StartY: p.StartY, PitchX: p.PitchX, PitchY: p.PitchY,
		CharacterString: text,
	}, cachedTail)

	res := h.execute(req, cmd)
	return resultToReply(req.MessageID, res, func() any {
		return map[string]any{"Id": jobID, "JobNumber": n}
	})
}

func (h *Handler) handleGetJob(req Request) Reply {
	var p jobPayload
	_ = json.Unmarshal(req.Payload, &p)
	n := p.jobNumber()

	cmd := codec.GetJob(n)

	if h.DryRunState != nil && h.DryRunState.Marker {
		res := h.execute(req, cmd)
		if res.Kind != coordinator.ResultOk {
			return resultToReply(req.MessageID, res, nil)
		}
		return h.replyWithStoredJob(req.MessageID, n)
	}

	res := h.execute(req, cmd)
	if res.Kind != coordinator.ResultOk {
		return resultToReply(req.MessageID, res, nil)
	}

	raw := string(res.Payload)
	rec, ok := codec.ParseJobSegments(raw)
	if !ok {
		if rawFallback, err := h.Coordinator.ExecuteRawRead(cmd); err == nil {
			if r2, ok2 := codec.ParseRawJobSegments(string(rawFallback)); ok2 {
				rec, ok = r2, true
			}
		}
	}
	if !ok {
		rec = codec.ParseJobAsciiFallback(raw)
	}

	jobID, err := h.Store.EnsureJobID(n)
	if err != nil {
		return errorReply(req.MessageID, fmt.Sprintf("assign job id: %v", err))
	}
	if err := h.Store.PutJob(n, store.Job{
		CharacterString: rec.CharacterString,
		Size:            rec.Size,
		Direction:       rec.Direction,
		Speed:           rec.Speed,
		StartX:          rec.StartX,
		StartY:          rec.StartY,
		PitchX:          rec.PitchX,
		PitchY:          rec.PitchY,
	}, rec.Tail); err != nil {
		return errorReply(req.MessageID, fmt.Sprintf("persist job: %v", err))
	}

	job, _ := h.Store.GetJob(n)
	return okReply(req.MessageID, map[string]any{
		"Id":              jobID,
		"JobNumber":       n,
		"CharacterString": rec.CharacterString,
		"Size":            rec.Size,
		"Direction":       rec.Direction,
		"Speed":           rec.Speed,
		"StartX":          rec.StartX,
		"StartY":          rec.StartY,
		"PitchX":          rec.PitchX,
		"PitchY":          rec.PitchY,
		"CreatedAt":       job.CreatedAt,
		"LastRunAt":       job.LastRunAt,
	})
}

// replyWithStoredJob answers a dry-run GET_JOB by rebuilding the reply
// from whatever is already persisted for n instead of parsing the
// marker's (nonexistent, in dry-run) wire payload: the dry-run link
// never writes anything into the rx buffer, so parsing its empty
// response would overwrite the stored CharacterString/Size/Start*/
// Pitch* fields with zeros and break the SET_JOB-then-GET_JOB
// round-trip. PutJob still runs, to bump LastRunAt the same way a real
// reply would.
func (h *Handler) replyWithStoredJob(messageID string, n int) Reply {
	existing, _ := h.Store.GetJob(n)
	var fields store.Job
	var rawTail []string
	if existing != nil {
		fields = store.Job{
			CharacterString: existing.CharacterString,
			Size:            existing.Size,
			Direction:       existing.Direction,
			Speed:           existing.Speed,
			StartX:          existing.StartX,
			StartY:          existing.StartY,
			PitchX:          existing.PitchX,
			PitchY:          existing.PitchY,
		}
		rawTail = existing.RawTail
	}
	if err := h.Store.PutJob(n, fields, rawTail); err != nil {
		return errorReply(messageID, fmt.Sprintf("persist job: %v", err))
	}
	job, _ := h.Store.GetJob(n)
	return okReply(messageID, map[string]any{
		"Id":              job.ID,
		"JobNumber":       n,
		"CharacterString": job.CharacterString,
		"Size":            job.Size,
		"Direction":       job.Direction,
		"Speed":           job.Speed,
		"StartX":          job.StartX,
		"StartY":          job.StartY,
		"PitchX":          job.PitchX,
		"PitchY":          job.PitchY,
		"CreatedAt":       job.CreatedAt,
		"LastRunAt":       job.LastRunAt,
	})
}

func (h *Handler) handleStartJob(req Request) Reply {
	var p jobPayload
	_ = json.Unmarshal(req.Payload, &p)
	n := p.jobNumber()
	res := h.execute(req, codec.StartJob(n))
	return resultToReply(req.MessageID, res, func() any { return map[string]any{"index": n} })
}

type sequencePayload struct {
	Index         int    `json:"index"`
	CommandString string `json:"commandString"`
}

func (h *Handler) handleSetSequence(req Request) Reply {
	var p sequencePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errorReply(req.MessageID, "invalid SET_SEQUENCE payload")
	}
	cmdStr := strings.TrimSpace(p.CommandString)
	if cmdStr == "" {
		return errorReply(req.MessageID, "payload.commandString is required")
	}
	if err := h.Store.PutSequence(p.Index, cmdStr); err != nil {
		return errorReply(req.MessageID, fmt.Sprintf("persist sequence: %v", err))
	}
	res := h.execute(req, codec.SetSequence(p.Index, cmdStr))
	return resultToReply(req.MessageID, res, func() any { return map[string]any{"index": p.Index} })
}

func (h *Handler) handleStartSequence(req Request) Reply {
	var p sequencePayload
	_ = json.Unmarshal(req.Payload, &p)
	res := h.execute(req, codec.StartSequence(p.Index))
	return resultToReply(req.MessageID, res, func() any { return map[string]any{"index": p.Index} })
}

type moveAxisPayload struct {
	Axis  string  `json:"axis"`
	Value float64 `json:"value"`
}

func (h *Handler) handleMoveAxis(req Request) Reply {
	var p moveAxisPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errorReply(req.MessageID, "invalid MOVE_AXIS payload")
	}
	cmd, err := codec.MoveAxis(codec.Axis(strings.ToUpper(p.Axis)), p.Value)
	if err != nil {
		return errorReply(req.MessageID, err.Error())
	}
	res := h.execute(req, cmd)
	return resultToReply(req.MessageID, res, func() any { return map[string]any{"axis": p.Axis, "value": p.Value} })
}

type toggleEchoPayload struct {
	On bool `json:"on"`
}

func (h *Handler) handleToggleEcho(req Request) Reply {
	var p toggleEchoPayload
	_ = json.Unmarshal(req.Payload, &p)
	res := h.execute(req, codec.ToggleEcho(p.On))
	return resultToReply(req.MessageID, res, func() any { return map[string]any{"on": p.On} })
}

func (h *Handler) handleGetReadyStatus(req Request) Reply {
	snap := h.Watcher.Snapshot()
	ready := len(snap) > plcwatcher.IdxReady && snap[plcwatcher.IdxReady] != 0
	return okReply(req.MessageID, map[string]any{"isReady": ready})
}

func (h *Handler) handleGetPosition(req Request) Reply {
	snap := h.Watcher.Snapshot()
	var x, y float64
	if h.Position.XIndex >= 0 && h.Position.XIndex < len(snap) {
		x = float64(snap[h.Position.XIndex]) * h.scale()
	}
	if h.Position.YIndex >= 0 && h.Position.YIndex < len(snap) {
		y = float64(snap[h.Position.YIndex]) * h.scale()
	}
	return okReply(req.MessageID, map[string]any{"X": x, "Y": y})
}

func (h *Handler) scale() float64 {
	if h.Position.Scale == 0 {
		return 1.0
	}
	return h.Position.Scale
}

var logLevels = map[string]zapcore.Level{
	"off":   zapcore.FatalLevel + 1,
	"error": zapcore.ErrorLevel,
	"warn":  zapcore.WarnLevel,
	"info":  zapcore.InfoLevel,
	"debug": zapcore.DebugLevel,
}

type logLevelPayload struct {
	Level string `json:"level"`
}

func (h *Handler) handleSetLogLevel(req Request) Reply {
	var p logLevelPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errorReply(req.MessageID, "invalid SET_LOG_LEVEL payload")
	}
	level := strings.ToLower(strings.TrimSpace(p.Level))
	zl, ok := logLevels[level]
	if !ok {
		return errorReply(req.MessageID, fmt.Sprintf("invalid level %q", level))
	}
	if h.LogLevel != nil {
		h.LogLevel.SetLevel(zl)
	}
	return okReply(req.MessageID, map[string]any{"level": level})
}

type dryRunStatePayload struct {
	Marker *bool `json:"marker"`
	Relay  *bool `json:"relay"`
}

func (h *Handler) handleSetDryRunState(req Request) Reply {
	var p dryRunStatePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errorReply(req.MessageID, "invalid SET_DRY_RUN_STATE payload")
	}
	if h.DryRunState == nil {
		return errorReply(req.MessageID, "dry-run state unavailable")
	}
	if p.Marker != nil {
		h.DryRunState.Marker = *p.Marker
	}
	if p.Relay != nil {
		h.DryRunState.Relay = *p.Relay
	}
	return h.handleGetDryRunState(req)
}

func (h *Handler) handleGetDryRunState(req Request) Reply {
	if h.DryRunState == nil {
		return okReply(req.MessageID, map[string]any{"marker": false, "relay": false})
	}
	return okReply(req.MessageID, map[string]any{
		"marker": h.DryRunState.Marker,
		"relay":  h.DryRunState.Relay,
	})
}
