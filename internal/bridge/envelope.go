// Package bridge wires Codec, modbus.Client, markerlink.Link,
// relay.Choreographer, coordinator.Coordinator, plcwatcher.Watcher and
// store.Store into the request/reply envelope described by spec.md §6.
package bridge

import "encoding/json"

// Request is the inbound envelope over the reply socket.
type Request struct {
	MessageID    string          `json:"messageId"`
	Timestamp    string          `json:"timestamp"`
	TargetDevice string          `json:"targetDevice"`
	Command      string          `json:"command"`
	Payload      json.RawMessage `json:"payload"`
}

// Reply is the outbound envelope.
type Reply struct {
	CorrelationID string `json:"CorrelationId"`
	IsError       bool   `json:"IsError"`
	ErrorMessage  string `json:"ErrorMessage,omitempty"`
	Message       any    `json:"Message,omitempty"`
}

func errorReply(correlationID, msg string) Reply {
	return Reply{CorrelationID: correlationID, IsError: true, ErrorMessage: msg}
}

func okReply(correlationID string, message any) Reply {
	return Reply{CorrelationID: correlationID, IsError: false, Message: message}
}

// Recognized commands (spec.md §6).
const (
	CmdBuiltin        = "BUILTIN_COMMAND"
	CmdSetJob         = "SET_JOB"
	CmdGetJob         = "GET_JOB"
	CmdStartJob       = "START_JOB"
	CmdSetSequence    = "SET_SEQUENCE"
	CmdStartSequence  = "START_SEQUENCE"
	CmdMoveAxis       = "MOVE_AXIS"
	CmdToggleEcho     = "TOGGLE_ECHO"
	CmdGetReadyStatus = "GET_READY_STATUS"
	CmdGetPosition    = "GET_POSITION"
	CmdSetLogLevel    = "SET_LOG_LEVEL"
	CmdSetDryRunState = "SET_DRY_RUN_STATE"
	CmdGetDryRunState = "GET_DRY_RUN_STATE"
)
