// Package daemon implements the Session Daemon & RPC surface (spec §4.4): a
// local stream-socket listener that multiplexes concurrent client
// connections, each exchanging newline-delimited JSON command/response
// envelopes with the Session Manager. It is grounded on the teacher's
// internal/api.Server for connection lifecycle and graceful shutdown, with
// the HTTP/REST transport replaced by a raw Unix socket because the spec
// calls for a line-oriented local-only protocol, not a web API.
package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/vortexlab/vortex/internal/model"
)

// Envelope is the wire shape of every request and response: a tagged
// union encoded as {"type": "<Tag>", "payload": {...}}, matching the
// tagged-union style the teacher's firecracker.GuestMessage uses for its
// vsock guest-agent protocol (SPEC_FULL.md §4.4).
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command tags, one per spec §4.4 RPC command.
const (
	CmdCreateSession   = "CreateSession"
	CmdListSessions    = "ListSessions"
	CmdGetSession      = "GetSession"
	CmdDeleteSession   = "DeleteSession"
	CmdStartSession    = "StartSession"
	CmdStopSession     = "StopSession"
	CmdPauseSession    = "PauseSession"
	CmdResumeSession   = "ResumeSession"
	CmdRestartSession  = "RestartSession"
	CmdAttachSession   = "AttachSession"
	CmdDetachSession   = "DetachSession"
	CmdPing            = "Ping"
	CmdShutdown        = "Shutdown"
	CmdGetDaemonStatus = "GetDaemonStatus"
)

// Response tags.
const (
	RespSessionCreated = "SessionCreated"
	RespSession        = "Session"
	RespSessionList    = "SessionList"
	RespSuccess        = "Success"
	RespPong           = "Pong"
	RespDaemonStatus   = "DaemonStatus"
	RespError          = "Error"
)

// CreateSessionPayload is the payload for CmdCreateSession.
type CreateSessionPayload struct {
	Spec       model.VmSpec `json:"spec"`
	Name       string       `json:"name,omitempty"`
	Persistent bool         `json:"persistent"`
}

// IDPayload carries a single session id, used by GetSession, DeleteSession,
// StartSession, StopSession, PauseSession, ResumeSession, RestartSession,
// and DetachSession.
type IDPayload struct {
	SessionID string `json:"session_id"`
}

// AttachSessionPayload is the payload for CmdAttachSession.
type AttachSessionPayload struct {
	SessionID string `json:"session_id"`
	ClientPID int    `json:"client_pid"`
}

// SessionPayload wraps a single session in a response.
type SessionPayload struct {
	Session model.VmSession `json:"session"`
}

// SessionListPayload wraps a session slice in a response.
type SessionListPayload struct {
	Sessions []model.VmSession `json:"sessions"`
}

// ErrorPayload carries a human-readable error message, derived from the
// internal error's Error() string (spec §7 "RPC returns Error{message}").
type ErrorPayload struct {
	Message string `json:"message"`
}

// DaemonStatusPayload answers GetDaemonStatus, matching spec §4.4's
// DaemonStatus{uptime,sessions_count,active_vms,memory_usage}.
type DaemonStatusPayload struct {
	Running       bool `json:"running"`
	SessionCount  int  `json:"session_count"`
	UptimeSeconds int  `json:"uptime_seconds"`

	// ActiveVMs is the number of VMs currently in the Running state at the
	// Lifecycle Manager, independent of how many sessions reference them.
	ActiveVMs int `json:"active_vms"`

	// MemoryUsageMB is the sum of requested MemoryMB across active VMs —
	// the same advisory estimate basis as backend.Metrics, not a live
	// host-measured figure.
	MemoryUsageMB int `json:"memory_usage"`
}

// encode builds an Envelope from a tag and a payload value.
func encode(tag string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: tag}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	return Envelope{Type: tag, Payload: raw}, nil
}

// errorEnvelope builds the standard {"type":"Error","payload":{"message":...}} response.
func errorEnvelope(err error) Envelope {
	env, encErr := encode(RespError, ErrorPayload{Message: err.Error()})
	if encErr != nil {
		// encoding a plain string payload cannot fail; this is unreachable
		// in practice but keeps encode's error return meaningful elsewhere.
		return Envelope{Type: RespError}
	}
	return env
}
