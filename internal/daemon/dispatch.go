package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vortexlab/vortex/internal/metrics"
)

// dispatch routes one request envelope to the matching Session Manager
// call and builds the response envelope. Every error path is converted to
// a RespError envelope rather than propagated, per spec §7 ("RPC returns
// Error{message}").
func (s *Server) dispatch(ctx context.Context, req Envelope) Envelope {
	resp, err := s.handle(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		resp = errorEnvelope(err)
	}
	metrics.RecordDaemonRPC(req.Type, outcome)
	return resp
}

func (s *Server) handle(ctx context.Context, req Envelope) (Envelope, error) {
	switch req.Type {
	case CmdCreateSession:
		var p CreateSessionPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Create(ctx, p.Spec, p.Name, p.Persistent)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSessionCreated, SessionPayload{Session: sess})

	case CmdListSessions:
		return encode(RespSessionList, SessionListPayload{Sessions: s.sessions.List()})

	case CmdGetSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Get(p.SessionID)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSession, SessionPayload{Session: sess})

	case CmdDeleteSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		if err := s.sessions.Delete(ctx, p.SessionID); err != nil {
			return Envelope{}, err
		}
		return encode(RespSuccess, nil)

	case CmdStartSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Start(ctx, p.SessionID)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSession, SessionPayload{Session: sess})

	case CmdStopSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Stop(ctx, p.SessionID)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSession, SessionPayload{Session: sess})

	case CmdPauseSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Pause(p.SessionID)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSession, SessionPayload{Session: sess})

	case CmdResumeSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Resume(p.SessionID)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSession, SessionPayload{Session: sess})

	case CmdRestartSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Restart(ctx, p.SessionID)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSession, SessionPayload{Session: sess})

	case CmdAttachSession:
		var p AttachSessionPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		// Attach blocks this connection's goroutine for the interactive
		// session's lifetime; it must never block the accept loop or other
		// connections (spec §4.4 "Concurrency") — handleConn already runs
		// each connection on its own goroutine, so this is safe here.
		if err := s.sessions.Attach(ctx, p.SessionID, p.ClientPID); err != nil {
			return Envelope{}, err
		}
		return encode(RespSuccess, nil)

	case CmdDetachSession:
		var p IDPayload
		if err := unmarshalPayload(req, &p); err != nil {
			return Envelope{}, err
		}
		sess, err := s.sessions.Detach(p.SessionID)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespSession, SessionPayload{Session: sess})

	case CmdPing:
		return encode(RespPong, nil)

	case CmdShutdown:
		// Shutdown must atomically flip the running flag false before this
		// handler returns, so the accept loop observes it as soon as the
		// response is flushed (spec §4.4).
		s.running.Store(false)
		go s.listener.Close()
		return encode(RespSuccess, nil)

	case CmdGetDaemonStatus:
		activeVMs, memoryUsageMB, err := s.activeVMStats(ctx)
		if err != nil {
			return Envelope{}, err
		}
		return encode(RespDaemonStatus, DaemonStatusPayload{
			Running:       s.running.Load(),
			SessionCount:  len(s.sessions.List()),
			UptimeSeconds: int(uptimeSeconds(s.startedAt)),
			ActiveVMs:     activeVMs,
			MemoryUsageMB: memoryUsageMB,
		})

	default:
		return Envelope{}, fmt.Errorf("unknown command %q", req.Type)
	}
}

func unmarshalPayload(req Envelope, out any) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", req.Type)
	}
	if err := json.Unmarshal(req.Payload, out); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", req.Type, err)
	}
	return nil
}
