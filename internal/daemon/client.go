package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/vortexlab/vortex/internal/model"
)

// autoSpawnAttempts and autoSpawnInterval implement the client-side
// auto-start protocol from spec §4.4: "re-execs the same binary... polls
// Ping at 500ms intervals, up to 10 attempts".
const (
	autoSpawnAttempts = 10
	autoSpawnInterval = 500 * time.Millisecond
)

// RunDaemonArg is the hidden CLI argument the auto-spawn client passes to
// re-exec itself as a background daemon (spec §4.4 "Auto-spawn client").
const RunDaemonArg = "__run_daemon__"

// Client is a thin request/response wrapper around one daemon connection.
// A Client is not safe for concurrent use by multiple goroutines; callers
// needing concurrency should open one Client per goroutine.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader
}

// Dial connects to an already-running daemon. It does not attempt to spawn one.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{socketPath: socketPath, conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends a request envelope and returns the decoded response envelope.
func (c *Client) Call(tag string, payload any) (Envelope, error) {
	req, err := encode(tag, payload)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return Envelope{}, fmt.Errorf("write request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Envelope{}, fmt.Errorf("read response: %w", err)
	}

	var resp Envelope
	if err := json.Unmarshal(line, &resp); err != nil {
		return Envelope{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Type == RespError {
		var ep ErrorPayload
		if err := json.Unmarshal(resp.Payload, &ep); err == nil {
			return Envelope{}, errors.New(ep.Message)
		}
		return Envelope{}, errors.New("daemon returned an unparseable error")
	}
	return resp, nil
}

// Ping sends CmdPing and returns nil if the daemon replied Pong.
func (c *Client) Ping() error {
	resp, err := c.Call(CmdPing, nil)
	if err != nil {
		return err
	}
	if resp.Type != RespPong {
		return fmt.Errorf("unexpected reply to Ping: %s", resp.Type)
	}
	return nil
}

// CreateSession issues CmdCreateSession and decodes the resulting session.
func (c *Client) CreateSession(spec model.VmSpec, name string, persistent bool) (model.VmSession, error) {
	resp, err := c.Call(CmdCreateSession, CreateSessionPayload{Spec: spec, Name: name, Persistent: persistent})
	if err != nil {
		return model.VmSession{}, err
	}
	var p SessionPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return model.VmSession{}, fmt.Errorf("decode session: %w", err)
	}
	return p.Session, nil
}

// ListSessions issues CmdListSessions.
func (c *Client) ListSessions() ([]model.VmSession, error) {
	resp, err := c.Call(CmdListSessions, nil)
	if err != nil {
		return nil, err
	}
	var p SessionListPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode session list: %w", err)
	}
	return p.Sessions, nil
}

// GetSession issues CmdGetSession.
func (c *Client) GetSession(id string) (model.VmSession, error) {
	return c.sessionCall(CmdGetSession, IDPayload{SessionID: id})
}

// StartSession issues CmdStartSession.
func (c *Client) StartSession(id string) (model.VmSession, error) {
	return c.sessionCall(CmdStartSession, IDPayload{SessionID: id})
}

// StopSession issues CmdStopSession.
func (c *Client) StopSession(id string) (model.VmSession, error) {
	return c.sessionCall(CmdStopSession, IDPayload{SessionID: id})
}

// PauseSession issues CmdPauseSession.
func (c *Client) PauseSession(id string) (model.VmSession, error) {
	return c.sessionCall(CmdPauseSession, IDPayload{SessionID: id})
}

// ResumeSession issues CmdResumeSession.
func (c *Client) ResumeSession(id string) (model.VmSession, error) {
	return c.sessionCall(CmdResumeSession, IDPayload{SessionID: id})
}

// RestartSession issues CmdRestartSession.
func (c *Client) RestartSession(id string) (model.VmSession, error) {
	return c.sessionCall(CmdRestartSession, IDPayload{SessionID: id})
}

// DetachSession issues CmdDetachSession.
func (c *Client) DetachSession(id string) (model.VmSession, error) {
	return c.sessionCall(CmdDetachSession, IDPayload{SessionID: id})
}

// DeleteSession issues CmdDeleteSession.
func (c *Client) DeleteSession(id string) error {
	_, err := c.Call(CmdDeleteSession, IDPayload{SessionID: id})
	return err
}

// AttachSession issues CmdAttachSession and blocks until the daemon's reply
// arrives — which, per spec §4.4, it does only once the interactive child
// process has exited.
func (c *Client) AttachSession(id string, clientPID int) error {
	_, err := c.Call(CmdAttachSession, AttachSessionPayload{SessionID: id, ClientPID: clientPID})
	return err
}

// GetDaemonStatus issues CmdGetDaemonStatus.
func (c *Client) GetDaemonStatus() (DaemonStatusPayload, error) {
	resp, err := c.Call(CmdGetDaemonStatus, nil)
	if err != nil {
		return DaemonStatusPayload{}, err
	}
	var p DaemonStatusPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return DaemonStatusPayload{}, fmt.Errorf("decode daemon status: %w", err)
	}
	return p, nil
}

// Shutdown issues CmdShutdown.
func (c *Client) Shutdown() error {
	_, err := c.Call(CmdShutdown, nil)
	return err
}

func (c *Client) sessionCall(tag string, payload any) (model.VmSession, error) {
	resp, err := c.Call(tag, payload)
	if err != nil {
		return model.VmSession{}, err
	}
	var p SessionPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return model.VmSession{}, fmt.Errorf("decode session: %w", err)
	}
	return p.Session, nil
}

// EnsureRunning implements spec §4.4's auto-spawn client: it pings the
// socket, and on connect refusal, re-execs the current binary with
// RunDaemonArg to start a background daemon, then polls Ping until it
// answers or autoSpawnAttempts is exhausted.
func EnsureRunning(ctx context.Context, socketPath string) (*Client, error) {
	if c, err := Dial(socketPath); err == nil {
		if err := c.Ping(); err == nil {
			return c, nil
		}
		c.Close()
	}

	if err := spawnBackground(); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}

	for attempt := 0; attempt < autoSpawnAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(autoSpawnInterval):
		}

		c, err := Dial(socketPath)
		if err != nil {
			continue
		}
		if err := c.Ping(); err != nil {
			c.Close()
			continue
		}
		return c, nil
	}

	return nil, fmt.Errorf("daemon did not become reachable after %d attempts", autoSpawnAttempts)
}

// spawnBackground re-execs the running binary with RunDaemonArg, detached
// from the calling process's terminal.
func spawnBackground() error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(self, RunDaemonArg)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = daemonSysProcAttr()

	return cmd.Start()
}
