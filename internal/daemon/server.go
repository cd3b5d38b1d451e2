package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vortexlab/vortex/internal/lifecycle"
	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/session"
)

// socketMode restricts the daemon socket to the owning user (spec §4.4
// "Socket-file permissions must restrict access to the owning user").
const socketMode = 0o600

// Server owns the listener, the Session Manager, and the running flag that
// the accept loop consults after every Shutdown command.
type Server struct {
	socketPath string
	sessions   *session.Manager
	lifecycle  *lifecycle.Manager
	logger     *slog.Logger

	listener  net.Listener
	running   atomic.Bool
	startedAt time.Time

	wg sync.WaitGroup
}

// NewServer constructs a daemon Server. Call Run to bind the socket and
// start accepting connections.
func NewServer(socketPath string, sessions *session.Manager, lc *lifecycle.Manager, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		sessions:   sessions,
		lifecycle:  lc,
		logger:     logger,
	}
}

// Run removes any stale socket file, binds a new one, runs the startup
// reconciliation pass and the stale-session GC loop, then accepts
// connections until ctx is cancelled or a client sends Shutdown. It always
// unlinks the socket file before returning (spec §4.4 "Cleanup").
func (s *Server) Run(ctx context.Context) error {
	if err := removeStaleSocket(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bind daemon socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, socketMode); err != nil {
		ln.Close()
		return fmt.Errorf("chmod daemon socket: %w", err)
	}
	s.listener = ln
	s.running.Store(true)
	s.startedAt = time.Now().UTC()

	s.reconcileAtStartup(ctx)

	gcCtx, cancelGC := context.WithCancel(ctx)
	defer cancelGC()
	go s.sessions.RunGC(gcCtx)

	go func() {
		<-ctx.Done()
		s.running.Store(false)
		ln.Close()
	}()

	s.logger.Info("daemon listening", "socket", s.socketPath)

	for s.running.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}

	s.wg.Wait()
	os.Remove(s.socketPath)
	s.logger.Info("daemon shut down", "socket", s.socketPath)
	return nil
}

// reconcileAtStartup asks every registered backend's preferred inventory
// for live VM ids and reconciles the session map against it (spec §4.3
// "Reconciliation").
func (s *Server) reconcileAtStartup(ctx context.Context) {
	instances, err := s.lifecycle.List(ctx)
	if err != nil {
		s.logger.Warn("startup reconciliation: list failed", "error", err)
		return
	}
	live := make(map[string]bool, len(instances))
	for _, inst := range instances {
		if inst.State.Tag == model.StateRunning {
			live[inst.ID] = true
		}
	}
	s.sessions.Reconcile(ctx, live)
}

// activeVMStats answers GetDaemonStatus's active_vms and memory_usage
// fields: the count of Running VMs and the sum of their requested
// MemoryMB, read fresh from the Lifecycle Manager's registry.
func (s *Server) activeVMStats(ctx context.Context) (count int, memoryUsageMB int, err error) {
	instances, err := s.lifecycle.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, inst := range instances {
		if inst.State.Tag == model.StateRunning {
			count++
			memoryUsageMB += inst.Spec.MemoryMB
		}
	}
	return count, memoryUsageMB, nil
}

// handleConn drives one client connection: each line is a request
// envelope, handled sequentially within the connection, but connections
// run fully independently of each other (spec §4.4 "Concurrency").
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.dispatchLine(ctx, line, writer)
			if err := writer.Flush(); err != nil {
				s.logger.Warn("write response failed", "error", err)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatchLine(ctx context.Context, line []byte, w *bufio.Writer) {
	var req Envelope
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeEnvelope(w, errorEnvelope(fmt.Errorf("malformed request: %w", err)))
		return
	}

	resp := s.dispatch(ctx, req)
	s.writeEnvelope(w, resp)
}

func (s *Server) writeEnvelope(w *bufio.Writer, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("failed to encode response envelope", "error", err)
		return
	}
	w.Write(data)
	w.WriteByte('\n')
}

func uptimeSeconds(startedAt time.Time) float64 {
	if startedAt.IsZero() {
		return 0
	}
	return time.Since(startedAt).Seconds()
}

// removeStaleSocket unlinks any pre-existing socket file at path. A
// concurrent daemon winning the bind race surfaces as EADDRINUSE from
// net.Listen, which the auto-spawn client treats as "someone else won;
// proceed to Ping" (spec §8 "Auto-start race").
func removeStaleSocket(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
