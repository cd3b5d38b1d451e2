// Package eventlog persists the VM event stream to a local SQLite database
// so `vortex metrics` can report VM history across daemon restarts, the way
// the teacher's store package keeps a durable workload history. It also
// implements lifecycle.EventHandler, so it can be registered directly with
// the Lifecycle Manager's event fan-out (spec §2 "Event handlers").
package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"

	"github.com/vortexlab/vortex/internal/lifecycle"
	"github.com/vortexlab/vortex/internal/model"
)

var _ lifecycle.EventHandler = (*Store)(nil)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS vm_events (
	id          TEXT PRIMARY KEY,
	tag         TEXT NOT NULL,
	vm_id       TEXT NOT NULL,
	message     TEXT,
	snapshot_id TEXT,
	cpu         REAL,
	memory      INTEGER,
	at          DATETIME NOT NULL
)`

const createVMIDIndex = `CREATE INDEX IF NOT EXISTS idx_vm_events_vm_id ON vm_events(vm_id)`

// Store is a SQLite-backed append-only log of VmEvents.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the event log database at dbPath, in
// the same WAL + busy-timeout configuration the teacher's SQLiteStore uses.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vm_events table: %w", err)
	}
	if _, err := db.Exec(createVMIDIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vm_events index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Name satisfies lifecycle.EventHandler.
func (s *Store) Name() string { return "eventlog" }

// Handle satisfies lifecycle.EventHandler: it appends event to the log. A
// write failure is returned to the caller, which (per spec §4.2 "Event
// fan-out") logs it and moves on to the next handler, so a failed write
// never aborts delivery. The insert runs synchronously on the producer's
// goroutine with no internal queue, so delivery waits for it (up to the
// 5-second busy timeout when the database is locked).
func (s *Store) Handle(event model.VmEvent) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO vm_events (id, tag, vm_id, message, snapshot_id, cpu, memory, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), string(event.Tag), event.VmID, event.Message,
		event.SnapshotID, event.CPU, event.Memory, event.At,
	)
	if err != nil {
		return fmt.Errorf("insert vm event: %w", err)
	}
	return nil
}

// ForVM returns every event recorded for vmID, oldest first.
func (s *Store) ForVM(ctx context.Context, vmID string) ([]model.VmEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, vm_id, message, snapshot_id, cpu, memory, at
		 FROM vm_events WHERE vm_id = ? ORDER BY at ASC`, vmID)
	if err != nil {
		return nil, fmt.Errorf("query vm events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Recent returns the most recently recorded events across all VMs, newest
// first, capped at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.VmEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, vm_id, message, snapshot_id, cpu, memory, at
		 FROM vm_events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent vm events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]model.VmEvent, error) {
	var events []model.VmEvent
	for rows.Next() {
		var e model.VmEvent
		var tag string
		var message, snapshotID sql.NullString
		var cpu sql.NullFloat64
		var memory sql.NullInt64

		if err := rows.Scan(&tag, &e.VmID, &message, &snapshotID, &cpu, &memory, &e.At); err != nil {
			return nil, fmt.Errorf("scan vm event: %w", err)
		}
		e.Tag = model.VmEventTag(tag)
		e.Message = message.String
		e.SnapshotID = snapshotID.String
		e.CPU = cpu.Float64
		e.Memory = uint64(memory.Int64)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vm events: %w", err)
	}
	return events, nil
}
