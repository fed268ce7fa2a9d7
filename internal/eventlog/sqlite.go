// Package eventlog implements the append-only event log and periodic
// snapshot capabilities: an EventStore keyed by a process-wide monotonic
// event_id, and a SnapshotStore upserted by slot_id.
// Crash safety rests on the ordering the slot runtime already guarantees
// (event rows are written before the actions they authorize are executed);
// this package only has to make that write durable and make replay cheap.
package eventlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"pairgrid/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id   INTEGER PRIMARY KEY,
	slot_id    INTEGER NOT NULL,
	from_phase TEXT NOT NULL,
	to_phase   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	ts         REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_slot ON events(slot_id, event_id);

CREATE TABLE IF NOT EXISTS snapshots (
	slot_id     INTEGER PRIMARY KEY,
	event_id    INTEGER NOT NULL,
	state_json  BLOB NOT NULL,
	checksum    BLOB NOT NULL,
	long_only   INTEGER NOT NULL,
	short_only  INTEGER NOT NULL,
	loss_a      INTEGER NOT NULL,
	loss_b      INTEGER NOT NULL,
	ts          REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	ts      REAL NOT NULL,
	slot_id INTEGER NOT NULL,
	trade_id TEXT NOT NULL,
	cycle   INTEGER NOT NULL,
	side    TEXT NOT NULL,
	price   TEXT NOT NULL,
	volume  TEXT NOT NULL,
	profit  TEXT NOT NULL,
	fees    TEXT NOT NULL
);
`

// SQLiteStore is the durable EventStore + SnapshotStore + FillSink
// implementation: WAL journal mode for crash recovery and a sha256
// checksum alongside every snapshot state blob to detect corruption on
// read. Event payload rows carry no checksum.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a WAL-mode SQLite database
// and ensures the schema above exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("eventlog: ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("eventlog: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("eventlog: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append writes a batch of event rows atomically: either
// the whole batch lands or none of it does, since a crash mid-batch would
// otherwise leave the log inconsistent with the actions it is meant to
// authorize.
func (s *SQLiteStore) Append(ctx context.Context, rows []core.EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("eventlog: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (event_id, slot_id, from_phase, to_phase, kind, payload, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("eventlog: prepare append: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.EventID, row.SlotID, string(row.FromPhase), string(row.ToPhase), row.Kind, row.PayloadRaw, row.Ts); err != nil {
			return fmt.Errorf("eventlog: append event %d: %w", row.EventID, err)
		}
	}
	return tx.Commit()
}

// ReadSince returns every event row for slotID with event_id strictly
// greater than afterEventID, in ascending order; the replay path restore
// uses this after loading a snapshot.
func (s *SQLiteStore) ReadSince(ctx context.Context, slotID int64, afterEventID int64) ([]core.EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, slot_id, from_phase, to_phase, kind, payload, ts FROM events WHERE slot_id = ? AND event_id > ? ORDER BY event_id ASC`,
		slotID, afterEventID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read since: %w", err)
	}
	defer rows.Close()

	var out []core.EventRow
	for rows.Next() {
		var r core.EventRow
		var fromPhase, toPhase string
		if err := rows.Scan(&r.EventID, &r.SlotID, &fromPhase, &toPhase, &r.Kind, &r.PayloadRaw, &r.Ts); err != nil {
			return nil, fmt.Errorf("eventlog: scan event row: %w", err)
		}
		r.FromPhase = core.Phase(fromPhase)
		r.ToPhase = core.Phase(toPhase)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxEventID returns the highest event_id ever written, or 0 if the log is
// empty. The runtime resumes its monotonic counter at MaxEventID()+1 on
// restart.
func (s *SQLiteStore) MaxEventID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(event_id) FROM events`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("eventlog: max event id: %w", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	return maxID.Int64, nil
}

// Put upserts the snapshot row for a slot, checksumming the state blob so
// a torn write is detected on Get rather than restored into a slot.
func (s *SQLiteStore) Put(ctx context.Context, row core.SnapshotRow) error {
	checksum := sha256.Sum256(row.StateJSON)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (slot_id, event_id, state_json, checksum, long_only, short_only, loss_a, loss_b, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slot_id) DO UPDATE SET
		   event_id=excluded.event_id, state_json=excluded.state_json, checksum=excluded.checksum,
		   long_only=excluded.long_only, short_only=excluded.short_only,
		   loss_a=excluded.loss_a, loss_b=excluded.loss_b, ts=excluded.ts`,
		row.SlotID, row.EventID, row.StateJSON, checksum[:], row.LongOnly, row.ShortOnly, row.LossCountA, row.LossCountB, row.Ts)
	if err != nil {
		return fmt.Errorf("eventlog: put snapshot: %w", err)
	}
	return nil
}

// Get loads the snapshot row for a slot, verifying its checksum. A missing
// row is not an error; it means the slot has never been snapshotted.
func (s *SQLiteStore) Get(ctx context.Context, slotID int64) (core.SnapshotRow, bool, error) {
	var row core.SnapshotRow
	var checksum []byte
	var longOnly, shortOnly int
	row.SlotID = slotID

	err := s.db.QueryRowContext(ctx,
		`SELECT event_id, state_json, checksum, long_only, short_only, loss_a, loss_b, ts FROM snapshots WHERE slot_id = ?`,
		slotID,
	).Scan(&row.EventID, &row.StateJSON, &checksum, &longOnly, &shortOnly, &row.LossCountA, &row.LossCountB, &row.Ts)
	if err == sql.ErrNoRows {
		return core.SnapshotRow{}, false, nil
	}
	if err != nil {
		return core.SnapshotRow{}, false, fmt.Errorf("eventlog: get snapshot: %w", err)
	}
	row.LongOnly = longOnly != 0
	row.ShortOnly = shortOnly != 0

	computed := sha256.Sum256(row.StateJSON)
	if len(checksum) != len(computed) {
		return core.SnapshotRow{}, false, fmt.Errorf("eventlog: snapshot checksum length mismatch for slot %d", slotID)
	}
	for i := range computed {
		if checksum[i] != computed[i] {
			return core.SnapshotRow{}, false, fmt.Errorf("eventlog: snapshot checksum mismatch for slot %d: data corruption detected", slotID)
		}
	}
	return row, true, nil
}

// RecordFill appends a read-only (from core's perspective) fill row for
// external dashboard consumers.
func (s *SQLiteStore) RecordFill(ctx context.Context, row core.FillRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills (ts, slot_id, trade_id, cycle, side, price, volume, profit, fees) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Ts, row.SlotID, string(row.TradeID), row.Cycle, string(row.Side), row.Price.String(), row.Volume.String(), row.Profit.String(), row.Fees.String())
	if err != nil {
		return fmt.Errorf("eventlog: record fill: %w", err)
	}
	return nil
}

var (
	_ core.EventStore    = (*SQLiteStore)(nil)
	_ core.SnapshotStore = (*SQLiteStore)(nil)
	_ core.FillSink      = (*SQLiteStore)(nil)
)
