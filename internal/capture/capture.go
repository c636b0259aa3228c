// Package capture records decoded packets to SQLite for later inspection.
package capture

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/muurk/tuyalocal/internal/protocol"
)

// Store wraps sqlite.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	sessions map[string]string // connection id -> capture session id
	device   string
}

// Entry is one recorded packet.
type Entry struct {
	ID         int64
	Session    string
	Direction  string
	Command    protocol.Command
	Sequence   uint32
	ReturnCode *uint32
	Payload    []byte
	At         time.Time
}

// Open opens db at path, runs migrations. device labels every session
// started through this store.
func Open(path, device string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection so ":memory:" databases are shared.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, sessions: make(map[string]string), device: device}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			conn_id TEXT NOT NULL,
			device TEXT NOT NULL,
			started_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS packets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			direction TEXT NOT NULL,
			command INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			return_code INTEGER,
			payload TEXT NOT NULL,
			at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_packets_session ON packets(session_id);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores pkt under the capture session of connID, creating the
// session on first use. It satisfies conn.Recorder.
func (s *Store) Record(connID, direction string, pkt protocol.Packet) error {
	session, err := s.session(connID)
	if err != nil {
		return err
	}

	var code any
	if pkt.HasReturnCode {
		code = int64(pkt.ReturnCode)
	}
	_, err = s.db.Exec(
		"INSERT INTO packets (session_id, direction, command, seq, return_code, payload, at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		session, direction, uint32(pkt.Command), int64(pkt.Sequence), code,
		hex.EncodeToString(pkt.Payload.Raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording packet: %w", err)
	}
	return nil
}

func (s *Store) session(connID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.sessions[connID]; ok {
		return id, nil
	}

	id := uuid.NewString()
	_, err := s.db.Exec("INSERT INTO sessions (id, conn_id, device, started_at) VALUES (?, ?, ?, ?)",
		id, connID, s.device, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("starting capture session: %w", err)
	}
	s.sessions[connID] = id
	return id, nil
}

// Sessions returns capture session ids, oldest first.
func (s *Store) Sessions() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM sessions ORDER BY started_at, rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns the packets of a session in recording order.
func (s *Store) List(session string) ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT id, session_id, direction, command, seq, return_code, payload, at FROM packets WHERE session_id = ? ORDER BY id",
		session,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			cmd     uint32
			seq     int64
			code    sql.NullInt64
			payload string
			at      string
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Direction, &cmd, &seq, &code, &payload, &at); err != nil {
			return nil, err
		}
		e.Command = protocol.Command(cmd)
		e.Sequence = uint32(seq)
		if code.Valid {
			c := uint32(code.Int64)
			e.ReturnCode = &c
		}
		if e.Payload, err = hex.DecodeString(payload); err != nil {
			return nil, fmt.Errorf("packet %d: %w", e.ID, err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
