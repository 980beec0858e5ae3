package vm

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Content addressing
// ---------------------------------------------------------------------------

// ContentHash computes the sha256 content hash of a program over its
// instruction words and string table. The name is deliberately excluded:
// two programs with identical encodings are the same program.
func ContentHash(p *Program) [32]byte {
	h := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(len(p.Words)))
	h.Write(buf[:])
	for _, w := range p.Words {
		binary.BigEndian.PutUint64(buf[:], w)
		h.Write(buf[:])
	}

	binary.BigEndian.PutUint64(buf[:], uint64(len(p.Strings)))
	h.Write(buf[:])
	for _, s := range p.Strings {
		binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// ContentHashString returns the hex form of ContentHash.
func ContentHashString(p *Program) string {
	h := ContentHash(p)
	return hex.EncodeToString(h[:])
}

// ---------------------------------------------------------------------------
// RunStore: sqlite-backed execution history
// ---------------------------------------------------------------------------

// RunRecord is one recorded execution, keyed to its program by content
// hash.
type RunRecord struct {
	ID          string
	ProgramHash string
	Mode        string // "generic" or "specialized"
	Result      Word
	Output      string
	CreatedAt   time.Time
}

// RunStore persists run records in a sqlite database so run history
// survives across processes.
type RunStore struct {
	db   *sql.DB
	path string
}

// OpenRunStore opens (creating if needed) a run store at the given path.
func OpenRunStore(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vm: opening run store: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("vm: setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		program_hash TEXT NOT NULL,
		mode         TEXT NOT NULL,
		result       INTEGER NOT NULL,
		output       TEXT NOT NULL,
		created_at   TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vm: creating runs table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_hash ON runs(program_hash)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vm: creating runs index: %w", err)
	}

	return &RunStore{db: db, path: path}, nil
}

// Record inserts a run record, filling in ID and CreatedAt when empty.
// The result word is stored in sqlite's signed 64-bit column and mapped
// back on read.
func (s *RunStore) Record(rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, program_hash, mode, result, output, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProgramHash, rec.Mode, int64(rec.Result), rec.Output,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("vm: recording run %s: %w", rec.ID, err)
	}
	return nil
}

// RunsFor returns the recorded runs of a program, oldest first.
func (s *RunStore) RunsFor(programHash string) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, program_hash, mode, result, output, created_at
		 FROM runs WHERE program_hash = ? ORDER BY created_at`,
		programHash,
	)
	if err != nil {
		return nil, fmt.Errorf("vm: querying runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var result int64
		var created string
		if err := rows.Scan(&rec.ID, &rec.ProgramHash, &rec.Mode, &result, &rec.Output, &created); err != nil {
			return nil, fmt.Errorf("vm: scanning run: %w", err)
		}
		rec.Result = Word(result)
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("vm: parsing run timestamp: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}
