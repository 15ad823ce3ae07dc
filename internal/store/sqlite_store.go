package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	_ "modernc.org/sqlite"
)

// startedLayout is fixed width so started_at sorts lexically in time order.
const startedLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dbPath, err := resolveDBPath(path)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func resolveDBPath(path string) (string, error) {
	abs := filepath.Clean(path)
	if strings.HasSuffix(abs, ".db") {
		if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
			return "", err
		}
		return abs, nil
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(abs, "journal.db"), nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS operations (id TEXT PRIMARY KEY, vm_name TEXT NOT NULL, verb TEXT NOT NULL, status TEXT NOT NULL, started_at TEXT NOT NULL, data BLOB NOT NULL);",
		"CREATE INDEX IF NOT EXISTS idx_operations_vm_time ON operations(vm_name, started_at);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Record(op *models.Operation) error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	started := op.StartedAt.UTC().Format(startedLayout)
	_, err = s.db.Exec(`INSERT INTO operations (id, vm_name, verb, status, started_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET vm_name=excluded.vm_name, verb=excluded.verb, status=excluded.status, started_at=excluded.started_at, data=excluded.data`,
		op.ID, op.VM, string(op.Verb), op.Status, started, data)
	return err
}

func (s *SQLiteStore) Get(id string) (*models.Operation, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT data FROM operations WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var op models.Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *SQLiteStore) List(vm string, limit int) ([]models.Operation, error) {
	query := `SELECT data FROM operations`
	var args []any
	if vm != "" {
		query += ` WHERE vm_name = ?`
		args = append(args, vm)
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	ops := []models.Operation{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var op models.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
