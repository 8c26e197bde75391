package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	moderncsqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const createCacheTables = `
CREATE TABLE IF NOT EXISTS exact_entries (
	cache_key TEXT PRIMARY KEY,
	response BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS semantic_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_key TEXT NOT NULL,
	query TEXT NOT NULL,
	model TEXT NOT NULL,
	embedding TEXT NOT NULL,
	response BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_semantic_model_time ON semantic_entries(model, created_at);
`

// openStore opens the database with a single connection so that every
// read-modify-write runs serially inside this process.
func openStore(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTables); err != nil {
		db.Close()
		return nil, err
	}
	if err := quickCheck(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func quickCheck(db *sql.DB) error {
	var result string
	if err := db.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", errMalformed, result)
	}
	return nil
}

// openOrReinit opens dbPath. A store that is not a database or fails its
// integrity check is moved aside and replaced by an empty one.
func openOrReinit(dbPath string) (*sql.DB, error) {
	db, err := openStore(dbPath)
	if err == nil {
		return db, nil
	}
	if !isMalformed(err) {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	logrus.WithFields(logrus.Fields{
		"path":  dbPath,
		"moved": aside,
		"error": err,
	}).Warn("[CACHE] malformed cache store, reinitializing empty")

	if err := os.Rename(dbPath, aside); err != nil {
		return nil, fmt.Errorf("move malformed store: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove %s: %w", suffix, err)
		}
	}
	return openStore(dbPath)
}

func isMalformed(err error) bool {
	if errors.Is(err, errMalformed) {
		return true
	}
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlitelib.SQLITE_CORRUPT, sqlitelib.SQLITE_NOTADB:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}
