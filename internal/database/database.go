package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a profile or session row does not exist.
var ErrNotFound = errors.New("database: record not found")

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, now: func() time.Time { return time.Now().UTC() }}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			telegram_id INTEGER PRIMARY KEY,
			username TEXT,
			first_name TEXT,
			country TEXT,
			age INTEGER,
			total_sessions INTEGER NOT NULL DEFAULT 0,
			total_link_clicks INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			country TEXT,
			age INTEGER,
			amount_requested INTEGER,
			term_days INTEGER,
			payment_method TEXT,
			zero_percent_only INTEGER NOT NULL DEFAULT 0,
			shown_offers TEXT NOT NULL DEFAULT '[]',
			completed INTEGER NOT NULL DEFAULT 0,
			clicked_offer_id TEXT,
			session_start TEXT NOT NULL,
			session_end TEXT,
			FOREIGN KEY (user_id) REFERENCES users (telegram_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS link_clicks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			session_id TEXT,
			offer_id TEXT NOT NULL,
			country TEXT,
			clicked_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users (telegram_id) ON DELETE CASCADE,
			FOREIGN KEY (session_id) REFERENCES sessions (id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(session_start)`,
		`CREATE INDEX IF NOT EXISTS idx_link_clicks_user_id ON link_clicks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_link_clicks_offer_id ON link_clicks(offer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_link_clicks_clicked_at ON link_clicks(clicked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_link_clicks_country ON link_clicks(country)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func (db *DB) timestamp() string {
	return db.now().Format(time.RFC3339)
}

// serializeOfferIDs converts a slice of offer ids to a JSON string.
func serializeOfferIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return strings.Join(ids, ",")
	}
	return string(data)
}

// deserializeOfferIDs converts a serialized id list back to a slice.
func deserializeOfferIDs(serialized string) []string {
	if serialized == "" || serialized == "[]" {
		return []string{}
	}

	var result []string
	if err := json.Unmarshal([]byte(serialized), &result); err == nil {
		return result
	}

	return strings.Split(serialized, ",")
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
