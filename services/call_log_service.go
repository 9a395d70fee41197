package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CallLogClient records every upstream API call in a local SQLite database
// for debugging and quota post-mortems. Logging failures never propagate to
// the caller.
type CallLogClient struct {
	db *sql.DB
	mu sync.Mutex
}

// APICallRecord is one logged upstream call
type APICallRecord struct {
	ID           int64     `json:"id"`
	APIName      string    `json:"api_name"`
	Endpoint     string    `json:"endpoint"`
	StatusCode   int       `json:"status_code"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message"`
	ResponseMS   int64     `json:"response_time_ms"`
	CalledAt     time.Time `json:"called_at"`
}

// Global call log client
var GlobalCallLog *CallLogClient

// InitCallLog opens (or creates) the local call log database.
func InitCallLog(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create call log directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open call log database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping call log database: %w", err)
	}

	table := `
		CREATE TABLE IF NOT EXISTS api_call_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_name VARCHAR NOT NULL,
			endpoint VARCHAR NOT NULL,
			status_code INTEGER,
			success BOOLEAN NOT NULL,
			error_message VARCHAR,
			response_time_ms INTEGER,
			called_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := db.Exec(table); err != nil {
		return fmt.Errorf("failed to create api_call_logs table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_api_called ON api_call_logs (api_name, called_at)`); err != nil {
		return fmt.Errorf("failed to create call log index: %w", err)
	}

	GlobalCallLog = &CallLogClient{db: db}
	log.Printf("API call log initialized at %s", path)
	return nil
}

// Close closes the call log database.
func (c *CallLogClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// LogCall records one upstream call. Errors are logged and swallowed so a
// broken call log cannot take down a scan.
func (c *CallLogClient) LogCall(apiName, endpoint string, statusCode int, success bool, errMsg string, responseMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := `
		INSERT INTO api_call_logs (api_name, endpoint, status_code, success, error_message, response_time_ms, called_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := c.db.Exec(query, apiName, endpoint, statusCode, success, errMsg, responseMS, time.Now().UTC()); err != nil {
		log.Printf("Failed to log API call: %v", err)
	}
}

// RecentCalls returns the newest logged calls for an API.
func (c *CallLogClient) RecentCalls(apiName string, limit int) ([]APICallRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.Query(`
		SELECT id, api_name, endpoint, status_code, success, error_message, response_time_ms, called_at
		FROM api_call_logs
		WHERE api_name = ?
		ORDER BY called_at DESC
		LIMIT ?
	`, apiName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call log: %w", err)
	}
	defer rows.Close()

	var records []APICallRecord
	for rows.Next() {
		var rec APICallRecord
		var statusCode sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.APIName, &rec.Endpoint, &statusCode, &rec.Success, &errMsg, &rec.ResponseMS, &rec.CalledAt); err != nil {
			return nil, fmt.Errorf("failed to scan call log row: %w", err)
		}
		rec.StatusCode = int(statusCode.Int64)
		rec.ErrorMessage = errMsg.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LogAPICall is a nil-safe helper for callers that do not care whether the
// call log is configured.
func LogAPICall(apiName, endpoint string, statusCode int, success bool, errMsg string, responseMS int64) {
	if GlobalCallLog == nil {
		return
	}
	GlobalCallLog.LogCall(apiName, endpoint, statusCode, success, errMsg, responseMS)
}
