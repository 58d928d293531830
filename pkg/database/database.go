package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/seqforge/protrain/pkg/config"
)

var DebugLog func(string, ...interface{})

type DB struct {
	conn    *sql.DB
	enabled bool
}

type RunRecord struct {
	ID         int64
	Experiment string
	Name       string
	Dataset    string
	MaxTokens  int
	AccumSteps int
	Devices    string
	Status     string
	ExitCode   sql.NullInt64
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

const (
	DBName = "protrain_runs"

	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

func New(cfg *config.Database) (*DB, error) {
	db := &DB{
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		return db, nil
	}

	postgresConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password)

	postgresConn, err := sql.Open("postgres", postgresConnStr)
	if err != nil {
		return db, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer postgresConn.Close()

	if err := postgresConn.Ping(); err != nil {
		return db, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var exists bool
	err = postgresConn.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", DBName).Scan(&exists)
	if err != nil {
		return db, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		_, err = postgresConn.Exec(fmt.Sprintf("CREATE DATABASE %s", DBName))
		if err != nil {
			return db, fmt.Errorf("failed to create database: %w", err)
		}
		fmt.Printf("[INF] Database '%s' created successfully.\n", DBName)
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, DBName)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return db, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return db, fmt.Errorf("failed to ping database: %w", err)
	}

	db.conn = conn

	if err := db.initSchema(); err != nil {
		return db, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	if !db.enabled || db.conn == nil {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id SERIAL PRIMARY KEY,
		experiment VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		dataset VARCHAR(255) NOT NULL,
		max_tokens INTEGER NOT NULL,
		accum_steps INTEGER NOT NULL,
		devices VARCHAR(64) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'RUNNING',
		exit_code INTEGER,
		started_at TIMESTAMP NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) IsEnabled() bool {
	return db.enabled && db.conn != nil
}

// StartRun inserts a RUNNING row and returns its id for FinishRun.
func (db *DB) StartRun(experiment, name, dataset string, maxTokens, accumSteps int, devices string) (int64, error) {
	if !db.IsEnabled() {
		return 0, nil
	}

	if DebugLog != nil {
		DebugLog("recording run start for %s/%s in database", experiment, name)
	}

	var id int64
	err := db.conn.QueryRow(`
		INSERT INTO runs (experiment, name, dataset, max_tokens, accum_steps, devices, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'RUNNING', NOW())
		RETURNING id
	`, experiment, name, dataset, maxTokens, accumSteps, devices).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record run start: %w", err)
	}

	return id, nil
}

func (db *DB) FinishRun(id int64, exitCode int) error {
	if !db.IsEnabled() || id == 0 {
		return nil
	}

	status := StatusCompleted
	if exitCode != 0 {
		status = StatusFailed
	}

	if DebugLog != nil {
		DebugLog("marking run %d as %s (exit code %d)", id, status, exitCode)
	}

	_, err := db.conn.Exec(`
		UPDATE runs
		SET status = $1, exit_code = $2, finished_at = NOW()
		WHERE id = $3
	`, status, exitCode, id)
	if err != nil {
		return fmt.Errorf("failed to record run outcome: %w", err)
	}

	return nil
}

func (db *DB) QueryRuns(experiment string, status string) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT id, experiment, name, dataset, max_tokens, accum_steps, devices, status, exit_code, started_at, finished_at
		FROM runs
		WHERE experiment = $1
	`
	args := []interface{}{experiment}

	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}

	query += " ORDER BY started_at DESC"

	return db.queryRecords(query, args...)
}

func (db *DB) QueryAllRuns(status string) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT id, experiment, name, dataset, max_tokens, accum_steps, devices, status, exit_code, started_at, finished_at
		FROM runs
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}

	query += " ORDER BY experiment, started_at DESC"

	return db.queryRecords(query, args...)
}

func (db *DB) queryRecords(query string, args ...interface{}) ([]RunRecord, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Experiment, &r.Name, &r.Dataset, &r.MaxTokens, &r.AccumSteps,
			&r.Devices, &r.Status, &r.ExitCode, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
