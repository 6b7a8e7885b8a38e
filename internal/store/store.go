package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/etl"
)

// insertColumns are written per row; maxRowsPerInsert keeps a statement under
// the PostgreSQL limit of 65535 bind parameters.
var insertColumns = []string{"run_id", "record_id", "redacted_data_json", "is_pii", "standalone_fields", "combinatorial_fields"}

const maxRowsPerInsert = 5000

const schema = `
CREATE TABLE IF NOT EXISTS pii_scan_results (
	id                   BIGSERIAL PRIMARY KEY,
	run_id               TEXT        NOT NULL,
	record_id            TEXT        NOT NULL,
	redacted_data_json   TEXT        NOT NULL,
	is_pii               BOOLEAN     NOT NULL,
	standalone_fields    TEXT[]      NOT NULL DEFAULT '{}',
	combinatorial_fields TEXT[]      NOT NULL DEFAULT '{}',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_pii_scan_results_run_id ON pii_scan_results (run_id);`

// batchTx is the part of *sqlx.Tx used by BatchInsert
type batchTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Commit() error
	Rollback() error
}

// Store persists scan results in PostgreSQL
type Store struct {
	db      *sqlx.DB
	logger  *zap.Logger
	beginTx func(ctx context.Context) (batchTx, error)
}

// NewStore connects to the database and ensures the results table exists
func NewStore(cfg config.StorageConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}
	store.beginTx = func(ctx context.Context) (batchTx, error) {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Result store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

// initialize checks the connection and creates the results table
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Test connection
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create results table: %w", err)
	}

	s.logger.Info("Database initialized with pii_scan_results table")
	return nil
}

// SaveResults stores one batch of scan outcomes for runID
func (s *Store) SaveResults(ctx context.Context, runID string, outcomes []etl.RowOutcome) error {
	results := make([]*ScanResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = &ScanResult{
			RunID:               runID,
			RecordID:            o.Row.RecordID,
			RedactedDataJSON:    o.Row.RedactedDataJSON,
			IsPII:               o.Row.IsPII,
			StandaloneFields:    o.Classification.StandaloneFields,
			CombinatorialFields: o.Classification.CombinatorialFields,
		}
	}

	_, err := s.BatchInsert(ctx, results)
	return err
}

// BatchInsert adds multiple scan results in one transaction; statements are
// split at maxRowsPerInsert rows and either all of them commit or none do.
func (s *Store) BatchInsert(ctx context.Context, results []*ScanResult) (*BatchInsertResult, error) {
	if len(results) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}
	fail := func(msg string, err error) (*BatchInsertResult, error) {
		result.Inserted = 0
		result.Failed = int64(len(results))
		s.logger.Error("Batch insert failed", zap.String("stage", msg), zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %s: %w", msg, err)
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return fail("begin", err)
	}

	for offset := 0; offset < len(results); offset += maxRowsPerInsert {
		end := offset + maxRowsPerInsert
		if end > len(results) {
			end = len(results)
		}

		query, args := buildInsert(results[offset:end])
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
			return fail("insert", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			s.logger.Warn("Could not get rows affected", zap.Error(err))
			inserted = int64(end - offset) // Assume all inserted
		}
		result.Inserted += inserted
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}

	result.Duration = time.Since(start)
	s.logger.Debug("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// buildInsert renders a multi-row INSERT with positional parameters
func buildInsert(results []*ScanResult) (string, []interface{}) {
	n := len(insertColumns)
	valueStrings := make([]string, 0, len(results))
	valueArgs := make([]interface{}, 0, len(results)*n)

	for i, r := range results {
		placeholders := make([]string, n)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*n+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		valueArgs = append(valueArgs,
			r.RunID,
			r.RecordID,
			r.RedactedDataJSON,
			r.IsPII,
			pq.Array(nonNil(r.StandaloneFields)),
			pq.Array(nonNil(r.CombinatorialFields)),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO pii_scan_results (%s)
		VALUES %s`,
		strings.Join(insertColumns, ", "),
		strings.Join(valueStrings, ","))

	return query, valueArgs
}

// GetStats returns totals over all stored rows and per run
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN is_pii THEN 1 END) as pii,
			COUNT(CASE WHEN NOT is_pii THEN 1 END) as clean
		FROM pii_scan_results`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalResults,
		&stats.PIIResults,
		&stats.CleanResults,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get result stats: %w", err)
	}

	runsQuery := `
		SELECT
			run_id,
			COUNT(*) as total,
			COUNT(CASE WHEN is_pii THEN 1 END) as pii,
			COUNT(CASE WHEN NOT is_pii THEN 1 END) as clean,
			MIN(created_at) as started_at,
			MAX(created_at) as finished_at
		FROM pii_scan_results
		GROUP BY run_id
		ORDER BY MIN(created_at) DESC`

	if err := s.db.SelectContext(ctx, &stats.Runs, runsQuery); err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}

	return stats, nil
}

// GetRunResults returns the stored rows of one run in insertion order
func (s *Store) GetRunResults(ctx context.Context, runID string, limit int) ([]*ScanResult, error) {
	query := `
		SELECT id, run_id, record_id, redacted_data_json, is_pii,
			standalone_fields, combinatorial_fields, created_at
		FROM pii_scan_results
		WHERE run_id = $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run results: %w", err)
	}
	defer rows.Close()

	var results []*ScanResult
	for rows.Next() {
		var r ScanResult
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.RecordID,
			&r.RedactedDataJSON,
			&r.IsPII,
			pq.Array(&r.StandaloneFields),
			pq.Array(&r.CombinatorialFields),
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run result: %w", err)
		}
		results = append(results, &r)
	}

	return results, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	scheme := strings.Index(userPart, "://")
	colon := strings.LastIndex(userPart, ":")
	if colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
