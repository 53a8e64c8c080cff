package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/storage/models"
	"github.com/errorpulse/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL,
		stack_trace TEXT,
		timestamp INTEGER NOT NULL,
		source TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'unknown',
		environment TEXT,
		user_id TEXT,
		request_id TEXT,
		metadata TEXT,
		ai_category TEXT,
		ai_severity TEXT,
		ai_hypothesis TEXT,
		ai_status TEXT NOT NULL DEFAULT 'processing',
		ai_processed_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_errors_timestamp ON errors(timestamp);
	CREATE INDEX IF NOT EXISTS idx_errors_source ON errors(source);
	CREATE INDEX IF NOT EXISTS idx_errors_category ON errors(ai_category);

	CREATE TABLE IF NOT EXISTS error_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern_hash TEXT NOT NULL UNIQUE,
		category TEXT,
		message_template TEXT,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 1,
		severity TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_last_seen ON error_patterns(last_seen);

	CREATE TABLE IF NOT EXISTS error_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time_bucket INTEGER NOT NULL,
		source TEXT NOT NULL,
		category TEXT NOT NULL,
		error_count INTEGER NOT NULL DEFAULT 1,
		UNIQUE(time_bucket, source, category)
	);
	CREATE INDEX IF NOT EXISTS idx_stats_bucket ON error_stats(time_bucket);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertError persists the event and increments its rate bucket. The bucket
// category is "uncategorized" at insert time; AI categorization lands later.
func (c *Client) InsertError(e *models.ErrorEvent) (int64, error) {
	var metadataJSON sql.NullString
	if e.Metadata != nil {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO errors (
			message, stack_trace, timestamp, source, severity,
			environment, user_id, request_id, metadata, ai_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.Exec(
		query,
		e.Message,
		nullString(e.StackTrace),
		e.Timestamp,
		e.Source,
		e.Severity,
		nullString(e.Environment),
		nullString(e.UserID),
		nullString(e.RequestID),
		metadataJSON,
		models.AIStatusProcessing,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert error: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}

	bucket := models.BucketFor(e.Timestamp)
	if err := c.IncrementBucket(bucket, e.Source, "uncategorized"); err != nil {
		return 0, err
	}

	logger.Debug("Error inserted",
		zap.Int64("error_id", id),
		zap.String("source", e.Source),
	)

	return id, nil
}

func (c *Client) UpdateErrorAI(errorID int64, category, severity, hypothesis string) error {
	query := `
		UPDATE errors
		SET ai_category = ?, ai_severity = ?, ai_hypothesis = ?,
			ai_status = ?, ai_processed_at = ?
		WHERE id = ?
	`

	_, err := c.db.Exec(query, category, severity, hypothesis,
		models.AIStatusComplete, time.Now().UnixMilli(), errorID)
	if err != nil {
		return fmt.Errorf("failed to update error with AI analysis: %w", err)
	}

	return nil
}

// MarkErrorAIFailed flips ai_status to failed and leaves AI fields null.
func (c *Client) MarkErrorAIFailed(errorID int64) error {
	query := `UPDATE errors SET ai_status = ?, ai_processed_at = ? WHERE id = ?`

	_, err := c.db.Exec(query, models.AIStatusFailed, time.Now().UnixMilli(), errorID)
	if err != nil {
		return fmt.Errorf("failed to mark error analysis failed: %w", err)
	}

	return nil
}

const errorColumns = `id, message, stack_trace, timestamp, source, severity,
	environment, user_id, request_id, metadata, ai_category, ai_severity,
	ai_hypothesis, ai_status, ai_processed_at, created_at`

func (c *Client) GetRecentErrors(limit int) ([]models.ErrorEvent, error) {
	query := `SELECT ` + errorColumns + ` FROM errors ORDER BY timestamp DESC LIMIT ?`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent errors: %w", err)
	}
	defer rows.Close()

	return scanErrors(rows)
}

func (c *Client) GetErrorsInRange(startMs, endMs int64) ([]models.ErrorEvent, error) {
	query := `SELECT ` + errorColumns + ` FROM errors
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC`

	rows, err := c.db.Query(query, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("failed to get errors in range: %w", err)
	}
	defer rows.Close()

	return scanErrors(rows)
}

func (c *Client) GetErrorByID(errorID int64) (*models.ErrorEvent, error) {
	query := `SELECT ` + errorColumns + ` FROM errors WHERE id = ?`

	rows, err := c.db.Query(query, errorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get error: %w", err)
	}
	defer rows.Close()

	events, err := scanErrors(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, sql.ErrNoRows
	}

	return &events[0], nil
}

func (c *Client) GetCategoryCounts(sinceMs int64) ([]models.CategoryStat, error) {
	query := `
		SELECT ai_category, COUNT(*) as count, MAX(timestamp) as last_occurrence
		FROM errors
		WHERE timestamp >= ?
		GROUP BY ai_category
		ORDER BY count DESC
	`

	rows, err := c.db.Query(query, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("failed to get category counts: %w", err)
	}
	defer rows.Close()

	var stats []models.CategoryStat
	for rows.Next() {
		var s models.CategoryStat
		var category sql.NullString

		err := rows.Scan(&category, &s.Count, &s.LastOccurrence)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if category.Valid {
			s.Category = &category.String
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// UpsertPattern inserts a pattern row or bumps an existing one. Category and
// severity are overwritten with the latest values so the newest AI judgment
// wins; occurrence_count and first_seen are never reset.
func (c *Client) UpsertPattern(hash, category, messageTemplate string, seenAt int64, severity string) error {
	query := `
		INSERT INTO error_patterns (pattern_hash, category, message_template, first_seen, last_seen, occurrence_count, severity)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(pattern_hash) DO UPDATE SET
			last_seen = excluded.last_seen,
			occurrence_count = occurrence_count + 1,
			category = excluded.category,
			severity = excluded.severity
	`

	_, err := c.db.Exec(query, hash, category, messageTemplate, seenAt, seenAt, severity)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}

	return nil
}

func (c *Client) GetPattern(hash string) (*models.ErrorPattern, error) {
	query := `
		SELECT id, pattern_hash, category, message_template, first_seen, last_seen, occurrence_count, severity
		FROM error_patterns
		WHERE pattern_hash = ?
	`

	var p models.ErrorPattern
	var category, template, severity sql.NullString

	err := c.db.QueryRow(query, hash).Scan(
		&p.ID,
		&p.PatternHash,
		&category,
		&template,
		&p.FirstSeen,
		&p.LastSeen,
		&p.OccurrenceCount,
		&severity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}

	p.Category = category.String
	p.MessageTemplate = template.String
	p.Severity = severity.String

	return &p, nil
}

func (c *Client) CountPatterns() (int64, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM error_patterns`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return count, nil
}

// IncrementBucket atomically adds one to a (bucket, source, category) row,
// creating it on first sight. The unique constraint drives the upsert so
// concurrent increments never lose updates.
func (c *Client) IncrementBucket(bucket int64, source, category string) error {
	query := `
		INSERT INTO error_stats (time_bucket, source, category, error_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(time_bucket, source, category) DO UPDATE SET
			error_count = error_count + 1
	`

	_, err := c.db.Exec(query, bucket, source, category)
	if err != nil {
		return fmt.Errorf("failed to increment stats bucket: %w", err)
	}

	return nil
}

func (c *Client) GetStatsInRange(startBucket, endBucket int64) ([]models.StatsRow, error) {
	query := `
		SELECT time_bucket, source, category, SUM(error_count) as total_errors
		FROM error_stats
		WHERE time_bucket >= ? AND time_bucket <= ?
		GROUP BY time_bucket, source, category
		ORDER BY time_bucket DESC
	`

	rows, err := c.db.Query(query, startBucket, endBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats in range: %w", err)
	}
	defer rows.Close()

	var stats []models.StatsRow
	for rows.Next() {
		var s models.StatsRow
		err := rows.Scan(&s.TimeBucket, &s.Source, &s.Category, &s.TotalErrors)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (c *Client) GetHourlyAverage(sinceBucket int64) ([]models.HourlyAverage, error) {
	query := `
		SELECT source, category, AVG(error_count) as avg_errors
		FROM error_stats
		WHERE time_bucket >= ?
		GROUP BY source, category
	`

	rows, err := c.db.Query(query, sinceBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly average: %w", err)
	}
	defer rows.Close()

	var averages []models.HourlyAverage
	for rows.Next() {
		var a models.HourlyAverage
		err := rows.Scan(&a.Source, &a.Category, &a.AvgErrors)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		averages = append(averages, a)
	}

	return averages, rows.Err()
}

// ClearAll wipes errors and all derived state in one transaction.
func (c *Client) ClearAll() error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"errors", "error_patterns", "error_stats"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	logger.Info("All errors and derived state cleared")
	return nil
}

func scanErrors(rows *sql.Rows) ([]models.ErrorEvent, error) {
	var events []models.ErrorEvent
	for rows.Next() {
		var e models.ErrorEvent
		var stackTrace, environment, userID, requestID sql.NullString
		var metadata, aiCategory, aiSeverity, aiHypothesis sql.NullString
		var aiProcessedAt sql.NullInt64

		err := rows.Scan(
			&e.ID,
			&e.Message,
			&stackTrace,
			&e.Timestamp,
			&e.Source,
			&e.Severity,
			&environment,
			&userID,
			&requestID,
			&metadata,
			&aiCategory,
			&aiSeverity,
			&aiHypothesis,
			&e.AIStatus,
			&aiProcessedAt,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.StackTrace = ptrFrom(stackTrace)
		e.Environment = ptrFrom(environment)
		e.UserID = ptrFrom(userID)
		e.RequestID = ptrFrom(requestID)
		e.AICategory = ptrFrom(aiCategory)
		e.AISeverity = ptrFrom(aiSeverity)
		e.AIHypothesis = ptrFrom(aiHypothesis)
		if aiProcessedAt.Valid {
			e.AIProcessedAt = &aiProcessedAt.Int64
		}
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFrom(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
