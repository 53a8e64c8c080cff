package models

// Severity levels accepted on ingest.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityUnknown  = "unknown"
)

// AI processing status of an error event.
const (
	AIStatusProcessing = "processing"
	AIStatusComplete   = "complete"
	AIStatusFailed     = "failed"
)

// BucketSeconds is the fixed rate-bucket width. Spike detection history and
// persisted bucket rows both assume this value; changing it invalidates
// existing error_stats rows.
const BucketSeconds = 300

// BucketFor maps an epoch-millisecond timestamp to its rate bucket.
func BucketFor(timestampMs int64) int64 {
	return timestampMs / 1000 / BucketSeconds
}

func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityUnknown:
		return true
	}
	return false
}

// ErrorEvent is an ingested application error. AI fields are nil until the
// enrichment task completes.
type ErrorEvent struct {
	ID            int64                  `json:"id"`
	Message       string                 `json:"message"`
	StackTrace    *string                `json:"stack_trace,omitempty"`
	Timestamp     int64                  `json:"timestamp"`
	Source        string                 `json:"source"`
	Severity      string                 `json:"severity"`
	Environment   *string                `json:"environment,omitempty"`
	UserID        *string                `json:"user_id,omitempty"`
	RequestID     *string                `json:"request_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	AICategory    *string                `json:"ai_category,omitempty"`
	AISeverity    *string                `json:"ai_severity,omitempty"`
	AIHypothesis  *string                `json:"ai_hypothesis,omitempty"`
	AIStatus      string                 `json:"ai_status"`
	AIProcessedAt *int64                 `json:"ai_processed_at,omitempty"`
	CreatedAt     int64                  `json:"created_at"`
}

// ErrorPattern groups recurring errors by normalized signature hash.
type ErrorPattern struct {
	ID              int64  `json:"id"`
	PatternHash     string `json:"pattern_hash"`
	Category        string `json:"category"`
	MessageTemplate string `json:"message_template"`
	FirstSeen       int64  `json:"first_seen"`
	LastSeen        int64  `json:"last_seen"`
	OccurrenceCount int64  `json:"occurrence_count"`
	Severity        string `json:"severity"`
}

// StatsRow is one aggregated (bucket, source, category) row from error_stats.
type StatsRow struct {
	TimeBucket  int64  `json:"time_bucket"`
	Source      string `json:"source"`
	Category    string `json:"category"`
	TotalErrors int64  `json:"total_errors"`
}

// CategoryStat is a per-AI-category count over a raw event time window.
type CategoryStat struct {
	Category       *string `json:"category"`
	Count          int64   `json:"count"`
	LastOccurrence int64   `json:"last_occurrence"`
}

// HourlyAverage is the mean bucket count per (source, category).
type HourlyAverage struct {
	Source    string  `json:"source"`
	Category  string  `json:"category"`
	AvgErrors float64 `json:"avg_errors"`
}
