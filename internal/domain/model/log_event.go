package model

import (
	"encoding/json"
	"errors"
	"time"
)

// LogLevel represents the severity of an audit log event.
type LogLevel string

const (
	// LogLevelInfo marks routine stage transitions.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn marks degraded but non-fatal outcomes.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError marks stage failures.
	LogLevelError LogLevel = "error"
)

// Valid returns true if the LogLevel is valid.
func (l LogLevel) Valid() bool {
	return l == LogLevelInfo || l == LogLevelWarn || l == LogLevelError
}

// LogEvent is one append-only audit record of a pipeline stage transition.
type LogEvent struct {
	ID        string          `json:"id"                 db:"id"`
	RunID     string          `json:"run_id"             db:"run_id"`
	JobID     *string         `json:"job_id,omitempty"   db:"job_id"`
	UserID    string          `json:"user_id"            db:"user_id"`
	Stage     string          `json:"stage"              db:"stage"`
	Level     LogLevel        `json:"level"              db:"level"`
	Message   string          `json:"message"            db:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time       `json:"created_at"         db:"created_at"`
}

// LogQuery filters audit log reads. Expression, when set, is a JMESPath
// expression evaluated against each event's metadata.
type LogQuery struct {
	RunID      string   `json:"run_id,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	Stage      string   `json:"stage,omitempty"`
	Level      LogLevel `json:"level,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}

// Validate validates the LogQuery fields.
func (q *LogQuery) Validate() error {
	if q.Level != "" && !q.Level.Valid() {
		return errors.New("invalid log level")
	}
	if q.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	if q.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	return nil
}
