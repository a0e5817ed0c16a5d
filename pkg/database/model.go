package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// RunStatusEnum mirrors the bisect verdicts, plus "error" for aborted runs.
type RunStatusEnum string

const (
	RunSearching    RunStatusEnum = "searching"
	RunConverged    RunStatusEnum = "converged"
	RunInconclusive RunStatusEnum = "inconclusive"
	RunError        RunStatusEnum = "error"
)

// BisectRun represents a record in the public.bisect_runs table
type BisectRun struct {
	ID         int           `gorm:"primaryKey;column:id"`
	JobID      string        `gorm:"column:job_id;not null;index"`
	CreatedAt  time.Time     `gorm:"column:created_at;default:now()"`
	FinishedAt *time.Time    `gorm:"column:finished_at"`
	Status     RunStatusEnum `gorm:"column:status;not null"`
	Good       string        `gorm:"column:good"`
	Bad        string        `gorm:"column:bad"`
	Culprit    string        `gorm:"column:culprit"`
	Reason     string        `gorm:"column:reason"`
	Error      string        `gorm:"column:error"`
	Flags      StringList    `gorm:"column:flags;type:jsonb"`
	Build      Metadata      `gorm:"column:build;type:jsonb"`
}

func (BisectRun) TableName() string { return "bisect_runs" }

// BisectStep represents a record in the public.bisect_steps table
type BisectStep struct {
	ID          int       `gorm:"primaryKey;column:id"`
	RunID       int       `gorm:"column:run_id;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	Revision    string    `gorm:"column:revision;not null"`
	Label       string    `gorm:"column:label;not null"`
	BuildFailed bool      `gorm:"column:build_failed"`
	Reason      string    `gorm:"column:reason"`
	Candidates  int       `gorm:"column:candidates"`
	DurationMs  int64     `gorm:"column:duration_ms"`
}

func (BisectStep) TableName() string { return "bisect_steps" }

// StringList is stored as a jsonb array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, (*[]string)(l))
}

// Metadata represents a free-form jsonb field
type Metadata map[string]any

// Value implements the driver.Valuer interface for the Metadata type
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

// Scan implements the sql.Scanner interface for the Metadata type
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, m)
}

func asBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New("type assertion to []byte failed")
}
