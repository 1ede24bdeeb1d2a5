package storage

import (
	"context"
	"errors"
	"time"
)

// ErrPersistence wraps every failure to read or write the control tables or the record sink.
var ErrPersistence = errors.New("persistence error")

// ErrRunNotOpen is returned when a finalize targets a run that is missing or no longer WIP.
var ErrRunNotOpen = errors.New("run is not open")

// Status is the lifecycle state of an extraction run.
type Status string

const (
	StatusWIP    Status = "WIP"
	StatusOK     Status = "OK"
	StatusFailed Status = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusOK || s == StatusFailed
}

// OpenEndTime is the end_date_time written for a run that has not finished yet.
var OpenEndTime = time.Unix(0, 0).UTC()

// ParameterRow is one (source, name, value) triple from the parameter control table.
type ParameterRow struct {
	SourceID string
	Name     string
	Value    string
}

// Run is one row of the extraction results table.
type Run struct {
	ID           string
	SourceID     string
	TriggerTime  time.Time
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	RowCount     int
	ErrorMessage *string
}

// Finalization carries the terminal values written when a run closes.
type Finalization struct {
	Status       Status
	EndTime      time.Time
	RowCount     int
	ErrorMessage *string
}

// Record is one normalized search result as appended to the record sink.
type Record struct {
	RunID         string    `json:"run_id"`
	SourceID      string    `json:"source_id"`
	TriggerTime   time.Time `json:"trigger_date_time"`
	ExecutionTime time.Time `json:"execution_date_time"`
	PublishedTime time.Time `json:"published_time"`
	ItemID        string    `json:"tweet_id"`
	ParentItemID  *string   `json:"tweet_reply_id"`
	Keywords      string    `json:"keywords"`
	Text          string    `json:"tweet"`
	ShareCount    int       `json:"nb_of_retweets"`
	FavoriteCount int       `json:"nb_of_likes"`
	MediaLinks    string    `json:"media_links"`
	Language      string    `json:"language"`
}

// RunFilter narrows a run history query.
type RunFilter struct {
	SourceID string
	Status   Status
	Since    *time.Time
	Limit    int
}

// ParameterSource reads the raw parameter rows of a source.
type ParameterSource interface {
	ParameterRows(ctx context.Context, sourceID string) ([]ParameterRow, error)
}

// RunStore persists the run lifecycle. FinalizeRun must only transition a WIP row
// and returns ErrRunNotOpen otherwise.
type RunStore interface {
	InsertRun(ctx context.Context, run *Run) error
	FinalizeRun(ctx context.Context, runID string, fin Finalization) error
	QueryRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}

// RecordSink appends normalized records. AppendRecords is all-or-nothing where the
// backend allows it.
type RecordSink interface {
	AppendRecords(ctx context.Context, records []*Record) error
	Close() error
}

// Backend is a relational store serving parameters, runs and records from one connection.
type Backend interface {
	ParameterSource
	RunStore
	RecordSink
	// EnsureSchema creates the control and record tables when missing. It is a
	// bootstrap for local and test databases, not a migration.
	EnsureSchema(ctx context.Context) error
	// PutParameter upserts one parameter row.
	PutParameter(ctx context.Context, row ParameterRow) error
}
