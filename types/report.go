package types

import "time"

// Run statuses
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// RunReport summarizes one pipeline run
type RunReport struct {
	TraceID         string    `json:"trace_id" dynamodbav:"trace_id"`
	Status          string    `json:"status" dynamodbav:"status"`
	FailedStage     string    `json:"failed_stage,omitempty" dynamodbav:"failed_stage,omitempty"`
	Error           string    `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Query           string    `json:"query" dynamodbav:"query"`
	Start           int       `json:"start" dynamodbav:"start"`
	MaxResults      int       `json:"max_results" dynamodbav:"max_results"`
	Fetched         int       `json:"fetched" dynamodbav:"fetched"`
	Normalized      int       `json:"normalized" dynamodbav:"normalized"`
	NormalizeFailed int       `json:"normalize_failed" dynamodbav:"normalize_failed"`
	Valid           int       `json:"valid" dynamodbav:"valid"`
	Invalid         int       `json:"invalid" dynamodbav:"invalid"`
	QualityRate     float64   `json:"quality_rate" dynamodbav:"quality_rate"`
	Written         int       `json:"written" dynamodbav:"written"`
	Duplicates      int       `json:"duplicates" dynamodbav:"duplicates"`
	Attempts        int       `json:"attempts" dynamodbav:"attempts"`
	ArchiveKey      string    `json:"archive_key,omitempty" dynamodbav:"archive_key,omitempty"`
	Checksum        string    `json:"checksum,omitempty" dynamodbav:"checksum,omitempty"`
	Titles          []string  `json:"titles,omitempty" dynamodbav:"titles,omitempty"`
	StartedAt       time.Time `json:"started_at" dynamodbav:"started_at"`
	FinishedAt      time.Time `json:"finished_at" dynamodbav:"finished_at"`
	DurationMs      int64     `json:"duration_ms" dynamodbav:"duration_ms"`
}

// LoadRate is the share of fetched entries that reached the database, in percent.
func (r RunReport) LoadRate() float64 {
	if r.Fetched == 0 {
		return 0
	}
	return float64(r.Written) / float64(r.Fetched) * 100
}

// Succeeded reports whether the run finished without a fatal stage error.
func (r RunReport) Succeeded() bool {
	return r.Status == StatusSuccess
}
