package models

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies why a single item failed
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindQuotaExhausted   ErrorKind = "quota_exhausted"
	KindNotFound         ErrorKind = "not_found"
	KindTransientNetwork ErrorKind = "transient_network"
	KindPoolExhausted    ErrorKind = "pool_exhausted"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindCancelled        ErrorKind = "cancelled"
	KindUnknown          ErrorKind = "unknown"
)

// FailedToProcess is the error text of the synthetic outcome used for inputs
// that never received a real one.
const FailedToProcess = "failed to process"

// Outcome is the terminal result of one input
type Outcome struct {
	Input      string          `json:"input"`
	Success    bool            `json:"success"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	Kind       ErrorKind       `json:"kind,omitempty"`
	Credential string          `json:"credential,omitempty"`
	Attempts   int             `json:"attempts"`
	Duration   time.Duration   `json:"duration_ns"`
}

// FailedOutcome builds a failed outcome for input
func FailedOutcome(input string, kind ErrorKind, msg string) Outcome {
	return Outcome{Input: input, Success: false, Error: msg, Kind: kind}
}

// QuotaInfo is the last known remote quota snapshot of a credential
type QuotaInfo struct {
	Limit     float64   `json:"limit"`
	Used      float64   `json:"used"`
	Remaining float64   `json:"remaining"`
	CheckedAt time.Time `json:"checked_at"`
}

// Exhausted reports whether the snapshot shows no remaining quota
func (q QuotaInfo) Exhausted() bool {
	return q.Remaining <= 0
}

// CredentialStats is a read-only snapshot of one pooled credential
type CredentialStats struct {
	Label     string     `json:"label"`
	Index     int        `json:"index"`
	Uses      int64      `json:"uses"`
	LastUsed  time.Time  `json:"last_used,omitempty"`
	Available bool       `json:"available"`
	Quota     *QuotaInfo `json:"quota,omitempty"`
}

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
)

// ProgressRecord is what the progress poller sees for a run
type ProgressRecord struct {
	RunID      string    `json:"run_id"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Started    int       `json:"started"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PendingRecord is returned for runs that have not written anything yet
func PendingRecord(runID string) ProgressRecord {
	return ProgressRecord{RunID: runID, Status: StatusPending}
}

// Summary aggregates a finished run
type Summary struct {
	Total           int   `json:"total"`
	Successful      int   `json:"successful"`
	Failed          int   `json:"failed"`
	CredentialsUsed int   `json:"credentials_used"`
	Retries         int   `json:"retries"`
	Concurrency     int   `json:"concurrency"`
	DurationMS      int64 `json:"duration_ms"`
}

// BatchRequest triggers one run
type BatchRequest struct {
	URLs  []string `json:"urls"`
	RunID string   `json:"runId"`
}

// BatchResponse is the result of one run, outcomes in input order
type BatchResponse struct {
	RunID    string    `json:"runId"`
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`
}
