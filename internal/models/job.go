package models

import (
	"encoding/json"
	"time"
)

// Status enumerates job lifecycle states stored in Redis.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Kind names a job kind. Each kind owns one queue.
type Kind string

const (
	KindCVAnalysis         Kind = "cv-analysis"
	KindJobRequirements    Kind = "job-requirements"
	KindInterviewAnalysis  Kind = "interview-analysis"
	KindQuestionGeneration Kind = "question-generation"
)

// Kinds lists the supported job kinds.
var Kinds = []Kind{KindCVAnalysis, KindJobRequirements, KindInterviewAnalysis, KindQuestionGeneration}

// ParseKind maps a URL slug to a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Job is a unit of asynchronous AI work tracked by the queue.
type Job struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	UserID           string          `json:"userId,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	Status           Status          `json:"status"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"maxAttempts"`
	EstimatedSeconds int             `json:"estimatedSeconds"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	FinishedAt       *time.Time      `json:"finishedAt,omitempty"`
}

// QueueStats counts jobs per status for one queue.
type QueueStats struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	// Delayed is the subset of pending jobs waiting out a retry backoff.
	Delayed int64 `json:"delayed"`
}

// Total returns the number of jobs known to the queue.
func (s QueueStats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}
