package model

import (
	"encoding/json"
	"time"
)

// JobType identifies a kind of background job. At most one job per type is
// pending or running at any time.
type JobType string

const (
	JobDiscover JobType = "discover"
	JobEnrich   JobType = "enrich"
	JobVerify   JobType = "verify"
	JobScore    JobType = "score"
	JobDraft    JobType = "draft"
	JobSend     JobType = "send"
	JobFollowUp JobType = "followup"
)

// JobTypes lists every job type in pipeline order.
var JobTypes = []JobType{JobDiscover, JobEnrich, JobVerify, JobScore, JobDraft, JobSend, JobFollowUp}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, jt := range JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Active reports whether the status still holds the per-type claim.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TriggerSource records who created a job.
type TriggerSource string

const (
	TriggerScheduler TriggerSource = "scheduler"
	TriggerManual    TriggerSource = "manual"
	TriggerAPI       TriggerSource = "api"
)

// Job is a persisted unit of background work.
type Job struct {
	ID             string          `json:"id"`
	Type           JobType         `json:"type"`
	Status         JobStatus       `json:"status"`
	TriggeredBy    TriggerSource   `json:"triggered_by"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ItemsTargeted  int             `json:"items_targeted"`
	ItemsCompleted int             `json:"items_completed"`
	ItemsFailed    int             `json:"items_failed"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Owner          string          `json:"owner,omitempty"`
	HeartbeatAt    *time.Time      `json:"heartbeat_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	Type   JobType
	Status JobStatus
	Limit  int
}

// DiscoverParams configures a discover job.
type DiscoverParams struct {
	Platforms  []string `json:"platforms,omitempty" validate:"dive,oneof=website linkedin instagram twitter youtube tiktok"`
	Keywords   []string `json:"keywords,omitempty" validate:"dive,required"`
	Locations  []string `json:"locations,omitempty"`
	MaxQueries int      `json:"max_queries,omitempty" validate:"gte=0"`
}

// BatchParams limits how many items a stage job processes.
type BatchParams struct {
	Limit int `json:"limit,omitempty" validate:"gte=0"`
}
