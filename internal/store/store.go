package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrJobActive is returned by CreateJob when a job of the same type is
	// already pending or running.
	ErrJobActive = eris.New("store: a job of this type is already active")
	// ErrDuplicate is returned when a prospect with the same natural key
	// already exists.
	ErrDuplicate = eris.New("store: duplicate natural key")
)

// ProspectFilter specifies criteria for listing prospects.
type ProspectFilter struct {
	Stage    model.Stage `json:"stage,omitempty"`
	Platform string      `json:"platform,omitempty"`
	MinScore float64     `json:"min_score,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Offset   int         `json:"offset,omitempty"`
}

// Eligibility selects the prospects a job type should work on.
type Eligibility struct {
	Job   model.JobType
	Limit int

	// draft
	Verifications []model.VerificationStatus
	MinScore      float64

	// followup
	SentBefore   time.Time
	MaxFollowUps int
}

// Store defines the persistence interface for the outreach pipeline.
type Store interface {
	// Prospects
	InsertProspect(ctx context.Context, p *model.Prospect) (bool, error)
	ProspectExists(ctx context.Context, naturalKey string) (bool, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetProspectByKey(ctx context.Context, naturalKey string) (*model.Prospect, error)
	SwapProspect(ctx context.Context, p model.Prospect, expectedVersion int64) (bool, error)
	UpdateScore(ctx context.Context, id string, version int64, score float64, at time.Time) (bool, error)
	RecordFollowUp(ctx context.Context, id string, expectedCount int, at time.Time) (bool, error)
	// ReleaseFollowUp undoes a RecordFollowUp claim whose message never
	// left, restoring prevAt. It is a no-op unless follow_ups still equals
	// claimedCount.
	ReleaseFollowUp(ctx context.Context, id string, claimedCount int, prevAt *time.Time, at time.Time) (bool, error)
	// RecordFollowUpError sets last_error on a prospect whose follow-up
	// claimedCount failed after the claim.
	RecordFollowUpError(ctx context.Context, id string, claimedCount int, reason string, at time.Time) (bool, error)
	ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error)
	ListEligible(ctx context.Context, e Eligibility) ([]model.Prospect, error)
	CountEligible(ctx context.Context, e Eligibility) (int, error)
	CountByStage(ctx context.Context) (map[model.Stage]int, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	ListActiveJobs(ctx context.Context) ([]model.Job, error)
	ClaimJob(ctx context.Context, id, owner string, staleBefore time.Time) (bool, error)
	HeartbeatJob(ctx context.Context, id, owner string) (bool, error)
	StartJob(ctx context.Context, id, owner string) (bool, error)
	SetJobTarget(ctx context.Context, id string, n int) error
	AddJobProgress(ctx context.Context, id string, completed, failed int) error
	FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string, result json.RawMessage) (bool, error)
	CancelJob(ctx context.Context, id string) (bool, error)
	CountJobsSince(ctx context.Context, since time.Time) (map[model.JobStatus]int, error)

	// Settings
	GetSettings(ctx context.Context) (*model.Settings, error)
	PutSettings(ctx context.Context, s model.Settings) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var activeJobStatuses = []any{string(model.JobPending), string(model.JobRunning)}

// prospectColumns is the select list shared by both backends; scan order
// must match.
const prospectColumns = `id, natural_key, source_kind, platform, username, domain, website, name,
	category, location, keywords, description, authority, is_manual, discovered_by,
	contact_email, email_confidence,
	discovery_status, scrape_status, verification_status, draft_status, send_status, stage,
	scrape_changed_at, verification_changed_at, draft_changed_at, send_changed_at,
	draft_subject, draft_body, sent_subject, sent_body, message_id, sent_at,
	follow_ups, last_follow_up_at, last_error, score, scored_at,
	version, created_at, updated_at`

const jobColumns = `id, job_type, status, triggered_by, params, result,
	items_targeted, items_completed, items_failed, error_message, owner, heartbeat_at,
	created_at, started_at, finished_at`

// eligibilityWhere builds the WHERE clause for e using '?' placeholders.
// ts converts time arguments for the backend.
func eligibilityWhere(e Eligibility, ts func(time.Time) any) (string, []any, error) {
	switch e.Job {
	case model.JobEnrich:
		return `scrape_status IN (?, ?) AND website <> ''`,
			[]any{string(model.ScrapeDiscovered), string(model.ScrapeScraped)}, nil

	case model.JobVerify:
		return `scrape_status = ? AND verification_status = ? AND contact_email <> ''`,
			[]any{string(model.ScrapeEnriched), string(model.VerificationPending)}, nil

	case model.JobScore:
		return `(scored_at IS NULL OR scored_at < updated_at)`, nil, nil

	case model.JobDraft:
		if len(e.Verifications) == 0 {
			return "", nil, eris.New("store: draft eligibility needs verification statuses")
		}
		where := `draft_status = ? AND send_status = ? AND contact_email <> '' AND verification_status IN (`
		args := []any{string(model.DraftNone), string(model.SendNone)}
		for i, v := range e.Verifications {
			if i > 0 {
				where += `, `
			}
			where += `?`
			args = append(args, string(v))
		}
		where += `)`
		if e.MinScore > 0 {
			where += ` AND COALESCE(score, 0) >= ?`
			args = append(args, e.MinScore)
		}
		return where, args, nil

	case model.JobSend:
		return `draft_status = ? AND send_status = ? AND contact_email <> '' AND draft_body <> ''`,
			[]any{string(model.DraftDrafted), string(model.SendNone)}, nil

	case model.JobFollowUp:
		if e.SentBefore.IsZero() {
			return "", nil, eris.New("store: followup eligibility needs a cutoff")
		}
		return `send_status = ? AND follow_ups < ? AND COALESCE(last_follow_up_at, sent_at) < ?`,
			[]any{string(model.SendSent), e.MaxFollowUps, ts(e.SentBefore)}, nil
	}
	return "", nil, eris.Errorf("store: no prospect eligibility for job type %q", e.Job)
}

func eligibilityOrder(job model.JobType) string {
	switch job {
	case model.JobDraft, model.JobSend:
		return ` ORDER BY score DESC NULLS LAST, created_at`
	case model.JobFollowUp:
		return ` ORDER BY sent_at`
	default:
		return ` ORDER BY created_at`
	}
}

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func marshalKeywords(k []string) ([]byte, error) {
	if k == nil {
		k = []string{}
	}
	b, err := json.Marshal(k)
	return b, eris.Wrap(err, "store: marshal keywords")
}

func unmarshalKeywords(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var k []string
	if err := json.Unmarshal(b, &k); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal keywords")
	}
	if len(k) == 0 {
		return nil, nil
	}
	return k, nil
}
