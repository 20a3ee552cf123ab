package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// StuckJob is an active job older than the stuck threshold.
type StuckJob struct {
	ID          string        `json:"id"`
	Type        model.JobType `json:"type"`
	Owner       string        `json:"owner,omitempty"`
	Age         time.Duration `json:"age"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
}

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	// Jobs created within the lookback window, by status.
	JobsByStatus map[model.JobStatus]int `json:"jobs_by_status"`
	JobsTotal    int                     `json:"jobs_total"`
	JobsFailed   int                     `json:"jobs_failed"`
	// JobFailRate is failed / (completed + failed).
	JobFailRate float64 `json:"job_fail_rate"`

	ActiveJobs int        `json:"active_jobs"`
	StuckJobs  []StuckJob `json:"stuck_jobs,omitempty"`

	ProspectsByStage map[model.Stage]int `json:"prospects_by_stage"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the read-only store surface the collector needs.
type Source interface {
	CountJobsSince(ctx context.Context, since time.Time) (map[model.JobStatus]int, error)
	ListActiveJobs(ctx context.Context) ([]model.Job, error)
	CountByStage(ctx context.Context) (map[model.Stage]int, error)
}

// Collector gathers snapshots from the store and mirrors them into gauges.
type Collector struct {
	src        Source
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Active jobs older than stuckAfter are
// reported as stuck; zero defaults to one hour.
func NewCollector(src Source, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = time.Hour
	}
	return &Collector{src: src, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	counts, err := c.src.CountJobsSince(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count jobs")
	}
	snap.JobsByStatus = counts
	for _, n := range counts {
		snap.JobsTotal += n
	}
	snap.JobsFailed = counts[model.JobFailed]
	if finished := counts[model.JobCompleted] + counts[model.JobFailed]; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	active, err := c.src.ListActiveJobs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list active jobs")
	}
	snap.ActiveJobs = len(active)
	for _, j := range active {
		since := j.CreatedAt
		if j.StartedAt != nil {
			since = *j.StartedAt
		}
		if age := now.Sub(since); age >= c.stuckAfter {
			snap.StuckJobs = append(snap.StuckJobs, StuckJob{
				ID:          j.ID,
				Type:        j.Type,
				Owner:       j.Owner,
				Age:         age,
				HeartbeatAt: j.HeartbeatAt,
			})
		}
	}
	sort.Slice(snap.StuckJobs, func(i, k int) bool { return snap.StuckJobs[i].Age > snap.StuckJobs[k].Age })

	stages, err := c.src.CountByStage(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count prospects by stage")
	}
	snap.ProspectsByStage = stages

	c.export(snap)
	return snap, nil
}

func (c *Collector) export(snap *Snapshot) {
	ActiveJobs.Set(float64(snap.ActiveJobs))
	for _, s := range model.Stages {
		ProspectsByStage.WithLabelValues(string(s)).Set(float64(snap.ProspectsByStage[s]))
	}
}
