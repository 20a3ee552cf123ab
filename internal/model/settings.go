package model

// Settings is a point-in-time snapshot of the operator controls read by the
// scheduler once per tick.
type Settings struct {
	MasterEnabled bool             `json:"master_enabled"`
	AutoJobs      map[JobType]bool `json:"auto_jobs"`
	Discover      DiscoverParams   `json:"discover"`
}

// AutoEnabled reports whether the scheduler may trigger jobs of type t.
func (s Settings) AutoEnabled(t JobType) bool {
	return s.MasterEnabled && s.AutoJobs[t]
}
