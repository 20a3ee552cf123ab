package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// Checker evaluates pipeline health on an interval and delivers new alerts.
// A stuck job is reported once while it stays stuck; the failure-rate alert
// is reported again only when its severity changes.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	mu           sync.Mutex
	stuckSeen    map[string]bool
	lastSeverity string
}

// NewChecker creates a checker. Zero interval and lookback default to five
// minutes and 24 hours.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:  cfg.LookbackHours,
		stuckSeen: make(map[string]bool),
	}
	if c.interval <= 0 {
		c.interval = 5 * time.Minute
	}
	if c.lookback <= 0 {
		c.lookback = 24
	}
	return c
}

// Run checks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot and sends the alerts not already reported.
// It returns the alerts it sent or tried to send.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect snapshot", zap.Error(err))
		return nil
	}

	fresh := c.unreported(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		log.Debug("monitoring: nothing new to report",
			zap.Int("active_jobs", snap.ActiveJobs),
			zap.Float64("job_fail_rate", snap.JobFailRate),
		)
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts raised",
		zap.Int("alerts", len(fresh)),
		zap.Int("delivered", sent),
	)
	return fresh
}

// unreported filters alerts down to the ones that changed since the last
// check and forgets stuck jobs that have recovered.
func (c *Checker) unreported(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Alert
	stuckNow := make(map[string]bool)
	severity := ""
	for _, a := range alerts {
		switch a.Type {
		case AlertStuckJob:
			id, _ := a.Details["job_id"].(string)
			stuckNow[id] = true
			if !c.stuckSeen[id] {
				out = append(out, a)
			}
		case AlertJobFailureRate:
			severity = a.Severity
			if a.Severity != c.lastSeverity {
				out = append(out, a)
			}
		default:
			out = append(out, a)
		}
	}
	c.stuckSeen = stuckNow
	c.lastSeverity = severity
	return out
}
