package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate AlertType = "job_failure_rate"
	AlertStuckJob       AlertType = "stuck_job"
)

// minFinishedJobs keeps a couple of early failures from paging anyone.
const minFinishedJobs = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.JobsByStatus[model.JobCompleted] + snap.JobsFailed
	if finished >= minFinishedJobs {
		severity := ""
		switch {
		case a.cfg.FailureRateCritical > 0 && snap.JobFailRate >= a.cfg.FailureRateCritical:
			severity = "critical"
		case a.cfg.FailureRateWarn > 0 && snap.JobFailRate >= a.cfg.FailureRateWarn:
			severity = "warning"
		}
		if severity != "" {
			alerts = append(alerts, Alert{
				Type:     AlertJobFailureRate,
				Severity: severity,
				Message: fmt.Sprintf(
					"Job failure rate %.1f%% (%d failed / %d finished in last %dh)",
					snap.JobFailRate*100, snap.JobsFailed, finished, snap.LookbackHours,
				),
				Details: map[string]any{
					"failure_rate": snap.JobFailRate,
					"failed":       snap.JobsFailed,
					"finished":     finished,
				},
				Timestamp: now,
			})
		}
	}

	for _, j := range snap.StuckJobs {
		alerts = append(alerts, Alert{
			Type:     AlertStuckJob,
			Severity: "warning",
			Message: fmt.Sprintf("%s job %s active for %s",
				j.Type, j.ID, j.Age.Truncate(time.Minute)),
			Details: map[string]any{
				"job_id":   j.ID,
				"job_type": string(j.Type),
				"owner":    j.Owner,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
