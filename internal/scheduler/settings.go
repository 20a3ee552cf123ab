package scheduler

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// SettingsSource yields the operator settings for one tick.
type SettingsSource interface {
	Settings(ctx context.Context) (model.Settings, error)
}

// Static always returns the same settings.
type Static model.Settings

func (s Static) Settings(context.Context) (model.Settings, error) { return model.Settings(s), nil }

// FromConfig builds the fallback settings from static configuration.
func FromConfig(c config.SchedulerConfig) model.Settings {
	s := model.Settings{
		MasterEnabled: c.MasterEnabled,
		AutoJobs:      make(map[model.JobType]bool, len(c.AutoJobs)),
	}
	for _, name := range c.AutoJobs {
		if t := model.JobType(name); t.Valid() {
			s.AutoJobs[t] = true
		}
	}
	return s
}

type settingsStore interface {
	GetSettings(ctx context.Context) (*model.Settings, error)
}

// StoreSettings reads the settings row, falling back to static config
// until an operator has saved one.
type StoreSettings struct {
	Store    settingsStore
	Fallback model.Settings
}

func (s StoreSettings) Settings(ctx context.Context) (model.Settings, error) {
	got, err := s.Store.GetSettings(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return s.Fallback, nil
	}
	if err != nil {
		return model.Settings{}, eris.Wrap(err, "scheduler: read settings")
	}
	return *got, nil
}
