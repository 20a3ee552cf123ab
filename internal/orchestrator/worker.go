package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrAlreadyRunning is returned by Trigger when a job of the same type
	// is pending or running.
	ErrAlreadyRunning = eris.New("orchestrator: job already running")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = eris.New("orchestrator: job not found")
	// ErrSkip lets a batch report an item that needed no work. It counts
	// as completed.
	ErrSkip = eris.New("orchestrator: item skipped")
)

// ConfigError is a setup failure: a missing provider, invalid weights or
// an unknown adapter. It fails the job with an error message.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("configuration: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// Configf builds a ConfigError.
func Configf(format string, args ...any) error {
	return &ConfigError{Err: eris.Errorf(format, args...)}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Worker executes one job type.
type Worker interface {
	Type() model.JobType
	// Plan selects the items the job will process. A ConfigError fails the
	// job before any item runs.
	Plan(ctx context.Context, job model.Job) (Batch, error)
}

// Prober is implemented by workers that can count their eligible items
// without planning a job. The scheduler skips types with nothing to do.
type Prober interface {
	Pending(ctx context.Context) (int, error)
}

// Batch is the planned work of one job.
type Batch interface {
	Len() int
	// Process handles item i. It is called at most once per index and
	// may run concurrently with other indexes.
	Process(ctx context.Context, i int) error
	// Summary is stored as the job result.
	Summary() map[string]any
}

// Concurrent is implemented by batches that want a specific fan-out.
type Concurrent interface {
	Concurrency() int
}

// WorkerFunc adapts a plan function to Worker.
type WorkerFunc struct {
	JobType model.JobType
	PlanFn  func(ctx context.Context, job model.Job) (Batch, error)
}

func (w WorkerFunc) Type() model.JobType { return w.JobType }

func (w WorkerFunc) Plan(ctx context.Context, job model.Job) (Batch, error) {
	return w.PlanFn(ctx, job)
}
