package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: func() time.Time { return fixedNow }}
	return s, mock
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestPostgresStore_GetProspect_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, natural_key, .* FROM prospects WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProspect(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertProspect_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO prospects .* ON CONFLICT \(natural_key\) DO NOTHING`).
		WithArgs(anyArgs(41)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	p := model.NewProspect(model.SourceWebsite, "acme.com")
	inserted, err := s.InsertProspect(context.Background(), &p)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, fixedNow, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SwapProspect_VersionMismatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := append([]any{"p1", int64(3)}, anyArgs(28)...)
	mock.ExpectExec(`UPDATE prospects SET .* WHERE id = \$1 AND version = \$2`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	p := model.NewProspect(model.SourceWebsite, "acme.com")
	p.ID = "p1"
	p.Version = 4
	ok, err := s.SwapProspect(context.Background(), p, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_ActiveConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "enrich", "pending", "api", nil, "", fixedNow).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "jobs_one_active_per_type"})

	err := s.CreateJob(context.Background(), &model.Job{Type: model.JobEnrich, TriggeredBy: model.TriggerAPI})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobActive))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_OtherError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(anyArgs(7)...).
		WillReturnError(errors.New("connection reset"))

	err := s.CreateJob(context.Background(), &model.Job{Type: model.JobEnrich, TriggeredBy: model.TriggerAPI})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrJobActive))
	assert.Contains(t, err.Error(), "insert job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := fixedNow.Add(-time.Minute)
	rows := pgxmock.NewRows([]string{
		"id", "job_type", "status", "triggered_by", "params", "result",
		"items_targeted", "items_completed", "items_failed", "error_message", "owner", "heartbeat_at",
		"created_at", "started_at", "finished_at",
	}).AddRow(
		"j1", "send", "running", "scheduler", []byte(`{"limit":5}`), []byte(nil),
		5, 2, 1, "", "host-1", &fixedNow,
		fixedNow.Add(-time.Hour), &started, (*time.Time)(nil),
	)
	mock.ExpectQuery(`SELECT id, job_type, .* FROM jobs WHERE id = \$1`).
		WithArgs("j1").
		WillReturnRows(rows)

	j, err := s.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobSend, j.Type)
	assert.Equal(t, model.JobRunning, j.Status)
	assert.Equal(t, model.TriggerScheduler, j.TriggeredBy)
	assert.JSONEq(t, `{"limit":5}`, string(j.Params))
	assert.Nil(t, j.Result)
	assert.Equal(t, 5, j.ItemsTargeted)
	assert.Equal(t, "host-1", j.Owner)
	assert.Nil(t, j.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$2, .* WHERE id = \$1 AND status IN \('pending', 'running'\)`).
		WithArgs("j1", "completed", "", nil, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE jobs SET status = \$2`).
		WithArgs("j1", "cancelled", "", nil, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.FinishJob(context.Background(), "j1", model.JobCompleted, "", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CancelJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.FinishJob(context.Background(), "j1", model.JobPending, "", nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stale := fixedNow.Add(-90 * time.Second)

	mock.ExpectExec(`UPDATE jobs SET owner = \$2, heartbeat_at = \$4`).
		WithArgs("j1", "host-2", stale, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.ClaimJob(context.Background(), "j1", "host-2", stale)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseFollowUp(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	prev := fixedNow.Add(-48 * time.Hour)

	mock.ExpectExec(`UPDATE prospects SET follow_ups = follow_ups - 1 .* WHERE id = \$1 AND follow_ups = \$2`).
		WithArgs("p1", 2, pgxmock.AnyArg(), fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.ReleaseFollowUp(context.Background(), "p1", 2, &prev, fixedNow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetJobTarget_Monotonic(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`GREATEST\(items_targeted, \$2\)`).
		WithArgs("j1", 10).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SetJobTarget(context.Background(), "j1", 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddJobProgress(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`items_completed = items_completed \+ \$2, items_failed = items_failed \+ \$3`).
		WithArgs("j1", 1, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.AddJobProgress(context.Background(), "j1", 1, 0))
	assert.Error(t, s.AddJobProgress(context.Background(), "j1", 0, -1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountEligible_Rebinds(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM prospects WHERE draft_status = \$1 AND send_status = \$2 .* verification_status IN \(\$3, \$4\) AND COALESCE\(score, 0\) >= \$5`).
		WithArgs("none", "none", "verified", "unverified", 40.0).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountEligible(context.Background(), Eligibility{
		Job:           model.JobDraft,
		Verifications: []model.VerificationStatus{model.VerificationVerified, model.VerificationUnverified},
		MinScore:      40,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountByStage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT stage, count\(\*\) FROM prospects GROUP BY stage`).
		WillReturnRows(pgxmock.NewRows([]string{"stage", "count"}).
			AddRow("discovered", 4).
			AddRow("sent", 2))

	counts, err := s.CountByStage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[model.StageDiscovered])
	assert.Equal(t, 2, counts[model.StageSent])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSettings_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM pipeline_settings WHERE id = 1`).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSettings(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutSettings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO pipeline_settings .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutSettings(context.Background(), model.Settings{MasterEnabled: true}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_type`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
