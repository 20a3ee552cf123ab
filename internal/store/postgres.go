package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id                      TEXT PRIMARY KEY,
	natural_key             TEXT NOT NULL,
	source_kind             TEXT NOT NULL,
	platform                TEXT NOT NULL DEFAULT '',
	username                TEXT NOT NULL DEFAULT '',
	domain                  TEXT NOT NULL DEFAULT '',
	website                 TEXT NOT NULL DEFAULT '',
	name                    TEXT NOT NULL DEFAULT '',
	category                TEXT NOT NULL DEFAULT '',
	location                TEXT NOT NULL DEFAULT '',
	keywords                JSONB NOT NULL DEFAULT '[]',
	description             TEXT NOT NULL DEFAULT '',
	authority               DOUBLE PRECISION,
	is_manual               BOOLEAN NOT NULL DEFAULT false,
	discovered_by           TEXT NOT NULL DEFAULT '',
	contact_email           TEXT NOT NULL DEFAULT '',
	email_confidence        DOUBLE PRECISION,
	discovery_status        TEXT NOT NULL,
	scrape_status           TEXT NOT NULL,
	verification_status     TEXT NOT NULL,
	draft_status            TEXT NOT NULL,
	send_status             TEXT NOT NULL,
	stage                   TEXT NOT NULL,
	scrape_changed_at       TIMESTAMPTZ,
	verification_changed_at TIMESTAMPTZ,
	draft_changed_at        TIMESTAMPTZ,
	send_changed_at         TIMESTAMPTZ,
	draft_subject           TEXT NOT NULL DEFAULT '',
	draft_body              TEXT NOT NULL DEFAULT '',
	sent_subject            TEXT NOT NULL DEFAULT '',
	sent_body               TEXT NOT NULL DEFAULT '',
	message_id              TEXT NOT NULL DEFAULT '',
	sent_at                 TIMESTAMPTZ,
	follow_ups              INTEGER NOT NULL DEFAULT 0,
	last_follow_up_at       TIMESTAMPTZ,
	last_error              TEXT NOT NULL DEFAULT '',
	score                   DOUBLE PRECISION,
	scored_at               TIMESTAMPTZ,
	version                 BIGINT NOT NULL DEFAULT 1,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT prospects_natural_key_key UNIQUE (natural_key),
	CONSTRAINT prospects_sent_has_payload CHECK (
		send_status <> 'sent' OR (contact_email <> '' AND sent_body <> '')
	)
);

CREATE INDEX IF NOT EXISTS idx_prospects_stage ON prospects(stage);
CREATE INDEX IF NOT EXISTS idx_prospects_scrape ON prospects(scrape_status);
CREATE INDEX IF NOT EXISTS idx_prospects_outreach ON prospects(draft_status, send_status);
CREATE INDEX IF NOT EXISTS idx_prospects_score ON prospects(score DESC NULLS LAST);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	job_type        TEXT NOT NULL,
	status          TEXT NOT NULL,
	triggered_by    TEXT NOT NULL DEFAULT 'manual',
	params          JSONB,
	result          JSONB,
	items_targeted  INTEGER NOT NULL DEFAULT 0,
	items_completed INTEGER NOT NULL DEFAULT 0,
	items_failed    INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	owner           TEXT NOT NULL DEFAULT '',
	heartbeat_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_type
	ON jobs(job_type) WHERE status IN ('pending', 'running');
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// --- Prospects ---

func (s *PostgresStore) InsertProspect(ctx context.Context, p *model.Prospect) (bool, error) {
	now := s.clock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	p.Version = 1
	p.Stage = model.DeriveStage(*p)

	kw, err := marshalKeywords(p.Keywords)
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO prospects (`+prospectColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33,
			$34, $35, $36, $37, $38, $39, $40, $41)
		ON CONFLICT (natural_key) DO NOTHING`,
		p.ID, p.NaturalKey, string(p.SourceKind), p.Platform, p.Username, p.Domain, p.Website, p.Name,
		p.Category, p.Location, kw, p.Description, p.Authority, p.IsManual, p.DiscoveredBy,
		p.ContactEmail, p.EmailConfidence,
		string(p.DiscoveryStatus), string(p.ScrapeStatus), string(p.VerificationStatus),
		string(p.DraftStatus), string(p.SendStatus), string(p.Stage),
		p.ScrapeChangedAt, p.VerificationChangedAt, p.DraftChangedAt, p.SendChangedAt,
		p.DraftSubject, p.DraftBody, p.SentSubject, p.SentBody, p.MessageID, p.SentAt,
		p.FollowUps, p.LastFollowUpAt, p.LastError, p.Score, p.ScoredAt,
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert prospect %s", p.NaturalKey)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ProspectExists(ctx context.Context, naturalKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM prospects WHERE natural_key = $1)`, naturalKey,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: prospect exists %s", naturalKey)
	}
	return exists, nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	return s.getProspect(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetProspectByKey(ctx context.Context, naturalKey string) (*model.Prospect, error) {
	return s.getProspect(ctx, `natural_key = $1`, naturalKey)
}

func (s *PostgresStore) getProspect(ctx context.Context, where string, arg string) (*model.Prospect, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE `+where, arg)
	p, err := scanPgProspect(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "prospect %s", arg)
		}
		return nil, eris.Wrapf(err, "postgres: get prospect %s", arg)
	}
	return p, nil
}

func (s *PostgresStore) SwapProspect(ctx context.Context, p model.Prospect, expectedVersion int64) (bool, error) {
	kw, err := marshalKeywords(p.Keywords)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET
			name = $3, category = $4, location = $5, keywords = $6, description = $7, authority = $8,
			contact_email = $9, email_confidence = $10,
			scrape_status = $11, verification_status = $12, draft_status = $13, send_status = $14, stage = $15,
			scrape_changed_at = $16, verification_changed_at = $17, draft_changed_at = $18, send_changed_at = $19,
			draft_subject = $20, draft_body = $21, sent_subject = $22, sent_body = $23, message_id = $24, sent_at = $25,
			last_error = $26, score = $27, scored_at = $28, version = $29, updated_at = $30
		WHERE id = $1 AND version = $2`,
		p.ID, expectedVersion,
		p.Name, p.Category, p.Location, kw, p.Description, p.Authority,
		p.ContactEmail, p.EmailConfidence,
		string(p.ScrapeStatus), string(p.VerificationStatus), string(p.DraftStatus), string(p.SendStatus), string(p.Stage),
		p.ScrapeChangedAt, p.VerificationChangedAt, p.DraftChangedAt, p.SendChangedAt,
		p.DraftSubject, p.DraftBody, p.SentSubject, p.SentBody, p.MessageID, p.SentAt,
		p.LastError, p.Score, p.ScoredAt, p.Version, p.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: swap prospect %s", p.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateScore(ctx context.Context, id string, version int64, score float64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET score = $3, scored_at = $4 WHERE id = $1 AND version = $2`,
		id, version, score, at,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update score %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordFollowUp(ctx context.Context, id string, expectedCount int, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET follow_ups = follow_ups + 1, last_follow_up_at = $3,
			version = version + 1, updated_at = $3
		WHERE id = $1 AND follow_ups = $2 AND send_status = 'sent'`,
		id, expectedCount, at,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: record follow-up %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseFollowUp(ctx context.Context, id string, claimedCount int, prevAt *time.Time, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET follow_ups = follow_ups - 1, last_follow_up_at = $3,
			version = version + 1, updated_at = $4
		WHERE id = $1 AND follow_ups = $2 AND follow_ups > 0`,
		id, claimedCount, prevAt, at,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: release follow-up %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordFollowUpError(ctx context.Context, id string, claimedCount int, reason string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET last_error = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND follow_ups = $2`,
		id, claimedCount, reason, at,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: record follow-up error %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.Platform != "" {
		query += fmt.Sprintf(` AND platform = $%d`, argIdx)
		args = append(args, filter.Platform)
		argIdx++
	}
	if filter.MinScore > 0 {
		query += fmt.Sprintf(` AND score >= $%d`, argIdx)
		args = append(args, filter.MinScore)
		argIdx++
	}
	query += ` ORDER BY score DESC NULLS LAST, created_at`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, clampLimit(filter.Limit, 100))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryProspects(ctx, query, args...)
}

func (s *PostgresStore) ListEligible(ctx context.Context, e Eligibility) ([]model.Prospect, error) {
	where, args, err := eligibilityWhere(e, func(t time.Time) any { return t })
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE ` + where + eligibilityOrder(e.Job) + ` LIMIT ?`
	args = append(args, clampLimit(e.Limit, 500))
	return s.queryProspects(ctx, db.Rebind(query), args...)
}

func (s *PostgresStore) CountEligible(ctx context.Context, e Eligibility) (int, error) {
	where, args, err := eligibilityWhere(e, func(t time.Time) any { return t })
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, db.Rebind(`SELECT count(*) FROM prospects WHERE `+where), args...).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count eligible %s", e.Job)
	}
	return n, nil
}

func (s *PostgresStore) CountByStage(ctx context.Context) (map[model.Stage]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT stage, count(*) FROM prospects GROUP BY stage`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by stage")
	}
	defer rows.Close()

	out := make(map[model.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage count")
		}
		out[model.Stage(stage)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stage counts")
}

func (s *PostgresStore) queryProspects(ctx context.Context, query string, args ...any) ([]model.Prospect, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanPgProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate prospects")
}

func scanPgProspect(row pgx.Row) (*model.Prospect, error) {
	var p model.Prospect
	var kind, discovery, scrape, verification, draft, send, stage string
	var kw []byte
	err := row.Scan(
		&p.ID, &p.NaturalKey, &kind, &p.Platform, &p.Username, &p.Domain, &p.Website, &p.Name,
		&p.Category, &p.Location, &kw, &p.Description, &p.Authority, &p.IsManual, &p.DiscoveredBy,
		&p.ContactEmail, &p.EmailConfidence,
		&discovery, &scrape, &verification, &draft, &send, &stage,
		&p.ScrapeChangedAt, &p.VerificationChangedAt, &p.DraftChangedAt, &p.SendChangedAt,
		&p.DraftSubject, &p.DraftBody, &p.SentSubject, &p.SentBody, &p.MessageID, &p.SentAt,
		&p.FollowUps, &p.LastFollowUpAt, &p.LastError, &p.Score, &p.ScoredAt,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.SourceKind = model.SourceKind(kind)
	p.DiscoveryStatus = model.DiscoveryStatus(discovery)
	p.ScrapeStatus = model.ScrapeStatus(scrape)
	p.VerificationStatus = model.VerificationStatus(verification)
	p.DraftStatus = model.DraftStatus(draft)
	p.SendStatus = model.SendStatus(send)
	p.Stage = model.Stage(stage)
	if p.Keywords, err = unmarshalKeywords(kw); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	job.CreatedAt = s.clock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, job_type, status, triggered_by, params, owner, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, string(job.Type), string(job.Status), string(job.TriggeredBy), nullJSON(job.Params), job.Owner, job.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "jobs_one_active_per_type") {
			return eris.Wrapf(ErrJobActive, "job type %s", job.Type)
		}
		return eris.Wrapf(err, "postgres: insert job %s", job.Type)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanPgJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "job %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	if filter.Type != "" {
		query += ` AND job_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit, 50))
	return s.queryJobs(ctx, db.Rebind(query), args...)
}

func (s *PostgresStore) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN ($1, $2) ORDER BY created_at`,
		activeJobStatuses...,
	)
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id, owner string, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET owner = $2, heartbeat_at = $4
		WHERE id = $1 AND status IN ('pending', 'running')
			AND (owner = '' OR owner = $2 OR heartbeat_at IS NULL OR heartbeat_at < $3)`,
		id, owner, staleBefore, s.clock(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim job %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) HeartbeatJob(ctx context.Context, id, owner string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = $3 WHERE id = $1 AND owner = $2 AND status IN ('pending', 'running')`,
		id, owner, s.clock(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: heartbeat job %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) StartJob(ctx context.Context, id, owner string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'running', started_at = COALESCE(started_at, $3)
		WHERE id = $1 AND owner = $2 AND status IN ('pending', 'running')`,
		id, owner, s.clock(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: start job %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetJobTarget(ctx context.Context, id string, n int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET items_targeted = GREATEST(items_targeted, $2) WHERE id = $1`, id, n,
	)
	return eris.Wrapf(err, "postgres: set job target %s", id)
}

func (s *PostgresStore) AddJobProgress(ctx context.Context, id string, completed, failed int) error {
	if completed < 0 || failed < 0 {
		return eris.Errorf("postgres: negative progress for job %s", id)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET items_completed = items_completed + $2, items_failed = items_failed + $3 WHERE id = $1`,
		id, completed, failed,
	)
	return eris.Wrapf(err, "postgres: job progress %s", id)
}

func (s *PostgresStore) FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string, result json.RawMessage) (bool, error) {
	if !status.Terminal() {
		return false, eris.Errorf("postgres: finish job %s with non-terminal status %s", id, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, result = $4, finished_at = $5
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, string(status), errMsg, nullJSON(result), s.clock(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finish job %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, id string) (bool, error) {
	return s.FinishJob(ctx, id, model.JobCancelled, "", nil)
}

func (s *PostgresStore) CountJobsSince(ctx context.Context, since time.Time) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM jobs WHERE created_at >= $1 GROUP BY status`, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	out := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		out[model.JobStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate job counts")
}

func (s *PostgresStore) queryJobs(ctx context.Context, query string, args ...any) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var jobType, status, trigger string
	var params, result []byte
	err := row.Scan(
		&j.ID, &jobType, &status, &trigger, &params, &result,
		&j.ItemsTargeted, &j.ItemsCompleted, &j.ItemsFailed, &j.ErrorMessage, &j.Owner, &j.HeartbeatAt,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.TriggeredBy = model.TriggerSource(trigger)
	if len(params) > 0 {
		j.Params = json.RawMessage(params)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM pipeline_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrap(ErrNotFound, "settings")
		}
		return nil, eris.Wrap(err, "postgres: get settings")
	}
	var st model.Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal settings")
	}
	return &st, nil
}

func (s *PostgresStore) PutSettings(ctx context.Context, st model.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal settings")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_settings (id, data, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		data, s.clock(),
	)
	return eris.Wrap(err, "postgres: put settings")
}
