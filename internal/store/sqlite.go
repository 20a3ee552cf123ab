package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqliteTimeLayout is fixed width so stored timestamps compare correctly
// as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// NewSQLite opens a SQLite database at the given path. Pragmas go in the
// DSN so every pooled connection gets them.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id                      TEXT PRIMARY KEY,
	natural_key             TEXT NOT NULL UNIQUE,
	source_kind             TEXT NOT NULL,
	platform                TEXT NOT NULL DEFAULT '',
	username                TEXT NOT NULL DEFAULT '',
	domain                  TEXT NOT NULL DEFAULT '',
	website                 TEXT NOT NULL DEFAULT '',
	name                    TEXT NOT NULL DEFAULT '',
	category                TEXT NOT NULL DEFAULT '',
	location                TEXT NOT NULL DEFAULT '',
	keywords                TEXT NOT NULL DEFAULT '[]',
	description             TEXT NOT NULL DEFAULT '',
	authority               REAL,
	is_manual               INTEGER NOT NULL DEFAULT 0,
	discovered_by           TEXT NOT NULL DEFAULT '',
	contact_email           TEXT NOT NULL DEFAULT '',
	email_confidence        REAL,
	discovery_status        TEXT NOT NULL,
	scrape_status           TEXT NOT NULL,
	verification_status     TEXT NOT NULL,
	draft_status            TEXT NOT NULL,
	send_status             TEXT NOT NULL,
	stage                   TEXT NOT NULL,
	scrape_changed_at       TEXT,
	verification_changed_at TEXT,
	draft_changed_at        TEXT,
	send_changed_at         TEXT,
	draft_subject           TEXT NOT NULL DEFAULT '',
	draft_body              TEXT NOT NULL DEFAULT '',
	sent_subject            TEXT NOT NULL DEFAULT '',
	sent_body               TEXT NOT NULL DEFAULT '',
	message_id              TEXT NOT NULL DEFAULT '',
	sent_at                 TEXT,
	follow_ups              INTEGER NOT NULL DEFAULT 0,
	last_follow_up_at       TEXT,
	last_error              TEXT NOT NULL DEFAULT '',
	score                   REAL,
	scored_at               TEXT,
	version                 INTEGER NOT NULL DEFAULT 1,
	created_at              TEXT NOT NULL,
	updated_at              TEXT NOT NULL,
	CHECK (send_status <> 'sent' OR (contact_email <> '' AND sent_body <> ''))
);

CREATE INDEX IF NOT EXISTS idx_prospects_stage ON prospects(stage);
CREATE INDEX IF NOT EXISTS idx_prospects_scrape ON prospects(scrape_status);
CREATE INDEX IF NOT EXISTS idx_prospects_outreach ON prospects(draft_status, send_status);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	job_type        TEXT NOT NULL,
	status          TEXT NOT NULL,
	triggered_by    TEXT NOT NULL DEFAULT 'manual',
	params          TEXT,
	result          TEXT,
	items_targeted  INTEGER NOT NULL DEFAULT 0,
	items_completed INTEGER NOT NULL DEFAULT 0,
	items_failed    INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	owner           TEXT NOT NULL DEFAULT '',
	heartbeat_at    TEXT,
	created_at      TEXT NOT NULL,
	started_at      TEXT,
	finished_at     TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_type
	ON jobs(job_type) WHERE status IN ('pending', 'running');
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

CREATE TABLE IF NOT EXISTS pipeline_settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	return s.now().UTC()
}

func ts(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func tsArg(t time.Time) any { return ts(t) }

func nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func parseNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Prospects ---

func (s *SQLiteStore) InsertProspect(ctx context.Context, p *model.Prospect) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock()
	}
	p.UpdatedAt = p.CreatedAt
	p.Version = 1
	p.Stage = model.DeriveStage(*p)

	kw, err := marshalKeywords(p.Keywords)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prospects (`+prospectColumns+`) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (natural_key) DO NOTHING`,
		p.ID, p.NaturalKey, string(p.SourceKind), p.Platform, p.Username, p.Domain, p.Website, p.Name,
		p.Category, p.Location, string(kw), p.Description, floatArg(p.Authority), p.IsManual, p.DiscoveredBy,
		p.ContactEmail, floatArg(p.EmailConfidence),
		string(p.DiscoveryStatus), string(p.ScrapeStatus), string(p.VerificationStatus),
		string(p.DraftStatus), string(p.SendStatus), string(p.Stage),
		nullTS(p.ScrapeChangedAt), nullTS(p.VerificationChangedAt), nullTS(p.DraftChangedAt), nullTS(p.SendChangedAt),
		p.DraftSubject, p.DraftBody, p.SentSubject, p.SentBody, p.MessageID, nullTS(p.SentAt),
		p.FollowUps, nullTS(p.LastFollowUpAt), p.LastError, floatArg(p.Score), nullTS(p.ScoredAt),
		p.Version, ts(p.CreatedAt), ts(p.UpdatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert prospect %s", p.NaturalKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ProspectExists(ctx context.Context, naturalKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM prospects WHERE natural_key = ?)`, naturalKey,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: prospect exists %s", naturalKey)
	}
	return exists, nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	return s.getProspect(ctx, `id = ?`, id)
}

func (s *SQLiteStore) GetProspectByKey(ctx context.Context, naturalKey string) (*model.Prospect, error) {
	return s.getProspect(ctx, `natural_key = ?`, naturalKey)
}

func (s *SQLiteStore) getProspect(ctx context.Context, where, arg string) (*model.Prospect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE `+where, arg)
	p, err := scanSQLiteProspect(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "prospect %s", arg)
		}
		return nil, eris.Wrapf(err, "sqlite: get prospect %s", arg)
	}
	return p, nil
}

func (s *SQLiteStore) SwapProspect(ctx context.Context, p model.Prospect, expectedVersion int64) (bool, error) {
	kw, err := marshalKeywords(p.Keywords)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET
			name = ?, category = ?, location = ?, keywords = ?, description = ?, authority = ?,
			contact_email = ?, email_confidence = ?,
			scrape_status = ?, verification_status = ?, draft_status = ?, send_status = ?, stage = ?,
			scrape_changed_at = ?, verification_changed_at = ?, draft_changed_at = ?, send_changed_at = ?,
			draft_subject = ?, draft_body = ?, sent_subject = ?, sent_body = ?, message_id = ?, sent_at = ?,
			last_error = ?, score = ?, scored_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Name, p.Category, p.Location, string(kw), p.Description, floatArg(p.Authority),
		p.ContactEmail, floatArg(p.EmailConfidence),
		string(p.ScrapeStatus), string(p.VerificationStatus), string(p.DraftStatus), string(p.SendStatus), string(p.Stage),
		nullTS(p.ScrapeChangedAt), nullTS(p.VerificationChangedAt), nullTS(p.DraftChangedAt), nullTS(p.SendChangedAt),
		p.DraftSubject, p.DraftBody, p.SentSubject, p.SentBody, p.MessageID, nullTS(p.SentAt),
		p.LastError, floatArg(p.Score), nullTS(p.ScoredAt), p.Version, ts(p.UpdatedAt),
		p.ID, expectedVersion,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: swap prospect %s", p.ID)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) UpdateScore(ctx context.Context, id string, version int64, score float64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET score = ?, scored_at = ? WHERE id = ? AND version = ?`,
		score, ts(at), id, version,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update score %s", id)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) RecordFollowUp(ctx context.Context, id string, expectedCount int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET follow_ups = follow_ups + 1, last_follow_up_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND follow_ups = ? AND send_status = 'sent'`,
		ts(at), ts(at), id, expectedCount,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: record follow-up %s", id)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) ReleaseFollowUp(ctx context.Context, id string, claimedCount int, prevAt *time.Time, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET follow_ups = follow_ups - 1, last_follow_up_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND follow_ups = ? AND follow_ups > 0`,
		nullTS(prevAt), ts(at), id, claimedCount,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: release follow-up %s", id)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) RecordFollowUpError(ctx context.Context, id string, claimedCount int, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET last_error = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND follow_ups = ?`,
		reason, ts(at), id, claimedCount,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: record follow-up error %s", id)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE 1 = 1`
	var args []any
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, filter.Platform)
	}
	if filter.MinScore > 0 {
		query += ` AND score >= ?`
		args = append(args, filter.MinScore)
	}
	query += ` ORDER BY score DESC NULLS LAST, created_at LIMIT ? OFFSET ?`
	args = append(args, clampLimit(filter.Limit, 100), filter.Offset)
	return s.queryProspects(ctx, query, args...)
}

func (s *SQLiteStore) ListEligible(ctx context.Context, e Eligibility) ([]model.Prospect, error) {
	where, args, err := eligibilityWhere(e, tsArg)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE ` + where + eligibilityOrder(e.Job) + ` LIMIT ?`
	args = append(args, clampLimit(e.Limit, 500))
	return s.queryProspects(ctx, query, args...)
}

func (s *SQLiteStore) CountEligible(ctx context.Context, e Eligibility) (int, error) {
	where, args, err := eligibilityWhere(e, tsArg)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM prospects WHERE `+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count eligible %s", e.Job)
	}
	return n, nil
}

func (s *SQLiteStore) CountByStage(ctx context.Context) (map[model.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, count(*) FROM prospects GROUP BY stage`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by stage")
	}
	defer rows.Close()

	out := make(map[model.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage count")
		}
		out[model.Stage(stage)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate stage counts")
}

func (s *SQLiteStore) queryProspects(ctx context.Context, query string, args ...any) ([]model.Prospect, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanSQLiteProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate prospects")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProspect(row scanner) (*model.Prospect, error) {
	var p model.Prospect
	var kind, discovery, scrape, verification, draft, send, stage, kw, createdAt, updatedAt string
	var authority, confidence, score sql.NullFloat64
	var scrapeAt, verificationAt, draftAt, sendAt, sentAt, followUpAt, scoredAt sql.NullString

	err := row.Scan(
		&p.ID, &p.NaturalKey, &kind, &p.Platform, &p.Username, &p.Domain, &p.Website, &p.Name,
		&p.Category, &p.Location, &kw, &p.Description, &authority, &p.IsManual, &p.DiscoveredBy,
		&p.ContactEmail, &confidence,
		&discovery, &scrape, &verification, &draft, &send, &stage,
		&scrapeAt, &verificationAt, &draftAt, &sendAt,
		&p.DraftSubject, &p.DraftBody, &p.SentSubject, &p.SentBody, &p.MessageID, &sentAt,
		&p.FollowUps, &followUpAt, &p.LastError, &score, &scoredAt,
		&p.Version, &createdAt, &updatedAt,
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
	p.Authority = nullFloat(authority)
	p.EmailConfidence = nullFloat(confidence)
	p.Score = nullFloat(score)

	if p.Keywords, err = unmarshalKeywords([]byte(kw)); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&p.ScrapeChangedAt, scrapeAt},
		{&p.VerificationChangedAt, verificationAt},
		{&p.DraftChangedAt, draftAt},
		{&p.SendChangedAt, sendAt},
		{&p.SentAt, sentAt},
		{&p.LastFollowUpAt, followUpAt},
		{&p.ScoredAt, scoredAt},
	} {
		if *f.dst, err = parseNullTS(f.src); err != nil {
			return nil, err
		}
	}
	if p.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	job.CreatedAt = s.clock()

	var params any
	if len(job.Params) > 0 {
		params = string(job.Params)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, job_type, status, triggered_by, params, owner, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Type), string(job.Status), string(job.TriggeredBy), params, job.Owner, ts(job.CreatedAt),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrJobActive, "job type %s", job.Type)
		}
		return eris.Wrapf(err, "sqlite: insert job %s", job.Type)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "job %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []any
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
	return s.queryJobs(ctx, query, args...)
}

func (s *SQLiteStore) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at`,
		activeJobStatuses...,
	)
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, id, owner string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET owner = ?, heartbeat_at = ?
		WHERE id = ? AND status IN ('pending', 'running')
			AND (owner = '' OR owner = ? OR heartbeat_at IS NULL OR heartbeat_at < ?)`,
		owner, ts(s.clock()), id, owner, ts(staleBefore),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim job %s", id)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) HeartbeatJob(ctx context.Context, id, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND owner = ? AND status IN ('pending', 'running')`,
		ts(s.clock()), id, owner,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: heartbeat job %s", id)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) StartJob(ctx context.Context, id, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', started_at = COALESCE(started_at, ?)
		WHERE id = ? AND owner = ? AND status IN ('pending', 'running')`,
		ts(s.clock()), id, owner,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: start job %s", id)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) SetJobTarget(ctx context.Context, id string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET items_targeted = MAX(items_targeted, ?) WHERE id = ?`, n, id,
	)
	return eris.Wrapf(err, "sqlite: set job target %s", id)
}

func (s *SQLiteStore) AddJobProgress(ctx context.Context, id string, completed, failed int) error {
	if completed < 0 || failed < 0 {
		return eris.Errorf("sqlite: negative progress for job %s", id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET items_completed = items_completed + ?, items_failed = items_failed + ? WHERE id = ?`,
		completed, failed, id,
	)
	return eris.Wrapf(err, "sqlite: job progress %s", id)
}

func (s *SQLiteStore) FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string, result json.RawMessage) (bool, error) {
	if !status.Terminal() {
		return false, eris.Errorf("sqlite: finish job %s with non-terminal status %s", id, status)
	}
	var res any
	if len(result) > 0 {
		res = string(result)
	}
	out, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, result = ?, finished_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		string(status), errMsg, res, ts(s.clock()), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finish job %s", id)
	}
	return affectedOne(out)
}

func (s *SQLiteStore) CancelJob(ctx context.Context, id string) (bool, error) {
	return s.FinishJob(ctx, id, model.JobCancelled, "", nil)
}

func (s *SQLiteStore) CountJobsSince(ctx context.Context, since time.Time) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM jobs WHERE created_at >= ? GROUP BY status`, ts(since),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count jobs")
	}
	defer rows.Close()

	out := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		out[model.JobStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate job counts")
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func scanSQLiteJob(row scanner) (*model.Job, error) {
	var j model.Job
	var jobType, status, trigger, createdAt string
	var params, result, heartbeat, started, finished sql.NullString
	err := row.Scan(
		&j.ID, &jobType, &status, &trigger, &params, &result,
		&j.ItemsTargeted, &j.ItemsCompleted, &j.ItemsFailed, &j.ErrorMessage, &j.Owner, &heartbeat,
		&createdAt, &started, &finished,
	)
	if err != nil {
		return nil, err
	}
	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.TriggeredBy = model.TriggerSource(trigger)
	if params.Valid && params.String != "" {
		j.Params = json.RawMessage(params.String)
	}
	if result.Valid && result.String != "" {
		j.Result = json.RawMessage(result.String)
	}
	if j.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if j.HeartbeatAt, err = parseNullTS(heartbeat); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseNullTS(started); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseNullTS(finished); err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM pipeline_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrap(ErrNotFound, "settings")
		}
		return nil, eris.Wrap(err, "sqlite: get settings")
	}
	var st model.Settings
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal settings")
	}
	return &st, nil
}

func (s *SQLiteStore) PutSettings(ctx context.Context, st model.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal settings")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_settings (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), ts(s.clock()),
	)
	return eris.Wrap(err, "sqlite: put settings")
}
