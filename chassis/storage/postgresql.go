package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PGRepository - ...
type PGRepository struct {
	pool *pgxpool.Pool
}

// InitPGRepository - ...
func InitPGRepository(cfg Config) (Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	return &PGRepository{
		pool: pool,
	}, nil
}

const caseColumns = `
	id, status, environment, coalesce(document_xml, ''),
	coalesce(remote_submission_id, ''), coalesce(remote_core_id, ''),
	coalesce(error_summary, ''), coalesce(error_category, ''),
	submitted_dt, acknowledged_dt, created_dt, updated_dt`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(
		&c.ID,
		&c.Status,
		&c.Environment,
		&c.DocumentXML,
		&c.RemoteSubmissionID,
		&c.RemoteCoreID,
		&c.ErrorSummary,
		&c.ErrorCategory,
		&c.SubmittedAt,
		&c.AcknowledgedAt,
		&c.CreatedDt,
		&c.UpdatedDt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Case - ...
func (repo *PGRepository) Case(ctx context.Context, id string) (*Case, error) {
	query := `select ` + caseColumns + ` from t_case where id = $1`
	return scanCase(repo.pool.QueryRow(ctx, query, id))
}

// SetStatus - guarded workflow transition.
func (repo *PGRepository) SetStatus(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	sources := make([]string, 0, len(from))
	for _, st := range from {
		sources = append(sources, string(st))
	}
	query := `
	update t_case
	set
	  status = $2,
	  updated_dt = localtimestamp
	where id = $1 and status = any($3);
	`
	tag, err := repo.pool.Exec(ctx, query, id, to, sources)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetSubmitted - ...
func (repo *PGRepository) SetSubmitted(ctx context.Context, id, submissionID, coreID string, at time.Time) error {
	query := `
	update t_case
	set
	  remote_submission_id = $2,
	  remote_core_id = $3,
	  submitted_dt = $4,
	  error_summary = null,
	  error_category = null,
	  updated_dt = localtimestamp
	where id = $1;
	`
	tag, err := repo.pool.Exec(ctx, query, id, submissionID, coreID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAcknowledged - ...
func (repo *PGRepository) SetAcknowledged(ctx context.Context, id, coreID string, at time.Time) error {
	query := `
	update t_case
	set
	  remote_core_id = $2,
	  acknowledged_dt = $3,
	  updated_dt = localtimestamp
	where id = $1;
	`
	tag, err := repo.pool.Exec(ctx, query, id, coreID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFailure - ...
func (repo *PGRepository) SetFailure(ctx context.Context, id, summary, category string) error {
	query := `
	update t_case
	set
	  error_summary = $2,
	  error_category = $3,
	  updated_dt = localtimestamp
	where id = $1;
	`
	tag, err := repo.pool.Exec(ctx, query, id, summary, category)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AwaitingAcknowledgment - cases submitted to the remote system that
// still carry no terminal acknowledgment.
func (repo *PGRepository) AwaitingAcknowledgment(ctx context.Context) ([]*Case, error) {
	query := `
	select ` + caseColumns + `
	from t_case
	where status = 'SUBMITTED' and coalesce(remote_submission_id, '') <> ''
	order by submitted_dt;
	`
	rows, err := repo.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// AppendHistoryEvent - ...
func (repo *PGRepository) AppendHistoryEvent(ctx context.Context, caseID, eventType string, payload map[string]string) error {
	if payload == nil {
		payload = map[string]string{}
	}
	query := `insert into t_case_history(case_id, event_type, payload) values ($1, $2, $3)`
	_, err := repo.pool.Exec(ctx, query, caseID, eventType, payload)
	return mapMissingCase(err)
}

// mapMissingCase turns a case_id foreign key violation into ErrNotFound.
func mapMissingCase(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}

// CreateAttempt - ...
func (repo *PGRepository) CreateAttempt(ctx context.Context, attempt *Attempt) error {
	query := `
	insert into t_submission_attempt(case_id, attempt_number, environment, state, started_dt)
	values ($1, $2, $3, $4, $5)
	returning id;
	`
	err := repo.pool.QueryRow(
		ctx, query,
		attempt.CaseID, attempt.Number, attempt.Environment, attempt.State, attempt.StartedAt,
	).Scan(&attempt.ID)
	return mapMissingCase(err)
}

// CompleteAttempt - ...
func (repo *PGRepository) CompleteAttempt(ctx context.Context, id int64, submissionID, coreID string) error {
	query := `
	update t_submission_attempt
	set
	  state = 'SUCCESS',
	  remote_submission_id = $2,
	  remote_core_id = $3,
	  completed_dt = localtimestamp
	where id = $1 and state = 'IN_PROGRESS';
	`
	tag, err := repo.pool.Exec(ctx, query, id, submissionID, coreID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailAttempt - ...
func (repo *PGRepository) FailAttempt(ctx context.Context, id int64, category, message string, httpStatus int) error {
	query := `
	update t_submission_attempt
	set
	  state = 'FAILED',
	  error_category = $2,
	  error = $3,
	  http_status = $4,
	  completed_dt = localtimestamp
	where id = $1 and state = 'IN_PROGRESS';
	`
	tag, err := repo.pool.Exec(ctx, query, id, category, message, httpStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAcknowledgment - amends the latest attempt for the case.
func (repo *PGRepository) RecordAcknowledgment(ctx context.Context, caseID, ackType string, at time.Time, remoteID string, ackErrors map[string]string) error {
	if ackErrors == nil {
		ackErrors = map[string]string{}
	}
	query := `
	update t_submission_attempt
	set
	  ack_type = $2,
	  ack_dt = $3,
	  ack_remote_id = $4,
	  ack_errors = $5
	where id = (
	  select id from t_submission_attempt
	  where case_id = $1
	  order by attempt_number desc
	  limit 1
	);
	`
	tag, err := repo.pool.Exec(ctx, query, caseID, ackType, at, remoteID, ackErrors)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestAttempt - ...
func (repo *PGRepository) LatestAttempt(ctx context.Context, caseID string) (*Attempt, error) {
	var a Attempt
	query := `
	select
	  id, case_id, attempt_number, environment, state,
	  coalesce(remote_submission_id, ''), coalesce(remote_core_id, ''),
	  started_dt, completed_dt,
	  coalesce(error, ''), coalesce(error_category, ''), coalesce(http_status, 0),
	  coalesce(ack_type, ''), ack_dt, coalesce(ack_remote_id, ''), coalesce(ack_errors, '{}')
	from t_submission_attempt
	where case_id = $1
	order by attempt_number desc
	limit 1;
	`
	err := repo.pool.QueryRow(ctx, query, caseID).Scan(
		&a.ID,
		&a.CaseID,
		&a.Number,
		&a.Environment,
		&a.State,
		&a.RemoteSubmissionID,
		&a.RemoteCoreID,
		&a.StartedAt,
		&a.CompletedAt,
		&a.Error,
		&a.ErrorCategory,
		&a.HTTPStatus,
		&a.AckType,
		&a.AckTimestamp,
		&a.AckRemoteID,
		&a.AckErrors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// AttemptCount - historical attempts for a case; the source of
// attempt numbering across restarts.
func (repo *PGRepository) AttemptCount(ctx context.Context, caseID string) (int, error) {
	var count int
	query := `select count(*) from t_submission_attempt where case_id = $1`
	err := repo.pool.QueryRow(ctx, query, caseID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
