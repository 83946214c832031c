package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/airbusgeo/minicube/common"
	db "github.com/airbusgeo/minicube/interface/database"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// pgInterface allows to use either a sql.DB or a sql.Tx
type pgInterface interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BackendTx implements JobsTxBackend
type BackendTx struct {
	*sql.Tx
	Backend
}

// BackendDB implements JobsDBBackend
type BackendDB struct {
	*sql.DB
	Backend
}

// Backend implements JobsBackend
type Backend struct {
	pgInterface
}

/* http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html */
const (
	noError         = "00000"
	uniqueViolation = "23505"

	notPqError = "X"
)

func pqErrorCode(err error) pq.ErrorCode {
	if err == nil {
		return noError
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		return pqerr.Code
	}
	return notPqError
}

// StartTransaction implements JobsDBBackend
func (bdb BackendDB) StartTransaction(ctx context.Context) (db.JobsTxBackend, error) {
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return BackendTx{}, err
	}
	return BackendTx{tx, Backend{pgInterface: tx}}, nil
}

// Rollback overloads sql.Tx.Rollback to be idempotent
func (btx BackendTx) Rollback() error {
	err := btx.Tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// New creates a new backend using Postgres
func New(ctx context.Context, dbConnection string) (*BackendDB, error) {
	db, err := sql.Open("postgres", dbConnection)
	if err != nil {
		return nil, fmt.Errorf("sql.open: %w", err)
	}
	return &BackendDB{db, Backend{pgInterface: db}}, nil
}

// CreateJob implements JobsBackend
func (b Backend) CreateJob(ctx context.Context, job db.Job) error {
	_, err := b.ExecContext(ctx,
		"insert into job(id, payload, status, message, result_uri, attrs, creation_time, last_update_time) values($1,$2,$3,$4,$5,$6,$7,$7)",
		job.ID, job.Payload, job.Status, job.Message, job.ResultURI, job.Attrs, job.CreationTime)
	switch pqErrorCode(err) {
	case noError:
		return nil
	case uniqueViolation:
		return db.ErrAlreadyExists{Type: "job", ID: job.ID.String()}
	default:
		return fmt.Errorf("CreateJob.exec: %w", err)
	}
}

// Job implements JobsBackend
func (b Backend) Job(ctx context.Context, id uuid.UUID) (db.Job, error) {
	job := db.Job{}
	job.ID = id
	if err := b.QueryRowContext(ctx,
		"select payload, status, message, result_uri, attrs, creation_time, last_update_time from job where id=$1", id).Scan(
		&job.Payload, &job.Status, &job.Message, &job.ResultURI, &job.Attrs, &job.CreationTime, &job.LastUpdateTime); err != nil {
		if err == sql.ErrNoRows {
			return job, db.ErrNotFound{Type: "job", ID: id.String()}
		}
		return job, fmt.Errorf("Job.QueryRowContext: %w", err)
	}
	return job, nil
}

// Jobs implements JobsBackend
func (b Backend) Jobs(ctx context.Context, collection, status string, page, limit int) ([]db.Job, error) {
	wc := joinClause{}
	if collection != "" {
		value, operator := parseLike(collection)
		wc.append("coalesce(payload->'collection'->>'handle', payload->'collection'->>'name') "+operator+" $%d", value)
	}
	if status != "" {
		wc.append("status = $%d", status)
	}

	query := "select id, payload, status, message, result_uri, attrs, creation_time, last_update_time from job" +
		wc.WhereClause() + " ORDER BY creation_time, id" + limitOffsetClause(page, limit)
	rows, err := b.QueryContext(ctx, query, wc.Parameters...)
	if err != nil {
		return nil, fmt.Errorf("jobs.QueryContext: %w", err)
	}
	defer rows.Close()
	jobs := make([]db.Job, 0)
	for rows.Next() {
		job := db.Job{}
		if err := rows.Scan(&job.ID, &job.Payload, &job.Status, &job.Message, &job.ResultURI, &job.Attrs, &job.CreationTime, &job.LastUpdateTime); err != nil {
			return nil, fmt.Errorf("jobs.Scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs.rows.err: %w", err)
	}
	return jobs, nil
}

// UpdateJob implements JobsBackend
func (b Backend) UpdateJob(ctx context.Context, id uuid.UUID, status common.JobStatus, message *string) error {
	var err error
	if message != nil {
		_, err = b.ExecContext(ctx, "update job set status=$1, message=$2, last_update_time=now() where id=$3", status, *message, id)
	} else {
		_, err = b.ExecContext(ctx, "update job set status=$1, last_update_time=now() where id=$2", status, id)
	}
	if err != nil {
		return fmt.Errorf("updateJob: %w", err)
	}
	return nil
}

// UpdateJobResult implements JobsBackend
func (b Backend) UpdateJobResult(ctx context.Context, id uuid.UUID, resultURI string, attrs common.CubeAttrs) error {
	if _, err := b.ExecContext(ctx, "update job set result_uri=$1, attrs=$2, last_update_time=now() where id=$3", resultURI, attrs, id); err != nil {
		return fmt.Errorf("UpdateJobResult: %w", err)
	}
	return nil
}

// DeleteJob implements JobsBackend
func (b Backend) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if _, err := b.ExecContext(ctx, "delete from job where id = $1", id); err != nil {
		return fmt.Errorf("DeleteJob.exec: %w", err)
	}
	return nil
}

// JobsStatus implements JobsBackend
func (b Backend) JobsStatus(ctx context.Context) (db.Status, error) {
	s := db.Status{}
	rows, err := b.QueryContext(ctx, "select status, count(status) from job group by status")
	if err != nil {
		return s, fmt.Errorf("JobsStatus.QueryContext: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status common.JobStatus
		var nb int64
		if err := rows.Scan(&status, &nb); err != nil {
			return s, fmt.Errorf("JobsStatus.Scan: %w", err)
		}
		s.Set(status, nb)
	}
	if err := rows.Err(); err != nil {
		return s, fmt.Errorf("JobsStatus.rows.err: %w", err)
	}
	return s, nil
}
