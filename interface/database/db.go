package db

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/google/uuid"
)

// Job tracks a cube request from its submission to the delivery of its bundle.
type Job struct {
	ID             uuid.UUID          `json:"id"`
	Payload        common.CubeRequest `json:"payload"`
	Status         common.JobStatus   `json:"status"`
	Message        string             `json:"message,omitempty"`
	ResultURI      string             `json:"result_uri,omitempty"`
	Attrs          common.CubeAttrs   `json:"attrs,omitempty"`
	CreationTime   time.Time          `json:"creation_time"`
	LastUpdateTime time.Time          `json:"last_update_time"`
}

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s alreay exists: %s", e.Type, e.ID)
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

type JobsTxBackend interface {
	JobsBackend
	// Must be call to apply transaction
	Commit() error
	// Might be called to cancel the transaction (no effect if commit has already be done)
	Rollback() error
}

type JobsDBBackend interface {
	JobsBackend
	StartTransaction(ctx context.Context) (JobsTxBackend, error)
}

type Status struct {
	New, Pending, Done, Retry, Failed int64
}

// Set the number of occurences for a given status
func (s *Status) Set(status common.JobStatus, nb int64) {
	switch status {
	case common.JobStatusNEW:
		s.New = nb
	case common.JobStatusPENDING:
		s.Pending = nb
	case common.JobStatusDONE:
		s.Done = nb
	case common.JobStatusRETRY:
		s.Retry = nb
	case common.JobStatusFAILED:
		s.Failed = nb
	}
}

type JobsBackend interface {
	// Create a job in database, may return ErrAlreadyExists
	CreateJob(ctx context.Context, job Job) error
	// Get the job with the given id, may return ErrNotFound
	Job(ctx context.Context, id uuid.UUID) (Job, error)
	// Jobs returns the list of jobs fitting the given parameters
	// collection [optional=""] collection pattern (* and ? wildcards, "(?i)" suffix for case-insensitivity)
	// status [optional=""] status of the job
	Jobs(ctx context.Context, collection, status string, page, limit int) ([]Job, error)
	// Update job status & message (if != nil)
	UpdateJob(ctx context.Context, id uuid.UUID, status common.JobStatus, message *string) error
	// Store the location and the description of the cube built by a finished job
	UpdateJobResult(ctx context.Context, id uuid.UUID, resultURI string, attrs common.CubeAttrs) error
	// Delete a job from the database
	DeleteJob(ctx context.Context, id uuid.UUID) error
	// Returns the number of jobs per status
	JobsStatus(ctx context.Context) (Status, error)
}

// UnitOfWork runs a function and commit the database at the end or rollback if the function returns an error
func UnitOfWork(ctx context.Context, db JobsDBBackend, f func(tx JobsTxBackend) error) (err error) {
	// Start transaction
	txn, err := db.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("uow.starttransaction: %w", err)
	}

	// Rollback if not successful
	defer func() {
		if e := txn.Rollback(); err == nil {
			err = e
		}
	}()

	// Execute function
	if err = f(txn); err != nil {
		return fmt.Errorf("uow.%w", err)
	}

	return txn.Commit()
}
