package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/reader"
	"github.com/airbusgeo/minicube/service"
	"github.com/airbusgeo/minicube/service/log"
	"golang.org/x/sync/errgroup"
)

// Default retry policy of a scheduler
const (
	DefaultRetryWait = time.Second
	DefaultMaxTries  = 4
)

// PatchError is the final cause of a patch given up by the scheduler.
type PatchError struct {
	SceneID string
	Cause   error
}

func (e PatchError) Error() string {
	return fmt.Sprintf("patch %s: %v", e.SceneID, e.Cause)
}

func (e PatchError) Unwrap() error {
	return e.Cause
}

// Scheduler fetches patches through a bounded pool of workers. Temporary
// failures are retried with a doubling backoff; a patch finally given up
// carries its own error and never aborts the other patches.
type Scheduler struct {
	reader      reader.PatchReader
	concurrency int
	retryWait   time.Duration
	maxTries    int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetry sets the initial backoff wait and the number of tries per patch.
func WithRetry(wait time.Duration, maxTries int) Option {
	return func(s *Scheduler) {
		s.retryWait = wait
		s.maxTries = maxTries
	}
}

// NewScheduler creates a Scheduler running at most concurrency fetches at once.
func NewScheduler(r reader.PatchReader, concurrency int, opts ...Option) (*Scheduler, error) {
	if concurrency <= 0 || concurrency > common.MaxConcurrency {
		return nil, common.InvalidInputf("concurrency must be in [1, %d], got %d", common.MaxConcurrency, concurrency)
	}
	s := &Scheduler{reader: r, concurrency: concurrency, retryWait: DefaultRetryWait, maxTries: DefaultMaxTries}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fetch reads one patch per request and returns one result per request, in
// the order of the requests. Workers take requests as they get idle: patches
// complete in any order. Requests still pending when ctx expires fail with
// the context error.
func (s *Scheduler) Fetch(ctx context.Context, requests []common.PatchRequest) ([]common.PatchResult, error) {
	results := make([]common.PatchResult, len(requests))

	wg, ctx := errgroup.WithContext(ctx)
	jobChan := make(chan int, len(requests))

	for i := 0; i < s.concurrency && i < len(requests); i++ {
		wg.Go(func() error { return s.fetchWorker(ctx, jobChan, requests, results) })
	}

	for i := range requests {
		jobChan <- i
	}
	close(jobChan)

	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("fetch.%w", err)
	}
	return results, nil
}

func (s *Scheduler) fetchWorker(ctx context.Context, jobs <-chan int, requests []common.PatchRequest, results []common.PatchResult) error {
	for i := range jobs {
		req := requests[i]
		select {
		case <-ctx.Done():
			results[i] = common.PatchResult{SceneID: req.SceneID, Timestamp: req.Timestamp,
				Err: PatchError{SceneID: req.SceneID, Cause: ctx.Err()}}
		default:
			results[i] = s.fetchOne(ctx, req)
		}
	}
	return nil
}

// fetchOne retries the read as long as the reader reports temporary errors.
func (s *Scheduler) fetchOne(ctx context.Context, req common.PatchRequest) common.PatchResult {
	result := common.PatchResult{SceneID: req.SceneID, Timestamp: req.Timestamp}

	wait := s.retryWait
	for try := 1; ; try++ {
		patch, err := s.reader.ReadPatch(ctx, req)
		if err == nil {
			result.Patch = patch
			return result
		}
		if !service.Temporary(err) || try >= s.maxTries {
			log.Logger(ctx).Sugar().Warnf("%s: drop patch %s after %d tries: %v", s.reader.Name(), req.SceneID, try, err)
			result.Err = PatchError{SceneID: req.SceneID, Cause: err}
			return result
		}
		select {
		case <-ctx.Done():
			result.Err = PatchError{SceneID: req.SceneID, Cause: service.MergeErrors(true, err, ctx.Err())}
			return result
		case <-time.After(wait):
		}
		wait *= 2
	}
}
