package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/combiphar/corpus/pkg/models"
)

// ClaimJob attempts to flip the singleton job row to running. The upsert is
// guarded so it only takes effect when the current state is not running;
// a returned row means the claim succeeded. This is the authority for
// single-flight, the caller's mutex only serializes attempts in-process.
func (s *Store) ClaimJob(ctx context.Context, jobName, triggerSource, triggeredBy string) (bool, error) {
	var claimed string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO document_sync (
			job_name, state, trigger_source, triggered_by,
			started_at, finished_at, runtime_seconds, result, error, updated_at
		) VALUES ($1, 'running', $2, $3, now(), NULL, NULL, NULL, NULL, now())
		ON CONFLICT (job_name) DO UPDATE SET
			state = 'running',
			trigger_source = EXCLUDED.trigger_source,
			triggered_by = EXCLUDED.triggered_by,
			started_at = now(),
			finished_at = NULL,
			runtime_seconds = NULL,
			result = NULL,
			error = NULL,
			updated_at = now()
		WHERE document_sync.state <> 'running'
		RETURNING job_name
	`, jobName, nullable(triggerSource), nullable(triggeredBy)).Scan(&claimed)

	if errors.Is(err, pgx.ErrNoRows) {
		// Another run holds the claim.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	return true, nil
}

// FinalizeJob records the terminal state of a run.
func (s *Store) FinalizeJob(ctx context.Context, jobName string, state models.JobState, runtimeSeconds float64, result map[string]interface{}, errMsg string) error {
	var resultJSON []byte
	if result != nil {
		resultJSON, _ = json.Marshal(result)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE document_sync
		SET state = $1,
			finished_at = now(),
			runtime_seconds = $2,
			result = $3,
			error = $4,
			updated_at = now()
		WHERE job_name = $5
	`, state, runtimeSeconds, resultJSON, nullable(errMsg), jobName)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewError(models.ErrNotFound, "sync job not found").WithDetails("job_name", jobName)
	}

	return nil
}

// GetJobStatus returns the current snapshot of a job. A missing row reads
// as an idle job that has never run.
func (s *Store) GetJobStatus(ctx context.Context, jobName string) (*models.SyncStatus, error) {
	var (
		status         models.SyncStatus
		state          string
		triggerSource  *string
		triggeredBy    *string
		startedAt      *time.Time
		finishedAt     *time.Time
		runtimeSeconds *float64
		result         []byte
		errMsg         *string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT job_name, state, trigger_source, triggered_by,
			started_at, finished_at, runtime_seconds, result, error, updated_at
		FROM document_sync
		WHERE job_name = $1
	`, jobName).Scan(
		&status.JobName,
		&state,
		&triggerSource,
		&triggeredBy,
		&startedAt,
		&finishedAt,
		&runtimeSeconds,
		&result,
		&errMsg,
		&status.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return &models.SyncStatus{JobName: jobName, State: models.JobIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}

	status.State = models.NormalizeJobState(state)
	if triggerSource != nil {
		status.TriggerSource = *triggerSource
	}
	if triggeredBy != nil {
		status.TriggeredBy = *triggeredBy
	}
	status.StartedAt = startedAt
	status.FinishedAt = finishedAt
	if runtimeSeconds != nil {
		status.RuntimeSeconds = *runtimeSeconds
	}
	if len(result) > 0 {
		json.Unmarshal(result, &status.Result)
	}
	if errMsg != nil {
		status.Error = *errMsg
	}

	return &status, nil
}
