// Package syncjob runs the singleton document sync job: at most one run
// per job name, claimed through the database so that multiple daemon
// processes sharing one database cannot run concurrently.
package syncjob

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/internal/sources"
	"github.com/combiphar/corpus/pkg/models"
)

// Store is the persistence slice the manager needs: the singleton job
// row plus the per-run log tables.
type Store interface {
	ClaimJob(ctx context.Context, jobName, triggerSource, triggeredBy string) (bool, error)
	FinalizeJob(ctx context.Context, jobName string, state models.JobState, runtimeSeconds float64, result map[string]interface{}, errMsg string) error
	GetJobStatus(ctx context.Context, jobName string) (*models.SyncStatus, error)
	CreateSyncLog(ctx context.Context, syncType, triggerSource, triggeredBy string) (int64, error)
	InsertSyncDetail(ctx context.Context, d *models.SyncLogDetail) error
	FinalizeSyncLog(ctx context.Context, log *models.SyncLog) error
}

// Adapter is one ingestion source driven by a run. Per-item outcomes go
// to the reporter; the returned error is an adapter-level failure (the
// run keeps going with the other adapters).
type Adapter interface {
	Sync(ctx context.Context, rep sources.Reporter) (*sources.Summary, error)
}

// Manager owns the sync job lifecycle. The process-local mutex only
// serializes claim attempts; the database row is the authority on
// whether a run is active.
type Manager struct {
	jobName string
	store   Store
	portal  Adapter
	website Adapter
	logger  zerolog.Logger

	mu     sync.Mutex
	active bool
	wg     sync.WaitGroup
}

// New wires a manager for the named job. Either adapter may be nil, in
// which case that source is skipped.
func New(jobName string, st Store, portal, website Adapter) *Manager {
	return &Manager{
		jobName: jobName,
		store:   st,
		portal:  portal,
		website: website,
		logger:  observability.Logger("syncjob"),
	}
}

// Status returns the current snapshot of the job row.
func (m *Manager) Status(ctx context.Context) (*models.SyncStatus, error) {
	return m.store.GetJobStatus(ctx, m.jobName)
}

// Trigger starts a background run iff no run is active. With waitForDB
// the claim happens before returning, so started=false is definitive;
// without it the claim is deferred to the worker and a concurrent run in
// another process may still win after Trigger returns. The returned
// snapshot reflects the job row at return time.
func (m *Manager) Trigger(ctx context.Context, source, actor string, waitForDB bool) (bool, *models.SyncStatus, error) {
	if !m.setActive() {
		snap, err := m.Status(ctx)
		return false, snap, err
	}

	if waitForDB {
		claimed, err := m.store.ClaimJob(ctx, m.jobName, source, actor)
		if err != nil {
			m.clearActive()
			return false, nil, models.Wrap(models.ErrStorage, "could not claim sync job", err)
		}
		if !claimed {
			m.clearActive()
			snap, err := m.Status(ctx)
			return false, snap, err
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Detached from the caller: the trigger request finishing must
		// not cancel the run.
		m.run(context.Background(), source, actor, waitForDB)
	}()

	snap, err := m.Status(ctx)
	return true, snap, err
}

// RunBlocking claims and executes a run inline. Returns executed=false
// when another run holds the claim.
func (m *Manager) RunBlocking(ctx context.Context, source, actor string) (bool, *models.SyncStatus, error) {
	if !m.setActive() {
		snap, err := m.Status(ctx)
		return false, snap, err
	}
	defer m.clearActive()

	claimed, err := m.store.ClaimJob(ctx, m.jobName, source, actor)
	if err != nil {
		return false, nil, models.Wrap(models.ErrStorage, "could not claim sync job", err)
	}
	if !claimed {
		snap, err := m.Status(ctx)
		return false, snap, err
	}

	m.execute(ctx, source, actor)

	snap, err := m.Status(ctx)
	return true, snap, err
}

// Wait blocks until any background run has finished. Used on shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// setActive flips the in-process guard, reporting false when a run is
// already underway here. The claim itself happens outside the lock.
func (m *Manager) setActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return false
	}
	m.active = true
	return true
}

func (m *Manager) clearActive() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// run is the background entry point. When the claim was deferred it is
// attempted here first; losing it means another process got there.
func (m *Manager) run(ctx context.Context, source, actor string, claimed bool) {
	defer m.clearActive()

	if !claimed {
		ok, err := m.store.ClaimJob(ctx, m.jobName, source, actor)
		if err != nil {
			m.logger.Error().Err(err).Str("job", m.jobName).Msg("sync claim failed")
			return
		}
		if !ok {
			m.logger.Info().
				Str("event", observability.EventSyncSkipped).
				Str("job", m.jobName).
				Msg("sync already running")
			return
		}
	}

	m.execute(ctx, source, actor)
}

// execute performs one claimed run: open the run log, drive both
// adapters, finalize the log and the job row. Adapter-level failures are
// recorded and the run continues; only the claim itself is fatal.
func (m *Manager) execute(ctx context.Context, source, actor string) {
	start := time.Now()
	m.logger.Info().
		Str("event", observability.EventSyncStarted).
		Str("job", m.jobName).
		Str("trigger_source", source).
		Str("triggered_by", actor).
		Msg("sync run started")

	rl, err := openRunLog(ctx, m.store, "full", source, actor)
	if err != nil {
		// The run proceeds without per-item logging rather than dying on
		// a bookkeeping failure.
		m.logger.Warn().Err(err).Msg("could not open sync log, details will be discarded")
	}

	var (
		runErrs           []string
		processed, failed int
		result            = map[string]interface{}{}
	)
	if rl != nil {
		result["sync_log_id"] = rl.id
	}

	if m.portal != nil {
		summary, err := m.portal.Sync(ctx, rl.reporter())
		if err != nil {
			runErrs = append(runErrs, "portal: "+err.Error())
			m.logger.Error().Err(err).Msg("portal sync failed")
		}
		if summary != nil {
			result["portal"] = summary
			processed += summary.Processed
			failed += summary.Failed
		}
	}
	if m.website != nil {
		summary, err := m.website.Sync(ctx, rl.reporter())
		if err != nil {
			runErrs = append(runErrs, "website: "+err.Error())
			m.logger.Error().Err(err).Msg("website sync failed")
		}
		if summary != nil {
			result["website"] = summary
			processed += summary.Processed
			failed += summary.Failed
		}
	}

	status := headerStatus(processed, failed, runErrs)
	if rl != nil {
		status, err = rl.finalize(ctx, start, runErrs)
		if err != nil {
			m.logger.Warn().Err(err).Msg("could not finalize sync log")
		}
	}
	result["status"] = status

	state := jobStateFor(status)
	runtime := time.Since(start).Seconds()
	if err := m.store.FinalizeJob(ctx, m.jobName, state, runtime, result, strings.Join(runErrs, "; ")); err != nil {
		m.logger.Error().Err(err).Str("job", m.jobName).Msg("could not finalize sync job")
	}

	m.logger.Info().
		Str("event", observability.EventSyncCompleted).
		Str("job", m.jobName).
		Str("status", status).
		Float64("runtime_seconds", runtime).
		Msg("sync run finished")
}

// jobStateFor maps a run log status onto the job row state.
func jobStateFor(status string) models.JobState {
	switch status {
	case models.SyncItemSuccess:
		return models.JobSucceeded
	case statusPartialSuccess:
		return models.JobPartialSuccess
	}
	return models.JobFailed
}
