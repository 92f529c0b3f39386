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

// statusPartialSuccess is the header status for mixed runs. Per-item
// rows only ever carry success or failed.
const statusPartialSuccess = "partial_success"

// runLogger records one sync run: a header row opened at start, detail
// rows as items finish, and a finalized header with grouped counters.
// Adapters report concurrently, so the collected slice is guarded.
type runLogger struct {
	store  Store
	id     int64
	logger zerolog.Logger

	mu      sync.Mutex
	details []*models.SyncLogDetail
}

// openRunLog opens the header row in the running state.
func openRunLog(ctx context.Context, st Store, syncType, source, actor string) (*runLogger, error) {
	id, err := st.CreateSyncLog(ctx, syncType, source, actor)
	if err != nil {
		return nil, err
	}
	return &runLogger{
		store:  st,
		id:     id,
		logger: observability.WithSyncLogID(observability.Logger("syncjob"), id),
	}, nil
}

// reporter returns the Reporter view of the log. A nil runLogger yields
// a nil interface so adapters discard details instead of panicking.
func (rl *runLogger) reporter() sources.Reporter {
	if rl == nil {
		return nil
	}
	return rl
}

// Report implements sources.Reporter. Rows are persisted as they arrive
// and kept in memory for the header totals; a failed insert costs the
// row, not the run.
func (rl *runLogger) Report(ctx context.Context, d *models.SyncLogDetail) {
	d.SyncLogID = rl.id

	rl.mu.Lock()
	rl.details = append(rl.details, d)
	rl.mu.Unlock()

	if err := rl.store.InsertSyncDetail(ctx, d); err != nil {
		rl.logger.Warn().Err(err).Str("item", d.DocumentFilename).Msg("could not persist sync detail")
	}
}

// finalize computes grouped totals from the collected details, decides
// the terminal status, and persists the header together with a summary
// of every failed item.
func (rl *runLogger) finalize(ctx context.Context, started time.Time, runErrs []string) (string, error) {
	rl.mu.Lock()
	details := rl.details
	rl.mu.Unlock()

	log := &models.SyncLog{ID: rl.id}
	var failedItems []map[string]interface{}

	for _, d := range details {
		switch d.ItemType {
		case models.SyncItemWebsite:
			log.TotalWebsites++
			if d.Status == models.SyncItemSuccess {
				log.SuccessfulWebsites++
			} else {
				log.FailedWebsites++
				failedItems = append(failedItems, failedItem(d))
			}
		default:
			log.TotalDocuments++
			if d.Status == models.SyncItemSuccess {
				log.SuccessfulDocs++
			} else {
				log.FailedDocs++
				failedItems = append(failedItems, failedItem(d))
			}
		}
	}

	succeeded := log.SuccessfulDocs + log.SuccessfulWebsites
	failed := log.FailedDocs + log.FailedWebsites
	log.Status = headerStatus(succeeded, failed, runErrs)
	log.RuntimeSeconds = time.Since(started).Seconds()
	log.ErrorMessage = strings.Join(runErrs, "; ")

	if len(failedItems) > 0 || len(runErrs) > 0 {
		log.Metadata = map[string]interface{}{}
		if len(failedItems) > 0 {
			log.Metadata["failed_items"] = failedItems
		}
		if len(runErrs) > 0 {
			log.Metadata["run_errors"] = runErrs
		}
	}

	if err := rl.store.FinalizeSyncLog(ctx, log); err != nil {
		return log.Status, err
	}
	return log.Status, nil
}

// headerStatus applies the promotion rules: any failure alongside any
// success is a partial success, only failures is failed, otherwise
// success. Adapter-level errors count as failures.
func headerStatus(succeeded, failed int, runErrs []string) string {
	anyFailure := failed > 0 || len(runErrs) > 0
	switch {
	case anyFailure && succeeded > 0:
		return statusPartialSuccess
	case anyFailure:
		return models.SyncItemFailed
	}
	return models.SyncItemSuccess
}

// failedItem is one entry of the failed-items summary persisted in the
// header metadata.
func failedItem(d *models.SyncLogDetail) map[string]interface{} {
	item := map[string]interface{}{"error": d.ErrorMessage}
	if d.DocumentTitle != "" {
		item["title"] = d.DocumentTitle
	}
	if d.ItemType == models.SyncItemWebsite {
		item["url"] = d.ItemURL
	} else {
		item["filename"] = d.DocumentFilename
	}
	return item
}
