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

// CreateSyncLog opens a sync log header in the running state and returns
// its id.
func (s *Store) CreateSyncLog(ctx context.Context, syncType, triggerSource, triggeredBy string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_logs (sync_type, status, trigger_source, triggered_by, started_at)
		VALUES ($1, 'running', $2, $3, now())
		RETURNING id
	`, syncType, nullable(triggerSource), nullable(triggeredBy)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create sync log: %w", err)
	}

	return id, nil
}

// InsertSyncDetail records one per-item outcome. Deployments running the
// legacy schema lack the item_* columns; those inserts are retried
// without them.
func (s *Store) InsertSyncDetail(ctx context.Context, d *models.SyncLogDetail) error {
	metadata, _ := json.Marshal(d.Metadata)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_log_details (
			sync_log_id, item_type, item_url, item_source,
			document_title, document_filename, document_id,
			status, error_message, file_size, metadata, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	`,
		d.SyncLogID,
		d.ItemType,
		nullable(d.ItemURL),
		nullable(d.ItemSource),
		nullable(d.DocumentTitle),
		nullable(d.DocumentFilename),
		nullable(d.DocumentID),
		d.Status,
		nullable(d.ErrorMessage),
		d.FileSize,
		metadata,
	)

	if err != nil && isUndefinedColumn(err) {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO sync_log_details (
				sync_log_id, document_title, document_filename, document_id,
				status, error_message, file_size, metadata, processed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		`,
			d.SyncLogID,
			nullable(d.DocumentTitle),
			nullable(d.DocumentFilename),
			nullable(d.DocumentID),
			d.Status,
			nullable(d.ErrorMessage),
			d.FileSize,
			metadata,
		)
	}
	if err != nil {
		return fmt.Errorf("insert sync detail: %w", err)
	}

	return nil
}

// FinalizeSyncLog persists the header totals and terminal status. Falls
// back to the legacy schema without website counter columns.
func (s *Store) FinalizeSyncLog(ctx context.Context, log *models.SyncLog) error {
	metadata, _ := json.Marshal(log.Metadata)

	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_logs
		SET status = $1,
			total_documents = $2,
			successful_documents = $3,
			failed_documents = $4,
			total_websites = $5,
			successful_websites = $6,
			failed_websites = $7,
			finished_at = now(),
			runtime_seconds = $8,
			error_message = $9,
			metadata = $10
		WHERE id = $11
	`,
		log.Status,
		log.TotalDocuments,
		log.SuccessfulDocs,
		log.FailedDocs,
		log.TotalWebsites,
		log.SuccessfulWebsites,
		log.FailedWebsites,
		log.RuntimeSeconds,
		nullable(log.ErrorMessage),
		metadata,
		log.ID,
	)

	if err != nil && isUndefinedColumn(err) {
		tag, err = s.pool.Exec(ctx, `
			UPDATE sync_logs
			SET status = $1,
				total_documents = $2,
				successful_documents = $3,
				failed_documents = $4,
				finished_at = now(),
				runtime_seconds = $5,
				error_message = $6,
				metadata = $7
			WHERE id = $8
		`,
			log.Status,
			log.TotalDocuments,
			log.SuccessfulDocs,
			log.FailedDocs,
			log.RuntimeSeconds,
			nullable(log.ErrorMessage),
			metadata,
			log.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("finalize sync log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewError(models.ErrNotFound, "sync log not found").WithDetails("sync_log_id", log.ID)
	}

	return nil
}

// GetSyncLog fetches one header row.
func (s *Store) GetSyncLog(ctx context.Context, id int64) (*models.SyncLog, error) {
	log, err := s.scanSyncLogQuery(ctx, `
		SELECT id, sync_type, status,
			total_documents, successful_documents, failed_documents,
			total_websites, successful_websites, failed_websites,
			trigger_source, triggered_by, started_at, finished_at,
			runtime_seconds, error_message, metadata
		FROM sync_logs
		WHERE id = $1
	`, id)

	if err != nil && isUndefinedColumn(err) {
		log, err = s.scanLegacySyncLogQuery(ctx, `
			SELECT id, sync_type, status,
				total_documents, successful_documents, failed_documents,
				trigger_source, triggered_by, started_at, finished_at,
				runtime_seconds, error_message, metadata
			FROM sync_logs
			WHERE id = $1
		`, id)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewError(models.ErrNotFound, "sync log not found").WithDetails("sync_log_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync log: %w", err)
	}

	return log, nil
}

// ListSyncLogs returns the most recent headers.
func (s *Store) ListSyncLogs(ctx context.Context, limit int) ([]*models.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sync_type, status,
			total_documents, successful_documents, failed_documents,
			total_websites, successful_websites, failed_websites,
			trigger_source, triggered_by, started_at, finished_at,
			runtime_seconds, error_message, metadata
		FROM sync_logs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		if isUndefinedColumn(err) {
			return s.listLegacySyncLogs(ctx, limit)
		}
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

// GetSyncDetails returns the per-item rows of one run.
func (s *Store) GetSyncDetails(ctx context.Context, syncLogID int64) ([]*models.SyncLogDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sync_log_id, item_type, item_url, item_source,
			document_title, document_filename, document_id,
			status, error_message, file_size, metadata, processed_at
		FROM sync_log_details
		WHERE sync_log_id = $1
		ORDER BY processed_at
	`, syncLogID)
	if err != nil {
		if isUndefinedColumn(err) {
			return s.getLegacySyncDetails(ctx, syncLogID)
		}
		return nil, fmt.Errorf("get sync details: %w", err)
	}
	defer rows.Close()

	var details []*models.SyncLogDetail
	for rows.Next() {
		var (
			d                              models.SyncLogDetail
			itemURL, itemSource            *string
			title, filename, docID, errMsg *string
			fileSize                       *int64
			metadata                       []byte
		)
		err := rows.Scan(
			&d.ID, &d.SyncLogID, &d.ItemType, &itemURL, &itemSource,
			&title, &filename, &docID,
			&d.Status, &errMsg, &fileSize, &metadata, &d.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sync detail: %w", err)
		}
		assignString(&d.ItemURL, itemURL)
		assignString(&d.ItemSource, itemSource)
		assignString(&d.DocumentTitle, title)
		assignString(&d.DocumentFilename, filename)
		assignString(&d.DocumentID, docID)
		assignString(&d.ErrorMessage, errMsg)
		if fileSize != nil {
			d.FileSize = *fileSize
		}
		if len(metadata) > 0 {
			json.Unmarshal(metadata, &d.Metadata)
		}
		details = append(details, &d)
	}

	return details, rows.Err()
}

func (s *Store) getLegacySyncDetails(ctx context.Context, syncLogID int64) ([]*models.SyncLogDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sync_log_id,
			document_title, document_filename, document_id,
			status, error_message, file_size, metadata, processed_at
		FROM sync_log_details
		WHERE sync_log_id = $1
		ORDER BY processed_at
	`, syncLogID)
	if err != nil {
		return nil, fmt.Errorf("get sync details (legacy): %w", err)
	}
	defer rows.Close()

	var details []*models.SyncLogDetail
	for rows.Next() {
		var (
			d                              models.SyncLogDetail
			title, filename, docID, errMsg *string
			fileSize                       *int64
			metadata                       []byte
		)
		err := rows.Scan(
			&d.ID, &d.SyncLogID,
			&title, &filename, &docID,
			&d.Status, &errMsg, &fileSize, &metadata, &d.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sync detail (legacy): %w", err)
		}
		d.ItemType = models.SyncItemDocument
		assignString(&d.DocumentTitle, title)
		assignString(&d.DocumentFilename, filename)
		assignString(&d.DocumentID, docID)
		assignString(&d.ErrorMessage, errMsg)
		if fileSize != nil {
			d.FileSize = *fileSize
		}
		if len(metadata) > 0 {
			json.Unmarshal(metadata, &d.Metadata)
		}
		details = append(details, &d)
	}

	return details, rows.Err()
}

func (s *Store) scanSyncLogQuery(ctx context.Context, query string, args ...interface{}) (*models.SyncLog, error) {
	return scanSyncLog(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) scanLegacySyncLogQuery(ctx context.Context, query string, args ...interface{}) (*models.SyncLog, error) {
	return scanLegacySyncLog(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) listLegacySyncLogs(ctx context.Context, limit int) ([]*models.SyncLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sync_type, status,
			total_documents, successful_documents, failed_documents,
			trigger_source, triggered_by, started_at, finished_at,
			runtime_seconds, error_message, metadata
		FROM sync_logs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync logs (legacy): %w", err)
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanLegacySyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync log (legacy): %w", err)
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

func scanSyncLog(sc scannable) (*models.SyncLog, error) {
	var (
		log                        models.SyncLog
		triggerSource, triggeredBy *string
		finishedAt                 *time.Time
		runtimeSeconds             *float64
		errMsg                     *string
		metadata                   []byte
	)

	err := sc.Scan(
		&log.ID, &log.SyncType, &log.Status,
		&log.TotalDocuments, &log.SuccessfulDocs, &log.FailedDocs,
		&log.TotalWebsites, &log.SuccessfulWebsites, &log.FailedWebsites,
		&triggerSource, &triggeredBy, &log.StartedAt, &finishedAt,
		&runtimeSeconds, &errMsg, &metadata,
	)
	if err != nil {
		return nil, err
	}

	assignString(&log.TriggerSource, triggerSource)
	assignString(&log.TriggeredBy, triggeredBy)
	log.FinishedAt = finishedAt
	if runtimeSeconds != nil {
		log.RuntimeSeconds = *runtimeSeconds
	}
	assignString(&log.ErrorMessage, errMsg)
	if len(metadata) > 0 {
		json.Unmarshal(metadata, &log.Metadata)
	}

	return &log, nil
}

func scanLegacySyncLog(sc scannable) (*models.SyncLog, error) {
	var (
		log                        models.SyncLog
		triggerSource, triggeredBy *string
		finishedAt                 *time.Time
		runtimeSeconds             *float64
		errMsg                     *string
		metadata                   []byte
	)

	err := sc.Scan(
		&log.ID, &log.SyncType, &log.Status,
		&log.TotalDocuments, &log.SuccessfulDocs, &log.FailedDocs,
		&triggerSource, &triggeredBy, &log.StartedAt, &finishedAt,
		&runtimeSeconds, &errMsg, &metadata,
	)
	if err != nil {
		return nil, err
	}

	assignString(&log.TriggerSource, triggerSource)
	assignString(&log.TriggeredBy, triggeredBy)
	log.FinishedAt = finishedAt
	if runtimeSeconds != nil {
		log.RuntimeSeconds = *runtimeSeconds
	}
	assignString(&log.ErrorMessage, errMsg)
	if len(metadata) > 0 {
		json.Unmarshal(metadata, &log.Metadata)
	}

	return &log, nil
}

func assignString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
