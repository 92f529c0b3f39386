package models

import "time"

// JobState is the persisted state of a named background job.
type JobState string

const (
	JobIdle           JobState = "idle"
	JobRunning        JobState = "running"
	JobSucceeded      JobState = "succeeded"
	JobFailed         JobState = "failed"
	JobPartialSuccess JobState = "partial_success"
)

// Terminal reports whether the state is a finished one.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobPartialSuccess:
		return true
	}
	return false
}

// NormalizeJobState maps historical synonyms onto the canonical states.
// Older rows persisted "success" where newer code writes "succeeded".
func NormalizeJobState(s string) JobState {
	switch s {
	case "success":
		return JobSucceeded
	case "":
		return JobIdle
	}
	return JobState(s)
}

// SyncStatus is the snapshot of the singleton sync job row.
type SyncStatus struct {
	JobName        string                 `json:"job_name"`
	State          JobState               `json:"state"`
	TriggerSource  string                 `json:"trigger_source,omitempty"`
	TriggeredBy    string                 `json:"triggered_by,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
	RuntimeSeconds float64                `json:"runtime_seconds,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Sync log statuses. Headers additionally use "running" and
// "partial_success"; details only ever carry success or failed.
const (
	SyncItemSuccess = "success"
	SyncItemFailed  = "failed"
)

// SyncItemType distinguishes detail rows by what was processed.
type SyncItemType string

const (
	SyncItemDocument SyncItemType = "document"
	SyncItemWebsite  SyncItemType = "website"
)

// SyncLog is the header row of one sync run.
type SyncLog struct {
	ID                 int64                  `json:"id"`
	SyncType           string                 `json:"sync_type"`
	Status             string                 `json:"status"`
	TotalDocuments     int                    `json:"total_documents"`
	SuccessfulDocs     int                    `json:"successful_documents"`
	FailedDocs         int                    `json:"failed_documents"`
	TotalWebsites      int                    `json:"total_websites"`
	SuccessfulWebsites int                    `json:"successful_websites"`
	FailedWebsites     int                    `json:"failed_websites"`
	TriggerSource      string                 `json:"trigger_source,omitempty"`
	TriggeredBy        string                 `json:"triggered_by,omitempty"`
	StartedAt          time.Time              `json:"started_at"`
	FinishedAt         *time.Time             `json:"finished_at,omitempty"`
	RuntimeSeconds     float64                `json:"runtime_seconds,omitempty"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// SyncLogDetail is one per-item outcome within a sync run.
type SyncLogDetail struct {
	ID               int64                  `json:"id"`
	SyncLogID        int64                  `json:"sync_log_id"`
	ItemType         SyncItemType           `json:"item_type"`
	ItemURL          string                 `json:"item_url,omitempty"`
	ItemSource       string                 `json:"item_source,omitempty"`
	DocumentTitle    string                 `json:"document_title,omitempty"`
	DocumentFilename string                 `json:"document_filename,omitempty"`
	DocumentID       string                 `json:"document_id,omitempty"`
	Status           string                 `json:"status"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	FileSize         int64                  `json:"file_size,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ProcessedAt      time.Time              `json:"processed_at"`
}

// ReconcileReport carries the counters of a reconciler pass.
type ReconcileReport struct {
	Checked int      `json:"checked"`
	Kept    int      `json:"kept"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// RepairReport carries the counters of an embed-repair pass.
type RepairReport struct {
	DryRun                bool     `json:"dry_run"`
	CheckedDB             int      `json:"checked_db"`
	CheckedFS             int      `json:"checked_fs"`
	ReembeddedDBMissing   int      `json:"reembedded_db_missing_file"`
	ReembeddedFSMissingDB int      `json:"reembedded_fs_missing_db"`
	CreatedDBRecords      int      `json:"created_db_records"`
	Errors                []string `json:"errors,omitempty"`
}
