package models

import "time"

// SourceType identifies the provenance of a document.
type SourceType string

const (
	SourcePortal  SourceType = "portal"
	SourceAdmin   SourceType = "admin"
	SourceUser    SourceType = "user"
	SourceWebsite SourceType = "website"
)

// ValidSourceType reports whether s names a known source type.
func ValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourcePortal, SourceAdmin, SourceUser, SourceWebsite:
		return true
	}
	return false
}

// Document is the authoritative catalog record for one stored file.
type Document struct {
	ID               string                 `json:"id"`
	SourceType       SourceType             `json:"source_type"`
	OriginalFilename string                 `json:"original_filename"`
	StoredFilename   string                 `json:"stored_filename"`
	StoragePath      string                 `json:"storage_path"`
	MimeType         string                 `json:"mime_type"`
	SizeBytes        int64                  `json:"size_bytes"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	UploadedBy       string                 `json:"uploaded_by,omitempty"`
	ChatID           string                 `json:"chat_id,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// DisplayName returns the human-facing name for the document, used to
// prefix chunk content. Website pages prefer their title metadata.
func (d *Document) DisplayName() string {
	if d.Metadata != nil {
		if t, ok := d.Metadata["Title"].(string); ok && t != "" {
			return t
		}
		if t, ok := d.Metadata["title"].(string); ok && t != "" {
			return t
		}
	}
	if d.OriginalFilename != "" {
		return d.OriginalFilename
	}
	return d.StoredFilename
}

// MetaString returns a string metadata value, or "" when absent.
func (d *Document) MetaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	if v, ok := d.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// CatalogStats summarizes the document catalog.
type CatalogStats struct {
	TotalDocuments int64                `json:"total_documents"`
	BySource       map[SourceType]int64 `json:"by_source"`
	TotalBytes     int64                `json:"total_bytes"`
}

// UserInfo carries the caller identity attributes retrieval needs.
// Role resolution itself happens upstream.
type UserInfo struct {
	ID         string `json:"id"`
	Admin      bool   `json:"admin"`
	PortalUser bool   `json:"portal_user"`
}
