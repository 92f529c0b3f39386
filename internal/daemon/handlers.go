package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/combiphar/corpus/internal/retrieval"
	"github.com/combiphar/corpus/internal/settings"
	"github.com/combiphar/corpus/internal/sources"
	"github.com/combiphar/corpus/pkg/models"
)

// Response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code models.ErrorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// writeCorpusError maps a typed error onto its HTTP status, carrying the
// error details through. Unclassified errors become opaque 500s.
func (d *Daemon) writeCorpusError(w http.ResponseWriter, err error) {
	var ce *models.CorpusError
	if !errors.As(err, &ce) {
		d.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, models.ErrInternal, "internal error")
		return
	}

	body := map[string]interface{}{
		"code":    ce.Code,
		"message": ce.Message,
	}
	if len(ce.Details) > 0 {
		body["details"] = ce.Details
	}

	status := statusFor(ce.Code)
	if status >= http.StatusInternalServerError {
		d.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

// statusFor maps error codes onto HTTP statuses. Ingestion and
// persistence failures are server-side problems.
func statusFor(code models.ErrorCode) int {
	switch code {
	case models.ErrBadInput:
		return http.StatusBadRequest
	case models.ErrNotFound:
		return http.StatusNotFound
	case models.ErrForbidden:
		return http.StatusForbidden
	case models.ErrConflict:
		return http.StatusConflict
	case models.ErrUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeBody decodes a JSON request body. An empty body is allowed when
// optional is set, leaving the target at its zero value.
func decodeBody(r *http.Request, target interface{}, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	return models.NewError(models.ErrBadInput, "invalid request body").WithCause(err)
}

// queryInt reads an integer query parameter, falling back on def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// parseSources validates and converts source type names.
func parseSources(names []string) ([]models.SourceType, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]models.SourceType, 0, len(names))
	for _, name := range names {
		if !models.ValidSourceType(name) {
			return nil, models.NewError(models.ErrBadInput, "unknown source type").WithDetails("source", name)
		}
		out = append(out, models.SourceType(name))
	}
	return out, nil
}

// Health endpoints

// handleHealth reports the state of the daemon's dependencies. The
// embedder check issues a real embedding call, so failures here mean
// search and ingestion are actually down.
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	checks := map[string]string{
		"database": "ok",
		"redis":    "ok",
		"embedder": "ok",
	}

	if err := d.store.Health(ctx); err != nil {
		status = "unhealthy"
		checks["database"] = err.Error()
	}
	if err := d.settings.Ping(ctx); err != nil {
		status = "unhealthy"
		checks["redis"] = err.Error()
	}
	if err := d.embedder.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		checks["embedder"] = err.Error()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReady returns whether the daemon is ready to serve requests.
func (d *Daemon) handleReady(w http.ResponseWriter, r *http.Request) {
	if d.Ready() {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	} else {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":     false,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// handleStatus returns the overall daemon status: build info, corpus
// size, vector index stats, the sync job snapshot, and which extraction
// tools are installed.
func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]interface{}{
		"daemon": map[string]interface{}{
			"version":    Version,
			"build_time": BuildTime,
			"uptime":     time.Since(d.startTime).String(),
			"ready":      d.Ready(),
		},
		"embedding": map[string]interface{}{
			"provider":  d.cfg.Embedding.Provider,
			"model":     d.embedder.Model(),
			"dimension": d.embedder.Dimension(),
		},
		"extractors": d.extractor.CheckTools(),
		"timestamp":  time.Now().Format(time.RFC3339),
	}

	if stats, err := d.store.CatalogStats(ctx); err == nil {
		resp["documents"] = stats
	} else {
		d.logger.Warn().Err(err).Msg("catalog stats unavailable")
	}
	if stats, err := d.vectors.Stats(ctx); err == nil {
		resp["vectors"] = stats
	} else {
		d.logger.Warn().Err(err).Msg("vector stats unavailable")
	}
	if status, err := d.syncs.Status(ctx); err == nil {
		resp["sync"] = status
	}

	writeJSON(w, http.StatusOK, resp)
}

// Sync endpoints

// syncPolicy is the slice of the settings service the trigger gate reads.
type syncPolicy interface {
	StringList(ctx context.Context, key string) []string
}

// syncAllowed enforces the runtime allow-list for manual sync triggers.
// An absent or empty list leaves the trigger open to everyone.
func syncAllowed(ctx context.Context, policy syncPolicy, user string) bool {
	allowed := policy.StringList(ctx, settings.KeySyncAllowedUsers)
	if len(allowed) == 0 {
		return true
	}
	for _, u := range allowed {
		if strings.EqualFold(strings.TrimSpace(u), user) {
			return true
		}
	}
	return false
}

// handleTriggerSync starts a sync run: 202 when this request claimed the
// job, 409 with the current snapshot when a run already holds it.
func (d *Daemon) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TriggeredBy string `json:"triggered_by"`
	}
	if err := decodeBody(r, &req, true); err != nil {
		d.writeCorpusError(w, err)
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "operator"
	}

	if !syncAllowed(r.Context(), d.settings, req.TriggeredBy) {
		writeError(w, http.StatusForbidden, models.ErrForbidden, "user is not allowed to trigger document sync")
		return
	}

	started, status, err := d.syncs.Trigger(r.Context(), "api", req.TriggeredBy, true)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"started": false,
			"status":  status,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": true,
		"status":  status,
	})
}

// handleSyncStatus returns the sync job row snapshot.
func (d *Daemon) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := d.syncs.Status(r.Context())
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleListSyncLogs returns recent sync run headers.
func (d *Daemon) handleListSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)

	logs, err := d.store.ListSyncLogs(r.Context(), limit)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// handleGetSyncLog returns one sync run header with its detail rows.
func (d *Daemon) handleGetSyncLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrBadInput, "sync log id must be an integer")
		return
	}

	log, err := d.store.GetSyncLog(r.Context(), id)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}
	details, err := d.store.GetSyncDetails(r.Context(), id)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"log":     log,
		"details": details,
	})
}

// Document endpoints

// handleUploadDocument ingests a multipart upload. Policy checks live in
// the upload adapter; this handler only parses the form.
func (d *Daemon) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	// Bound the whole form, with headroom for the non-file fields.
	r.Body = http.MaxBytesReader(w, r.Body, d.cfg.UploadMaxBytes()+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrBadInput, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrBadInput, "form field 'file' is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrBadInput, "could not read uploaded file")
		return
	}

	source := r.FormValue("source")
	if source == "" {
		source = string(models.SourceAdmin)
	}

	var metadata map[string]interface{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, http.StatusBadRequest, models.ErrBadInput, "metadata must be a JSON object")
			return
		}
	}

	result, err := d.uploads.Ingest(r.Context(), sources.UploadRequest{
		Filename:   header.Filename,
		Content:    content,
		Source:     models.SourceType(source),
		Metadata:   metadata,
		ChatID:     r.FormValue("chat_id"),
		UploadedBy: r.FormValue("uploaded_by"),
	})
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"document": result.Document,
		"chunks":   result.Chunks,
	})
}

// handleListDocuments lists catalog rows, optionally filtered by source.
func (d *Daemon) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source != "" && !models.ValidSourceType(source) {
		writeError(w, http.StatusBadRequest, models.ErrBadInput, "unknown source type")
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	docs, err := d.store.ListDocuments(r.Context(), models.SourceType(source), limit, offset)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// handleGetDocument returns one catalog row.
func (d *Daemon) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := d.store.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument removes one document: vectors, file, catalog row.
func (d *Daemon) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := d.pipeline.Delete(r.Context(), chi.URLParam(r, "documentID")); err != nil {
		d.writeCorpusError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteDocumentsBySource removes every document of one source.
// The source parameter is mandatory so a stray DELETE cannot wipe the
// whole corpus.
func (d *Daemon) handleDeleteDocumentsBySource(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if !models.ValidSourceType(source) {
		writeError(w, http.StatusBadRequest, models.ErrBadInput, "query parameter 'source' must name a source type")
		return
	}

	deleted, err := d.pipeline.DeleteBySource(r.Context(), models.SourceType(source))
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":  source,
		"deleted": deleted,
	})
}

// Retrieval endpoints

// handleSearch answers a corpus question with permission-scoped hybrid
// retrieval.
func (d *Daemon) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string           `json:"query"`
		K        int              `json:"k,omitempty"`
		Sources  []string         `json:"sources,omitempty"`
		MinScore float64          `json:"min_score,omitempty"`
		User     *models.UserInfo `json:"user,omitempty"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		d.writeCorpusError(w, err)
		return
	}

	srcs, err := parseSources(req.Sources)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	result, err := d.retriever.Search(r.Context(), retrieval.SearchRequest{
		Query:    req.Query,
		K:        req.K,
		User:     req.User,
		Sources:  srcs,
		MinScore: req.MinScore,
	})
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAttachmentSearch returns chunks from a chat's attachments.
func (d *Daemon) handleAttachmentSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID   string   `json:"chat_id"`
		Query    string   `json:"query,omitempty"`
		KPerFile int      `json:"k_per_file,omitempty"`
		Sources  []string `json:"sources,omitempty"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		d.writeCorpusError(w, err)
		return
	}

	srcs, err := parseSources(req.Sources)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	result, err := d.retriever.SearchAttachments(r.Context(), retrieval.AttachmentRequest{
		ChatID:   req.ChatID,
		Query:    req.Query,
		KPerFile: req.KPerFile,
		Sources:  srcs,
	})
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Reconciler endpoints

// handleCleanupOrphans deletes managed files with no catalog row.
func (d *Daemon) handleCleanupOrphans(w http.ResponseWriter, r *http.Request) {
	report, err := d.reconciler.CleanupOrphans(r.Context())
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEmbedRepair re-embeds drifted documents and adopts unknown files.
func (d *Daemon) handleEmbedRepair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun bool `json:"dry_run"`
	}
	if err := decodeBody(r, &req, true); err != nil {
		d.writeCorpusError(w, err)
		return
	}

	report, err := d.reconciler.EmbedRepair(r.Context(), req.DryRun)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Runtime settings endpoints

// handleGetSetting returns one runtime setting.
func (d *Daemon) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := d.settings.Get(r.Context(), key)
	if err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

// handlePutSetting stores one runtime setting.
func (d *Daemon) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		d.writeCorpusError(w, err)
		return
	}

	if err := d.settings.Set(r.Context(), key, req.Value); err != nil {
		d.writeCorpusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": req.Value,
	})
}
