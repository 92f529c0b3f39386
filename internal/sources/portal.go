package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/ingest"
	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

// maxDownloadBytes caps a single portal response body.
const maxDownloadBytes = 100 << 20

// Portal pulls published documents from the employee portal and keeps the
// corpus copy of each in step with upstream.
type Portal struct {
	cfg      config.PortalConfig
	catalog  Catalog
	vectors  VectorIndex
	blobs    Blobs
	pipeline Ingestor
	client   *http.Client
	logger   zerolog.Logger
}

// NewPortal wires a portal adapter.
func NewPortal(cfg config.PortalConfig, catalog Catalog, vectors VectorIndex, blobs Blobs, pipeline Ingestor) *Portal {
	return &Portal{
		cfg:      cfg,
		catalog:  catalog,
		vectors:  vectors,
		blobs:    blobs,
		pipeline: pipeline,
		client:   &http.Client{},
		logger:   observability.Logger("portal"),
	}
}

// portalItem is one entry of the upstream document list. JSON field
// matching is case-insensitive, so Id/ID and the camel-cased url variants
// all land on the same fields.
type portalItem struct {
	Title       string      `json:"Title"`
	FileName    string      `json:"FileName"`
	RawID       interface{} `json:"Id"`
	IsPublished bool        `json:"IsPublished"`
	DownloadURL string      `json:"DownloadUrl"`
	FileURL     string      `json:"FileUrl"`
}

// id normalizes the upstream id, which arrives as a string or a number.
func (it *portalItem) id() string {
	switch v := it.RawID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	}
	return ""
}

// downloadSource picks the first populated download url, falling back to
// the static announcement path.
func (it *portalItem) downloadSource(base string) string {
	if it.DownloadURL != "" {
		return it.DownloadURL
	}
	if it.FileURL != "" {
		return it.FileURL
	}
	return strings.TrimRight(base, "/") + "/DocAnnouncements/" + url.PathEscape(it.FileName)
}

// Sync pulls the upstream list and reconciles every published item.
// Per-item failures are reported and counted, never fatal for the run.
func (p *Portal) Sync(ctx context.Context, rep Reporter) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	token, err := p.token(ctx)
	if err != nil {
		return nil, models.Wrap(models.ErrUpstream, "portal token request failed", err)
	}
	items, err := p.documentList(ctx, token)
	if err != nil {
		return nil, models.Wrap(models.ErrUpstream, "portal document list failed", err)
	}

	unpublished := 0
	for i := range items {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		item := &items[i]
		if !item.IsPublished {
			unpublished++
			continue
		}
		if item.FileName == "" {
			summary.Failed++
			report(ctx, rep, p.detail(item, nil, models.NewError(models.ErrBadInput, "portal item has no file name")))
			continue
		}
		p.syncItem(ctx, rep, summary, item)
	}

	summary.Duration = time.Since(start)
	p.logger.Info().
		Int("items", len(items)).
		Int("unpublished", unpublished).
		Int("processed", summary.Processed).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("portal sync finished")
	return summary, nil
}

// syncItem reconciles one published item against the catalog.
func (p *Portal) syncItem(ctx context.Context, rep Reporter, summary *Summary, item *portalItem) {
	existing, err := p.catalog.FindDocumentByMeta(ctx, models.SourcePortal, "FileName", item.FileName)
	if models.IsCode(err, models.ErrNotFound) {
		existing, err = nil, nil
	}
	if err != nil {
		summary.Failed++
		report(ctx, rep, p.detail(item, nil, models.Wrap(models.ErrStorage, "portal document lookup failed", err)))
		return
	}

	updated := false
	if existing != nil {
		reason := p.reprocessReason(ctx, existing, item)
		if reason == "" {
			summary.Skipped++
			return
		}
		p.logger.Debug().Str("filename", item.FileName).Str("reason", reason).Msg("reprocessing portal document")
		if err := removeDocument(ctx, p.catalog, p.vectors, p.blobs, existing, p.logger); err != nil {
			summary.Failed++
			report(ctx, rep, p.detail(item, nil, err))
			return
		}
		updated = true
	}

	content, err := p.download(ctx, item.downloadSource(p.cfg.BaseURL))
	if err != nil {
		summary.Failed++
		report(ctx, rep, p.detail(item, nil, models.Wrap(models.ErrUpstream, "portal download failed", err)))
		return
	}

	res, err := p.pipeline.Ingest(ctx, ingest.Request{
		OriginalFilename: item.FileName,
		Content:          content,
		Source:           models.SourcePortal,
		Metadata: map[string]interface{}{
			"FileName":  item.FileName,
			"Title":     item.Title,
			"portal_id": item.id(),
		},
		UploadedBy: "portal-sync",
	})
	if err != nil {
		summary.Failed++
		report(ctx, rep, p.detail(item, nil, err))
		return
	}

	summary.Processed++
	if updated {
		summary.Updated++
	} else {
		summary.Created++
	}
	report(ctx, rep, p.detail(item, res, nil))
}

// reprocessReason decides whether an already-cataloged item must be
// rebuilt: its stored file is gone, its vectors are gone, or upstream
// renamed the file. Empty means the copy is current.
func (p *Portal) reprocessReason(ctx context.Context, doc *models.Document, item *portalItem) string {
	if !p.blobs.Exists(doc.StoragePath) {
		return "stored file missing"
	}
	count, err := p.vectors.CountByDocument(ctx, doc.ID)
	if err != nil {
		return "vector count unavailable"
	}
	if count == 0 {
		return "no vectors indexed"
	}
	if doc.OriginalFilename != item.FileName {
		return "original filename changed"
	}
	return ""
}

// detail builds the sync log row for one item outcome.
func (p *Portal) detail(item *portalItem, res *ingest.Result, err error) *models.SyncLogDetail {
	d := &models.SyncLogDetail{
		ItemType:         models.SyncItemDocument,
		ItemSource:       "portal",
		DocumentTitle:    item.Title,
		DocumentFilename: item.FileName,
		Status:           models.SyncItemSuccess,
	}
	if err != nil {
		d.Status = models.SyncItemFailed
		d.ErrorMessage = err.Error()
		return d
	}
	if res != nil {
		d.DocumentID = res.Document.ID
		d.FileSize = res.Document.SizeBytes
		d.Metadata = map[string]interface{}{"chunks": res.Chunks}
	}
	return d
}

// token obtains the list token. Without a token endpoint the client
// secret doubles as a static token.
func (p *Portal) token(ctx context.Context) (string, error) {
	if p.cfg.TokenURL == "" {
		return p.cfg.ClientSecret, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken != "" {
		return payload.AccessToken, nil
	}
	if payload.Token != "" {
		return payload.Token, nil
	}
	return "", errors.New("token response carried no token")
}

// documentList fetches and parses the upstream list.
func (p *Portal) documentList(ctx context.Context, token string) ([]portalItem, error) {
	listURL := strings.TrimRight(p.cfg.BaseURL, "/") + "/Documents/GetDocumentList?q=" + url.QueryEscape(token)

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document list returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, err
	}

	items, err := parsePortalList(body)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Int("items", len(items)).Msg("fetched portal document list")
	return items, nil
}

// parsePortalList accepts the envelope shapes the portal has shipped:
// {"data": [...]}, {"items": [...]}, and a bare array.
func parsePortalList(body []byte) ([]portalItem, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []portalItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("parse document list: %w", err)
		}
		return items, nil
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("parse document list envelope: %w", err)
	}
	raw := envelope.Data
	if raw == nil {
		raw = envelope.Items
	}
	if raw == nil {
		return nil, errors.New("document list payload has no data or items array")
	}

	var items []portalItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse document list entries: %w", err)
	}
	return items, nil
}

// download fetches one document, retrying timeouts up to the configured
// attempt count. Non-timeout failures fail immediately.
func (p *Portal) download(ctx context.Context, rawURL string) ([]byte, error) {
	attempts := p.cfg.DownloadRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := p.fetchOnce(ctx, rawURL)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !isTimeout(err) {
			break
		}
		if attempt < attempts {
			p.logger.Warn().Err(err).Str("url", rawURL).Int("attempt", attempt).Msg("portal download timed out, retrying")
		}
	}
	return nil, lastErr
}

func (p *Portal) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

// callContext applies the configured download timeout to one call.
func (p *Portal) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// isTimeout matches deadline and network timeout errors.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
