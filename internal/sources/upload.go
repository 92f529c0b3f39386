package sources

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/ingest"
	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/internal/settings"
	"github.com/combiphar/corpus/pkg/models"
)

// PolicyReader resolves the runtime attachment policy, overlaying stored
// settings on top of the given defaults.
type PolicyReader interface {
	Attachment(ctx context.Context, def settings.AttachmentPolicy) settings.AttachmentPolicy
}

// Upload accepts caller-provided files and pushes them through the
// pipeline. User attachments are checked against the runtime attachment
// policy; every other source uses the static upload limits.
type Upload struct {
	pipeline Ingestor
	policy   PolicyReader
	cfg      config.UploadConfig
	logger   zerolog.Logger
}

// NewUpload wires an upload adapter. policy may be nil, which pins user
// attachments to the configured defaults.
func NewUpload(pipeline Ingestor, policy PolicyReader, cfg config.UploadConfig) *Upload {
	return &Upload{
		pipeline: pipeline,
		policy:   policy,
		cfg:      cfg,
		logger:   observability.Logger("upload"),
	}
}

// UploadRequest carries one caller-provided file.
type UploadRequest struct {
	Filename   string
	Content    []byte
	Source     models.SourceType
	Metadata   map[string]interface{}
	ChatID     string
	UploadedBy string
}

// Ingest validates the request against the source's policy and delegates
// to the pipeline. Policy rejections happen before anything is written.
func (u *Upload) Ingest(ctx context.Context, req UploadRequest) (*ingest.Result, error) {
	if !models.ValidSourceType(string(req.Source)) {
		return nil, models.NewError(models.ErrBadInput, "unknown source type").WithDetails("source", string(req.Source))
	}
	if req.Filename == "" {
		return nil, models.NewError(models.ErrBadInput, "filename is required")
	}

	var policyErr error
	if req.Source == models.SourceUser {
		if req.ChatID != "" {
			if _, err := uuid.Parse(req.ChatID); err != nil {
				return nil, models.NewError(models.ErrBadInput, "chat_id is not a valid uuid").WithDetails("chat_id", req.ChatID)
			}
		}
		policyErr = u.checkAttachmentPolicy(ctx, req)
	} else {
		policyErr = u.checkUploadPolicy(req)
	}
	if policyErr != nil {
		u.logger.Debug().Err(policyErr).
			Str("filename", req.Filename).
			Str("source", string(req.Source)).
			Msg("upload rejected")
		return nil, policyErr
	}

	return u.pipeline.Ingest(ctx, ingest.Request{
		OriginalFilename: req.Filename,
		Content:          req.Content,
		Source:           req.Source,
		Metadata:         req.Metadata,
		UploadedBy:       req.UploadedBy,
		ChatID:           req.ChatID,
	})
}

// checkAttachmentPolicy enforces the runtime policy for user attachments.
func (u *Upload) checkAttachmentPolicy(ctx context.Context, req UploadRequest) error {
	policy := settings.AttachmentPolicy{
		Enabled:    true,
		MaxSizeMB:  u.cfg.MaxSizeMB,
		Extensions: u.cfg.AllowedExtensions,
	}
	if u.policy != nil {
		policy = u.policy.Attachment(ctx, policy)
	}

	if !policy.Enabled {
		return models.NewError(models.ErrForbidden, "attachments are disabled")
	}
	if len(policy.Extensions) > 0 && !policy.AllowsExtension(filepath.Ext(req.Filename)) {
		return models.NewError(models.ErrBadInput, "file type is not allowed").
			WithDetails("filename", req.Filename)
	}
	if limit := policy.MaxBytes(); limit > 0 && int64(len(req.Content)) > limit {
		return models.NewError(models.ErrBadInput, "file exceeds the attachment size limit").
			WithDetails("size_bytes", len(req.Content)).
			WithDetails("max_bytes", limit)
	}
	return nil
}

// checkUploadPolicy enforces the static limits for non-user sources.
func (u *Upload) checkUploadPolicy(req UploadRequest) error {
	if len(u.cfg.AllowedExtensions) > 0 {
		allowed := settings.AttachmentPolicy{Extensions: u.cfg.AllowedExtensions}
		if !allowed.AllowsExtension(filepath.Ext(req.Filename)) {
			return models.NewError(models.ErrBadInput, "file type is not allowed").
				WithDetails("filename", req.Filename)
		}
	}
	if u.cfg.MaxSizeMB > 0 {
		if limit := int64(u.cfg.MaxSizeMB) << 20; int64(len(req.Content)) > limit {
			return models.NewError(models.ErrBadInput, "file exceeds the maximum upload size").
				WithDetails("size_bytes", len(req.Content)).
				WithDetails("max_bytes", limit)
		}
	}
	return nil
}
