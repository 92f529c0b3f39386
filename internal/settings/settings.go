// Package settings reads runtime-tunable values from redis. Settings are
// written by the operations side; this service only needs to read them and
// fall back to configuration defaults when a key is absent or redis is
// unreachable.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

// Well-known setting keys.
const (
	KeyAttachmentEnabled   = "attachment"
	KeyAttachmentFileTypes = "attachment_file_types"
	KeyAttachmentFileSize  = "attachment_file_size"
	KeySyncAllowedUsers    = "document_sync_allowed_users"
	KeyWebsites            = "combiphar_websites"
)

const keyPrefix = "corpus:settings:"

// Service reads and writes runtime settings.
type Service struct {
	client *redis.Client
	logger zerolog.Logger
}

// New connects a settings service to redis.
func New(cfg config.RedisConfig) *Service {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Service{
		client: client,
		logger: observability.Logger("settings"),
	}
}

// Client exposes the underlying redis client so caches can share the
// connection pool.
func (s *Service) Client() *redis.Client { return s.client }

// Ping verifies the redis connection.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (s *Service) Close() error { return s.client.Close() }

// Get returns the raw value of a setting.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", models.NewError(models.ErrNotFound, "setting not found").WithDetails("key", key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return val, nil
}

// Set stores a setting value.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Delete removes a setting so its default applies again.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// Bool reads a boolean setting, returning def when the key is missing,
// unparseable, or redis is down.
func (s *Service) Bool(ctx context.Context, key string, def bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	parsed, ok := ParseBool(val)
	if !ok {
		s.logger.Debug().Str("key", key).Str("value", val).Msg("unparseable boolean setting")
		return def
	}
	return parsed
}

// Int reads an integer setting with a default.
func (s *Service) Int(ctx context.Context, key string, def int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		s.logger.Debug().Str("key", key).Str("value", val).Msg("unparseable integer setting")
		return def
	}
	return n
}

// StringList reads a list setting. Both JSON arrays and comma-separated
// strings are accepted because both formats exist in production data.
func (s *Service) StringList(ctx context.Context, key string) []string {
	val, err := s.Get(ctx, key)
	if err != nil {
		return nil
	}
	return ParseList(val)
}

// ParseBool accepts the boolean spellings that show up in settings values.
func ParseBool(val string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on", "enabled":
		return true, true
	case "false", "0", "no", "off", "disabled":
		return false, true
	}
	return false, false
}

// ParseList parses a JSON string array, falling back to comma separation.
// Entries are trimmed and empties dropped.
func ParseList(val string) []string {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}

	var items []string
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		items = strings.Split(val, ",")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AttachmentPolicy is the runtime upload policy for chat attachments.
type AttachmentPolicy struct {
	Enabled    bool
	MaxSizeMB  int
	Extensions []string
}

// MaxBytes converts the size limit to bytes.
func (p AttachmentPolicy) MaxBytes() int64 {
	return int64(p.MaxSizeMB) << 20
}

// AllowsExtension checks an extension (with or without leading dot)
// against the policy, case-insensitively.
func (p AttachmentPolicy) AllowsExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range p.Extensions {
		if strings.ToLower(strings.TrimPrefix(strings.TrimSpace(allowed), ".")) == ext {
			return true
		}
	}
	return false
}

// Attachment resolves the attachment policy, overlaying redis settings on
// the configured defaults.
func (s *Service) Attachment(ctx context.Context, def AttachmentPolicy) AttachmentPolicy {
	policy := def
	policy.Enabled = s.Bool(ctx, KeyAttachmentEnabled, def.Enabled)
	policy.MaxSizeMB = s.Int(ctx, KeyAttachmentFileSize, def.MaxSizeMB)
	if types := s.StringList(ctx, KeyAttachmentFileTypes); len(types) > 0 {
		policy.Extensions = types
	}
	return policy
}
