package retrieval

import (
	"context"

	"github.com/combiphar/corpus/internal/vector"
	"github.com/combiphar/corpus/pkg/models"
)

// defaultSources is what a search reads when the caller names none.
var defaultSources = []models.SourceType{models.SourcePortal, models.SourceWebsite, models.SourceAdmin}

// fallbackSources applies when permission filtering empties the set; a
// search must never silently read nothing.
var fallbackSources = []models.SourceType{models.SourceWebsite, models.SourceAdmin, models.SourceUser}

// PermissionSource resolves which portal documents a user may read.
type PermissionSource interface {
	PortalDocumentIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// resolveScope turns the requested sources and the caller's identity into
// a vector search filter. Admins read everything they ask for; non-admin
// portal users are restricted to their mapped portal documents; everyone
// else loses the portal source entirely.
func resolveScope(ctx context.Context, perms PermissionSource, user *models.UserInfo, requested []models.SourceType) (vector.SearchFilter, error) {
	sources := normalizeSources(requested)

	if user != nil && user.Admin {
		return vector.SearchFilter{SourceTypes: sources}, nil
	}

	var portalIDs []string
	keepPortal := false
	if user != nil && user.PortalUser && perms != nil {
		ids, err := perms.PortalDocumentIDsForUser(ctx, user.ID)
		if err != nil {
			return vector.SearchFilter{}, err
		}
		if len(ids) > 0 {
			portalIDs = ids
			keepPortal = true
		}
	}

	filtered := sources[:0:0]
	for _, s := range sources {
		if s == models.SourcePortal && !keepPortal {
			continue
		}
		filtered = append(filtered, s)
	}

	if len(filtered) == 0 {
		return vector.SearchFilter{SourceTypes: fallbackSources}, nil
	}

	filter := vector.SearchFilter{SourceTypes: filtered}
	if keepPortal {
		filter.PortalDocIDs = portalIDs
	}
	return filter, nil
}

// normalizeSources validates and dedupes the requested set, applying the
// default when empty.
func normalizeSources(requested []models.SourceType) []models.SourceType {
	seen := make(map[models.SourceType]bool)
	var out []models.SourceType
	for _, s := range requested {
		if !models.ValidSourceType(string(s)) || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, defaultSources...)
	}
	return out
}
