package retrieval

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/combiphar/corpus/pkg/models"
)

type fakePerms struct {
	ids []string
	err error
}

func (f *fakePerms) PortalDocumentIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return f.ids, f.err
}

func TestResolveScope_AdminKeepsEverything(t *testing.T) {
	user := &models.UserInfo{ID: "u1", Admin: true}

	filter, err := resolveScope(context.Background(), &fakePerms{}, user, nil)
	if err != nil {
		t.Fatalf("resolveScope: %v", err)
	}

	if !reflect.DeepEqual(filter.SourceTypes, defaultSources) {
		t.Errorf("admin sources = %v, want %v", filter.SourceTypes, defaultSources)
	}
	if filter.PortalDocIDs != nil {
		t.Errorf("admin must not be restricted to portal doc ids, got %v", filter.PortalDocIDs)
	}
}

func TestResolveScope_PortalUserRestrictedToMappedDocs(t *testing.T) {
	user := &models.UserInfo{ID: "u1", PortalUser: true}
	perms := &fakePerms{ids: []string{"d1", "d2"}}

	filter, err := resolveScope(context.Background(), perms, user, nil)
	if err != nil {
		t.Fatalf("resolveScope: %v", err)
	}

	if !reflect.DeepEqual(filter.SourceTypes, defaultSources) {
		t.Errorf("sources = %v, want %v", filter.SourceTypes, defaultSources)
	}
	if !reflect.DeepEqual(filter.PortalDocIDs, []string{"d1", "d2"}) {
		t.Errorf("portal doc ids = %v, want [d1 d2]", filter.PortalDocIDs)
	}
}

func TestResolveScope_PortalUserWithoutDocsLosesPortal(t *testing.T) {
	user := &models.UserInfo{ID: "u1", PortalUser: true}
	perms := &fakePerms{ids: nil}

	filter, err := resolveScope(context.Background(), perms, user, nil)
	if err != nil {
		t.Fatalf("resolveScope: %v", err)
	}

	want := []models.SourceType{models.SourceWebsite, models.SourceAdmin}
	if !reflect.DeepEqual(filter.SourceTypes, want) {
		t.Errorf("sources = %v, want %v", filter.SourceTypes, want)
	}
}

func TestResolveScope_RegularUserLosesPortal(t *testing.T) {
	user := &models.UserInfo{ID: "u1"}

	filter, err := resolveScope(context.Background(), &fakePerms{ids: []string{"d1"}}, user, nil)
	if err != nil {
		t.Fatalf("resolveScope: %v", err)
	}

	want := []models.SourceType{models.SourceWebsite, models.SourceAdmin}
	if !reflect.DeepEqual(filter.SourceTypes, want) {
		t.Errorf("sources = %v, want %v", filter.SourceTypes, want)
	}
	if filter.PortalDocIDs != nil {
		t.Errorf("non-portal user must not carry portal doc ids, got %v", filter.PortalDocIDs)
	}
}

func TestResolveScope_EmptyAfterFilteringFallsBack(t *testing.T) {
	// A regular user asking only for portal would otherwise read nothing.
	user := &models.UserInfo{ID: "u1"}
	requested := []models.SourceType{models.SourcePortal}

	filter, err := resolveScope(context.Background(), &fakePerms{}, user, requested)
	if err != nil {
		t.Fatalf("resolveScope: %v", err)
	}

	if !reflect.DeepEqual(filter.SourceTypes, fallbackSources) {
		t.Errorf("sources = %v, want fallback %v", filter.SourceTypes, fallbackSources)
	}
}

func TestResolveScope_AnonymousUser(t *testing.T) {
	filter, err := resolveScope(context.Background(), &fakePerms{}, nil, nil)
	if err != nil {
		t.Fatalf("resolveScope: %v", err)
	}

	want := []models.SourceType{models.SourceWebsite, models.SourceAdmin}
	if !reflect.DeepEqual(filter.SourceTypes, want) {
		t.Errorf("anonymous sources = %v, want %v", filter.SourceTypes, want)
	}
}

func TestResolveScope_PermissionLookupError(t *testing.T) {
	user := &models.UserInfo{ID: "u1", PortalUser: true}
	perms := &fakePerms{err: errors.New("db down")}

	if _, err := resolveScope(context.Background(), perms, user, nil); err == nil {
		t.Fatal("expected permission lookup error to surface")
	}
}

func TestNormalizeSources(t *testing.T) {
	tests := []struct {
		name      string
		requested []models.SourceType
		want      []models.SourceType
	}{
		{"empty gets default", nil, defaultSources},
		{
			"dedupes",
			[]models.SourceType{models.SourceAdmin, models.SourceAdmin, models.SourceUser},
			[]models.SourceType{models.SourceAdmin, models.SourceUser},
		},
		{
			"drops unknown",
			[]models.SourceType{"bogus", models.SourceWebsite},
			[]models.SourceType{models.SourceWebsite},
		},
		{"all unknown gets default", []models.SourceType{"bogus"}, defaultSources},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeSources(tt.requested)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeSources(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}
