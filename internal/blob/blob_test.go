package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/combiphar/corpus/pkg/models"
)

func TestPathFor(t *testing.T) {
	s := New("/data/documents")

	tests := []struct {
		name   string
		source models.SourceType
		chatID string
		stored string
		want   string
	}{
		{"admin", models.SourceAdmin, "", "a.pdf", "/data/documents/admin/a.pdf"},
		{"portal", models.SourcePortal, "", "b.pdf", "/data/documents/portal/b.pdf"},
		{"user with chat", models.SourceUser, "chat-1", "c.txt", "/data/documents/user/chat-1/c.txt"},
		{"user without chat", models.SourceUser, "", "d.txt", "/data/documents/user/d.txt"},
		{"chat id ignored for non-user", models.SourceWebsite, "chat-1", "e.txt", "/data/documents/website/e.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.PathFor(tt.source, tt.chatID, tt.stored); got != tt.want {
				t.Errorf("PathFor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlaceRemoveExists(t *testing.T) {
	s := New(t.TempDir())

	path, err := s.Place(models.SourceUser, "chat-9", "f.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Place() error: %v", err)
	}
	if !s.Exists(path) {
		t.Fatal("placed file should exist")
	}

	content, err := os.ReadFile(path)
	if err != nil || string(content) != "hello" {
		t.Fatalf("file content = %q, err %v", content, err)
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if s.Exists(path) {
		t.Fatal("removed file should not exist")
	}

	// Removing again must not error.
	if err := s.Remove(path); err != nil {
		t.Errorf("Remove() on missing file: %v", err)
	}
	if err := s.Remove(""); err != nil {
		t.Errorf("Remove() on empty path: %v", err)
	}
}

func TestListFiles(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Place(models.SourceAdmin, "", "one.pdf", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Place(models.SourceUser, "chat-1", "two.txt", []byte("y")); err != nil {
		t.Fatal(err)
	}

	files, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files)
	}
	for _, f := range files {
		if filepath.Base(f) != "one.pdf" && filepath.Base(f) != "two.txt" {
			t.Errorf("unexpected file: %s", f)
		}
	}
}

func TestListFilesMissingRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-created"))
	files, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles() on missing root: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}
