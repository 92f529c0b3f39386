package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	// Check data directory is set
	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}

	// Check log defaults
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel should be 'info', got %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat should be 'json', got %s", cfg.LogFormat)
	}
}

func TestDefaultConfig_ServerDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout should be 30s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 10*time.Minute {
		t.Errorf("WriteTimeout should be 10m, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Server.IdleTimeout != 120*time.Second {
		t.Errorf("IdleTimeout should be 120s, got %v", cfg.Server.IdleTimeout)
	}
}

func TestDefaultConfig_PortalDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Portal.DownloadTimeout != 60*time.Second {
		t.Errorf("DownloadTimeout should be 60s, got %v", cfg.Portal.DownloadTimeout)
	}
	if cfg.Portal.DownloadRetries != 3 {
		t.Errorf("DownloadRetries should be 3, got %d", cfg.Portal.DownloadRetries)
	}
	if !strings.HasPrefix(cfg.Portal.BaseURL, "https://") {
		t.Errorf("Portal BaseURL should be https, got %s", cfg.Portal.BaseURL)
	}
}

func TestDefaultConfig_EmbeddingDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Embedding.Provider != "openai" {
		t.Errorf("Embedding.Provider should be 'openai', got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding.Model should be 'text-embedding-3-small', got %s", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("Embedding.Dimension should be 1536, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.BatchSize != 1000 {
		t.Errorf("Embedding.BatchSize should be 1000, got %d", cfg.Embedding.BatchSize)
	}
}

func TestDefaultConfig_RetrievalDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Retrieval.MinScore != 0.1 {
		t.Errorf("MinScore should be 0.1, got %f", cfg.Retrieval.MinScore)
	}
	if cfg.Retrieval.ProductCodeMinScore != 0.05 {
		t.Errorf("ProductCodeMinScore should be 0.05, got %f", cfg.Retrieval.ProductCodeMinScore)
	}
	if cfg.Retrieval.SimilarityFloor != 0.15 {
		t.Errorf("SimilarityFloor should be 0.15, got %f", cfg.Retrieval.SimilarityFloor)
	}
	if cfg.Retrieval.VectorWeight != 0.6 {
		t.Errorf("VectorWeight should be 0.6, got %f", cfg.Retrieval.VectorWeight)
	}
	if cfg.Retrieval.MMRLambda != 0.7 {
		t.Errorf("MMRLambda should be 0.7, got %f", cfg.Retrieval.MMRLambda)
	}
	if cfg.Retrieval.AttachmentMinScore != 0.2 {
		t.Errorf("AttachmentMinScore should be 0.2, got %f", cfg.Retrieval.AttachmentMinScore)
	}
}

func TestDefaultConfig_ExtractDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Extract.PDFRenderScale != 2.0 {
		t.Errorf("PDFRenderScale should be 2.0, got %f", cfg.Extract.PDFRenderScale)
	}
	if cfg.Extract.TesseractConfig != "--oem 3 --psm 3" {
		t.Errorf("TesseractConfig should be '--oem 3 --psm 3', got %s", cfg.Extract.TesseractConfig)
	}
	if cfg.Extract.OCRLanguages != "eng+ind" {
		t.Errorf("OCRLanguages should be 'eng+ind', got %s", cfg.Extract.OCRLanguages)
	}
}

func TestDefaultConfig_UploadDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Upload.MaxSizeMB != 50 {
		t.Errorf("MaxSizeMB should be 50, got %d", cfg.Upload.MaxSizeMB)
	}
	if cfg.UploadMaxBytes() != 50*1024*1024 {
		t.Errorf("UploadMaxBytes should be 50MB, got %d", cfg.UploadMaxBytes())
	}

	allowed := make(map[string]bool)
	for _, ext := range cfg.Upload.AllowedExtensions {
		allowed[ext] = true
	}
	for _, ext := range []string{".pdf", ".docx", ".xlsx", ".txt", ".png"} {
		if !allowed[ext] {
			t.Errorf("Expected %s in AllowedExtensions", ext)
		}
	}
}

func TestDefaultConfig_SyncDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sync.JobName != "document_sync" {
		t.Errorf("JobName should be 'document_sync', got %s", cfg.Sync.JobName)
	}
	if cfg.Sync.Schedule != "" {
		t.Errorf("Schedule should be empty by default, got %s", cfg.Sync.Schedule)
	}
}

func TestConfig_DocumentsDir(t *testing.T) {
	cfg := DefaultConfig()

	docsDir := cfg.DocumentsDir()
	if !strings.HasSuffix(docsDir, filepath.Join("data", "documents")) {
		t.Errorf("DocumentsDir should end with data/documents, got %s", docsDir)
	}
	if !strings.Contains(docsDir, cfg.DataDir) {
		t.Errorf("DocumentsDir should be within DataDir")
	}

	portalDir := cfg.SourceDir("portal")
	if !strings.HasSuffix(portalDir, "portal") {
		t.Errorf("SourceDir should end with the source, got %s", portalDir)
	}
}

func TestConfig_LogPath(t *testing.T) {
	cfg := DefaultConfig()

	logPath := cfg.LogPath()
	if !strings.HasSuffix(logPath, "corpus.log") {
		t.Errorf("LogPath should end with 'corpus.log', got %s", logPath)
	}
	if !strings.Contains(logPath, cfg.DataDir) {
		t.Errorf("LogPath should be within DataDir")
	}
}

func TestConfig_EnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		DataDir: tmpDir,
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	// Check source-typed directories were created
	expectedDirs := []string{
		tmpDir,
		cfg.DocumentsDir(),
		cfg.SourceDir("admin"),
		cfg.SourceDir("user"),
		cfg.SourceDir("portal"),
		cfg.SourceDir("website"),
	}

	for _, dir := range expectedDirs {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("Directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestConfig_EnsureDirectories_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Permission test not applicable on Windows")
	}

	tmpDir := t.TempDir()

	cfg := &Config{
		DataDir: tmpDir,
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	info, err := os.Stat(cfg.DocumentsDir())
	if err != nil {
		t.Fatalf("Failed to stat DocumentsDir: %v", err)
	}

	perm := info.Mode().Perm()
	if perm&0077 != 0 {
		t.Errorf("Documents directory should not be world-readable, got %o", perm)
	}
}

func TestLoad_DefaultsWhenNoConfig(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg == nil {
		t.Fatal("Load returned nil config")
	}

	// Should have defaults applied
	if cfg.LogLevel == "" {
		t.Error("LogLevel should have default value")
	}
	if cfg.Sync.JobName == "" {
		t.Error("Sync.JobName should have default value")
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~/.corpus", filepath.Join(homeDir, ".corpus")},
		{"~/", homeDir},
		{"~", homeDir},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := expandPath(tt.input)
		if result != tt.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}
