// Package main is the entry point for the corpus operator CLI.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/pkg/models"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

// Client for daemon communication
type client struct {
	httpClient *http.Client
	baseURL    string
}

func newClient(addr string) *client {
	return newClientWithTimeout(addr, 60*time.Second)
}

func newClientWithTimeout(addr string, timeout time.Duration) *client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(base, "/"),
	}
}

func (c *client) get(path string) ([]byte, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *client) post(path string, body interface{}) ([]byte, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *client) put(path string, body interface{}) ([]byte, error) {
	return c.do(http.MethodPut, path, body)
}

func (c *client) delete(path string) ([]byte, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *client) do(method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.roundTrip(req)
}

// postForm posts a prepared multipart body.
func (c *client) postForm(path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.roundTrip(req)
}

// postRaw posts without turning HTTP statuses into errors. The sync
// trigger uses 409 as a meaningful answer, not a failure.
func (c *client) postRaw(path string, body interface{}) ([]byte, int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return out, resp.StatusCode, err
}

func (c *client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return data, apiError(resp.StatusCode, data)
	}
	return data, nil
}

// apiError turns the daemon's error envelope into a readable error.
func apiError(status int, data []byte) error {
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err == nil && resp.Error.Message != "" {
		return fmt.Errorf("%s (%s)", resp.Error.Message, resp.Error.Code)
	}
	return fmt.Errorf("daemon returned HTTP %d", status)
}

var daemonAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "corpus",
		Short: "Corpus - document ingestion and retrieval CLI",
		Long: `Corpus is the operator CLI for the corpus daemon. It triggers and
inspects sync runs, searches the ingested corpus, manages documents,
runs reconciliation, and edits runtime settings.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", defaultAddr(),
		"Daemon address (host:port)")

	// Add subcommands
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(settingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultAddr resolves the daemon address from the config file, so the
// CLI follows a relocated daemon without flags.
func defaultAddr() string {
	if cfg, err := config.Load(); err == nil && cfg.Server.Listen != "" {
		return cfg.Server.Listen
	}
	return "127.0.0.1:8085"
}

// statusCmd shows the daemon and corpus status.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and corpus status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			data, err := c.get("/api/v1/status")
			if err != nil {
				return fmt.Errorf("daemon not running or unreachable: %w", err)
			}

			var status struct {
				Daemon struct {
					Version string `json:"version"`
					Uptime  string `json:"uptime"`
					Ready   bool   `json:"ready"`
				} `json:"daemon"`
				Embedding struct {
					Provider  string `json:"provider"`
					Model     string `json:"model"`
					Dimension int    `json:"dimension"`
				} `json:"embedding"`
				Documents  *models.CatalogStats `json:"documents"`
				Vectors    *models.VectorStats  `json:"vectors"`
				Sync       *models.SyncStatus   `json:"sync"`
				Extractors []struct {
					Name      string `json:"name"`
					Available bool   `json:"available"`
				} `json:"extractors"`
			}
			if err := json.Unmarshal(data, &status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}

			fmt.Println("Corpus Status")
			fmt.Println("────────────────────────────────────────────────────────")
			ready := "no"
			if status.Daemon.Ready {
				ready = "yes"
			}
			fmt.Printf("%-12s %s (uptime %s, ready %s)\n", "Daemon:", status.Daemon.Version, status.Daemon.Uptime, ready)
			fmt.Printf("%-12s %s / %s (dim %d)\n", "Embedding:",
				status.Embedding.Provider, status.Embedding.Model, status.Embedding.Dimension)

			var missing []string
			for _, tool := range status.Extractors {
				if !tool.Available {
					missing = append(missing, tool.Name)
				}
			}
			if len(missing) > 0 {
				fmt.Printf("%-12s missing %s\n", "Extractors:", strings.Join(missing, ", "))
			} else {
				fmt.Printf("%-12s all tools available\n", "Extractors:")
			}

			if status.Documents != nil {
				fmt.Println()
				fmt.Println("Documents")
				fmt.Println("────────────────────────────────────────────────────────")
				fmt.Printf("%-12s %d (%s)\n", "Total:", status.Documents.TotalDocuments, formatBytes(status.Documents.TotalBytes))
				for _, source := range []models.SourceType{models.SourcePortal, models.SourceWebsite, models.SourceAdmin, models.SourceUser} {
					if n, ok := status.Documents.BySource[source]; ok {
						fmt.Printf("  %-10s %d\n", source, n)
					}
				}
			}
			if status.Vectors != nil {
				fmt.Printf("%-12s %d chunks over %d documents\n", "Vectors:",
					status.Vectors.TotalChunks, status.Vectors.DistinctDocuments)
			}

			if status.Sync != nil {
				fmt.Println()
				fmt.Println("Sync")
				fmt.Println("────────────────────────────────────────────────────────")
				printSyncStatus(status.Sync)
			}

			return nil
		},
	}
}

// syncCmd is the parent command for sync job operations.
func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Manage the document sync job",
		Long: `Trigger and inspect the singleton document sync job.

Examples:
  corpus sync trigger --user alice
  corpus sync status
  corpus sync logs --limit 10
  corpus sync log 42`,
	}

	cmd.AddCommand(syncTriggerCmd())
	cmd.AddCommand(syncStatusCmd())
	cmd.AddCommand(syncLogsCmd())
	cmd.AddCommand(syncLogCmd())

	return cmd
}

func syncTriggerCmd() *cobra.Command {
	var triggeredBy string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			data, status, err := c.postRaw("/api/v1/sync", map[string]interface{}{
				"triggered_by": triggeredBy,
			})
			if err != nil {
				return fmt.Errorf("trigger sync: %w", err)
			}
			if status != http.StatusAccepted && status != http.StatusConflict {
				return apiError(status, data)
			}

			var resp struct {
				Started bool               `json:"started"`
				Status  *models.SyncStatus `json:"status"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			if !resp.Started {
				fmt.Println("A sync run is already active:")
				printSyncStatus(resp.Status)
				return nil
			}

			fmt.Println("Sync run started")
			printSyncStatus(resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&triggeredBy, "user", "", "User the run is attributed to")

	return cmd
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync job state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			data, err := c.get("/api/v1/sync")
			if err != nil {
				return err
			}

			var status models.SyncStatus
			if err := json.Unmarshal(data, &status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}

			printSyncStatus(&status)
			return nil
		},
	}
}

func syncLogsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			data, err := c.get(fmt.Sprintf("/api/v1/sync/logs?limit=%d", limit))
			if err != nil {
				return err
			}

			var resp struct {
				Logs []*models.SyncLog `json:"logs"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode logs: %w", err)
			}

			if len(resp.Logs) == 0 {
				fmt.Println("No sync runs recorded")
				return nil
			}

			fmt.Printf("%-6s %-16s %-10s %-10s %-10s %-20s %s\n",
				"ID", "STATUS", "DOCS", "WEBSITES", "TRIGGER", "STARTED", "RUNTIME")
			for _, l := range resp.Logs {
				fmt.Printf("%-6d %-16s %-10s %-10s %-10s %-20s %s\n",
					l.ID,
					l.Status,
					fmt.Sprintf("%d/%d", l.SuccessfulDocs, l.TotalDocuments),
					fmt.Sprintf("%d/%d", l.SuccessfulWebsites, l.TotalWebsites),
					l.TriggerSource,
					l.StartedAt.Format("2006-01-02 15:04:05"),
					formatDuration(time.Duration(l.RuntimeSeconds*float64(time.Second))),
				)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")

	return cmd
}

func syncLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <id>",
		Short: "Show one sync run with its per-item details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			data, err := c.get("/api/v1/sync/logs/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}

			var resp struct {
				Log     *models.SyncLog         `json:"log"`
				Details []*models.SyncLogDetail `json:"details"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode log: %w", err)
			}
			l := resp.Log

			fmt.Printf("%-12s %d (%s)\n", "Run:", l.ID, l.SyncType)
			fmt.Printf("%-12s %s\n", "Status:", l.Status)
			fmt.Printf("%-12s %d/%d documents, %d/%d websites\n", "Succeeded:",
				l.SuccessfulDocs, l.TotalDocuments, l.SuccessfulWebsites, l.TotalWebsites)
			fmt.Printf("%-12s %s by %s\n", "Trigger:", l.TriggerSource, l.TriggeredBy)
			fmt.Printf("%-12s %s\n", "Started:", l.StartedAt.Format(time.RFC3339))
			if l.RuntimeSeconds > 0 {
				fmt.Printf("%-12s %s\n", "Runtime:", formatDuration(time.Duration(l.RuntimeSeconds*float64(time.Second))))
			}
			if l.ErrorMessage != "" {
				fmt.Printf("%-12s %s\n", "Error:", l.ErrorMessage)
			}

			if len(resp.Details) == 0 {
				return nil
			}

			fmt.Println()
			fmt.Printf("%-10s %-8s %-40s %s\n", "TYPE", "STATUS", "ITEM", "ERROR")
			for _, d := range resp.Details {
				item := d.DocumentTitle
				if item == "" {
					item = d.DocumentFilename
				}
				if item == "" {
					item = d.ItemURL
				}
				fmt.Printf("%-10s %-8s %-40s %s\n",
					d.ItemType, d.Status, truncate(item, 40), truncate(d.ErrorMessage, 60))
			}

			return nil
		},
	}
}

// printSyncStatus renders one job row snapshot.
func printSyncStatus(st *models.SyncStatus) {
	if st == nil {
		return
	}
	fmt.Printf("%-12s %s\n", "Job:", st.JobName)
	fmt.Printf("%-12s %s\n", "State:", st.State)
	if st.TriggerSource != "" {
		fmt.Printf("%-12s %s by %s\n", "Trigger:", st.TriggerSource, st.TriggeredBy)
	}
	if st.StartedAt != nil {
		fmt.Printf("%-12s %s\n", "Started:", st.StartedAt.Format(time.RFC3339))
	}
	if st.FinishedAt != nil {
		fmt.Printf("%-12s %s\n", "Finished:", st.FinishedAt.Format(time.RFC3339))
	}
	if st.RuntimeSeconds > 0 {
		fmt.Printf("%-12s %s\n", "Runtime:", formatDuration(time.Duration(st.RuntimeSeconds*float64(time.Second))))
	}
	if st.Error != "" {
		fmt.Printf("%-12s %s\n", "Error:", st.Error)
	}
}

// searchCmd queries the corpus.
func searchCmd() *cobra.Command {
	var k int
	var srcs []string
	var minScore float64
	var userID string
	var admin bool
	var portal bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the corpus",
		Long: `Run a hybrid search against the ingested corpus.

Without --user the search runs unauthenticated, which reads the public
sources only. Admins see everything they ask for.

Examples:
  corpus search "annual leave policy"
  corpus search --source website --k 10 "product recall"
  corpus search --user alice --portal "sales target"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			req := map[string]interface{}{
				"query": query,
				"k":     k,
			}
			if len(srcs) > 0 {
				req["sources"] = srcs
			}
			if minScore > 0 {
				req["min_score"] = minScore
			}
			if userID != "" || admin {
				req["user"] = &models.UserInfo{ID: userID, Admin: admin, PortalUser: portal}
			}

			c := newClient(daemonAddr)
			data, err := c.post("/api/v1/search", req)
			if err != nil {
				return err
			}

			var result models.SearchResult
			if err := json.Unmarshal(data, &result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}

			if result.RefinedQuery != "" && result.RefinedQuery != result.Query {
				fmt.Printf("Refined query: %s\n", result.RefinedQuery)
			}
			if len(result.Results) == 0 {
				fmt.Println("No results")
				return nil
			}

			cached := ""
			if result.Cached {
				cached = " (cached)"
			}
			fmt.Printf("%d results in %.0f ms%s\n\n", result.TotalHits, result.SearchTimeMs, cached)

			for i, r := range result.Results {
				name := r.DocumentTitle
				if name == "" {
					name = r.StoredFilename
				}
				fmt.Printf("%2d. [%.3f] %s (%s)\n", i+1, r.Score, truncate(name, 60), r.SourceType)
				fmt.Printf("    %s\n", snippet(r.Content, 160))
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&k, "k", 5, "Number of results")
	cmd.Flags().StringSliceVar(&srcs, "source", nil, "Restrict to source types (portal, website, admin, user)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Override the similarity threshold")
	cmd.Flags().StringVar(&userID, "user", "", "Search as this user id")
	cmd.Flags().BoolVar(&admin, "admin", false, "Search with admin visibility")
	cmd.Flags().BoolVar(&portal, "portal", false, "Caller is a portal user")

	return cmd
}

// docsCmd is the parent command for document operations.
func docsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage catalog documents",
		Long: `List, upload, and delete catalog documents.

Examples:
  corpus docs list --source portal
  corpus docs upload handbook.pdf --source admin
  corpus docs delete 4f1f6c22-0d63-4f1e-9c2a-0b62c7a9d1d4
  corpus docs clear --source website`,
	}

	cmd.AddCommand(docsListCmd())
	cmd.AddCommand(docsUploadCmd())
	cmd.AddCommand(docsDeleteCmd())
	cmd.AddCommand(docsClearCmd())

	return cmd
}

func docsListCmd() *cobra.Command {
	var source string
	var limit, offset int

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List catalog documents",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/documents?limit=%d&offset=%d", limit, offset)
			if source != "" {
				path += "&source=" + url.QueryEscape(source)
			}

			c := newClient(daemonAddr)
			data, err := c.get(path)
			if err != nil {
				return err
			}

			var resp struct {
				Documents []*models.Document `json:"documents"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode documents: %w", err)
			}

			if len(resp.Documents) == 0 {
				fmt.Println("No documents found")
				return nil
			}

			fmt.Printf("%-36s %-8s %-40s %-10s %s\n", "ID", "SOURCE", "NAME", "SIZE", "CREATED")
			for _, doc := range resp.Documents {
				fmt.Printf("%-36s %-8s %-40s %-10s %s\n",
					doc.ID,
					doc.SourceType,
					truncate(doc.DisplayName(), 40),
					formatBytes(doc.SizeBytes),
					doc.CreatedAt.Format("2006-01-02 15:04"),
				)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Filter by source type")
	cmd.Flags().IntVar(&limit, "limit", 100, "Number of documents to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Listing offset")

	return cmd
}

func docsUploadCmd() *cobra.Command {
	var source string
	var metadata string
	var uploadedBy string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload and ingest a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := part.Write(content); err != nil {
				return err
			}
			mw.WriteField("source", source)
			if metadata != "" {
				mw.WriteField("metadata", metadata)
			}
			if uploadedBy != "" {
				mw.WriteField("uploaded_by", uploadedBy)
			}
			if err := mw.Close(); err != nil {
				return err
			}

			// Ingestion is synchronous; large documents embed for a while.
			c := newClientWithTimeout(daemonAddr, 10*time.Minute)
			data, err := c.postForm("/api/v1/documents", mw.FormDataContentType(), &buf)
			if err != nil {
				return err
			}

			var resp struct {
				Document *models.Document `json:"document"`
				Chunks   int              `json:"chunks"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			fmt.Printf("Ingested %s: %d chunks (document %s)\n",
				resp.Document.OriginalFilename, resp.Chunks, resp.Document.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "admin", "Source type for the document")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Metadata as a JSON object")
	cmd.Flags().StringVar(&uploadedBy, "user", "", "Uploader identity")

	return cmd
}

func docsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete one document: vectors, file, catalog row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			if _, err := c.delete("/api/v1/documents/" + url.PathEscape(args[0])); err != nil {
				return err
			}

			fmt.Printf("Deleted document %s\n", args[0])
			return nil
		},
	}
}

func docsClearCmd() *cobra.Command {
	var source string
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every document of one source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.ValidSourceType(source) {
				return fmt.Errorf("--source must name a source type (portal, website, admin, user)")
			}
			if !yes && !confirmAction(fmt.Sprintf("Delete ALL %s documents?", source)) {
				fmt.Println("Cancelled")
				return nil
			}

			c := newClient(daemonAddr)
			data, err := c.delete("/api/v1/documents?source=" + url.QueryEscape(source))
			if err != nil {
				return err
			}

			var resp struct {
				Deleted int `json:"deleted"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			fmt.Printf("Deleted %d documents from %s\n", resp.Deleted, source)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source type to clear (required)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")

	return cmd
}

// reconcileCmd is the parent command for reconciliation passes.
func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between files, catalog, and vectors",
		Long: `Run the reconciler over the managed source directories.

Examples:
  corpus reconcile cleanup
  corpus reconcile repair --dry-run`,
	}

	cmd.AddCommand(reconcileCleanupCmd())
	cmd.AddCommand(reconcileRepairCmd())

	return cmd
}

func reconcileCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete managed files that have no catalog row",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClientWithTimeout(daemonAddr, 10*time.Minute)
			data, err := c.post("/api/v1/reconcile/orphans", nil)
			if err != nil {
				return err
			}

			var report models.ReconcileReport
			if err := json.Unmarshal(data, &report); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}

			fmt.Printf("%-10s %d\n", "Checked:", report.Checked)
			fmt.Printf("%-10s %d\n", "Kept:", report.Kept)
			fmt.Printf("%-10s %d\n", "Deleted:", report.Deleted)
			printReportErrors(report.Errors)
			return nil
		},
	}
}

func reconcileRepairCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Re-embed drifted documents and adopt unknown files",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Repair re-extracts and re-embeds, which can run long.
			c := newClientWithTimeout(daemonAddr, 30*time.Minute)
			data, err := c.post("/api/v1/reconcile/repair", map[string]interface{}{
				"dry_run": dryRun,
			})
			if err != nil {
				return err
			}

			var report models.RepairReport
			if err := json.Unmarshal(data, &report); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}

			if report.DryRun {
				fmt.Println("Dry run: nothing was written")
			}
			fmt.Printf("%-28s %d\n", "Catalog rows checked:", report.CheckedDB)
			fmt.Printf("%-28s %d\n", "Files checked:", report.CheckedFS)
			fmt.Printf("%-28s %d\n", "Re-embedded (file moved):", report.ReembeddedDBMissing)
			fmt.Printf("%-28s %d\n", "Re-embedded (row missing):", report.ReembeddedFSMissingDB)
			fmt.Printf("%-28s %d\n", "Catalog rows created:", report.CreatedDBRecords)
			printReportErrors(report.Errors)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")

	return cmd
}

func printReportErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("%-10s %d\n", "Errors:", len(errs))
	for _, e := range errs {
		fmt.Printf("  - %s\n", truncate(e, 100))
	}
}

// settingsCmd is the parent command for runtime settings.
func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write runtime settings",
		Long: `Read and write the runtime key/value settings.

Known keys: attachment, attachment_file_size, attachment_file_types,
document_sync_allowed_users, combiphar_websites.

Examples:
  corpus settings get combiphar_websites
  corpus settings set attachment_file_size 25`,
	}

	cmd.AddCommand(settingsGetCmd())
	cmd.AddCommand(settingsSetCmd())

	return cmd
}

func settingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read one runtime setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			data, err := c.get("/api/v1/settings/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}

			var resp struct {
				Value string `json:"value"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode setting: %w", err)
			}

			fmt.Println(resp.Value)
			return nil
		},
	}
}

func settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one runtime setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(daemonAddr)
			_, err := c.put("/api/v1/settings/"+url.PathEscape(args[0]), map[string]interface{}{
				"value": args[1],
			})
			if err != nil {
				return err
			}

			fmt.Printf("Set %s\n", args[0])
			return nil
		},
	}
}

// confirmAction prompts the user for confirmation.
func confirmAction(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("%s [y/N]: ", prompt)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// truncate shortens a string for table display.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// snippet collapses whitespace so a chunk prints on one line.
func snippet(s string, max int) string {
	return truncate(strings.Join(strings.Fields(s), " "), max)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
