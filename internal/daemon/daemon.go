// Package daemon wires the corpus components together and serves the
// operator HTTP API.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/blob"
	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/embed"
	"github.com/combiphar/corpus/internal/extract"
	"github.com/combiphar/corpus/internal/ingest"
	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/internal/reconcile"
	"github.com/combiphar/corpus/internal/retrieval"
	"github.com/combiphar/corpus/internal/settings"
	"github.com/combiphar/corpus/internal/sources"
	"github.com/combiphar/corpus/internal/store"
	"github.com/combiphar/corpus/internal/syncjob"
	"github.com/combiphar/corpus/internal/vector"
)

// Build metadata, overridden by the binary at link time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Daemon is the corpus daemon core.
type Daemon struct {
	cfg    *config.Config
	router chi.Router
	server *http.Server
	logger zerolog.Logger

	// Component graph
	store      *store.Store
	vectors    *vector.Store
	settings   *settings.Service
	embedder   embed.Embedder
	extractor  *extract.Registry
	pipeline   *ingest.Pipeline
	uploads    *sources.Upload
	retriever  *retrieval.Retriever
	syncs      *syncjob.Manager
	scheduler  *syncjob.Scheduler
	reconciler *reconcile.Reconciler

	// State
	mu        sync.RWMutex
	running   bool
	ready     bool
	startTime time.Time

	// Shutdown
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New builds the daemon and its full component graph. Postgres must be
// reachable because migrations run here; redis and missing extraction
// tools only degrade and are logged.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	logger := observability.Logger("daemon")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	vectors := vector.New(st.Pool(), cfg.Embedding.Dimension)

	svc := settings.New(cfg.Redis)
	if err := svc.Ping(ctx); err != nil {
		logger.Warn().Err(err).
			Str("addr", cfg.Redis.Addr).
			Msg("redis unreachable, runtime settings and caching degraded")
	}

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		st.Close()
		svc.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	extractor := extract.NewRegistry(cfg.Extract)
	for _, tool := range extractor.CheckTools() {
		if !tool.Available {
			logger.Warn().Str("tool", tool.Name).Msg("extraction tool not found, dependent formats degraded")
		}
	}

	blobs := blob.New(cfg.DocumentsDir())
	cache := retrieval.NewCache(svc.Client(), cfg.Retrieval.CacheTTL)

	pipeline := ingest.NewPipeline(st, blobs, extractor, embedder, vectors, cache, ingest.PipelineConfig{
		EmbedBatchSize: cfg.Embedding.BatchSize,
		MaxFileBytes:   cfg.UploadMaxBytes(),
	})

	portal := sources.NewPortal(cfg.Portal, st, vectors, blobs, pipeline)
	website := sources.NewWebsite(cfg.Crawler, st, vectors, blobs, pipeline, svc)
	uploads := sources.NewUpload(pipeline, svc, cfg.Upload)

	retriever := retrieval.New(vectors, embedder, st, cache, cfg.Retrieval)

	syncs := syncjob.New(cfg.Sync.JobName, st, portal, website)
	scheduler, err := syncjob.NewScheduler(cfg.Sync.Schedule, syncs)
	if err != nil {
		st.Close()
		svc.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		vectors:    vectors,
		settings:   svc,
		embedder:   embedder,
		extractor:  extractor,
		pipeline:   pipeline,
		uploads:    uploads,
		retriever:  retriever,
		syncs:      syncs,
		scheduler:  scheduler,
		reconciler: reconcile.New(st, blobs, pipeline),
		shutdownCh: make(chan struct{}),
	}

	d.setupRouter()

	return d, nil
}

// setupRouter configures the HTTP router.
func (d *Daemon) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(d.loggingMiddleware)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoints
		r.Get("/health", d.handleHealth)
		r.Get("/ready", d.handleReady)
		r.Get("/status", d.handleStatus)

		// Sync endpoints
		r.Route("/sync", func(r chi.Router) {
			r.Post("/", d.handleTriggerSync)
			r.Get("/", d.handleSyncStatus)
			r.Get("/logs", d.handleListSyncLogs)
			r.Get("/logs/{logID}", d.handleGetSyncLog)
		})

		// Document endpoints
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", d.handleUploadDocument)
			r.Get("/", d.handleListDocuments)
			r.Delete("/", d.handleDeleteDocumentsBySource)
			r.Get("/{documentID}", d.handleGetDocument)
			r.Delete("/{documentID}", d.handleDeleteDocument)
		})

		// Retrieval endpoints
		r.Post("/search", d.handleSearch)
		r.Post("/attachments/search", d.handleAttachmentSearch)

		// Reconciler endpoints
		r.Route("/reconcile", func(r chi.Router) {
			r.Post("/orphans", d.handleCleanupOrphans)
			r.Post("/repair", d.handleEmbedRepair)
		})

		// Runtime settings endpoints
		r.Route("/settings", func(r chi.Router) {
			r.Get("/{key}", d.handleGetSetting)
			r.Put("/{key}", d.handlePutSetting)
		})
	})

	d.router = r
}

// loggingMiddleware logs HTTP requests.
func (d *Daemon) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		d.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request completed")
	})
}

// Start starts the API server and the sync scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().
		Str("listen", d.cfg.Server.Listen).
		Str("data_dir", d.cfg.DataDir).
		Msg("starting daemon")

	listener, err := net.Listen("tcp", d.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Server.Listen, err)
	}

	d.server = &http.Server{
		Handler:      d.router,
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
		IdleTimeout:  d.cfg.Server.IdleTimeout,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("server error")
		}
	}()

	if d.scheduler != nil {
		d.scheduler.Start()
		d.logger.Info().Str("schedule", d.cfg.Sync.Schedule).Msg("sync scheduler started")
	}

	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()

	observability.LogEvent(d.logger, observability.EventDaemonStarted, map[string]interface{}{
		"listen":   d.cfg.Server.Listen,
		"data_dir": d.cfg.DataDir,
	})

	d.logger.Info().Msg("daemon started")
	return nil
}

// Stop gracefully stops the daemon. An in-flight sync run is given until
// ctx expires to finish; after that it is abandoned to the OS.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.ready = false
	d.mu.Unlock()

	d.logger.Info().Msg("stopping daemon")

	// Signal shutdown
	close(d.shutdownCh)

	if d.scheduler != nil {
		d.scheduler.Stop()
	}

	// Shutdown HTTP server
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Error().Err(err).Msg("server shutdown error")
		}
	}

	// Wait for the server goroutine and any running sync with timeout
	done := make(chan struct{})
	go func() {
		d.syncs.Wait()
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// All goroutines finished
	case <-ctx.Done():
		d.logger.Warn().Msg("shutdown timeout, a sync run may still be finishing")
	}

	d.settings.Close()
	d.store.Close()

	observability.LogEvent(d.logger, observability.EventDaemonStopped, nil)
	d.logger.Info().Msg("daemon stopped")

	return nil
}

// Run runs the daemon until interrupted.
func (d *Daemon) Run() error {
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-d.shutdownCh:
		// Shutdown requested programmatically
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return d.Stop(shutdownCtx)
}

// Ready returns whether the daemon is ready to serve requests.
func (d *Daemon) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// Config returns the daemon's configuration.
func (d *Daemon) Config() *config.Config {
	return d.cfg
}
