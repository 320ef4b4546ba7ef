package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dukerupert/mealsync/internal/backup"
	"github.com/dukerupert/mealsync/internal/database"
	"github.com/dukerupert/mealsync/internal/diarysync"
	"github.com/dukerupert/mealsync/internal/gateway"
	"github.com/dukerupert/mealsync/internal/handler"
	"github.com/dukerupert/mealsync/internal/middleware"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/dukerupert/mealsync/internal/store"
	ws "github.com/dukerupert/mealsync/internal/websocket"
	"github.com/rs/cors"
)

const (
	pushRateLimit    = 6
	pushRateWindow   = time.Minute
	maintenanceEvery = time.Hour
	batchRetention   = 7 * 24 * time.Hour
)

// Options configures the daemon components.
type Options struct {
	UserID      string
	Gateway     gateway.Config
	Sync        diarysync.SchedulerConfig
	Backup      backup.Config
	APIToken    string
	CORSOrigins []string
}

type Server struct {
	db          *sql.DB
	opts        Options
	hub         *ws.Hub
	entries     *store.EntryStore
	batches     *store.BatchStore
	gateway     *gateway.Client
	orch        *diarysync.Orchestrator
	scheduler   *diarysync.Scheduler
	backupMgr   *backup.Manager
	diaryH      *handler.DiaryHandler
	syncH       *handler.SyncHandler
	backupH     *handler.BackupHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(db *sql.DB, opts Options, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	entries := store.NewEntryStore(db, opts.UserID, logger.With("component", "store"))
	batches := store.NewBatchStore(db)
	syncState := store.NewSyncStateStore(db)

	gw := gateway.NewClient(opts.Gateway, logger.With("component", "gateway"))
	orch := diarysync.NewOrchestrator(entries.UserID(), entries, batches, syncState, gw, logger.With("component", "sync"))

	sched := diarysync.NewScheduler(orch, opts.Sync, func(kind model.SyncKind, err error) {
		action := "completed"
		extra := map[string]any{"kind": string(kind)}
		if err != nil {
			action = "failed"
			extra["error"] = err.Error()
		}
		hub.Broadcast(ws.NewMessage(ws.EntitySync, action, "", extra))
	}, logger.With("component", "scheduler"))

	opts.Backup.UserID = entries.UserID()
	backupMgr := backup.NewManager(opts.Backup, entries, func(s backup.Status) {
		hub.Broadcast(ws.NewMessage(ws.EntityBackup, string(s.State), s.LastKey, map[string]any{
			"in_progress": s.InProgress,
			"error":       s.Error,
		}))
	}, logger.With("component", "backup"))

	return &Server{
		db:          db,
		opts:        opts,
		hub:         hub,
		entries:     entries,
		batches:     batches,
		gateway:     gw,
		orch:        orch,
		scheduler:   sched,
		backupMgr:   backupMgr,
		diaryH:      handler.NewDiaryHandler(entries, hub, logger.With("component", "diary")),
		syncH:       handler.NewSyncHandler(entries.UserID(), orch, sched, gw, hub, logger.With("component", "sync_handler")),
		backupH:     handler.NewBackupHandler(backupMgr, hub, logger.With("component", "backup_handler")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Entries returns the local diary store.
func (s *Server) Entries() *store.EntryStore {
	return s.entries
}

// Orchestrator returns the sync orchestrator.
func (s *Server) Orchestrator() *diarysync.Orchestrator {
	return s.orch
}

// Scheduler returns the background sync scheduler.
func (s *Server) Scheduler() *diarysync.Scheduler {
	return s.scheduler
}

// Gateway returns the backend client.
func (s *Server) Gateway() *gateway.Client {
	return s.gateway
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupMgr
}

// Start launches background work: the sync scheduler, scheduled backups
// and periodic maintenance.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.scheduler.Start(ctx)
	s.backupMgr.Start(ctx)

	go func() {
		defer close(done)
		go s.rateLimiter.RunCleanup(ctx, maintenanceEvery)

		ticker := time.NewTicker(maintenanceEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pruneBatches(ctx)
			}
		}
	}()
}

// Stop halts background work and waits for it to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.scheduler.Stop()
	s.backupMgr.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Server) pruneBatches(ctx context.Context) {
	n, err := s.batches.PruneCompleted(ctx, time.Now().Add(-batchRetention))
	if err != nil {
		s.logger.Warn("prune push batches", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("pruned push batches", "count", n)
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireToken(s.opts.APIToken, s.entries.UserID())
	outerMux.Handle("/", authMiddleware(protectedMux))

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	})

	return middleware.RequestLogger(s.logger.With("component", "http"))(c.Handler(outerMux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	version, err := database.SchemaVersion(r.Context(), s.db)
	if err != nil {
		s.logger.Error("health check", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"schema":    version,
		"remote":    s.gateway.Configured(),
		"scheduled": s.scheduler.Running(),
		"clients":   s.hub.ClientCount(),
	})
}

// rateLimitedHandler limits each client to pushRateLimit calls of the named
// route per window.
func (s *Server) rateLimitedHandler(route string, h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return route + ":" + middleware.ByIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, pushRateLimit, pushRateWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Diary
	mux.HandleFunc("GET /api/entries", s.diaryH.List)
	mux.HandleFunc("POST /api/entries", s.diaryH.Create)
	mux.HandleFunc("GET /api/entries/{id}", s.diaryH.Get)
	mux.HandleFunc("PUT /api/entries/{id}/analysis", s.diaryH.UpdateAnalysis)
	mux.HandleFunc("DELETE /api/entries/{id}", s.diaryH.Delete)
	mux.HandleFunc("GET /api/summary/{date}", s.diaryH.Summary)

	// Sync
	mux.HandleFunc("POST /api/sync/push", s.rateLimitedHandler("push", s.syncH.Push))
	mux.HandleFunc("POST /api/sync/pull", s.rateLimitedHandler("pull", s.syncH.Pull))
	mux.HandleFunc("GET /api/sync/status", s.syncH.Status)
	mux.HandleFunc("GET /api/history", s.syncH.History)

	// Backup
	mux.HandleFunc("GET /api/backup", s.backupH.Status)
	mux.HandleFunc("POST /api/backup", s.backupH.Run)
	mux.HandleFunc("GET /api/backups", s.backupH.List)
	mux.HandleFunc("POST /api/backup/restore", s.backupH.Restore)

	// Live feed
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.opts.CORSOrigins, s.logger.With("component", "websocket")))
}
