package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/agoraflux/chart-export/pkg/cron"
	"github.com/agoraflux/chart-export/pkg/export"
	"github.com/agoraflux/chart-export/pkg/history"
	"github.com/agoraflux/chart-export/pkg/mail"
	"github.com/agoraflux/chart-export/pkg/model"
	"github.com/agoraflux/chart-export/pkg/report"
	"github.com/agoraflux/chart-export/pkg/store"
)

// Handler handles HTTP API requests
type Handler struct {
	store     *store.Store
	scheduler *cron.Scheduler
	exporter  *export.Exporter
	history   *history.Store
	saver     export.Saver
	mux       *http.ServeMux
}

// NewHandler creates a new API handler
func NewHandler(st *store.Store, scheduler *cron.Scheduler, exporter *export.Exporter, hist *history.Store, saver export.Saver) *Handler {
	h := &Handler{
		store:     st,
		scheduler: scheduler,
		exporter:  exporter,
		history:   hist,
		saver:     saver,
		mux:       http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// registerRoutes registers all HTTP routes
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("/api/export", h.handleExport)
	h.mux.HandleFunc("/api/export/bulk", h.handleExportBulk)
	h.mux.HandleFunc("/api/exports", h.handleExports)
	h.mux.HandleFunc("/api/exports/", h.handleExportEntry)
	h.mux.HandleFunc("/api/notifications", h.handleNotifications)
	h.mux.HandleFunc("/api/templates", h.handleTemplates)
	h.mux.HandleFunc("/api/schedules", h.handleSchedules)
	h.mux.HandleFunc("/api/schedules/", h.handleSchedule)
	h.mux.HandleFunc("/api/settings", h.handleSettings)
	h.mux.HandleFunc("/api/smtp/test", h.handleSMTPTest)
	h.mux.HandleFunc("/api/artifacts/", h.handleArtifact)
	h.mux.HandleFunc("/api/health", h.handleHealth)
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleExport handles POST /api/export
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := model.ValidateExportRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := h.exporter.Export(r.Context(), req)
	respondJSON(w, result)
}

// handleExportBulk handles POST /api/export/bulk
func (h *Handler) handleExportBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.BulkExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := model.ValidateBulkRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results := h.exporter.ExportBulk(r.Context(), req)
	respondJSON(w, map[string]interface{}{"results": results})
}

// handleExports handles GET /api/exports, GET /api/exports/statistics and DELETE /api/exports
func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, map[string]interface{}{"exports": h.history.List()})

	case http.MethodDelete:
		h.history.Clear()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleExportEntry handles operations on a specific history entry
func (h *Handler) handleExportEntry(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/exports/")

	if rest == "statistics" && r.Method == http.MethodGet {
		respondJSON(w, h.history.Statistics())
		return
	}

	id := rest
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		entry, ok := h.history.Get(id)
		if !ok {
			http.Error(w, "Export not found", http.StatusNotFound)
			return
		}
		respondJSON(w, entry)

	case http.MethodDelete:
		if !h.history.Delete(id) {
			http.Error(w, "Export not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleNotifications handles GET /api/notifications
func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, map[string]interface{}{"notifications": h.history.RecentNotifications(0)})
}

// handleTemplates handles GET /api/templates
func (h *Handler) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, map[string]interface{}{"templates": report.BuiltinTemplates()})
}

// handleSchedules handles GET /api/schedules and POST /api/schedules
func (h *Handler) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		schedules, err := h.store.ListSchedules()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]interface{}{"schedules": schedules})

	case http.MethodPost:
		var schedule model.Schedule
		if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := h.validateScheduleRequest(&schedule); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Calculate and set next run time only if schedule is enabled
		if schedule.Enabled {
			nextRun := h.scheduler.CalculateNextRun(&schedule)
			schedule.NextRunAt = &nextRun
		} else {
			schedule.NextRunAt = nil
		}

		if err := h.store.CreateSchedule(&schedule); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		respondJSON(w, schedule)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// validateScheduleRequest validates a schedule payload, including the
// recipient domain allowlist from settings.
func (h *Handler) validateScheduleRequest(schedule *model.Schedule) error {
	if err := model.ValidateSchedule(schedule); err != nil {
		return err
	}

	if schedule.CronExpr != "" {
		if err := model.ValidateCronExpression(schedule.CronExpr); err != nil {
			return err
		}
	}

	settings, err := h.store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	if settings != nil {
		if err := model.ValidateRecipientDomains(schedule.Recipients, settings.Limits.AllowedDomains); err != nil {
			return err
		}
	}

	return nil
}

// handleSchedule handles operations on a specific schedule
func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	// Path format: /api/schedules/{id} or /api/schedules/{id}/run
	var scheduleID int64
	var action string
	if _, err := fmt.Sscanf(r.URL.Path, "/api/schedules/%d/%s", &scheduleID, &action); err != nil {
		if _, err := fmt.Sscanf(r.URL.Path, "/api/schedules/%d", &scheduleID); err != nil {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
	}

	if action == "run" && r.Method == http.MethodPost {
		schedule, err := h.store.GetSchedule(scheduleID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		h.scheduler.ExecuteSchedule(schedule)
		respondJSON(w, map[string]string{"status": "started"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		schedule, err := h.store.GetSchedule(scheduleID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		respondJSON(w, schedule)

	case http.MethodPut:
		var schedule model.Schedule
		if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		schedule.ID = scheduleID

		if err := h.validateScheduleRequest(&schedule); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Recalculate next run time only if schedule is enabled
		if schedule.Enabled {
			nextRun := h.scheduler.CalculateNextRun(&schedule)
			schedule.NextRunAt = &nextRun
		} else {
			schedule.NextRunAt = nil
		}

		if err := h.store.UpdateSchedule(&schedule); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		respondJSON(w, schedule)

	case http.MethodDelete:
		if err := h.store.DeleteSchedule(scheduleID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSettings handles settings operations
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.store.GetSettings()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if settings == nil {
			settings = defaultSettings()
		} else if settings.SMTPConfig == nil {
			settings.SMTPConfig = defaultSettings().SMTPConfig
		}
		respondJSON(w, settings)

	case http.MethodPost, http.MethodPut:
		var settings model.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := h.store.UpsertSettings(&settings); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Force the scheduler to pick up the new settings
		h.scheduler.ClearSettingsCache()

		respondJSON(w, settings)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func defaultSettings() *model.Settings {
	return &model.Settings{
		SMTPConfig: &model.SMTPConfig{
			Port:   587,
			UseTLS: true,
		},
		CaptureConfig: model.CaptureConfig{
			Backend:        "chromium",
			TimeoutMS:      30000,
			DelayMS:        1000,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			Headless:       true,
		},
		Limits: model.Limits{
			MaxRecipients:       50,
			MaxAttachmentSizeMB: 25,
			MaxConcurrentRuns:   2,
		},
	}
}

// handleSMTPTest handles POST /api/smtp/test
func (h *Handler) handleSMTPTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var smtpConfig model.SMTPConfig
	if err := json.NewDecoder(r.Body).Decode(&smtpConfig); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if smtpConfig.From == "" {
		respondJSON(w, map[string]interface{}{
			"success": false,
			"error":   "From address is required",
		})
		return
	}

	if err := mail.NewMailer(smtpConfig).TestConnection(); err != nil {
		respondJSON(w, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"host":    smtpConfig.Host,
			"port":    smtpConfig.Port,
		})
		return
	}

	respondJSON(w, map[string]interface{}{
		"success": true,
		"message": "Successfully connected to SMTP server",
		"host":    smtpConfig.Host,
		"port":    smtpConfig.Port,
		"tls":     smtpConfig.UseTLS,
	})
}

// handleArtifact handles GET /api/artifacts/{name}
func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Base(strings.TrimPrefix(r.URL.Path, "/api/artifacts/"))
	if name == "" || name == "." || name == "/" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	rc, err := h.saver.Open(name)
	if err != nil {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Count the download against the matching history entry
	for _, entry := range h.history.List() {
		if entry.FileName == name {
			h.history.IncrementDownload(entry.ID)
			break
		}
	}

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
	log.Printf("[API] Served artifact %s (%d bytes)", name, len(data))
}

// handleHealth handles GET /api/health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, map[string]interface{}{
		"status":  "ok",
		"backend": h.exporter != nil,
	})
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
