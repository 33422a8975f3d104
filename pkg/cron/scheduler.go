package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/robfig/cron/v3"

	"github.com/agoraflux/chart-export/pkg/export"
	"github.com/agoraflux/chart-export/pkg/mail"
	"github.com/agoraflux/chart-export/pkg/model"
	"github.com/agoraflux/chart-export/pkg/store"
)

// Scheduler runs scheduled report exports.
type Scheduler struct {
	store      *store.Store
	cron       *cron.Cron
	exporter   *export.Exporter
	saver      export.Saver
	workerPool chan struct{}
	baseCtx    context.Context

	settingsCache *model.Settings
	cacheMutex    sync.RWMutex // Protects settingsCache
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(st *store.Store, exporter *export.Exporter, saver export.Saver, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Scheduler{
		store:      st,
		cron:       cron.New(cron.WithSeconds()),
		exporter:   exporter,
		saver:      saver,
		workerPool: make(chan struct{}, maxConcurrent),
		baseCtx:    context.Background(),
	}
}

// SetContext sets the base context used for background executions.
func (s *Scheduler) SetContext(ctx context.Context) {
	s.baseCtx = ctx
}

// Start starts the scheduler.
func (s *Scheduler) Start() error {
	// Check for due schedules every minute at second 0
	cronExpr := "0 * * * * *"
	entryID, err := s.cron.AddFunc(cronExpr, s.checkDueSchedules)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	log.Printf("[CRON] Scheduler started with cron expression '%s' (entry ID: %d)", cronExpr, entryID)

	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[CRON] Scheduler stopped")
}

// getCachedSettings retrieves service settings, using the cache when possible.
func (s *Scheduler) getCachedSettings() (*model.Settings, error) {
	s.cacheMutex.RLock()
	cached := s.settingsCache
	s.cacheMutex.RUnlock()

	if cached != nil {
		return cached, nil
	}

	log.Printf("[CACHE] Settings cache miss, fetching from database")
	settings, err := s.store.GetSettings()
	if err != nil {
		return nil, err
	}

	if settings != nil {
		s.cacheMutex.Lock()
		s.settingsCache = settings
		s.cacheMutex.Unlock()
	}

	return settings, nil
}

// ClearSettingsCache forces the next execution to reload settings from the database.
func (s *Scheduler) ClearSettingsCache() {
	s.cacheMutex.Lock()
	s.settingsCache = nil
	s.cacheMutex.Unlock()
	log.Printf("[CACHE] Settings cache cleared")
}

// checkDueSchedules checks for schedules that are due and executes them.
func (s *Scheduler) checkDueSchedules() {
	schedules, err := s.store.GetDueSchedules()
	if err != nil {
		log.Printf("[CRON] ERROR: failed to get due schedules: %v", err)
		return
	}

	if len(schedules) == 0 {
		return
	}

	log.Printf("[CRON] Found %d due schedule(s)", len(schedules))
	for _, schedule := range schedules {
		log.Printf("[CRON] Processing schedule ID=%d, Name='%s', NextRunAt=%v",
			schedule.ID, schedule.Name, schedule.NextRunAt)

		// Update next run time immediately to prevent duplicate execution
		nextRun := s.calculateNextRun(schedule)
		schedule.NextRunAt = &nextRun

		if err := s.store.UpdateSchedule(schedule); err != nil {
			log.Printf("[CRON] ERROR: failed to update schedule %d next run time: %v", schedule.ID, err)
			continue
		}

		go s.executeSchedule(schedule)
	}
}

// ExecuteSchedule executes a schedule immediately (for manual runs).
func (s *Scheduler) ExecuteSchedule(schedule *model.Schedule) {
	go s.executeSchedule(schedule)
}

// executeSchedule executes a single schedule.
func (s *Scheduler) executeSchedule(schedule *model.Schedule) {
	log.Printf("[EXECUTE] Starting execution for schedule ID=%d, Name='%s'", schedule.ID, schedule.Name)

	// Acquire worker slot
	s.workerPool <- struct{}{}
	defer func() { <-s.workerPool }()

	startedAt := time.Now()

	if err := s.executeScheduleOnce(schedule); err != nil {
		log.Printf("[EXECUTE] Schedule %d execution failed: %v", schedule.ID, err)
	}

	schedule.LastRunAt = &startedAt
	if err := s.store.UpdateSchedule(schedule); err != nil {
		log.Printf("[EXECUTE] Failed to update schedule last run time: %v", err)
	}
}

// executeScheduleOnce generates the combined report for a schedule and
// delivers it by email when SMTP is configured.
func (s *Scheduler) executeScheduleOnce(schedule *model.Schedule) error {
	ctx := s.baseCtx

	settings, err := s.getCachedSettings()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	req := model.BulkExportRequest{
		Charts:     schedule.Charts,
		Format:     model.FormatPDF,
		CombinePDF: true,
		Options: model.ExportOptions{
			Format:      model.FormatPDF,
			CustomTitle: schedule.Title,
			Timestamp:   true,
		},
	}

	results := s.exporter.ExportBulk(ctx, req)
	if len(results) == 0 {
		return fmt.Errorf("export produced no result")
	}
	if !results[0].Success {
		return fmt.Errorf("export failed: %s", results[0].Error)
	}

	filename := results[0].FileName
	log.Printf("[EXECUTE] Schedule %d generated report %s (%d bytes)", schedule.ID, filename, results[0].FileSize)

	// Email delivery is optional, the artifact is already saved
	if settings == nil || settings.SMTPConfig == nil {
		log.Printf("[EXECUTE] SMTP not configured, report %s available for download", filename)
		return nil
	}

	rc, err := s.saver.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", filename, err)
	}
	reportData, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", filename, err)
	}

	mailer := mail.NewMailer(*settings.SMTPConfig)

	vars := map[string]string{
		"schedule.name": schedule.Name,
		"report.title":  schedule.Title,
		"date":          time.Now().Format("02/01/2006"),
	}

	subject := mail.InterpolateTemplate(schedule.EmailSubject, vars)
	body := mail.InterpolateTemplate(schedule.EmailBody, vars)
	if subject == "" {
		subject = fmt.Sprintf("Rapport AgoraFlux : %s", schedule.Title)
	}

	// Email failure does not fail the run, the report stays downloadable
	if err := mailer.SendReport(schedule.Recipients, subject, body, reportData, filename); err != nil {
		log.Printf("[EXECUTE] Failed to send email for schedule %d: %v (report %s available for download)",
			schedule.ID, err, filename)
		return nil
	}

	log.Printf("[EXECUTE] Email sent for schedule %d to %d recipient(s)", schedule.ID, len(schedule.Recipients.To))
	return nil
}

// CalculateNextRun calculates the next run time for a schedule (exported for use in handlers).
func (s *Scheduler) CalculateNextRun(schedule *model.Schedule) time.Time {
	return s.calculateNextRun(schedule)
}

// calculateNextRun calculates the next run time for a schedule.
func (s *Scheduler) calculateNextRun(schedule *model.Schedule) time.Time {
	// Load the schedule's timezone (default to UTC if not set or invalid)
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		log.Printf("[CRON] Failed to load timezone %s for schedule %d: %v, using UTC", schedule.Timezone, schedule.ID, err)
		loc = time.UTC
	}

	now := time.Now().In(loc)

	// Auto-generate cron expression from interval_type if not set
	cronExpression := schedule.CronExpr
	if cronExpression == "" {
		switch schedule.IntervalType {
		case "daily":
			cronExpression = "0 0 * * *" // Every day at midnight
		case "weekly":
			cronExpression = "0 0 * * 1" // Every Monday at midnight
		case "monthly":
			cronExpression = "0 0 1 * *" // First day of month at midnight
		default:
			cronExpression = "0 0 * * *"
		}
	}

	expr, err := cronexpr.Parse(cronExpression)
	if err != nil {
		log.Printf("[CRON] Failed to parse cron expression '%s' for schedule %d: %v, falling back to 1 hour",
			cronExpression, schedule.ID, err)
		nextRun := now.Add(1 * time.Hour)
		return nextRun.UTC().Truncate(time.Second)
	}

	// Next occurrence in the schedule's timezone, stored in UTC
	nextRun := expr.Next(now)
	return nextRun.UTC().Truncate(time.Second)
}
