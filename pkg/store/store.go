// Package store persists report schedules and service settings in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite" // Register SQLite driver

	"github.com/agoraflux/chart-export/pkg/model"
)

// parseTimestamp parses a timestamp string from SQLite, handling multiple
// formats:
// - "2006-01-02 15:04:05" (UTC, no timezone)
// - "2006-01-02 15:04:05 +0300 EEST" (with timezone)
// - RFC 3339
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05 -0700 MST",
		"2006-01-02 15:04:05 -0700",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return &t
		}
	}

	log.Printf("[STORE] WARNING: failed to parse timestamp: %s", s)
	return nil
}

// Store handles database operations
type Store struct {
	db         *sql.DB
	writeQueue *writeQueue
}

// NewStore creates a new store instance
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode allows concurrent readers with a single writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	log.Println("[STORE] SQLite configured: WAL mode, busy_timeout=5000ms, single writer connection")

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store.writeQueue = newWriteQueue(store)
	return store, nil
}

// migrate runs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			template_id TEXT,
			title TEXT NOT NULL,
			charts TEXT NOT NULL,
			interval_type TEXT NOT NULL,
			cron_expr TEXT,
			timezone TEXT NOT NULL,
			recipients TEXT NOT NULL,
			email_subject TEXT NOT NULL,
			email_body TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at DATETIME,
			next_run_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run_at ON schedules(next_run_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			smtp_config TEXT,
			capture_config TEXT NOT NULL,
			limits TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// Backfill cron_expr for rows created before custom intervals existed
		`UPDATE schedules
		 SET cron_expr = CASE
			WHEN interval_type = 'daily' THEN '0 0 * * *'
			WHEN interval_type = 'weekly' THEN '0 0 * * 1'
			WHEN interval_type = 'monthly' THEN '0 0 1 * *'
			ELSE '0 0 * * *'
		 END
		 WHERE (cron_expr IS NULL OR cron_expr = '') AND interval_type != 'custom'`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateSchedule creates a new schedule (queued for serialized execution)
func (s *Store) CreateSchedule(schedule *model.Schedule) error {
	return s.writeQueue.enqueue(opCreateSchedule, schedule)
}

// createScheduleDirect creates a new schedule (direct database access, called by write queue)
func (s *Store) createScheduleDirect(schedule *model.Schedule) error {
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	result, err := s.db.Exec(`
		INSERT INTO schedules (
			name, template_id, title, charts, interval_type, cron_expr, timezone,
			recipients, email_subject, email_body, enabled, next_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.Name, schedule.TemplateID, schedule.Title, schedule.Charts,
		schedule.IntervalType, schedule.CronExpr, schedule.Timezone,
		schedule.Recipients, schedule.EmailSubject, schedule.EmailBody,
		schedule.Enabled, sqliteTime(schedule.NextRunAt), now, now,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	schedule.ID = id
	return nil
}

const scheduleColumns = `id, name, template_id, title, charts, interval_type, cron_expr,
	timezone, recipients, email_subject, email_body, enabled, last_run_at, next_run_at,
	created_at, updated_at`

func scanSchedule(scan func(dest ...any) error) (*model.Schedule, error) {
	schedule := &model.Schedule{}
	var templateID, cronExpr sql.NullString
	var lastRunAtStr, nextRunAtStr sql.NullString

	err := scan(
		&schedule.ID, &schedule.Name, &templateID, &schedule.Title, &schedule.Charts,
		&schedule.IntervalType, &cronExpr, &schedule.Timezone, &schedule.Recipients,
		&schedule.EmailSubject, &schedule.EmailBody, &schedule.Enabled,
		&lastRunAtStr, &nextRunAtStr, &schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.TemplateID = templateID.String
	schedule.CronExpr = cronExpr.String
	if lastRunAtStr.Valid {
		schedule.LastRunAt = parseTimestamp(lastRunAtStr.String)
	}
	if nextRunAtStr.Valid {
		schedule.NextRunAt = parseTimestamp(nextRunAtStr.String)
	}
	return schedule, nil
}

// GetSchedule retrieves a schedule by ID
func (s *Store) GetSchedule(id int64) (*model.Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule not found")
	}
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

// ListSchedules retrieves all schedules
func (s *Store) ListSchedules() ([]*model.Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := make([]*model.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// UpdateSchedule updates an existing schedule (queued for serialized execution)
func (s *Store) UpdateSchedule(schedule *model.Schedule) error {
	return s.writeQueue.enqueue(opUpdateSchedule, schedule)
}

// updateScheduleDirect updates an existing schedule (direct database access, called by write queue)
func (s *Store) updateScheduleDirect(schedule *model.Schedule) error {
	schedule.UpdatedAt = time.Now()

	_, err := s.db.Exec(`
		UPDATE schedules SET
			name = ?, template_id = ?, title = ?, charts = ?, interval_type = ?,
			cron_expr = ?, timezone = ?, recipients = ?, email_subject = ?,
			email_body = ?, enabled = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		schedule.Name, schedule.TemplateID, schedule.Title, schedule.Charts,
		schedule.IntervalType, schedule.CronExpr, schedule.Timezone,
		schedule.Recipients, schedule.EmailSubject, schedule.EmailBody, schedule.Enabled,
		sqliteTime(schedule.LastRunAt), sqliteTime(schedule.NextRunAt),
		schedule.UpdatedAt, schedule.ID,
	)
	return err
}

// DeleteSchedule deletes a schedule (queued for serialized execution)
func (s *Store) DeleteSchedule(id int64) error {
	return s.writeQueue.enqueue(opDeleteSchedule, id)
}

// deleteScheduleDirect deletes a schedule (direct database access, called by write queue)
func (s *Store) deleteScheduleDirect(id int64) error {
	_, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id)
	return err
}

// GetDueSchedules retrieves enabled schedules whose next run is due
func (s *Store) GetDueSchedules() ([]*model.Schedule, error) {
	now := time.Now().UTC().Format("2006-01-02 15:04:05")

	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE enabled = 1 AND (next_run_at IS NULL OR datetime(next_run_at) <= datetime(?))
		ORDER BY next_run_at ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := make([]*model.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// GetSettings retrieves the service settings. Returns nil when none are
// stored yet.
func (s *Store) GetSettings() (*model.Settings, error) {
	settings := &model.Settings{}
	err := s.db.QueryRow(`
		SELECT id, smtp_config, capture_config, limits, created_at, updated_at
		FROM settings WHERE id = 1`,
	).Scan(
		&settings.ID, &settings.SMTPConfig, &settings.CaptureConfig,
		&settings.Limits, &settings.CreatedAt, &settings.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// UpsertSettings creates or updates settings (queued for serialized execution)
func (s *Store) UpsertSettings(settings *model.Settings) error {
	return s.writeQueue.enqueue(opUpsertSettings, settings)
}

// upsertSettingsDirect creates or updates settings (direct database access, called by write queue)
func (s *Store) upsertSettingsDirect(settings *model.Settings) error {
	now := time.Now()
	settings.UpdatedAt = now

	existing, err := s.GetSettings()
	if err != nil {
		return err
	}

	if existing == nil {
		settings.ID = 1
		settings.CreatedAt = now
		_, err = s.db.Exec(`
			INSERT INTO settings (id, smtp_config, capture_config, limits, created_at, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)`,
			settings.SMTPConfig, settings.CaptureConfig, settings.Limits,
			settings.CreatedAt, settings.UpdatedAt,
		)
		return err
	}

	settings.ID = 1
	settings.CreatedAt = existing.CreatedAt
	_, err = s.db.Exec(`
		UPDATE settings SET smtp_config = ?, capture_config = ?, limits = ?, updated_at = ?
		WHERE id = 1`,
		settings.SMTPConfig, settings.CaptureConfig, settings.Limits, settings.UpdatedAt,
	)
	return err
}

// sqliteTime formats an optional time for SQLite without a timezone suffix.
func sqliteTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Close closes the database connection and shuts down the write queue
func (s *Store) Close() error {
	// Shut down the write queue first so pending writes complete
	if s.writeQueue != nil {
		s.writeQueue.shutdown()
	}
	return s.db.Close()
}
