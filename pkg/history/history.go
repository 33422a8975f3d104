// Package history keeps an in-memory record of finished exports and the
// notification feed surfaced to the dashboard.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agoraflux/chart-export/pkg/model"
)

// Entry is one finished export.
type Entry struct {
	ID         string       `json:"id"`
	FileName   string       `json:"file_name"`
	Format     model.Format `json:"format"`
	ChartTitle string       `json:"chart_title"`
	SizeBytes  int64        `json:"size_bytes"`
	CreatedAt  time.Time    `json:"created_at"`
	Downloads  int          `json:"downloads"`
}

// Statistics aggregates the stored entries.
type Statistics struct {
	TotalExports       int                  `json:"total_exports"`
	TotalTransferredMB float64              `json:"total_data_transferred_mb"`
	AverageFileSize    float64              `json:"average_file_size"`
	ExportsByFormat    map[model.Format]int `json:"exports_by_format"`
	ExportsByChart     map[string]int       `json:"exports_by_chart"`
	PopularFormats     []model.Format       `json:"popular_formats"`
	ExportTrends       []DayCount           `json:"export_trends"`
	TopCharts          []ChartCount         `json:"top_charts"`
}

// DayCount is one day of the 7-day export trend.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ChartCount ranks a chart by export count.
type ChartCount struct {
	ChartTitle string `json:"chart_title"`
	Count      int    `json:"count"`
}

const notificationFeedSize = 50

// Store is a bounded in-memory export history. Safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	entries       []Entry
	notifications []model.ExportNotification
	maxEntries    int
	now           func() time.Time
}

// NewStore creates a store keeping at most maxEntries records; older
// records are evicted first. maxEntries <= 0 means unbounded.
func NewStore(maxEntries int) *Store {
	return &Store{maxEntries: maxEntries, now: time.Now}
}

// Record implements the exporter's history hook.
func (s *Store) Record(res model.ExportResult, format model.Format, title string) {
	if !res.Success {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{
		ID:         uuid.NewString(),
		FileName:   res.FileName,
		Format:     format,
		ChartTitle: title,
		SizeBytes:  res.FileSize,
		CreatedAt:  s.now(),
	})
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
}

// Notify appends a notification to the feed. Wired as a bus listener.
func (s *Store) Notify(n model.ExportNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	if len(s.notifications) > notificationFeedSize {
		s.notifications = s.notifications[len(s.notifications)-notificationFeedSize:]
	}
}

// List returns entries newest first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Delete removes one entry. Returns false when the id is unknown.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// IncrementDownload bumps an entry's download counter.
func (s *Store) IncrementDownload(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Downloads++
			return true
		}
	}
	return false
}

// RecentNotifications returns up to limit notifications, newest first.
func (s *Store) RecentNotifications(limit int) []model.ExportNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.notifications)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.ExportNotification, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.notifications[n-1-i]
	}
	return out
}

// Statistics aggregates the current entries.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		ExportsByFormat: make(map[model.Format]int),
		ExportsByChart:  make(map[string]int),
	}
	stats.TotalExports = len(s.entries)

	var totalBytes int64
	for _, e := range s.entries {
		totalBytes += e.SizeBytes
		stats.ExportsByFormat[e.Format]++
		stats.ExportsByChart[e.ChartTitle]++
	}
	stats.TotalTransferredMB = float64(totalBytes) / (1024 * 1024)
	if stats.TotalExports > 0 {
		stats.AverageFileSize = float64(totalBytes) / float64(stats.TotalExports)
	}

	for f := range stats.ExportsByFormat {
		stats.PopularFormats = append(stats.PopularFormats, f)
	}
	sort.Slice(stats.PopularFormats, func(i, j int) bool {
		fi, fj := stats.PopularFormats[i], stats.PopularFormats[j]
		if stats.ExportsByFormat[fi] != stats.ExportsByFormat[fj] {
			return stats.ExportsByFormat[fi] > stats.ExportsByFormat[fj]
		}
		return fi < fj
	})

	// Last 7 days, oldest first
	today := s.now().Truncate(24 * time.Hour)
	for d := 6; d >= 0; d-- {
		day := today.AddDate(0, 0, -d)
		count := 0
		for _, e := range s.entries {
			if e.CreatedAt.Truncate(24 * time.Hour).Equal(day) {
				count++
			}
		}
		stats.ExportTrends = append(stats.ExportTrends, DayCount{
			Date:  day.Format("2006-01-02"),
			Count: count,
		})
	}

	for title, count := range stats.ExportsByChart {
		stats.TopCharts = append(stats.TopCharts, ChartCount{ChartTitle: title, Count: count})
	}
	sort.Slice(stats.TopCharts, func(i, j int) bool {
		if stats.TopCharts[i].Count != stats.TopCharts[j].Count {
			return stats.TopCharts[i].Count > stats.TopCharts[j].Count
		}
		return stats.TopCharts[i].ChartTitle < stats.TopCharts[j].ChartTitle
	})
	if len(stats.TopCharts) > 5 {
		stats.TopCharts = stats.TopCharts[:5]
	}

	return stats
}
