package history

import (
	"testing"
	"time"

	"github.com/agoraflux/chart-export/pkg/model"
)

func record(s *Store, title string, format model.Format, size int64) {
	s.Record(model.ExportResult{Success: true, FileName: "f", FileSize: size}, format, title)
}

func TestRecordAndList(t *testing.T) {
	s := NewStore(0)
	record(s, "Budget", model.FormatPNG, 1000)
	record(s, "Participation", model.FormatCSV, 2000)

	entries := s.List()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first
	if entries[0].ChartTitle != "Participation" {
		t.Errorf("first entry = %q, want newest", entries[0].ChartTitle)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Error("entries lack unique ids")
	}
}

func TestFailedResultNotRecorded(t *testing.T) {
	s := NewStore(0)
	s.Record(model.ExportResult{Success: false, Error: "boom"}, model.FormatPNG, "t")
	if len(s.List()) != 0 {
		t.Error("failed export recorded in history")
	}
}

func TestEviction(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		record(s, "chart", model.FormatPNG, 100)
	}
	if got := len(s.List()); got != 3 {
		t.Errorf("got %d entries after eviction, want 3", got)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := NewStore(0)
	record(s, "a", model.FormatPNG, 1)
	record(s, "b", model.FormatPNG, 1)

	id := s.List()[0].ID
	if !s.Delete(id) {
		t.Fatal("Delete returned false for known id")
	}
	if s.Delete("missing") {
		t.Error("Delete returned true for unknown id")
	}
	if len(s.List()) != 1 {
		t.Fatalf("got %d entries after delete", len(s.List()))
	}

	s.Clear()
	if len(s.List()) != 0 {
		t.Error("entries remain after Clear")
	}
}

func TestIncrementDownload(t *testing.T) {
	s := NewStore(0)
	record(s, "a", model.FormatPNG, 1)
	id := s.List()[0].ID

	if !s.IncrementDownload(id) {
		t.Fatal("IncrementDownload returned false")
	}
	e, _ := s.Get(id)
	if e.Downloads != 1 {
		t.Errorf("downloads = %d, want 1", e.Downloads)
	}
}

func TestNotificationFeed(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 60; i++ {
		s.Notify(model.ExportNotification{ID: string(rune('a' + i%26)), Timestamp: time.Now()})
	}
	recent := s.RecentNotifications(10)
	if len(recent) != 10 {
		t.Fatalf("got %d notifications, want 10", len(recent))
	}
	all := s.RecentNotifications(0)
	if len(all) != notificationFeedSize {
		t.Errorf("feed holds %d, want bounded at %d", len(all), notificationFeedSize)
	}
}

func TestStatistics(t *testing.T) {
	s := NewStore(0)
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	record(s, "Budget", model.FormatPNG, 1024*1024)
	record(s, "Budget", model.FormatPNG, 1024*1024)
	record(s, "Participation", model.FormatCSV, 512*1024)

	stats := s.Statistics()
	if stats.TotalExports != 3 {
		t.Errorf("total = %d", stats.TotalExports)
	}
	if stats.TotalTransferredMB != 2.5 {
		t.Errorf("transferred = %v MB, want 2.5", stats.TotalTransferredMB)
	}
	if stats.ExportsByFormat[model.FormatPNG] != 2 || stats.ExportsByFormat[model.FormatCSV] != 1 {
		t.Errorf("by format = %v", stats.ExportsByFormat)
	}
	if len(stats.PopularFormats) == 0 || stats.PopularFormats[0] != model.FormatPNG {
		t.Errorf("popular formats = %v", stats.PopularFormats)
	}
	if len(stats.TopCharts) == 0 || stats.TopCharts[0].ChartTitle != "Budget" {
		t.Errorf("top charts = %v", stats.TopCharts)
	}
	if len(stats.ExportTrends) != 7 {
		t.Fatalf("trends cover %d days, want 7", len(stats.ExportTrends))
	}
	if stats.ExportTrends[6].Count != 3 {
		t.Errorf("today's trend count = %d, want 3", stats.ExportTrends[6].Count)
	}
}

func TestStatisticsEmpty(t *testing.T) {
	s := NewStore(0)
	stats := s.Statistics()
	if stats.TotalExports != 0 || stats.AverageFileSize != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
	if len(stats.ExportTrends) != 7 {
		t.Errorf("trends cover %d days, want 7", len(stats.ExportTrends))
	}
}
