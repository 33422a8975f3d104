package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agoraflux/chart-export/pkg/bus"
	"github.com/agoraflux/chart-export/pkg/cron"
	"github.com/agoraflux/chart-export/pkg/export"
	"github.com/agoraflux/chart-export/pkg/history"
	"github.com/agoraflux/chart-export/pkg/model"
	"github.com/agoraflux/chart-export/pkg/store"
)

type stubBackend struct{}

func (b *stubBackend) CaptureElement(ctx context.Context, el *model.Element, opts model.CaptureOptions) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{30, 80, 160, 255})
		}
	}
	return img, nil
}

func (b *stubBackend) Close() error { return nil }
func (b *stubBackend) Name() string { return "stub" }

func newTestHandler(t *testing.T) (*Handler, *export.MemSaver, *history.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "api_test.db")
	st, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eventBus := bus.New()
	saver := export.NewMemSaver()
	exporter := export.New(&stubBackend{}, eventBus, saver)

	hist := history.NewStore(100)
	exporter.SetRecorder(hist)
	eventBus.OnNotification(hist.Notify)

	scheduler := cron.NewScheduler(st, exporter, saver, 2)

	return NewHandler(st, scheduler, exporter, hist, saver), saver, hist
}

func doJSON(t *testing.T, h http.Handler, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, url, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
}

func TestExportEndpoint(t *testing.T) {
	h, saver, hist := newTestHandler(t)

	req := model.ExportRequest{
		Title: "Budget par quartier",
		Element: &model.Element{
			URL:      "http://dashboard.local/projets/1",
			Selector: "#chart-budget",
		},
		Options: model.ExportOptions{Format: model.FormatPNG},
	}

	rec := doJSON(t, h, http.MethodPost, "/api/export", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result model.ExportResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected successful export, got error: %s", result.Error)
	}
	if !strings.HasPrefix(result.FileName, "budget_par_quartier_") {
		t.Errorf("Unexpected filename: %s", result.FileName)
	}

	if len(saver.Names()) != 1 {
		t.Errorf("Expected 1 saved artifact, got %d", len(saver.Names()))
	}
	if len(hist.List()) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(hist.List()))
	}
}

func TestExportEndpointValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := model.ExportRequest{
		Title:   "Sans source",
		Options: model.ExportOptions{Format: model.FormatPNG},
	}

	rec := doJSON(t, h, http.MethodPost, "/api/export", req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for request without element, got %d", rec.Code)
	}
}

func TestExportBulkEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := model.BulkExportRequest{
		Charts: []model.ChartItem{
			{Title: "Budget", Element: &model.Element{URL: "http://dashboard.local/p/1", Selector: "#c1"}},
			{Title: "Participation", Element: &model.Element{URL: "http://dashboard.local/p/1", Selector: "#c2"}},
		},
		Format: model.FormatPNG,
	}

	rec := doJSON(t, h, http.MethodPost, "/api/export/bulk", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []model.ExportResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(resp.Results))
	}
	for i, res := range resp.Results {
		if !res.Success {
			t.Errorf("Result %d failed: %s", i, res.Error)
		}
	}
}

func TestArtifactDownload(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := model.ExportRequest{
		Title: "Participation mensuelle",
		Element: &model.Element{
			URL:      "http://dashboard.local/projets/2",
			Selector: "#chart-participation",
		},
		Options: model.ExportOptions{Format: model.FormatPNG},
	}

	rec := doJSON(t, h, http.MethodPost, "/api/export", req)
	var result model.ExportResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/artifacts/"+result.FileName, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), result.FileName) {
		t.Errorf("Content-Disposition should name the file, got %s", rec.Header().Get("Content-Disposition"))
	}

	// Download counter incremented on the matching history entry
	rec = doJSON(t, h, http.MethodGet, "/api/exports", nil)
	var listResp struct {
		Exports []history.Entry `json:"exports"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(listResp.Exports) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(listResp.Exports))
	}
	if listResp.Exports[0].Downloads != 1 {
		t.Errorf("Expected 1 download, got %d", listResp.Exports[0].Downloads)
	}
}

func TestArtifactNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/artifacts/missing.pdf", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/templates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Templates []model.ReportTemplate `json:"templates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(resp.Templates) == 0 {
		t.Fatal("Expected builtin templates")
	}

	found := false
	for _, tpl := range resp.Templates {
		if tpl.ID == "monthly-summary" {
			found = true
		}
	}
	if !found {
		t.Error("Expected monthly-summary template")
	}
}

func TestScheduleCRUD(t *testing.T) {
	h, _, _ := newTestHandler(t)

	schedule := model.Schedule{
		Name:  "Rapport mensuel budget",
		Title: "Budget participatif",
		Charts: model.ChartList{
			{Title: "Budget", Element: &model.Element{URL: "http://dashboard.local/p/1", Selector: "#c1"}},
		},
		IntervalType: "monthly",
		Timezone:     "Europe/Paris",
		Recipients:   model.Recipients{To: []string{"elus@ville.example.org"}},
		Enabled:      true,
	}

	rec := doJSON(t, h, http.MethodPost, "/api/schedules", schedule)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var created model.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("Expected assigned schedule ID")
	}
	if created.NextRunAt == nil {
		t.Error("Enabled schedule should have next run time set")
	}

	// Update
	created.Name = "Rapport mensuel budget v2"
	created.Enabled = false
	rec = doJSON(t, h, http.MethodPut, fmt.Sprintf("/api/schedules/%d", created.ID), created)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated model.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if updated.NextRunAt != nil {
		t.Error("Disabled schedule should not have next run time")
	}

	// Get
	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/schedules/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on get, got %d", rec.Code)
	}
	var fetched model.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if fetched.Name != "Rapport mensuel budget v2" {
		t.Errorf("Expected updated name, got %s", fetched.Name)
	}

	// Delete
	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/schedules/%d", created.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 on delete, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/schedules", nil)
	var listResp struct {
		Schedules []model.Schedule `json:"schedules"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(listResp.Schedules) != 0 {
		t.Errorf("Expected no schedules after delete, got %d", len(listResp.Schedules))
	}
}

func TestScheduleValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	// Missing charts
	schedule := model.Schedule{
		Name:         "Vide",
		IntervalType: "daily",
		Recipients:   model.Recipients{To: []string{"a@example.org"}},
	}
	rec := doJSON(t, h, http.MethodPost, "/api/schedules", schedule)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for schedule without charts, got %d", rec.Code)
	}

	// Invalid cron expression
	schedule = model.Schedule{
		Name:  "Cron invalide",
		Title: "x",
		Charts: model.ChartList{
			{Title: "c", Element: &model.Element{URL: "http://x", Selector: "#c"}},
		},
		IntervalType: "custom",
		CronExpr:     "not a cron",
		Recipients:   model.Recipients{To: []string{"a@example.org"}},
	}
	rec = doJSON(t, h, http.MethodPost, "/api/schedules", schedule)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid cron expression, got %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	h, _, _ := newTestHandler(t)

	// Defaults served before anything is stored
	rec := doJSON(t, h, http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var defaults model.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &defaults); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if defaults.CaptureConfig.ViewportWidth != 1920 {
		t.Errorf("Expected default viewport width 1920, got %d", defaults.CaptureConfig.ViewportWidth)
	}

	settings := model.Settings{
		SMTPConfig: &model.SMTPConfig{
			Host: "smtp.ville.example.org",
			Port: 587,
			From: "rapports@ville.example.org",
		},
		CaptureConfig: model.CaptureConfig{
			TimeoutMS:      45000,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		Limits: model.Limits{MaxRecipients: 20},
	}

	rec = doJSON(t, h, http.MethodPost, "/api/settings", settings)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on save, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/settings", nil)
	var stored model.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if stored.SMTPConfig == nil || stored.SMTPConfig.Host != "smtp.ville.example.org" {
		t.Errorf("Expected stored SMTP host, got %+v", stored.SMTPConfig)
	}
	if stored.CaptureConfig.TimeoutMS != 45000 {
		t.Errorf("Expected stored timeout 45000, got %d", stored.CaptureConfig.TimeoutMS)
	}
}

func TestExportsHistoryEndpoints(t *testing.T) {
	h, _, hist := newTestHandler(t)

	req := model.ExportRequest{
		Title: "Projets en cours",
		Element: &model.Element{
			URL:      "http://dashboard.local/projets",
			Selector: "#chart-projets",
		},
		Options: model.ExportOptions{Format: model.FormatPNG},
	}
	doJSON(t, h, http.MethodPost, "/api/export", req)

	entries := hist.List()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(entries))
	}

	// Statistics
	rec := doJSON(t, h, http.MethodGet, "/api/exports/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var stats history.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if stats.TotalExports != 1 {
		t.Errorf("Expected 1 total export, got %d", stats.TotalExports)
	}

	// Delete single entry
	rec = doJSON(t, h, http.MethodDelete, "/api/exports/"+entries[0].ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if len(hist.List()) != 0 {
		t.Error("Expected empty history after delete")
	}

	// Clear all
	doJSON(t, h, http.MethodPost, "/api/export", req)
	rec = doJSON(t, h, http.MethodDelete, "/api/exports", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if len(hist.List()) != 0 {
		t.Error("Expected empty history after clear")
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := model.ExportRequest{
		Title: "Budget",
		Element: &model.Element{
			URL:      "http://dashboard.local/p/1",
			Selector: "#c1",
		},
		Options: model.ExportOptions{Format: model.FormatPNG},
	}
	doJSON(t, h, http.MethodPost, "/api/export", req)

	rec := doJSON(t, h, http.MethodGet, "/api/notifications", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Notifications []model.ExportNotification `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(resp.Notifications) == 0 {
		t.Error("Expected at least one notification after export")
	}
}
