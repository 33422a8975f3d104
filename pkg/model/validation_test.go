package model

import (
	"strings"
	"testing"
)

func TestValidateExportRequest(t *testing.T) {
	el := &Element{URL: "http://localhost:3000/dashboard", Selector: "#chart-1"}
	data := &DataSet{Rows: []map[string]any{{"a": 1}}}

	tests := []struct {
		name    string
		req     ExportRequest
		wantErr string
	}{
		{
			name: "valid png",
			req:  ExportRequest{Title: "Participation", Element: el, Options: ExportOptions{Format: FormatPNG}},
		},
		{
			name: "valid csv",
			req:  ExportRequest{Title: "Participation", Data: data, Options: ExportOptions{Format: FormatCSV}},
		},
		{
			name:    "unknown format",
			req:     ExportRequest{Title: "x", Element: el, Options: ExportOptions{Format: "bmp"}},
			wantErr: "unsupported format",
		},
		{
			name:    "missing title",
			req:     ExportRequest{Element: el, Options: ExportOptions{Format: FormatPNG}},
			wantErr: "title is required",
		},
		{
			name:    "raster without element",
			req:     ExportRequest{Title: "x", Data: data, Options: ExportOptions{Format: FormatPDF}},
			wantErr: "requires an element",
		},
		{
			name:    "data without data set",
			req:     ExportRequest{Title: "x", Element: el, Options: ExportOptions{Format: FormatXLSX}},
			wantErr: "requires a data set",
		},
		{
			name:    "element missing selector",
			req:     ExportRequest{Title: "x", Element: &Element{URL: "http://x"}, Options: ExportOptions{Format: FormatPNG}},
			wantErr: "selector",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExportRequest(&tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBulkRequest(t *testing.T) {
	chart := ChartItem{ID: "c1", Title: "Budget", Element: &Element{URL: "http://x", Selector: "#c"}}

	if err := ValidateBulkRequest(&BulkExportRequest{Charts: []ChartItem{chart}, Format: FormatPNG}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateBulkRequest(&BulkExportRequest{Format: FormatPNG}); err == nil {
		t.Fatal("expected error for empty charts")
	}
	if err := ValidateBulkRequest(&BulkExportRequest{Charts: []ChartItem{chart}, Format: FormatPNG, CombinePDF: true}); err == nil {
		t.Fatal("expected error for combine_pdf with non-pdf format")
	}
	if err := ValidateBulkRequest(&BulkExportRequest{Charts: []ChartItem{chart}, Format: FormatPDF, CombinePDF: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithDefaults(t *testing.T) {
	o := ExportOptions{Format: FormatJPG}.WithDefaults()
	if o.Scale != 2 {
		t.Errorf("default scale = %v, want 2", o.Scale)
	}
	if o.Quality != 0.9 {
		t.Errorf("default quality = %v, want 0.9", o.Quality)
	}
	if o.BackgroundColor != "#ffffff" {
		t.Errorf("default background = %q", o.BackgroundColor)
	}

	o = ExportOptions{Format: FormatJPG, Scale: 1, Quality: 0.5}.WithDefaults()
	if o.Scale != 1 || o.Quality != 0.5 {
		t.Errorf("explicit values overridden: scale=%v quality=%v", o.Scale, o.Quality)
	}

	o = ExportOptions{Quality: 1.5}.WithDefaults()
	if o.Quality != 0.9 {
		t.Errorf("out-of-range quality = %v, want clamped to 0.9", o.Quality)
	}
}

func TestColumnOrder(t *testing.T) {
	d := &DataSet{Columns: []string{"b", "a"}, Rows: []map[string]any{{"a": 1, "b": 2}}}
	got := d.ColumnOrder()
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("explicit columns not honored: %v", got)
	}

	d = &DataSet{Rows: []map[string]any{{"b": 2, "a": 1}}}
	got = d.ColumnOrder()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("fallback order not sorted: %v", got)
	}

	d = &DataSet{}
	if got := d.ColumnOrder(); got != nil {
		t.Errorf("empty data set should have nil order, got %v", got)
	}
}

func TestValidateRecipientDomains(t *testing.T) {
	tests := []struct {
		name    string
		to      []string
		allowed []string
		wantErr bool
	}{
		{"empty allowlist permits all", []string{"a@anywhere.fr"}, nil, false},
		{"exact match", []string{"a@mairie.fr"}, []string{"mairie.fr"}, false},
		{"case insensitive", []string{"a@Mairie.FR"}, []string{"mairie.fr"}, false},
		{"wildcard subdomain", []string{"a@ville.mairie.fr"}, []string{"*.mairie.fr"}, false},
		{"wildcard matches apex", []string{"a@mairie.fr"}, []string{"*.mairie.fr"}, false},
		{"blocked domain", []string{"a@other.org"}, []string{"mairie.fr"}, true},
		{"invalid address", []string{"not-an-address"}, []string{"mairie.fr"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecipientDomains(Recipients{To: tt.to}, tt.allowed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	valid := Schedule{
		Name:         "monthly",
		Charts:       ChartList{{ID: "c1", Title: "Budget"}},
		IntervalType: "monthly",
		Recipients:   Recipients{To: []string{"a@mairie.fr"}},
	}
	if err := ValidateSchedule(&valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := valid
	s.IntervalType = "custom"
	s.CronExpr = "not a cron"
	if err := ValidateSchedule(&s); err == nil {
		t.Fatal("expected error for bad cron expression")
	}
	s.CronExpr = "0 8 1 * *"
	if err := ValidateSchedule(&s); err != nil {
		t.Fatalf("unexpected error for valid cron: %v", err)
	}

	s = valid
	s.Recipients = Recipients{}
	if err := ValidateSchedule(&s); err == nil {
		t.Fatal("expected error for missing recipients")
	}
}
