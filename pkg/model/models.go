package model

import (
	"database/sql/driver"
	"encoding/json"
	"sort"
	"time"
)

// Format identifies an export output format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPG  Format = "jpg"
	FormatPDF  Format = "pdf"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// IsRaster reports whether the format is produced from a captured element.
func (f Format) IsRaster() bool {
	return f == FormatPNG || f == FormatJPG || f == FormatPDF
}

// IsData reports whether the format is produced from structured data.
func (f Format) IsData() bool {
	return f == FormatCSV || f == FormatJSON || f == FormatXLSX
}

// Known reports whether the format is part of the recognized enumeration.
func (f Format) Known() bool {
	return f.IsRaster() || f.IsData()
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Orientation of a PDF page.
type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// Dimensions holds explicit capture dimensions in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ExportOptions controls a single export. Quality is only meaningful for
// jpg, Orientation only for pdf.
type ExportOptions struct {
	Format            Format      `json:"format"`
	Scale             float64     `json:"scale,omitempty"`
	Quality           float64     `json:"quality,omitempty"`
	IncludeMetadata   bool        `json:"include_metadata"`
	IncludeWatermark  bool        `json:"include_watermark"`
	BackgroundColor   string      `json:"background_color,omitempty"`
	Orientation       Orientation `json:"orientation,omitempty"`
	Dimensions        *Dimensions `json:"dimensions,omitempty"`
	CustomTitle       string      `json:"custom_title,omitempty"`
	CustomDescription string      `json:"custom_description,omitempty"`
	Author            string      `json:"author,omitempty"`
	Timestamp         bool        `json:"timestamp"`
}

// WithDefaults returns a copy of the options with default values filled in.
func (o ExportOptions) WithDefaults() ExportOptions {
	if o.Scale <= 0 {
		o.Scale = 2
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = 0.9
	}
	if o.BackgroundColor == "" {
		o.BackgroundColor = "#ffffff"
	}
	return o
}

// Element addresses a renderable chart node: the page that hosts it and the
// CSS selector that locates it within the page.
type Element struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

// DataSet is the structured value behind data-family exports. Rows are
// records keyed by column name; when Columns is empty the column order is
// derived from the first row in sorted key order.
type DataSet struct {
	Columns []string         `json:"columns,omitempty"`
	Rows    []map[string]any `json:"rows"`
}

// ColumnOrder resolves the effective column order for tabular output.
func (d *DataSet) ColumnOrder() []string {
	if len(d.Columns) > 0 {
		return d.Columns
	}
	if len(d.Rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(d.Rows[0]))
	for k := range d.Rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// ExportRequest describes one export. Exactly one of Element/Data must be
// set, matching the format family.
type ExportRequest struct {
	Element *Element      `json:"element,omitempty"`
	Data    *DataSet      `json:"data,omitempty"`
	Title   string        `json:"title"`
	Options ExportOptions `json:"options"`
}

// ExportResult is the outcome of one export attempt.
type ExportResult struct {
	Success    bool   `json:"success"`
	FileName   string `json:"file_name,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Progress step tokens.
const (
	StepInit     = "init"
	StepCapture  = "capture"
	StepProcess  = "process"
	StepLayout   = "layout"
	StepEncode   = "encode"
	StepSave     = "save"
	StepComplete = "complete"
)

// ExportProgress is one progress tick of a running export. Progress is
// 0-100 and non-decreasing within a single attempt.
type ExportProgress struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// NotificationType classifies a terminal notification.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
)

// ExportNotification is surfaced once per terminal outcome of an export
// attempt or batch.
type ExportNotification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Timestamp  time.Time        `json:"timestamp"`
	AutoHide   bool             `json:"auto_hide"`
	DurationMS int              `json:"duration_ms,omitempty"`
}

// ChartItem is one entry of a bulk export.
type ChartItem struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Element *Element `json:"element,omitempty"`
	Data    *DataSet `json:"data,omitempty"`
}

// BulkExportRequest describes a batch of exports sharing one format and one
// set of options. CombinePDF only takes effect when Format is pdf;
// ZipArchive is only considered when CombinePDF is not in effect.
type BulkExportRequest struct {
	Charts     []ChartItem   `json:"charts"`
	Format     Format        `json:"format"`
	Options    ExportOptions `json:"options"`
	CombinePDF bool          `json:"combine_pdf"`
	ZipArchive bool          `json:"zip_archive"`
}

// CaptureOptions are the per-call rendering options handed to a capture
// backend.
type CaptureOptions struct {
	BackgroundColor string  `json:"background_color,omitempty"`
	Scale           float64 `json:"scale,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

// CaptureConfig holds capture backend configuration.
type CaptureConfig struct {
	Backend        string `json:"backend"` // "chromium" (default) or "playwright"
	TimeoutMS      int    `json:"timeout_ms"`
	DelayMS        int    `json:"delay_ms"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	SkipTLSVerify  bool   `json:"skip_tls_verify"`
	ChromiumPath   string `json:"chromium_path"`
	Headless       bool   `json:"headless"`
	AuthToken      string `json:"auth_token,omitempty"`
}

// ReportTemplate describes a predefined report layout.
type ReportTemplate struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	TemplateType   string         `json:"template_type"`
	Sections       []string       `json:"sections"`
	ChartsIncluded []string       `json:"charts_included"`
	DefaultParams  map[string]any `json:"default_params,omitempty"`
}

// Schedule represents a recurring report export.
type Schedule struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	TemplateID   string     `json:"template_id,omitempty"`
	Title        string     `json:"title"`
	Charts       ChartList  `json:"charts"`
	IntervalType string     `json:"interval_type"`
	CronExpr     string     `json:"cron_expr,omitempty"`
	Timezone     string     `json:"timezone"`
	Recipients   Recipients `json:"recipients"`
	EmailSubject string     `json:"email_subject"`
	EmailBody    string     `json:"email_body"`
	Enabled      bool       `json:"enabled"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Recipients holds email recipient information.
type Recipients struct {
	To  []string `json:"to"`
	CC  []string `json:"cc,omitempty"`
	BCC []string `json:"bcc,omitempty"`
}

// Settings holds service settings.
type Settings struct {
	ID            int64         `json:"id"`
	SMTPConfig    *SMTPConfig   `json:"smtp_config,omitempty"`
	CaptureConfig CaptureConfig `json:"capture_config"`
	Limits        Limits        `json:"limits"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	From          string `json:"from"`
	UseTLS        bool   `json:"use_tls"`
	SkipTLSVerify bool   `json:"skip_tls_verify"`
}

// Limits holds usage limits.
type Limits struct {
	MaxRecipients       int      `json:"max_recipients"`
	MaxAttachmentSizeMB int      `json:"max_attachment_size_mb"`
	MaxConcurrentRuns   int      `json:"max_concurrent_runs"`
	AllowedDomains      []string `json:"allowed_domains,omitempty"` // if empty, all domains are allowed
}

// ChartList is a custom type for storing chart items as JSON in SQLite.
type ChartList []ChartItem

// Scan implements sql.Scanner for ChartList
func (c *ChartList) Scan(value interface{}) error {
	if value == nil {
		*c = []ChartItem{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// Value implements driver.Valuer for ChartList
func (c ChartList) Value() (driver.Value, error) {
	if len(c) == 0 {
		return "[]", nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for Recipients
func (r *Recipients) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, r)
}

// Value implements driver.Valuer for Recipients
func (r Recipients) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for SMTPConfig
func (s *SMTPConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value implements driver.Valuer for SMTPConfig
func (s *SMTPConfig) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for CaptureConfig
func (c *CaptureConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// Value implements driver.Valuer for CaptureConfig
func (c CaptureConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for Limits
func (l *Limits) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer for Limits
func (l Limits) Value() (driver.Value, error) {
	return json.Marshal(l)
}
