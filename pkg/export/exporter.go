// Package export drives the pipeline that turns chart elements and data
// sets into downloadable artifacts, reporting progress and terminal
// notifications on the bus.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agoraflux/chart-export/pkg/bus"
	"github.com/agoraflux/chart-export/pkg/capture"
	"github.com/agoraflux/chart-export/pkg/encode"
	"github.com/agoraflux/chart-export/pkg/model"
	"github.com/agoraflux/chart-export/pkg/raster"
	"github.com/agoraflux/chart-export/pkg/report"
)

// Recorder receives finished exports for history bookkeeping. Optional.
type Recorder interface {
	Record(res model.ExportResult, format model.Format, title string)
}

// Exporter sequences capture, watermark, encoding and saving for single
// exports and bulk batches. Its operations never panic towards the caller
// and never return an error: failures come back inside the ExportResult.
type Exporter struct {
	backend        capture.Backend
	bus            *bus.Bus
	saver          Saver
	recorder       Recorder
	captureTimeout time.Duration
	now            func() time.Time
}

// New creates an exporter with a 30s capture timeout.
func New(backend capture.Backend, eventBus *bus.Bus, saver Saver) *Exporter {
	return &Exporter{
		backend:        backend,
		bus:            eventBus,
		saver:          saver,
		captureTimeout: 30 * time.Second,
		now:            time.Now,
	}
}

// SetCaptureTimeout bounds the capture stage of raster exports.
func (e *Exporter) SetCaptureTimeout(d time.Duration) {
	if d > 0 {
		e.captureTimeout = d
	}
}

// SetRecorder wires an export history recorder.
func (e *Exporter) SetRecorder(r Recorder) {
	e.recorder = r
}

// Export dispatches a request to the operation matching its format family.
func (e *Exporter) Export(ctx context.Context, req model.ExportRequest) model.ExportResult {
	f := req.Options.Format
	switch {
	case f == model.FormatPDF:
		return e.ExportPDF(ctx, req.Element, req.Title, req.Options)
	case f.IsRaster():
		return e.ExportImage(ctx, req.Element, req.Title, req.Options)
	case f.IsData():
		return e.ExportData(ctx, req.Data, req.Title, req.Options)
	default:
		return e.fail(req.Title, e.now(), fmt.Errorf("%w: %q", ErrUnsupportedFormat, f))
	}
}

// ExportImage captures an element and encodes it as PNG or JPEG.
func (e *Exporter) ExportImage(ctx context.Context, el *model.Element, title string, opts model.ExportOptions) (res model.ExportResult) {
	start := e.now()
	defer e.recovered(&res, title, start)

	if opts.Format != model.FormatPNG && opts.Format != model.FormatJPG {
		return e.fail(title, start, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format))
	}
	if el == nil {
		return e.fail(title, start, fmt.Errorf("%w: element is required for %s", ErrMissingSource, opts.Format))
	}
	opts = opts.WithDefaults()

	e.progress(model.StepCapture, 20, "Capture du graphique...")
	img, err := e.captureImage(ctx, el, opts)
	if err != nil {
		return e.fail(title, start, err)
	}
	e.progress(model.StepProcess, 60, "Traitement de l'image...")
	if opts.IncludeWatermark {
		img = raster.Watermark(img, report.ProductCaption)
	}

	e.progress(model.StepEncode, 80, "Encodage de l'image...")
	var data []byte
	if opts.Format == model.FormatPNG {
		data, err = encode.PNG(img)
	} else {
		data, err = encode.JPEG(img, opts.Quality)
	}
	if err != nil {
		return e.fail(title, start, err)
	}

	return e.finish(title, opts.Format, data, start)
}

// ExportPDF captures an element and lays it out as a one-page report.
func (e *Exporter) ExportPDF(ctx context.Context, el *model.Element, title string, opts model.ExportOptions) (res model.ExportResult) {
	start := e.now()
	defer e.recovered(&res, title, start)

	if opts.Format != model.FormatPDF {
		return e.fail(title, start, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format))
	}
	if el == nil {
		return e.fail(title, start, fmt.Errorf("%w: element is required for pdf", ErrMissingSource))
	}
	opts = opts.WithDefaults()

	e.progress(model.StepCapture, 20, "Capture du graphique...")
	img, err := e.captureImage(ctx, el, opts)
	if err != nil {
		return e.fail(title, start, err)
	}
	e.progress(model.StepProcess, 60, "Traitement de l'image...")
	if opts.IncludeWatermark {
		img = raster.Watermark(img, report.ProductCaption)
	}

	e.progress(model.StepLayout, 80, "Mise en page du document...")
	data, err := report.SingleReport(img, report.Options{
		Title:           docTitle(title, opts),
		Description:     opts.CustomDescription,
		Author:          opts.Author,
		GeneratedAt:     start,
		Orientation:     opts.Orientation,
		IncludeMetadata: opts.IncludeMetadata,
		Timestamp:       opts.Timestamp,
	})
	if err != nil {
		return e.fail(title, start, err)
	}

	return e.finish(title, model.FormatPDF, data, start)
}

// ExportData serializes a data set as CSV, JSON or XLSX.
func (e *Exporter) ExportData(ctx context.Context, data *model.DataSet, title string, opts model.ExportOptions) (res model.ExportResult) {
	start := e.now()
	defer e.recovered(&res, title, start)
	_ = ctx

	if !opts.Format.IsData() {
		return e.fail(title, start, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format))
	}
	if data == nil {
		return e.fail(title, start, fmt.Errorf("%w: data set is required for %s", ErrMissingSource, opts.Format))
	}
	opts = opts.WithDefaults()

	e.progress(model.StepInit, 20, "Préparation des données...")
	meta := encode.Meta{
		Title:           docTitle(title, opts),
		Description:     opts.CustomDescription,
		Author:          opts.Author,
		GeneratedAt:     start,
		IncludeMetadata: opts.IncludeMetadata,
	}

	e.progress(model.StepEncode, 80, "Encodage des données...")
	var (
		out []byte
		err error
	)
	switch opts.Format {
	case model.FormatCSV:
		out, err = encode.CSV(data)
	case model.FormatJSON:
		out, err = encode.JSON(data, meta)
	case model.FormatXLSX:
		out, err = encode.XLSX(data, meta)
	}
	if err != nil {
		return e.fail(title, start, err)
	}

	return e.finish(title, opts.Format, out, start)
}

// captureImage runs the capture backend under the configured timeout and
// maps a deadline overrun to the capture-timeout error kind.
func (e *Exporter) captureImage(ctx context.Context, el *model.Element, opts model.ExportOptions) (image.Image, error) {
	cctx, cancel := context.WithTimeout(ctx, e.captureTimeout)
	defer cancel()

	copts := model.CaptureOptions{
		BackgroundColor: opts.BackgroundColor,
		Scale:           opts.Scale,
	}
	if opts.Dimensions != nil {
		copts.Width = opts.Dimensions.Width
		copts.Height = opts.Dimensions.Height
	}

	img, err := e.backend.CaptureElement(cctx, el, copts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrCaptureTimeout, e.captureTimeout, err)
		}
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	return img, nil
}

// finish saves the artifact, records it, and emits the terminal progress
// tick and success notification.
func (e *Exporter) finish(title string, format model.Format, data []byte, start time.Time) model.ExportResult {
	name := FileName(title, format, start)
	if err := e.saver.Save(name, data); err != nil {
		return e.fail(title, start, err)
	}

	res := model.ExportResult{
		Success:    true,
		FileName:   name,
		FileSize:   int64(len(data)),
		DurationMS: e.now().Sub(start).Milliseconds(),
	}
	if e.recorder != nil {
		e.recorder.Record(res, format, title)
	}

	e.progress(model.StepComplete, 100, "Export terminé")
	e.notify(model.NotificationSuccess, "Export terminé",
		fmt.Sprintf("%s a été exporté avec succès", name), true)
	log.Printf("[EXPORT] %s exported (%d bytes, %dms)", name, res.FileSize, res.DurationMS)
	return res
}

// fail converts an error into a failed result and an error notification.
// No terminal progress tick is emitted on failure.
func (e *Exporter) fail(title string, start time.Time, err error) model.ExportResult {
	log.Printf("[EXPORT] export of %q failed: %v", title, err)
	e.notify(model.NotificationError, "Échec de l'export", err.Error(), false)
	return model.ExportResult{
		Success:    false,
		Error:      err.Error(),
		DurationMS: e.now().Sub(start).Milliseconds(),
	}
}

func (e *Exporter) recovered(res *model.ExportResult, title string, start time.Time) {
	if r := recover(); r != nil {
		log.Printf("[EXPORT] panic during export of %q: %v", title, r)
		*res = e.fail(title, start, fmt.Errorf("internal error: %v", r))
	}
}

func (e *Exporter) progress(step string, pct int, msg string) {
	e.bus.EmitProgress(model.ExportProgress{Step: step, Progress: pct, Message: msg})
}

func (e *Exporter) notify(t model.NotificationType, title, msg string, autoHide bool) {
	n := model.ExportNotification{
		ID:        uuid.NewString(),
		Type:      t,
		Title:     title,
		Message:   msg,
		Timestamp: e.now(),
		AutoHide:  autoHide,
	}
	if autoHide {
		n.DurationMS = 5000
	}
	e.bus.EmitNotification(n)
}

func docTitle(title string, opts model.ExportOptions) string {
	if opts.CustomTitle != "" {
		return opts.CustomTitle
	}
	return title
}
