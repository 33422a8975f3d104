package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/agoraflux/chart-export/pkg/archive"
	"github.com/agoraflux/chart-export/pkg/model"
	"github.com/agoraflux/chart-export/pkg/raster"
	"github.com/agoraflux/chart-export/pkg/report"
)

const bulkTitle = "Export groupé"

// ExportBulk processes a batch of charts sequentially. Depending on the
// request it returns one result per chart, index-aligned with the input, or
// a single result for a combined PDF. Like the single-item operations it
// never panics towards the caller; a failure of the batch itself comes back
// as a one-element sequence holding a synthetic failed result.
func (e *Exporter) ExportBulk(ctx context.Context, req model.BulkExportRequest) (results []model.ExportResult) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EXPORT] panic during bulk export: %v", r)
			results = []model.ExportResult{e.fail(bulkTitle, start, fmt.Errorf("internal error: %v", r))}
		}
	}()

	if err := model.ValidateBulkRequest(&req); err != nil {
		return []model.ExportResult{e.fail(bulkTitle, start, err)}
	}

	if req.CombinePDF && req.Format == model.FormatPDF {
		return []model.ExportResult{e.exportCombined(ctx, req)}
	}

	total := len(req.Charts)
	opts := req.Options
	opts.Format = req.Format

	results = make([]model.ExportResult, 0, total)
	for i, chart := range req.Charts {
		pct := int(math.Round(float64(i) / float64(total) * 80))
		e.progress(model.StepInit, pct, fmt.Sprintf("Export de %s (%d/%d)", chart.Title, i+1, total))

		var res model.ExportResult
		switch {
		case req.Format.IsData():
			res = e.ExportData(ctx, chart.Data, chart.Title, opts)
		case req.Format == model.FormatPDF:
			res = e.ExportPDF(ctx, chart.Element, chart.Title, opts)
		default:
			res = e.ExportImage(ctx, chart.Element, chart.Title, opts)
		}
		results = append(results, res)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}

	e.progress(model.StepComplete, 100, "Export groupé terminé")
	typ := model.NotificationSuccess
	if succeeded == 0 {
		typ = model.NotificationError
	} else if succeeded < total {
		typ = model.NotificationInfo
	}
	e.notify(typ, "Export groupé terminé", fmt.Sprintf("%d/%d exports réussis", succeeded, total), succeeded > 0)

	if req.ZipArchive && succeeded > 1 {
		e.bundleArchive(results)
	}

	return results
}

// exportCombined captures every chart and lays the batch out as one PDF
// with a cover and table of contents.
func (e *Exporter) exportCombined(ctx context.Context, req model.BulkExportRequest) model.ExportResult {
	start := e.now()

	opts := req.Options
	opts.Format = model.FormatPDF
	if opts.Scale <= 0 {
		opts.Scale = 1.5
	}
	opts = opts.WithDefaults()

	total := len(req.Charts)
	pages := make([]report.ChartPage, 0, total)
	for i, chart := range req.Charts {
		pct := int(math.Round(float64(i) / float64(total) * 80))
		e.progress(model.StepCapture, pct, fmt.Sprintf("Capture de %s (%d/%d)", chart.Title, i+1, total))

		if chart.Element == nil {
			return e.fail(bulkTitle, start, fmt.Errorf("%w: chart %q has no element", ErrMissingSource, chart.Title))
		}
		img, err := e.captureImage(ctx, chart.Element, opts)
		if err != nil {
			return e.fail(bulkTitle, start, fmt.Errorf("chart %q: %w", chart.Title, err))
		}
		if opts.IncludeWatermark {
			img = raster.Watermark(img, report.ProductCaption)
		}
		pages = append(pages, report.ChartPage{Title: chart.Title, Image: img})
	}

	e.progress(model.StepLayout, 90, "Mise en page du rapport...")
	title := opts.CustomTitle
	if title == "" {
		title = "Rapport combiné"
	}
	data, err := report.CombinedReport(pages, report.Options{
		Title:           title,
		Description:     opts.CustomDescription,
		Author:          opts.Author,
		GeneratedAt:     start,
		IncludeMetadata: opts.IncludeMetadata,
		Timestamp:       opts.Timestamp,
	})
	if err != nil {
		return e.fail(bulkTitle, start, err)
	}

	name := CombinedBaseName + "_" + start.Format("2006-01-02") + ".pdf"
	if err := e.saver.Save(name, data); err != nil {
		return e.fail(bulkTitle, start, err)
	}

	res := model.ExportResult{
		Success:    true,
		FileName:   name,
		FileSize:   int64(len(data)),
		DurationMS: e.now().Sub(start).Milliseconds(),
	}
	if e.recorder != nil {
		e.recorder.Record(res, model.FormatPDF, title)
	}

	e.progress(model.StepComplete, 100, "Rapport combiné terminé")
	e.notify(model.NotificationSuccess, "Rapport généré avec succès",
		fmt.Sprintf("%d visualisations combinées dans %s", total, name), true)
	log.Printf("[EXPORT] combined report %s (%d charts, %d bytes)", name, total, res.FileSize)
	return res
}

// bundleArchive gathers the successful artifacts of a bulk run into one zip
// file. Per-item results are left untouched; the archive is an additional
// artifact announced with an info notification.
func (e *Exporter) bundleArchive(results []model.ExportResult) {
	var entries []archive.Entry
	for _, r := range results {
		if !r.Success {
			continue
		}
		rc, err := e.saver.Open(r.FileName)
		if err != nil {
			log.Printf("[EXPORT] skipping %s in archive: %v", r.FileName, err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Printf("[EXPORT] skipping %s in archive: %v", r.FileName, err)
			continue
		}
		entries = append(entries, archive.Entry{Name: r.FileName, Data: data})
	}
	if len(entries) < 2 {
		return
	}

	data, err := archive.Bundle(entries)
	if err != nil {
		log.Printf("[EXPORT] archive bundling failed: %v", err)
		e.notify(model.NotificationError, "Échec de l'archive", err.Error(), false)
		return
	}
	name := ArchiveName(e.now())
	if err := e.saver.Save(name, data); err != nil {
		log.Printf("[EXPORT] failed to save archive: %v", err)
		e.notify(model.NotificationError, "Échec de l'archive", err.Error(), false)
		return
	}
	e.notify(model.NotificationInfo, "Archive créée",
		fmt.Sprintf("%d fichiers regroupés dans %s", len(entries), name), true)
}
