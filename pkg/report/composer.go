// Package report composes PDF documents from captured chart images.
package report

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/agoraflux/chart-export/pkg/encode"
	"github.com/agoraflux/chart-export/pkg/model"
)

// ProductCaption is the fixed footer caption drawn on generated documents.
const ProductCaption = "Généré par AgoraFlux"

const (
	marginHorizontal = 10 // mm each side, 20mm total
	marginVertical   = 15 // mm each side, 30mm total

	// Chart pages of a combined report reserve extra vertical room for the
	// per-page title and footer.
	combinedVerticalReserve = 60
)

// Options carries the document-level inputs of a composition.
type Options struct {
	Title           string
	Description     string
	Author          string
	GeneratedAt     time.Time
	Orientation     model.Orientation
	IncludeMetadata bool
	Timestamp       bool
}

// ChartPage is one entry of a combined report.
type ChartPage struct {
	Title string
	Image image.Image
}

// tocEntry records a chart title with its resolved page number.
type tocEntry struct {
	title string
	page  int
}

// FitBox scales imgW×imgH to fit boxW×boxH preserving aspect ratio. The
// result touches at least one box edge.
func FitBox(imgW, imgH, boxW, boxH float64) (w, h float64) {
	if imgW <= 0 || imgH <= 0 {
		return 0, 0
	}
	ratio := imgW / imgH
	if ratio > boxW/boxH {
		return boxW, boxW / ratio
	}
	return boxH * ratio, boxH
}

// SingleReport lays out one captured image as a one-page A4 document.
// Orientation defaults to landscape when the image is wider than tall,
// unless opts.Orientation overrides it.
func SingleReport(img image.Image, opts Options) ([]byte, error) {
	b := img.Bounds()
	imgW, imgH := float64(b.Dx()), float64(b.Dy())

	orient := opts.Orientation
	if orient == "" {
		if imgW > imgH {
			orient = model.OrientationLandscape
		} else {
			orient = model.OrientationPortrait
		}
	}
	pdfOrient := "P"
	if orient == model.OrientationLandscape {
		pdfOrient = "L"
	}

	pdf := gofpdf.New(pdfOrient, "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if opts.IncludeMetadata {
		setDocumentMetadata(pdf, tr, opts)
	}

	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()

	// Title near the top
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetY(12)
	pdf.CellFormat(0, 10, tr(opts.Title), "", 1, "C", false, 0, "")

	y := pdf.GetY() + 2
	if opts.Description != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetX(marginHorizontal)
		pdf.MultiCell(pageW-2*marginHorizontal, 5, tr(opts.Description), "", "C", false)
		y = pdf.GetY() + 2
	}

	w, h := FitBox(imgW, imgH, pageW-2*marginHorizontal, pageH-2*marginVertical)
	x := (pageW - w) / 2
	top := y
	if remaining := pageH - marginVertical - y; h < remaining {
		top = y + (remaining-h)/2
	}
	if err := drawImage(pdf, img, "chart", x, top, w, h); err != nil {
		return nil, err
	}

	if opts.Timestamp {
		drawFooter(pdf, tr, opts.GeneratedAt, 0)
	}

	return output(pdf)
}

// CombinedReport lays out several captured charts as one document: a cover
// page carrying the title, generation date and table of contents, then one
// page per chart. Each chart occupies exactly one page, so the cover's page
// numbers are known up front and the cover is drawn first.
func CombinedReport(charts []ChartPage, opts Options) ([]byte, error) {
	pdf, _, err := buildCombined(charts, opts)
	if err != nil {
		return nil, err
	}
	return output(pdf)
}

// buildCombined assembles the document and returns it with the resolved
// table of contents.
func buildCombined(charts []ChartPage, opts Options) (*gofpdf.Fpdf, []tocEntry, error) {
	if len(charts) == 0 {
		return nil, nil, fmt.Errorf("combined report requires at least one chart")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if opts.IncludeMetadata {
		setDocumentMetadata(pdf, tr, opts)
	}

	toc := make([]tocEntry, len(charts))
	for i, c := range charts {
		toc[i] = tocEntry{title: c.Title, page: i + 2}
	}
	drawCover(pdf, tr, opts, toc)

	pageW, pageH := pdf.GetPageSize()
	for i, c := range charts {
		pdf.AddPage()

		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetY(15)
		pdf.CellFormat(0, 8, tr(c.Title), "", 1, "C", false, 0, "")

		b := c.Image.Bounds()
		w, h := FitBox(float64(b.Dx()), float64(b.Dy()), pageW-2*marginHorizontal, pageH-combinedVerticalReserve)
		x := (pageW - w) / 2
		y := pdf.GetY() + 5
		name := fmt.Sprintf("chart-%d", i)
		if err := drawImage(pdf, c.Image, name, x, y, w, h); err != nil {
			return nil, nil, err
		}

		drawFooter(pdf, tr, opts.GeneratedAt, pdf.PageNo())
	}

	return pdf, toc, nil
}

func drawCover(pdf *gofpdf.Fpdf, tr func(string) string, opts Options, toc []tocEntry) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetY(50)
	pdf.CellFormat(0, 14, tr(opts.Title), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, tr(ProductCaption), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 8, opts.GeneratedAt.Format("02/01/2006"), "", 1, "C", false, 0, "")

	pdf.Ln(12)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetX(marginHorizontal + 10)
	pdf.CellFormat(0, 10, tr("Table des matières"), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pageW, _ := pdf.GetPageSize()
	for _, e := range toc {
		pdf.SetX(marginHorizontal + 10)
		pdf.CellFormat(pageW-2*marginHorizontal-40, 7, tr(e.title), "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", e.page), "", 1, "R", false, 0, "")
	}
}

func drawFooter(pdf *gofpdf.Fpdf, tr func(string) string, generatedAt time.Time, pageNo int) {
	_, pageH := pdf.GetPageSize()
	pdf.SetY(pageH - 12)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(120, 120, 120)

	left := generatedAt.Format("02/01/2006 15:04")
	right := tr(ProductCaption)
	if pageNo > 0 {
		right = fmt.Sprintf("%s - %d", right, pageNo)
	}
	pdf.CellFormat(0, 5, left, "", 0, "L", false, 0, "")
	pdf.SetX(marginHorizontal)
	pdf.CellFormat(0, 5, right, "", 0, "R", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func setDocumentMetadata(pdf *gofpdf.Fpdf, tr func(string) string, opts Options) {
	pdf.SetTitle(tr(opts.Title), true)
	if opts.Description != "" {
		pdf.SetSubject(tr(opts.Description), true)
	}
	if opts.Author != "" {
		pdf.SetAuthor(tr(opts.Author), true)
	}
	pdf.SetCreator("AgoraFlux", true)
	pdf.SetKeywords("agoraflux, export, rapport, visualisation", true)
}

func drawImage(pdf *gofpdf.Fpdf, img image.Image, name string, x, y, w, h float64) error {
	data, err := encode.PNG(img)
	if err != nil {
		return fmt.Errorf("failed to rasterize chart for pdf: %w", err)
	}
	imgOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(data))
	pdf.ImageOptions(name, x, y, w, h, false, imgOpts, 0, "")
	if pdf.Err() {
		return fmt.Errorf("failed to draw chart image: %v", pdf.Error())
	}
	return nil
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to produce pdf: %w", err)
	}
	out := buf.Bytes()
	if len(out) < 5 || string(out[:5]) != "%PDF-" {
		return nil, fmt.Errorf("output is not a PDF (got %d bytes)", len(out))
	}
	return out, nil
}
