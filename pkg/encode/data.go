package encode

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/agoraflux/chart-export/pkg/model"
)

// SchemaVersion identifies the JSON envelope layout.
const SchemaVersion = "1.0"

// Meta carries document metadata shared by the data encoders.
type Meta struct {
	Title           string
	Description     string
	Author          string
	GeneratedAt     time.Time
	IncludeMetadata bool
}

// CSV encodes the data set as comma-separated values with a header row.
// Cells containing commas or quotes are quoted per RFC 4180; rows end with
// a bare newline.
func CSV(data *model.DataSet) ([]byte, error) {
	cols := data.ColumnOrder()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(cols) > 0 {
		if err := w.Write(cols); err != nil {
			return nil, fmt.Errorf("failed to write csv header: %w", err)
		}
	}
	for _, row := range data.Rows {
		record := make([]string, len(cols))
		for i, col := range cols {
			record[i] = formatCell(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// jsonEnvelope is the exported JSON document layout.
type jsonEnvelope struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Data        []map[string]any  `json:"data"`
	Metadata    *jsonMetadata     `json:"metadata,omitempty"`
}

type jsonMetadata struct {
	Author        string `json:"author,omitempty"`
	ExportedAt    string `json:"exported_at"`
	SchemaVersion string `json:"schema_version"`
}

// JSON encodes the data set as an indented JSON envelope.
func JSON(data *model.DataSet, meta Meta) ([]byte, error) {
	env := jsonEnvelope{
		Title:       meta.Title,
		Description: meta.Description,
		Data:        data.Rows,
	}
	if env.Data == nil {
		env.Data = []map[string]any{}
	}
	if meta.IncludeMetadata {
		env.Metadata = &jsonMetadata{
			Author:        meta.Author,
			ExportedAt:    meta.GeneratedAt.UTC().Format(time.RFC3339),
			SchemaVersion: SchemaVersion,
		}
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return append(out, '\n'), nil
}

// XLSX encodes the data set as a workbook with a Data sheet and, when
// metadata is requested, a Métadonnées sheet.
func XLSX(data *model.DataSet, meta Meta) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Data"
	f.SetSheetName("Sheet1", sheet)

	cols := data.ColumnOrder()
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write xlsx header: %w", err)
	}

	for i, row := range data.Rows {
		cells := make([]interface{}, len(cols))
		for j, col := range cols {
			cells[j] = row[col]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return nil, fmt.Errorf("failed to write xlsx row %d: %w", i+1, err)
		}
	}

	if meta.IncludeMetadata {
		const metaSheet = "Métadonnées"
		if _, err := f.NewSheet(metaSheet); err != nil {
			return nil, fmt.Errorf("failed to create metadata sheet: %w", err)
		}
		rows := [][]interface{}{
			{"Titre", meta.Title},
			{"Description", meta.Description},
			{"Auteur", meta.Author},
			{"Exporté le", meta.GeneratedAt.UTC().Format(time.RFC3339)},
			{"Version du schéma", SchemaVersion},
		}
		for i, r := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return nil, fmt.Errorf("failed to compute cell name: %w", err)
			}
			row := r
			if err := f.SetSheetRow(metaSheet, cell, &row); err != nil {
				return nil, fmt.Errorf("failed to write metadata row: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// formatCell renders a record value as CSV cell text.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}
