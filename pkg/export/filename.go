package export

import (
	"strings"
	"time"

	"github.com/agoraflux/chart-export/pkg/model"
)

// CombinedBaseName is the fixed base name of combined report files.
const CombinedBaseName = "rapport_combine"

// Slug lower-cases the title and replaces every non-alphanumeric character
// with an underscore.
func Slug(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FileName builds the artifact name for an export: slug, date, extension.
func FileName(title string, format model.Format, at time.Time) string {
	return Slug(title) + "_" + at.Format("2006-01-02") + "." + format.Extension()
}

// ArchiveName builds the name of a bulk export archive.
func ArchiveName(at time.Time) string {
	return "export_bulk_" + at.Format("2006-01-02") + ".zip"
}
