// Package archive bundles export artifacts into a single zip file.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Entry is one file to include in a bundle.
type Entry struct {
	Name string
	Data []byte
}

// Bundle writes all entries into one zip archive. Entry order is preserved.
func Bundle(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("archive requires at least one entry")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %q to archive: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("failed to write %q to archive: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
