package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/ingest"
)

// export is a vendor spreadsheet saved as CSV
type export struct {
	Filename string
	Format   *ingest.Format
	// Preamble holds the rows above the column titles
	Preamble [][]string
	Rows     []map[string]string
}

// openExport reads path and splits it at the vendor's header row.
// headerRow < 0 uses the vendor default.
func openExport(path, platform string, headerRow int) (*export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := filepath.Base(path)
	format, err := ingest.Resolve(platform, name)
	if err != nil {
		return nil, err
	}
	exp, err := readExport(f, format, headerRow)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	exp.Filename = name
	return exp, nil
}

func readExport(r io.Reader, format *ingest.Format, headerRow int) (*export, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}

	if headerRow < 0 {
		headerRow = locateHeader(records, format)
	}
	if headerRow >= len(records) {
		return nil, errors.New("header row is past the end of the file")
	}

	header := records[headerRow]
	exp := &export{Format: format, Preamble: records[:headerRow]}
	for _, rec := range records[headerRow+1:] {
		row := make(map[string]string, len(header))
		for i, title := range header {
			title = strings.TrimSpace(title)
			if title == "" {
				continue
			}
			if i < len(rec) {
				row[title] = rec[i]
			} else {
				row[title] = ""
			}
		}
		exp.Rows = append(exp.Rows, row)
	}
	return exp, nil
}

// locateHeader returns the vendor's header row when it holds the holder
// column, and otherwise the first row that does. Spreadsheet exports
// converted to CSV often lose their leading blank rows.
func locateHeader(records [][]string, format *ingest.Format) int {
	holder := format.Column(ingest.FieldHolderName)
	if format.HeaderRow < len(records) && hasCell(records[format.HeaderRow], holder) {
		return format.HeaderRow
	}
	for i, rec := range records {
		if hasCell(rec, holder) {
			return i
		}
	}
	return format.HeaderRow
}

func hasCell(rec []string, v string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) == v {
			return true
		}
	}
	return false
}
