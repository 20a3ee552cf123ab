// Package sheet reads prospect lists from CSV and XLSX files and writes
// prospect exports.
package sheet

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// StreamCSV reads r and sends trimmed rows, header included. Lines
// starting with '#' are skipped and rows may have varying widths. Both
// channels are closed when reading completes.
func StreamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.Comment = '#'
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "sheet: csv cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "sheet: read csv row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "sheet: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadXLSX returns the rows of the first sheet, or of the named sheet.
func ReadXLSX(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open xlsx")
	}

	var sheet *xlsx.Sheet
	switch {
	case sheetName != "":
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("sheet: %q not found", sheetName)
		}
		sheet = s
	case len(f.Sheets) == 0:
		return nil, eris.New("sheet: workbook has no sheets")
	default:
		sheet = f.Sheets[0]
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// Open streams the rows of a CSV or XLSX file, chosen by extension.
func Open(ctx context.Context, path string) (<-chan []string, <-chan error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rowCh := make(chan []string, 64)
		errCh := make(chan error, 1)
		go func() {
			defer close(rowCh)
			defer close(errCh)
			rows, err := ReadXLSX(path, "")
			if err != nil {
				errCh <- err
				return
			}
			for _, r := range rows {
				select {
				case rowCh <- r:
				case <-ctx.Done():
					errCh <- eris.Wrap(ctx.Err(), "sheet: xlsx cancelled")
					return
				}
			}
		}()
		return rowCh, errCh
	}

	f, err := os.Open(path)
	if err != nil {
		rowCh := make(chan []string)
		errCh := make(chan error, 1)
		errCh <- eris.Wrapf(err, "sheet: open %s", path)
		close(rowCh)
		close(errCh)
		return rowCh, errCh
	}
	rowCh, inner := StreamCSV(ctx, f)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for err := range inner {
			errCh <- err
		}
		f.Close() //nolint:errcheck
	}()
	return rowCh, errCh
}
