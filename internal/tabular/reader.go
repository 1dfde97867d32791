// Package tabular reads recipient data from spreadsheet files. The first
// row of the active sheet is the header; every following row becomes one
// DataRow keyed by the header. The filter is a single equality predicate
// (case-insensitive, whitespace-trimmed); a generalized query layer is
// out of scope.
package tabular

import (
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mhollstein/briefwerk/internal/domain"
)

// Accepted upload extensions. Legacy binary .xls is not readable here, so
// the two recognized formats are the OOXML spreadsheet variants.
var acceptedExtensions = map[string]bool{
	".xlsx": true,
	".xlsm": true,
}

// AcceptedExtension reports whether filename carries a recognized
// spreadsheet extension.
func AcceptedExtension(filename string) bool {
	return acceptedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ReadHeader opens the spreadsheet and returns the first row's non-empty
// cells, trimmed, in order. Duplicate names are kept as-is; callers that
// build a name→index map let the last occurrence win.
func ReadHeader(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "tabular.read_header", "could not open spreadsheet")
	}
	defer f.Close()

	rows, err := f.GetRows(activeSheet(f))
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "tabular.read_header", "could not read spreadsheet rows")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return headerOf(rows[0]), nil
}

// ReadAllRows reads every data row of the spreadsheet. Rows whose every
// cell is empty are skipped. Repeated reads of an unmodified file yield
// identical sequences.
func ReadAllRows(path string) ([]domain.DataRow, error) {
	header, rows, err := open(path, "tabular.read_all")
	if err != nil {
		return nil, err
	}

	var out []domain.DataRow
	for _, cells := range rows {
		row := domain.NewDataRow(header, cells)
		if row.Empty() {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// FilterRows reads the data rows whose cell under column equals value,
// compared case-insensitively after trimming whitespace on both sides.
// The column must exist in the header exactly as supplied.
func FilterRows(path, column, value string) ([]domain.DataRow, error) {
	header, rows, err := open(path, "tabular.filter")
	if err != nil {
		return nil, err
	}

	found := false
	for _, name := range header {
		if name == column {
			found = true
			break
		}
	}
	if !found {
		return nil, domain.Errorf(domain.EINVALID, "tabular.filter", "filter column %q not found in spreadsheet header", column)
	}

	want := strings.TrimSpace(value)
	var out []domain.DataRow
	for _, cells := range rows {
		row := domain.NewDataRow(header, cells)
		if row.Empty() {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(row.Value(column)), want) {
			out = append(out, row)
		}
	}
	return out, nil
}

// open loads the spreadsheet and splits it into header and data rows.
func open(path, op string) (header []string, data [][]string, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, domain.WrapError(err, domain.EINTERNAL, op, "could not open spreadsheet")
	}
	defer f.Close()

	rows, err := f.GetRows(activeSheet(f))
	if err != nil {
		return nil, nil, domain.WrapError(err, domain.EINTERNAL, op, "could not read spreadsheet rows")
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return headerOf(rows[0]), rows[1:], nil
}

func activeSheet(f *excelize.File) string {
	return f.GetSheetName(f.GetActiveSheetIndex())
}

// headerOf keeps the non-empty trimmed cells of the first row, in order.
func headerOf(cells []string) []string {
	var header []string
	for _, c := range cells {
		name := strings.TrimSpace(c)
		if name == "" {
			continue
		}
		header = append(header, name)
	}
	return header
}
