// Package sheet provides helpers for addressing spreadsheet cells.
package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ErrInvalidColumn indicates a column designator outside A-Z letter form
var ErrInvalidColumn = fmt.Errorf("invalid column reference")

// ColumnIndex translates a letter-form column designator (A, B, ... Z, AA, ...)
// into its 1-based numeric position.
func ColumnIndex(ref string) (int, error) {
	if ref == "" {
		return 0, fmt.Errorf("%w: empty designator", ErrInvalidColumn)
	}
	for _, c := range ref {
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidColumn, ref)
		}
	}
	idx, err := excelize.ColumnNameToNumber(ref)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColumn, ref)
	}
	return idx, nil
}

// CellValue reads a cell from a row returned by excelize GetRows.
// Columns are 1-based; positions past the end of the row read as empty,
// excelize trims trailing empty cells per row.
func CellValue(row []string, col int) string {
	if col < 1 || col > len(row) {
		return ""
	}
	return row[col-1]
}
