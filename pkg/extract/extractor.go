package extract

import (
	"fmt"
	"slices"

	"github.com/go-pkgz/lgr"
	"github.com/xuri/excelize/v2"

	"kudos/pkg/config"
	"kudos/pkg/domain"
)

// ErrSheetNotFound indicates the configured sheet is absent from the workbook.
// Callers treat it as a per-account skip, not a pipeline failure.
var ErrSheetNotFound = fmt.Errorf("sheet not found")

// Extractor reads qualifying feedback rows from one account's workbook
type Extractor struct {
	account   string
	sheetName string
	headerRow int
	eval      *Evaluator
}

// New compiles the account's rules into an extractor
func New(account string, acc config.AccountConfig) (*Extractor, error) {
	eval, err := CompileRules(account, acc)
	if err != nil {
		return nil, fmt.Errorf("compile rules for account %q: %w", account, err)
	}
	return &Extractor{
		account:   account,
		sheetName: acc.SheetName,
		headerRow: acc.HeaderRow,
		eval:      eval,
	}, nil
}

// ExtractFile opens the workbook at path and extracts qualifying rows
func (e *Extractor) ExtractFile(path string) ([]domain.FeedbackRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			lgr.Printf("[WARN] failed to close workbook %s: %v", path, cerr)
		}
	}()

	return e.Extract(f)
}

// Extract applies the compiled rules to every data row below the header,
// in file order. Accepted rows keep that order, dedup happens downstream.
func (e *Extractor) Extract(f *excelize.File) ([]domain.FeedbackRecord, error) {
	if !slices.Contains(f.GetSheetList(), e.sheetName) {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, e.sheetName)
	}

	rows, err := f.GetRows(e.sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", e.sheetName, err)
	}
	if len(rows) <= e.headerRow {
		lgr.Printf("[DEBUG] account %s: no data rows below header", e.account)
		return nil, nil
	}

	// header names are informational only, column designators are
	// authoritative
	headers := headerMap(rows[e.headerRow-1])
	lgr.Printf("[DEBUG] account %s: %d header columns in sheet %q", e.account, len(headers), e.sheetName)

	var records []domain.FeedbackRecord
	badRating := 0
	for i := e.headerRow; i < len(rows); i++ {
		rec, verdict := e.eval.Evaluate(rows[i])
		switch verdict {
		case Accepted:
			records = append(records, rec)
		case RejectedBadRating:
			badRating++
		}
	}

	if badRating > 0 {
		lgr.Printf("[DEBUG] account %s: %d rows rejected with non-numeric rating", e.account, badRating)
	}
	lgr.Printf("[INFO] account %s: %d candidate feedbacks from %d rows", e.account, len(records), len(rows)-e.headerRow)
	return records, nil
}

// headerMap maps header cell values to their 1-based positions, first
// occurrence wins
func headerMap(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if _, ok := m[h]; !ok {
			m[h] = i + 1
		}
	}
	return m
}
