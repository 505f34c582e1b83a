// Package ledger persists review decisions in a single xlsx snapshot and
// answers "already decided?" membership queries. The snapshot is the source
// of truth for deduplication across pipeline runs.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/xuri/excelize/v2"

	"kudos/pkg/domain"
)

// snapshot column layout, fixed for compatibility with pre-existing logs
var columns = []string{"Timestamp", "Account", "TicketID", "UserName", "AnalystName", "Message", "Status"}

const (
	sheetName  = "Sheet1"
	timeFormat = "2006-01-02 15:04:05"
)

// Ledger is the persisted decision store. Append does a locked
// read-merge-write of the whole snapshot, queries load it fresh.
type Ledger struct {
	path string
	mu   sync.Mutex // serializes read-merge-write cycles in-process
}

// New creates a ledger over the snapshot file at path. The file does not
// have to exist yet.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Load reads the current snapshot. A missing file yields an empty ledger.
// An unreadable or corrupt file also degrades to empty with a warning,
// blocking all review work is worse than losing dedup history.
func (l *Ledger) Load() []domain.LedgerEntry {
	entries, err := l.read()
	if err != nil {
		lgr.Printf("[WARN] ledger snapshot %s unreadable, proceeding with empty ledger: %v", l.path, err)
		return nil
	}
	return entries
}

// DecidedKeys returns the set of (account, ticket) keys present in the
// current snapshot
func (l *Ledger) DecidedKeys() map[domain.LedgerKey]struct{} {
	entries := l.Load()
	keys := make(map[domain.LedgerKey]struct{}, len(entries))
	for _, e := range entries {
		keys[e.Key()] = struct{}{}
	}
	return keys
}

// AlreadyDecided reports whether a decision for the key exists in the
// current persisted snapshot
func (l *Ledger) AlreadyDecided(account, ticketID string) bool {
	_, ok := l.DecidedKeys()[domain.LedgerKey{Account: account, TicketID: ticketID}]
	return ok
}

// Append merges entries into the persisted snapshot, dedups by key keeping
// the last occurrence, and atomically replaces the file. On any failure the
// snapshot is left unchanged and the batch is not committed.
func (l *Ledger) Append(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	unlock, err := l.acquireFileLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	merged := dedupKeepLast(append(l.Load(), entries...))

	if err := l.write(merged); err != nil {
		return fmt.Errorf("write ledger snapshot: %w", err)
	}

	lgr.Printf("[INFO] ledger appended %d decisions, %d entries total", len(entries), len(merged))
	return nil
}

// dedupKeepLast removes duplicate keys keeping the latest value for each,
// rows stay in first-seen key order
func dedupKeepLast(entries []domain.LedgerEntry) []domain.LedgerEntry {
	byKey := make(map[domain.LedgerKey]domain.LedgerEntry, len(entries))
	order := make([]domain.LedgerKey, 0, len(entries))
	for _, e := range entries {
		key := e.Key()
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = e
	}

	out := make([]domain.LedgerEntry, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// read loads and parses the snapshot file
func (l *Ledger) read() ([]domain.LedgerEntry, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil, nil
	}

	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only access

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("snapshot has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read snapshot rows: %w", err)
	}
	if len(rows) < 2 { // header only or empty
		return nil, nil
	}

	entries := make([]domain.LedgerEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		entries = append(entries, parseRow(row))
	}
	return entries, nil
}

// parseRow converts one snapshot row, tolerant to short rows and bad
// timestamps so a hand-edited log never blocks loading
func parseRow(row []string) domain.LedgerEntry {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	ts, err := time.ParseInLocation(timeFormat, cell(0), time.Local)
	if err != nil {
		ts = time.Time{}
	}

	return domain.LedgerEntry{
		Timestamp:   ts,
		Account:     cell(1),
		TicketID:    cell(2),
		UserName:    cell(3),
		AnalystName: cell(4),
		Message:     cell(5),
		Status:      domain.Status(cell(6)),
	}
}

// write materializes the merged set into a temporary workbook and renames
// it over the snapshot, readers never observe a partial write
func (l *Ledger) write(entries []domain.LedgerEntry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // in-memory workbook

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name for row %d: %w", i+2, err)
		}
		row := []interface{}{
			e.Timestamp.Format(timeFormat), e.Account, e.TicketID,
			e.UserName, e.AnalystName, e.Message, string(e.Status),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	tmp := l.path + ".tmp.xlsx" // excelize refuses to save without a workbook extension
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// acquireFileLock takes an exclusive on-disk lock next to the snapshot so
// independent processes can't interleave read-merge-write cycles. Contention
// is retried with backoff.
func (l *Ledger) acquireFileLock(ctx context.Context) (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	lockPath := l.path + ".lock"
	retrier := repeater.NewBackoff(10, 50*time.Millisecond, repeater.WithMaxDelay(time.Second))

	err = retrier.Do(ctx, func() error {
		fh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // lock file next to the snapshot
		if err != nil {
			return err // held by another process, retry
		}
		fmt.Fprintf(fh, "%d\n", os.Getpid())
		return fh.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("lock %s busy: %w", lockPath, err)
	}

	return func() {
		if rmErr := os.Remove(lockPath); rmErr != nil {
			lgr.Printf("[WARN] failed to release ledger lock %s: %v", lockPath, rmErr)
		}
	}, nil
}
