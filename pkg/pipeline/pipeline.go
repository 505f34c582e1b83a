// Package pipeline orchestrates extraction, message-quality filtering and
// ledger deduplication across all configured accounts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"kudos/pkg/config"
	"kudos/pkg/domain"
	"kudos/pkg/extract"
)

// Ledger interface for pipeline operations
type Ledger interface {
	DecidedKeys() map[domain.LedgerKey]struct{}
	Append(ctx context.Context, entries []domain.LedgerEntry) error
}

// HistoryRecorder mirrors decision batches into the audit trail
type HistoryRecorder interface {
	Record(ctx context.Context, entries []domain.LedgerEntry) error
}

// Drafter generates recognition drafts for approved records
type Drafter interface {
	Draft(ctx context.Context, records []domain.FeedbackRecord) error
}

// Config holds pipeline configuration
type Config struct {
	ImportsDir string
	Accounts   map[string]config.AccountConfig
	MaxWorkers int
}

// Pipeline runs extraction and filtering over the imports directory and
// records review decisions
type Pipeline struct {
	cfg     Config
	ledger  Ledger
	history HistoryRecorder // optional, nil disables the mirror
	drafter Drafter         // optional, nil disables drafting
}

// workbook extensions picked up from the imports directory
var workbookExts = map[string]bool{".xlsx": true, ".xlsm": true}

// New creates a pipeline. History and drafter may be nil.
func New(cfg Config, ledger Ledger, history HistoryRecorder, drafter Drafter) *Pipeline {
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 4
	}
	return &Pipeline{cfg: cfg, ledger: ledger, history: history, drafter: drafter}
}

// Run extracts candidate feedbacks for every discovered account and returns
// the open set: records with a reviewable message whose key is not yet in
// the ledger. Re-running against unchanged inputs yields the same result.
func (p *Pipeline) Run(ctx context.Context) (map[string][]domain.FeedbackRecord, error) {
	files, err := p.discover()
	if err != nil {
		return nil, err
	}

	raw := make(map[string][]domain.FeedbackRecord, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)

	for account, path := range files {
		acc, ok := p.cfg.Accounts[account]
		if !ok {
			// expected degraded input, a source without configuration
			lgr.Printf("[WARN] no config found for account %q, file %s skipped", account, path)
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			ext, err := extract.New(account, acc)
			if err != nil {
				// configuration error, surfaced once per account
				lgr.Printf("[ERROR] account %q skipped: %v", account, err)
				return nil
			}

			records, err := ext.ExtractFile(path)
			if err != nil {
				if errors.Is(err, extract.ErrSheetNotFound) {
					lgr.Printf("[ERROR] account %q skipped, %v in %s", account, err, path)
					return nil
				}
				lgr.Printf("[ERROR] account %q extraction failed: %v", account, err)
				return nil
			}

			mu.Lock()
			raw[account] = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extraction interrupted: %w", err)
	}

	return p.filterOpen(raw), nil
}

// discover maps account names to workbook paths in the imports directory,
// account name is the file name without extension
func (p *Pipeline) discover() (map[string]string, error) {
	entries, err := os.ReadDir(p.cfg.ImportsDir)
	if err != nil {
		return nil, fmt.Errorf("read imports dir %s: %w", p.cfg.ImportsDir, err)
	}

	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "~$") { // office lock files
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !workbookExts[ext] {
			continue
		}
		account := strings.TrimSuffix(name, filepath.Ext(name))
		files[account] = filepath.Join(p.cfg.ImportsDir, name)
	}
	return files, nil
}

// filterOpen drops records without a reviewable message and records already
// decided per the ledger, row order preserved
func (p *Pipeline) filterOpen(raw map[string][]domain.FeedbackRecord) map[string][]domain.FeedbackRecord {
	decided := p.ledger.DecidedKeys()

	open := make(map[string][]domain.FeedbackRecord, len(raw))
	for account, records := range raw {
		kept := make([]domain.FeedbackRecord, 0, len(records))
		for _, rec := range records {
			if !IsReviewable(rec.Message) {
				continue
			}
			if _, done := decided[rec.Key()]; done {
				continue
			}
			kept = append(kept, rec)
		}
		open[account] = kept
	}
	return open
}

// IsReviewable reports whether the message carries reviewable content.
// Empty, ".", "n/a" and "none" placeholders do not, regardless of case.
func IsReviewable(message string) bool {
	switch strings.ToLower(strings.TrimSpace(message)) {
	case "", ".", "n/a", "none":
		return false
	}
	return true
}

// Decide logs a terminal decision for the records. The batch is committed
// only when the ledger append succeeds, the history mirror is best-effort.
func (p *Pipeline) Decide(ctx context.Context, records []domain.FeedbackRecord, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid decision status %q", status)
	}
	if len(records) == 0 {
		return nil
	}

	now := time.Now()
	entries := make([]domain.LedgerEntry, len(records))
	for i, rec := range records {
		entries[i] = domain.NewLedgerEntry(rec, status, now)
	}

	if err := p.ledger.Append(ctx, entries); err != nil {
		return fmt.Errorf("log decisions: %w", err)
	}

	if p.history != nil {
		if err := p.history.Record(ctx, entries); err != nil {
			// the snapshot is authoritative, a failed mirror is a warning
			lgr.Printf("[WARN] decision history mirror failed: %v", err)
		}
	}

	lgr.Printf("[INFO] logged %d %s decisions", len(entries), status)
	return nil
}

// DraftApproved hands the records to the email drafter. Decisions must be
// logged beforehand, drafting failures never undo them.
func (p *Pipeline) DraftApproved(ctx context.Context, records []domain.FeedbackRecord) error {
	if p.drafter == nil {
		return fmt.Errorf("email drafting is not configured")
	}
	return p.drafter.Draft(ctx, records)
}

// RunPeriodic re-runs extraction on the interval until the context is
// canceled, logging per-account open counts
func (p *Pipeline) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// run immediately on start
	p.logOpenCounts(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logOpenCounts(ctx)
		}
	}
}

func (p *Pipeline) logOpenCounts(ctx context.Context) {
	open, err := p.Run(ctx)
	if err != nil {
		lgr.Printf("[ERROR] periodic scan failed: %v", err)
		return
	}
	total := 0
	for account, records := range open {
		total += len(records)
		lgr.Printf("[DEBUG] account %s: %d open feedbacks", account, len(records))
	}
	lgr.Printf("[INFO] periodic scan: %d open feedbacks across %d accounts", total, len(open))
}
