package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kudos/pkg/config"
	"kudos/pkg/domain"
	"kudos/pkg/ledger"
)

func writeWorkbook(t *testing.T, dir, name string, rows [][]interface{}) {
	t.Helper()

	f := excelize.NewFile()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(filepath.Join(dir, name)))
	require.NoError(t, f.Close())
}

func accountConfig() config.AccountConfig {
	return config.AccountConfig{
		SheetName: "Sheet1", HeaderRow: 1,
		TicketID: "A", Message: "B", AnalystName: "C", Rating: "D",
	}
}

// fakeLedger is an in-memory Ledger for focused pipeline tests
type fakeLedger struct {
	decided  map[domain.LedgerKey]struct{}
	appended []domain.LedgerEntry
	failing  bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{decided: make(map[domain.LedgerKey]struct{})}
}

func (f *fakeLedger) DecidedKeys() map[domain.LedgerKey]struct{} { return f.decided }

func (f *fakeLedger) Append(_ context.Context, entries []domain.LedgerEntry) error {
	if f.failing {
		return fmt.Errorf("disk full")
	}
	f.appended = append(f.appended, entries...)
	for _, e := range entries {
		f.decided[e.Key()] = struct{}{}
	}
	return nil
}

func TestPipeline_Run_FiltersMessages(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "AccountX.xlsx", [][]interface{}{
		{"Ticket", "Feedback", "Analyst", "Rating"},
		{"T1", "Great service", "Alice", 5},
		{"T2", "", "Bob", 5},
		{"T3", ".", "Bob", 5},
		{"T4", "n/a", "Bob", 5},
		{"T5", "N/A", "Bob", 5},
		{"T6", "none", "Bob", 5},
		{"T7", "Really helpful", "Carol", 4},
	})

	p := New(Config{ImportsDir: dir, Accounts: map[string]config.AccountConfig{"AccountX": accountConfig()}},
		newFakeLedger(), nil, nil)

	open, err := p.Run(context.Background())
	require.NoError(t, err)

	records := open["AccountX"]
	require.Len(t, records, 2)
	assert.Equal(t, "T1", records[0].TicketID)
	assert.Equal(t, "T7", records[1].TicketID)
}

func TestPipeline_Run_SkipsDecided(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "AccountX.xlsx", [][]interface{}{
		{"Ticket", "Feedback", "Analyst", "Rating"},
		{"T1", "Great service", "Alice", 5},
		{"T2", "Really helpful", "Carol", 4},
	})

	led := newFakeLedger()
	led.decided[domain.LedgerKey{Account: "AccountX", TicketID: "T1"}] = struct{}{}

	p := New(Config{ImportsDir: dir, Accounts: map[string]config.AccountConfig{"AccountX": accountConfig()}},
		led, nil, nil)

	open, err := p.Run(context.Background())
	require.NoError(t, err)

	records := open["AccountX"]
	require.Len(t, records, 1)
	assert.Equal(t, "T2", records[0].TicketID)
}

func TestPipeline_Run_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "AccountX.xlsx", [][]interface{}{
		{"Ticket", "Feedback", "Analyst", "Rating"},
		{"T1", "Great service", "Alice", 5},
		{"T2", "Really helpful", "Carol", 4},
	})

	p := New(Config{ImportsDir: dir, Accounts: map[string]config.AccountConfig{"AccountX": accountConfig()}},
		newFakeLedger(), nil, nil)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPipeline_Run_UnconfiguredAccountSkipped(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "Unknown.xlsx", [][]interface{}{
		{"Ticket", "Feedback", "Analyst", "Rating"},
		{"T1", "Great service", "Alice", 5},
	})

	p := New(Config{ImportsDir: dir, Accounts: map[string]config.AccountConfig{}}, newFakeLedger(), nil, nil)

	open, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPipeline_Run_MissingSheetSkipsAccount(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "AccountX.xlsx", [][]interface{}{
		{"Ticket", "Feedback", "Analyst", "Rating"},
		{"T1", "Great service", "Alice", 5},
	})

	acc := accountConfig()
	acc.SheetName = "Missing"
	p := New(Config{ImportsDir: dir, Accounts: map[string]config.AccountConfig{"AccountX": acc}},
		newFakeLedger(), nil, nil)

	// per-account failure absorbed, run succeeds without the account
	open, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPipeline_Run_MissingImportsDir(t *testing.T) {
	p := New(Config{ImportsDir: filepath.Join(t.TempDir(), "absent")}, newFakeLedger(), nil, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
}

func TestPipeline_Decide(t *testing.T) {
	led := newFakeLedger()
	p := New(Config{ImportsDir: t.TempDir()}, led, nil, nil)

	records := []domain.FeedbackRecord{
		{Account: "AccountX", TicketID: "T1", Message: "Great", AnalystName: "Alice"},
		{Account: "AccountX", TicketID: "T2", Message: "Nice", AnalystName: "Bob"},
	}
	require.NoError(t, p.Decide(context.Background(), records, domain.StatusApproved))

	require.Len(t, led.appended, 2)
	assert.Equal(t, domain.StatusApproved, led.appended[0].Status)
	assert.Equal(t, "T1", led.appended[0].TicketID)
	assert.False(t, led.appended[0].Timestamp.IsZero())
}

func TestPipeline_Decide_InvalidStatus(t *testing.T) {
	p := New(Config{}, newFakeLedger(), nil, nil)

	err := p.Decide(context.Background(), []domain.FeedbackRecord{{TicketID: "T1"}}, domain.Status("Maybe"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid decision status")
}

func TestPipeline_Decide_LedgerFailureNotCommitted(t *testing.T) {
	led := newFakeLedger()
	led.failing = true
	p := New(Config{}, led, nil, nil)

	err := p.Decide(context.Background(), []domain.FeedbackRecord{{Account: "AccountX", TicketID: "T1"}}, domain.StatusApproved)
	require.Error(t, err)
	assert.Empty(t, led.appended)
}

// recorderStub captures history batches, optionally failing
type recorderStub struct {
	batches [][]domain.LedgerEntry
	failing bool
}

func (r *recorderStub) Record(_ context.Context, entries []domain.LedgerEntry) error {
	if r.failing {
		return fmt.Errorf("history unavailable")
	}
	r.batches = append(r.batches, entries)
	return nil
}

func TestPipeline_Decide_HistoryMirror(t *testing.T) {
	rec := &recorderStub{}
	p := New(Config{}, newFakeLedger(), rec, nil)

	require.NoError(t, p.Decide(context.Background(),
		[]domain.FeedbackRecord{{Account: "AccountX", TicketID: "T1"}}, domain.StatusRejected))
	require.Len(t, rec.batches, 1)
}

func TestPipeline_Decide_HistoryFailureIsNotFatal(t *testing.T) {
	led := newFakeLedger()
	p := New(Config{}, led, &recorderStub{failing: true}, nil)

	// ledger committed, mirror failure only warns
	require.NoError(t, p.Decide(context.Background(),
		[]domain.FeedbackRecord{{Account: "AccountX", TicketID: "T1"}}, domain.StatusApproved))
	assert.Len(t, led.appended, 1)
}

func TestPipeline_DraftApproved_NotConfigured(t *testing.T) {
	p := New(Config{}, newFakeLedger(), nil, nil)

	err := p.DraftApproved(context.Background(), []domain.FeedbackRecord{{TicketID: "T1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestPipeline_EndToEndWithLedger(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "AccountX.xlsx", [][]interface{}{
		{"Ticket", "Feedback", "Analyst", "Rating"},
		{"T1", "Great service", "Alice", 5},
		{"T2", "Really helpful", "Carol", 4},
	})

	led := ledger.New(filepath.Join(dir, "logs", "approved_feedbacks.xlsx"))
	p := New(Config{ImportsDir: dir, Accounts: map[string]config.AccountConfig{"AccountX": accountConfig()}},
		led, nil, nil)
	ctx := context.Background()

	open, err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, open["AccountX"], 2)

	// approve the first record, re-run must not surface it again
	require.NoError(t, p.Decide(ctx, open["AccountX"][:1], domain.StatusApproved))

	open, err = p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, open["AccountX"], 1)
	assert.Equal(t, "T2", open["AccountX"][0].TicketID)
}

func TestIsReviewable(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Great service", true},
		{"", false},
		{".", false},
		{"n/a", false},
		{"N/A", false},
		{"none", false},
		{"None", false},
		{"  ", false},
		{" n/a ", false},
		{"ok", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.message), func(t *testing.T) {
			assert.Equal(t, tt.want, IsReviewable(tt.message))
		})
	}
}
