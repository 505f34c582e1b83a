package domain

import "time"

// FeedbackRecord represents one extracted customer-feedback row.
// Records are rebuilt from spreadsheet content on every extraction pass
// and never mutated in place.
type FeedbackRecord struct {
	Account     string `json:"account"`
	TicketID    string `json:"ticket_id"`
	Message     string `json:"message"`
	AnalystName string `json:"analyst_name"`
	UserName    string `json:"user_name,omitempty"`
}

// Key returns the deduplication key for the record
func (r FeedbackRecord) Key() LedgerKey {
	return LedgerKey{Account: r.Account, TicketID: r.TicketID}
}

// Status represents a terminal review decision
type Status string

// terminal decision statuses, persisted verbatim in the ledger snapshot
const (
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// Valid reports whether the status is one of the known terminal values
func (s Status) Valid() bool {
	return s == StatusApproved || s == StatusRejected
}

// LedgerKey identifies a decided record, unique within the ledger
type LedgerKey struct {
	Account  string
	TicketID string
}

// LedgerEntry represents one persisted decision. A later entry for the same
// key supersedes the earlier one on append.
type LedgerEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Account     string    `json:"account"`
	TicketID    string    `json:"ticket_id"`
	UserName    string    `json:"user_name,omitempty"`
	AnalystName string    `json:"analyst_name"`
	Message     string    `json:"message"`
	Status      Status    `json:"status"`
}

// Key returns the deduplication key for the entry
func (e LedgerEntry) Key() LedgerKey {
	return LedgerKey{Account: e.Account, TicketID: e.TicketID}
}

// NewLedgerEntry builds a decision entry for a feedback record
func NewLedgerEntry(rec FeedbackRecord, status Status, ts time.Time) LedgerEntry {
	return LedgerEntry{
		Timestamp:   ts,
		Account:     rec.Account,
		TicketID:    rec.TicketID,
		UserName:    rec.UserName,
		AnalystName: rec.AnalystName,
		Message:     rec.Message,
		Status:      status,
	}
}
