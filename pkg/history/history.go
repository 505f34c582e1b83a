// Package history keeps an append-only SQLite audit trail of review
// decisions. Unlike the ledger snapshot it retains superseded rows, so a
// re-decision for the same ticket stays visible. Non-authoritative: the
// ledger snapshot alone drives deduplication.
package history

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"kudos/pkg/domain"
)

//go:embed schema.sql
var schema string

// History wraps the database connection for the decisions audit trail
type History struct {
	conn *sqlx.DB
}

// Config represents database configuration
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a new history store connection
func New(cfg Config) (*History, error) {
	if cfg.DSN == "" {
		cfg.DSN = "file:kudos_history.db?cache=shared&mode=rwc"
	}

	conn, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// configure connection pool
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// optimize SQLite settings
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	h := &History{conn: conn}

	if err := h.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return h, nil
}

// initSchema creates the database schema
func (h *History) initSchema(ctx context.Context) error {
	if _, err := h.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.conn.Close()
}

// Record appends all entries of a decision batch in one transaction
func (h *History) Record(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := h.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	query := `
		INSERT INTO decisions (decided_at, account, ticket_id, user_name, analyst_name, message, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query,
			e.Timestamp, e.Account, e.TicketID, e.UserName, e.AnalystName, e.Message, string(e.Status)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("insert decision: %w (rollback also failed: %s)", err, rbErr.Error())
			}
			return fmt.Errorf("insert decision: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// decisionRow is the db representation of one recorded decision
type decisionRow struct {
	ID          int64     `db:"id"`
	DecidedAt   time.Time `db:"decided_at"`
	Account     string    `db:"account"`
	TicketID    string    `db:"ticket_id"`
	UserName    string    `db:"user_name"`
	AnalystName string    `db:"analyst_name"`
	Message     string    `db:"message"`
	Status      string    `db:"status"`
}

// Decisions returns every recorded decision for the key, oldest first,
// superseded rows included
func (h *History) Decisions(ctx context.Context, account, ticketID string) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, decided_at, account, ticket_id, user_name, analyst_name, message, status
		FROM decisions
		WHERE account = ? AND ticket_id = ?
		ORDER BY id`

	var rows []decisionRow
	if err := h.conn.SelectContext(ctx, &rows, query, account, ticketID); err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}

	entries := make([]domain.LedgerEntry, len(rows))
	for i, r := range rows {
		entries[i] = domain.LedgerEntry{
			Timestamp:   r.DecidedAt,
			Account:     r.Account,
			TicketID:    r.TicketID,
			UserName:    r.UserName,
			AnalystName: r.AnalystName,
			Message:     r.Message,
			Status:      domain.Status(r.Status),
		}
	}
	return entries, nil
}

// Stats returns decision counts by status
func (h *History) Stats(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*) as count
		FROM decisions
		GROUP BY status`

	var counts []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	if err := h.conn.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("get decision stats: %w", err)
	}

	stats := make(map[string]int64, len(counts))
	for _, c := range counts {
		stats[c.Status] = c.Count
	}
	return stats, nil
}
