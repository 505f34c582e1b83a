// Package email renders recognition drafts for approved feedback records.
// It resolves analyst addresses through the per-account recipients table and
// writes one draft file per record, delivery stays with the operator's mail
// client.
package email

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"

	"kudos/pkg/config"
	"kudos/pkg/domain"
)

//go:embed templates/*.html
var defaultTemplates embed.FS

// subject lines per template language
var subjects = map[string]string{
	"english":    "[%s] Recognition of Excellent Service",
	"spanish":    "[%s] Reconocimiento de Servicio Excelente",
	"portuguese": "[%s] Reconhecimento de Excelente Atendimento",
}

// template file per language
var templateFiles = map[string]string{
	"english":    "feedback_en.html",
	"spanish":    "feedback_es.html",
	"portuguese": "feedback_pt.html",
}

// Drafter generates .eml draft files for approved feedbacks
type Drafter struct {
	draftsDir    string
	templatesDir string
	language     string
	sender       string
	recipients   config.Recipients
	policy       *bluemonday.Policy
}

// New creates a drafter for the configured language and recipients table
func New(cfg config.EmailConfig, recipients config.Recipients) *Drafter {
	return &Drafter{
		draftsDir:    cfg.DraftsDir,
		templatesDir: cfg.TemplatesDir,
		language:     cfg.Language,
		sender:       cfg.Sender,
		recipients:   recipients,
		policy:       bluemonday.StrictPolicy(),
	}
}

// Draft renders and writes one draft file per record. The whole batch is a
// single outcome, the first failure aborts and is returned to the caller.
func (d *Drafter) Draft(ctx context.Context, records []domain.FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}

	tmpl, err := d.loadTemplate()
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	if err := os.MkdirAll(d.draftsDir, 0o750); err != nil {
		return fmt.Errorf("create drafts dir: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.draftOne(tmpl, rec); err != nil {
			return fmt.Errorf("draft for ticket %s (%s): %w", rec.TicketID, rec.Account, err)
		}
	}

	lgr.Printf("[INFO] generated %d email drafts in %s", len(records), d.draftsDir)
	return nil
}

// draftOne renders and writes the draft file for a single record
func (d *Drafter) draftOne(tmpl *template.Template, rec domain.FeedbackRecord) error {
	to, cc := d.resolve(rec.Account, rec.AnalystName)
	if to == "" {
		lgr.Printf("[WARN] no address for analyst %q in account %q, draft left unaddressed", rec.AnalystName, rec.Account)
	}

	var body strings.Builder
	data := struct {
		AnalystName string
		UserName    string
		TicketID    string
		Message     template.HTML
	}{
		AnalystName: rec.AnalystName,
		UserName:    rec.UserName,
		TicketID:    rec.TicketID,
		// strict policy escapes everything, the result is safe to embed
		Message: template.HTML(d.policy.Sanitize(rec.Message)), //nolint:gosec // sanitized above
	}
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", d.sender)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	if len(cc) > 0 {
		fmt.Fprintf(&msg, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&msg, "Subject: "+subjects[d.language]+"\r\n", rec.Account)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body.String())

	name := draftFileName(rec.Account, rec.TicketID)
	path := filepath.Join(d.draftsDir, name)
	if err := os.WriteFile(path, []byte(msg.String()), 0o600); err != nil {
		return fmt.Errorf("write draft %s: %w", path, err)
	}
	return nil
}

// resolve finds the analyst address and the group CC list, groups are
// scanned in name order so resolution is deterministic
func (d *Drafter) resolve(account, analyst string) (to string, cc []string) {
	acc, ok := d.recipients[account]
	if !ok {
		return "", nil
	}

	names := make([]string, 0, len(acc.Groups))
	for name := range acc.Groups {
		names = append(names, name)
	}
	// map iteration order is random, sort for a stable pick
	sort.Strings(names)

	for _, name := range names {
		group := acc.Groups[name]
		if addr, ok := group.Analysts[analyst]; ok {
			return addr, group.CCEmails
		}
	}
	return "", nil
}

// loadTemplate reads the language template, override dir first, embedded
// defaults otherwise
func (d *Drafter) loadTemplate() (*template.Template, error) {
	file := templateFiles[d.language]

	if d.templatesDir != "" {
		override := filepath.Join(d.templatesDir, file)
		if _, err := os.Stat(override); err == nil {
			return template.ParseFiles(override)
		}
	}

	return template.ParseFS(defaultTemplates, "templates/"+file)
}

// draftFileName builds a filesystem-safe name for the draft
func draftFileName(account, ticketID string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
				return r
			default:
				return '_'
			}
		}, s)
	}
	return clean(account) + "-" + clean(ticketID) + ".eml"
}
