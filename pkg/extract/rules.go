// Package extract turns raw spreadsheet rows into feedback records using
// per-account declarative rules.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"kudos/pkg/config"
	"kudos/pkg/domain"
	"kudos/pkg/sheet"
)

// minPositiveRating is the threshold a numeric rating cell must reach
const minPositiveRating = 4

type ratingKind int

const (
	ratingThreshold ratingKind = iota
	ratingText
	ratingInverted
)

// Verdict is the outcome of evaluating one row
type Verdict int

// row evaluation outcomes
const (
	Accepted          Verdict = iota
	RejectedGroup             // assignment-group filter mismatch
	RejectedRating            // rating rule not satisfied
	RejectedBadRating         // rating cell failed numeric parsing
)

// Evaluator applies one account's compiled rules to raw rows. All column
// references are resolved to indices once at compile time, so row evaluation
// never parses designators.
type Evaluator struct {
	account string

	ticketCol  int
	messageCol int
	analystCol int

	userNameCol   int   // 0 when not configured
	userNameParts []int // nil when not configured

	rating    ratingKind
	ratingCol int
	positive  string
	valid     map[string]struct{}

	groupCol    int // 0 when no filter configured
	groupValues map[string]struct{}
}

// CompileRules resolves every column reference of the account config and
// returns an evaluator ready for row iteration. An invalid designator is a
// configuration error, reported once per account.
func CompileRules(account string, acc config.AccountConfig) (*Evaluator, error) {
	e := &Evaluator{account: account}

	var err error
	if e.ticketCol, err = sheet.ColumnIndex(acc.TicketID); err != nil {
		return nil, fmt.Errorf("resolve ticket_id column: %w", err)
	}
	if e.messageCol, err = sheet.ColumnIndex(acc.Message); err != nil {
		return nil, fmt.Errorf("resolve message column: %w", err)
	}
	if e.analystCol, err = sheet.ColumnIndex(acc.AnalystName); err != nil {
		return nil, fmt.Errorf("resolve analyst_name column: %w", err)
	}

	switch {
	case acc.RatingText != nil:
		e.rating = ratingText
		e.positive = acc.RatingText.PositiveValue
		if e.ratingCol, err = sheet.ColumnIndex(acc.RatingText.Column); err != nil {
			return nil, fmt.Errorf("resolve rating_text column: %w", err)
		}
	case acc.RatingInverted != nil:
		e.rating = ratingInverted
		e.valid = toSet(acc.RatingInverted.ValidValues)
		if e.ratingCol, err = sheet.ColumnIndex(acc.RatingInverted.Column); err != nil {
			return nil, fmt.Errorf("resolve rating_inverted column: %w", err)
		}
	default:
		e.rating = ratingThreshold
		if e.ratingCol, err = sheet.ColumnIndex(acc.Rating); err != nil {
			return nil, fmt.Errorf("resolve rating column: %w", err)
		}
	}

	if acc.AssignmentGroup != nil {
		e.groupValues = toSet(acc.AssignmentGroup.RequiredValue)
		if e.groupCol, err = sheet.ColumnIndex(acc.AssignmentGroup.Column); err != nil {
			return nil, fmt.Errorf("resolve assignment_group column: %w", err)
		}
	}

	switch {
	case len(acc.UserNameParts) > 0:
		e.userNameParts = make([]int, len(acc.UserNameParts))
		for i, ref := range acc.UserNameParts {
			if e.userNameParts[i], err = sheet.ColumnIndex(ref); err != nil {
				return nil, fmt.Errorf("resolve user_name_parts[%d] column: %w", i, err)
			}
		}
	case acc.UserName != "":
		if e.userNameCol, err = sheet.ColumnIndex(acc.UserName); err != nil {
			return nil, fmt.Errorf("resolve user_name column: %w", err)
		}
	}

	return e, nil
}

// Evaluate decides accept or reject for one raw row and assembles the record
// on acceptance. Pure, the first failing check rejects immediately.
func (e *Evaluator) Evaluate(row []string) (domain.FeedbackRecord, Verdict) {
	if e.groupCol > 0 {
		if _, ok := e.groupValues[sheet.CellValue(row, e.groupCol)]; !ok {
			return domain.FeedbackRecord{}, RejectedGroup
		}
	}

	ratingVal := sheet.CellValue(row, e.ratingCol)
	switch e.rating {
	case ratingThreshold:
		// non-numeric cells are a data-quality tolerance, reported apart
		// from an honest below-threshold rating
		f, err := strconv.ParseFloat(strings.TrimSpace(ratingVal), 64)
		if err != nil {
			return domain.FeedbackRecord{}, RejectedBadRating
		}
		if f < minPositiveRating {
			return domain.FeedbackRecord{}, RejectedRating
		}
	case ratingText:
		if ratingVal != e.positive {
			return domain.FeedbackRecord{}, RejectedRating
		}
	case ratingInverted:
		if _, ok := e.valid[ratingVal]; !ok {
			return domain.FeedbackRecord{}, RejectedRating
		}
	}

	rec := domain.FeedbackRecord{
		Account:     e.account,
		TicketID:    sheet.CellValue(row, e.ticketCol),
		Message:     sheet.CellValue(row, e.messageCol),
		AnalystName: sheet.CellValue(row, e.analystCol),
		UserName:    e.userName(row),
	}
	return rec, Accepted
}

// userName assembles the customer display name: joined non-empty parts,
// a single configured column, or empty when neither is configured
func (e *Evaluator) userName(row []string) string {
	if len(e.userNameParts) > 0 {
		parts := make([]string, 0, len(e.userNameParts))
		for _, col := range e.userNameParts {
			if v := sheet.CellValue(row, col); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, " ")
	}
	if e.userNameCol > 0 {
		return sheet.CellValue(row, e.userNameCol)
	}
	return ""
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
