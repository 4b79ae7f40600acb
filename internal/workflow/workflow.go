// Package workflow holds the task lifecycle rules: which column transitions need
// extra input, which timestamps they stamp or clear, and the history line each
// action produces. Everything here is pure; callers persist the results.
package workflow

import (
	"strings"
	"time"

	"taskboard/internal/domain"
)

// Policy toggles the behaviours that are deliberately configurable.
type Policy struct {
	// ResetDoneOnReopen clears doneAt when a task leaves "done", so a later
	// completion is stamped again. Off keeps the first completion time forever.
	ResetDoneOnReopen bool
}

// Result is the outcome of a transition request.
type Result struct {
	Task  domain.Task
	Entry domain.HistoryEntry
	// Changed is false for no-op requests and suspended moves.
	Changed bool
	// NeedsEstimate means the move is suspended until ConfirmEstimate or a cancel.
	NeedsEstimate bool
}

// RequestMove asks to move t into column to on behalf of actor.
//
// A first entry into "inprogress" does not complete: the result carries
// NeedsEstimate and the unchanged task. Every other transition is applied
// directly and yields the updated task plus its history entry.
func RequestMove(t domain.Task, to domain.Column, actor string, now time.Time, p Policy) (Result, error) {
	if !to.Valid() {
		return Result{Task: t}, domain.Invalid("column", "must be one of todo, inprogress, done")
	}
	if to == t.Column {
		return Result{Task: t}, nil
	}
	if to == domain.ColumnInProgress && t.InProgressAt == nil {
		return Result{Task: t, NeedsEstimate: true}, nil
	}
	return transition(t, t.Clone(), to, actor, now, p), nil
}

// ConfirmEstimate completes a suspended move into "inprogress" with the
// user-supplied estimated completion date. On validation failure nothing changes.
func ConfirmEstimate(t domain.Task, date, actor string, now time.Time, p Policy) (Result, error) {
	date = strings.TrimSpace(date)
	if err := ValidateEstimate(date, now); err != nil {
		return Result{Task: t}, err
	}
	next := t.Clone()
	started := domain.FormatTime(now)
	next.InProgressAt = &started
	next.EstimatedCompletion = &date
	return transition(t, next, domain.ColumnInProgress, actor, now, p), nil
}

func transition(prev, next domain.Task, to domain.Column, actor string, now time.Time, p Policy) Result {
	next.Column = to
	switch to {
	case domain.ColumnDone:
		if next.DoneAt == nil {
			stamp := domain.FormatTime(now)
			next.DoneAt = &stamp
		}
	case domain.ColumnTodo:
		next.InProgressAt = nil
		next.EstimatedCompletion = nil
	}
	if p.ResetDoneOnReopen && prev.Column == domain.ColumnDone && to != domain.ColumnDone {
		next.DoneAt = nil
	}
	entry := newEntry(next, actor, MoveText(actor, next.Username, next.Content, to), now)
	next.History = append(next.History, entry)
	return Result{Task: next, Entry: entry, Changed: true}
}

// ValidateEstimate checks an estimated completion date: YYYY-MM-DD, a year of
// at most four digits, and not before today in now's location.
func ValidateEstimate(date string, now time.Time) error {
	if date == "" {
		return domain.Invalid("estimatedCompletion", "is required")
	}
	year, _, _ := strings.Cut(date, "-")
	if len(year) > 4 {
		return domain.Invalid("estimatedCompletion", "year must have at most 4 digits")
	}
	selected, err := time.ParseInLocation(domain.DateLayout, date, now.Location())
	if err != nil {
		return domain.Invalid("estimatedCompletion", "must be a date in YYYY-MM-DD format")
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if selected.Before(today) {
		return domain.Invalid("estimatedCompletion", "cannot be in the past")
	}
	return nil
}
