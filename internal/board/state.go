// Package board is the client-side board store: pure reducers over State
// that return the persistence effects an action needs, and a Board that
// applies them optimistically and drains the effects in order.
package board

import (
	"fmt"
	"strings"
	"time"

	"taskboard/internal/domain"
	"taskboard/internal/workflow"
)

type State struct {
	Tasks []domain.Task
	// Filter shows one owner's tasks; empty shows everyone's.
	Filter string
	// Pending is the move waiting for an estimated completion date.
	Pending *PendingMove
}

type PendingMove struct {
	TaskID string
	From   domain.Column
}

type EffectKind int

const (
	EffectCreate EffectKind = iota + 1
	EffectUpdate
	EffectDelete
	EffectHistory
)

func (k EffectKind) String() string {
	switch k {
	case EffectCreate:
		return "create"
	case EffectUpdate:
		return "update"
	case EffectDelete:
		return "delete"
	case EffectHistory:
		return "history"
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect is one store write produced by a reducer.
type Effect struct {
	Kind    EffectKind
	TaskID  string
	Task    domain.Task
	Updates map[string]any
	Entry   domain.HistoryEntry
}

// Env carries what reducers need from outside: who acts, when, and the policy.
type Env struct {
	Actor  string
	Now    time.Time
	Policy workflow.Policy
}

// Columns groups the visible tasks by column, keeping state order.
func (s State) Columns() map[domain.Column][]domain.Task {
	out := make(map[domain.Column][]domain.Task, len(domain.Columns))
	for _, c := range domain.Columns {
		out[c] = nil
	}
	for _, t := range s.Visible() {
		out[t.Column] = append(out[t.Column], t)
	}
	return out
}

// Visible returns the tasks matching the filter.
func (s State) Visible() []domain.Task {
	if s.Filter == "" {
		return s.Tasks
	}
	var out []domain.Task
	for _, t := range s.Tasks {
		if strings.EqualFold(t.Username, s.Filter) {
			out = append(out, t)
		}
	}
	return out
}

func (s State) Find(id string) (domain.Task, bool) {
	i := s.index(id)
	if i < 0 {
		return domain.Task{}, false
	}
	return s.Tasks[i], true
}

func (s State) index(id string) int {
	for i, t := range s.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s State) replace(t domain.Task) State {
	tasks := make([]domain.Task, len(s.Tasks))
	copy(tasks, s.Tasks)
	tasks[s.index(t.ID)] = t
	s.Tasks = tasks
	return s
}

// Load replaces the task list, typically after a refetch.
func Load(s State, tasks []domain.Task) State {
	s.Tasks = append([]domain.Task(nil), tasks...)
	s.Pending = nil
	return s
}

func SetFilter(s State, username string) State {
	s.Filter = strings.TrimSpace(username)
	return s
}

// AddTask appends t (already carrying id, owner and createdAt) to the board.
func AddTask(s State, t domain.Task, env Env) (State, []Effect, error) {
	if strings.TrimSpace(t.Content) == "" {
		return s, nil, domain.Invalid("content", "is required")
	}
	if _, ok := s.Find(t.ID); ok {
		return s, nil, domain.Invalid("id", "already on the board")
	}
	if t.Column == "" {
		t.Column = domain.ColumnTodo
	}
	entry := workflow.CreatedEntry(t, env.Actor, env.Now)
	t.History = append(t.History, entry)
	s.Tasks = append(append([]domain.Task(nil), s.Tasks...), t)
	return s, []Effect{
		{Kind: EffectCreate, TaskID: t.ID, Task: t},
		{Kind: EffectHistory, TaskID: t.ID, Entry: entry},
	}, nil
}

// MoveTask runs the lifecycle workflow for a column change. A first move into
// "inprogress" leaves the task where it is and records Pending instead.
func MoveTask(s State, id string, to domain.Column, env Env) (State, []Effect, error) {
	if s.Pending != nil {
		return s, nil, domain.Invalid("column", "an estimated completion date is still pending")
	}
	t, ok := s.Find(id)
	if !ok {
		return s, nil, domain.ErrNotFound
	}
	res, err := workflow.RequestMove(t, to, env.Actor, env.Now, env.Policy)
	if err != nil {
		return s, nil, err
	}
	if res.NeedsEstimate {
		s.Pending = &PendingMove{TaskID: id, From: t.Column}
		return s, nil, nil
	}
	if !res.Changed {
		return s, nil, nil
	}
	return s.replace(res.Task), moveEffects(res), nil
}

// ConfirmEstimate completes the pending move. A rejected date keeps the move
// pending and the task untouched.
func ConfirmEstimate(s State, date string, env Env) (State, []Effect, error) {
	if s.Pending == nil {
		return s, nil, domain.Invalid("estimatedCompletion", "no move is waiting for an estimate")
	}
	t, ok := s.Find(s.Pending.TaskID)
	if !ok {
		s.Pending = nil
		return s, nil, domain.ErrNotFound
	}
	res, err := workflow.ConfirmEstimate(t, date, env.Actor, env.Now, env.Policy)
	if err != nil {
		return s, nil, err
	}
	s.Pending = nil
	return s.replace(res.Task), moveEffects(res), nil
}

// CancelEstimate drops the pending move; nothing is persisted.
func CancelEstimate(s State) State {
	s.Pending = nil
	return s
}

// TaskEdit holds the fields of an edit dialog. Nil leaves a field alone; an
// empty string clears an optional one. Timestamps are RFC 3339 and the
// estimate is a YYYY-MM-DD date.
type TaskEdit struct {
	Content             *string
	Owner               *string
	CreatedAt           *string
	InProgressAt        *string
	EstimatedCompletion *string
	DoneAt              *string
}

// EditTask applies an edit dialog. The in-progress and done stamps are only
// editable once the task is done, and the estimate once it has started.
func EditTask(s State, id string, edit TaskEdit, env Env) (State, []Effect, error) {
	t, ok := s.Find(id)
	if !ok {
		return s, nil, domain.ErrNotFound
	}
	next := t.Clone()
	if edit.Content != nil {
		if strings.TrimSpace(*edit.Content) == "" {
			return s, nil, domain.Invalid("content", "is required")
		}
		next.Content = *edit.Content
	}
	if edit.Owner != nil {
		owner := strings.TrimSpace(*edit.Owner)
		if owner == "" {
			return s, nil, domain.Invalid("username", "is required")
		}
		next.Username = owner
	}
	if edit.CreatedAt != nil {
		created, err := parseStamp("createdAt", *edit.CreatedAt)
		if err != nil {
			return s, nil, err
		}
		if created == nil {
			return s, nil, domain.Invalid("createdAt", "is required")
		}
		next.CreatedAt = *created
	}
	done := t.Column == domain.ColumnDone
	started := done || t.Column == domain.ColumnInProgress
	if edit.InProgressAt != nil {
		if !done {
			return s, nil, domain.Invalid("inProgressAt", "can only be edited on a done task")
		}
		v, err := parseStamp("inProgressAt", *edit.InProgressAt)
		if err != nil {
			return s, nil, err
		}
		next.InProgressAt = v
	}
	if edit.EstimatedCompletion != nil {
		if !started {
			return s, nil, domain.Invalid("estimatedCompletion", "can only be edited once the task is in progress")
		}
		v, err := parseDate("estimatedCompletion", *edit.EstimatedCompletion)
		if err != nil {
			return s, nil, err
		}
		next.EstimatedCompletion = v
	}
	if edit.DoneAt != nil {
		if !done {
			return s, nil, domain.Invalid("doneAt", "can only be edited on a done task")
		}
		v, err := parseStamp("doneAt", *edit.DoneAt)
		if err != nil {
			return s, nil, err
		}
		next.DoneAt = v
	}
	if sameFields(t, next) {
		return s, nil, nil
	}
	entry := workflow.EditedEntry(next, t.Content, env.Actor, env.Now)
	next.History = append(next.History, entry)
	return s.replace(next), []Effect{
		{Kind: EffectUpdate, TaskID: id, Updates: map[string]any{
			"content":             next.Content,
			"username":            next.Username,
			"createdAt":           next.CreatedAt,
			"inProgressAt":        nullable(next.InProgressAt),
			"estimatedCompletion": nullable(next.EstimatedCompletion),
			"doneAt":              nullable(next.DoneAt),
		}},
		{Kind: EffectHistory, TaskID: id, Entry: entry},
	}, nil
}

func parseStamp(field, raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, domain.Invalid(field, "must be an RFC 3339 timestamp")
	}
	out := domain.FormatTime(ts)
	return &out, nil
}

func parseDate(field, raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if _, err := time.Parse(domain.DateLayout, raw); err != nil {
		return nil, domain.Invalid(field, "must be a YYYY-MM-DD date")
	}
	return &raw, nil
}

func sameFields(a, b domain.Task) bool {
	return a.Content == b.Content &&
		a.Username == b.Username &&
		a.CreatedAt == b.CreatedAt &&
		sameString(a.InProgressAt, b.InProgressAt) &&
		sameString(a.EstimatedCompletion, b.EstimatedCompletion) &&
		sameString(a.DoneAt, b.DoneAt)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func DeleteTask(s State, id string, env Env) (State, []Effect, error) {
	i := s.index(id)
	if i < 0 {
		return s, nil, domain.ErrNotFound
	}
	t := s.Tasks[i]
	tasks := make([]domain.Task, 0, len(s.Tasks)-1)
	tasks = append(tasks, s.Tasks[:i]...)
	tasks = append(tasks, s.Tasks[i+1:]...)
	s.Tasks = tasks
	if s.Pending != nil && s.Pending.TaskID == id {
		s.Pending = nil
	}
	return s, []Effect{
		{Kind: EffectDelete, TaskID: id},
		{Kind: EffectHistory, TaskID: id, Entry: workflow.DeletedEntry(t, env.Actor, env.Now)},
	}, nil
}

// moveEffects persists every mutable field of the moved task, so cleared
// timestamps are written as nulls.
func moveEffects(res workflow.Result) []Effect {
	t := res.Task
	return []Effect{
		{Kind: EffectUpdate, TaskID: t.ID, Updates: map[string]any{
			"content":             t.Content,
			"username":            t.Username,
			"column":              string(t.Column),
			"inProgressAt":        nullable(t.InProgressAt),
			"estimatedCompletion": nullable(t.EstimatedCompletion),
			"doneAt":              nullable(t.DoneAt),
		}},
		{Kind: EffectHistory, TaskID: t.ID, Entry: res.Entry},
	}
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
