package repo

import (
	"context"
	"errors"

	"taskboard/internal/domain"
)

var (
	ErrNotFound  = domain.ErrNotFound
	ErrDuplicate = errors.New("duplicate id")
)

// Store is the persistence surface shared by the SQLite and Mongo backends:
// the Task Store, the History Store and the audit log.
type Store interface {
	InsertTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, u TaskUpdate) error
	DeleteTask(ctx context.Context, id string) error

	InsertHistory(ctx context.Context, e domain.HistoryEntry) (domain.HistoryEntry, error)
	LatestHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	// TaskHistory returns entries grouped by task id, oldest first.
	TaskHistory(ctx context.Context, taskIDs []string) (map[string][]domain.HistoryEntry, error)
	ClearHistory(ctx context.Context) (int64, error)

	InsertAudit(ctx context.Context, e domain.AuditEntry) error
	LatestAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)

	Close() error
}

// TaskFilters narrows ListTasks. Username matches case-insensitively.
type TaskFilters struct {
	Username string
}

// Field is an optional column update: Set with a nil Value clears the column.
type Field struct {
	Set   bool
	Value *string
}

func SetField(v string) Field { return Field{Set: true, Value: &v} }
func ClearField() Field       { return Field{Set: true} }

// TaskUpdate lists the mutable task fields; nil / unset entries are left alone.
type TaskUpdate struct {
	Content             *string
	Username            *string
	Column              *domain.Column
	CreatedAt           *string
	InProgressAt        Field
	EstimatedCompletion Field
	DoneAt              Field
}

func (u TaskUpdate) Empty() bool {
	return u.Content == nil && u.Username == nil && u.Column == nil && u.CreatedAt == nil &&
		!u.InProgressAt.Set && !u.EstimatedCompletion.Set && !u.DoneAt.Set
}
