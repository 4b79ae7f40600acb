package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/audit"
	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/repo"
	"taskboard/internal/workflow"
)

type Engine struct {
	Repo        repo.Store
	Audit       audit.Writer
	Credentials auth.Credentials
	Sessions    auth.Sessions
	Passcode    auth.Passcode
	Config      *config.Config
	Now         func() time.Time
	Logger      *log.Logger
}

func New(store repo.Store, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Repo:        store,
		Audit:       audit.Writer{Sink: store},
		Credentials: auth.ParseCredentials(cfg.Auth.AllowedUsers),
		Sessions: auth.Sessions{
			Signed: cfg.Auth.SignedSessions,
			Secret: cfg.Auth.SessionSecret,
			MaxAge: cfg.Auth.MaxAge,
		},
		Passcode: auth.NewPasscode(cfg.Auth.HistoryPasscode),
		Config:   cfg,
		Now:      time.Now,
	}
}

// WithClock points every time source of the engine at now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Audit.Now = now
	e.Sessions.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Clock returns the engine's current time.
func (e Engine) Clock() time.Time { return e.now() }

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Policy is the workflow policy clients should apply to moves.
func (e Engine) Policy() workflow.Policy {
	if e.Config == nil {
		return workflow.Policy{}
	}
	return workflow.Policy{ResetDoneOnReopen: e.Config.Workflow.ResetDoneOnReopen}
}

// Actor identifies who is calling and from where, for audit entries.
type Actor struct {
	Username string
	IP       string
}

func (e Engine) record(ctx context.Context, a Actor, action string, extra audit.Extra) {
	w := e.Audit
	if w.Logger == nil {
		w.Logger = e.Logger
	}
	w.Record(ctx, a.Username, a.IP, action, extra)
}

// checkIDUnused rejects ids that still have history from a deleted task, so a
// new task never inherits someone else's log.
func (e Engine) checkIDUnused(ctx context.Context, id string) error {
	byTask, err := e.Repo.TaskHistory(ctx, []string{id})
	if err != nil {
		return fmt.Errorf("load task history: %w", err)
	}
	if len(byTask[id]) > 0 {
		return domain.Invalid("id", "was used by a deleted task")
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID                  string
	Content             string
	Username            string
	Column              domain.Column
	InProgressAt        *string
	EstimatedCompletion *string
	DoneAt              *string
}

func (e Engine) CreateTask(ctx context.Context, actor Actor, opts TaskCreateOptions) (domain.Task, error) {
	content := strings.TrimSpace(opts.Content)
	if content == "" {
		return domain.Task{}, domain.Invalid("content", "is required")
	}
	username := strings.TrimSpace(opts.Username)
	if username == "" {
		return domain.Task{}, domain.Invalid("username", "is required")
	}
	column := opts.Column
	if column == "" {
		column = domain.ColumnTodo
	}
	if !column.Valid() {
		return domain.Task{}, domain.Invalid("column", fmt.Sprintf("unknown column %q", column))
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	} else if err := e.checkIDUnused(ctx, id); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        id,
		Content:   opts.Content,
		Username:  username,
		Column:    column,
		CreatedAt: domain.FormatTime(e.now()),
	}
	var err error
	if t.InProgressAt, err = normalizeTimestamp("inProgressAt", opts.InProgressAt); err != nil {
		return domain.Task{}, err
	}
	if t.DoneAt, err = normalizeTimestamp("doneAt", opts.DoneAt); err != nil {
		return domain.Task{}, err
	}
	if t.EstimatedCompletion, err = normalizeDate("estimatedCompletion", opts.EstimatedCompletion); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, t); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Task{}, domain.Invalid("id", "a task with this id already exists")
		}
		return domain.Task{}, err
	}
	e.record(ctx, actor, audit.ActionTaskCreated, audit.Extra{"taskId": t.ID})
	return t, nil
}

// ListTasks returns tasks newest first, each with its derived history. A
// non-empty username narrows the list to that owner, ignoring case.
func (e Engine) ListTasks(ctx context.Context, username string) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Username: strings.TrimSpace(username)})
	if err != nil {
		return nil, err
	}
	if err := e.attachHistory(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	tasks := []domain.Task{t}
	if err := e.attachHistory(ctx, tasks); err != nil {
		return domain.Task{}, err
	}
	return tasks[0], nil
}

func (e Engine) attachHistory(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	byTask, err := e.Repo.TaskHistory(ctx, ids)
	if err != nil {
		return fmt.Errorf("load task history: %w", err)
	}
	for i := range tasks {
		tasks[i].History = byTask[tasks[i].ID]
	}
	return nil
}

// ignoredUpdateKeys are accepted in an update body but never written.
var ignoredUpdateKeys = map[string]bool{"id": true, "_id": true, "history": true}

// ParseUpdates converts a JSON update object into a TaskUpdate. A null value
// clears an optional field.
func ParseUpdates(updates map[string]any) (repo.TaskUpdate, error) {
	var u repo.TaskUpdate
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		raw := updates[key]
		if ignoredUpdateKeys[key] {
			continue
		}
		switch key {
		case "content", "username", "column":
			s, ok := raw.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return u, domain.Invalid("updates."+key, "must be a non-empty string")
			}
			switch key {
			case "content":
				u.Content = &s
			case "username":
				s = strings.TrimSpace(s)
				u.Username = &s
			case "column":
				col := domain.Column(s)
				if !col.Valid() {
					return u, domain.Invalid("updates.column", fmt.Sprintf("unknown column %q", s))
				}
				u.Column = &col
			}
		case "createdAt":
			s, ok := raw.(string)
			if !ok {
				return u, domain.Invalid("updates.createdAt", "must be a timestamp")
			}
			ts, err := normalizeTimestamp("updates.createdAt", &s)
			if err != nil {
				return u, err
			}
			u.CreatedAt = ts
		case "inProgressAt", "doneAt":
			f, err := timestampField("updates."+key, raw)
			if err != nil {
				return u, err
			}
			if key == "inProgressAt" {
				u.InProgressAt = f
			} else {
				u.DoneAt = f
			}
		case "estimatedCompletion":
			if raw == nil {
				u.EstimatedCompletion = repo.ClearField()
				continue
			}
			s, ok := raw.(string)
			if !ok {
				return u, domain.Invalid("updates.estimatedCompletion", "must be a date or null")
			}
			d, err := normalizeDate("updates.estimatedCompletion", &s)
			if err != nil {
				return u, err
			}
			u.EstimatedCompletion = repo.SetField(*d)
		default:
			return u, domain.Invalid("updates."+key, "unknown field")
		}
	}
	return u, nil
}

func timestampField(field string, raw any) (repo.Field, error) {
	if raw == nil {
		return repo.ClearField(), nil
	}
	s, ok := raw.(string)
	if !ok {
		return repo.Field{}, domain.Invalid(field, "must be a timestamp or null")
	}
	ts, err := normalizeTimestamp(field, &s)
	if err != nil {
		return repo.Field{}, err
	}
	return repo.SetField(*ts), nil
}

// UpdateTask applies a partial update; last write wins.
func (e Engine) UpdateTask(ctx context.Context, actor Actor, id string, updates map[string]any) (domain.Task, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Task{}, domain.Invalid("id", "is required")
	}
	u, err := ParseUpdates(updates)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTask(ctx, id, u); err != nil {
		return domain.Task{}, err
	}
	t, err := e.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !u.Empty() {
		e.record(ctx, actor, audit.ActionTaskUpdated, audit.Extra{"taskId": id})
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, actor Actor, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Invalid("id", "is required")
	}
	if err := e.Repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	e.record(ctx, actor, audit.ActionTaskDeleted, audit.Extra{"taskId": id})
	return nil
}

// ListAudit returns the newest audit entries first.
func (e Engine) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = e.HistoryLimit()
	}
	return e.Repo.LatestAudit(ctx, limit)
}

func normalizeTimestamp(field string, v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(*v))
	if err != nil {
		return nil, domain.Invalid(field, "must be an RFC 3339 timestamp")
	}
	out := domain.FormatTime(ts)
	return &out, nil
}

func normalizeDate(field string, v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	if _, err := time.Parse(domain.DateLayout, s); err != nil {
		return nil, domain.Invalid(field, "must be a YYYY-MM-DD date")
	}
	return &s, nil
}
