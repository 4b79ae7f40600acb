package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"taskboard/internal/db"
	"taskboard/internal/domain"
)

// Repo is the SQLite Store.
type Repo struct {
	DB *sql.DB
}

var _ Store = Repo{}

const taskColumns = `id,content,username,column_id,created_at,in_progress_at,estimated_completion,done_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var column string
	var inProgress, estimate, done sql.NullString
	if err := row.Scan(&t.ID, &t.Content, &t.Username, &column, &t.CreatedAt, &inProgress, &estimate, &done); err != nil {
		return t, err
	}
	t.Column = domain.Column(column)
	t.InProgressAt = optional(inProgress)
	t.EstimatedCompletion = optional(estimate)
	t.DoneAt = optional(done)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Content, t.Username, string(t.Column), t.CreatedAt,
		nullablePtr(t.InProgressAt), nullablePtr(t.EstimatedCompletion), nullablePtr(t.DoneAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if f.Username != "" {
		query += ` WHERE username = ? COLLATE ` + db.UnicodeNoCase
		args = append(args, f.Username)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, id string, u TaskUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Content != nil {
		fields = append(fields, "content=?")
		args = append(args, *u.Content)
	}
	if u.Username != nil {
		fields = append(fields, "username=?")
		args = append(args, *u.Username)
	}
	if u.Column != nil {
		fields = append(fields, "column_id=?")
		args = append(args, string(*u.Column))
	}
	if u.CreatedAt != nil {
		fields = append(fields, "created_at=?")
		args = append(args, *u.CreatedAt)
	}
	for _, f := range []struct {
		column string
		field  Field
	}{
		{"in_progress_at", u.InProgressAt},
		{"estimated_completion", u.EstimatedCompletion},
		{"done_at", u.DoneAt},
	} {
		if !f.field.Set {
			continue
		}
		fields = append(fields, f.column+"=?")
		args = append(args, nullablePtr(f.field.Value))
	}
	if len(fields) == 0 {
		// Nothing to write; still report unknown ids.
		_, err := r.GetTask(ctx, id)
		return err
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertHistory(ctx context.Context, e domain.HistoryEntry) (domain.HistoryEntry, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO history_logs(task_id,task_content,action_by,task_owner,action,ts) VALUES (?,?,?,?,?,?)`,
		nullable(e.TaskID), nullable(e.TaskContent), e.ActionBy, nullable(e.TaskOwner), e.Action, e.Timestamp)
	if err != nil {
		return e, fmt.Errorf("insert history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return e, nil
}

const historyColumns = `id,COALESCE(task_id,''),COALESCE(task_content,''),action_by,COALESCE(task_owner,''),action,ts`

func scanHistory(row rowScanner) (domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	err := row.Scan(&e.ID, &e.TaskID, &e.TaskContent, &e.ActionBy, &e.TaskOwner, &e.Action, &e.Timestamp)
	return e, err
}

func (r Repo) LatestHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM history_logs ORDER BY ts DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// historyBatch bounds the number of bound parameters per IN (...) query.
const historyBatch = 500

func (r Repo) TaskHistory(ctx context.Context, taskIDs []string) (map[string][]domain.HistoryEntry, error) {
	out := make(map[string][]domain.HistoryEntry, len(taskIDs))
	for start := 0; start < len(taskIDs); start += historyBatch {
		end := min(start+historyBatch, len(taskIDs))
		batch := taskIDs[start:end]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		rows, err := r.DB.QueryContext(ctx, `SELECT `+historyColumns+` FROM history_logs WHERE task_id IN (`+placeholders+`) ORDER BY ts ASC, id ASC`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			e, err := scanHistory(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[e.TaskID] = append(out[e.TaskID], e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r Repo) ClearHistory(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM history_logs`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r Repo) InsertAudit(ctx context.Context, e domain.AuditEntry) error {
	var extra any
	if len(e.Extra) > 0 {
		data, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("marshal audit extra: %w", err)
		}
		extra = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO audit_logs(username,action,ip,ts,extra_json) VALUES (?,?,?,?,?)`,
		e.Username, e.Action, e.IP, e.Timestamp, extra)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (r Repo) LatestAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT id,username,action,ip,ts,extra_json FROM audit_logs ORDER BY ts DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		var extra sql.NullString
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.IP, &e.Timestamp, &extra); err != nil {
			return nil, err
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &e.Extra); err != nil {
				return nil, fmt.Errorf("decode audit extra: %w", err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) Close() error {
	return r.DB.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func optional(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
