package engine

import (
	"context"
	"strings"

	"taskboard/internal/audit"
	"taskboard/internal/domain"
)

// HistoryInput is a history line submitted by a client.
type HistoryInput struct {
	TaskID      string
	TaskContent string
	ActionBy    string
	TaskOwner   string
	Action      string
}

// AppendHistory stores a history line stamped with the server clock.
func (e Engine) AppendHistory(ctx context.Context, actor Actor, in HistoryInput) (domain.HistoryEntry, error) {
	if strings.TrimSpace(in.ActionBy) == "" {
		return domain.HistoryEntry{}, domain.Invalid("actionBy", "is required")
	}
	if strings.TrimSpace(in.Action) == "" {
		return domain.HistoryEntry{}, domain.Invalid("action", "is required")
	}
	entry, err := e.Repo.InsertHistory(ctx, domain.HistoryEntry{
		TaskID:      in.TaskID,
		TaskContent: in.TaskContent,
		ActionBy:    in.ActionBy,
		TaskOwner:   in.TaskOwner,
		Action:      in.Action,
		Timestamp:   domain.FormatTime(e.now()),
	})
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	var extra audit.Extra
	if in.TaskID != "" {
		extra = audit.Extra{"taskId": in.TaskID}
	}
	e.record(ctx, actor, audit.ActionHistoryCreated, extra)
	return entry, nil
}

// ListHistory returns at most limit entries, newest first. Limits outside
// (0, history.list_limit] fall back to the configured limit.
func (e Engine) ListHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	ceiling := e.HistoryLimit()
	if limit <= 0 || limit > ceiling {
		limit = ceiling
	}
	return e.Repo.LatestHistory(ctx, limit)
}

// ClearHistory deletes every history entry when passcode matches. Task
// history is derived from the same store, so nothing else needs clearing.
func (e Engine) ClearHistory(ctx context.Context, actor Actor, passcode string) (int64, error) {
	if err := e.Passcode.Check(passcode); err != nil {
		e.record(ctx, actor, audit.ActionClearFailed, nil)
		return 0, err
	}
	n, err := e.Repo.ClearHistory(ctx)
	if err != nil {
		return 0, err
	}
	e.record(ctx, actor, audit.ActionHistoryCleared, audit.Extra{"deleted": n})
	return n, nil
}

// HistoryLimit is the most entries ListHistory returns.
func (e Engine) HistoryLimit() int {
	if e.Config != nil && e.Config.History.ListLimit > 0 {
		return e.Config.History.ListLimit
	}
	return 200
}
