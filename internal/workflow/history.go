package workflow

import (
	"time"

	"taskboard/internal/domain"
)

// MoveText describes a column move from the actor's point of view.
func MoveText(actor, owner, content string, to domain.Column) string {
	return describe(actor, owner, "Moved", quote(content)+" to "+string(to))
}

func CreateText(actor, owner, content string) string {
	return describe(actor, owner, "Created", quote(content))
}

func EditText(actor, owner, before, after string) string {
	return describe(actor, owner, "Edited", quote(before)+" to "+quote(after))
}

func DeleteText(actor, owner, content string) string {
	return describe(actor, owner, "Deleted", quote(content))
}

// CreatedEntry, EditedEntry and DeletedEntry build the history line for the
// matching CRUD action on t.
func CreatedEntry(t domain.Task, actor string, now time.Time) domain.HistoryEntry {
	return newEntry(t, actor, CreateText(actor, t.Username, t.Content), now)
}

func EditedEntry(t domain.Task, before, actor string, now time.Time) domain.HistoryEntry {
	return newEntry(t, actor, EditText(actor, t.Username, before, t.Content), now)
}

func DeletedEntry(t domain.Task, actor string, now time.Time) domain.HistoryEntry {
	return newEntry(t, actor, DeleteText(actor, t.Username, t.Content), now)
}

func describe(actor, owner, verb, rest string) string {
	if actor == owner {
		return verb + " your task " + rest
	}
	return actor + ": " + verb + " " + owner + "'s task " + rest
}

func quote(s string) string {
	return `"` + s + `"`
}

func newEntry(t domain.Task, actor, action string, now time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		TaskID:      t.ID,
		TaskContent: t.Content,
		ActionBy:    actor,
		TaskOwner:   t.Username,
		Action:      action,
		Timestamp:   domain.FormatTime(now),
	}
}
