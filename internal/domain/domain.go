package domain

import "time"

// TimeLayout is the wire format for every stored timestamp (UTC, millisecond precision).
const TimeLayout = "2006-01-02T15:04:05.000Z"

// DateLayout is the wire format for estimated completion dates.
const DateLayout = "2006-01-02"

type Column string

const (
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "inprogress"
	ColumnDone       Column = "done"
)

// Columns lists the board lanes in display order.
var Columns = []Column{ColumnTodo, ColumnInProgress, ColumnDone}

func (c Column) Valid() bool {
	switch c {
	case ColumnTodo, ColumnInProgress, ColumnDone:
		return true
	}
	return false
}

// Title is the human label used on the board and in exports.
func (c Column) Title() string {
	switch c {
	case ColumnTodo:
		return "To Do"
	case ColumnInProgress:
		return "In Progress"
	case ColumnDone:
		return "Done"
	}
	return string(c)
}

type Task struct {
	ID                  string         `json:"id"`
	Content             string         `json:"content"`
	Username            string         `json:"username"`
	Column              Column         `json:"column" enum:"todo,inprogress,done"`
	CreatedAt           string         `json:"createdAt" format:"date-time"`
	InProgressAt        *string        `json:"inProgressAt,omitempty" format:"date-time"`
	EstimatedCompletion *string        `json:"estimatedCompletion,omitempty" format:"date"`
	DoneAt              *string        `json:"doneAt,omitempty" format:"date-time"`
	History             []HistoryEntry `json:"history,omitempty"`
}

type HistoryEntry struct {
	ID          int64  `json:"id,omitempty"`
	TaskID      string `json:"taskId,omitempty"`
	TaskContent string `json:"taskContent,omitempty"`
	ActionBy    string `json:"actionBy"`
	TaskOwner   string `json:"taskOwner,omitempty"`
	Action      string `json:"action"`
	Timestamp   string `json:"timestamp" format:"date-time"`
}

type AuditEntry struct {
	ID        int64          `json:"id,omitempty"`
	Username  string         `json:"username"`
	Action    string         `json:"action"`
	IP        string         `json:"ip"`
	Timestamp string         `json:"timestamp" format:"date-time"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Clone returns a copy that shares no pointers or slices with t.
func (t Task) Clone() Task {
	c := t
	c.InProgressAt = copyString(t.InProgressAt)
	c.EstimatedCompletion = copyString(t.EstimatedCompletion)
	c.DoneAt = copyString(t.DoneAt)
	if t.History != nil {
		c.History = append([]HistoryEntry(nil), t.History...)
	}
	return c
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
