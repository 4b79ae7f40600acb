package workflow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/domain"
	"taskboard/internal/workflow"
)

var manila = time.FixedZone("UTC+8", 8*60*60)

func clock() time.Time {
	// 01:30 local is still the previous day in UTC.
	return time.Date(2026, 10, 18, 1, 30, 0, 0, manila)
}

func newTask() domain.Task {
	return domain.Task{
		ID:        "t-1",
		Content:   "Ship v1",
		Username:  "Bob",
		Column:    domain.ColumnTodo,
		CreatedAt: "2026-10-01T00:00:00.000Z",
	}
}

func TestFirstMoveToInProgressSuspends(t *testing.T) {
	task := newTask()
	res, err := workflow.RequestMove(task, domain.ColumnInProgress, "Bob", clock(), workflow.Policy{})
	require.NoError(t, err)
	assert.True(t, res.NeedsEstimate)
	assert.False(t, res.Changed)
	assert.Equal(t, task, res.Task)
}

func TestConfirmEstimateStampsFields(t *testing.T) {
	task := newTask()
	res, err := workflow.ConfirmEstimate(task, "2099-01-01", "Bob", clock(), workflow.Policy{})
	require.NoError(t, err)
	require.True(t, res.Changed)
	assert.Equal(t, domain.ColumnInProgress, res.Task.Column)
	require.NotNil(t, res.Task.InProgressAt)
	assert.Equal(t, "2026-10-17T17:30:00.000Z", *res.Task.InProgressAt)
	require.NotNil(t, res.Task.EstimatedCompletion)
	assert.Equal(t, "2099-01-01", *res.Task.EstimatedCompletion)
	assert.Equal(t, `Moved your task "Ship v1" to inprogress`, res.Entry.Action)
	assert.Len(t, res.Task.History, 1)
	assert.Nil(t, task.InProgressAt, "input task must not be mutated")
}

func TestEstimateValidationLeavesTaskUnchanged(t *testing.T) {
	cases := map[string]string{
		"yesterday":  "2026-10-17",
		"long year":  "20261-01-01",
		"not a date": "soon",
		"empty":      "",
		"bad month":  "2026-13-01",
		"long past":  "1999-12-31",
	}
	for name, date := range cases {
		t.Run(name, func(t *testing.T) {
			task := newTask()
			res, err := workflow.ConfirmEstimate(task, date, "Bob", clock(), workflow.Policy{})
			require.Error(t, err)
			var ve domain.ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.False(t, res.Changed)
			assert.Equal(t, task, res.Task)
		})
	}
}

func TestEstimateTodayIsAccepted(t *testing.T) {
	// Today in the local zone, even though UTC is still on the 17th.
	require.NoError(t, workflow.ValidateEstimate("2026-10-18", clock()))
	require.NoError(t, workflow.ValidateEstimate("9999-12-31", clock()))
}

func TestDoneAtIsStampedOnce(t *testing.T) {
	now := clock()
	task := newTask()
	res, err := workflow.RequestMove(task, domain.ColumnDone, "Bob", now, workflow.Policy{})
	require.NoError(t, err)
	require.NotNil(t, res.Task.DoneAt)
	first := *res.Task.DoneAt

	later := now.Add(48 * time.Hour)
	res, err = workflow.RequestMove(res.Task, domain.ColumnTodo, "Bob", later, workflow.Policy{})
	require.NoError(t, err)
	require.NotNil(t, res.Task.DoneAt)
	res, err = workflow.RequestMove(res.Task, domain.ColumnDone, "Bob", later, workflow.Policy{})
	require.NoError(t, err)
	assert.Equal(t, first, *res.Task.DoneAt)
	assert.Len(t, res.Task.History, 3)
}

func TestResetDoneOnReopenPolicy(t *testing.T) {
	now := clock()
	policy := workflow.Policy{ResetDoneOnReopen: true}
	res, err := workflow.RequestMove(newTask(), domain.ColumnDone, "Bob", now, policy)
	require.NoError(t, err)
	res, err = workflow.RequestMove(res.Task, domain.ColumnTodo, "Bob", now, policy)
	require.NoError(t, err)
	assert.Nil(t, res.Task.DoneAt)

	later := now.Add(time.Hour)
	res, err = workflow.RequestMove(res.Task, domain.ColumnDone, "Bob", later, policy)
	require.NoError(t, err)
	require.NotNil(t, res.Task.DoneAt)
	assert.Equal(t, domain.FormatTime(later), *res.Task.DoneAt)
}

func TestMoveToTodoClearsProgressFields(t *testing.T) {
	now := clock()
	for _, from := range []domain.Column{domain.ColumnInProgress, domain.ColumnDone} {
		t.Run(string(from), func(t *testing.T) {
			res, err := workflow.ConfirmEstimate(newTask(), "2099-01-01", "Bob", now, workflow.Policy{})
			require.NoError(t, err)
			task := res.Task
			if from == domain.ColumnDone {
				res, err = workflow.RequestMove(task, domain.ColumnDone, "Bob", now, workflow.Policy{})
				require.NoError(t, err)
				task = res.Task
			}
			res, err = workflow.RequestMove(task, domain.ColumnTodo, "Bob", now, workflow.Policy{})
			require.NoError(t, err)
			assert.Nil(t, res.Task.InProgressAt)
			assert.Nil(t, res.Task.EstimatedCompletion)

			// Re-entering in progress needs a fresh estimate.
			res, err = workflow.RequestMove(res.Task, domain.ColumnInProgress, "Bob", now, workflow.Policy{})
			require.NoError(t, err)
			assert.True(t, res.NeedsEstimate)
		})
	}
}

func TestInProgressReentryIsDirectWhenStarted(t *testing.T) {
	now := clock()
	res, err := workflow.ConfirmEstimate(newTask(), "2099-01-01", "Bob", now, workflow.Policy{})
	require.NoError(t, err)
	res, err = workflow.RequestMove(res.Task, domain.ColumnDone, "Bob", now, workflow.Policy{})
	require.NoError(t, err)
	res, err = workflow.RequestMove(res.Task, domain.ColumnInProgress, "Bob", now, workflow.Policy{})
	require.NoError(t, err)
	assert.False(t, res.NeedsEstimate)
	assert.True(t, res.Changed)
	require.NotNil(t, res.Task.EstimatedCompletion)
	assert.Equal(t, "2099-01-01", *res.Task.EstimatedCompletion)
}

func TestMoveByAnotherUser(t *testing.T) {
	res, err := workflow.RequestMove(newTask(), domain.ColumnDone, "alice", clock(), workflow.Policy{})
	require.NoError(t, err)
	assert.Equal(t, `alice: Moved Bob's task "Ship v1" to done`, res.Entry.Action)
	assert.Equal(t, "alice", res.Entry.ActionBy)
	assert.Equal(t, "Bob", res.Entry.TaskOwner)
	assert.Equal(t, "t-1", res.Entry.TaskID)
}

func TestSameColumnIsNoop(t *testing.T) {
	task := newTask()
	res, err := workflow.RequestMove(task, domain.ColumnTodo, "Bob", clock(), workflow.Policy{})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Task.History)
}

func TestUnknownColumnRejected(t *testing.T) {
	_, err := workflow.RequestMove(newTask(), domain.Column("archived"), "Bob", clock(), workflow.Policy{})
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "column", ve.Field)
}

func TestCrudHistoryText(t *testing.T) {
	assert.Equal(t, `Created your task "a"`, workflow.CreateText("bob", "bob", "a"))
	assert.Equal(t, `amy: Created bob's task "a"`, workflow.CreateText("amy", "bob", "a"))
	assert.Equal(t, `Edited your task "a" to "b"`, workflow.EditText("bob", "bob", "a", "b"))
	assert.Equal(t, `amy: Deleted bob's task "a"`, workflow.DeleteText("amy", "bob", "a"))
}
