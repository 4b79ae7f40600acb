package server

import (
	"taskboard/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateTaskRequest mirrors a Task. createdAt and history are accepted so a
// client can post a whole task, but the server stamps its own createdAt and
// derives history.
type CreateTaskRequest struct {
	ID                  string                `json:"id,omitempty"`
	Content             string                `json:"content"`
	Username            string                `json:"username"`
	Column              string                `json:"column,omitempty" enum:"todo,inprogress,done"`
	CreatedAt           string                `json:"createdAt,omitempty"`
	InProgressAt        *string               `json:"inProgressAt,omitempty"`
	EstimatedCompletion *string               `json:"estimatedCompletion,omitempty"`
	DoneAt              *string               `json:"doneAt,omitempty"`
	History             []domain.HistoryEntry `json:"history,omitempty"`
}

type UpdateTaskRequest struct {
	ID      string         `json:"id"`
	Updates map[string]any `json:"updates"`
}

type DeleteTaskRequest struct {
	ID string `json:"id"`
}

type AppendHistoryRequest struct {
	TaskID      string `json:"taskId,omitempty"`
	TaskContent string `json:"taskContent,omitempty"`
	ActionBy    string `json:"actionBy"`
	TaskOwner   string `json:"taskOwner,omitempty"`
	Action      string `json:"action"`
}

type ClearHistoryRequest struct {
	Passcode string `json:"passcode"`
}

// Response payloads

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type UpdateTaskResponse struct {
	Success bool        `json:"success"`
	Task    domain.Task `json:"task"`
}

type ClearHistoryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Deleted int64  `json:"deleted,omitempty"`
}

type MeResponse struct {
	User *string `json:"user"`
}

type SettingsResponse struct {
	User              string   `json:"user"`
	ResetDoneOnReopen bool     `json:"resetDoneOnReopen"`
	HistoryLimit      int      `json:"historyLimit"`
	PasscodeEnabled   bool     `json:"passcodeEnabled"`
	Users             []string `json:"users"`
}

func nonNilTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}
