package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/export"
)

func registerTasks(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		User string `query:"user" doc:"Owner to filter by, case-insensitive"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx, input.User)
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		b := input.Body
		t, err := e.CreateTask(ctx, principalFromContext(ctx).Actor(), engine.TaskCreateOptions{
			ID:                  b.ID,
			Content:             b.Content,
			Username:            b.Username,
			Column:              domain.Column(b.Column),
			InProgressAt:        b.InProgressAt,
			EstimatedCompletion: b.EstimatedCompletion,
			DoneAt:              b.DoneAt,
		})
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body UpdateTaskResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		t, err := e.UpdateTask(ctx, principalFromContext(ctx).Actor(), input.Body.ID, input.Body.Updates)
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		return &struct {
			Body UpdateTaskResponse `json:"body"`
		}{Body: UpdateTaskResponse{Success: true, Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks",
		Summary:     "Delete task",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DeleteTaskRequest `json:"body"`
	}) (*struct {
		Body SuccessResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if err := e.DeleteTask(ctx, principalFromContext(ctx).Actor(), input.Body.ID); err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		return &struct {
			Body SuccessResponse `json:"body"`
		}{Body: SuccessResponse{Success: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/export.csv",
		Summary:     "Export the board as CSV",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		User string `query:"user" doc:"Owner to filter by, case-insensitive"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		tasks, err := e.ListTasks(ctx, input.User)
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, tasks); err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "text/csv; charset=utf-8",
			ContentDisposition: `attachment; filename="` + export.FileName(e.Clock()) + `"`,
			Body:               buf.Bytes(),
		}, nil
	})
}
