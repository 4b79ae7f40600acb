package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

func registerHistory(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Latest history entries, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"Maximum entries; capped by history.list_limit"`
	}) (*struct {
		Body []domain.HistoryEntry `json:"body"`
	}, error) {
		items, err := e.ListHistory(ctx, input.Limit)
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		if items == nil {
			items = []domain.HistoryEntry{}
		}
		return &struct {
			Body []domain.HistoryEntry `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-history",
		Method:      http.MethodPost,
		Path:        "/history",
		Summary:     "Append a history entry",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body AppendHistoryRequest `json:"body"`
	}) (*struct {
		Body SuccessResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		b := input.Body
		_, err := e.AppendHistory(ctx, principalFromContext(ctx).Actor(), engine.HistoryInput{
			TaskID:      b.TaskID,
			TaskContent: b.TaskContent,
			ActionBy:    b.ActionBy,
			TaskOwner:   b.TaskOwner,
			Action:      b.Action,
		})
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		return &struct {
			Body SuccessResponse `json:"body"`
		}{Body: SuccessResponse{Success: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-history",
		Method:      http.MethodDelete,
		Path:        "/history",
		Summary:     "Delete every history entry",
		Description: "Requires the history passcode. A wrong or missing passcode answers 401 and deletes nothing.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ClearHistoryRequest `json:"body"`
	}) (*struct {
		Status int
		Body   ClearHistoryResponse `json:"body"`
	}, error) {
		out := &struct {
			Status int
			Body   ClearHistoryResponse `json:"body"`
		}{Status: http.StatusOK}
		n, err := e.ClearHistory(ctx, principalFromContext(ctx).Actor(), input.Body.Passcode)
		var pe domain.PasscodeError
		switch {
		case errors.As(err, &pe):
			out.Status = http.StatusUnauthorized
			out.Body = ClearHistoryResponse{Success: false, Message: "Incorrect passcode"}
			return out, nil
		case err != nil:
			return nil, handleError(cfg.logger(), err)
		}
		out.Body = ClearHistoryResponse{Success: true, Message: "History logs cleared!", Deleted: n}
		return out, nil
	})
}

func registerAudit(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Latest audit entries, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		items, err := e.ListAudit(ctx, input.Limit)
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		if items == nil {
			items = []domain.AuditEntry{}
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: items}, nil
	})
}
