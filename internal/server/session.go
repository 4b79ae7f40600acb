package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerSession(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/login",
		Summary:     "Sign in and receive the session cookie",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		SetCookie http.Cookie     `header:"Set-Cookie"`
		Body      SuccessResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p := principalFromContext(ctx)
		value, err := e.Login(ctx, p.Actor(), input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(cfg.logger(), err)
		}
		return &struct {
			SetCookie http.Cookie     `header:"Set-Cookie"`
			Body      SuccessResponse `json:"body"`
		}{SetCookie: sessionCookie(cfg.Cookie, value), Body: SuccessResponse{Success: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/logout",
		Summary:       "Clear the session cookie",
		DefaultStatus: http.StatusSeeOther,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Location  string      `header:"Location"`
		SetCookie http.Cookie `header:"Set-Cookie"`
	}, error) {
		e.Logout(ctx, principalFromContext(ctx).Actor())
		return &struct {
			Location  string      `header:"Location"`
			SetCookie http.Cookie `header:"Set-Cookie"`
		}{Location: cfg.LogoutRedirect, SetCookie: expiredCookie(cfg.Cookie)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Status int
		Body   MeResponse `json:"body"`
	}, error) {
		user := principalFromContext(ctx).Username
		out := &struct {
			Status int
			Body   MeResponse `json:"body"`
		}{Status: http.StatusOK}
		if user == "" {
			out.Status = http.StatusUnauthorized
			return out, nil
		}
		out.Body.User = &user
		return out, nil
	})
}

func registerSettings(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "settings",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "Board settings the client applies locally",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SettingsResponse `json:"body"`
	}, error) {
		user, authErr := usernameFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body SettingsResponse `json:"body"`
		}{Body: SettingsResponse{
			User:              user,
			ResetDoneOnReopen: e.Policy().ResetDoneOnReopen,
			HistoryLimit:      e.HistoryLimit(),
			PasscodeEnabled:   e.Passcode.Enabled(),
			Users:             e.Credentials.Users(),
		}}, nil
	})
}
