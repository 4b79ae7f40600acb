package engine

import (
	"context"
	"strings"

	"taskboard/internal/audit"
	"taskboard/internal/domain"
)

// Login checks the credential store and returns the session cookie value.
func (e Engine) Login(ctx context.Context, actor Actor, username, password string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", domain.Invalid("username", "is required")
	}
	if password == "" {
		return "", domain.Invalid("password", "is required")
	}
	if !e.Credentials.Verify(username, password) {
		e.record(ctx, actor, audit.ActionLoginFailed, audit.Extra{"attemptedUser": username})
		return "", domain.ErrUnauthorized
	}
	value, err := e.Sessions.Encode(username)
	if err != nil {
		return "", err
	}
	e.record(ctx, Actor{Username: username, IP: actor.IP}, audit.ActionLogin, audit.Extra{"username": username})
	return value, nil
}

// Logout records the logout; the caller expires the cookie.
func (e Engine) Logout(ctx context.Context, actor Actor) {
	user := actor.Username
	if user == "" {
		user = audit.Unknown
	}
	e.record(ctx, actor, audit.ActionLogout, audit.Extra{"username": user})
}

// CurrentUser resolves a session cookie value to its username.
func (e Engine) CurrentUser(cookieValue string) (string, error) {
	return e.Sessions.Decode(cookieValue)
}

// AuditUnauthorized records a request rejected for lack of a session.
func (e Engine) AuditUnauthorized(ctx context.Context, actor Actor, path string) {
	e.record(ctx, actor, audit.ActionUnauthorized, audit.Extra{"path": path})
}
