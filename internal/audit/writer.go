package audit

import (
	"context"
	"log"
	"time"

	"taskboard/internal/domain"
)

// Unknown stands in for a missing username or client address.
const Unknown = "Unknown"

// Actions recorded by the server.
const (
	ActionLogin          = "Successful login"
	ActionLoginFailed    = "Failed login attempt"
	ActionLogout         = "Logout"
	ActionUnauthorized   = "Unauthorized access attempt"
	ActionTaskCreated    = "Created task"
	ActionTaskUpdated    = "Updated task"
	ActionTaskDeleted    = "Deleted task"
	ActionHistoryCreated = "Created history log"
	ActionHistoryCleared = "Cleared all history logs"
	ActionClearFailed    = "Failed delete history attempt"
)

type Sink interface {
	InsertAudit(ctx context.Context, e domain.AuditEntry) error
}

// Writer appends audit entries. Failures are logged and swallowed so an
// audit outage never fails the request that triggered it.
type Writer struct {
	Sink   Sink
	Now    func() time.Time
	Logger *log.Logger
}

type Extra map[string]any

func (w Writer) Record(ctx context.Context, username, ip, action string, extra Extra) {
	if w.Sink == nil {
		return
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	entry := domain.AuditEntry{
		Username:  orUnknown(username),
		Action:    action,
		IP:        orUnknown(ip),
		Timestamp: domain.FormatTime(now()),
		Extra:     extra,
	}
	if err := w.Sink.InsertAudit(ctx, entry); err != nil {
		logger := w.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("audit %q for %s: %v", action, entry.Username, err)
	}
}

func orUnknown(v string) string {
	if v == "" {
		return Unknown
	}
	return v
}
