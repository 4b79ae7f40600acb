package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/audit"
	"taskboard/internal/engine"
)

type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// Principal is the caller as seen by the handlers. Username is empty when the
// request carried no valid session.
type Principal struct {
	Username string
	IP       string
}

func (p Principal) Actor() engine.Actor {
	return engine.Actor{Username: p.Username, IP: p.IP}
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

func usernameFromContext(ctx context.Context) (string, huma.StatusError) {
	if p := principalFromContext(ctx); p.Username != "" {
		return p.Username, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// clientIP is the address chi's RealIP left in RemoteAddr (the first
// X-Forwarded-For hop when present), without the port.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return audit.Unknown
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// publicPaths are reachable without a session.
func publicPaths(basePath string) map[string]bool {
	return map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
		path.Join(basePath, "login"):        true,
		path.Join(basePath, "logout"):       true,
		path.Join(basePath, "me"):           true,
	}
}

func blockedAgent(ua string, blocked []string) bool {
	for _, b := range blocked {
		if b != "" && strings.Contains(ua, b) {
			return true
		}
	}
	return false
}

func newAuthMiddleware(cfg Config) func(http.Handler) http.Handler {
	public := publicPaths(cfg.BasePath)
	e := cfg.Engine
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			principal := Principal{IP: clientIP(req)}
			if c, err := req.Cookie(cfg.Cookie.Name); err == nil {
				if user, err := e.CurrentUser(c.Value); err == nil {
					principal.Username = user
				}
			}
			ctx := withPrincipal(req.Context(), principal)

			// Only enforce for the API base path.
			if !strings.HasPrefix(req.URL.Path, cfg.BasePath) || public[req.URL.Path] || req.Method == http.MethodOptions {
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}
			if blockedAgent(req.UserAgent(), cfg.BlockedUserAgents) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if principal.Username == "" {
				e.AuditUnauthorized(ctx, principal.Actor(), req.URL.Path)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func sessionCookie(cfg CookieConfig, value string) http.Cookie {
	return http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func expiredCookie(cfg CookieConfig) http.Cookie {
	return http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
