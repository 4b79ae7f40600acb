package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain"
)

// Credentials is the static username to password map loaded from
// configuration. A password that looks like a bcrypt hash is compared as one.
type Credentials struct {
	users map[string]string
}

// ParseCredentials reads "user:pass,user2:pass2". Pairs missing either side
// are skipped; the password is everything after the first colon.
func ParseCredentials(raw string) Credentials {
	users := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		name, pass, ok := strings.Cut(pair, ":")
		name, pass = strings.TrimSpace(name), strings.TrimSpace(pass)
		if !ok || name == "" || pass == "" {
			continue
		}
		users[name] = pass
	}
	return Credentials{users: users}
}

// Verify reports whether password matches the entry for username exactly.
func (c Credentials) Verify(username, password string) bool {
	stored, ok := c.users[username]
	if !ok || password == "" {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

func (c Credentials) Users() []string {
	names := make([]string, 0, len(c.users))
	for name := range c.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Credentials) Len() int { return len(c.users) }

func isBcrypt(v string) bool {
	return strings.HasPrefix(v, "$2a$") || strings.HasPrefix(v, "$2b$") || strings.HasPrefix(v, "$2y$")
}

// HashPassword returns a bcrypt hash usable as an ALLOWED_USERS password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Sessions encodes the session cookie value. Unsigned sessions carry the raw
// username; signed sessions carry an HS256 token whose subject is the username.
type Sessions struct {
	Signed bool
	Secret string
	MaxAge time.Duration
	Now    func() time.Time
}

func (s Sessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Sessions) Encode(username string) (string, error) {
	if username == "" {
		return "", errors.New("username required")
	}
	if !s.Signed {
		return username, nil
	}
	if strings.TrimSpace(s.Secret) == "" {
		return "", errors.New("session secret not configured")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:  username,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if s.MaxAge > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.MaxAge))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

// Decode returns the username held by a cookie value, or
// domain.ErrUnauthorized when the value is empty or fails verification.
func (s Sessions) Decode(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", domain.ErrUnauthorized
	}
	if !s.Signed {
		return value, nil
	}
	if strings.TrimSpace(s.Secret) == "" {
		return "", domain.ErrUnauthorized
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", domain.ErrUnauthorized
	}
	return claims.Subject, nil
}

// Passcode is the administrative capability guarding history clearing. It is
// separate from session authentication. An empty secret never matches.
type Passcode struct {
	secret string
}

func NewPasscode(secret string) Passcode {
	return Passcode{secret: secret}
}

func (p Passcode) Enabled() bool { return p.secret != "" }

func (p Passcode) Check(supplied string) error {
	if p.secret == "" || subtle.ConstantTimeCompare([]byte(p.secret), []byte(supplied)) != 1 {
		return domain.PasscodeError{}
	}
	return nil
}
