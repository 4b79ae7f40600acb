package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "taskboard.yml"
	EnvFile  = ".env"

	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Environment variables read on top of the YAML file.
const (
	EnvAllowedUsers    = "ALLOWED_USERS"
	EnvHistoryPasscode = "HISTORY_PASSCODE"
	EnvSessionSecret   = "TASKBOARD_SESSION_SECRET"
	EnvMongoURI        = "MONGODB_URI"
)

// Config models taskboard.yml.
type Config struct {
	Server struct {
		Addr              string   `yaml:"addr"`
		BasePath          string   `yaml:"base_path"`
		CORSOrigins       []string `yaml:"cors_origins"`
		BlockedUserAgents []string `yaml:"blocked_user_agents"`
		LogoutRedirect    string   `yaml:"logout_redirect"`
	} `yaml:"server"`
	Store struct {
		Driver        string `yaml:"driver"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
	} `yaml:"store"`
	Auth struct {
		CookieName     string        `yaml:"cookie_name"`
		MaxAge         time.Duration `yaml:"max_age"`
		SecureCookie   bool          `yaml:"secure_cookie"`
		SignedSessions bool          `yaml:"signed_sessions"`
		SessionSecret  string        `yaml:"session_secret"`
		// AllowedUsers is "user:pass,user2:pass2"; ALLOWED_USERS overrides it.
		AllowedUsers string `yaml:"allowed_users"`
		// HistoryPasscode gates history clearing; empty disables it.
		HistoryPasscode string `yaml:"history_passcode"`
	} `yaml:"auth"`
	History struct {
		ListLimit int `yaml:"list_limit"`
	} `yaml:"history"`
	Workflow struct {
		ResetDoneOnReopen bool `yaml:"reset_done_on_reopen"`
	} `yaml:"workflow"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if strings.HasSuffix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must not end with '/'")
	}
	for _, ua := range c.Server.BlockedUserAgents {
		if strings.TrimSpace(ua) == "" {
			return fmt.Errorf("config.server.blocked_user_agents contains an empty entry")
		}
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("config.store.mongo_uri (or %s) is required for the mongo driver", EnvMongoURI)
		}
		if c.Store.MongoDatabase == "" {
			return fmt.Errorf("config.store.mongo_database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be %q or %q", DriverSQLite, DriverMongo)
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("config.auth.cookie_name is required")
	}
	if c.Auth.MaxAge <= 0 {
		return fmt.Errorf("config.auth.max_age must be positive")
	}
	if c.Auth.SignedSessions && len(c.Auth.SessionSecret) < 16 {
		return fmt.Errorf("config.auth.session_secret (or %s) must be at least 16 bytes when signed_sessions is on", EnvSessionSecret)
	}
	if c.History.ListLimit <= 0 {
		return fmt.Errorf("config.history.list_limit must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// Load reads the optional taskboard.yml and .env of a workspace, applies the
// process environment and validates the result.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	if err := LoadEnvFile(workspace); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist. The file is
// layered over the defaults and not validated.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return decode(data)
}

// LoadEnvFile loads <workspace>/.env into the process environment without
// overriding variables that are already set.
func LoadEnvFile(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, EnvFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides secrets and store settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAllowedUsers); ok {
		c.Auth.AllowedUsers = v
	}
	if v, ok := lookup(EnvHistoryPasscode); ok {
		c.Auth.HistoryPasscode = v
	}
	if v, ok := lookup(EnvSessionSecret); ok && v != "" {
		c.Auth.SessionSecret = v
	}
	if v, ok := lookup(EnvMongoURI); ok && v != "" {
		c.Store.MongoURI = v
	}
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads the YAML config at path, layers the process environment over
// it the way Load does, and validates the result.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	c.Auth.SessionSecret = mask(c.Auth.SessionSecret)
	c.Auth.HistoryPasscode = mask(c.Auth.HistoryPasscode)
	c.Store.MongoURI = mask(c.Store.MongoURI)
	if c.Auth.AllowedUsers != "" {
		var users []string
		for _, pair := range strings.Split(c.Auth.AllowedUsers, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(pair), ":")
			users = append(users, name+":******")
		}
		c.Auth.AllowedUsers = strings.Join(users, ",")
	}
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	c.Server.BlockedUserAgents = append([]string(nil), c.Server.BlockedUserAgents...)
	return c
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  cors_origins: []
  # Requests to protected routes whose User-Agent contains one of these get a 404.
  blocked_user_agents: [Postman, curl, python, Zap, Burp]
  logout_redirect: /login

store:
  driver: sqlite
  mongo_uri: ""
  mongo_database: kanban

auth:
  cookie_name: auth
  max_age: 24h
  secure_cookie: false
  signed_sessions: false
  session_secret: ""
  # Prefer ALLOWED_USERS and HISTORY_PASSCODE in the environment or .env.
  allowed_users: ""
  history_passcode: ""

history:
  list_limit: 200

workflow:
  # Clear doneAt when a task leaves done, so the next completion is stamped fresh.
  reset_done_on_reopen: false
`
