package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
)

const (
	defaultDBName = "taskboard.db"
	workspaceDir  = ".taskboard"
)

// UnicodeNoCase names a collation that compares strings ignoring case across
// all of Unicode; SQLite's NOCASE only folds ASCII.
const UnicodeNoCase = "UNICASE"

func init() {
	sqlite.MustRegisterCollationUtf8(UnicodeNoCase, CompareFold)
}

// CompareFold orders strings by their lower-case form.
func CompareFold(left, right string) int {
	return strings.Compare(strings.ToLower(left), strings.ToLower(right))
}

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates the .taskboard directory if missing and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the workspace SQLite database.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
