package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/board"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/export"
	"taskboard/internal/workflow"
	taskboardsdk "taskboard/sdk/go"
)

const sessionFile = "session"

var rootCmd = &cobra.Command{
	Use:   "taskboard",
	Short: "Task board CLI",
	Long: `taskboard runs and drives a three-column task board (To Do, In Progress, Done).
- serve: run the HTTP API backed by SQLite (default) or MongoDB.
- login/logout/whoami: manage the session cookie kept in .taskboard/session.
- task: add, list, move, edit and remove tasks. Moving a task into In Progress for
  the first time needs an estimated completion date (--estimate YYYY-MM-DD).
- history: read or clear the shared history log (clearing needs the passcode).
- export: download the board as CSV.
- audit: read the security audit log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080/api", "API base URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(hashPasswordCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stderr, "taskboard ", log.LstdFlags)
			a, err := app.New(cmd.Context(), viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			addr := viper.GetString("addr")
			if !cmd.Flags().Changed("addr") && os.Getenv("TASKBOARD_ADDR") == "" {
				addr = a.Config.Server.Addr
			}
			fmt.Printf("Serving task board API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				addr, a.Config.Server.BasePath, a.Config.Server.BasePath)
			return a.Serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func loginCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session cookie",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := viper.GetString("password")
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password (or TASKBOARD_PASSWORD) are required")
			}
			c := newClient()
			if err := c.Login(cmd.Context(), username, password); err != nil {
				return describe(err)
			}
			if err := saveSession(c.Session); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"success": true, "user": username})
			}
			fmt.Printf("signed in as %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringP("password", "p", "", "password")
	_ = viper.BindPFlag("password", cmd.Flags().Lookup("password"))
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient()
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return describe(err)
			}
			if err := os.Remove(sessionPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			fmt.Println("signed out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient()
			if err != nil {
				return err
			}
			user, err := c.Me(cmd.Context())
			if err != nil {
				return describe(err)
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"user": user})
			}
			fmt.Println(user)
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move To Do -> In Progress -> Done. The first move into In Progress stamps inProgressAt and needs an estimated completion date; the first move into Done stamps doneAt. Every change is written to the history log.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskEditCmd())
	task.AddCommand(taskRemoveCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add CONTENT",
		Short: "Add a task to To Do",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(b *board.Board, _ taskboardsdk.Settings) error {
				t, err := b.Add(strings.Join(args, " "))
				if err != nil {
					return err
				}
				return afterFlush(cmd.Context(), b, func() error { return printTask(t) })
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var user string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your tasks by column",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient()
			if err != nil {
				return err
			}
			owner, err := listOwner(cmd.Context(), c, user, all)
			if err != nil {
				return describe(err)
			}
			tasks, err := c.ListTasks(cmd.Context(), owner)
			if err != nil {
				return describe(err)
			}
			if viper.GetBool("json") {
				return printJSON(tasks)
			}
			s := board.Load(board.State{}, tasks)
			cols := s.Columns()
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Column", "ID", "Content", "Owner", "Created", "Estimate"})
			for _, col := range domain.Columns {
				for _, t := range cols[col] {
					tw.AppendRow(table.Row{col.Title(), t.ID, t.Content, t.Username, t.CreatedAt, optional(t.EstimatedCompletion)})
				}
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owner filter (case-insensitive); defaults to the signed-in user")
	cmd.Flags().BoolVar(&all, "all", false, "list every user's tasks")
	cmd.MarkFlagsMutuallyExclusive("user", "all")
	return cmd
}

// listOwner picks the owner filter for task list: an explicit user, everyone
// with all, otherwise whoever is signed in.
func listOwner(ctx context.Context, c interface {
	Me(context.Context) (string, error)
}, user string, all bool) (string, error) {
	if all || strings.TrimSpace(user) != "" {
		return strings.TrimSpace(user), nil
	}
	return c.Me(ctx)
}

func taskMoveCmd() *cobra.Command {
	var estimate string
	cmd := &cobra.Command{
		Use:   "move ID COLUMN",
		Short: "Move a task to todo, inprogress or done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := domain.Column(args[1])
			if !to.Valid() {
				return fmt.Errorf("unknown column %q (want todo, inprogress or done)", args[1])
			}
			return withBoard(cmd.Context(), func(b *board.Board, _ taskboardsdk.Settings) error {
				suspended, err := b.Move(args[0], to)
				if err != nil {
					return err
				}
				if suspended {
					if estimate == "" {
						b.CancelEstimate()
						return fmt.Errorf("moving into %s for the first time needs --estimate YYYY-MM-DD", to.Title())
					}
					if err := b.ConfirmEstimate(estimate); err != nil {
						b.CancelEstimate()
						return err
					}
				}
				return afterFlush(cmd.Context(), b, func() error {
					t, _ := b.State().Find(args[0])
					return printTask(t)
				})
			})
		},
	}
	cmd.Flags().StringVar(&estimate, "estimate", "", "estimated completion date (YYYY-MM-DD), needed on the first move into inprogress")
	return cmd
}

func taskEditCmd() *cobra.Command {
	var owner, created, started, estimate, done string
	cmd := &cobra.Command{
		Use:   "edit ID [CONTENT]",
		Short: "Edit a task's content, owner or dates",
		Long: "Edit a task. Timestamps are RFC 3339 and the estimate is YYYY-MM-DD; an empty\n" +
			"value clears an optional date. Start and done dates can only be edited on a\n" +
			"done task, the estimate once the task is in progress.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edit board.TaskEdit
			if len(args) > 1 {
				content := strings.Join(args[1:], " ")
				edit.Content = &content
			}
			flags := cmd.Flags()
			for name, dst := range map[string]**string{
				"owner":    &edit.Owner,
				"created":  &edit.CreatedAt,
				"started":  &edit.InProgressAt,
				"estimate": &edit.EstimatedCompletion,
				"done":     &edit.DoneAt,
			} {
				if flags.Changed(name) {
					v, _ := flags.GetString(name)
					*dst = &v
				}
			}
			if edit == (board.TaskEdit{}) {
				return errors.New("nothing to edit: pass new content or a flag")
			}
			return withBoard(cmd.Context(), func(b *board.Board, settings taskboardsdk.Settings) error {
				if edit.Owner != nil && len(settings.Users) > 0 && !slices.Contains(settings.Users, *edit.Owner) {
					return fmt.Errorf("unknown owner %q (want one of %s)", *edit.Owner, strings.Join(settings.Users, ", "))
				}
				if err := b.Edit(args[0], edit); err != nil {
					return err
				}
				return afterFlush(cmd.Context(), b, func() error {
					t, _ := b.State().Find(args[0])
					return printTask(t)
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "assign the task to another configured user")
	cmd.Flags().StringVar(&created, "created", "", "creation timestamp (RFC 3339)")
	cmd.Flags().StringVar(&started, "started", "", "in-progress timestamp (RFC 3339), done tasks only")
	cmd.Flags().StringVar(&estimate, "estimate", "", "estimated completion date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&done, "done", "", "done timestamp (RFC 3339), done tasks only")
	return cmd
}

func taskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(b *board.Board, _ taskboardsdk.Settings) error {
				if err := b.Delete(args[0]); err != nil {
					return err
				}
				return afterFlush(cmd.Context(), b, func() error {
					fmt.Printf("deleted %s\n", args[0])
					return nil
				})
			})
		},
	}
}

func historyCmd() *cobra.Command {
	h := &cobra.Command{
		Use:   "history",
		Short: "Read or clear the history log",
	}
	h.AddCommand(historyListCmd())
	h.AddCommand(historyClearCmd())
	return h
}

func historyListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Latest history entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient()
			if err != nil {
				return err
			}
			entries, err := c.ListHistory(cmd.Context(), limit)
			if err != nil {
				return describe(err)
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Time", "By", "Action"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.Timestamp, e.ActionBy, e.Action})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (server caps at history.list_limit)")
	return cmd
}

func historyClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every history entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient()
			if err != nil {
				return err
			}
			n, err := c.ClearHistory(cmd.Context(), viper.GetString("passcode"))
			if err != nil {
				return describe(err)
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"success": true, "deleted": n})
			}
			fmt.Printf("History logs cleared! (%d entries)\n", n)
			return nil
		},
	}
	cmd.Flags().String("passcode", "", "history passcode (or TASKBOARD_PASSCODE)")
	_ = viper.BindPFlag("passcode", cmd.Flags().Lookup("passcode"))
	return cmd
}

func exportCmd() *cobra.Command {
	var user, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the board as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient()
			if err != nil {
				return err
			}
			data, err := c.ExportCSV(cmd.Context(), user)
			if err != nil {
				return describe(err)
			}
			if out == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if out == "" {
				out = export.FileName(time.Now())
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owner filter (case-insensitive)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout (default kanban-board-<time>.csv)")
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit log",
	}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Latest audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient()
			if err != nil {
				return err
			}
			entries, err := c.Audit(cmd.Context(), n)
			if err != nil {
				return describe(err)
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Time", "User", "IP", "Action", "Extra"})
			for _, e := range entries {
				extra := ""
				if len(e.Extra) > 0 {
					b, _ := json.Marshal(e.Extra)
					extra = string(b)
				}
				tw.AppendRow(table.Row{e.Timestamp, e.Username, e.IP, e.Action, extra})
			}
			tw.Render()
			return nil
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of entries")
	a.AddCommand(tail)
	return a
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the workspace config",
		Long:  "Config lives in taskboard.yml (optional) with secrets from the environment or .env: ALLOWED_USERS, HISTORY_PASSCODE, TASKBOARD_SESSION_SECRET, MONGODB_URI.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			schema, err := app.SchemaStatus(cmd.Context(), workspace, cfg)
			if err != nil {
				return err
			}
			return printJSONOrTable(struct {
				config.Config
				Schema app.Schema `json:"schema" yaml:"schema"`
			}{cfg.Redacted(), schema})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file, with environment overrides applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to check (default: the workspace taskboard.yml)")
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print a bcrypt hash usable as a password in ALLOWED_USERS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(h)
			return nil
		},
	}
}

// --- helpers ---

func sessionPath() string {
	return filepath.Join(filepath.Dir(db.Path(viper.GetString("workspace"))), sessionFile)
}

func saveSession(value string) error {
	return os.WriteFile(sessionPath(), []byte(value), 0o600)
}

func newClient() *taskboardsdk.Client {
	c := taskboardsdk.New(viper.GetString("server"))
	if cfg, err := config.LoadOptional(viper.GetString("workspace")); err == nil && cfg != nil {
		c.CookieName = cfg.Auth.CookieName
	}
	return c
}

func sessionClient() (*taskboardsdk.Client, error) {
	data, err := os.ReadFile(sessionPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("not signed in; run taskboard login")
		}
		return nil, err
	}
	c := newClient()
	c.Session = strings.TrimSpace(string(data))
	return c, nil
}

// withBoard loads the board for the signed-in user and closes it once fn has
// returned, draining any queued writes.
func withBoard(ctx context.Context, fn func(*board.Board, taskboardsdk.Settings) error) error {
	c, err := sessionClient()
	if err != nil {
		return err
	}
	user, err := c.Me(ctx)
	if err != nil {
		return describe(err)
	}
	settings, err := c.Settings(ctx)
	if err != nil {
		return describe(err)
	}
	b := board.New(c, user)
	b.Policy = workflow.Policy{ResetDoneOnReopen: settings.ResetDoneOnReopen}
	var failures []error
	b.OnError = func(e board.Effect, err error) {
		failures = append(failures, fmt.Errorf("%s %s: %w", e.Kind, e.TaskID, describe(err)))
	}
	if err := b.Refresh(ctx); err != nil {
		b.Close()
		return describe(err)
	}
	err = fn(b, settings)
	b.Close()
	if err != nil {
		return err
	}
	return errors.Join(failures...)
}

// afterFlush prints once every queued write has been attempted, so the
// output reflects what the server accepted.
func afterFlush(ctx context.Context, b *board.Board, print func() error) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	return print()
}

func describe(err error) error {
	var apiErr *taskboardsdk.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s (status %d)", apiErr.Message(), apiErr.StatusCode)
	}
	return err
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Content", t.Content},
		{"Owner", t.Username},
		{"Column", t.Column.Title()},
		{"Created", t.CreatedAt},
		{"In progress", optional(t.InProgressAt)},
		{"Estimate", optional(t.EstimatedCompletion)},
		{"Done", optional(t.DoneAt)},
	})
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
