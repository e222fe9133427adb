package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/samotage/claude-monitor/internal/backend"
	"github.com/samotage/claude-monitor/internal/corrlog"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and operate on terminal sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions known to the backend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		be, _, err := commandBackend()
		if err != nil {
			return err
		}
		sessions := be.ListSessions()

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleRounded)
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignLeft},
			{Number: 2, Align: text.AlignLeft},
			{Number: 3, Align: text.AlignLeft, WidthMax: 40},
			{Number: 4, Align: text.AlignLeft, WidthMax: 50},
		})
		tw.AppendHeader(table.Row{"ID", "Handle", "Title", "WorkDir"})
		for _, s := range sessions {
			tw.AppendRow(table.Row{s.ID, s.Handle, s.Title, s.WorkDir})
		}
		if len(sessions) == 0 {
			tw.AppendRow(table.Row{"-", "(no sessions)", "-", "-"})
		}
		tw.Render()
		return nil
	},
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <session-id> <text>",
	Short: "Send text to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, _, err := commandBackend()
		if err != nil {
			return err
		}
		session, err := findSession(be, args[0])
		if err != nil {
			return err
		}
		noEnter, _ := cmd.Flags().GetBool("no-enter")
		return be.Send(session, args[1], !noEnter, "")
	},
}

var sessionCaptureCmd = &cobra.Command{
	Use:   "capture <session-id>",
	Short: "Print a session's visible content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, _, err := commandBackend()
		if err != nil {
			return err
		}
		session, err := findSession(be, args[0])
		if err != nil {
			return err
		}
		lines, _ := cmd.Flags().GetInt("lines")
		capture, ok := be.Capture(session, backend.CaptureOpts{Lines: lines})
		if !ok {
			return fmt.Errorf("capture failed for %s", args[0])
		}
		fmt.Print(capture.Text)
		return nil
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, _, err := commandBackend()
		if err != nil {
			return err
		}
		workDir, _ := cmd.Flags().GetString("dir")
		session, err := be.CreateSession(args[0], workDir)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", session.Handle, session.ID)
		return nil
	},
}

var sessionKillCmd = &cobra.Command{
	Use:   "kill <session-id>",
	Short: "Destroy a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, _, err := commandBackend()
		if err != nil {
			return err
		}
		session, err := findSession(be, args[0])
		if err != nil {
			return err
		}
		return be.KillSession(session)
	},
}

var sessionFocusCmd = &cobra.Command{
	Use:   "focus <session-id>",
	Short: "Bring a session's window to the front",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, _, err := commandBackend()
		if err != nil {
			return err
		}
		session, err := findSession(be, args[0])
		if err != nil {
			return err
		}
		return be.FocusWindow(session)
	},
}

func init() {
	sessionSendCmd.Flags().Bool("no-enter", false, "do not press Enter after the text")
	sessionCaptureCmd.Flags().Int("lines", 0, "capture the last N lines of scrollback")
	sessionCreateCmd.Flags().String("dir", "", "working directory for the new session")

	sessionCmd.AddCommand(sessionListCmd, sessionSendCmd, sessionCaptureCmd,
		sessionCreateCmd, sessionKillCmd, sessionFocusCmd)
	rootCmd.AddCommand(sessionCmd)
}

// commandBackend builds the configured backend with a correlation log sink,
// for one-shot CLI operations.
func commandBackend() (backend.Backend, *corrlog.Appender, error) {
	cfg, _ := loadConfig()
	logPath, err := cfg.LogPath()
	if err != nil {
		return nil, nil, err
	}
	sink, err := corrlog.NewAppender(logPath, cfg.Log.Retention, cfg.Log.DebugAppends)
	if err != nil {
		return nil, nil, err
	}
	be, err := backend.New(cfg.Backend, sink)
	if err != nil {
		return nil, nil, err
	}
	return be, sink, nil
}

// findSession matches a session by id, handle, or title.
func findSession(be backend.Backend, key string) (backend.Session, error) {
	for _, s := range be.ListSessions() {
		if s.ID == key || s.Handle == key || s.Title == key {
			return s, nil
		}
	}
	return backend.Session{}, fmt.Errorf("session %q not found", key)
}
