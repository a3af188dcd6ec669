// Package main provides the sessionlog CLI for browsing and following
// Claude Code session transcripts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sessiond/internal/claude"
	"sessiond/internal/format"
	"sessiond/internal/store"
	"sessiond/internal/view"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "sessionlog",
	Short:   "Browse, inspect, and follow Claude Code session transcripts",
	Version: version,
}

func init() {
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newWatchCmd())
}

func defaultSessionsDir() string {
	if dir := os.Getenv("SESSIONLOG_SESSIONS_DIR"); dir != "" {
		return dir
	}
	return store.DefaultRoot()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sessionlog: %v\n", err)
		os.Exit(1)
	}
}

func newListCmd() *cobra.Command {
	var (
		cwd         string
		all         bool
		afterStr    string
		beforeStr   string
		limit       int
		formatFlag  string
		noHeader    bool
		titleWidth  int
		sessionsDir string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently modified first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all && cwd != "" {
				return errors.New("--cwd cannot be used with --all")
			}
			if sessionsDir == "" {
				sessionsDir = defaultSessionsDir()
			}

			var after, before *time.Time
			if afterStr != "" {
				t, err := time.Parse(time.RFC3339, afterStr)
				if err != nil {
					return fmt.Errorf("invalid --after value: %w", err)
				}
				after = &t
			}
			if beforeStr != "" {
				t, err := time.Parse(time.RFC3339, beforeStr)
				if err != nil {
					return fmt.Errorf("invalid --before value: %w", err)
				}
				before = &t
			}

			opts := store.ListOptions{
				After:    after,
				Before:   before,
				Limit:    limit,
				MaxTitle: titleWidth,
			}

			if !all {
				if cwd != "" {
					opts.CWD = cwd
				} else {
					wd, err := os.Getwd()
					if err != nil {
						return fmt.Errorf("determine current directory: %w", err)
					}
					opts.CWD = wd
				}
				opts.ExactCWD = true
			} else if cwd != "" {
				opts.CWD = cwd
			}

			result, err := store.New(sessionsDir).ListSessions(opts)
			if err != nil {
				return err
			}

			errs := cmd.ErrOrStderr()
			for _, warn := range result.Warnings {
				fmt.Fprintf(errs, "warning: %v\n", warn) //nolint:errcheck
			}

			includeHeader := !noHeader
			return format.WriteSummaries(cmd.OutOrStdout(), result.Summaries, includeHeader, strings.ToLower(formatFlag))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cwd, "cwd", "", "filter sessions whose working directory equals the provided path")
	flags.BoolVar(&all, "all", false, "include sessions from all working directories")
	flags.StringVar(&afterStr, "after", "", "include sessions created on/after the given RFC3339 timestamp")
	flags.StringVar(&beforeStr, "before", "", "include sessions created on/before the given RFC3339 timestamp")
	flags.IntVar(&limit, "limit", 0, "limit number of sessions returned (0 means no limit)")
	flags.StringVar(&formatFlag, "format", "table", "output format: table, plain, json, or jsonl")
	flags.BoolVar(&noHeader, "no-header", false, "omit header row for plain output")
	flags.IntVar(&titleWidth, "title-width", 160, "maximum characters included in the title column")
	flags.StringVar(&sessionsDir, "sessions-dir", "", "override the sessions directory")

	return cmd
}

func newViewCmd() *cobra.Command {
	var (
		kindArg      string
		raw          bool
		wrap         int
		maxMessages  int
		sessionsDir  string
		formatFlag   string
		forceColor   bool
		forceNoColor bool
	)

	cmd := &cobra.Command{
		Use:   "view <session-id-or-path>",
		Short: "Render a session's reconstructed timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceColor && forceNoColor {
				return errors.New("--color and --no-color cannot be used together")
			}
			if sessionsDir == "" {
				sessionsDir = defaultSessionsDir()
			}

			path, err := resolveSessionPath(store.New(sessionsDir), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			outFile, _ := out.(*os.File)
			return view.Run(view.Options{
				Path:         path,
				Format:       formatFlag,
				Wrap:         wrap,
				MaxMessages:  maxMessages,
				KindArg:      kindArg,
				ForceColor:   forceColor,
				ForceNoColor: forceNoColor,
				RawFile:      raw,
				Out:          out,
				OutFile:      outFile,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&kindArg, "kind", "K", "", "comma-separated message kinds to include: user, assistant, tools, error (default: all)")
	flags.BoolVar(&raw, "raw", false, "output the transcript file verbatim")
	flags.IntVar(&wrap, "wrap", 0, "wrap message body at the given column width")
	flags.IntVar(&maxMessages, "max", 0, "show only the most recent N messages (0 means no limit)")
	flags.StringVar(&sessionsDir, "sessions-dir", "", "override the sessions directory")
	flags.StringVar(&formatFlag, "format", "chat", "output format: chat, text, or raw")
	flags.BoolVar(&forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")

	return cmd
}

type infoPayload struct {
	SessionID    string `json:"session_id"`
	JSONLPath    string `json:"jsonl_path"`
	CreatedAt    string `json:"created_at"`
	ModifiedAt   string `json:"modified_at"`
	CWD          string `json:"cwd"`
	Branch       string `json:"branch"`
	MessageCount int    `json:"message_count"`
	Compacted    bool   `json:"compacted"`
	Title        string `json:"title"`
}

func newInfoCmd() *cobra.Command {
	var (
		formatFlag  string
		titleMode   string
		sessionsDir string
	)

	cmd := &cobra.Command{
		Use:   "info <session-id-or-path>",
		Short: "Show session metadata and file details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionsDir == "" {
				sessionsDir = defaultSessionsDir()
			}

			path, err := resolveSessionPath(store.New(sessionsDir), args[0])
			if err != nil {
				return err
			}

			sum, _, warnings, err := store.SummarizeFile(path)
			if err != nil {
				return err
			}
			errs := cmd.ErrOrStderr()
			for _, warn := range warnings {
				fmt.Fprintf(errs, "warning: %v\n", warn) //nolint:errcheck
			}

			result, _, err := store.ReadSessionFile(path)
			if err != nil {
				return err
			}

			titleMode = strings.ToLower(titleMode)
			switch titleMode {
			case "", "clip", "full":
			default:
				return fmt.Errorf("invalid --title value: %s", titleMode)
			}

			titleSnippet := collapseWhitespace(sum.Title)
			if titleMode != "full" {
				titleSnippet = clipTitle(titleSnippet, 160)
			}

			payload := infoPayload{
				SessionID:    sum.ID,
				JSONLPath:    path,
				CreatedAt:    formatInfoTime(sum.CreatedAt),
				ModifiedAt:   formatInfoTime(sum.ModifiedAt),
				CWD:          sum.CWD,
				Branch:       sum.Branch,
				MessageCount: sum.MessageCount,
				Compacted:    result.Compacted,
				Title:        sum.Title,
			}

			switch strings.ToLower(formatFlag) {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			case "text":
				renderInfoText(cmd.OutOrStdout(), payload, titleSnippet)
				return nil
			default:
				return fmt.Errorf("unsupported format: %s", formatFlag)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&formatFlag, "format", "text", "output format: text or json")
	flags.StringVar(&titleMode, "title", "clip", "title display: clip or full")
	flags.StringVar(&sessionsDir, "sessions-dir", "", "override the sessions directory")

	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		wrap         int
		sessionsDir  string
		forceColor   bool
		forceNoColor bool
	)

	cmd := &cobra.Command{
		Use:   "watch <session-id-or-path>",
		Short: "Follow a session transcript as the agent appends to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceColor && forceNoColor {
				return errors.New("--color and --no-color cannot be used together")
			}
			if sessionsDir == "" {
				sessionsDir = defaultSessionsDir()
			}

			path, err := resolveSessionPath(store.New(sessionsDir), args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			useColor := view.ResolveColor(out, forceColor, forceNoColor)

			count := 0
			err = store.Follow(ctx, path, func(entry claude.LogEntry) error {
				if view.PrintEntry(out, entry, count+1, wrap, useColor, count > 0) {
					count++
				}
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&wrap, "wrap", 0, "wrap message body at the given column width")
	flags.StringVar(&sessionsDir, "sessions-dir", "", "override the sessions directory")
	flags.BoolVar(&forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")

	return cmd
}

func resolveSessionPath(st *store.Store, arg string) (string, error) {
	if arg == "" {
		return "", errors.New("session identifier is empty")
	}

	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, nil
	}

	candidate := filepath.Join(st.Root(), arg)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, nil
	}

	return st.FindSessionPath(arg)
}

func formatInfoTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func renderInfoText(out io.Writer, payload infoPayload, titleSnippet string) {
	const labelWidth = 14
	writeKV(out, labelWidth, "Session ID", payload.SessionID)
	writeKV(out, labelWidth, "Created At", payload.CreatedAt)
	writeKV(out, labelWidth, "Modified At", payload.ModifiedAt)
	writeKV(out, labelWidth, "CWD", payload.CWD)
	writeKV(out, labelWidth, "Branch", payload.Branch)
	writeKV(out, labelWidth, "Message Count", fmt.Sprintf("%d", payload.MessageCount))
	writeKV(out, labelWidth, "Compacted", fmt.Sprintf("%t", payload.Compacted))
	writeKV(out, labelWidth, "JSONL Path", payload.JSONLPath)
	writeKV(out, labelWidth, "Title", titleSnippet)
}

func writeKV(out io.Writer, width int, label string, value string) {
	fmt.Fprintf(out, "%-*s: %s\n", width, label, value) //nolint:errcheck
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
}

func clipTitle(text string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen == 1 {
		return "…"
	}
	return string(runes[:maxLen-1]) + "…"
}
