// Package view renders reconstructed session timelines for the terminal.
package view

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"sessiond/internal/claude"
	"sessiond/internal/format"
	"sessiond/internal/store"
	"sessiond/internal/timeline"
)

// Options defines the configurable parameters for rendering a session.
type Options struct {
	Path         string
	Format       string
	Wrap         int
	MaxMessages  int
	KindArg      string
	ForceColor   bool
	ForceNoColor bool
	RawFile      bool
	Out          io.Writer
	OutFile      *os.File
}

// Run renders a session transcript according to the provided options.
func Run(opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	if opts.RawFile {
		return copyFile(opts.Out, opts.Path)
	}

	kinds, err := parseKindArg(opts.KindArg)
	if err != nil {
		return err
	}

	formatMode := strings.ToLower(opts.Format)
	if formatMode == "" {
		formatMode = "text"
	}

	entries, _, err := store.ReadEntries(opts.Path)
	if err != nil {
		return err
	}

	if formatMode == "raw" {
		return printRaw(opts.Out, entries, opts.MaxMessages)
	}

	messages := filterMessages(timeline.Reconstruct(entries).Timeline, kinds)
	if opts.MaxMessages > 0 && len(messages) > opts.MaxMessages {
		messages = messages[len(messages)-opts.MaxMessages:]
	}

	switch formatMode {
	case "text":
		useColor := resolveColorChoice(opts)
		for idx, msg := range messages {
			if idx > 0 {
				fmt.Fprintln(opts.Out)
			}
			printMessage(opts.Out, msg, idx+1, opts.Wrap, useColor)
		}
		return nil

	case "chat":
		if len(messages) == 0 {
			return nil
		}
		colorEnabled := resolveColorChoice(opts)
		width := determineWidth(opts.OutFile, opts.Wrap)

		lines := renderChatTranscript(messages, width, colorEnabled)
		if len(lines) == 0 {
			return nil
		}
		if opts.OutFile != nil && isatty.IsTerminal(opts.OutFile.Fd()) {
			return pipeThroughPager(lines, colorEnabled)
		}
		return writeLines(opts.Out, lines)

	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func printRaw(out io.Writer, entries []claude.LogEntry, maxMessages int) error {
	if maxMessages > 0 && len(entries) > maxMessages {
		entries = entries[len(entries)-maxMessages:]
	}
	for _, entry := range entries {
		if _, err := fmt.Fprintf(out, "%s\n", entry.Raw); err != nil {
			return err
		}
	}
	return nil
}

func parseKindArg(arg string) (map[timeline.MessageKind]struct{}, error) {
	values := parseCSV(arg)
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) == 1 && values[0] == "all" {
		return nil, nil
	}

	lookup := map[string]timeline.MessageKind{
		"user":      timeline.KindUser,
		"assistant": timeline.KindAssistant,
		"tools":     timeline.KindTools,
		"error":     timeline.KindError,
	}

	set := make(map[timeline.MessageKind]struct{}, len(values))
	for _, token := range values {
		kind, ok := lookup[token]
		if !ok {
			return nil, fmt.Errorf("unknown message kind %q", token)
		}
		set[kind] = struct{}{}
	}
	return set, nil
}

func filterMessages(messages []timeline.Message, kinds map[timeline.MessageKind]struct{}) []timeline.Message {
	if kinds == nil {
		return messages
	}
	out := make([]timeline.Message, 0, len(messages))
	for _, msg := range messages {
		if _, ok := kinds[msg.Kind]; ok {
			out = append(out, msg)
		}
	}
	return out
}

func parseCSV(arg string) []string {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	output := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(strings.ToLower(part))
		if token != "" {
			output = append(output, token)
		}
	}
	return output
}

func determineWidth(out *os.File, wrap int) int {
	if wrap > 0 {
		return wrap
	}
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	if colsStr := os.Getenv("COLUMNS"); colsStr != "" {
		if v, err := strconv.Atoi(colsStr); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func pipeThroughPager(lines []string, colorEnabled bool) error {
	text := strings.Join(lines, "\n")
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	pagerCmd := os.Getenv("PAGER")
	var cmd *exec.Cmd
	if pagerCmd == "" {
		args := []string{"less"}
		if colorEnabled {
			args = append(args, "-R")
		}
		cmd = exec.Command(args[0], args[1:]...) // #nosec G204
	} else {
		cmd = exec.Command("sh", "-c", pagerCmd) // #nosec G204
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create pager pipe: %w", err)
	}
	go func() {
		defer stdin.Close()
		io.WriteString(stdin, text) //nolint:errcheck
	}()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run pager: %w", err)
	}

	return nil
}

func writeLines(out io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func printMessage(out io.Writer, msg timeline.Message, index int, wrap int, useColor bool) {
	kindLabel := string(msg.Kind)
	if kindLabel == "" {
		kindLabel = "message"
	}

	ts := "-"
	if !msg.Timestamp.IsZero() {
		ts = msg.Timestamp.Format(time.RFC3339)
	}
	headerPlain := fmt.Sprintf("[#%03d] %s | %s", index, kindLabel, ts)

	indexText := fmt.Sprintf("#%03d", index)
	kindText := kindLabel
	tsText := ts
	separator := "|"

	if useColor {
		indexText = colorize(true, ansiBoldWhite, indexText)
		kindText = colorize(true, kindColor(msg.Kind), kindText)
		tsText = colorize(true, ansiTimestamp, tsText)
		separator = colorize(true, ansiSeparator, "|")
	}

	header := fmt.Sprintf("[%s] %s %s %s", indexText, kindText, separator, tsText)
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, strings.Repeat("-", len(headerPlain)))

	lines := format.RenderMessageLines(msg, wrap)
	if len(lines) == 0 {
		prefix := "|"
		if useColor {
			prefix = colorize(true, ansiSeparator, "|")
		}
		fmt.Fprintf(out, "%s %s\n", prefix, "(no content)")
		return
	}
	linePrefix := "| "
	emptyPrefix := "|"
	if useColor {
		separatorColor := colorize(true, ansiSeparator, "|")
		linePrefix = separatorColor + " "
		emptyPrefix = separatorColor
	}
	for _, line := range lines {
		if line == "" {
			fmt.Fprintln(out, emptyPrefix)
			continue
		}
		fmt.Fprintf(out, "%s%s\n", linePrefix, line)
	}
}

// PrintEntry renders one raw log entry in the numbered text layout. Watch
// mode uses it to show entries as they land, before correlation; entries
// with nothing to show (metadata, unrecognized types) print nothing and
// return false. When leading is set, a printed entry is preceded by a
// blank separator line.
func PrintEntry(out io.Writer, entry claude.LogEntry, index int, wrap int, useColor bool, leading bool) bool {
	lines := format.RenderEntryLines(entry, wrap)
	if len(lines) == 0 {
		return false
	}
	if leading {
		fmt.Fprintln(out)
	}

	label := string(entry.Type)
	if label == "" {
		label = "entry"
	}

	ts := "-"
	if !entry.Timestamp.IsZero() {
		ts = entry.Timestamp.Format(time.RFC3339)
	}
	headerPlain := fmt.Sprintf("[#%03d] %s | %s", index, label, ts)

	indexText := fmt.Sprintf("#%03d", index)
	labelText := label
	tsText := ts
	separator := "|"

	if useColor {
		indexText = colorize(true, ansiBoldWhite, indexText)
		labelText = colorize(true, entryColor(entry.Type), labelText)
		tsText = colorize(true, ansiTimestamp, tsText)
		separator = colorize(true, ansiSeparator, "|")
	}

	fmt.Fprintf(out, "[%s] %s %s %s\n", indexText, labelText, separator, tsText)
	fmt.Fprintln(out, strings.Repeat("-", len(headerPlain)))

	linePrefix := "| "
	emptyPrefix := "|"
	if useColor {
		separatorColor := colorize(true, ansiSeparator, "|")
		linePrefix = separatorColor + " "
		emptyPrefix = separatorColor
	}
	for _, line := range lines {
		if line == "" {
			fmt.Fprintln(out, emptyPrefix)
			continue
		}
		fmt.Fprintf(out, "%s%s\n", linePrefix, line)
	}
	return true
}

func entryColor(t claude.EntryType) string {
	switch t {
	case claude.EntryTypeUser:
		return ansiUser
	case claude.EntryTypeAssistant:
		return ansiAssistant
	case claude.EntryTypeResult:
		return ansiTool
	default:
		return ansiSeparator
	}
}

const (
	ansiReset     = "\x1b[0m"
	ansiBoldWhite = "\x1b[1;97m"
	ansiTimestamp = "\x1b[38;5;245m"
	ansiSeparator = "\x1b[38;5;240m"
	ansiAssistant = "\x1b[38;5;44m"
	ansiUser      = "\x1b[38;5;220m"
	ansiTool      = "\x1b[38;5;207m"
	ansiError     = "\x1b[38;5;160m"
)

func colorize(enabled bool, code string, text string) string {
	if !enabled {
		return text
	}
	return code + text + ansiReset
}

func kindColor(kind timeline.MessageKind) string {
	switch kind {
	case timeline.KindAssistant:
		return ansiAssistant
	case timeline.KindUser:
		return ansiUser
	case timeline.KindTools:
		return ansiTool
	case timeline.KindError:
		return ansiError
	default:
		return ansiSeparator
	}
}

func resolveColorChoice(opts Options) bool {
	return ResolveColor(opts.Out, opts.ForceColor, opts.ForceNoColor)
}

// ResolveColor decides whether to emit ANSI colors, honoring explicit
// forcing flags before terminal detection.
func ResolveColor(out io.Writer, force, forceNo bool) bool {
	if force {
		return true
	}
	if forceNo {
		return false
	}
	return shouldUseColorAuto(out)
}

func shouldUseColorAuto(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func copyFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(dst, f)
	return err
}
