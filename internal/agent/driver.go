// Package agent spawns and supervises the Claude Code CLI subprocess and
// decodes its streaming JSON output.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"sessiond/internal/claude"
)

// killDelay bounds how long a signalled agent process may linger before it
// is forcibly killed.
const killDelay = 5 * time.Second

// Image is one inline attachment delivered alongside the prompt.
type Image struct {
	MediaType string
	Data      string // base64 payload
}

// StartConfig describes one agent run.
type StartConfig struct {
	Prompt    string
	SessionID string // resume this session when set
	WorkDir   string
	Images    []Image
}

// Process is one live agent subprocess.
type Process interface {
	// Output is the subprocess's line-oriented JSON event stream.
	Output() io.Reader
	// Wait blocks until the subprocess exits.
	Wait() error
	// Interrupt asks the subprocess group to stop.
	Interrupt() error
	// Kill forcibly terminates the subprocess group.
	Kill() error
}

// Driver abstracts how agent processes are started and their output
// decoded, so the relay and its tests do not depend on a real binary.
type Driver interface {
	Start(ctx context.Context, cfg StartConfig) (Process, error)
	ParseOutput(ctx context.Context, r io.Reader, events chan<- claude.LogEntry) error
}

// CLIDriver runs the claude binary in streaming print mode.
type CLIDriver struct {
	Binary         string
	PermissionMode string
	AllowedTools   []string

	logger *slog.Logger
}

// NewCLIDriver returns a driver for the given binary. Empty fields fall
// back to the claude defaults.
func NewCLIDriver(binary, permissionMode string, allowedTools []string, logger *slog.Logger) *CLIDriver {
	if binary == "" {
		binary = "claude"
	}
	if permissionMode == "" {
		permissionMode = "bypassPermissions"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIDriver{
		Binary:         binary,
		PermissionMode: permissionMode,
		AllowedTools:   allowedTools,
		logger:         logger,
	}
}

// Start launches one agent run. The subprocess gets its own process group
// so signals reach any children it spawns, and cancelling ctx interrupts
// the group with a bounded escalation to SIGKILL.
func (d *CLIDriver) Start(ctx context.Context, cfg StartConfig) (Process, error) {
	cmd := exec.CommandContext(ctx, d.Binary, d.buildArgs(cfg)...)
	cmd.Dir = cfg.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	var stdin io.WriteCloser
	if len(cfg.Images) > 0 {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	p := &cliProcess{cmd: cmd, stdout: stdout, stderr: &stderr}
	cmd.Cancel = p.Interrupt
	cmd.WaitDelay = killDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", d.Binary, err)
	}
	d.logger.Debug("agent process started",
		"pid", cmd.Process.Pid,
		"resume", cfg.SessionID != "",
		"images", len(cfg.Images))

	if stdin != nil {
		if err := writePromptFrame(stdin, cfg); err != nil {
			p.Kill()
			// The caller gets no handle on a failed start, so reap here.
			p.Wait()
			return nil, err
		}
	}

	return p, nil
}

// ParseOutput decodes the stream from r onto events until EOF or ctx ends.
// Lines that do not decode are skipped; the agent occasionally interleaves
// diagnostics with its JSON.
func (d *CLIDriver) ParseOutput(ctx context.Context, r io.Reader, events chan<- claude.LogEntry) error {
	scanner := claude.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		entry, err := claude.DecodeEntry(line)
		if err != nil {
			d.logger.Debug("skipping undecodable agent output", "error", err)
			continue
		}
		select {
		case events <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read agent output: %w", err)
	}
	return nil
}

func (d *CLIDriver) buildArgs(cfg StartConfig) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", d.PermissionMode,
	}
	if len(d.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(d.AllowedTools, ","))
	}
	if cfg.SessionID != "" {
		args = append(args, "--resume", cfg.SessionID)
	}
	if len(cfg.Images) > 0 {
		// The prompt travels on stdin so image blocks can ride along.
		args = append(args, "--input-format", "stream-json")
	} else {
		args = append(args, cfg.Prompt)
	}
	return args
}

type promptImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type promptBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *promptImageSource `json:"source,omitempty"`
}

type promptFrame struct {
	Type    string `json:"type"`
	Message struct {
		Role    string        `json:"role"`
		Content []promptBlock `json:"content"`
	} `json:"message"`
}

// writePromptFrame sends the prompt as a single user record on stdin, text
// first and one image block per attachment, then closes the pipe so the
// agent knows the turn is complete.
func writePromptFrame(w io.WriteCloser, cfg StartConfig) error {
	defer w.Close()

	frame := promptFrame{Type: "user"}
	frame.Message.Role = "user"
	frame.Message.Content = []promptBlock{{Type: "text", Text: cfg.Prompt}}
	for _, img := range cfg.Images {
		frame.Message.Content = append(frame.Message.Content, promptBlock{
			Type: "image",
			Source: &promptImageSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      img.Data,
			},
		})
	}

	if err := json.NewEncoder(w).Encode(frame); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}
	return nil
}

type cliProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *bytes.Buffer
}

func (p *cliProcess) Output() io.Reader { return p.stdout }

// Wait reaps the subprocess. On failure the captured stderr tail is folded
// into the error so the exit status alone is never the whole story.
func (p *cliProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	if msg := stderrTail(p.stderr.String()); msg != "" {
		return fmt.Errorf("agent exited: %w: %s", err, msg)
	}
	return fmt.Errorf("agent exited: %w", err)
}

func (p *cliProcess) Interrupt() error { return p.signalGroup(syscall.SIGTERM) }

func (p *cliProcess) Kill() error { return p.signalGroup(syscall.SIGKILL) }

// signalGroup signals the whole process group. A group that is already
// gone is success, not failure.
func (p *cliProcess) signalGroup(sig syscall.Signal) error {
	proc := p.cmd.Process
	if proc == nil {
		return nil
	}
	err := syscall.Kill(-proc.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal agent process group: %w", err)
}

// stderrTail keeps the last few lines of stderr, enough to carry the
// agent's own failure message without flooding logs.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
