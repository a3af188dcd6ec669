// Package store reads and enumerates Claude Code session transcripts on
// disk. The layout mirrors what the agent itself writes: one directory per
// project under the root, one append-only JSONL file per session.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sessiond/internal/claude"
	"sessiond/internal/timeline"
)

const defaultMaxTitle = 160

var errStop = errors.New("stop iteration")

// ErrNotFound is returned when no transcript matches a session id.
var ErrNotFound = errors.New("session not found")

// Store reads session transcripts under a single root directory.
type Store struct {
	root string
}

// New returns a store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory the store reads from.
func (s *Store) Root() string { return s.root }

// DefaultRoot returns the directory Claude Code writes transcripts to.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}

// ProjectDir maps a working directory to the transcript directory name the
// agent derives for it: every character outside [A-Za-z0-9] becomes '-'.
func ProjectDir(workDir string) string {
	var b strings.Builder
	b.Grow(len(workDir))
	for _, r := range workDir {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID           string    `json:"sessionId"`
	Path         string    `json:"path"`
	CWD          string    `json:"cwd,omitempty"`
	Title        string    `json:"title,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	ModifiedAt   time.Time `json:"modifiedAt,omitzero"`
	MessageCount int       `json:"messageCount"`
}

// ListOptions controls how sessions are enumerated.
type ListOptions struct {
	CWD      string
	ExactCWD bool
	After    *time.Time
	Before   *time.Time
	Limit    int
	MaxTitle int
}

// ListResult contains session summaries and non-fatal warnings.
type ListResult struct {
	Summaries []SessionSummary
	Warnings  []error
}

// ListSessions enumerates sessions under the root, most recently modified
// first. Transcripts that never received genuine user input are hidden, and
// unreadable files surface as warnings rather than failing the listing.
func (s *Store) ListSessions(opts ListOptions) (ListResult, error) {
	if s.root == "" {
		return ListResult{}, errors.New("sessions root is required")
	}
	if _, err := os.Stat(s.root); err != nil {
		if os.IsNotExist(err) {
			return ListResult{}, nil
		}
		return ListResult{}, fmt.Errorf("stat sessions root: %w", err)
	}

	maxTitle := opts.MaxTitle
	if maxTitle == 0 {
		maxTitle = defaultMaxTitle
	}

	var result ListResult

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			result.Warnings = append(result.Warnings, fmt.Errorf("walk %s: %w", path, walkErr))
			return nil
		}

		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}

		sum, genuine, warnings, err := SummarizeFile(path)
		for _, warn := range warnings {
			result.Warnings = append(result.Warnings, fmt.Errorf("%s: %w", path, warn))
		}
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Errorf("summarize %s: %w", path, err))
			return nil
		}
		if !genuine {
			return nil
		}

		if opts.CWD != "" {
			if opts.ExactCWD {
				if sum.CWD != opts.CWD {
					return nil
				}
			} else if !strings.HasPrefix(sum.CWD, opts.CWD) {
				return nil
			}
		}
		if opts.After != nil && sum.CreatedAt.Before(*opts.After) {
			return nil
		}
		if opts.Before != nil && sum.CreatedAt.After(*opts.Before) {
			return nil
		}

		sum.Title = truncate(sum.Title, maxTitle)
		result.Summaries = append(result.Summaries, sum)
		return nil
	})
	if err != nil {
		return result, err
	}

	sort.Slice(result.Summaries, func(i, j int) bool {
		return result.Summaries[i].ModifiedAt.After(result.Summaries[j].ModifiedAt)
	})

	if opts.Limit > 0 && len(result.Summaries) > opts.Limit {
		result.Summaries = result.Summaries[:opts.Limit]
	}

	return result, nil
}

// SummarizeFile reads one transcript and produces its listing row. The
// second result reports whether the session contains genuine user input.
func SummarizeFile(path string) (SessionSummary, bool, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionSummary{}, false, nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	entries, warnings, err := claude.DecodeAll(f)
	if err != nil {
		return SessionSummary{}, false, warnings, fmt.Errorf("read session file: %w", err)
	}

	sum := SessionSummary{Path: path}
	genuine := false
	for i := range entries {
		e := &entries[i]
		if sum.ID == "" && e.SessionID != "" {
			sum.ID = e.SessionID
		}
		if sum.CWD == "" && e.CWD != "" {
			sum.CWD = e.CWD
		}
		if e.GitBranch != "" {
			sum.Branch = e.GitBranch
		}
		if !e.Timestamp.IsZero() {
			if sum.CreatedAt.IsZero() || e.Timestamp.Before(sum.CreatedAt) {
				sum.CreatedAt = e.Timestamp
			}
			if e.Timestamp.After(sum.ModifiedAt) {
				sum.ModifiedAt = e.Timestamp
			}
		}
		switch e.Type {
		case claude.EntryTypeUser, claude.EntryTypeAssistant:
			sum.MessageCount++
		}
		if !genuine && e.IsUserAuthored() {
			genuine = true
			if text, ok := e.UserText(); ok {
				sum.Title = text
			}
		}
	}

	if sum.ID == "" {
		sum.ID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}
	if sum.ModifiedAt.IsZero() {
		if info, err := f.Stat(); err == nil {
			sum.ModifiedAt = info.ModTime()
		}
	}

	return sum, genuine, warnings, nil
}

// ReadEntries decodes every well-formed line of the transcript at path.
// Malformed lines come back as warnings, never as a failure.
func ReadEntries(path string) ([]claude.LogEntry, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	entries, warnings, err := claude.DecodeAll(f)
	if err != nil {
		return entries, warnings, fmt.Errorf("read session file: %w", err)
	}
	return entries, warnings, nil
}

// ReadSessionFile reconstructs the transcript at path into a stable
// timeline. A missing file is an empty session, not an error.
func ReadSessionFile(path string) (timeline.Result, []error, error) {
	entries, warnings, err := ReadEntries(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return timeline.Result{}, nil, nil
		}
		return timeline.Result{}, warnings, err
	}
	return timeline.Reconstruct(entries), warnings, nil
}

// ReadSession reconstructs the timeline for a session id. Unknown ids give
// an empty timeline: a session that never wrote a transcript answers the
// same as one whose transcript is empty.
func (s *Store) ReadSession(id string) (timeline.Result, []error, error) {
	path, err := s.FindSessionPath(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return timeline.Result{}, nil, nil
		}
		return timeline.Result{}, nil, err
	}
	return ReadSessionFile(path)
}

// FindSessionPath locates the transcript for a session id anywhere under
// the root. Files named after their session id match without being read;
// anything else matches on the first session id found inside.
func (s *Store) FindSessionPath(id string) (string, error) {
	if s.root == "" {
		return "", errors.New("sessions root is required")
	}
	if id == "" {
		return "", errors.New("session id is required")
	}

	var matched string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		if strings.TrimSuffix(d.Name(), ".jsonl") == id || firstSessionID(path) == id {
			matched = path
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", err
	}
	if matched == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return matched, nil
}

// DeleteSession removes a session's transcript from disk. It returns
// ErrNotFound when no transcript matches id.
func (s *Store) DeleteSession(id string) error {
	path, err := s.FindSessionPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func firstSessionID(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := claude.NewScanner(f)
	for scanner.Scan() {
		entry, err := claude.DecodeEntry(scanner.Bytes())
		if err != nil {
			continue
		}
		if entry.SessionID != "" {
			return entry.SessionID
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
