package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSession(t *testing.T, root, rel string, lines ...string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write session: %v", err)
	}
	return path
}

func seedSessions(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()

	writeSession(t, root, "-work-alpha/sess-aaa.jsonl",
		`{"type":"user","uuid":"u-1","sessionId":"sess-aaa","cwd":"/work/alpha","gitBranch":"main","timestamp":"2025-01-05T10:00:00Z","message":{"role":"user","content":"Fix the login bug"}}`,
		`{"type":"assistant","uuid":"a-1","sessionId":"sess-aaa","cwd":"/work/alpha","gitBranch":"main","timestamp":"2025-01-05T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"Done."}]}}`,
	)
	writeSession(t, root, "-work-beta/sess-bbb.jsonl",
		`{"type":"user","uuid":"u-1","sessionId":"sess-bbb","cwd":"/work/beta","gitBranch":"dev","timestamp":"2025-01-05T11:00:00Z","message":{"role":"user","content":"Add retry logic"}}`,
		`{"type":"assistant","uuid":"a-1","sessionId":"sess-bbb","cwd":"/work/beta","gitBranch":"dev","timestamp":"2025-01-05T11:00:04Z","message":{"role":"assistant","content":[{"type":"text","text":"Added."}]}}`,
	)
	// No genuine user input: hidden from listings.
	writeSession(t, root, "-work-alpha/sess-meta.jsonl",
		`{"type":"user","sessionId":"sess-meta","cwd":"/work/alpha","isMeta":true,"timestamp":"2025-01-05T12:00:00Z","message":{"role":"user","content":"Caveat: generated"}}`,
		`{"type":"assistant","sessionId":"sess-meta","cwd":"/work/alpha","timestamp":"2025-01-05T12:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"ack"}]}}`,
	)

	return New(root), root
}

func TestListSessions(t *testing.T) {
	st, _ := seedSessions(t)

	res, err := st.ListSessions(ListOptions{})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
	if len(res.Summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(res.Summaries))
	}

	// Most recently modified first.
	if res.Summaries[0].ID != "sess-bbb" || res.Summaries[1].ID != "sess-aaa" {
		t.Fatalf("unexpected order: %s, %s", res.Summaries[0].ID, res.Summaries[1].ID)
	}

	first := res.Summaries[0]
	if first.CWD != "/work/beta" {
		t.Fatalf("unexpected cwd: %s", first.CWD)
	}
	if first.Title != "Add retry logic" {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.Branch != "dev" {
		t.Fatalf("unexpected branch: %s", first.Branch)
	}
	if first.MessageCount != 2 {
		t.Fatalf("unexpected message count: %d", first.MessageCount)
	}
	if got := first.CreatedAt.Format(time.RFC3339); got != "2025-01-05T11:00:00Z" {
		t.Fatalf("unexpected created at: %s", got)
	}
	if got := first.ModifiedAt.Format(time.RFC3339); got != "2025-01-05T11:00:04Z" {
		t.Fatalf("unexpected modified at: %s", got)
	}
}

func TestListSessionsCWDFilter(t *testing.T) {
	st, _ := seedSessions(t)

	exact, err := st.ListSessions(ListOptions{CWD: "/work/alpha", ExactCWD: true})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(exact.Summaries) != 1 || exact.Summaries[0].ID != "sess-aaa" {
		t.Fatalf("unexpected exact match: %+v", exact.Summaries)
	}

	prefix, err := st.ListSessions(ListOptions{CWD: "/work"})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(prefix.Summaries) != 2 {
		t.Fatalf("expected 2 prefix matches, got %d", len(prefix.Summaries))
	}

	none, err := st.ListSessions(ListOptions{CWD: "/elsewhere"})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(none.Summaries) != 0 {
		t.Fatalf("expected no matches, got %d", len(none.Summaries))
	}
}

func TestListSessionsTimeFilters(t *testing.T) {
	st, _ := seedSessions(t)

	cut := time.Date(2025, 1, 5, 10, 30, 0, 0, time.UTC)

	after, err := st.ListSessions(ListOptions{After: &cut})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(after.Summaries) != 1 || after.Summaries[0].ID != "sess-bbb" {
		t.Fatalf("unexpected after filter result: %+v", after.Summaries)
	}

	before, err := st.ListSessions(ListOptions{Before: &cut})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(before.Summaries) != 1 || before.Summaries[0].ID != "sess-aaa" {
		t.Fatalf("unexpected before filter result: %+v", before.Summaries)
	}
}

func TestListSessionsLimit(t *testing.T) {
	st, _ := seedSessions(t)

	res, err := st.ListSessions(ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(res.Summaries) != 1 || res.Summaries[0].ID != "sess-bbb" {
		t.Fatalf("unexpected limited result: %+v", res.Summaries)
	}
}

func TestListSessionsMissingRoot(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "does-not-exist"))

	res, err := st.ListSessions(ListOptions{})
	if err != nil {
		t.Fatalf("missing root must not fail: %v", err)
	}
	if len(res.Summaries) != 0 {
		t.Fatalf("expected empty listing, got %d", len(res.Summaries))
	}
}

func TestListSessionsMalformedLineWarns(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "proj/sess-ok.jsonl",
		`{"type":"user","sessionId":"sess-ok","timestamp":"2025-01-05T10:00:00Z","message":{"role":"user","content":"hello"}}`,
		`{this line is broken`,
		`{"type":"assistant","sessionId":"sess-ok","timestamp":"2025-01-05T10:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`,
	)

	res, err := New(root).ListSessions(ListOptions{})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(res.Summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(res.Summaries))
	}
	if res.Summaries[0].MessageCount != 2 {
		t.Fatalf("unexpected message count: %d", res.Summaries[0].MessageCount)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(res.Warnings))
	}
}

func TestListSessionsTitleTruncated(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "proj/sess-long.jsonl",
		`{"type":"user","sessionId":"sess-long","timestamp":"2025-01-05T10:00:00Z","message":{"role":"user","content":"abcdefghijklmnop"}}`,
	)

	res, err := New(root).ListSessions(ListOptions{MaxTitle: 10})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if got := res.Summaries[0].Title; got != "abcdefghij…" {
		t.Fatalf("unexpected truncated title: %q", got)
	}
}

func TestSummarizeFile(t *testing.T) {
	root := t.TempDir()
	path := writeSession(t, root, "proj/sess-full.jsonl",
		`{"type":"summary","summary":"Old context","leafUuid":"u-0"}`,
		`{"type":"user","sessionId":"sess-full","cwd":"/work/gamma","gitBranch":"main","timestamp":"2025-01-05T09:00:00Z","message":{"role":"user","content":"Refactor the parser"}}`,
		`{"type":"assistant","sessionId":"sess-full","cwd":"/work/gamma","gitBranch":"main","timestamp":"2025-01-05T09:00:02Z","message":{"role":"assistant","content":[{"type":"text","text":"Sure."}]}}`,
		`{"type":"user","sessionId":"sess-full","cwd":"/work/gamma","gitBranch":"feature/retry","timestamp":"2025-01-05T09:10:00Z","message":{"role":"user","content":"Now add tests"}}`,
		`{"type":"result","subtype":"success","session_id":"sess-full","result":"done"}`,
	)

	sum, genuine, warnings, err := SummarizeFile(path)
	if err != nil {
		t.Fatalf("SummarizeFile returned error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !genuine {
		t.Fatal("expected genuine session")
	}

	if sum.ID != "sess-full" {
		t.Fatalf("unexpected id: %s", sum.ID)
	}
	if sum.Path != path {
		t.Fatalf("unexpected path: %s", sum.Path)
	}
	if sum.CWD != "/work/gamma" {
		t.Fatalf("unexpected cwd: %s", sum.CWD)
	}
	// The branch reflects where the session ended up, not where it began.
	if sum.Branch != "feature/retry" {
		t.Fatalf("unexpected branch: %s", sum.Branch)
	}
	if sum.Title != "Refactor the parser" {
		t.Fatalf("unexpected title: %q", sum.Title)
	}
	if sum.MessageCount != 3 {
		t.Fatalf("unexpected message count: %d", sum.MessageCount)
	}
	if got := sum.CreatedAt.Format(time.RFC3339); got != "2025-01-05T09:00:00Z" {
		t.Fatalf("unexpected created at: %s", got)
	}
	if got := sum.ModifiedAt.Format(time.RFC3339); got != "2025-01-05T09:10:00Z" {
		t.Fatalf("unexpected modified at: %s", got)
	}
}

func TestSummarizeFileIDFallback(t *testing.T) {
	root := t.TempDir()
	path := writeSession(t, root, "proj/nameless-session.jsonl",
		`{"type":"user","timestamp":"2025-01-05T10:00:00Z","message":{"role":"user","content":"hello"}}`,
	)

	sum, genuine, _, err := SummarizeFile(path)
	if err != nil {
		t.Fatalf("SummarizeFile returned error: %v", err)
	}
	if !genuine {
		t.Fatal("expected genuine session")
	}
	if sum.ID != "nameless-session" {
		t.Fatalf("expected filename fallback, got %s", sum.ID)
	}
}

func TestSummarizeFileNotGenuine(t *testing.T) {
	root := t.TempDir()
	path := writeSession(t, root, "proj/sess-tools.jsonl",
		`{"type":"user","sessionId":"sess-tools","isMeta":true,"message":{"role":"user","content":"Caveat"}}`,
		`{"type":"user","sessionId":"sess-tools","message":{"role":"user","content":"<command-name>/clear</command-name>"}}`,
		`{"type":"user","sessionId":"sess-tools","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok"}]}}`,
	)

	sum, genuine, _, err := SummarizeFile(path)
	if err != nil {
		t.Fatalf("SummarizeFile returned error: %v", err)
	}
	if genuine {
		t.Fatal("expected non-genuine session")
	}
	if sum.Title != "" {
		t.Fatalf("unexpected title: %q", sum.Title)
	}
}

func TestFindSessionPath(t *testing.T) {
	st, root := seedSessions(t)

	// Filename matches the id directly.
	path, err := st.FindSessionPath("sess-aaa")
	if err != nil {
		t.Fatalf("FindSessionPath returned error: %v", err)
	}
	if filepath.Base(path) != "sess-aaa.jsonl" {
		t.Fatalf("unexpected path: %s", path)
	}

	// Filename differs; the id only appears inside the file.
	writeSession(t, root, "proj/renamed.jsonl",
		`{"type":"user","sessionId":"sess-inner","timestamp":"2025-01-05T10:00:00Z","message":{"role":"user","content":"hi"}}`,
	)
	path, err = st.FindSessionPath("sess-inner")
	if err != nil {
		t.Fatalf("FindSessionPath returned error: %v", err)
	}
	if filepath.Base(path) != "renamed.jsonl" {
		t.Fatalf("unexpected path: %s", path)
	}

	if _, err := st.FindSessionPath("sess-nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadSession(t *testing.T) {
	st, _ := seedSessions(t)

	res, warnings, err := st.ReadSession("sess-aaa")
	if err != nil {
		t.Fatalf("ReadSession returned error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(res.Timeline) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(res.Timeline))
	}
	if res.FirstUserText != "Fix the login bug" {
		t.Fatalf("unexpected title: %q", res.FirstUserText)
	}
}

func TestReadSessionUnknownIDIsEmpty(t *testing.T) {
	st, _ := seedSessions(t)

	res, warnings, err := st.ReadSession("sess-unknown")
	if err != nil {
		t.Fatalf("unknown session must not fail: %v", err)
	}
	if warnings != nil {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(res.Timeline) != 0 || res.Compacted || res.FirstUserText != "" {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestReadSessionFileMissing(t *testing.T) {
	res, warnings, err := ReadSessionFile(filepath.Join(t.TempDir(), "gone.jsonl"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if warnings != nil {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(res.Timeline) != 0 {
		t.Fatalf("expected empty timeline, got %d messages", len(res.Timeline))
	}
}

func TestDeleteSession(t *testing.T) {
	st, _ := seedSessions(t)

	path, err := st.FindSessionPath("sess-aaa")
	if err != nil {
		t.Fatalf("FindSessionPath returned error: %v", err)
	}

	if err := st.DeleteSession("sess-aaa"); err != nil {
		t.Fatalf("DeleteSession returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("transcript still present: %v", err)
	}
	if err := st.DeleteSession("sess-aaa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestProjectDir(t *testing.T) {
	if got := ProjectDir("/Users/me/dev/my-app"); got != "-Users-me-dev-my-app" {
		t.Fatalf("unexpected project dir: %s", got)
	}
	if got := ProjectDir("/work/app_v2.1"); got != "-work-app-v2-1" {
		t.Fatalf("unexpected project dir: %s", got)
	}
	if got := ProjectDir(""); got != "" {
		t.Fatalf("unexpected project dir for empty input: %q", got)
	}
}
