package timeline

import (
	"reflect"
	"strings"
	"testing"

	"sessiond/internal/claude"
)

func decodeLines(t *testing.T, lines ...string) []claude.LogEntry {
	t.Helper()
	entries := make([]claude.LogEntry, 0, len(lines))
	for _, line := range lines {
		entry, err := claude.DecodeEntry([]byte(line))
		if err != nil {
			t.Fatalf("DecodeEntry returned error: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestReconstructSimple(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"user","uuid":"u-1","timestamp":"2025-01-05T10:00:00Z","message":{"role":"user","content":"Read the README file"}}`,
		`{"type":"assistant","uuid":"a-1","timestamp":"2025-01-05T10:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"Reading it now."},{"type":"tool_use","id":"toolu_01","name":"Read","input":{"file_path":"README.md"}}]}}`,
		`{"type":"user","uuid":"u-2","timestamp":"2025-01-05T10:00:02Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"# My Project"}]}}`,
		`{"type":"assistant","uuid":"a-2","timestamp":"2025-01-05T10:00:03Z","message":{"role":"assistant","content":[{"type":"text","text":"The README says: My Project."}]}}`,
	)

	res := Reconstruct(entries)

	if res.Compacted {
		t.Fatal("expected no compaction")
	}
	if res.FirstUserText != "Read the README file" {
		t.Fatalf("unexpected title: %q", res.FirstUserText)
	}
	if len(res.Timeline) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(res.Timeline))
	}

	if res.Timeline[0].Kind != KindUser || res.Timeline[0].Text != "Read the README file" {
		t.Fatalf("unexpected first message: %+v", res.Timeline[0])
	}
	if res.Timeline[1].Kind != KindAssistant || res.Timeline[1].Text != "Reading it now." {
		t.Fatalf("unexpected second message: %+v", res.Timeline[1])
	}

	tools := res.Timeline[2]
	if tools.Kind != KindTools || len(tools.Tools) != 1 {
		t.Fatalf("unexpected third message: %+v", tools)
	}
	if tools.Tools[0].Name != "Read" || tools.Tools[0].ID != "toolu_01" {
		t.Fatalf("unexpected invocation: %+v", tools.Tools[0])
	}
	if tools.Tools[0].Status != ToolStatusComplete {
		t.Fatalf("unexpected tool status: %s", tools.Tools[0].Status)
	}
	if string(tools.Tools[0].Input) != `{"file_path":"README.md"}` {
		t.Fatalf("unexpected tool input: %s", tools.Tools[0].Input)
	}

	if res.Timeline[3].Kind != KindAssistant {
		t.Fatalf("unexpected fourth message: %+v", res.Timeline[3])
	}
}

func TestReconstructToolError(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_01","name":"Bash","input":{"command":"false"}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"exit status 1","is_error":true}]}}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 1 || res.Timeline[0].Kind != KindTools {
		t.Fatalf("unexpected timeline: %+v", res.Timeline)
	}
	if got := res.Timeline[0].Tools[0].Status; got != ToolStatusError {
		t.Fatalf("unexpected status: %s", got)
	}
}

func TestReconstructFirstOutcomeWins(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_01","name":"Bash","input":{}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"boom","is_error":true}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok"}]}}`,
	)

	res := Reconstruct(entries)

	if got := res.Timeline[0].Tools[0].Status; got != ToolStatusError {
		t.Fatalf("duplicate result overrode the first outcome: %s", got)
	}
}

func TestReconstructUnresolvedToolIsComplete(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_99","name":"Write","input":{}}]}}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Timeline))
	}
	if got := res.Timeline[0].Tools[0].Status; got != ToolStatusComplete {
		t.Fatalf("unexpected status for unresolved invocation: %s", got)
	}
}

func TestReconstructMergesToolBursts(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_01","name":"Read","input":{}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"a"}]}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_02","name":"Grep","input":{}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_02","content":"b"}]}}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 1 {
		t.Fatalf("expected one merged tools message, got %d", len(res.Timeline))
	}
	tools := res.Timeline[0]
	if tools.Kind != KindTools || len(tools.Tools) != 2 {
		t.Fatalf("unexpected merge result: %+v", tools)
	}
	if tools.Tools[0].Name != "Read" || tools.Tools[1].Name != "Grep" {
		t.Fatalf("unexpected invocation order: %+v", tools.Tools)
	}
}

func TestReconstructTextThenToolsSplit(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"toolu_01","name":"Read","input":{}}]}}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(res.Timeline))
	}
	if res.Timeline[0].Kind != KindAssistant || res.Timeline[1].Kind != KindTools {
		t.Fatalf("unexpected ordering: %s then %s", res.Timeline[0].Kind, res.Timeline[1].Kind)
	}
}

func TestReconstructJoinsTextBlocks(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"First."},{"type":"thinking","thinking":"hmm"},{"type":"text","text":"Second."}]}}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Timeline))
	}
	if got := res.Timeline[0].Text; got != "First.\n\nSecond." {
		t.Fatalf("unexpected joined text: %q", got)
	}
}

func TestReconstructCompaction(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"user","uuid":"u-1","message":{"role":"user","content":"old question"}}`,
		`{"type":"assistant","uuid":"a-1","message":{"role":"assistant","content":[{"type":"text","text":"old answer"}]}}`,
		`{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"auto","pre_tokens":150000}}`,
		`{"type":"user","isCompactSummary":true,"message":{"role":"user","content":"This session is being continued from a previous conversation"}}`,
		`{"type":"user","uuid":"u-2","message":{"role":"user","content":"new question"}}`,
		`{"type":"assistant","uuid":"a-2","message":{"role":"assistant","content":[{"type":"text","text":"new answer"}]}}`,
	)

	res := Reconstruct(entries)

	if !res.Compacted {
		t.Fatal("expected compacted flag")
	}
	if len(res.Timeline) != 2 {
		t.Fatalf("expected 2 messages after the boundary, got %d", len(res.Timeline))
	}
	if res.Timeline[0].Text != "new question" || res.Timeline[1].Text != "new answer" {
		t.Fatalf("unexpected surviving messages: %+v", res.Timeline)
	}
	if res.FirstUserText != "new question" {
		t.Fatalf("title must come from the surviving region: %q", res.FirstUserText)
	}
}

func TestReconstructLatestBoundaryWins(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"user","message":{"role":"user","content":"first era"}}`,
		`{"type":"system","subtype":"compact_boundary"}`,
		`{"type":"user","isCompactSummary":true,"message":{"role":"user","content":"summary one"}}`,
		`{"type":"user","message":{"role":"user","content":"second era"}}`,
		`{"type":"system","subtype":"compact_boundary"}`,
		`{"type":"user","isCompactSummary":true,"message":{"role":"user","content":"summary two"}}`,
		`{"type":"user","message":{"role":"user","content":"third era"}}`,
	)

	res := Reconstruct(entries)

	if !res.Compacted {
		t.Fatal("expected compacted flag")
	}
	if len(res.Timeline) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Timeline))
	}
	if res.Timeline[0].Text != "third era" {
		t.Fatalf("unexpected message: %q", res.Timeline[0].Text)
	}
}

func TestReconstructBoundaryAtEnd(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"user","message":{"role":"user","content":"question"}}`,
		`{"type":"system","subtype":"compact_boundary"}`,
	)

	res := Reconstruct(entries)

	if !res.Compacted {
		t.Fatal("expected compacted flag")
	}
	if len(res.Timeline) != 0 {
		t.Fatalf("expected empty timeline, got %d messages", len(res.Timeline))
	}
	if res.FirstUserText != "" {
		t.Fatalf("unexpected title: %q", res.FirstUserText)
	}
}

func TestReconstructSkipsNoise(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"summary","summary":"Earlier conversation","leafUuid":"u-0"}`,
		`{"type":"user","isMeta":true,"message":{"role":"user","content":"Caveat: generated output follows"}}`,
		`{"type":"user","message":{"role":"user","content":"<command-name>/status</command-name>"}}`,
		`{"type":"user","message":{"role":"user","content":"<local-command-stdout>clean</local-command-stdout>"}}`,
		`{"type":"user","isSidechain":true,"message":{"role":"user","content":"explore the repo"}}`,
		`{"type":"assistant","isSidechain":true,"message":{"role":"assistant","content":[{"type":"text","text":"sidechain reply"}]}}`,
		`{"type":"stream_event","session_id":"sess-1"}`,
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{"type":"user","message":{"role":"user","content":"the real question"}}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 1 {
		t.Fatalf("expected only the real question, got %d messages", len(res.Timeline))
	}
	if res.Timeline[0].Kind != KindUser || res.Timeline[0].Text != "the real question" {
		t.Fatalf("unexpected message: %+v", res.Timeline[0])
	}
	if res.FirstUserText != "the real question" {
		t.Fatalf("unexpected title: %q", res.FirstUserText)
	}
}

func TestReconstructErrorResult(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"user","message":{"role":"user","content":"do a thing"}}`,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"execution interrupted"}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(res.Timeline))
	}
	last := res.Timeline[1]
	if last.Kind != KindError {
		t.Fatalf("unexpected kind: %s", last.Kind)
	}
	if last.Text != "execution interrupted" {
		t.Fatalf("unexpected error text: %q", last.Text)
	}
}

func TestReconstructErrorResultFallsBackToSubtype(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"result","subtype":"error_max_turns","is_error":true}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 1 || res.Timeline[0].Text != "error_max_turns" {
		t.Fatalf("unexpected timeline: %+v", res.Timeline)
	}
}

func TestReconstructSuccessResultProducesNothing(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"user","message":{"role":"user","content":"do a thing"}}`,
		`{"type":"result","subtype":"success","result":"done","is_error":false}`,
	)

	res := Reconstruct(entries)

	if len(res.Timeline) != 1 {
		t.Fatalf("success results must not appear in the timeline: %+v", res.Timeline)
	}
}

func TestReconstructEmpty(t *testing.T) {
	res := Reconstruct(nil)

	if len(res.Timeline) != 0 || res.Compacted || res.FirstUserText != "" {
		t.Fatalf("unexpected result for empty input: %+v", res)
	}
}

func TestReconstructIsStable(t *testing.T) {
	entries := decodeLines(t,
		`{"type":"user","message":{"role":"user","content":"question"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_01","name":"Read","input":{}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok"}]}}`,
		`{"type":"result","subtype":"success","result":"done"}`,
	)

	first := Reconstruct(entries)
	second := Reconstruct(entries)

	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated reconstruction diverged")
	}
}

func TestReconstructTitleClipped(t *testing.T) {
	long := strings.Repeat("я", 300)
	entries := decodeLines(t,
		`{"type":"user","message":{"role":"user","content":"`+long+`"}}`,
	)

	res := Reconstruct(entries)

	runes := []rune(res.FirstUserText)
	if len(runes) != maxTitleRunes {
		t.Fatalf("expected %d runes, got %d", maxTitleRunes, len(runes))
	}
	if runes[len(runes)-1] != '…' {
		t.Fatalf("expected ellipsis suffix, got %q", string(runes[len(runes)-1]))
	}
	// The full text still lands in the timeline untouched.
	if res.Timeline[0].Text != long {
		t.Fatal("timeline text must not be clipped")
	}
}
