package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samsaffron/toolstream/internal/billing"
	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/search"
	"github.com/samsaffron/toolstream/internal/toolstream"
)

// runTool parses body, dispatches it against the built-in handlers and
// returns the committed record.
func runTool(t *testing.T, opts Options, state *toolstream.State, body string) toolstream.Record {
	t.Helper()
	reg := toolstream.NewRegistry()
	if err := Register(reg, opts); err != nil {
		t.Fatalf("Register: %v", err)
	}
	parser, err := toolstream.NewParser(nil)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	call, err := parser.Parse(body, 0)
	if err != nil {
		t.Fatalf("Parse(%s): %v", body, err)
	}
	d := toolstream.NewDispatcher(toolstream.DispatcherOptions{Registry: reg, State: state})
	d.Dispatch(context.Background(), call)
	records, err := d.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	return records[0]
}

func outputString(t *testing.T, rec toolstream.Record) string {
	t.Helper()
	if rec.Err != nil {
		t.Fatalf("unexpected error: %v", rec.Err)
	}
	s, ok := rec.Output.(string)
	if !ok {
		t.Fatalf("expected string output, got %T", rec.Output)
	}
	return s
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestRegisterCoversBuiltins(t *testing.T) {
	reg := toolstream.NewRegistry()
	if err := Register(reg, Options{Root: t.TempDir()}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got, want := len(reg.Kinds()), len(toolstream.BuiltinKinds); got != want {
		t.Errorf("expected %d kinds registered, got %d", want, got)
	}
}

func TestRegisterRequiresRoot(t *testing.T) {
	if err := Register(toolstream.NewRegistry(), Options{}); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestReadFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha\n")
	writeTestFile(t, root, "bin.dat", "\x00\x01\x02binary")

	rec := runTool(t, Options{Root: root}, nil,
		`{"tool_name":"read_files","paths":["a.txt","missing.txt","bin.dat","../outside.txt"]}`)
	if rec.Err != nil {
		t.Fatalf("unexpected error: %v", rec.Err)
	}
	files, ok := rec.Output.([]FileContent)
	if !ok {
		t.Fatalf("expected []FileContent, got %T", rec.Output)
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(files))
	}
	if files[0].Content != "alpha\n" || files[0].Error != "" {
		t.Errorf("a.txt: got %+v", files[0])
	}
	if !strings.Contains(files[1].Error, string(ErrFileNotFound)) {
		t.Errorf("missing.txt: expected FILE_NOT_FOUND, got %q", files[1].Error)
	}
	if !strings.Contains(files[2].Error, string(ErrBinaryFile)) {
		t.Errorf("bin.dat: expected BINARY_FILE, got %q", files[2].Error)
	}
	if !strings.Contains(files[3].Error, string(ErrPathNotInWorkspace)) {
		t.Errorf("outside: expected PATH_NOT_IN_WORKSPACE, got %q", files[3].Error)
	}
}

func TestReadFilesTruncatesLongFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "long.txt", strings.Repeat("line\n", 10))
	opts := Options{Root: root, Limits: OutputLimits{MaxLines: 3, MaxBytes: 1024, MaxResults: 10, MaxFiles: 5}}

	rec := runTool(t, opts, nil, `{"tool_name":"read_files","paths":["long.txt"]}`)
	files := rec.Output.([]FileContent)
	if !strings.HasPrefix(files[0].Content, "line\nline\nline\n\n[File truncated") {
		t.Errorf("unexpected content %q", files[0].Content)
	}
}

func TestWriteFileCreatesAndUpdates(t *testing.T) {
	root := t.TempDir()

	out := outputString(t, runTool(t, Options{Root: root}, nil,
		`{"tool_name":"write_file","path":"sub/new.txt","content":"one\ntwo\n"}`))
	if !strings.Contains(out, "Created new file: sub/new.txt (2 lines)") {
		t.Errorf("unexpected output %q", out)
	}
	data, err := os.ReadFile(filepath.Join(root, "sub", "new.txt"))
	if err != nil || string(data) != "one\ntwo\n" {
		t.Fatalf("file content = %q, %v", data, err)
	}

	out = outputString(t, runTool(t, Options{Root: root}, nil,
		`{"tool_name":"write_file","path":"sub/new.txt","content":"one\nthree\n"}`))
	if !strings.Contains(out, "Updated sub/new.txt") {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(out, "-two") || !strings.Contains(out, "+three") {
		t.Errorf("expected diff in output, got %q", out)
	}
}

func TestReadsSeeEarlierWriteInSameTurn(t *testing.T) {
	root := t.TempDir()
	reg := toolstream.NewRegistry()
	if err := Register(reg, Options{Root: root}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	turn := `Writing first. <tool_call>{"tool_name": "write_file", "path": "a.txt", "content": "hello"}</tool_call>` +
		`<tool_call>{"tool_name": "read_files", "paths": ["a.txt"]}</tool_call>` +
		`<tool_call>{"tool_name": "code_search", "pattern": "hello"}</tool_call>` +
		`<tool_call>{"tool_name": "find_files", "pattern": "*.txt"}</tool_call>`
	stream, err := llm.NewScriptedProvider(llm.NewTextScript(turn)).Stream(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	res, err := toolstream.ProcessStreamWithTools(context.Background(), toolstream.Params{Stream: stream, Registry: reg})
	if err != nil {
		t.Fatalf("ProcessStreamWithTools: %v", err)
	}
	if len(res.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(res.Records))
	}
	outputString(t, res.Records[0])

	files, ok := res.Records[1].Output.([]FileContent)
	if !ok || len(files) != 1 {
		t.Fatalf("read_files output = %#v, err %v", res.Records[1].Output, res.Records[1].Err)
	}
	if files[0].Content != "hello" || files[0].Error != "" {
		t.Errorf("read_files saw %+v, want the written content", files[0])
	}
	if out := outputString(t, res.Records[2]); !strings.Contains(out, "a.txt") {
		t.Errorf("code_search missed the written file: %q", out)
	}
	if out := outputString(t, res.Records[3]); !strings.Contains(out, "a.txt") {
		t.Errorf("find_files missed the written file: %q", out)
	}
}

func TestWriteFileOutsideRoot(t *testing.T) {
	root := t.TempDir()
	rec := runTool(t, Options{Root: root}, nil,
		`{"tool_name":"write_file","path":"../escape.txt","content":"x"}`)
	if rec.Err == nil || !strings.Contains(rec.Err.Message, string(ErrPathNotInWorkspace)) {
		t.Fatalf("expected PATH_NOT_IN_WORKSPACE, got %+v", rec.Err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt")); err == nil {
		t.Error("file was written outside the root")
	}
}

func TestWriteFileSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	rec := runTool(t, Options{Root: root}, nil,
		`{"tool_name":"write_file","path":"link/x.txt","content":"x"}`)
	if rec.Err == nil {
		t.Fatal("expected error writing through a symlink that leaves the root")
	}
	if _, err := os.Stat(filepath.Join(outside, "x.txt")); err == nil {
		t.Error("file was written through the symlink")
	}
}

func TestStrReplace(t *testing.T) {
	root := t.TempDir()
	path := writeTestFile(t, root, "main.go", "package main\n\nfunc a() {}\nfunc b() {}\n")

	tests := []struct {
		name    string
		body    string
		wantErr ToolErrorType
		want    string
	}{
		{
			name: "single replacement",
			body: `{"tool_name":"str_replace","path":"main.go","replacements":[{"old":"func a() {}","new":"func a() { b() }"}]}`,
			want: "package main\n\nfunc a() { b() }\nfunc b() {}\n",
		},
		{
			name:    "missing old string",
			body:    `{"tool_name":"str_replace","path":"main.go","replacements":[{"old":"func c()","new":"x"}]}`,
			wantErr: ErrNoMatch,
		},
		{
			name:    "ambiguous old string",
			body:    `{"tool_name":"str_replace","path":"main.go","replacements":[{"old":"func","new":"fn"}]}`,
			wantErr: ErrInvalidParams,
		},
		{
			name: "allow multiple",
			body: `{"tool_name":"str_replace","path":"main.go","replacements":[{"old":"func","new":"fn","allow_multiple":true}]}`,
			want: "package main\n\nfn a() {}\nfn b() {}\n",
		},
		{
			name:    "missing file",
			body:    `{"tool_name":"str_replace","path":"nope.go","replacements":[{"old":"a","new":"b"}]}`,
			wantErr: ErrFileNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := "package main\n\nfunc a() {}\nfunc b() {}\n"
			if err := os.WriteFile(path, []byte(original), 0644); err != nil {
				t.Fatal(err)
			}
			rec := runTool(t, Options{Root: root}, nil, tt.body)
			data, _ := os.ReadFile(path)
			if tt.wantErr != "" {
				if rec.Err == nil || !strings.Contains(rec.Err.Message, string(tt.wantErr)) {
					t.Fatalf("expected %s, got %+v", tt.wantErr, rec.Err)
				}
				if string(data) != original {
					t.Errorf("file changed on failure: %q", data)
				}
				return
			}
			outputString(t, rec)
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestRunTerminalCommand(t *testing.T) {
	root := t.TempDir()
	opts := Options{Root: root, ShellAllow: []string{"echo *", "pwd"}}

	out := outputString(t, runTool(t, opts, nil, `{"tool_name":"run_terminal_command","command":"echo hello"}`))
	if !strings.Contains(out, "stdout:\nhello") || !strings.Contains(out, "exit_code: 0") {
		t.Errorf("unexpected output %q", out)
	}

	rec := runTool(t, opts, nil, `{"tool_name":"run_terminal_command","command":"rm -rf /"}`)
	if rec.Err == nil || !strings.Contains(rec.Err.Message, string(ErrPermissionDenied)) {
		t.Fatalf("expected PERMISSION_DENIED, got %+v", rec.Err)
	}

	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	out = outputString(t, runTool(t, opts, nil, `{"tool_name":"run_terminal_command","command":"pwd","cwd":"sub"}`))
	if !strings.Contains(out, string(filepath.Separator)+"sub") {
		t.Errorf("expected command to run in sub, got %q", out)
	}
}

func TestRunTerminalCommandExitCodeAndTimeout(t *testing.T) {
	opts := Options{Root: t.TempDir(), ShellAllow: []string{"*"}}

	out := outputString(t, runTool(t, opts, nil, `{"tool_name":"run_terminal_command","command":"echo oops >&2; exit 3"}`))
	if !strings.Contains(out, "stderr:\noops") || !strings.Contains(out, "exit_code: 3") {
		t.Errorf("unexpected output %q", out)
	}

	out = outputString(t, runTool(t, opts, nil, `{"tool_name":"run_terminal_command","command":"sleep 5","timeout_seconds":1}`))
	if !strings.Contains(out, "[Command timed out]") {
		t.Errorf("expected timeout marker, got %q", out)
	}
}

func TestShellAllowlist(t *testing.T) {
	allow, err := newShellAllowlist([]string{"go test*", "git status"})
	if err != nil {
		t.Fatalf("newShellAllowlist: %v", err)
	}
	for cmd, want := range map[string]bool{
		"go test ./...": true,
		"git status":    true,
		"git push":      false,
		"":              false,
	} {
		if got := allow.Allows(cmd); got != want {
			t.Errorf("Allows(%q) = %v, want %v", cmd, got, want)
		}
	}
	if _, err := newShellAllowlist([]string{"[unclosed"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestCodeSearch(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.go", "package a\n// TODO fix\n")
	writeTestFile(t, root, "b.txt", "todo later\n")
	writeTestFile(t, root, ".git/config", "TODO hidden\n")

	out := outputString(t, runTool(t, Options{Root: root}, nil, `{"tool_name":"code_search","pattern":"TODO"}`))
	if !strings.Contains(out, "a.go") || strings.Contains(out, "b.txt") || strings.Contains(out, "config") {
		t.Errorf("unexpected output %q", out)
	}

	out = outputString(t, runTool(t, Options{Root: root}, nil, `{"tool_name":"code_search","pattern":"todo","flags":"-i -g *.txt"}`))
	if !strings.Contains(out, "b.txt") || strings.Contains(out, "a.go") {
		t.Errorf("unexpected output %q", out)
	}

	out = outputString(t, runTool(t, Options{Root: root}, nil, `{"tool_name":"code_search","pattern":"nothing-here"}`))
	if out != "No matches found." {
		t.Errorf("unexpected output %q", out)
	}

	rec := runTool(t, Options{Root: root}, nil, `{"tool_name":"code_search","pattern":"(","flags":""}`)
	if rec.Err == nil || !strings.Contains(rec.Err.Message, string(ErrInvalidParams)) {
		t.Errorf("expected INVALID_PARAMS for bad regex, got %+v", rec.Err)
	}
}

func TestParseCodeSearchFlags(t *testing.T) {
	f, err := parseCodeSearchFlags(`-i --glob="*.go"`)
	if err != nil {
		t.Fatalf("parseCodeSearchFlags: %v", err)
	}
	if !f.ignoreCase || f.include != "*.go" {
		t.Errorf("got %+v", f)
	}
	if _, err := parseCodeSearchFlags("-g"); err == nil {
		t.Error("expected error for -g without pattern")
	}
	if _, err := parseCodeSearchFlags("--pcre2"); err == nil {
		t.Error("expected error for unsupported flag")
	}
}

func TestFindFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "cmd/main.go", "package main\n")
	writeTestFile(t, root, "internal/x/x.go", "package x\n")
	writeTestFile(t, root, "README.md", "# readme\n")
	writeTestFile(t, root, ".hidden/h.go", "package h\n")

	out := outputString(t, runTool(t, Options{Root: root}, nil, `{"tool_name":"find_files","pattern":"**/*.go"}`))
	if !strings.Contains(out, "cmd/main.go") || !strings.Contains(out, "internal/x/x.go") {
		t.Errorf("missing go files in %q", out)
	}
	if strings.Contains(out, "README.md") || strings.Contains(out, "h.go") {
		t.Errorf("unexpected entries in %q", out)
	}

	out = outputString(t, runTool(t, Options{Root: root}, nil, `{"tool_name":"find_files","pattern":"*.rs"}`))
	if out != "No files matched the pattern." {
		t.Errorf("unexpected output %q", out)
	}
}

type fakeSearcher struct {
	results []search.Result
	err     error
	gotMax  int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, max int) ([]search.Result, error) {
	f.gotMax = max
	return f.results, f.err
}

func TestWebSearchChargesUser(t *testing.T) {
	searcher := &fakeSearcher{results: []search.Result{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}}
	ledger := billing.NewLedger()
	opts := Options{Root: t.TempDir(), Searcher: searcher, SearchMaxResults: 5, Billing: ledger}
	state := &toolstream.State{UserID: "u1"}

	out := outputString(t, runTool(t, opts, state, `{"tool_name":"web_search","query":"golang","depth":"deep"}`))
	if out != "- [Go](https://go.dev) - The Go language" {
		t.Errorf("unexpected output %q", out)
	}
	if searcher.gotMax != 5*deepSearchFactor {
		t.Errorf("expected deep search to request %d results, got %d", 5*deepSearchFactor, searcher.gotMax)
	}
	if got, want := ledger.Total("u1"), billing.WebSearchCredits(true, 0); got != want {
		t.Errorf("charged %d credits, want %d", got, want)
	}
}

func TestWebSearchAnonymousIsNotCharged(t *testing.T) {
	ledger := billing.NewLedger()
	opts := Options{Root: t.TempDir(), Searcher: &fakeSearcher{}, Billing: ledger}

	out := outputString(t, runTool(t, opts, nil, `{"tool_name":"web_search","query":"nothing"}`))
	if out != "No results found." {
		t.Errorf("unexpected output %q", out)
	}
	if len(ledger.Charges()) != 0 {
		t.Errorf("expected no charges, got %v", ledger.Charges())
	}
}

func TestWebSearchFailure(t *testing.T) {
	ledger := billing.NewLedger()
	opts := Options{Root: t.TempDir(), Searcher: &fakeSearcher{err: errors.New("boom")}, Billing: ledger}

	rec := runTool(t, opts, &toolstream.State{UserID: "u1"}, `{"tool_name":"web_search","query":"x"}`)
	if rec.Err == nil || !strings.Contains(rec.Err.Message, string(ErrSearchFailed)) {
		t.Fatalf("expected SEARCH_FAILED, got %+v", rec.Err)
	}
	if ledger.Total("u1") != 0 {
		t.Error("failed search should not be charged")
	}
}

func TestStateTools(t *testing.T) {
	root := t.TempDir()
	state := &toolstream.State{}

	out := outputString(t, runTool(t, Options{Root: root}, state, `{"tool_name":"create_plan","path":"plan.md","plan":"1. build\n2. test"}`))
	if !strings.Contains(out, "plan.md") {
		t.Errorf("unexpected output %q", out)
	}
	if state.Plan != "1. build\n2. test" {
		t.Errorf("state plan = %q", state.Plan)
	}
	if data, _ := os.ReadFile(filepath.Join(root, "plan.md")); string(data) != state.Plan {
		t.Errorf("plan file = %q", data)
	}

	runTool(t, Options{Root: root}, state,
		`{"tool_name":"set_messages","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`)
	if len(state.Messages) != 2 || state.Messages[1].Text() != "hi" {
		t.Errorf("messages = %+v", state.Messages)
	}

	rec := runTool(t, Options{Root: root}, state, `{"tool_name":"end_turn"}`)
	if rec.Err != nil {
		t.Fatalf("end_turn: %v", rec.Err)
	}
	if !state.EndTurn {
		t.Error("expected EndTurn to be set")
	}

	rec = runTool(t, Options{Root: root}, state, `{"tool_name":"think_deeply","thought":"hmm"}`)
	if rec.Err != nil || rec.Output != nil {
		t.Errorf("think_deeply: output %v, err %v", rec.Output, rec.Err)
	}
}
