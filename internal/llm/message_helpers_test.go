package llm

import (
	"encoding/json"
	"testing"
)

func TestToolResultMessage_PlainText(t *testing.T) {
	msg := ToolResultMessage("call-1", "read_files", "contents")
	if msg.Role != RoleTool {
		t.Fatalf("role = %q", msg.Role)
	}
	if len(msg.Parts) != 1 || msg.Parts[0].ToolResult == nil {
		t.Fatalf("parts = %+v", msg.Parts)
	}
	r := msg.Parts[0].ToolResult
	if r.ID != "call-1" || r.Name != "read_files" || r.Content != "contents" || r.IsError {
		t.Fatalf("result = %+v", r)
	}
}

func TestToolErrorMessage(t *testing.T) {
	msg := ToolErrorMessage("call-2", "write_file", `{"errorMessage":"denied"}`)
	if !msg.Parts[0].ToolResult.IsError {
		t.Fatal("expected IsError")
	}
	want := "<tool_result name=\"write_file\" id=\"call-2\" error=\"true\">\n{\"errorMessage\":\"denied\"}\n</tool_result>"
	if got := msg.Text(); got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestMessageSessionRoundTrip(t *testing.T) {
	orig := []Message{
		SystemText("be brief"),
		UserText("hi"),
		{Role: RoleAssistant, Parts: []Part{{Type: PartText, Text: "checking"}}, TimeToLive: TTLAgentStep},
		ToolResultMessage("c1", "find_files", "a.go"),
	}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	var got []Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[2].TimeToLive != TTLAgentStep || got[3].Parts[0].ToolResult.Content != "a.go" {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestSplitSystemMergesTurns(t *testing.T) {
	system, turns := splitSystem([]Message{
		SystemText("one"),
		UserText("hi"),
		SystemText("two"),
		AssistantText("calling"),
		ToolResultMessage("c1", "find_files", "a.go"),
		UserText("thanks"),
	})
	if system != "one\n\ntwo" {
		t.Fatalf("system = %q", system)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[2].Role != RoleUser {
		t.Fatalf("tool result should be sent as user, got %q", turns[2].Role)
	}
	want := "<tool_result name=\"find_files\" id=\"c1\">\na.go\n</tool_result>\n\nthanks"
	if got := turns[2].Text(); got != want {
		t.Fatalf("merged text = %q", got)
	}
}
