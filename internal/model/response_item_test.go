package model

import (
	"encoding/json"
	"testing"
)

func TestResponseItemRoundTrip(t *testing.T) {
	cases := []ResponseItem{
		Message(RoleUser, InputText("hello")),
		Message(RoleAssistant, OutputText("world")),
		FunctionCall("shell", `{"command":["ls"]}`, "c1"),
		FunctionCallOutput("c1", "ok", BoolPtr(true)),
		AbortedOutput("c2"),
		LocalShellCall("c3", json.RawMessage(`{"command":["pwd"]}`)),
		Reasoning([]string{"thinking"}, nil),
	}

	for _, want := range cases {
		b, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got ResponseItem
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Kind != want.Kind || got.CallID != want.CallID || got.Name != want.Name {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
		if want.Output != nil {
			if got.Output == nil {
				t.Fatalf("expected output payload, got nil")
			}
			if (got.Output.Success == nil) != (want.Output.Success == nil) {
				t.Fatalf("success pointer nilness mismatch")
			}
			if got.Output.Success != nil && *got.Output.Success != *want.Output.Success {
				t.Fatalf("success value mismatch: got %v want %v", *got.Output.Success, *want.Output.Success)
			}
		}
	}
}

func TestEphemeralMarker(t *testing.T) {
	item := Message(RoleUser, InputText("[EPHEMERAL:turn_status]\nsome status"), InputImage("data:image/png;base64,abc", ""))
	if !item.IsEphemeral() {
		t.Fatalf("expected item to be ephemeral")
	}
	real := Message(RoleUser, InputText("hi"))
	if real.IsEphemeral() {
		t.Fatalf("did not expect real message to be ephemeral")
	}
}

func TestStatusAndRealUserMessage(t *testing.T) {
	status := Message(RoleUser, InputText("== System Status ==\nok"))
	if !status.IsStatusMessage() {
		t.Fatalf("expected status message")
	}
	if status.IsRealUserMessage() {
		t.Fatalf("status message should not count as real user message")
	}

	real := Message(RoleUser, InputText("please fix the bug"))
	if !real.IsRealUserMessage() {
		t.Fatalf("expected real user message")
	}
}

func TestSegmentIntoVolleys(t *testing.T) {
	items := []ResponseItem{
		Message(RoleUser, InputText("first")),
		Message(RoleAssistant, OutputText("reply")),
		Message(RoleUser, InputText("second")),
		Message(RoleAssistant, OutputText("reply2")),
		Message(RoleAssistant, OutputText("reply3")),
	}
	volleys := SegmentIntoVolleys(items)
	if len(volleys) != 2 {
		t.Fatalf("expected 2 volleys, got %d", len(volleys))
	}
	if volleys[0].Start != 0 || volleys[0].End != 2 {
		t.Fatalf("unexpected first volley: %+v", volleys[0])
	}
	if volleys[1].Start != 2 || volleys[1].End != 5 {
		t.Fatalf("unexpected second volley: %+v", volleys[1])
	}
}
