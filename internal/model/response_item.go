// Package model holds the closed-set wire types shared by every component:
// conversation items, content items, submissions, and events. Go has no
// native sum type, so each union is a struct with a Kind discriminator plus
// the fields relevant to that kind, matching how pkg/models represents
// Message/ToolCall/ToolResult elsewhere in this tree.
package model

import "encoding/json"

// ItemKind discriminates the ResponseItem union.
type ItemKind string

const (
	ItemMessage            ItemKind = "message"
	ItemFunctionCall       ItemKind = "function_call"
	ItemFunctionCallOutput ItemKind = "function_call_output"
	ItemLocalShellCall     ItemKind = "local_shell_call"
	ItemReasoning          ItemKind = "reasoning"
	ItemOther              ItemKind = "other"
)

// Role identifies the speaker of a Message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentKind discriminates the ContentItem union.
type ContentKind string

const (
	ContentInputText  ContentKind = "input_text"
	ContentOutputText ContentKind = "output_text"
	ContentInputImage ContentKind = "input_image"
)

// ContentItem is one piece of a Message's content list.
type ContentItem struct {
	Kind ContentKind `json:"kind"`

	// InputText / OutputText
	Text string `json:"text,omitempty"`

	// InputImage
	URL    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// InputText constructs a ContentItem carrying user/tool input text.
func InputText(text string) ContentItem {
	return ContentItem{Kind: ContentInputText, Text: text}
}

// OutputText constructs a ContentItem carrying model output text.
func OutputText(text string) ContentItem {
	return ContentItem{Kind: ContentOutputText, Text: text}
}

// InputImage constructs a ContentItem referencing an image by URL (including
// data: URLs for inline screenshots).
func InputImage(url, detail string) ContentItem {
	return ContentItem{Kind: ContentInputImage, URL: url, Detail: detail}
}

// FunctionCallOutputPayload is the body of a FunctionCallOutput item.
type FunctionCallOutputPayload struct {
	Content string `json:"content"`
	// Success is a pointer so the "unknown function" case can report a nil/null outcome distinct from
	// both true and false.
	Success *bool `json:"success,omitempty"`
}

// ResponseItem is the tagged union of everything that can live in
// ConversationHistory or be sent to/received from the model.
type ResponseItem struct {
	Kind ItemKind `json:"kind"`

	// Message
	Role    Role          `json:"role,omitempty"`
	Content []ContentItem `json:"content,omitempty"`

	// FunctionCall
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// FunctionCallOutput
	Output *FunctionCallOutputPayload `json:"output,omitempty"`

	// LocalShellCall
	Action json.RawMessage `json:"action,omitempty"`

	// Reasoning
	Summary  []string `json:"summary,omitempty"`
	RContent *string  `json:"reasoning_content,omitempty"`

	// Other: preserves anything the core does not interpret, so
	// round-tripping (R3) never drops data it does not understand.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Message builds a Message ResponseItem.
func Message(role Role, content ...ContentItem) ResponseItem {
	return ResponseItem{Kind: ItemMessage, Role: role, Content: content}
}

// FunctionCall builds a FunctionCall ResponseItem.
func FunctionCall(name, arguments, callID string) ResponseItem {
	return ResponseItem{Kind: ItemFunctionCall, Name: name, Arguments: arguments, CallID: callID}
}

// FunctionCallOutput builds a FunctionCallOutput ResponseItem.
func FunctionCallOutput(callID, content string, success *bool) ResponseItem {
	return ResponseItem{
		Kind:   ItemFunctionCallOutput,
		CallID: callID,
		Output: &FunctionCallOutputPayload{Content: content, Success: success},
	}
}

// BoolPtr is a small convenience for FunctionCallOutput's optional Success.
func BoolPtr(b bool) *bool { return &b }

// AbortedOutput builds the synthetic FunctionCallOutput injected for a
// FunctionCall/LocalShellCall whose result never arrived because the user
// interrupted the turn.
func AbortedOutput(callID string) ResponseItem {
	return FunctionCallOutput(callID, "aborted", BoolPtr(false))
}

// LocalShellCall builds a LocalShellCall ResponseItem.
func LocalShellCall(callID string, action json.RawMessage) ResponseItem {
	return ResponseItem{Kind: ItemLocalShellCall, CallID: callID, Action: action}
}

// Reasoning builds a Reasoning ResponseItem.
func Reasoning(summary []string, content *string) ResponseItem {
	return ResponseItem{Kind: ItemReasoning, Summary: summary, RContent: content}
}

// IsUserMessage reports whether this item is a user-role Message.
func (r ResponseItem) IsUserMessage() bool {
	return r.Kind == ItemMessage && r.Role == RoleUser
}

// FirstInputText returns the text of the first InputText content item, and
// whether one was found. Used to detect ephemeral/status/memory markers,
// which all rely on inspecting the first text content of a user message.
func (r ResponseItem) FirstInputText() (string, bool) {
	for _, c := range r.Content {
		if c.Kind == ContentInputText {
			return c.Text, true
		}
	}
	return "", false
}

// HasImage reports whether any content item is an InputImage.
func (r ResponseItem) HasImage() bool {
	for _, c := range r.Content {
		if c.Kind == ContentInputImage {
			return true
		}
	}
	return false
}

// TextContent concatenates all InputText/OutputText content of this item,
// in order. Used to extract the latest user query for retrieval.
func (r ResponseItem) TextContent() string {
	var out string
	for _, c := range r.Content {
		if c.Kind == ContentInputText || c.Kind == ContentOutputText {
			out += c.Text
		}
	}
	return out
}
