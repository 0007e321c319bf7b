// internal/agent/item.go
package agent

import (
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/ehr-cua/internal/computer"
)

// Item types exchanged with the Responses API.
const (
	TypeMessage            = "message"
	TypeFunctionCall       = "function_call"
	TypeFunctionCallOutput = "function_call_output"
	TypeComputerCall       = "computer_call"
	TypeComputerCallOutput = "computer_call_output"
	TypeReasoning          = "reasoning"
)

// Conversation roles.
const (
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SafetyCheck is a model-raised warning that must be acknowledged before an action runs.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Item is one entry of the conversation. Items decoded from a model response
// keep their original bytes and are sent back exactly as received.
type Item struct {
	Type                     string          `json:"type,omitempty"`
	ID                       string          `json:"id,omitempty"`
	Role                     string          `json:"role,omitempty"`
	Content                  json.RawMessage `json:"content,omitempty"`
	Status                   string          `json:"status,omitempty"`
	CallID                   string          `json:"call_id,omitempty"`
	Name                     string          `json:"name,omitempty"`
	Arguments                string          `json:"arguments,omitempty"`
	Output                   json.RawMessage `json:"output,omitempty"`
	Action                   json.RawMessage `json:"action,omitempty"`
	PendingSafetyChecks      []SafetyCheck   `json:"pending_safety_checks,omitempty"`
	AcknowledgedSafetyChecks []SafetyCheck   `json:"acknowledged_safety_checks,omitempty"`

	raw json.RawMessage
}

// itemFields has Item's fields without its methods, for plain encoding.
type itemFields Item

func (i *Item) UnmarshalJSON(data []byte) error {
	var f itemFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*i = Item(f)
	i.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.raw) > 0 {
		return i.raw, nil
	}
	return json.Marshal(itemFields(i))
}

// Text returns the message text: the string content, or the first text part.
func (i Item) Text() string {
	if len(i.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(i.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(i.Content, &parts); err != nil {
		return ""
	}
	for _, p := range parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// DeveloperMessage builds the fixed instruction item.
func DeveloperMessage(text string) Item {
	return textMessage(RoleDeveloper, text)
}

// UserMessage builds an item carrying operator input.
func UserMessage(text string) Item {
	return textMessage(RoleUser, text)
}

func textMessage(role, text string) Item {
	content, _ := json.Marshal(text)
	return Item{Role: role, Content: content}
}

// FunctionCallOutput answers a function_call. output is sent as a string.
func FunctionCallOutput(callID, output string) Item {
	encoded, _ := json.Marshal(output)
	return Item{Type: TypeFunctionCallOutput, CallID: callID, Output: encoded}
}

// ComputerAction is the action payload of a computer_call item.
type ComputerAction struct {
	Type    string           `json:"type"`
	Button  string           `json:"button,omitempty"`
	X       int              `json:"x"`
	Y       int              `json:"y"`
	ScrollX int              `json:"scroll_x,omitempty"`
	ScrollY int              `json:"scroll_y,omitempty"`
	Text    string           `json:"text,omitempty"`
	Keys    []string         `json:"keys,omitempty"`
	Path    []computer.Point `json:"path,omitempty"`
	Ms      int              `json:"ms,omitempty"`
}

// ComputerAction decodes the item's action payload.
func (i Item) ComputerAction() (ComputerAction, error) {
	var a ComputerAction
	if len(i.Action) == 0 {
		return a, ErrMissingAction
	}
	if err := json.Unmarshal(i.Action, &a); err != nil {
		return a, fmt.Errorf("invalid computer action: %w", err)
	}
	return a, nil
}

// actionArgs renders the action's arguments, without its type, for step printing.
func (i Item) actionArgs() string {
	var args map[string]any
	if err := json.Unmarshal(i.Action, &args); err != nil {
		return string(i.Action)
	}
	delete(args, "type")
	out, _ := json.Marshal(args)
	return string(out)
}

// screenshotOutput is the output object of a computer_call_output item.
type screenshotOutput struct {
	Type       string `json:"type"`
	ImageURL   string `json:"image_url"`
	CurrentURL string `json:"current_url,omitempty"`
}
