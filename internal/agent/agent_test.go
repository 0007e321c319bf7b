package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const (
	assistantDone = `{"type":"message","id":"msg_1","role":"assistant","content":[{"type":"output_text","text":"All done."}]}`
	clickCall     = `{"type":"computer_call","id":"cu_1","call_id":"call_1","action":{"type":"click","button":"left","x":10,"y":20},"pending_safety_checks":[],"status":"completed"}`
)

// -- Test Helpers --

func newTestAgent(t *testing.T, model *scriptedModel, comp *MockComputer) (*Agent, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	a, err := New(model, comp, Options{
		Model:          "computer-use-preview",
		Tools:          []FunctionTool{{Type: "function", Name: "record_diagnoses", Parameters: json.RawMessage(`{"type":"object"}`)}},
		BlockedDomains: []string{"maliciousbook.com"},
		Out:            out,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return a, out
}

// -- Test Cases: Item --

func TestItemRoundTripKeepsModelBytes(t *testing.T) {
	raw := `{"type":"reasoning","id":"rs_1","summary":[{"type":"summary_text","text":"thinking"}],"encrypted_content":"abc"}`
	var item Item
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	assert.Equal(t, TypeReasoning, item.Type)

	encoded, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(encoded), "unknown fields survive the round trip")
}

func TestItemConstructors(t *testing.T) {
	dev := DeveloperMessage("extract things")
	assert.Equal(t, "extract things", dev.Text())
	encoded, err := json.Marshal(dev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"developer","content":"extract things"}`, string(encoded))

	out := FunctionCallOutput("call_9", `{"status":"recorded"}`)
	encoded, err = json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"function_call_output","call_id":"call_9","output":"{\"status\":\"recorded\"}"}`, string(encoded))
}

func TestItemText(t *testing.T) {
	var item Item
	require.NoError(t, json.Unmarshal([]byte(assistantDone), &item))
	assert.Equal(t, "All done.", item.Text())
	assert.Empty(t, Item{}.Text())
}

// -- Test Cases: RunFullTurn --

func TestRunFullTurn(t *testing.T) {
	t.Run("stops at the first assistant message", func(t *testing.T) {
		model := &scriptedModel{outputs: [][]string{{assistantDone}}}
		a, out := newTestAgent(t, model, newBrowserMock())

		items, err := a.RunFullTurn(context.Background(), []Item{UserMessage("hi")}, TurnOptions{PrintSteps: true})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, RoleAssistant, items[0].Role)
		assert.Contains(t, out.String(), "All done.")

		require.Len(t, model.requests, 1)
		req := model.requests[0]
		assert.Equal(t, "computer-use-preview", req.Model)
		assert.Equal(t, "auto", req.Truncation)
		require.Len(t, req.Tools, 2)
		assert.JSONEq(t, `{"type":"computer_use_preview","display_width":1024,"display_height":768,"environment":"browser"}`, string(req.Tools[0]))
	})

	t.Run("executes computer calls and feeds back screenshots", func(t *testing.T) {
		comp := newBrowserMock()
		comp.On("Click", mock.Anything, 10, 20, "left").Return(nil).Once()
		comp.On("Screenshot", mock.Anything).Return("iVBORw0=", nil).Once()
		comp.On("CurrentURL", mock.Anything).Return("https://ehr.example.test/chart", nil).Once()

		model := &scriptedModel{outputs: [][]string{{clickCall}, {assistantDone}}}
		a, out := newTestAgent(t, model, comp)

		items, err := a.RunFullTurn(context.Background(), []Item{UserMessage("go")}, TurnOptions{PrintSteps: true})
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, TypeComputerCall, items[0].Type)
		assert.Equal(t, TypeComputerCallOutput, items[1].Type)
		assert.Equal(t, "call_1", items[1].CallID)

		var shot screenshotOutput
		require.NoError(t, json.Unmarshal(items[1].Output, &shot))
		assert.Equal(t, "input_image", shot.Type)
		assert.Equal(t, "data:image/png;base64,iVBORw0=", shot.ImageURL)
		assert.Equal(t, "https://ehr.example.test/chart", shot.CurrentURL)

		// The second request carries the original input plus the call and its output.
		require.Len(t, model.requests, 2)
		assert.Len(t, model.requests[1].Input, 3)
		assert.JSONEq(t, clickCall, string(model.requests[1].Input[1]))
		assert.Contains(t, out.String(), `click({"button":"left","x":10,"y":20})`)
		comp.AssertExpectations(t)
	})

	t.Run("empty output is an error", func(t *testing.T) {
		a, _ := newTestAgent(t, &scriptedModel{}, newBrowserMock())
		_, err := a.RunFullTurn(context.Background(), nil, TurnOptions{})
		assert.ErrorIs(t, err, ErrNoOutput)
	})

	t.Run("model errors propagate", func(t *testing.T) {
		boom := errors.New("rate limited")
		a, _ := newTestAgent(t, &scriptedModel{err: boom}, newBrowserMock())
		_, err := a.RunFullTurn(context.Background(), nil, TurnOptions{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("step budget bounds a turn", func(t *testing.T) {
		reasoning := `{"type":"reasoning","id":"rs","summary":[]}`
		model := &scriptedModel{outputs: [][]string{{reasoning}, {reasoning}, {reasoning}}}
		a, _ := newTestAgent(t, model, newBrowserMock())
		a.maxSteps = 2

		items, err := a.RunFullTurn(context.Background(), nil, TurnOptions{})
		assert.ErrorIs(t, err, ErrTooManySteps)
		assert.Len(t, items, 2)
	})

	t.Run("cancelled context stops before calling the model", func(t *testing.T) {
		model := &scriptedModel{outputs: [][]string{{assistantDone}}}
		a, _ := newTestAgent(t, model, newBrowserMock())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := a.RunFullTurn(ctx, nil, TurnOptions{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, model.requests)
	})

	t.Run("replaced handler sees every item", func(t *testing.T) {
		fn := `{"type":"function_call","id":"fc_1","call_id":"call_7","name":"record_diagnoses","arguments":"{}"}`
		model := &scriptedModel{outputs: [][]string{{fn}, {assistantDone}}}
		a, _ := newTestAgent(t, model, newBrowserMock())

		var seen []string
		base := a.HandleItem
		a.HandleItem = func(ctx context.Context, item Item, opts TurnOptions) ([]Item, error) {
			seen = append(seen, item.Type)
			if item.Type == TypeFunctionCall {
				return []Item{FunctionCallOutput(item.CallID, "intercepted")}, nil
			}
			return base(ctx, item, opts)
		}

		items, err := a.RunFullTurn(context.Background(), nil, TurnOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{TypeFunctionCall, TypeMessage}, seen)
		assert.JSONEq(t, `"intercepted"`, string(items[1].Output))
	})

	t.Run("debug mode logs without image payloads", func(t *testing.T) {
		comp := newBrowserMock()
		comp.On("Click", mock.Anything, 10, 20, "left").Return(nil)
		comp.On("Screenshot", mock.Anything).Return("SECRETPIXELS", nil)
		comp.On("CurrentURL", mock.Anything).Return("https://ehr.example.test", nil)

		core, logs := observer.New(zap.DebugLevel)
		a, err := New(&scriptedModel{outputs: [][]string{{clickCall}, {assistantDone}}}, comp, Options{Out: &bytes.Buffer{}}, zap.New(core))
		require.NoError(t, err)

		_, err = a.RunFullTurn(context.Background(), nil, TurnOptions{Debug: true})
		require.NoError(t, err)

		sent := logs.FilterMessage("Sending conversation to model.").All()
		require.Len(t, sent, 2)
		input := sent[1].ContextMap()["input"].(string)
		assert.NotContains(t, input, "SECRETPIXELS")
		assert.Contains(t, input, "[image omitted]")
	})
}

// -- Test Cases: DefaultHandleItem --

func TestDefaultHandleItem(t *testing.T) {
	t.Run("function calls run browser helpers", func(t *testing.T) {
		comp := newBrowserMock()
		comp.On("Goto", mock.Anything, "https://ehr.example.test").Return(nil).Once()
		a, _ := newTestAgent(t, &scriptedModel{}, comp)

		item := Item{Type: TypeFunctionCall, CallID: "c1", Name: "goto", Arguments: `{"url":"https://ehr.example.test"}`}
		out, err := a.DefaultHandleItem(context.Background(), item, TurnOptions{})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.JSONEq(t, `"success"`, string(out[0].Output))
		comp.AssertExpectations(t)
	})

	t.Run("unknown function names are acknowledged", func(t *testing.T) {
		a, _ := newTestAgent(t, &scriptedModel{}, newBrowserMock())
		item := Item{Type: TypeFunctionCall, CallID: "c2", Name: "lookup_weather", Arguments: `{}`}
		out, err := a.DefaultHandleItem(context.Background(), item, TurnOptions{})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "c2", out[0].CallID)
	})

	t.Run("reasoning items produce nothing", func(t *testing.T) {
		a, _ := newTestAgent(t, &scriptedModel{}, newBrowserMock())
		out, err := a.DefaultHandleItem(context.Background(), Item{Type: TypeReasoning}, TurnOptions{})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("action dispatch", func(t *testing.T) {
		comp := newBrowserMock()
		comp.On("Keypress", mock.Anything, []string{"CTRL", "A"}).Return(nil).Once()
		comp.On("Screenshot", mock.Anything).Return("x", nil)
		comp.On("CurrentURL", mock.Anything).Return("https://ehr.example.test", nil)
		a, _ := newTestAgent(t, &scriptedModel{}, comp)

		item := Item{Type: TypeComputerCall, CallID: "c3", Action: json.RawMessage(`{"type":"keypress","keys":["CTRL","A"]}`)}
		_, err := a.DefaultHandleItem(context.Background(), item, TurnOptions{})
		require.NoError(t, err)
		comp.AssertExpectations(t)
	})

	t.Run("unknown action types fail", func(t *testing.T) {
		a, _ := newTestAgent(t, &scriptedModel{}, newBrowserMock())
		item := Item{Type: TypeComputerCall, CallID: "c4", Action: json.RawMessage(`{"type":"teleport"}`)}
		_, err := a.DefaultHandleItem(context.Background(), item, TurnOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "teleport")
	})

	t.Run("missing action fails", func(t *testing.T) {
		a, _ := newTestAgent(t, &scriptedModel{}, newBrowserMock())
		_, err := a.DefaultHandleItem(context.Background(), Item{Type: TypeComputerCall}, TurnOptions{})
		assert.ErrorIs(t, err, ErrMissingAction)
	})
}

// -- Test Cases: Safety --

func TestSafetyChecks(t *testing.T) {
	withCheck := Item{
		Type:                TypeComputerCall,
		CallID:              "c5",
		Action:              json.RawMessage(`{"type":"click","button":"left","x":1,"y":2}`),
		PendingSafetyChecks: []SafetyCheck{{ID: "sc_1", Code: "malicious_instructions", Message: "Page asks for patient data"}},
	}

	t.Run("refused checks stop before the action runs", func(t *testing.T) {
		comp := newBrowserMock()
		a, _ := newTestAgent(t, &scriptedModel{}, comp)

		_, err := a.DefaultHandleItem(context.Background(), withCheck, TurnOptions{})
		assert.ErrorIs(t, err, ErrSafetyCheckRefused)
		assert.Contains(t, err.Error(), "Page asks for patient data")
		comp.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("acknowledged checks are echoed", func(t *testing.T) {
		comp := newBrowserMock()
		comp.On("Click", mock.Anything, 1, 2, "left").Return(nil)
		comp.On("Screenshot", mock.Anything).Return("x", nil)
		comp.On("CurrentURL", mock.Anything).Return("https://ehr.example.test", nil)
		a, _ := newTestAgent(t, &scriptedModel{}, comp)

		var asked []string
		a.AcknowledgeSafetyCheck = func(ctx context.Context, check SafetyCheck) (bool, error) {
			asked = append(asked, check.Message)
			return true, nil
		}

		out, err := a.DefaultHandleItem(context.Background(), withCheck, TurnOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Page asks for patient data"}, asked)
		require.Len(t, out, 1)
		assert.Equal(t, withCheck.PendingSafetyChecks, out[0].AcknowledgedSafetyChecks)
	})

	t.Run("blocklisted landing page fails the action", func(t *testing.T) {
		comp := newBrowserMock()
		comp.On("Click", mock.Anything, 10, 20, "left").Return(nil)
		comp.On("Screenshot", mock.Anything).Return("x", nil)
		comp.On("CurrentURL", mock.Anything).Return("https://www.maliciousbook.com/login", nil)
		a, _ := newTestAgent(t, &scriptedModel{}, comp)

		var item Item
		require.NoError(t, json.Unmarshal([]byte(clickCall), &item))
		_, err := a.DefaultHandleItem(context.Background(), item, TurnOptions{})
		assert.ErrorIs(t, err, ErrBlockedURL)
	})
}

func TestCheckBlocklistedURL(t *testing.T) {
	blocked := []string{"maliciousbook.com", "evilvideos.com"}
	assert.NoError(t, checkBlocklistedURL("https://static.practicefusion.com/apps/ehr/#/login", blocked))
	assert.NoError(t, checkBlocklistedURL("https://notmaliciousbook.com", blocked))
	assert.ErrorIs(t, checkBlocklistedURL("https://maliciousbook.com", blocked), ErrBlockedURL)
	assert.ErrorIs(t, checkBlocklistedURL("https://cdn.EvilVideos.com/x", blocked), ErrBlockedURL)
	assert.NoError(t, checkBlocklistedURL("about:blank", blocked))
}
