// internal/agent/handler.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/computer"
)

// DefaultHandleItem prints messages, runs browser helper functions and
// computer actions, and answers each call with the matching output item.
// Other item types produce nothing.
func (a *Agent) DefaultHandleItem(ctx context.Context, item Item, opts TurnOptions) ([]Item, error) {
	switch item.Type {
	case TypeMessage:
		if opts.PrintSteps {
			fmt.Fprintln(a.out, item.Text())
		}
		return nil, nil

	case TypeFunctionCall:
		if opts.PrintSteps {
			fmt.Fprintf(a.out, "%s(%s)\n", item.Name, item.Arguments)
		}
		if err := a.callComputerFunction(ctx, item); err != nil {
			return nil, err
		}
		return []Item{FunctionCallOutput(item.CallID, "success")}, nil

	case TypeComputerCall:
		return a.handleComputerCall(ctx, item, opts)
	}
	return nil, nil
}

// callComputerFunction runs the browser helpers the model may call by name.
// Unknown names are acknowledged without effect.
func (a *Agent) callComputerFunction(ctx context.Context, item Item) error {
	var err error
	switch item.Name {
	case "goto":
		var args struct {
			URL string `json:"url"`
		}
		if err = json.Unmarshal([]byte(item.Arguments), &args); err != nil {
			return fmt.Errorf("invalid arguments for goto: %w", err)
		}
		err = a.computer.Goto(ctx, args.URL)
	case "back":
		err = a.computer.Back(ctx)
	case "forward":
		err = a.computer.Forward(ctx)
	default:
		a.logger.Debug("Function call has no computer counterpart.", zap.String("name", item.Name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("function %s failed: %w", item.Name, err)
	}
	return nil
}

func (a *Agent) handleComputerCall(ctx context.Context, item Item, opts TurnOptions) ([]Item, error) {
	action, err := item.ComputerAction()
	if err != nil {
		return nil, err
	}
	if opts.PrintSteps {
		fmt.Fprintf(a.out, "%s(%s)\n", action.Type, item.actionArgs())
	}

	for _, check := range item.PendingSafetyChecks {
		ok, err := a.AcknowledgeSafetyCheck(ctx, check)
		if err != nil {
			return nil, fmt.Errorf("safety check %s: %w", check.ID, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSafetyCheckRefused, check.Message)
		}
	}

	if err := a.execute(ctx, action); err != nil {
		return nil, fmt.Errorf("computer action %s failed: %w", action.Type, err)
	}

	shot, err := a.computer.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	if opts.ShowImages {
		a.logger.Debug("Screenshot captured.", zap.Int("base64_bytes", len(shot)))
	}

	out := screenshotOutput{Type: "input_image", ImageURL: "data:image/png;base64," + shot}
	if a.computer.Environment() == computer.EnvironmentBrowser {
		current, err := a.computer.CurrentURL(ctx)
		if err != nil {
			return nil, err
		}
		if err := checkBlocklistedURL(current, a.blocked); err != nil {
			return nil, err
		}
		out.CurrentURL = current
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode screenshot output: %w", err)
	}
	return []Item{{
		Type:                     TypeComputerCallOutput,
		CallID:                   item.CallID,
		AcknowledgedSafetyChecks: item.PendingSafetyChecks,
		Output:                   encoded,
	}}, nil
}

// execute maps an action onto the computer.
func (a *Agent) execute(ctx context.Context, act ComputerAction) error {
	c := a.computer
	switch act.Type {
	case "click":
		return c.Click(ctx, act.X, act.Y, act.Button)
	case "double_click":
		return c.DoubleClick(ctx, act.X, act.Y)
	case "scroll":
		return c.Scroll(ctx, act.X, act.Y, act.ScrollX, act.ScrollY)
	case "type":
		return c.Type(ctx, act.Text)
	case "wait":
		return c.Wait(ctx, act.Ms)
	case "move":
		return c.Move(ctx, act.X, act.Y)
	case "keypress":
		return c.Keypress(ctx, act.Keys)
	case "drag":
		return c.Drag(ctx, act.Path)
	case "screenshot":
		return nil
	default:
		return fmt.Errorf("unknown action type %q", act.Type)
	}
}

// checkBlocklistedURL fails when the URL's host is, or is under, a blocked domain.
func checkBlocklistedURL(raw string, blocked []string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range blocked {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return fmt.Errorf("%w: %s", ErrBlockedURL, raw)
		}
	}
	return nil
}

// sanitize renders items as JSON with inline image data elided.
func sanitize(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return string(encoded)
	}
	out, _ := json.Marshal(elideImages(generic))
	return string(out)
}

func elideImages(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if s, ok := val.(string); ok && k == "image_url" && strings.HasPrefix(s, "data:") {
				t[k] = "[image omitted]"
				continue
			}
			t[k] = elideImages(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = elideImages(t[i])
		}
		return t
	default:
		return v
	}
}
