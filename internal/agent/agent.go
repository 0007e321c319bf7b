// internal/agent/agent.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/computer"
	"github.com/xkilldash9x/ehr-cua/internal/llmclient"
)

const defaultMaxSteps = 100

// ModelClient is the slice of the Responses API the agent needs.
type ModelClient interface {
	CreateResponse(ctx context.Context, req llmclient.ResponseRequest) (*llmclient.Response, error)
}

// FunctionTool declares a function the model may call.
type FunctionTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type computerTool struct {
	Type          string `json:"type"`
	DisplayWidth  int    `json:"display_width"`
	DisplayHeight int    `json:"display_height"`
	Environment   string `json:"environment"`
}

// TurnOptions controls output during a turn.
type TurnOptions struct {
	PrintSteps bool
	Debug      bool
	ShowImages bool
}

// HandlerFunc turns one model output item into the items sent back to the model.
type HandlerFunc func(ctx context.Context, item Item, opts TurnOptions) ([]Item, error)

// SafetyCallback decides whether a pending safety check may be acknowledged.
type SafetyCallback func(ctx context.Context, check SafetyCheck) (bool, error)

// Options configures an Agent.
type Options struct {
	Model           string
	Tools           []FunctionTool
	MaxStepsPerTurn int
	BlockedDomains  []string
	// Out receives step printing. Defaults to os.Stdout.
	Out io.Writer
}

// Agent runs the perception, decision and action loop against a Computer.
type Agent struct {
	// HandleItem processes every output item. It starts as DefaultHandleItem
	// and may be wrapped to intercept specific items.
	HandleItem HandlerFunc
	// AcknowledgeSafetyCheck is consulted for each pending safety check.
	// The default refuses everything.
	AcknowledgeSafetyCheck SafetyCallback

	client   ModelClient
	computer computer.Computer
	model    string
	tools    []json.RawMessage
	maxSteps int
	blocked  []string
	out      io.Writer
	logger   *zap.Logger
}

// New wires an agent to a model client and a computer. The computer tool is
// always declared first, followed by opts.Tools.
func New(client ModelClient, comp computer.Computer, opts Options, logger *zap.Logger) (*Agent, error) {
	width, height := comp.Dimensions()
	tools := make([]json.RawMessage, 0, len(opts.Tools)+1)
	ct, err := json.Marshal(computerTool{
		Type:          "computer_use_preview",
		DisplayWidth:  width,
		DisplayHeight: height,
		Environment:   comp.Environment(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode computer tool: %w", err)
	}
	tools = append(tools, ct)
	for _, t := range opts.Tools {
		encoded, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool %s: %w", t.Name, err)
		}
		tools = append(tools, encoded)
	}

	a := &Agent{
		client:   client,
		computer: comp,
		model:    opts.Model,
		tools:    tools,
		maxSteps: opts.MaxStepsPerTurn,
		blocked:  opts.BlockedDomains,
		out:      opts.Out,
		logger:   logger.Named("agent"),
	}
	if a.maxSteps <= 0 {
		a.maxSteps = defaultMaxSteps
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	a.HandleItem = a.DefaultHandleItem
	a.AcknowledgeSafetyCheck = func(context.Context, SafetyCheck) (bool, error) { return false, nil }
	return a, nil
}

// RunFullTurn calls the model until it answers with an assistant message,
// handling every output item along the way. It returns the items produced
// during the turn, model output and handler output interleaved.
func (a *Agent) RunFullTurn(ctx context.Context, items []Item, opts TurnOptions) ([]Item, error) {
	var newItems []Item

	for step := 0; len(newItems) == 0 || newItems[len(newItems)-1].Role != RoleAssistant; step++ {
		if step >= a.maxSteps {
			return newItems, fmt.Errorf("%w (%d)", ErrTooManySteps, a.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return newItems, err
		}

		conversation := make([]Item, 0, len(items)+len(newItems))
		conversation = append(append(conversation, items...), newItems...)
		input, err := encodeItems(conversation)
		if err != nil {
			return newItems, err
		}
		if opts.Debug {
			a.logger.Debug("Sending conversation to model.", zap.Int("items", len(input)), zap.String("input", sanitize(input)))
		}

		resp, err := a.client.CreateResponse(ctx, llmclient.ResponseRequest{
			Model:      a.model,
			Input:      input,
			Tools:      a.tools,
			Truncation: "auto",
		})
		if err != nil {
			return newItems, err
		}
		if len(resp.Output) == 0 {
			return newItems, ErrNoOutput
		}
		if opts.Debug {
			a.logger.Debug("Model output received.", zap.String("response_id", resp.ID), zap.String("output", sanitize(resp.Output)))
		}

		output, err := decodeItems(resp.Output)
		if err != nil {
			return newItems, err
		}
		newItems = append(newItems, output...)

		for _, item := range output {
			produced, err := a.HandleItem(ctx, item, opts)
			if err != nil {
				return newItems, err
			}
			newItems = append(newItems, produced...)
		}
	}
	return newItems, nil
}

func encodeItems(items []Item) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for idx, item := range items {
		encoded, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to encode conversation item %d: %w", idx, err)
		}
		out = append(out, encoded)
	}
	return out, nil
}

func decodeItems(raw []json.RawMessage) ([]Item, error) {
	out := make([]Item, 0, len(raw))
	for idx, r := range raw {
		var item Item
		if err := json.Unmarshal(r, &item); err != nil {
			return nil, fmt.Errorf("failed to decode model output item %d: %w", idx, err)
		}
		out = append(out, item)
	}
	return out, nil
}
