package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/agent"
)

type toolHandler func(ctx context.Context, args []byte) (any, error)

// bind adapts a typed handler to raw JSON arguments.
func bind[T any](fn func(context.Context, T) (any, error)) toolHandler {
	return func(ctx context.Context, raw []byte) (any, error) {
		var args T
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &argumentError{err: err}
		}
		return fn(ctx, args)
	}
}

type argumentError struct{ err error }

func (e *argumentError) Error() string { return "invalid arguments: " + e.err.Error() }
func (e *argumentError) Unwrap() error { return e.err }

// Router intercepts function calls for the domain tools and hands every
// other item to the agent's own handler.
type Router struct {
	handlers map[string]toolHandler
	schemas  map[string]*jsonschema.Schema
	out      io.Writer
	logger   *zap.Logger
}

// NewRouter binds the four tools to a session.
func NewRouter(s *Session, out io.Writer, logger *zap.Logger) (*Router, error) {
	compiled, err := compileSchemas(toolDefinitions)
	if err != nil {
		return nil, err
	}
	return &Router{
		handlers: map[string]toolHandler{
			ToolNavigateToPatient:  bind(s.NavigateToPatient),
			ToolRecordDiagnoses:    bind(s.RecordDiagnoses),
			ToolRecordMedications:  bind(s.RecordMedications),
			ToolCompleteExtraction: bind(s.CompleteExtraction),
		},
		schemas: compiled,
		out:     out,
		logger:  logger.Named("router"),
	}, nil
}

// Wrap returns a handler that serves domain tool calls itself and delegates the rest to next.
func (r *Router) Wrap(next agent.HandlerFunc) agent.HandlerFunc {
	return func(ctx context.Context, item agent.Item, opts agent.TurnOptions) ([]agent.Item, error) {
		if item.Type != agent.TypeFunctionCall {
			return next(ctx, item, opts)
		}
		handler, ok := r.handlers[item.Name]
		if !ok {
			return next(ctx, item, opts)
		}

		if opts.PrintSteps {
			fmt.Fprintf(r.out, "🔧 %s(%s)\n", item.Name, item.Arguments)
		}
		output, err := r.call(ctx, item, handler)
		if err != nil {
			return nil, fmt.Errorf("tool %s failed: %w", item.Name, err)
		}
		return []agent.Item{agent.FunctionCallOutput(item.CallID, output)}, nil
	}
}

// call validates the arguments and runs the handler. Bad arguments are
// answered with an error object so the model can retry; handler failures
// are returned as errors.
func (r *Router) call(ctx context.Context, item agent.Item, handler toolHandler) (string, error) {
	raw := strings.TrimSpace(item.Arguments)
	if raw == "" {
		raw = "{}"
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		r.logger.Warn("Tool call arguments are not valid JSON.", zap.String("tool", item.Name), zap.Error(err))
		return jsonError(fmt.Sprintf("arguments are not valid JSON: %v", err)), nil
	}
	if err := r.schemas[item.Name].Validate(doc); err != nil {
		r.logger.Warn("Tool call arguments failed validation.", zap.String("tool", item.Name), zap.Error(err))
		return jsonError(fmt.Sprintf("arguments do not match the %s schema: %v", item.Name, err)), nil
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		var argErr *argumentError
		if errors.As(err, &argErr) {
			return jsonError(argErr.Error()), nil
		}
		return "", err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(encoded), nil
}
