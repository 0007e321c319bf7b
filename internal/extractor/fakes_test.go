package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/xkilldash9x/ehr-cua/api/schemas"
	"github.com/xkilldash9x/ehr-cua/internal/computer"
	"github.com/xkilldash9x/ehr-cua/internal/llmclient"
)

// -- Computer Fake --

type fakeComputer struct {
	mu       sync.Mutex
	gotoErr  error
	visited  []string
	clicks   int
	closed   int
	landedAt string
}

var _ computer.Computer = (*fakeComputer)(nil)

func (f *fakeComputer) Environment() string    { return computer.EnvironmentBrowser }
func (f *fakeComputer) Dimensions() (int, int) { return 1024, 768 }

func (f *fakeComputer) Screenshot(context.Context) (string, error) { return "iVBORw0=", nil }

func (f *fakeComputer) Click(context.Context, int, int, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks++
	return nil
}

func (f *fakeComputer) DoubleClick(context.Context, int, int) error      { return nil }
func (f *fakeComputer) Scroll(context.Context, int, int, int, int) error { return nil }
func (f *fakeComputer) Type(context.Context, string) error               { return nil }
func (f *fakeComputer) Wait(context.Context, int) error                  { return nil }
func (f *fakeComputer) Move(context.Context, int, int) error             { return nil }
func (f *fakeComputer) Keypress(context.Context, []string) error         { return nil }
func (f *fakeComputer) Drag(context.Context, []computer.Point) error     { return nil }
func (f *fakeComputer) Back(context.Context) error                       { return nil }
func (f *fakeComputer) Forward(context.Context) error                    { return nil }

func (f *fakeComputer) Goto(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited = append(f.visited, url)
	return f.gotoErr
}

func (f *fakeComputer) CurrentURL(context.Context) (string, error) {
	if f.landedAt != "" {
		return f.landedAt, nil
	}
	return "https://ehr.example.test/charts", nil
}

func (f *fakeComputer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// -- Model Fake --

// scriptedModel replays canned outputs and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	outputs  [][]string
	err      error
	panicMsg string
	onCall   func(n int)
	requests []llmclient.ResponseRequest
}

func (s *scriptedModel) CreateResponse(ctx context.Context, req llmclient.ResponseRequest) (*llmclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.onCall != nil {
		s.onCall(len(s.requests))
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.outputs) == 0 {
		return &llmclient.Response{ID: "resp_empty"}, nil
	}
	next := s.outputs[0]
	s.outputs = s.outputs[1:]
	resp := &llmclient.Response{ID: "resp"}
	for _, o := range next {
		resp.Output = append(resp.Output, json.RawMessage(o))
	}
	return resp, nil
}

// -- Prompter Fake --

type scriptedPrompter struct {
	replies  []string
	confirms []bool
	end      error
	prompts  []string
}

func (p *scriptedPrompter) Ask(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if len(p.replies) == 0 {
		return "", p.endErr()
	}
	next := p.replies[0]
	p.replies = p.replies[1:]
	return next, nil
}

func (p *scriptedPrompter) Confirm(_ context.Context, prompt string) (bool, error) {
	p.prompts = append(p.prompts, prompt)
	if len(p.confirms) == 0 {
		return false, p.endErr()
	}
	next := p.confirms[0]
	p.confirms = p.confirms[1:]
	return next, nil
}

func (p *scriptedPrompter) endErr() error {
	if p.end != nil {
		return p.end
	}
	return io.EOF
}

// -- Sink Fakes --

type memorySaver struct {
	saved []schemas.ExtractionResult
	err   error
}

func (m *memorySaver) Save(_ context.Context, r *schemas.ExtractionResult) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, *r)
	return "/tmp/ehr_extractions/patient_" + r.PatientLabel() + ".json", nil
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, *schemas.ExtractionResult) error {
	f.calls++
	return errors.New("database unavailable")
}

// functionCall renders a function_call output item.
func functionCall(callID, name, args string) string {
	encodedArgs, _ := json.Marshal(args)
	return `{"type":"function_call","id":"fc_` + callID + `","call_id":"` + callID + `","name":"` + name + `","arguments":` + string(encodedArgs) + `}`
}

func assistantMessage(text string) string {
	encoded, _ := json.Marshal(text)
	return `{"type":"message","role":"assistant","content":[{"type":"output_text","text":` + string(encoded) + `}]}`
}
