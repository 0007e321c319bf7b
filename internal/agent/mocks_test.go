package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/ehr-cua/internal/computer"
	"github.com/xkilldash9x/ehr-cua/internal/llmclient"
)

// -- Computer Mock --

// MockComputer mocks the computer.Computer interface.
type MockComputer struct {
	mock.Mock
}

var _ computer.Computer = (*MockComputer)(nil)

func (m *MockComputer) Environment() string { return m.Called().String(0) }

func (m *MockComputer) Dimensions() (int, int) {
	args := m.Called()
	return args.Int(0), args.Int(1)
}

func (m *MockComputer) Screenshot(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockComputer) Click(ctx context.Context, x, y int, button string) error {
	return m.Called(ctx, x, y, button).Error(0)
}

func (m *MockComputer) DoubleClick(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockComputer) Scroll(ctx context.Context, x, y, scrollX, scrollY int) error {
	return m.Called(ctx, x, y, scrollX, scrollY).Error(0)
}

func (m *MockComputer) Type(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockComputer) Wait(ctx context.Context, ms int) error {
	return m.Called(ctx, ms).Error(0)
}

func (m *MockComputer) Move(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockComputer) Keypress(ctx context.Context, keys []string) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *MockComputer) Drag(ctx context.Context, path []computer.Point) error {
	return m.Called(ctx, path).Error(0)
}

func (m *MockComputer) Goto(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockComputer) Back(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *MockComputer) Forward(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockComputer) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockComputer) Close() error { return m.Called().Error(0) }

// newBrowserMock returns a MockComputer with the calls every agent makes already stubbed.
func newBrowserMock() *MockComputer {
	m := new(MockComputer)
	m.On("Environment").Return(computer.EnvironmentBrowser).Maybe()
	m.On("Dimensions").Return(1024, 768).Maybe()
	return m
}

// -- Model Mock --

// scriptedModel replays canned outputs and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	outputs  [][]string
	err      error
	requests []llmclient.ResponseRequest
}

func (s *scriptedModel) CreateResponse(ctx context.Context, req llmclient.ResponseRequest) (*llmclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
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
