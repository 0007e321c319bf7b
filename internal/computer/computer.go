// internal/computer/computer.go
package computer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/config"
)

// EnvironmentBrowser is the environment reported to the model for every backend in this package.
const EnvironmentBrowser = "browser"

// ErrUnsupportedComputer is returned when a backend name is not registered.
var ErrUnsupportedComputer = errors.New("unsupported computer type")

// Point is a screen coordinate in CSS pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Computer is the set of screen and input primitives the agent drives.
// Implementations are used from a single goroutine.
type Computer interface {
	// Environment names the kind of surface, e.g. "browser".
	Environment() string
	// Dimensions returns the viewport width and height.
	Dimensions() (width, height int)

	// Screenshot returns a base64 encoded PNG of the current viewport.
	Screenshot(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y int, button string) error
	DoubleClick(ctx context.Context, x, y int) error
	Scroll(ctx context.Context, x, y, scrollX, scrollY int) error
	Type(ctx context.Context, text string) error
	Wait(ctx context.Context, ms int) error
	Move(ctx context.Context, x, y int) error
	Keypress(ctx context.Context, keys []string) error
	Drag(ctx context.Context, path []Point) error

	Goto(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)

	// Close releases the backend. It is safe to call more than once.
	Close() error
}

// Opener starts a backend and returns a ready Computer.
type Opener func(ctx context.Context, cfg config.ComputerConfig, logger *zap.Logger) (Computer, error)

var registry = map[string]Opener{
	"local-playwright": OpenLocal,
	"browserbase":      OpenBrowserbase,
	"scrapybara":       OpenScrapybara,
}

// Names lists the registered backend names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a backend name without starting anything.
func Lookup(name string) (Opener, error) {
	opener, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s. Available: %v", ErrUnsupportedComputer, name, Names())
	}
	return opener, nil
}
