// internal/computer/browser.go
package computer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/config"
)

const defaultActionTimeout = 30 * time.Second

// Browser implements Computer on a single Chrome tab over CDP. The allocator
// behind it decides whether Chrome is local or remote.
type Browser struct {
	logger  *zap.Logger
	width   int
	height  int
	timeout time.Duration

	tabCtx context.Context
	// run executes actions against the tab. Tests swap it out.
	run func(ctx context.Context, actions ...chromedp.Action) error

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

var _ Computer = (*Browser)(nil)

// newBrowser opens a tab on allocCtx and fixes the viewport. closers run on
// Close after the tab is gone, in order.
func newBrowser(allocCtx context.Context, cfg config.ComputerConfig, logger *zap.Logger, closers ...func() error) (*Browser, error) {
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Sugar().Debugf))

	b := &Browser{
		logger:  logger,
		width:   cfg.DisplayWidth,
		height:  cfg.DisplayHeight,
		timeout: cfg.ActionTimeout,
		tabCtx:  tabCtx,
	}
	if b.timeout <= 0 {
		b.timeout = defaultActionTimeout
	}
	b.run = b.runInTab
	b.closers = append([]func() error{func() error { tabCancel(); return nil }}, closers...)

	// The first Run must use the tab context itself; it owns the browser lifetime.
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(b.width), int64(b.height))); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}
	logger.Debug("Browser tab ready.", zap.Int("width", b.width), zap.Int("height", b.height))
	return b, nil
}

// runInTab runs actions on the tab, bounded by the per-action timeout and by ctx.
func (b *Browser) runInTab(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(b.tabCtx, b.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		b.logger.Debug("Browser action timed out.", zap.Duration("timeout", b.timeout), zap.Error(err))
		return fmt.Errorf("browser action timed out after %v: %w", b.timeout, err)
	}
	return err
}

func (b *Browser) Environment() string     { return EnvironmentBrowser }
func (b *Browser) Dimensions() (int, int) { return b.width, b.height }

func (b *Browser) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Click presses and releases a mouse button at (x, y). The "back" and
// "forward" buttons navigate history and "wheel" sends a scroll notch.
func (b *Browser) Click(ctx context.Context, x, y int, button string) error {
	switch strings.ToLower(button) {
	case "back":
		return b.Back(ctx)
	case "forward":
		return b.Forward(ctx)
	case "wheel":
		return b.run(ctx, mouseWheel(x, y, 0, 100))
	}
	return b.run(ctx, mouseClick(x, y, mouseButton(button), 1)...)
}

func (b *Browser) DoubleClick(ctx context.Context, x, y int) error {
	actions := append(mouseClick(x, y, input.Left, 1), mouseClick(x, y, input.Left, 2)[1:]...)
	return b.run(ctx, actions...)
}

func (b *Browser) Scroll(ctx context.Context, x, y, scrollX, scrollY int) error {
	return b.run(ctx, mouseMove(x, y, input.None), mouseWheel(x, y, scrollX, scrollY))
}

func (b *Browser) Type(ctx context.Context, text string) error {
	return b.run(ctx, chromedp.KeyEvent(text))
}

// Wait sleeps for ms milliseconds, or one second when ms is not positive.
func (b *Browser) Wait(ctx context.Context, ms int) error {
	if ms <= 0 {
		ms = 1000
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Browser) Move(ctx context.Context, x, y int) error {
	return b.run(ctx, mouseMove(x, y, input.None))
}

func (b *Browser) Keypress(ctx context.Context, keys []string) error {
	events, unknown := keyChord(keys)
	for _, k := range unknown {
		b.logger.Warn("Ignoring unsupported key in keypress.", zap.String("key", k))
	}
	if len(events) == 0 {
		return nil
	}
	return b.run(ctx, events...)
}

// Drag presses the left button at the first point, moves through the rest, and releases at the last.
func (b *Browser) Drag(ctx context.Context, path []Point) error {
	if len(path) == 0 {
		return nil
	}
	start, end := path[0], path[len(path)-1]
	actions := []chromedp.Action{
		mouseMove(start.X, start.Y, input.None),
		input.DispatchMouseEvent(input.MousePressed, float64(start.X), float64(start.Y)).
			WithButton(input.Left).WithButtons(1).WithClickCount(1),
	}
	for _, p := range path[1:] {
		actions = append(actions, mouseMove(p.X, p.Y, input.Left))
	}
	actions = append(actions, input.DispatchMouseEvent(input.MouseReleased, float64(end.X), float64(end.Y)).
		WithButton(input.Left).WithClickCount(1))
	return b.run(ctx, actions...)
}

func (b *Browser) Goto(ctx context.Context, url string) error {
	if err := b.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (b *Browser) Back(ctx context.Context) error {
	return b.run(ctx, chromedp.NavigateBack())
}

func (b *Browser) Forward(ctx context.Context) error {
	return b.run(ctx, chromedp.NavigateForward())
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := b.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return u, nil
}

// Close tears down the tab, then runs the backend's own release steps.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		var errs []error
		for _, fn := range b.closers {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		b.closeErr = errors.Join(errs...)
		if b.closeErr != nil {
			b.logger.Warn("Browser shutdown reported errors.", zap.Error(b.closeErr))
		}
	})
	return b.closeErr
}

// -- CDP event builders --

func mouseButton(name string) input.MouseButton {
	switch strings.ToLower(name) {
	case "right":
		return input.Right
	case "middle":
		return input.Middle
	default:
		return input.Left
	}
}

func mouseMove(x, y int, held input.MouseButton) *input.DispatchMouseEventParams {
	p := input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y))
	if held != input.None {
		p = p.WithButton(held).WithButtons(1)
	}
	return p
}

func mouseClick(x, y int, button input.MouseButton, count int64) []chromedp.Action {
	return []chromedp.Action{
		mouseMove(x, y, input.None),
		input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).WithButton(button).WithClickCount(count),
		input.DispatchMouseEvent(input.MouseReleased, float64(x), float64(y)).WithButton(button).WithClickCount(count),
	}
}

func mouseWheel(x, y, deltaX, deltaY int) *input.DispatchMouseEventParams {
	return input.DispatchMouseEvent(input.MouseWheel, float64(x), float64(y)).
		WithDeltaX(float64(deltaX)).
		WithDeltaY(float64(deltaY))
}
