// internal/computer/local.go
package computer

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/config"
)

// OpenLocal launches a Chrome process on this machine. It is registered as
// "local-playwright", the name operators already use for the local backend.
func OpenLocal(ctx context.Context, cfg config.ComputerConfig, logger *zap.Logger) (Computer, error) {
	logger = logger.Named("computer.local")
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(cfg)...)

	b, err := newBrowser(allocCtx, cfg, logger, func() error { allocCancel(); return nil })
	if err != nil {
		return nil, err
	}
	logger.Info("Local browser started.", zap.Bool("headless", cfg.Headless))
	return b, nil
}

// execOptions translates the computer config into chromedp allocator options.
func execOptions(cfg config.ComputerConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox)
	for name, value := range execFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// execFlags returns the Chrome command line flags layered over the chromedp defaults.
func execFlags(cfg config.ComputerConfig) map[string]any {
	flags := map[string]any{
		"disable-dev-shm-usage": true,
		"disable-extensions":    true,
		"disable-file-system":   true,
		"window-size":           fmt.Sprintf("%d,%d", cfg.DisplayWidth, cfg.DisplayHeight),
	}

	// The defaults are headless; a visible window lets an operator watch and take over.
	if !cfg.Headless {
		flags["headless"] = false
		flags["hide-scrollbars"] = false
		flags["mute-audio"] = false
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}
