// internal/computer/scrapybara.go
package computer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/config"
)

var errInstanceNotReady = errors.New("scrapybara instance is not running yet")

type scrapybaraInstance struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// scrapybaraAPI wraps the instance endpoints of the Scrapybara REST API.
type scrapybaraAPI struct {
	client       *vendorClient
	timeoutHours float64
	pollInterval time.Duration
	startup      time.Duration
}

func newScrapybaraAPI(cfg config.ComputerConfig, logger *zap.Logger) *scrapybaraAPI {
	startup := cfg.Scrapybara.StartupTimeout
	if startup <= 0 {
		startup = 2 * time.Minute
	}
	return &scrapybaraAPI{
		client:       newVendorClient(cfg.Scrapybara.BaseURL, "x-api-key", cfg.Scrapybara.APIKey, logger),
		timeoutHours: cfg.Scrapybara.TimeoutHours,
		pollInterval: 2 * time.Second,
		startup:      startup,
	}
}

func (a *scrapybaraAPI) startInstance(ctx context.Context) (*scrapybaraInstance, error) {
	body := map[string]any{"instance_type": "browser", "timeout_hours": a.timeoutHours}
	var inst scrapybaraInstance
	if err := a.client.do(ctx, http.MethodPost, "/v1/start", body, &inst); err != nil {
		return nil, fmt.Errorf("failed to start Scrapybara instance: %w", err)
	}
	if inst.ID == "" {
		return nil, errors.New("scrapybara start response did not include an instance id")
	}
	return &inst, nil
}

// waitRunning polls the instance until it reports "running".
func (a *scrapybaraAPI) waitRunning(ctx context.Context, id string) error {
	waitCtx, cancel := context.WithTimeout(ctx, a.startup)
	defer cancel()

	err := retry.Do(
		func() error {
			var inst scrapybaraInstance
			if err := a.client.do(waitCtx, http.MethodGet, "/v1/instance/"+id, nil, &inst); err != nil {
				return retry.Unrecoverable(err)
			}
			switch inst.Status {
			case "running":
				return nil
			case "error", "terminated":
				return retry.Unrecoverable(fmt.Errorf("scrapybara instance %s entered status %q", id, inst.Status))
			default:
				return errInstanceNotReady
			}
		},
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(a.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errInstanceNotReady) }),
	)
	if err != nil {
		return fmt.Errorf("scrapybara instance %s did not become ready: %w", id, err)
	}
	return nil
}

func (a *scrapybaraAPI) startBrowser(ctx context.Context, id string) (string, error) {
	var resp struct {
		CDPURL string `json:"cdp_url"`
	}
	if err := a.client.do(ctx, http.MethodPost, "/v1/instance/"+id+"/browser/start", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to start browser on Scrapybara instance %s: %w", id, err)
	}
	if resp.CDPURL == "" {
		return "", fmt.Errorf("scrapybara instance %s returned no cdp_url", id)
	}
	return resp.CDPURL, nil
}

func (a *scrapybaraAPI) stopInstance(ctx context.Context, id string) error {
	if err := a.client.do(ctx, http.MethodPost, "/v1/instance/"+id+"/stop", nil, nil); err != nil {
		return fmt.Errorf("failed to stop Scrapybara instance %s: %w", id, err)
	}
	return nil
}

// OpenScrapybara starts a Scrapybara browser instance and attaches to it
// over CDP. The instance is stopped on Close.
func OpenScrapybara(ctx context.Context, cfg config.ComputerConfig, logger *zap.Logger) (Computer, error) {
	logger = logger.Named("computer.scrapybara")
	if cfg.Scrapybara.APIKey == "" {
		return nil, errors.New("scrapybara requires SCRAPYBARA_API_KEY")
	}

	api := newScrapybaraAPI(cfg, logger)
	inst, err := api.startInstance(ctx)
	if err != nil {
		return nil, err
	}
	stop := func() error {
		stopCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		return api.stopInstance(stopCtx, inst.ID)
	}
	logger.Info("Scrapybara instance started.", zap.String("instance_id", inst.ID))

	cdpURL, err := api.connect(ctx, inst.ID)
	if err != nil {
		if stopErr := stop(); stopErr != nil {
			logger.Warn("Failed to stop instance after startup error.", zap.Error(stopErr))
		}
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cdpURL, chromedp.NoModifyURL)
	b, err := newBrowser(allocCtx, cfg, logger, func() error { allocCancel(); return nil }, stop)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// connect waits for the instance and returns the CDP endpoint of its browser.
func (a *scrapybaraAPI) connect(ctx context.Context, id string) (string, error) {
	if err := a.waitRunning(ctx, id); err != nil {
		return "", err
	}
	return a.startBrowser(ctx, id)
}
