// internal/computer/browserbase.go
package computer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/config"
)

const releaseTimeout = 30 * time.Second

type browserbaseSession struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connectUrl"`
	Status     string `json:"status"`
}

// browserbaseAPI wraps the session endpoints of the Browserbase REST API.
type browserbaseAPI struct {
	client    *vendorClient
	projectID string
	region    string
	width     int
	height    int
}

func newBrowserbaseAPI(cfg config.ComputerConfig, logger *zap.Logger) *browserbaseAPI {
	return &browserbaseAPI{
		client:    newVendorClient(cfg.Browserbase.BaseURL, "X-BB-API-Key", cfg.Browserbase.APIKey, logger),
		projectID: cfg.Browserbase.ProjectID,
		region:    cfg.Browserbase.Region,
		width:     cfg.DisplayWidth,
		height:    cfg.DisplayHeight,
	}
}

func (a *browserbaseAPI) createSession(ctx context.Context) (*browserbaseSession, error) {
	body := map[string]any{
		"projectId": a.projectID,
		"browserSettings": map[string]any{
			"viewport": map[string]int{"width": a.width, "height": a.height},
		},
	}
	if a.region != "" {
		body["region"] = a.region
	}

	var sess browserbaseSession
	if err := a.client.do(ctx, http.MethodPost, "/v1/sessions", body, &sess); err != nil {
		return nil, fmt.Errorf("failed to create Browserbase session: %w", err)
	}
	if sess.ConnectURL == "" {
		return nil, errors.New("browserbase session response did not include a connectUrl")
	}
	return &sess, nil
}

func (a *browserbaseAPI) releaseSession(ctx context.Context, id string) error {
	body := map[string]string{"projectId": a.projectID, "status": "REQUEST_RELEASE"}
	if err := a.client.do(ctx, http.MethodPost, "/v1/sessions/"+id, body, nil); err != nil {
		return fmt.Errorf("failed to release Browserbase session %s: %w", id, err)
	}
	return nil
}

// OpenBrowserbase creates a Browserbase session and attaches to it over CDP.
// The session is released on Close.
func OpenBrowserbase(ctx context.Context, cfg config.ComputerConfig, logger *zap.Logger) (Computer, error) {
	logger = logger.Named("computer.browserbase")
	if cfg.Browserbase.APIKey == "" || cfg.Browserbase.ProjectID == "" {
		return nil, errors.New("browserbase requires BROWSERBASE_API_KEY and BROWSERBASE_PROJECT_ID")
	}

	api := newBrowserbaseAPI(cfg, logger)
	sess, err := api.createSession(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Browserbase session created.", zap.String("session_id", sess.ID))

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, sess.ConnectURL, chromedp.NoModifyURL)
	release := func() error {
		allocCancel()
		relCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		return api.releaseSession(relCtx, sess.ID)
	}
	b, err := newBrowser(allocCtx, cfg, logger, release)
	if err != nil {
		return nil, err
	}
	return b, nil
}
