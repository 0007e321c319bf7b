// Package extractor drives a computer-use agent through an EHR and collects
// the diagnoses and medications it reads off the screen.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/api/schemas"
	"github.com/xkilldash9x/ehr-cua/internal/agent"
	"github.com/xkilldash9x/ehr-cua/internal/computer"
	"github.com/xkilldash9x/ehr-cua/internal/config"
	"github.com/xkilldash9x/ehr-cua/internal/console"
	"github.com/xkilldash9x/ehr-cua/internal/store"
)

const replyPrompt = "\n👤 Your response (or 'exit' to quit): "

// Terms that mark a safety check as touching protected health information.
var phiTerms = []string{"patient data", "phi", "hipaa", "medical record", "chart"}

// Prompter is the operator's side of the conversation.
type Prompter interface {
	Ask(ctx context.Context, prompt string) (string, error)
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Deps are the collaborators an Extractor needs.
type Deps struct {
	Model     agent.ModelClient
	Prompter  Prompter
	Files     ResultSaver
	Recorders []store.Recorder
	// Out receives the run transcript. Defaults to os.Stdout.
	Out io.Writer
}

// Extractor runs one patient extraction at a time.
type Extractor struct {
	cfg    config.Interface
	deps   Deps
	open   computer.Opener
	logger *zap.Logger

	now           func() time.Time
	navAttempts   uint
	navRetryDelay time.Duration
}

// New resolves the configured computer backend before anything is started,
// so an unknown backend fails with computer.ErrUnsupportedComputer.
func New(cfg config.Interface, deps Deps, logger *zap.Logger) (*Extractor, error) {
	open, err := computer.Lookup(cfg.Computer().Type)
	if err != nil {
		return nil, err
	}
	if deps.Model == nil {
		return nil, errors.New("extractor requires a model client")
	}
	if deps.Prompter == nil {
		return nil, errors.New("extractor requires a prompter")
	}
	if deps.Files == nil {
		return nil, errors.New("extractor requires a result file sink")
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	return &Extractor{
		cfg:           cfg,
		deps:          deps,
		open:          open,
		logger:        logger.Named("extractor"),
		now:           time.Now,
		navAttempts:   2,
		navRetryDelay: 2 * time.Second,
	}, nil
}

// Run extracts data for one patient. It always returns a result; failures
// are recorded in its status and error fields. The computer backend is
// released before Run returns.
func (e *Extractor) Run(ctx context.Context, patient string) *schemas.ExtractionResult {
	compCfg := e.cfg.Computer()
	extCfg := e.cfg.Extraction()
	out := e.deps.Out

	startURL := extCfg.StartURL
	if startURL == "" {
		startURL = config.DefaultStartURL
	}

	result := schemas.NewExtractionResult(schemas.ExtractionMetadata{
		ComputerType: compCfg.Type,
		DebugMode:    extCfg.Debug,
		RunID:        uuid.NewString(),
		Model:        e.cfg.OpenAI().Model,
	}, e.now())
	logger := e.logger.With(zap.String("run_id", result.Metadata.RunID))

	fmt.Fprintf(out, "🚀 EHR CUA Extractor Starting\n   Patient ID: %s\n   Computer: %s\n   Debug Mode: %t\n   Start URL: %s\n",
		patient, compCfg.Type, extCfg.Debug, startURL)

	err := e.run(ctx, patient, startURL, result, logger)
	switch {
	case err == nil:
	case errors.Is(err, console.ErrExit):
		fmt.Fprintln(out, "🛑 Extraction stopped by user")
		result.Status = schemas.StatusInterrupted
	case errors.Is(err, io.EOF):
		fmt.Fprintln(out, "\n🛑 Input ended, stopping extraction")
		result.Status = schemas.StatusInterrupted
	case ctx.Err() != nil:
		fmt.Fprintln(out, "\n⏹️  Extraction interrupted by user")
		result.Status = schemas.StatusInterrupted
	default:
		fmt.Fprintf(out, "\n❌ Extraction failed with error: %v\n", err)
		result.Status = schemas.StatusFailed
		result.Error = err.Error()
	}
	logger.Info("Extraction finished.", zap.String("status", string(result.Status)), zap.Error(err))
	return result
}

func (e *Extractor) run(ctx context.Context, patient, startURL string, result *schemas.ExtractionResult, logger *zap.Logger) (err error) {
	out := e.deps.Out
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic during extraction.", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic during extraction: %v", r)
		}
	}()

	comp, err := e.open(ctx, e.cfg.Computer(), logger)
	if err != nil {
		return fmt.Errorf("failed to start %s computer: %w", e.cfg.Computer().Type, err)
	}
	defer func() {
		if closeErr := comp.Close(); closeErr != nil {
			logger.Warn("Failed to release computer.", zap.Error(closeErr))
		}
	}()

	agentCfg := e.cfg.Agent()
	a, err := agent.New(e.deps.Model, comp, agent.Options{
		Model:           e.cfg.OpenAI().Model,
		Tools:           Tools(),
		MaxStepsPerTurn: agentCfg.MaxStepsPerTurn,
		BlockedDomains:  agentCfg.BlockedDomains,
		Out:             out,
	}, logger)
	if err != nil {
		return err
	}

	session := NewSession(result, e.deps.Files, e.deps.Recorders, out, logger)
	router, err := NewRouter(session, out, logger)
	if err != nil {
		return err
	}
	a.HandleItem = router.Wrap(a.HandleItem)
	a.AcknowledgeSafetyCheck = e.confirmSafetyCheck

	e.navigate(ctx, comp, startURL, logger)

	items := []agent.Item{agent.DeveloperMessage(Instructions(patient))}
	fmt.Fprintln(out, "\n🤖 Starting agent-driven extraction...")
	return e.converse(ctx, a, result, items)
}

// navigate opens the start URL. A failure is not fatal: the agent can still
// find its own way there.
func (e *Extractor) navigate(ctx context.Context, comp computer.Computer, url string, logger *zap.Logger) {
	out := e.deps.Out
	fmt.Fprintf(out, "🌐 Navigating to EHR system: %s\n", url)

	err := retry.Do(
		func() error { return comp.Goto(ctx, url) },
		retry.Context(ctx),
		retry.Attempts(e.navAttempts),
		retry.Delay(e.navRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("Retrying start URL navigation.", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		logger.Warn("Start URL navigation failed.", zap.String("url", url), zap.Error(err))
		fmt.Fprintf(out, "❌ Failed to navigate to %s: %v\n", url, err)
		fmt.Fprintln(out, "🔄 Continuing anyway - agent will try to navigate...")
		return
	}
	fmt.Fprintf(out, "✅ Successfully navigated to %s\n", url)
}

// converse alternates agent turns and operator replies until the agent
// completes the extraction or the operator stops it.
func (e *Extractor) converse(ctx context.Context, a *agent.Agent, result *schemas.ExtractionResult, items []agent.Item) error {
	opts := agent.TurnOptions{
		PrintSteps: true,
		Debug:      e.cfg.Extraction().Debug,
		ShowImages: false,
	}
	for {
		produced, err := a.RunFullTurn(ctx, items, opts)
		items = append(items, produced...)
		if err != nil {
			return err
		}
		if result.Status.Terminal() {
			fmt.Fprintln(e.deps.Out, "\n✅ Agent workflow completed")
			return nil
		}

		reply, err := e.deps.Prompter.Ask(ctx, replyPrompt)
		if err != nil {
			return err
		}
		items = append(items, agent.UserMessage(reply))
	}
}

// confirmSafetyCheck asks the operator about a pending safety check, with an
// extra compliance reminder when the check mentions patient information.
func (e *Extractor) confirmSafetyCheck(ctx context.Context, check agent.SafetyCheck) (bool, error) {
	out := e.deps.Out
	fmt.Fprintf(out, "\n🔒 EHR Safety Check: %s\n", check.Message)

	if mentionsPHI(check.Message) {
		fmt.Fprint(out, "⚠️  This operation involves protected health information (PHI).\n"+
			"📋 Ensure you have:\n"+
			"   - Proper authorization to access this patient's data\n"+
			"   - Compliance with HIPAA regulations\n"+
			"   - Appropriate security measures in place\n")
		return e.deps.Prompter.Confirm(ctx, "✅ Do you confirm authorization and compliance? (y/n): ")
	}
	return e.deps.Prompter.Confirm(ctx, "🤔 Do you want to proceed with this action? (y/n): ")
}

func mentionsPHI(message string) bool {
	lower := strings.ToLower(message)
	for _, term := range phiTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
