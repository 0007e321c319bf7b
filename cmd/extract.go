// File: cmd/extract.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/api/schemas"
	"github.com/xkilldash9x/ehr-cua/internal/computer"
	"github.com/xkilldash9x/ehr-cua/internal/config"
	"github.com/xkilldash9x/ehr-cua/internal/console"
	"github.com/xkilldash9x/ehr-cua/internal/extractor"
	"github.com/xkilldash9x/ehr-cua/internal/llmclient"
	"github.com/xkilldash9x/ehr-cua/internal/observability"
	"github.com/xkilldash9x/ehr-cua/internal/store"
)

// runExtraction builds the collaborators and performs one run. Tests swap it out.
var runExtraction = extract

func runRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	logger := observability.GetLogger()

	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	patient, _ := cmd.Flags().GetString("patient-id")

	if cfg.OpenAI().APIKey == "" {
		fmt.Fprintln(out, "❌ Error: OPENAI_API_KEY environment variable is required")
		fmt.Fprintln(out, "💡 Set it with: export OPENAI_API_KEY='your-api-key-here'")
		return errMissingAPIKey
	}

	fmt.Fprintf(out, "🔧 EHR CUA Extractor v%s\n", Version)
	fmt.Fprintln(out, "   Visual computer-use extraction, no DOM selectors")
	fmt.Fprintln(out)

	result, err := runExtraction(ctx, cfg, patient, cmd.InOrStdin(), out, logger)
	if err != nil {
		fmt.Fprintf(out, "❌ Failed to initialize extractor: %v\n", err)
		return fmt.Errorf("failed to initialize extractor: %w", err)
	}

	printSummary(out, result)

	if result.Status != schemas.StatusSuccess {
		return fmt.Errorf("%w: status %s", ErrExtractionNotSuccessful, result.Status)
	}
	return nil
}

// extract wires the model client, computer backend and sinks, then runs the agent.
func extract(ctx context.Context, cfg *config.Config, patient string, in io.Reader, out io.Writer, logger *zap.Logger) (*schemas.ExtractionResult, error) {
	// Reject unknown backends before any network or database work.
	if _, err := computer.Lookup(cfg.Computer().Type); err != nil {
		return nil, err
	}

	model, err := llmclient.NewResponsesClient(cfg.OpenAI(), logger)
	if err != nil {
		return nil, err
	}
	files, err := store.NewFileSink(cfg.Extraction().OutputDir, logger)
	if err != nil {
		return nil, err
	}

	var recorders []store.Recorder
	if url := cfg.Database().URL; url != "" {
		db, pool, err := store.Open(ctx, url, logger)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		recorders = append(recorders, db)
	}

	ex, err := extractor.New(cfg, extractor.Deps{
		Model:     model,
		Prompter:  console.New(in, out),
		Files:     files,
		Recorders: recorders,
		Out:       out,
	}, logger)
	if err != nil {
		return nil, err
	}
	return ex.Run(ctx, patient), nil
}

// printSummary prints the closing block, including the outcome line.
func printSummary(out io.Writer, result *schemas.ExtractionResult) {
	rule := strings.Repeat("=", 60)
	patient := "Unknown"
	if result.PatientID != nil && *result.PatientID != "" {
		patient = *result.PatientID
	}

	fmt.Fprintln(out, "\n"+rule)
	fmt.Fprintln(out, "📊 EXTRACTION SUMMARY")
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Patient ID:       %s\n", patient)
	fmt.Fprintf(out, "Status:           %s\n", result.Status)
	fmt.Fprintf(out, "ICD-10 Diagnoses: %d\n", len(result.Diagnoses))
	fmt.Fprintf(out, "Active Meds:      %d\n", len(result.Medications))
	fmt.Fprintf(out, "Timestamp:        %s\n", result.ExtractionTimestamp.Format("2006-01-02T15:04:05.000000"))

	if len(result.Diagnoses) > 0 {
		fmt.Fprintln(out, "\n🏥 DIAGNOSES:")
		for i, d := range result.Diagnoses {
			fmt.Fprintf(out, "  %d. %s - %s\n", i+1, d.ICD10Code, d.Description)
		}
	}
	if len(result.Medications) > 0 {
		fmt.Fprintln(out, "\n💊 MEDICATIONS:")
		for i, m := range result.Medications {
			fmt.Fprintf(out, "  %d. %s", i+1, m.Name)
			if m.Dosage != "" {
				fmt.Fprintf(out, " - %s", m.Dosage)
			}
			if m.Frequency != "" {
				fmt.Fprintf(out, " (%s)", m.Frequency)
			}
			fmt.Fprintln(out)
		}
	}

	if result.Status == schemas.StatusSuccess {
		fmt.Fprintln(out, "✅ Extraction completed successfully!")
	} else {
		msg := result.Error
		if msg == "" {
			msg = "Unknown error occurred"
		}
		fmt.Fprintf(out, "❌ Extraction failed: %s\n", msg)
	}
	fmt.Fprintln(out, rule)
}
