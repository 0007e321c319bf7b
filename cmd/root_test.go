// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/api/schemas"
	"github.com/xkilldash9x/ehr-cua/internal/computer"
	"github.com/xkilldash9x/ehr-cua/internal/config"
	"github.com/xkilldash9x/ehr-cua/internal/observability"
)

type extractCall struct {
	cfg     *config.Config
	patient string
}

// resetForTest isolates package state, the logger and the working directory.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	t.Chdir(t.TempDir())
	for _, key := range []string{"OPENAI_API_KEY", "EHRCUA_OPENAI_API_KEY", "START_URL", "EHRCUA_EXTRACTION_START_URL", "DATABASE_URL", "EHRCUA_DATABASE_URL"} {
		t.Setenv(key, "")
	}

	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)

	orig := runExtraction
	t.Cleanup(func() { runExtraction = orig })
}

// stubExtraction replaces the real wiring and records what it was asked to do.
func stubExtraction(t *testing.T, result *schemas.ExtractionResult, err error) *[]extractCall {
	t.Helper()
	var calls []extractCall
	runExtraction = func(ctx context.Context, cfg *config.Config, patient string, in io.Reader, out io.Writer, logger *zap.Logger) (*schemas.ExtractionResult, error) {
		calls = append(calls, extractCall{cfg: cfg, patient: patient})
		return result, err
	}
	return &calls
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func successResult() *schemas.ExtractionResult {
	patient := "John Smith"
	result := schemas.NewExtractionResult(schemas.ExtractionMetadata{ComputerType: "local-playwright", RunID: "run-1"},
		time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
	result.PatientID = &patient
	result.Status = schemas.StatusSuccess
	result.Diagnoses = []schemas.DiagnosisRecord{{ICD10Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"}}
	result.Medications = []schemas.MedicationRecord{
		{Name: "Metformin", Dosage: "500mg", Frequency: "twice daily"},
		{Name: "Lisinopril"},
	}
	return result
}

// -- Test Cases --

func TestRoot_MissingAPIKey(t *testing.T) {
	resetForTest(t)
	calls := stubExtraction(t, successResult(), nil)

	out, err := execute(t, "--patient-id", "John Smith")

	require.ErrorIs(t, err, errMissingAPIKey)
	assert.Contains(t, out, "❌ Error: OPENAI_API_KEY environment variable is required")
	assert.Contains(t, out, "export OPENAI_API_KEY")
	assert.Empty(t, *calls, "no extraction may start without credentials")
}

func TestRoot_PatientIDRequired(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	calls := stubExtraction(t, successResult(), nil)

	_, err := execute(t)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "patient-id")
	assert.Empty(t, *calls)
}

func TestRoot_Success(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	calls := stubExtraction(t, successResult(), nil)

	out, err := execute(t, "--patient-id", "John Smith")
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "John Smith", call.patient)
	assert.Equal(t, "sk-test", call.cfg.OpenAI().APIKey)
	assert.Equal(t, "local-playwright", call.cfg.Computer().Type)
	assert.Equal(t, config.DefaultStartURL, call.cfg.Extraction().StartURL)

	assert.Contains(t, out, "🔧 EHR CUA Extractor v2.0")
	assert.Contains(t, out, "📊 EXTRACTION SUMMARY")
	assert.Contains(t, out, strings.Repeat("=", 60))
	assert.Contains(t, out, "Patient ID:       John Smith\n")
	assert.Contains(t, out, "Status:           success\n")
	assert.Contains(t, out, "ICD-10 Diagnoses: 1\n")
	assert.Contains(t, out, "Active Meds:      2\n")
	assert.Contains(t, out, "Timestamp:        2025-03-14T09:26:53.000000\n")
	assert.Contains(t, out, "  1. E11.9 - Type 2 diabetes mellitus without complications")
	assert.Contains(t, out, "  1. Metformin - 500mg (twice daily)\n")
	assert.Contains(t, out, "  2. Lisinopril\n")
	assert.True(t, strings.HasSuffix(out, "✅ Extraction completed successfully!\n"+strings.Repeat("=", 60)+"\n"),
		"outcome line closes the summary block")
}

func TestRoot_FlagOverrides(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("START_URL", "https://env.example.com/login")
	calls := stubExtraction(t, successResult(), nil)

	_, err := execute(t,
		"--patient-id", "Jane Doe",
		"--computer", "browserbase",
		"--start-url", "https://ehr.example.com/login",
		"--output-dir", "out",
		"--model", "computer-use-preview-2025",
		"--headless",
		"--debug",
	)
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	cfg := (*calls)[0].cfg
	assert.Equal(t, "browserbase", cfg.Computer().Type)
	assert.True(t, cfg.Computer().Headless)
	assert.Equal(t, "https://ehr.example.com/login", cfg.Extraction().StartURL, "flag beats environment")
	assert.Equal(t, "out", cfg.Extraction().OutputDir)
	assert.Equal(t, "computer-use-preview-2025", cfg.OpenAI().Model)
	assert.True(t, cfg.Extraction().Debug)
	assert.Equal(t, "debug", cfg.Logger().Level)
}

func TestRoot_EnvironmentConfig(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("START_URL", "https://env.example.com/login")
	t.Setenv("EHRCUA_EXTRACTION_OUTPUT_DIR", "/var/lib/ehr")
	calls := stubExtraction(t, successResult(), nil)

	_, err := execute(t, "--patient-id", "Jane Doe")
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	cfg := (*calls)[0].cfg
	assert.Equal(t, "https://env.example.com/login", cfg.Extraction().StartURL)
	assert.Equal(t, "/var/lib/ehr", cfg.Extraction().OutputDir)
}

func TestRoot_InvalidStartURL(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	calls := stubExtraction(t, successResult(), nil)

	_, err := execute(t, "--patient-id", "Jane Doe", "--start-url", "not a url")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Empty(t, *calls)
}

func TestRoot_NonSuccessStatusFails(t *testing.T) {
	tests := []struct {
		name    string
		status  schemas.ExtractionStatus
		errText string
		want    string
	}{
		{"interrupted", schemas.StatusInterrupted, "", "❌ Extraction failed: Unknown error occurred\n" + strings.Repeat("=", 60) + "\n"},
		{"failed", schemas.StatusFailed, "model unavailable", "❌ Extraction failed: model unavailable\n"},
		{"pending", schemas.StatusPending, "", "❌ Extraction failed: Unknown error occurred\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetForTest(t)
			t.Setenv("OPENAI_API_KEY", "sk-test")
			result := schemas.NewExtractionResult(schemas.ExtractionMetadata{}, time.Now())
			result.Status = tt.status
			result.Error = tt.errText
			stubExtraction(t, result, nil)

			out, err := execute(t, "--patient-id", "Jane Doe")

			require.ErrorIs(t, err, ErrExtractionNotSuccessful)
			assert.Contains(t, out, "Patient ID:       Unknown\n")
			assert.Contains(t, out, "Status:           "+string(tt.status)+"\n")
			assert.Contains(t, out, tt.want)
			assert.NotContains(t, out, "completed successfully")
		})
	}
}

func TestRoot_InitializationFailure(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	stubExtraction(t, nil, errors.New("database unreachable"))

	out, err := execute(t, "--patient-id", "Jane Doe")

	require.Error(t, err)
	assert.Contains(t, out, "❌ Failed to initialize extractor: database unreachable")
	assert.NotContains(t, out, "EXTRACTION SUMMARY")
}

func TestRoot_UnsupportedComputer(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	// The real wiring runs here; the lookup must fail before any client is built.
	out, err := execute(t, "--patient-id", "Jane Doe", "--computer", "unsupported-value")

	require.ErrorIs(t, err, computer.ErrUnsupportedComputer)
	assert.Contains(t, out, "❌ Failed to initialize extractor")
}

func TestRoot_ConfigFile(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	calls := stubExtraction(t, successResult(), nil)

	path := t.TempDir() + "/ehr.yaml"
	require.NoError(t, writeFile(path, "computer:\n  type: scrapybara\nextraction:\n  output_dir: from-file\n"))

	_, err := execute(t, "--patient-id", "Jane Doe", "-c", path)
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, "scrapybara", (*calls)[0].cfg.Computer().Type)
	assert.Equal(t, "from-file", (*calls)[0].cfg.Extraction().OutputDir)
}

func TestRoot_MalformedConfigFile(t *testing.T) {
	resetForTest(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	calls := stubExtraction(t, successResult(), nil)

	path := t.TempDir() + "/broken.yaml"
	require.NoError(t, writeFile(path, "computer: [unterminated\n"))

	_, err := execute(t, "--patient-id", "Jane Doe", "-c", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
	assert.Empty(t, *calls)
}

func TestRoot_Version(t *testing.T) {
	resetForTest(t)

	out, err := execute(t, "--version")

	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestPrintSummary_EmptyLists(t *testing.T) {
	var out bytes.Buffer
	result := schemas.NewExtractionResult(schemas.ExtractionMetadata{}, time.Now())

	printSummary(&out, result)

	assert.Contains(t, out.String(), "ICD-10 Diagnoses: 0\n")
	assert.Contains(t, out.String(), "Active Meds:      0\n")
	assert.NotContains(t, out.String(), "🏥 DIAGNOSES:")
	assert.NotContains(t, out.String(), "💊 MEDICATIONS:")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
