package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/api/schemas"
)

const fileTimestampLayout = "20060102_150405"

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// Path separators, characters Windows forbids in names, and control characters.
	unsafeFileChars = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f\x7f]+`)
)

// FileSink writes each result to its own JSON file under a directory.
type FileSink struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// NewFileSink resolves dir (a leading ~ is expanded). The directory is created on first save.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand output directory %q: %w", dir, err)
	}
	return &FileSink{
		dir:    expanded,
		now:    time.Now,
		logger: logger.Named("file_sink"),
	}, nil
}

// Dir returns the resolved output directory.
func (f *FileSink) Dir() string { return f.dir }

// Save writes the result as indented JSON and returns the file path.
func (f *FileSink) Save(ctx context.Context, result *schemas.ExtractionResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction result: %w", err)
	}

	path := filepath.Join(f.dir, ResultFileName(result.PatientLabel(), f.now()))
	// Results carry PHI, so the file is private to the operator.
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("failed to write extraction result: %w", err)
	}

	f.logger.Info("Extraction result saved.", zap.String("path", path), zap.String("status", string(result.Status)))
	return path, nil
}

// ResultFileName builds patient_<id>_<YYYYMMDD_HHMMSS>.json. The id keeps its
// spaces; only characters that cannot appear in a single path component are replaced.
func ResultFileName(patientID string, at time.Time) string {
	return fmt.Sprintf("patient_%s_%s.json", sanitizeFileComponent(patientID), at.Format(fileTimestampLayout))
}

func sanitizeFileComponent(s string) string {
	cleaned := strings.TrimSpace(unsafeFileChars.ReplaceAllString(s, "_"))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "unknown"
	}
	return cleaned
}
