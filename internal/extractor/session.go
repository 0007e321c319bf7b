package extractor

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/api/schemas"
	"github.com/xkilldash9x/ehr-cua/internal/store"
)

// ResultSaver persists a finished result and returns where it went.
type ResultSaver interface {
	Save(ctx context.Context, result *schemas.ExtractionResult) (string, error)
}

// Session owns the result of one run and implements the domain tools.
// It is used from the agent loop's goroutine only.
type Session struct {
	result    *schemas.ExtractionResult
	files     ResultSaver
	recorders []store.Recorder
	out       io.Writer
	logger    *zap.Logger
}

// NewSession starts a session around a pending result.
func NewSession(result *schemas.ExtractionResult, files ResultSaver, recorders []store.Recorder, out io.Writer, logger *zap.Logger) *Session {
	return &Session{
		result:    result,
		files:     files,
		recorders: recorders,
		out:       out,
		logger:    logger.Named("session"),
	}
}

// Result returns the live result.
func (s *Session) Result() *schemas.ExtractionResult { return s.result }

type navigateArgs struct {
	PatientID string `json:"patient_id"`
	Success   bool   `json:"success"`
}

type diagnosesArgs struct {
	Diagnoses []schemas.DiagnosisRecord `json:"diagnoses"`
}

type medicationsArgs struct {
	Medications []schemas.MedicationRecord `json:"medications"`
}

// Totals arrive as JSON numbers; the schema has already checked they are
// integral, so 2.0 is accepted like 2.
type completeArgs struct {
	Success          bool     `json:"success"`
	Summary          string   `json:"summary"`
	TotalDiagnoses   *float64 `json:"total_diagnoses"`
	TotalMedications *float64 `json:"total_medications"`
}

type recordedPatient struct {
	Status    string `json:"status"`
	PatientID string `json:"patient_id"`
}

type recordedCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type completed struct {
	Status     string `json:"status"`
	OutputPath string `json:"output_path"`
}

// NavigateToPatient records which patient the agent reached.
func (s *Session) NavigateToPatient(_ context.Context, args navigateArgs) (any, error) {
	id := args.PatientID
	s.result.PatientID = &id
	if args.Success {
		fmt.Fprintf(s.out, "✅ Successfully navigated to patient %s\n", id)
	} else {
		fmt.Fprintf(s.out, "❌ Failed to navigate to patient %s\n", id)
	}
	s.logger.Info("Patient navigation reported.", zap.String("patient_id", id), zap.Bool("success", args.Success))
	return recordedPatient{Status: "recorded", PatientID: id}, nil
}

// RecordDiagnoses replaces the diagnosis list.
func (s *Session) RecordDiagnoses(_ context.Context, args diagnosesArgs) (any, error) {
	diagnoses := args.Diagnoses
	if diagnoses == nil {
		diagnoses = []schemas.DiagnosisRecord{}
	}
	s.result.Diagnoses = diagnoses

	fmt.Fprintf(s.out, "🩺 Recorded %d ICD-10 diagnoses:\n", len(diagnoses))
	for _, d := range diagnoses {
		fmt.Fprintf(s.out, "   • %s: %s\n", orDefault(d.ICD10Code, "Unknown"), orDefault(d.Description, "No description"))
	}
	return recordedCount{Status: "recorded", Count: len(diagnoses)}, nil
}

// RecordMedications replaces the medication list.
func (s *Session) RecordMedications(_ context.Context, args medicationsArgs) (any, error) {
	medications := args.Medications
	if medications == nil {
		medications = []schemas.MedicationRecord{}
	}
	s.result.Medications = medications

	fmt.Fprintf(s.out, "💊 Recorded %d active medications:\n", len(medications))
	for _, m := range medications {
		fmt.Fprintf(s.out, "   • %s %s (%s)\n", orDefault(m.Name, "Unknown"), m.Dosage, orDefault(m.Status, "unknown"))
	}
	return recordedCount{Status: "recorded", Count: len(medications)}, nil
}

// CompleteExtraction sets the final status and writes the result out.
// Count mismatches are reported but do not change the outcome.
func (s *Session) CompleteExtraction(ctx context.Context, args completeArgs) (any, error) {
	if args.Success {
		s.result.Status = schemas.StatusSuccess
	} else {
		s.result.Status = schemas.StatusFailed
	}

	if args.TotalDiagnoses != nil {
		s.warnMismatch("Diagnosis", len(s.result.Diagnoses), int(*args.TotalDiagnoses))
	}
	if args.TotalMedications != nil {
		s.warnMismatch("Medication", len(s.result.Medications), int(*args.TotalMedications))
	}

	path, err := s.files.Save(ctx, s.result)
	if err != nil {
		return nil, fmt.Errorf("failed to save extraction results: %w", err)
	}
	for _, r := range s.recorders {
		if err := r.Record(ctx, s.result); err != nil {
			s.logger.Error("Failed to record extraction result.", zap.Error(err))
		}
	}

	status := "✅ Success"
	if !args.Success {
		status = "❌ Failed"
	}
	fmt.Fprintf(s.out, "\n📊 Extraction Complete:\n   Status: %s\n   Summary: %s\n   File: %s\n", status, args.Summary, path)
	return completed{Status: "completed", OutputPath: path}, nil
}

func (s *Session) warnMismatch(kind string, recorded, expected int) {
	if recorded == expected {
		return
	}
	fmt.Fprintf(s.out, "⚠️  %s count mismatch: recorded %d, expected %d\n", kind, recorded, expected)
	s.logger.Warn(kind+" count mismatch.", zap.Int("recorded", recorded), zap.Int("expected", expected))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
