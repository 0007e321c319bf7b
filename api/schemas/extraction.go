package schemas

import (
	"time"
)

// -- Extraction Result Schemas --

// ExtractionStatus tracks where a run ended up.
type ExtractionStatus string

const (
	StatusPending     ExtractionStatus = "pending"
	StatusSuccess     ExtractionStatus = "success"
	StatusFailed      ExtractionStatus = "failed"
	StatusInterrupted ExtractionStatus = "interrupted"
)

// Terminal reports whether the agent has finished the extraction on its own.
// Interrupted runs are ended by the operator, not the agent, so they are not terminal here.
func (s ExtractionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// DiagnosisRecord is one ICD-10 diagnosis as read off the screen. Codes are not validated.
type DiagnosisRecord struct {
	ICD10Code   string `json:"icd10_code"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
	Date        string `json:"date,omitempty"`
}

// MedicationRecord is one active medication as read off the screen.
type MedicationRecord struct {
	Name       string `json:"name"`
	Dosage     string `json:"dosage,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	Route      string `json:"route,omitempty"`
	Status     string `json:"status,omitempty"`
	Prescriber string `json:"prescriber,omitempty"`
}

// ExtractionMetadata describes how a result was produced.
type ExtractionMetadata struct {
	ComputerType string `json:"computer_type"`
	DebugMode    bool   `json:"debug_mode"`
	RunID        string `json:"run_id"`
	Model        string `json:"model"`
}

// ExtractionResult accumulates everything recorded during one run.
type ExtractionResult struct {
	// PatientID stays nil until the agent reports reaching the chart.
	PatientID           *string            `json:"patient_id"`
	ExtractionTimestamp time.Time          `json:"extraction_timestamp"`
	Diagnoses           []DiagnosisRecord  `json:"icd10_diagnoses"`
	Medications         []MedicationRecord `json:"active_medications"`
	Status              ExtractionStatus   `json:"extraction_status"`
	Metadata            ExtractionMetadata `json:"metadata"`
	Error               string             `json:"error,omitempty"`
}

// NewExtractionResult returns a pending result with empty, non-nil record lists.
func NewExtractionResult(meta ExtractionMetadata, now time.Time) *ExtractionResult {
	return &ExtractionResult{
		ExtractionTimestamp: now,
		Diagnoses:           []DiagnosisRecord{},
		Medications:         []MedicationRecord{},
		Status:              StatusPending,
		Metadata:            meta,
	}
}

// PatientLabel returns the recorded patient id, or "unknown" when none was recorded.
func (r *ExtractionResult) PatientLabel() string {
	if r.PatientID == nil || *r.PatientID == "" {
		return "unknown"
	}
	return *r.PatientID
}
