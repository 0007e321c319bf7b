package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder receives a copy of every completed result in addition to the JSON file.
type Recorder interface {
	Record(ctx context.Context, result *schemas.ExtractionResult) error
}

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS ehr_extractions (
            run_id TEXT PRIMARY KEY,
            patient_id TEXT,
            extracted_at TIMESTAMPTZ NOT NULL,
            status TEXT NOT NULL,
            computer_type TEXT NOT NULL,
            model TEXT NOT NULL,
            debug_mode BOOLEAN NOT NULL,
            error TEXT
        );
        CREATE TABLE IF NOT EXISTS ehr_diagnoses (
            run_id TEXT NOT NULL REFERENCES ehr_extractions(run_id) ON DELETE CASCADE,
            position INTEGER NOT NULL,
            icd10_code TEXT NOT NULL,
            description TEXT NOT NULL,
            status TEXT,
            diagnosed_on TEXT,
            PRIMARY KEY (run_id, position)
        );
        CREATE TABLE IF NOT EXISTS ehr_medications (
            run_id TEXT NOT NULL REFERENCES ehr_extractions(run_id) ON DELETE CASCADE,
            position INTEGER NOT NULL,
            name TEXT NOT NULL,
            dosage TEXT,
            frequency TEXT,
            route TEXT,
            status TEXT,
            prescriber TEXT,
            PRIMARY KEY (run_id, position)
        );
    `

	sqlUpsertExtraction = `
        INSERT INTO ehr_extractions (run_id, patient_id, extracted_at, status, computer_type, model, debug_mode, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (run_id) DO UPDATE SET
            patient_id = EXCLUDED.patient_id,
            status = EXCLUDED.status,
            error = EXCLUDED.error;
    `

	sqlClearDiagnoses   = `DELETE FROM ehr_diagnoses WHERE run_id = $1;`
	sqlClearMedications = `DELETE FROM ehr_medications WHERE run_id = $1;`
)

var (
	diagnosisColumns  = []string{"run_id", "position", "icd10_code", "description", "status", "diagnosed_on"}
	medicationColumns = []string{"run_id", "position", "name", "dosage", "frequency", "route", "status", "prescriber"}
)

// Store provides a PostgreSQL copy of extraction results.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ Recorder = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Open connects to url, verifies the connection and prepares the tables.
// The returned pool must be closed by the caller.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the result tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create extraction tables: %w", err)
	}
	return nil
}

// Record writes the result and its records in one transaction. Saving the
// same run twice replaces the earlier records.
func (s *Store) Record(ctx context.Context, result *schemas.ExtractionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	runID := result.Metadata.RunID
	var errText *string
	if result.Error != "" {
		errText = &result.Error
	}
	if _, err := tx.Exec(ctx, sqlUpsertExtraction,
		runID, result.PatientID, result.ExtractionTimestamp.UTC(), string(result.Status),
		result.Metadata.ComputerType, result.Metadata.Model, result.Metadata.DebugMode, errText,
	); err != nil {
		return fmt.Errorf("failed to upsert extraction %s: %w", runID, err)
	}

	if err := s.replaceDiagnoses(ctx, tx, runID, result.Diagnoses); err != nil {
		return err
	}
	if err := s.replaceMedications(ctx, tx, runID, result.Medications); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Extraction result recorded in database.", zap.String("run_id", runID))
	return nil
}

func (s *Store) replaceDiagnoses(ctx context.Context, tx pgx.Tx, runID string, diagnoses []schemas.DiagnosisRecord) error {
	if _, err := tx.Exec(ctx, sqlClearDiagnoses, runID); err != nil {
		return fmt.Errorf("failed to clear diagnoses: %w", err)
	}
	if len(diagnoses) == 0 {
		return nil
	}

	rows := make([][]any, len(diagnoses))
	for i, d := range diagnoses {
		rows[i] = []any{runID, i, d.ICD10Code, d.Description, d.Status, d.Date}
	}
	count, err := tx.CopyFrom(ctx, pgx.Identifier{"ehr_diagnoses"}, diagnosisColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy diagnoses: %w", err)
	}
	if int(count) != len(diagnoses) {
		return fmt.Errorf("mismatch in copied diagnoses count: expected %d, got %d", len(diagnoses), count)
	}
	return nil
}

func (s *Store) replaceMedications(ctx context.Context, tx pgx.Tx, runID string, medications []schemas.MedicationRecord) error {
	if _, err := tx.Exec(ctx, sqlClearMedications, runID); err != nil {
		return fmt.Errorf("failed to clear medications: %w", err)
	}
	if len(medications) == 0 {
		return nil
	}

	rows := make([][]any, len(medications))
	for i, m := range medications {
		rows[i] = []any{runID, i, m.Name, m.Dosage, m.Frequency, m.Route, m.Status, m.Prescriber}
	}
	count, err := tx.CopyFrom(ctx, pgx.Identifier{"ehr_medications"}, medicationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy medications: %w", err)
	}
	if int(count) != len(medications) {
		return fmt.Errorf("mismatch in copied medications count: expected %d, got %d", len(medications), count)
	}
	return nil
}
