package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/medflow/claimsim/internal/model"
)

// PostgresStore persists claim lifecycle state to a single claims table,
// one row per claim id, upserted as the claim moves through the pipeline.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

const claimsSchema = `
CREATE TABLE IF NOT EXISTS claims (
    claim_id               TEXT PRIMARY KEY,
    correlation_id         TEXT,
    payer_id               TEXT,
    payer_name             TEXT,
    payload                JSONB,
    status                 TEXT NOT NULL DEFAULT 'new',
    paid_amount            NUMERIC(12,2),
    patient_responsibility NUMERIC(12,2),
    denial_reason          TEXT,
    denial_code            TEXT,
    processing_time_ms     DOUBLE PRECISION,
    ingested_at            TIMESTAMPTZ,
    routed_at              TIMESTAMPTZ,
    adjudicated_at         TIMESTAMPTZ,
    billed_at              TIMESTAMPTZ
)`

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(claimsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure claims schema: %w", err)
	}
	s := &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[PG-STORE] ", log.LstdFlags),
	}
	s.logger.Printf("✅ Connected to Postgres claim store")
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) StoreNewClaim(ctx context.Context, env model.ClaimEnvelope) error {
	payload, err := json.Marshal(env.Claim)
	if err != nil {
		return fmt.Errorf("marshal claim %s: %w", env.Claim.ClaimID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claims (claim_id, correlation_id, payload, status, ingested_at)
		VALUES ($1, $2, $3, 'new', $4)
		ON CONFLICT (claim_id) DO UPDATE
		SET correlation_id = EXCLUDED.correlation_id, payload = EXCLUDED.payload`,
		env.Claim.ClaimID, env.CorrelationID, payload, env.IngestedAt)
	if err != nil {
		return fmt.Errorf("store claim %s: %w", env.Claim.ClaimID, err)
	}
	return nil
}

func (s *PostgresStore) MarkIngested(ctx context.Context, claimID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE claims SET status = 'ingested' WHERE claim_id = $1`, claimID)
	if err != nil {
		return fmt.Errorf("mark ingested %s: %w", claimID, err)
	}
	return nil
}

func (s *PostgresStore) MarkRouted(ctx context.Context, claimID, payerID, payerName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE claims
		SET status = 'routed', payer_id = $2, payer_name = $3, routed_at = NOW()
		WHERE claim_id = $1`,
		claimID, payerID, payerName)
	if err != nil {
		return fmt.Errorf("mark routed %s: %w", claimID, err)
	}
	return nil
}

func (s *PostgresStore) MarkAdjudicated(ctx context.Context, claimID string, outcome AdjudicationOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE claims
		SET status = $2, paid_amount = $3, patient_responsibility = $4,
		    denial_reason = NULLIF($5, ''), denial_code = NULLIF($6, ''),
		    processing_time_ms = $7, adjudicated_at = NOW()
		WHERE claim_id = $1`,
		claimID, outcome.Status, outcome.PaidAmount, outcome.PatientResponsibility,
		outcome.DenialReason, outcome.DenialCode, outcome.ProcessingTimeMS)
	if err != nil {
		return fmt.Errorf("mark adjudicated %s: %w", claimID, err)
	}
	return nil
}

func (s *PostgresStore) MarkBilled(ctx context.Context, claimID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE claims SET billed_at = NOW() WHERE claim_id = $1`, claimID)
	if err != nil {
		return fmt.Errorf("mark billed %s: %w", claimID, err)
	}
	return nil
}

var _ ClaimStore = (*PostgresStore)(nil)
