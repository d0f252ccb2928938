package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medflow/claimsim/internal/model"
)

// RedisStore keeps claim lifecycle state in Redis hashes, one hash per claim
// under claimsim:claim:<id>, with a TTL so simulation runs do not accumulate
// forever. Intended as the lightweight dashboard-facing store; Postgres is
// the durable option.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &RedisStore{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[REDIS-STORE] ", log.LstdFlags),
	}
	s.logger.Printf("✅ Connected to Redis claim store at %s", addr)
	return s, nil
}

// Close releases the client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(claimID string) string {
	return "claimsim:claim:" + claimID
}

func (s *RedisStore) StoreNewClaim(ctx context.Context, env model.ClaimEnvelope) error {
	payload, err := json.Marshal(env.Claim)
	if err != nil {
		return fmt.Errorf("marshal claim %s: %w", env.Claim.ClaimID, err)
	}
	key := s.key(env.Claim.ClaimID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"correlation_id", env.CorrelationID,
		"payload", payload,
		"status", "new",
		"ingested_at", env.IngestedAt.Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store claim %s: %w", env.Claim.ClaimID, err)
	}
	return nil
}

func (s *RedisStore) MarkIngested(ctx context.Context, claimID string) error {
	if err := s.client.HSet(ctx, s.key(claimID), "status", "ingested").Err(); err != nil {
		return fmt.Errorf("mark ingested %s: %w", claimID, err)
	}
	return nil
}

func (s *RedisStore) MarkRouted(ctx context.Context, claimID, payerID, payerName string) error {
	err := s.client.HSet(ctx, s.key(claimID),
		"status", "routed",
		"payer_id", payerID,
		"payer_name", payerName,
		"routed_at", time.Now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("mark routed %s: %w", claimID, err)
	}
	return nil
}

func (s *RedisStore) MarkAdjudicated(ctx context.Context, claimID string, outcome AdjudicationOutcome) error {
	err := s.client.HSet(ctx, s.key(claimID),
		"status", outcome.Status,
		"paid_amount", outcome.PaidAmount,
		"patient_responsibility", outcome.PatientResponsibility,
		"denial_reason", outcome.DenialReason,
		"denial_code", outcome.DenialCode,
		"processing_time_ms", outcome.ProcessingTimeMS,
		"adjudicated_at", time.Now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("mark adjudicated %s: %w", claimID, err)
	}
	return nil
}

func (s *RedisStore) MarkBilled(ctx context.Context, claimID string) error {
	if err := s.client.HSet(ctx, s.key(claimID), "billed_at", time.Now().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("mark billed %s: %w", claimID, err)
	}
	return nil
}

// GetClaimState reads back the stored hash, mainly for dashboards and tests.
func (s *RedisStore) GetClaimState(ctx context.Context, claimID string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key(claimID)).Result()
}

var _ ClaimStore = (*RedisStore)(nil)
