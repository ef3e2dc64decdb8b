package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/drug"
	"github.com/drfirst/go-rxadjudicator/internal/priorauth"
)

// AuthStore persists prior authorization determinations. The workflow
// keeps its own in-memory view; the store is the durable record behind it,
// so the existing-authorization check survives restarts.
type AuthStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewAuthStore creates a store.
func NewAuthStore(pool *pgxpool.Pool, logger *zap.Logger) *AuthStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("auth-store"),
	}
}

// SaveDetermination writes a determination. Request ids are unique, and a
// determination is written exactly once; a second insert for the same
// request id is a conflict, matching the workflow's single-shot rule.
func (s *AuthStore) SaveDetermination(ctx context.Context, resp *priorauth.Response) error {
	ctx, span := s.tracer.Start(ctx, "save_determination")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", resp.RequestID),
		attribute.String("status", string(resp.Status)),
	)

	query := `
		INSERT INTO prior_auth_determinations (
			request_id, member_id, drug_code, class_code, status,
			authorization_number, approved_quantity, approved_days_supply,
			refills_authorized, effective_date, expiration_date,
			denial_reason, message, appeal_deadline, auto_approved, determined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.pool.Exec(ctx, query,
		resp.RequestID, resp.MemberID, resp.Drug.DrugCode, resp.Drug.ClassCode, string(resp.Status),
		resp.AuthorizationNumber, resp.ApprovedQuantity, resp.ApprovedDaysSupply,
		resp.RefillsAuthorized, nullableTime(resp.EffectiveDate), nullableTime(resp.ExpirationDate),
		resp.DenialReason, resp.Message, nullableTime(resp.AppealDeadline), resp.AutoApproved, resp.DeterminedAt,
	)
	if err != nil {
		return fmt.Errorf("save determination %s: %w", resp.RequestID, err)
	}

	s.logger.Info("determination persisted",
		zap.String("request_id", resp.RequestID),
		zap.String("status", string(resp.Status)),
	)
	return nil
}

// ActiveAuthorization returns the most recent approved or partial
// determination for the member and drug that covers asOf, or nil when no
// authorization is on file.
func (s *AuthStore) ActiveAuthorization(ctx context.Context, memberID string, d drug.Identifier, asOf time.Time) (*priorauth.Response, error) {
	ctx, span := s.tracer.Start(ctx, "active_authorization")
	defer span.End()
	span.SetAttributes(attribute.String("member_id", memberID))

	query := `
		SELECT request_id, member_id, drug_code, class_code, status,
		       authorization_number, approved_quantity, approved_days_supply,
		       refills_authorized, effective_date, expiration_date,
		       auto_approved, determined_at
		FROM prior_auth_determinations
		WHERE member_id = $1
		  AND drug_code = $2
		  AND class_code = $3
		  AND status IN ('approved', 'partial')
		  AND effective_date <= $4
		  AND expiration_date >= $4
		ORDER BY effective_date DESC
		LIMIT 1
	`
	var resp priorauth.Response
	var status string
	err := s.pool.QueryRow(ctx, query, memberID, d.DrugCode, d.ClassCode, asOf).Scan(
		&resp.RequestID, &resp.MemberID, &resp.Drug.DrugCode, &resp.Drug.ClassCode, &status,
		&resp.AuthorizationNumber, &resp.ApprovedQuantity, &resp.ApprovedDaysSupply,
		&resp.RefillsAuthorized, &resp.EffectiveDate, &resp.ExpirationDate,
		&resp.AutoApproved, &resp.DeterminedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active authorization: %w", err)
	}
	resp.Status = priorauth.Status(status)
	resp.Alternatives = []string{}
	return &resp, nil
}

// DeterminationStats reports determination counts by status, for the
// operational dashboard.
func (s *AuthStore) DeterminationStats(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM prior_auth_determinations
		GROUP BY status
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query determination stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan determination stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// nullableTime maps the zero time to NULL so optional dates round-trip.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
