// Package postgres provides PostgreSQL infrastructure: the rule-table
// loader feeding the adjudication snapshot and the store of issued prior
// authorizations. The engine itself persists nothing; these components own
// all database I/O so the core stays pure.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/dur"
	"github.com/drfirst/go-rxadjudicator/internal/priorauth"
	"github.com/drfirst/go-rxadjudicator/internal/quantity"
	"github.com/drfirst/go-rxadjudicator/internal/rules"
)

// RulesLoader reads the static rule tables into an immutable snapshot.
type RulesLoader struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRulesLoader creates a loader.
func NewRulesLoader(pool *pgxpool.Pool, logger *zap.Logger) *RulesLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RulesLoader{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("rules-loader"),
	}
}

// LoadSnapshot reads every rule table and returns a validated snapshot.
// The snapshot is rejected whole if any rule is malformed; a partial
// configuration never reaches the engine.
func (l *RulesLoader) LoadSnapshot(ctx context.Context) (*rules.Snapshot, error) {
	ctx, span := l.tracer.Start(ctx, "load_rules_snapshot")
	defer span.End()

	s := &rules.Snapshot{DuplicationClassLength: 6}

	var err error
	if s.Interactions, err = l.loadInteractions(ctx); err != nil {
		return nil, err
	}
	if s.AgeRestrictions, err = l.loadAgeRestrictions(ctx); err != nil {
		return nil, err
	}
	if s.GenderRestrictions, err = l.loadGenderRestrictions(ctx); err != nil {
		return nil, err
	}
	if s.QuantityLimits, err = l.loadQuantityLimits(ctx); err != nil {
		return nil, err
	}
	if s.CriteriaSets, err = l.loadCriteriaSets(ctx); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("loaded rules rejected: %w", err)
	}

	span.SetAttributes(
		attribute.Int("interactions", len(s.Interactions)),
		attribute.Int("quantity_limits", len(s.QuantityLimits)),
		attribute.Int("criteria_sets", len(s.CriteriaSets)),
	)
	l.logger.Info("rules snapshot loaded",
		zap.Int("interactions", len(s.Interactions)),
		zap.Int("quantity_limits", len(s.QuantityLimits)),
		zap.Int("criteria_sets", len(s.CriteriaSets)),
	)
	return s, nil
}

func (l *RulesLoader) loadInteractions(ctx context.Context) ([]dur.Interaction, error) {
	query := `
		SELECT class_a, class_b, severity, description, COALESCE(recommendation, '')
		FROM drug_interactions
		ORDER BY class_a, class_b
	`
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []dur.Interaction
	for rows.Next() {
		var ix dur.Interaction
		if err := rows.Scan(&ix.ClassA, &ix.ClassB, &ix.Severity, &ix.Description, &ix.Recommendation); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, ix)
	}
	return out, rows.Err()
}

func (l *RulesLoader) loadAgeRestrictions(ctx context.Context) ([]dur.AgeRestriction, error) {
	query := `
		SELECT COALESCE(drug_code, ''), COALESCE(class_code, ''),
		       COALESCE(min_age, 0), COALESCE(max_age, 0), severity, COALESCE(message, '')
		FROM age_restrictions
		ORDER BY id
	`
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query age restrictions: %w", err)
	}
	defer rows.Close()

	var out []dur.AgeRestriction
	for rows.Next() {
		var r dur.AgeRestriction
		if err := rows.Scan(&r.Drug.DrugCode, &r.Drug.ClassCode, &r.MinAge, &r.MaxAge, &r.Severity, &r.Message); err != nil {
			return nil, fmt.Errorf("scan age restriction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *RulesLoader) loadGenderRestrictions(ctx context.Context) ([]dur.GenderRestriction, error) {
	query := `
		SELECT COALESCE(drug_code, ''), COALESCE(class_code, ''),
		       allowed_gender, severity, COALESCE(message, '')
		FROM gender_restrictions
		ORDER BY id
	`
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query gender restrictions: %w", err)
	}
	defer rows.Close()

	var out []dur.GenderRestriction
	for rows.Next() {
		var r dur.GenderRestriction
		if err := rows.Scan(&r.Drug.DrugCode, &r.Drug.ClassCode, &r.AllowedGender, &r.Severity, &r.Message); err != nil {
			return nil, fmt.Errorf("scan gender restriction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *RulesLoader) loadQuantityLimits(ctx context.Context) ([]quantity.Limit, error) {
	// ORDER matters: natural configuration order drives first-failure-wins.
	query := `
		SELECT id, COALESCE(drug_code, ''), COALESCE(class_code, ''), kind,
		       COALESCE(max_quantity, 0), COALESCE(max_days_supply, 0),
		       COALESCE(period_days, 0), COALESCE(description, '')
		FROM quantity_limits
		ORDER BY position, id
	`
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query quantity limits: %w", err)
	}
	defer rows.Close()

	var out []quantity.Limit
	for rows.Next() {
		var lim quantity.Limit
		var kind string
		if err := rows.Scan(&lim.ID, &lim.Drug.DrugCode, &lim.Drug.ClassCode, &kind,
			&lim.MaxQuantity, &lim.MaxDaysSupply, &lim.PeriodDays, &lim.Description); err != nil {
			return nil, fmt.Errorf("scan quantity limit: %w", err)
		}
		lim.Kind = quantity.LimitKind(kind)
		out = append(out, lim)
	}
	return out, rows.Err()
}

func (l *RulesLoader) loadCriteriaSets(ctx context.Context) ([]priorauth.CriteriaSet, error) {
	// Criteria are stored as a JSON document per set; the tagged criterion
	// variants unmarshal directly.
	query := `
		SELECT id, COALESCE(drug_code, ''), COALESCE(class_code, ''), criteria
		FROM criteria_sets
		ORDER BY id
	`
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query criteria sets: %w", err)
	}
	defer rows.Close()

	var out []priorauth.CriteriaSet
	for rows.Next() {
		var cs priorauth.CriteriaSet
		var raw []byte
		if err := rows.Scan(&cs.ID, &cs.Drug.DrugCode, &cs.Drug.ClassCode, &raw); err != nil {
			return nil, fmt.Errorf("scan criteria set: %w", err)
		}
		if err := json.Unmarshal(raw, &cs.Criteria); err != nil {
			return nil, fmt.Errorf("criteria set %s: decode criteria: %w", cs.ID, err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
