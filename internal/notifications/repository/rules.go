// Package repository provides Postgres persistence for notification rules,
// notification records, and recipient preferences.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

type Rules struct {
	pool *pgxpool.Pool
}

func NewRules(pool *pgxpool.Pool) *Rules {
	return &Rules{pool: pool}
}

const ruleColumns = `id, name, event, conditions, channels, recipients, template,
	escalation_rule_id, enabled, matched_count, notified_count, delivered_count,
	created_at, updated_at`

func scanRule(row pgx.Row) (domain.NotificationRule, error) {
	var (
		r          domain.NotificationRule
		conditions []byte
		channels   []string
		recipients []byte
	)
	err := row.Scan(&r.ID, &r.Name, &r.Event, &conditions, &channels, &recipients,
		&r.Template, &r.EscalationRuleID, &r.Enabled,
		&r.Analytics.Matched, &r.Analytics.Notified, &r.Analytics.Delivered,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.NotificationRule{}, err
	}
	if r.Conditions, err = domain.UnmarshalConditions(conditions); err != nil {
		return domain.NotificationRule{}, fmt.Errorf("decode rule conditions: %w", err)
	}
	for _, c := range channels {
		r.Channels = append(r.Channels, domain.Channel(c))
	}
	if err := json.Unmarshal(recipients, &r.Recipients); err != nil {
		return domain.NotificationRule{}, fmt.Errorf("decode rule recipients: %w", err)
	}
	return r, nil
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}

func (r *Rules) Create(ctx context.Context, rule *domain.NotificationRule) error {
	conditions, err := domain.MarshalConditions(rule.Conditions)
	if err != nil {
		return apperr.Internal("encode rule conditions", err)
	}
	recipients, err := json.Marshal(rule.Recipients)
	if err != nil {
		return apperr.Internal("encode rule recipients", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO notification_rules (id, name, event, conditions, channels, recipients,
			template, escalation_rule_id, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		rule.ID, rule.Name, rule.Event, conditions, channelStrings(rule.Channels),
		recipients, rule.Template, rule.EscalationRuleID, rule.Enabled,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return apperr.Internal("create notification rule", err)
	}
	return nil
}

func (r *Rules) Update(ctx context.Context, rule *domain.NotificationRule) error {
	conditions, err := domain.MarshalConditions(rule.Conditions)
	if err != nil {
		return apperr.Internal("encode rule conditions", err)
	}
	recipients, err := json.Marshal(rule.Recipients)
	if err != nil {
		return apperr.Internal("encode rule recipients", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_rules
		SET name = $2, event = $3, conditions = $4, channels = $5, recipients = $6,
			template = $7, escalation_rule_id = $8, enabled = $9, updated_at = now()
		WHERE id = $1`,
		rule.ID, rule.Name, rule.Event, conditions, channelStrings(rule.Channels),
		recipients, rule.Template, rule.EscalationRuleID, rule.Enabled)
	if err != nil {
		return apperr.Internal("update notification rule", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification rule not found")
	}
	return nil
}

func (r *Rules) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_rules SET enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return apperr.Internal("toggle notification rule", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification rule not found")
	}
	return nil
}

func (r *Rules) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1`, id)
	if err != nil {
		return apperr.Internal("delete notification rule", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification rule not found")
	}
	return nil
}

func (r *Rules) GetByID(ctx context.Context, id uuid.UUID) (domain.NotificationRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotificationRule{}, apperr.NotFound("notification rule not found")
	}
	if err != nil {
		return domain.NotificationRule{}, apperr.Internal("get notification rule", err)
	}
	return rule, nil
}

func (r *Rules) List(ctx context.Context) ([]domain.NotificationRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM notification_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.Internal("list notification rules", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListActiveByEvent returns enabled rules keyed to the given trigger event.
func (r *Rules) ListActiveByEvent(ctx context.Context, event string) ([]domain.NotificationRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM notification_rules
		WHERE enabled AND event = $1
		ORDER BY created_at ASC`, event)
	if err != nil {
		return nil, apperr.Internal("list active notification rules", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]domain.NotificationRule, error) {
	var rules []domain.NotificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperr.Internal("scan notification rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate notification rules", err)
	}
	return rules, nil
}

// RecordMatch bumps the matched and notified counters after a rule fires.
func (r *Rules) RecordMatch(ctx context.Context, id uuid.UUID, notified int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_rules
		SET matched_count = matched_count + 1,
			notified_count = notified_count + $2
		WHERE id = $1`, id, notified)
	if err != nil {
		return apperr.Internal("record rule match", err)
	}
	return nil
}

// RecordDelivered bumps the delivered counter after a successful dispatch.
func (r *Rules) RecordDelivered(ctx context.Context, id uuid.UUID, delivered int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_rules
		SET delivered_count = delivered_count + $2
		WHERE id = $1`, id, delivered)
	if err != nil {
		return apperr.Internal("record rule delivery", err)
	}
	return nil
}
