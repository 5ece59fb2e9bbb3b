package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

// AuditRepository persists audit trail records.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record writes one audit entry. Old and new values are marshalled to JSON;
// a marshal failure is reported, never silently dropped.
func (r *AuditRepository) Record(ctx context.Context, userID *string, action, resource string, resourceID *string, oldValues, newValues interface{}) error {
	oldJSON, err := marshalValues(oldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newJSON, err := marshalValues(newValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}

	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, action, resource, resourceID, oldJSON, newJSON); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByResource returns the newest audit entries for one resource.
func (r *AuditRepository) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	const query = `SELECT id, user_id, action, resource, resource_id, old_values, new_values, created_at
        FROM audit_logs WHERE resource = $1 AND resource_id = $2
        ORDER BY created_at DESC LIMIT $3`
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, resource, resourceID, limit); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

func marshalValues(values interface{}) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}
