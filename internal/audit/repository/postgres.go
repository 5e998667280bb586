package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"phone-otp-mfa/internal/audit/domain"
)

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository stores audit logs in the audit_logs table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlx.NewDb(db, "pgx")}
}

type auditRow struct {
	ID        string         `db:"id"`
	Realm     string         `db:"realm"`
	UserID    sql.NullString `db:"user_id"`
	Action    string         `db:"action"`
	Resource  string         `db:"resource"`
	IP        string         `db:"ip"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	row := auditRow{
		ID:        a.ID,
		Realm:     a.Realm,
		UserID:    sql.NullString{String: a.UserID, Valid: a.UserID != ""},
		Action:    a.Action,
		Resource:  a.Resource,
		IP:        a.IP,
		Metadata:  sql.NullString{String: a.Metadata, Valid: a.Metadata != ""},
		CreatedAt: a.CreatedAt,
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, realm, user_id, action, resource, ip, metadata, created_at)
		VALUES (:id, :realm, :user_id, :action, :resource, :ip, :metadata, :created_at)`, row)
	return err
}

// ListByUser returns the newest audit logs for the user in realm.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, realm, userID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, realm, user_id, action, resource, ip, metadata, created_at
		FROM audit_logs
		WHERE realm = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, realm, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AuditLog, len(rows))
	for i := range rows {
		out[i] = rowToDomain(&rows[i])
	}
	return out, nil
}

func rowToDomain(a *auditRow) *domain.AuditLog {
	return &domain.AuditLog{
		ID: a.ID, Realm: a.Realm, UserID: a.UserID.String, Action: a.Action, Resource: a.Resource,
		IP: a.IP, Metadata: a.Metadata.String, CreatedAt: a.CreatedAt,
	}
}
