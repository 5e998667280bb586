package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"phone-otp-mfa/internal/credential/domain"
)

const credentialColumns = `id, user_id, realm, phone_number, failed_attempts, secret_hash, secret_invalid,
	secret_set_at, outstanding_code, issued_at, expires_at, created_at, updated_at`

type credentialRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	Realm           string         `db:"realm"`
	PhoneNumber     string         `db:"phone_number"`
	FailedAttempts  int            `db:"failed_attempts"`
	SecretHash      sql.NullString `db:"secret_hash"`
	SecretInvalid   bool           `db:"secret_invalid"`
	SecretSetAt     sql.NullTime   `db:"secret_set_at"`
	OutstandingCode sql.NullString `db:"outstanding_code"`
	IssuedAt        sql.NullTime   `db:"issued_at"`
	ExpiresAt       sql.NullTime   `db:"expires_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type requiredActionRow struct {
	UserID    string    `db:"user_id"`
	Realm     string    `db:"realm"`
	Action    string    `db:"action"`
	CreatedAt time.Time `db:"created_at"`
}

// PostgresRepository implements Repository and RequiredActionRepository on Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a credential repository that uses the given db (opened with the pgx driver).
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlx.NewDb(db, "pgx")}
}

// GetByID returns the credential for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.OtpCredential, error) {
	var row credentialRow
	err := r.db.GetContext(ctx, &row, `SELECT `+credentialColumns+` FROM otp_credentials WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row), nil
}

// GetByUser returns the user's most recently created credential, or nil if none.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID string) (*domain.OtpCredential, error) {
	var row credentialRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+credentialColumns+` FROM otp_credentials WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row), nil
}

// Create persists c. The credential must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.OtpCredential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO otp_credentials (`+credentialColumns+`)
		VALUES (:id, :user_id, :realm, :phone_number, :failed_attempts, :secret_hash, :secret_invalid,
			:secret_set_at, :outstanding_code, :issued_at, :expires_at, :created_at, :updated_at)`, domainToRow(c))
	return err
}

// Update overwrites the mutable columns of c. Returns domain.ErrCredentialNotFound when no row matches.
func (r *PostgresRepository) Update(ctx context.Context, c *domain.OtpCredential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	res, err := r.db.NamedExecContext(ctx, `UPDATE otp_credentials SET
			phone_number = :phone_number,
			failed_attempts = :failed_attempts,
			secret_hash = :secret_hash,
			secret_invalid = :secret_invalid,
			secret_set_at = :secret_set_at,
			outstanding_code = :outstanding_code,
			issued_at = :issued_at,
			expires_at = :expires_at,
			updated_at = :updated_at
		WHERE id = :id`, domainToRow(c))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

// ReserveAttempt counts one answer against the outstanding challenge codeMAC in a single conditional UPDATE.
func (r *PostgresRepository) ReserveAttempt(ctx context.Context, id, codeMAC string, maxAttempts int, now time.Time) (bool, error) {
	if codeMAC == "" {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE otp_credentials
		SET failed_attempts = failed_attempts + 1, updated_at = $5
		WHERE id = $1 AND outstanding_code = $2 AND failed_attempts < $3 AND expires_at > $4`,
		id, codeMAC, maxAttempts, now, now)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ConsumeChallenge clears the outstanding challenge codeMAC and stores secretHash as the trust secret.
// Only one caller can win for a given codeMAC.
func (r *PostgresRepository) ConsumeChallenge(ctx context.Context, id, codeMAC, secretHash string, now time.Time) (bool, error) {
	if codeMAC == "" {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE otp_credentials
		SET outstanding_code = NULL, issued_at = NULL, expires_at = NULL, failed_attempts = 0,
			secret_hash = $3, secret_invalid = FALSE, secret_set_at = $4, updated_at = $4
		WHERE id = $1 AND outstanding_code = $2`,
		id, codeMAC, secretHash, now)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Add records a pending required action; duplicates are ignored.
func (r *PostgresRepository) Add(ctx context.Context, a *domain.RequiredAction) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO user_required_actions (user_id, realm, action, created_at)
		VALUES (:user_id, :realm, :action, :created_at)
		ON CONFLICT (user_id, action) DO NOTHING`, requiredActionRow{
		UserID: a.UserID, Realm: a.Realm, Action: a.Action, CreatedAt: a.CreatedAt,
	})
	return err
}

// ListByUser returns the pending required actions for userID, oldest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.RequiredAction, error) {
	var rows []requiredActionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT user_id, realm, action, created_at FROM user_required_actions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.RequiredAction, len(rows))
	for i := range rows {
		out[i] = &domain.RequiredAction{
			UserID: rows[i].UserID, Realm: rows[i].Realm, Action: rows[i].Action, CreatedAt: rows[i].CreatedAt,
		}
	}
	return out, nil
}

func rowToDomain(row *credentialRow) *domain.OtpCredential {
	c := &domain.OtpCredential{
		ID:              row.ID,
		UserID:          row.UserID,
		Realm:           row.Realm,
		PhoneNumber:     row.PhoneNumber,
		FailedAttempts:  row.FailedAttempts,
		SecretHash:      row.SecretHash.String,
		SecretInvalid:   row.SecretInvalid,
		OutstandingCode: row.OutstandingCode.String,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.SecretSetAt.Valid {
		t := row.SecretSetAt.Time
		c.SecretSetAt = &t
	}
	if row.IssuedAt.Valid {
		t := row.IssuedAt.Time
		c.IssuedAt = &t
	}
	if row.ExpiresAt.Valid {
		t := row.ExpiresAt.Time
		c.ExpiresAt = &t
	}
	return c
}

func domainToRow(c *domain.OtpCredential) credentialRow {
	row := credentialRow{
		ID:              c.ID,
		UserID:          c.UserID,
		Realm:           c.Realm,
		PhoneNumber:     c.PhoneNumber,
		FailedAttempts:  c.FailedAttempts,
		SecretHash:      sql.NullString{String: c.SecretHash, Valid: c.SecretHash != ""},
		SecretInvalid:   c.SecretInvalid,
		OutstandingCode: sql.NullString{String: c.OutstandingCode, Valid: c.OutstandingCode != ""},
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.SecretSetAt != nil {
		row.SecretSetAt = sql.NullTime{Time: *c.SecretSetAt, Valid: true}
	}
	if c.IssuedAt != nil {
		row.IssuedAt = sql.NullTime{Time: *c.IssuedAt, Valid: true}
	}
	if c.ExpiresAt != nil {
		row.ExpiresAt = sql.NullTime{Time: *c.ExpiresAt, Valid: true}
	}
	return row
}
