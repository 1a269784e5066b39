package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
)

// OTPRepository stores at most one verification record per email.
type OTPRepository interface {
	// Upsert writes rec, replacing any outstanding record for the email.
	Upsert(ctx context.Context, rec *OTPRecord) error
	Find(ctx context.Context, email string) (*OTPRecord, error)
	Delete(ctx context.Context, email string) error
	IncrementAttempts(ctx context.Context, email string) (int, error)
}

// otpRepository implements OTPRepository on the email_otps table.
type otpRepository struct {
	db *sql.DB
}

// NewOTPRepository creates an OTP repository backed by the given DB pool.
func NewOTPRepository(db *sql.DB) OTPRepository {
	return &otpRepository{db: db}
}

// Upsert relies on email being the primary key: concurrent issues for one
// email resolve to last-writer-wins.
func (r *otpRepository) Upsert(ctx context.Context, rec *OTPRecord) error {
	query := `INSERT INTO email_otps (email, subject_id, code_hash, expires_at, attempts)
	          VALUES (?, ?, ?, ?, 0)
	          ON DUPLICATE KEY UPDATE
	              subject_id = VALUES(subject_id),
	              code_hash  = VALUES(code_hash),
	              expires_at = VALUES(expires_at),
	              attempts   = 0,
	              created_at = CURRENT_TIMESTAMP`

	if _, err := r.db.ExecContext(ctx, query, rec.Email, rec.SubjectID, rec.CodeHash, rec.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("upserting otp: %w", err)
	}
	return nil
}

// Find returns the outstanding record for email.
// Returns apperror.NotFound if there is none.
func (r *otpRepository) Find(ctx context.Context, email string) (*OTPRecord, error) {
	query := `SELECT email, subject_id, code_hash, expires_at, attempts
	          FROM email_otps WHERE email = ?`

	rec := &OTPRecord{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&rec.Email,
		&rec.SubjectID,
		&rec.CodeHash,
		&rec.ExpiresAt,
		&rec.Attempts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("verification code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying otp: %w", err)
	}
	return rec, nil
}

// Delete removes the record for email. Deleting a missing record is not an error.
func (r *otpRepository) Delete(ctx context.Context, email string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM email_otps WHERE email = ?`, email); err != nil {
		return fmt.Errorf("deleting otp: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the failure counter atomically and returns the
// new value.
func (r *otpRepository) IncrementAttempts(ctx context.Context, email string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning otp attempt tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE email_otps SET attempts = attempts + 1 WHERE email = ?`, email)
	if err != nil {
		return 0, fmt.Errorf("incrementing otp attempts: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, apperror.NewNotFound("verification code not found")
	}

	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT attempts FROM email_otps WHERE email = ?`, email).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("reading otp attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing otp attempt: %w", err)
	}
	return attempts, nil
}
