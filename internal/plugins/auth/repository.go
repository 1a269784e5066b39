package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY, raised by the UNIQUE index on email.
const mysqlDuplicateEntry = 1062

// UserRepository defines the data access contract for identities.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Delete(ctx context.Context, id string) error
	SetEmailConfirmed(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, id string, profile json.RawMessage) error
	UpdateLastLogin(ctx context.Context, id string) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, role, password_hash, password_salt,
	email_confirmed, profile, created_at, last_login_at`

// Create inserts a new identity. A concurrent signup for the same email
// loses on the UNIQUE index and gets a duplicate_email error.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, name, email, role, password_hash, password_salt,
	                             email_confirmed, profile, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.PasswordSalt,
		user.EmailConfirmed,
		nullableJSON(user.Profile),
		user.CreatedAt,
	)
	if isDuplicateEntry(err) {
		return errDuplicateEmail()
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// FindByID retrieves an identity by UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

// FindByEmail retrieves an identity by normalized email.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return user, nil
}

// Delete removes an identity. The email_otps foreign key cascades.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// SetEmailConfirmed marks the identity's email as verified.
func (r *userRepository) SetEmailConfirmed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET email_confirmed = TRUE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("confirming email: %w", err)
	}
	// MariaDB reports 0 affected rows when the flag was already set, so
	// only a missing row is worth a second query.
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateProfile replaces the onboarding profile document.
func (r *userRepository) UpdateProfile(ctx context.Context, id string, profile json.RawMessage) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET profile = ? WHERE id = ?`, nullableJSON(profile), id)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLastLogin sets last_login_at to now.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = ?`, id); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// scanUser reads one users row in userColumns order.
func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var profile []byte
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.PasswordSalt,
		&user.EmailConfirmed,
		&profile,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	if len(profile) > 0 {
		user.Profile = json.RawMessage(profile)
	}
	return user, nil
}

func nullableJSON(doc json.RawMessage) any {
	if len(doc) == 0 {
		return nil
	}
	return string(doc)
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
