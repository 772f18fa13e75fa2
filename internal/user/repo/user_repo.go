package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kraikub/katrade-accounts/internal/user/entity"
)

const userColumns = `uid, username, std_id, personal_email, personal_email_verified,
	university_email, profile_image_url, password_hash, status, login_failed_attempts,
	locked_until, last_login_at, pdpa_accepted_at, app_quota, created_at, updated_at`

// UserRepo provides data access for users and their student records using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (` + userColumns + `)
		VALUES (:uid, :username, :std_id, :personal_email, :personal_email_verified,
			:university_email, :profile_image_url, :password_hash, :status, :login_failed_attempts,
			:locked_until, :last_login_at, :pdpa_accepted_at, :app_quota, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, u)
	return err
}

func (r *UserRepo) getBy(ctx context.Context, column, value string) (*entity.User, error) {
	var u entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`)
	if err := r.db.GetContext(ctx, &u, q, value); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUID returns sql.ErrNoRows when the user does not exist.
func (r *UserRepo) GetByUID(ctx context.Context, uid string) (*entity.User, error) {
	return r.getBy(ctx, "uid", uid)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.getBy(ctx, "username", username)
}

// GetByEmail matches the personal email, which is stored lower-cased.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getBy(ctx, "personal_email", email)
}

func (r *UserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, r.db.Rebind(`SELECT 1 FROM users WHERE username = ? LIMIT 1`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// IncrementFailedLogin bumps the failure counter and returns the new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, uid string, now time.Time) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at = ? WHERE uid = ?`), now, uid); err != nil {
		return 0, err
	}
	var v int
	if err := tx.GetContext(ctx, &v, tx.Rebind(`SELECT login_failed_attempts FROM users WHERE uid = ?`), uid); err != nil {
		return 0, err
	}
	return v, tx.Commit()
}

// Lock marks an active user locked until the given time.
func (r *UserRepo) Lock(ctx context.Context, uid string, until, now time.Time) error {
	const q = `UPDATE users SET status = 'locked', locked_until = ?, updated_at = ? WHERE uid = ? AND status = 'active'`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), until, now, uid)
	return err
}

// Unlock sets a locked user back to active and clears the failure counter.
func (r *UserRepo) Unlock(ctx context.Context, uid string, now time.Time) error {
	const q = `UPDATE users SET status = 'active', locked_until = NULL, login_failed_attempts = 0, updated_at = ?
		WHERE uid = ? AND status = 'locked'`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), now, uid)
	return err
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, uid string, now time.Time) error {
	const q = `UPDATE users SET login_failed_attempts = 0, last_login_at = ?, locked_until = NULL, updated_at = ? WHERE uid = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), now, now, uid)
	return err
}

// AcceptPDPA records the first PDPA agreement; later calls keep the original time.
func (r *UserRepo) AcceptPDPA(ctx context.Context, uid string, now time.Time) error {
	const q = `UPDATE users SET pdpa_accepted_at = ?, updated_at = ? WHERE uid = ? AND pdpa_accepted_at IS NULL`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), now, now, uid)
	return err
}

func (r *UserRepo) MarkEmailVerified(ctx context.Context, uid string, now time.Time) error {
	const q = `UPDATE users SET personal_email_verified = ?, updated_at = ? WHERE uid = ?`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), true, now, uid)
	return err
}

// GetStudent returns nil without error when the user has no student record.
func (r *UserRepo) GetStudent(ctx context.Context, uid string) (*entity.Student, error) {
	var s entity.Student
	const q = `SELECT std_id, uid, title_th, first_name_th, last_name_th, first_name_en, last_name_en,
		faculty_name, major_name, campus FROM students WHERE uid = ?`
	err := r.db.GetContext(ctx, &s, r.db.Rebind(q), uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *UserRepo) ListEducations(ctx context.Context, uid string) ([]entity.Education, error) {
	eds := []entity.Education{}
	const q = `SELECT id, uid, std_id, level, faculty_name, major_name, campus, status
		FROM educations WHERE uid = ? ORDER BY id`
	if err := r.db.SelectContext(ctx, &eds, r.db.Rebind(q), uid); err != nil {
		return nil, err
	}
	return eds, nil
}

// UpsertStudent links a student record to a user.
func (r *UserRepo) UpsertStudent(ctx context.Context, s *entity.Student) error {
	const q = `INSERT INTO students (std_id, uid, title_th, first_name_th, last_name_th, first_name_en,
			last_name_en, faculty_name, major_name, campus)
		VALUES (:std_id, :uid, :title_th, :first_name_th, :last_name_th, :first_name_en,
			:last_name_en, :faculty_name, :major_name, :campus)
		ON CONFLICT (std_id) DO UPDATE SET uid = excluded.uid, title_th = excluded.title_th,
			first_name_th = excluded.first_name_th, last_name_th = excluded.last_name_th,
			first_name_en = excluded.first_name_en, last_name_en = excluded.last_name_en,
			faculty_name = excluded.faculty_name, major_name = excluded.major_name, campus = excluded.campus`
	if _, err := r.db.NamedExecContext(ctx, q, s); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET std_id = ? WHERE uid = ?`), s.StdID, s.UID)
	return err
}

func (r *UserRepo) AddEducation(ctx context.Context, e *entity.Education) error {
	const q = `INSERT INTO educations (id, uid, std_id, level, faculty_name, major_name, campus, status)
		VALUES (:id, :uid, :std_id, :level, :faculty_name, :major_name, :campus, :status)`
	_, err := r.db.NamedExecContext(ctx, q, e)
	return err
}

// SaveEmailVerification replaces any pending verification for the user.
func (r *UserRepo) SaveEmailVerification(ctx context.Context, v *entity.EmailVerification) error {
	const q = `INSERT INTO email_verifications (uid, email, code, expires_at)
		VALUES (:uid, :email, :code, :expires_at)
		ON CONFLICT (uid) DO UPDATE SET email = excluded.email, code = excluded.code, expires_at = excluded.expires_at`
	_, err := r.db.NamedExecContext(ctx, q, v)
	return err
}

func (r *UserRepo) GetEmailVerification(ctx context.Context, email string) (*entity.EmailVerification, error) {
	var v entity.EmailVerification
	const q = `SELECT uid, email, code, expires_at FROM email_verifications WHERE email = ?`
	if err := r.db.GetContext(ctx, &v, r.db.Rebind(q), email); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *UserRepo) DeleteEmailVerification(ctx context.Context, uid string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM email_verifications WHERE uid = ?`), uid)
	return err
}

func (r *UserRepo) UpdatePassword(ctx context.Context, uid, hash string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET password_hash = ?, updated_at = ? WHERE uid = ?`), hash, now, uid)
	return err
}
