package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// CodeRow mirrors the authorization_codes table.
type CodeRow struct {
	Code                string    `db:"code"`
	ClientID            string    `db:"client_id"`
	UID                 string    `db:"uid"`
	Scope               string    `db:"scope"`
	RedirectURI         string    `db:"redirect_uri"`
	State               string    `db:"state"`
	CodeChallenge       string    `db:"code_challenge"`
	CodeChallengeMethod string    `db:"code_challenge_method"`
	ExpiresAt           time.Time `db:"expires_at"`
	CreatedAt           time.Time `db:"created_at"`
}

type CodeRepo struct {
	db *sqlx.DB
}

func NewCodeRepo(db *sqlx.DB) *CodeRepo {
	return &CodeRepo{db: db}
}

func (r *CodeRepo) Save(ctx context.Context, c *CodeRow) error {
	const q = `INSERT INTO authorization_codes (code, client_id, uid, scope, redirect_uri, state,
			code_challenge, code_challenge_method, expires_at, created_at)
		VALUES (:code, :client_id, :uid, :scope, :redirect_uri, :state,
			:code_challenge, :code_challenge_method, :expires_at, :created_at)`
	_, err := r.db.NamedExecContext(ctx, q, c)
	return err
}

// Get returns sql.ErrNoRows for unknown or already consumed codes.
func (r *CodeRepo) Get(ctx context.Context, code string) (*CodeRow, error) {
	var c CodeRow
	const q = `SELECT code, client_id, uid, scope, redirect_uri, state, code_challenge,
		code_challenge_method, expires_at, created_at FROM authorization_codes WHERE code = ?`
	if err := r.db.GetContext(ctx, &c, r.db.Rebind(q), code); err != nil {
		return nil, err
	}
	return &c, nil
}

// Consume deletes the code. Only one caller sees true for a given code.
func (r *CodeRepo) Consume(ctx context.Context, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM authorization_codes WHERE code = ?`), code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteExpired removes codes that expired before now.
func (r *CodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM authorization_codes WHERE expires_at < ?`), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
