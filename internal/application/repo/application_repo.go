package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/kraikub/katrade-accounts/internal/application/entity"
)

const columns = `client_id, client_secret, owner_id, app_name, app_description, creator_name,
	app_type, callback_url, dev_callback_url, created_at, updated_at`

// Repo provides data access for the applications table.
type Repo struct {
	db *sqlx.DB
}

func NewRepo(db *sqlx.DB) *Repo { return &Repo{db: db} }

// GetByClientID returns sql.ErrNoRows when no application matches.
func (r *Repo) GetByClientID(ctx context.Context, clientID string) (*entity.Application, error) {
	var app entity.Application
	q := r.db.Rebind(`SELECT ` + columns + ` FROM applications WHERE client_id = ?`)
	if err := r.db.GetContext(ctx, &app, q, clientID); err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *Repo) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Application, error) {
	apps := []*entity.Application{}
	q := r.db.Rebind(`SELECT ` + columns + ` FROM applications WHERE owner_id = ? ORDER BY created_at, client_id`)
	if err := r.db.SelectContext(ctx, &apps, q, ownerID); err != nil {
		return nil, err
	}
	return apps, nil
}

func (r *Repo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM applications WHERE owner_id = ?`), ownerID)
	return n, err
}

func (r *Repo) NameExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, r.db.Rebind(`SELECT 1 FROM applications WHERE app_name = ? LIMIT 1`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) Create(ctx context.Context, app *entity.Application) error {
	const q = `INSERT INTO applications (` + columns + `)
		VALUES (:client_id, :client_secret, :owner_id, :app_name, :app_description, :creator_name,
			:app_type, :callback_url, :dev_callback_url, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, app)
	return err
}

// Update writes the mutable fields of app. It reports whether a row matched.
func (r *Repo) Update(ctx context.Context, app *entity.Application) (bool, error) {
	const q = `UPDATE applications SET app_description = :app_description, creator_name = :creator_name,
		callback_url = :callback_url, dev_callback_url = :dev_callback_url, updated_at = :updated_at
		WHERE client_id = :client_id`
	res, err := r.db.NamedExecContext(ctx, q, app)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repo) Delete(ctx context.Context, clientID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM applications WHERE client_id = ?`), clientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
