package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type ConsentRow struct {
	ID        string    `db:"id"`
	UID       string    `db:"uid"`
	ClientID  string    `db:"client_id"`
	Scope     string    `db:"scope"`
	GrantedAt time.Time `db:"granted_at"`
}

type ConsentRepo struct {
	db *sqlx.DB
}

func NewConsentRepo(db *sqlx.DB) *ConsentRepo {
	return &ConsentRepo{db: db}
}

// Upsert records the scope granted by uid to clientID, replacing any
// earlier grant.
func (r *ConsentRepo) Upsert(ctx context.Context, c *ConsentRow) error {
	const q = `INSERT INTO consents (id, uid, client_id, scope, granted_at)
		VALUES (:id, :uid, :client_id, :scope, :granted_at)
		ON CONFLICT (uid, client_id) DO UPDATE SET scope = excluded.scope, granted_at = excluded.granted_at`
	_, err := r.db.NamedExecContext(ctx, q, c)
	return err
}

func (r *ConsentRepo) Get(ctx context.Context, uid, clientID string) (*ConsentRow, error) {
	var c ConsentRow
	const q = `SELECT id, uid, client_id, scope, granted_at FROM consents WHERE uid = ? AND client_id = ?`
	if err := r.db.GetContext(ctx, &c, r.db.Rebind(q), uid, clientID); err != nil {
		return nil, err
	}
	return &c, nil
}
