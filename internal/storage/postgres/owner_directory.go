package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

type ownerDirectory struct {
	store *Store
}

// NewOwnerDirectory создаёт справочник владельцев поверх таблицы users.
func NewOwnerDirectory(store *Store) domain.OwnerDirectory {
	return &ownerDirectory{store: store}
}

func (d *ownerDirectory) Lookup(ctx context.Context, ownerID string) (domain.Owner, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var owner domain.Owner
	err := d.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, email, name
		FROM users
		WHERE id = $1
	`, ownerID).Scan(&owner.ID, &owner.Email, &owner.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Owner{}, domain.ErrOwnerNotFound
		}
		return domain.Owner{}, wrapErr("select owner", err)
	}
	return owner, nil
}

// UpsertOwner сохраняет владельца (для сидирования и тестов).
func UpsertOwner(ctx context.Context, store *Store, owner domain.Owner) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := store.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name
	`, owner.ID, owner.Email, owner.Name)
	return wrapErr("upsert owner", err)
}

var _ domain.OwnerDirectory = (*ownerDirectory)(nil)
