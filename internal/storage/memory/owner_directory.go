package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// OwnerDirectory — справочник владельцев заказов в памяти.
type OwnerDirectory struct {
	mu     sync.RWMutex
	owners map[string]domain.Owner
}

// NewOwnerDirectory создаёт справочник с начальным набором владельцев.
func NewOwnerDirectory(owners ...domain.Owner) *OwnerDirectory {
	dir := &OwnerDirectory{owners: make(map[string]domain.Owner, len(owners))}
	for _, owner := range owners {
		dir.owners[owner.ID] = owner
	}
	return dir
}

// Put добавляет или заменяет владельца.
func (d *OwnerDirectory) Put(owner domain.Owner) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.owners[owner.ID] = owner
}

// Lookup возвращает владельца или ErrOwnerNotFound.
func (d *OwnerDirectory) Lookup(_ context.Context, ownerID string) (domain.Owner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	owner, ok := d.owners[ownerID]
	if !ok {
		return domain.Owner{}, domain.ErrOwnerNotFound
	}
	return owner, nil
}

var _ domain.OwnerDirectory = (*OwnerDirectory)(nil)
