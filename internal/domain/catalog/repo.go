package catalog

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	List(ctx context.Context, kind Kind, f Filter) ([]*Item, error)
	GetByID(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error)
	Create(ctx context.Context, it *Item) error
	SetActive(ctx context.Context, kind Kind, id uuid.UUID, active bool) (*Item, error)
}
