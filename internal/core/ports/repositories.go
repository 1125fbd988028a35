package ports

import (
	"context"

	"github.com/javaarchive/togetherfin/internal/core/domain"
)

// RoomRepository stores relay-side room records. Rooms are ephemeral by
// design; implementations are in-memory.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	List(ctx context.Context) ([]*domain.Room, error)
}
