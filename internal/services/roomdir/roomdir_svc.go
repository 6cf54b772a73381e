// Package roomdir reads study rooms from the application's room store. The
// store is owned by another service; this package never writes to it.
package roomdir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type RoomDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MaxParticipants int    `json:"maxParticipants"`
}

var ErrRoomNotFound = errors.New("room not found")

type IRoomDirectory interface {
	GetRoom(ctx context.Context, id string) (*RoomDTO, error)
}

type roomDirectory struct {
	db *sql.DB
}

var _ IRoomDirectory = (*roomDirectory)(nil)

func NewRoomDirectory(db *sql.DB) IRoomDirectory {
	return &roomDirectory{db: db}
}

func (d *roomDirectory) GetRoom(ctx context.Context, id string) (*RoomDTO, error) {
	const q = `SELECT id, name, "maxParticipants" FROM "StudyRoom" WHERE id = $1`

	var (
		dto RoomDTO
		limit sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx, q, id).Scan(&dto.ID, &dto.Name, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("room lookup %s: %w", id, err)
	}
	if limit.Valid {
		dto.MaxParticipants = int(limit.Int64)
	}
	return &dto, nil
}
