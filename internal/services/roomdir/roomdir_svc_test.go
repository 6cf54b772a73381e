package roomdir

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roomQuery = regexp.QuoteMeta(`SELECT id, name, "maxParticipants" FROM "StudyRoom" WHERE id = $1`)

func TestGetRoom(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(roomQuery).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "maxParticipants"}).AddRow("r1", "Calculus", 6))

	dto, err := NewRoomDirectory(db).GetRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, &RoomDTO{ID: "r1", Name: "Calculus", MaxParticipants: 6}, dto)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRoomWithoutLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(roomQuery).
		WithArgs("r2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "maxParticipants"}).AddRow("r2", "Open", nil))

	dto, err := NewRoomDirectory(db).GetRoom(context.Background(), "r2")
	require.NoError(t, err)
	assert.Zero(t, dto.MaxParticipants)
}

func TestGetRoomNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(roomQuery).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "maxParticipants"}))

	_, err = NewRoomDirectory(db).GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestGetRoomDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery(roomQuery).WithArgs("r1").WillReturnError(boom)

	_, err = NewRoomDirectory(db).GetRoom(context.Background(), "r1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRoomNotFound)
}
