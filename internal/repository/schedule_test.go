package repository

import (
	"context"
	"testing"
	"time"

	"aibox-gateway/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetSchedule_DecodesBitmap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewScheduleRepository(db, zap.NewNop())

	always := domain.NewAlwaysOnSchedule("always")
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM schedules`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "bitmap", "created_at", "updated_at"}).
			AddRow(int64(1), "always", always.BitmapHex(), now, now))

	s, err := repo.GetSchedule(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, s.IsActiveAt(time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchedule_CorruptBitmap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewScheduleRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM schedules`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "bitmap", "created_at", "updated_at"}).
			AddRow(int64(2), "bad", "zz", now, now))

	_, err = repo.GetSchedule(context.Background(), 2)
	assert.Error(t, err)
}

func TestSaveSchedule_InsertReturnsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewScheduleRepository(db, zap.NewNop())

	s := domain.NewAlwaysOnSchedule("night shift")
	mock.ExpectQuery(`INSERT INTO schedules`).
		WithArgs(s.Name, s.BitmapHex()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, repo.SaveSchedule(context.Background(), s))
	assert.Equal(t, int64(7), s.ID)
}

func TestDeleteSchedule_Referenced(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewScheduleRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM alg_tasks`).
		WithArgs(int64(3), domain.TaskDeleted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	err = repo.DeleteSchedule(context.Background(), 3)
	assert.Error(t, err)
}
