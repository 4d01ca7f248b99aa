package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratecode/triage-sub002/internal/bus"
	cryptopkg "github.com/stratecode/triage-sub002/internal/crypto"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	db := sqlx.NewDb(mockDB, "postgres")

	key := make([]byte, 32)
	cipher, err := cryptopkg.New(key)
	require.NoError(t, err)

	return New(db, cipher), mock, func() { mockDB.Close() }
}

func TestCreateEncryptsTokensBeforePersisting(t *testing.T) {
	s, mock, closeDB := newTestStore(t)
	defer closeDB()

	mock.ExpectQuery(`INSERT INTO installations`).
		WithArgs("slack", "C1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	inst, err := s.Create(context.Background(), bus.Installation{
		PluginName:  "slack",
		ChannelID:   "C1",
		AccessToken: "xoxb-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "xoxb-secret", inst.AccessToken) // caller sees plaintext
	assert.Equal(t, int64(1), inst.ID)
	assert.True(t, inst.IsActive)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReturnsAlreadyExistsOnUniqueViolation(t *testing.T) {
	s, mock, closeDB := newTestStore(t)
	defer closeDB()

	mock.ExpectQuery(`INSERT INTO installations`).
		WillReturnError(uniqueViolationErr{})

	_, err := s.Create(context.Background(), bus.Installation{PluginName: "slack", ChannelID: "C1", AccessToken: "t"})
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

type uniqueViolationErr struct{}

func (uniqueViolationErr) Error() string   { return "duplicate key value violates unique constraint" }
func (uniqueViolationErr) SQLState() string { return "23505" }

func TestGetReturnsNilWhenAbsent(t *testing.T) {
	s, mock, closeDB := newTestStore(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT .* FROM installations WHERE plugin_name = \$1 AND channel_id = \$2`).
		WithArgs("slack", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "plugin_name", "channel_id", "access_token", "refresh_token", "metadata", "installed_at", "last_active", "is_active"}))

	inst, err := s.Get(context.Background(), "slack", "missing")
	require.NoError(t, err)
	assert.Nil(t, inst)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIsHardDelete(t *testing.T) {
	s, mock, closeDB := newTestStore(t)
	defer closeDB()

	mock.ExpectExec(`DELETE FROM installations WHERE plugin_name = \$1 AND channel_id = \$2`).
		WithArgs("slack", "C1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := s.Delete(context.Background(), "slack", "C1")
	require.NoError(t, err)
	assert.True(t, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
