package database

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range schema {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	assert.NoError(t, Migrate(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_StopsOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transaction_types").WillReturnError(errors.New("permission denied"))

	err = Migrate(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema statement 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConfig_Defaults(t *testing.T) {
	cfg := GetConfig()
	assert.Equal(t, "club_console", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpenConns)
}
