package sqlx_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "rankboard/adapters/sqlx"
	"rankboard/core"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_ListLeaderboards(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, name, description, created_at FROM leaderboards ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at"}).
			AddRow("lb2", "Newer", nil, now).
			AddRow("lb1", "Older", "first season", now.Add(-time.Hour)))

	boards, err := store.ListLeaderboards(context.Background())
	require.NoError(t, err)
	require.Len(t, boards, 2)
	require.Equal(t, core.LeaderboardID("lb2"), boards[0].ID)
	require.Nil(t, boards[0].Description)
	require.NotNil(t, boards[1].Description)
	require.Equal(t, "first season", *boards[1].Description)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CreateLeaderboard(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO leaderboards`).
		WithArgs(sqlmock.AnyArg(), "Spring Cup", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	lb, err := store.CreateLeaderboard(context.Background(), "Spring Cup", nil)
	require.NoError(t, err)
	require.NotEmpty(t, lb.ID)
	require.Nil(t, lb.Description)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpdateLeaderboard_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE leaderboards SET name`).
		WithArgs("X", nil, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateLeaderboard(context.Background(), "missing", "X", nil)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ListEntries_RankedByWindow(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`RANK\(\) OVER \(PARTITION BY leaderboard_id ORDER BY score DESC\) AS entry_rank`).
		WithArgs("lb1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "leaderboard_id", "player_name", "score", "entry_rank"}).
			AddRow("e1", "lb1", "Ava", 300, 1).
			AddRow("e2", "lb1", "Beth", 300, 1).
			AddRow("e3", "lb1", "Cleo", 100, 3))

	entries, err := store.ListEntries(context.Background(), "lb1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(1), entries[0].DisplayRank())
	require.Equal(t, int64(1), entries[1].DisplayRank())
	require.Equal(t, int64(3), entries[2].DisplayRank())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ListEntries_MySQLRankAliasNotReserved(t *testing.T) {
	// MySQL 8 reserves RANK, so the window alias and ORDER BY must use
	// entry_rank on that driver.
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewWithDB(libsqlx.NewDb(db, "mysql"), storage.DriverMySQL)

	mock.ExpectQuery(`AS entry_rank\s+FROM entries WHERE leaderboard_id = \? ORDER BY entry_rank ASC`).
		WithArgs("lb1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "leaderboard_id", "player_name", "score", "entry_rank"}).
			AddRow("e1", "lb1", "Ava", 300, 1))

	entries, err := store.ListEntries(context.Background(), "lb1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].DisplayRank())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CreateEntry(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM leaderboards`).
		WithArgs("lb1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs(sqlmock.AnyArg(), "lb1", "Ava", int64(300)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "leaderboard_id", "player_name", "score", "entry_rank"}).
			AddRow("e1", "lb1", "Ava", 300, 1))

	e, err := store.CreateEntry(context.Background(), "lb1", "Ava", 300)
	require.NoError(t, err)
	require.Equal(t, int64(1), e.DisplayRank())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CreateEntry_UnknownBoard(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM leaderboards`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.CreateEntry(context.Background(), "missing", "Ava", 1)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DeleteLeaderboard_Cascades(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, leaderboard_id, player_name, score FROM entries WHERE leaderboard_id`).
		WithArgs("lb1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "leaderboard_id", "player_name", "score"}).
			AddRow("e1", "lb1", "Ava", 300))
	mock.ExpectExec(`DELETE FROM entries WHERE leaderboard_id`).
		WithArgs("lb1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM leaderboards WHERE id`).
		WithArgs("lb1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteLeaderboard(context.Background(), "lb1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_HasRole(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM user_roles`).
		WithArgs("u1", core.RoleAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasRole(context.Background(), "u1", core.RoleAdmin)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
