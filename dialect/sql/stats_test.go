package sql

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karstdb/karst/dialect"
)

func mockStatsDriver(t *testing.T, opts ...StatsOption) (*StatsDriver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStatsDriver(OpenDB(dialect.Postgres, db), opts...), mock
}

func TestStatsDriverCounts(t *testing.T) {
	t.Parallel()
	drv, mock := mockStatsDriver(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	var rows Rows
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, &rows))
	rows.Close()

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, drv.Exec(ctx, "UPDATE users SET name = $1", []any{"ada"}, nil))

	mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("boom"))
	require.Error(t, drv.Exec(ctx, "DELETE FROM users", []any{}, nil))

	snap := drv.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Queries)
	assert.Equal(t, int64(2), snap.Execs)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Greater(t, snap.Elapsed, time.Duration(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriverSlowHook(t *testing.T) {
	t.Parallel()
	var slow []string
	drv, mock := mockStatsDriver(t,
		WithSlowThreshold(0),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, drv.Exec(context.Background(), "INSERT INTO users DEFAULT VALUES", []any{}, nil))

	require.Len(t, slow, 1)
	assert.Equal(t, "INSERT INTO users DEFAULT VALUES", slow[0])
	assert.Equal(t, int64(1), drv.Metrics().Snapshot().Slow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriverReset(t *testing.T) {
	t.Parallel()
	drv, mock := mockStatsDriver(t)
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, drv.Exec(context.Background(), "UPDATE t SET c = 1", []any{}, nil))

	drv.Metrics().Reset()
	snap := drv.Metrics().Snapshot()
	assert.Zero(t, snap.Execs)
	assert.Zero(t, snap.Elapsed)
}

func TestStatsTx(t *testing.T) {
	t.Parallel()
	drv, mock := mockStatsDriver(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO t DEFAULT VALUES", []any{}, nil))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(1), drv.Metrics().Snapshot().Execs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebugDriverLogs(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var lines []string
	drv := NewDebugDriver(OpenDB(dialect.Postgres, db), func(_ context.Context, v ...any) {
		for _, line := range v {
			lines = append(lines, line.(string))
		}
	})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "UPDATE t SET c = $1", []any{1}, nil))
	require.NoError(t, tx.Rollback())

	require.Len(t, lines, 3)
	assert.Equal(t, "driver.Tx: begin", lines[0])
	assert.Contains(t, lines[1], "UPDATE t SET c = $1")
	assert.Equal(t, "Tx.Rollback", lines[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}
