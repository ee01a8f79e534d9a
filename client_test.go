package karst

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlx "github.com/karstdb/karst/dialect/sql"
	"github.com/karstdb/karst/hook"
	"github.com/karstdb/karst/query"
	"github.com/karstdb/karst/schema"
)

func mockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	drv, mock := mockDriver(t)
	return NewClient(testRegistry(t), drv), mock
}

func TestClientCreate(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users"`).
		WithArgs("alice", "a@x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	in, err := c.Create(context.Background(), nil, "User", schema.Values{"name": "alice", "email": "a@x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), in.ID())
	assert.True(t, in.Persisted(), "snapshot promoted at commit")
	assert.False(t, in.Changed("name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientCreateValidationNeverReachesDriver(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := c.Create(context.Background(), nil, "User", schema.Values{"name": "", "email": "a@x"})
	require.Error(t, err)
	assert.True(t, hook.IsValidationError(err))

	var agg *hook.AggregateValidationError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, "name", agg.Entries[0].Field)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientCreateHookAbort(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	afterRan := false
	c.Hooks("User").AddHook(hook.BeforeCreate, "first", func(context.Context, hook.Subject) error {
		return nil
	})
	c.Hooks("User").AddHook(hook.BeforeCreate, "second", func(context.Context, hook.Subject) error {
		return boom
	})
	c.Hooks("User").AddHook(hook.AfterCreate, "after", func(context.Context, hook.Subject) error {
		afterRan = true
		return nil
	})

	_, err := c.Create(context.Background(), nil, "User", schema.Values{"name": "alice", "email": "a@x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "the surfaced error is the hook's own")
	assert.False(t, afterRan)

	// No INSERT was issued; only begin and rollback happened.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientCreateClassifiesConstraints(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users"`).WillReturnError(&pq.Error{
		Code:       "23505",
		Constraint: "users_email_key",
		Message:    `duplicate key value violates unique constraint "users_email_key"`,
	})
	mock.ExpectRollback()

	_, err := c.Create(context.Background(), nil, "User", schema.Values{"name": "alice", "email": "a@x"})
	require.Error(t, err)
	assert.True(t, sqlx.IsUniqueConstraintError(err))

	var uce *sqlx.UniqueConstraintError
	require.ErrorAs(t, err, &uce)
	assert.Equal(t, "users_email_key", uce.Constraint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientUpdateStale(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).
		WithArgs(int64(150), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	acc := NewInstance(model(t, c.Registry(), "Account"), schema.Values{
		"id": int64(1), "owner": "alice", "balance": int64(100), "version": int64(1),
	})
	acc.syncOriginal()
	acc.Set("balance", int64(150))

	err := c.Update(context.Background(), nil, acc)
	require.Error(t, err)
	assert.True(t, IsStaleObject(err))

	var stale *StaleObjectError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "Account", stale.Model)
	assert.Equal(t, int64(1), stale.Version)

	// The failed update never promotes the snapshot.
	assert.Equal(t, int64(150), acc.Get("balance"))
	assert.True(t, acc.Changed("balance"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientUpdateBumpsVersionOnCommit(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).
		WithArgs(int64(150), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acc := NewInstance(model(t, c.Registry(), "Account"), schema.Values{
		"id": int64(1), "owner": "alice", "balance": int64(100), "version": int64(1),
	})
	acc.syncOriginal()
	acc.Set("balance", int64(150))

	require.NoError(t, c.Update(context.Background(), nil, acc))
	v, ok := acc.Version()
	require.True(t, ok)
	assert.Equal(t, int64(2), v)
	assert.False(t, acc.Changed("balance"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientUpdateTwiceInOneTx(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).
		WithArgs(int64(150), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "accounts"`).
		WithArgs(int64(175), int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acc := NewInstance(model(t, c.Registry(), "Account"), schema.Values{
		"id": int64(1), "owner": "alice", "balance": int64(100), "version": int64(1),
	})
	acc.syncOriginal()

	ctx := context.Background()
	tx, err := c.Txn().Begin(ctx, nil)
	require.NoError(t, err)

	acc.Set("balance", int64(150))
	require.NoError(t, c.Update(ctx, tx, acc))

	// The second write in the same open transaction guards on the version
	// the first one left behind, not on the pre-transaction snapshot.
	acc.Set("balance", int64(175))
	require.NoError(t, c.Update(ctx, tx, acc))

	require.NoError(t, tx.Commit())
	v, ok := acc.Version()
	require.True(t, ok)
	assert.Equal(t, int64(3), v)
	assert.False(t, acc.Changed("balance"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientUpdateGuardAfterRollback(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).
		WithArgs(int64(150), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).
		WithArgs(int64(150), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acc := NewInstance(model(t, c.Registry(), "Account"), schema.Values{
		"id": int64(1), "owner": "alice", "balance": int64(100), "version": int64(1),
	})
	acc.syncOriginal()
	acc.Set("balance", int64(150))

	ctx := context.Background()
	tx, err := c.Txn().Begin(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, c.Update(ctx, tx, acc))
	require.NoError(t, tx.Rollback())

	// The rolled-back write leaves no trace: the retry guards on the
	// snapshot version again.
	require.NoError(t, c.Update(ctx, nil, acc))
	v, ok := acc.Version()
	require.True(t, ok)
	assert.Equal(t, int64(2), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientManualTxNeverAutoRollsBack(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	acc := NewInstance(model(t, c.Registry(), "Account"), schema.Values{
		"id": int64(1), "owner": "alice", "balance": int64(100), "version": int64(1),
	})
	acc.syncOriginal()
	acc.Set("balance", int64(150))

	tx, err := c.Txn().Begin(context.Background(), nil)
	require.NoError(t, err)

	err = c.Update(context.Background(), tx, acc)
	assert.True(t, IsStaleObject(err))

	// The transaction is still the caller's to finish.
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientOnly(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	desc := &query.Descriptor{Model: "User", Where: query.EQ("email", "a@x")}

	mock.ExpectQuery(`SELECT (.+) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))
	_, err := c.Only(context.Background(), nil, desc)
	assert.True(t, IsNotFound(err))

	mock.ExpectQuery(`SELECT (.+) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).
			AddRow(1, "alice", "a@x").
			AddRow(2, "alias", "a@x"))
	_, err = c.Only(context.Background(), nil, desc)
	assert.True(t, IsNotSingular(err))
}

func TestClientPlanCache(t *testing.T) {
	t.Parallel()
	c, _ := mockClient(t)
	desc := &query.Descriptor{Model: "User", Where: query.EQ("name", "alice")}

	first, err := c.Plan(desc)
	require.NoError(t, err)
	second, err := c.Plan(desc)
	require.NoError(t, err)
	assert.Same(t, first, second, "identical descriptors share the cached plan")
	assert.Equal(t, 1, c.plans.Len())
}

func TestClientBulkCreateRollsBackTogether(t *testing.T) {
	t.Parallel()
	c, mock := mockClient(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectRollback()

	bulkEvents := 0
	c.Hooks("User").AddHook(hook.BeforeBulkCreate, "count", func(_ context.Context, s hook.Subject) error {
		b, ok := s.(*Batch)
		require.True(t, ok)
		assert.Len(t, b.Items(), 2)
		bulkEvents++
		return nil
	})

	// The second row fails validation; the first insert rolls back with it.
	_, err := c.CreateAll(context.Background(), nil, "User", []schema.Values{
		{"name": "alice", "email": "a@x"},
		{"name": "", "email": "b@x"},
	})
	require.Error(t, err)
	assert.True(t, hook.IsValidationError(err))
	assert.Equal(t, 1, bulkEvents)
	require.NoError(t, mock.ExpectationsWereMet())
}
