package karst

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/karstdb/karst/dialect"
	sqlx "github.com/karstdb/karst/dialect/sql"
	"github.com/karstdb/karst/query"
	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/txn"
)

func sqliteDriver(t *testing.T) *sqlx.Driver {
	t.Helper()
	drv, err := sqlx.Open(dialect.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })

	// One connection keeps the in-memory database alive across the pool.
	drv.DB().SetMaxOpenConns(1)

	ddl := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT
		)`,
		`CREATE TABLE posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			title TEXT,
			published INTEGER
		)`,
		`CREATE TABLE tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT
		)`,
		`CREATE TABLE post_tags (
			post_id INTEGER,
			tag_id INTEGER,
			PRIMARY KEY (post_id, tag_id)
		)`,
		`CREATE TABLE accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT,
			balance INTEGER,
			version INTEGER
		)`,
	}
	for _, stmt := range ddl {
		require.NoError(t, drv.Exec(context.Background(), stmt, []any{}, nil))
	}
	return drv
}

func sqliteClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(testRegistry(t), sqliteDriver(t))
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sqliteClient(t)

	alice, err := c.Create(ctx, nil, "User", schema.Values{"name": "alice", "email": "a@x"})
	require.NoError(t, err)
	require.NotNil(t, alice.ID())

	_, err = c.Create(ctx, nil, "Post", schema.Values{
		"user_id": alice.ID(), "title": "first", "published": true,
	})
	require.NoError(t, err)
	_, err = c.Create(ctx, nil, "Post", schema.Values{
		"user_id": alice.ID(), "title": "second", "published": false,
	})
	require.NoError(t, err)

	users, err := c.Find(ctx, nil, &query.Descriptor{
		Model:    "User",
		Where:    query.EQ("name", "alice"),
		Includes: []query.Include{{Alias: "posts", Order: []query.Order{query.Asc("title")}}},
	})
	require.NoError(t, err)
	require.Len(t, users, 1)

	posts := users[0].Many("posts")
	require.Len(t, posts, 2)
	assert.Equal(t, "first", posts[0].Get("title"))
	assert.Equal(t, true, posts[0].Get("published"))
	assert.Equal(t, "second", posts[1].Get("title"))
}

func TestSQLiteJoinedAuthor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sqliteClient(t)

	bob, err := c.Create(ctx, nil, "User", schema.Values{"name": "bob", "email": "b@x"})
	require.NoError(t, err)
	_, err = c.Create(ctx, nil, "Post", schema.Values{
		"user_id": bob.ID(), "title": "joined", "published": true,
	})
	require.NoError(t, err)

	post, err := c.Only(ctx, nil, &query.Descriptor{
		Model:    "Post",
		Where:    query.EQ("title", "joined"),
		Includes: []query.Include{{Alias: "author"}},
	})
	require.NoError(t, err)
	author := post.One("author")
	require.NotNil(t, author)
	assert.Equal(t, "bob", author.Get("name"))
}

func TestSQLiteManyToMany(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sqliteClient(t)

	post, err := c.Create(ctx, nil, "Post", schema.Values{"title": "tagged", "published": true})
	require.NoError(t, err)
	tag, err := c.Create(ctx, nil, "Tag", schema.Values{"label": "go"})
	require.NoError(t, err)
	err = c.drv.Exec(ctx, "INSERT INTO post_tags (post_id, tag_id) VALUES (?, ?)",
		[]any{post.ID(), tag.ID()}, nil)
	require.NoError(t, err)

	got, err := c.Only(ctx, nil, &query.Descriptor{
		Model:    "Post",
		Where:    query.EQ("title", "tagged"),
		Includes: []query.Include{{Alias: "tags"}},
	})
	require.NoError(t, err)
	require.Len(t, got.Many("tags"), 1)
	assert.Equal(t, "go", got.Many("tags")[0].Get("label"))
}

// A savepoint rollback discards only its own work: the enclosing
// transaction stays active and later writes under it commit.
func TestSQLiteNestedRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sqliteClient(t)

	root, err := c.Txn().Begin(ctx, nil)
	require.NoError(t, err)

	nested, err := root.Begin(ctx)
	require.NoError(t, err)
	_, err = c.Create(ctx, nested, "User", schema.Values{"name": "discarded", "email": "d@x"})
	require.NoError(t, err)
	require.NoError(t, nested.Rollback())

	kept, err := c.Create(ctx, root, "User", schema.Values{"name": "kept", "email": "k@x"})
	require.NoError(t, err)
	require.NoError(t, root.Commit())
	assert.True(t, kept.Persisted())

	_, err = c.Only(ctx, nil, &query.Descriptor{Model: "User", Where: query.EQ("name", "discarded")})
	assert.True(t, IsNotFound(err))

	got, err := c.Only(ctx, nil, &query.Descriptor{Model: "User", Where: query.EQ("name", "kept")})
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Get("name"))
}

// Two readers load version 1; the first writer commits version 2 and the
// second writer's guarded update matches no rows.
func TestSQLiteOptimisticLocking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sqliteClient(t)

	created, err := c.Create(ctx, nil, "Account", schema.Values{"owner": "alice", "balance": int64(100)})
	require.NoError(t, err)
	v, _ := created.Version()
	require.Equal(t, int64(1), v)

	readerA, err := c.Get(ctx, nil, "Account", created.ID())
	require.NoError(t, err)
	readerB, err := c.Get(ctx, nil, "Account", created.ID())
	require.NoError(t, err)

	readerA.Set("balance", int64(150))
	require.NoError(t, c.Update(ctx, nil, readerA))
	v, _ = readerA.Version()
	assert.Equal(t, int64(2), v)

	readerB.Set("balance", int64(50))
	err = c.Update(ctx, nil, readerB)
	require.Error(t, err)
	assert.True(t, IsStaleObject(err))

	// The stored row kept writer A's result.
	current, err := c.Get(ctx, nil, "Account", created.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(150), current.Get("balance"))
	v, _ = current.Version()
	assert.Equal(t, int64(2), v)
}

// A repeated update of one instance inside one open transaction guards
// the second UPDATE on the version the first one wrote, so a writer
// never conflicts with itself.
func TestSQLiteRepeatedUpdateInTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sqliteClient(t)

	acct, err := c.Create(ctx, nil, "Account", schema.Values{"owner": "alice", "balance": int64(100)})
	require.NoError(t, err)

	err = c.Txn().WithTx(ctx, nil, func(tx *txn.Tx) error {
		acct.Set("balance", int64(150))
		if err := c.Update(ctx, tx, acct); err != nil {
			return err
		}
		acct.Set("balance", int64(175))
		return c.Update(ctx, tx, acct)
	})
	require.NoError(t, err)

	v, _ := acct.Version()
	assert.Equal(t, int64(3), v)

	current, err := c.Get(ctx, nil, "Account", acct.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(175), current.Get("balance"))
	v, _ = current.Version()
	assert.Equal(t, int64(3), v)
}

// The whole persist and load path runs unchanged over a metered driver,
// and the counters reflect the statements it issued.
func TestSQLiteStatsDriver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := sqlx.NewStatsDriver(sqliteDriver(t))
	c := NewClient(testRegistry(t), drv)

	user, err := c.Create(ctx, nil, "User", schema.Values{"name": "carol", "email": "c@x"})
	require.NoError(t, err)
	_, err = c.Create(ctx, nil, "Post", schema.Values{
		"user_id": user.ID(), "title": "metered", "published": true,
	})
	require.NoError(t, err)

	users, err := c.Find(ctx, nil, &query.Descriptor{
		Model:    "User",
		Where:    query.EQ("name", "carol"),
		Includes: []query.Include{{Alias: "posts"}},
	})
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Len(t, users[0].Many("posts"), 1)

	// Two inserts inside transactions, then the root query plus the
	// batched posts query.
	snap := drv.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Execs)
	assert.Equal(t, int64(2), snap.Queries)
	assert.Zero(t, snap.Errors)
	assert.Greater(t, snap.Elapsed, time.Duration(0))
}

func TestSQLiteDeleteStaleGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sqliteClient(t)

	created, err := c.Create(ctx, nil, "Account", schema.Values{"owner": "gone", "balance": int64(1)})
	require.NoError(t, err)

	stale, err := c.Get(ctx, nil, "Account", created.ID())
	require.NoError(t, err)

	fresh, err := c.Get(ctx, nil, "Account", created.ID())
	require.NoError(t, err)
	fresh.Set("balance", int64(2))
	require.NoError(t, c.Update(ctx, nil, fresh))

	err = c.Delete(ctx, nil, stale)
	assert.True(t, IsStaleObject(err))

	require.NoError(t, c.Delete(ctx, nil, fresh))
	assert.False(t, fresh.Persisted())
	_, err = c.Get(ctx, nil, "Account", created.ID())
	assert.True(t, IsNotFound(err))
}
