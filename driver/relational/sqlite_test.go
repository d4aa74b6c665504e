package relational

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandroluk/golem/v2/core"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func openSQLite(t *testing.T, uri string) (*Connection, *core.Engine) {
	t.Helper()
	ctx := context.Background()
	conn, err := New("main", uri, Options{SettleTimeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { _ = conn.Close(context.Background()) })

	registry, err := core.NewRegistry("main", conn)
	require.NoError(t, err)
	return conn, core.New(registry, core.WithClock(func() time.Time { return fixedNow }))
}

func createUsers(t *testing.T, conn *Connection) {
	t.Helper()
	err := conn.Schema().CreateTable(context.Background(), "users", []core.Column{
		{Name: "id", Type: core.ColumnIncrements, PrimaryKey: true},
		{Name: "name", Type: core.ColumnString},
		{Name: "email", Type: core.ColumnString, Nullable: true, Unique: true},
		{Name: "age", Type: core.ColumnInteger, Nullable: true},
		{Name: "active", Type: core.ColumnBoolean, Nullable: true},
		{Name: "settings", Type: core.ColumnJSON, Nullable: true},
		{Name: "created_at", Type: core.ColumnTimestamp, Nullable: true},
		{Name: "updated_at", Type: core.ColumnTimestamp, Nullable: true},
	})
	require.NoError(t, err)
}

func usersModel() *core.Model {
	return core.Define("users",
		core.Attribute("name", core.Cast(core.AttrString)),
		core.Attribute("email", core.Cast(core.AttrString), core.Guarded()),
		core.Attribute("age", core.Cast(core.AttrNumber)),
		core.Attribute("active", core.Cast(core.AttrBoolean)),
		core.Attribute("settings", core.Cast(core.AttrJSON)),
		core.WithTimestamps(),
	)
}

func TestSQLite_CRUD(t *testing.T) {
	ctx := context.Background()
	conn, engine := openSQLite(t, "sqlite://:memory:")
	createUsers(t, conn)
	users := usersModel()

	inserted, err := engine.Query(users).Insert(ctx,
		core.Attributes{"name": "Jane", "email": "jane@example.com", "age": 30, "active": true, "settings": map[string]any{"theme": "dark"}},
		core.Attributes{"name": "John", "email": "john@example.com", "age": 40, "active": false, "settings": nil},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted.Count)
	assert.Equal(t, []any{int64(1), int64(2)}, inserted.IDs)

	jane, err := engine.Query(users).Where("name", "=", "Jane").First(ctx)
	require.NoError(t, err)
	require.NotNil(t, jane)
	assert.Equal(t, int64(30), jane.Get("age"))
	assert.Equal(t, true, jane.Get("active"))
	assert.Equal(t, map[string]any{"theme": "dark"}, jane.Get("settings"))
	createdAt, ok := jane.Get("created_at").(time.Time)
	require.True(t, ok, "created_at hydrates as time, got %T", jane.Get("created_at"))
	assert.True(t, fixedNow.Equal(createdAt))
	assert.NotContains(t, jane.Public(), "email")

	john, err := engine.Query(users).Find(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, john)
	assert.Equal(t, false, john.Get("active"))
	assert.Nil(t, john.Get("settings"))

	updated, err := engine.Query(users).Where("name", "=", "John").Update(ctx, core.Attributes{"age": 41})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Count)

	count, err := engine.Query(users).Where("age", ">", 35).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = engine.Query(users).Delete(ctx)
	assert.ErrorIs(t, err, core.ErrUnboundedMutation)
	count, err = engine.Query(users).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "a rejected unbounded delete removes nothing")

	deleted, err := engine.Query(users).Where("id", "=", 1).Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted.Count)

	missing, err := engine.Query(users).Find(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, err = engine.Query(users).FindOrFail(ctx, 1)
	assert.True(t, core.IsNotFound(err))

	wiped, err := engine.Query(users).AllowUnbounded().Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wiped.Count)
}

func TestSQLite_FiltersAndPagination(t *testing.T) {
	ctx := context.Background()
	conn, engine := openSQLite(t, "sqlite://:memory:")
	require.NoError(t, conn.Schema().CreateTable(ctx, "items", []core.Column{
		{Name: "id", Type: core.ColumnIncrements, PrimaryKey: true},
		{Name: "n", Type: core.ColumnInteger},
		{Name: "label", Type: core.ColumnString},
	}))
	items := core.Define("items",
		core.Attribute("n", core.Cast(core.AttrNumber)),
		core.Attribute("label", core.Cast(core.AttrString)),
	)

	rowList := make([]core.Attributes, 0, 20)
	for n := 1; n <= 20; n++ {
		rowList = append(rowList, core.Attributes{"n": n, "label": fmt.Sprintf("Item-%02d", n)})
	}
	_, err := engine.Query(items).Insert(ctx, rowList...)
	require.NoError(t, err)

	numbers := func(recordList []*core.Record) []int64 {
		out := make([]int64, 0, len(recordList))
		for _, record := range recordList {
			out = append(out, record.Get("n").(int64))
		}
		return out
	}

	page, err := engine.Query(items).OrderBy("n").Offset(5).Limit(5).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, numbers(page))

	tail, err := engine.Query(items).OrderBy("n", "desc").Offset(17).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, numbers(tail))

	grouped, err := engine.Query(items).
		WhereIn("n", []int{1, 2, 3}).
		OrWhereGroup(func(b *core.Builder) {
			b.Where("n", ">=", 18).Where("label", "ilike", "item-%")
		}).
		OrderBy("n").
		Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 18, 19, 20}, numbers(grouped))

	raw, err := engine.Query(items).WhereRaw("n % ? = 0", 5).WhereNotIn("n", []int{10}).OrderBy("n").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 15, 20}, numbers(raw))

	projected, err := engine.Query(items).Select("label").Where("n", "=", 4).Get(ctx)
	require.NoError(t, err)
	require.Len(t, projected, 1)
	assert.Equal(t, core.Attributes{"label": "Item-04"}, projected[0].Attributes())

	seen := 0
	for record, err := range engine.Query(items).Where("n", "<=", 10).OrderBy("n").Iter(ctx) {
		require.NoError(t, err)
		seen++
		if record.Get("n").(int64) == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)

	exists, err := engine.Query(items).Where("label", "like", "Item-2%").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_SaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, engine := openSQLite(t, "sqlite://:memory:")
	createUsers(t, conn)
	users := usersModel()

	record := engine.New(users, core.Attributes{"name": "Ann", "age": 22})
	require.NoError(t, engine.Save(ctx, record))
	assert.Equal(t, int64(1), record.Key())

	record.Set("age", 23)
	require.NoError(t, engine.Save(ctx, record))

	reloaded, err := engine.Query(users).FindOrFail(ctx, record.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(23), reloaded.Get("age"))
	assert.Equal(t, "Ann", reloaded.Get("name"))

	type user struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
		Age  int    `db:"age"`
	}
	var out user
	require.NoError(t, reloaded.Decode(&out))
	assert.Equal(t, user{ID: 1, Name: "Ann", Age: 23}, out)
}

func TestSQLite_Relations(t *testing.T) {
	ctx := context.Background()
	conn, engine := openSQLite(t, "sqlite://:memory:")
	createUsers(t, conn)
	require.NoError(t, conn.Schema().CreateTable(ctx, "posts", []core.Column{
		{Name: "id", Type: core.ColumnIncrements, PrimaryKey: true},
		{Name: "title", Type: core.ColumnString},
		{Name: "author_id", Type: core.ColumnBigInteger, Nullable: true},
	}))

	users := usersModel()
	posts := core.Define("posts",
		core.Attribute("title", core.Cast(core.AttrString)),
		core.Attribute("author_id", core.Cast(core.AttrNumber)),
	)
	posts.AddRelation(core.BelongsTo("author", users, "author_id", ""))
	users.AddRelation(core.HasMany("posts", posts, "author_id", ""))

	created, err := engine.Query(users).Insert(ctx, core.Attributes{"name": "Ann"})
	require.NoError(t, err)
	_, err = engine.Query(posts).Insert(ctx,
		core.Attributes{"title": "one", "author_id": created.IDs[0]},
		core.Attributes{"title": "two", "author_id": created.IDs[0]},
		core.Attributes{"title": "anonymous", "author_id": nil},
	)
	require.NoError(t, err)

	postList, err := engine.Query(posts).OrderBy("id").Get(ctx)
	require.NoError(t, err)
	require.NoError(t, engine.Load(ctx, postList, "author"))

	author, _ := postList[0].Relation("author")
	assert.Equal(t, "Ann", author.(*core.Record).Get("name"))
	anonymous, _ := postList[2].Relation("author")
	assert.Nil(t, anonymous.(*core.Record))

	ann, err := engine.Query(users).First(ctx)
	require.NoError(t, err)
	related, err := engine.Related(ctx, ann, "posts")
	require.NoError(t, err)
	assert.Len(t, related, 2)
}

func TestSQLite_Schema(t *testing.T) {
	ctx := context.Background()
	conn, _ := openSQLite(t, "sqlite://"+filepath.Join(t.TempDir(), "golem.db"))
	schema := conn.Schema()

	exists, err := schema.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.False(t, exists)

	createUsers(t, conn)
	for range 2 {
		exists, err = schema.TableExists(ctx, "users")
		require.NoError(t, err)
		assert.True(t, exists)
	}

	err = schema.CreateTable(ctx, "users", []core.Column{{Name: "id", Type: core.ColumnIncrements}})
	assert.Error(t, err, "table already exists")

	require.NoError(t, schema.AlterTable(ctx, "users", []core.Change{
		{Kind: core.AddColumn, Column: core.Column{Name: "nickname", Type: core.ColumnString, Nullable: true}},
		{Kind: core.RenameColumn, Name: "nickname", NewName: "alias"},
	}))

	require.NoError(t, schema.DropTable(ctx, "users"))
	require.NoError(t, schema.DropTable(ctx, "users"), "dropping a missing table is not an error")
	exists, err = schema.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLite_ExecuteConcurrentWithClose(t *testing.T) {
	ctx := context.Background()
	conn, _ := openSQLite(t, "sqlite://:memory:")
	compiled, err := conn.Compile(&core.Query{Source: core.Source{Name: "sqlite_master"}, Operation: core.OperationCount})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := conn.Execute(ctx, compiled); err != nil {
					assert.ErrorIs(t, err, core.ErrInvalidArgument)
					return
				}
			}
		}()
	}
	require.NoError(t, conn.Close(ctx))
	wg.Wait()
	assert.False(t, conn.IsConnected())
	require.NoError(t, conn.Close(ctx))
}
