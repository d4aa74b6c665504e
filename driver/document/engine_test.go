package document_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/leandroluk/golem/v2/core"
	"github.com/leandroluk/golem/v2/driver/document"
	"github.com/leandroluk/golem/v2/driver/relational"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newEngine(t *testing.T) *core.Engine {
	t.Helper()
	registry, err := core.NewRegistry("docs", document.NewMemory("docs", document.Options{}))
	require.NoError(t, err)
	engine := core.New(registry, core.WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	return engine
}

func usersModel() *core.Model {
	return core.Define("users",
		core.Attribute("name", core.Cast(core.AttrString)),
		core.Attribute("email", core.Cast(core.AttrString), core.Guarded()),
		core.Attribute("age", core.Cast(core.AttrNumber)),
		core.Attribute("settings", core.Cast(core.AttrJSON)),
		core.WithTimestamps(),
	)
}

func TestEngine_DocumentCRUD(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	users := usersModel()

	inserted, err := engine.Query(users).Insert(ctx,
		core.Attributes{"name": "Jane", "email": "jane@example.com", "age": 30, "settings": map[string]any{"theme": "dark"}},
		core.Attributes{"name": "John", "email": "john@example.com", "age": 40, "settings": nil},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted.Count)
	require.Len(t, inserted.IDs, 2)
	janeID, ok := inserted.IDs[0].(primitive.ObjectID)
	require.True(t, ok, "generated keys are object ids, got %T", inserted.IDs[0])

	jane, err := engine.Query(users).Where("name", "=", "Jane").First(ctx)
	require.NoError(t, err)
	require.NotNil(t, jane)
	assert.Equal(t, janeID, jane.Key())
	assert.Equal(t, int64(30), jane.Get("age"))
	assert.Equal(t, map[string]any{"theme": "dark"}, jane.Get("settings"))
	createdAt, ok := jane.Get("created_at").(time.Time)
	require.True(t, ok, "created_at hydrates as time, got %T", jane.Get("created_at"))
	assert.True(t, fixedNow.Equal(createdAt))
	assert.NotContains(t, jane.Public(), "email")
	assert.Equal(t, "docs", jane.Connection())

	byHex, err := engine.Query(users).Find(ctx, janeID.Hex())
	require.NoError(t, err)
	require.NotNil(t, byHex, "hex keys are matched as object ids")
	assert.Equal(t, "Jane", byHex.Get("name"))

	updated, err := engine.Query(users).Where("name", "=", "John").Update(ctx, core.Attributes{"age": 41})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Count)

	count, err := engine.Query(users).Where("age", ">", 35).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, err = engine.Query(users).Where("age", ">", 99).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	exists, err := engine.Query(users).Where("name", "ilike", "JO%").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = engine.Query(users).Update(ctx, core.Attributes{"age": 1})
	assert.ErrorIs(t, err, core.ErrUnboundedMutation)

	deleted, err := engine.Query(users).Where("id", "=", janeID).Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted.Count)

	_, err = engine.Query(users).FindOrFail(ctx, janeID)
	assert.True(t, core.IsNotFound(err))
}

func TestEngine_DocumentSave(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	users := usersModel()

	record := engine.New(users, core.Attributes{"name": "Ann", "age": 22})
	require.NoError(t, engine.Save(ctx, record))
	require.NotNil(t, record.Key())
	assert.True(t, record.Exists())
	assert.Empty(t, record.Dirty())

	record.Set("age", 23)
	require.NoError(t, engine.Save(ctx, record))

	reloaded, err := engine.Query(users).FindOrFail(ctx, record.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(23), reloaded.Get("age"))
	assert.Equal(t, "Ann", reloaded.Get("name"))
}

func TestEngine_DocumentSchemaValidation(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	conn, err := engine.Registry().Resolve("docs")
	require.NoError(t, err)
	require.NoError(t, conn.Schema().CreateTable(ctx, "accounts", []core.Column{
		{Name: "id", Type: core.ColumnIncrements, PrimaryKey: true},
		{Name: "email", Type: core.ColumnString},
	}))
	accounts := core.Define("accounts", core.Attribute("email"), core.Attribute("nick"))

	_, err = engine.Query(accounts).Insert(ctx, core.Attributes{"nick": "ann"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field")
}

// items seeds the same rows into both backends.
func items() (*core.Model, []core.Attributes) {
	model := core.Define("items",
		core.Attribute("n", core.Cast(core.AttrNumber)),
		core.Attribute("label", core.Cast(core.AttrString)),
		core.Attribute("note", core.Cast(core.AttrString)),
	)
	rowList := make([]core.Attributes, 0, 20)
	for n := 1; n <= 20; n++ {
		var note any
		if n%2 == 0 {
			note = "even"
		}
		rowList = append(rowList, core.Attributes{"n": n, "label": fmt.Sprintf("Item-%02d", n), "note": note})
	}
	return model, rowList
}

func TestEngine_BackendsAgree(t *testing.T) {
	ctx := context.Background()
	sqlConn, err := relational.New("sql", "sqlite://:memory:", relational.Options{})
	require.NoError(t, err)
	require.NoError(t, sqlConn.Connect(ctx))
	registry, err := core.NewRegistry("sql", sqlConn, document.NewMemory("docs", document.Options{}))
	require.NoError(t, err)
	engine := core.New(registry)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	require.NoError(t, sqlConn.Schema().CreateTable(ctx, "items", []core.Column{
		{Name: "id", Type: core.ColumnIncrements, PrimaryKey: true},
		{Name: "n", Type: core.ColumnInteger},
		{Name: "label", Type: core.ColumnString},
		{Name: "note", Type: core.ColumnString, Nullable: true},
	}))
	model, rowList := items()
	for _, name := range []string{"sql", "docs"} {
		_, err := engine.Query(model, name).Insert(ctx, rowList...)
		require.NoError(t, err)
	}

	n := func(name string) *core.Condition { return &core.Condition{FieldName: name} }
	tests := []struct {
		name  string
		build func(b *core.Builder) *core.Builder
		want  []int64
	}{
		{
			name:  "page",
			build: func(b *core.Builder) *core.Builder { return b.OrderBy("n").Offset(5).Limit(5) },
			want:  []int64{6, 7, 8, 9, 10},
		},
		{
			name:  "offset from the end",
			build: func(b *core.Builder) *core.Builder { return b.OrderBy("n", "desc").Offset(17) },
			want:  []int64{3, 2, 1},
		},
		{
			name:  "range",
			build: func(b *core.Builder) *core.Builder { return b.Where("n", ">", 5).Where("n", "<=", 8).OrderBy("n") },
			want:  []int64{6, 7, 8},
		},
		{
			name: "or group",
			build: func(b *core.Builder) *core.Builder {
				return b.WhereIn("n", []int{1, 2, 3}).
					OrWhereGroup(func(g *core.Builder) { g.Where("n", ">=", 18).Where("label", "like", "Item-%") }).
					OrderBy("n")
			},
			want: []int64{1, 2, 3, 18, 19, 20},
		},
		{
			name:  "not in",
			build: func(b *core.Builder) *core.Builder { return b.WhereNotIn("n", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}).OrderBy("n", "desc") },
			want:  []int64{20, 19, 18, 17, 16},
		},
		{
			name:  "null",
			build: func(b *core.Builder) *core.Builder { return b.WhereNull("note").Where("n", "<", 8).OrderBy("n") },
			want:  []int64{1, 3, 5, 7},
		},
		{
			name:  "not null",
			build: func(b *core.Builder) *core.Builder { return b.WhereNotNull("note").Where("n", "<", 8).OrderBy("n") },
			want:  []int64{2, 4, 6},
		},
		{
			name:  "single character wildcard",
			build: func(b *core.Builder) *core.Builder { return b.Where("label", "like", "Item-0_").Where("n", ">", 6).OrderBy("n") },
			want:  []int64{7, 8, 9},
		},
		{
			name:  "negated group",
			build: func(b *core.Builder) *core.Builder { return b.WhereCondition(n("n").Lt(5).Or(n("n").Gt(8)).Not()).OrderBy("n") },
			want:  []int64{5, 6, 7, 8},
		},
		{
			name:  "not equal leaves out null",
			build: func(b *core.Builder) *core.Builder { return b.Where("note", "!=", "even").OrWhere("n", "=", 1).OrderBy("n") },
			want:  []int64{1},
		},
		{
			name:  "not in leaves out null",
			build: func(b *core.Builder) *core.Builder { return b.WhereNotIn("note", []string{"even"}).OrWhere("n", "=", 2).OrderBy("n") },
			want:  []int64{2},
		},
		{
			name:  "not like leaves out null",
			build: func(b *core.Builder) *core.Builder { return b.Where("note", "not like", "ev%").OrWhere("n", "=", 3).OrderBy("n") },
			want:  []int64{3},
		},
		{
			name:  "not equal on a column without nulls",
			build: func(b *core.Builder) *core.Builder { return b.Where("label", "!=", "Item-03").Where("n", "<", 6).OrderBy("n") },
			want:  []int64{1, 2, 4, 5},
		},
		{
			name: "not over several children",
			build: func(b *core.Builder) *core.Builder {
				return b.WhereCondition(&core.Condition{Operator: &core.OpNot, Children: []*core.Condition{n("n").Lt(5), n("n").Gt(3)}}).
					Where("n", "<=", 6).
					OrderBy("n")
			},
			want: []int64{1, 2, 3, 5, 6},
		},
		{
			name:  "zero limit",
			build: func(b *core.Builder) *core.Builder { return b.OrderBy("n").Limit(0) },
			want:  []int64{},
		},
		{
			name:  "map equality",
			build: func(b *core.Builder) *core.Builder { return b.WhereMap(map[string]any{"note": "even", "n": 12}) },
			want:  []int64{12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, conn := range []string{"sql", "docs"} {
				recordList, err := tt.build(engine.Query(model, conn)).Get(ctx)
				require.NoError(t, err, conn)
				got := make([]int64, 0, len(recordList))
				for _, record := range recordList {
					got = append(got, record.Get("n").(int64))
				}
				assert.Equal(t, tt.want, got, conn)

				count, err := tt.build(engine.Query(model, conn)).Count(ctx)
				require.NoError(t, err, conn)
				if tt.name == "page" || tt.name == "offset from the end" || tt.name == "zero limit" {
					assert.Equal(t, int64(20), count, "%s: count ignores pagination", conn)
				} else {
					assert.Equal(t, int64(len(tt.want)), count, conn)
				}
			}
		})
	}
}
