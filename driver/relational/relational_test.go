package relational

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandroluk/golem/v2/compiler/sqlgen"
	"github.com/leandroluk/golem/v2/core"
)

func newMockConnection(t *testing.T, dialect sqlgen.Dialect) (*Connection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB("main", db, dialect, Options{}), mock
}

func intPtr(n int) *int {
	return &n
}

func TestConnection_Execute(t *testing.T) {
	users := core.Source{Name: "users", Key: "id"}
	tests := []struct {
		name      string
		dialect   sqlgen.Dialect
		query     *core.Query
		setupMock func(mock sqlmock.Sqlmock)
		want      *core.Result
		errMsg    string
	}{
		{
			name:    "select returns rows",
			dialect: sqlgen.SQLite,
			query:   &core.Query{Source: users, Operation: core.OperationSelect, Filter: (&core.Condition{FieldName: "id"}).Eq(7), Limit: intPtr(1)},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT * FROM "users" WHERE "id" = ? LIMIT 1`).
					WithArgs(7).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(7), "Ann"))
			},
			want: &core.Result{Rows: []map[string]any{{"id": int64(7), "name": "Ann"}}},
		},
		{
			name:    "select without rows",
			dialect: sqlgen.SQLite,
			query:   &core.Query{Source: users, Operation: core.OperationSelect},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT * FROM "users"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			want: &core.Result{Rows: []map[string]any{}},
		},
		{
			name:    "count",
			dialect: sqlgen.MySQL,
			query:   &core.Query{Source: users, Operation: core.OperationCount},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COUNT(*) AS `count` FROM `users`").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
			},
			want: &core.Result{Count: 3},
		},
		{
			name:    "insert with returning",
			dialect: sqlgen.SQLite,
			query:   &core.Query{Source: users, Operation: core.OperationInsert, Payload: []core.Attributes{{"name": "a"}, {"name": "b"}}},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO "users" ("name") VALUES (?), (?) RETURNING "id"`).
					WithArgs("a", "b").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
			},
			want: &core.Result{Count: 2, IDs: []any{int64(1), int64(2)}},
		},
		{
			name:    "insert derives ids from last insert id",
			dialect: sqlgen.MySQL,
			query:   &core.Query{Source: users, Operation: core.OperationInsert, Payload: []core.Attributes{{"name": "a"}, {"name": "b"}}},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO `users` (`name`) VALUES (?), (?)").
					WithArgs("a", "b").
					WillReturnResult(sqlmock.NewResult(10, 2))
			},
			want: &core.Result{Count: 2, IDs: []any{int64(10), int64(11)}},
		},
		{
			name:    "update reports affected rows",
			dialect: sqlgen.MySQL,
			query:   &core.Query{Source: users, Operation: core.OperationUpdate, Changes: core.Attributes{"active": false}, Filter: (&core.Condition{FieldName: "age"}).Lt(18)},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE `users` SET `active` = ? WHERE `age` < ?").
					WithArgs(false, 18).
					WillReturnResult(sqlmock.NewResult(0, 4))
			},
			want: &core.Result{Count: 4},
		},
		{
			name:    "delete",
			dialect: sqlgen.SQLite,
			query:   &core.Query{Source: users, Operation: core.OperationDelete, Filter: (&core.Condition{FieldName: "id"}).In(1, 2)},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM "users" WHERE "id" IN (?, ?)`).
					WithArgs(1, 2).
					WillReturnResult(sqlmock.NewResult(0, 2))
			},
			want: &core.Result{Count: 2},
		},
		{
			name:    "query error",
			dialect: sqlgen.SQLite,
			query:   &core.Query{Source: users, Operation: core.OperationSelect},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT * FROM "users"`).WillReturnError(assert.AnError)
			},
			errMsg: "failed to execute query",
		},
		{
			name:    "exec error",
			dialect: sqlgen.SQLite,
			query:   &core.Query{Source: users, Operation: core.OperationDelete, Filter: (&core.Condition{FieldName: "id"}).Eq(1)},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM "users" WHERE "id" = ?`).WithArgs(1).WillReturnError(assert.AnError)
			},
			errMsg: "failed to execute SQL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, mock := newMockConnection(t, tt.dialect)
			tt.setupMock(mock)

			compiled, err := conn.Compile(tt.query)
			require.NoError(t, err)
			result, err := conn.Execute(context.Background(), compiled)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, assert.AnError)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, result)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestConnection_ExecuteRejectsForeignCompiled(t *testing.T) {
	conn, _ := newMockConnection(t, sqlgen.SQLite)
	_, err := conn.Execute(context.Background(), fakeCompiled{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

type fakeCompiled struct{}

func (fakeCompiled) Operation() core.Operation { return core.OperationSelect }

func TestConnection_ExecuteRequiresConnect(t *testing.T) {
	conn, err := New("main", "sqlite://:memory:", Options{})
	require.NoError(t, err)
	assert.False(t, conn.IsConnected())
	assert.Equal(t, core.Relational, conn.Driver())
	assert.Equal(t, "sqlite", conn.Dialect().Name())

	compiled, err := conn.Compile(&core.Query{Source: core.Source{Name: "users"}, Operation: core.OperationSelect})
	require.NoError(t, err)
	_, err = conn.Execute(context.Background(), compiled)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "connection=main")
}

func TestConnection_Close(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()
	conn := NewWithDB("main", db, sqlgen.Postgres, Options{})
	assert.True(t, conn.IsConnected())

	require.NoError(t, conn.Close(context.Background()))
	assert.False(t, conn.IsConnected())
	assert.NoError(t, mock.ExpectationsWereMet())

	// closing twice is harmless
	assert.NoError(t, conn.Close(context.Background()))
}

func TestEngine_OverMockedConnection(t *testing.T) {
	ctx := context.Background()
	conn, mock := newMockConnection(t, sqlgen.Postgres)
	registry, err := core.NewRegistry("", conn)
	require.NoError(t, err)
	engine := core.New(registry)
	users := core.Define("users",
		core.Attribute("name", core.Cast(core.AttrString)),
		core.Attribute("age", core.Cast(core.AttrNumber)),
	)

	mock.ExpectQuery(`SELECT * FROM "users" WHERE ("age" > $1 AND "name" LIKE $2) OR "name" = $3 ORDER BY "name" ASC LIMIT 1`).
		WithArgs(18, "A%", "root").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).AddRow(int64(1), "Ann", "31"))

	record, err := engine.Query(users).
		Where("age", ">", 18).
		Where("name", "like", "A%").
		OrWhere("name", "=", "root").
		OrderBy("name").
		First(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(31), record.Get("age"))
	assert.Equal(t, "main", record.Connection())

	mock.ExpectExec(`UPDATE "users" SET "age" = $1 WHERE "id" = $2`).
		WithArgs(int64(32), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	record.Set("age", 32)
	require.NoError(t, engine.Save(ctx, record))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaService_Mocked(t *testing.T) {
	ctx := context.Background()
	conn, mock := newMockConnection(t, sqlgen.Postgres)
	schema := conn.Schema()

	mock.ExpectQuery("SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	exists, err := schema.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectExec(`ALTER TABLE "users" ADD COLUMN "age" INTEGER`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "users" DROP COLUMN "legacy"`).WillReturnError(assert.AnError)
	err = schema.AlterTable(ctx, "users", []core.Change{
		{Kind: core.AddColumn, Column: core.Column{Name: "age", Type: core.ColumnInteger, Nullable: true}},
		{Kind: core.DropColumn, Name: "legacy"},
		{Kind: core.RenameColumn, Name: "a", NewName: "b"},
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "alter_table (model=users, connection=main)")

	assert.NoError(t, mock.ExpectationsWereMet(), "the failing change stops the sequence")
}
