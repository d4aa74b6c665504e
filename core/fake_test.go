package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCompiled carries the IR through Execute untouched.
type fakeCompiled struct {
	query *Query
}

func (f *fakeCompiled) Operation() Operation { return f.query.Operation }

// fakeConnection records every executed query and answers through respond.
type fakeConnection struct {
	name    string
	kind    DriverKind
	respond func(query *Query) (*Result, error)

	mutex     sync.Mutex
	queryList []*Query
	connected bool
	closed    bool
}

var _ Connection = (*fakeConnection)(nil)

func newFakeConnection(name string) *fakeConnection {
	return &fakeConnection{name: name, kind: Relational}
}

func (f *fakeConnection) Name() string       { return f.name }
func (f *fakeConnection) Driver() DriverKind { return f.kind }

func (f *fakeConnection) Connect(context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.connected = true
	return nil
}

func (f *fakeConnection) IsConnected() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.connected
}

func (f *fakeConnection) Compile(query *Query) (Compiled, error) {
	return &fakeCompiled{query: query}, nil
}

func (f *fakeConnection) Execute(_ context.Context, compiled Compiled) (*Result, error) {
	query := compiled.(*fakeCompiled).query
	f.mutex.Lock()
	f.queryList = append(f.queryList, query)
	respond := f.respond
	f.mutex.Unlock()
	if respond == nil {
		return &Result{}, nil
	}
	return respond(query)
}

func (f *fakeConnection) Schema() SchemaService { return nil }

func (f *fakeConnection) Close(context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConnection) queries() []*Query {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]*Query(nil), f.queryList...)
}

func (f *fakeConnection) lastQuery(t *testing.T) *Query {
	t.Helper()
	queryList := f.queries()
	require.NotEmpty(t, queryList, "no query executed")
	return queryList[len(queryList)-1]
}

func newTestEngine(t *testing.T, connectionList ...Connection) *Engine {
	t.Helper()
	registry, err := NewRegistry("", connectionList...)
	require.NoError(t, err)
	return New(registry)
}

// rowsByField answers selects with the rows whose field equals the
// filter's value; only single equality or AND-of-equality filters are
// understood.
func rowsByField(rowList []map[string]any) func(*Query) (*Result, error) {
	return func(query *Query) (*Result, error) {
		if query.Operation == OperationCount {
			return &Result{Count: int64(len(filterRows(rowList, query.Filter)))}, nil
		}
		return &Result{Rows: filterRows(rowList, query.Filter)}, nil
	}
}

func filterRows(rowList []map[string]any, filter *Condition) []map[string]any {
	out := []map[string]any{}
	for _, row := range rowList {
		if matchRow(row, filter) {
			out = append(out, row)
		}
	}
	return out
}

func matchRow(row map[string]any, cond *Condition) bool {
	if cond == nil {
		return true
	}
	if cond.IsGroup() {
		for _, child := range cond.Children {
			if !matchRow(row, child) {
				return false
			}
		}
		return true
	}
	return row[cond.FieldName] == cond.Value
}
