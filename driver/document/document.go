// Package document provides the document-store connection adapter for the
// golem ORM.
//
// A Connection executes the pipelines built by compiler/pipeline either on a
// mongo deployment (mongodb:// and mongodb+srv:// URIs) or on an in-process
// store (memory:// URIs) that evaluates the same pipelines.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandroluk/golem/v2/compiler/pipeline"
	"github.com/leandroluk/golem/v2/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const defaultConnectTimeout = 10 * time.Second

// Options configures a document connection.
type Options struct {
	// Database is required for mongo URIs.
	Database       string
	ConnectTimeout time.Duration
	SettleTimeout  time.Duration
	Logger         *slog.Logger
}

// Connection is a core.Connection backed by a document store.
type Connection struct {
	name     string
	uri      string
	memory   bool
	options  Options
	compiler *pipeline.Compiler
	settler  *core.Settler
	logger   *slog.Logger

	mutex     sync.Mutex
	store     store
	connected atomic.Bool
}

var _ core.Connection = (*Connection)(nil)

// New creates a connection for the URI. Nothing is opened until Connect.
func New(name, uri string, options Options) (*Connection, error) {
	memory := false
	switch {
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		if options.Database == "" {
			return nil, &core.Error{Op: "open", Connection: name, Err: fmt.Errorf("%w: database is required for mongo connections", core.ErrInvalidArgument)}
		}
	case strings.HasPrefix(uri, "memory://"):
		memory = true
	default:
		return nil, &core.Error{Op: "open", Connection: name, Err: fmt.Errorf("%w: unsupported document uri scheme", core.ErrInvalidArgument)}
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaultConnectTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Connection{
		name:     name,
		uri:      uri,
		memory:   memory,
		options:  options,
		compiler: pipeline.NewCompiler(),
		settler:  core.NewSettler(options.SettleTimeout),
		logger:   logger.With(slog.String("connection", name), slog.String("driver", string(core.Document))),
	}, nil
}

// NewMemory creates an in-process connection, already connected.
func NewMemory(name string, options Options) *Connection {
	c, _ := New(name, "memory://"+name, options)
	c.store = newMemoryStore()
	c.connected.Store(true)
	return c
}

// Name implements core.Connection.
func (c *Connection) Name() string {
	return c.name
}

// Driver implements core.Connection.
func (c *Connection) Driver() core.DriverKind {
	return core.Document
}

// Connect opens the client and pings the deployment. Calling it again is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.connected.Load() {
		return nil
	}
	if c.store == nil {
		if c.memory {
			c.store = newMemoryStore()
		} else {
			st, err := openMongo(ctx, c.uri, c.options.Database, c.options.ConnectTimeout)
			if err != nil {
				return &core.Error{Op: "connect", Connection: c.name, Err: err}
			}
			c.store = st
		}
	}
	if err := c.store.ping(ctx); err != nil {
		return &core.Error{Op: "connect", Connection: c.name, Err: fmt.Errorf("ping failed: %w", err)}
	}
	c.connected.Store(true)
	c.logger.DebugContext(ctx, "connected", slog.String("database", c.options.Database))
	return nil
}

// IsConnected implements core.Connection.
func (c *Connection) IsConnected() bool {
	return c.connected.Load()
}

// Compile implements core.Connection.
func (c *Connection) Compile(query *core.Query) (core.Compiled, error) {
	return c.compiler.Compile(query)
}

// Execute runs a compiled pipeline. Documents come back with "_id" renamed
// to the model key and BSON container types converted to plain maps and
// slices.
func (c *Connection) Execute(ctx context.Context, compiled core.Compiled) (*core.Result, error) {
	p, ok := compiled.(*pipeline.Pipeline)
	if !ok {
		return nil, &core.Error{Op: "execute", Connection: c.name, Err: fmt.Errorf("%w: expected *pipeline.Pipeline, got %T", core.ErrInvalidArgument, compiled)}
	}
	st, reservation, err := c.ready()
	if err != nil {
		return nil, err
	}
	return reservation.Run(ctx, func(ctx context.Context) (*core.Result, error) {
		return c.run(ctx, st, p)
	})
}

func (c *Connection) run(ctx context.Context, st store, p *pipeline.Pipeline) (*core.Result, error) {
	switch p.Op {
	case core.OperationSelect:
		documentList, err := c.collect(ctx, st, p)
		if err != nil {
			return nil, err
		}
		rowList := make([]map[string]any, 0, len(documentList))
		for _, doc := range documentList {
			rowList = append(rowList, toRow(doc, p.Key))
		}
		return &core.Result{Rows: rowList}, nil
	case core.OperationCount:
		documentList, err := c.collect(ctx, st, p)
		if err != nil {
			return nil, err
		}
		if len(documentList) == 0 {
			return &core.Result{}, nil
		}
		count, err := toInt64(documentList[0]["count"])
		if err != nil {
			return nil, err
		}
		return &core.Result{Count: count}, nil
	case core.OperationInsert:
		idList, err := st.insertMany(ctx, p.Collection, p.Documents)
		if err != nil {
			return nil, err
		}
		return &core.Result{Count: int64(len(idList)), IDs: idList}, nil
	case core.OperationUpdate:
		count, err := st.updateMany(ctx, p.Collection, p.Filter, p.Update)
		if err != nil {
			return nil, err
		}
		return &core.Result{Count: count}, nil
	case core.OperationDelete:
		count, err := st.deleteMany(ctx, p.Collection, p.Filter)
		if err != nil {
			return nil, err
		}
		return &core.Result{Count: count}, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", core.ErrUnsupportedOperation, p.Op)
}

// collect runs the stages and drains the cursor. All closes the cursor.
func (c *Connection) collect(ctx context.Context, st store, p *pipeline.Pipeline) ([]bson.M, error) {
	cursor, err := st.aggregate(ctx, p.Collection, p.Stages)
	if err != nil {
		return nil, err
	}
	documentList := []bson.M{}
	if err := cursor.All(ctx, &documentList); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return documentList, nil
}

// ready returns the store of a connected connection and a settle
// reservation the caller must run or release.
func (c *Connection) ready() (store, *core.Reservation, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.connected.Load() || c.store == nil {
		return nil, nil, &core.Error{Op: "execute", Connection: c.name, Err: fmt.Errorf("%w: connection is not connected", core.ErrInvalidArgument)}
	}
	return c.store, c.settler.Reserve(), nil
}

// Schema implements core.Connection.
func (c *Connection) Schema() core.SchemaService {
	return &SchemaService{conn: c}
}

// Close refuses new requests, waits for in-flight ones to settle and
// disconnects the client.
func (c *Connection) Close(ctx context.Context) error {
	c.mutex.Lock()
	c.connected.Store(false)
	c.mutex.Unlock()
	if err := c.settler.Wait(ctx); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.store == nil {
		return nil
	}
	err := c.store.close(ctx)
	c.store = nil
	if err != nil {
		return &core.Error{Op: "close", Connection: c.name, Err: err}
	}
	c.logger.DebugContext(ctx, "closed")
	return nil
}

// toRow converts a decoded document into a raw row keyed like the model.
func toRow(doc bson.M, key string) map[string]any {
	row, _ := normalize(doc).(map[string]any)
	if key == "" || key == pipeline.IDField {
		return row
	}
	if id, ok := row[pipeline.IDField]; ok {
		delete(row, pipeline.IDField)
		row[key] = id
	}
	return row
}

// normalize converts BSON container and datetime values into plain Go
// values: documents become map[string]any, arrays []any, datetimes UTC time.Time.
func normalize(value any) any {
	switch v := value.(type) {
	case bson.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.M:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case bson.A:
		return normalizeList(v)
	case []any:
		return normalizeList(v)
	case primitive.DateTime:
		return v.Time().UTC()
	}
	return value
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = normalize(value)
	}
	return out
}

func normalizeList(list []any) []any {
	out := make([]any, len(list))
	for i, value := range list {
		out[i] = normalize(value)
	}
	return out
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("%w: unexpected count value %T", core.ErrQueryCompilation, value)
}
