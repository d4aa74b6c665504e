// Package relational provides the SQL connection adapter for the golem ORM.
//
// One Connection owns one pool: a pgx pool for postgres, a database/sql
// handle for sqlite (modernc.org/sqlite) and mysql (go-sql-driver/mysql).
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leandroluk/golem/v2/compiler/sqlgen"
	"github.com/leandroluk/golem/v2/core"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Options configures the pool of a relational connection.
type Options struct {
	MaxConns      int32
	MinConns      int32
	MaxIdleTime   time.Duration
	MaxLifetime   time.Duration
	SettleTimeout time.Duration
	Logger        *slog.Logger
}

// Connection is a core.Connection backed by a SQL database.
type Connection struct {
	name     string
	uri      string
	target   target
	options  Options
	compiler *sqlgen.Compiler
	settler  *core.Settler
	logger   *slog.Logger

	mutex     sync.Mutex
	executor  executor
	connected atomic.Bool
}

var _ core.Connection = (*Connection)(nil)

// New creates a connection for the URI. Nothing is opened until Connect.
func New(name, uri string, options Options) (*Connection, error) {
	t, err := parseURI(uri)
	if err != nil {
		return nil, &core.Error{Op: "open", Connection: name, Err: err}
	}
	return newConnection(name, uri, t, options), nil
}

// NewWithDB wraps an already opened database/sql handle. The connection is
// considered connected immediately.
func NewWithDB(name string, db *sql.DB, dialect sqlgen.Dialect, options Options) *Connection {
	c := newConnection(name, "", target{dialect: dialect}, options)
	c.executor = &sqlExecutor{db: db}
	c.connected.Store(true)
	return c
}

func newConnection(name, uri string, t target, options Options) *Connection {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Connection{
		name:     name,
		uri:      uri,
		target:   t,
		options:  options,
		compiler: sqlgen.NewCompiler(t.dialect),
		settler:  core.NewSettler(options.SettleTimeout),
		logger:   logger.With(slog.String("connection", name), slog.String("dialect", t.dialect.Name())),
	}
}

// Name implements core.Connection.
func (c *Connection) Name() string {
	return c.name
}

// Driver implements core.Connection.
func (c *Connection) Driver() core.DriverKind {
	return core.Relational
}

// Dialect returns the SQL dialect of the connection.
func (c *Connection) Dialect() sqlgen.Dialect {
	return c.target.dialect
}

// Connect opens the pool and pings the server. Calling it again is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.connected.Load() {
		return nil
	}
	if c.executor == nil {
		exec, err := c.open(ctx)
		if err != nil {
			return &core.Error{Op: "connect", Connection: c.name, Err: err}
		}
		c.executor = exec
	}
	if err := c.executor.ping(ctx); err != nil {
		return &core.Error{Op: "connect", Connection: c.name, Err: fmt.Errorf("ping failed: %w", err)}
	}
	c.connected.Store(true)
	c.logger.DebugContext(ctx, "connected", slog.String("uri", redact(c.uri)))
	return nil
}

func (c *Connection) open(ctx context.Context) (executor, error) {
	if c.target.driverName == "" {
		cfg, err := pgxpool.ParseConfig(c.target.dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}
		if c.options.MaxConns > 0 {
			cfg.MaxConns = c.options.MaxConns
		}
		if c.options.MinConns > 0 {
			cfg.MinConns = c.options.MinConns
		}
		if c.options.MaxIdleTime > 0 {
			cfg.MaxConnIdleTime = c.options.MaxIdleTime
		}
		if c.options.MaxLifetime > 0 {
			cfg.MaxConnLifetime = c.options.MaxLifetime
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &pgxExecutor{pool: pool}, nil
	}

	db, err := sql.Open(c.target.driverName, c.target.dsn)
	if err != nil {
		return nil, err
	}
	switch {
	case c.target.memory:
		db.SetMaxOpenConns(1)
	case c.options.MaxConns > 0:
		db.SetMaxOpenConns(int(c.options.MaxConns))
	}
	if c.options.MinConns > 0 {
		db.SetMaxIdleConns(int(c.options.MinConns))
	}
	if c.options.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.options.MaxIdleTime)
	}
	if c.options.MaxLifetime > 0 {
		db.SetConnMaxLifetime(c.options.MaxLifetime)
	}
	return &sqlExecutor{db: db}, nil
}

// IsConnected implements core.Connection.
func (c *Connection) IsConnected() bool {
	return c.connected.Load()
}

// Compile implements core.Connection.
func (c *Connection) Compile(query *core.Query) (core.Compiled, error) {
	return c.compiler.Compile(query)
}

// Execute runs a compiled statement. Select returns rows, count returns the
// counted total, writes return affected rows and inserted keys.
func (c *Connection) Execute(ctx context.Context, compiled core.Compiled) (*core.Result, error) {
	stmt, ok := compiled.(*sqlgen.Statement)
	if !ok {
		return nil, &core.Error{Op: "execute", Connection: c.name, Err: fmt.Errorf("%w: expected *sqlgen.Statement, got %T", core.ErrInvalidArgument, compiled)}
	}
	exec, reservation, err := c.ready()
	if err != nil {
		return nil, err
	}
	return reservation.Run(ctx, func(ctx context.Context) (*core.Result, error) {
		return c.run(ctx, exec, stmt)
	})
}

func (c *Connection) run(ctx context.Context, exec executor, stmt *sqlgen.Statement) (*core.Result, error) {
	switch stmt.Op {
	case core.OperationSelect:
		rowList, err := exec.query(ctx, stmt.Text, stmt.Args)
		if err != nil {
			return nil, err
		}
		return &core.Result{Rows: rowList}, nil
	case core.OperationCount:
		rowList, err := exec.query(ctx, stmt.Text, stmt.Args)
		if err != nil {
			return nil, err
		}
		if len(rowList) == 0 {
			return &core.Result{}, nil
		}
		count, err := toInt64(rowList[0]["count"])
		if err != nil {
			return nil, err
		}
		return &core.Result{Count: count}, nil
	case core.OperationInsert:
		if stmt.Returning != "" {
			rowList, err := exec.query(ctx, stmt.Text, stmt.Args)
			if err != nil {
				return nil, err
			}
			idList := make([]any, 0, len(rowList))
			for _, row := range rowList {
				idList = append(idList, row[stmt.Returning])
			}
			return &core.Result{Count: int64(len(rowList)), IDs: idList}, nil
		}
		result, err := exec.exec(ctx, stmt.Text, stmt.Args)
		if err != nil {
			return nil, err
		}
		out := &core.Result{Count: result.rowsAffected}
		if result.hasInsertID && result.lastInsertID > 0 {
			for i := int64(0); i < result.rowsAffected; i++ {
				out.IDs = append(out.IDs, result.lastInsertID+i)
			}
		}
		return out, nil
	default:
		result, err := exec.exec(ctx, stmt.Text, stmt.Args)
		if err != nil {
			return nil, err
		}
		return &core.Result{Count: result.rowsAffected}, nil
	}
}

// ready returns the executor of a connected connection and a settle
// reservation the caller must run or release.
func (c *Connection) ready() (executor, *core.Reservation, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.connected.Load() || c.executor == nil {
		return nil, nil, &core.Error{Op: "execute", Connection: c.name, Err: fmt.Errorf("%w: connection is not connected", core.ErrInvalidArgument)}
	}
	return c.executor, c.settler.Reserve(), nil
}

// Schema implements core.Connection.
func (c *Connection) Schema() core.SchemaService {
	return &SchemaService{conn: c}
}

// Close refuses new statements, waits for in-flight ones to settle and
// closes the pool. If ctx ends first the pool stays open and Close can be
// called again.
func (c *Connection) Close(ctx context.Context) error {
	c.mutex.Lock()
	c.connected.Store(false)
	c.mutex.Unlock()
	if err := c.settler.Wait(ctx); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.executor == nil {
		return nil
	}
	err := c.executor.close()
	c.executor = nil
	if err != nil {
		return &core.Error{Op: "close", Connection: c.name, Err: err}
	}
	c.logger.DebugContext(ctx, "closed")
	return nil
}

// toInt64 reads a COUNT(*) value as reported by any of the drivers.
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
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("%w: unexpected count value %T", core.ErrQueryCompilation, value)
}
