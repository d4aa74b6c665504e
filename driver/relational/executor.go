package relational

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// executor is the round-trip layer behind a relational connection. Every
// method fully drains and closes what it reads before returning.
type executor interface {
	query(ctx context.Context, text string, argList []any) ([]map[string]any, error)
	exec(ctx context.Context, text string, argList []any) (execResult, error)
	ping(ctx context.Context) error
	close() error
}

type execResult struct {
	rowsAffected int64
	lastInsertID int64
	hasInsertID  bool
}

//region pgx

// pgxExecutor runs statements on a pgx connection pool.
type pgxExecutor struct {
	pool *pgxpool.Pool
}

func (e *pgxExecutor) query(ctx context.Context, text string, argList []any) ([]map[string]any, error) {
	rowList, err := e.pool.Query(ctx, text, argList...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rowList.Close()

	columnDescriptionList := rowList.FieldDescriptions()
	resultList := []map[string]any{}
	for rowList.Next() {
		valueList, err := rowList.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		rowMap := make(map[string]any, len(valueList))
		for i, col := range columnDescriptionList {
			rowMap[col.Name] = valueList[i]
		}
		resultList = append(resultList, rowMap)
	}
	if err := rowList.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return resultList, nil
}

func (e *pgxExecutor) exec(ctx context.Context, text string, argList []any) (execResult, error) {
	tag, err := e.pool.Exec(ctx, text, argList...)
	if err != nil {
		return execResult{}, fmt.Errorf("failed to execute SQL: %w", err)
	}
	return execResult{rowsAffected: tag.RowsAffected()}, nil
}

func (e *pgxExecutor) ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

func (e *pgxExecutor) close() error {
	e.pool.Close()
	return nil
}

//endregion

//region database/sql

// sqlExecutor runs statements on a database/sql handle (sqlite, mysql, mocks).
type sqlExecutor struct {
	db *sql.DB
}

func (e *sqlExecutor) query(ctx context.Context, text string, argList []any) ([]map[string]any, error) {
	rowList, err := e.db.QueryContext(ctx, text, argList...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rowList.Close() }()

	columnList, err := rowList.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	resultList := []map[string]any{}
	for rowList.Next() {
		valueList := make([]any, len(columnList))
		pointerList := make([]any, len(columnList))
		for i := range valueList {
			pointerList[i] = &valueList[i]
		}
		if err := rowList.Scan(pointerList...); err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		rowMap := make(map[string]any, len(columnList))
		for i, col := range columnList {
			rowMap[col] = valueList[i]
		}
		resultList = append(resultList, rowMap)
	}
	if err := rowList.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return resultList, nil
}

func (e *sqlExecutor) exec(ctx context.Context, text string, argList []any) (execResult, error) {
	result, err := e.db.ExecContext(ctx, text, argList...)
	if err != nil {
		return execResult{}, fmt.Errorf("failed to execute SQL: %w", err)
	}
	out := execResult{}
	if out.rowsAffected, err = result.RowsAffected(); err != nil {
		return execResult{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		out.lastInsertID, out.hasInsertID = id, true
	}
	return out, nil
}

func (e *sqlExecutor) ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *sqlExecutor) close() error {
	return e.db.Close()
}

//endregion
