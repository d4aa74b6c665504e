package relational

import (
	"context"
	"log/slog"

	"github.com/leandroluk/golem/v2/compiler/sqlgen"
	"github.com/leandroluk/golem/v2/core"
)

// SchemaService runs DDL statements on a relational connection.
type SchemaService struct {
	conn *Connection
}

var _ core.SchemaService = (*SchemaService)(nil)

// CreateTable implements core.SchemaService.
func (s *SchemaService) CreateTable(ctx context.Context, name string, columnList []core.Column) error {
	ddl, err := s.conn.compiler.CreateTable(name, columnList)
	if err != nil {
		return s.wrap("create_table", name, err)
	}
	return s.exec(ctx, "create_table", name, ddl)
}

// DropTable implements core.SchemaService.
func (s *SchemaService) DropTable(ctx context.Context, name string) error {
	return s.exec(ctx, "drop_table", name, s.conn.compiler.DropTable(name))
}

// TableExists implements core.SchemaService.
func (s *SchemaService) TableExists(ctx context.Context, name string) (bool, error) {
	exec, reservation, err := s.conn.ready()
	if err != nil {
		return false, err
	}
	defer reservation.Release()
	ddl := s.conn.compiler.TableExists(name)
	rowList, err := exec.query(ctx, ddl.Text, ddl.Args)
	if err != nil {
		return false, s.wrap("table_exists", name, err)
	}
	if len(rowList) == 0 {
		return false, nil
	}
	count, err := toInt64(rowList[0]["count"])
	if err != nil {
		return false, s.wrap("table_exists", name, err)
	}
	return count > 0, nil
}

// AlterTable implements core.SchemaService. Changes run in order, one
// statement each; a failure stops at the failing change.
func (s *SchemaService) AlterTable(ctx context.Context, name string, changeList []core.Change) error {
	ddlList, err := s.conn.compiler.AlterTable(name, changeList)
	if err != nil {
		return s.wrap("alter_table", name, err)
	}
	for _, ddl := range ddlList {
		if err := s.exec(ctx, "alter_table", name, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (s *SchemaService) exec(ctx context.Context, op, name string, ddl sqlgen.DDL) error {
	exec, reservation, err := s.conn.ready()
	if err != nil {
		return err
	}
	defer reservation.Release()
	if _, err := exec.exec(ctx, ddl.Text, ddl.Args); err != nil {
		return s.wrap(op, name, err)
	}
	s.conn.logger.DebugContext(ctx, "schema statement executed", slog.String("op", op), slog.String("table", name))
	return nil
}

func (s *SchemaService) wrap(op, name string, err error) error {
	return &core.Error{Op: op, Model: name, Connection: s.conn.name, Err: err}
}
