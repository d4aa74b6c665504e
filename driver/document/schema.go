package document

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leandroluk/golem/v2/core"
	"go.mongodb.org/mongo-driver/bson"
)

// SchemaService manages collections of a document connection.
type SchemaService struct {
	conn *Connection
}

var _ core.SchemaService = (*SchemaService)(nil)

// CreateTable creates a collection whose $jsonSchema validator is derived
// from the columns. Primary key columns map to _id and are not validated.
func (s *SchemaService) CreateTable(ctx context.Context, name string, columnList []core.Column) error {
	validator, err := JSONSchema(columnList)
	if err != nil {
		return s.wrap("create_table", name, err)
	}
	st, reservation, err := s.conn.ready()
	if err != nil {
		return err
	}
	defer reservation.Release()
	if err := st.createCollection(ctx, name, validator); err != nil {
		return s.wrap("create_table", name, err)
	}
	s.conn.logger.DebugContext(ctx, "collection created", slog.String("collection", name))
	return nil
}

// DropTable implements core.SchemaService.
func (s *SchemaService) DropTable(ctx context.Context, name string) error {
	st, reservation, err := s.conn.ready()
	if err != nil {
		return err
	}
	defer reservation.Release()
	if err := st.dropCollection(ctx, name); err != nil {
		return s.wrap("drop_table", name, err)
	}
	s.conn.logger.DebugContext(ctx, "collection dropped", slog.String("collection", name))
	return nil
}

// TableExists implements core.SchemaService.
func (s *SchemaService) TableExists(ctx context.Context, name string) (bool, error) {
	st, reservation, err := s.conn.ready()
	if err != nil {
		return false, err
	}
	defer reservation.Release()
	exists, err := st.collectionExists(ctx, name)
	if err != nil {
		return false, s.wrap("table_exists", name, err)
	}
	return exists, nil
}

// AlterTable always fails: collections are schemaless.
func (s *SchemaService) AlterTable(_ context.Context, name string, _ []core.Change) error {
	return s.wrap("alter_table", name, fmt.Errorf("%w: document collections are schemaless", core.ErrUnsupportedOperation))
}

func (s *SchemaService) wrap(op, name string, err error) error {
	return &core.Error{Op: op, Model: name, Connection: s.conn.name, Err: err}
}

// bsonTypeList maps column types to the BSON types the validator accepts.
var bsonTypeList = map[core.ColumnType]bson.A{
	core.ColumnString:     {"string"},
	core.ColumnText:       {"string"},
	core.ColumnUUID:       {"string"},
	core.ColumnInteger:    {"int", "long"},
	core.ColumnBigInteger: {"int", "long"},
	core.ColumnIncrements: {"int", "long"},
	core.ColumnFloat:      {"double", "int", "long", "decimal"},
	core.ColumnBoolean:    {"bool"},
	core.ColumnTimestamp:  {"date"},
	core.ColumnJSON:       {"object", "array"},
}

// JSONSchema builds the {$jsonSchema: ...} validator document for columns.
//
// Example:
//
//	JSONSchema([]core.Column{{Name: "email", Type: core.ColumnString}})
//	// {$jsonSchema: {bsonType: "object", required: ["email"],
//	//   properties: {email: {bsonType: ["string"]}}}}
func JSONSchema(columnList []core.Column) (bson.D, error) {
	properties := bson.D{}
	required := bson.A{}
	for _, column := range columnList {
		if err := column.Validate(); err != nil {
			return nil, err
		}
		if column.PrimaryKey || column.Type == core.ColumnIncrements {
			continue
		}
		typeList := append(bson.A{}, bsonTypeList[column.Type]...)
		if column.Nullable {
			typeList = append(typeList, "null")
		} else {
			required = append(required, column.Name)
		}
		properties = append(properties, bson.E{Key: column.Name, Value: bson.D{{Key: "bsonType", Value: typeList}}})
	}
	schema := bson.D{{Key: "bsonType", Value: "object"}}
	if len(required) > 0 {
		schema = append(schema, bson.E{Key: "required", Value: required})
	}
	schema = append(schema, bson.E{Key: "properties", Value: properties})
	return bson.D{{Key: "$jsonSchema", Value: schema}}, nil
}
