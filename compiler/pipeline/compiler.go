// Package pipeline compiles the golem query IR into document-store
// aggregation pipelines and collection operations.
package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/leandroluk/golem/v2/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// IDField is the document key every record is stored under.
const IDField = "_id"

// Pipeline is the compiled form of a query for document backends.
//
// Select and count use Stages. Update and delete use Filter (and Update).
// Insert uses Documents.
type Pipeline struct {
	Op         core.Operation
	Collection string
	Key        string
	Stages     mongo.Pipeline
	Filter     bson.D
	Update     bson.D
	Documents  []any
}

// Operation implements core.Compiled.
func (p *Pipeline) Operation() core.Operation {
	return p.Op
}

// Compiler translates queries into pipelines. It is stateless.
type Compiler struct{}

// NewCompiler creates a pipeline compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile translates the query. Stage order is fixed:
// $match, $sort, $skip, $limit, $project.
func (c *Compiler) Compile(query *core.Query) (*Pipeline, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{Op: query.Operation, Collection: query.Source.Name, Key: query.Source.Key}
	key := query.Source.Key

	var match bson.D
	if query.HasFilter() {
		filter, err := c.buildFilter(query.Filter, key)
		if err != nil {
			return nil, err
		}
		match = filter
	}

	switch query.Operation {
	case core.OperationSelect:
		if len(match) > 0 {
			p.Stages = append(p.Stages, bson.D{{Key: "$match", Value: match}})
		}
		if len(query.Sort) > 0 {
			sortDoc := bson.D{}
			for _, sortItem := range query.Sort {
				if sortItem.FieldName == "" {
					return nil, compileError("", "sort without field")
				}
				sortDoc = append(sortDoc, bson.E{Key: mapField(sortItem.FieldName, key), Value: int(sortItem.Direction)})
			}
			p.Stages = append(p.Stages, bson.D{{Key: "$sort", Value: sortDoc}})
		}
		if query.Offset != nil {
			p.Stages = append(p.Stages, bson.D{{Key: "$skip", Value: int64(*query.Offset)}})
		}
		if query.Limit != nil {
			if *query.Limit == 0 {
				// $limit must be positive; every document has an _id.
				p.Stages = append(p.Stages, bson.D{{Key: "$match", Value: bson.D{{Key: IDField, Value: bson.D{{Key: "$exists", Value: false}}}}}})
			} else {
				p.Stages = append(p.Stages, bson.D{{Key: "$limit", Value: int64(*query.Limit)}})
			}
		}
		if len(query.Projection) > 0 {
			projection := bson.D{}
			for _, field := range query.Projection {
				projection = append(projection, bson.E{Key: mapField(field, key), Value: 1})
			}
			p.Stages = append(p.Stages, bson.D{{Key: "$project", Value: projection}})
		}
	case core.OperationCount:
		if len(match) > 0 {
			p.Stages = append(p.Stages, bson.D{{Key: "$match", Value: match}})
		}
		p.Stages = append(p.Stages, bson.D{{Key: "$count", Value: "count"}})
	case core.OperationInsert:
		for _, row := range query.Payload {
			doc := bson.D{}
			for _, name := range row.Keys() {
				value := row[name]
				field := mapField(name, key)
				if field == IDField {
					if value == nil {
						continue
					}
					value = toObjectID(value)
				}
				doc = append(doc, bson.E{Key: field, Value: value})
			}
			p.Documents = append(p.Documents, doc)
		}
	case core.OperationUpdate:
		p.Filter = orEmpty(match)
		set := bson.D{}
		for _, name := range query.Changes.Keys() {
			set = append(set, bson.E{Key: mapField(name, key), Value: query.Changes[name]})
		}
		p.Update = bson.D{{Key: "$set", Value: set}}
	case core.OperationDelete:
		p.Filter = orEmpty(match)
	}
	return p, nil
}

func orEmpty(doc bson.D) bson.D {
	if doc == nil {
		return bson.D{}
	}
	return doc
}

// buildFilter renders a condition as a filter document. Empty groups render
// as an empty document.
func (c *Compiler) buildFilter(condition *core.Condition, key string) (bson.D, error) {
	if condition == nil {
		return nil, nil
	}
	if condition.Operator == nil {
		return nil, compileError(condition.FieldName, "condition without operator")
	}

	switch *condition.Operator {
	case core.OpAnd, core.OpOr, core.OpNot:
		childFilterList := bson.A{}
		for _, child := range condition.Children {
			childFilter, err := c.buildFilter(child, key)
			if err != nil {
				return nil, err
			}
			if len(childFilter) == 0 {
				continue
			}
			childFilterList = append(childFilterList, childFilter)
		}
		if len(childFilterList) == 0 {
			return nil, nil
		}
		switch *condition.Operator {
		case core.OpAnd:
			if len(childFilterList) == 1 {
				return childFilterList[0].(bson.D), nil
			}
			return bson.D{{Key: "$and", Value: childFilterList}}, nil
		case core.OpOr:
			if len(childFilterList) == 1 {
				return childFilterList[0].(bson.D), nil
			}
			return bson.D{{Key: "$or", Value: childFilterList}}, nil
		default:
			// $nor over several filters negates their OR; NOT negates the AND.
			if len(childFilterList) > 1 {
				childFilterList = bson.A{bson.D{{Key: "$and", Value: childFilterList}}}
			}
			return bson.D{{Key: "$nor", Value: childFilterList}}, nil
		}
	case core.OpRaw:
		return rawFilter(condition)
	}

	if condition.FieldName == "" {
		return nil, compileError("", "condition without field")
	}
	field := mapField(condition.FieldName, key)
	value := condition.Value
	if field == IDField {
		value = toObjectID(value)
	}

	switch *condition.Operator {
	case core.OpNil:
		return bson.D{{Key: field, Value: nil}}, nil
	case core.OpNotNil:
		return bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}}, nil
	case core.OpEq:
		return bson.D{{Key: field, Value: value}}, nil
	case core.OpNe:
		if value == nil {
			return bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}}, nil
		}
		// SQL comparisons never match NULL, so null and missing fields are left out.
		return bson.D{{Key: field, Value: bson.D{{Key: "$nin", Value: bson.A{value, nil}}}}}, nil
	case core.OpGt:
		return bson.D{{Key: field, Value: bson.D{{Key: "$gt", Value: value}}}}, nil
	case core.OpGte:
		return bson.D{{Key: field, Value: bson.D{{Key: "$gte", Value: value}}}}, nil
	case core.OpLt:
		return bson.D{{Key: field, Value: bson.D{{Key: "$lt", Value: value}}}}, nil
	case core.OpLte:
		return bson.D{{Key: field, Value: bson.D{{Key: "$lte", Value: value}}}}, nil
	case core.OpLike:
		return bson.D{{Key: field, Value: likeRegex(value, "")}}, nil
	case core.OpILike:
		return bson.D{{Key: field, Value: likeRegex(value, "i")}}, nil
	case core.OpNotLike:
		return bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: field, Value: bson.D{{Key: "$not", Value: likeRegex(value, "")}}}},
			bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}},
		}}}, nil
	case core.OpIn, core.OpNotIn:
		valueList, ok := condition.Value.([]any)
		if !ok {
			return nil, compileError(condition.FieldName, fmt.Sprintf("operator %s expects []any, got %T", *condition.Operator, condition.Value))
		}
		array := make(bson.A, 0, len(valueList))
		for _, item := range valueList {
			if field == IDField {
				item = toObjectID(item)
			}
			array = append(array, item)
		}
		operator := "$in"
		if *condition.Operator == core.OpNotIn {
			operator = "$nin"
			// An empty NOT IN matches every row, as "1 = 1" does in SQL.
			if len(array) > 0 {
				array = append(array, nil)
			}
		}
		return bson.D{{Key: field, Value: bson.D{{Key: operator, Value: array}}}}, nil
	}
	return nil, compileError(condition.FieldName, fmt.Sprintf("unsupported operator %q", *condition.Operator))
}

// rawFilter converts a raw fragment into a filter document.
func rawFilter(condition *core.Condition) (bson.D, error) {
	if condition.Raw == nil {
		return nil, compileError("", "raw condition without fragment")
	}
	switch fragment := condition.Raw.Fragment.(type) {
	case bson.D:
		return fragment, nil
	case bson.M:
		return sortedDocument(fragment), nil
	case map[string]any:
		return sortedDocument(fragment), nil
	}
	return nil, compileError("", fmt.Sprintf("raw document fragment must be bson.D, bson.M or map[string]any, got %T", condition.Raw.Fragment))
}

func sortedDocument(m map[string]any) bson.D {
	keyList := make([]string, 0, len(m))
	for key := range m {
		keyList = append(keyList, key)
	}
	sort.Strings(keyList)
	doc := make(bson.D, 0, len(keyList))
	for _, key := range keyList {
		doc = append(doc, bson.E{Key: key, Value: m[key]})
	}
	return doc
}

// mapField maps the model key onto the document id field.
func mapField(name, key string) string {
	if key != "" && name == key {
		return IDField
	}
	return name
}

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// toObjectID converts 24-hex strings into ObjectIDs; other values pass through.
func toObjectID(value any) any {
	text, ok := value.(string)
	if !ok || !objectIDPattern.MatchString(text) {
		return value
	}
	oid, err := primitive.ObjectIDFromHex(text)
	if err != nil {
		return value
	}
	return oid
}

// likeRegex converts a LIKE pattern into an anchored regular expression.
func likeRegex(value any, options string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + toLikePattern(fmt.Sprint(value)) + "$", Options: options}
}

// toLikePattern converts a SQL-like pattern into a regex pattern.
//
// It replaces % with .* (wildcard for multiple characters) and
// _ with . (wildcard for a single character); everything else is literal.
//
// Example:
//
//	toLikePattern("%admin_") // ".*admin."
func toLikePattern(input string) string {
	var sb strings.Builder
	for _, r := range input {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return sb.String()
}

func compileError(field, message string) error {
	return &core.Error{Op: "compile", Field: field, Err: fmt.Errorf("%w: %s", core.ErrQueryCompilation, message)}
}
