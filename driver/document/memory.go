package document

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leandroluk/golem/v2/compiler/pipeline"
	"github.com/leandroluk/golem/v2/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// memoryStore is an in-process document store. It evaluates the pipelines
// produced by the pipeline compiler with the same semantics a mongo server
// applies to them, so it can stand in for one in tests and embedded setups.
//
// Documents are never mutated in place: updates replace the stored map, so a
// snapshot taken under the read lock stays consistent after it is released.
type memoryStore struct {
	mutex          sync.RWMutex
	collectionList map[string]*memoryCollection
}

type memoryCollection struct {
	requiredList []string
	documentList []map[string]any
}

var _ store = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{collectionList: map[string]*memoryCollection{}}
}

func (s *memoryStore) snapshot(collection string) []map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	coll, ok := s.collectionList[collection]
	if !ok {
		return nil
	}
	return append([]map[string]any(nil), coll.documentList...)
}

func (s *memoryStore) aggregate(_ context.Context, collection string, stageList mongo.Pipeline) (*mongo.Cursor, error) {
	documentList := s.snapshot(collection)
	for _, stage := range stageList {
		if len(stage) != 1 {
			return nil, fmt.Errorf("%w: pipeline stage must hold exactly one operator", core.ErrInvalidArgument)
		}
		var err error
		if documentList, err = applyStage(documentList, stage[0]); err != nil {
			return nil, err
		}
	}
	anyList := make([]any, len(documentList))
	for i, doc := range documentList {
		anyList[i] = doc
	}
	return mongo.NewCursorFromDocuments(anyList, nil, bson.DefaultRegistry)
}

func applyStage(documentList []map[string]any, stage bson.E) ([]map[string]any, error) {
	switch stage.Key {
	case "$match":
		filter, ok := asDocument(stage.Value)
		if !ok {
			return nil, fmt.Errorf("%w: $match expects a document, got %T", core.ErrInvalidArgument, stage.Value)
		}
		keptList := []map[string]any{}
		for _, doc := range documentList {
			ok, err := matches(doc, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				keptList = append(keptList, doc)
			}
		}
		return keptList, nil
	case "$sort":
		spec, ok := asDocument(stage.Value)
		if !ok {
			return nil, fmt.Errorf("%w: $sort expects a document, got %T", core.ErrInvalidArgument, stage.Value)
		}
		sortedList := append([]map[string]any(nil), documentList...)
		sort.SliceStable(sortedList, func(i, j int) bool {
			for _, e := range spec {
				direction, _ := toInt(e.Value)
				left, _ := lookup(sortedList[i], e.Key)
				right, _ := lookup(sortedList[j], e.Key)
				if c := compareOrder(left, right); c != 0 {
					return c*direction < 0
				}
			}
			return false
		})
		return sortedList, nil
	case "$skip":
		n, ok := toInt(stage.Value)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: invalid $skip %v", core.ErrInvalidArgument, stage.Value)
		}
		if n >= len(documentList) {
			return []map[string]any{}, nil
		}
		return documentList[n:], nil
	case "$limit":
		n, ok := toInt(stage.Value)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: invalid $limit %v", core.ErrInvalidArgument, stage.Value)
		}
		if n < len(documentList) {
			return documentList[:n], nil
		}
		return documentList, nil
	case "$project":
		spec, ok := asDocument(stage.Value)
		if !ok {
			return nil, fmt.Errorf("%w: $project expects a document, got %T", core.ErrInvalidArgument, stage.Value)
		}
		return project(documentList, spec), nil
	case "$count":
		name, ok := stage.Value.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: $count expects a field name", core.ErrInvalidArgument)
		}
		if len(documentList) == 0 {
			return nil, nil
		}
		return []map[string]any{{name: int64(len(documentList))}}, nil
	}
	return nil, fmt.Errorf("%w: memory store does not support stage %s", core.ErrUnsupportedOperation, stage.Key)
}

// project keeps the listed fields and _id unless _id is explicitly excluded.
func project(documentList []map[string]any, spec bson.D) []map[string]any {
	includeID := true
	fieldList := []string{}
	for _, e := range spec {
		flag, _ := toInt(e.Value)
		if e.Key == pipeline.IDField {
			includeID = flag != 0
			continue
		}
		if flag != 0 {
			fieldList = append(fieldList, e.Key)
		}
	}
	projectedList := make([]map[string]any, 0, len(documentList))
	for _, doc := range documentList {
		out := map[string]any{}
		if id, ok := doc[pipeline.IDField]; ok && includeID {
			out[pipeline.IDField] = id
		}
		for _, field := range fieldList {
			if value, ok := doc[field]; ok {
				out[field] = value
			}
		}
		projectedList = append(projectedList, out)
	}
	return projectedList
}

func (s *memoryStore) insertMany(_ context.Context, collection string, documentList []any) ([]any, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	coll := s.collection(collection)

	batchList := make([]map[string]any, 0, len(documentList))
	idList := make([]any, 0, len(documentList))
	for _, raw := range documentList {
		doc, ok := normalize(raw).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: document must be a map or bson.D, got %T", core.ErrInvalidArgument, raw)
		}
		if _, ok := doc[pipeline.IDField]; !ok {
			doc[pipeline.IDField] = primitive.NewObjectID()
		}
		for _, field := range coll.requiredList {
			if _, ok := doc[field]; !ok {
				return nil, fmt.Errorf("document failed validation: missing required field %q", field)
			}
		}
		for _, existing := range append(coll.documentList, batchList...) {
			if equal(existing[pipeline.IDField], doc[pipeline.IDField]) {
				return nil, fmt.Errorf("duplicate key error: _id %v", doc[pipeline.IDField])
			}
		}
		batchList = append(batchList, doc)
		idList = append(idList, doc[pipeline.IDField])
	}
	coll.documentList = append(coll.documentList, batchList...)
	return idList, nil
}

func (s *memoryStore) updateMany(_ context.Context, collection string, filter, update bson.D) (int64, error) {
	set, err := setDocument(update)
	if err != nil {
		return 0, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	coll, ok := s.collectionList[collection]
	if !ok {
		return 0, nil
	}
	indexList, err := matching(coll.documentList, filter)
	if err != nil {
		return 0, err
	}
	for _, i := range indexList {
		updated := make(map[string]any, len(coll.documentList[i])+len(set))
		for key, value := range coll.documentList[i] {
			updated[key] = value
		}
		for _, e := range set {
			updated[e.Key] = normalize(e.Value)
		}
		coll.documentList[i] = updated
	}
	return int64(len(indexList)), nil
}

func (s *memoryStore) deleteMany(_ context.Context, collection string, filter bson.D) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	coll, ok := s.collectionList[collection]
	if !ok {
		return 0, nil
	}
	indexList, err := matching(coll.documentList, filter)
	if err != nil {
		return 0, err
	}
	if len(indexList) == 0 {
		return 0, nil
	}
	removed := make(map[int]bool, len(indexList))
	for _, i := range indexList {
		removed[i] = true
	}
	keptList := make([]map[string]any, 0, len(coll.documentList)-len(indexList))
	for i, doc := range coll.documentList {
		if !removed[i] {
			keptList = append(keptList, doc)
		}
	}
	coll.documentList = keptList
	return int64(len(indexList)), nil
}

func (s *memoryStore) createCollection(_ context.Context, collection string, validator bson.D) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.collectionList[collection]; ok {
		return fmt.Errorf("collection %q already exists", collection)
	}
	s.collectionList[collection] = &memoryCollection{requiredList: requiredFields(validator)}
	return nil
}

func (s *memoryStore) dropCollection(_ context.Context, collection string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.collectionList, collection)
	return nil
}

func (s *memoryStore) collectionExists(_ context.Context, collection string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.collectionList[collection]
	return ok, nil
}

func (s *memoryStore) ping(context.Context) error {
	return nil
}

func (s *memoryStore) close(context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.collectionList = map[string]*memoryCollection{}
	return nil
}

// collection returns the named collection, creating it on first write.
// Callers hold the write lock.
func (s *memoryStore) collection(name string) *memoryCollection {
	coll, ok := s.collectionList[name]
	if !ok {
		coll = &memoryCollection{}
		s.collectionList[name] = coll
	}
	return coll
}

func matching(documentList []map[string]any, filter bson.D) ([]int, error) {
	indexList := []int{}
	for i, doc := range documentList {
		ok, err := matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			indexList = append(indexList, i)
		}
	}
	return indexList, nil
}

func setDocument(update bson.D) (bson.D, error) {
	if len(update) != 1 || update[0].Key != "$set" {
		return nil, fmt.Errorf("%w: memory store only applies $set updates", core.ErrUnsupportedOperation)
	}
	set, ok := asDocument(update[0].Value)
	if !ok {
		return nil, fmt.Errorf("%w: $set expects a document, got %T", core.ErrInvalidArgument, update[0].Value)
	}
	return set, nil
}

// requiredFields reads the required list of a $jsonSchema validator.
func requiredFields(validator bson.D) []string {
	for _, e := range validator {
		if e.Key != "$jsonSchema" {
			continue
		}
		schema, ok := asDocument(e.Value)
		if !ok {
			return nil
		}
		for _, item := range schema {
			if item.Key != "required" {
				continue
			}
			list, _ := asList(item.Value)
			fieldList := make([]string, 0, len(list))
			for _, field := range list {
				if name, ok := field.(string); ok {
					fieldList = append(fieldList, name)
				}
			}
			return fieldList
		}
	}
	return nil
}

//region filter evaluation

func matches(doc map[string]any, filter bson.D) (bool, error) {
	for _, e := range filter {
		switch e.Key {
		case "$and", "$or", "$nor":
			childList, ok := asList(e.Value)
			if !ok {
				return false, fmt.Errorf("%w: %s expects an array", core.ErrInvalidArgument, e.Key)
			}
			hits := 0
			for _, child := range childList {
				childFilter, ok := asDocument(child)
				if !ok {
					return false, fmt.Errorf("%w: %s expects documents, got %T", core.ErrInvalidArgument, e.Key, child)
				}
				ok, err := matches(doc, childFilter)
				if err != nil {
					return false, err
				}
				if ok {
					hits++
				}
			}
			switch {
			case e.Key == "$and" && hits != len(childList),
				e.Key == "$or" && hits == 0,
				e.Key == "$nor" && hits > 0:
				return false, nil
			}
		default:
			if strings.HasPrefix(e.Key, "$") {
				return false, fmt.Errorf("%w: memory store does not support %s", core.ErrUnsupportedOperation, e.Key)
			}
			value, present := lookup(doc, e.Key)
			ok, err := matchField(value, present, e.Value)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func matchField(value any, present bool, condition any) (bool, error) {
	if regex, ok := condition.(primitive.Regex); ok {
		return matchRegex(value, regex.Pattern, regex.Options)
	}
	opDoc, ok := asDocument(condition)
	if !ok || len(opDoc) == 0 || !strings.HasPrefix(opDoc[0].Key, "$") {
		return equal(value, normalize(condition)), nil
	}
	for _, e := range opDoc {
		ok, err := matchOperator(value, present, e, opDoc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOperator(value any, present bool, e bson.E, opDoc bson.D) (bool, error) {
	switch e.Key {
	case "$eq":
		return equal(value, normalize(e.Value)), nil
	case "$ne":
		return !equal(value, normalize(e.Value)), nil
	case "$gt", "$gte", "$lt", "$lte":
		c, ok := compare(value, normalize(e.Value))
		if !ok {
			return false, nil
		}
		switch e.Key {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		}
		return c <= 0, nil
	case "$in", "$nin":
		list, ok := asList(e.Value)
		if !ok {
			return false, fmt.Errorf("%w: %s expects an array", core.ErrInvalidArgument, e.Key)
		}
		found := false
		for _, item := range list {
			if equal(value, normalize(item)) {
				found = true
				break
			}
		}
		return found == (e.Key == "$in"), nil
	case "$exists":
		want, _ := e.Value.(bool)
		return present == want, nil
	case "$regex":
		options := ""
		for _, sibling := range opDoc {
			if sibling.Key == "$options" {
				options, _ = sibling.Value.(string)
			}
		}
		switch pattern := e.Value.(type) {
		case primitive.Regex:
			return matchRegex(value, pattern.Pattern, pattern.Options+options)
		case string:
			return matchRegex(value, pattern, options)
		}
		return false, fmt.Errorf("%w: $regex expects a pattern, got %T", core.ErrInvalidArgument, e.Value)
	case "$options":
		return true, nil
	case "$not":
		ok, err := matchField(value, present, e.Value)
		return !ok, err
	}
	return false, fmt.Errorf("%w: memory store does not support %s", core.ErrUnsupportedOperation, e.Key)
}

func matchRegex(value any, pattern, options string) (bool, error) {
	text, ok := value.(string)
	if !ok {
		return false, nil
	}
	flags := ""
	for _, option := range options {
		if strings.ContainsRune("ims", option) && !strings.ContainsRune(flags, option) {
			flags += string(option)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("%w: invalid regex %q: %v", core.ErrInvalidArgument, pattern, err)
	}
	return re.MatchString(text), nil
}

// lookup resolves a possibly dotted field path.
func lookup(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

//endregion

//region value comparison

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values of the same BSON type family. The second result
// is false when the values are not comparable.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmp.Compare(fa, fb), true
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmp.Compare(boolRank(av), boolRank(bv)), true
		}
	case primitive.ObjectID:
		if bv, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(av[:], bv[:]), true
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), true
		}
	}
	return 0, false
}

// compareOrder is the sort order: values of different types order by type
// rank (null first), values of the same type by compare.
func compareOrder(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	c, _ := compare(a, b)
	return c
}

func typeRank(value any) int {
	if value == nil {
		return 0
	}
	if _, ok := toFloat(value); ok {
		return 1
	}
	switch value.(type) {
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case primitive.ObjectID:
		return 6
	case bool:
		return 7
	case time.Time, primitive.DateTime:
		return 8
	}
	return 5
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toFloat(value any) (float64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func toInt(value any) (int, bool) {
	f, ok := toFloat(value)
	return int(f), ok
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v != nil {
			return *v, true
		}
	case primitive.DateTime:
		return v.Time(), true
	}
	return time.Time{}, false
}

//endregion

// asDocument converts the document shapes a filter may carry into bson.D.
// Maps are flattened in sorted key order.
func asDocument(value any) (bson.D, bool) {
	switch v := value.(type) {
	case bson.D:
		return v, true
	case bson.M:
		return sortedDocument(v), true
	case map[string]any:
		return sortedDocument(v), true
	}
	return nil, false
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

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case bson.A:
		return v, true
	case []any:
		return v, true
	case []bson.D:
		list := make([]any, len(v))
		for i, doc := range v {
			list[i] = doc
		}
		return list, true
	case []string:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list, true
	}
	return nil, false
}
