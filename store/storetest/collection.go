// Package storetest provides an in-memory store.Collection for tests. It
// evaluates the subset of the query language the application produces.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection keeps documents in insertion order.
type Collection struct {
	mu     sync.Mutex
	name   string
	docs   []bson.M
	unique [][]string

	// AggregateFunc answers Aggregate calls; pipelines are recorded either way.
	AggregateFunc func(pipeline interface{}) []bson.M
	Pipelines     []interface{}

	LastFilter      bson.M
	LastFindOptions *options.FindOptions
}

func New(name string) *Collection {
	return &Collection{name: name}
}

// Unique declares a unique index over fields.
func (c *Collection) Unique(fields ...string) *Collection {
	c.unique = append(c.unique, fields)
	return c
}

// Seed inserts documents without running unique checks.
func (c *Collection) Seed(docs ...interface{}) []primitive.ObjectID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]primitive.ObjectID, 0, len(docs))
	for _, d := range docs {
		m := normalize(d)
		if _, ok := m["_id"]; !ok {
			m["_id"] = primitive.NewObjectID()
		}
		c.docs = append(c.docs, m)
		ids = append(ids, m["_id"].(primitive.ObjectID))
	}
	return ids
}

// Docs returns copies of every stored document.
func (c *Collection) Docs() []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bson.M, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, normalize(d))
	}
	return out
}

func (c *Collection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := normalize(document)
	if _, ok := m["_id"]; !ok {
		m["_id"] = primitive.NewObjectID()
	}
	if err := c.checkUnique(m, nil); err != nil {
		return nil, err
	}
	c.docs = append(c.docs, m)
	return &mongo.InsertOneResult{InsertedID: m["_id"]}, nil
}

func (c *Collection) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := normalize(filter)
	c.LastFilter = f
	var o *options.FindOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	c.LastFindOptions = o

	matched := c.match(f)
	if o != nil && o.Sort != nil {
		sortDocs(matched, toD(o.Sort))
	}
	if o != nil && o.Skip != nil {
		skip := len(matched)
		if *o.Skip >= 0 && *o.Skip < int64(len(matched)) {
			skip = int(*o.Skip)
		}
		matched = matched[skip:]
	}
	if o != nil && o.Limit != nil && *o.Limit > 0 && int(*o.Limit) < len(matched) {
		matched = matched[:*o.Limit]
	}
	out := make([]interface{}, 0, len(matched))
	for _, d := range matched {
		if o != nil && o.Projection != nil {
			d = project(d, toD(o.Projection))
		}
		out = append(out, d)
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (c *Collection) FindOne(_ context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	matched := c.match(normalize(filter))
	if len(matched) == 0 {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}
	doc := matched[0]
	if len(opts) > 0 && opts[0] != nil && opts[0].Projection != nil {
		doc = project(doc, toD(opts[0].Projection))
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (c *Collection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, _ ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(normalize(filter))
	if i < 0 {
		return &mongo.UpdateResult{}, nil
	}
	m := normalize(replacement)
	m["_id"] = c.docs[i]["_id"]
	if err := c.checkUnique(m, m["_id"]); err != nil {
		return nil, err
	}
	c.docs[i] = m
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *Collection) UpdateOne(_ context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(normalize(filter))
	if i < 0 {
		return &mongo.UpdateResult{}, nil
	}
	doc := normalize(c.docs[i])
	for op, arg := range normalize(update) {
		fields, _ := arg.(bson.M)
		for k, v := range fields {
			switch op {
			case "$set":
				doc[k] = v
			case "$unset":
				delete(doc, k)
			case "$inc":
				cur, _ := toFloat(doc[k])
				inc, _ := toFloat(v)
				doc[k] = cur + inc
			default:
				return nil, fmt.Errorf("storetest: unsupported update operator %s", op)
			}
		}
	}
	if err := c.checkUnique(doc, doc["_id"]); err != nil {
		return nil, err
	}
	c.docs[i] = doc
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *Collection) FindOneAndDelete(_ context.Context, filter interface{}, _ ...*options.FindOneAndDeleteOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(normalize(filter))
	if i < 0 {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}
	doc := c.docs[i]
	c.docs = append(c.docs[:i], c.docs[i+1:]...)
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (c *Collection) Aggregate(_ context.Context, pipeline interface{}, _ ...*options.AggregateOptions) (*mongo.Cursor, error) {
	c.mu.Lock()
	c.Pipelines = append(c.Pipelines, pipeline)
	fn := c.AggregateFunc
	c.mu.Unlock()

	var results []bson.M
	if fn != nil {
		results = fn(pipeline)
	}
	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (c *Collection) match(filter bson.M) []bson.M {
	var out []bson.M
	for _, d := range c.docs {
		if Matches(d, filter) {
			out = append(out, normalize(d))
		}
	}
	return out
}

func (c *Collection) indexOf(filter bson.M) int {
	for i, d := range c.docs {
		if Matches(d, filter) {
			return i
		}
	}
	return -1
}

func (c *Collection) checkUnique(doc bson.M, self interface{}) error {
	for _, fields := range c.unique {
		for _, other := range c.docs {
			if self != nil && equal(other["_id"], self) {
				continue
			}
			same := true
			for _, f := range fields {
				if !equal(lookup(other, f), lookup(doc, f)) {
					same = false
					break
				}
			}
			if same {
				return mongo.WriteException{WriteErrors: []mongo.WriteError{{
					Code: 11000,
					Message: fmt.Sprintf(`E11000 duplicate key error collection: test.%s index: %s_1 dup key: { %s: "%v" }`,
						c.name, strings.Join(fields, "_1_"), fields[0], lookup(doc, fields[0])),
				}}}
			}
		}
	}
	return nil
}

// Matches reports whether doc satisfies filter.
func Matches(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range toList(cond) {
				if !Matches(doc, normalize(sub)) {
					return false
				}
			}
			continue
		case "$or":
			hit := false
			for _, sub := range toList(cond) {
				if Matches(doc, normalize(sub)) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
			continue
		}
		value, present := lookupOK(doc, key)
		if ops, ok := cond.(bson.M); ok && isOperatorDoc(ops) {
			for op, arg := range ops {
				if !apply(op, value, present, arg) {
					return false
				}
			}
			continue
		}
		if !apply("$eq", value, present, cond) {
			return false
		}
	}
	return true
}

func apply(op string, value interface{}, present bool, arg interface{}) bool {
	switch op {
	case "$eq":
		return present && eqOrContains(value, arg)
	case "$ne":
		return !present || !eqOrContains(value, arg)
	case "$in":
		for _, a := range toList(arg) {
			if present && eqOrContains(value, a) {
				return true
			}
		}
		return false
	case "$nin":
		return !apply("$in", value, present, arg)
	case "$exists":
		want, _ := arg.(bool)
		return present == want
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false
		}
		cmp, ok := compare(value, arg)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		case "$lt":
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func eqOrContains(value, arg interface{}) bool {
	if arr, ok := value.(bson.A); ok {
		for _, v := range arr {
			if equal(v, arg) {
				return true
			}
		}
		return false
	}
	return equal(value, arg)
}

func isOperatorDoc(m bson.M) bool {
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return len(m) > 0
}

func equal(a, b interface{}) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case primitive.ObjectID:
		bv, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Hex(), bv.Hex()), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

func toList(v interface{}) []interface{} {
	switch l := v.(type) {
	case bson.A:
		return l
	case []interface{}:
		return l
	case []bson.M:
		out := make([]interface{}, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out
	}
	return nil
}

func lookup(doc bson.M, path string) interface{} {
	v, _ := lookupOK(doc, path)
	return v
}

func lookupOK(doc bson.M, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func sortDocs(docs []bson.M, spec bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, e := range spec {
			dir, _ := toFloat(e.Value)
			a, aok := lookupOK(docs[i], e.Key)
			b, bok := lookupOK(docs[j], e.Key)
			var cmp int
			switch {
			case !aok && !bok:
				cmp = 0
			case !aok:
				cmp = -1
			case !bok:
				cmp = 1
			default:
				cmp, _ = compare(a, b)
			}
			if cmp != 0 {
				if dir < 0 {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return false
	})
}

func project(doc bson.M, spec bson.D) bson.M {
	include := false
	for _, e := range spec {
		if n, _ := toFloat(e.Value); n == 1 {
			include = true
		}
	}
	out := bson.M{}
	if include {
		out["_id"] = doc["_id"]
		for _, e := range spec {
			if n, _ := toFloat(e.Value); n == 1 {
				if v, ok := doc[e.Key]; ok {
					out[e.Key] = v
				}
			}
		}
		return out
	}
	for k, v := range doc {
		out[k] = v
	}
	for _, e := range spec {
		delete(out, e.Key)
	}
	return out
}

func toD(v interface{}) bson.D {
	switch d := v.(type) {
	case bson.D:
		return d
	case bson.M:
		out := make(bson.D, 0, len(d))
		for k, val := range d {
			out = append(out, bson.E{Key: k, Value: val})
		}
		return out
	}
	return nil
}

// normalize round-trips v through BSON so documents, filters and updates share
// the driver's decoded representation.
func normalize(v interface{}) bson.M {
	if v == nil {
		return bson.M{}
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("storetest: marshal %T: %v", v, err))
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("storetest: unmarshal %T: %v", v, err))
	}
	return m
}
