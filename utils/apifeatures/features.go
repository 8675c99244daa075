package apifeatures

import (
	"context"
	"math"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Finder is the part of a collection a composed read needs.
type Finder interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Features composes a read lazily. Nothing touches the store until Find.
type Features struct {
	params Params
	base   bson.M
	hidden []string
	filter bson.M
	opts   *options.FindOptions
}

// New starts a read over base (the ambient filter, may be nil) driven by params.
func New(base bson.M, params Params) *Features {
	return &Features{
		params: params,
		base:   base,
		filter: copyM(base),
		opts:   options.Find(),
	}
}

// Hide marks fields that must never be projected, whatever "fields" asks for.
func (f *Features) Hide(fields ...string) *Features {
	f.hidden = append(f.hidden, fields...)
	return f
}

// Filter AND-s the query-string predicates onto the ambient filter.
func (f *Features) Filter() *Features {
	f.filter = And(f.base, f.params.Filter)
	return f
}

// Sort applies the requested order, or newest first by default.
func (f *Features) Sort() *Features {
	specs := f.params.Sort
	if len(specs) == 0 {
		specs = []string{DefaultSort}
	}
	f.opts.SetSort(SortDoc(specs))
	return f
}

// LimitFields projects the requested fields, or drops the version and hidden
// fields when none were requested.
func (f *Features) LimitFields() *Features {
	include := bson.D{}
	for _, field := range f.params.Fields {
		if f.isHidden(field) {
			continue
		}
		include = append(include, bson.E{Key: field, Value: 1})
	}
	if len(include) > 0 {
		f.opts.SetProjection(include)
		return f
	}
	exclude := bson.D{{Key: VersionField, Value: 0}}
	for _, field := range f.hidden {
		exclude = append(exclude, bson.E{Key: field, Value: 0})
	}
	f.opts.SetProjection(exclude)
	return f
}

// Paginate skips (page-1)*limit documents and returns at most limit.
func (f *Features) Paginate() *Features {
	page, limit := f.params.Page, f.params.Limit
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if page-1 > math.MaxInt64/limit {
		page = 1 + math.MaxInt64/limit
	}
	f.opts.SetSkip((page - 1) * limit)
	f.opts.SetLimit(limit)
	return f
}

// Query returns the composed filter and options.
func (f *Features) Query() (bson.M, *options.FindOptions) {
	return f.filter, f.opts
}

// Find runs the composed read and decodes every document into out.
func (f *Features) Find(ctx context.Context, coll Finder, out interface{}) error {
	cur, err := coll.Find(ctx, f.filter, f.opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	return cur.All(ctx, out)
}

func (f *Features) isHidden(field string) bool {
	for _, h := range f.hidden {
		if field == h || strings.HasPrefix(field, h+".") {
			return true
		}
	}
	return false
}

// SortDoc converts "a,-b" style specs into an ordered sort document.
func SortDoc(specs []string) bson.D {
	doc := make(bson.D, 0, len(specs))
	for _, s := range specs {
		dir := 1
		if strings.HasPrefix(s, "-") {
			dir = -1
			s = s[1:]
		}
		doc = append(doc, bson.E{Key: s, Value: dir})
	}
	return doc
}

// And combines two filters without modifying either. Empty sides drop out.
func And(a, b bson.M) bson.M {
	switch {
	case len(a) == 0:
		return copyM(b)
	case len(b) == 0:
		return copyM(a)
	default:
		return bson.M{"$and": bson.A{copyM(a), copyM(b)}}
	}
}

func copyM(m bson.M) bson.M {
	out := bson.M{}
	for k, v := range m {
		if inner, ok := v.(bson.M); ok {
			v = copyM(inner)
		}
		out[k] = v
	}
	return out
}
