// Package apifeatures translates list query strings into MongoDB reads:
// a filter document plus sort, projection and pagination options.
package apifeatures

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-tours/utils/errors"
)

const (
	DefaultPage  int64 = 1
	DefaultLimit int64 = 100
	MaxLimit     int64 = 1000

	DefaultSort  = "-createdAt"
	VersionField = "__v"
)

var reserved = map[string]bool{"page": true, "sort": true, "limit": true, "fields": true}

var operators = map[string]string{
	"gte": "$gte",
	"gt":  "$gt",
	"lte": "$lte",
	"lt":  "$lt",
}

// Kind is the stored type of a filterable field; query values are coerced to it.
type Kind int

const (
	String Kind = iota
	Number
	Bool
	Date
	ObjectID
)

// Field describes one filterable field. Multi fields turn repeated values into $in;
// for every other field the last value wins.
type Field struct {
	Kind  Kind
	Multi bool
}

// Schema lists the fields a collection can be filtered, sorted and projected on.
// A nil Schema accepts any field and infers value types.
type Schema map[string]Field

// WithBase returns a copy of s that also knows the identity and timestamp fields.
func (s Schema) WithBase() Schema {
	out := Schema{
		"_id":       {Kind: ObjectID, Multi: true},
		"createdAt": {Kind: Date},
		"updatedAt": {Kind: Date},
	}
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Params is the validated form of a list query string.
type Params struct {
	Page   int64
	Limit  int64
	Sort   []string
	Fields []string
	Filter bson.M
}

// ParseParams lifts the reserved keys out of values and turns the rest into a
// filter document. values is never modified.
func ParseParams(values url.Values, schema Schema) (Params, error) {
	p := Params{Page: DefaultPage, Limit: DefaultLimit, Filter: bson.M{}}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}
		last := vals[len(vals)-1]

		if reserved[key] {
			if err := p.setReserved(key, last, schema); err != nil {
				return Params{}, err
			}
			continue
		}

		field, op, err := splitKey(key)
		if err != nil {
			return Params{}, err
		}
		spec, err := lookup(schema, field)
		if err != nil {
			return Params{}, err
		}

		if op == "" {
			if spec.Multi && len(vals) > 1 {
				in := make(bson.A, 0, len(vals))
				for _, v := range vals {
					cv, err := coerce(field, v, spec, schema != nil)
					if err != nil {
						return Params{}, err
					}
					in = append(in, cv)
				}
				mergeCondition(p.Filter, field, "$in", in)
				continue
			}
			cv, err := coerce(field, last, spec, schema != nil)
			if err != nil {
				return Params{}, err
			}
			mergeCondition(p.Filter, field, "", cv)
			continue
		}

		cv, err := coerce(field, last, spec, schema != nil)
		if err != nil {
			return Params{}, err
		}
		mergeCondition(p.Filter, field, operators[op], cv)
	}
	if !p.skippable() {
		return Params{}, errors.CastError("page", strconv.FormatInt(p.Page, 10))
	}
	return p, nil
}

// skippable reports whether the documents before Page fit in a skip count.
func (p Params) skippable() bool {
	return p.Page < 1 || p.Limit < 1 || p.Page-1 <= math.MaxInt64/p.Limit
}

func (p *Params) setReserved(key, value string, schema Schema) error {
	switch key {
	case "page":
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		p.Page = n
	case "limit":
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		p.Limit = n
	case "sort":
		specs := splitList(value)
		for _, s := range specs {
			if _, err := lookup(schema, strings.TrimPrefix(s, "-")); err != nil {
				return err
			}
		}
		p.Sort = specs
	case "fields":
		fields := splitList(value)
		for _, f := range fields {
			if f == VersionField {
				continue
			}
			if _, err := lookup(schema, f); err != nil {
				return err
			}
		}
		p.Fields = fields
	}
	return nil
}

func positiveInt(key, value string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 1 {
		return 0, errors.CastError(key, value)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitKey parses "price" or "price[gte]".
func splitKey(key string) (field, op string, err error) {
	field = key
	if i := strings.IndexByte(key, '['); i >= 0 {
		if !strings.HasSuffix(key, "]") || i == 0 {
			return "", "", errors.BadRequest("Invalid query parameter: %s", key)
		}
		field, op = key[:i], key[i+1:len(key)-1]
		if _, ok := operators[op]; !ok {
			return "", "", errors.BadRequest("Unsupported operator %q on %s", op, field)
		}
	}
	if field == "" || strings.ContainsAny(field, "$[]") {
		return "", "", errors.BadRequest("Invalid query parameter: %s", key)
	}
	return field, op, nil
}

func lookup(schema Schema, field string) (Field, error) {
	if field == "" || strings.HasPrefix(field, "$") {
		return Field{}, errors.BadRequest("Invalid field name: %q", field)
	}
	if schema == nil {
		return Field{}, nil
	}
	spec, ok := schema[field]
	if !ok {
		return Field{}, errors.BadRequest("Unknown field: %s", field)
	}
	return spec, nil
}

func coerce(field, raw string, spec Field, typed bool) (any, error) {
	if !typed {
		return infer(raw), nil
	}
	switch spec.Kind {
	case Number:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.CastError(field, raw)
		}
		return f, nil
	case Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.CastError(field, raw)
		}
		return b, nil
	case Date:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return nil, errors.CastError(field, raw)
	case ObjectID:
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return nil, errors.CastError(field, raw)
		}
		return id, nil
	default:
		return raw, nil
	}
}

func infer(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return b
	}
	return raw
}

// mergeCondition adds one predicate on field. An equality next to operators is
// kept as $eq so neither side is lost.
func mergeCondition(filter bson.M, field, op string, value any) {
	existing, has := filter[field]
	if op == "" {
		if ops, ok := existing.(bson.M); ok {
			ops["$eq"] = value
			return
		}
		filter[field] = value
		return
	}
	ops, ok := existing.(bson.M)
	if !ok {
		ops = bson.M{}
		if has {
			ops["$eq"] = existing
		}
		filter[field] = ops
	}
	ops[op] = value
}
