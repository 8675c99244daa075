package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-tours/models"
	"go-tours/store"
	"go-tours/utils/apifeatures"
	"go-tours/utils/errors"
	"go-tours/utils/validation"
)

// Entity is satisfied by pointers to the stored models.
type Entity[T any] interface {
	*T
	Meta() *models.Base
}

// ErrConflict is returned when a document changed between read and replace.
var ErrConflict = errors.New("The document was modified by another request. Please try again.", http.StatusConflict)

// Repository is the store side of the generic CRUD factory. The hooks run in
// this order: CheckPatch, Prepare, validation, write, AfterWrite. Reads return
// bson.M so field projections survive; writes go through the typed model.
type Repository[T any, PT Entity[T]] struct {
	Name   string
	Coll   store.Collection
	Schema apifeatures.Schema
	// Hidden fields are never projected.
	Hidden []string
	// Scope is AND-ed into every read, update and delete.
	Scope bson.M

	Prepare    func(ctx context.Context, e PT, creating bool) error
	AfterWrite func(ctx context.Context, before, after PT) error
	CheckPatch func(patch map[string]json.RawMessage) error
	// Decorate adds derived fields to every document returned.
	Decorate func(doc bson.M)
	// Populate resolves references. It runs on Get when asked to, and on List
	// when PopulateList is set.
	Populate     func(ctx context.Context, docs []bson.M) error
	PopulateList bool

	Now func() time.Time
}

func (r *Repository[T, PT]) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Create stores e and returns its public representation.
func (r *Repository[T, PT]) Create(ctx context.Context, e PT) (bson.M, error) {
	meta := e.Meta()
	now := r.now()
	meta.ID = primitive.NewObjectID()
	meta.Version = 0
	meta.CreatedAt = now
	meta.UpdatedAt = now

	if r.Prepare != nil {
		if err := r.Prepare(ctx, e, true); err != nil {
			return nil, err
		}
	}
	if err := validation.Struct(e); err != nil {
		return nil, err
	}
	if _, err := r.Coll.InsertOne(ctx, e); err != nil {
		return nil, errors.Translate(err)
	}
	slog.Debug("Document created", "collection", r.Name, "id", meta.ID.Hex())

	if r.AfterWrite != nil {
		if err := r.AfterWrite(ctx, nil, e); err != nil {
			return nil, err
		}
	}
	return r.Document(e)
}

// Get returns one document by id.
func (r *Repository[T, PT]) Get(ctx context.Context, id string, populate bool) (bson.M, error) {
	oid, err := models.ParseID("_id", id)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = r.Coll.FindOne(ctx, r.byID(oid), options.FindOne().SetProjection(r.exclusion())).Decode(&doc)
	if err != nil {
		return nil, errors.Translate(err)
	}
	docs := []bson.M{doc}
	if populate && r.Populate != nil {
		if err := r.Populate(ctx, docs); err != nil {
			return nil, err
		}
	}
	r.decorate(docs)
	return doc, nil
}

// List runs a translated query inside the scope and base filter.
func (r *Repository[T, PT]) List(ctx context.Context, base bson.M, params apifeatures.Params) ([]bson.M, error) {
	docs := []bson.M{}
	err := apifeatures.New(apifeatures.And(r.Scope, base), params).
		Hide(r.Hidden...).
		Filter().
		Sort().
		LimitFields().
		Paginate().
		Find(ctx, r.Coll, &docs)
	if err != nil {
		return nil, errors.Translate(err)
	}
	if r.PopulateList && r.Populate != nil {
		if err := r.Populate(ctx, docs); err != nil {
			return nil, err
		}
	}
	r.decorate(docs)
	return docs, nil
}

// Update merges a JSON patch onto the stored entity, validates the result and
// replaces it. The replace only matches the version that was read.
func (r *Repository[T, PT]) Update(ctx context.Context, id string, patch []byte) (bson.M, error) {
	oid, err := models.ParseID("_id", id)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, errors.Translate(err)
	}
	if r.CheckPatch != nil {
		if err := r.CheckPatch(fields); err != nil {
			return nil, err
		}
	}

	before, err := r.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}
	after, err := clone(before)
	if err != nil {
		return nil, err
	}
	stored := *before.Meta()
	if err := json.Unmarshal(patch, after); err != nil {
		return nil, errors.Translate(err)
	}
	return r.replace(ctx, before, after, stored)
}

// Save replaces e after running Prepare and validation. Domain mutations that
// change a loaded entity use it instead of Update.
func (r *Repository[T, PT]) Save(ctx context.Context, e PT) error {
	_, err := r.replace(ctx, nil, e, *e.Meta())
	return err
}

func (r *Repository[T, PT]) replace(ctx context.Context, before, after PT, stored models.Base) (bson.M, error) {
	meta := after.Meta()
	meta.ID = stored.ID
	meta.CreatedAt = stored.CreatedAt
	meta.Version = stored.Version + 1
	meta.UpdatedAt = r.now()

	if r.Prepare != nil {
		if err := r.Prepare(ctx, after, false); err != nil {
			return nil, err
		}
	}
	if err := validation.Struct(after); err != nil {
		return nil, err
	}
	res, err := r.Coll.ReplaceOne(ctx, bson.M{"_id": stored.ID, apifeatures.VersionField: stored.Version}, after)
	if err != nil {
		return nil, errors.Translate(err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrConflict
	}
	if r.AfterWrite != nil {
		if err := r.AfterWrite(ctx, before, after); err != nil {
			return nil, err
		}
	}
	return r.Document(after)
}

// Delete removes one document by id.
func (r *Repository[T, PT]) Delete(ctx context.Context, id string) error {
	oid, err := models.ParseID("_id", id)
	if err != nil {
		return err
	}
	var e T
	if err := r.Coll.FindOneAndDelete(ctx, r.byID(oid)).Decode(&e); err != nil {
		return errors.Translate(err)
	}
	slog.Debug("Document deleted", "collection", r.Name, "id", oid.Hex())
	if r.AfterWrite != nil {
		return r.AfterWrite(ctx, PT(&e), nil)
	}
	return nil
}

// FindOne loads a typed entity matching filter inside the scope.
func (r *Repository[T, PT]) FindOne(ctx context.Context, filter bson.M) (PT, error) {
	var e T
	if err := r.Coll.FindOne(ctx, apifeatures.And(r.Scope, filter)).Decode(&e); err != nil {
		return nil, errors.Translate(err)
	}
	return PT(&e), nil
}

// Document renders e the way reads do: hidden fields and the version dropped.
func (r *Repository[T, PT]) Document(e PT) (bson.M, error) {
	raw, err := bson.Marshal(e)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, apifeatures.VersionField)
	for _, h := range r.Hidden {
		delete(doc, h)
	}
	r.decorate([]bson.M{doc})
	return doc, nil
}

func (r *Repository[T, PT]) byID(id primitive.ObjectID) bson.M {
	return apifeatures.And(r.Scope, bson.M{"_id": id})
}

func (r *Repository[T, PT]) exclusion() bson.D {
	proj := bson.D{{Key: apifeatures.VersionField, Value: 0}}
	for _, h := range r.Hidden {
		proj = append(proj, bson.E{Key: h, Value: 0})
	}
	return proj
}

func (r *Repository[T, PT]) decorate(docs []bson.M) {
	if r.Decorate == nil {
		return
	}
	for _, d := range docs {
		r.Decorate(d)
	}
}

func clone[T any, PT Entity[T]](e PT) (PT, error) {
	raw, err := bson.Marshal(e)
	if err != nil {
		return nil, err
	}
	var out T
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return PT(&out), nil
}
