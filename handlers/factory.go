package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"

	"go-tours/middleware"
	"go-tours/services"
	"go-tours/utils/apifeatures"
	"go-tours/utils/errors"
)

// Repository is the store side a Factory drives.
type Repository[T any, PT services.Entity[T]] interface {
	Create(ctx context.Context, e PT) (bson.M, error)
	Get(ctx context.Context, id string, populate bool) (bson.M, error)
	List(ctx context.Context, base bson.M, params apifeatures.Params) ([]bson.M, error)
	Update(ctx context.Context, id string, patch []byte) (bson.M, error)
	Delete(ctx context.Context, id string) error
}

// Factory builds the five standard handlers of one resource.
type Factory[T any, PT services.Entity[T]] struct {
	Repo   Repository[T, PT]
	Schema apifeatures.Schema
	// Populate resolves references on getOne.
	Populate bool
	// BaseFilter scopes getAll by the route, nested reviews use it.
	BaseFilter func(r *http.Request) (bson.M, error)
	// BeforeCreate sets fields that come from the route or the caller.
	BeforeCreate func(r *http.Request, e PT) error
}

func (f *Factory[T, PT]) CreateOne() middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		e := PT(new(T))
		if err := decodeJSON(r, e); err != nil {
			return err
		}
		if f.BeforeCreate != nil {
			if err := f.BeforeCreate(r, e); err != nil {
				return err
			}
		}
		doc, err := f.Repo.Create(r.Context(), e)
		if err != nil {
			return err
		}
		return success(w, http.StatusCreated, doc)
	}
}

func (f *Factory[T, PT]) GetOne() middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		doc, err := f.Repo.Get(r.Context(), mux.Vars(r)["id"], f.Populate)
		if err != nil {
			return err
		}
		return success(w, http.StatusOK, doc)
	}
}

func (f *Factory[T, PT]) GetAll() middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var base bson.M
		if f.BaseFilter != nil {
			var err error
			if base, err = f.BaseFilter(r); err != nil {
				return err
			}
		}
		params, err := apifeatures.ParseParams(r.URL.Query(), f.Schema)
		if err != nil {
			return err
		}
		docs, err := f.Repo.List(r.Context(), base, params)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"results": len(docs),
			"data":    map[string]any{"data": docs},
		})
	}
}

func (f *Factory[T, PT]) UpdateOne() middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		patch, err := io.ReadAll(r.Body)
		if err != nil {
			return errors.Translate(err)
		}
		doc, err := f.Repo.Update(r.Context(), mux.Vars(r)["id"], patch)
		if err != nil {
			return err
		}
		return success(w, http.StatusOK, doc)
	}
}

func (f *Factory[T, PT]) DeleteOne() middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if err := f.Repo.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "The document has been deleted.",
		})
	}
}
