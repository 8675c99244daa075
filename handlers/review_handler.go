package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-tours/middleware"
	"go-tours/models"
	"go-tours/services"
)

type ReviewHandler struct {
	reviewService *services.ReviewService
	*Factory[models.Review, *models.Review]
}

// NewReviewHandler serves both /reviews and /tours/{tourId}/reviews.
func NewReviewHandler(reviewService *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
		Factory: &Factory[models.Review, *models.Review]{
			Repo:         reviewService,
			Schema:       models.ReviewSchema,
			BaseFilter:   tourFilter,
			BeforeCreate: setReviewOwners,
		},
	}
}

// tourFilter scopes nested listings to the tour in the path.
func tourFilter(r *http.Request) (bson.M, error) {
	tourID, ok := mux.Vars(r)["tourId"]
	if !ok {
		return nil, nil
	}
	oid, err := models.ParseID("tourId", tourID)
	if err != nil {
		return nil, err
	}
	return bson.M{"tour": oid}, nil
}

// setReviewOwners takes the tour from the path when nested and always makes
// the caller the author.
func setReviewOwners(r *http.Request, review *models.Review) error {
	if tourID, ok := mux.Vars(r)["tourId"]; ok {
		oid, err := models.ParseID("tourId", tourID)
		if err != nil {
			return err
		}
		review.Tour = oid
	}
	p, err := principal(r)
	if err != nil {
		return err
	}
	review.User = p.ID
	return nil
}

// AuthorOnly guards update and delete: admins pass, users only for their own reviews.
func (h *ReviewHandler) AuthorOnly(next middleware.HandlerFunc) middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		p, err := principal(r)
		if err != nil {
			return err
		}
		if err := h.reviewService.CheckAuthor(r.Context(), p, mux.Vars(r)["id"]); err != nil {
			return err
		}
		return next(w, r)
	}
}

// InTour hides reviews of other tours behind /tours/{tourId}/reviews/{id}.
// Unnested routes pass straight through.
func (h *ReviewHandler) InTour(next middleware.HandlerFunc) middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		scope, err := tourFilter(r)
		if err != nil {
			return err
		}
		if scope != nil {
			tourID := scope["tour"].(primitive.ObjectID)
			if err := h.reviewService.CheckTour(r.Context(), mux.Vars(r)["id"], tourID); err != nil {
				return err
			}
		}
		return next(w, r)
	}
}
