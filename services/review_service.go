package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-tours/models"
	"go-tours/store"
	"go-tours/utils/auth"
	"go-tours/utils/errors"
)

var (
	ErrNotReviewAuthor = errors.Forbidden("You can only change your own reviews.")
	ErrReviewOwners    = errors.BadRequest("The tour and author of a review cannot be changed.")
)

type ReviewService struct {
	*Repository[models.Review, *models.Review]
	tours store.Collection
	users store.Collection
}

func NewReviewService(reviews, tours, users store.Collection) *ReviewService {
	s := &ReviewService{tours: tours, users: users}
	s.Repository = &Repository[models.Review, *models.Review]{
		Name:         store.ReviewsCollection,
		Coll:         reviews,
		Schema:       models.ReviewSchema,
		Prepare:      s.prepare,
		AfterWrite:   s.afterWrite,
		CheckPatch:   fixedOwners,
		Populate:     func(ctx context.Context, docs []bson.M) error { return populateReviewUsers(ctx, users, docs) },
		PopulateList: true,
	}
	return s
}

func (s *ReviewService) prepare(ctx context.Context, r *models.Review, creating bool) error {
	r.Review = strings.TrimSpace(r.Review)
	if r.Tour.IsZero() {
		return nil
	}
	err := s.tours.FindOne(ctx, bson.M{"_id": r.Tour}, options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errors.NotFound("No tour found with that ID")
	}
	return errors.Translate(err)
}

func fixedOwners(patch map[string]json.RawMessage) error {
	for _, k := range []string{"tour", "user"} {
		if _, ok := patch[k]; ok {
			return ErrReviewOwners
		}
	}
	return nil
}

// afterWrite keeps the rating summary of every tour the write touched current.
func (s *ReviewService) afterWrite(ctx context.Context, before, after *models.Review) error {
	touched := map[primitive.ObjectID]bool{}
	for _, r := range []*models.Review{before, after} {
		if r != nil && !r.Tour.IsZero() && !touched[r.Tour] {
			touched[r.Tour] = true
			if err := s.CalcAverageRatings(ctx, r.Tour); err != nil {
				return err
			}
		}
	}
	return nil
}

// CalcAverageRatings recomputes ratingsQuantity and ratingsAverage of a tour
// from all of its reviews. With no reviews left both become 0.
func (s *ReviewService) CalcAverageRatings(ctx context.Context, tourID primitive.ObjectID) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"tour": tourID}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$tour"},
			{Key: "nRating", Value: bson.M{"$sum": 1}},
			{Key: "avgRating", Value: bson.M{"$avg": "$rating"}},
		}}},
	}
	cur, err := s.Coll.Aggregate(ctx, pipeline)
	if err != nil {
		return errors.Translate(err)
	}
	defer cur.Close(ctx)
	var stats []bson.M
	if err := cur.All(ctx, &stats); err != nil {
		return err
	}

	quantity, average := 0.0, 0.0
	if len(stats) > 0 {
		quantity, _ = number(stats[0]["nRating"])
		average, _ = number(stats[0]["avgRating"])
	}
	update := bson.M{
		"$set": bson.M{
			"ratingsQuantity": int(quantity),
			"ratingsAverage":  models.RoundRating(average),
		},
		"$inc": bson.M{"__v": 1},
	}
	if _, err := s.tours.UpdateOne(ctx, bson.M{"_id": tourID}, update); err != nil {
		slog.Error("Failed to update tour ratings", "tour", tourID.Hex(), "error", err)
		return errors.Translate(err)
	}
	return nil
}

// CheckAuthor lets admins through and everybody else only onto their own reviews.
func (s *ReviewService) CheckAuthor(ctx context.Context, p auth.Principal, reviewID string) error {
	if p.HasRole(models.RoleAdmin) {
		return nil
	}
	oid, err := models.ParseID("_id", reviewID)
	if err != nil {
		return err
	}
	review, err := s.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if review.User != p.ID {
		return ErrNotReviewAuthor
	}
	return nil
}

// CheckTour fails with not found unless the review belongs to tourID.
func (s *ReviewService) CheckTour(ctx context.Context, reviewID string, tourID primitive.ObjectID) error {
	oid, err := models.ParseID("_id", reviewID)
	if err != nil {
		return err
	}
	_, err = s.FindOne(ctx, bson.M{"_id": oid, "tour": tourID})
	return err
}

// populateReviewUsers replaces each review's user id with the author's name and photo.
func populateReviewUsers(ctx context.Context, users store.Collection, reviews []bson.M) error {
	ids := bson.A{}
	seen := map[primitive.ObjectID]bool{}
	for _, r := range reviews {
		if id, ok := r["user"].(primitive.ObjectID); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var found []bson.M
	proj := bson.D{{Key: "name", Value: 1}, {Key: "photo", Value: 1}}
	if err := findAll(ctx, users, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(proj), &found); err != nil {
		return err
	}
	byID := make(map[primitive.ObjectID]bson.M, len(found))
	for _, u := range found {
		if id, ok := u["_id"].(primitive.ObjectID); ok {
			byID[id] = u
		}
	}
	for _, r := range reviews {
		if id, ok := r["user"].(primitive.ObjectID); ok {
			if u, ok := byID[id]; ok {
				r["user"] = u
			}
		}
	}
	return nil
}
