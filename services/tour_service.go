package services

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-tours/models"
	"go-tours/store"
	"go-tours/utils/errors"
)

const (
	earthRadiusMiles = 3963.2
	earthRadiusKm    = 6378.1

	metersToMiles = 0.000621371
	metersToKm    = 0.001
)

// SecretScope hides secret tours from every tour read.
var SecretScope = bson.M{"secretTour": bson.M{"$ne": true}}

type TourService struct {
	*Repository[models.Tour, *models.Tour]
	users   store.Collection
	reviews store.Collection
}

func NewTourService(tours, users, reviews store.Collection) *TourService {
	s := &TourService{users: users, reviews: reviews}
	s.Repository = &Repository[models.Tour, *models.Tour]{
		Name:     store.ToursCollection,
		Coll:     tours,
		Schema:   models.TourSchema,
		Scope:    SecretScope,
		Prepare:  s.prepare,
		Decorate: decorateTour,
		Populate: s.populate,
	}
	return s
}

func (s *TourService) prepare(ctx context.Context, t *models.Tour, creating bool) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Summary = strings.TrimSpace(t.Summary)
	t.Description = strings.TrimSpace(t.Description)
	t.Slug = slug.Make(t.Name)

	if creating && t.RatingsAverage == 0 {
		t.RatingsAverage = models.DefaultRatingsAverage
	}
	// 0 is only valid as the value left behind when the last review goes.
	if t.RatingsAverage != 0 && t.RatingsAverage < 1 {
		return errors.ValidationError([]string{"ratingsAverage must be at least 1"})
	}
	t.RatingsAverage = models.RoundRating(t.RatingsAverage)

	if t.Images == nil {
		t.Images = []string{}
	}
	if t.StartDates == nil {
		t.StartDates = []time.Time{}
	}
	if t.Locations == nil {
		t.Locations = []models.Location{}
	}
	if t.Guides == nil {
		t.Guides = []primitive.ObjectID{}
	}
	if t.StartLocation != nil && t.StartLocation.Type == "" {
		t.StartLocation.Type = "Point"
	}
	for i := range t.Locations {
		if t.Locations[i].Type == "" {
			t.Locations[i].Type = "Point"
		}
	}
	return s.checkGuides(ctx, t.Guides)
}

// checkGuides accepts only existing users with a guiding role.
func (s *TourService) checkGuides(ctx context.Context, guides []primitive.ObjectID) error {
	if len(guides) == 0 {
		return nil
	}
	unique := map[primitive.ObjectID]bool{}
	ids := bson.A{}
	for _, g := range guides {
		if !unique[g] {
			unique[g] = true
			ids = append(ids, g)
		}
	}
	filter := bson.M{
		"_id":  bson.M{"$in": ids},
		"role": bson.M{"$in": bson.A{models.RoleGuide, models.RoleLeadGuide}},
	}
	var found []bson.M
	if err := findAll(ctx, s.users, filter, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}), &found); err != nil {
		return err
	}
	if len(found) != len(ids) {
		return errors.BadRequest("Guides must be existing users with the guide or lead-guide role")
	}
	return nil
}

// populate replaces guide ids with guide profiles and attaches the tour's reviews.
func (s *TourService) populate(ctx context.Context, docs []bson.M) error {
	for _, doc := range docs {
		if guides, ok := doc["guides"].(bson.A); ok && len(guides) > 0 {
			var users []bson.M
			proj := bson.D{{Key: "name", Value: 1}, {Key: "email", Value: 1}, {Key: "photo", Value: 1}, {Key: "role", Value: 1}}
			if err := findAll(ctx, s.users, bson.M{"_id": bson.M{"$in": guides}}, options.Find().SetProjection(proj), &users); err != nil {
				return err
			}
			doc["guides"] = orderByID(guides, users)
		}

		var reviews []bson.M
		opts := options.Find().SetProjection(bson.D{{Key: "__v", Value: 0}}).SetSort(bson.D{{Key: "createdAt", Value: -1}})
		if err := findAll(ctx, s.reviews, bson.M{"tour": doc["_id"]}, opts, &reviews); err != nil {
			return err
		}
		if err := populateReviewUsers(ctx, s.users, reviews); err != nil {
			return err
		}
		if reviews == nil {
			reviews = []bson.M{}
		}
		doc["reviews"] = reviews
	}
	return nil
}

func decorateTour(doc bson.M) {
	if d, ok := number(doc["duration"]); ok {
		doc["durationWeeks"] = models.DurationWeeks(d)
	}
}

// Stats groups well rated tours by difficulty.
func (s *TourService) Stats(ctx context.Context) ([]bson.M, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$and": bson.A{SecretScope, bson.M{"ratingsAverage": bson.M{"$gte": 4.5}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.M{"$toUpper": "$difficulty"}},
			{Key: "numTours", Value: bson.M{"$sum": 1}},
			{Key: "numRatings", Value: bson.M{"$sum": "$ratingsQuantity"}},
			{Key: "avgRating", Value: bson.M{"$avg": "$ratingsAverage"}},
			{Key: "avgPrice", Value: bson.M{"$avg": "$price"}},
			{Key: "minPrice", Value: bson.M{"$min": "$price"}},
			{Key: "maxPrice", Value: bson.M{"$max": "$price"}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "avgPrice", Value: 1}}}},
	}
	return s.aggregate(ctx, pipeline)
}

// MonthlyPlan counts tour starts per month of year, busiest month first.
func (s *TourService) MonthlyPlan(ctx context.Context, year int) ([]bson.M, error) {
	if year < 1 || year > 9999 {
		return nil, errors.CastError("year", strconv.Itoa(year))
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: SecretScope}},
		{{Key: "$unwind", Value: "$startDates"}},
		{{Key: "$match", Value: bson.M{"startDates": bson.M{"$gte": from, "$lt": to}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.M{"$month": "$startDates"}},
			{Key: "numTourStarts", Value: bson.M{"$sum": 1}},
			{Key: "tours", Value: bson.M{"$push": "$name"}},
		}}},
		{{Key: "$addFields", Value: bson.M{"month": "$_id"}}},
		{{Key: "$project", Value: bson.M{"_id": 0}}},
		{{Key: "$sort", Value: bson.D{{Key: "numTourStarts", Value: -1}, {Key: "month", Value: 1}}}},
		{{Key: "$limit", Value: 12}},
	}
	return s.aggregate(ctx, pipeline)
}

// Within returns tours whose start location lies inside the circle.
func (s *TourService) Within(ctx context.Context, distance float64, center Center, unit string) ([]bson.M, error) {
	radius, err := radiusFor(distance, unit)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"$and": bson.A{SecretScope, bson.M{
		"startLocation": bson.M{"$geoWithin": bson.M{
			"$centerSphere": bson.A{bson.A{center.Lng, center.Lat}, radius},
		}},
	}}}
	docs := []bson.M{}
	if err := findAll(ctx, s.Coll, filter, options.Find().SetProjection(s.exclusion()), &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		decorateTour(d)
	}
	return docs, nil
}

// Distances returns every tour with its distance from center, nearest first.
func (s *TourService) Distances(ctx context.Context, center Center, unit string) ([]bson.M, error) {
	multiplier, err := multiplierFor(unit)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.M{
			"near":               bson.M{"type": "Point", "coordinates": bson.A{center.Lng, center.Lat}},
			"distanceField":      "distance",
			"distanceMultiplier": multiplier,
			"query":              SecretScope,
		}}},
		{{Key: "$project", Value: bson.M{"distance": 1, "name": 1}}},
	}
	return s.aggregate(ctx, pipeline)
}

func (s *TourService) aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]bson.M, error) {
	cur, err := s.Coll.Aggregate(ctx, pipeline)
	if err != nil {
		slog.Error("Tour aggregation failed", "error", err)
		return nil, errors.Translate(err)
	}
	defer cur.Close(ctx)
	out := []bson.M{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Center is a point given as "lat,lng" in a path.
type Center struct {
	Lat float64
	Lng float64
}

// ParseCenter parses "lat,lng" and checks both are in range.
func ParseCenter(latlng string) (Center, error) {
	bad := errors.BadRequest("Please provide latitude and longitude in the format lat,lng.")
	parts := strings.Split(latlng, ",")
	if len(parts) != 2 {
		return Center{}, bad
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Center{}, bad
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Center{}, bad
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Center{}, bad
	}
	return Center{Lat: lat, Lng: lng}, nil
}

// radiusFor converts a distance into radians on the earth's surface.
func radiusFor(distance float64, unit string) (float64, error) {
	if distance <= 0 {
		return 0, errors.CastError("distance", strconv.FormatFloat(distance, 'f', -1, 64))
	}
	switch unit {
	case "mi":
		return distance / earthRadiusMiles, nil
	case "km":
		return distance / earthRadiusKm, nil
	}
	return 0, errors.BadRequest("Unit must be either mi or km.")
}

func multiplierFor(unit string) (float64, error) {
	switch unit {
	case "mi":
		return metersToMiles, nil
	case "km":
		return metersToKm, nil
	}
	return 0, errors.BadRequest("Unit must be either mi or km.")
}

func findAll(ctx context.Context, coll store.Collection, filter bson.M, opts *options.FindOptions, out interface{}) error {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return errors.Translate(err)
	}
	defer cur.Close(ctx)
	return cur.All(ctx, out)
}

// orderByID returns docs in the order of ids, dropping ids with no document.
func orderByID(ids bson.A, docs []bson.M) bson.A {
	byID := make(map[primitive.ObjectID]bson.M, len(docs))
	for _, d := range docs {
		if id, ok := d["_id"].(primitive.ObjectID); ok {
			byID[id] = d
		}
	}
	out := bson.A{}
	for _, id := range ids {
		if oid, ok := id.(primitive.ObjectID); ok {
			if d, ok := byID[oid]; ok {
				out = append(out, d)
			}
		}
	}
	return out
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
