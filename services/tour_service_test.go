package services

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-tours/models"
	"go-tours/store"
	"go-tours/store/storetest"
	"go-tours/utils/apifeatures"
	"go-tours/utils/errors"
)

func statusOf(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr), "expected an AppError, got %v", err)
	return appErr.StatusCode
}

func TestTourService_Create(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	doc, err := f.tourService.Create(context.Background(), validTour("  The Forest Hiker  "))
	require.NoError(t, err)

	assert.Equal(t, "The Forest Hiker", doc["name"])
	assert.Equal(t, "the-forest-hiker", doc["slug"])
	assert.Equal(t, models.DefaultRatingsAverage, doc["ratingsAverage"])
	assert.InDelta(t, 5.0/7.0, doc["durationWeeks"], 1e-9)
	assert.NotContains(t, doc, apifeatures.VersionField)

	stored := f.tourDoc(t, doc["_id"].(primitive.ObjectID))
	assert.EqualValues(t, 0, stored[apifeatures.VersionField])
	assert.Equal(t, "Point", stored["startLocation"].(bson.M)["type"])
	assert.NotContains(t, stored, "durationWeeks")
}

func TestTourService_CreateRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.createTour(t, "The Forest Hiker")

	short := validTour("Hiker")

	discount := validTour("The Sea Explorer")
	discount.PriceDiscount = 500

	unknownGuide := validTour("The Snow Adventurer")
	unknownGuide.Guides = []primitive.ObjectID{primitive.NewObjectID()}

	plainUser := validTour("The City Wanderer")
	plainUser.Guides = []primitive.ObjectID{f.seedUser(models.RoleUser)}

	lowRating := validTour("The Park Camper")
	lowRating.RatingsAverage = 0.5

	tests := []struct {
		name    string
		tour    *models.Tour
		message string
	}{
		{"name too short", short, "name must have at least 10 characters"},
		{"discount above price", discount, "Discount price (500) should be below regular price"},
		{"duplicate name", validTour("The Forest Hiker"), `Duplicate field value: "The Forest Hiker"`},
		{"unknown guide", unknownGuide, "Guides must be existing users"},
		{"guide without guiding role", plainUser, "Guides must be existing users"},
		{"rating below one", lowRating, "ratingsAverage must be at least 1"},
	}
	for _, tt := range tests {
		_, err := f.tourService.Create(ctx, tt.tour)
		assert.Equal(t, http.StatusBadRequest, statusOf(t, err), tt.name)
		assert.Contains(t, err.Error(), tt.message, tt.name)
	}
	assert.Len(t, f.tours.Docs(), 1)
}

func TestTourService_GetPopulates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	lead := f.seedUser(models.RoleLeadGuide)
	guide := f.seedUser(models.RoleGuide)
	author := f.seedUser(models.RoleUser)

	tour := validTour("The Forest Hiker")
	tour.Guides = []primitive.ObjectID{guide, lead}
	created, err := f.tourService.Create(ctx, tour)
	require.NoError(t, err)
	id := created["_id"].(primitive.ObjectID)

	_, err = f.reviewService.Create(ctx, &models.Review{Review: "Great", Rating: 5, Tour: id, User: author})
	require.NoError(t, err)

	doc, err := f.tourService.Get(ctx, id.Hex(), true)
	require.NoError(t, err)

	guides := doc["guides"].(bson.A)
	require.Len(t, guides, 2)
	assert.Equal(t, guide, guides[0].(bson.M)["_id"])
	assert.Equal(t, lead, guides[1].(bson.M)["_id"])
	assert.NotContains(t, guides[0].(bson.M), "password")

	reviews := doc["reviews"].([]bson.M)
	require.Len(t, reviews, 1)
	assert.Equal(t, "User user", reviews[0]["user"].(bson.M)["name"])

	plain, err := f.tourService.Get(ctx, id.Hex(), false)
	require.NoError(t, err)
	assert.NotContains(t, plain, "reviews")
	assert.Equal(t, bson.A{guide, lead}, plain["guides"])
}

func TestTourService_GetErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tourService.Get(ctx, primitive.NewObjectID().Hex(), false)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	_, err = f.tourService.Get(ctx, "not-an-id", false)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	assert.EqualError(t, err, "Invalid _id: not-an-id.")
}

func TestTourService_SecretToursAreHidden(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	visible := f.createTour(t, "The Forest Hiker")
	secret := validTour("The Secret Explorer")
	secret.SecretTour = true
	doc, err := f.tourService.Create(ctx, secret)
	require.NoError(t, err)

	list, err := f.tourService.List(ctx, nil, apifeatures.Params{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, visible, list[0]["_id"])

	_, err = f.tourService.Get(ctx, doc["_id"].(primitive.ObjectID).Hex(), false)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestTourService_ListQuery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name  string
		price float64
	}{{"The Forest Hiker", 397}, {"The Sea Explorer", 497}, {"The Snow Adventurer", 997}} {
		tour := validTour(tc.name)
		tour.Price = tc.price
		_, err := f.tourService.Create(ctx, tour)
		require.NoError(t, err)
	}

	params, err := apifeatures.ParseParams(url.Values{
		"price[lt]": {"1000"},
		"sort":      {"-price"},
		"fields":    {"name,price"},
		"limit":     {"2"},
	}, models.TourSchema)
	require.NoError(t, err)

	docs, err := f.tourService.List(ctx, nil, params)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "The Snow Adventurer", docs[0]["name"])
	assert.Equal(t, "The Sea Explorer", docs[1]["name"])
	assert.NotContains(t, docs[0], "summary")
}

func TestTourService_Update(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := f.createTour(t, "The Forest Hiker")

	doc, err := f.tourService.Update(ctx, id.Hex(), []byte(`{"name":"The Forest Walker","price":450}`))
	require.NoError(t, err)
	assert.Equal(t, "the-forest-walker", doc["slug"])
	assert.Equal(t, 450.0, doc["price"])
	assert.Equal(t, "easy", doc["difficulty"], "fields missing from the patch are kept")

	stored := f.tourDoc(t, id)
	assert.EqualValues(t, 1, stored[apifeatures.VersionField])
	assert.Equal(t, "The Forest Walker", stored["name"])

	_, err = f.tourService.Update(ctx, id.Hex(), []byte(`{"difficulty":"extreme"}`))
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	assert.Equal(t, "easy", f.tourDoc(t, id)["difficulty"])

	_, err = f.tourService.Update(ctx, id.Hex(), []byte(`{"price":"cheap"}`))
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = f.tourService.Update(ctx, primitive.NewObjectID().Hex(), []byte(`{"price":1}`))
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

// racingCollection bumps the stored version right before every replace.
type racingCollection struct {
	*storetest.Collection
}

func (c racingCollection) ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	id := filter.(bson.M)["_id"]
	if _, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"__v": 1}}); err != nil {
		return nil, err
	}
	return c.Collection.ReplaceOne(ctx, filter, replacement, opts...)
}

func TestTourService_UpdateConflict(t *testing.T) {
	t.Parallel()
	tours := storetest.New(store.ToursCollection)
	s := NewTourService(racingCollection{tours}, storetest.New(store.UsersCollection), storetest.New(store.ReviewsCollection))
	ctx := context.Background()

	doc, err := s.Create(ctx, validTour("The Forest Hiker"))
	require.NoError(t, err)

	_, err = s.Update(ctx, doc["_id"].(primitive.ObjectID).Hex(), []byte(`{"price":450}`))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 397.0, tours.Docs()[0]["price"])
}

func TestTourService_Delete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := f.createTour(t, "The Forest Hiker")

	require.NoError(t, f.tourService.Delete(ctx, id.Hex()))
	assert.Empty(t, f.tours.Docs())

	err := f.tourService.Delete(ctx, id.Hex())
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestTourService_Aggregations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.tours.AggregateFunc = func(interface{}) []bson.M {
		return []bson.M{{"_id": "EASY", "numTours": 3}}
	}

	stats, err := f.tourService.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EASY", stats[0]["_id"])

	_, err = f.tourService.MonthlyPlan(ctx, 2021)
	require.NoError(t, err)
	_, err = f.tourService.MonthlyPlan(ctx, 0)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = f.tourService.Distances(ctx, Center{Lat: 34.1, Lng: -118.1}, "mi")
	require.NoError(t, err)
	_, err = f.tourService.Distances(ctx, Center{}, "ft")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	require.Len(t, f.tours.Pipelines, 3)
	geoNear := f.tours.Pipelines[2].(mongo.Pipeline)[0][0]
	assert.Equal(t, "$geoNear", geoNear.Key)
	assert.Equal(t, metersToMiles, geoNear.Value.(bson.M)["distanceMultiplier"])
}

func TestTourService_Within(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	docs, err := f.tourService.Within(ctx, 250, Center{Lat: 34.11, Lng: -118.11}, "mi")
	require.NoError(t, err)
	assert.NotNil(t, docs)

	sphere := f.tours.LastFilter["$and"].(bson.A)[1].(bson.M)["startLocation"].(bson.M)["$geoWithin"].(bson.M)["$centerSphere"].(bson.A)
	assert.Equal(t, bson.A{-118.11, 34.11}, sphere[0])
	assert.InDelta(t, 250/earthRadiusMiles, sphere[1], 1e-12)

	_, err = f.tourService.Within(ctx, 0, Center{}, "km")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	_, err = f.tourService.Within(ctx, 10, Center{}, "yd")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestParseCenter(t *testing.T) {
	t.Parallel()

	c, err := ParseCenter("34.111745,-118.113491")
	require.NoError(t, err)
	assert.Equal(t, Center{Lat: 34.111745, Lng: -118.113491}, c)

	for _, bad := range []string{"", "34.1", "34.1,-118.1,5", "north,east", "91,0", "0,181"} {
		_, err := ParseCenter(bad)
		assert.Equal(t, http.StatusBadRequest, statusOf(t, err), bad)
	}
}
