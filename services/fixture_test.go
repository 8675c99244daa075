package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"go-tours/models"
	"go-tours/store"
	"go-tours/store/storetest"
	"go-tours/utils/auth"
)

const testSecret = "a-secret-that-is-long-enough-for-hs256"

type fixture struct {
	tours   *storetest.Collection
	users   *storetest.Collection
	reviews *storetest.Collection

	tourService   *TourService
	reviewService *ReviewService
	userService   *UserService
	authService   *AuthService

	mailer *captureMailer
	signer *auth.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tours:   storetest.New(store.ToursCollection).Unique("name"),
		users:   storetest.New(store.UsersCollection).Unique("email"),
		reviews: storetest.New(store.ReviewsCollection).Unique("tour", "user"),
		mailer:  &captureMailer{},
		signer:  auth.NewSigner(testSecret, time.Hour),
	}
	f.reviews.AggregateFunc = ratingStats(f.reviews)

	f.tourService = NewTourService(f.tours, f.users, f.reviews)
	f.reviewService = NewReviewService(f.reviews, f.tours, f.users)
	f.userService = NewUserService(f.users, nil, nil)
	f.authService = NewAuthService(f.userService, f.signer, f.mailer)
	return f
}

// ratingStats answers the rating $match/$group pipeline from the stored reviews.
func ratingStats(reviews *storetest.Collection) func(interface{}) []bson.M {
	return func(p interface{}) []bson.M {
		match := p.(mongo.Pipeline)[0][0].Value.(bson.M)
		var n, sum float64
		for _, d := range reviews.Docs() {
			if storetest.Matches(d, match) {
				n++
				sum += d["rating"].(float64)
			}
		}
		if n == 0 {
			return nil
		}
		return []bson.M{{"_id": match["tour"], "nRating": n, "avgRating": sum / n}}
	}
}

func validTour(name string) *models.Tour {
	return &models.Tour{
		Name:         name,
		Duration:     5,
		MaxGroupSize: 25,
		Difficulty:   "easy",
		Price:        397,
		Summary:      "Breathtaking hike through the Canadian Banff National Park",
		ImageCover:   "tour-1-cover.jpg",
		StartLocation: &models.Location{
			GeoPoint: models.GeoPoint{Coordinates: []float64{-115.570154, 51.178456}},
			Address:  "224 Banff Ave, Banff, AB, Canada",
		},
	}
}

func (f *fixture) createTour(t *testing.T, name string) primitive.ObjectID {
	t.Helper()
	doc, err := f.tourService.Create(context.Background(), validTour(name))
	require.NoError(t, err)
	return doc["_id"].(primitive.ObjectID)
}

func (f *fixture) seedUser(role string) primitive.ObjectID {
	id := primitive.NewObjectID()
	f.users.Seed(bson.M{
		"_id":      id,
		"name":     "User " + role,
		"email":    fmt.Sprintf("%s-%s@example.com", role, id.Hex()),
		"role":     role,
		"password": "hash",
		"photo":    role + ".jpg",
		"__v":      0,
	})
	return id
}

func (f *fixture) tourDoc(t *testing.T, id primitive.ObjectID) bson.M {
	t.Helper()
	for _, d := range f.tours.Docs() {
		if d["_id"] == id {
			return d
		}
	}
	t.Fatalf("tour %s not stored", id.Hex())
	return nil
}

type captureMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type memoryPhotos struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemoryPhotos() *memoryPhotos {
	return &memoryPhotos{objects: map[string][]byte{}}
}

func (p *memoryPhotos) Put(_ context.Context, key string, jpeg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = jpeg
	return nil
}

func (p *memoryPhotos) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, key)
	p.deleted = append(p.deleted, key)
	return nil
}

func (p *memoryPhotos) URL(_ context.Context, key string) (string, error) {
	return "https://photos.example.com/" + key + "?signed", nil
}
