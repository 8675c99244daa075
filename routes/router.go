// Package routes mounts every endpoint under /api/v1 and wraps the router in
// the global middleware chain.
package routes

import (
	"context"
	"mime"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	appHandlers "go-tours/handlers"
	"go-tours/middleware"
	"go-tours/models"
	"go-tours/services"
)

const (
	rateLimit       = 100
	rateLimitWindow = time.Hour

	maxJSONBody      = 10 << 10
	maxMultipartBody = 6 << 20
)

// Deps are the services and settings the router needs.
type Deps struct {
	Tours   *services.TourService
	Users   *services.UserService
	Reviews *services.ReviewService
	Auth    *services.AuthService

	Redis          *redis.Client
	Errors         *middleware.ErrorHandler
	AllowedOrigins []string
	// TrustedProxies may report the client address in forwarding headers.
	TrustedProxies []*net.IPNet
	// PublicURL is the base of links in outgoing mail.
	PublicURL      string
	Development    bool
	CookieTTL      time.Duration
	// Health reports whether the backing stores answer.
	Health         func(ctx context.Context) error
}

type mw = func(http.Handler) http.Handler

func chain(h http.Handler, mws ...mw) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// New builds the complete http.Handler.
func New(d Deps) http.Handler {
	h := d.Errors.Handle
	protect := middleware.Protect(d.Auth, d.Errors)
	only := func(roles ...string) mw { return middleware.RestrictTo(d.Errors, roles...) }

	tourHandler := appHandlers.NewTourHandler(d.Tours)
	reviewHandler := appHandlers.NewReviewHandler(d.Reviews)
	userHandler := appHandlers.NewUserHandler(d.Users, d.Auth)
	authHandler := appHandlers.NewAuthHandler(d.Auth, d.PublicURL, d.CookieTTL, !d.Development)

	r := mux.NewRouter()
	r.NotFoundHandler = d.Errors.NotFound()
	r.MethodNotAllowedHandler = d.Errors.NotFound()

	r.Handle("/healthz", h(func(w http.ResponseWriter, r *http.Request) error {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				return err
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"status":"success"}`))
		return err
	})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewRateLimiter(d.Redis, rateLimit, rateLimitWindow, d.Errors).Middleware)
	api.Use(limitBodies)

	// Review routes, mounted flat and under a tour
	mountReviews := func(sr *mux.Router) {
		sr.Handle("", chain(h(reviewHandler.GetAll()), protect)).Methods(http.MethodGet)
		sr.Handle("", chain(h(reviewHandler.CreateOne()), protect, only(models.RoleUser))).Methods(http.MethodPost)
		sr.Handle("/{id}", chain(h(reviewHandler.InTour(reviewHandler.GetOne())), protect)).Methods(http.MethodGet)
		sr.Handle("/{id}", chain(h(reviewHandler.InTour(reviewHandler.AuthorOnly(reviewHandler.UpdateOne()))), protect, only(models.RoleUser, models.RoleAdmin))).Methods(http.MethodPatch)
		sr.Handle("/{id}", chain(h(reviewHandler.InTour(reviewHandler.AuthorOnly(reviewHandler.DeleteOne()))), protect, only(models.RoleUser, models.RoleAdmin))).Methods(http.MethodDelete)
	}

	// Tour routes
	tours := api.PathPrefix("/tours").Subrouter()
	mountReviews(tours.PathPrefix("/{tourId}/reviews").Subrouter())
	tours.Handle("/top-tours", h(tourHandler.TopTours())).Methods(http.MethodGet)
	tours.Handle("/tour-stats", h(tourHandler.Stats)).Methods(http.MethodGet)
	tours.Handle("/monthly-plan/{year}", chain(h(tourHandler.MonthlyPlan), protect, only(models.RoleAdmin, models.RoleLeadGuide, models.RoleGuide))).Methods(http.MethodGet)
	tours.Handle("/tours-within/{distance}/center/{latlng}/unit/{unit}", h(tourHandler.Within)).Methods(http.MethodGet)
	tours.Handle("/distances/{latlng}/unit/{unit}", h(tourHandler.Distances)).Methods(http.MethodGet)
	tours.Handle("", h(tourHandler.GetAll())).Methods(http.MethodGet)
	tours.Handle("", chain(h(tourHandler.CreateOne()), protect, only(models.RoleAdmin, models.RoleLeadGuide))).Methods(http.MethodPost)
	tours.Handle("/{id}", h(tourHandler.GetOne())).Methods(http.MethodGet)
	tours.Handle("/{id}", chain(h(tourHandler.UpdateOne()), protect, only(models.RoleAdmin, models.RoleLeadGuide))).Methods(http.MethodPatch)
	tours.Handle("/{id}", chain(h(tourHandler.DeleteOne()), protect, only(models.RoleAdmin, models.RoleLeadGuide))).Methods(http.MethodDelete)

	// User routes
	users := api.PathPrefix("/users").Subrouter()
	users.Handle("/signup", h(authHandler.Signup)).Methods(http.MethodPost)
	users.Handle("/login", h(authHandler.Login)).Methods(http.MethodPost)
	users.Handle("/logout", h(authHandler.Logout)).Methods(http.MethodGet)
	users.Handle("/forgotPassword", h(authHandler.ForgotPassword)).Methods(http.MethodPost)
	users.Handle("/resetPassword/{token}", h(authHandler.ResetPassword)).Methods(http.MethodPatch)

	users.Handle("/updatePassword", chain(h(authHandler.UpdatePassword), protect)).Methods(http.MethodPatch)
	users.Handle("/me", chain(h(userHandler.GetMe), protect)).Methods(http.MethodGet)
	users.Handle("/me", chain(h(userHandler.UpdateMe), protect)).Methods(http.MethodPatch)
	users.Handle("/updateMe", chain(h(userHandler.UpdateMe), protect)).Methods(http.MethodPatch)
	users.Handle("/me", chain(h(userHandler.DeleteMe), protect)).Methods(http.MethodDelete)
	users.Handle("/deleteMe", chain(h(userHandler.DeleteMe), protect)).Methods(http.MethodDelete)

	admin := func(fn middleware.HandlerFunc) http.Handler {
		return chain(h(fn), protect, only(models.RoleAdmin))
	}
	users.Handle("", admin(userHandler.GetAll())).Methods(http.MethodGet)
	users.Handle("", admin(userHandler.CreateUser)).Methods(http.MethodPost)
	users.Handle("/{id}", admin(userHandler.GetOne())).Methods(http.MethodGet)
	users.Handle("/{id}", admin(userHandler.UpdateOne())).Methods(http.MethodPatch)
	users.Handle("/{id}", admin(userHandler.DeleteOne())).Methods(http.MethodDelete)

	mountReviews(api.PathPrefix("/reviews").Subrouter())

	// Global chain, outermost first
	var logged http.Handler = middleware.AccessLog(r)
	if d.Development {
		logged = handlers.CombinedLoggingHandler(os.Stdout, r)
	}
	return chain(logged,
		middleware.RequestID,
		d.Errors.Recover,
		middleware.TrustedProxyHeaders(d.TrustedProxies),
		middleware.CORS(d.AllowedOrigins),
		middleware.SecureHeaders(d.Development),
		handlers.CompressHandler,
	)
}

// limitBodies allows large bodies only for multipart uploads.
func limitBodies(next http.Handler) http.Handler {
	json := middleware.LimitBody(maxJSONBody)(next)
	multipart := middleware.LimitBody(maxMultipartBody)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
			multipart.ServeHTTP(w, r)
			return
		}
		json.ServeHTTP(w, r)
	})
}
