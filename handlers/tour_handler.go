package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"go-tours/middleware"
	"go-tours/models"
	"go-tours/services"
	"go-tours/utils/errors"
)

type TourHandler struct {
	tourService *services.TourService
	*Factory[models.Tour, *models.Tour]
}

func NewTourHandler(tourService *services.TourService) *TourHandler {
	return &TourHandler{
		tourService: tourService,
		Factory: &Factory[models.Tour, *models.Tour]{
			Repo:     tourService,
			Schema:   models.TourSchema,
			Populate: true,
		},
	}
}

// TopTours is getAll preset to the five best rated, cheapest first on ties.
func (h *TourHandler) TopTours() middleware.HandlerFunc {
	getAll := h.GetAll()
	return func(w http.ResponseWriter, r *http.Request) error {
		q := r.URL.Query()
		q.Set("limit", "5")
		q.Set("sort", "-ratingsAverage,price")
		q.Set("fields", "name,price,ratingsAverage,summary,difficulty")
		r2 := r.Clone(r.Context())
		r2.URL.RawQuery = q.Encode()
		return getAll(w, r2)
	}
}

func (h *TourHandler) Stats(w http.ResponseWriter, r *http.Request) error {
	stats, err := h.tourService.Stats(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]any{"stats": stats},
	})
}

func (h *TourHandler) MonthlyPlan(w http.ResponseWriter, r *http.Request) error {
	raw := mux.Vars(r)["year"]
	year, err := strconv.Atoi(raw)
	if err != nil {
		return errors.CastError("year", raw)
	}
	plan, err := h.tourService.MonthlyPlan(r.Context(), year)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(plan),
		"data":    map[string]any{"plan": plan},
	})
}

// Within handles /tours-within/{distance}/center/{latlng}/unit/{unit}.
func (h *TourHandler) Within(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	distance, err := strconv.ParseFloat(vars["distance"], 64)
	if err != nil {
		return errors.CastError("distance", vars["distance"])
	}
	center, err := services.ParseCenter(vars["latlng"])
	if err != nil {
		return err
	}
	tours, err := h.tourService.Within(r.Context(), distance, center, vars["unit"])
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(tours),
		"data":    map[string]any{"data": tours},
	})
}

// Distances handles /distances/{latlng}/unit/{unit}.
func (h *TourHandler) Distances(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	center, err := services.ParseCenter(vars["latlng"])
	if err != nil {
		return err
	}
	distances, err := h.tourService.Distances(r.Context(), center, vars["unit"])
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]any{"data": distances},
	})
}
