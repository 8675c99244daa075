package models

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-tours/utils/apifeatures"
)

// GeoPoint is a GeoJSON point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates" validate:"omitempty,len=2"`
}

// Location is a GeoJSON point with the descriptive fields tours carry.
type Location struct {
	GeoPoint    `bson:",inline"`
	Address     string `json:"address,omitempty" bson:"address,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	Day         int    `json:"day,omitempty" bson:"day,omitempty"`
}

type Tour struct {
	Base           `bson:",inline"`
	Name           string               `json:"name" bson:"name" validate:"required,min=10,max=40"`
	Slug           string               `json:"slug" bson:"slug"`
	Duration       float64              `json:"duration" bson:"duration" validate:"required,gt=0"`
	MaxGroupSize   int                  `json:"maxGroupSize" bson:"maxGroupSize" validate:"required,gt=0"`
	Difficulty     string               `json:"difficulty" bson:"difficulty" validate:"required,oneof=easy medium difficult"`
	RatingsAverage float64              `json:"ratingsAverage" bson:"ratingsAverage" validate:"gte=0,lte=5"`
	RatingsQty     int                  `json:"ratingsQuantity" bson:"ratingsQuantity" validate:"gte=0"`
	Price          float64              `json:"price" bson:"price" validate:"required,gt=0"`
	PriceDiscount  float64              `json:"priceDiscount,omitempty" bson:"priceDiscount,omitempty" validate:"omitempty,gte=0,ltfield=Price"`
	Summary        string               `json:"summary" bson:"summary" validate:"required"`
	Description    string               `json:"description,omitempty" bson:"description,omitempty"`
	ImageCover     string               `json:"imageCover" bson:"imageCover" validate:"required"`
	Images         []string             `json:"images" bson:"images"`
	StartDates     []time.Time          `json:"startDates" bson:"startDates"`
	SecretTour     bool                 `json:"secretTour" bson:"secretTour"`
	StartLocation  *Location            `json:"startLocation,omitempty" bson:"startLocation,omitempty"`
	Locations      []Location           `json:"locations" bson:"locations"`
	Guides         []primitive.ObjectID `json:"guides" bson:"guides"`
}

const DefaultRatingsAverage = 4.5

// TourSchema lists the fields tours can be filtered, sorted and projected on.
// Only numeric and enum fields accept repeated query values.
var TourSchema = apifeatures.Schema{
	"name":            {Kind: apifeatures.String},
	"slug":            {Kind: apifeatures.String},
	"duration":        {Kind: apifeatures.Number, Multi: true},
	"maxGroupSize":    {Kind: apifeatures.Number, Multi: true},
	"difficulty":      {Kind: apifeatures.String, Multi: true},
	"ratingsAverage":  {Kind: apifeatures.Number, Multi: true},
	"ratingsQuantity": {Kind: apifeatures.Number, Multi: true},
	"price":           {Kind: apifeatures.Number, Multi: true},
	"priceDiscount":   {Kind: apifeatures.Number},
	"summary":         {Kind: apifeatures.String},
	"description":     {Kind: apifeatures.String},
	"imageCover":      {Kind: apifeatures.String},
	"images":          {Kind: apifeatures.String},
	"startDates":      {Kind: apifeatures.Date},
	"startLocation":   {Kind: apifeatures.String},
	"locations":       {Kind: apifeatures.String},
	"guides":          {Kind: apifeatures.ObjectID, Multi: true},
}.WithBase()

// RoundRating rounds to one decimal place, 4.666 becomes 4.7.
func RoundRating(v float64) float64 {
	return math.Round(v*10) / 10
}

// DurationWeeks is derived on read, never stored.
func DurationWeeks(duration float64) float64 {
	return duration / 7
}
