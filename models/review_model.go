package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-tours/utils/apifeatures"
)

// Review belongs to one tour and one user. A user reviews a tour at most once.
type Review struct {
	Base   `bson:",inline"`
	Review string             `json:"review" bson:"review" validate:"required"`
	Rating float64            `json:"rating" bson:"rating" validate:"required,gte=1,lte=5"`
	Tour   primitive.ObjectID `json:"tour" bson:"tour" validate:"required"`
	User   primitive.ObjectID `json:"user" bson:"user" validate:"required"`
}

var ReviewSchema = apifeatures.Schema{
	"review": {Kind: apifeatures.String},
	"rating": {Kind: apifeatures.Number, Multi: true},
	"tour":   {Kind: apifeatures.ObjectID, Multi: true},
	"user":   {Kind: apifeatures.ObjectID, Multi: true},
}.WithBase()
