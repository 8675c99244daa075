package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-tours/utils/errors"
)

// Base carries the identity, version and timestamps every stored document has.
// Version is the internal "__v" field, bumped on every replace.
type Base struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Version   int                `json:"-" bson:"__v"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
}

func (b *Base) Meta() *Base {
	return b
}

// ParseID converts a path or body identifier into an ObjectID.
func ParseID(path, value string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(value)
	if err != nil {
		return primitive.NilObjectID, errors.CastError(path, value)
	}
	return id, nil
}
