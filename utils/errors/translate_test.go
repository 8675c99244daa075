package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestNew_StatusText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fail", New("x", http.StatusNotFound).Status)
	assert.Equal(t, "error", New("x", http.StatusInternalServerError).Status)
	assert.True(t, New("x", http.StatusBadRequest).Operational)
}

func TestWrap_KeepsExistingAppError(t *testing.T) {
	t.Parallel()

	inner := NotFound("No tour found with that ID")
	wrapped := Wrap(fmt.Errorf("loading: %w", inner), "other", http.StatusInternalServerError)

	assert.Same(t, inner, wrapped)

	cause := stderrors.New("boom")
	fresh := Wrap(cause, "Could not load", http.StatusBadGateway)
	assert.Equal(t, http.StatusBadGateway, fresh.StatusCode)
	assert.ErrorIs(t, fresh, cause)
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: `E11000 duplicate key error collection: natours.tours index: name_1 dup key: { name: "The Forest Hiker" }`,
	}}}

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "duplicate key",
			err:         dup,
			wantStatus:  http.StatusBadRequest,
			wantMessage: `Duplicate field value: "The Forest Hiker". Please use another value!`,
		},
		{
			name:        "no documents",
			err:         fmt.Errorf("find: %w", mongo.ErrNoDocuments),
			wantStatus:  http.StatusNotFound,
			wantMessage: "No document found with that ID",
		},
		{
			name:        "malformed object id",
			err:         primitive.ErrInvalidHex,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid _id: malformed identifier.",
		},
		{
			name:        "expired token",
			err:         fmt.Errorf("parse: %w", jwt.ErrTokenExpired),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Your token has expired! Please log in again.",
		},
		{
			name:        "bad signature",
			err:         jwt.ErrTokenSignatureInvalid,
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid token. Please log in again!",
		},
		{
			name:        "body too large",
			err:         &http.MaxBytesError{Limit: 10},
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantMessage: "Request body too large",
		},
		{
			name:        "wrong json type",
			err:         &json.UnmarshalTypeError{Value: "string", Field: "price"},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid price: string.",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var appErr *AppError
			require.True(t, As(Translate(tt.err), &appErr))
			assert.Equal(t, tt.wantStatus, appErr.StatusCode)
			assert.Equal(t, tt.wantMessage, appErr.Message)
			assert.True(t, appErr.Operational)
		})
	}
}

func TestTranslate_UnknownErrorsPassThrough(t *testing.T) {
	t.Parallel()

	boom := stderrors.New("boom")

	assert.Same(t, boom, Translate(boom))
	assert.Nil(t, Translate(nil))
	assert.False(t, IsOperational(boom))
}

func TestTranslate_ValidationMessages(t *testing.T) {
	t.Parallel()

	type input struct {
		Name            string  `validate:"required"`
		Email           string  `validate:"email"`
		Difficulty      string  `validate:"oneof=easy medium difficult"`
		Password        string  `validate:"min=8"`
		PasswordConfirm string  `validate:"eqfield=Password"`
		Price           float64 `validate:"gt=0"`
	}
	err := validator.New().Struct(input{
		Email:           "not-an-email",
		Difficulty:      "brutal",
		Password:        "short",
		PasswordConfirm: "other",
	})
	require.Error(t, err)

	var appErr *AppError
	require.True(t, As(Translate(err), &appErr))
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Equal(t, "Invalid input data. "+
		"Name is required. "+
		"Please provide a valid email. "+
		"Difficulty is either: easy, medium, difficult. "+
		"Password must have at least 8 characters. "+
		"Passwords are not the same. "+
		"Price must be greater than 0", appErr.Message)
}
