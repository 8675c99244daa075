package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var quotedValue = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)

// Translate turns known store, validation, token and decoding faults into
// operational errors with tailored messages. Anything else is returned as is.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		return ValidationError(FieldMessages(verrs))
	}

	if mongo.IsDuplicateKeyError(err) {
		return duplicateKey(err)
	}

	switch {
	case stderrors.Is(err, mongo.ErrNoDocuments):
		return ErrNoDocument
	case stderrors.Is(err, primitive.ErrInvalidHex):
		return CastError("_id", "malformed identifier")
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case stderrors.Is(err, jwt.ErrTokenMalformed),
		stderrors.Is(err, jwt.ErrTokenSignatureInvalid),
		stderrors.Is(err, jwt.ErrTokenUnverifiable),
		stderrors.Is(err, jwt.ErrTokenNotValidYet),
		stderrors.Is(err, jwt.ErrTokenInvalidClaims):
		return ErrInvalidToken
	}

	var maxBytes *http.MaxBytesError
	if stderrors.As(err, &maxBytes) {
		return New("Request body too large", http.StatusRequestEntityTooLarge)
	}
	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return BadRequest("Malformed JSON at position %d", syntaxErr.Offset)
	}
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return CastError(typeErr.Field, typeErr.Value)
	}
	return err
}

func duplicateKey(err error) *AppError {
	value := quotedValue.FindString(err.Error())
	if value == "" {
		value = "(unknown)"
	}
	return BadRequest("Duplicate field value: %s. Please use another value!", value)
}

// FieldMessages renders validator failures as short human readable sentences.
func FieldMessages(verrs validator.ValidationErrors) []string {
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fieldMessage(fe))
	}
	return messages
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "Please provide a valid email"
	case "min":
		if isString(fe) {
			return fmt.Sprintf("%s must have at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString(fe) {
			return fmt.Sprintf("%s must have at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s is either: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "eqfield":
		return "Passwords are not the same"
	case "ltfield":
		return fmt.Sprintf("Discount price (%v) should be below regular price", fe.Value())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func isString(fe validator.FieldError) bool {
	return fe.Kind().String() == "string"
}
