// Package validation holds the shared struct validator. Field names in
// failures are reported by their JSON names.
package validation

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"go-tours/utils/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Struct validates v and returns an operational validation error on failure.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return errors.Translate(err)
	}
	return nil
}

