package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates request bodies using the struct tags of the request
// types.
type Validator struct {
	cli *validator.Validate
}

// ValidationError represents an error encountered during validation of a
// field. Field is the JSON name of the field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v *Validator) formatError(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace()[strings.IndexByte(fe.Namespace(), '.')+1:],
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must have at most %s items", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "url", "http_url":
		return "must be a URL"
	case "required_without":
		return fmt.Sprintf("is required when %s is empty", fe.Param())
	}
	return fe.Error()
}

// ValidateStruct validates the provided struct and returns a slice of
// validation errors.
func (v *Validator) ValidateStruct(s any) []ValidationError {
	if err := v.cli.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks the provided value against the validation tags.
func (v *Validator) Validate(value any, tag string) []ValidationError {
	if err := v.cli.Var(value, tag); err != nil {
		return v.formatError(err)
	}
	return nil
}

// New initializes and returns a new instance of the Validator. Field names in
// errors are taken from the json tags.
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	cli.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{
		cli: cli,
	}
}
