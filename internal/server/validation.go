package server

import (
	"math/big"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fieldError names one request field that failed validation.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// fieldErrors is the cause carried by errInvalidRequest when a DTO fails its
// tags; writeError lists them as details.
type fieldErrors []fieldError

func (fe fieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, f := range fe {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// requestValidator is shared by every handler; validator.Validate caches
// struct metadata and is safe for concurrent use.
type requestValidator struct{ v *validator.Validate }

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// token ids are unbounded non-negative decimal integers
	_ = v.RegisterValidation("tokenid", func(fl validator.FieldLevel) bool {
		id, ok := new(big.Int).SetString(strings.TrimSpace(fl.Field().String()), 10)
		return ok && id.Sign() >= 0
	})

	return &requestValidator{v: v}
}

// Validate checks req against its validate tags.
func (rv *requestValidator) Validate(req any) error {
	err := rv.v.Struct(req)
	if err == nil {
		return nil
	}
	return errInvalidRequest.With(toFieldErrors(err))
}

func toFieldErrors(err error) fieldErrors {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return fieldErrors{{Field: "_", Message: err.Error()}}
	}
	out := make(fieldErrors, 0, len(ve))
	for _, e := range ve {
		// drop the struct name, keep nested paths like asset.policyId
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch e.Tag() {
		case "required":
			out = append(out, fieldError{Field: field, Message: "is required"})
		case "eth_addr":
			out = append(out, fieldError{Field: field, Message: "must be a hex address"})
		case "tokenid":
			out = append(out, fieldError{Field: field, Message: "must be a non-negative decimal integer"})
		case "hexadecimal":
			out = append(out, fieldError{Field: field, Message: "must be hex encoded"})
		case "len":
			out = append(out, fieldError{Field: field, Message: "must be " + e.Param() + " characters long"})
		case "gt":
			out = append(out, fieldError{Field: field, Message: "must be greater than " + e.Param()})
		default:
			out = append(out, fieldError{Field: field, Message: e.Tag() + " validation failed"})
		}
	}
	return out
}
