package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs the shared validator against an input struct.
func ValidateStruct(s any) error {
	return validate.Struct(s)
}
