package chat

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,14}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("register username validation: %v", err))
	}
	return v
}

// ValidUsername reports whether name is 3 to 14 letters, digits or underscores.
func ValidUsername(name string) bool {
	return validate.Var(name, "username") == nil
}
