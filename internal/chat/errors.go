package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error taxonomy shared by the store, the hub and the HTTP layer. Callers
// wrap one of these with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrStorage       = errors.New("storage error")
	ErrDelivery      = errors.New("delivery error")
	ErrAuthorization = errors.New("authorization error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
)

// PublicMessage returns the text that may be shown to the client whose
// request produced err. Storage and unknown failures are not detailed.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStorage):
		return "message could not be saved, please try again"
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAuthorization),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict):
		return err.Error()
	default:
		return "internal error"
	}
}

// ValidationFailure converts validator output into an ErrValidation that
// names the offending json fields.
func ValidationFailure(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fe.Field()+" must not be empty")
		case "min":
			problems = append(problems, fe.Field()+" must be at least "+fe.Param()+" characters")
		case "max":
			problems = append(problems, fe.Field()+" must be at most "+fe.Param()+" characters")
		case "uuid":
			problems = append(problems, fe.Field()+" must be a valid id")
		default:
			problems = append(problems, fe.Field()+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, ", "))
}
