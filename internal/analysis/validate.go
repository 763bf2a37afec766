package analysis

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"recruiting-ai-queue/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// notblank rejects empty and whitespace-only strings.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateRequest maps validator failures onto the error taxonomy: absent required fields become
// MISSING_FIELDS listing every such field, anything else VALIDATION_ERROR for the first violation.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err)
	}

	var missing []string
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "notblank":
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return apperr.MissingFields(missing...)
	}
	fe := verrs[0]
	return apperr.Validation(fe.Field(), reason(fe))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "min":
		return "must be at least " + fe.Param() + " long"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}
