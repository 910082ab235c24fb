package job

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/socialq"
)

// Validator is implemented by payloads that check their own invariants.
type Validator interface {
	Validate() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidatePayload runs struct tag validation on struct payloads and then
// the payload's own Validate method, if any. Failures wrap
// socialq.ErrInvalidPayload.
func ValidatePayload(payload any) error {
	if payload == nil {
		return nil
	}
	if isStruct(payload) {
		if err := validate.Struct(payload); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return fmt.Errorf("%w: field %s failed %q", socialq.ErrInvalidPayload, verrs[0].Namespace(), verrs[0].Tag())
			}
			return fmt.Errorf("%w: %v", socialq.ErrInvalidPayload, err)
		}
	}
	if v, ok := payload.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", socialq.ErrInvalidPayload, err)
		}
	}
	return nil
}

func isStruct(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}
