package ingest

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// ValidateFunc is the schema-validation predicate applied to each
// file-derived record before it is queued for ingest. It reports whether the
// record is acceptable plus the rule violations when it is not.
type ValidateFunc func(record any) (bool, []string)

// DefaultValidator builds a predicate from the `validate` struct tags on the
// record types.
func DefaultValidator() ValidateFunc {
	v := validator.New(validator.WithRequiredStructEnabled())
	return func(record any) (bool, []string) {
		err := v.Struct(record)
		if err == nil {
			return true, nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return false, []string{err.Error()}
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fe.Field()+" failed rule "+fe.Tag())
		}
		return false, msgs
	}
}
