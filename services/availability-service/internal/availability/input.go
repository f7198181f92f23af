package availability

import (
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	exceptionDayLayout   = "2006-01-02"
	exceptionMonthLayout = "2006-01"
)

// WindowInput is the wire shape of a window before validation.
type WindowInput struct {
	DaysOfWeek     []int           `json:"days_of_week" validate:"required,min=1,dive,min=0,max=6"`
	StartTime      string          `json:"start_time" validate:"required,clock"`
	EndTime        string          `json:"end_time" validate:"required,clock"`
	Timezone       string          `json:"timezone" validate:"omitempty,iana_tz"`
	DateExceptions map[string]bool `json:"date_exceptions" validate:"omitempty,dive,keys,exception_key,endkeys"`
	RecurrenceRule json.RawMessage `json:"recurrence_rule"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("iana_tz", func(fl validator.FieldLevel) bool {
		_, err := LoadLocation(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("exception_key", func(fl validator.FieldLevel) bool {
		return validExceptionKey(fl.Field().String())
	})
	return v
}

func validExceptionKey(key string) bool {
	switch len(key) {
	case len(exceptionDayLayout):
		_, err := time.Parse(exceptionDayLayout, key)
		return err == nil
	case len(exceptionMonthLayout):
		_, err := time.Parse(exceptionMonthLayout, key)
		return err == nil
	}
	return false
}

// ParseWindowInput validates untrusted input and returns the typed spec.
// Every rejected field is reported; the joined error matches ErrMissingField,
// ErrInvalidTimezone or ErrInvalidField.
func ParseWindowInput(in WindowInput) (WindowSpec, error) {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return WindowSpec{}, err
		}
		errs := make([]error, 0, len(verrs))
		for _, fe := range verrs {
			errs = append(errs, fieldErrorFor(fe))
		}
		return WindowSpec{}, errors.Join(errs...)
	}

	spec := WindowSpec{
		DaysOfWeek:     in.DaysOfWeek,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		Timezone:       strings.TrimSpace(in.Timezone),
		DateExceptions: in.DateExceptions,
		RecurrenceRule: in.RecurrenceRule,
	}
	if spec.Timezone == "" {
		spec.Timezone = DefaultTimezone
	}
	return spec, nil
}

// ParseWindowInputs validates a full set, prefixing errors with the index.
func ParseWindowInputs(in []WindowInput) ([]WindowSpec, error) {
	out := make([]WindowSpec, 0, len(in))
	var errs []error
	for i, w := range in {
		spec, err := ParseWindowInput(w)
		if err != nil {
			errs = append(errs, &FieldError{Field: "windows[" + strconv.Itoa(i) + "]", Err: err})
			continue
		}
		out = append(out, spec)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func fieldErrorFor(fe validator.FieldError) error {
	field := fe.Field()
	switch {
	case fe.Tag() == "required":
		return missing(field)
	case fe.Tag() == "min" && field == "days_of_week":
		return missing(field)
	case fe.Tag() == "iana_tz":
		return &FieldError{Field: field, Err: ErrInvalidTimezone}
	case fe.Tag() == "clock":
		return invalid(field, "%q must be HH:MM", fe.Value())
	case fe.Tag() == "exception_key":
		return invalid("date_exceptions", "key %q must be YYYY-MM or YYYY-MM-DD", fe.Value())
	default:
		return invalid(field, "failed %s=%s", fe.Tag(), fe.Param())
	}
}
