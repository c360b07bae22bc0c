package attendance

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// rangeMessages mirror the wording students and admins see next to each field.
var rangeMessages = map[string]string{
	"session_name":     "Session name must be between 3 and 100 characters",
	"duration_minutes": "Duration must be between 1 and 120 minutes",
	"student_id":       "Student ID must be between 3 and 20 characters",
	"reg_number":       "Registration number must be between 3 and 30 characters",
	"name":             "Name must be between 3 and 100 characters",
}

const requiredMessage = "This field is required."

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct runs the validate tags and folds failures into a ValidationError.
func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if _, seen := out.Fields[field]; seen {
			continue
		}
		msg := rangeMessages[field]
		// a zero duration means the number was missing or unparsable; the range text says more.
		if msg == "" || (fe.Tag() == "required" && field != "duration_minutes") {
			msg = requiredMessage
		}
		out.Fields[field] = msg
	}
	return out
}
