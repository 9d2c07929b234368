package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates request structs against their `validate` tags.
// Supported rules: required, min=N, max=N (string length or numeric
// value).
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			name := fieldType.Tag.Get("json")
			if comma := strings.Index(name, ","); comma >= 0 {
				name = name[:comma]
			}
			if name == "" {
				name = fieldType.Name
			}
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		var arg string
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min":
			bound, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				continue
			}
			if got, ok := fieldSize(field); ok && got < bound {
				return fmt.Errorf("must be at least %s", arg)
			}

		case "max":
			bound, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				continue
			}
			if got, ok := fieldSize(field); ok && got > bound {
				return fmt.Errorf("must be at most %s", arg)
			}
		}
	}

	return nil
}

// fieldSize maps a field to the quantity min/max bound: length for
// strings and slices, the value itself for numbers
func fieldSize(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return float64(field.Len()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	default:
		return 0, false
	}
}
