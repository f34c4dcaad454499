package ontology

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyDefinition is the schema view shared by metatype keys and relationship
// keys, enough to validate one property.
type KeyDefinition struct {
	PropertyName string
	DataType     string
	Required     bool
	DefaultValue any
	Options      []any
}

// KeyDefinitions returns the metatype's keys as neutral definitions.
func (m *Metatype) KeyDefinitions() []KeyDefinition {
	defs := make([]KeyDefinition, 0, len(m.Keys))
	for _, k := range m.Keys {
		defs = append(defs, KeyDefinition{
			PropertyName: k.PropertyName,
			DataType:     k.DataType,
			Required:     k.Required,
			DefaultValue: k.DefaultValue,
			Options:      k.Options,
		})
	}
	return defs
}

// KeyDefinitions returns the relationship's keys as neutral definitions.
func (r *Relationship) KeyDefinitions() []KeyDefinition {
	defs := make([]KeyDefinition, 0, len(r.Keys))
	for _, k := range r.Keys {
		defs = append(defs, KeyDefinition{
			PropertyName: k.PropertyName,
			DataType:     k.DataType,
			Required:     k.Required,
			DefaultValue: k.DefaultValue,
			Options:      k.Options,
		})
	}
	return defs
}

// ValidateAndTransformProperties checks the supplied properties against the
// key definitions, coerces values into their declared types, and applies
// defaults for missing keys. Properties without a key definition pass through
// untouched. With no keys defined at all the input is returned as-is.
func ValidateAndTransformProperties(keys []KeyDefinition, props map[string]any) (map[string]any, error) {
	if len(keys) == 0 {
		return props, nil
	}

	validated := make(map[string]any, len(props))
	for k, v := range props {
		validated[k] = v
	}

	var validationErrors []string

	for _, key := range keys {
		value, present := validated[key.PropertyName]

		if !present || value == nil {
			if key.DefaultValue != nil {
				validated[key.PropertyName] = key.DefaultValue
				continue
			}
			if key.Required {
				validationErrors = append(validationErrors, fmt.Sprintf("missing required property: %s", key.PropertyName))
			}
			continue
		}

		coerced, err := coerceValue(value, key)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: %v", key.PropertyName, err))
			continue
		}
		validated[key.PropertyName] = coerced
	}

	if len(validationErrors) > 0 {
		return nil, fmt.Errorf("property validation failed: %s", strings.Join(validationErrors, "; "))
	}

	return validated, nil
}

func coerceValue(value any, key KeyDefinition) (any, error) {
	switch key.DataType {
	case DataTypeNumber:
		return coerceToNumber(value)
	case DataTypeBoolean:
		return coerceToBoolean(value)
	case DataTypeDate:
		return coerceToDate(value)
	case DataTypeEnum:
		return coerceToEnum(value, key.Options)
	case DataTypeList:
		if _, ok := value.([]any); !ok {
			return nil, fmt.Errorf("expected list, got %T", value)
		}
		return value, nil
	case DataTypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	default:
		return value, nil
	}
}

func coerceToNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("empty string cannot be converted to number")
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number format: %s", v)
		}
		return parsed, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func coerceToBoolean(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(v))
		switch trimmed {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0", "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean format: %s", v)
		}
	case int, int64, int32, float64, float32:
		return fmt.Sprintf("%v", v) != "0", nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

func coerceToDate(value any) (string, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return "", fmt.Errorf("empty string cannot be converted to date")
		}

		formats := []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02",
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"01/02/2006",
			"02-01-2006",
		}

		for _, format := range formats {
			t, err := time.Parse(format, trimmed)
			if err == nil {
				return t.Format(time.RFC3339), nil
			}
		}

		return "", fmt.Errorf("invalid date format: %s (expected ISO 8601 or common formats)", v)

	case time.Time:
		return v.Format(time.RFC3339), nil

	default:
		return "", fmt.Errorf("cannot convert %T to date", value)
	}
}

func coerceToEnum(value any, options []any) (any, error) {
	if len(options) == 0 {
		return value, nil
	}
	for _, opt := range options {
		if fmt.Sprintf("%v", opt) == fmt.Sprintf("%v", value) {
			return opt, nil
		}
	}
	return nil, fmt.Errorf("value %v not in enumeration options", value)
}
