package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParameterType is the closed set of value types known to the expression engine.
type ParameterType string

const (
	ParameterString ParameterType = "STRING"
	ParameterBool   ParameterType = "BOOL"
	ParameterNumber ParameterType = "NUMBER"
	ParameterSecret ParameterType = "SECRET"
	ParameterObject ParameterType = "OBJECT"
)

var ErrParameterType = errors.New("invalid parameter type")

// ParseParameterType resolves a type name, case-insensitively.
func ParseParameterType(name string) (ParameterType, error) {
	t := ParameterType(strings.ToUpper(name))
	switch t {
	case ParameterString, ParameterBool, ParameterNumber, ParameterSecret, ParameterObject:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrParameterType, name)
	}
}

// Parameter is a typed value. A nil Value is a null of the given type.
//
// SECRET parameters keep their resolved value in memory only: JSON encoding
// emits the secret reference and never the value.
type Parameter struct {
	ID    string
	Name  string
	Type  ParameterType
	Value any
	Ref   string
}

type parameterJSON struct {
	ID    string        `json:"id"`
	Name  string        `json:"name,omitempty"`
	Type  ParameterType `json:"type"`
	Value any           `json:"value,omitempty"`
	Ref   string        `json:"ref,omitempty"`
}

func (p Parameter) MarshalJSON() ([]byte, error) {
	out := parameterJSON{ID: p.ID, Name: p.Name, Type: p.Type, Ref: p.Ref}
	if p.Type != ParameterSecret {
		out.Value = p.Value
	}

	return json.Marshal(out)
}

func (p *Parameter) UnmarshalJSON(data []byte) error {
	var in parameterJSON

	err := json.Unmarshal(data, &in)
	if err != nil {
		return err
	}

	p.ID = in.ID
	p.Name = in.Name
	p.Type = in.Type
	p.Ref = in.Ref
	p.Value = nil

	if in.Type != ParameterSecret {
		p.Value = in.Value
	}

	return nil
}

func (p Parameter) IsSecret() bool {
	return p.Type == ParameterSecret
}

// String renders the value for audit messages. Secrets render as their reference.
func (p Parameter) String() string {
	if p.IsSecret() {
		return p.Ref
	}

	switch v := p.Value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	}
}

// NewParameter converts value into a parameter of type t.
func (t ParameterType) NewParameter(value any) (Parameter, error) {
	converted, err := t.convert(value)
	if err != nil {
		return Parameter{}, err
	}

	return Parameter{ID: uuid.New().String(), Type: t, Value: converted}, nil
}

// NewSecretParameter wraps a resolved secret together with the reference it came from.
func NewSecretParameter(ref, value string) Parameter {
	return Parameter{ID: uuid.New().String(), Type: ParameterSecret, Value: value, Ref: ref}
}

func (t ParameterType) convert(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch t {
	case ParameterString, ParameterSecret:
		switch v := value.(type) {
		case string:
			return v, nil
		case bool, float64, float32, int, int64, int32:
			return fmt.Sprint(v), nil
		default:
			return nil, fmt.Errorf("%w: cannot convert %T to %s", ErrParameterType, value, t)
		}
	case ParameterBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a %s", ErrParameterType, v, t)
			}

			return b, nil
		default:
			return nil, fmt.Errorf("%w: cannot convert %T to %s", ErrParameterType, value, t)
		}
	case ParameterNumber:
		return toFloat(value)
	case ParameterObject:
		return value, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrParameterType, t)
	}
}

func toFloat(value any) (float64, error) {
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
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) {
			return 0, fmt.Errorf("%w: %q is not a NUMBER", ErrParameterType, v)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("%w: cannot convert %T to NUMBER", ErrParameterType, value)
	}
}

// TypeOf infers the parameter type of a raw evaluation result.
func TypeOf(value any) ParameterType {
	switch value.(type) {
	case string:
		return ParameterString
	case bool:
		return ParameterBool
	case float64, float32, int, int64, int32, uint64:
		return ParameterNumber
	default:
		return ParameterObject
	}
}
