package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validation errors surfaced at rule-authoring time. They are returned as
// values (never panics) so the control plane can render them inline next to
// the offending field.
var (
	// ErrTypeMismatch indicates an operator was applied to a value shape it
	// cannot handle (e.g. a substring test on a boolean).
	ErrTypeMismatch = errors.New("operator applied to incompatible value type")

	// ErrInvalidRange indicates a between rule whose value is not exactly a
	// two-element [min, max] array.
	ErrInvalidRange = errors.New("between requires a [min, max] range value")
)

// Shape discriminates the three possible layouts of a compiled rule value.
// The shape is decided once, by ValueKindFor, when the rule is compiled;
// evaluators never re-inspect raw JSON.
type Shape int

const (
	// ShapeScalar is a single string/number/boolean value.
	ShapeScalar Shape = iota
	// ShapeRange is an inclusive [min, max] pair (between operator).
	ShapeRange
	// ShapeSet is an unordered collection (in/not_in operators).
	ShapeSet
)

// ScalarKind discriminates the primitive type held by a Scalar.
type ScalarKind int

const (
	ScalarString ScalarKind = iota
	ScalarNumber
	ScalarBool
)

// Scalar is a single typed primitive value.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Num  float64
	Bool bool
}

// String constructs a string scalar.
func String(s string) Scalar { return Scalar{Kind: ScalarString, Str: s} }

// Number constructs a numeric scalar.
func Number(n float64) Scalar { return Scalar{Kind: ScalarNumber, Num: n} }

// Bool constructs a boolean scalar.
func Bool(b bool) Scalar { return Scalar{Kind: ScalarBool, Bool: b} }

// text returns the scalar rendered as a string for substring operators.
func (s Scalar) text() string {
	switch s.Kind {
	case ScalarString:
		return s.Str
	case ScalarNumber:
		return strconv.FormatFloat(s.Num, 'f', -1, 64)
	default:
		return strconv.FormatBool(s.Bool)
	}
}

// number returns the scalar coerced to a float64 for ordering operators.
// Strings are parsed; date-formatted strings are converted to Unix seconds so
// date ordering reduces to numeric ordering.
func (s Scalar) number() (float64, bool) {
	switch s.Kind {
	case ScalarNumber:
		return s.Num, true
	case ScalarString:
		if f, err := strconv.ParseFloat(s.Str, 64); err == nil {
			return f, true
		}
		if t, ok := parseDate(s.Str); ok {
			return float64(t.Unix()), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// equals performs a type-aware equality check. Numeric comparison is tried
// first so "5" and 5 compare equal; caseFold lower-cases string comparison
// for rule types that normalize case (country/language codes).
func (s Scalar) equals(other Scalar, caseFold bool) bool {
	if a, ok := s.number(); ok {
		if b, ok := other.number(); ok {
			return a == b
		}
	}
	if s.Kind == ScalarBool || other.Kind == ScalarBool {
		return s.Kind == other.Kind && s.Bool == other.Bool
	}
	a, b := s.text(), other.text()
	if caseFold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// parseDate accepts the two date layouts produced by the editor.
func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Value is the compiled, tagged representation of a rule's stored value.
// Exactly one of Scalar / Min+Max / Items is meaningful depending on Shape.
type Value struct {
	Shape    Shape
	Scalar   Scalar
	Min, Max Scalar
	Items    []Scalar
}

// ScalarValue wraps a single scalar into a Value.
func ScalarValue(s Scalar) Value { return Value{Shape: ShapeScalar, Scalar: s} }

// RangeValue wraps an inclusive [min, max] pair into a Value.
func RangeValue(min, max Scalar) Value { return Value{Shape: ShapeRange, Min: min, Max: max} }

// SetValue wraps a list of scalars into a Value. Duplicates are harmless:
// membership tests are idempotent.
func SetValue(items ...Scalar) Value { return Value{Shape: ShapeSet, Items: items} }

// Rule is a single targeting rule attached to a segment.
// RawValue mirrors the JSON stored in PostgreSQL and the Redis snapshot;
// Compiled is populated by CompileRules before evaluation so the hot path
// never parses JSON.
type Rule struct {
	// ID is unique within the owning segment.
	ID string `json:"id"`

	// Type references a RuleTypeDefinition id.
	Type string `json:"type"`

	// Op is the comparison operator.
	Op Operator `json:"operator"`

	// RawValue is the stored value: a scalar, a 2-element array for between,
	// or an N-element array for in/not_in. For customParameter rules it is a
	// string encoded as "name=value[,value...]".
	RawValue json.RawMessage `json:"value"`

	// Label is the human-readable summary shown by the editor.
	Label string `json:"label,omitempty"`

	// IsRequired marks the synthetic default "visitor type: all" rule, which
	// cannot be deleted from its segment.
	IsRequired bool `json:"is_required,omitempty"`

	// Compiled is the parsed value. Populated by CompileRules.
	Compiled Value `json:"-"`

	// Param is the parameter name for customParameter rules, split out of
	// RawValue by CompileRules. Empty for every other rule type.
	Param string `json:"-"`
}

// CompileRules parses every rule's RawValue into its tagged Value form, using
// the registry to decide the expected shape per (type, operator). It must be
// called after deserializing rules from storage and before evaluation.
//
// A rule referencing an unknown type or carrying a malformed value fails
// compilation for that rule only; the returned error wraps the rule id so the
// control plane can point at the offending field.
func CompileRules(reg *Registry, rs []Rule) error {
	for i := range rs {
		if err := compileRule(reg, &rs[i]); err != nil {
			return fmt.Errorf("rule %s: %w", rs[i].ID, err)
		}
	}
	return nil
}

func compileRule(reg *Registry, r *Rule) error {
	def, err := reg.Lookup(r.Type)
	if err != nil {
		return err
	}
	if !def.SupportsOperator(r.Op) {
		return fmt.Errorf("%w: operator %q not supported by rule type %q", ErrTypeMismatch, r.Op, r.Type)
	}

	raw := r.RawValue

	// customParameter values carry the parameter name inline. Split it off so
	// evaluation resolves the observed attribute by parameter name.
	if r.Type == TypeCustomParameter {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return fmt.Errorf("custom parameter value must be a string: %w", err)
		}
		name, rest, ok := strings.Cut(encoded, "=")
		if !ok || name == "" {
			return fmt.Errorf("custom parameter value must be encoded as name=value, got %q", encoded)
		}
		r.Param = name
		r.Compiled = compileCustomParamValue(rest, r.Op)
		return nil
	}

	compiled, err := compileValue(raw, r.Op, ValueKindFor(def, r.Op))
	if err != nil {
		return err
	}
	r.Compiled = compiled
	return nil
}

// compileCustomParamValue parses the value portion of a name=value[,value...]
// encoding. Set operators split on commas; everything else keeps the raw text.
func compileCustomParamValue(rest string, op Operator) Value {
	if op == OpIn || op == OpNotIn {
		parts := strings.Split(rest, ",")
		items := make([]Scalar, 0, len(parts))
		for _, p := range parts {
			items = append(items, String(strings.TrimSpace(p)))
		}
		return SetValue(items...)
	}
	return ScalarValue(String(rest))
}

// compileValue parses a raw JSON value into the shape the operator demands.
func compileValue(raw json.RawMessage, op Operator, kind ValueKind) (Value, error) {
	switch op {
	case OpBetween:
		items, err := decodeScalarArray(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		if len(items) != 2 {
			return Value{}, fmt.Errorf("%w: got %d elements", ErrInvalidRange, len(items))
		}
		return RangeValue(items[0], items[1]), nil

	case OpIn, OpNotIn:
		items, err := decodeScalarArray(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: in/not_in requires an array: %v", ErrTypeMismatch, err)
		}
		return SetValue(items...), nil

	default:
		s, err := decodeScalar(raw, kind)
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(s), nil
	}
}

func decodeScalarArray(raw json.RawMessage) ([]Scalar, error) {
	var generic []any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	items := make([]Scalar, 0, len(generic))
	for i, v := range generic {
		s, ok := scalarFromAny(v)
		if !ok {
			return nil, fmt.Errorf("element %d is not a scalar", i)
		}
		items = append(items, s)
	}
	return items, nil
}

func decodeScalar(raw json.RawMessage, kind ValueKind) (Scalar, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Scalar{}, fmt.Errorf("invalid scalar value: %w", err)
	}
	s, ok := scalarFromAny(v)
	if !ok {
		return Scalar{}, fmt.Errorf("%w: expected a %s scalar", ErrTypeMismatch, kind)
	}
	if kind == KindNumber {
		if _, ok := s.number(); !ok {
			return Scalar{}, fmt.Errorf("%w: %q is not numeric", ErrTypeMismatch, s.text())
		}
	}
	if kind == KindBoolean && s.Kind != ScalarBool {
		// Tolerate "true"/"false" strings from older editor payloads.
		b, err := strconv.ParseBool(s.text())
		if err != nil {
			return Scalar{}, fmt.Errorf("%w: expected a boolean", ErrTypeMismatch)
		}
		s = Bool(b)
	}
	return s, nil
}

// scalarFromAny converts a decoded JSON primitive into a Scalar.
func scalarFromAny(v any) (Scalar, bool) {
	switch val := v.(type) {
	case string:
		return String(val), true
	case float64:
		return Number(val), true
	case bool:
		return Bool(val), true
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Scalar{}, false
		}
		return Number(f), true
	default:
		return Scalar{}, false
	}
}
