package rules

import (
	"fmt"
	"strings"
)

// Attributes is the visitor attribute bag supplied by the edge runtime.
// Keys correspond 1:1 with rule type ids ("country", "deviceType",
// "utmSource", ...); custom parameters are keyed by their parameter name.
// Values are plain scalars or arrays of scalars matching the declared kind.
type Attributes map[string]any

// Evaluator matches observed visitor attributes against compiled rules.
// It is stateless apart from the injected registry and safe for concurrent
// use; evaluation is a pure function of (rule, attributes).
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an evaluator bound to the given registry.
func NewEvaluator(reg *Registry) *Evaluator {
	if reg == nil {
		panic("rules: registry cannot be nil")
	}
	return &Evaluator{registry: reg}
}

// Matches reports whether the attribute bag satisfies the rule.
//
// An absent observed attribute is a non-match for every operator except the
// negative ones (not_equals, not_contains, not_in), which pass vacuously.
// This asymmetry is load-bearing: it lets "exclude utmSource = X" rules match
// traffic that carries no UTM parameters at all.
//
// Errors are validation-class (unknown rule type, operator/value shape
// mismatch) and are returned as values; a well-typed rule never errors.
func (e *Evaluator) Matches(attrs Attributes, rule Rule) (bool, error) {
	def, err := e.registry.Lookup(rule.Type)
	if err != nil {
		return false, err
	}
	if !def.SupportsOperator(rule.Op) {
		return false, fmt.Errorf("%w: operator %q not supported by rule type %q", ErrTypeMismatch, rule.Op, rule.Type)
	}

	// visitorType and isEUCountry are single-value enum/boolean rules always
	// compared with equals; the generic operator table does not apply.
	switch rule.Type {
	case TypeVisitorType:
		return matchVisitorType(attrs, rule), nil
	case TypeIsEUCountry:
		return matchEUCountry(attrs, rule), nil
	}

	observed, present := e.observedValues(attrs, rule)
	if !present {
		return isNegativeOperator(rule.Op), nil
	}

	// An observed array (e.g. multiple browser languages) matches a positive
	// operator if any element matches, and a negative operator only if every
	// element passes. A plain scalar is the one-element case of the same walk.
	negative := isNegativeOperator(rule.Op)
	for _, obs := range observed {
		match, err := e.matchScalar(obs, rule, def)
		if err != nil {
			return false, err
		}
		if match && !negative {
			return true, nil
		}
		if !match && negative {
			return false, nil
		}
	}
	return negative, nil
}

// observedValues resolves the attribute the rule reads and normalizes it to a
// scalar slice. customParameter rules read the attribute named by the
// parameter encoded in the rule value; every other rule reads its type id.
func (e *Evaluator) observedValues(attrs Attributes, rule Rule) ([]Scalar, bool) {
	key := rule.Type
	if rule.Type == TypeCustomParameter {
		key = rule.Param
	}

	raw, ok := attrs[key]
	if !ok || raw == nil {
		return nil, false
	}

	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			return nil, false
		}
		out := make([]Scalar, 0, len(v))
		for _, item := range v {
			if s, ok := scalarFromAny(item); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	case []string:
		if len(v) == 0 {
			return nil, false
		}
		out := make([]Scalar, len(v))
		for i, item := range v {
			out[i] = String(item)
		}
		return out, true
	case int:
		return []Scalar{Number(float64(v))}, true
	case int64:
		return []Scalar{Number(float64(v))}, true
	case float32:
		return []Scalar{Number(float64(v))}, true
	default:
		s, ok := scalarFromAny(raw)
		if !ok {
			return nil, false
		}
		return []Scalar{s}, true
	}
}

// matchScalar applies the rule's operator to one observed scalar.
func (e *Evaluator) matchScalar(obs Scalar, rule Rule, def *RuleTypeDefinition) (bool, error) {
	v := rule.Compiled

	switch rule.Op {
	case OpEquals:
		if v.Shape != ShapeScalar {
			return false, fmt.Errorf("%w: equals requires a scalar value", ErrTypeMismatch)
		}
		return obs.equals(v.Scalar, def.NormalizeCase), nil

	case OpNotEquals:
		if v.Shape != ShapeScalar {
			return false, fmt.Errorf("%w: not_equals requires a scalar value", ErrTypeMismatch)
		}
		return !obs.equals(v.Scalar, def.NormalizeCase), nil

	case OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return matchSubstring(obs, rule.Op, v, def)

	case OpIn, OpNotIn:
		if v.Shape != ShapeSet {
			return false, fmt.Errorf("%w: %s requires an array value", ErrTypeMismatch, rule.Op)
		}
		found := false
		for _, item := range v.Items {
			if obs.equals(item, def.NormalizeCase) {
				found = true
				break
			}
		}
		if rule.Op == OpNotIn {
			return !found, nil
		}
		return found, nil

	case OpGreaterThan, OpLessThan:
		return matchOrdering(obs, rule.Op, v)

	case OpBetween:
		if v.Shape != ShapeRange {
			return false, ErrInvalidRange
		}
		x, ok := obs.number()
		if !ok {
			return false, nil
		}
		min, okMin := v.Min.number()
		max, okMax := v.Max.number()
		if !okMin || !okMax {
			return false, fmt.Errorf("%w: range bounds are not comparable", ErrInvalidRange)
		}
		return x >= min && x <= max, nil

	default:
		return false, fmt.Errorf("%w: unsupported operator %q", ErrTypeMismatch, rule.Op)
	}
}

// matchSubstring handles contains/not_contains/starts_with/ends_with.
// These are defined for string-typed values only; the compile step already
// rejects them for non-string rule types, but the evaluator re-checks to stay
// total when handed an uncompiled rule.
func matchSubstring(obs Scalar, op Operator, v Value, def *RuleTypeDefinition) (bool, error) {
	if ValueKindFor(def, op) != KindString {
		return false, fmt.Errorf("%w: %s applies to string values only", ErrTypeMismatch, op)
	}
	if v.Shape != ShapeScalar {
		return false, fmt.Errorf("%w: %s requires a scalar value", ErrTypeMismatch, op)
	}

	haystack, needle := obs.text(), v.Scalar.text()
	if def.NormalizeCase {
		haystack, needle = strings.ToLower(haystack), strings.ToLower(needle)
	}

	switch op {
	case OpContains:
		return strings.Contains(haystack, needle), nil
	case OpNotContains:
		return !strings.Contains(haystack, needle), nil
	case OpStartsWith:
		return strings.HasPrefix(haystack, needle), nil
	default: // OpEndsWith
		return strings.HasSuffix(haystack, needle), nil
	}
}

// matchOrdering handles greater_than/less_than over numbers and dates.
// Date-formatted strings are reduced to Unix seconds by Scalar.number, so a
// single numeric comparison covers both.
func matchOrdering(obs Scalar, op Operator, v Value) (bool, error) {
	if v.Shape != ShapeScalar {
		return false, fmt.Errorf("%w: %s requires a scalar value", ErrTypeMismatch, op)
	}
	x, ok := obs.number()
	if !ok {
		// Observed value is not comparable: visitor data problem, not a rule
		// authoring error. Treat as non-match.
		return false, nil
	}
	bound, ok := v.Scalar.number()
	if !ok {
		return false, fmt.Errorf("%w: %s requires a numeric or date value", ErrTypeMismatch, op)
	}
	if op == OpGreaterThan {
		return x > bound, nil
	}
	return x < bound, nil
}

// matchVisitorType compares the visitorType attribute with equals semantics.
// The synthetic default rule stores "all" and matches every visitor.
func matchVisitorType(attrs Attributes, rule Rule) bool {
	if rule.Compiled.Shape != ShapeScalar {
		return false
	}
	want := rule.Compiled.Scalar.text()
	if want == "all" {
		return true
	}
	raw, ok := attrs[TypeVisitorType]
	if !ok || raw == nil {
		return false
	}
	obs, ok := scalarFromAny(raw)
	if !ok {
		return false
	}
	return obs.equals(String(want), false)
}

// matchEUCountry compares the isEUCountry attribute with equals semantics.
func matchEUCountry(attrs Attributes, rule Rule) bool {
	if rule.Compiled.Shape != ShapeScalar || rule.Compiled.Scalar.Kind != ScalarBool {
		return false
	}
	raw, ok := attrs[TypeIsEUCountry]
	if !ok || raw == nil {
		return false
	}
	obs, ok := scalarFromAny(raw)
	if !ok || obs.Kind != ScalarBool {
		return false
	}
	return obs.Bool == rule.Compiled.Scalar.Bool
}

// isNegativeOperator reports whether absence of the observed attribute
// satisfies the operator vacuously.
func isNegativeOperator(op Operator) bool {
	return op == OpNotEquals || op == OpNotContains || op == OpNotIn
}
