// Package rules provides the targeting-rule core for campaign traffic routing.
// It contains the static rule-type catalog, the typed rule value model, and the
// operator evaluator that matches visitor attributes against segment rules.
package rules

import (
	"errors"
	"fmt"
)

// ValueKind describes the declared type of a rule type's value.
type ValueKind string

const (
	KindString  ValueKind = "string"
	KindNumber  ValueKind = "number"
	KindBoolean ValueKind = "boolean"
	KindArray   ValueKind = "array"
	KindDate    ValueKind = "date"
)

// Operator identifies a comparison applied between an observed visitor
// attribute and a rule's stored value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
)

// Built-in rule type identifiers. These double as the keys of the visitor
// attribute bag supplied by the edge runtime (see routing.Attributes).
const (
	TypeVisitorType     = "visitorType"
	TypeCountry         = "country"
	TypeLanguage        = "language"
	TypeDeviceType      = "deviceType"
	TypeBrowser         = "browser"
	TypeOS              = "os"
	TypeUTMSource       = "utmSource"
	TypeUTMMedium       = "utmMedium"
	TypeUTMCampaign     = "utmCampaign"
	TypeUTMTerm         = "utmTerm"
	TypeUTMContent      = "utmContent"
	TypeReferrer        = "referrer"
	TypeCustomParameter = "customParameter"
	TypeTimeZone        = "timeZone"
	TypeHourOfDay       = "hourOfDay"
	TypeDayOfWeek       = "dayOfWeek"
	TypeIsEUCountry     = "isEUCountry"
)

// ErrUnknownRuleType is returned when a rule references a type id that is not
// present in the registry. Callers (the matcher) treat the offending rule as a
// non-match and continue with sibling rules.
var ErrUnknownRuleType = errors.New("unknown rule type")

// RuleTypeDefinition is a static catalog entry describing one category of
// visitor attribute: its value type, the operators it supports, and optional
// per-operator value-type overrides (e.g. "country" is a scalar string under
// equals but an array under in).
type RuleTypeDefinition struct {
	// ID is the unique identifier, e.g. "country". It matches the attribute
	// bag key the evaluator reads at decision time.
	ID string `json:"id"`

	// Label is the human-readable name shown by the editor.
	Label string `json:"label"`

	// ValueKind is the default value type for this rule type.
	ValueKind ValueKind `json:"value_kind"`

	// Operators is the ordered set of operators this type supports.
	Operators []Operator `json:"operators"`

	// OperatorValueKinds overrides ValueKind for specific operators.
	OperatorValueKinds map[Operator]ValueKind `json:"operator_value_kinds,omitempty"`

	// Options enumerates the suggested values, if any (e.g. device types).
	Options []string `json:"options,omitempty"`

	// AllowCustomInput reports whether free-text values are accepted in
	// addition to Options.
	AllowCustomInput bool `json:"allow_custom_input"`

	// NormalizeCase lower-cases both sides before string comparison.
	// Used for country/language codes so "US" and "us" compare equal.
	NormalizeCase bool `json:"-"`
}

// SupportsOperator reports whether op is legal for this rule type.
func (d *RuleTypeDefinition) SupportsOperator(op Operator) bool {
	for _, o := range d.Operators {
		if o == op {
			return true
		}
	}
	return false
}

// ValueKindFor resolves the value type a rule's stored value must have under
// the given operator. Per-operator overrides win; otherwise the definition's
// default kind applies. This is the single decision point that governs whether
// a value is treated as scalar, range, or set when compiled.
func ValueKindFor(def *RuleTypeDefinition, op Operator) ValueKind {
	if def.OperatorValueKinds != nil {
		if kind, ok := def.OperatorValueKinds[op]; ok {
			return kind
		}
	}
	return def.ValueKind
}

// Registry is an immutable lookup table of rule type definitions, constructed
// once at startup and injected into the evaluator. It carries no presentation
// concerns; icons and labels beyond Label belong to the editor layer.
type Registry struct {
	byID  map[string]*RuleTypeDefinition
	order []string
}

// NewRegistry builds a registry from the provided definitions.
// Definition order is preserved for UI pickers.
func NewRegistry(defs []RuleTypeDefinition) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]*RuleTypeDefinition, len(defs)),
		order: make([]string, 0, len(defs)),
	}

	for i := range defs {
		def := defs[i]
		if def.ID == "" {
			return nil, fmt.Errorf("rule type definition at index %d has empty id", i)
		}
		if _, exists := r.byID[def.ID]; exists {
			return nil, fmt.Errorf("duplicate rule type definition %q", def.ID)
		}
		if len(def.Operators) == 0 {
			return nil, fmt.Errorf("rule type %q declares no operators", def.ID)
		}
		r.byID[def.ID] = &def
		r.order = append(r.order, def.ID)
	}

	return r, nil
}

// DefaultRegistry returns the registry with the built-in rule type catalog.
// It panics on error because the built-in catalog is a compile-time constant;
// a failure here is a programmer error, not a runtime condition.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(builtinDefinitions())
	if err != nil {
		panic(fmt.Sprintf("rules: invalid built-in catalog: %v", err))
	}
	return r
}

// Lookup returns the definition for the given rule type id.
// It returns ErrUnknownRuleType (wrapped) if the id is absent.
func (r *Registry) Lookup(id string) (*RuleTypeDefinition, error) {
	def, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleType, id)
	}
	return def, nil
}

// IDs returns the rule type ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// OperatorsForKind returns the ordered set of operators applicable to a value
// kind. It exists to build editor pickers and is not consulted by the
// evaluator itself.
func (r *Registry) OperatorsForKind(kind ValueKind) []Operator {
	switch kind {
	case KindString:
		return []Operator{OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpIn, OpNotIn}
	case KindNumber, KindDate:
		return []Operator{OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpBetween, OpIn, OpNotIn}
	case KindBoolean:
		return []Operator{OpEquals}
	case KindArray:
		return []Operator{OpIn, OpNotIn}
	default:
		return nil
	}
}

// stringOperators is the operator set shared by every free-text rule type.
var stringOperators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpNotContains,
	OpStartsWith, OpEndsWith, OpIn, OpNotIn,
}

// setOverride marks in/not_in as array-typed for a scalar rule type.
var setOverride = map[Operator]ValueKind{
	OpIn:    KindArray,
	OpNotIn: KindArray,
}

// builtinDefinitions returns the static rule type catalog.
// visitorType and isEUCountry are single-value enum/boolean rules pinned to
// equals; they are special-cased by the evaluator and never exposed to other
// operators.
func builtinDefinitions() []RuleTypeDefinition {
	return []RuleTypeDefinition{
		{
			ID:        TypeVisitorType,
			Label:     "Visitor type",
			ValueKind: KindString,
			Operators: []Operator{OpEquals},
			Options:   []string{"all", "new", "returning"},
		},
		{
			ID:                 TypeCountry,
			Label:              "Country",
			ValueKind:          KindString,
			Operators:          []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn},
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
			NormalizeCase:      true,
		},
		{
			ID:                 TypeLanguage,
			Label:              "Browser language",
			ValueKind:          KindString,
			Operators:          []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn},
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
			NormalizeCase:      true,
		},
		{
			ID:        TypeDeviceType,
			Label:     "Device type",
			ValueKind: KindString,
			Operators: []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn},
			OperatorValueKinds: setOverride,
			Options:   []string{"desktop", "mobile", "tablet"},
		},
		{
			ID:                 TypeBrowser,
			Label:              "Browser",
			ValueKind:          KindString,
			Operators:          []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn},
			OperatorValueKinds: setOverride,
			Options:            []string{"chrome", "firefox", "safari", "edge", "opera"},
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeOS,
			Label:              "Operating system",
			ValueKind:          KindString,
			Operators:          []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn},
			OperatorValueKinds: setOverride,
			Options:            []string{"windows", "macos", "linux", "ios", "android"},
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeUTMSource,
			Label:              "UTM source",
			ValueKind:          KindString,
			Operators:          stringOperators,
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeUTMMedium,
			Label:              "UTM medium",
			ValueKind:          KindString,
			Operators:          stringOperators,
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeUTMCampaign,
			Label:              "UTM campaign",
			ValueKind:          KindString,
			Operators:          stringOperators,
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeUTMTerm,
			Label:              "UTM term",
			ValueKind:          KindString,
			Operators:          stringOperators,
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeUTMContent,
			Label:              "UTM content",
			ValueKind:          KindString,
			Operators:          stringOperators,
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeReferrer,
			Label:              "Referrer",
			ValueKind:          KindString,
			Operators:          stringOperators,
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeCustomParameter,
			Label:              "Custom parameter",
			ValueKind:          KindString,
			Operators:          stringOperators,
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:                 TypeTimeZone,
			Label:              "Time zone",
			ValueKind:          KindString,
			Operators:          []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn},
			OperatorValueKinds: setOverride,
			AllowCustomInput:   true,
		},
		{
			ID:        TypeHourOfDay,
			Label:     "Hour of day",
			ValueKind: KindNumber,
			Operators: []Operator{OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpBetween, OpIn, OpNotIn},
			OperatorValueKinds: map[Operator]ValueKind{
				OpIn:    KindArray,
				OpNotIn: KindArray,
			},
		},
		{
			ID:        TypeDayOfWeek,
			Label:     "Day of week",
			ValueKind: KindNumber,
			Operators: []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn},
			OperatorValueKinds: map[Operator]ValueKind{
				OpIn:    KindArray,
				OpNotIn: KindArray,
			},
			Options: []string{"0", "1", "2", "3", "4", "5", "6"},
		},
		{
			ID:        TypeIsEUCountry,
			Label:     "EU country",
			ValueKind: KindBoolean,
			Operators: []Operator{OpEquals},
			Options:   []string{"true", "false"},
		},
	}
}
