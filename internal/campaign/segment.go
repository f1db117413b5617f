package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rcabral/switchyard/internal/rules"
)

// Mutation errors returned by the segment and variant helpers. They are
// validation-class: the control plane maps them to inline field errors.
var (
	// ErrFrozen is returned for any edit attempted after the segment's test
	// has completed.
	ErrFrozen = errors.New("segment is read-only after its test completed")

	// ErrDuplicateRule is returned when a segment would hold two rules of the
	// same type. customParameter rules are exempt as long as their parameter
	// names differ; two rules for the same parameter name are also rejected.
	ErrDuplicateRule = errors.New("segment already has a rule of this type")

	// ErrRequiredRule is returned when deleting the synthetic default
	// "visitor type: all" rule.
	ErrRequiredRule = errors.New("the default visitor type rule cannot be deleted")

	// ErrRuleNotFound is returned when an edit references an unknown rule id.
	ErrRuleNotFound = errors.New("rule not found")
)

// NewSegment creates a segment seeded with the required default
// "visitor type: all" rule, which matches every visitor until narrower rules
// are added.
func NewSegment(id, title string, priority int, landingPageID string) *Segment {
	return &Segment{
		ID:                   id,
		Title:                title,
		Priority:             priority,
		PrimaryLandingPageID: landingPageID,
		Rules: []rules.Rule{
			{
				ID:         id + "-default",
				Type:       rules.TypeVisitorType,
				Op:         rules.OpEquals,
				RawValue:   json.RawMessage(`"all"`),
				Label:      "All visitors",
				IsRequired: true,
			},
		},
	}
}

// AddRule validates and appends a rule to the segment.
//
// At most one rule per rule type is allowed, with one exception: several
// customParameter rules may coexist as long as each targets a distinct
// parameter name. A second rule for the same parameter name is rejected
// rather than silently merged, so the editor surfaces the conflict.
func (s *Segment) AddRule(reg *rules.Registry, r rules.Rule) error {
	if s.Frozen() {
		return ErrFrozen
	}

	if err := compileInto(reg, &r); err != nil {
		return err
	}

	for i := range s.Rules {
		existing := &s.Rules[i]
		if existing.Type != r.Type {
			continue
		}
		if r.Type != rules.TypeCustomParameter {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, r.Type)
		}
		if strings.EqualFold(existing.Param, r.Param) {
			return fmt.Errorf("%w: custom parameter %q", ErrDuplicateRule, r.Param)
		}
	}

	s.Rules = append(s.Rules, r)
	return nil
}

// UpdateRule replaces the rule with the same id after re-validating it.
// The required default rule accepts no type/operator changes.
func (s *Segment) UpdateRule(reg *rules.Registry, r rules.Rule) error {
	if s.Frozen() {
		return ErrFrozen
	}

	idx := -1
	for i := range s.Rules {
		if s.Rules[i].ID == r.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, r.ID)
	}

	current := s.Rules[idx]
	if current.IsRequired && (r.Type != current.Type || r.Op != current.Op) {
		return ErrRequiredRule
	}

	if err := compileInto(reg, &r); err != nil {
		return err
	}

	// Keep the duplicate-type invariant when the edit changes the rule type
	// or the custom parameter name.
	for i := range s.Rules {
		if i == idx || s.Rules[i].Type != r.Type {
			continue
		}
		if r.Type != rules.TypeCustomParameter {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, r.Type)
		}
		if strings.EqualFold(s.Rules[i].Param, r.Param) {
			return fmt.Errorf("%w: custom parameter %q", ErrDuplicateRule, r.Param)
		}
	}

	r.IsRequired = current.IsRequired
	s.Rules[idx] = r
	return nil
}

// RemoveRule deletes a rule by id. The synthetic default rule is protected.
func (s *Segment) RemoveRule(id string) error {
	if s.Frozen() {
		return ErrFrozen
	}

	for i := range s.Rules {
		if s.Rules[i].ID != id {
			continue
		}
		if s.Rules[i].IsRequired {
			return ErrRequiredRule
		}
		s.Rules = append(s.Rules[:i], s.Rules[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrRuleNotFound, id)
}

// SetPrimaryLandingPage assigns the segment's default content reference.
func (s *Segment) SetPrimaryLandingPage(landingPageID string) error {
	if s.Frozen() {
		return ErrFrozen
	}
	s.PrimaryLandingPageID = landingPageID
	return nil
}

func compileInto(reg *rules.Registry, r *rules.Rule) error {
	tmp := []rules.Rule{*r}
	if err := rules.CompileRules(reg, tmp); err != nil {
		return err
	}
	*r = tmp[0]
	return nil
}
