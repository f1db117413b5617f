package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRules(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()

	tests := []struct {
		name      string
		rule      Rule
		wantShape Shape
		wantErr   error
	}{
		{
			name:      "Should compile a scalar string value",
			rule:      Rule{ID: "r1", Type: TypeCountry, Op: OpEquals, RawValue: json.RawMessage(`"US"`)},
			wantShape: ShapeScalar,
		},
		{
			name:      "Should compile an array value for in",
			rule:      Rule{ID: "r2", Type: TypeCountry, Op: OpIn, RawValue: json.RawMessage(`["US", "CA", "MX"]`)},
			wantShape: ShapeSet,
		},
		{
			name:      "Should compile a two-element range for between",
			rule:      Rule{ID: "r3", Type: TypeHourOfDay, Op: OpBetween, RawValue: json.RawMessage(`[9, 17]`)},
			wantShape: ShapeRange,
		},
		{
			name:    "Should reject a three-element range",
			rule:    Rule{ID: "r4", Type: TypeHourOfDay, Op: OpBetween, RawValue: json.RawMessage(`[9, 12, 17]`)},
			wantErr: ErrInvalidRange,
		},
		{
			name:    "Should reject a scalar where in expects an array",
			rule:    Rule{ID: "r5", Type: TypeCountry, Op: OpIn, RawValue: json.RawMessage(`"US"`)},
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "Should reject an unknown rule type",
			rule:    Rule{ID: "r6", Type: "favoriteColor", Op: OpEquals, RawValue: json.RawMessage(`"red"`)},
			wantErr: ErrUnknownRuleType,
		},
		{
			name:    "Should reject an operator the rule type does not support",
			rule:    Rule{ID: "r7", Type: TypeCountry, Op: OpGreaterThan, RawValue: json.RawMessage(`"US"`)},
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "Should reject a non-numeric scalar for a number rule type",
			rule:    Rule{ID: "r8", Type: TypeHourOfDay, Op: OpEquals, RawValue: json.RawMessage(`"noon"`)},
			wantErr: ErrTypeMismatch,
		},
		{
			name:      "Should tolerate boolean encoded as string for isEUCountry",
			rule:      Rule{ID: "r9", Type: TypeIsEUCountry, Op: OpEquals, RawValue: json.RawMessage(`"true"`)},
			wantShape: ShapeScalar,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rs := []Rule{tt.rule}
			err := CompileRules(reg, rs)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				// The failing rule id is named so the editor can point at it.
				assert.Contains(t, err.Error(), tt.rule.ID)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantShape, rs[0].Compiled.Shape)
		})
	}
}

func TestCompileRules_CustomParameter(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()

	t.Run("Should split the parameter name from a scalar value", func(t *testing.T) {
		t.Parallel()

		rs := []Rule{{ID: "cp1", Type: TypeCustomParameter, Op: OpEquals, RawValue: json.RawMessage(`"plan=pro"`)}}
		require.NoError(t, CompileRules(reg, rs))

		assert.Equal(t, "plan", rs[0].Param)
		assert.Equal(t, ShapeScalar, rs[0].Compiled.Shape)
		assert.Equal(t, "pro", rs[0].Compiled.Scalar.Str)
	})

	t.Run("Should split comma-separated values into a set for in", func(t *testing.T) {
		t.Parallel()

		rs := []Rule{{ID: "cp2", Type: TypeCustomParameter, Op: OpIn, RawValue: json.RawMessage(`"plan=pro, team,enterprise"`)}}
		require.NoError(t, CompileRules(reg, rs))

		assert.Equal(t, "plan", rs[0].Param)
		require.Equal(t, ShapeSet, rs[0].Compiled.Shape)
		require.Len(t, rs[0].Compiled.Items, 3)
		assert.Equal(t, "team", rs[0].Compiled.Items[1].Str)
	})

	t.Run("Should reject a value without a parameter name", func(t *testing.T) {
		t.Parallel()

		rs := []Rule{{ID: "cp3", Type: TypeCustomParameter, Op: OpEquals, RawValue: json.RawMessage(`"justavalue"`)}}
		err := CompileRules(reg, rs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name=value")
	})
}

func TestScalar_Equals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     Scalar
		caseFold bool
		want     bool
	}{
		{name: "Should match identical strings", a: String("google"), b: String("google"), want: true},
		{name: "Should be case-sensitive by default", a: String("Google"), b: String("google"), want: false},
		{name: "Should fold case when requested", a: String("US"), b: String("us"), caseFold: true, want: true},
		{name: "Should match a numeric string against a number", a: String("5"), b: Number(5), want: true},
		{name: "Should match booleans by kind and value", a: Bool(true), b: Bool(true), want: true},
		{name: "Should not match a bool against a string", a: Bool(true), b: String("true"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.equals(tt.b, tt.caseFold))
		})
	}
}
