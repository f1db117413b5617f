package campaign

import (
	"errors"
	"fmt"

	"github.com/rcabral/switchyard/internal/traffic"
)

// Variant count bounds. The control plus at least one challenger are always
// required; more than five arms dilutes traffic beyond statistical use.
const (
	MinVariants = 2
	MaxVariants = 5
)

var (
	// ErrControlVariant is returned when deleting the control.
	ErrControlVariant = errors.New("the control variant cannot be deleted")

	// ErrVariantFloor is returned when a removal would leave fewer than
	// MinVariants arms.
	ErrVariantFloor = fmt.Errorf("a test cannot have fewer than %d variants", MinVariants)

	// ErrVariantCeiling is returned when an addition would exceed MaxVariants.
	ErrVariantCeiling = fmt.Errorf("a test cannot have more than %d variants", MaxVariants)

	// ErrVariantNotFound is returned when an edit references an unknown
	// variant id.
	ErrVariantNotFound = errors.New("variant not found")
)

// NewABTest creates a draft test with a control (index 0) and one challenger,
// traffic split equally between them. The pooling percentage is clamped to
// [1, 100].
func NewABTest(id, segmentID, title string, poolingPercent int, controlID, challengerID string) *ABTest {
	t := &ABTest{
		ID:              id,
		SegmentID:       segmentID,
		Title:           title,
		Status:          StatusDraft,
		PoolingPercent:  traffic.ClampPooling(poolingPercent),
		ConfidenceLevel: 95,
		WinningStrategy: StrategyWinner,
		Variants: []Variant{
			{ID: controlID, TestID: id, Title: "Control", Index: 0, IsControl: true, TrafficPercentage: 50},
			{ID: challengerID, TestID: id, Title: "Variant B", Index: 1, TrafficPercentage: 50},
		},
	}
	return t
}

// SetPoolingPercent updates the share of segment traffic entering the test.
func (t *ABTest) SetPoolingPercent(v int) {
	t.PoolingPercent = traffic.ClampPooling(v)
}

// AddVariant appends a new arm and re-splits traffic equally across all
// variants, the control absorbing the integer remainder.
func (t *ABTest) AddVariant(id, title string) error {
	if t.Status == StatusCompleted {
		return ErrFrozen
	}
	if len(t.Variants) >= MaxVariants {
		return ErrVariantCeiling
	}

	buckets, err := traffic.Redistribute(t.buckets(), traffic.Add(id))
	if err != nil {
		return err
	}

	t.Variants = append(t.Variants, Variant{
		ID:     id,
		TestID: t.ID,
		Title:  title,
		Index:  len(t.Variants),
	})
	t.applyBuckets(buckets)
	return nil
}

// RemoveVariant drops an arm and re-splits traffic across the survivors.
// The control is protected, and the test never shrinks below MinVariants.
func (t *ABTest) RemoveVariant(id string) error {
	if t.Status == StatusCompleted {
		return ErrFrozen
	}

	v := t.Variant(id)
	if v == nil {
		return fmt.Errorf("%w: %q", ErrVariantNotFound, id)
	}
	if v.IsControl {
		return ErrControlVariant
	}
	if len(t.Variants) <= MinVariants {
		return ErrVariantFloor
	}

	buckets, err := traffic.Redistribute(t.buckets(), traffic.Remove(id))
	if err != nil {
		return err
	}

	out := make([]Variant, 0, len(t.Variants)-1)
	for _, existing := range t.Variants {
		if existing.ID != id {
			out = append(out, existing)
		}
	}
	// Reindex to keep the 0-based ordering dense; the control stays at 0.
	for i := range out {
		out[i].Index = i
	}
	t.Variants = out
	t.applyBuckets(buckets)
	return nil
}

// SetVariantTraffic pins one arm to the target percentage, scaling the others
// proportionally so the total stays at 100.
func (t *ABTest) SetVariantTraffic(id string, percentage int) error {
	if t.Status == StatusCompleted {
		return ErrFrozen
	}
	if t.Variant(id) == nil {
		return fmt.Errorf("%w: %q", ErrVariantNotFound, id)
	}

	buckets, err := traffic.Redistribute(t.buckets(), traffic.SetPercentage(id, percentage))
	if err != nil {
		return err
	}
	t.applyBuckets(buckets)
	return nil
}

// SetVariantLandingPage assigns a landing page to an arm.
func (t *ABTest) SetVariantLandingPage(id, landingPageID string) error {
	if t.Status == StatusCompleted {
		return ErrFrozen
	}
	v := t.Variant(id)
	if v == nil {
		return fmt.Errorf("%w: %q", ErrVariantNotFound, id)
	}
	v.LandingPageID = landingPageID
	return nil
}

func (t *ABTest) buckets() []traffic.Bucket {
	out := make([]traffic.Bucket, len(t.Variants))
	for i, v := range t.Variants {
		out[i] = traffic.Bucket{ID: v.ID, Percentage: v.TrafficPercentage}
	}
	return out
}

func (t *ABTest) applyBuckets(buckets []traffic.Bucket) {
	byID := make(map[string]int, len(buckets))
	for _, b := range buckets {
		byID[b.ID] = b.Percentage
	}
	for i := range t.Variants {
		t.Variants[i].TrafficPercentage = byID[t.Variants[i].ID]
	}
}
