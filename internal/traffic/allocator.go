// Package traffic implements integer-percentage traffic allocation across
// variants and segments. Every operation preserves the core invariant:
// after any mutation, the percentages of all buckets sum to exactly 100 and
// no bucket is negative.
package traffic

import (
	"fmt"
	"sort"
)

// Bucket is one share of a 100% split: an A/B test variant or a segment.
type Bucket struct {
	// ID identifies the variant/segment the share belongs to.
	ID string `json:"id"`

	// Percentage is the integer share in [0, 100].
	Percentage int `json:"percentage"`
}

// EventKind discriminates the three redistribution triggers.
type EventKind int

const (
	// EventAdd appends a new bucket and re-splits all siblings equally.
	EventAdd EventKind = iota
	// EventRemove drops a bucket and re-splits the remainder equally.
	EventRemove
	// EventSetPercentage pins one bucket to a target share and scales the
	// others proportionally to absorb the delta.
	EventSetPercentage
)

// Event describes a single redistribution request.
type Event struct {
	Kind  EventKind
	ID    string
	Value int
}

// Add returns an event that appends a bucket with the given id.
func Add(id string) Event { return Event{Kind: EventAdd, ID: id} }

// Remove returns an event that drops the bucket with the given id.
func Remove(id string) Event { return Event{Kind: EventRemove, ID: id} }

// SetPercentage returns an event that pins one bucket to value percent.
func SetPercentage(id string, value int) Event {
	return Event{Kind: EventSetPercentage, ID: id, Value: value}
}

// EqualSplit divides 100% across n buckets: base = floor(100/n) to every
// bucket, with the remainder assigned to bucket index 0 (the control / first
// element). The remainder placement is deterministic so repeated re-splits
// are reproducible. n=3 yields [34, 33, 33].
func EqualSplit(n int) ([]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("traffic: cannot split across %d buckets", n)
	}
	base := 100 / n
	remainder := 100 - base*n

	shares := make([]int, n)
	for i := range shares {
		shares[i] = base
	}
	shares[0] += remainder
	return shares, nil
}

// Redistribute applies an event to a bucket list and returns the new list.
// The input is never mutated; callers operate on snapshots.
//
// Postconditions for every event kind: the returned percentages sum to 100
// and none is negative.
func Redistribute(buckets []Bucket, ev Event) ([]Bucket, error) {
	switch ev.Kind {
	case EventAdd:
		return redistributeAdd(buckets, ev.ID)
	case EventRemove:
		return redistributeRemove(buckets, ev.ID)
	case EventSetPercentage:
		return redistributeSet(buckets, ev.ID, ev.Value)
	default:
		return nil, fmt.Errorf("traffic: unknown event kind %d", ev.Kind)
	}
}

// redistributeAdd appends the new bucket and performs a full equal re-split
// of all siblings, not just the new one.
func redistributeAdd(buckets []Bucket, id string) ([]Bucket, error) {
	for _, b := range buckets {
		if b.ID == id {
			return nil, fmt.Errorf("traffic: bucket %q already exists", id)
		}
	}

	out := make([]Bucket, len(buckets)+1)
	copy(out, buckets)
	out[len(buckets)] = Bucket{ID: id}

	shares, err := EqualSplit(len(out))
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Percentage = shares[i]
	}
	return out, nil
}

// redistributeRemove drops the bucket and equally re-splits the survivors.
func redistributeRemove(buckets []Bucket, id string) ([]Bucket, error) {
	idx := indexOf(buckets, id)
	if idx < 0 {
		return nil, fmt.Errorf("traffic: bucket %q not found", id)
	}
	if len(buckets) == 1 {
		return nil, fmt.Errorf("traffic: cannot remove the last bucket")
	}

	out := make([]Bucket, 0, len(buckets)-1)
	for i, b := range buckets {
		if i != idx {
			out = append(out, b)
		}
	}

	shares, err := EqualSplit(len(out))
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Percentage = shares[i]
	}
	return out, nil
}

// redistributeSet pins one bucket to the target percentage and scales the
// others proportionally so relative shares among them are preserved. Rounding
// leftovers go to the buckets with the largest fractional remainders, earliest
// index winning ties, which keeps the result deterministic.
func redistributeSet(buckets []Bucket, id string, target int) ([]Bucket, error) {
	idx := indexOf(buckets, id)
	if idx < 0 {
		return nil, fmt.Errorf("traffic: bucket %q not found", id)
	}
	if target < 0 || target > 100 {
		return nil, fmt.Errorf("traffic: target percentage %d out of range [0, 100]", target)
	}

	out := make([]Bucket, len(buckets))
	copy(out, buckets)

	if len(out) == 1 {
		out[0].Percentage = 100
		return out, nil
	}

	out[idx].Percentage = target
	othersTotal := 100 - target

	// Current weight of the siblings being scaled.
	oldTotal := 0
	for i, b := range buckets {
		if i != idx {
			oldTotal += b.Percentage
		}
	}

	type share struct {
		pos   int
		whole int
		frac  float64
	}
	shares := make([]share, 0, len(out)-1)
	assigned := 0

	for i, b := range buckets {
		if i == idx {
			continue
		}
		var exact float64
		if oldTotal > 0 {
			exact = float64(b.Percentage) * float64(othersTotal) / float64(oldTotal)
		} else {
			// All siblings were at zero: fall back to an equal spread.
			exact = float64(othersTotal) / float64(len(out)-1)
		}
		whole := int(exact)
		shares = append(shares, share{pos: i, whole: whole, frac: exact - float64(whole)})
		assigned += whole
	}

	// Hand out the rounding leftover, largest fractional remainder first.
	leftover := othersTotal - assigned
	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].frac > shares[b].frac
	})
	for i := 0; i < len(shares) && leftover > 0; i++ {
		shares[i].whole++
		leftover--
	}

	for _, s := range shares {
		out[s.pos].Percentage = s.whole
	}
	return out, nil
}

// Sum returns the total percentage across all buckets.
func Sum(buckets []Bucket) int {
	total := 0
	for _, b := range buckets {
		total += b.Percentage
	}
	return total
}

// ClampPooling bounds an A/B test's pooling percentage to [1, 100]. Pooling
// is a single scalar describing how much of a segment's matched traffic
// enters the test at all; it is not part of the multi-bucket redistribution.
func ClampPooling(v int) int {
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

func indexOf(buckets []Bucket, id string) int {
	for i, b := range buckets {
		if b.ID == id {
			return i
		}
	}
	return -1
}
