package intervals

import (
	"fmt"
	"sort"
	"strings"
)

// Range is the half-open byte range [Low, High).
type Range struct {
	Low  int64
	High int64
}

func (r Range) Len() int64 {
	return r.High - r.Low
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Low, r.High)
}

// Set is an ordered set of disjoint, non-adjacent ranges.
type Set struct {
	ranges []Range
}

// NewSet returns a set holding the union of ranges.
func NewSet(ranges ...Range) *Set {
	s := &Set{}
	for _, r := range ranges {
		s.Add(r)
	}
	return s
}

// Add merges r into the set. Empty ranges are ignored.
func (s *Set) Add(r Range) {
	if r.High <= r.Low {
		return
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].High >= r.Low })
	j := i
	for j < len(s.ranges) && s.ranges[j].Low <= r.High {
		if s.ranges[j].Low < r.Low {
			r.Low = s.ranges[j].Low
		}
		if s.ranges[j].High > r.High {
			r.High = s.ranges[j].High
		}
		j++
	}
	merged := append([]Range{}, s.ranges[:i]...)
	merged = append(merged, r)
	s.ranges = append(merged, s.ranges[j:]...)
}

// Ranges returns a copy of the ranges in ascending order.
func (s *Set) Ranges() []Range {
	return append([]Range(nil), s.ranges...)
}

func (s *Set) Len() int {
	return len(s.ranges)
}

func (s *Set) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Size returns the number of bytes covered.
func (s *Set) Size() int64 {
	var n int64
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Contains reports whether every byte of r is in the set.
func (s *Set) Contains(r Range) bool {
	if r.High <= r.Low {
		return true
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].High > r.Low })
	return i < len(s.ranges) && s.ranges[i].Low <= r.Low && s.ranges[i].High >= r.High
}

// Overlaps reports whether any byte of r is in the set.
func (s *Set) Overlaps(r Range) bool {
	if r.High <= r.Low {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].High > r.Low })
	return i < len(s.ranges) && s.ranges[i].Low < r.High
}

func (s *Set) Equal(other *Set) bool {
	if other == nil || len(s.ranges) != len(other.ranges) {
		return false
	}
	for i := range s.ranges {
		if s.ranges[i] != other.ranges[i] {
			return false
		}
	}
	return true
}

func (s *Set) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}
