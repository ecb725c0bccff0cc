package urn

// Set is an insertion-ordered set of URNs.
type Set struct {
	items []URN
	seen  map[string]struct{}
}

// NewSet returns a set holding urns in order, duplicates dropped.
func NewSet(urns ...URN) *Set {
	s := &Set{seen: map[string]struct{}{}}
	for _, u := range urns {
		s.Add(u)
	}
	return s
}

// Add inserts u and reports whether it was new.
func (s *Set) Add(u URN) bool {
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}
	if _, ok := s.seen[u.value]; ok {
		return false
	}
	s.seen[u.value] = struct{}{}
	s.items = append(s.items, u)
	return true
}

func (s *Set) Contains(u URN) bool {
	if s == nil {
		return false
	}
	_, ok := s.seen[u.value]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Slice returns a copy of the URNs in insertion order.
func (s *Set) Slice() []URN {
	if s == nil {
		return nil
	}
	return append([]URN(nil), s.items...)
}

// First returns the first URN of type t.
func (s *Set) First(t Type) (URN, bool) {
	if s == nil {
		return URN{}, false
	}
	for _, u := range s.items {
		if u.typ == t {
			return u, true
		}
	}
	return URN{}, false
}
