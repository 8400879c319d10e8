package client

// maxSeenEvents bounds the dedup window. Duplicates arrive close together
// (overlapping rooms, backplane echo), so a small recent window is enough.
const maxSeenEvents = 1024

// seenSet is a bounded set of recently observed event IDs. When full, the
// oldest entry is evicted. Not safe for concurrent use; the read loop is the
// only caller.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	head  int
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{
		ids:   make(map[string]struct{}, limit),
		order: make([]string, 0, limit),
		limit: limit,
	}
}

// Add records the ID and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}

	if len(s.order) < s.limit {
		s.order = append(s.order, id)
	} else {
		delete(s.ids, s.order[s.head])
		s.order[s.head] = id
		s.head = (s.head + 1) % s.limit
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *seenSet) Len() int {
	return len(s.ids)
}
