package photo

import "sync"

// Selection is the ordered list of photos picked for a timelapse. Photos
// are appended in the order they are selected and never reordered.
type Selection struct {
	mu   sync.RWMutex
	refs []Ref
}

func NewSelection(refs ...Ref) *Selection {
	s := &Selection{}
	for _, r := range refs {
		s.Add(r)
	}
	return s
}

// Add appends r unless a photo with the same key is already selected.
func (s *Selection) Add(r Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(r.Key()) >= 0 {
		return false
	}
	s.refs = append(s.refs, r)
	return true
}

// Remove drops the photo with r's key.
func (s *Selection) Remove(r Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(r.Key())
	if i < 0 {
		return false
	}
	s.refs = append(s.refs[:i], s.refs[i+1:]...)
	return true
}

// Toggle selects r if absent and deselects it otherwise. It reports whether
// r is selected afterwards.
func (s *Selection) Toggle(r Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(r.Key()); i >= 0 {
		s.refs = append(s.refs[:i], s.refs[i+1:]...)
		return false
	}
	s.refs = append(s.refs, r)
	return true
}

func (s *Selection) Contains(r Ref) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(r.Key()) >= 0
}

// SelectAll clears the selection when it already holds exactly len(visible)
// photos, otherwise replaces it with visible in the given order.
func (s *Selection) SelectAll(visible []Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.refs) == len(visible) {
		s.refs = nil
		return
	}
	s.refs = append(s.refs[:0:0], visible...)
}

func (s *Selection) Clear() {
	s.mu.Lock()
	s.refs = nil
	s.mu.Unlock()
}

func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}

// Snapshot returns a copy of the current selection. Later changes to the
// selection are not visible through the returned slice.
func (s *Selection) Snapshot() []Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ref, len(s.refs))
	copy(out, s.refs)
	return out
}

func (s *Selection) indexLocked(key string) int {
	for i, r := range s.refs {
		if r.Key() == key {
			return i
		}
	}
	return -1
}
