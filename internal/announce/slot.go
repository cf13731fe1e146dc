package announce

import "sync"

// Announcement is the transient quick announcement.
type Announcement struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	URL    string `json:"url"`
}

// Slot holds at most one Announcement.
//
// Every Begin and Clear advances the generation. Complete only stores a
// result carrying the current generation, so a fetch that finishes after a
// newer show or a hide is dropped.
type Slot struct {
	mu      sync.RWMutex
	gen     uint64
	current *Announcement
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Begin registers a new show request and returns its generation. The shown
// value is left as is until Complete succeeds.
func (s *Slot) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// Complete stores a for generation gen. It reports false, leaving the slot
// untouched, when gen has been superseded.
func (s *Slot) Complete(gen uint64, a Announcement) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.current = &a
	return true
}

// Clear empties the slot and invalidates any pending request. It reports
// whether an announcement was showing.
func (s *Slot) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	had := s.current != nil
	s.current = nil
	return had
}

// Current returns a copy of the shown announcement, or nil.
func (s *Slot) Current() *Announcement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	a := *s.current
	return &a
}

// Generation returns the current generation.
func (s *Slot) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}
