package call

import "sort"

// Speakers is the set of participants who announced they are talking. It is
// driven by explicit start/stop events, never by audio levels.
type Speakers struct {
	names map[string]string
}

func NewSpeakers() *Speakers {
	return &Speakers{names: make(map[string]string)}
}

// Start marks id as speaking and reports whether the set changed.
func (s *Speakers) Start(id, name string) bool {
	if _, ok := s.names[id]; ok {
		return false
	}
	s.names[id] = name
	return true
}

// Stop clears id and reports whether the set changed.
func (s *Speakers) Stop(id string) (Member, bool) {
	name, ok := s.names[id]
	if !ok {
		return Member{}, false
	}
	delete(s.names, id)
	return Member{ID: id, Name: name}, true
}

func (s *Speakers) Has(id string) bool {
	_, ok := s.names[id]
	return ok
}

// Clear empties the set and returns who was speaking.
func (s *Speakers) Clear() []Member {
	out := make([]Member, 0, len(s.names))
	for _, id := range s.IDs() {
		out = append(out, Member{ID: id, Name: s.names[id]})
	}
	s.names = make(map[string]string)
	return out
}

func (s *Speakers) IDs() []string {
	ids := make([]string, 0, len(s.names))
	for id := range s.names {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
