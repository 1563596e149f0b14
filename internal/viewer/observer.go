package viewer

// ChangeKind names a library mutation.
type ChangeKind string

const (
	ChangeDeckCollapsed ChangeKind = "deck.collapsed"
	ChangeFileLoaded    ChangeKind = "file.loaded"
	ChangeFileRemoved   ChangeKind = "file.removed"
)

// Change describes one mutation of the library. DeckID and Collapsed are
// set for deck changes only; Replaced only for loads.
type Change struct {
	Kind      ChangeKind `json:"-"`
	File      string     `json:"file"`
	DeckID    int64      `json:"deck_id,omitempty"`
	Collapsed bool       `json:"collapsed"`
	Replaced  bool       `json:"replaced,omitempty"`
}

// Observer receives changes after they are applied. It runs on the
// mutating goroutine and must not block.
type Observer func(Change)

// Observe registers fn for every later change.
func (s *Service) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Service) notify(c Change) {
	s.mu.RLock()
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	s.mu.RUnlock()
	for _, fn := range obs {
		fn(c)
	}
}
