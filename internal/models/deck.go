package models

// Deck is a named, hierarchical grouping of notes. Collapsed is the only
// field mutated after load; HasChildren and ParentID are derived.
type Deck struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Collapsed   bool   `json:"collapsed"`
	HasChildren bool   `json:"has_children"`
	ParentID    int64  `json:"parent_id"`
	Synthesized bool   `json:"synthesized,omitempty"`
}
