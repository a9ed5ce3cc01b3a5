package domain

// FragmentTables are the per-branch lookup tables mapping fragment ids to
// previously emitted markup: one table for component elements, one for
// style blocks. A turn records the tables valid as of that turn; the
// cumulative cache for the next render is reconstructed by folding the
// branch history oldest to newest, most recent entries winning on
// collision.
type FragmentTables struct {
	Components map[string]string `json:"components,omitempty"`
	Styles     map[string]string `json:"styles,omitempty"`
}

// NewFragmentTables returns empty, non-nil tables.
func NewFragmentTables() FragmentTables {
	return FragmentTables{
		Components: make(map[string]string),
		Styles:     make(map[string]string),
	}
}

// Clone deep-copies the tables. Nil maps clone to empty maps so callers can
// write to the result unconditionally.
func (t FragmentTables) Clone() FragmentTables {
	out := FragmentTables{
		Components: make(map[string]string, len(t.Components)),
		Styles:     make(map[string]string, len(t.Styles)),
	}
	for id, markup := range t.Components {
		out.Components[id] = markup
	}
	for id, markup := range t.Styles {
		out.Styles[id] = markup
	}
	return out
}

// Merge writes every entry of other into t, overwriting on collision.
func (t FragmentTables) Merge(other FragmentTables) {
	for id, markup := range other.Components {
		t.Components[id] = markup
	}
	for id, markup := range other.Styles {
		t.Styles[id] = markup
	}
}

// Len returns the total number of cached fragments across both tables.
func (t FragmentTables) Len() int {
	return len(t.Components) + len(t.Styles)
}
