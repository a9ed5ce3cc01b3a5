package domain

// Values carries request payload fields of unknown shape: query parameters
// or decoded body data. Each key maps to one or more string values so that
// repeated form fields survive the round trip into prompt context.
type Values map[string][]string

// Get returns the first value for key, or "" when the key is absent.
func (v Values) Get(key string) string {
	if vs, ok := v[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Has reports whether key is present, even with an empty value list.
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// Set replaces all values for key.
func (v Values) Set(key, value string) {
	v[key] = []string{value}
}

// Add appends a value for key.
func (v Values) Add(key, value string) {
	v[key] = append(v[key], value)
}

// Delete removes key entirely.
func (v Values) Delete(key string) {
	delete(v, key)
}

// Clone returns a deep copy of v. A nil Values clones to nil.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, vs := range v {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}
