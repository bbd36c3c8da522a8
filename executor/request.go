package executor

import "unicode/utf8"

// Request is one evaluation request.
type Request struct {
	// Source is the guarded code. Its completion value is the result.
	Source string `json:"source"`
	// Context values are bound as globals before evaluation. Names on the
	// deny-list are shadowed by the capability filter.
	Context map[string]any `json:"context,omitempty"`
}

// Size returns the UTF-8 encoded length of the source. Invalid sequences
// count as the replacement character.
func (r Request) Size() int64 {
	if utf8.ValidString(r.Source) {
		return int64(len(r.Source))
	}
	var n int64
	for _, c := range r.Source {
		n += int64(utf8.RuneLen(c))
	}
	return n
}
