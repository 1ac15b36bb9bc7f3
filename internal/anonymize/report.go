package anonymize

import "sort"

// Finding is one matched substring and the detector's confidence in it.
type Finding struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Report groups findings by entity type. Within a type, findings keep the
// order in which the detector produced the spans.
type Report map[string][]Finding

// Types returns the entity types present in the report, sorted.
func (r Report) Types() []string {
	out := make([]string, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of findings across all entity types.
func (r Report) Count() int {
	n := 0
	for _, fs := range r {
		n += len(fs)
	}
	return n
}

// Item describes one replacement applied to the text, in rune offsets of the
// original input.
type Item struct {
	EntityType  string `json:"entity_type"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Replacement string `json:"replacement"`
}

// Result is the outcome of anonymizing one text.
type Result struct {
	Text     string `json:"text"`
	Findings Report `json:"findings"`
	Items    []Item `json:"items"`
}
