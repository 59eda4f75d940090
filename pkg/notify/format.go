package notify

import (
	"sort"
	"strings"
)

// Format substitutes {key} placeholders in template. Unknown placeholders are left as-is.
func Format(template string, keywords map[string]string) string {
	if template == "" || len(keywords) == 0 {
		return template
	}

	keys := make([]string, 0, len(keywords))
	for k := range keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", keywords[k])
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

// NewItems returns the items of next that are absent from prev, oldest first.
// Both feeds are ordered most-recent-first. The last offset entries of next sit
// at the edge of the fetch window, where a deletion can expose an old item, and
// are never reported.
func NewItems(prev, next []string, offset int) []string {
	if offset < 0 {
		offset = 0
	}
	window := len(next) - offset
	if window <= 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(prev))
	for _, item := range prev {
		seen[item] = struct{}{}
	}

	var out []string
	for i := window - 1; i >= 0; i-- {
		if _, ok := seen[next[i]]; ok {
			continue
		}
		out = append(out, next[i])
	}

	return out
}
