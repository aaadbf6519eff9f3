package retrieval

import (
	"sort"
	"strings"
)

// Filter is a set of accepted values for one query dimension. A nil
// Filter means the dimension is unconstrained; the "all" sentinel from
// the HTTP edge never travels further than NewFilter.
type Filter map[string]struct{}

// NewFilter parses a comma-separated dimension parameter. Empty input
// and the "all" sentinel yield the unconstrained nil filter.
func NewFilter(raw string) Filter {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil
	}
	f := make(Filter)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			f[part] = struct{}{}
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// Match reports whether v passes the filter.
func (f Filter) Match(v string) bool {
	if f == nil {
		return true
	}
	_, ok := f[v]
	return ok
}

// Values returns the accepted values in sorted order.
func (f Filter) Values() []string {
	vals := make([]string, 0, len(f))
	for v := range f {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return vals
}

// Patterns returns the glob segments this filter pins down: its literal
// values, or a single wildcard when unconstrained.
func (f Filter) Patterns() []string {
	if f == nil {
		return []string{"*"}
	}
	return f.Values()
}

// maxPatternProduct caps how many scan patterns a query may expand to
// before the expansion collapses to wildcards and post-filtering.
const maxPatternProduct = 64

// patternProduct expands the Cartesian product of per-dimension pattern
// segments. Oversized products collapse to one all-wildcard tuple;
// callers post-filter with Match either way.
func patternProduct(dims ...[]string) [][]string {
	total := 1
	for _, dim := range dims {
		total *= len(dim)
	}
	if total > maxPatternProduct {
		wild := make([]string, len(dims))
		for i := range wild {
			wild[i] = "*"
		}
		return [][]string{wild}
	}
	tuples := [][]string{{}}
	for _, dim := range dims {
		next := make([][]string, 0, len(tuples)*len(dim))
		for _, tuple := range tuples {
			for _, seg := range dim {
				grown := make([]string, len(tuple), len(tuple)+1)
				copy(grown, tuple)
				next = append(next, append(grown, seg))
			}
		}
		tuples = next
	}
	return tuples
}
