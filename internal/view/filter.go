// Package view derives the visible subset of an exploration graph from a
// filter. Nothing here mutates the model: Project works on a graph.Snapshot
// and returns fresh copies.
package view

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeRange is the closed interval [From, To]. A nil bound is open.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Active reports whether at least one bound is set.
func (r *TimeRange) Active() bool {
	return r != nil && (r.From != nil || r.To != nil)
}

// bounds returns the range with open ends replaced by the extreme
// representable instants.
func (r *TimeRange) bounds() (time.Time, time.Time) {
	from := time.Unix(-1<<62, 0)
	to := time.Unix(1<<62, 0)
	if r == nil {
		return from, to
	}
	if r.From != nil {
		from = *r.From
	}
	if r.To != nil {
		to = *r.To
	}
	return from, to
}

// Filter is the user-controlled visibility state of one view.
type Filter struct {
	// VisibleTypes lists the entity types to show. Empty shows every type.
	VisibleTypes   []string   `json:"visibleTypes,omitempty"`
	ShowRelational bool       `json:"showRelational"`
	ShowSemantic   bool       `json:"showSemantic"`
	TimeRange      *TimeRange `json:"timeRange,omitempty"`
	Query          string     `json:"query,omitempty"`
}

// DefaultFilter shows everything and highlights nothing.
func DefaultFilter() Filter {
	return Filter{ShowRelational: true, ShowSemantic: true}
}

// Validate rejects a time range whose start lies after its end.
func (f Filter) Validate() error {
	if f.TimeRange != nil && f.TimeRange.From != nil && f.TimeRange.To != nil &&
		f.TimeRange.From.After(*f.TimeRange.To) {
		return fmt.Errorf("view: time range starts %s after it ends %s",
			f.TimeRange.From.Format(time.RFC3339), f.TimeRange.To.Format(time.RFC3339))
	}
	return nil
}

// typeSet returns nil when every type is visible.
func (f Filter) typeSet() map[string]bool {
	if len(f.VisibleTypes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(f.VisibleTypes))
	for _, t := range f.VisibleTypes {
		set[t] = true
	}
	return set
}

// WithTypes returns a copy of f restricted to the given types, sorted and
// without duplicates.
func (f Filter) WithTypes(types ...string) Filter {
	seen := make(map[string]bool, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	f.VisibleTypes = out
	return f
}
