// Package merge implements two-way and three-way merges of the project's
// append-only, UUID-keyed record files (specs, issues, relationships,
// feedback).
package merge

import (
	"sort"
	"time"
)

// Record is one line of a structured file, decoded into a generic shape the
// merger can reconcile without knowing the entity's concrete Go type.
type Record struct {
	UUID      string
	StableID  string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Fields holds the decoded content (title, status, content, tags,
	// relationships, feedback, ...), keyed by JSON/YAML field name.
	Fields map[string]interface{}
}

// clone returns a deep-enough copy for safe mutation during merge (the
// top-level Fields map is copied; nested values are shared, matching the
// read-mostly access pattern of the merge passes).
func (r Record) clone() Record {
	out := r
	out.Fields = make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// byCreatedAt sorts records by created_at ascending, falling back to stable
// id lexical order for determinism when timestamps tie.
type byCreatedAt []Record

func (s byCreatedAt) Len() int      { return len(s) }
func (s byCreatedAt) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byCreatedAt) Less(i, j int) bool {
	if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	}
	return s[i].StableID < s[j].StableID
}

func sortRecords(records []Record) {
	sort.Stable(byCreatedAt(records))
}
