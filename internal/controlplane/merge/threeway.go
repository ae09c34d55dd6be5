package merge

import (
	"reflect"
	"strconv"
	"strings"
)

// side classifies a single UUID's presence/change across one side (ours or
// theirs) relative to base.
type side int

const (
	sideUnchanged side = iota
	sideAdded
	sideModified
	sideDeleted
)

// ConflictKind flags three-way outcomes that needed a tie-break.
type ConflictKind string

const (
	ConflictNone             ConflictKind = ""
	ConflictDeleteModify     ConflictKind = "delete_modify"
	ConflictModifyModify     ConflictKind = "modify_modify"
	ConflictStableIDCollide  ConflictKind = "stable_id_collision"
)

// ThreeWayConflict records a UUID whose resolution required a tie-break rule
// rather than a clean merge.
type ThreeWayConflict struct {
	UUID string
	Kind ConflictKind
}

// ThreeWayResult is the outcome of merging base/ours/theirs of one
// structured file.
type ThreeWayResult struct {
	Merged    []Record
	Conflicts []ThreeWayConflict
}

// ThreeWayMerge classifies each UUID present in any of base/ours/theirs
// independently per the merge's classification table, then applies the
// metadata-merge rules (union tags/relationships/feedback, latest-updated_at
// wins on scalars) where both sides modified the same record.
func ThreeWayMerge(base, ours, theirs []Record) ThreeWayResult {
	baseByUUID := indexByUUID(base)
	oursByUUID := indexByUUID(ours)
	theirsByUUID := indexByUUID(theirs)

	allUUIDs := make(map[string]bool)
	for _, m := range []map[string]Record{baseByUUID, oursByUUID, theirsByUUID} {
		for uuid := range m {
			allUUIDs[uuid] = true
		}
	}

	result := ThreeWayResult{}
	stableIDsSeen := make(map[string]string) // stable id -> uuid already placed in output

	for uuid := range allUUIDs {
		baseRec, hadBase := baseByUUID[uuid]
		oursRec, hadOurs := oursByUUID[uuid]
		theirsRec, hadTheirs := theirsByUUID[uuid]

		ourSide := classify(hadBase, hadOurs, baseRec, oursRec)
		theirSide := classify(hadBase, hadTheirs, baseRec, theirsRec)

		merged, conflict, keep := resolvePair(baseRec, oursRec, theirsRec, ourSide, theirSide)
		if !keep {
			continue
		}
		if conflict != ConflictNone {
			result.Conflicts = append(result.Conflicts, ThreeWayConflict{UUID: uuid, Kind: conflict})
		}

		if existingUUID, collide := stableIDsSeen[merged.StableID]; collide && existingUUID != uuid {
			merged = renameStableID(merged, stableIDsSeen)
			result.Conflicts = append(result.Conflicts, ThreeWayConflict{UUID: uuid, Kind: ConflictStableIDCollide})
		}
		stableIDsSeen[merged.StableID] = uuid
		result.Merged = append(result.Merged, merged)
	}

	sortRecords(result.Merged)
	return result
}

func classify(hadBase, hadSide bool, baseRec, sideRec Record) side {
	switch {
	case !hadBase && hadSide:
		return sideAdded
	case hadBase && !hadSide:
		return sideDeleted
	case hadBase && hadSide && !recordsEqual(baseRec, sideRec):
		return sideModified
	default:
		return sideUnchanged
	}
}

// resolvePair applies the classification table for one UUID. keep=false
// means the record is absent from the merged output.
func resolvePair(base, ours, theirs Record, ourSide, theirSide side) (merged Record, conflict ConflictKind, keep bool) {
	switch {
	case ourSide == sideUnchanged && theirSide == sideUnchanged:
		return base, ConflictNone, true
	case ourSide == sideUnchanged && theirSide == sideModified:
		return theirs, ConflictNone, true
	case ourSide == sideModified && theirSide == sideUnchanged:
		return ours, ConflictNone, true
	case ourSide == sideAdded && theirSide != sideAdded:
		return ours, ConflictNone, true
	case theirSide == sideAdded && ourSide != sideAdded:
		return theirs, ConflictNone, true
	case ourSide == sideAdded && theirSide == sideAdded:
		return mergeAddedBoth(ours, theirs), ConflictNone, true
	case ourSide == sideDeleted && theirSide == sideUnchanged:
		return Record{}, ConflictNone, false
	case ourSide == sideUnchanged && theirSide == sideDeleted:
		return Record{}, ConflictNone, false
	case ourSide == sideDeleted && theirSide == sideModified:
		return theirs, ConflictDeleteModify, true
	case ourSide == sideModified && theirSide == sideDeleted:
		return ours, ConflictDeleteModify, true
	case ourSide == sideDeleted && theirSide == sideDeleted:
		return Record{}, ConflictNone, false
	case ourSide == sideModified && theirSide == sideModified:
		return mergeModifiedBoth(base, ours, theirs), ConflictModifyModify, true
	default:
		return base, ConflictNone, true
	}
}

// mergeAddedBoth merges two records independently introduced with the same
// UUID: latest updated_at wins on scalars, metadata fields are unioned.
func mergeAddedBoth(ours, theirs Record) Record {
	winner, loser := ours, theirs
	if theirs.UpdatedAt.After(ours.UpdatedAt) {
		winner, loser = theirs, ours
	}
	return unionMetadata(winner, loser)
}

// mergeModifiedBoth resolves a record both sides changed: scalar fields take
// the latest-updated_at side; tag/relationship/feedback-shaped array fields
// are unioned; large text fields get a line-level three-way merge.
func mergeModifiedBoth(base, ours, theirs Record) Record {
	winner, loser := ours, theirs
	if theirs.UpdatedAt.After(ours.UpdatedAt) {
		winner, loser = theirs, ours
	}
	merged := unionMetadata(winner, loser)

	for _, field := range []string{"content", "description", "body"} {
		baseText, _ := base.Fields[field].(string)
		oursText, _ := ours.Fields[field].(string)
		theirsText, _ := theirs.Fields[field].(string)
		if oursText == "" && theirsText == "" {
			continue
		}
		winnerText, loserText := oursText, theirsText
		if theirs.UpdatedAt.After(ours.UpdatedAt) {
			winnerText, loserText = theirsText, oursText
		}
		merged.Fields[field] = mergeText(baseText, winnerText, loserText)
	}
	if theirs.UpdatedAt.After(ours.UpdatedAt) {
		merged.UpdatedAt = theirs.UpdatedAt
	} else {
		merged.UpdatedAt = ours.UpdatedAt
	}
	return merged
}

// unionMetadata combines winner's scalar fields with winner∪loser's array
// fields for the known metadata shapes (tags, relationships, feedback).
func unionMetadata(winner, loser Record) Record {
	merged := winner.clone()
	if tags := unionStringSlices(fieldSlice(winner, "tags"), fieldSlice(loser, "tags")); tags != nil {
		merged.Fields["tags"] = tags
	}
	if rels := unionKeyedMaps(fieldMapSlice(winner, "relationships"), fieldMapSlice(loser, "relationships"),
		"from_id", "from_type", "to_id", "to_type", "type"); rels != nil {
		merged.Fields["relationships"] = rels
	}
	if fb := unionKeyedMaps(fieldMapSlice(winner, "feedback"), fieldMapSlice(loser, "feedback"), "id"); fb != nil {
		merged.Fields["feedback"] = fb
	}
	return merged
}

func fieldSlice(rec Record, name string) []interface{} {
	v, ok := rec.Fields[name].([]interface{})
	if !ok {
		return nil
	}
	return v
}

func fieldMapSlice(rec Record, name string) []map[string]interface{} {
	raw := fieldSlice(rec, name)
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func unionStringSlices(a, b []interface{}) []interface{} {
	if a == nil && b == nil {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]interface{}, 0, len(a)+len(b))
	for _, slice := range [][]interface{}{a, b} {
		for _, v := range slice {
			s, ok := v.(string)
			if !ok || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// unionKeyedMaps dedups two slices of map-shaped records by the given
// composite key fields, first occurrence wins.
func unionKeyedMaps(a, b []map[string]interface{}, keyFields ...string) []interface{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]interface{}, 0, len(a)+len(b))
	for _, slice := range [][]map[string]interface{}{a, b} {
		for _, m := range slice {
			key := compositeKey(m, keyFields)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}

func compositeKey(m map[string]interface{}, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i], _ = m[f].(string)
	}
	return strings.Join(parts, "\x1f")
}

func recordsEqual(a, b Record) bool {
	if a.UUID != b.UUID || a.StableID != b.StableID || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	return reflect.DeepEqual(a.Fields, b.Fields)
}

// renameStableID renames a record whose stable id collides with one already
// placed in the output, following the "id.1, id.2, ..." convention for two
// records independently added under the same stable id.
func renameStableID(rec Record, seen map[string]string) Record {
	out := rec.clone()
	base := out.StableID
	for n := 1; ; n++ {
		candidate := base + "." + strconv.Itoa(n)
		if _, taken := seen[candidate]; !taken {
			out.StableID = candidate
			return out
		}
	}
}
