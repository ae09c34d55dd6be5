package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func textRec(uuid, stableID, content string, created, updated time.Time) Record {
	return Record{
		UUID:      uuid,
		StableID:  stableID,
		CreatedAt: created,
		UpdatedAt: updated,
		Fields:    map[string]interface{}{"content": content},
	}
}

func TestThreeWayMerge_SameSideIsNoOp(t *testing.T) {
	now := time.Now()
	x := []Record{textRec("u1", "spec-001", "hello", now, now)}

	result := ThreeWayMerge(x, x, x)
	assert.Empty(t, result.Conflicts)
	assert.Len(t, result.Merged, 1)
	assert.Equal(t, "hello", result.Merged[0].Fields["content"])
}

func TestThreeWayMerge_DisjointAdditionsBothSurvive(t *testing.T) {
	now := time.Now()
	base := []Record{}
	ours := []Record{textRec("u1", "spec-001", "ours", now, now)}
	theirs := []Record{textRec("u2", "spec-002", "theirs", now, now)}

	result := ThreeWayMerge(base, ours, theirs)
	assert.Empty(t, result.Conflicts)
	assert.Len(t, result.Merged, 2)
}

func TestThreeWayMerge_BothDeletedIsAbsent(t *testing.T) {
	now := time.Now()
	base := []Record{textRec("u1", "spec-001", "x", now, now)}

	result := ThreeWayMerge(base, []Record{}, []Record{})
	assert.Empty(t, result.Merged)
}

func TestThreeWayMerge_ModificationBeatsDeletion(t *testing.T) {
	now := time.Now()
	base := []Record{textRec("u1", "spec-001", "base", now, now)}
	ours := []Record{}
	theirs := []Record{textRec("u1", "spec-001", "changed", now, now.Add(time.Minute))}

	result := ThreeWayMerge(base, ours, theirs)
	assert := assert.New(t)
	assert.Len(result.Merged, 1)
	assert.Equal("changed", result.Merged[0].Fields["content"])
	assert.Equal(ConflictDeleteModify, result.Conflicts[0].Kind)
}

func TestThreeWayMerge_UnchangedThenModifiedTakesModified(t *testing.T) {
	now := time.Now()
	base := []Record{textRec("u1", "spec-001", "base", now, now)}
	ours := []Record{textRec("u1", "spec-001", "base", now, now)}
	theirs := []Record{textRec("u1", "spec-001", "theirs-edit", now, now.Add(time.Minute))}

	result := ThreeWayMerge(base, ours, theirs)
	assert.Len(t, result.Merged, 1)
	assert.Equal(t, "theirs-edit", result.Merged[0].Fields["content"])
}

func TestThreeWayMerge_SameStableIDDifferentUUIDBothAddedGetsRenamed(t *testing.T) {
	now := time.Now()
	ours := []Record{textRec("u1", "spec-001", "ours", now, now)}
	theirs := []Record{textRec("u2", "spec-001", "theirs", now, now)}

	result := ThreeWayMerge([]Record{}, ours, theirs)
	assert.Len(t, result.Merged, 2)
	ids := map[string]bool{}
	for _, r := range result.Merged {
		ids[r.StableID] = true
	}
	assert.True(t, ids["spec-001"])
	assert.True(t, ids["spec-001.1"])
}

func TestThreeWayMerge_TagsAreUnioned(t *testing.T) {
	now := time.Now()
	base := []Record{{UUID: "u1", StableID: "spec-001", CreatedAt: now, UpdatedAt: now,
		Fields: map[string]interface{}{"tags": []interface{}{"a"}}}}
	ours := []Record{{UUID: "u1", StableID: "spec-001", CreatedAt: now, UpdatedAt: now.Add(time.Minute),
		Fields: map[string]interface{}{"tags": []interface{}{"a", "b"}}}}
	theirs := []Record{{UUID: "u1", StableID: "spec-001", CreatedAt: now, UpdatedAt: now.Add(time.Minute),
		Fields: map[string]interface{}{"tags": []interface{}{"a", "c"}}}}

	result := ThreeWayMerge(base, ours, theirs)
	tags := result.Merged[0].Fields["tags"].([]interface{})
	assert.ElementsMatch(t, []interface{}{"a", "b", "c"}, tags)
}
