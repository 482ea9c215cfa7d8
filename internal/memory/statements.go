package memory

import (
	"github.com/engram-labs/engram/internal/temporal"
)

// Write-side statements live here as plain parameterized text. Reads go
// through the cypher builders; writes have fixed shapes that a builder would
// only obscure. Each statement is a single Cypher statement, so a failure
// leaves the graph untouched rather than half-written.

// memoryRow carries the properties of a Memory node about to be created.
// Interval ends are always open at creation; closing them is what Supersede
// and soft deletes do.
type memoryRow struct {
	ID          string
	Content     string
	ContentHash string
	Type        string
	Tags        []string
	Project     string
	CreatedAt   string
	Now         int64
}

const createMemoryExpr = `CREATE (n:Memory {id: $id, content: $content, content_hash: $content_hash, type: $type, tags: $tags, project: $project, created_at: $created_at, pinned: false, access_count: 0, vt_start: $now, vt_end: $max, tt_start: $now, tt_end: $max}) RETURN n.id AS id`

func createMemoryStatement(row memoryRow) (string, map[string]any) {
	return createMemoryExpr, map[string]any{
		"id":           row.ID,
		"content":      row.Content,
		"content_hash": row.ContentHash,
		"type":         row.Type,
		"tags":         row.Tags,
		"project":      row.Project,
		"created_at":   row.CreatedAt,
		"now":          row.Now,
		"max":          temporal.MaxDate,
	}
}

// supersedeExpr retires the old row and records its successor in one
// statement. Both of the old row's interval ends close to the same instant
// the new row opens at, and the REPLACES edge carries that instant as its
// own start. An old id that is missing or already superseded matches
// nothing, so the statement creates nothing.
const supersedeExpr = `MATCH (old:Memory {id: $old_id}) WHERE old.tt_end = $max CREATE (new:Memory {id: $id, content: $content, content_hash: $content_hash, type: $type, tags: $tags, project: $project, created_at: $created_at, pinned: false, access_count: 0, vt_start: $now, vt_end: $max, tt_start: $now, tt_end: $max}) CREATE (new)-[:REPLACES {vt_start: $now, vt_end: $max, tt_start: $now, tt_end: $max}]->(old) SET old.vt_end = $now, old.tt_end = $now RETURN new.id AS id`

func supersedeStatement(oldID string, row memoryRow) (string, map[string]any) {
	return supersedeExpr, map[string]any{
		"old_id":       oldID,
		"id":           row.ID,
		"content":      row.Content,
		"content_hash": row.ContentHash,
		"type":         row.Type,
		"tags":         row.Tags,
		"project":      row.Project,
		"created_at":   row.CreatedAt,
		"now":          row.Now,
		"max":          temporal.MaxDate,
	}
}

// accessTrackingExpr stamps the rows a recall just returned. last_accessed
// and access_count are operational metadata, not bitemporal payload, so the
// stamp applies to the exact ids returned regardless of their currency.
const accessTrackingExpr = `MATCH (n:Memory) WHERE n.id IN $ids SET n.last_accessed = $now, n.access_count = COALESCE(n.access_count, 0) + 1`

func accessTrackingStatement(ids []string, now int64) (string, map[string]any) {
	return accessTrackingExpr, map[string]any{
		"ids": ids,
		"now": now,
	}
}

// replacedByExpr resolves the current successor of each invalidated row. The
// old side carries no temporal constraint: a superseded row is exactly the
// kind that is no longer currently recorded.
const replacedByExpr = `MATCH (new:Memory)-[:REPLACES]->(old:Memory) WHERE old.id IN $ids AND new.tt_end = $max RETURN old.id AS old_id, new.id AS new_id`

func replacedByStatement(ids []string) (string, map[string]any) {
	return replacedByExpr, map[string]any{
		"ids": ids,
		"max": temporal.MaxDate,
	}
}
