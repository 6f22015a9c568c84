package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SourceStats summarizes one ingested source's footprint in the graph, used
// by operator tooling to spot-check recent runs.
type SourceStats struct {
	SourceID   string `json:"source_id"`
	Sections   int64  `json:"sections"`
	IngestedAt string `json:"ingested_at,omitempty"`
}

// NodeCounts returns node counts grouped by label, e.g. Section/Chunk/
// Entity/Concept, for operator dashboards and post-run sanity checks.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (n) RETURN labels(n)[0] AS label, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		label, _ := rec.Get("label")
		cnt, _ := rec.Get("count")
		if l, ok := label.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[l] = c
			}
		}
	}
	return counts, nil
}

// RelationshipCounts returns relationship counts grouped by type, e.g.
// contains/refers_to/part_of/cites.
func (g *GraphStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, nil
}

// RecentSources returns the most recently ingested source IDs, inferred
// from Section nodes' source_id property and the latest added_at recorded
// on those Section nodes, most recent first.
func (g *GraphStore) RecentSources(ctx context.Context, limit int) ([]SourceStats, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (s:Section)
		WHERE s.prop_source_id IS NOT NULL
		WITH s.prop_source_id AS source_id, count(s) AS sections, max(s.prop_added_at) AS added_at
		RETURN source_id, sections, added_at
		ORDER BY added_at DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	var stats []SourceStats
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("source_id")
		sections, _ := rec.Get("sections")
		addedAt, _ := rec.Get("added_at")
		s := SourceStats{}
		if i, ok := id.(string); ok {
			s.SourceID = i
		}
		if n, ok := sections.(int64); ok {
			s.Sections = n
		}
		switch at := addedAt.(type) {
		case string:
			s.IngestedAt = at
		case time.Time:
			s.IngestedAt = at.Format(time.RFC3339)
		}
		stats = append(stats, s)
	}
	return stats, nil
}
