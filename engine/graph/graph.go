package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
	"github.com/WessleyAI/rulebook-ingest/pkg/repo"
)

// GraphStore is the Neo4j-backed implementation of ingest.GraphSink. Pass E
// writes Section/Chunk/Entity/Concept nodes and contains/refers_to/part_of
// edges through ApplyDelta; Pass F retires obsolete chunks through
// DeleteChunks or MarkObsolete depending on Policy.ObsoletePolicy.
type GraphStore struct {
	driver neo4j.DriverWithContext
	nodes  *repo.Neo4jRepo[Node, string]
}

// New wraps an already-connected driver. Connection lifecycle (Close) stays
// the caller's responsibility.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver: driver,
		nodes:  newNodeRepo(driver),
	}
}

// GetNode fetches a single node by ID through the generic repository,
// independent of its label.
func (g *GraphStore) GetNode(ctx context.Context, id string) (Node, error) {
	return g.nodes.Get(ctx, id)
}

// ApplyDelta upserts every node, then every edge, from delta inside a single
// managed transaction. Nodes and edges are grouped by label/type so each
// group becomes one parameterized UNWIND statement instead of one round
// trip per element.
func (g *GraphStore) ApplyDelta(ctx context.Context, delta ingest.GraphDelta) error {
	if len(delta.NodesUpsert) == 0 && len(delta.EdgesUpsert) == 0 {
		return nil
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	nodesByLabel := make(map[string][]map[string]any)
	for _, n := range delta.NodesUpsert {
		props := map[string]any{"id": n.ID}
		for k, v := range n.Properties {
			props["prop_"+k] = v
		}
		label := sanitizeRelType(n.Label)
		nodesByLabel[label] = append(nodesByLabel[label], props)
	}

	edgesByType := make(map[string][]map[string]any)
	for _, e := range delta.EdgesUpsert {
		relType := sanitizeRelType(e.Type)
		edgesByType[relType] = append(edgesByType[relType], map[string]any{
			"from": e.FromID,
			"to":   e.ToID,
		})
	}

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, rows := range nodesByLabel {
			cypher := fmt.Sprintf(`UNWIND $rows AS row MERGE (n:%s {id: row.id}) SET n += row`, label)
			if _, err := tx.Run(ctx, cypher, map[string]any{"rows": rows}); err != nil {
				return nil, fmt.Errorf("upsert %s nodes: %w", label, err)
			}
		}
		for relType, rows := range edgesByType {
			cypher := fmt.Sprintf(
				`UNWIND $rows AS row MATCH (a {id: row.from}), (b {id: row.to}) MERGE (a)-[:%s]->(b)`,
				relType,
			)
			if _, err := tx.Run(ctx, cypher, map[string]any{"rows": rows}); err != nil {
				return nil, fmt.Errorf("upsert %s edges: %w", relType, err)
			}
		}
		return nil, nil
	})
	return err
}

// DeleteChunks hard-deletes Chunk nodes and every relationship touching
// them. Used when Policy.ObsoletePolicy is ObsoleteHardDelete.
func (g *GraphStore) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx,
			`MATCH (n:Chunk) WHERE n.id IN $ids DETACH DELETE n`,
			map[string]any{"ids": chunkIDs},
		)
	})
	return err
}

// MarkObsolete flags Chunk nodes as obsolete without removing them,
// preserving history so a later re-ingest can revive them. Used when
// Policy.ObsoletePolicy is ObsoleteSoftMark.
func (g *GraphStore) MarkObsolete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx,
			`MATCH (n:Chunk) WHERE n.id IN $ids SET n.obsolete = true`,
			map[string]any{"ids": chunkIDs},
		)
	})
	return err
}

// sanitizeRelType ensures a label or relationship-type string pulled out of
// pass output is a valid Cypher identifier, so dynamic Cypher never admits
// injection through a crafted label/type value.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
