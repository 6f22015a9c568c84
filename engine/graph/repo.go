package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/rulebook-ingest/pkg/repo"
)

// newNodeRepo creates a Neo4j-backed repository spanning every label this
// package writes (Section, Chunk, Entity, Concept). It is label-agnostic —
// Get matches purely on the id property — since a single generic lookup
// path is all GetNode needs.
func newNodeRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Node, string] {
	return repo.NewNeo4jRepo[Node, string](
		driver,
		"",
		nodeToMap,
		nodeFromRecord,
	)
}

func nodeToMap(n Node) map[string]any {
	m := map[string]any{"id": n.ID}
	for k, v := range n.Properties {
		m["prop_"+k] = v
	}
	return m
}

func nodeFromRecord(rec *neo4j.Record) (Node, error) {
	raw, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Node{}, err
	}
	props := raw.Props
	n := Node{
		ID:         strProp(props, "id"),
		Properties: make(map[string]any),
	}
	if len(raw.Labels) > 0 {
		n.Label = raw.Labels[0]
	}
	for k, v := range props {
		if len(k) > 5 && k[:5] == "prop_" {
			n.Properties[k[5:]] = v
		}
	}
	return n, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
