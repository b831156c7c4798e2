package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/codegraph/internal/core"
)

// Neo4jConfig holds the connection settings for the Neo4j backend.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4j implements Backend against a Neo4j server. All timestamps and nested
// maps are stored as strings; the semantic relationship type lives in a
// `type` property on a single :REL relationship class so queries never need
// dynamic relationship types.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j connects to Neo4j and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4j{driver: driver, database: database}, nil
}

// Close closes the underlying driver.
func (b *Neo4j) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

// EnsureSchema creates the unique constraints and indexes of the persisted
// layout.
func (b *Neo4j) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT component_id IF NOT EXISTS FOR (n:Component) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT task_id IF NOT EXISTS FOR (n:Task) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT comment_id IF NOT EXISTS FOR (n:Comment) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT change_event_id IF NOT EXISTS FOR (n:ChangeEvent) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT snapshot_id IF NOT EXISTS FOR (n:Snapshot) REQUIRE n.id IS UNIQUE",
		"CREATE INDEX change_event_timestamp IF NOT EXISTS FOR (n:ChangeEvent) ON (n.timestamp)",
		"CREATE INDEX change_event_operation IF NOT EXISTS FOR (n:ChangeEvent) ON (n.operation)",
		"CREATE INDEX change_event_session IF NOT EXISTS FOR (n:ChangeEvent) ON (n.sessionId)",
	}
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.database})
	defer session.Close(ctx)

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// Read runs fn inside a read transaction.
func (b *Neo4j) Read(ctx context.Context, fn func(Tx) error) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.database})
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neoTx{ctx: ctx, tx: tx})
	})
	return err
}

// Write runs fn inside a single write transaction; an error from fn rolls
// everything back.
func (b *Neo4j) Write(ctx context.Context, fn func(Tx) error) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neoTx{ctx: ctx, tx: tx})
	})
	return err
}

type neoTx struct {
	ctx context.Context
	tx  neo4j.ManagedTransaction
}

func (t *neoTx) CreateNode(label string, extraLabels []string, props map[string]interface{}) error {
	labels := labelExpr(append([]string{label}, extraLabels...))
	query := fmt.Sprintf("CREATE (n%s) SET n = $props", labels)
	if _, err := t.tx.Run(t.ctx, query, map[string]any{"props": props}); err != nil {
		if isConstraintViolation(err) {
			return core.Conflict("%s with id %v already exists", label, props["id"])
		}
		return err
	}
	return nil
}

func (t *neoTx) GetNode(label, id string) (map[string]interface{}, error) {
	query := fmt.Sprintf("MATCH (n:`%s` {id: $id}) RETURN properties(n) AS props", label)
	result, err := t.tx.Run(t.ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if !result.Next(t.ctx) {
		return nil, core.NotFound("%s with id %s not found", label, id)
	}
	props, _ := result.Record().Get("props")
	return props.(map[string]interface{}), nil
}

func (t *neoTx) FindNode(id string, labels ...string) (string, map[string]interface{}, error) {
	for _, label := range labels {
		props, err := t.GetNode(label, id)
		if err == nil {
			return label, props, nil
		}
		if !core.IsNotFound(err) {
			return "", nil, err
		}
	}
	return "", nil, core.NotFound("node with id %s not found", id)
}

func (t *neoTx) UpdateNode(label, id string, props map[string]interface{}) error {
	query := fmt.Sprintf("MATCH (n:`%s` {id: $id}) SET n += $props RETURN n.id", label)
	result, err := t.tx.Run(t.ctx, query, map[string]any{"id": id, "props": props})
	if err != nil {
		return err
	}
	if !result.Next(t.ctx) {
		return core.NotFound("%s with id %s not found", label, id)
	}
	return nil
}

func (t *neoTx) DeleteNode(label, id string) error {
	query := fmt.Sprintf("MATCH (n:`%s` {id: $id}) WITH n, n.id AS deleted DETACH DELETE n RETURN deleted", label)
	result, err := t.tx.Run(t.ctx, query, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if !result.Next(t.ctx) {
		return core.NotFound("%s with id %s not found", label, id)
	}
	return nil
}

func (t *neoTx) QueryNodes(label string, f NodeFilter) ([]map[string]interface{}, error) {
	query, params := buildNodeQuery(label, f, "properties(n) AS props")
	result, err := t.tx.Run(t.ctx, query, params)
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for result.Next(t.ctx) {
		props, _ := result.Record().Get("props")
		out = append(out, props.(map[string]interface{}))
	}
	return out, result.Err()
}

func (t *neoTx) CountNodes(label string, f NodeFilter) (int, error) {
	query, params := buildNodeQuery(label, f, "count(n) AS c")
	result, err := t.tx.Run(t.ctx, query, params)
	if err != nil {
		return 0, err
	}
	if !result.Next(t.ctx) {
		return 0, result.Err()
	}
	c, _ := result.Record().Get("c")
	return int(c.(int64)), nil
}

func (t *neoTx) CountNodesBy(label, prop string, f NodeFilter) (map[string]int, error) {
	query, params := buildNodeQuery(label, f, fmt.Sprintf("n.`%s` AS k, count(n) AS c", prop))
	result, err := t.tx.Run(t.ctx, query, params)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for result.Next(t.ctx) {
		record := result.Record()
		k, _ := record.Get("k")
		c, _ := record.Get("c")
		key, _ := k.(string)
		counts[key] += int(c.(int64))
	}
	return counts, result.Err()
}

func (t *neoTx) CreateEdge(sourceID, targetID string, props map[string]interface{}) error {
	query := `
		MATCH (a {id: $source_id})
		MATCH (b {id: $target_id})
		CREATE (a)-[r:REL]->(b)
		SET r = $props
		RETURN r.id
	`
	result, err := t.tx.Run(t.ctx, query, map[string]any{
		"source_id": sourceID,
		"target_id": targetID,
		"props":     props,
	})
	if err != nil {
		return err
	}
	if !result.Next(t.ctx) {
		return core.NotFound("edge endpoints %s -> %s not found", sourceID, targetID)
	}
	return nil
}

func (t *neoTx) Edges(q EdgeQuery) ([]Edge, error) {
	var patterns []string
	if q.Outgoing {
		patterns = append(patterns, "MATCH (a {id: $node_id})-[r:REL]->(b) RETURN properties(r) AS props, a.id AS src, b.id AS dst")
	}
	if q.Incoming {
		patterns = append(patterns, "MATCH (b)-[r:REL]->(a {id: $node_id}) RETURN properties(r) AS props, b.id AS src, a.id AS dst")
	}
	var out []Edge
	for _, query := range patterns {
		result, err := t.tx.Run(t.ctx, query, map[string]any{"node_id": q.NodeID})
		if err != nil {
			return nil, err
		}
		for result.Next(t.ctx) {
			edge := recordToEdge(result.Record())
			if typeAllowed(edge.Type, q.Types, q.ExcludeTypes) {
				out = append(out, edge)
			}
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
	}
	sortEdgesByCreated(out)
	return out, nil
}

func (t *neoTx) AllEdges(excludeTypes []string) ([]Edge, error) {
	query := "MATCH (a)-[r:REL]->(b) RETURN properties(r) AS props, a.id AS src, b.id AS dst"
	result, err := t.tx.Run(t.ctx, query, nil)
	if err != nil {
		return nil, err
	}
	var out []Edge
	for result.Next(t.ctx) {
		edge := recordToEdge(result.Record())
		if typeAllowed(edge.Type, nil, excludeTypes) {
			out = append(out, edge)
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	sortEdgesByCreated(out)
	return out, nil
}

func (t *neoTx) DeleteEdge(edgeID string) error {
	query := "MATCH ()-[r:REL {id: $id}]->() WITH r, r.id AS deleted DELETE r RETURN deleted"
	result, err := t.tx.Run(t.ctx, query, map[string]any{"id": edgeID})
	if err != nil {
		return err
	}
	if !result.Next(t.ctx) {
		return core.NotFound("edge with id %s not found", edgeID)
	}
	return nil
}

func (t *neoTx) DeleteEdgesMatching(sourceID, targetID, edgeType string) (int, error) {
	query := `
		MATCH (a {id: $source_id})-[r:REL {type: $type}]->(b {id: $target_id})
		WITH collect(r) AS rels
		FOREACH (r IN rels | DELETE r)
		RETURN size(rels) AS c
	`
	result, err := t.tx.Run(t.ctx, query, map[string]any{
		"source_id": sourceID,
		"target_id": targetID,
		"type":      edgeType,
	})
	if err != nil {
		return 0, err
	}
	if !result.Next(t.ctx) {
		return 0, result.Err()
	}
	c, _ := result.Record().Get("c")
	return int(c.(int64)), nil
}

func (t *neoTx) DependencyPaths(rootID, edgeType string, maxDepth int) ([][]string, error) {
	if maxDepth < 1 {
		return nil, nil
	}
	// Variable-length bounds cannot be parameterized; maxDepth is an int
	// under our control.
	query := fmt.Sprintf(`
		MATCH p = (root:Component {id: $root_id})-[:REL*1..%d]->(:Component)
		WHERE all(r IN relationships(p) WHERE r.type = $type)
		RETURN [n IN nodes(p) | n.id] AS ids
	`, maxDepth)
	result, err := t.tx.Run(t.ctx, query, map[string]any{"root_id": rootID, "type": edgeType})
	if err != nil {
		return nil, err
	}
	var paths [][]string
	for result.Next(t.ctx) {
		raw, _ := result.Record().Get("ids")
		items := raw.([]interface{})
		ids := make([]string, len(items))
		for i, v := range items {
			ids[i], _ = v.(string)
		}
		paths = append(paths, ids)
	}
	return paths, result.Err()
}

func (t *neoTx) DeleteAllNodesExcept(keepLabels []string) error {
	query := "MATCH (n) WHERE none(l IN labels(n) WHERE l IN $keep) DETACH DELETE n"
	_, err := t.tx.Run(t.ctx, query, map[string]any{"keep": keepLabels})
	return err
}

func recordToEdge(record *neo4j.Record) Edge {
	rawProps, _ := record.Get("props")
	src, _ := record.Get("src")
	dst, _ := record.Get("dst")
	props, _ := rawProps.(map[string]interface{})
	return Edge{
		ID:       str(props["id"]),
		Type:     str(props["type"]),
		SourceID: str(src),
		TargetID: str(dst),
		Props:    props,
	}
}

func sortEdgesByCreated(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		return str(edges[i].Props["created"]) < str(edges[j].Props["created"])
	})
}

// buildNodeQuery assembles a MATCH/WHERE/ORDER/LIMIT query for the filter.
// Property names come from code, never from callers, so inlining them is
// safe; values always travel as parameters.
func buildNodeQuery(label string, f NodeFilter, returning string) (string, map[string]any) {
	var where []string
	params := map[string]any{}
	n := 0
	param := func(v any) string {
		n++
		name := fmt.Sprintf("p%d", n)
		params[name] = v
		return "$" + name
	}

	for k, v := range f.Equals {
		where = append(where, fmt.Sprintf("n.`%s` = %s", k, param(v)))
	}
	for k, v := range f.Contains {
		where = append(where, fmt.Sprintf("n.`%s` CONTAINS %s", k, param(v)))
	}
	for k, v := range f.GteStr {
		where = append(where, fmt.Sprintf("n.`%s` >= %s", k, param(v)))
	}
	for k, v := range f.LteStr {
		where = append(where, fmt.Sprintf("n.`%s` <= %s", k, param(v)))
	}
	for k, v := range f.GteNum {
		where = append(where, fmt.Sprintf("n.`%s` >= %s", k, param(v)))
	}
	for k, v := range f.LteNum {
		where = append(where, fmt.Sprintf("n.`%s` <= %s", k, param(v)))
	}
	for k, v := range f.In {
		where = append(where, fmt.Sprintf("n.`%s` IN %s", k, param(v)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MATCH (n:`%s`)", label)
	if len(where) > 0 {
		sort.Strings(where)
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" RETURN ")
	sb.WriteString(returning)
	if len(f.Order) > 0 {
		var keys []string
		for _, o := range f.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			keys = append(keys, fmt.Sprintf("n.`%s` %s", o.Prop, dir))
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(keys, ", "))
	}
	if f.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", f.Limit)
	}
	return sb.String(), params
}

func labelExpr(labels []string) string {
	var sb strings.Builder
	for _, l := range labels {
		fmt.Fprintf(&sb, ":`%s`", l)
	}
	return sb.String()
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "ConstraintValidationFailed") ||
		strings.Contains(msg, "already exists")
}
