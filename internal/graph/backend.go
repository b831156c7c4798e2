// Package graph is the transactional adapter around the graph engine. It
// exposes label/property level node and edge operations behind a Backend
// interface with a Neo4j implementation for production and an in-memory
// implementation for tests.
package graph

import "context"

// Node labels used by the persisted layout. Component nodes additionally
// carry their kind as a second label.
const (
	LabelComponent   = "Component"
	LabelTask        = "Task"
	LabelComment     = "Comment"
	LabelChangeEvent = "ChangeEvent"
	LabelSnapshot    = "Snapshot"
)

// Backend provides transactional access to the graph engine. Write runs fn
// inside a single write transaction; if fn returns an error the transaction
// rolls back and nothing is kept.
type Backend interface {
	// EnsureSchema creates the unique constraints and indexes of the
	// persisted layout. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error

	Read(ctx context.Context, fn func(Tx) error) error
	Write(ctx context.Context, fn func(Tx) error) error

	Close(ctx context.Context) error
}

// OrderKey is one sort key of a node query.
type OrderKey struct {
	Prop string
	Desc bool
}

// NodeFilter narrows and orders a node query. String range bounds are
// compared lexically, which matches chronological order for the canonical
// timestamp format. A zero Limit means unbounded.
type NodeFilter struct {
	Equals   map[string]interface{}
	Contains map[string]string
	GteStr   map[string]string
	LteStr   map[string]string
	GteNum   map[string]float64
	LteNum   map[string]float64
	In       map[string][]string
	Order    []OrderKey
	Limit    int
}

// Edge is a directed edge as stored: a single relationship class with the
// semantic type carried as a property.
type Edge struct {
	ID       string
	Type     string
	SourceID string
	TargetID string
	Props    map[string]interface{}
}

// EdgeQuery selects edges incident to a node.
type EdgeQuery struct {
	NodeID       string
	Outgoing     bool
	Incoming     bool
	Types        []string // include only these types; empty means all
	ExcludeTypes []string
}

// Tx is one transaction against the backend. Implementations return
// core.Conflict for duplicate node ids and core.NotFound for missing nodes;
// every other failure is an engine error the caller wraps as BACKEND.
type Tx interface {
	// CreateNode inserts a node. The props map must contain an "id" entry
	// unique within the label.
	CreateNode(label string, extraLabels []string, props map[string]interface{}) error

	// GetNode fetches a node's properties by label and id.
	GetNode(label, id string) (map[string]interface{}, error)

	// FindNode locates a node by id across the given labels, returning the
	// label it was found under.
	FindNode(id string, labels ...string) (string, map[string]interface{}, error)

	// UpdateNode merges props into an existing node.
	UpdateNode(label, id string, props map[string]interface{}) error

	// DeleteNode removes a node and all its incident edges.
	DeleteNode(label, id string) error

	// QueryNodes returns the properties of nodes matching the filter.
	QueryNodes(label string, f NodeFilter) ([]map[string]interface{}, error)

	// CountNodes counts nodes matching the filter.
	CountNodes(label string, f NodeFilter) (int, error)

	// CountNodesBy groups matching nodes by the string value of prop.
	CountNodesBy(label, prop string, f NodeFilter) (map[string]int, error)

	// CreateEdge inserts a directed edge between two existing nodes. The
	// props map must contain "id" and "type" entries.
	CreateEdge(sourceID, targetID string, props map[string]interface{}) error

	// Edges returns edges incident to a node per the query, in insertion
	// order.
	Edges(q EdgeQuery) ([]Edge, error)

	// AllEdges returns every edge except those of the excluded types, in
	// insertion order.
	AllEdges(excludeTypes []string) ([]Edge, error)

	// DeleteEdge removes an edge by its id property. Returns core.NotFound
	// when no such edge exists.
	DeleteEdge(edgeID string) error

	// DeleteEdgesMatching removes every edge with the given endpoints and
	// type, returning how many were removed.
	DeleteEdgesMatching(sourceID, targetID, edgeType string) (int, error)

	// DependencyPaths returns every path of edges of edgeType starting at
	// rootID with length between 1 and maxDepth, as node-id chains.
	DependencyPaths(rootID, edgeType string, maxDepth int) ([][]string, error)

	// DeleteAllNodesExcept detach-deletes every node whose labels are all
	// outside keepLabels. Used by snapshot restore and replay.
	DeleteAllNodesExcept(keepLabels []string) error
}
