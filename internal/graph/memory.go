package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/systemshift/codegraph/internal/core"
)

// Memory is an in-process Backend used by tests and local development. Write
// transactions run against a clone of the state and commit by swapping it in,
// so a failed transaction keeps all-or-nothing semantics just like the real
// engine.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	nodes map[string]map[string]*memNode // label -> id -> node
	edges []*memEdge
	ins   uint64
}

type memNode struct {
	labels []string
	props  map[string]interface{}
	ins    uint64
}

type memEdge struct {
	id       string
	typ      string
	sourceID string
	targetID string
	props    map[string]interface{}
	ins      uint64
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{state: &memState{nodes: map[string]map[string]*memNode{}}}
}

// EnsureSchema is a no-op; uniqueness is enforced on every insert.
func (m *Memory) EnsureSchema(ctx context.Context) error { return nil }

// Close releases nothing; it exists to satisfy Backend.
func (m *Memory) Close(ctx context.Context) error { return nil }

// Read runs fn against the current state.
func (m *Memory) Read(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{state: m.state})
}

// Write runs fn against a clone of the state and swaps it in on success.
func (m *Memory) Write(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.state.clone()
	if err := fn(&memTx{state: clone}); err != nil {
		return err
	}
	m.state = clone
	return nil
}

func (s *memState) clone() *memState {
	next := &memState{
		nodes: make(map[string]map[string]*memNode, len(s.nodes)),
		edges: make([]*memEdge, len(s.edges)),
		ins:   s.ins,
	}
	for label, byID := range s.nodes {
		dst := make(map[string]*memNode, len(byID))
		for id, n := range byID {
			props := make(map[string]interface{}, len(n.props))
			for k, v := range n.props {
				props[k] = v
			}
			dst[id] = &memNode{labels: n.labels, props: props, ins: n.ins}
		}
		next.nodes[label] = dst
	}
	for i, e := range s.edges {
		props := make(map[string]interface{}, len(e.props))
		for k, v := range e.props {
			props[k] = v
		}
		next.edges[i] = &memEdge{id: e.id, typ: e.typ, sourceID: e.sourceID, targetID: e.targetID, props: props, ins: e.ins}
	}
	return next
}

type memTx struct {
	state *memState
}

func (t *memTx) CreateNode(label string, extraLabels []string, props map[string]interface{}) error {
	id, _ := props["id"].(string)
	if id == "" {
		return core.Internal("node for label %s has no id", label)
	}
	byID := t.state.nodes[label]
	if byID == nil {
		byID = map[string]*memNode{}
		t.state.nodes[label] = byID
	}
	if _, exists := byID[id]; exists {
		return core.Conflict("%s with id %s already exists", label, id)
	}
	copied := make(map[string]interface{}, len(props))
	for k, v := range props {
		copied[k] = v
	}
	t.state.ins++
	byID[id] = &memNode{labels: append([]string{label}, extraLabels...), props: copied, ins: t.state.ins}
	return nil
}

func (t *memTx) GetNode(label, id string) (map[string]interface{}, error) {
	n := t.state.nodes[label][id]
	if n == nil {
		return nil, core.NotFound("%s with id %s not found", label, id)
	}
	return copyProps(n.props), nil
}

func (t *memTx) FindNode(id string, labels ...string) (string, map[string]interface{}, error) {
	for _, label := range labels {
		if n := t.state.nodes[label][id]; n != nil {
			return label, copyProps(n.props), nil
		}
	}
	return "", nil, core.NotFound("node with id %s not found", id)
}

func (t *memTx) UpdateNode(label, id string, props map[string]interface{}) error {
	n := t.state.nodes[label][id]
	if n == nil {
		return core.NotFound("%s with id %s not found", label, id)
	}
	for k, v := range props {
		n.props[k] = v
	}
	return nil
}

func (t *memTx) DeleteNode(label, id string) error {
	byID := t.state.nodes[label]
	if byID[id] == nil {
		return core.NotFound("%s with id %s not found", label, id)
	}
	delete(byID, id)
	kept := t.state.edges[:0]
	for _, e := range t.state.edges {
		if e.sourceID != id && e.targetID != id {
			kept = append(kept, e)
		}
	}
	t.state.edges = kept
	return nil
}

func (t *memTx) QueryNodes(label string, f NodeFilter) ([]map[string]interface{}, error) {
	var matched []*memNode
	for _, n := range t.state.nodes[label] {
		if nodeMatches(n.props, f) {
			matched = append(matched, n)
		}
	}
	// Insertion order first so equal keys stay stable.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ins < matched[j].ins })
	if len(f.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return lessByOrder(matched[i].props, matched[j].props, f.Order)
		})
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]map[string]interface{}, len(matched))
	for i, n := range matched {
		out[i] = copyProps(n.props)
	}
	return out, nil
}

func (t *memTx) CountNodes(label string, f NodeFilter) (int, error) {
	count := 0
	for _, n := range t.state.nodes[label] {
		if nodeMatches(n.props, f) {
			count++
		}
	}
	return count, nil
}

func (t *memTx) CountNodesBy(label, prop string, f NodeFilter) (map[string]int, error) {
	counts := map[string]int{}
	for _, n := range t.state.nodes[label] {
		if !nodeMatches(n.props, f) {
			continue
		}
		key, _ := n.props[prop].(string)
		counts[key]++
	}
	return counts, nil
}

func (t *memTx) CreateEdge(sourceID, targetID string, props map[string]interface{}) error {
	if _, _, err := t.FindNode(sourceID, LabelComponent, LabelTask, LabelComment); err != nil {
		return core.NotFound("edge source %s not found", sourceID)
	}
	if _, _, err := t.FindNode(targetID, LabelComponent, LabelTask, LabelComment); err != nil {
		return core.NotFound("edge target %s not found", targetID)
	}
	copied := copyProps(props)
	t.state.ins++
	t.state.edges = append(t.state.edges, &memEdge{
		id:       str(props["id"]),
		typ:      str(props["type"]),
		sourceID: sourceID,
		targetID: targetID,
		props:    copied,
		ins:      t.state.ins,
	})
	return nil
}

func (t *memTx) Edges(q EdgeQuery) ([]Edge, error) {
	var out []Edge
	for _, e := range t.state.edges {
		hit := (q.Outgoing && e.sourceID == q.NodeID) || (q.Incoming && e.targetID == q.NodeID)
		if !hit || !typeAllowed(e.typ, q.Types, q.ExcludeTypes) {
			continue
		}
		out = append(out, e.export())
	}
	return out, nil
}

func (t *memTx) AllEdges(excludeTypes []string) ([]Edge, error) {
	var out []Edge
	for _, e := range t.state.edges {
		if typeAllowed(e.typ, nil, excludeTypes) {
			out = append(out, e.export())
		}
	}
	return out, nil
}

func (t *memTx) DeleteEdge(edgeID string) error {
	for i, e := range t.state.edges {
		if e.id == edgeID {
			t.state.edges = append(t.state.edges[:i], t.state.edges[i+1:]...)
			return nil
		}
	}
	return core.NotFound("edge with id %s not found", edgeID)
}

func (t *memTx) DeleteEdgesMatching(sourceID, targetID, edgeType string) (int, error) {
	removed := 0
	kept := t.state.edges[:0]
	for _, e := range t.state.edges {
		if e.sourceID == sourceID && e.targetID == targetID && e.typ == edgeType {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.state.edges = kept
	return removed, nil
}

func (t *memTx) DependencyPaths(rootID, edgeType string, maxDepth int) ([][]string, error) {
	var paths [][]string
	var walk func(from string, trail []string, depth int)
	walk = func(from string, trail []string, depth int) {
		if depth >= maxDepth {
			return
		}
		for _, e := range t.state.edges {
			if e.sourceID != from || e.typ != edgeType {
				continue
			}
			next := append(append([]string{}, trail...), e.targetID)
			paths = append(paths, next)
			walk(e.targetID, next, depth+1)
		}
	}
	walk(rootID, []string{rootID}, 0)
	return paths, nil
}

func (t *memTx) DeleteAllNodesExcept(keepLabels []string) error {
	keep := map[string]bool{}
	for _, l := range keepLabels {
		keep[l] = true
	}
	removed := map[string]bool{}
	for label, byID := range t.state.nodes {
		if keep[label] {
			continue
		}
		for id := range byID {
			removed[id] = true
		}
		delete(t.state.nodes, label)
	}
	kept := t.state.edges[:0]
	for _, e := range t.state.edges {
		if !removed[e.sourceID] && !removed[e.targetID] {
			kept = append(kept, e)
		}
	}
	t.state.edges = kept
	return nil
}

func (e *memEdge) export() Edge {
	return Edge{ID: e.id, Type: e.typ, SourceID: e.sourceID, TargetID: e.targetID, Props: copyProps(e.props)}
}

func copyProps(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func typeAllowed(typ string, include, exclude []string) bool {
	for _, t := range exclude {
		if typ == t {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, t := range include {
		if typ == t {
			return true
		}
	}
	return false
}

func nodeMatches(props map[string]interface{}, f NodeFilter) bool {
	for k, want := range f.Equals {
		if !looseEqual(props[k], want) {
			return false
		}
	}
	for k, substr := range f.Contains {
		s, ok := props[k].(string)
		if !ok || !strings.Contains(s, substr) {
			return false
		}
	}
	for k, min := range f.GteStr {
		s, ok := props[k].(string)
		if !ok || s < min {
			return false
		}
	}
	for k, max := range f.LteStr {
		s, ok := props[k].(string)
		if !ok || s > max {
			return false
		}
	}
	for k, min := range f.GteNum {
		v, ok := asFloat(props[k])
		if !ok || v < min {
			return false
		}
	}
	for k, max := range f.LteNum {
		v, ok := asFloat(props[k])
		if !ok || v > max {
			return false
		}
	}
	for k, allowed := range f.In {
		s, _ := props[k].(string)
		found := false
		for _, v := range allowed {
			if s == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func looseEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func lessByOrder(a, b map[string]interface{}, order []OrderKey) bool {
	for _, key := range order {
		cmp := compareVals(a[key.Prop], b[key.Prop])
		if cmp == 0 {
			continue
		}
		if key.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func compareVals(a, b interface{}) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs)
}
