// Package store is the graph store: CRUD, bulk, search and analysis
// operations over components, relationships, tasks and comments. Every
// committed mutation is appended to the change journal and fanned out on the
// event bus; the snapshot engine runs the same store silenced.
package store

import (
	"context"
	"sort"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
	"github.com/systemshift/codegraph/internal/journal"
)

// searchLimit caps SearchComponents results.
const searchLimit = 100

// defaultDependencyDepth bounds GetDependencyTree when the caller does not.
const defaultDependencyDepth = 3

// entityLabels are the labels a comment parent may carry.
var entityLabels = []string{graph.LabelComponent, graph.LabelTask}

// internalEdgeTypes never appear in user-facing relationship listings.
var internalEdgeTypes = []string{string(core.RelHasComment), string(core.RelRelatesTo)}

// Attribution identifies who caused a mutation; it travels into journal
// entries untouched.
type Attribution struct {
	SessionID string
	UserID    string
	Source    string
}

// Store exposes the graph operations. The zero value is not usable; construct
// with New.
type Store struct {
	backend graph.Backend
	journal *journal.Journal
	bus     *events.Bus
	clock   *ident.Clock
	attrib  Attribution
	silent  bool
}

// New returns a store over the backend. bus may be nil when no transport
// subscribes.
func New(backend graph.Backend, jnl *journal.Journal, bus *events.Bus, clock *ident.Clock) *Store {
	if clock == nil {
		clock = ident.NewClock()
	}
	return &Store{backend: backend, journal: jnl, bus: bus, clock: clock}
}

// WithAttribution returns a store whose mutations are journaled under the
// given session, user and source.
func (s *Store) WithAttribution(a Attribution) *Store {
	clone := *s
	clone.attrib = a
	return &clone
}

// Silent returns a store that neither journals nor publishes events. Snapshot
// restore and replay run through it so history is never polluted by
// reconstruction.
func (s *Store) Silent() *Store {
	clone := *s
	clone.silent = true
	return &clone
}

// Backend exposes the underlying backend for the snapshot engine.
func (s *Store) Backend() graph.Backend { return s.backend }

// Clock exposes the store's clock for components that stamp alongside it.
func (s *Store) Clock() *ident.Clock { return s.clock }

// record journals a committed mutation and publishes its bus event. Called
// only after the backend transaction has committed.
func (s *Store) record(ctx context.Context, event *core.ChangeEvent, busName string, payload interface{}) error {
	if s.silent {
		return nil
	}
	if s.journal != nil {
		if err := s.journal.Append(ctx, event); err != nil {
			return err
		}
	}
	if s.bus != nil && busName != "" {
		s.bus.Publish(busName, payload)
	}
	return nil
}

func (s *Store) newChange(op core.Operation, kind core.EntityKind, entityID string, before, after map[string]interface{}, meta core.Metadata) *core.ChangeEvent {
	ts, seq := s.clock.Stamp()
	return &core.ChangeEvent{
		ID:         ident.New(),
		Operation:  op,
		EntityKind: kind,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		Timestamp:  ts,
		Seq:        seq,
		SessionID:  s.attrib.SessionID,
		UserID:     s.attrib.UserID,
		Source:     s.attrib.Source,
		Metadata:   meta,
	}
}

// wrapBackend turns raw engine errors into BACKEND while passing typed core
// errors through verbatim.
func wrapBackend(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*core.Error); ok {
		return err
	}
	if kind := core.KindOf(err); kind != core.ErrInternal {
		return err
	}
	return core.Backend(err, format, args...)
}

// CreateComponent validates and persists a component, assigning a fresh id
// when absent, then journals CREATE_COMPONENT.
func (s *Store) CreateComponent(ctx context.Context, in core.ComponentInput) (*core.Component, error) {
	if err := core.ValidateComponentInput(in); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	comp := &core.Component{
		ID:          in.ID,
		Kind:        in.Kind,
		Name:        in.Name,
		Description: in.Description,
		Path:        in.Path,
		Codebase:    in.Codebase,
		Metadata:    in.Metadata,
		Created:     now,
		Updated:     now,
	}
	if comp.ID == "" {
		comp.ID = ident.New()
	}
	props, err := componentToProps(comp)
	if err != nil {
		return nil, core.Internal("encoding component: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.CreateNode(graph.LabelComponent, []string{string(comp.Kind)}, props)
	})
	if err != nil {
		return nil, wrapBackend(err, "creating component %s", comp.ID)
	}
	change := s.newChange(core.OpCreateComponent, core.EntityComponent, comp.ID, nil, stateOf(comp), nil)
	if err := s.record(ctx, change, events.ComponentCreated, comp); err != nil {
		return nil, err
	}
	return comp, nil
}

// GetComponent fetches a component by id.
func (s *Store) GetComponent(ctx context.Context, id string) (*core.Component, error) {
	var comp *core.Component
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelComponent, id)
		if err != nil {
			return err
		}
		comp, err = propsToComponent(props)
		return err
	})
	if err != nil {
		return nil, wrapBackend(err, "getting component %s", id)
	}
	return comp, nil
}

// ComponentSearch narrows SearchComponents.
type ComponentSearch struct {
	Kind     core.ComponentKind `json:"kind,omitempty"`
	Name     string             `json:"name,omitempty"` // substring
	Codebase string             `json:"codebase,omitempty"`
}

// SearchComponents returns up to 100 components matching the filter.
func (s *Store) SearchComponents(ctx context.Context, search ComponentSearch) ([]*core.Component, error) {
	if search.Kind != "" && !search.Kind.Valid() {
		return nil, core.Validation("unknown component kind %q", search.Kind)
	}
	filter := graph.NodeFilter{
		Order: []graph.OrderKey{{Prop: "created"}, {Prop: "id"}},
		Limit: searchLimit,
	}
	if search.Kind != "" || search.Codebase != "" {
		filter.Equals = map[string]interface{}{}
		if search.Kind != "" {
			filter.Equals["kind"] = string(search.Kind)
		}
		if search.Codebase != "" {
			filter.Equals["codebase"] = search.Codebase
		}
	}
	if search.Name != "" {
		filter.Contains = map[string]string{"name": search.Name}
	}

	var out []*core.Component
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		rows, err := tx.QueryNodes(graph.LabelComponent, filter)
		if err != nil {
			return err
		}
		for _, props := range rows {
			comp, err := propsToComponent(props)
			if err != nil {
				return err
			}
			out = append(out, comp)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "searching components")
	}
	return out, nil
}

// UpdateComponent merges the patch into an existing component and journals
// UPDATE_COMPONENT with before and after state. The id never changes.
func (s *Store) UpdateComponent(ctx context.Context, id string, patch core.ComponentPatch) (*core.Component, error) {
	if err := core.ValidateComponentPatch(patch); err != nil {
		return nil, err
	}
	var before, after *core.Component
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelComponent, id)
		if err != nil {
			return err
		}
		before, err = propsToComponent(props)
		if err != nil {
			return err
		}
		next := *before
		if patch.Name != nil {
			next.Name = *patch.Name
		}
		if patch.Kind != nil {
			next.Kind = *patch.Kind
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.Path != nil {
			next.Path = *patch.Path
		}
		if patch.Codebase != nil {
			next.Codebase = *patch.Codebase
		}
		if patch.Metadata != nil {
			merged := core.Metadata{}
			for k, v := range before.Metadata {
				merged[k] = v
			}
			for k, v := range patch.Metadata {
				merged[k] = v
			}
			next.Metadata = merged
		}
		next.Updated = s.clock.Now()
		after = &next

		nextProps, err := componentToProps(after)
		if err != nil {
			return err
		}
		return tx.UpdateNode(graph.LabelComponent, id, nextProps)
	})
	if err != nil {
		return nil, wrapBackend(err, "updating component %s", id)
	}
	change := s.newChange(core.OpUpdateComponent, core.EntityComponent, id, stateOf(before), stateOf(after), nil)
	if err := s.record(ctx, change, events.ComponentUpdated, after); err != nil {
		return nil, err
	}
	return after, nil
}

// DeleteComponent removes a component together with every incident
// relationship and every attached comment, in one transaction. Only
// DELETE_COMPONENT is journaled; the cascade carries no per-edge entries.
func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	var before *core.Component
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelComponent, id)
		if err != nil {
			return err
		}
		before, err = propsToComponent(props)
		if err != nil {
			return err
		}
		comments, err := tx.Edges(graph.EdgeQuery{
			NodeID:   id,
			Outgoing: true,
			Types:    []string{string(core.RelHasComment)},
		})
		if err != nil {
			return err
		}
		for _, edge := range comments {
			if err := tx.DeleteNode(graph.LabelComment, edge.TargetID); err != nil && !core.IsNotFound(err) {
				return err
			}
		}
		return tx.DeleteNode(graph.LabelComponent, id)
	})
	if err != nil {
		return wrapBackend(err, "deleting component %s", id)
	}
	change := s.newChange(core.OpDeleteComponent, core.EntityComponent, id, stateOf(before), nil, nil)
	return s.record(ctx, change, events.ComponentDeleted, before)
}

// GetCodebaseOverview counts a codebase's components per kind, sorted by
// count descending.
func (s *Store) GetCodebaseOverview(ctx context.Context, codebase string) ([]core.KindCount, error) {
	var counts map[string]int
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		var err error
		counts, err = tx.CountNodesBy(graph.LabelComponent, "kind", graph.NodeFilter{
			Equals: map[string]interface{}{"codebase": codebase},
		})
		return err
	})
	if err != nil {
		return nil, wrapBackend(err, "building overview for %s", codebase)
	}
	out := make([]core.KindCount, 0, len(counts))
	for kind, count := range counts {
		out = append(out, core.KindCount{Kind: core.ComponentKind(kind), Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}
