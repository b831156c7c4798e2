package store

import (
	"context"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
)

// CreateRelationship persists a directed edge between two existing
// components and journals CREATE_RELATIONSHIP. Parallel edges are allowed.
func (s *Store) CreateRelationship(ctx context.Context, in core.RelationshipInput) (*core.Relationship, error) {
	if err := core.ValidateRelationshipInput(in); err != nil {
		return nil, err
	}
	rel := &core.Relationship{
		ID:       in.ID,
		Type:     in.Type,
		SourceID: in.SourceID,
		TargetID: in.TargetID,
		Details:  in.Details,
		Temporal: in.Temporal,
		Created:  s.clock.Now(),
	}
	if rel.ID == "" {
		rel.ID = ident.New()
	}
	props, err := relationshipToProps(rel)
	if err != nil {
		return nil, core.Internal("encoding relationship: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		if _, err := tx.GetNode(graph.LabelComponent, rel.SourceID); err != nil {
			return err
		}
		if _, err := tx.GetNode(graph.LabelComponent, rel.TargetID); err != nil {
			return err
		}
		return tx.CreateEdge(rel.SourceID, rel.TargetID, props)
	})
	if err != nil {
		return nil, wrapBackend(err, "creating relationship %s", rel.ID)
	}
	change := s.newChange(core.OpCreateRelationship, core.EntityRelationship, rel.ID, nil, stateOf(rel), nil)
	if err := s.record(ctx, change, events.RelationshipCreated, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// DeleteRelationship removes an edge by id and journals DELETE_RELATIONSHIP.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	var before *core.Relationship
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		edges, err := tx.AllEdges(nil)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if edge.ID == id {
				before, err = edgeToRelationship(edge)
				if err != nil {
					return err
				}
				return tx.DeleteEdge(id)
			}
		}
		return core.NotFound("relationship with id %s not found", id)
	})
	if err != nil {
		return wrapBackend(err, "deleting relationship %s", id)
	}
	change := s.newChange(core.OpDeleteRelationship, core.EntityRelationship, id, stateOf(before), nil, nil)
	return s.record(ctx, change, "", nil)
}

// GetComponentRelationships returns the user-visible edges incident to a
// component together with the neighbor each one reaches. Internal
// HAS_COMMENT and RELATES_TO edges are never included.
func (s *Store) GetComponentRelationships(ctx context.Context, componentID string, direction core.Direction) ([]core.NeighborRelationship, error) {
	if direction == "" {
		direction = core.DirBoth
	}
	if !direction.Valid() {
		return nil, core.Validation("unknown direction %q", direction)
	}
	var out []core.NeighborRelationship
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		if _, err := tx.GetNode(graph.LabelComponent, componentID); err != nil {
			return err
		}
		collect := func(q graph.EdgeQuery, dir core.Direction) error {
			edges, err := tx.Edges(q)
			if err != nil {
				return err
			}
			for _, edge := range edges {
				rel, err := edgeToRelationship(edge)
				if err != nil {
					return err
				}
				neighborID := edge.TargetID
				if dir == core.DirIncoming {
					neighborID = edge.SourceID
				}
				props, err := tx.GetNode(graph.LabelComponent, neighborID)
				if err != nil {
					if core.IsNotFound(err) {
						// Edge reaches a non-component node; not user-visible.
						continue
					}
					return err
				}
				neighbor, err := propsToComponent(props)
				if err != nil {
					return err
				}
				out = append(out, core.NeighborRelationship{
					Relationship: rel,
					Neighbor:     neighbor,
					Direction:    dir,
				})
			}
			return nil
		}
		if direction == core.DirOutgoing || direction == core.DirBoth {
			err := collect(graph.EdgeQuery{
				NodeID:       componentID,
				Outgoing:     true,
				ExcludeTypes: internalEdgeTypes,
			}, core.DirOutgoing)
			if err != nil {
				return err
			}
		}
		if direction == core.DirIncoming || direction == core.DirBoth {
			err := collect(graph.EdgeQuery{
				NodeID:       componentID,
				Incoming:     true,
				ExcludeTypes: internalEdgeTypes,
			}, core.DirIncoming)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "listing relationships of %s", componentID)
	}
	return out, nil
}

// GetDependencyTree returns every DEPENDS_ON path rooted at the component,
// bounded by maxDepth (default 3). Cycles in the graph may repeat nodes; the
// depth bound is what prevents unbounded expansion.
func (s *Store) GetDependencyTree(ctx context.Context, rootID string, maxDepth int) ([]core.DependencyPath, error) {
	if maxDepth <= 0 {
		maxDepth = defaultDependencyDepth
	}
	var out []core.DependencyPath
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		if _, err := tx.GetNode(graph.LabelComponent, rootID); err != nil {
			return err
		}
		paths, err := tx.DependencyPaths(rootID, string(core.RelDependsOn), maxDepth)
		if err != nil {
			return err
		}
		for _, ids := range paths {
			out = append(out, core.DependencyPath{ComponentIDs: ids, Depth: len(ids) - 1})
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "building dependency tree of %s", rootID)
	}
	return out, nil
}
