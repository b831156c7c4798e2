package store

import (
	"context"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
)

// Put operations write entities back exactly as captured — ids and
// timestamps preserved, nothing journaled, no events. Snapshot restore and
// journal replay are their only callers.

// PutComponent inserts a component verbatim.
func (s *Store) PutComponent(ctx context.Context, comp *core.Component) error {
	props, err := componentToProps(comp)
	if err != nil {
		return core.Internal("encoding component: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.CreateNode(graph.LabelComponent, []string{string(comp.Kind)}, props)
	})
	return wrapBackend(err, "restoring component %s", comp.ID)
}

// PutTask inserts a task verbatim, including its RELATES_TO edges.
func (s *Store) PutTask(ctx context.Context, task *core.Task) error {
	props, err := taskToProps(task)
	if err != nil {
		return core.Internal("encoding task: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		if err := tx.CreateNode(graph.LabelTask, nil, props); err != nil {
			return err
		}
		for _, compID := range task.RelatedComponentIDs {
			if _, err := tx.GetNode(graph.LabelComponent, compID); err != nil {
				// The related component may be gone at this point in
				// history; the property still records the relation.
				if core.IsNotFound(err) {
					continue
				}
				return err
			}
			edge := map[string]interface{}{
				"id":      ident.New(),
				"type":    string(core.RelRelatesTo),
				"created": ident.Format(task.Created),
			}
			if err := tx.CreateEdge(task.ID, compID, edge); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapBackend(err, "restoring task %s", task.ID)
}

// PutComment inserts a comment verbatim and reattaches it to its parent.
func (s *Store) PutComment(ctx context.Context, comment *core.Comment) error {
	props, err := commentToProps(comment)
	if err != nil {
		return core.Internal("encoding comment: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		if _, _, err := tx.FindNode(comment.ParentID, entityLabels...); err != nil {
			return err
		}
		if err := tx.CreateNode(graph.LabelComment, nil, props); err != nil {
			return err
		}
		edge := map[string]interface{}{
			"id":      ident.New(),
			"type":    string(core.RelHasComment),
			"created": ident.Format(comment.Created),
		}
		return tx.CreateEdge(comment.ParentID, comment.ID, edge)
	})
	return wrapBackend(err, "restoring comment %s", comment.ID)
}

// PutRelationship inserts a relationship verbatim. Both endpoints must
// already exist.
func (s *Store) PutRelationship(ctx context.Context, rel *core.Relationship) error {
	props, err := relationshipToProps(rel)
	if err != nil {
		return core.Internal("encoding relationship: %v", err)
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
	return wrapBackend(err, "restoring relationship %s", rel.ID)
}

// OverwriteComponent replaces a component's stored state verbatim. Replay
// uses it for UPDATE_COMPONENT entries.
func (s *Store) OverwriteComponent(ctx context.Context, comp *core.Component) error {
	props, err := componentToProps(comp)
	if err != nil {
		return core.Internal("encoding component: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.UpdateNode(graph.LabelComponent, comp.ID, props)
	})
	return wrapBackend(err, "overwriting component %s", comp.ID)
}

// OverwriteTask replaces a task's stored state verbatim.
func (s *Store) OverwriteTask(ctx context.Context, task *core.Task) error {
	props, err := taskToProps(task)
	if err != nil {
		return core.Internal("encoding task: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.UpdateNode(graph.LabelTask, task.ID, props)
	})
	return wrapBackend(err, "overwriting task %s", task.ID)
}

// OverwriteComment replaces a comment's stored state verbatim.
func (s *Store) OverwriteComment(ctx context.Context, comment *core.Comment) error {
	props, err := commentToProps(comment)
	if err != nil {
		return core.Internal("encoding comment: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.UpdateNode(graph.LabelComment, comment.ID, props)
	})
	return wrapBackend(err, "overwriting comment %s", comment.ID)
}

// GraphCapture is the full user-visible entity graph: every component, task
// and comment plus the user-visible relationships. Internal HAS_COMMENT and
// RELATES_TO edges are derivable from comment parents and task relations, so
// they are not captured.
type GraphCapture struct {
	Components    []*core.Component    `json:"components"`
	Tasks         []*core.Task         `json:"tasks"`
	Comments      []*core.Comment      `json:"comments"`
	Relationships []*core.Relationship `json:"relationships"`
}

// CaptureGraph reads the entire live graph in one transaction.
func (s *Store) CaptureGraph(ctx context.Context) (*GraphCapture, error) {
	capture := &GraphCapture{}
	order := graph.NodeFilter{Order: []graph.OrderKey{{Prop: "created"}, {Prop: "id"}}}
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		rows, err := tx.QueryNodes(graph.LabelComponent, order)
		if err != nil {
			return err
		}
		for _, props := range rows {
			comp, err := propsToComponent(props)
			if err != nil {
				return err
			}
			capture.Components = append(capture.Components, comp)
		}
		rows, err = tx.QueryNodes(graph.LabelTask, order)
		if err != nil {
			return err
		}
		for _, props := range rows {
			task, err := propsToTask(props)
			if err != nil {
				return err
			}
			capture.Tasks = append(capture.Tasks, task)
		}
		rows, err = tx.QueryNodes(graph.LabelComment, order)
		if err != nil {
			return err
		}
		for _, props := range rows {
			comment, err := propsToComment(props)
			if err != nil {
				return err
			}
			capture.Comments = append(capture.Comments, comment)
		}
		edges, err := tx.AllEdges(internalEdgeTypes)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			rel, err := edgeToRelationship(edge)
			if err != nil {
				return err
			}
			capture.Relationships = append(capture.Relationships, rel)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "capturing graph")
	}
	return capture, nil
}

// RestoreGraph atomically replaces the live graph with the capture: every
// non-journal, non-snapshot node is deleted, then components, tasks and
// comments are re-created before the relationships that reference them.
// Journal entries and snapshots are untouched.
func (s *Store) RestoreGraph(ctx context.Context, capture *GraphCapture) error {
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		if err := tx.DeleteAllNodesExcept([]string{graph.LabelChangeEvent, graph.LabelSnapshot}); err != nil {
			return err
		}
		for _, comp := range capture.Components {
			props, err := componentToProps(comp)
			if err != nil {
				return err
			}
			if err := tx.CreateNode(graph.LabelComponent, []string{string(comp.Kind)}, props); err != nil {
				return err
			}
		}
		for _, task := range capture.Tasks {
			props, err := taskToProps(task)
			if err != nil {
				return err
			}
			if err := tx.CreateNode(graph.LabelTask, nil, props); err != nil {
				return err
			}
			for _, compID := range task.RelatedComponentIDs {
				if _, err := tx.GetNode(graph.LabelComponent, compID); err != nil {
					if core.IsNotFound(err) {
						continue
					}
					return err
				}
				edge := map[string]interface{}{
					"id":      ident.New(),
					"type":    string(core.RelRelatesTo),
					"created": ident.Format(task.Created),
				}
				if err := tx.CreateEdge(task.ID, compID, edge); err != nil {
					return err
				}
			}
		}
		for _, comment := range capture.Comments {
			props, err := commentToProps(comment)
			if err != nil {
				return err
			}
			if err := tx.CreateNode(graph.LabelComment, nil, props); err != nil {
				return err
			}
			edge := map[string]interface{}{
				"id":      ident.New(),
				"type":    string(core.RelHasComment),
				"created": ident.Format(comment.Created),
			}
			if err := tx.CreateEdge(comment.ParentID, comment.ID, edge); err != nil {
				return err
			}
		}
		for _, rel := range capture.Relationships {
			props, err := relationshipToProps(rel)
			if err != nil {
				return err
			}
			if err := tx.CreateEdge(rel.SourceID, rel.TargetID, props); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapBackend(err, "restoring graph")
}

// WipeGraph deletes every non-journal, non-snapshot node. Replay starts from
// this empty state.
func (s *Store) WipeGraph(ctx context.Context) error {
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.DeleteAllNodesExcept([]string{graph.LabelChangeEvent, graph.LabelSnapshot})
	})
	return wrapBackend(err, "wiping graph")
}

// DeleteRelationshipMatching removes edges matching (source, target, type).
// Replay uses it for DELETE_RELATIONSHIP entries whose edge id is unknown.
func (s *Store) DeleteRelationshipMatching(ctx context.Context, sourceID, targetID string, relType core.RelationshipType) (int, error) {
	removed := 0
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		var err error
		removed, err = tx.DeleteEdgesMatching(sourceID, targetID, string(relType))
		return err
	})
	if err != nil {
		return 0, wrapBackend(err, "deleting relationships %s -> %s", sourceID, targetID)
	}
	return removed, nil
}
