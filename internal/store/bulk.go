package store

import (
	"context"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
)

// Bulk creates are all-or-nothing: every item lands in one backend
// transaction, and on any failure the whole transaction rolls back with no
// journal entries kept. On success each item is journaled, in input order,
// under its bulk operation kind.

func bulkMeta(total int) core.Metadata {
	return core.Metadata{"bulkOperation": true, "totalCount": total}
}

// CreateComponentsBulk creates every component or none.
func (s *Store) CreateComponentsBulk(ctx context.Context, inputs []core.ComponentInput) ([]*core.Component, error) {
	if len(inputs) == 0 {
		return nil, core.Validation("bulk create requires at least one component")
	}
	components := make([]*core.Component, len(inputs))
	for i, in := range inputs {
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
		components[i] = comp
	}
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		for _, comp := range components {
			props, err := componentToProps(comp)
			if err != nil {
				return err
			}
			if err := tx.CreateNode(graph.LabelComponent, []string{string(comp.Kind)}, props); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "bulk creating %d components", len(inputs))
	}
	meta := bulkMeta(len(components))
	for _, comp := range components {
		change := s.newChange(core.OpBulkCreateComponents, core.EntityComponent, comp.ID, nil, stateOf(comp), meta)
		if err := s.record(ctx, change, "", nil); err != nil {
			return nil, err
		}
	}
	s.publishBulk(events.ComponentsBulkCreated, components, len(components))
	return components, nil
}

// CreateRelationshipsBulk creates every relationship or none. All endpoints
// must exist.
func (s *Store) CreateRelationshipsBulk(ctx context.Context, inputs []core.RelationshipInput) ([]*core.Relationship, error) {
	if len(inputs) == 0 {
		return nil, core.Validation("bulk create requires at least one relationship")
	}
	relationships := make([]*core.Relationship, len(inputs))
	for i, in := range inputs {
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
		relationships[i] = rel
	}
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		for _, rel := range relationships {
			if _, err := tx.GetNode(graph.LabelComponent, rel.SourceID); err != nil {
				return err
			}
			if _, err := tx.GetNode(graph.LabelComponent, rel.TargetID); err != nil {
				return err
			}
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
	if err != nil {
		return nil, wrapBackend(err, "bulk creating %d relationships", len(inputs))
	}
	meta := bulkMeta(len(relationships))
	for _, rel := range relationships {
		change := s.newChange(core.OpBulkCreateRelationships, core.EntityRelationship, rel.ID, nil, stateOf(rel), meta)
		if err := s.record(ctx, change, "", nil); err != nil {
			return nil, err
		}
	}
	s.publishBulk(events.RelationshipsBulkCreated, relationships, len(relationships))
	return relationships, nil
}

// CreateTasksBulk creates every task or none.
func (s *Store) CreateTasksBulk(ctx context.Context, inputs []core.TaskInput) ([]*core.Task, error) {
	if len(inputs) == 0 {
		return nil, core.Validation("bulk create requires at least one task")
	}
	tasks := make([]*core.Task, len(inputs))
	for i, in := range inputs {
		if err := core.ValidateTaskInput(in); err != nil {
			return nil, err
		}
		now := s.clock.Now()
		task := &core.Task{
			ID:                  in.ID,
			Name:                in.Name,
			Description:         in.Description,
			Status:              in.Status,
			Progress:            in.Progress,
			Codebase:            in.Codebase,
			RelatedComponentIDs: in.RelatedComponentIDs,
			Metadata:            in.Metadata,
			Created:             now,
			Updated:             now,
		}
		if task.ID == "" {
			task.ID = ident.New()
		}
		if task.Status == "" {
			task.Status = core.StatusTodo
		}
		tasks[i] = task
	}
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		for _, task := range tasks {
			for _, compID := range task.RelatedComponentIDs {
				if _, err := tx.GetNode(graph.LabelComponent, compID); err != nil {
					return err
				}
			}
			props, err := taskToProps(task)
			if err != nil {
				return err
			}
			if err := tx.CreateNode(graph.LabelTask, nil, props); err != nil {
				return err
			}
			for _, compID := range task.RelatedComponentIDs {
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
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "bulk creating %d tasks", len(inputs))
	}
	meta := bulkMeta(len(tasks))
	for _, task := range tasks {
		change := s.newChange(core.OpBulkCreateTasks, core.EntityTask, task.ID, nil, stateOf(task), meta)
		if err := s.record(ctx, change, "", nil); err != nil {
			return nil, err
		}
	}
	s.publishBulk(events.TasksBulkCreated, tasks, len(tasks))
	return tasks, nil
}

func (s *Store) publishBulk(name string, items interface{}, count int) {
	if s.silent || s.bus == nil {
		return
	}
	s.bus.Publish(name, map[string]interface{}{"items": items, "count": count})
}
