package store

import (
	"context"
	"sort"
	"strings"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
)

// taskSearchMaxLimit caps SearchTasks result sizes.
const (
	taskSearchMaxLimit     = 1000
	taskSearchDefaultLimit = 100
)

// CreateTask validates and persists a task. Related components must exist;
// the relation is stored both as a property and as RELATES_TO edges.
func (s *Store) CreateTask(ctx context.Context, in core.TaskInput) (*core.Task, error) {
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
	props, err := taskToProps(task)
	if err != nil {
		return nil, core.Internal("encoding task: %v", err)
	}
	err = s.backend.Write(ctx, func(tx graph.Tx) error {
		for _, compID := range task.RelatedComponentIDs {
			if _, err := tx.GetNode(graph.LabelComponent, compID); err != nil {
				return err
			}
		}
		if err := tx.CreateNode(graph.LabelTask, nil, props); err != nil {
			return err
		}
		for _, compID := range task.RelatedComponentIDs {
			edge := map[string]interface{}{
				"id":      ident.New(),
				"type":    string(core.RelRelatesTo),
				"created": ident.Format(now),
			}
			if err := tx.CreateEdge(task.ID, compID, edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "creating task %s", task.ID)
	}
	change := s.newChange(core.OpCreateTask, core.EntityTask, task.ID, nil, stateOf(task), nil)
	if err := s.record(ctx, change, events.TaskCreated, task); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task *core.Task
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelTask, id)
		if err != nil {
			return err
		}
		task, err = propsToTask(props)
		return err
	})
	if err != nil {
		return nil, wrapBackend(err, "getting task %s", id)
	}
	return task, nil
}

// GetTasks lists tasks, optionally narrowed to one status, oldest first.
func (s *Store) GetTasks(ctx context.Context, status core.TaskStatus) ([]*core.Task, error) {
	filter := graph.NodeFilter{Order: []graph.OrderKey{{Prop: "created"}, {Prop: "id"}}}
	if status != "" {
		if !status.Valid() {
			return nil, core.Validation("unknown task status %q", status)
		}
		filter.Equals = map[string]interface{}{"status": string(status)}
	}
	return s.queryTasks(ctx, filter)
}

// UpdateTaskStatus sets a task's status and, when given, its progress;
// journals UPDATE_TASK with before and after state.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status core.TaskStatus, progress *float64) (*core.Task, error) {
	if err := core.ValidateTaskStatusUpdate(status, progress); err != nil {
		return nil, err
	}
	var before, after *core.Task
	err := s.backend.Write(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelTask, id)
		if err != nil {
			return err
		}
		before, err = propsToTask(props)
		if err != nil {
			return err
		}
		next := *before
		next.Status = status
		if progress != nil {
			next.Progress = *progress
		}
		next.Updated = s.clock.Now()
		after = &next

		nextProps, err := taskToProps(after)
		if err != nil {
			return err
		}
		return tx.UpdateNode(graph.LabelTask, id, nextProps)
	})
	if err != nil {
		return nil, wrapBackend(err, "updating task %s", id)
	}
	change := s.newChange(core.OpUpdateTask, core.EntityTask, id, stateOf(before), stateOf(after), nil)
	if err := s.record(ctx, change, events.TaskUpdated, after); err != nil {
		return nil, err
	}
	return after, nil
}

// SearchTasks applies the full criteria set: text, statuses, progress and
// created ranges, related components, ordering and a bounded limit.
func (s *Store) SearchTasks(ctx context.Context, search core.TaskSearch) ([]*core.Task, error) {
	limit := search.Limit
	switch {
	case limit <= 0:
		limit = taskSearchDefaultLimit
	case limit > taskSearchMaxLimit:
		return nil, core.Validation("limit must be at most %d", taskSearchMaxLimit)
	}
	for _, status := range search.Statuses {
		if !status.Valid() {
			return nil, core.Validation("unknown task status %q", status)
		}
	}
	orderBy := search.OrderBy
	switch orderBy {
	case "", "created", "name", "status", "progress":
	default:
		return nil, core.Validation("orderBy must be one of created, name, status, progress")
	}
	switch search.OrderDirection {
	case "", "asc", "desc":
	default:
		return nil, core.Validation("orderDirection must be asc or desc")
	}

	filter := graph.NodeFilter{}
	if len(search.Statuses) > 0 {
		values := make([]string, len(search.Statuses))
		for i, status := range search.Statuses {
			values[i] = string(status)
		}
		filter.In = map[string][]string{"status": values}
	}
	if search.ProgressMin != nil {
		filter.GteNum = map[string]float64{"progress": *search.ProgressMin}
	}
	if search.ProgressMax != nil {
		filter.LteNum = map[string]float64{"progress": *search.ProgressMax}
	}
	if search.CreatedAfter != nil {
		filter.GteStr = map[string]string{"created": ident.Format(*search.CreatedAfter)}
	}
	if search.CreatedBefore != nil {
		filter.LteStr = map[string]string{"created": ident.Format(*search.CreatedBefore)}
	}

	tasks, err := s.queryTasks(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Text and related-component matching are cross-field predicates the
	// backend filter grammar does not cover; apply them here.
	if q := strings.TrimSpace(search.TextQuery); q != "" {
		matched := tasks[:0]
		for _, task := range tasks {
			if strings.Contains(task.Name, q) || strings.Contains(task.Description, q) {
				matched = append(matched, task)
			}
		}
		tasks = matched
	}
	if len(search.RelatedComponentIDs) > 0 {
		matched := tasks[:0]
		for _, task := range tasks {
			if intersects(task.RelatedComponentIDs, search.RelatedComponentIDs) {
				matched = append(matched, task)
			}
		}
		tasks = matched
	}

	desc := search.OrderDirection == "desc"
	sort.SliceStable(tasks, func(i, j int) bool {
		var less bool
		switch orderBy {
		case "name":
			less = tasks[i].Name < tasks[j].Name
		case "status":
			less = tasks[i].Status < tasks[j].Status
		case "progress":
			less = tasks[i].Progress < tasks[j].Progress
		default:
			less = tasks[i].Created.Before(tasks[j].Created)
		}
		if desc {
			return !less && !taskFieldsEqual(tasks[i], tasks[j], orderBy)
		}
		return less
	})
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func taskFieldsEqual(a, b *core.Task, orderBy string) bool {
	switch orderBy {
	case "name":
		return a.Name == b.Name
	case "status":
		return a.Status == b.Status
	case "progress":
		return a.Progress == b.Progress
	default:
		return a.Created.Equal(b.Created)
	}
}

func (s *Store) queryTasks(ctx context.Context, filter graph.NodeFilter) ([]*core.Task, error) {
	var out []*core.Task
	err := s.backend.Read(ctx, func(tx graph.Tx) error {
		rows, err := tx.QueryNodes(graph.LabelTask, filter)
		if err != nil {
			return err
		}
		for _, props := range rows {
			task, err := propsToTask(props)
			if err != nil {
				return err
			}
			out = append(out, task)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBackend(err, "querying tasks")
	}
	return out, nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
