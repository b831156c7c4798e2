package store

import (
	"context"
	"testing"
	"time"

	"github.com/systemshift/codegraph/internal/core"
)

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	st, jnl := newTestStore(t)

	comp, _ := st.CreateComponent(ctx, core.ComponentInput{Kind: core.KindFile, Name: "a"})

	task, err := st.CreateTask(ctx, core.TaskInput{
		Name:                "write tests",
		RelatedComponentIDs: []string{comp.ID},
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if task.Status != core.StatusTodo {
		t.Errorf("default status = %s, want TODO", task.Status)
	}

	progress := 0.5
	updated, err := st.UpdateTaskStatus(ctx, task.ID, core.StatusInProgress, &progress)
	if err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}
	if updated.Status != core.StatusInProgress || updated.Progress != 0.5 {
		t.Errorf("got %s/%v, want IN_PROGRESS/0.5", updated.Status, updated.Progress)
	}

	history, _ := jnl.GetEntityHistory(ctx, task.ID, 10)
	if len(history) != 2 {
		t.Fatalf("got %d journal entries, want 2", len(history))
	}
	if history[0].Operation != core.OpUpdateTask || history[1].Operation != core.OpCreateTask {
		t.Errorf("unexpected operations: %s, %s", history[0].Operation, history[1].Operation)
	}

	t.Run("missing related component", func(t *testing.T) {
		_, err := st.CreateTask(ctx, core.TaskInput{Name: "x", RelatedComponentIDs: []string{"ghost"}})
		if !core.IsNotFound(err) {
			t.Errorf("got %v, want NOT_FOUND", err)
		}
	})

	t.Run("bad progress", func(t *testing.T) {
		bad := 1.2
		_, err := st.UpdateTaskStatus(ctx, task.ID, core.StatusDone, &bad)
		if !core.IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})
}

func TestGetTasksByStatus(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	st.CreateTask(ctx, core.TaskInput{Name: "a"})
	st.CreateTask(ctx, core.TaskInput{Name: "b", Status: core.StatusDone})
	st.CreateTask(ctx, core.TaskInput{Name: "c", Status: core.StatusDone})

	done, err := st.GetTasks(ctx, core.StatusDone)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 2 {
		t.Errorf("got %d done tasks, want 2", len(done))
	}

	all, _ := st.GetTasks(ctx, "")
	if len(all) != 3 {
		t.Errorf("got %d tasks, want 3", len(all))
	}
}

func TestSearchTasks(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	comp, _ := st.CreateComponent(ctx, core.ComponentInput{Kind: core.KindFile, Name: "a"})

	st.CreateTask(ctx, core.TaskInput{Name: "fix login bug", Status: core.StatusTodo, Progress: 0.0})
	st.CreateTask(ctx, core.TaskInput{Name: "add login tests", Status: core.StatusInProgress, Progress: 0.4, RelatedComponentIDs: []string{comp.ID}})
	st.CreateTask(ctx, core.TaskInput{Name: "deploy service", Status: core.StatusDone, Progress: 1.0})

	t.Run("text query", func(t *testing.T) {
		got, err := st.SearchTasks(ctx, core.TaskSearch{TextQuery: "login"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("got %d, want 2", len(got))
		}
	})

	t.Run("status list", func(t *testing.T) {
		got, err := st.SearchTasks(ctx, core.TaskSearch{
			Statuses: []core.TaskStatus{core.StatusInProgress, core.StatusDone},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("got %d, want 2", len(got))
		}
	})

	t.Run("progress range", func(t *testing.T) {
		min, max := 0.3, 0.9
		got, err := st.SearchTasks(ctx, core.TaskSearch{ProgressMin: &min, ProgressMax: &max})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Name != "add login tests" {
			t.Errorf("unexpected result: %v", got)
		}
	})

	t.Run("related components", func(t *testing.T) {
		got, err := st.SearchTasks(ctx, core.TaskSearch{RelatedComponentIDs: []string{comp.ID}})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("got %d, want 1", len(got))
		}
	})

	t.Run("order by progress desc", func(t *testing.T) {
		got, err := st.SearchTasks(ctx, core.TaskSearch{OrderBy: "progress", OrderDirection: "desc"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 || got[0].Progress != 1.0 || got[2].Progress != 0.0 {
			t.Errorf("unexpected ordering: %v", got)
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := st.SearchTasks(ctx, core.TaskSearch{Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("got %d, want 2", len(got))
		}
	})

	t.Run("limit too large", func(t *testing.T) {
		if _, err := st.SearchTasks(ctx, core.TaskSearch{Limit: 1001}); !core.IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})

	t.Run("created range", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		got, err := st.SearchTasks(ctx, core.TaskSearch{CreatedAfter: &future})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("got %d, want 0", len(got))
		}
	})
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	comp, _ := st.CreateComponent(ctx, core.ComponentInput{Kind: core.KindFile, Name: "a"})
	task, _ := st.CreateTask(ctx, core.TaskInput{Name: "t"})

	first, err := st.CreateComment(ctx, core.CommentInput{ParentID: comp.ID, Content: "first", Author: "u"})
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	second, _ := st.CreateComment(ctx, core.CommentInput{ParentID: comp.ID, Content: "second", Author: "u"})

	t.Run("task parent works", func(t *testing.T) {
		if _, err := st.CreateComment(ctx, core.CommentInput{ParentID: task.ID, Content: "on task", Author: "u"}); err != nil {
			t.Errorf("comment on task failed: %v", err)
		}
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := st.CreateComment(ctx, core.CommentInput{ParentID: "ghost", Content: "x", Author: "u"})
		if !core.IsNotFound(err) {
			t.Errorf("got %v, want NOT_FOUND", err)
		}
	})

	t.Run("newest first", func(t *testing.T) {
		comments, err := st.GetNodeComments(ctx, comp.ID, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(comments) != 2 {
			t.Fatalf("got %d comments, want 2", len(comments))
		}
		if comments[0].ID != second.ID || comments[1].ID != first.ID {
			t.Error("comments not newest first")
		}
	})

	t.Run("limit", func(t *testing.T) {
		comments, _ := st.GetNodeComments(ctx, comp.ID, 1)
		if len(comments) != 1 || comments[0].ID != second.ID {
			t.Error("limit should keep the newest")
		}
	})

	t.Run("update", func(t *testing.T) {
		updated, err := st.UpdateComment(ctx, first.ID, "edited", nil)
		if err != nil {
			t.Fatal(err)
		}
		if updated.Content != "edited" || updated.Updated == nil {
			t.Errorf("unexpected update result: %+v", updated)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := st.DeleteComment(ctx, first.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := st.GetComment(ctx, first.ID); !core.IsNotFound(err) {
			t.Errorf("got %v, want NOT_FOUND", err)
		}
	})
}

func TestBulkCreates(t *testing.T) {
	ctx := context.Background()
	st, jnl := newTestStore(t)

	t.Run("components all or nothing", func(t *testing.T) {
		_, err := st.CreateComponentsBulk(ctx, []core.ComponentInput{
			{ID: "b1", Kind: core.KindFile, Name: "one"},
			{ID: "b1", Kind: core.KindFile, Name: "dup id"},
		})
		if !core.IsConflict(err) {
			t.Fatalf("got %v, want CONFLICT", err)
		}
		if _, err := st.GetComponent(ctx, "b1"); !core.IsNotFound(err) {
			t.Error("failed bulk left a component behind")
		}
		changes, _ := jnl.GetRecentChanges(ctx, 10, "")
		if len(changes) != 0 {
			t.Errorf("failed bulk produced %d journal entries", len(changes))
		}
	})

	t.Run("components success journals each item", func(t *testing.T) {
		created, err := st.CreateComponentsBulk(ctx, []core.ComponentInput{
			{Kind: core.KindFile, Name: "one"},
			{Kind: core.KindFile, Name: "two"},
			{Kind: core.KindClass, Name: "three"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(created) != 3 {
			t.Fatalf("got %d components, want 3", len(created))
		}
		changes, _ := jnl.GetRecentChanges(ctx, 10, core.OpBulkCreateComponents)
		if len(changes) != 3 {
			t.Fatalf("got %d bulk entries, want 3", len(changes))
		}
		for _, change := range changes {
			if change.Metadata["bulkOperation"] != true {
				t.Error("bulk entry missing bulkOperation metadata")
			}
			if count, ok := change.Metadata["totalCount"].(float64); !ok || count != 3 {
				t.Errorf("totalCount = %v, want 3", change.Metadata["totalCount"])
			}
		}
	})

	t.Run("relationships endpoint check", func(t *testing.T) {
		a, _ := st.CreateComponent(ctx, core.ComponentInput{Kind: core.KindFile, Name: "a"})
		_, err := st.CreateRelationshipsBulk(ctx, []core.RelationshipInput{
			{Type: core.RelUses, SourceID: a.ID, TargetID: a.ID},
			{Type: core.RelUses, SourceID: a.ID, TargetID: "ghost"},
		})
		if !core.IsNotFound(err) {
			t.Fatalf("got %v, want NOT_FOUND", err)
		}
		rels, _ := st.GetComponentRelationships(ctx, a.ID, core.DirBoth)
		if len(rels) != 0 {
			t.Error("failed bulk left relationships behind")
		}
	})

	t.Run("tasks", func(t *testing.T) {
		tasks, err := st.CreateTasksBulk(ctx, []core.TaskInput{
			{Name: "t1"}, {Name: "t2"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(tasks) != 2 {
			t.Fatalf("got %d tasks, want 2", len(tasks))
		}
		changes, _ := jnl.GetRecentChanges(ctx, 10, core.OpBulkCreateTasks)
		if len(changes) != 2 {
			t.Errorf("got %d bulk task entries, want 2", len(changes))
		}
	})
}
