package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/systemshift/codegraph/internal/core"
)

// PlannedOp is one journal entry replay would apply, in order.
type PlannedOp struct {
	EventID    string          `json:"eventId"`
	Operation  core.Operation  `json:"operation"`
	EntityKind core.EntityKind `json:"entityKind"`
	EntityID   string          `json:"entityId"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ReplayOutcome is the per-entry result of a live replay.
type ReplayOutcome struct {
	EventID   string         `json:"eventId"`
	Operation core.Operation `json:"operation"`
	EntityID  string         `json:"entityId"`
	Applied   bool           `json:"applied"`
	Error     string         `json:"error,omitempty"`
}

// ReplayReport is the result of ReplayToTimestamp.
type ReplayReport struct {
	Target   time.Time       `json:"target"`
	DryRun   bool            `json:"dryRun"`
	Planned  []PlannedOp     `json:"planned,omitempty"`
	Outcomes []ReplayOutcome `json:"outcomes,omitempty"`
	Applied  int             `json:"applied"`
	Failed   int             `json:"failed"`
}

// ReplayToTimestamp rebuilds the graph by applying every journal entry with
// timestamp <= target, in (timestamp, seq) order, to a freshly emptied
// graph. A dry run only returns the ordered plan. Individual failures are
// reported per entry and never abort the replay; journal entries and
// snapshots survive untouched.
func (e *Engine) ReplayToTimestamp(ctx context.Context, target time.Time, dryRun bool) (*ReplayReport, error) {
	entries, err := e.journal.UpTo(ctx, target)
	if err != nil {
		return nil, err
	}
	report := &ReplayReport{Target: target, DryRun: dryRun}
	if dryRun {
		for _, entry := range entries {
			report.Planned = append(report.Planned, PlannedOp{
				EventID:    entry.ID,
				Operation:  entry.Operation,
				EntityKind: entry.EntityKind,
				EntityID:   entry.EntityID,
				Timestamp:  entry.Timestamp,
			})
		}
		return report, nil
	}

	if err := e.silent.WipeGraph(ctx); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		outcome := ReplayOutcome{EventID: entry.ID, Operation: entry.Operation, EntityID: entry.EntityID}
		if err := e.apply(ctx, entry); err != nil {
			outcome.Error = err.Error()
			report.Failed++
		} else {
			outcome.Applied = true
			report.Applied++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

func (e *Engine) apply(ctx context.Context, entry *core.ChangeEvent) error {
	switch entry.Operation {
	case core.OpCreateComponent, core.OpBulkCreateComponents:
		var comp core.Component
		if err := decodeState(entry.After, &comp); err != nil {
			return err
		}
		return e.silent.PutComponent(ctx, &comp)

	case core.OpUpdateComponent:
		var comp core.Component
		if err := decodeState(entry.After, &comp); err != nil {
			return err
		}
		return e.silent.OverwriteComponent(ctx, &comp)

	case core.OpDeleteComponent:
		return e.silent.DeleteComponent(ctx, entry.EntityID)

	case core.OpCreateRelationship, core.OpBulkCreateRelationships:
		var rel core.Relationship
		if err := decodeState(entry.After, &rel); err != nil {
			return err
		}
		return e.silent.PutRelationship(ctx, &rel)

	case core.OpDeleteRelationship:
		var rel core.Relationship
		if err := decodeState(entry.Before, &rel); err != nil {
			return err
		}
		removed, err := e.silent.DeleteRelationshipMatching(ctx, rel.SourceID, rel.TargetID, rel.Type)
		if err != nil {
			return err
		}
		if removed == 0 {
			return fmt.Errorf("no %s edge %s -> %s to delete", rel.Type, rel.SourceID, rel.TargetID)
		}
		return nil

	case core.OpCreateTask, core.OpBulkCreateTasks:
		var task core.Task
		if err := decodeState(entry.After, &task); err != nil {
			return err
		}
		return e.silent.PutTask(ctx, &task)

	case core.OpUpdateTask:
		var task core.Task
		if err := decodeState(entry.After, &task); err != nil {
			return err
		}
		return e.silent.OverwriteTask(ctx, &task)

	case core.OpCreateComment:
		var comment core.Comment
		if err := decodeState(entry.After, &comment); err != nil {
			return err
		}
		return e.silent.PutComment(ctx, &comment)

	case core.OpUpdateComment:
		var comment core.Comment
		if err := decodeState(entry.After, &comment); err != nil {
			return err
		}
		return e.silent.OverwriteComment(ctx, &comment)

	case core.OpDeleteComment:
		return e.silent.DeleteComment(ctx, entry.EntityID)
	}
	return fmt.Errorf("operation %s is not replayable", entry.Operation)
}

func decodeState(state map[string]interface{}, dst interface{}) error {
	if state == nil {
		return fmt.Errorf("journal entry carries no state")
	}
	return core.DecodeState(state, dst)
}
