// Package api is the public facade: the uniform operation surface consumed
// by external transports. It validates request shapes and dispatches to the
// store, journal, snapshot engine and broker; business logic lives below.
package api

import (
	"context"
	"time"

	"github.com/systemshift/codegraph/internal/broker"
	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/journal"
	"github.com/systemshift/codegraph/internal/snapshot"
	"github.com/systemshift/codegraph/internal/store"
)

// Service bundles the core components behind one operation surface.
type Service struct {
	Store     *store.Store
	Journal   *journal.Journal
	Snapshots *snapshot.Engine
	Broker    *broker.Broker
	Bus       *events.Bus
}

// New wires a service from its parts.
func New(st *store.Store, jnl *journal.Journal, snapshots *snapshot.Engine, brk *broker.Broker, bus *events.Bus) *Service {
	return &Service{Store: st, Journal: jnl, Snapshots: snapshots, Broker: brk, Bus: bus}
}

// Components

func (s *Service) CreateComponent(ctx context.Context, in core.ComponentInput) (*core.Component, error) {
	return s.Store.CreateComponent(ctx, in)
}

func (s *Service) GetComponent(ctx context.Context, id string) (*core.Component, error) {
	if id == "" {
		return nil, core.Validation("component id is required")
	}
	return s.Store.GetComponent(ctx, id)
}

func (s *Service) SearchComponents(ctx context.Context, search store.ComponentSearch) ([]*core.Component, error) {
	return s.Store.SearchComponents(ctx, search)
}

func (s *Service) UpdateComponent(ctx context.Context, id string, patch core.ComponentPatch) (*core.Component, error) {
	if id == "" {
		return nil, core.Validation("component id is required")
	}
	return s.Store.UpdateComponent(ctx, id, patch)
}

func (s *Service) DeleteComponent(ctx context.Context, id string) error {
	if id == "" {
		return core.Validation("component id is required")
	}
	return s.Store.DeleteComponent(ctx, id)
}

func (s *Service) CreateComponentsBulk(ctx context.Context, inputs []core.ComponentInput) ([]*core.Component, error) {
	return s.Store.CreateComponentsBulk(ctx, inputs)
}

// Relationships

func (s *Service) CreateRelationship(ctx context.Context, in core.RelationshipInput) (*core.Relationship, error) {
	return s.Store.CreateRelationship(ctx, in)
}

func (s *Service) CreateRelationshipsBulk(ctx context.Context, inputs []core.RelationshipInput) ([]*core.Relationship, error) {
	return s.Store.CreateRelationshipsBulk(ctx, inputs)
}

func (s *Service) DeleteRelationship(ctx context.Context, id string) error {
	if id == "" {
		return core.Validation("relationship id is required")
	}
	return s.Store.DeleteRelationship(ctx, id)
}

func (s *Service) GetComponentRelationships(ctx context.Context, componentID string, direction core.Direction) ([]core.NeighborRelationship, error) {
	if componentID == "" {
		return nil, core.Validation("component id is required")
	}
	return s.Store.GetComponentRelationships(ctx, componentID, direction)
}

func (s *Service) GetDependencyTree(ctx context.Context, rootID string, maxDepth int) ([]core.DependencyPath, error) {
	if rootID == "" {
		return nil, core.Validation("component id is required")
	}
	return s.Store.GetDependencyTree(ctx, rootID, maxDepth)
}

// Tasks

func (s *Service) CreateTask(ctx context.Context, in core.TaskInput) (*core.Task, error) {
	return s.Store.CreateTask(ctx, in)
}

func (s *Service) GetTask(ctx context.Context, id string) (*core.Task, error) {
	if id == "" {
		return nil, core.Validation("task id is required")
	}
	return s.Store.GetTask(ctx, id)
}

func (s *Service) GetTasks(ctx context.Context, status core.TaskStatus) ([]*core.Task, error) {
	return s.Store.GetTasks(ctx, status)
}

func (s *Service) SearchTasks(ctx context.Context, search core.TaskSearch) ([]*core.Task, error) {
	return s.Store.SearchTasks(ctx, search)
}

func (s *Service) UpdateTaskStatus(ctx context.Context, id string, status core.TaskStatus, progress *float64) (*core.Task, error) {
	if id == "" {
		return nil, core.Validation("task id is required")
	}
	return s.Store.UpdateTaskStatus(ctx, id, status, progress)
}

func (s *Service) CreateTasksBulk(ctx context.Context, inputs []core.TaskInput) ([]*core.Task, error) {
	return s.Store.CreateTasksBulk(ctx, inputs)
}

// Comments

func (s *Service) CreateComment(ctx context.Context, in core.CommentInput) (*core.Comment, error) {
	return s.Store.CreateComment(ctx, in)
}

func (s *Service) GetComment(ctx context.Context, id string) (*core.Comment, error) {
	if id == "" {
		return nil, core.Validation("comment id is required")
	}
	return s.Store.GetComment(ctx, id)
}

func (s *Service) GetNodeComments(ctx context.Context, nodeID string, limit int) ([]*core.Comment, error) {
	if nodeID == "" {
		return nil, core.Validation("node id is required")
	}
	return s.Store.GetNodeComments(ctx, nodeID, limit)
}

func (s *Service) UpdateComment(ctx context.Context, id, content string, metadata core.Metadata) (*core.Comment, error) {
	if id == "" {
		return nil, core.Validation("comment id is required")
	}
	return s.Store.UpdateComment(ctx, id, content, metadata)
}

func (s *Service) DeleteComment(ctx context.Context, id string) error {
	if id == "" {
		return core.Validation("comment id is required")
	}
	return s.Store.DeleteComment(ctx, id)
}

// Analysis

func (s *Service) GetCodebaseOverview(ctx context.Context, codebase string) ([]core.KindCount, error) {
	if codebase == "" {
		return nil, core.Validation("codebase is required")
	}
	return s.Store.GetCodebaseOverview(ctx, codebase)
}

// Journal & snapshots

// ChangeHistoryRequest selects journal entries: an entity's history when
// EntityID is set, the global feed otherwise.
type ChangeHistoryRequest struct {
	EntityID  string         `json:"entityId,omitempty"`
	Operation core.Operation `json:"operation,omitempty"`
	Limit     int            `json:"limit,omitempty"`
}

func (s *Service) GetChangeHistory(ctx context.Context, req ChangeHistoryRequest) ([]*core.ChangeEvent, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	if req.EntityID != "" {
		return s.Journal.GetEntityHistory(ctx, req.EntityID, limit)
	}
	return s.Journal.GetRecentChanges(ctx, limit, req.Operation)
}

func (s *Service) GetChangesByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]*core.ChangeEvent, error) {
	if to.Before(from) {
		return nil, core.Validation("time range end precedes start")
	}
	if limit <= 0 {
		limit = 100
	}
	return s.Journal.GetChangesByTimeRange(ctx, from, to, limit)
}

func (s *Service) GetSessionChanges(ctx context.Context, sessionID string) ([]*core.ChangeEvent, error) {
	if sessionID == "" {
		return nil, core.Validation("session id is required")
	}
	return s.Journal.GetSessionChanges(ctx, sessionID)
}

func (s *Service) GetHistoryStats(ctx context.Context) (*core.JournalStats, error) {
	return s.Journal.GetStats(ctx)
}

func (s *Service) CreateSnapshot(ctx context.Context, name, description string) (*core.Snapshot, error) {
	return s.Snapshots.CreateSnapshot(ctx, name, description)
}

func (s *Service) ListSnapshots(ctx context.Context) ([]*core.Snapshot, error) {
	return s.Snapshots.ListSnapshots(ctx)
}

func (s *Service) RestoreSnapshot(ctx context.Context, id string, dryRun bool) (*snapshot.RestoreResult, error) {
	if id == "" {
		return nil, core.Validation("snapshot id is required")
	}
	return s.Snapshots.Restore(ctx, id, dryRun)
}

func (s *Service) ReplayToTimestamp(ctx context.Context, target time.Time, dryRun bool) (*snapshot.ReplayReport, error) {
	if target.IsZero() {
		return nil, core.Validation("target timestamp is required")
	}
	return s.Snapshots.ReplayToTimestamp(ctx, target, dryRun)
}

// Broker

// WaitRequest is the input of WaitForCommand.
type WaitRequest struct {
	AgentID   string              `json:"agentId"`
	TimeoutMs int64               `json:"timeoutMs,omitempty"`
	Filters   core.CommandFilters `json:"filters,omitempty"`
}

func (s *Service) WaitForCommand(ctx context.Context, req WaitRequest) (*core.Command, error) {
	return s.Broker.WaitForCommand(ctx, req.AgentID, time.Duration(req.TimeoutMs)*time.Millisecond, req.Filters)
}

func (s *Service) SendCommand(ctx context.Context, in core.CommandInput) (*core.SendResult, error) {
	return s.Broker.SendCommand(in)
}

func (s *Service) GetWaitingAgents(ctx context.Context) []core.WaitingAgent {
	return s.Broker.GetWaitingAgents()
}

func (s *Service) GetPendingCommands(ctx context.Context) []*core.Command {
	return s.Broker.GetPendingCommands()
}

func (s *Service) CancelCommand(ctx context.Context, id string) error {
	if id == "" {
		return core.Validation("command id is required")
	}
	s.Broker.CancelCommand(id)
	return nil
}

func (s *Service) CancelWait(ctx context.Context, agentID string) error {
	if agentID == "" {
		return core.Validation("agent id is required")
	}
	s.Broker.CancelWait(agentID)
	return nil
}

func (s *Service) GetCommandHistory(ctx context.Context, limit int) []core.HistoryEntry {
	return s.Broker.GetHistory(limit)
}
