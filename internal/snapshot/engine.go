// Package snapshot captures, lists and restores full-graph snapshots and
// replays the change journal to a target timestamp. Snapshots and journal
// entries themselves are never deleted by either path.
package snapshot

import (
	"context"
	"strings"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
	"github.com/systemshift/codegraph/internal/journal"
	"github.com/systemshift/codegraph/internal/store"
)

// Engine runs snapshot and replay operations. All graph writes go through a
// silenced store so reconstruction never pollutes the journal or the bus.
type Engine struct {
	store   *store.Store
	silent  *store.Store
	journal *journal.Journal
	backend graph.Backend
}

// New returns an engine over the store and journal.
func New(st *store.Store, jnl *journal.Journal) *Engine {
	return &Engine{
		store:   st,
		silent:  st.Silent(),
		journal: jnl,
		backend: st.Backend(),
	}
}

// RestoreResult reports what a restore did (or, for a dry run, would do).
type RestoreResult struct {
	SnapshotID    string `json:"snapshotId"`
	DryRun        bool   `json:"dryRun"`
	Components    int    `json:"components"`
	Relationships int    `json:"relationships"`
	Tasks         int    `json:"tasks"`
	Comments      int    `json:"comments"`
}

// CreateSnapshot captures the live graph in one transaction and stores it
// under the given name.
func (e *Engine) CreateSnapshot(ctx context.Context, name, description string) (*core.Snapshot, error) {
	if strings.TrimSpace(name) == "" {
		return nil, core.Validation("snapshot name must not be empty")
	}
	capture, err := e.store.CaptureGraph(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := encodePayload(capture)
	if err != nil {
		return nil, core.Internal("encoding snapshot payload: %v", err)
	}
	snap := &core.Snapshot{
		ID:            ident.New(),
		Name:          name,
		Description:   description,
		Timestamp:     e.store.Clock().Now(),
		Payload:       payload,
		Components:    len(capture.Components),
		Relationships: len(capture.Relationships),
		Tasks:         len(capture.Tasks),
		Comments:      len(capture.Comments),
	}
	props := map[string]interface{}{
		"id":            snap.ID,
		"name":          snap.Name,
		"description":   snap.Description,
		"timestamp":     ident.Format(snap.Timestamp),
		"payload":       snap.Payload,
		"components":    int64(snap.Components),
		"relationships": int64(snap.Relationships),
		"tasks":         int64(snap.Tasks),
		"comments":      int64(snap.Comments),
	}
	err = e.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.CreateNode(graph.LabelSnapshot, nil, props)
	})
	if err != nil {
		return nil, core.Backend(err, "storing snapshot %s", snap.ID)
	}
	return snap, nil
}

// ListSnapshots returns snapshot metadata, newest first, without payloads.
func (e *Engine) ListSnapshots(ctx context.Context) ([]*core.Snapshot, error) {
	var out []*core.Snapshot
	err := e.backend.Read(ctx, func(tx graph.Tx) error {
		rows, err := tx.QueryNodes(graph.LabelSnapshot, graph.NodeFilter{
			Order: []graph.OrderKey{{Prop: "timestamp", Desc: true}},
		})
		if err != nil {
			return err
		}
		for _, props := range rows {
			snap, err := propsToSnapshot(props, false)
			if err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, core.Backend(err, "listing snapshots")
	}
	return out, nil
}

// GetSnapshot fetches one snapshot including its payload.
func (e *Engine) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	var snap *core.Snapshot
	err := e.backend.Read(ctx, func(tx graph.Tx) error {
		props, err := tx.GetNode(graph.LabelSnapshot, id)
		if err != nil {
			return err
		}
		snap, err = propsToSnapshot(props, true)
		return err
	})
	if err != nil {
		if core.IsNotFound(err) {
			return nil, core.NotFound("snapshot %s not found", id)
		}
		return nil, core.Backend(err, "getting snapshot %s", id)
	}
	return snap, nil
}

// Restore replaces the live graph with a snapshot's capture. A dry run
// returns the counts without touching anything.
func (e *Engine) Restore(ctx context.Context, snapshotID string, dryRun bool) (*RestoreResult, error) {
	snap, err := e.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	capture, err := decodePayload(snap.Payload)
	if err != nil {
		return nil, core.Internal("snapshot %s payload unreadable: %v", snapshotID, err)
	}
	result := &RestoreResult{
		SnapshotID:    snapshotID,
		DryRun:        dryRun,
		Components:    len(capture.Components),
		Relationships: len(capture.Relationships),
		Tasks:         len(capture.Tasks),
		Comments:      len(capture.Comments),
	}
	if dryRun {
		return result, nil
	}
	if err := e.silent.RestoreGraph(ctx, capture); err != nil {
		return nil, err
	}
	return result, nil
}

func propsToSnapshot(props map[string]interface{}, withPayload bool) (*core.Snapshot, error) {
	snap := &core.Snapshot{
		ID:            stringProp(props, "id"),
		Name:          stringProp(props, "name"),
		Description:   stringProp(props, "description"),
		Components:    intProp(props, "components"),
		Relationships: intProp(props, "relationships"),
		Tasks:         intProp(props, "tasks"),
		Comments:      intProp(props, "comments"),
	}
	if withPayload {
		snap.Payload = stringProp(props, "payload")
	}
	if raw := stringProp(props, "timestamp"); raw != "" {
		ts, err := ident.Parse(raw)
		if err != nil {
			return nil, core.Internal("snapshot %s has bad timestamp %q", snap.ID, raw)
		}
		snap.Timestamp = ts
	}
	return snap, nil
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]interface{}, key string) int {
	switch n := props[key].(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
