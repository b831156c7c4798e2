// Package journal is the append-only change log. Every committed store
// mutation becomes one ChangeEvent node in the backend, with before/after
// state JSON-encoded at this boundary and typed maps everywhere else.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
)

// statsWindow is how far back GetStats counts per-day activity.
const statsWindow = 30 * 24 * time.Hour

// Journal records and serves change events.
type Journal struct {
	backend graph.Backend
}

// New returns a journal over the backend.
func New(backend graph.Backend) *Journal {
	return &Journal{backend: backend}
}

// Append persists one change event. Idempotent on the event id: appending an
// event that already exists is a no-op, which keeps concurrent retries safe.
func (j *Journal) Append(ctx context.Context, event *core.ChangeEvent) error {
	props, err := eventToProps(event)
	if err != nil {
		return err
	}
	err = j.backend.Write(ctx, func(tx graph.Tx) error {
		return tx.CreateNode(graph.LabelChangeEvent, nil, props)
	})
	if err != nil {
		if core.IsConflict(err) {
			return nil
		}
		return core.Backend(err, "appending change event %s", event.ID)
	}
	return nil
}

// AppendTx persists one change event inside an existing transaction.
func AppendTx(tx graph.Tx, event *core.ChangeEvent) error {
	props, err := eventToProps(event)
	if err != nil {
		return err
	}
	if err := tx.CreateNode(graph.LabelChangeEvent, nil, props); err != nil {
		if core.IsConflict(err) {
			return nil
		}
		return err
	}
	return nil
}

// GetEntityHistory returns an entity's entries, newest first.
func (j *Journal) GetEntityHistory(ctx context.Context, entityID string, limit int) ([]*core.ChangeEvent, error) {
	return j.query(ctx, graph.NodeFilter{
		Equals: map[string]interface{}{"entityId": entityID},
		Order:  descending(),
		Limit:  limit,
	})
}

// GetRecentChanges returns the global feed, newest first, optionally
// filtered to one operation.
func (j *Journal) GetRecentChanges(ctx context.Context, limit int, operation core.Operation) ([]*core.ChangeEvent, error) {
	filter := graph.NodeFilter{Order: descending(), Limit: limit}
	if operation != "" {
		if !operation.Valid() {
			return nil, core.Validation("unknown operation %q", operation)
		}
		filter.Equals = map[string]interface{}{"operation": string(operation)}
	}
	return j.query(ctx, filter)
}

// GetChangesByTimeRange returns entries with from <= timestamp <= to,
// ascending.
func (j *Journal) GetChangesByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]*core.ChangeEvent, error) {
	return j.query(ctx, graph.NodeFilter{
		GteStr: map[string]string{"timestamp": ident.Format(from)},
		LteStr: map[string]string{"timestamp": ident.Format(to)},
		Order:  ascending(),
		Limit:  limit,
	})
}

// GetSessionChanges returns one session's entries, ascending.
func (j *Journal) GetSessionChanges(ctx context.Context, sessionID string) ([]*core.ChangeEvent, error) {
	return j.query(ctx, graph.NodeFilter{
		Equals: map[string]interface{}{"sessionId": sessionID},
		Order:  ascending(),
	})
}

// UpTo returns every entry with timestamp <= target, ascending. Replay
// consumes this.
func (j *Journal) UpTo(ctx context.Context, target time.Time) ([]*core.ChangeEvent, error) {
	return j.query(ctx, graph.NodeFilter{
		LteStr: map[string]string{"timestamp": ident.Format(target)},
		Order:  ascending(),
	})
}

// GetStats summarizes the journal: total entries, per-operation counts and
// per-day counts for the last 30 days.
func (j *Journal) GetStats(ctx context.Context) (*core.JournalStats, error) {
	stats := &core.JournalStats{ByOperation: map[core.Operation]int{}, ByDay: map[string]int{}}
	cutoff := time.Now().UTC().Add(-statsWindow).Format("2006-01-02")

	err := j.backend.Read(ctx, func(tx graph.Tx) error {
		total, err := tx.CountNodes(graph.LabelChangeEvent, graph.NodeFilter{})
		if err != nil {
			return err
		}
		stats.Total = total

		byOp, err := tx.CountNodesBy(graph.LabelChangeEvent, "operation", graph.NodeFilter{})
		if err != nil {
			return err
		}
		for op, count := range byOp {
			stats.ByOperation[core.Operation(op)] = count
		}

		byDay, err := tx.CountNodesBy(graph.LabelChangeEvent, "day", graph.NodeFilter{
			GteStr: map[string]string{"day": cutoff},
		})
		if err != nil {
			return err
		}
		for day, count := range byDay {
			stats.ByDay[day] = count
		}
		return nil
	})
	if err != nil {
		return nil, core.Backend(err, "reading journal stats")
	}
	return stats, nil
}

func (j *Journal) query(ctx context.Context, f graph.NodeFilter) ([]*core.ChangeEvent, error) {
	var out []*core.ChangeEvent
	err := j.backend.Read(ctx, func(tx graph.Tx) error {
		rows, err := tx.QueryNodes(graph.LabelChangeEvent, f)
		if err != nil {
			return err
		}
		for _, props := range rows {
			event, err := propsToEvent(props)
			if err != nil {
				return err
			}
			out = append(out, event)
		}
		return nil
	})
	if err != nil {
		return nil, core.Backend(err, "querying change events")
	}
	return out, nil
}

func ascending() []graph.OrderKey {
	return []graph.OrderKey{{Prop: "timestamp"}, {Prop: "seq"}}
}

func descending() []graph.OrderKey {
	return []graph.OrderKey{{Prop: "timestamp", Desc: true}, {Prop: "seq", Desc: true}}
}

func eventToProps(event *core.ChangeEvent) (map[string]interface{}, error) {
	props := map[string]interface{}{
		"id":         event.ID,
		"operation":  string(event.Operation),
		"entityKind": string(event.EntityKind),
		"entityId":   event.EntityID,
		"timestamp":  ident.Format(event.Timestamp),
		"seq":        int64(event.Seq),
		"day":        ident.Format(event.Timestamp)[:10],
		"sessionId":  event.SessionID,
		"userId":     event.UserID,
		"source":     event.Source,
	}
	for key, state := range map[string]map[string]interface{}{
		"beforeState": event.Before,
		"afterState":  event.After,
	} {
		if state == nil {
			continue
		}
		encoded, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", key, err)
		}
		props[key] = string(encoded)
	}
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		props["metadata"] = string(encoded)
	}
	return props, nil
}

func propsToEvent(props map[string]interface{}) (*core.ChangeEvent, error) {
	event := &core.ChangeEvent{
		ID:         stringProp(props, "id"),
		Operation:  core.Operation(stringProp(props, "operation")),
		EntityKind: core.EntityKind(stringProp(props, "entityKind")),
		EntityID:   stringProp(props, "entityId"),
		SessionID:  stringProp(props, "sessionId"),
		UserID:     stringProp(props, "userId"),
		Source:     stringProp(props, "source"),
	}
	if ts := stringProp(props, "timestamp"); ts != "" {
		parsed, err := ident.Parse(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
		event.Timestamp = parsed
	}
	if seq, ok := props["seq"]; ok {
		event.Seq = uint64(toInt64(seq))
	}
	for key, dst := range map[string]*map[string]interface{}{
		"beforeState": &event.Before,
		"afterState":  &event.After,
	} {
		raw := stringProp(props, key)
		if raw == "" {
			continue
		}
		var state map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		*dst = state
	}
	if raw := stringProp(props, "metadata"); raw != "" {
		var meta core.Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
		event.Metadata = meta
	}
	return event, nil
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}
