package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
)

// The codec maps typed entities to flat backend properties. Nested values
// (metadata, details, id lists) are JSON-encoded into string properties, the
// same way the upstream engine wants them.

func componentToProps(c *core.Component) (map[string]interface{}, error) {
	props := map[string]interface{}{
		"id":          c.ID,
		"kind":        string(c.Kind),
		"name":        c.Name,
		"description": c.Description,
		"path":        c.Path,
		"codebase":    c.Codebase,
		"created":     ident.Format(c.Created),
		"updated":     ident.Format(c.Updated),
	}
	if err := putJSON(props, "metadata", c.Metadata, len(c.Metadata) > 0); err != nil {
		return nil, err
	}
	return props, nil
}

func propsToComponent(props map[string]interface{}) (*core.Component, error) {
	c := &core.Component{
		ID:          str(props, "id"),
		Kind:        core.ComponentKind(str(props, "kind")),
		Name:        str(props, "name"),
		Description: str(props, "description"),
		Path:        str(props, "path"),
		Codebase:    str(props, "codebase"),
	}
	var err error
	if c.Created, err = parseTime(props, "created"); err != nil {
		return nil, err
	}
	if c.Updated, err = parseTime(props, "updated"); err != nil {
		return nil, err
	}
	if err := getJSON(props, "metadata", &c.Metadata); err != nil {
		return nil, err
	}
	return c, nil
}

func relationshipToProps(r *core.Relationship) (map[string]interface{}, error) {
	props := map[string]interface{}{
		"id":      r.ID,
		"type":    string(r.Type),
		"created": ident.Format(r.Created),
	}
	if err := putJSON(props, "details", r.Details, len(r.Details) > 0); err != nil {
		return nil, err
	}
	if t := r.Temporal; t != nil {
		if t.TimeOrder > 0 {
			props["timeOrder"] = int64(t.TimeOrder)
		}
		props["probability"] = t.Probability
		if t.Reasoning != "" {
			props["reasoning"] = t.Reasoning
		}
	}
	return props, nil
}

func edgeToRelationship(e graph.Edge) (*core.Relationship, error) {
	r := &core.Relationship{
		ID:       e.ID,
		Type:     core.RelationshipType(e.Type),
		SourceID: e.SourceID,
		TargetID: e.TargetID,
	}
	var err error
	if r.Created, err = parseTime(e.Props, "created"); err != nil {
		return nil, err
	}
	if err := getJSON(e.Props, "details", &r.Details); err != nil {
		return nil, err
	}
	_, hasOrder := e.Props["timeOrder"]
	_, hasProb := e.Props["probability"]
	if hasOrder || hasProb {
		r.Temporal = &core.TemporalInfo{
			TimeOrder:   int(num(e.Props, "timeOrder")),
			Probability: num(e.Props, "probability"),
			Reasoning:   str(e.Props, "reasoning"),
		}
	}
	return r, nil
}

func taskToProps(t *core.Task) (map[string]interface{}, error) {
	props := map[string]interface{}{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"status":      string(t.Status),
		"progress":    t.Progress,
		"codebase":    t.Codebase,
		"created":     ident.Format(t.Created),
		"updated":     ident.Format(t.Updated),
	}
	if err := putJSON(props, "metadata", t.Metadata, len(t.Metadata) > 0); err != nil {
		return nil, err
	}
	if err := putJSON(props, "relatedComponentIds", t.RelatedComponentIDs, len(t.RelatedComponentIDs) > 0); err != nil {
		return nil, err
	}
	return props, nil
}

func propsToTask(props map[string]interface{}) (*core.Task, error) {
	t := &core.Task{
		ID:          str(props, "id"),
		Name:        str(props, "name"),
		Description: str(props, "description"),
		Status:      core.TaskStatus(str(props, "status")),
		Progress:    num(props, "progress"),
		Codebase:    str(props, "codebase"),
	}
	var err error
	if t.Created, err = parseTime(props, "created"); err != nil {
		return nil, err
	}
	if t.Updated, err = parseTime(props, "updated"); err != nil {
		return nil, err
	}
	if err := getJSON(props, "metadata", &t.Metadata); err != nil {
		return nil, err
	}
	if err := getJSON(props, "relatedComponentIds", &t.RelatedComponentIDs); err != nil {
		return nil, err
	}
	return t, nil
}

func commentToProps(c *core.Comment) (map[string]interface{}, error) {
	props := map[string]interface{}{
		"id":       c.ID,
		"parentId": c.ParentID,
		"content":  c.Content,
		"author":   c.Author,
		"created":  ident.Format(c.Created),
	}
	if c.Updated != nil {
		props["updated"] = ident.Format(*c.Updated)
	}
	if err := putJSON(props, "metadata", c.Metadata, len(c.Metadata) > 0); err != nil {
		return nil, err
	}
	return props, nil
}

func propsToComment(props map[string]interface{}) (*core.Comment, error) {
	c := &core.Comment{
		ID:       str(props, "id"),
		ParentID: str(props, "parentId"),
		Content:  str(props, "content"),
		Author:   str(props, "author"),
	}
	var err error
	if c.Created, err = parseTime(props, "created"); err != nil {
		return nil, err
	}
	if raw := str(props, "updated"); raw != "" {
		updated, err := ident.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing updated %q: %w", raw, err)
		}
		c.Updated = &updated
	}
	if err := getJSON(props, "metadata", &c.Metadata); err != nil {
		return nil, err
	}
	return c, nil
}

// stateOf captures an entity as the generic field map stored in journal
// before/after states.
func stateOf(entity interface{}) map[string]interface{} {
	encoded, err := json.Marshal(entity)
	if err != nil {
		return nil
	}
	var state map[string]interface{}
	if err := json.Unmarshal(encoded, &state); err != nil {
		return nil
	}
	return state
}

func putJSON(props map[string]interface{}, key string, value interface{}, present bool) error {
	if !present {
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	props[key] = string(encoded)
	return nil
}

func getJSON(props map[string]interface{}, key string, dst interface{}) error {
	raw, _ := props[key].(string)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func str(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func num(props map[string]interface{}, key string) float64 {
	switch n := props[key].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func parseTime(props map[string]interface{}, key string) (time.Time, error) {
	raw := str(props, key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := ident.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s %q: %w", key, raw, err)
	}
	return t, nil
}
