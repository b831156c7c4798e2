package core

import "time"

// Metadata is a flat mapping of string keys to scalar values. Values are
// restricted to strings, booleans and numbers; nested structures are rejected
// at validation time.
type Metadata map[string]interface{}

// Component is the primary graph node: a file, function, requirement or any
// other codebase entity agents reason about.
type Component struct {
	ID          string        `json:"id"`
	Kind        ComponentKind `json:"kind"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Path        string        `json:"path,omitempty"`
	Codebase    string        `json:"codebase,omitempty"`
	Metadata    Metadata      `json:"metadata,omitempty"`
	Created     time.Time     `json:"created"`
	Updated     time.Time     `json:"updated"`
}

// ComponentInput carries the caller-supplied fields for creating a component.
// ID is optional; a fresh one is assigned when absent.
type ComponentInput struct {
	ID          string        `json:"id,omitempty"`
	Kind        ComponentKind `json:"kind"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Path        string        `json:"path,omitempty"`
	Codebase    string        `json:"codebase,omitempty"`
	Metadata    Metadata      `json:"metadata,omitempty"`
}

// ComponentPatch holds the updatable fields of a component. Nil fields are
// left untouched; the id can never change.
type ComponentPatch struct {
	Name        *string        `json:"name,omitempty"`
	Kind        *ComponentKind `json:"kind,omitempty"`
	Description *string        `json:"description,omitempty"`
	Path        *string        `json:"path,omitempty"`
	Codebase    *string        `json:"codebase,omitempty"`
	Metadata    Metadata       `json:"metadata,omitempty"`
}

// TemporalInfo is the optional temporal triple on a relationship.
type TemporalInfo struct {
	TimeOrder   int     `json:"timeOrder,omitempty"`
	Probability float64 `json:"probability,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// Relationship is a directed, typed edge between two components. Parallel
// edges of the same type between the same endpoints are allowed.
type Relationship struct {
	ID       string           `json:"id"`
	Type     RelationshipType `json:"type"`
	SourceID string           `json:"sourceId"`
	TargetID string           `json:"targetId"`
	Details  Metadata         `json:"details,omitempty"`
	Temporal *TemporalInfo    `json:"temporal,omitempty"`
	Created  time.Time        `json:"created"`
}

// RelationshipInput carries the caller-supplied fields for creating a
// relationship. Both endpoints must reference existing components.
type RelationshipInput struct {
	ID       string           `json:"id,omitempty"`
	Type     RelationshipType `json:"type"`
	SourceID string           `json:"sourceId"`
	TargetID string           `json:"targetId"`
	Details  Metadata         `json:"details,omitempty"`
	Temporal *TemporalInfo    `json:"temporal,omitempty"`
}

// Direction selects which edges of a node a query returns.
type Direction string

// Directions.
const (
	DirIncoming Direction = "incoming"
	DirOutgoing Direction = "outgoing"
	DirBoth     Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirIncoming || d == DirOutgoing || d == DirBoth
}

// NeighborRelationship pairs a relationship with the neighbor it reaches and
// the direction it was traversed in.
type NeighborRelationship struct {
	Relationship *Relationship `json:"relationship"`
	Neighbor     *Component    `json:"neighbor"`
	Direction    Direction     `json:"direction"`
}

// DependencyPath is one DEPENDS_ON chain rooted at the queried component.
type DependencyPath struct {
	ComponentIDs []string `json:"componentIds"`
	Depth        int      `json:"depth"`
}

// Task is a tracked unit of work, optionally related to components.
type Task struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Status              TaskStatus `json:"status"`
	Progress            float64    `json:"progress"`
	Codebase            string     `json:"codebase,omitempty"`
	RelatedComponentIDs []string   `json:"relatedComponentIds,omitempty"`
	Metadata            Metadata   `json:"metadata,omitempty"`
	Created             time.Time  `json:"created"`
	Updated             time.Time  `json:"updated"`
}

// TaskInput carries the caller-supplied fields for creating a task.
type TaskInput struct {
	ID                  string     `json:"id,omitempty"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Status              TaskStatus `json:"status,omitempty"`
	Progress            float64    `json:"progress,omitempty"`
	Codebase            string     `json:"codebase,omitempty"`
	RelatedComponentIDs []string   `json:"relatedComponentIds,omitempty"`
	Metadata            Metadata   `json:"metadata,omitempty"`
}

// TaskSearch is the criteria set accepted by SearchTasks.
type TaskSearch struct {
	TextQuery           string       `json:"textQuery,omitempty"`
	Statuses            []TaskStatus `json:"statuses,omitempty"`
	ProgressMin         *float64     `json:"progressMin,omitempty"`
	ProgressMax         *float64     `json:"progressMax,omitempty"`
	CreatedAfter        *time.Time   `json:"createdAfter,omitempty"`
	CreatedBefore       *time.Time   `json:"createdBefore,omitempty"`
	RelatedComponentIDs []string     `json:"relatedComponentIds,omitempty"`
	OrderBy             string       `json:"orderBy,omitempty"`        // created, name, status, progress
	OrderDirection      string       `json:"orderDirection,omitempty"` // asc, desc
	Limit               int          `json:"limit,omitempty"`
}

// Comment is a free-text annotation attached to exactly one node.
type Comment struct {
	ID       string     `json:"id"`
	ParentID string     `json:"parentId"`
	Content  string     `json:"content"`
	Author   string     `json:"author,omitempty"`
	Metadata Metadata   `json:"metadata,omitempty"`
	Created  time.Time  `json:"created"`
	Updated  *time.Time `json:"updated,omitempty"`
}

// CommentInput carries the caller-supplied fields for creating a comment.
type CommentInput struct {
	ID       string   `json:"id,omitempty"`
	ParentID string   `json:"parentId"`
	Content  string   `json:"content"`
	Author   string   `json:"author,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// ChangeEvent is one journal entry: a committed mutation with its before and
// after state.
type ChangeEvent struct {
	ID         string                 `json:"id"`
	Operation  Operation              `json:"operation"`
	EntityKind EntityKind             `json:"entityKind"`
	EntityID   string                 `json:"entityId"`
	Before     map[string]interface{} `json:"beforeState,omitempty"`
	After      map[string]interface{} `json:"afterState,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Seq        uint64                 `json:"seq"`
	SessionID  string                 `json:"sessionId,omitempty"`
	UserID     string                 `json:"userId,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Metadata   Metadata               `json:"metadata,omitempty"`
}

// JournalStats summarizes the change journal.
type JournalStats struct {
	Total       int               `json:"total"`
	ByOperation map[Operation]int `json:"byOperation"`
	ByDay       map[string]int    `json:"byDay"` // YYYY-MM-DD, last 30 days
}

// Snapshot is a labeled capture of the entire entity graph. Payload is dense
// and self-contained; restoring needs nothing from the journal.
type Snapshot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     string    `json:"-"`

	// Counts captured alongside the payload so listings stay cheap.
	Components    int `json:"components"`
	Relationships int `json:"relationships"`
	Tasks         int `json:"tasks"`
	Comments      int `json:"comments"`
}

// KindCount is one row of a codebase overview.
type KindCount struct {
	Kind  ComponentKind `json:"kind"`
	Count int           `json:"count"`
}
