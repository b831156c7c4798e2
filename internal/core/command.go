package core

import "time"

// Command is a typed request awaiting delivery to a matching agent.
type Command struct {
	ID                 string        `json:"id"`
	Type               string        `json:"type"`
	Source             string        `json:"source,omitempty"`
	Payload            Metadata      `json:"payload,omitempty"`
	Priority           Priority      `json:"priority"`
	TargetComponentIDs []string      `json:"targetComponentIds,omitempty"`
	TaskType           string        `json:"taskType,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	Status             CommandStatus `json:"status"`
	DeliveredTo        string        `json:"deliveredTo,omitempty"`
	DeliveredAt        *time.Time    `json:"deliveredAt,omitempty"`
}

// CommandInput carries the caller-supplied fields for sending a command.
// Missing priority is normalized to MEDIUM; missing id and timestamp are
// assigned by the broker.
type CommandInput struct {
	ID                 string   `json:"id,omitempty"`
	Type               string   `json:"type"`
	Source             string   `json:"source,omitempty"`
	Payload            Metadata `json:"payload,omitempty"`
	Priority           Priority `json:"priority,omitempty"`
	TargetComponentIDs []string `json:"targetComponentIds,omitempty"`
	TaskType           string   `json:"taskType,omitempty"`
}

// CommandFilters is the predicate a waiting agent uses to select commands.
// A command matches when every present field accepts it; an empty filter
// accepts everything.
type CommandFilters struct {
	TaskTypes    []string  `json:"taskTypes,omitempty"`
	ComponentIDs []string  `json:"componentIds,omitempty"`
	MinPriority  *Priority `json:"minPriority,omitempty"`
}

// Accepts reports whether cmd passes every present filter field.
func (f CommandFilters) Accepts(cmd *Command) bool {
	if len(f.TaskTypes) > 0 {
		found := false
		for _, t := range f.TaskTypes {
			if t == cmd.TaskType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.ComponentIDs) > 0 {
		found := false
		for _, want := range f.ComponentIDs {
			for _, have := range cmd.TargetComponentIDs {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	if f.MinPriority != nil && cmd.Priority.Rank() < f.MinPriority.Rank() {
		return false
	}
	return true
}

// WaitingAgent is the externally visible view of an in-flight wait.
type WaitingAgent struct {
	AgentID   string         `json:"agentId"`
	Filters   CommandFilters `json:"filters"`
	StartedAt time.Time      `json:"startedAt"`
	ElapsedMs int64          `json:"elapsedMs"`
}

// HistoryEntry is one record of the broker's bounded audit log.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    HistoryAction          `json:"action"`
	AgentID   string                 `json:"agentId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// SendResult reports where a command went: straight to a waiter or into the
// pending queue.
type SendResult struct {
	Delivered bool     `json:"delivered"`
	AgentID   string   `json:"agentId,omitempty"`
	Command   *Command `json:"command"`
}
