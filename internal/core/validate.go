package core

import "strings"

// ValidateMetadata rejects non-scalar metadata values. Keys must be non-empty.
func ValidateMetadata(field string, meta Metadata) error {
	for key, value := range meta {
		if strings.TrimSpace(key) == "" {
			return Validation("%s: empty key", field)
		}
		switch value.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return Validation("%s[%s]: value must be a string, number or boolean", field, key)
		}
	}
	return nil
}

// ValidateComponentInput checks a component input against the model
// invariants before any mutation happens.
func ValidateComponentInput(in ComponentInput) error {
	if !in.Kind.Valid() {
		return Validation("unknown component kind %q", in.Kind)
	}
	if strings.TrimSpace(in.Name) == "" {
		return Validation("component name must not be empty")
	}
	return ValidateMetadata("metadata", in.Metadata)
}

// ValidateComponentPatch checks the updatable component fields.
func ValidateComponentPatch(patch ComponentPatch) error {
	if patch.Kind != nil && !patch.Kind.Valid() {
		return Validation("unknown component kind %q", *patch.Kind)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Validation("component name must not be empty")
	}
	return ValidateMetadata("metadata", patch.Metadata)
}

// ValidateRelationshipInput checks a relationship input. Endpoint existence
// is checked later inside the transaction; this covers shape only.
func ValidateRelationshipInput(in RelationshipInput) error {
	if !in.Type.Valid() {
		return Validation("unknown relationship type %q", in.Type)
	}
	if in.SourceID == "" || in.TargetID == "" {
		return Validation("relationship requires sourceId and targetId")
	}
	if err := ValidateMetadata("details", in.Details); err != nil {
		return err
	}
	if t := in.Temporal; t != nil {
		if t.TimeOrder < 0 {
			return Validation("timeOrder must be a positive integer")
		}
		if t.Probability < 0 || t.Probability > 1 {
			return Validation("probability must be within [0,1]")
		}
	}
	return nil
}

// ValidateTaskInput checks a task input.
func ValidateTaskInput(in TaskInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return Validation("task name must not be empty")
	}
	if in.Status != "" && !in.Status.Valid() {
		return Validation("unknown task status %q", in.Status)
	}
	if in.Progress < 0 || in.Progress > 1 {
		return Validation("progress must be within [0,1]")
	}
	return ValidateMetadata("metadata", in.Metadata)
}

// ValidateTaskStatusUpdate checks the fields of UpdateTaskStatus.
func ValidateTaskStatusUpdate(status TaskStatus, progress *float64) error {
	if !status.Valid() {
		return Validation("unknown task status %q", status)
	}
	if progress != nil && (*progress < 0 || *progress > 1) {
		return Validation("progress must be within [0,1]")
	}
	return nil
}

// ValidateCommentInput checks a comment input. Parent existence is checked
// inside the transaction.
func ValidateCommentInput(in CommentInput) error {
	if in.ParentID == "" {
		return Validation("comment requires a parent node id")
	}
	if strings.TrimSpace(in.Content) == "" {
		return Validation("comment content must not be empty")
	}
	return ValidateMetadata("metadata", in.Metadata)
}

// ValidateCommandInput checks a broker command before it enters the queue.
func ValidateCommandInput(in CommandInput) error {
	if strings.TrimSpace(in.Type) == "" {
		return Validation("command type must not be empty")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return Validation("unknown priority %q", in.Priority)
	}
	return ValidateMetadata("payload", in.Payload)
}
