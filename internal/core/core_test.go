package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidateComponentInput(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := ValidateComponentInput(ComponentInput{Kind: KindFile, Name: "a.js"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		err := ValidateComponentInput(ComponentInput{Kind: "WIDGET", Name: "a"})
		if !IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})

	t.Run("empty name", func(t *testing.T) {
		err := ValidateComponentInput(ComponentInput{Kind: KindFile, Name: "   "})
		if !IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})

	t.Run("nested metadata rejected", func(t *testing.T) {
		err := ValidateComponentInput(ComponentInput{
			Kind:     KindFile,
			Name:     "a",
			Metadata: Metadata{"nested": map[string]string{"x": "y"}},
		})
		if !IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})

	t.Run("scalar metadata accepted", func(t *testing.T) {
		err := ValidateComponentInput(ComponentInput{
			Kind:     KindFile,
			Name:     "a",
			Metadata: Metadata{"s": "x", "n": 3, "f": 1.5, "b": true},
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestValidateRelationshipInput(t *testing.T) {
	base := RelationshipInput{Type: RelDependsOn, SourceID: "a", TargetID: "b"}

	t.Run("valid", func(t *testing.T) {
		if err := ValidateRelationshipInput(base); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("internal type rejected", func(t *testing.T) {
		in := base
		in.Type = RelHasComment
		if err := ValidateRelationshipInput(in); !IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})

	t.Run("probability out of range", func(t *testing.T) {
		in := base
		in.Temporal = &TemporalInfo{Probability: 1.5}
		if err := ValidateRelationshipInput(in); !IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})

	t.Run("negative time order", func(t *testing.T) {
		in := base
		in.Temporal = &TemporalInfo{TimeOrder: -1}
		if err := ValidateRelationshipInput(in); !IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})

	t.Run("temporal accepted", func(t *testing.T) {
		in := base
		in.Temporal = &TemporalInfo{TimeOrder: 2, Probability: 0.75, Reasoning: "follows build"}
		if err := ValidateRelationshipInput(in); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestValidateTaskInput(t *testing.T) {
	t.Run("progress bounds", func(t *testing.T) {
		for _, progress := range []float64{-0.1, 1.01, 2} {
			err := ValidateTaskInput(TaskInput{Name: "t", Progress: progress})
			if !IsValidation(err) {
				t.Errorf("progress %v: got %v, want VALIDATION", progress, err)
			}
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		err := ValidateTaskInput(TaskInput{Name: "t", Status: "PAUSED"})
		if !IsValidation(err) {
			t.Errorf("got %v, want VALIDATION", err)
		}
	})
}

func TestCommandFilters(t *testing.T) {
	high := PriorityHigh
	cmd := &Command{
		Type:               "EXECUTE_TASK",
		TaskType:           "TESTING",
		TargetComponentIDs: []string{"x", "y"},
		Priority:           PriorityHigh,
	}

	cases := []struct {
		name    string
		filters CommandFilters
		want    bool
	}{
		{"empty accepts all", CommandFilters{}, true},
		{"task type member", CommandFilters{TaskTypes: []string{"TESTING", "BUILD"}}, true},
		{"task type miss", CommandFilters{TaskTypes: []string{"DEPLOY"}}, false},
		{"component intersection", CommandFilters{ComponentIDs: []string{"y", "z"}}, true},
		{"component disjoint", CommandFilters{ComponentIDs: []string{"z"}}, false},
		{"min priority met", CommandFilters{MinPriority: &high}, true},
		{"all fields", CommandFilters{TaskTypes: []string{"TESTING"}, ComponentIDs: []string{"x"}, MinPriority: &high}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filters.Accepts(cmd); got != tc.want {
				t.Errorf("Accepts() = %v, want %v", got, tc.want)
			}
		})
	}

	t.Run("min priority rejects lower", func(t *testing.T) {
		urgent := PriorityUrgent
		filters := CommandFilters{MinPriority: &urgent}
		if filters.Accepts(cmd) {
			t.Error("HIGH command should not pass URGENT minimum")
		}
	})
}

func TestPriorityRank(t *testing.T) {
	order := []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s should rank below %s", order[i-1], order[i])
		}
	}
}

func TestErrorKinds(t *testing.T) {
	t.Run("predicates", func(t *testing.T) {
		if !IsNotFound(NotFound("x")) {
			t.Error("IsNotFound failed")
		}
		if !IsConflict(Conflict("x")) {
			t.Error("IsConflict failed")
		}
		if !IsWaitTimeout(WaitTimeout("x")) {
			t.Error("IsWaitTimeout failed")
		}
		if IsNotFound(Validation("x")) {
			t.Error("VALIDATION should not be NOT_FOUND")
		}
	})

	t.Run("wrapped cause", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := Backend(cause, "tx failed")
		if !errors.Is(err, cause) {
			t.Error("Backend should wrap its cause")
		}
		if KindOf(err) != ErrBackend {
			t.Errorf("got kind %s, want BACKEND", KindOf(err))
		}
	})

	t.Run("foreign error", func(t *testing.T) {
		if KindOf(fmt.Errorf("boom")) != ErrInternal {
			t.Error("foreign errors should map to INTERNAL")
		}
	})
}
