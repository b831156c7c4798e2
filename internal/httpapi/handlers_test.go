package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/systemshift/codegraph/internal/api"
	"github.com/systemshift/codegraph/internal/broker"
	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/ident"
	"github.com/systemshift/codegraph/internal/journal"
	"github.com/systemshift/codegraph/internal/snapshot"
	"github.com/systemshift/codegraph/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	backend := graph.NewMemory()
	clock := ident.NewClock()
	bus := events.NewBus(0)
	jnl := journal.New(backend)
	st := store.New(backend, jnl, bus, clock)
	brk := broker.New(broker.Config{}, bus, clock)
	svc := api.New(st, jnl, snapshot.New(st, jnl), brk, bus)

	server := httptest.NewServer(New(svc).Routes())
	t.Cleanup(func() {
		server.Close()
		brk.Close()
		bus.Close()
	})
	return server
}

func doJSON(t *testing.T, method, url string, body interface{}, wantStatus int, dst interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status %d, want %d", method, url, resp.StatusCode, wantStatus)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatal(err)
		}
	}
}

func TestComponentEndpoints(t *testing.T) {
	server := newTestServer(t)

	var created core.Component
	doJSON(t, http.MethodPost, server.URL+"/api/components", core.ComponentInput{
		Kind: core.KindFile, Name: "main.go", Codebase: "api",
	}, http.StatusCreated, &created)
	if created.ID == "" {
		t.Fatal("no id in response")
	}

	var fetched core.Component
	doJSON(t, http.MethodGet, server.URL+"/api/components/"+created.ID, nil, http.StatusOK, &fetched)
	if fetched.Name != "main.go" {
		t.Errorf("got name %q", fetched.Name)
	}

	t.Run("not found maps to 404", func(t *testing.T) {
		var envelope map[string]string
		doJSON(t, http.MethodGet, server.URL+"/api/components/ghost", nil, http.StatusNotFound, &envelope)
		if envelope["kind"] != string(core.ErrNotFound) {
			t.Errorf("kind = %q, want NOT_FOUND", envelope["kind"])
		}
	})

	t.Run("validation maps to 400", func(t *testing.T) {
		var envelope map[string]string
		doJSON(t, http.MethodPost, server.URL+"/api/components", core.ComponentInput{
			Kind: "WIDGET", Name: "x",
		}, http.StatusBadRequest, &envelope)
		if envelope["kind"] != string(core.ErrValidation) {
			t.Errorf("kind = %q, want VALIDATION", envelope["kind"])
		}
	})

	t.Run("duplicate maps to 409", func(t *testing.T) {
		doJSON(t, http.MethodPost, server.URL+"/api/components", core.ComponentInput{
			ID: created.ID, Kind: core.KindFile, Name: "dup",
		}, http.StatusConflict, nil)
	})

	t.Run("search", func(t *testing.T) {
		var out struct {
			Components []core.Component `json:"components"`
			Count      int              `json:"count"`
		}
		doJSON(t, http.MethodGet, server.URL+"/api/components?name=main", nil, http.StatusOK, &out)
		if out.Count != 1 {
			t.Errorf("count = %d, want 1", out.Count)
		}
	})

	t.Run("change history", func(t *testing.T) {
		var out struct {
			Changes []core.ChangeEvent `json:"changes"`
		}
		doJSON(t, http.MethodGet, server.URL+"/api/changes?entityId="+created.ID, nil, http.StatusOK, &out)
		if len(out.Changes) != 1 || out.Changes[0].Operation != core.OpCreateComponent {
			t.Errorf("unexpected history: %v", out.Changes)
		}
	})
}

func TestBrokerEndpoints(t *testing.T) {
	server := newTestServer(t)

	var sent core.SendResult
	doJSON(t, http.MethodPost, server.URL+"/api/broker/commands", core.CommandInput{
		Type: "EXECUTE_TASK", TaskType: "TESTING", Priority: core.PriorityHigh,
	}, http.StatusOK, &sent)
	if sent.Delivered {
		t.Error("command delivered with no waiters")
	}
	if sent.Command.Priority != core.PriorityHigh {
		t.Errorf("priority = %s", sent.Command.Priority)
	}

	var pending struct {
		Commands []core.Command `json:"commands"`
		Count    int            `json:"count"`
	}
	doJSON(t, http.MethodGet, server.URL+"/api/broker/commands", nil, http.StatusOK, &pending)
	if pending.Count != 1 {
		t.Fatalf("pending count = %d, want 1", pending.Count)
	}

	t.Run("wait drains the queue", func(t *testing.T) {
		var cmd core.Command
		doJSON(t, http.MethodPost, server.URL+"/api/broker/wait", api.WaitRequest{
			AgentID: "A", TimeoutMs: 1000,
		}, http.StatusOK, &cmd)
		if cmd.Type != "EXECUTE_TASK" {
			t.Errorf("got %s", cmd.Type)
		}
	})

	t.Run("timeout maps to 408", func(t *testing.T) {
		var envelope map[string]string
		doJSON(t, http.MethodPost, server.URL+"/api/broker/wait", api.WaitRequest{
			AgentID: "A", TimeoutMs: 30,
		}, http.StatusRequestTimeout, &envelope)
		if envelope["kind"] != string(core.ErrWaitTimeout) {
			t.Errorf("kind = %q, want WAIT_TIMEOUT", envelope["kind"])
		}
	})

	t.Run("cancel command", func(t *testing.T) {
		var queued core.SendResult
		doJSON(t, http.MethodPost, server.URL+"/api/broker/commands", core.CommandInput{Type: "X"}, http.StatusOK, &queued)
		doJSON(t, http.MethodDelete, server.URL+"/api/broker/commands/"+queued.Command.ID, nil, http.StatusOK, nil)

		var after struct {
			Count int `json:"count"`
		}
		doJSON(t, http.MethodGet, server.URL+"/api/broker/commands", nil, http.StatusOK, &after)
		if after.Count != 0 {
			t.Errorf("pending count = %d after cancel", after.Count)
		}
	})

	t.Run("history", func(t *testing.T) {
		var out struct {
			History []core.HistoryEntry `json:"history"`
		}
		doJSON(t, http.MethodGet, server.URL+"/api/broker/history?limit=50", nil, http.StatusOK, &out)
		if len(out.History) == 0 {
			t.Error("no history entries")
		}
	})
}

func TestSnapshotEndpoints(t *testing.T) {
	server := newTestServer(t)

	doJSON(t, http.MethodPost, server.URL+"/api/components", core.ComponentInput{
		Kind: core.KindFile, Name: "keep.go",
	}, http.StatusCreated, nil)

	var snap core.Snapshot
	doJSON(t, http.MethodPost, server.URL+"/api/snapshots", map[string]string{"name": "s"}, http.StatusCreated, &snap)
	if snap.Components != 1 {
		t.Errorf("snapshot components = %d, want 1", snap.Components)
	}

	doJSON(t, http.MethodPost, server.URL+"/api/components", core.ComponentInput{
		Kind: core.KindFile, Name: "extra.go",
	}, http.StatusCreated, nil)

	var result snapshot.RestoreResult
	doJSON(t, http.MethodPost, server.URL+"/api/snapshots/"+snap.ID+"/restore", nil, http.StatusOK, &result)
	if result.Components != 1 {
		t.Errorf("restore components = %d, want 1", result.Components)
	}

	var search struct {
		Count int `json:"count"`
	}
	doJSON(t, http.MethodGet, server.URL+"/api/components?name=extra", nil, http.StatusOK, &search)
	if search.Count != 0 {
		t.Error("restore did not remove the extra component")
	}
}

func TestTaskEndpoints(t *testing.T) {
	server := newTestServer(t)

	var task core.Task
	doJSON(t, http.MethodPost, server.URL+"/api/tasks", core.TaskInput{Name: "write docs"}, http.StatusCreated, &task)

	progress := 0.25
	var updated core.Task
	doJSON(t, http.MethodPatch, server.URL+"/api/tasks/"+task.ID+"/status", map[string]interface{}{
		"status": core.StatusInProgress, "progress": progress,
	}, http.StatusOK, &updated)
	if updated.Status != core.StatusInProgress || updated.Progress != 0.25 {
		t.Errorf("got %s/%v", updated.Status, updated.Progress)
	}

	var searched struct {
		Tasks []core.Task `json:"tasks"`
	}
	doJSON(t, http.MethodPost, server.URL+"/api/tasks/search", core.TaskSearch{TextQuery: "docs"}, http.StatusOK, &searched)
	if len(searched.Tasks) != 1 {
		t.Errorf("search found %d tasks", len(searched.Tasks))
	}
}
