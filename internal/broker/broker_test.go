package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/systemshift/codegraph/internal/core"
)

func newTestBroker() *Broker {
	return New(Config{}, nil, nil)
}

func waitForAgents(t *testing.T, b *Broker, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.GetWaitingAgents()) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("never reached %d waiting agents", want)
}

func TestRendezvousFilters(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	ctx := context.Background()

	medium := core.PriorityMedium
	type result struct {
		cmd *core.Command
		err error
	}
	a1 := make(chan result, 1)
	a2 := make(chan result, 1)

	go func() {
		cmd, err := b.WaitForCommand(ctx, "A1", 5*time.Second, core.CommandFilters{
			TaskTypes:   []string{"TESTING"},
			MinPriority: &medium,
		})
		a1 <- result{cmd, err}
	}()
	waitForAgents(t, b, 1)
	go func() {
		cmd, err := b.WaitForCommand(ctx, "A2", 5*time.Second, core.CommandFilters{
			ComponentIDs: []string{"X"},
		})
		a2 <- result{cmd, err}
	}()
	waitForAgents(t, b, 2)

	sent, err := b.SendCommand(core.CommandInput{
		Type:               "EXECUTE_TASK",
		TaskType:           "TESTING",
		TargetComponentIDs: []string{"Y"},
		Priority:           core.PriorityHigh,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !sent.Delivered || sent.AgentID != "A1" {
		t.Fatalf("first command went to %q, want A1", sent.AgentID)
	}
	r1 := <-a1
	if r1.err != nil || r1.cmd.Type != "EXECUTE_TASK" {
		t.Fatalf("A1 got %v, %v", r1.cmd, r1.err)
	}
	if r1.cmd.Status != core.CommandDelivered || r1.cmd.DeliveredTo != "A1" {
		t.Errorf("delivered command not marked: %+v", r1.cmd)
	}

	sent, err = b.SendCommand(core.CommandInput{
		Type:               "UPDATE",
		TaskType:           "UPDATE",
		TargetComponentIDs: []string{"X"},
		Priority:           core.PriorityLow,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !sent.Delivered || sent.AgentID != "A2" {
		t.Fatalf("second command went to %q, want A2", sent.AgentID)
	}
	r2 := <-a2
	if r2.err != nil || r2.cmd.Type != "UPDATE" {
		t.Fatalf("A2 got %v, %v", r2.cmd, r2.err)
	}
}

func TestPendingPriorityOrder(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	ctx := context.Background()

	for _, c := range []struct {
		typ      string
		priority core.Priority
	}{
		{"C_low", core.PriorityLow},
		{"C_urgent", core.PriorityUrgent},
		{"C_med", ""}, // defaults to MEDIUM
	} {
		sent, err := b.SendCommand(core.CommandInput{Type: c.typ, Priority: c.priority})
		if err != nil {
			t.Fatal(err)
		}
		if sent.Delivered {
			t.Fatalf("%s delivered with no waiters", c.typ)
		}
	}

	want := []string{"C_urgent", "C_med", "C_low"}
	pending := b.GetPendingCommands()
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}
	for i, cmd := range pending {
		if cmd.Type != want[i] {
			t.Errorf("queue[%d] = %s, want %s", i, cmd.Type, want[i])
		}
	}

	for _, typ := range want {
		cmd, err := b.WaitForCommand(ctx, "A", time.Second, core.CommandFilters{})
		if err != nil {
			t.Fatalf("wait for %s: %v", typ, err)
		}
		if cmd.Type != typ {
			t.Errorf("got %s, want %s", cmd.Type, typ)
		}
	}
}

func TestPendingTieBreakByCreation(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	ctx := context.Background()

	b.SendCommand(core.CommandInput{Type: "first", Priority: core.PriorityHigh})
	b.SendCommand(core.CommandInput{Type: "second", Priority: core.PriorityHigh})

	cmd, err := b.WaitForCommand(ctx, "A", time.Second, core.CommandFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != "first" {
		t.Errorf("got %s, want first (FIFO within priority)", cmd.Type)
	}
}

func TestWaitTimeout(t *testing.T) {
	b := newTestBroker()
	defer b.Close()

	start := time.Now()
	_, err := b.WaitForCommand(context.Background(), "A", 50*time.Millisecond, core.CommandFilters{})
	elapsed := time.Since(start)

	if !core.IsWaitTimeout(err) {
		t.Fatalf("got %v, want WAIT_TIMEOUT", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %v, want ~50ms", elapsed)
	}
	if len(b.GetWaitingAgents()) != 0 {
		t.Error("timed-out waiter still registered")
	}
}

func TestCancelWait(t *testing.T) {
	b := newTestBroker()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.WaitForCommand(context.Background(), "B", 10*time.Second, core.CommandFilters{})
		done <- err
	}()
	waitForAgents(t, b, 1)

	b.CancelWait("B")
	select {
	case err := <-done:
		if !core.IsWaitCancelled(err) {
			t.Fatalf("got %v, want WAIT_CANCELLED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled wait never returned")
	}

	// Idempotent on unknown agents.
	b.CancelWait("B")
	b.CancelWait("never-waited")
}

func TestWaitSupersede(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := b.WaitForCommand(ctx, "A", 10*time.Second, core.CommandFilters{})
		first <- err
	}()
	waitForAgents(t, b, 1)

	second := make(chan error, 1)
	go func() {
		_, err := b.WaitForCommand(ctx, "A", 10*time.Second, core.CommandFilters{})
		second <- err
	}()

	select {
	case err := <-first:
		if !core.IsWaitCancelled(err) {
			t.Fatalf("superseded wait got %v, want WAIT_CANCELLED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded wait never resolved")
	}
	waitForAgents(t, b, 1)

	// The replacement wait is live and deliverable.
	if _, err := b.SendCommand(core.CommandInput{Type: "GO"}); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("replacement wait got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replacement wait never resolved")
	}
}

func TestCancelCommand(t *testing.T) {
	b := newTestBroker()
	defer b.Close()

	sent, _ := b.SendCommand(core.CommandInput{Type: "X"})
	b.CancelCommand(sent.Command.ID)
	if len(b.GetPendingCommands()) != 0 {
		t.Error("cancelled command still pending")
	}

	// Idempotent.
	b.CancelCommand(sent.Command.ID)
	b.CancelCommand("unknown")

	_, err := b.WaitForCommand(context.Background(), "A", 50*time.Millisecond, core.CommandFilters{})
	if !core.IsWaitTimeout(err) {
		t.Errorf("cancelled command was delivered: %v", err)
	}
}

func TestWaiterFIFO(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	ctx := context.Background()

	results := make(chan string, 2)
	go func() {
		if _, err := b.WaitForCommand(ctx, "first", 5*time.Second, core.CommandFilters{}); err == nil {
			results <- "first"
		}
	}()
	waitForAgents(t, b, 1)
	go func() {
		if _, err := b.WaitForCommand(ctx, "second", 5*time.Second, core.CommandFilters{}); err == nil {
			results <- "second"
		}
	}()
	waitForAgents(t, b, 2)

	sent, err := b.SendCommand(core.CommandInput{Type: "GO"})
	if err != nil {
		t.Fatal(err)
	}
	if sent.AgentID != "first" {
		t.Errorf("delivered to %s, want first (FIFO by registration)", sent.AgentID)
	}
	if got := <-results; got != "first" {
		t.Errorf("%s resolved, want first", got)
	}
	b.CancelWait("second")
}

func TestContextCancellation(t *testing.T) {
	b := newTestBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.WaitForCommand(ctx, "A", 10*time.Second, core.CommandFilters{})
		done <- err
	}()
	waitForAgents(t, b, 1)

	cancel()
	select {
	case err := <-done:
		if !core.IsWaitCancelled(err) {
			t.Fatalf("got %v, want WAIT_CANCELLED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("context-cancelled wait never returned")
	}
}

func TestHistory(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	ctx := context.Background()

	b.SendCommand(core.CommandInput{Type: "queued-one"})
	b.WaitForCommand(ctx, "A", time.Second, core.CommandFilters{})

	history := b.GetHistory(0)
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	if history[0].Action != core.HistoryCommandQueued {
		t.Errorf("entry 0 = %s, want COMMAND_QUEUED", history[0].Action)
	}
	if history[1].Action != core.HistoryCommandReceived || history[1].AgentID != "A" {
		t.Errorf("entry 1 = %+v, want COMMAND_RECEIVED by A", history[1])
	}
}

func TestHistoryBounded(t *testing.T) {
	b := New(Config{HistoryCapacity: 5}, nil, nil)
	defer b.Close()

	for i := 0; i < 12; i++ {
		b.SendCommand(core.CommandInput{Type: fmt.Sprintf("cmd-%d", i)})
	}

	history := b.GetHistory(0)
	if len(history) != 5 {
		t.Fatalf("got %d entries, want 5 (bounded)", len(history))
	}
	if history[0].Payload["commandType"] != "cmd-7" {
		t.Errorf("oldest retained = %v, want cmd-7", history[0].Payload["commandType"])
	}
	if history[4].Payload["commandType"] != "cmd-11" {
		t.Errorf("newest = %v, want cmd-11", history[4].Payload["commandType"])
	}

	limited := b.GetHistory(2)
	if len(limited) != 2 || limited[1].Payload["commandType"] != "cmd-11" {
		t.Errorf("limited tail wrong: %v", limited)
	}
}

func TestConcurrentSendAndWait(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	received := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd, err := b.WaitForCommand(ctx, fmt.Sprintf("agent-%d", i), 5*time.Second, core.CommandFilters{})
			if err != nil {
				t.Errorf("agent-%d: %v", i, err)
				return
			}
			received <- cmd.ID
		}(i)
	}
	waitForAgents(t, b, n)

	for i := 0; i < n; i++ {
		if _, err := b.SendCommand(core.CommandInput{Type: fmt.Sprintf("cmd-%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	close(received)

	seen := map[string]bool{}
	for id := range received {
		if seen[id] {
			t.Errorf("command %s delivered twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("got %d deliveries, want %d", len(seen), n)
	}
}
