// Package broker is the command rendezvous queue: long-lived agents block on
// WaitForCommand until a matching command arrives, and producers hand
// commands to SendCommand for immediate delivery or queueing. All state is
// process-local and volatile; a restart starts empty.
package broker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/ident"
)

// Defaults, overridable through Config.
const (
	DefaultWaitTimeout     = 300 * time.Second
	DefaultHistoryCapacity = 1000
)

// Config tunes a broker.
type Config struct {
	DefaultWaitTimeout time.Duration
	HistoryCapacity    int
}

// Broker owns the pending queue, the waiter registry and the bounded audit
// history. One mutex guards all three, so every scan observes a consistent
// snapshot and delivery decisions are linearizable.
type Broker struct {
	mu      sync.Mutex
	pending []*core.Command
	waiters []*waiter
	byAgent map[string]*waiter
	history *historyRing
	bus     *events.Bus
	clock   *ident.Clock
	cfg     Config
	closed  bool
}

type waitResult struct {
	command *core.Command
	err     error
}

type waiter struct {
	agentID   string
	filters   core.CommandFilters
	startedAt time.Time
	deadline  time.Time
	result    chan waitResult
	timer     *time.Timer
	done      bool
}

// New returns a broker. bus may be nil.
func New(cfg Config, bus *events.Bus, clock *ident.Clock) *Broker {
	if cfg.DefaultWaitTimeout <= 0 {
		cfg.DefaultWaitTimeout = DefaultWaitTimeout
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if clock == nil {
		clock = ident.NewClock()
	}
	return &Broker{
		byAgent: map[string]*waiter{},
		history: newHistoryRing(cfg.HistoryCapacity),
		bus:     bus,
		clock:   clock,
		cfg:     cfg,
	}
}

// WaitForCommand blocks until a matching command is delivered, the wait is
// cancelled, or the timeout elapses. A second wait under the same agent id
// supersedes the first, which fails with WAIT_CANCELLED.
func (b *Broker) WaitForCommand(ctx context.Context, agentID string, timeout time.Duration, filters core.CommandFilters) (*core.Command, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, core.Validation("agentId must not be empty")
	}
	if filters.MinPriority != nil && !filters.MinPriority.Valid() {
		return nil, core.Validation("unknown priority %q", *filters.MinPriority)
	}
	if timeout <= 0 {
		timeout = b.cfg.DefaultWaitTimeout
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, core.WaitCancelled("broker is shut down")
	}

	// One active wait per agent: a new wait supersedes the old one.
	if prior := b.byAgent[agentID]; prior != nil {
		b.resolveLocked(prior, waitResult{err: core.WaitCancelled("superseded by new wait")})
		b.recordLocked(core.HistoryWaitFailed, agentID, map[string]interface{}{
			"reason": "superseded by new wait",
		})
	}

	// A pending command may already satisfy the filters; deliver the best
	// one synchronously.
	if cmd := b.takePendingLocked(filters); cmd != nil {
		b.deliverLocked(cmd, agentID)
		b.recordLocked(core.HistoryCommandReceived, agentID, map[string]interface{}{
			"commandId":   cmd.ID,
			"commandType": cmd.Type,
		})
		b.mu.Unlock()
		b.publish(events.CommandDelivered, cmd)
		return cmd, nil
	}

	now := time.Now()
	w := &waiter{
		agentID:   agentID,
		filters:   filters,
		startedAt: now,
		deadline:  now.Add(timeout),
		result:    make(chan waitResult, 1),
	}
	w.timer = time.AfterFunc(timeout, func() {
		b.mu.Lock()
		resolved := b.resolveLocked(w, waitResult{err: core.WaitTimeout("no command within %s", timeout)})
		if resolved {
			b.recordLocked(core.HistoryWaitFailed, agentID, map[string]interface{}{
				"reason": "timeout",
			})
		}
		b.mu.Unlock()
		if resolved {
			b.publish(events.AgentWaitCancelled, map[string]interface{}{
				"agentId": agentID,
				"reason":  "timeout",
			})
		}
	})
	b.waiters = append(b.waiters, w)
	b.byAgent[agentID] = w
	b.recordLocked(core.HistoryWaitStarted, agentID, map[string]interface{}{
		"timeoutMs": timeout.Milliseconds(),
		"filters":   filters,
	})
	b.mu.Unlock()

	b.publish(events.AgentWaiting, core.WaitingAgent{
		AgentID:   agentID,
		Filters:   filters,
		StartedAt: w.startedAt,
	})

	select {
	case res := <-w.result:
		return res.command, res.err
	case <-ctx.Done():
		b.mu.Lock()
		resolved := b.resolveLocked(w, waitResult{err: core.WaitCancelled("wait interrupted: %v", ctx.Err())})
		if resolved {
			b.recordLocked(core.HistoryWaitFailed, agentID, map[string]interface{}{
				"reason": "context cancelled",
			})
		}
		b.mu.Unlock()
		// The result channel holds exactly one value once the wait is
		// resolved, whichever side won.
		res := <-w.result
		return res.command, res.err
	}
}

// SendCommand delivers the command to the earliest-registered waiter whose
// filters accept it, or queues it as PENDING.
func (b *Broker) SendCommand(in core.CommandInput) (*core.SendResult, error) {
	if err := core.ValidateCommandInput(in); err != nil {
		return nil, err
	}
	cmd := &core.Command{
		ID:                 in.ID,
		Type:               in.Type,
		Source:             in.Source,
		Payload:            in.Payload,
		Priority:           in.Priority,
		TargetComponentIDs: in.TargetComponentIDs,
		TaskType:           in.TaskType,
		CreatedAt:          b.clock.Now(),
		Status:             core.CommandPending,
	}
	if cmd.ID == "" {
		cmd.ID = ident.New()
	}
	if cmd.Priority == "" {
		cmd.Priority = core.PriorityMedium
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, core.Internal("broker is shut down")
	}
	for _, w := range b.waiters {
		if w.done || !w.filters.Accepts(cmd) {
			continue
		}
		agentID := w.agentID
		b.deliverLocked(cmd, agentID)
		b.resolveLocked(w, waitResult{command: cmd})
		b.recordLocked(core.HistoryCommandSent, agentID, map[string]interface{}{
			"commandId":   cmd.ID,
			"commandType": cmd.Type,
			"deliveredTo": agentID,
		})
		b.mu.Unlock()
		b.publish(events.CommandDelivered, cmd)
		return &core.SendResult{Delivered: true, AgentID: agentID, Command: cmd}, nil
	}

	b.pending = append(b.pending, cmd)
	b.recordLocked(core.HistoryCommandQueued, "", map[string]interface{}{
		"commandId":   cmd.ID,
		"commandType": cmd.Type,
		"priority":    string(cmd.Priority),
	})
	b.mu.Unlock()
	b.publish(events.CommandQueued, cmd)
	return &core.SendResult{Delivered: false, Command: cmd}, nil
}

// CancelCommand removes a PENDING command. Idempotent: terminal or unknown
// ids are a no-op.
func (b *Broker) CancelCommand(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cmd := range b.pending {
		if cmd.ID != id {
			continue
		}
		b.pending = append(b.pending[:i], b.pending[i+1:]...)
		cmd.Status = core.CommandCancelled
		b.recordLocked(core.HistoryCommandCancelled, "", map[string]interface{}{
			"commandId":   cmd.ID,
			"commandType": cmd.Type,
		})
		return
	}
}

// CancelWait rejects an agent's active wait with WAIT_CANCELLED. Idempotent:
// unknown agents are a no-op.
func (b *Broker) CancelWait(agentID string) {
	b.mu.Lock()
	w := b.byAgent[agentID]
	resolved := false
	if w != nil {
		resolved = b.resolveLocked(w, waitResult{err: core.WaitCancelled("cancelled by external request")})
		if resolved {
			b.recordLocked(core.HistoryWaitFailed, agentID, map[string]interface{}{
				"reason": "cancelled by external request",
			})
		}
	}
	b.mu.Unlock()
	if resolved {
		b.publish(events.AgentWaitCancelled, map[string]interface{}{
			"agentId": agentID,
			"reason":  "cancelled",
		})
	}
}

// GetWaitingAgents snapshots the waiter registry in registration order.
func (b *Broker) GetWaitingAgents() []core.WaitingAgent {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	out := make([]core.WaitingAgent, 0, len(b.waiters))
	for _, w := range b.waiters {
		if w.done {
			continue
		}
		out = append(out, core.WaitingAgent{
			AgentID:   w.agentID,
			Filters:   w.filters,
			StartedAt: w.startedAt,
			ElapsedMs: now.Sub(w.startedAt).Milliseconds(),
		})
	}
	return out
}

// GetPendingCommands snapshots the queue in delivery order: priority
// descending, then oldest first.
func (b *Broker) GetPendingCommands() []*core.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*core.Command, len(b.pending))
	copy(out, b.pending)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetHistory returns the newest limit audit entries, oldest first within the
// window. Non-positive limit means everything retained.
func (b *Broker) GetHistory(limit int) []core.HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.tail(limit)
}

// Close rejects every active wait and refuses further operations.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	waiters := append([]*waiter(nil), b.waiters...)
	for _, w := range waiters {
		b.resolveLocked(w, waitResult{err: core.WaitCancelled("broker shutting down")})
	}
	b.mu.Unlock()
}

// takePendingLocked removes and returns the best matching pending command:
// highest priority first, oldest first within a priority.
func (b *Broker) takePendingLocked(filters core.CommandFilters) *core.Command {
	best := -1
	for i, cmd := range b.pending {
		if !filters.Accepts(cmd) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		current := b.pending[best]
		if cmd.Priority.Rank() > current.Priority.Rank() ||
			(cmd.Priority.Rank() == current.Priority.Rank() && cmd.CreatedAt.Before(current.CreatedAt)) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	cmd := b.pending[best]
	b.pending = append(b.pending[:best], b.pending[best+1:]...)
	return cmd
}

func (b *Broker) deliverLocked(cmd *core.Command, agentID string) {
	now := time.Now()
	cmd.Status = core.CommandDelivered
	cmd.DeliveredTo = agentID
	cmd.DeliveredAt = &now
}

// resolveLocked terminates a wait exactly once, removing it from the
// registry and handing the result to the blocked caller.
func (b *Broker) resolveLocked(w *waiter, res waitResult) bool {
	if w.done {
		return false
	}
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	if b.byAgent[w.agentID] == w {
		delete(b.byAgent, w.agentID)
	}
	for i, candidate := range b.waiters {
		if candidate == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			break
		}
	}
	w.result <- res
	return true
}

func (b *Broker) recordLocked(action core.HistoryAction, agentID string, payload map[string]interface{}) {
	b.history.add(core.HistoryEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		AgentID:   agentID,
		Payload:   payload,
	})
}

func (b *Broker) publish(name string, payload interface{}) {
	if b.bus != nil {
		b.bus.Publish(name, payload)
	}
}
