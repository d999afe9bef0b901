package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aibozo/code-sub000/internal/model"
)

// Runner launches the child CLI process backing one agent and blocks
// until it exits, returning its stdout on success. Implementations are
// free to use os/exec directly; Manager only depends on this narrow
// interface so tests can supply a fake.
type Runner interface {
	Run(ctx context.Context, a *model.Agent, cmd []string, env map[string]string) (string, error)
}

// EventSink receives AgentStatusUpdate events as agents transition.
// The turn engine/session controller implement this to forward updates to
// the outward-facing event channel.
type EventSink interface {
	Emit(model.Event)
}

type startOutcome int

const (
	startedNow startOutcome = iota
	startedQueued
	startedDeferred
)

// Manager is the sub-agent manager: a single exclusive lock guards all
// mutable state (capacity, pacing, the FIFO queue, and worktree
// bookkeeping) rather than a sync.RWMutex plus an atomic active-count
// pair, since the fuller cap/pace/queue/worktree state machine needs
// serialized transitions, not just a read/write count guard.
type Manager struct {
	cfg    Config
	runner Runner
	sink   EventSink

	mu        sync.Mutex
	agents    map[string]*model.Agent
	cancels   map[string]context.CancelFunc
	queue     []string
	lastStart map[string]time.Time
	scheduled map[string]bool
}

func NewManager(cfg Config, runner Runner, sink EventSink) *Manager {
	return &Manager{
		cfg:       cfg,
		runner:    runner,
		sink:      sink,
		agents:    make(map[string]*model.Agent),
		cancels:   make(map[string]context.CancelFunc),
		lastStart: make(map[string]time.Time),
		scheduled: make(map[string]bool),
	}
}

// SpawnParams describes a new agent request before it has a status.
type SpawnParams struct {
	Model      string
	Prompt     string
	Context    string
	OutputGoal string
	Files      []string
	ReadOnly   bool
	BatchID    string
	Config     *model.AgentConfig
}

// Spawn registers a new Pending agent and runs the start algorithm for it.
func (m *Manager) Spawn(p SpawnParams) *model.Agent {
	a := &model.Agent{
		ID:         uuid.NewString(),
		BatchID:    p.BatchID,
		Model:      p.Model,
		Prompt:     p.Prompt,
		Context:    p.Context,
		OutputGoal: p.OutputGoal,
		Files:      p.Files,
		ReadOnly:   p.ReadOnly,
		Status:     model.AgentPending,
		CreatedAt:  time.Now(),
		Config:     p.Config,
	}

	m.mu.Lock()
	m.agents[a.ID] = a
	m.mu.Unlock()

	if !p.ReadOnly {
		if err := m.setupWorktree(a); err != nil {
			m.mu.Lock()
			a.Status = model.AgentFailed
			a.Error = err.Error()
			now := time.Now()
			a.CompletedAt = &now
			m.mu.Unlock()
			m.emitStatus(a)
			return a
		}
	}

	m.tryStartNow(a.ID)
	return a
}

// tryStartNow attempts to move an agent from pending to running, starting
// it immediately if capacity and pacing allow, else leaving it queued.
func (m *Manager) tryStartNow(id string) startOutcome {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok || a.Status.IsTerminal() {
		m.mu.Unlock()
		return startedNow
	}

	running := m.runningCountForModelLocked(a.Model)
	capacity := m.cfg.capacityFor(a.Model)
	if running >= capacity {
		m.enqueueLocked(id)
		m.mu.Unlock()
		return startedQueued
	}

	minInterval := m.cfg.minIntervalFor(a.Model)
	elapsed := time.Since(m.lastStart[a.Model])
	delay := minInterval - elapsed
	if delay > 0 {
		if m.scheduled[id] {
			m.mu.Unlock()
			return startedDeferred
		}
		m.scheduled[id] = true
		m.mu.Unlock()
		time.AfterFunc(delay, func() {
			m.mu.Lock()
			delete(m.scheduled, id)
			m.mu.Unlock()
			m.tryStartNow(id)
		})
		return startedDeferred
	}

	a.Status = model.AgentRunning
	now := time.Now()
	a.StartedAt = &now
	m.lastStart[a.Model] = now
	m.mu.Unlock()

	m.emitStatus(a)
	m.runAgent(a)
	return startedNow
}

func (m *Manager) runningCountForModelLocked(modelName string) int {
	n := 0
	for _, a := range m.agents {
		if a.Model == modelName && a.Status == model.AgentRunning {
			n++
		}
	}
	return n
}

func (m *Manager) enqueueLocked(id string) {
	for _, existing := range m.queue {
		if existing == id {
			return
		}
	}
	m.queue = append(m.queue, id)
}

// runAgent spawns the child process task in the background and reconciles
// the result on completion.
func (m *Manager) runAgent(a *model.Agent) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[a.ID] = cancel
	m.mu.Unlock()

	cmd, env := buildCommand(a)

	go func() {
		output, err := m.runner.Run(ctx, a, cmd, env)

		m.mu.Lock()
		delete(m.cancels, a.ID)
		if a.Status == model.AgentCancelled {
			m.mu.Unlock()
			return
		}
		now := time.Now()
		a.CompletedAt = &now
		if err != nil {
			a.Status = model.AgentFailed
			a.Error = err.Error()
		} else {
			a.Status = model.AgentCompleted
			a.Result = output
		}
		modelName := a.Model
		m.mu.Unlock()

		m.emitStatus(a)
		m.maybeStartNextForModel(modelName)
	}()
}

// maybeStartNextForModel dequeues the first queued agent id for modelName
// (if any) and re-enters the start algorithm for it.
func (m *Manager) maybeStartNextForModel(modelName string) {
	m.mu.Lock()
	var nextID string
	idx := -1
	for i, id := range m.queue {
		if a, ok := m.agents[id]; ok && a.Model == modelName {
			nextID = id
			idx = i
			break
		}
	}
	if idx >= 0 {
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	}
	m.mu.Unlock()

	if nextID != "" {
		m.tryStartNow(nextID)
	}
}

// CancelAgent aborts a running agent's task and marks it Cancelled.
func (m *Manager) CancelAgent(id string) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("subagent: unknown agent %s", id)
	}
	if a.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancels[id]
	a.Status = model.AgentCancelled
	now := time.Now()
	a.CompletedAt = &now
	modelName := a.Model
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.emitStatus(a)
	m.maybeStartNextForModel(modelName)
	return nil
}

// CancelBatch cancels every non-terminal agent sharing batchID.
func (m *Manager) CancelBatch(batchID string) {
	m.mu.Lock()
	var ids []string
	for id, a := range m.agents {
		if a.BatchID == batchID && !a.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.CancelAgent(id)
	}
}

// ListAgents filters in-memory agents by status/batchID/recency.
func (m *Manager) ListAgents(status model.AgentStatus, batchID string, recentOnly bool) []*model.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-recentWindow)
	var out []*model.Agent
	for _, a := range m.agents {
		if status != "" && a.Status != status {
			continue
		}
		if batchID != "" && a.BatchID != batchID {
			continue
		}
		if recentOnly && a.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Get returns the agent by id.
func (m *Manager) Get(id string) (*model.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	return a, ok
}

// RecordProgress appends a timestamped progress line and echoes it via
// AgentStatusUpdate.
func (m *Manager) RecordProgress(id, line string) {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	a.Progress = append(a.Progress, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), line))
	m.mu.Unlock()
	m.emitStatus(a)
}

func (m *Manager) emitStatus(a *model.Agent) {
	if m.sink == nil {
		return
	}
	msg := model.AgentStatusUpdate([]model.AgentStatusLine{a.StatusLine()}, a.Context, a.Prompt)
	m.sink.Emit(model.Event{ID: uuid.NewString(), Msg: msg})
}
