package subagent

import (
	"time"

	"github.com/robfig/cron/v3"
)

// StartPruner schedules a periodic sweep that drops terminal agents older
// than recentWindow from in-memory bookkeeping, using cron rather than an
// ad hoc ticker goroutine for background sweeps. Callers must call the
// returned stop function on shutdown.
func (m *Manager) StartPruner() (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc("@every 15m", m.pruneOldTerminalAgents); err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func (m *Manager) pruneOldTerminalAgents() {
	cutoff := time.Now().Add(-recentWindow)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.agents {
		if !a.Status.IsTerminal() {
			continue
		}
		if a.CompletedAt == nil || a.CompletedAt.After(cutoff) {
			continue
		}
		delete(m.agents, id)
	}
}
