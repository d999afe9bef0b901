package subagent

import (
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/turn"
)

// ManagerAdapter presents a *Manager as a turn.SubAgentManager. The two
// only disagree on Spawn's parameter type (turn.SpawnRequest vs this
// package's own SpawnParams, kept separate so internal/turn never needs
// to import internal/subagent for one struct shape); every other method
// already matches and is promoted directly through the embedded Manager.
type ManagerAdapter struct {
	*Manager
}

// NewManagerAdapter wraps m as a turn.SubAgentManager.
func NewManagerAdapter(m *Manager) ManagerAdapter {
	return ManagerAdapter{Manager: m}
}

func (a ManagerAdapter) Spawn(r turn.SpawnRequest) *model.Agent {
	return a.Manager.Spawn(SpawnParams{
		Model:      r.Model,
		Prompt:     r.Prompt,
		Context:    r.Context,
		OutputGoal: r.OutputGoal,
		Files:      r.Files,
		ReadOnly:   r.ReadOnly,
		BatchID:    r.BatchID,
		Config:     r.Config,
	})
}
