package subagent

import (
	"context"
	"testing"
	"time"

	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/turn"
)

type immediateRunner struct{}

func (immediateRunner) Run(ctx context.Context, a *model.Agent, cmd []string, env map[string]string) (string, error) {
	return "ok", nil
}

func TestManagerAdapterSatisfiesSubAgentManager(t *testing.T) {
	var _ turn.SubAgentManager = ManagerAdapter{}
}

func TestManagerAdapterSpawnTranslatesFields(t *testing.T) {
	m := NewManager(DefaultConfig(), immediateRunner{}, &recordingSink{})
	a := NewManagerAdapter(m)

	got := a.Spawn(turn.SpawnRequest{
		Model:      "test-model",
		Prompt:     "do a thing",
		Context:    "ctx",
		OutputGoal: "goal",
		Files:      []string{"a.go"},
		ReadOnly:   true,
		BatchID:    "batch-1",
	})

	if got.Model != "test-model" || got.Prompt != "do a thing" || got.BatchID != "batch-1" {
		t.Fatalf("Spawn did not translate fields correctly: %+v", got)
	}

	found, ok := a.Get(got.ID)
	if !ok || found.ID != got.ID {
		t.Fatalf("Get after adapter Spawn = %+v, %v", found, ok)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cur, ok := a.Get(got.ID); ok && cur.Status == model.AgentCompleted {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("agent never completed")
}
