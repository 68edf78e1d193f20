package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"magentic/pkg/plan"
	"magentic/pkg/proto"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func samplePlan(userID string) *plan.MPlan {
	p := plan.NewMPlan(userID, "team-1", "build the widget", "facts here", []string{"Coder", "Researcher"})
	p.Steps = []plan.MStep{
		{Agent: "Coder", Action: "write the widget", Status: plan.StepStatusPending},
		{Agent: "Researcher", Action: "verify the approach", Status: plan.StepStatusPending},
	}
	return p
}

func TestSaveAndGetPlan(t *testing.T) {
	store := createTestStore(t)
	p := samplePlan("alice")
	if err := store.SavePlan(p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	got, err := store.GetPlan(p.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.UserID != "alice" || got.UserRequest != "build the widget" {
		t.Errorf("plan fields lost: %+v", got)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got.Steps))
	}
	if got.Steps[0].Agent != "Coder" || got.Steps[1].Agent != "Researcher" {
		t.Errorf("step order lost: %+v", got.Steps)
	}
}

func TestUpdateStepInPlace(t *testing.T) {
	store := createTestStore(t)
	p := samplePlan("alice")
	if err := store.SavePlan(p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	if err := store.UpdateStep(p.ID, 0, plan.StepStatusCompleted, "widget written"); err != nil {
		t.Fatalf("UpdateStep: %v", err)
	}
	got, err := store.GetPlan(p.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Steps[0].Status != plan.StepStatusCompleted || got.Steps[0].Result != "widget written" {
		t.Errorf("step not updated: %+v", got.Steps[0])
	}
	if got.Steps[1].Status != plan.StepStatusPending {
		t.Errorf("other step mutated: %+v", got.Steps[1])
	}
}

func TestUpdatePlanStatusStampsCompletion(t *testing.T) {
	store := createTestStore(t)
	p := samplePlan("alice")
	if err := store.SavePlan(p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	if err := store.UpdatePlanStatus(p.ID, proto.PlanStatusCompleted); err != nil {
		t.Fatalf("UpdatePlanStatus: %v", err)
	}
	got, err := store.GetPlan(p.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.OverallStatus != proto.PlanStatusCompleted {
		t.Errorf("status not updated: %s", got.OverallStatus)
	}
}

func TestNotFoundErrors(t *testing.T) {
	store := createTestStore(t)
	if _, err := store.GetPlan("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPlan: expected ErrNotFound, got %v", err)
	}
	if err := store.UpdatePlanStatus("missing", proto.PlanStatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdatePlanStatus: expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateStep("missing", 0, plan.StepStatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStep: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.GetTeam("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTeam: expected ErrNotFound, got %v", err)
	}
}

func TestListPlansByUser(t *testing.T) {
	store := createTestStore(t)
	for range 3 {
		if err := store.SavePlan(samplePlan("alice")); err != nil {
			t.Fatalf("SavePlan: %v", err)
		}
	}
	if err := store.SavePlan(samplePlan("bob")); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	rows, err := store.ListPlansByUser("alice", 10)
	if err != nil {
		t.Fatalf("ListPlansByUser: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 plans for alice, got %d", len(rows))
	}
	for _, row := range rows {
		if row.StepCount != 2 {
			t.Errorf("plan %s step count = %d, want 2", row.ID, row.StepCount)
		}
	}
}

func TestSaveAndGetTeam(t *testing.T) {
	store := createTestStore(t)
	if err := store.SaveTeam("t-1", "builders", "name: builders\n"); err != nil {
		t.Fatalf("SaveTeam: %v", err)
	}
	name, yaml, err := store.GetTeam("t-1")
	if err != nil {
		t.Fatalf("GetTeam: %v", err)
	}
	if name != "builders" || yaml != "name: builders\n" {
		t.Errorf("team fields lost: %q %q", name, yaml)
	}
}
