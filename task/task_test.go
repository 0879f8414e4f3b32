package task

import (
	"testing"

	"github.com/BouwerMan/helios-sub001/mem"
)

func setupPhysmem(t *testing.T) {
	t.Helper()
	mem.Phys_init(1024)
}

func TestNewTaskStartsRunnableWithFreshState(t *testing.T) {
	setupPhysmem(t)
	tsk, ok := New(1, 1, 0)
	if !ok {
		t.Fatal("New failed")
	}
	if tsk.State() != Runnable {
		t.Fatalf("State() = %v, want Runnable", tsk.State())
	}
	if tsk.IsDoomed() {
		t.Fatal("fresh task should not be doomed")
	}
}

func TestSetStateTransitions(t *testing.T) {
	setupPhysmem(t)
	tsk, _ := New(1, 1, 0)
	tsk.SetState(Sleeping)
	if tsk.State() != Sleeping {
		t.Fatalf("State() = %v, want Sleeping", tsk.State())
	}
}

func TestMarkDoomedSetsKilledAndDoomed(t *testing.T) {
	setupPhysmem(t)
	tsk, _ := New(1, 1, 0)
	tsk.MarkDoomed()
	if !tsk.IsDoomed() || !tsk.Killed {
		t.Fatal("expected both Doomed and Killed set after MarkDoomed")
	}
}

func TestZombifySetsExitCodeAndWakesParent(t *testing.T) {
	setupPhysmem(t)
	parent, _ := New(1, 1, 0)
	child, _ := New(2, 2, 1)
	child.Parent = parent

	ticket := parent.ParentWq.Prepare()
	done := make(chan struct{})
	go func() {
		ticket.Commit()
		close(done)
	}()

	child.Zombify(7)

	<-done
	if child.State() != Zombie {
		t.Fatalf("State() = %v, want Zombie", child.State())
	}
	if child.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", child.ExitCode)
	}
}

func TestZombifyWithoutAParentDoesNotBlockOrPanic(t *testing.T) {
	setupPhysmem(t)
	tsk, _ := New(1, 1, 0)
	tsk.Zombify(1)
	if tsk.State() != Zombie {
		t.Fatal("expected Zombify to still transition state with no parent set")
	}
}

func TestDisableEnablePreemptionRoundTrips(t *testing.T) {
	setupPhysmem(t)
	tsk, _ := New(1, 1, 0)
	if tsk.PreemptCount() != 0 {
		t.Fatalf("PreemptCount() = %d, want 0", tsk.PreemptCount())
	}
	tsk.DisablePreemption()
	tsk.DisablePreemption()
	if tsk.PreemptCount() != 2 {
		t.Fatalf("PreemptCount() = %d, want 2", tsk.PreemptCount())
	}
	tsk.EnablePreemption()
	if tsk.PreemptCount() != 1 {
		t.Fatalf("PreemptCount() = %d, want 1", tsk.PreemptCount())
	}
	tsk.EnablePreemption()
	if tsk.PreemptCount() != 0 {
		t.Fatalf("PreemptCount() = %d, want 0", tsk.PreemptCount())
	}
}

func TestEnablePreemptionPanicsOnUnderflow(t *testing.T) {
	setupPhysmem(t)
	tsk, _ := New(1, 1, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when EnablePreemption underflows below zero")
		}
	}()
	tsk.EnablePreemption()
}

func TestStateStringsAreHumanReadable(t *testing.T) {
	cases := map[State]string{Runnable: "runnable", Running: "running", Sleeping: "sleeping", Zombie: "zombie"}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
	if got := State(99).String(); got != "unknown" {
		t.Fatalf("State(99).String() = %q, want unknown", got)
	}
}
