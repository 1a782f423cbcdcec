package plugin

import (
	"testing"

	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/command"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	stream := command.NewStream()
	rt := &Runtime{
		host: HostContext{
			Stream: stream,
			Log:    zap.NewNop(),
		},
		byID: make(map[string]*plugin),
	}
	return rt
}

func TestQuarantineAfterThreeConsecutiveFailures(t *testing.T) {
	rt := newTestRuntime(t)
	p := &plugin{cfg: Config{ID: "bad", Priority: 0}, state: Active}
	rt.plugins = append(rt.plugins, p)
	rt.byID[p.cfg.ID] = p

	for i := 0; i < FailureThreshold-1; i++ {
		rt.onFailure(p, "trap")
		if p.state != Active {
			t.Fatalf("plugin must stay active before reaching the threshold, failed %d times", i+1)
		}
	}
	rt.onFailure(p, "trap")
	if p.state != Quarantined {
		t.Fatalf("plugin must quarantine after %d consecutive failures", FailureThreshold)
	}
	if got := rt.orderedActive(); len(got) != 0 {
		t.Fatalf("a quarantined plugin must be excluded from orderedActive, got %v", got)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	rt := newTestRuntime(t)
	p := &plugin{cfg: Config{ID: "flaky", Priority: 0}, state: Active}
	rt.plugins = append(rt.plugins, p)
	rt.byID[p.cfg.ID] = p

	rt.onFailure(p, "trap")
	rt.onFailure(p, "trap")
	p.consecutiveFailures = 0 // a clean tick resets the counter (Tick/runGuarded does this on success)
	rt.onFailure(p, "trap")
	if p.state != Active {
		t.Fatalf("two failures then a reset then one more failure must not reach quarantine")
	}
}

func TestReenableClearsQuarantine(t *testing.T) {
	rt := newTestRuntime(t)
	p := &plugin{cfg: Config{ID: "q", Priority: 0}, state: Quarantined, consecutiveFailures: FailureThreshold}
	rt.plugins = append(rt.plugins, p)
	rt.byID[p.cfg.ID] = p

	if !rt.Reenable("q") {
		t.Fatalf("Reenable must succeed for a known plugin id")
	}
	state, failures, ok := rt.State("q")
	if !ok || state != Active || failures != 0 {
		t.Fatalf("Reenable must reset state to Active and failures to 0, got state=%v failures=%d", state, failures)
	}
}

func TestOrderedActiveSortsByPriorityThenID(t *testing.T) {
	rt := newTestRuntime(t)
	b := &plugin{cfg: Config{ID: "b", Priority: 10}, state: Active}
	a := &plugin{cfg: Config{ID: "a", Priority: 10}, state: Active}
	c := &plugin{cfg: Config{ID: "c", Priority: 5}, state: Active}
	rt.plugins = []*plugin{b, a, c}

	got := rt.orderedActive()
	if len(got) != 3 || got[0].cfg.ID != "c" || got[1].cfg.ID != "a" || got[2].cfg.ID != "b" {
		ids := make([]string, len(got))
		for i, p := range got {
			ids[i] = p.cfg.ID
		}
		t.Fatalf("expected order [c a b], got %v", ids)
	}
}
