package automation

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

func TestShouldAutoApprove_Levels(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	small := Action{Type: "bridge", Amount: 300, ChainID: 1}
	large := Action{Type: "bridge", Amount: 600, ChainID: 1}

	// Manual approves nothing.
	if c.ShouldAutoApprove(small) {
		t.Error("manual approved an action")
	}

	// Semi-auto approves below the threshold only.
	if _, err := c.SetLevel(ctx, LevelSemiAuto); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if !c.ShouldAutoApprove(small) {
		t.Error("semi-auto rejected 300 with threshold 500")
	}
	if c.ShouldAutoApprove(large) {
		t.Error("semi-auto approved 600 with threshold 500")
	}

	// Full-auto approves everything allowed.
	if _, err := c.SetLevel(ctx, LevelFullAuto); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if !c.ShouldAutoApprove(large) {
		t.Error("full-auto rejected an action")
	}
}

func TestSetLevel_AppliesThresholdDefaults(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	cfg, err := c.SetLevel(ctx, LevelManual)
	if err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if cfg.RequireApprovalAbove != 0 {
		t.Errorf("manual threshold = %v, want 0", cfg.RequireApprovalAbove)
	}

	cfg, _ = c.SetLevel(ctx, LevelSemiAuto)
	if cfg.RequireApprovalAbove != 500 {
		t.Errorf("semi-auto threshold = %v, want 500", cfg.RequireApprovalAbove)
	}

	cfg, _ = c.SetLevel(ctx, LevelFullAuto)
	if cfg.RequireApprovalAbove != cfg.MaxAmountPerAction {
		t.Errorf("full-auto threshold = %v, want max per action %v", cfg.RequireApprovalAbove, cfg.MaxAmountPerAction)
	}

	if _, err := c.SetLevel(ctx, Level("turbo")); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestIsActionAllowed(t *testing.T) {
	c := NewController()

	tests := []struct {
		name   string
		action Action
		want   bool
	}{
		{"allowed", Action{Type: "bridge", Amount: 100, ChainID: 1}, true},
		{"unknown type", Action{Type: "liquidate", Amount: 100, ChainID: 1}, false},
		{"empty type", Action{Amount: 100, ChainID: 1}, false},
		{"disabled chain", Action{Type: "bridge", Amount: 100, ChainID: 999}, false},
		{"over ceiling", Action{Type: "bridge", Amount: 1500, ChainID: 1}, false},
		{"at ceiling", Action{Type: "yield", Amount: 1000, ChainID: 137}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsActionAllowed(tt.action); got != tt.want {
				t.Errorf("IsActionAllowed(%+v) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

func TestRecordAction_Metrics(t *testing.T) {
	c := NewController(WithClock(func() time.Time { return time.Unix(500, 0) }))

	c.RecordAction(Action{Type: "bridge", Amount: 100}, true, 200*time.Millisecond)
	c.RecordAction(Action{Type: "yield", Amount: 50}, false, 400*time.Millisecond)

	m := c.GetMetrics()
	if m.TotalActions != 2 || m.SuccessfulActions != 1 || m.FailedActions != 1 {
		t.Errorf("counts = %+v", m)
	}
	if m.TotalValue != 100 {
		t.Errorf("totalValue = %v, want 100 (failed actions excluded)", m.TotalValue)
	}
	if math.Abs(m.AvgExecutionTime-0.3) > 1e-9 {
		t.Errorf("avgExecutionTimeSeconds = %v, want 0.3", m.AvgExecutionTime)
	}
	if m.LastActionTime == nil || m.LastActionTime.Unix() != 500 {
		t.Errorf("lastActionTime = %v", m.LastActionTime)
	}

	c.ResetMetrics()
	if got := c.GetMetrics(); got.TotalActions != 0 {
		t.Errorf("metrics not reset: %+v", got)
	}
}

func TestEmergencyStop_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	if c.IsStopped() {
		t.Fatal("fresh controller is stopped")
	}

	var mu sync.Mutex
	var seen []EmergencyState
	unsubscribe := c.OnStateChange(func(s EmergencyState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	c.EmergencyStop(ctx, "anomalous gas spike\r\ninjected", "system")
	if !c.IsStopped() {
		t.Fatal("not stopped after EmergencyStop")
	}
	state := c.EmergencyStateNow()
	if state.TriggeredBy != "system" {
		t.Errorf("triggeredBy = %q", state.TriggeredBy)
	}
	if state.Reason != "anomalous gas spike  injected" {
		t.Errorf("reason not sanitized: %q", state.Reason)
	}

	c.Resume(ctx)
	if c.IsStopped() {
		t.Fatal("still stopped after Resume")
	}

	mu.Lock()
	n := len(seen)
	mu.Unlock()
	if n != 2 {
		t.Errorf("observer called %d times, want 2", n)
	}

	// Resume when not stopped is a no-op and does not notify.
	c.Resume(ctx)
	mu.Lock()
	n = len(seen)
	mu.Unlock()
	if n != 2 {
		t.Errorf("observer called %d times after no-op resume, want 2", n)
	}

	unsubscribe()
	c.EmergencyStop(ctx, "again", "user")
	mu.Lock()
	n = len(seen)
	mu.Unlock()
	if n != 2 {
		t.Errorf("unsubscribed observer still called, %d events", n)
	}
}

func TestEmergencyStop_ObserverPanicTolerated(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	c.OnStateChange(func(EmergencyState) { panic("bad observer") })
	called := false
	c.OnStateChange(func(EmergencyState) { called = true })

	c.EmergencyStop(ctx, "test", "user")
	if !c.IsStopped() {
		t.Error("stop did not engage despite observer panic")
	}
	if !called {
		t.Error("second observer not called after first panicked")
	}
}

func TestCheckAndStop(t *testing.T) {
	ctx := context.Background()
	c := NewController()

	c.CheckAndStop(ctx, false, "no trip")
	if c.IsStopped() {
		t.Fatal("stopped on false condition")
	}

	c.CheckAndStop(ctx, true, "tripped")
	if !c.IsStopped() {
		t.Fatal("not stopped on true condition")
	}
	if got := c.EmergencyStateNow().TriggeredBy; got != "system" {
		t.Errorf("triggeredBy = %q, want system", got)
	}

	// Already stopped: reason is kept, not overwritten.
	c.CheckAndStop(ctx, true, "second trip")
	if got := c.EmergencyStateNow().Reason; got != "tripped" {
		t.Errorf("reason = %q, want original", got)
	}
}

func TestStatePersistence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	c := NewController(WithStore(store))
	if err := c.LoadState(ctx); err != nil {
		t.Fatalf("LoadState on empty store: %v", err)
	}

	if _, err := c.SetLevel(ctx, LevelFullAuto); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	c.RecordAction(Action{Type: "bridge", Amount: 250, ChainID: 1}, true, 120*time.Millisecond)
	c.EmergencyStop(ctx, "anomaly detected", "system")

	// A fresh controller against the same store picks up where we left off.
	restored := NewController(WithStore(store))
	if err := restored.LoadState(ctx); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	cfg := restored.GetConfig()
	if cfg.Level != LevelFullAuto {
		t.Errorf("level = %q, want full-auto", cfg.Level)
	}
	if cfg.RequireApprovalAbove != cfg.MaxAmountPerAction {
		t.Errorf("requireApprovalAbove = %v, want %v", cfg.RequireApprovalAbove, cfg.MaxAmountPerAction)
	}

	m := restored.GetMetrics()
	if m.TotalActions != 1 || m.SuccessfulActions != 1 || m.TotalValue != 250 {
		t.Errorf("metrics = %+v, want one successful action worth 250", m)
	}
	if m.LastActionTime == nil {
		t.Error("lastActionTime not restored")
	}

	if !restored.IsStopped() {
		t.Error("emergency stop not restored")
	}
	if got := restored.EmergencyStateNow().Reason; got != "anomaly detected" {
		t.Errorf("reason = %q", got)
	}
}

func TestLoadState_RejectsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	if err := store.Save(ctx, stateKeyConfig, []byte("{not json")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c := NewController(WithStore(store))
	if err := c.LoadState(ctx); err == nil {
		t.Error("expected error for corrupt config record")
	}
}
