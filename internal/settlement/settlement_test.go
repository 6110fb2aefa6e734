package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const testIdentity = "0x" +
	"04bfcab3aac1fdbb0216d22e67eca4b4e1c6e9346f1b1c2c8a2a4b9b5e3d1f0a9" +
	"c8b7a6f5e4d3c2b1a09f8e7d6c5b4a39281706554433221100998877665544332"

type fakeNetwork struct {
	mu           sync.Mutex
	simulation   *Simulation
	simErr       error
	execErr      error
	execCalls    int
	confirmCalls int
	confirmHook  func(call int) (int, error)
}

func (f *fakeNetwork) Simulate(ctx context.Context, req SimulationRequest) (*Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.simErr != nil {
		return nil, f.simErr
	}
	if f.simulation != nil {
		sim := *f.simulation
		return &sim, nil
	}
	return estimateLocally(req), nil
}

func (f *fakeNetwork) Execute(ctx context.Context, route []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	if f.execErr != nil {
		return "", f.execErr
	}
	return "0xabc123", nil
}

func (f *fakeNetwork) Confirmations(ctx context.Context, txHash string) (int, error) {
	f.mu.Lock()
	f.confirmCalls++
	call := f.confirmCalls
	hook := f.confirmHook
	f.mu.Unlock()
	if hook != nil {
		return hook(call)
	}
	return call, nil
}

func testSimulation() Simulation {
	return Simulation{
		ID:            "sim_test",
		FromChain:     137,
		ToChain:       42161,
		Token:         "USDC",
		Amount:        "250",
		EstimatedFees: "0.75",
		EstimatedTime: 600,
		Route:         []string{"137", "1", "42161"},
	}
}

func newTestService(network Network) *Service {
	return NewService(network, NewMemoryStore(),
		WithPollInterval(time.Millisecond),
		WithRequiredConfirmations(3),
	)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusDenied, true},
		{StatusPending, StatusExecuting, false},
		{StatusPending, StatusCompleted, false},
		{StatusApproved, StatusExecuting, true},
		{StatusApproved, StatusDenied, false},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusApproved, false},
		{StatusPending, StatusFailed, true},
		{StatusApproved, StatusFailed, true},
		{StatusExecuting, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusExecuting, false},
		{StatusDenied, StatusApproved, false},
		{StatusFailed, StatusExecuting, false},
		{StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			if got := canTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSimulate_FallsBackLocally(t *testing.T) {
	svc := newTestService(&fakeNetwork{simErr: errors.New("network down")})

	sim, err := svc.Simulate(context.Background(), SimulationRequest{
		FromChain: 137, ToChain: 10, Token: "USDC", Amount: "1000",
	})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if sim.EstimatedFees != "3" {
		t.Errorf("fees = %s, want 3 (0.3%% of 1000)", sim.EstimatedFees)
	}
	// Polygon to Optimism crosses ecosystems, so the route goes via Ethereum.
	if len(sim.Route) != 3 || sim.Route[1] != "1" {
		t.Errorf("route = %v, want via chain 1", sim.Route)
	}
	if sim.EstimatedTime != 600 {
		t.Errorf("estimatedTime = %d, want 600", sim.EstimatedTime)
	}
}

func TestSimulate_SameEcosystemDirect(t *testing.T) {
	svc := newTestService(&fakeNetwork{simErr: errors.New("network down")})

	sim, err := svc.Simulate(context.Background(), SimulationRequest{
		FromChain: 1, ToChain: 10, Token: "ETH", Amount: "2",
	})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Route) != 2 {
		t.Errorf("route = %v, want direct", sim.Route)
	}
	if sim.EstimatedTime != 480 {
		t.Errorf("estimatedTime = %d, want 480 (mainnet surcharge)", sim.EstimatedTime)
	}
}

func TestSimulate_RejectsUnsupportedChain(t *testing.T) {
	svc := newTestService(&fakeNetwork{})
	_, err := svc.Simulate(context.Background(), SimulationRequest{FromChain: 137, ToChain: 99999, Token: "USDC", Amount: "1"})
	if !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("got %v, want ErrUnsupportedChain", err)
	}
}

func TestCreateIntent_AutoApprovesWithoutObservers(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.Status != StatusApproved {
		t.Errorf("status = %s, want approved", intent.Status)
	}
	if intent.ApprovedAt == nil {
		t.Error("approvedAt not set")
	}

	stored, err := svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if stored.Status != StatusApproved {
		t.Errorf("stored status = %s, want approved", stored.Status)
	}
}

func TestCreateIntent_WaitsForApproval(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	notified := make(chan *Intent, 1)
	unsubscribe := svc.OnApprovalRequest(func(intent *Intent) { notified <- intent })
	defer unsubscribe()

	type result struct {
		intent *Intent
		err    error
	}
	done := make(chan result, 1)
	go func() {
		intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
		done <- result{intent, err}
	}()

	pending := <-notified
	if pending.Status != StatusPending {
		t.Errorf("observed status = %s, want pending", pending.Status)
	}
	if err := svc.Approve(pending.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("CreateIntent: %v", res.err)
	}
	if res.intent.Status != StatusApproved {
		t.Errorf("status = %s, want approved", res.intent.Status)
	}
}

func TestCreateIntent_Denied(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	notified := make(chan *Intent, 1)
	defer svc.OnApprovalRequest(func(intent *Intent) { notified <- intent })()

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
		errCh <- err
	}()

	pending := <-notified
	if err := svc.Deny(pending.ID); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrIntentDenied) {
		t.Fatalf("got %v, want ErrIntentDenied", err)
	}

	stored, err := svc.GetIntent(context.Background(), pending.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if stored.Status != StatusDenied {
		t.Errorf("stored status = %s, want denied", stored.Status)
	}
}

func TestCreateIntent_RefreshUpdatesSimulation(t *testing.T) {
	network := &fakeNetwork{simulation: &Simulation{
		ID: "sim_fresh", FromChain: 137, ToChain: 42161, Token: "USDC",
		Amount: "250", EstimatedFees: "0.10", Route: []string{"137", "42161"},
	}}
	svc := newTestService(network)

	notified := make(chan *Intent, 1)
	defer svc.OnApprovalRequest(func(intent *Intent) { notified <- intent })()

	done := make(chan *Intent, 1)
	go func() {
		intent, _ := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
		done <- intent
	}()

	pending := <-notified
	if err := svc.Refresh(pending.ID); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Wait until the refreshed estimate lands in the store, then approve.
	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := svc.GetIntent(context.Background(), pending.ID)
		if err == nil && stored.Simulation.EstimatedFees == "0.10" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refreshed simulation never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := svc.Approve(pending.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	intent := <-done
	if intent == nil || intent.Status != StatusApproved {
		t.Fatalf("intent = %+v, want approved", intent)
	}
	if intent.Simulation.EstimatedFees != "0.10" {
		t.Errorf("fees = %s, want refreshed 0.10", intent.Simulation.EstimatedFees)
	}
}

func TestApprove_NoPendingIntent(t *testing.T) {
	svc := newTestService(&fakeNetwork{})
	if err := svc.Approve("intent_missing"); !errors.Is(err, ErrNoPendingIntent) {
		t.Errorf("got %v, want ErrNoPendingIntent", err)
	}
}

func TestExecuteBridge_HappyPath(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	var mu sync.Mutex
	var steps []Progress
	defer svc.OnProgress(func(p Progress) {
		mu.Lock()
		steps = append(steps, p)
		mu.Unlock()
	})()

	intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	txHash, err := svc.ExecuteBridge(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("ExecuteBridge: %v", err)
	}
	if txHash != "0xabc123" {
		t.Errorf("txHash = %s", txHash)
	}

	stored, err := svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
	if stored.CompletedAt == nil || stored.TxHash != "0xabc123" {
		t.Errorf("stored = %+v, want completedAt and txHash set", stored)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(steps) < 5 {
		t.Fatalf("got %d progress notifications, want at least 5", len(steps))
	}
	if steps[0].Status != ProgressSimulating || steps[0].CurrentStep != 1 {
		t.Errorf("first step = %+v", steps[0])
	}
	if steps[1].Status != ProgressApproving || steps[1].CurrentStep != 2 {
		t.Errorf("second step = %+v", steps[1])
	}
	last := steps[len(steps)-1]
	if last.Status != ProgressCompleted || last.CurrentStep != 4 {
		t.Errorf("last step = %+v", last)
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].CurrentStep < steps[i-1].CurrentStep {
			t.Errorf("step went backwards: %+v -> %+v", steps[i-1], steps[i])
		}
	}
}

func TestExecuteBridge_RequiresApproval(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	notified := make(chan *Intent, 1)
	unsubscribe := svc.OnApprovalRequest(func(intent *Intent) { notified <- intent })

	go func() {
		_, _ = svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	}()
	pending := <-notified

	// Still pending: execution must be rejected outright.
	if _, err := svc.ExecuteBridge(context.Background(), pending.ID); !errors.Is(err, ErrIntentNotApproved) {
		t.Errorf("got %v, want ErrIntentNotApproved", err)
	}

	if err := svc.Approve(pending.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	unsubscribe()
}

func TestExecuteBridge_TerminalIntentFrozen(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := svc.ExecuteBridge(context.Background(), intent.ID); err != nil {
		t.Fatalf("ExecuteBridge: %v", err)
	}

	// Completed intents cannot be executed again.
	if _, err := svc.ExecuteBridge(context.Background(), intent.ID); !errors.Is(err, ErrIntentTerminal) {
		t.Errorf("got %v, want ErrIntentTerminal", err)
	}
	if err := svc.FailIntent(context.Background(), intent.ID, "too late"); !errors.Is(err, ErrIntentTerminal) {
		t.Errorf("FailIntent on completed: got %v, want ErrIntentTerminal", err)
	}
}

func TestExecuteBridge_FailureRetainsIntent(t *testing.T) {
	svc := newTestService(&fakeNetwork{execErr: errors.New("bridge reverted")})

	var mu sync.Mutex
	var last Progress
	defer svc.OnProgress(func(p Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	})()

	intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := svc.ExecuteBridge(context.Background(), intent.ID); err == nil {
		t.Fatal("expected execution error")
	}

	stored, err := svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("GetIntent after failure: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if stored.Error == "" {
		t.Error("error message not recorded")
	}

	mu.Lock()
	defer mu.Unlock()
	if last.Status != ProgressFailed {
		t.Errorf("last progress = %+v, want failed", last)
	}
}

func TestFailIntent_CancelsConfirmationWait(t *testing.T) {
	network := &fakeNetwork{}
	svc := NewService(network, NewMemoryStore(),
		WithPollInterval(time.Millisecond),
		WithRequiredConfirmations(5),
	)
	// The first confirmation check parks until the test has failed the
	// intent, so the abort always lands mid-wait.
	inFlight := make(chan struct{})
	release := make(chan struct{})
	network.confirmHook = func(call int) (int, error) {
		if call == 1 {
			close(inFlight)
		}
		<-release
		return 0, nil
	}

	intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.ExecuteBridge(context.Background(), intent.ID)
		errCh <- err
	}()

	<-inFlight
	if err := svc.FailIntent(context.Background(), intent.ID, "operator abort"); err != nil {
		t.Fatalf("FailIntent: %v", err)
	}
	close(release)

	if err := <-errCh; err == nil {
		t.Fatal("expected ExecuteBridge to fail after out-of-band abort")
	}
	stored, err := svc.GetIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
}

func TestObserverPanicTolerated(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	called := false
	defer svc.OnProgress(func(Progress) { panic("boom") })()
	defer svc.OnProgress(func(Progress) { called = true })()

	intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := svc.ExecuteBridge(context.Background(), intent.ID); err != nil {
		t.Fatalf("ExecuteBridge: %v", err)
	}
	if !called {
		t.Error("second observer not notified after first panicked")
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(&fakeNetwork{}, store, WithPollInterval(time.Millisecond))

	first, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	history, err := svc.History(context.Background(), testIdentity, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].ID != second.ID || history[1].ID != first.ID {
		t.Errorf("history order = [%s, %s], want newest first", history[0].ID, history[1].ID)
	}
}

func TestOnIntent_StreamsLifecycle(t *testing.T) {
	svc := newTestService(&fakeNetwork{})

	var mu sync.Mutex
	var seen []Status
	defer svc.OnIntent(func(intent *Intent) {
		mu.Lock()
		seen = append(seen, intent.Status)
		mu.Unlock()
	})()

	intent, err := svc.CreateIntent(context.Background(), testIdentity, testSimulation())
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := svc.ExecuteBridge(context.Background(), intent.ID); err != nil {
		t.Fatalf("ExecuteBridge: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusPending, StatusApproved, StatusExecuting, StatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observed %v, want %v", seen, want)
		}
	}
}
