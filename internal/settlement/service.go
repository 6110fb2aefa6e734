package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/idgen"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
	"github.com/jayasurya0007/prism-wallet/internal/syncutil"
	"github.com/jayasurya0007/prism-wallet/internal/traces"
)

// DefaultRequiredConfirmations before an executing intent completes.
const DefaultRequiredConfirmations = 12

// DefaultPollInterval between confirmation checks.
const DefaultPollInterval = time.Second

// ProgressObserver receives every progress step of an executing intent.
// Observers are called synchronously and must tolerate being invoked from
// any stage of execution.
type ProgressObserver func(Progress)

// IntentObserver receives a snapshot of an intent on every lifecycle
// change. Observers are called synchronously.
type IntentObserver func(*Intent)

// Service runs the settlement intent state machine.
type Service struct {
	network   Network
	store     Store
	approvals *approvalRegistry
	locks     *syncutil.ContextShardedMutex

	requiredConfirmations int
	pollInterval          time.Duration
	now                   func() time.Time

	mu                sync.Mutex
	progress          map[string]*Progress
	progressObservers map[int]ProgressObserver
	intentObservers   map[int]IntentObserver
	approvers         map[int]IntentObserver
	observerID        int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRequiredConfirmations(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.requiredConfirmations = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewService(network Network, store Store, opts ...Option) *Service {
	s := &Service{
		network:               network,
		store:                 store,
		approvals:             newApprovalRegistry(),
		locks:                 syncutil.NewContextShardedMutex(),
		requiredConfirmations: DefaultRequiredConfirmations,
		pollInterval:          DefaultPollInterval,
		now:                   time.Now,
		progress:              make(map[string]*Progress),
		progressObservers:     make(map[int]ProgressObserver),
		intentObservers:       make(map[int]IntentObserver),
		approvers:             make(map[int]IntentObserver),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnProgress registers a progress observer and returns an unsubscribe func.
func (s *Service) OnProgress(obs ProgressObserver) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.observerID
	s.observerID++
	s.progressObservers[id] = obs
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.progressObservers, id)
	}
}

// OnIntent registers a passive observer notified of every intent lifecycle
// change. Registering one does not affect approval.
func (s *Service) OnIntent(obs IntentObserver) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.observerID
	s.observerID++
	s.intentObservers[id] = obs
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.intentObservers, id)
	}
}

// OnApprovalRequest registers an approver. While at least one approver is
// registered, new intents suspend in pending until Approve, Deny or Refresh
// is called; with none, intents auto-approve.
func (s *Service) OnApprovalRequest(obs IntentObserver) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.observerID
	s.observerID++
	s.approvers[id] = obs
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.approvers, id)
	}
}

// Simulate estimates a transfer, degrading to a local estimate when the
// settlement network is unreachable.
func (s *Service) Simulate(ctx context.Context, req SimulationRequest) (*Simulation, error) {
	if !supportedChains[req.FromChain] || !supportedChains[req.ToChain] {
		return nil, ErrUnsupportedChain
	}
	sim, err := s.network.Simulate(ctx, req)
	if err != nil {
		logging.L(ctx).Warn("settlement simulation failed, using local estimate", "error", err)
		return estimateLocally(req), nil
	}
	return sim, nil
}

// CreateIntent records a pending intent and waits for its approval
// verdict. With no approvers registered it auto-approves. The returned
// intent is approved unless the error says otherwise.
func (s *Service) CreateIntent(ctx context.Context, identity string, sim Simulation) (*Intent, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.CreateIntent", traces.Identity(identity))
	defer span.End()

	intent := &Intent{
		ID:         idgen.WithPrefix("intent_"),
		Identity:   identity,
		Simulation: sim,
		Status:     StatusPending,
		CreatedAt:  s.now(),
	}
	if err := s.store.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	metrics.IntentTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.notifyIntentObservers(ctx, intent)

	approvers := s.snapshotApprovers()
	if len(approvers) == 0 {
		if err := s.transition(ctx, intent, StatusApproved); err != nil {
			return nil, err
		}
		return intent, nil
	}

	verdicts := s.approvals.register(intent.ID)
	defer s.approvals.remove(intent.ID)
	for _, obs := range approvers {
		s.notifyIntent(ctx, obs, intent)
	}

	for {
		select {
		case <-ctx.Done():
			intent.Error = "approval cancelled"
			if err := s.transition(context.WithoutCancel(ctx), intent, StatusFailed); err != nil {
				logging.L(ctx).Error("abandoned intent not persisted", "intentId", intent.ID, "error", err)
			}
			return nil, ctx.Err()
		case v := <-verdicts:
			switch v {
			case verdictAllow:
				if err := s.transition(ctx, intent, StatusApproved); err != nil {
					return nil, err
				}
				return intent, nil
			case verdictDeny:
				if err := s.transition(ctx, intent, StatusDenied); err != nil {
					return nil, err
				}
				return intent, ErrIntentDenied
			case verdictRefresh:
				s.refreshSimulation(ctx, intent)
			}
		}
	}
}

// refreshSimulation re-runs the estimate without changing intent state.
func (s *Service) refreshSimulation(ctx context.Context, intent *Intent) {
	sim, err := s.Simulate(ctx, SimulationRequest{
		FromChain: intent.Simulation.FromChain,
		ToChain:   intent.Simulation.ToChain,
		Token:     intent.Simulation.Token,
		Amount:    intent.Simulation.Amount,
	})
	if err != nil {
		logging.L(ctx).Warn("intent refresh failed", "intentId", intent.ID, "error", err)
		return
	}
	intent.Simulation = *sim
	if err := s.store.Update(ctx, intent); err != nil {
		logging.L(ctx).Warn("intent refresh not persisted", "intentId", intent.ID, "error", err)
	}
}

// Approve resolves a pending intent's approval.
func (s *Service) Approve(intentID string) error {
	return s.approvals.resolve(intentID, verdictAllow)
}

// Deny resolves a pending intent's approval negatively.
func (s *Service) Deny(intentID string) error {
	return s.approvals.resolve(intentID, verdictDeny)
}

// Refresh re-simulates a pending intent without resolving it.
func (s *Service) Refresh(intentID string) error {
	return s.approvals.resolve(intentID, verdictRefresh)
}

// PendingApprovals lists intent IDs currently waiting on a verdict.
func (s *Service) PendingApprovals() []string {
	return s.approvals.pendingIDs()
}

// ExecuteBridge runs an approved intent through execution and
// confirmation. Progress observers see every step; on any error both the
// intent and its progress are marked failed and the intent is retained.
func (s *Service) ExecuteBridge(ctx context.Context, intentID string) (string, error) {
	unlock, err := s.locks.LockContext(ctx, intentID)
	if err != nil {
		return "", err
	}
	defer unlock()

	ctx, span := traces.StartSpan(ctx, "settlement.ExecuteBridge", traces.IntentID(intentID))
	defer span.End()

	intent, err := s.store.Get(ctx, intentID)
	if err != nil {
		return "", err
	}
	if intent.Status != StatusApproved {
		if intent.Status.Terminal() {
			return "", ErrIntentTerminal
		}
		return "", ErrIntentNotApproved
	}
	if err := s.transition(ctx, intent, StatusExecuting); err != nil {
		return "", err
	}

	progress := &Progress{
		IntentID:              intentID,
		Status:                ProgressSimulating,
		CurrentStep:           1,
		TotalSteps:            4,
		RequiredConfirmations: s.requiredConfirmations,
	}
	s.notifyProgress(ctx, progress)

	txHash, err := s.runExecution(ctx, intent, progress)
	if err != nil {
		s.markFailed(ctx, intent, progress, err)
		return "", err
	}
	return txHash, nil
}

func (s *Service) runExecution(ctx context.Context, intent *Intent, progress *Progress) (string, error) {
	progress.Status = ProgressApproving
	progress.CurrentStep = 2
	s.notifyProgress(ctx, progress)

	txHash, err := s.network.Execute(ctx, intent.Simulation.Route)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	intent.TxHash = txHash
	progress.TxHash = txHash
	progress.Status = ProgressExecuting
	progress.CurrentStep = 3
	s.notifyProgress(ctx, progress)

	if err := s.waitForConfirmations(ctx, intent, progress); err != nil {
		return "", err
	}
	progress.Status = ProgressConfirming
	progress.CurrentStep = 4
	s.notifyProgress(ctx, progress)

	if err := s.transition(ctx, intent, StatusCompleted); err != nil {
		return "", err
	}
	progress.Status = ProgressCompleted
	s.notifyProgress(ctx, progress)

	logging.L(ctx).Info("settlement completed",
		"intentId", intent.ID, "txHash", txHash,
		"fromChain", intent.Simulation.FromChain, "toChain", intent.Simulation.ToChain)
	return txHash, nil
}

// waitForConfirmations polls a bounded number of times at a fixed
// interval. Marking the intent failed out-of-band aborts the wait.
func (s *Service) waitForConfirmations(ctx context.Context, intent *Intent, progress *Progress) error {
	for i := 0; i <= s.requiredConfirmations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}

		fresh, err := s.store.Get(ctx, intent.ID)
		if err == nil && fresh.Status == StatusFailed {
			return fmt.Errorf("intent %s marked failed during confirmation: %s", intent.ID, fresh.Error)
		}

		count, err := s.network.Confirmations(ctx, intent.TxHash)
		if err != nil {
			logging.L(ctx).Warn("confirmation check failed", "intentId", intent.ID, "error", err)
			continue
		}
		progress.Confirmations = count
		s.notifyProgress(ctx, progress)
		if count >= s.requiredConfirmations {
			return nil
		}
	}
	return nil
}

// FailIntent marks an intent failed out-of-band, cancelling any
// confirmation wait in progress.
func (s *Service) FailIntent(ctx context.Context, intentID, reason string) error {
	intent, err := s.store.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status.Terminal() {
		return ErrIntentTerminal
	}
	intent.Error = reason
	return s.transition(ctx, intent, StatusFailed)
}

// GetIntent returns an intent by ID.
func (s *Service) GetIntent(ctx context.Context, id string) (*Intent, error) {
	return s.store.Get(ctx, id)
}

// GetProgress returns the latest progress snapshot for an intent.
func (s *Service) GetProgress(intentID string) (*Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[intentID]
	if !ok {
		return nil, false
	}
	snapshot := *p
	return &snapshot, true
}

// History lists an identity's intents, newest first.
func (s *Service) History(ctx context.Context, identity string, limit int) ([]*Intent, error) {
	return s.store.ListByIdentity(ctx, identity, limit)
}

// transition applies a legal state change and persists it. Timestamps and
// metrics are maintained here so every path records them the same way.
func (s *Service) transition(ctx context.Context, intent *Intent, to Status) error {
	if !canTransition(intent.Status, to) {
		return &TransitionError{From: intent.Status, To: to}
	}
	intent.Status = to
	now := s.now()
	switch to {
	case StatusApproved:
		intent.ApprovedAt = &now
	case StatusCompleted:
		intent.CompletedAt = &now
	}
	if err := s.store.Update(ctx, intent); err != nil {
		return fmt.Errorf("persist %s transition: %w", to, err)
	}
	metrics.IntentTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.notifyIntentObservers(ctx, intent)
	return nil
}

func (s *Service) markFailed(ctx context.Context, intent *Intent, progress *Progress, cause error) {
	intent.Error = cause.Error()
	if err := s.transition(ctx, intent, StatusFailed); err != nil {
		logging.L(ctx).Error("failed intent not persisted", "intentId", intent.ID, "error", err)
	}
	progress.Status = ProgressFailed
	s.notifyProgress(ctx, progress)
	logging.L(ctx).Warn("settlement failed", "intentId", intent.ID, "error", cause)
}

func (s *Service) notifyProgress(ctx context.Context, progress *Progress) {
	snapshot := *progress
	s.mu.Lock()
	s.progress[progress.IntentID] = &snapshot
	observers := make([]ProgressObserver, 0, len(s.progressObservers))
	for _, obs := range s.progressObservers {
		observers = append(observers, obs)
	}
	s.mu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.L(ctx).Error("progress observer panicked", "intentId", progress.IntentID, "panic", r)
				}
			}()
			obs(snapshot)
		}()
	}
}

func (s *Service) notifyIntent(ctx context.Context, obs IntentObserver, intent *Intent) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("intent observer panicked", "intentId", intent.ID, "panic", r)
		}
	}()
	obs(intent)
}

// notifyIntentObservers hands each passive observer its own snapshot so a
// slow observer never sees later mutations.
func (s *Service) notifyIntentObservers(ctx context.Context, intent *Intent) {
	s.mu.Lock()
	observers := make([]IntentObserver, 0, len(s.intentObservers))
	for _, obs := range s.intentObservers {
		observers = append(observers, obs)
	}
	s.mu.Unlock()

	for _, obs := range observers {
		s.notifyIntent(ctx, obs, cloneIntent(intent))
	}
}

func (s *Service) snapshotApprovers() []IntentObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	observers := make([]IntentObserver, 0, len(s.approvers))
	for _, obs := range s.approvers {
		observers = append(observers, obs)
	}
	return observers
}
