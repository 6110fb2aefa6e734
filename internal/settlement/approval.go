package settlement

import "sync"

type approvalVerdict int

const (
	verdictAllow approvalVerdict = iota
	verdictDeny
	verdictRefresh
)

// approvalRegistry holds intents waiting on an out-of-band allow/deny
// decision. Each pending intent owns a channel the creating goroutine
// blocks on; Allow, Deny and Refresh resolve it from an API handler or
// realtime client.
type approvalRegistry struct {
	mu      sync.Mutex
	pending map[string]chan approvalVerdict
}

func newApprovalRegistry() *approvalRegistry {
	return &approvalRegistry{pending: make(map[string]chan approvalVerdict)}
}

// register returns the verdict channel for an intent awaiting approval.
func (r *approvalRegistry) register(intentID string) chan approvalVerdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Buffered so a refresh followed closely by an allow or deny is not
	// dropped before the waiter drains the channel.
	ch := make(chan approvalVerdict, 4)
	r.pending[intentID] = ch
	return ch
}

// remove drops the intent from the registry once resolved or abandoned.
func (r *approvalRegistry) remove(intentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, intentID)
}

// resolve delivers a verdict to the waiting goroutine. Refresh verdicts
// leave the intent registered so a later allow or deny can still land.
func (r *approvalRegistry) resolve(intentID string, v approvalVerdict) error {
	r.mu.Lock()
	ch, ok := r.pending[intentID]
	r.mu.Unlock()
	if !ok {
		return ErrNoPendingIntent
	}
	select {
	case ch <- v:
		return nil
	default:
		// A verdict is already queued; the waiter will pick it up first.
		return nil
	}
}

// PendingIDs lists intents currently awaiting a verdict.
func (r *approvalRegistry) pendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}
