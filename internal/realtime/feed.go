package realtime

import (
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/agent"
	"github.com/jayasurya0007/prism-wallet/internal/automation"
	"github.com/jayasurya0007/prism-wallet/internal/settlement"
)

// ProgressSource exposes settlement updates for streaming.
type ProgressSource interface {
	OnProgress(settlement.ProgressObserver) func()
	OnIntent(settlement.IntentObserver) func()
}

// ApprovalSource exposes the settlement approval gate.
type ApprovalSource interface {
	OnApprovalRequest(settlement.IntentObserver) func()
}

// EmergencySource exposes stop switch transitions for streaming.
type EmergencySource interface {
	OnStateChange(automation.StateObserver) func()
}

// RunSource exposes completed agent runs for streaming.
type RunSource interface {
	OnRun(agent.RunObserver) func()
}

// Attach subscribes the hub to settlement and emergency events.
// The returned func detaches everything.
func Attach(hub *Hub, settlements ProgressSource, controller EmergencySource) func() {
	offProgress := settlements.OnProgress(func(p settlement.Progress) {
		hub.Broadcast(&Event{
			Type:      EventProgress,
			IntentID:  p.IntentID,
			Timestamp: time.Now().UTC(),
			Data:      p,
		})
	})
	offIntent := settlements.OnIntent(func(intent *settlement.Intent) {
		hub.Broadcast(&Event{
			Type:      EventIntent,
			Identity:  intent.Identity,
			IntentID:  intent.ID,
			Timestamp: time.Now().UTC(),
			Data:      intent,
		})
	})
	offEmergency := controller.OnStateChange(func(state automation.EmergencyState) {
		hub.Broadcast(&Event{
			Type:      EventEmergency,
			Timestamp: time.Now().UTC(),
			Data:      state,
		})
	})
	return func() {
		offProgress()
		offIntent()
		offEmergency()
	}
}

// AttachRuns pushes each completed agent run to connected clients.
func AttachRuns(hub *Hub, runs RunSource) func() {
	return runs.OnRun(func(record agent.RunRecord) {
		hub.Broadcast(&Event{
			Type:      EventRun,
			Timestamp: time.Now().UTC(),
			Data:      record,
		})
	})
}

// AttachApprovals puts intents into manual approval and pushes each
// approval request to connected clients, who resolve it through the
// intents API. Detaching restores auto-approval.
func AttachApprovals(hub *Hub, settlements ApprovalSource) func() {
	return settlements.OnApprovalRequest(func(intent *settlement.Intent) {
		hub.Broadcast(&Event{
			Type:      EventApprovalRequest,
			Identity:  intent.Identity,
			IntentID:  intent.ID,
			Timestamp: time.Now().UTC(),
			Data:      intent,
		})
	})
}
