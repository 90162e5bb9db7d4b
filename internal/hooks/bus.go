// Package hooks implements the in-process lifecycle event bus that
// fires around every skill step and tool invocation: SessionStart,
// PreSkill, PreToolUse, PostToolUse, PostSkill, SessionEnd. Subscribers
// are wired per-dimension from a CompiledAgentSpec (policy, budget,
// trial, integrations); a deny from any Pre* subscriber aborts the
// guarded step before it runs.
package hooks

import (
	"context"
	"sync"

	"github.com/agentmold/gateway/pkg/contracts"
)

// Bus implements contracts.HookBus. Subscribers for a given event are
// invoked in registration order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[contracts.HookEvent][]contracts.HookSubscriber
}

// NewBus creates an empty hook bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[contracts.HookEvent][]contracts.HookSubscriber)}
}

// Subscribe registers sub to run on every Dispatch of event, appended
// to the end of that event's subscriber list.
func (b *Bus) Subscribe(event contracts.HookEvent, sub contracts.HookSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[event] = append(b.subscribers[event], sub)
}

// Dispatch invokes every subscriber registered for payload.Event, in
// registration order. For Pre* events, the first Deny=true result
// stops dispatch immediately and is returned; PostToolUse/PostSkill/
// SessionEnd subscribers all run regardless of individual results
// since the guarded action has already happened.
func (b *Bus) Dispatch(ctx context.Context, payload contracts.HookPayload) contracts.HookResult {
	b.mu.RLock()
	subs := make([]contracts.HookSubscriber, len(b.subscribers[payload.Event]))
	copy(subs, b.subscribers[payload.Event])
	b.mu.RUnlock()

	isPreEvent := payload.Event == contracts.HookSessionStart ||
		payload.Event == contracts.HookPreSkill ||
		payload.Event == contracts.HookPreToolUse

	for _, sub := range subs {
		result := sub(ctx, payload)
		if isPreEvent && result.Deny {
			return result
		}
	}
	return contracts.HookResult{Deny: false}
}
