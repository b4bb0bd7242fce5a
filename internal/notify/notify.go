// Package notify defines the one-way event emission contract between the
// reconciliation engine and push channels.
package notify

import "tailpay/internal/domain"

// Notifier delivers events best-effort. Emit must not block the caller and
// reports nothing back; undelivered events are dropped.
type Notifier interface {
	Emit(evt domain.IntentEvent)
}

// Fanout emits to every non-nil notifier in order.
type Fanout []Notifier

func (f Fanout) Emit(evt domain.IntentEvent) {
	for _, n := range f {
		if n != nil {
			n.Emit(evt)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(domain.IntentEvent) {}

// Func adapts a function to Notifier.
type Func func(domain.IntentEvent)

func (f Func) Emit(evt domain.IntentEvent) { f(evt) }
