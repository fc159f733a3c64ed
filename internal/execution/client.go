// Package execution contains the venue adapters. A client accepts
// commands from the engine, talks the venue's wire protocol and emits
// the canonical lifecycle events back through the engine's Process
// boundary. Clients never mutate orders.
package execution

import (
	"trader_go/internal/event"
)

// EventHandler is the call target a client emits events into. The
// execution engine's Process method satisfies it; clients hold it as
// a plain function value rather than owning the engine.
type EventHandler func(e event.Event) error
