// Package commbus provides the in-process event bus used to observe turns.
//
// The orchestrator publishes turn and stage lifecycle events; subscribers
// (CLI progress output, audit logging, tests) observe them without the
// workflow depending on any of them. Queries give request-response access to
// process-wide facts such as health.
package commbus

import "context"

// =============================================================================
// MESSAGE CONTRACTS
// =============================================================================

// Message is anything that travels on the bus.
type Message interface {
	// Category returns "event" or "query".
	Category() string
}

// Query is a message answered by exactly one handler.
type Query interface {
	Message
	IsQuery()
}

// TypedMessage lets a message choose its own routing key.
type TypedMessage interface {
	Message
	MessageType() string
}

// Handler processes a message.
type Handler interface {
	Handle(ctx context.Context, message Message) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, message Message) (any, error) {
	return f(ctx, message)
}

// Middleware intercepts messages before and after handling.
type Middleware interface {
	// Before may rewrite the message, or return nil to drop it.
	Before(ctx context.Context, message Message) (Message, error)
	// After sees the handler result and error; it may replace either.
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus is the bus contract.
type CommBus interface {
	// Publish fans an event out to every subscriber.
	Publish(ctx context.Context, event Message) error
	// QuerySync asks a query's handler and waits for the answer.
	QuerySync(ctx context.Context, query Query) (any, error)

	// Subscribe registers an event subscriber and returns its cancel func.
	Subscribe(eventType string, handler HandlerFunc) func()
	// RegisterHandler registers the single handler of a query.
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)

	GetSubscribers(eventType string) []HandlerFunc
}
