// Package notify delivers push notifications to mobile devices.
// Delivery is best effort: a failed push never fails the request that
// produced it. Requests enqueue notifications to Redis after commit and a
// worker drains the queue into the Expo push service.
package notify

import "context"

// Notification is one push destined for a single device token.
type Notification struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`

	// ConversationID lets the client open the right screen.
	ConversationID string `json:"conversation_id,omitempty"`
}

// Notifier enqueues notifications for asynchronous delivery.
type Notifier interface {
	Enqueue(ctx context.Context, notifications ...Notification)
}

// Pusher sends a batch of notifications to the push provider.
type Pusher interface {
	Push(ctx context.Context, notifications []Notification) error
}

// NopNotifier drops everything. Used in tests and when push is disabled.
type NopNotifier struct{}

// Enqueue implements Notifier.
func (NopNotifier) Enqueue(context.Context, ...Notification) {}
