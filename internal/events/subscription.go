package events

import "time"

// SubscriptionStart is emitted when a subscription is opened.
type SubscriptionStart struct {
	OperationName string
	Query         string
}

// SubscriptionEvent is emitted for every event merged into the cache.
type SubscriptionEvent struct {
	OperationName string
	Errors        int
}

// SubscriptionFinish is emitted once the subscription ended.
type SubscriptionFinish struct {
	OperationName string
	Events        int
	Err           error
	Duration      time.Duration
}
