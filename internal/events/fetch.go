package events

import "time"

// FetchStart is emitted before a compiled operation is sent to the transport.
// Context carries the fetch id.
type FetchStart struct {
	OperationType string
	OperationName string
	Query         string
	// Callers is the number of resolutions sharing this fetch.
	Callers int
}

// FetchRetry is emitted before a failed attempt is repeated.
type FetchRetry struct {
	OperationType string
	OperationName string
	Attempt       int
	Err           error
}

// FetchFinish is emitted once the fetch settled, after all retries.
type FetchFinish struct {
	OperationType string
	OperationName string
	Query         string
	Attempts      int
	// Errors counts the GraphQL errors of the response.
	Errors   int
	Err      error
	Duration time.Duration
}

// CacheDecision is emitted when a resolution evaluated its cache policy.
type CacheDecision struct {
	Policy  string
	Leaves  int
	Missing int
	Stale   int
	Expired int
	Fetch   bool
	// Background is set when a stale value was served and refreshed
	// without waiting.
	Background bool
}

// CacheMerge is emitted after response data was written into a cache.
type CacheMerge struct {
	OperationType string
	// Shared is false for data merged into a private no-store cache.
	Shared bool
}
