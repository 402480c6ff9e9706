package events

import (
	"net/http"
	"time"
)

// HTTPClientStart is emitted before a GraphQL request is posted.
type HTTPClientStart struct {
	Request *http.Request
}

// HTTPClientFinish is emitted after the response body was read.
type HTTPClientFinish struct {
	Request  *http.Request
	Status   int
	Err      error
	Duration time.Duration
}
