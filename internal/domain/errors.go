package domain

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent matches any *MalformedEventError via errors.Is.
var ErrMalformedEvent = errors.New("malformed event")

// TransportError reports that a push subscription failed. The adapter keeps
// running on its poll path after one of these.
type TransportError struct {
	Source string
	Topic  Topic
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s (%s): %v", e.Source, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// QueryError reports that a snapshot query failed. The previous aggregate
// stays in place.
type QueryError struct {
	Topic Topic
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("snapshot query (%s): %v", e.Topic, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// MalformedEventError reports a payload that is missing required fields or
// cannot be parsed. Such events are dropped.
type MalformedEventError struct {
	Topic  Topic
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s event: %s: %s", e.Topic, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s event: %s", e.Topic, e.Reason)
}

func (e *MalformedEventError) Is(target error) bool { return target == ErrMalformedEvent }

func missing(topic Topic, field string) error {
	return &MalformedEventError{Topic: topic, Field: field, Reason: "required"}
}
