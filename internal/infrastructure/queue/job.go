package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// States lists every state in lifecycle order.
var States = []State{StateWaiting, StateActive, StateCompleted, StateFailed}

// Job is one unit of deferred work. Attempt counts claims, so a job being
// processed for the first time has Attempt 1.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	CustomerID  string          `json:"customerId"`
	LinkID      string          `json:"linkId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	State       State           `json:"state"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	RunAt       time.Time       `json:"runAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return errors.New("job payload is empty")
	}
	return json.Unmarshal(j.Payload, v)
}

// Handler processes one job. A returned error schedules a retry unless it is
// wrapped with Permanent or the attempt budget is spent.
type Handler func(ctx context.Context, job *Job) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
