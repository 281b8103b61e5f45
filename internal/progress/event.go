package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages. A session emits SUBMIT once, ACCEPTED at most
// once, any number of TICK events and exactly one of DONE, ERROR or CANCELED.
const (
	StageSubmit   Stage = "SUBMIT"
	StageAccepted Stage = "ACCEPTED"
	StageTick     Stage = "TICK"
	StageDone     Stage = "DONE"
	StageError    Stage = "ERROR"
	StageCanceled Stage = "CANCELED"
)

// Terminal reports whether no further events follow s for the same session.
func (s Stage) Terminal() bool {
	switch s {
	case StageDone, StageError, StageCanceled:
		return true
	default:
		return false
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes. StatusNone marks requests that never got a
// response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusNone  StatusClass = "none"
	StatusOther StatusClass = "other"
)

// PercentUnknown marks events that carry no progress figure.
const PercentUnknown = -1

// Event captures a single step of a poll session.
type Event struct {
	// SessionID identifies the poll session in 16-byte UUID form.
	SessionID [16]byte
	// TS is the timestamp recorded by the emitter's clock.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// URL is the submission or status URL the event refers to.
	URL string
	// StatusCode is the HTTP status observed, 0 when no response arrived.
	StatusCode int
	// StatusClass groups StatusCode.
	StatusClass StatusClass
	// Percent is the reported job progress or PercentUnknown.
	Percent int
	// Dur is the request latency for ticks and the session runtime for
	// terminal stages.
	Dur time.Duration
	// Note carries low-volume context such as the displayed text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSubmit, StageCanceled:
	case StageAccepted, StageTick, StageDone, StageError:
		if e.StatusClass == "" {
			return fmt.Errorf("%s requires status class", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Percent < PercentUnknown || e.Percent > 100 {
		return fmt.Errorf("percent %d out of range", e.Percent)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
