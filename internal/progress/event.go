package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindJobStart  Kind = "JOB_START"
	KindHeartbeat Kind = "JOB_HEARTBEAT"
	KindStage     Kind = "STAGE"
	KindJobDone   Kind = "JOB_DONE"
	KindJobError  Kind = "JOB_ERROR"
)

// Event captures one observable step of an analysis run.
type Event struct {
	JobID string
	TS    time.Time
	Kind  Kind
	// Host is the normalized site host, used as a low-cardinality label.
	Host string
	// Step and Status are set for KindStage events.
	Step   analysis.Step
	Status analysis.EventStatus
	// Dur is the elapsed time of a finished stage or job.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJobStart, KindHeartbeat, KindJobDone, KindJobError:
	case KindStage:
		if e.Step == "" || e.Status == "" {
			return errors.New("stage event requires step and status")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
