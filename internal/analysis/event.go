package analysis

import (
	"errors"
	"fmt"
	"time"
)

// Step names one unit of orchestrated work in the event log.
type Step string

// Steps recorded by the orchestrator.
const (
	StepInit       Step = "INIT"
	StepScrape     Step = "SCRAPE"
	StepArkhe      Step = "ARKHE"
	StepPSI        Step = "PSI"
	StepPrometheus Step = "PROMETHEUS"
	StepGenPerf    Step = "GEN_PERF"
	StepLIR        Step = "LIR"
	StepComplete   Step = "COMPLETE"
)

// EventStatus is the outcome recorded for a step.
type EventStatus string

// Event statuses.
const (
	EventStarted   EventStatus = "STARTED"
	EventCompleted EventStatus = "COMPLETED"
	EventFailed    EventStatus = "FAILED"
)

// EventInput is what callers hand to JobStore.AppendEvent.
type EventInput struct {
	Step   Step
	Status EventStatus
	Detail string
}

// Validate performs coarse validation on event payloads.
func (e EventInput) Validate() error {
	switch e.Step {
	case StepInit, StepScrape, StepArkhe, StepPSI, StepPrometheus, StepGenPerf, StepLIR, StepComplete:
	case "":
		return errors.New("event step is required")
	default:
		return fmt.Errorf("unknown step %q", e.Step)
	}
	switch e.Status {
	case EventStarted, EventCompleted, EventFailed:
	default:
		return fmt.Errorf("unknown event status %q", e.Status)
	}
	return nil
}

// Event is the inline audit entry stored on the job.
type Event struct {
	Step      Step        `json:"step"`
	Status    EventStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail,omitempty"`
}

// JobEvent is the standalone, write-once audit record.
type JobEvent struct {
	JobID  string            `json:"jobId"`
	Step   Step              `json:"step"`
	Status EventStatus       `json:"status"`
	Meta   map[string]string `json:"meta,omitempty"`
	TS     time.Time         `json:"ts"`
}

// NewEvents builds the inline and standalone records for one append.
func NewEvents(jobID string, in EventInput, now time.Time) (Event, JobEvent) {
	inline := Event{Step: in.Step, Status: in.Status, Timestamp: now, Detail: in.Detail}
	standalone := JobEvent{JobID: jobID, Step: in.Step, Status: in.Status, TS: now}
	if in.Detail != "" {
		standalone.Meta = map[string]string{"message": in.Detail}
	}
	return inline, standalone
}
