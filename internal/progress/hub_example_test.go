package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/productaiseo/backend-ai-seo/internal/analysis"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting stage events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{JobID: "job-1", TS: time.Unix(0, 0), Kind: KindJobStart})
	hub.Emit(Event{
		JobID:  "job-1",
		TS:     time.Unix(1, 0),
		Kind:   KindStage,
		Step:   analysis.StepScrape,
		Status: analysis.EventCompleted,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println(sink.total)
	// Output: 2
}
