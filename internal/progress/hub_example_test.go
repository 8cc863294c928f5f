package progress

import (
	"context"
	"fmt"
	"time"
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

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{ProjectID: 7, Status: StatusProcessing, Message: "Classifying", Progress: 40})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleReporter shows the event sequence of one job run.
func ExampleReporter() {
	var statuses []Status
	pub := PublisherFunc(func(_ context.Context, evt Event) {
		statuses = append(statuses, evt.Status)
	})
	r := NewReporter(pub, 7, "job-7")
	ctx := context.Background()
	_ = r.Processing(ctx, "Extracting", 10)
	_ = r.Complete(ctx, "Done")
	err := r.Fail(ctx, "too late")

	fmt.Println(statuses, err)
	// Output:
	// [processing completed] job run already finished
}
