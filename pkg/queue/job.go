package queue

import "context"

// Job defines a queue job handler.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Type returns the message type the job handles.
	Type() string

	// Handle processes the job with the given payload. Returning an error
	// schedules a retry until RetryLimit is reached.
	Handle(ctx context.Context, payload interface{}) error
}
