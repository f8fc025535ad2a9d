// Package services defines the client contracts for the retail instances and
// an HTTP implementation for rebotics-style deployments.
//
// The copy engine only sees [SourceService] and [TargetService]; everything
// about authentication, endpoints, rate limiting, and transient retries is
// contained here. Transient upstream failures (502/503, connection resets)
// are retried inside [RetailService] with exponential backoff and jitter;
// the engine only observes a task failure once those retries are exhausted.
// Non-retryable request errors surface immediately as [*RequestError] with
// the response payload attached for logging.
package services
