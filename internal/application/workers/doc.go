// Package workers implements the bounded worker pool that runs flow
// executions.
//
// The worker pool manages a fixed number of goroutines that:
//   - Take jobs from a bounded queue
//   - Run each job with a context cancelled on shutdown
//   - Survive panicking jobs
//
// The health monitor samples worker status, records it as metrics and
// feeds listeners such as the gRPC health service.
package workers
