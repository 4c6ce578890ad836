// Package events provides event bus implementations.
//
// Implementations:
//   - memory: synchronous in-process bus used by the orchestrator
//   - redis: Redis Streams mirror of the lifecycle events for external consumers
package events
