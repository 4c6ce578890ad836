// Package storage provides run storage implementations.
//
// A run is the terminal record of a flow (results plus the final context)
// handed over after flow_completed, flow_failed or a stop.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory for testing and single-process use
package storage
