// Package orchestrator implements message flow execution.
//
// The Orchestrator drives a single flow:
//   - Walks the steps in input order with an attempted-step tracker
//   - Gates each step on its dependencies having been attempted
//   - Dispatches the step through the layer table and synthesizes responses
//   - Folds every result into the flow context and publishes lifecycle events
//
// The Manager sits in front of it. It validates submitted flows, queues
// them on the worker pool and answers status queries from the registry and
// run storage.
package orchestrator
