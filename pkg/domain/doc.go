// Package domain defines the types shared by the message flow engine.
//
// The main types are:
//   - MessageFlowStep: one protocol message of a declarative flow
//   - FlowContext: per-session mutable state owned by one execution
//   - MessageFlowResult: the outcome of processing one step
//   - Event: lifecycle notifications published on the event bus
//   - FlowRun: the terminal record handed to run storage
package domain
