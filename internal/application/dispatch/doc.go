// Package dispatch implements the layer dispatch table.
//
// The table maps a (layer, message type) pair to a pure handler that turns
// the message's information elements into:
//   - a processing result label
//   - layer-specific metrics
//   - an advisory next action
//
// Pairs without an entry fall through to a generic handler that echoes the
// information elements. New protocol semantics are added with Register.
package dispatch
